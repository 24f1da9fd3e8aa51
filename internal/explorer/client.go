package explorer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// ErrNotVerified marks an address with no verified source on the explorer.
var ErrNotVerified = errors.New("contract source not verified")

// Config holds block-explorer API settings for one chain.
type Config struct {
	BaseURL string
	APIKey  string
	// Timeout bounds each HTTP call.
	Timeout time.Duration
	// MinInterval is the pacing delay between consecutive calls, to respect
	// third-party rate limits.
	MinInterval time.Duration
}

// Client fetches verified contract ABIs from an Etherscan-style explorer API.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *zap.Logger

	mu       sync.Mutex
	lastCall time.Time
}

// NewClient builds an explorer client for one chain.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// SetHTTPClient replaces the underlying HTTP client. Used by tests.
func (c *Client) SetHTTPClient(hc *http.Client) {
	c.httpClient = hc
}

type apiResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Result  string `json:"result"`
}

// FetchABI retrieves the verified ABI JSON for an address. A missing or
// unverified listing returns ErrNotVerified; transport and server errors are
// returned as-is so callers can retry them.
func (c *Client) FetchABI(ctx context.Context, address common.Address) ([]byte, error) {
	c.pace()

	endpoint, err := url.Parse(c.cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("explorer url: %w", err)
	}
	query := url.Values{}
	query.Set("module", "contract")
	query.Set("action", "getabi")
	query.Set("address", strings.ToLower(address.Hex()))
	if c.cfg.APIKey != "" {
		query.Set("apikey", c.cfg.APIKey)
	}
	endpoint.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build explorer request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("explorer request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, fmt.Errorf("explorer status %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		c.logger.Debug("explorer rejected request",
			zap.Int("status", resp.StatusCode),
			zap.String("address", strings.ToLower(address.Hex())),
		)
		return nil, ErrNotVerified
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read explorer response: %w", err)
	}

	var parsed apiResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("parse explorer response: %w", err)
	}

	result := strings.TrimSpace(parsed.Result)
	if parsed.Status != "1" || result == "" || strings.Contains(result, "not verified") {
		return nil, ErrNotVerified
	}

	return []byte(result), nil
}

func (c *Client) pace() {
	if c.cfg.MinInterval <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if wait := c.cfg.MinInterval - time.Since(c.lastCall); wait > 0 {
		time.Sleep(wait)
	}
	c.lastCall = time.Now()
}
