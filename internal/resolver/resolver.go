package resolver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"eventLabeler/internal/contractabi"
	"eventLabeler/internal/explorer"
	"eventLabeler/internal/retry"
)

// ErrABINotFound means no method produced an ABI for the address. Contracts
// hitting this are skipped, never fatal.
var ErrABINotFound = errors.New("no abi resolved for contract")

// implementationSlot is keccak256("eip1967.proxy.implementation") - 1.
var implementationSlot = common.HexToHash("0x360894a13ba1a3210667c828492db98dca3e2076cc3735a920a3ca505d382bbc")

// StorageReader reads a raw storage word from a chain endpoint.
type StorageReader interface {
	StorageAt(ctx context.Context, address common.Address, slot common.Hash) ([]byte, error)
}

// ABIFetcher acquires verified ABI JSON for an address.
type ABIFetcher interface {
	FetchABI(ctx context.Context, address common.Address) ([]byte, error)
}

// Config bounds the resolver's external calls.
type Config struct {
	MaxRetries   int
	RetryBackoff time.Duration
}

// Resolver acquires contract ABIs: manual override table, then EIP-1967
// implementation probe, then explorer fetch, with a per-run cache. The cache
// also records not-found results so repeat lookups stay off the network.
type Resolver struct {
	cfg       Config
	chains    map[uint64]StorageReader
	explorers map[uint64]ABIFetcher
	overrides map[string]*contractabi.ContractABI
	logger    *zap.Logger

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

type cacheEntry struct {
	abi *contractabi.ContractABI
	err error
}

// New builds a Resolver. Overrides are keyed by OverrideKey.
func New(
	cfg Config,
	chains map[uint64]StorageReader,
	explorers map[uint64]ABIFetcher,
	overrides map[string]*contractabi.ContractABI,
	logger *zap.Logger,
) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	if overrides == nil {
		overrides = map[string]*contractabi.ContractABI{}
	}
	return &Resolver{
		cfg:       cfg,
		chains:    chains,
		explorers: explorers,
		overrides: overrides,
		logger:    logger,
		cache:     make(map[string]cacheEntry),
	}
}

// OverrideKey builds the key used by the manual override table and the cache.
func OverrideKey(chainID uint64, address common.Address) string {
	return fmt.Sprintf("%d:%s", chainID, strings.ToLower(address.Hex()))
}

// Resolve returns the ABI for (chainID, address), or ErrABINotFound. Results,
// including not-found, are cached for the lifetime of the Resolver.
func (r *Resolver) Resolve(ctx context.Context, chainID uint64, address common.Address) (*contractabi.ContractABI, error) {
	key := OverrideKey(chainID, address)

	r.mu.RLock()
	entry, ok := r.cache[key]
	r.mu.RUnlock()
	if ok {
		r.logger.Debug("abi cache hit", zap.String("contract", key))
		return entry.abi, entry.err
	}

	parsed, err := r.resolve(ctx, chainID, address, key)

	r.mu.Lock()
	r.cache[key] = cacheEntry{abi: parsed, err: err}
	r.mu.Unlock()

	return parsed, err
}

func (r *Resolver) resolve(ctx context.Context, chainID uint64, address common.Address, key string) (*contractabi.ContractABI, error) {
	if override, ok := r.overrides[key]; ok {
		r.logger.Debug("abi from override table", zap.String("contract", key))
		return override, nil
	}

	target := address
	if impl, ok := r.implementationAddress(ctx, chainID, address); ok {
		r.logger.Info("resolved proxy implementation",
			zap.String("contract", key),
			zap.String("implementation", strings.ToLower(impl.Hex())),
		)
		target = impl
	}

	fetcher, ok := r.explorers[chainID]
	if !ok {
		r.logger.Warn("no explorer configured for chain",
			zap.Uint64("chain_id", chainID),
			zap.String("contract", key),
		)
		return nil, ErrABINotFound
	}

	var raw []byte
	err := retry.Do(ctx, r.cfg.MaxRetries, r.cfg.RetryBackoff, func(ctx context.Context) error {
		var err error
		raw, err = fetcher.FetchABI(ctx, target)
		if errors.Is(err, explorer.ErrNotVerified) {
			// Definitive answer; retrying will not change it.
			return nil
		}
		return err
	})
	if err != nil {
		r.logger.Warn("explorer fetch failed",
			zap.Error(err),
			zap.Uint64("chain_id", chainID),
			zap.String("contract", key),
		)
		return nil, ErrABINotFound
	}
	if raw == nil {
		r.logger.Debug("no verified abi on explorer", zap.String("contract", key))
		return nil, ErrABINotFound
	}

	parsed, err := contractabi.Parse(raw)
	if err != nil {
		r.logger.Warn("explorer abi unparseable",
			zap.Error(err),
			zap.Uint64("chain_id", chainID),
			zap.String("contract", key),
		)
		return nil, ErrABINotFound
	}

	return parsed, nil
}

// implementationAddress probes the EIP-1967 implementation slot. Any RPC
// error or an all-zero word means "not a known proxy", never a hard failure.
func (r *Resolver) implementationAddress(ctx context.Context, chainID uint64, address common.Address) (common.Address, bool) {
	reader, ok := r.chains[chainID]
	if !ok {
		return common.Address{}, false
	}

	var word []byte
	err := retry.Do(ctx, r.cfg.MaxRetries, r.cfg.RetryBackoff, func(ctx context.Context) error {
		var err error
		word, err = reader.StorageAt(ctx, address, implementationSlot)
		return err
	})
	if err != nil {
		r.logger.Debug("implementation slot read failed",
			zap.Error(err),
			zap.Uint64("chain_id", chainID),
			zap.String("address", strings.ToLower(address.Hex())),
		)
		return common.Address{}, false
	}

	impl := common.BytesToAddress(word)
	if impl == (common.Address{}) {
		return common.Address{}, false
	}
	return impl, true
}
