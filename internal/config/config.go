package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// ChainConfig holds the per-chain endpoints: RPC node for storage reads and
// block explorer for ABI fetches.
type ChainConfig struct {
	ID          uint64
	RPCURL      string
	ExplorerURL string
	ExplorerKey string
}

// Config holds configuration for the run command, merged from flags, env,
// and config file.
type Config struct {
	PGDSN        string
	Chains       []ChainConfig
	BatchSize    int
	LogLimit     int
	MaxRetries   int
	RetryBackoff time.Duration
	PaceDelay    time.Duration
	CallTimeout  time.Duration
	ABIOverrides string
	DryRun       bool
	Out          string
	LogLevel     string
}

// Load merges config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v, err := newViper(cfgFile, flags)
	if err != nil {
		return Config{}, err
	}

	v.SetDefault("batch-size", 1000)
	v.SetDefault("log-limit", 5000)
	v.SetDefault("max-retries", 3)
	v.SetDefault("retry-backoff", 500*time.Millisecond)
	v.SetDefault("pace-delay", 200*time.Millisecond)
	v.SetDefault("call-timeout", 10*time.Second)
	v.SetDefault("out", "./data/labeled_events.jsonl")
	v.SetDefault("log-level", "info")

	chains, err := parseChains(v.Get("chains"))
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		PGDSN:        v.GetString("pg-dsn"),
		Chains:       chains,
		BatchSize:    v.GetInt("batch-size"),
		LogLimit:     v.GetInt("log-limit"),
		MaxRetries:   v.GetInt("max-retries"),
		RetryBackoff: v.GetDuration("retry-backoff"),
		PaceDelay:    v.GetDuration("pace-delay"),
		CallTimeout:  v.GetDuration("call-timeout"),
		ABIOverrides: v.GetString("abi-overrides"),
		DryRun:       v.GetBool("dry-run"),
		Out:          v.GetString("out"),
		LogLevel:     v.GetString("log-level"),
	}

	return cfg, nil
}

func newViper(cfgFile string, flags *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix("LABELER")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	return v, nil
}

func parseChains(value interface{}) ([]ChainConfig, error) {
	if value == nil {
		return nil, nil
	}

	items, ok := value.([]interface{})
	if !ok {
		return nil, fmt.Errorf("chains must be a list")
	}

	chains := make([]ChainConfig, 0, len(items))
	for i, item := range items {
		entry, err := toStringMap(item)
		if err != nil {
			return nil, fmt.Errorf("chain %d: %w", i, err)
		}

		id, err := toUint64(entry["id"])
		if err != nil || id == 0 {
			return nil, fmt.Errorf("chain %d: invalid id", i)
		}

		chains = append(chains, ChainConfig{
			ID:          id,
			RPCURL:      toString(entry["rpc"]),
			ExplorerURL: toString(entry["explorer-url"]),
			ExplorerKey: toString(entry["explorer-key"]),
		})
	}

	return chains, nil
}

func toStringMap(value interface{}) (map[string]interface{}, error) {
	switch typed := value.(type) {
	case map[string]interface{}:
		return typed, nil
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(typed))
		for k, v := range typed {
			out[fmt.Sprintf("%v", k)] = v
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected a map, got %T", value)
	}
}

func toString(value interface{}) string {
	if value == nil {
		return ""
	}
	return strings.TrimSpace(fmt.Sprintf("%v", value))
}

func toUint64(value interface{}) (uint64, error) {
	switch typed := value.(type) {
	case int:
		return uint64(typed), nil
	case int64:
		return uint64(typed), nil
	case uint64:
		return typed, nil
	case float64:
		return uint64(typed), nil
	case string:
		return strconv.ParseUint(strings.TrimSpace(typed), 10, 64)
	default:
		return 0, fmt.Errorf("expected a number, got %T", value)
	}
}
