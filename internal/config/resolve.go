package config

import (
	"time"

	"github.com/spf13/pflag"
)

// ResolveConfig holds configuration for the resolve command.
type ResolveConfig struct {
	ChainID      uint64
	RPCURL       string
	ExplorerURL  string
	ExplorerKey  string
	Address      string
	ABIOverrides string
	MaxRetries   int
	RetryBackoff time.Duration
	PaceDelay    time.Duration
	CallTimeout  time.Duration
	LogLevel     string
}

// LoadResolve merges config file, environment variables, and flags into
// ResolveConfig.
func LoadResolve(cfgFile string, flags *pflag.FlagSet) (ResolveConfig, error) {
	v, err := newViper(cfgFile, flags)
	if err != nil {
		return ResolveConfig{}, err
	}

	v.SetDefault("max-retries", 3)
	v.SetDefault("retry-backoff", 500*time.Millisecond)
	v.SetDefault("pace-delay", 200*time.Millisecond)
	v.SetDefault("call-timeout", 10*time.Second)
	v.SetDefault("log-level", "info")

	cfg := ResolveConfig{
		ChainID:      v.GetUint64("chain-id"),
		RPCURL:       v.GetString("rpc"),
		ExplorerURL:  v.GetString("explorer-url"),
		ExplorerKey:  v.GetString("explorer-key"),
		Address:      v.GetString("address"),
		ABIOverrides: v.GetString("abi-overrides"),
		MaxRetries:   v.GetInt("max-retries"),
		RetryBackoff: v.GetDuration("retry-backoff"),
		PaceDelay:    v.GetDuration("pace-delay"),
		CallTimeout:  v.GetDuration("call-timeout"),
		LogLevel:     v.GetString("log-level"),
	}

	return cfg, nil
}
