package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"eventLabeler/internal/chain"
	"eventLabeler/internal/config"
	"eventLabeler/internal/explorer"
	"eventLabeler/internal/labeler"
	"eventLabeler/internal/resolver"
	"eventLabeler/internal/storage"
	"eventLabeler/internal/storage/postgres"
)

func main() {
	root := &cobra.Command{
		Use:          "labeler",
		Short:        "Decode raw chain logs into labeled events",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run one labeling pass over the registry",
		RunE:  runLabeler,
	}

	runCmd.Flags().String("pg-dsn", "", "warehouse Postgres DSN")
	runCmd.Flags().Int("batch-size", 1000, "max contracts per run")
	runCmd.Flags().Int("log-limit", 5000, "max raw logs per contract per run")
	runCmd.Flags().Int("max-retries", 3, "maximum retry attempts per external call")
	runCmd.Flags().Duration("retry-backoff", 500*time.Millisecond, "initial retry backoff")
	runCmd.Flags().Duration("pace-delay", 200*time.Millisecond, "minimum interval between explorer calls")
	runCmd.Flags().Duration("call-timeout", 10*time.Second, "timeout per external call")
	runCmd.Flags().String("abi-overrides", "", "manual ABI override file (JSON)")
	runCmd.Flags().Bool("dry-run", false, "write decoded events to JSONL instead of the warehouse")
	runCmd.Flags().String("out", "./data/labeled_events.jsonl", "dry-run output JSONL path")
	runCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(runCmd)
	root.AddCommand(newResolveCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runLabeler(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.PGDSN == "" {
		return fmt.Errorf("pg dsn is required")
	}
	if len(cfg.Chains) == 0 {
		return fmt.Errorf("at least one chain must be configured")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := postgres.NewStore(ctx, cfg.PGDSN)
	if err != nil {
		return fmt.Errorf("connect warehouse: %w", err)
	}
	defer store.Close()

	chains := make(map[uint64]resolver.StorageReader, len(cfg.Chains))
	explorers := make(map[uint64]resolver.ABIFetcher, len(cfg.Chains))
	for _, chainCfg := range cfg.Chains {
		if chainCfg.RPCURL != "" {
			client, err := chain.NewClient(ctx, chainCfg.RPCURL)
			if err != nil {
				return fmt.Errorf("connect rpc for chain %d: %w", chainCfg.ID, err)
			}
			defer client.Close()

			if chainID, err := client.ChainID(ctx); err != nil {
				logger.Warn("chain id check failed", zap.Uint64("chain_id", chainCfg.ID), zap.Error(err))
			} else if chainID.Uint64() != chainCfg.ID {
				logger.Warn("configured chain id does not match endpoint",
					zap.Uint64("configured", chainCfg.ID),
					zap.String("reported", chainID.String()),
				)
			}
			chains[chainCfg.ID] = client
		}
		if chainCfg.ExplorerURL != "" {
			explorers[chainCfg.ID] = explorer.NewClient(explorer.Config{
				BaseURL:     chainCfg.ExplorerURL,
				APIKey:      chainCfg.ExplorerKey,
				Timeout:     cfg.CallTimeout,
				MinInterval: cfg.PaceDelay,
			}, logger)
		}
	}

	overrides, err := resolver.LoadOverrides(cfg.ABIOverrides)
	if err != nil {
		return err
	}

	abiResolver := resolver.New(resolver.Config{
		MaxRetries:   cfg.MaxRetries,
		RetryBackoff: cfg.RetryBackoff,
	}, chains, explorers, overrides, logger)

	var sink storage.EventSink = store
	if cfg.DryRun {
		sink = storage.NewJsonlSink(cfg.Out)
	}

	runner := labeler.NewRunner(labeler.RunConfig{
		BatchSize:    cfg.BatchSize,
		LogLimit:     cfg.LogLimit,
		MaxRetries:   cfg.MaxRetries,
		RetryBackoff: cfg.RetryBackoff,
	}, store, store, sink, abiResolver, logger)

	logger.Info("labeler start",
		zap.Int("chains", len(cfg.Chains)),
		zap.Int("batch_size", cfg.BatchSize),
		zap.Int("log_limit", cfg.LogLimit),
		zap.Bool("dry_run", cfg.DryRun),
		zap.Int("abi_overrides", len(overrides)),
	)

	stats, err := runner.RunOnce(ctx)
	if err != nil {
		return err
	}

	logger.Info("labeler done",
		zap.Int("decoded", stats.Decoded),
		zap.Int("failed", stats.Failed),
		zap.Int("flushed", stats.Flushed),
	)
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "decoded=%d failed=%d\n", stats.Decoded, stats.Failed)
	return err
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
