package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"eventLabeler/internal/chain"
	"eventLabeler/internal/config"
	"eventLabeler/internal/explorer"
	"eventLabeler/internal/resolver"
)

func newResolveCmd() *cobra.Command {
	resolveCmd := &cobra.Command{
		Use:   "resolve",
		Short: "Resolve one contract's ABI and print its event signatures",
		RunE:  runResolve,
	}

	resolveCmd.Flags().Uint64("chain-id", 0, "chain id")
	resolveCmd.Flags().String("rpc", "", "chain RPC URL (enables proxy detection)")
	resolveCmd.Flags().String("explorer-url", "", "block explorer API URL")
	resolveCmd.Flags().String("explorer-key", "", "block explorer API key")
	resolveCmd.Flags().String("address", "", "contract address")
	resolveCmd.Flags().String("abi-overrides", "", "manual ABI override file (JSON)")
	resolveCmd.Flags().Int("max-retries", 3, "maximum retry attempts per external call")
	resolveCmd.Flags().Duration("retry-backoff", 500*time.Millisecond, "initial retry backoff")
	resolveCmd.Flags().Duration("pace-delay", 200*time.Millisecond, "minimum interval between explorer calls")
	resolveCmd.Flags().Duration("call-timeout", 10*time.Second, "timeout per external call")
	resolveCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	return resolveCmd
}

func runResolve(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadResolve(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.ChainID == 0 {
		return fmt.Errorf("chain id is required")
	}
	if !common.IsHexAddress(cfg.Address) {
		return fmt.Errorf("invalid address: %s", cfg.Address)
	}
	if cfg.ExplorerURL == "" {
		return fmt.Errorf("explorer url is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	chains := map[uint64]resolver.StorageReader{}
	if cfg.RPCURL != "" {
		client, err := chain.NewClient(ctx, cfg.RPCURL)
		if err != nil {
			return fmt.Errorf("connect rpc: %w", err)
		}
		defer client.Close()
		chains[cfg.ChainID] = client
	}

	explorers := map[uint64]resolver.ABIFetcher{
		cfg.ChainID: explorer.NewClient(explorer.Config{
			BaseURL:     cfg.ExplorerURL,
			APIKey:      cfg.ExplorerKey,
			Timeout:     cfg.CallTimeout,
			MinInterval: cfg.PaceDelay,
		}, logger),
	}

	overrides, err := resolver.LoadOverrides(cfg.ABIOverrides)
	if err != nil {
		return err
	}

	abiResolver := resolver.New(resolver.Config{
		MaxRetries:   cfg.MaxRetries,
		RetryBackoff: cfg.RetryBackoff,
	}, chains, explorers, overrides, logger)

	contractABI, err := abiResolver.Resolve(ctx, cfg.ChainID, common.HexToAddress(cfg.Address))
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, event := range contractABI.Events {
		if event.Anonymous {
			if _, err := fmt.Fprintf(out, "(anonymous)  %s\n", event.Signature); err != nil {
				return err
			}
			continue
		}
		if _, err := fmt.Fprintf(out, "%s  %s\n", event.ID.Hex(), event.Signature); err != nil {
			return err
		}
	}
	return nil
}
