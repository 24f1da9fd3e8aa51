package labeler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.uber.org/zap"

	"eventLabeler/internal/contractabi"
	"eventLabeler/internal/decoder"
	"eventLabeler/internal/model"
	"eventLabeler/internal/resolver"
	"eventLabeler/internal/retry"
	"eventLabeler/internal/storage"
)

// ABIResolver is the resolver surface the runner needs.
type ABIResolver interface {
	Resolve(ctx context.Context, chainID uint64, address common.Address) (*contractabi.ContractABI, error)
}

// RunConfig holds runtime settings for one orchestrator invocation.
type RunConfig struct {
	// BatchSize caps the number of registry contracts processed per run.
	BatchSize int
	// LogLimit caps the raw logs fetched per contract per run.
	LogLimit     int
	MaxRetries   int
	RetryBackoff time.Duration
}

// Stats aggregates one run's counters. SkippedContracts counts contracts
// with no resolvable ABI, distinct from resolved contracts that simply had
// zero logs to decode.
type Stats struct {
	Contracts        int
	Resolved         int
	SkippedContracts int
	Decoded          int
	Unmatched        int
	Failed           int
	Flushed          int

	// Errors carries one record per failed decode, for reporting.
	Errors []model.DecodeError
}

// Runner drives one labeling pass: select contracts, resolve ABIs, pull
// unlabeled logs, match and decode, flush per contract. A single contract's
// failure never aborts the run; only an unreadable registry is fatal.
type Runner struct {
	cfg      RunConfig
	registry storage.ContractRegistry
	source   storage.RawLogSource
	sink     storage.EventSink
	resolver ABIResolver
	logger   *zap.Logger
}

// NewRunner builds a Runner with its dependencies.
func NewRunner(
	cfg RunConfig,
	registry storage.ContractRegistry,
	source storage.RawLogSource,
	sink storage.EventSink,
	abiResolver ABIResolver,
	logger *zap.Logger,
) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		cfg:      cfg,
		registry: registry,
		source:   source,
		sink:     sink,
		resolver: abiResolver,
		logger:   logger,
	}
}

// RunOnce executes one labeling pass and returns its counters. Re-running on
// an unchanged raw log source appends nothing: the source's anti-join hides
// every (tx_hash, log_index) already present in the sink.
func (r *Runner) RunOnce(ctx context.Context) (Stats, error) {
	var stats Stats

	if r.registry == nil || r.source == nil || r.sink == nil || r.resolver == nil {
		return stats, fmt.Errorf("runner dependencies not configured")
	}
	if r.cfg.BatchSize <= 0 {
		return stats, fmt.Errorf("batch size must be greater than zero")
	}
	if r.cfg.LogLimit <= 0 {
		return stats, fmt.Errorf("log limit must be greater than zero")
	}

	var contracts []model.Contract
	err := retry.Do(ctx, r.cfg.MaxRetries, r.cfg.RetryBackoff, func(ctx context.Context) error {
		var err error
		contracts, err = r.registry.ListContracts(ctx, r.cfg.BatchSize)
		return err
	})
	if err != nil {
		return stats, fmt.Errorf("list contracts: %w", err)
	}

	for _, contract := range contracts {
		select {
		case <-ctx.Done():
			return stats, ctx.Err()
		default:
		}

		stats.Contracts++
		r.processContract(ctx, contract, &stats)
	}

	r.logger.Info("run complete",
		zap.Int("contracts", stats.Contracts),
		zap.Int("resolved", stats.Resolved),
		zap.Int("skipped_contracts", stats.SkippedContracts),
		zap.Int("decoded", stats.Decoded),
		zap.Int("unmatched", stats.Unmatched),
		zap.Int("failed", stats.Failed),
		zap.Int("flushed", stats.Flushed),
	)

	return stats, nil
}

func (r *Runner) processContract(ctx context.Context, contract model.Contract, stats *Stats) {
	address := strings.ToLower(contract.Address)

	if !common.IsHexAddress(contract.Address) {
		r.logger.Warn("invalid contract address in registry",
			zap.String("address", contract.Address),
			zap.Uint64("chain_id", contract.ChainID),
		)
		stats.SkippedContracts++
		return
	}

	contractABI, err := r.resolver.Resolve(ctx, contract.ChainID, common.HexToAddress(contract.Address))
	if err != nil {
		if !errors.Is(err, resolver.ErrABINotFound) {
			r.logger.Warn("abi resolution error",
				zap.Error(err),
				zap.String("address", address),
				zap.Uint64("chain_id", contract.ChainID),
			)
		} else {
			r.logger.Warn("no abi for contract",
				zap.String("address", address),
				zap.Uint64("chain_id", contract.ChainID),
			)
		}
		stats.SkippedContracts++
		return
	}
	stats.Resolved++

	var logs []model.LogRecord
	err = retry.Do(ctx, r.cfg.MaxRetries, r.cfg.RetryBackoff, func(ctx context.Context) error {
		var err error
		logs, err = r.source.UnlabeledLogs(ctx, contract.ChainID, address, r.cfg.LogLimit)
		return err
	})
	if err != nil {
		r.logger.Error("fetch unlabeled logs failed",
			zap.Error(err),
			zap.String("address", address),
			zap.Uint64("chain_id", contract.ChainID),
		)
		return
	}
	if len(logs) == 0 {
		r.logger.Debug("no unlabeled logs", zap.String("address", address), zap.Uint64("chain_id", contract.ChainID))
		return
	}

	events := make([]model.DecodedEvent, 0, len(logs))
	for _, lg := range logs {
		event, ok := r.decodeLog(contractABI, lg, stats)
		if !ok {
			continue
		}
		event.ContractName = contract.Name
		event.ContractSymbol = contract.Symbol
		events = append(events, *event)
		stats.Decoded++
	}
	if len(events) == 0 {
		return
	}

	err = retry.Do(ctx, r.cfg.MaxRetries, r.cfg.RetryBackoff, func(ctx context.Context) error {
		return r.sink.AppendEvents(ctx, events)
	})
	if err != nil {
		// Not marked done; the next run's anti-join picks these logs up again.
		r.logger.Error("append events failed",
			zap.Error(err),
			zap.String("address", address),
			zap.Uint64("chain_id", contract.ChainID),
			zap.Int("events", len(events)),
		)
		return
	}
	stats.Flushed += len(events)
}

func (r *Runner) decodeLog(contractABI *contractabi.ContractABI, lg model.LogRecord, stats *Stats) (*model.DecodedEvent, bool) {
	if len(lg.Topics) == 0 {
		stats.Unmatched++
		r.logger.Debug("log has no topics",
			zap.String("tx_hash", lg.TxHash),
			zap.Uint64("log_index", lg.LogIndex),
		)
		return nil, false
	}

	topic0, err := parseTopic0(lg.Topics[0])
	if err != nil {
		stats.Failed++
		stats.Errors = append(stats.Errors, decodeError(lg, err))
		r.logger.Warn("invalid topic0",
			zap.Error(err),
			zap.String("tx_hash", lg.TxHash),
			zap.String("topic0", lg.Topics[0]),
		)
		return nil, false
	}

	eventDef := contractABI.FindEvent(topic0)
	if eventDef == nil {
		stats.Unmatched++
		r.logger.Debug("no matching event in abi",
			zap.String("tx_hash", lg.TxHash),
			zap.String("topic0", lg.Topics[0]),
		)
		return nil, false
	}

	event, err := decoder.Decode(eventDef, lg)
	if err != nil {
		stats.Failed++
		stats.Errors = append(stats.Errors, decodeError(lg, err))
		r.logger.Warn("decode failed",
			zap.Error(err),
			zap.String("tx_hash", lg.TxHash),
			zap.String("topic0", lg.Topics[0]),
			zap.String("event", eventDef.Name),
		)
		return nil, false
	}
	return event, true
}

func decodeError(lg model.LogRecord, err error) model.DecodeError {
	record := model.DecodeError{
		ChainID:     lg.ChainID,
		BlockNumber: lg.BlockNumber,
		TxHash:      lg.TxHash,
		LogIndex:    lg.LogIndex,
		Address:     strings.ToLower(lg.Address),
		Error:       err.Error(),
	}
	if len(lg.Topics) > 0 {
		record.Topic0 = lg.Topics[0]
	}
	return record
}

func parseTopic0(topic string) (common.Hash, error) {
	data, err := hexutil.Decode(topic)
	if err != nil {
		return common.Hash{}, err
	}
	if len(data) != 32 {
		return common.Hash{}, fmt.Errorf("topic0 length %d", len(data))
	}
	return common.BytesToHash(data), nil
}
