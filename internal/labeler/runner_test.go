package labeler

import (
	"context"
	"fmt"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"eventLabeler/internal/contractabi"
	"eventLabeler/internal/model"
	"eventLabeler/internal/resolver"
)

const transferTopic = "0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef"

const transferABIJSON = `[{"anonymous":false,"inputs":[{"indexed":true,"name":"from","type":"address"},{"indexed":true,"name":"to","type":"address"},{"indexed":false,"name":"value","type":"uint256"}],"name":"Transfer","type":"event"}]`

type fakeRegistry struct {
	contracts []model.Contract
	err       error
}

func (f *fakeRegistry) ListContracts(_ context.Context, limit int) ([]model.Contract, error) {
	if f.err != nil {
		return nil, f.err
	}
	if len(f.contracts) > limit {
		return f.contracts[:limit], nil
	}
	return f.contracts, nil
}

// fakeWarehouse emulates the warehouse anti-join: UnlabeledLogs hides any
// (tx_hash, log_index) already appended to the sink.
type fakeWarehouse struct {
	logs      []model.LogRecord
	sourceErr error
	sinkErr   error
	appended  []model.DecodedEvent
	seen      map[string]bool
}

func newFakeWarehouse(logs []model.LogRecord) *fakeWarehouse {
	return &fakeWarehouse{logs: logs, seen: map[string]bool{}}
}

func (f *fakeWarehouse) UnlabeledLogs(_ context.Context, chainID uint64, address string, limit int) ([]model.LogRecord, error) {
	if f.sourceErr != nil {
		return nil, f.sourceErr
	}
	var out []model.LogRecord
	for _, lg := range f.logs {
		if lg.ChainID != chainID || lg.Address != address {
			continue
		}
		if f.seen[fmt.Sprintf("%s:%d", lg.TxHash, lg.LogIndex)] {
			continue
		}
		out = append(out, lg)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeWarehouse) AppendEvents(_ context.Context, events []model.DecodedEvent) error {
	if f.sinkErr != nil {
		return f.sinkErr
	}
	for _, event := range events {
		f.seen[fmt.Sprintf("%s:%d", event.TxHash, event.LogIndex)] = true
	}
	f.appended = append(f.appended, events...)
	return nil
}

type fakeResolver struct {
	abis  map[string]*contractabi.ContractABI
	err   error
	calls int
}

func (f *fakeResolver) Resolve(_ context.Context, chainID uint64, address common.Address) (*contractabi.ContractABI, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	abi, ok := f.abis[resolver.OverrideKey(chainID, address)]
	if !ok {
		return nil, resolver.ErrABINotFound
	}
	return abi, nil
}

func transferResolver(t *testing.T, chainID uint64, address string) *fakeResolver {
	t.Helper()
	abi, err := contractabi.Parse([]byte(transferABIJSON))
	if err != nil {
		t.Fatalf("parse abi: %v", err)
	}
	return &fakeResolver{abis: map[string]*contractabi.ContractABI{
		resolver.OverrideKey(chainID, common.HexToAddress(address)): abi,
	}}
}

func topicFromAddress(addr common.Address) string {
	return common.BytesToHash(common.LeftPadBytes(addr.Bytes(), 32)).Hex()
}

func transferLog(chainID, block uint64, address, txHash string, logIndex uint64, value int64) model.LogRecord {
	return model.LogRecord{
		ChainID:     chainID,
		BlockNumber: block,
		TxHash:      txHash,
		LogIndex:    logIndex,
		Address:     address,
		Topics: []string{
			transferTopic,
			topicFromAddress(common.HexToAddress("0x2222222222222222222222222222222222222222")),
			topicFromAddress(common.HexToAddress("0x3333333333333333333333333333333333333333")),
		},
		Data: hexutil.Encode(common.LeftPadBytes(big.NewInt(value).Bytes(), 32)),
	}
}

func testRunConfig() RunConfig {
	return RunConfig{BatchSize: 100, LogLimit: 1000}
}

func TestRunOnceDecodesAndFlushes(t *testing.T) {
	address := "0x1111111111111111111111111111111111111111"
	contract := model.Contract{ChainID: 1, Address: address, Name: "Test Token", Symbol: "TT"}

	warehouse := newFakeWarehouse([]model.LogRecord{
		transferLog(1, 100, address, "0xaaa0000000000000000000000000000000000000000000000000000000000000", 0, 7),
		transferLog(1, 101, address, "0xbbb0000000000000000000000000000000000000000000000000000000000000", 3, 9),
	})

	runner := NewRunner(testRunConfig(),
		&fakeRegistry{contracts: []model.Contract{contract}},
		warehouse, warehouse,
		transferResolver(t, 1, address),
		zap.NewNop(),
	)

	stats, err := runner.RunOnce(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 1, stats.Contracts)
	assert.Equal(t, 1, stats.Resolved)
	assert.Equal(t, 2, stats.Decoded)
	assert.Equal(t, 2, stats.Flushed)
	assert.Equal(t, 0, stats.Failed)

	assert.Len(t, warehouse.appended, 2)
	first := warehouse.appended[0]
	assert.Equal(t, "Transfer", first.EventName)
	assert.Equal(t, "Test Token", first.ContractName)
	assert.Equal(t, "TT", first.ContractSymbol)
	assert.Equal(t, "7", first.Args["value"])
}

func TestRunOnceIsIdempotent(t *testing.T) {
	address := "0x1111111111111111111111111111111111111111"
	contract := model.Contract{ChainID: 1, Address: address}

	warehouse := newFakeWarehouse([]model.LogRecord{
		transferLog(1, 100, address, "0xaaa0000000000000000000000000000000000000000000000000000000000000", 0, 7),
	})
	abiResolver := transferResolver(t, 1, address)

	runner := NewRunner(testRunConfig(),
		&fakeRegistry{contracts: []model.Contract{contract}},
		warehouse, warehouse, abiResolver, zap.NewNop(),
	)

	stats, err := runner.RunOnce(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 1, stats.Flushed)

	stats, err = runner.RunOnce(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 0, stats.Flushed)
	assert.Len(t, warehouse.appended, 1)
}

func TestRunOnceCountsUnmatchedAndFailed(t *testing.T) {
	address := "0x1111111111111111111111111111111111111111"
	contract := model.Contract{ChainID: 1, Address: address}

	good := transferLog(1, 100, address, "0xaaa0000000000000000000000000000000000000000000000000000000000000", 0, 7)

	unknown := transferLog(1, 101, address, "0xbbb0000000000000000000000000000000000000000000000000000000000000", 1, 7)
	unknown.Topics[0] = "0x0000000000000000000000000000000000000000000000000000000000000001"

	truncated := transferLog(1, 102, address, "0xccc0000000000000000000000000000000000000000000000000000000000000", 2, 7)
	truncated.Data = hexutil.Encode(make([]byte, 31))

	bare := model.LogRecord{ChainID: 1, Address: address, TxHash: "0xddd0000000000000000000000000000000000000000000000000000000000000"}

	warehouse := newFakeWarehouse([]model.LogRecord{good, unknown, truncated, bare})

	runner := NewRunner(testRunConfig(),
		&fakeRegistry{contracts: []model.Contract{contract}},
		warehouse, warehouse,
		transferResolver(t, 1, address),
		zap.NewNop(),
	)

	stats, err := runner.RunOnce(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 1, stats.Decoded)
	assert.Equal(t, 2, stats.Unmatched)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 1, stats.Flushed)

	if assert.Len(t, stats.Errors, 1) {
		record := stats.Errors[0]
		assert.Equal(t, truncated.TxHash, record.TxHash)
		assert.Equal(t, transferTopic, record.Topic0)
		assert.NotEmpty(t, record.Error)
	}
}

func TestRunOnceSkipsUnresolvedContract(t *testing.T) {
	resolved := "0x1111111111111111111111111111111111111111"
	unresolved := model.Contract{ChainID: 1, Address: "0x9999999999999999999999999999999999999999"}

	warehouse := newFakeWarehouse([]model.LogRecord{
		transferLog(1, 100, resolved, "0xaaa0000000000000000000000000000000000000000000000000000000000000", 0, 7),
	})

	runner := NewRunner(testRunConfig(),
		&fakeRegistry{contracts: []model.Contract{
			unresolved,
			{ChainID: 1, Address: resolved},
		}},
		warehouse, warehouse,
		transferResolver(t, 1, resolved),
		zap.NewNop(),
	)

	stats, err := runner.RunOnce(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 2, stats.Contracts)
	assert.Equal(t, 1, stats.SkippedContracts)
	assert.Equal(t, 1, stats.Resolved)
	assert.Equal(t, 1, stats.Flushed)
}

func TestRunOnceSkipsInvalidAddress(t *testing.T) {
	warehouse := newFakeWarehouse(nil)
	abiResolver := &fakeResolver{}

	runner := NewRunner(testRunConfig(),
		&fakeRegistry{contracts: []model.Contract{{ChainID: 1, Address: "not-an-address"}}},
		warehouse, warehouse, abiResolver, zap.NewNop(),
	)

	stats, err := runner.RunOnce(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 1, stats.SkippedContracts)
	assert.Equal(t, 0, abiResolver.calls)
}

func TestRunOnceSinkFailureLeavesLogsForNextRun(t *testing.T) {
	address := "0x1111111111111111111111111111111111111111"
	contract := model.Contract{ChainID: 1, Address: address}

	warehouse := newFakeWarehouse([]model.LogRecord{
		transferLog(1, 100, address, "0xaaa0000000000000000000000000000000000000000000000000000000000000", 0, 7),
	})
	warehouse.sinkErr = fmt.Errorf("warehouse unavailable")

	runner := NewRunner(testRunConfig(),
		&fakeRegistry{contracts: []model.Contract{contract}},
		warehouse, warehouse,
		transferResolver(t, 1, address),
		zap.NewNop(),
	)

	stats, err := runner.RunOnce(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 1, stats.Decoded)
	assert.Equal(t, 0, stats.Flushed)

	warehouse.sinkErr = nil
	stats, err = runner.RunOnce(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 1, stats.Flushed)
}

func TestRunOnceSourceFailureSkipsContract(t *testing.T) {
	address := "0x1111111111111111111111111111111111111111"

	warehouse := newFakeWarehouse(nil)
	warehouse.sourceErr = fmt.Errorf("query timeout")

	runner := NewRunner(testRunConfig(),
		&fakeRegistry{contracts: []model.Contract{{ChainID: 1, Address: address}}},
		warehouse, warehouse,
		transferResolver(t, 1, address),
		zap.NewNop(),
	)

	stats, err := runner.RunOnce(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 1, stats.Resolved)
	assert.Equal(t, 0, stats.Flushed)
}

func TestRunOnceRegistryFailureIsFatal(t *testing.T) {
	warehouse := newFakeWarehouse(nil)

	runner := NewRunner(testRunConfig(),
		&fakeRegistry{err: fmt.Errorf("registry offline")},
		warehouse, warehouse, &fakeResolver{}, zap.NewNop(),
	)

	_, err := runner.RunOnce(context.Background())
	assert.Error(t, err)
}

func TestRunOnceRejectsBadConfig(t *testing.T) {
	warehouse := newFakeWarehouse(nil)

	runner := NewRunner(RunConfig{BatchSize: 0, LogLimit: 100},
		&fakeRegistry{}, warehouse, warehouse, &fakeResolver{}, zap.NewNop(),
	)
	_, err := runner.RunOnce(context.Background())
	assert.Error(t, err)

	runner = NewRunner(RunConfig{BatchSize: 100, LogLimit: 0},
		&fakeRegistry{}, warehouse, warehouse, &fakeResolver{}, zap.NewNop(),
	)
	_, err = runner.RunOnce(context.Background())
	assert.Error(t, err)
}

func TestRunOnceRespectsBatchSize(t *testing.T) {
	warehouse := newFakeWarehouse(nil)
	abiResolver := &fakeResolver{err: resolver.ErrABINotFound}

	var contracts []model.Contract
	for i := 0; i < 5; i++ {
		contracts = append(contracts, model.Contract{
			ChainID: 1,
			Address: fmt.Sprintf("0x%040d", i+1),
		})
	}

	runner := NewRunner(RunConfig{BatchSize: 3, LogLimit: 100},
		&fakeRegistry{contracts: contracts},
		warehouse, warehouse, abiResolver, zap.NewNop(),
	)

	stats, err := runner.RunOnce(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 3, stats.Contracts)
}
