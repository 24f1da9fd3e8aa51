package storage

import (
	"context"

	"eventLabeler/internal/model"
)

// ContractRegistry lists contracts whose logs should be labeled.
type ContractRegistry interface {
	ListContracts(ctx context.Context, limit int) ([]model.Contract, error)
}

// RawLogSource returns raw logs for a contract that have no decoded row yet.
// Implementations must perform the anti-join against the sink on
// (transaction_hash, log_index) and order results by (block_number, log_index).
type RawLogSource interface {
	UnlabeledLogs(ctx context.Context, chainID uint64, address string, limit int) ([]model.LogRecord, error)
}

// EventSink appends decoded events. Appends are never updates or deletes.
type EventSink interface {
	AppendEvents(ctx context.Context, events []model.DecodedEvent) error
}
