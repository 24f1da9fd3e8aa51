package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"eventLabeler/internal/model"
)

// Store provides warehouse access: contract registry, raw log source, and
// labeled event sink. The labeled_events table is append-only; idempotency
// comes from the anti-join in UnlabeledLogs, not from a uniqueness constraint.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// ListContracts returns up to limit registry rows, deduplicated per
// (chain, address) and excluding sentinel addresses used for non-contract
// registry entries.
func (s *Store) ListContracts(ctx context.Context, limit int) ([]model.Contract, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT ON (chain_id, LOWER(contract_address))
			id, chain_id, contract_address, name, symbol
		FROM contracts
		WHERE contract_address IS NOT NULL
		  AND LOWER(contract_address) NOT IN ('', 'native', '0x0000000000000000000000000000000000000000')
		ORDER BY chain_id, LOWER(contract_address), id
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query contracts: %w", err)
	}
	defer rows.Close()

	var contracts []model.Contract
	for rows.Next() {
		var c model.Contract
		if err := rows.Scan(&c.ID, &c.ChainID, &c.Address, &c.Name, &c.Symbol); err != nil {
			return nil, fmt.Errorf("scan contract: %w", err)
		}
		contracts = append(contracts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read contracts: %w", err)
	}
	return contracts, nil
}

// UnlabeledLogs returns raw logs for the contract that have no row in
// labeled_events yet, oldest blocks first.
func (s *Store) UnlabeledLogs(ctx context.Context, chainID uint64, address string, limit int) ([]model.LogRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT lr.chain_id, lr.block_number, lr.block_hash, lr.tx_hash, lr.log_index, lr.address, lr.topics, lr.data
		FROM raw_logs lr
		LEFT JOIN labeled_events le
			ON lr.block_number = le.block_number
			AND lr.tx_hash = le.tx_hash
			AND lr.log_index = le.log_index
		WHERE le.tx_hash IS NULL
		  AND lr.chain_id = $1
		  AND LOWER(lr.address) = $2
		ORDER BY lr.block_number, lr.log_index
		LIMIT $3
	`, chainID, strings.ToLower(address), limit)
	if err != nil {
		return nil, fmt.Errorf("query unlabeled logs: %w", err)
	}
	defer rows.Close()

	var logs []model.LogRecord
	for rows.Next() {
		var lr model.LogRecord
		if err := rows.Scan(&lr.ChainID, &lr.BlockNumber, &lr.BlockHash, &lr.TxHash, &lr.LogIndex, &lr.Address, &lr.Topics, &lr.Data); err != nil {
			return nil, fmt.Errorf("scan log: %w", err)
		}
		logs = append(logs, lr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read logs: %w", err)
	}
	return logs, nil
}

// AppendEvents inserts decoded events in one batch. Args are stored as JSONB
// so new event shapes never require schema changes.
func (s *Store) AppendEvents(ctx context.Context, events []model.DecodedEvent) error {
	if len(events) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, event := range events {
		args, err := json.Marshal(event.Args)
		if err != nil {
			return fmt.Errorf("marshal args for %s/%d: %w", event.TxHash, event.LogIndex, err)
		}
		batch.Queue(`
			INSERT INTO labeled_events (
				chain_id, block_number, tx_hash, log_index, contract_address,
				event_name, contract_name, contract_symbol, args, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
		`,
			int64(event.ChainID),
			int64(event.BlockNumber),
			event.TxHash,
			int64(event.LogIndex),
			event.ContractAddress,
			event.EventName,
			event.ContractName,
			event.ContractSymbol,
			args,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range events {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}
