package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/lockwatch/lockwatch/internal/logger"
	"github.com/russross/meddler"
)

// Store owns all durable indexer state: transactions, per-kind events and the
// per-contract cursor. Every public operation is idempotent against retry.
type Store struct {
	db  *sql.DB
	log *logger.Logger
}

// New creates a Store on top of an open database handle.
func New(db *sql.DB, log *logger.Logger) *Store {
	return &Store{
		db:  db,
		log: log.WithComponent("store"),
	}
}

// DB exposes the underlying handle for read-side consumers.
func (s *Store) DB() *sql.DB {
	return s.db
}

// rollback is the shared deferred-rollback helper; a rollback after commit is a no-op.
func (s *Store) rollback(tx *sql.Tx) {
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		s.log.Errorf("failed to rollback transaction: %v", err)
	}
}

// CommitWindow persists one scanner window atomically: BlockTx upserts, the
// per-variant bulk inserts and (optionally) the cursor update run in a single
// transaction. Rows violating a uniqueness constraint are skipped silently,
// which makes replays after retries and reorgs no-ops.
func (s *Store) CommitWindow(ctx context.Context, batch *WindowBatch) error {
	if batch.Empty() && !batch.UpdateCursor {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer s.rollback(tx)

	if err := upsertBlockTxs(tx, batch.BlockTxs); err != nil {
		return err
	}

	if err := bulkInsertLocks(tx, batch.Locks); err != nil {
		return err
	}
	if err := bulkInsertUnlocks(tx, batch.Unlocks); err != nil {
		return err
	}
	if err := bulkInsertWithdrawals(tx, batch.Withdrawals); err != nil {
		return err
	}

	if batch.UpdateCursor {
		if err := setCursorTx(tx, batch.Contract, batch.CursorBlock); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit window: %w", err)
	}

	return nil
}

func upsertBlockTxs(tx *sql.Tx, blockTxs []*BlockTx) error {
	if len(blockTxs) == 0 {
		return nil
	}

	stmt, err := tx.Prepare(`
		INSERT OR IGNORE INTO block_tx (tx_hash, block_hash, block_number, block_timestamp, confirmed)
		VALUES (?, ?, ?, ?, 0)`)
	if err != nil {
		return fmt.Errorf("failed to prepare block_tx upsert: %w", err)
	}
	defer stmt.Close()

	for _, b := range blockTxs {
		if _, err := stmt.Exec(b.TxHash.Hex(), b.BlockHash.Hex(), b.BlockNumber, b.BlockTimestamp); err != nil {
			return fmt.Errorf("failed to upsert block_tx %s: %w", b.TxHash.Hex(), err)
		}
	}

	return nil
}

func bulkInsertLocks(tx *sql.Tx, events []*LockEvent) error {
	if len(events) == 0 {
		return nil
	}

	stmt, err := tx.Prepare(`
		INSERT OR IGNORE INTO lock_event (tx_hash, log_index, holder, amount, timestamp)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare lock_event insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range events {
		if _, err := stmt.Exec(e.TxHash.Hex(), e.LogIndex, e.Holder.Hex(), e.Amount.String(), e.Timestamp); err != nil {
			return fmt.Errorf("failed to insert lock_event tx=%s log_index=%d: %w", e.TxHash.Hex(), e.LogIndex, err)
		}
	}

	return nil
}

func bulkInsertUnlocks(tx *sql.Tx, events []*UnlockEvent) error {
	if len(events) == 0 {
		return nil
	}

	stmt, err := tx.Prepare(`
		INSERT OR IGNORE INTO unlock_event (tx_hash, log_index, holder, amount, timestamp, unlock_index)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare unlock_event insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range events {
		if _, err := stmt.Exec(
			e.TxHash.Hex(), e.LogIndex, e.Holder.Hex(), e.Amount.String(), e.Timestamp, e.UnlockIndex,
		); err != nil {
			return fmt.Errorf("failed to insert unlock_event tx=%s log_index=%d: %w", e.TxHash.Hex(), e.LogIndex, err)
		}
	}

	return nil
}

func bulkInsertWithdrawals(tx *sql.Tx, events []*WithdrawnEvent) error {
	if len(events) == 0 {
		return nil
	}

	stmt, err := tx.Prepare(`
		INSERT OR IGNORE INTO withdrawn_event (tx_hash, log_index, holder, amount, timestamp, unlock_index)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare withdrawn_event insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range events {
		if _, err := stmt.Exec(
			e.TxHash.Hex(), e.LogIndex, e.Holder.Hex(), e.Amount.String(), e.Timestamp, e.UnlockIndex,
		); err != nil {
			return fmt.Errorf("failed to insert withdrawn_event tx=%s log_index=%d: %w", e.TxHash.Hex(), e.LogIndex, err)
		}
	}

	return nil
}

// GetCursor returns the indexer cursor for a contract, creating it at
// (deployedBlock, deployedBlock) when missing. A deployed block of 0 forces a
// full-history scan, which is logged as a warning for operators.
func (s *Store) GetCursor(ctx context.Context, contract common.Address, deployedBlock uint64) (*IndexerCursor, error) {
	cursor := &IndexerCursor{}
	err := meddler.QueryRow(s.db, cursor, "SELECT * FROM indexer_cursor WHERE contract = ?", contract.Hex())
	if err == nil {
		return cursor, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to query indexer cursor: %w", err)
	}

	cursor = &IndexerCursor{
		Contract:         contract,
		DeployedBlock:    deployedBlock,
		LastIndexedBlock: deployedBlock,
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO indexer_cursor (contract, deployed_block, last_indexed_block)
		VALUES (?, ?, ?)`,
		contract.Hex(), deployedBlock, deployedBlock,
	); err != nil {
		return nil, fmt.Errorf("failed to create indexer cursor: %w", err)
	}

	if deployedBlock == 0 {
		s.log.Warnf("created cursor for contract=%s at block 0, a full-history scan will follow", contract.Hex())
	} else {
		s.log.Infof("created cursor for contract=%s at deployed block %d", contract.Hex(), deployedBlock)
	}

	return cursor, nil
}

// SetCursor persists the last indexed block for a contract.
func (s *Store) SetCursor(ctx context.Context, contract common.Address, blockNumber uint64) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE indexer_cursor SET last_indexed_block = ? WHERE contract = ?",
		blockNumber, contract.Hex())
	if err != nil {
		return fmt.Errorf("failed to set cursor: %w", err)
	}

	affected, _ := res.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("no cursor row for contract %s", contract.Hex())
	}

	return nil
}

func setCursorTx(tx *sql.Tx, contract common.Address, blockNumber uint64) error {
	if _, err := tx.Exec(
		"UPDATE indexer_cursor SET last_indexed_block = ? WHERE contract = ?",
		blockNumber, contract.Hex(),
	); err != nil {
		return fmt.Errorf("failed to set cursor: %w", err)
	}
	return nil
}

// UnconfirmedBlocksPage returns one page of not yet confirmed BlockTx rows in
// ascending block-number order.
func (s *Store) UnconfirmedBlocksPage(ctx context.Context, limit, offset uint64) ([]*BlockTx, error) {
	var blocks []*BlockTx
	err := meddler.QueryAll(s.db, &blocks, `
		SELECT * FROM block_tx WHERE confirmed = 0
		ORDER BY block_number ASC LIMIT ? OFFSET ?`,
		limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query unconfirmed blocks: %w", err)
	}
	return blocks, nil
}

// MarkConfirmed flips confirmed to true for the given transaction hashes.
// The transition is one-way; already confirmed rows are unaffected.
func (s *Store) MarkConfirmed(ctx context.Context, txHashes []common.Hash) error {
	if len(txHashes) == 0 {
		return nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(txHashes)), ", ")
	args := make([]interface{}, len(txHashes))
	for i, h := range txHashes {
		args[i] = h.Hex()
	}

	//nolint:gosec // placeholder list is generated, values are bound
	query := "UPDATE block_tx SET confirmed = 1 WHERE tx_hash IN (" + placeholders + ")"
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to mark blocks confirmed: %w", err)
	}

	return nil
}

// RecoverFromReorg rewinds the cursor to blockNumber and removes every BlockTx
// with block_number >= blockNumber, cascading to the event tables, in one
// transaction. It returns the number of deleted BlockTx rows.
func (s *Store) RecoverFromReorg(ctx context.Context, contract common.Address, blockNumber uint64) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer s.rollback(tx)

	if err := setCursorTx(tx, contract, blockNumber); err != nil {
		return 0, err
	}

	deleted, err := deleteFromBlockTx(tx, blockNumber)
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit reorg recovery: %w", err)
	}

	s.log.Warnf("reorg recovery done: cursor rewound to block=%d, deleted_blocks=%d", blockNumber, deleted)

	return deleted, nil
}

// deleteFromBlockTx removes all BlockTx rows with block_number >= blockNumber.
// Dependent event rows go with them via the foreign key cascade.
func deleteFromBlockTx(tx *sql.Tx, blockNumber uint64) (int64, error) {
	res, err := tx.Exec("DELETE FROM block_tx WHERE block_number >= ?", blockNumber)
	if err != nil {
		return 0, fmt.Errorf("failed to delete from block %d: %w", blockNumber, err)
	}

	deleted, _ := res.RowsAffected()
	return deleted, nil
}

// CountRows returns the number of rows in one of the owned tables. Test and
// operational helper.
func (s *Store) CountRows(ctx context.Context, table string) (int64, error) {
	switch table {
	case "block_tx", "lock_event", "unlock_event", "withdrawn_event", "indexer_cursor":
	default:
		return 0, fmt.Errorf("unknown table %q", table)
	}

	var count int64
	//nolint:gosec // table name validated against the fixed set above
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count %s rows: %w", table, err)
	}
	return count, nil
}
