package store

import (
	"context"
	"database/sql"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/lockwatch/lockwatch/internal/config"
	"github.com/lockwatch/lockwatch/internal/db"
	"github.com/lockwatch/lockwatch/internal/logger"
	"github.com/lockwatch/lockwatch/internal/store/migrations"
	"github.com/stretchr/testify/require"
)

var testContract = common.HexToAddress("0x00000000000000000000000000000000000000C0")

func setupTestStore(t *testing.T) (*Store, *sql.DB) {
	t.Helper()

	dbPath := t.TempDir() + "/store_test.db"

	require.NoError(t, migrations.RunMigrations(dbPath))

	dbConfig := config.DatabaseConfig{Path: dbPath}
	dbConfig.ApplyDefaults()

	database, err := db.NewSQLiteDBFromConfig(dbConfig)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	log, err := logger.NewLogger("error", true)
	require.NoError(t, err)

	return New(database, log), database
}

func blockTx(i byte, blockNumber uint64) *BlockTx {
	return &BlockTx{
		TxHash:         common.Hash{i},
		BlockHash:      common.Hash{i, i},
		BlockNumber:    blockNumber,
		BlockTimestamp: 1_700_000_000 + int64(blockNumber),
	}
}

func TestStore_CommitWindow(t *testing.T) {
	st, _ := setupTestStore(t)
	ctx := context.Background()

	_, err := st.GetCursor(ctx, testContract, 0)
	require.NoError(t, err)

	holder := common.HexToAddress("0x000000000000000000000000000000000000000A")
	batch := &WindowBatch{
		BlockTxs: []*BlockTx{blockTx(1, 10), blockTx(2, 11)},
		Locks: []*LockEvent{
			{TxHash: common.Hash{1}, LogIndex: 0, Holder: holder, Amount: big.NewInt(100), Timestamp: 1_700_000_010},
		},
		Unlocks: []*UnlockEvent{
			{TxHash: common.Hash{2}, LogIndex: 0, Holder: holder, Amount: big.NewInt(40),
				Timestamp: 1_700_000_011, UnlockIndex: 0},
		},
		Contract:     testContract,
		CursorBlock:  11,
		UpdateCursor: true,
	}

	require.NoError(t, st.CommitWindow(ctx, batch))

	blocks, err := st.CountRows(ctx, "block_tx")
	require.NoError(t, err)
	require.Equal(t, int64(2), blocks)

	locks, err := st.CountRows(ctx, "lock_event")
	require.NoError(t, err)
	require.Equal(t, int64(1), locks)

	cursor, err := st.GetCursor(ctx, testContract, 0)
	require.NoError(t, err)
	require.Equal(t, uint64(11), cursor.LastIndexedBlock)
}

func TestStore_CommitWindowIdempotent(t *testing.T) {
	st, _ := setupTestStore(t)
	ctx := context.Background()

	_, err := st.GetCursor(ctx, testContract, 0)
	require.NoError(t, err)

	holder := common.HexToAddress("0x000000000000000000000000000000000000000A")
	batch := &WindowBatch{
		BlockTxs: []*BlockTx{blockTx(1, 10)},
		Locks: []*LockEvent{
			{TxHash: common.Hash{1}, LogIndex: 0, Holder: holder, Amount: big.NewInt(100), Timestamp: 1},
		},
		Contract:     testContract,
		CursorBlock:  10,
		UpdateCursor: true,
	}

	// Replaying the same window must not create new rows.
	require.NoError(t, st.CommitWindow(ctx, batch))
	require.NoError(t, st.CommitWindow(ctx, batch))

	locks, err := st.CountRows(ctx, "lock_event")
	require.NoError(t, err)
	require.Equal(t, int64(1), locks)

	blocks, err := st.CountRows(ctx, "block_tx")
	require.NoError(t, err)
	require.Equal(t, int64(1), blocks)
}

func TestStore_UnlockIndexUniquePerHolder(t *testing.T) {
	st, _ := setupTestStore(t)
	ctx := context.Background()

	_, err := st.GetCursor(ctx, testContract, 0)
	require.NoError(t, err)

	holderA := common.HexToAddress("0x000000000000000000000000000000000000000A")
	holderB := common.HexToAddress("0x000000000000000000000000000000000000000B")

	batch := &WindowBatch{
		BlockTxs: []*BlockTx{blockTx(1, 10), blockTx(2, 11), blockTx(3, 12)},
		Unlocks: []*UnlockEvent{
			{TxHash: common.Hash{1}, LogIndex: 0, Holder: holderA, Amount: big.NewInt(10), UnlockIndex: 0},
			// Same (holder, unlock_index): skipped by the uniqueness constraint.
			{TxHash: common.Hash{2}, LogIndex: 0, Holder: holderA, Amount: big.NewInt(10), UnlockIndex: 0},
			// Same index for a different holder is fine.
			{TxHash: common.Hash{3}, LogIndex: 0, Holder: holderB, Amount: big.NewInt(10), UnlockIndex: 0},
		},
		Contract:    testContract,
		CursorBlock: 12,
	}

	require.NoError(t, st.CommitWindow(ctx, batch))

	unlocks, err := st.CountRows(ctx, "unlock_event")
	require.NoError(t, err)
	require.Equal(t, int64(2), unlocks)
}

func TestStore_GetCursorAutoCreates(t *testing.T) {
	st, _ := setupTestStore(t)
	ctx := context.Background()

	cursor, err := st.GetCursor(ctx, testContract, 500)
	require.NoError(t, err)
	require.Equal(t, uint64(500), cursor.DeployedBlock)
	require.Equal(t, uint64(500), cursor.LastIndexedBlock)

	// Second call reads the stored row.
	require.NoError(t, st.SetCursor(ctx, testContract, 600))
	cursor, err = st.GetCursor(ctx, testContract, 500)
	require.NoError(t, err)
	require.Equal(t, uint64(600), cursor.LastIndexedBlock)

	count, err := st.CountRows(ctx, "indexer_cursor")
	require.NoError(t, err)
	require.Equal(t, int64(1), count)
}

func TestStore_SetCursorWithoutRow(t *testing.T) {
	st, _ := setupTestStore(t)
	require.Error(t, st.SetCursor(context.Background(), testContract, 10))
}

func TestStore_UnconfirmedBlocksAndMarkConfirmed(t *testing.T) {
	st, _ := setupTestStore(t)
	ctx := context.Background()

	batch := &WindowBatch{
		BlockTxs: []*BlockTx{blockTx(3, 30), blockTx(1, 10), blockTx(2, 20)},
		Contract: testContract,
	}
	require.NoError(t, st.CommitWindow(ctx, batch))

	page, err := st.UnconfirmedBlocksPage(ctx, 2, 0)
	require.NoError(t, err)
	require.Len(t, page, 2)
	require.Equal(t, uint64(10), page[0].BlockNumber)
	require.Equal(t, uint64(20), page[1].BlockNumber)

	require.NoError(t, st.MarkConfirmed(ctx, []common.Hash{page[0].TxHash}))

	page, err = st.UnconfirmedBlocksPage(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, page, 2)
	require.Equal(t, uint64(20), page[0].BlockNumber)
	require.Equal(t, uint64(30), page[1].BlockNumber)
}

func TestStore_RecoverFromReorg(t *testing.T) {
	st, _ := setupTestStore(t)
	ctx := context.Background()

	_, err := st.GetCursor(ctx, testContract, 0)
	require.NoError(t, err)
	require.NoError(t, st.SetCursor(ctx, testContract, 3000))

	holder := common.HexToAddress("0x000000000000000000000000000000000000000A")
	batch := &WindowBatch{
		BlockTxs: []*BlockTx{
			blockTx(1, 1000), blockTx(2, 1500), blockTx(3, 2000), blockTx(4, 2500), blockTx(5, 3000),
		},
		Locks: []*LockEvent{
			{TxHash: common.Hash{1}, LogIndex: 0, Holder: holder, Amount: big.NewInt(10)},
			{TxHash: common.Hash{3}, LogIndex: 0, Holder: holder, Amount: big.NewInt(10)},
			{TxHash: common.Hash{5}, LogIndex: 0, Holder: holder, Amount: big.NewInt(10)},
		},
		Contract: testContract,
	}
	require.NoError(t, st.CommitWindow(ctx, batch))

	deleted, err := st.RecoverFromReorg(ctx, testContract, 2000)
	require.NoError(t, err)
	require.Equal(t, int64(3), deleted)

	blocks, err := st.CountRows(ctx, "block_tx")
	require.NoError(t, err)
	require.Equal(t, int64(2), blocks)

	// Events of deleted blocks cascade.
	locks, err := st.CountRows(ctx, "lock_event")
	require.NoError(t, err)
	require.Equal(t, int64(1), locks)

	cursor, err := st.GetCursor(ctx, testContract, 0)
	require.NoError(t, err)
	require.Equal(t, uint64(2000), cursor.LastIndexedBlock)
}

func TestStore_MarkConfirmedEmpty(t *testing.T) {
	st, _ := setupTestStore(t)
	require.NoError(t, st.MarkConfirmed(context.Background(), nil))
}
