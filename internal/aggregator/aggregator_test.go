package aggregator

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/lockwatch/lockwatch/internal/config"
	"github.com/lockwatch/lockwatch/internal/db"
	"github.com/lockwatch/lockwatch/internal/logger"
	"github.com/lockwatch/lockwatch/internal/store"
	"github.com/lockwatch/lockwatch/internal/store/migrations"
	"github.com/stretchr/testify/require"
)

var (
	testContract = common.HexToAddress("0x00000000000000000000000000000000000000C0")
	holderA      = common.HexToAddress("0x000000000000000000000000000000000000000A")
	holderB      = common.HexToAddress("0x000000000000000000000000000000000000000B")
	holderC      = common.HexToAddress("0x000000000000000000000000000000000000000C")
)

func setupTestAggregator(t *testing.T) (*Aggregator, *store.Store) {
	t.Helper()

	dbPath := t.TempDir() + "/aggregator_test.db"
	require.NoError(t, migrations.RunMigrations(dbPath))

	dbConfig := config.DatabaseConfig{Path: dbPath}
	dbConfig.ApplyDefaults()
	database, err := db.NewSQLiteDBFromConfig(dbConfig)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	log, err := logger.NewLogger("error", true)
	require.NoError(t, err)

	return New(database, log), store.New(database, log)
}

var txSeq byte

func nextTx(blockNumber uint64) (common.Hash, *store.BlockTx) {
	txSeq++
	txHash := common.BytesToHash([]byte{0xa0, txSeq})
	return txHash, &store.BlockTx{
		TxHash:         txHash,
		BlockHash:      common.BytesToHash([]byte{0xb0, txSeq}),
		BlockNumber:    blockNumber,
		BlockTimestamp: 1_700_000_000 + int64(blockNumber),
	}
}

func seedLock(t *testing.T, st *store.Store, holder common.Address, amount int64, blockNumber uint64) {
	t.Helper()
	txHash, blockTx := nextTx(blockNumber)
	require.NoError(t, st.CommitWindow(context.Background(), &store.WindowBatch{
		BlockTxs: []*store.BlockTx{blockTx},
		Locks: []*store.LockEvent{{
			TxHash: txHash, LogIndex: 0, Holder: holder,
			Amount: big.NewInt(amount), Timestamp: blockTx.BlockTimestamp,
		}},
		Contract: testContract,
	}))
}

func seedUnlock(t *testing.T, st *store.Store, holder common.Address, index uint32, amount int64, blockNumber uint64) {
	t.Helper()
	txHash, blockTx := nextTx(blockNumber)
	require.NoError(t, st.CommitWindow(context.Background(), &store.WindowBatch{
		BlockTxs: []*store.BlockTx{blockTx},
		Unlocks: []*store.UnlockEvent{{
			TxHash: txHash, LogIndex: 0, Holder: holder,
			Amount: big.NewInt(amount), Timestamp: blockTx.BlockTimestamp, UnlockIndex: index,
		}},
		Contract: testContract,
	}))
}

func seedWithdrawn(t *testing.T, st *store.Store, holder common.Address, index uint32, amount int64, blockNumber uint64) {
	t.Helper()
	txHash, blockTx := nextTx(blockNumber)
	require.NoError(t, st.CommitWindow(context.Background(), &store.WindowBatch{
		BlockTxs: []*store.BlockTx{blockTx},
		Withdrawals: []*store.WithdrawnEvent{{
			TxHash: txHash, LogIndex: 0, Holder: holder,
			Amount: big.NewInt(amount), Timestamp: blockTx.BlockTimestamp, UnlockIndex: index,
		}},
		Contract: testContract,
	}))
}

// Lock then unlock history: locked drains to zero, unlocked accumulates.
func TestAggregator_LockThenUnlocks(t *testing.T) {
	agg, st := setupTestAggregator(t)
	ctx := context.Background()

	seedLock(t, st, holderA, 100, 20)
	for i := uint32(0); i < 10; i++ {
		seedUnlock(t, st, holderA, i, 10, 21+uint64(i))
	}

	entry, err := agg.LeaderboardPosition(ctx, holderA)
	require.NoError(t, err)
	require.NotNil(t, entry)
	require.Equal(t, int64(0), entry.LockedAmount.Int64())
	require.Equal(t, int64(100), entry.UnlockedAmount.Int64())
	require.Equal(t, int64(0), entry.WithdrawnAmount.Int64())
}

// Withdrawals after cooldown: five of the ten unlock indexes withdrawn.
func TestAggregator_Withdrawals(t *testing.T) {
	agg, st := setupTestAggregator(t)
	ctx := context.Background()

	seedLock(t, st, holderA, 100, 20)
	for i := uint32(0); i < 10; i++ {
		seedUnlock(t, st, holderA, i, 10, 21+uint64(i))
	}
	for i := uint32(0); i < 5; i++ {
		seedWithdrawn(t, st, holderA, i, 10, 40+uint64(i))
	}
	// A second withdrawal for an already-withdrawn index is rejected by the
	// (holder, unlock_index) uniqueness constraint.
	seedWithdrawn(t, st, holderA, 0, 10, 50)

	withdrawals, err := st.CountRows(ctx, "withdrawn_event")
	require.NoError(t, err)
	require.Equal(t, int64(5), withdrawals)

	entry, err := agg.LeaderboardPosition(ctx, holderA)
	require.NoError(t, err)
	require.NotNil(t, entry)
	require.Equal(t, int64(50), entry.WithdrawnAmount.Int64())
}

func TestAggregator_LeaderboardOrdering(t *testing.T) {
	agg, st := setupTestAggregator(t)
	ctx := context.Background()

	seedLock(t, st, holderA, 100, 10)
	seedLock(t, st, holderB, 50, 11)
	seedLock(t, st, holderC, 200, 12)

	entries, err := agg.Leaderboard(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	require.Equal(t, holderC, entries[0].Holder)
	require.Equal(t, uint64(1), entries[0].Position)
	require.Equal(t, holderA, entries[1].Holder)
	require.Equal(t, uint64(2), entries[1].Position)
	require.Equal(t, holderB, entries[2].Holder)
	require.Equal(t, uint64(3), entries[2].Position)

	count, err := agg.LeaderboardCount(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(3), count)
}

func TestAggregator_LeaderboardPagination(t *testing.T) {
	agg, st := setupTestAggregator(t)
	ctx := context.Background()

	seedLock(t, st, holderA, 100, 10)
	seedLock(t, st, holderB, 50, 11)
	seedLock(t, st, holderC, 200, 12)

	entries, err := agg.Leaderboard(ctx, 1, 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, holderA, entries[0].Holder)
	require.Equal(t, uint64(2), entries[0].Position)

	entries, err = agg.Leaderboard(ctx, 10, 5)
	require.NoError(t, err)
	require.Empty(t, entries)
}

// Positions are distinct even on ties, with deterministic order.
func TestAggregator_LeaderboardTies(t *testing.T) {
	agg, st := setupTestAggregator(t)
	ctx := context.Background()

	seedLock(t, st, holderB, 100, 10)
	seedLock(t, st, holderA, 100, 11)

	entries, err := agg.Leaderboard(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, holderA, entries[0].Holder)
	require.Equal(t, uint64(1), entries[0].Position)
	require.Equal(t, holderB, entries[1].Holder)
	require.Equal(t, uint64(2), entries[1].Position)
}

func TestAggregator_LeaderboardPositionUnknownHolder(t *testing.T) {
	agg, st := setupTestAggregator(t)
	seedLock(t, st, holderA, 100, 10)

	entry, err := agg.LeaderboardPosition(context.Background(), holderC)
	require.NoError(t, err)
	require.Nil(t, entry)
}

// Amounts above the signed 64-bit range survive aggregation intact.
func TestAggregator_LeaderboardLargeAmounts(t *testing.T) {
	agg, st := setupTestAggregator(t)
	ctx := context.Background()

	large, ok := new(big.Int).SetString("79228162514264337593543950335", 10) // 2^96 - 1
	require.True(t, ok)

	txHash, blockTx := nextTx(10)
	require.NoError(t, st.CommitWindow(ctx, &store.WindowBatch{
		BlockTxs: []*store.BlockTx{blockTx},
		Locks: []*store.LockEvent{{
			TxHash: txHash, LogIndex: 0, Holder: holderA,
			Amount: large, Timestamp: blockTx.BlockTimestamp,
		}},
		Contract: testContract,
	}))

	entry, err := agg.LeaderboardPosition(ctx, holderA)
	require.NoError(t, err)
	require.NotNil(t, entry)
	require.Equal(t, 0, entry.LockedAmount.Cmp(large))
}

func TestAggregator_AllEvents(t *testing.T) {
	agg, st := setupTestAggregator(t)
	ctx := context.Background()

	seedLock(t, st, holderA, 100, 20)
	seedUnlock(t, st, holderA, 0, 40, 21)
	seedWithdrawn(t, st, holderA, 0, 40, 30)
	seedLock(t, st, holderB, 7, 25)

	events, err := agg.AllEvents(ctx, holderA, 10, 0)
	require.NoError(t, err)
	require.Len(t, events, 3)

	// Newest first.
	require.Equal(t, EventTypeWithdrawn, events[0].EventType)
	require.Equal(t, EventTypeUnlocked, events[1].EventType)
	require.Equal(t, EventTypeLocked, events[2].EventType)

	// Lock rows carry no unlock index; the others do.
	require.Nil(t, events[2].UnlockIndex)
	require.NotNil(t, events[1].UnlockIndex)
	require.Equal(t, uint32(0), *events[1].UnlockIndex)

	require.Equal(t, int64(100), events[2].Amount.Int64())
}
