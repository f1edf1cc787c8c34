package reorg

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/lockwatch/lockwatch/internal/chain/mocks"
	"github.com/lockwatch/lockwatch/internal/config"
	"github.com/lockwatch/lockwatch/internal/db"
	"github.com/lockwatch/lockwatch/internal/dedup"
	"github.com/lockwatch/lockwatch/internal/logger"
	"github.com/lockwatch/lockwatch/internal/store"
	"github.com/lockwatch/lockwatch/internal/store/migrations"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var (
	testContract = "0x00000000000000000000000000000000000000C0"
	holderA      = common.HexToAddress("0x000000000000000000000000000000000000000A")
)

func setupTestService(t *testing.T, cfg config.IndexerConfig) (*Service, *mocks.EthClient, *store.Store, *dedup.Cache) {
	t.Helper()

	dbPath := t.TempDir() + "/reorg_test.db"
	require.NoError(t, migrations.RunMigrations(dbPath))

	dbConfig := config.DatabaseConfig{Path: dbPath}
	dbConfig.ApplyDefaults()
	database, err := db.NewSQLiteDBFromConfig(dbConfig)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	log, err := logger.NewLogger("error", true)
	require.NoError(t, err)

	st := store.New(database, log)

	cache, err := dedup.NewCache(dedup.DefaultCapacity)
	require.NoError(t, err)

	mockRPC := mocks.NewEthClient(t)

	return NewService(cfg, mockRPC, st, cache, log), mockRPC, st, cache
}

func testHeader(blockNumber uint64) *types.Header {
	return &types.Header{
		Number:     new(big.Int).SetUint64(blockNumber),
		Time:       1_700_000_000 + blockNumber,
		Difficulty: big.NewInt(1),
	}
}

// seedBlocks stores one BlockTx (with one lock event) per block number,
// returning the canonical headers whose hashes the rows carry.
func seedBlocks(t *testing.T, st *store.Store, blockNums []uint64) map[uint64]*types.Header {
	t.Helper()
	ctx := context.Background()

	headers := make(map[uint64]*types.Header, len(blockNums))
	batch := &store.WindowBatch{Contract: common.HexToAddress(testContract)}

	for i, num := range blockNums {
		header := testHeader(num)
		headers[num] = header

		txHash := common.BytesToHash([]byte{0xa0, byte(i + 1)})
		batch.BlockTxs = append(batch.BlockTxs, &store.BlockTx{
			TxHash:         txHash,
			BlockHash:      header.Hash(),
			BlockNumber:    num,
			BlockTimestamp: int64(header.Time),
		})
		batch.Locks = append(batch.Locks, &store.LockEvent{
			TxHash:    txHash,
			LogIndex:  0,
			Holder:    holderA,
			Amount:    big.NewInt(10),
			Timestamp: int64(header.Time),
		})
	}

	require.NoError(t, st.CommitWindow(ctx, batch))
	return headers
}

func TestService_RunCheckReorg_NoUnconfirmedBlocks(t *testing.T) {
	cfg := config.IndexerConfig{
		ContractAddress:  testContract,
		ReorgBlocks:      10,
		ReorgBlocksBatch: 250,
	}
	svc, mockRPC, _, _ := setupTestService(t, cfg)

	mockRPC.On("CurrentBlock", mock.Anything).Return(uint64(5000), nil)

	reorgBlock, err := svc.RunCheckReorg(context.Background())
	require.NoError(t, err)
	require.Nil(t, reorgBlock)
}

func TestService_RunCheckReorg_ConfirmsMatchingBlocks(t *testing.T) {
	cfg := config.IndexerConfig{
		ContractAddress:  testContract,
		ReorgBlocks:      10,
		ReorgBlocksBatch: 250,
	}
	svc, mockRPC, st, _ := setupTestService(t, cfg)
	ctx := context.Background()

	headers := seedBlocks(t, st, []uint64{1000, 1500, 2000})

	mockRPC.On("CurrentBlock", mock.Anything).Return(uint64(1990), nil)
	mockRPC.On("GetBlocks", mock.Anything, []uint64{1000, 1500, 2000}).Return(
		[]*types.Header{headers[1000], headers[1500], headers[2000]}, nil)

	reorgBlock, err := svc.RunCheckReorg(ctx)
	require.NoError(t, err)
	require.Nil(t, reorgBlock)

	// head-C = 1980: blocks 1000 and 1500 matured and were confirmed; 2000 is
	// still maturing and stays unconfirmed.
	page, err := st.UnconfirmedBlocksPage(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, page, 1)
	require.Equal(t, uint64(2000), page[0].BlockNumber)
}

func TestService_RunCheckReorg_DetectsMismatch(t *testing.T) {
	cfg := config.IndexerConfig{
		ContractAddress:  testContract,
		ReorgBlocks:      10,
		ReorgBlocksBatch: 250,
	}
	svc, mockRPC, st, _ := setupTestService(t, cfg)
	ctx := context.Background()

	headers := seedBlocks(t, st, []uint64{1000, 1500, 2000, 2500, 3000})

	// The canonical chain replaced block 2000.
	forked := testHeader(2000)
	forked.Extra = []byte("forked")

	mockRPC.On("CurrentBlock", mock.Anything).Return(uint64(3100), nil)
	mockRPC.On("GetBlocks", mock.Anything, []uint64{1000, 1500, 2000, 2500, 3000}).Return(
		[]*types.Header{headers[1000], headers[1500], forked, headers[2500], headers[3000]}, nil)

	reorgBlock, err := svc.RunCheckReorg(ctx)
	require.NoError(t, err)
	require.NotNil(t, reorgBlock)
	require.Equal(t, uint64(2000), *reorgBlock)

	// Confirmations queued before the mismatch were persisted.
	page, err := st.UnconfirmedBlocksPage(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, page, 3)
	require.Equal(t, uint64(2000), page[0].BlockNumber)
}

// A block number missing from the canonical chain (null header) is a reorg,
// not a panic.
func TestService_RunCheckReorg_MissingCanonicalBlock(t *testing.T) {
	cfg := config.IndexerConfig{
		ContractAddress:  testContract,
		ReorgBlocks:      10,
		ReorgBlocksBatch: 250,
	}
	svc, mockRPC, st, _ := setupTestService(t, cfg)
	ctx := context.Background()

	headers := seedBlocks(t, st, []uint64{1000, 1500, 2000})

	// The canonical chain was shortened: block 2000 no longer exists, so the
	// node returns a null result for it.
	mockRPC.On("CurrentBlock", mock.Anything).Return(uint64(2005), nil)
	mockRPC.On("GetBlocks", mock.Anything, []uint64{1000, 1500, 2000}).Return(
		[]*types.Header{headers[1000], headers[1500], nil}, nil)

	reorgBlock, err := svc.RunCheckReorg(ctx)
	require.NoError(t, err)
	require.NotNil(t, reorgBlock)
	require.Equal(t, uint64(2000), *reorgBlock)
}

func TestService_RecoverFromReorg(t *testing.T) {
	cfg := config.IndexerConfig{
		ContractAddress:  testContract,
		ReorgBlocks:      10,
		ReorgBlocksBatch: 250,
	}
	svc, _, st, cache := setupTestService(t, cfg)
	ctx := context.Background()

	seedBlocks(t, st, []uint64{1000, 1500, 2000, 2500, 3000})

	_, err := st.GetCursor(ctx, common.HexToAddress(testContract), 0)
	require.NoError(t, err)
	require.NoError(t, st.SetCursor(ctx, common.HexToAddress(testContract), 3000))

	cache.Insert(dedup.NewKey(common.Hash{1}, common.Hash{2}, 0))

	deleted, err := svc.RecoverFromReorg(ctx, 2000)
	require.NoError(t, err)
	require.Equal(t, int64(3), deleted)

	// No BlockTx at or above the reorg point remains, events cascaded.
	blocks, err := st.CountRows(ctx, "block_tx")
	require.NoError(t, err)
	require.Equal(t, int64(2), blocks)

	locks, err := st.CountRows(ctx, "lock_event")
	require.NoError(t, err)
	require.Equal(t, int64(2), locks)

	cursor, err := st.GetCursor(ctx, common.HexToAddress(testContract), 0)
	require.NoError(t, err)
	require.Equal(t, uint64(2000), cursor.LastIndexedBlock)

	// The dedup cache was cleared so the rewound range is re-processed.
	require.Equal(t, 0, cache.Len())
}

func TestService_Check_EndToEnd(t *testing.T) {
	cfg := config.IndexerConfig{
		ContractAddress:  testContract,
		ReorgBlocks:      10,
		ReorgBlocksBatch: 250,
	}
	svc, mockRPC, st, _ := setupTestService(t, cfg)
	ctx := context.Background()

	headers := seedBlocks(t, st, []uint64{1000, 2000, 3000})

	_, err := st.GetCursor(ctx, common.HexToAddress(testContract), 0)
	require.NoError(t, err)
	require.NoError(t, st.SetCursor(ctx, common.HexToAddress(testContract), 3000))

	forked := testHeader(2000)
	forked.Extra = []byte("forked")

	mockRPC.On("CurrentBlock", mock.Anything).Return(uint64(3100), nil)
	mockRPC.On("GetBlocks", mock.Anything, []uint64{1000, 2000, 3000}).Return(
		[]*types.Header{headers[1000], forked, headers[3000]}, nil)

	require.NoError(t, svc.Check(ctx))

	cursor, err := st.GetCursor(ctx, common.HexToAddress(testContract), 0)
	require.NoError(t, err)
	require.Equal(t, uint64(2000), cursor.LastIndexedBlock)

	blocks, err := st.CountRows(ctx, "block_tx")
	require.NoError(t, err)
	require.Equal(t, int64(1), blocks)
}
