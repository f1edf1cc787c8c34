package reorg

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/lockwatch/lockwatch/internal/chain"
	"github.com/lockwatch/lockwatch/internal/config"
	"github.com/lockwatch/lockwatch/internal/dedup"
	"github.com/lockwatch/lockwatch/internal/logger"
	"github.com/lockwatch/lockwatch/internal/store"
)

// Service detects blockchain reorganizations by cross-checking stored
// unconfirmed block hashes against the canonical chain, and recovers from them
// by truncating downstream state and rewinding the indexer cursor.
type Service struct {
	cfg   config.IndexerConfig
	rpc   chain.EthClient
	store *store.Store
	cache *dedup.Cache
	log   *logger.Logger

	contractAddr common.Address
}

// NewService creates a reorg Service. The dedup cache reference belongs to the
// scanner; recovery clears it so rewound ranges are re-processed.
func NewService(
	cfg config.IndexerConfig,
	rpc chain.EthClient,
	st *store.Store,
	cache *dedup.Cache,
	log *logger.Logger,
) *Service {
	return &Service{
		cfg:          cfg,
		rpc:          rpc,
		store:        st,
		cache:        cache,
		log:          log.WithComponent("reorg-detector"),
		contractAddr: cfg.Contract(),
	}
}

// RunCheckReorg walks the unconfirmed blocks in ascending order, in pages of
// the configured batch size, comparing stored hashes to the canonical chain.
// Matching blocks deeper than the reorg depth are marked confirmed; the first
// mismatch stops the walk and its block number is returned as the reorg point.
// Returns nil when no reorg was found.
func (s *Service) RunCheckReorg(ctx context.Context) (*uint64, error) {
	head, err := s.rpc.CurrentBlock(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get chain head: %w", err)
	}

	var confirmationBlock uint64
	if head > s.cfg.ReorgBlocks {
		confirmationBlock = head - s.cfg.ReorgBlocks
	}

	// Rows that match but are still maturing stay unconfirmed; they form a
	// growing prefix the next page must skip. Confirmed rows drop out of the
	// set on their own.
	var maturing uint64

	for {
		page, err := s.store.UnconfirmedBlocksPage(ctx, s.cfg.ReorgBlocksBatch, maturing)
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			return nil, nil
		}

		blockNums := make([]uint64, len(page))
		for i, block := range page {
			blockNums[i] = block.BlockNumber
		}

		headers, err := s.rpc.GetBlocks(ctx, blockNums)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch canonical blocks: %w", err)
		}
		if len(headers) != len(page) {
			return nil, fmt.Errorf("canonical block count mismatch: asked %d got %d", len(page), len(headers))
		}

		toConfirm := make([]common.Hash, 0, len(page))
		var reorgBlock *uint64

		for i, block := range page {
			// A null result means the block number no longer exists on the
			// canonical chain (the suffix was shortened or replaced).
			if headers[i] == nil {
				s.log.Warnf("block number=%d hash=%s is missing from the canonical chain, reorg found",
					block.BlockNumber, block.BlockHash.Hex())
				num := block.BlockNumber
				reorgBlock = &num
				break
			}

			canonicalHash := headers[i].Hash()

			if canonicalHash == block.BlockHash {
				if block.BlockNumber <= confirmationBlock {
					s.log.Debugf("block number=%d hash=%s matches canonical chain, setting as confirmed",
						block.BlockNumber, canonicalHash.Hex())
					toConfirm = append(toConfirm, block.TxHash)
				} else {
					// Still maturing, check again next run.
					maturing++
				}
				continue
			}

			s.log.Warnf("block number=%d hash=%s does not match canonical hash=%s, reorg found",
				block.BlockNumber, block.BlockHash.Hex(), canonicalHash.Hex())
			num := block.BlockNumber
			reorgBlock = &num
			break
		}

		// Confirmations queued before a mismatch are still valid; persist them
		// before reporting the reorg point.
		if err := s.store.MarkConfirmed(ctx, toConfirm); err != nil {
			return nil, err
		}
		BlocksConfirmedInc(len(toConfirm))

		if reorgBlock != nil {
			ReorgDetectedInc()
			return reorgBlock, nil
		}
	}
}

// RecoverFromReorg clears the dedup cache, rewinds the indexer cursor to the
// reorg block and deletes every BlockTx from that block on (events cascade).
// The database work is one transaction; readers never observe partial
// recovery. Returns the number of deleted blocks.
func (s *Service) RecoverFromReorg(ctx context.Context, reorgBlock uint64) (int64, error) {
	// The cache would otherwise suppress re-processing of replayed ranges.
	s.cache.Clear()

	deleted, err := s.store.RecoverFromReorg(ctx, s.contractAddr, reorgBlock)
	if err != nil {
		return 0, fmt.Errorf("failed to recover from reorg at block %d: %w", reorgBlock, err)
	}

	BlocksDeletedInc(deleted)
	s.log.Warnf("reorg of block-number=%d fixed, indexing was reset to block=%d, %d blocks were deleted",
		reorgBlock, reorgBlock, deleted)

	return deleted, nil
}

// Check runs detection and, when a reorg is found, recovery. This is the entry
// point the scheduler invokes.
func (s *Service) Check(ctx context.Context) error {
	reorgBlock, err := s.RunCheckReorg(ctx)
	if err != nil {
		return err
	}
	if reorgBlock == nil {
		return nil
	}

	s.log.Warnw("reorg detected, recovering", "block", *reorgBlock)
	if _, err := s.RecoverFromReorg(ctx, *reorgBlock); err != nil {
		return err
	}

	return nil
}
