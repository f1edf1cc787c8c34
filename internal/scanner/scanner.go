package scanner

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/lockwatch/lockwatch/internal/chain"
	"github.com/lockwatch/lockwatch/internal/config"
	"github.com/lockwatch/lockwatch/internal/contract"
	"github.com/lockwatch/lockwatch/internal/dedup"
	"github.com/lockwatch/lockwatch/internal/logger"
	"github.com/lockwatch/lockwatch/internal/store"
	"golang.org/x/sync/errgroup"
)

// Auto-tune thresholds, in seconds of observed getLogs latency per window.
const (
	tuneHalveAbove  = 30
	tuneShrinkAbove = 10
	tuneDoubleBelow = 2
	tuneGrowBelow   = 5
	tuneStep        = 20
)

// Scanner is the adaptive block-range scanner. It pulls logs from the chain in
// auto-tuned windows, strips already-seen entries through the dedup cache,
// decodes survivors and writes each window through the store in a single
// transaction.
type Scanner struct {
	cfg      config.IndexerConfig
	rpc      chain.EthClient
	store    *store.Store
	cache    *dedup.Cache
	registry *contract.Registry
	log      *logger.Logger

	contractAddr common.Address

	// blockProcessLimit is the current window size W; mutated by auto-tuning.
	blockProcessLimit uint64
	// initialWindow re-seeds W at the start of every invocation, so a failure
	// reset to 1 never outlives the cycle it aborted.
	initialWindow uint64
	autoTune      bool
}

// Options controls one IndexUntilHead invocation.
type Options struct {
	// FromBlock overrides the stored cursor as the scan start when non-nil.
	FromBlock *uint64

	// UpdateCursor persists the cursor after each successful window.
	// Reindexing runs with it disabled.
	UpdateCursor bool
}

// New creates a Scanner. The dedup cache is owned by this instance; the reorg
// service holds a reference to it only to clear it during recovery.
func New(
	cfg config.IndexerConfig,
	rpc chain.EthClient,
	st *store.Store,
	cache *dedup.Cache,
	registry *contract.Registry,
	log *logger.Logger,
) *Scanner {
	return &Scanner{
		cfg:               cfg,
		rpc:               rpc,
		store:             st,
		cache:             cache,
		registry:          registry,
		log:               log.WithComponent("scanner"),
		contractAddr:      cfg.Contract(),
		blockProcessLimit: cfg.BlockProcessLimit,
		initialWindow:     cfg.BlockProcessLimit,
		autoTune:          cfg.AutoBlockProcessLimit,
	}
}

// Cache returns the scanner's dedup cache.
func (s *Scanner) Cache() *dedup.Cache {
	return s.cache
}

// WindowSize returns the current auto-tuned window size.
func (s *Scanner) WindowSize() uint64 {
	return s.blockProcessLimit
}

// SetAutoTune enables or disables window auto-tuning.
func (s *Scanner) SetAutoTune(enabled bool) {
	s.autoTune = enabled
}

// SetWindowSize overrides the current and initial window size.
func (s *Scanner) SetWindowSize(size uint64) {
	if size == 0 {
		size = 1
	}
	s.blockProcessLimit = size
	s.initialWindow = size
}

// IndexUntilHead indexes from the cursor (or the override) until the current
// chain head minus the configured confirmation margin. Transient RPC failures
// reset the window size to 1 and abort the cycle without surfacing an error;
// store failures propagate and leave the cursor untouched.
func (s *Scanner) IndexUntilHead(ctx context.Context, opts Options) error {
	s.blockProcessLimit = s.initialWindow

	head, err := s.rpc.CurrentBlock(ctx)
	if err != nil {
		s.log.Warnf("failed to get chain head: %v", err)
		return nil
	}

	cursor, err := s.store.GetCursor(ctx, s.contractAddr, s.cfg.DeployedBlock)
	if err != nil {
		return err
	}

	from := cursor.LastIndexedBlock
	if from == 0 {
		from = cursor.DeployedBlock
	}
	if opts.FromBlock != nil {
		from = *opts.FromBlock
	}

	if head <= s.cfg.BlocksBehind {
		return nil
	}
	safeHead := head - s.cfg.BlocksBehind
	if from >= safeHead {
		return nil
	}

	s.log.Infof("starting indexer, pending-blocks=%d", safeHead-from)

	for from < safeHead {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		to := min(from+s.blockProcessLimit-1, safeHead)
		window := to - from + 1

		s.log.Infof("indexing from-block=%d to-block=%d pending-blocks=%d", from, to, safeHead-to)

		start := time.Now()
		logs, err := s.fetchLogs(ctx, from, to)
		elapsed := time.Since(start)

		if err != nil {
			// Transient by definition: reset the window, abort the cycle and
			// let the next scheduled run retry from the unchanged cursor.
			s.log.Warnf("fetching events failed, window reset to 1: %v",
				chain.NewFetchEventsError(from, to, err))
			s.blockProcessLimit = 1
			WindowSizeSet(s.blockProcessLimit)
			return nil
		}

		if err := s.processWindow(ctx, logs, from, to, opts.UpdateCursor); err != nil {
			if chain.IsFetchEventsError(err) {
				// Same policy as a getLogs failure: reset the window, abort
				// the cycle, cursor untouched.
				s.log.Warnf("fetching block timestamps failed, window reset to 1: %v", err)
				s.blockProcessLimit = 1
				WindowSizeSet(s.blockProcessLimit)
				return nil
			}
			return err
		}

		if s.autoTune && window == s.blockProcessLimit {
			s.adjustWindow(int64(elapsed.Seconds()))
		}

		BlocksProcessedInc(window)
		if opts.UpdateCursor {
			LastIndexedBlockSet(to)
		}
		WindowSizeSet(s.blockProcessLimit)

		from = to
	}

	return nil
}

// fetchLogs retrieves the window's logs, splitting the range into up to
// GetLogsConcurrency parallel getLogs calls and merging the results back into
// (blockNumber, logIndex) ascending order.
func (s *Scanner) fetchLogs(ctx context.Context, from, to uint64) ([]types.Log, error) {
	span := to - from + 1
	concurrency := uint64(s.cfg.GetLogsConcurrency)
	if concurrency <= 1 || span <= concurrency {
		return s.rpc.GetLogs(ctx, s.filterQuery(from, to))
	}

	chunkSize := (span + concurrency - 1) / concurrency

	type chunkResult struct {
		order int
		logs  []types.Log
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(int(concurrency))

	results := make([]chunkResult, 0, concurrency)
	resultCh := make(chan chunkResult, concurrency)

	order := 0
	for chunkFrom := from; chunkFrom <= to; chunkFrom += chunkSize {
		chunkTo := min(chunkFrom+chunkSize-1, to)
		idx := order
		order++

		g.Go(func() error {
			logs, err := s.rpc.GetLogs(gctx, s.filterQuery(chunkFrom, chunkTo))
			if err != nil {
				return err
			}
			resultCh <- chunkResult{order: idx, logs: logs}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	close(resultCh)

	for r := range resultCh {
		results = append(results, r)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].order < results[j].order })

	var merged []types.Log
	for _, r := range results {
		merged = append(merged, r.logs...)
	}
	return merged, nil
}

func (s *Scanner) filterQuery(from, to uint64) ethereum.FilterQuery {
	return ethereum.FilterQuery{
		Addresses: []common.Address{s.contractAddr},
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Topics:    [][]common.Hash{s.registry.Topics()},
	}
}

// processWindow routes one window's logs: dedup filter, decode, timestamp
// resolution, one atomic store commit, then cache marking. A timestamp fetch
// failure surfaces as a FetchEventsError so the caller aborts the cycle.
func (s *Scanner) processWindow(ctx context.Context, logs []types.Log, from, to uint64, updateCursor bool) error {
	unprocessed := make([]types.Log, 0, len(logs))
	for _, lg := range logs {
		key := dedup.NewKey(lg.TxHash, lg.BlockHash, uint32(lg.Index))
		if !s.cache.Contains(key) {
			unprocessed = append(unprocessed, lg)
		}
	}

	if len(logs) > 0 {
		s.log.Infof("processing %d events from %d events", len(unprocessed), len(logs))
	}

	events := make([]*contract.Event, 0, len(unprocessed))
	for _, lg := range unprocessed {
		if event := s.registry.Decode(lg); event != nil {
			events = append(events, event)
		}
	}

	batch, err := s.buildBatch(ctx, events, to, updateCursor)
	if err != nil {
		return chain.NewFetchEventsError(from, to, err)
	}

	if err := s.store.CommitWindow(ctx, batch); err != nil {
		return fmt.Errorf("failed to commit window until block %d: %w", to, err)
	}

	// Only mark after the commit succeeded; a failed window must be retried.
	for _, lg := range unprocessed {
		s.cache.Insert(dedup.NewKey(lg.TxHash, lg.BlockHash, uint32(lg.Index)))
	}

	EventsIndexedInc(string(store.KindLock), len(batch.Locks))
	EventsIndexedInc(string(store.KindUnlock), len(batch.Unlocks))
	EventsIndexedInc(string(store.KindWithdrawn), len(batch.Withdrawals))

	return nil
}

// buildBatch turns decoded events into store rows. Block timestamps are
// fetched once per distinct block number and cached for the window.
func (s *Scanner) buildBatch(
	ctx context.Context,
	events []*contract.Event,
	to uint64,
	updateCursor bool,
) (*store.WindowBatch, error) {
	batch := &store.WindowBatch{
		Contract:     s.contractAddr,
		CursorBlock:  to,
		UpdateCursor: updateCursor,
	}

	timestamps, err := s.blockTimestamps(ctx, events)
	if err != nil {
		return nil, err
	}

	seenTxs := make(map[common.Hash]struct{}, len(events))

	for _, event := range events {
		blockTime := timestamps[event.Raw.BlockNumber]

		if _, seen := seenTxs[event.Raw.TxHash]; !seen {
			seenTxs[event.Raw.TxHash] = struct{}{}
			batch.BlockTxs = append(batch.BlockTxs, &store.BlockTx{
				TxHash:         event.Raw.TxHash,
				BlockHash:      event.Raw.BlockHash,
				BlockNumber:    event.Raw.BlockNumber,
				BlockTimestamp: blockTime,
			})
		}

		switch event.Name {
		case contract.EventLocked:
			batch.Locks = append(batch.Locks, &store.LockEvent{
				TxHash:    event.Raw.TxHash,
				LogIndex:  uint32(event.Raw.Index),
				Holder:    event.Holder,
				Amount:    event.Amount,
				Timestamp: blockTime,
			})
		case contract.EventUnlocked:
			batch.Unlocks = append(batch.Unlocks, &store.UnlockEvent{
				TxHash:      event.Raw.TxHash,
				LogIndex:    uint32(event.Raw.Index),
				Holder:      event.Holder,
				Amount:      event.Amount,
				Timestamp:   blockTime,
				UnlockIndex: event.UnlockIndex,
			})
		case contract.EventWithdrawn:
			batch.Withdrawals = append(batch.Withdrawals, &store.WithdrawnEvent{
				TxHash:      event.Raw.TxHash,
				LogIndex:    uint32(event.Raw.Index),
				Holder:      event.Holder,
				Amount:      event.Amount,
				Timestamp:   blockTime,
				UnlockIndex: event.UnlockIndex,
			})
		default:
			s.log.Errorf("unrecognized event type %s: tx=%s log_index=%d",
				event.Name, event.Raw.TxHash.Hex(), event.Raw.Index)
		}
	}

	return batch, nil
}

// blockTimestamps fetches the timestamp of every distinct block carrying an
// event in this window.
func (s *Scanner) blockTimestamps(ctx context.Context, events []*contract.Event) (map[uint64]int64, error) {
	distinct := make(map[uint64]struct{}, len(events))
	for _, event := range events {
		distinct[event.Raw.BlockNumber] = struct{}{}
	}

	timestamps := make(map[uint64]int64, len(distinct))
	if len(distinct) == 0 {
		return timestamps, nil
	}

	blockNums := make([]uint64, 0, len(distinct))
	for num := range distinct {
		blockNums = append(blockNums, num)
	}
	sort.Slice(blockNums, func(i, j int) bool { return blockNums[i] < blockNums[j] })

	headers, err := s.rpc.GetBlocks(ctx, blockNums)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch headers for %d blocks: %w", len(blockNums), err)
	}

	for _, header := range headers {
		if header == nil {
			continue
		}
		timestamps[header.Number.Uint64()] = int64(header.Time)
	}

	for _, num := range blockNums {
		if _, ok := timestamps[num]; !ok {
			return nil, fmt.Errorf("missing header for block %d", num)
		}
	}

	return timestamps, nil
}

// adjustWindow auto-tunes the window size from the observed getLogs latency.
// The measurement is only valid when the full window size was actually
// queried, which the caller checks.
func (s *Scanner) adjustWindow(deltaSeconds int64) {
	switch {
	case deltaSeconds > tuneHalveAbove:
		s.blockProcessLimit = max(s.blockProcessLimit/2, 1)
		s.log.Infof("block_process_limit halved to %d", s.blockProcessLimit)
	case deltaSeconds > tuneShrinkAbove:
		if s.blockProcessLimit > tuneStep {
			s.blockProcessLimit -= tuneStep
		} else {
			s.blockProcessLimit = 1
		}
		s.log.Infof("block_process_limit decreased to %d", s.blockProcessLimit)
	case deltaSeconds < tuneDoubleBelow:
		s.blockProcessLimit *= 2
		s.log.Infof("block_process_limit duplicated to %d", s.blockProcessLimit)
	case deltaSeconds < tuneGrowBelow:
		s.blockProcessLimit += tuneStep
		s.log.Infof("block_process_limit increased to %d", s.blockProcessLimit)
	}

	if s.cfg.BlockProcessLimitMax > 0 && s.blockProcessLimit > s.cfg.BlockProcessLimitMax {
		s.log.Infof("block_process_limit %d is bigger than block_process_limit_max %d, reducing",
			s.blockProcessLimit, s.cfg.BlockProcessLimitMax)
		s.blockProcessLimit = s.cfg.BlockProcessLimitMax
	}
}
