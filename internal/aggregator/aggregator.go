package aggregator

import (
	"context"
	"database/sql"
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/lockwatch/lockwatch/internal/logger"
)

// EventType tags a row in the combined holder event feed.
type EventType int

const (
	EventTypeLocked EventType = iota
	EventTypeUnlocked
	EventTypeWithdrawn
)

// LeaderboardEntry is one row of the global leaderboard.
type LeaderboardEntry struct {
	Position        uint64
	Holder          common.Address
	LockedAmount    *big.Int
	UnlockedAmount  *big.Int
	WithdrawnAmount *big.Int
}

// HolderEvent is one row of the per-holder event feed across all variants.
type HolderEvent struct {
	EventType   EventType
	Timestamp   int64
	TxHash      common.Hash
	LogIndex    uint32
	Holder      common.Address
	Amount      *big.Int
	UnlockIndex *uint32 // nil for lock events
}

// Aggregator derives read-only views from the indexed event tables. It is a
// consumer of the indexer's data and never writes.
type Aggregator struct {
	db  *sql.DB
	log *logger.Logger
}

// New creates an Aggregator over the store's database.
func New(db *sql.DB, log *logger.Logger) *Aggregator {
	return &Aggregator{
		db:  db,
		log: log.WithComponent("aggregator"),
	}
}

// allEventsQuery combines the three event tables. Lock events carry a NULL
// unlock_index so the UNION lines up.
const allEventsQuery = `
SELECT 0 AS event_type, timestamp, tx_hash, log_index, holder, amount, NULL AS unlock_index
  FROM lock_event WHERE holder = ?
UNION ALL
SELECT 1 AS event_type, timestamp, tx_hash, log_index, holder, amount, unlock_index
  FROM unlock_event WHERE holder = ?
UNION ALL
SELECT 2 AS event_type, timestamp, tx_hash, log_index, holder, amount, unlock_index
  FROM withdrawn_event WHERE holder = ?
ORDER BY timestamp DESC, log_index DESC
LIMIT ? OFFSET ?`

// AllEvents returns the holder's locking-contract events across all variants,
// newest first.
func (a *Aggregator) AllEvents(
	ctx context.Context,
	holder common.Address,
	limit, offset uint64,
) ([]*HolderEvent, error) {
	addr := holder.Hex()
	rows, err := a.db.QueryContext(ctx, allEventsQuery, addr, addr, addr, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query holder events: %w", err)
	}
	defer rows.Close()

	var events []*HolderEvent
	for rows.Next() {
		var (
			eventType   int
			timestamp   int64
			txHash      string
			logIndex    uint32
			holderHex   string
			amountStr   string
			unlockIndex sql.NullInt64
		)
		if err := rows.Scan(&eventType, &timestamp, &txHash, &logIndex, &holderHex, &amountStr, &unlockIndex); err != nil {
			return nil, fmt.Errorf("failed to scan holder event: %w", err)
		}

		amount, ok := new(big.Int).SetString(amountStr, 10)
		if !ok {
			return nil, fmt.Errorf("invalid amount %q for tx %s", amountStr, txHash)
		}

		event := &HolderEvent{
			EventType: EventType(eventType),
			Timestamp: timestamp,
			TxHash:    common.HexToHash(txHash),
			LogIndex:  logIndex,
			Holder:    common.HexToAddress(holderHex),
			Amount:    amount,
		}
		if unlockIndex.Valid {
			idx := uint32(unlockIndex.Int64)
			event.UnlockIndex = &idx
		}
		events = append(events, event)
	}

	return events, rows.Err()
}

// leaderboardScanQuery streams every (holder, amount, variant) row in one
// pass. Amounts are uint96 stored as decimal text, so the summation happens
// here with big.Int instead of SQL SUM.
const leaderboardScanQuery = `
SELECT holder, amount, 0 AS event_type FROM lock_event
UNION ALL
SELECT holder, amount, 1 AS event_type FROM unlock_event
UNION ALL
SELECT holder, amount, 2 AS event_type FROM withdrawn_event`

type holderTotals struct {
	holder    common.Address
	locked    *big.Int
	unlocked  *big.Int
	withdrawn *big.Int
}

// computeTotals aggregates per-holder totals across all three tables:
// locked = Σ lock − Σ unlock, unlocked = Σ unlock, withdrawn = Σ withdrawn.
func (a *Aggregator) computeTotals(ctx context.Context) ([]*holderTotals, error) {
	rows, err := a.db.QueryContext(ctx, leaderboardScanQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to scan event tables: %w", err)
	}
	defer rows.Close()

	byHolder := make(map[common.Address]*holderTotals)
	for rows.Next() {
		var (
			holderHex string
			amountStr string
			eventType int
		)
		if err := rows.Scan(&holderHex, &amountStr, &eventType); err != nil {
			return nil, fmt.Errorf("failed to scan totals row: %w", err)
		}

		amount, ok := new(big.Int).SetString(amountStr, 10)
		if !ok {
			return nil, fmt.Errorf("invalid amount %q for holder %s", amountStr, holderHex)
		}

		holder := common.HexToAddress(holderHex)
		totals, exists := byHolder[holder]
		if !exists {
			totals = &holderTotals{
				holder:    holder,
				locked:    new(big.Int),
				unlocked:  new(big.Int),
				withdrawn: new(big.Int),
			}
			byHolder[holder] = totals
		}

		switch EventType(eventType) {
		case EventTypeLocked:
			totals.locked.Add(totals.locked, amount)
		case EventTypeUnlocked:
			totals.locked.Sub(totals.locked, amount)
			totals.unlocked.Add(totals.unlocked, amount)
		case EventTypeWithdrawn:
			totals.withdrawn.Add(totals.withdrawn, amount)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	ranked := make([]*holderTotals, 0, len(byHolder))
	for _, totals := range byHolder {
		ranked = append(ranked, totals)
	}

	// Descending locked amount; ties resolved by holder address so positions
	// are deterministic across runs.
	sort.Slice(ranked, func(i, j int) bool {
		cmp := ranked[i].locked.Cmp(ranked[j].locked)
		if cmp != 0 {
			return cmp > 0
		}
		return ranked[i].holder.Hex() < ranked[j].holder.Hex()
	})

	return ranked, nil
}

// Leaderboard returns the global leaderboard slice [offset, offset+limit).
// Positions are ROW_NUMBER-style: every row gets a distinct position.
func (a *Aggregator) Leaderboard(ctx context.Context, limit, offset uint64) ([]*LeaderboardEntry, error) {
	ranked, err := a.computeTotals(ctx)
	if err != nil {
		return nil, err
	}

	if offset >= uint64(len(ranked)) {
		return []*LeaderboardEntry{}, nil
	}
	end := min(offset+limit, uint64(len(ranked)))

	entries := make([]*LeaderboardEntry, 0, end-offset)
	for i := offset; i < end; i++ {
		entries = append(entries, entryFromTotals(i+1, ranked[i]))
	}
	return entries, nil
}

// LeaderboardPosition returns the holder's leaderboard entry, or nil when the
// holder has no events.
func (a *Aggregator) LeaderboardPosition(ctx context.Context, holder common.Address) (*LeaderboardEntry, error) {
	ranked, err := a.computeTotals(ctx)
	if err != nil {
		return nil, err
	}

	for i, totals := range ranked {
		if totals.holder == holder {
			return entryFromTotals(uint64(i)+1, totals), nil
		}
	}
	return nil, nil
}

// LeaderboardCount returns the number of holders on the leaderboard.
func (a *Aggregator) LeaderboardCount(ctx context.Context) (uint64, error) {
	var count uint64
	err := a.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM (
			SELECT holder FROM lock_event
			UNION
			SELECT holder FROM unlock_event
			UNION
			SELECT holder FROM withdrawn_event
		)`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count leaderboard holders: %w", err)
	}
	return count, nil
}

func entryFromTotals(position uint64, totals *holderTotals) *LeaderboardEntry {
	return &LeaderboardEntry{
		Position:        position,
		Holder:          totals.holder,
		LockedAmount:    new(big.Int).Set(totals.locked),
		UnlockedAmount:  new(big.Int).Set(totals.unlocked),
		WithdrawnAmount: new(big.Int).Set(totals.withdrawn),
	}
}
