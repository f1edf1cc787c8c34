package store

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// EventKind identifies one of the three locking-contract event variants.
type EventKind string

const (
	KindLock      EventKind = "lock"
	KindUnlock    EventKind = "unlock"
	KindWithdrawn EventKind = "withdrawn"
)

// BlockTx is a transaction observed to contain at least one locking-contract event.
// Uses meddler tags for automatic struct-to-db mapping.
type BlockTx struct {
	TxHash         common.Hash `meddler:"tx_hash,hash"`
	BlockHash      common.Hash `meddler:"block_hash,hash"`
	BlockNumber    uint64      `meddler:"block_number"`
	BlockTimestamp int64       `meddler:"block_timestamp"`
	Confirmed      bool        `meddler:"confirmed"`
}

// Time returns the block timestamp as a UTC instant.
func (b *BlockTx) Time() time.Time {
	return time.Unix(b.BlockTimestamp, 0).UTC()
}

// LockEvent stores event Locked(address indexed holder, uint96 amount).
type LockEvent struct {
	ID        int64          `meddler:"id,pk"`
	TxHash    common.Hash    `meddler:"tx_hash,hash"`
	LogIndex  uint32         `meddler:"log_index"`
	Holder    common.Address `meddler:"holder,address"`
	Amount    *big.Int       `meddler:"amount,bigint"`
	Timestamp int64          `meddler:"timestamp"`
}

// UnlockEvent stores event Unlocked(address indexed holder, uint32 indexed index, uint96 amount).
type UnlockEvent struct {
	ID          int64          `meddler:"id,pk"`
	TxHash      common.Hash    `meddler:"tx_hash,hash"`
	LogIndex    uint32         `meddler:"log_index"`
	Holder      common.Address `meddler:"holder,address"`
	Amount      *big.Int       `meddler:"amount,bigint"`
	Timestamp   int64          `meddler:"timestamp"`
	UnlockIndex uint32         `meddler:"unlock_index"`
}

// WithdrawnEvent stores event Withdrawn(address indexed holder, uint32 indexed index, uint96 amount).
type WithdrawnEvent struct {
	ID          int64          `meddler:"id,pk"`
	TxHash      common.Hash    `meddler:"tx_hash,hash"`
	LogIndex    uint32         `meddler:"log_index"`
	Holder      common.Address `meddler:"holder,address"`
	Amount      *big.Int       `meddler:"amount,bigint"`
	Timestamp   int64          `meddler:"timestamp"`
	UnlockIndex uint32         `meddler:"unlock_index"`
}

// IndexerCursor tracks the last indexed block per contract.
type IndexerCursor struct {
	Contract         common.Address `meddler:"contract,address"`
	DeployedBlock    uint64         `meddler:"deployed_block"`
	LastIndexedBlock uint64         `meddler:"last_indexed_block"`
}

// WindowBatch is everything produced by one scanner window, committed atomically.
type WindowBatch struct {
	BlockTxs    []*BlockTx
	Locks       []*LockEvent
	Unlocks     []*UnlockEvent
	Withdrawals []*WithdrawnEvent

	Contract     common.Address
	CursorBlock  uint64
	UpdateCursor bool
}

// Empty reports whether the batch carries no rows (a cursor-only commit).
func (w *WindowBatch) Empty() bool {
	return len(w.BlockTxs) == 0 && len(w.Locks) == 0 && len(w.Unlocks) == 0 && len(w.Withdrawals) == 0
}
