package dedup

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCapacity bounds the cache at roughly 3MiB of keys.
const DefaultCapacity = 40_000

const keySize = common.HashLength + common.HashLength + 4

// Key identifies one processed log: txHash || blockHash || logIndex.
// The block hash is part of the key because the same (txHash, logIndex) can
// reappear on a different block during a reorg and must be re-processed.
type Key [keySize]byte

// NewKey builds a dedup key from a log's identifying fields.
func NewKey(txHash, blockHash common.Hash, logIndex uint32) Key {
	var k Key
	copy(k[:common.HashLength], txHash[:])
	copy(k[common.HashLength:2*common.HashLength], blockHash[:])
	binary.BigEndian.PutUint32(k[2*common.HashLength:], logIndex)
	return k
}

// Cache is a bounded insertion-ordered set of processed-log keys. It is a
// best-effort in-process filter; correctness still rests on the store's
// uniqueness constraints. A Cache belongs to a single scanner instance and is
// not shared across processes.
type Cache struct {
	entries *lru.Cache[Key, struct{}]
}

// NewCache creates a cache bounded to capacity keys. When full, the
// oldest-inserted key is evicted. Keys are added exactly once and membership
// checks never refresh recency, so eviction order equals insertion order.
func NewCache(capacity int) (*Cache, error) {
	entries, err := lru.New[Key, struct{}](capacity)
	if err != nil {
		return nil, err
	}
	return &Cache{entries: entries}, nil
}

// Contains reports whether the key was already processed.
func (c *Cache) Contains(key Key) bool {
	return c.entries.Contains(key)
}

// Insert marks the key as processed, evicting the oldest entry when over
// capacity. It reports whether the key was newly inserted.
func (c *Cache) Insert(key Key) bool {
	if c.entries.Contains(key) {
		return false
	}
	c.entries.Add(key, struct{}{})
	return true
}

// Clear drops every entry. Used by reorg recovery so rewound ranges are
// re-processed.
func (c *Cache) Clear() {
	c.entries.Purge()
}

// Len returns the current number of entries.
func (c *Cache) Len() int {
	return c.entries.Len()
}
