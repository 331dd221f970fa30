package runtime

import (
	"sync"

	"github.com/ridgeline-labs/valcore/common"
)

// TxStatus is the recorded outcome of a processed transaction: the slot
// it landed (or failed) in and its reason code (ReasonNone on success).
type TxStatus struct {
	Slot uint64
	Code ReasonCode
}

// StatusCache records per-transaction outcomes keyed by (recent
// blockhash, first signature) so a duplicate submission is rejected
// before any signature verification or account loading. Entries age out
// with root advancement: once every slot at or below the root is final,
// a transaction reusing a blockhash that old is already expired by the
// recent-blockhash rule, so its status no longer needs to be held.
type StatusCache struct {
	mu          sync.RWMutex
	byBlockhash map[common.Hash]map[common.Signature]TxStatus
	// maxSlot tracks the highest slot any status under a blockhash was
	// recorded at, so PruneBelow can drop whole blockhash buckets.
	maxSlot map[common.Hash]uint64
}

// NewStatusCache returns an empty cache.
func NewStatusCache() *StatusCache {
	return &StatusCache{
		byBlockhash: make(map[common.Hash]map[common.Signature]TxStatus),
		maxSlot:     make(map[common.Hash]uint64),
	}
}

// Get returns the recorded status for (blockhash, sig), if any.
func (c *StatusCache) Get(blockhash common.Hash, sig common.Signature) (TxStatus, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	st, ok := c.byBlockhash[blockhash][sig]
	return st, ok
}

// Insert records the outcome of a transaction processed at slot.
func (c *StatusCache) Insert(blockhash common.Hash, sig common.Signature, slot uint64, code ReasonCode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sigs := c.byBlockhash[blockhash]
	if sigs == nil {
		sigs = make(map[common.Signature]TxStatus)
		c.byBlockhash[blockhash] = sigs
	}
	sigs[sig] = TxStatus{Slot: slot, Code: code}
	if slot > c.maxSlot[blockhash] {
		c.maxSlot[blockhash] = slot
	}
}

// PruneBelow drops every blockhash bucket whose statuses were all
// recorded strictly below root.
func (c *StatusCache) PruneBelow(root uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for blockhash, max := range c.maxSlot {
		if max < root {
			delete(c.byBlockhash, blockhash)
			delete(c.maxSlot, blockhash)
		}
	}
}

// Len returns the number of statuses held, across all blockhash buckets.
func (c *StatusCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := 0
	for _, sigs := range c.byBlockhash {
		n += len(sigs)
	}
	return n
}
