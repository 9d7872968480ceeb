package cache

import (
	"sync"

	. "github.com/weberc2/snapfs/pkg/types"
)

type entry struct {
	next  *entry
	prev  *entry
	block Block
	dirty bool
	data  [BlockSize]byte
}

// DirtyBlock is one (block, data) pair snapshotted out of the cache for
// writeback.
type DirtyBlock struct {
	Block Block
	Data  []byte
}

// BlockCache maps block numbers to block-sized pages with LRU eviction.
// Entries come from a pre-allocated pool; when the pool is exhausted the
// least-recently-used entry is recycled. Eviction never writes back —
// a dirty page that falls off the tail is simply dropped, so callers
// that care about durability must Flush (via CachedDisk) first.
type BlockCache struct {
	mutex    sync.Mutex
	head     *entry
	tail     *entry
	lookup   map[Block]*entry
	pool     []entry
	poolUsed uint32
	capacity uint32

	// stats have their own lock so accounting never nests under the
	// structural lock
	statsMutex sync.Mutex
	hits       uint64
	misses     uint64
	evictions  uint64
}

func New(capacity uint32) *BlockCache {
	if capacity == 0 {
		capacity = 1
	}
	return &BlockCache{
		lookup:   make(map[Block]*entry, capacity),
		pool:     make([]entry, capacity),
		capacity: capacity,
	}
}

// Get copies the cached page into out and promotes the entry to
// most-recently-used. Returns false on miss.
func (c *BlockCache) Get(block Block, out []byte) bool {
	c.mutex.Lock()
	e, exists := c.lookup[block]
	if exists {
		c.moveFront(e)
		copy(out[:BlockSize], e.data[:])
	}
	c.mutex.Unlock()

	c.statsMutex.Lock()
	if exists {
		c.hits++
	} else {
		c.misses++
	}
	c.statsMutex.Unlock()

	return exists
}

// Put inserts or updates the page. Updating an existing entry ORs the
// dirty bit with the caller's so a pending writeback is never lost.
// Inserting at capacity recycles the LRU entry without writeback.
func (c *BlockCache) Put(block Block, data []byte, dirty bool) {
	c.mutex.Lock()

	if e, exists := c.lookup[block]; exists {
		copy(e.data[:], data[:BlockSize])
		e.dirty = e.dirty || dirty
		c.moveFront(e)
		c.mutex.Unlock()
		return
	}

	e, evicted := c.takeEntry()
	e.block = block
	e.dirty = dirty
	copy(e.data[:], data[:BlockSize])
	c.lookup[block] = e
	if c.tail == nil {
		c.tail = e
	}
	c.moveFront(e)
	c.mutex.Unlock()

	if evicted {
		c.statsMutex.Lock()
		c.evictions++
		c.statsMutex.Unlock()
	}
}

// takeEntry returns a detached entry: from the pool while it lasts,
// otherwise the recycled tail. Callers hold the structural lock.
func (c *BlockCache) takeEntry() (*entry, bool) {
	if c.poolUsed < uint32(len(c.pool)) {
		e := &c.pool[c.poolUsed]
		c.poolUsed++
		return e, false
	}

	e := c.tail
	delete(c.lookup, e.block)
	c.unlink(e)
	return e, true
}

func (c *BlockCache) Contains(block Block) bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	_, exists := c.lookup[block]
	return exists
}

func (c *BlockCache) MarkDirty(block Block) bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if e, exists := c.lookup[block]; exists {
		e.dirty = true
		return true
	}
	return false
}

func (c *BlockCache) IsDirty(block Block) bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if e, exists := c.lookup[block]; exists {
		return e.dirty
	}
	return false
}

// Invalidate removes the entry without writeback.
func (c *BlockCache) Invalidate(block Block) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if e, exists := c.lookup[block]; exists {
		c.remove(e)
	}
}

// Clear drops every entry without writeback.
func (c *BlockCache) Clear() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.head = nil
	c.tail = nil
	c.poolUsed = 0
	c.lookup = make(map[Block]*entry, c.capacity)
}

// DirtyBlocks snapshots every dirty (block, data) pair, ordered from
// least to most recently used so writeback roughly follows age.
func (c *BlockCache) DirtyBlocks() []DirtyBlock {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	var dirty []DirtyBlock
	for e := c.tail; e != nil; e = e.prev {
		if e.dirty {
			data := make([]byte, BlockSize)
			copy(data, e.data[:])
			dirty = append(dirty, DirtyBlock{Block: e.block, Data: data})
		}
	}
	return dirty
}

func (c *BlockCache) ClearDirty(block Block) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if e, exists := c.lookup[block]; exists {
		e.dirty = false
	}
}

func (c *BlockCache) ClearAllDirty() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	for e := c.head; e != nil; e = e.next {
		e.dirty = false
	}
}

// SetCapacity rebuilds the pool, keeping the most recently used entries
// and evicting the rest under the usual no-writeback policy.
func (c *BlockCache) SetCapacity(capacity uint32) {
	if capacity == 0 {
		capacity = 1
	}

	c.mutex.Lock()

	kept := make([]entry, capacity)
	lookup := make(map[Block]*entry, capacity)
	var keptUsed uint32
	var dropped uint64

	for e := c.head; e != nil; e = e.next {
		if e.block == InvalidBlock {
			continue // invalidated entry parked for reuse
		}
		if keptUsed >= capacity {
			dropped++
			continue
		}
		kept[keptUsed] = entry{block: e.block, dirty: e.dirty, data: e.data}
		keptUsed++
	}

	c.pool = kept
	c.poolUsed = keptUsed
	c.capacity = capacity
	c.lookup = lookup
	c.head = nil
	c.tail = nil

	// relink MRU-first so the list order survives the rebuild
	for i := keptUsed; i > 0; i-- {
		e := &c.pool[i-1]
		lookup[e.block] = e
		e.prev = nil
		e.next = c.head
		if c.head != nil {
			c.head.prev = e
		}
		c.head = e
		if c.tail == nil {
			c.tail = e
		}
	}
	c.mutex.Unlock()

	if dropped > 0 {
		c.statsMutex.Lock()
		c.evictions += dropped
		c.statsMutex.Unlock()
	}
}

func (c *BlockCache) Capacity() uint32 {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.capacity
}

func (c *BlockCache) CurrentSize() uint32 {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return uint32(len(c.lookup))
}

// LRUOrder lists cached blocks from most to least recently used.
func (c *BlockCache) LRUOrder() []Block {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	order := make([]Block, 0, len(c.lookup))
	for e := c.head; e != nil; e = e.next {
		if e.block == InvalidBlock {
			continue // invalidated entry parked for reuse
		}
		order = append(order, e.block)
	}
	return order
}

func (c *BlockCache) Stats() CacheStats {
	c.mutex.Lock()
	size := uint32(len(c.lookup))
	capacity := c.capacity
	c.mutex.Unlock()

	c.statsMutex.Lock()
	defer c.statsMutex.Unlock()

	stats := CacheStats{
		Hits:        c.hits,
		Misses:      c.misses,
		Evictions:   c.evictions,
		Capacity:    capacity,
		CurrentSize: size,
	}
	if total := stats.Hits + stats.Misses; total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total)
	}
	return stats
}

func (c *BlockCache) ResetStats() {
	c.statsMutex.Lock()
	defer c.statsMutex.Unlock()
	c.hits = 0
	c.misses = 0
	c.evictions = 0
}

func (c *BlockCache) moveFront(e *entry) {
	if c.head == e {
		return
	}
	c.unlink(e)
	e.prev = nil
	e.next = c.head
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

func (c *BlockCache) unlink(e *entry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else if c.head == e {
		c.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else if c.tail == e {
		c.tail = e.prev
	}
	e.prev = nil
	e.next = nil
}

func (c *BlockCache) remove(e *entry) {
	delete(c.lookup, e.block)
	c.unlink(e)

	// park the wiped entry at the tail so takeEntry recycles it last
	e.block = InvalidBlock
	e.dirty = false
	e.prev = c.tail
	if c.tail != nil {
		c.tail.next = e
	}
	c.tail = e
	if c.head == nil {
		c.head = e
	}
}
