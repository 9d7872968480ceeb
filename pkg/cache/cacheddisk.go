package cache

import (
	"fmt"
	"sync"

	. "github.com/weberc2/snapfs/pkg/types"
)

// Disk is what CachedDisk needs from the layer below: block I/O plus the
// durability barrier.
type Disk interface {
	BlockIO
	Sync() error
}

// CachedDisk composes a BlockCache with a raw disk. Writes land in the
// cache and reach the disk on Flush (write-back) or immediately when
// write-through mode is on. One mutex serializes read/write/flush so a
// miss-then-install is atomic with respect to other accesses to the same
// block.
type CachedDisk struct {
	mutex        sync.Mutex
	disk         Disk
	cache        *BlockCache
	writeThrough bool
	enabled      bool
}

func NewCachedDisk(disk Disk, capacity uint32) *CachedDisk {
	return &CachedDisk{disk: disk, cache: New(capacity), enabled: true}
}

func (cd *CachedDisk) SetWriteThrough(writeThrough bool) {
	cd.mutex.Lock()
	defer cd.mutex.Unlock()
	cd.writeThrough = writeThrough
}

// SetEnabled bypasses the cache entirely when disabled. Callers should
// Flush before disabling so bypassed reads cannot observe stale disk
// content.
func (cd *CachedDisk) SetEnabled(enabled bool) {
	cd.mutex.Lock()
	defer cd.mutex.Unlock()
	cd.enabled = enabled
}

func (cd *CachedDisk) Enabled() bool {
	cd.mutex.Lock()
	defer cd.mutex.Unlock()
	return cd.enabled
}

func (cd *CachedDisk) ReadBlock(block Block, p []byte) error {
	cd.mutex.Lock()
	defer cd.mutex.Unlock()

	if cd.enabled && cd.cache.Get(block, p) {
		return nil
	}

	if err := cd.disk.ReadBlock(block, p); err != nil {
		return fmt.Errorf("cached read of block `%d`: %w", block, err)
	}
	if cd.enabled {
		cd.cache.Put(block, p, false)
	}
	return nil
}

func (cd *CachedDisk) WriteBlock(block Block, p []byte) error {
	return cd.writeBlock(block, p, false)
}

// WriteBlockThrough forces this one write to the disk regardless of the
// configured mode.
func (cd *CachedDisk) WriteBlockThrough(block Block, p []byte) error {
	return cd.writeBlock(block, p, true)
}

func (cd *CachedDisk) writeBlock(block Block, p []byte, writeThrough bool) error {
	cd.mutex.Lock()
	defer cd.mutex.Unlock()

	if cd.writeThrough || writeThrough || !cd.enabled {
		if err := cd.disk.WriteBlock(block, p); err != nil {
			return fmt.Errorf("write-through of block `%d`: %w", block, err)
		}
		if cd.enabled {
			cd.cache.Put(block, p, false)
		}
		return nil
	}

	cd.cache.Put(block, p, true)
	return nil
}

func (cd *CachedDisk) ReadBlocks(start Block, count uint32, p []byte) error {
	if uint64(len(p)) < uint64(count)*uint64(BlockSize) {
		return fmt.Errorf(
			"buffer of `%d` bytes is too small for `%d` blocks: %w",
			len(p),
			count,
			InvalidParamErr,
		)
	}
	for i := uint32(0); i < count; i++ {
		if err := cd.ReadBlock(
			start+Block(i),
			p[i*BlockSize:(i+1)*BlockSize],
		); err != nil {
			return err
		}
	}
	return nil
}

func (cd *CachedDisk) WriteBlocks(start Block, count uint32, p []byte) error {
	if uint64(len(p)) < uint64(count)*uint64(BlockSize) {
		return fmt.Errorf(
			"buffer of `%d` bytes is too small for `%d` blocks: %w",
			len(p),
			count,
			InvalidParamErr,
		)
	}
	for i := uint32(0); i < count; i++ {
		if err := cd.WriteBlock(
			start+Block(i),
			p[i*BlockSize:(i+1)*BlockSize],
		); err != nil {
			return err
		}
	}
	return nil
}

// Flush writes every dirty page back to the disk, clears the dirty bits,
// and syncs. Afterwards the cache holds no dirty entries and disk content
// matches cache content for every cached block.
func (cd *CachedDisk) Flush() error {
	cd.mutex.Lock()
	defer cd.mutex.Unlock()

	for _, dirty := range cd.cache.DirtyBlocks() {
		if err := cd.disk.WriteBlock(dirty.Block, dirty.Data); err != nil {
			return fmt.Errorf("flushing block `%d`: %w", dirty.Block, err)
		}
		cd.cache.ClearDirty(dirty.Block)
	}

	if err := cd.disk.Sync(); err != nil {
		return fmt.Errorf("flushing cache: %w", err)
	}
	return nil
}

// ClearCache flushes pending writes and then drops every cached page,
// so no dirty state is lost when the cache is emptied.
func (cd *CachedDisk) ClearCache() error {
	if err := cd.Flush(); err != nil {
		return err
	}

	cd.mutex.Lock()
	defer cd.mutex.Unlock()
	cd.cache.Clear()
	return nil
}

func (cd *CachedDisk) Invalidate(block Block) {
	cd.mutex.Lock()
	defer cd.mutex.Unlock()
	cd.cache.Invalidate(block)
}

func (cd *CachedDisk) SetCapacity(capacity uint32) {
	cd.mutex.Lock()
	defer cd.mutex.Unlock()
	cd.cache.SetCapacity(capacity)
}

func (cd *CachedDisk) Stats() CacheStats {
	return cd.cache.Stats()
}

func (cd *CachedDisk) ResetStats() {
	cd.cache.ResetStats()
}

// Cache exposes the underlying cache for inspection.
func (cd *CachedDisk) Cache() *BlockCache { return cd.cache }

var _ BlockIO = (*CachedDisk)(nil)
