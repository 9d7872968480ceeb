package fs

import (
	. "github.com/weberc2/snapfs/pkg/types"
)

// CreateSnapshot flushes pending state, then freezes the current tree
// under name. After the clone the allocator bitmaps are checked against
// the superblock counters; on a mismatch the refcount table is rebuilt
// from reachability.
func (fs *FileSystem) CreateSnapshot(name string) error {
	fs.mutex.Lock()
	defer fs.mutex.Unlock()

	if err := fs.ensureMounted(); err != nil {
		return err
	}

	// make sure the clone reads settled state
	fs.alloc.Sync()
	if fs.cached != nil {
		fs.cached.Flush()
	}

	if err := fs.snap.Create(name); err != nil {
		return err
	}

	if err := fs.alloc.CheckConsistency(false); err != nil {
		return fs.snap.RebuildBlockRefcounts()
	}
	return nil
}

// RestoreSnapshot rewinds the live tree to the snapshot, then reloads
// allocator state and rebuilds refcounts to resynchronize with what the
// restore wrote underneath them.
func (fs *FileSystem) RestoreSnapshot(name string) error {
	fs.mutex.Lock()
	defer fs.mutex.Unlock()

	if err := fs.ensureMounted(); err != nil {
		return err
	}

	if err := fs.snap.Restore(name); err != nil {
		return err
	}

	if err := fs.alloc.Reload(); err != nil {
		return err
	}
	return fs.snap.RebuildBlockRefcounts()
}

// DeleteSnapshot removes the snapshot and releases its clone tree.
func (fs *FileSystem) DeleteSnapshot(name string) error {
	fs.mutex.Lock()
	defer fs.mutex.Unlock()

	if err := fs.ensureMounted(); err != nil {
		return err
	}

	if err := fs.snap.Delete(name); err != nil {
		return err
	}

	if err := fs.alloc.CheckConsistency(false); err != nil {
		return fs.snap.RebuildBlockRefcounts()
	}
	return nil
}

func (fs *FileSystem) ListSnapshots() []SnapshotInfo {
	fs.mutex.Lock()
	defer fs.mutex.Unlock()

	if fs.ensureMounted() != nil {
		return nil
	}
	return fs.snap.List()
}

func (fs *FileSystem) SnapshotExists(name string) bool {
	fs.mutex.Lock()
	defer fs.mutex.Unlock()

	if fs.ensureMounted() != nil {
		return false
	}
	return fs.snap.Exists(name)
}

// CacheStats returns block-cache statistics; zero-valued when mounted
// without a cache.
func (fs *FileSystem) CacheStats() CacheStats {
	fs.mutex.Lock()
	defer fs.mutex.Unlock()

	if fs.ensureMounted() != nil || fs.cached == nil {
		return CacheStats{}
	}
	return fs.cached.Stats()
}

func (fs *FileSystem) ResetCacheStats() {
	fs.mutex.Lock()
	defer fs.mutex.Unlock()

	if fs.cached != nil {
		fs.cached.ResetStats()
	}
}

// ClearCache flushes and then drops every cached page.
func (fs *FileSystem) ClearCache() error {
	fs.mutex.Lock()
	defer fs.mutex.Unlock()

	if fs.cached == nil {
		return nil
	}
	return fs.cached.ClearCache()
}

func (fs *FileSystem) SetCacheCapacity(capacity uint32) {
	fs.mutex.Lock()
	defer fs.mutex.Unlock()

	if fs.cached != nil {
		fs.cached.SetCapacity(capacity)
	}
}

// SetWriteThrough flips the cache between write-back and write-through.
func (fs *FileSystem) SetWriteThrough(writeThrough bool) {
	fs.mutex.Lock()
	defer fs.mutex.Unlock()

	if fs.cached != nil {
		fs.cached.SetWriteThrough(writeThrough)
	}
}

// SetCacheEnabled toggles the cache without remounting. Pending dirty
// pages are flushed before the bypass takes effect.
func (fs *FileSystem) SetCacheEnabled(enabled bool) error {
	fs.mutex.Lock()
	defer fs.mutex.Unlock()

	if fs.cached == nil {
		return nil
	}
	if !enabled {
		if err := fs.cached.Flush(); err != nil {
			return err
		}
	}
	fs.cached.SetEnabled(enabled)
	return nil
}
