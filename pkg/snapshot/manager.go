package snapshot

import (
	"fmt"
	"sync"
	"time"

	"github.com/weberc2/snapfs/pkg/alloc"
	"github.com/weberc2/snapfs/pkg/cache"
	"github.com/weberc2/snapfs/pkg/encode"
	. "github.com/weberc2/snapfs/pkg/types"
)

// Stats counts snapshot-manager activity since mount.
type Stats struct {
	SnapshotsCreated uint32
	COWOperations    uint64
	SharedBlocks     uint64
}

// Manager owns the snapshot list block and the copy-on-write contract.
// It borrows the allocator and the block endpoint; it never calls into
// the directory engine (it walks inode trees with its own traversal), so
// the Directory → Snapshot call direction of the COW hooks cannot
// deadlock.
type Manager struct {
	mutex  sync.Mutex
	alloc  *alloc.Allocator
	io     BlockIO
	cached *cache.CachedDisk // nil when mounted without a cache

	snapshots []SnapshotInfo
	loaded    bool
	dirty     bool
	stats     Stats
}

func New(allocator *alloc.Allocator, io BlockIO, cached *cache.CachedDisk) *Manager {
	return &Manager{alloc: allocator, io: io, cached: cached}
}

// Load reads the snapshot list from the block recorded in the
// superblock; a zero block means no snapshot has ever been created.
func (m *Manager) Load() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	sb := m.alloc.Superblock()
	if sb.SnapshotListBlock == 0 {
		m.snapshots = nil
		m.loaded = true
		return nil
	}

	var buf [BlockSize]byte
	if err := m.io.ReadBlock(sb.SnapshotListBlock, buf[:]); err != nil {
		return fmt.Errorf("loading snapshot list: %w", err)
	}
	m.snapshots = encode.DecodeSnapshotList(&buf)
	m.loaded = true
	return nil
}

// Sync persists the snapshot list if it has unsaved changes.
func (m *Manager) Sync() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if !m.loaded || !m.dirty {
		return nil
	}
	if err := m.saveSnapshotList(); err != nil {
		return err
	}
	m.dirty = false
	return nil
}

// saveSnapshotList writes the list, lazily allocating the list block
// from the data region the first time. Callers hold the mutex.
func (m *Manager) saveSnapshotList() error {
	sb := m.alloc.Superblock()
	listBlock := sb.SnapshotListBlock
	if listBlock == 0 {
		block, err := m.alloc.AllocBlock()
		if err != nil {
			return fmt.Errorf("allocating snapshot list block: %w", err)
		}
		listBlock = block
		m.alloc.MutateSuperblock(func(sb *Superblock) {
			sb.SnapshotListBlock = listBlock
		})
	}

	var buf [BlockSize]byte
	encode.EncodeSnapshotList(m.snapshots, &buf)
	if err := m.io.WriteBlock(listBlock, buf[:]); err != nil {
		return fmt.Errorf("saving snapshot list: %w", err)
	}
	return nil
}

func (m *Manager) findSnapshot(name string) int {
	for i := range m.snapshots {
		if m.snapshots[i].Name == name {
			return i
		}
	}
	return -1
}

// List returns a copy of the snapshot list.
func (m *Manager) List() []SnapshotInfo {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	out := make([]SnapshotInfo, len(m.snapshots))
	copy(out, m.snapshots)
	return out
}

func (m *Manager) Get(name string) (SnapshotInfo, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if i := m.findSnapshot(name); i >= 0 {
		return m.snapshots[i], nil
	}
	return SnapshotInfo{}, fmt.Errorf(
		"getting snapshot `%s`: %w",
		name,
		SnapshotNotFoundErr,
	)
}

func (m *Manager) Exists(name string) bool {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.findSnapshot(name) >= 0
}

func (m *Manager) Count() uint32 {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return uint32(len(m.snapshots))
}

func (m *Manager) Stats() Stats {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.stats
}

func (m *Manager) ResetStats() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.stats = Stats{}
}

// NeedsCOW reports whether a write to block must be redirected: there is
// at least one snapshot and the block is shared.
func (m *Manager) NeedsCOW(block Block) bool {
	m.mutex.Lock()
	hasSnapshots := len(m.snapshots) > 0
	m.mutex.Unlock()

	return hasSnapshots && m.alloc.BlockRef(block) > 1
}

// PerformCOW allocates a private copy of the block, moves one reference
// off the original, and returns the copy. A block that turns out not to
// need copying is returned unchanged.
func (m *Manager) PerformCOW(block Block) (Block, error) {
	if !m.NeedsCOW(block) {
		return block, nil
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	newBlock, err := m.alloc.AllocBlock()
	if err != nil {
		return InvalidBlock, fmt.Errorf("copy-on-write of block `%d`: %w", block, err)
	}

	var buf [BlockSize]byte
	if err := m.io.ReadBlock(block, buf[:]); err != nil {
		m.alloc.FreeBlock(newBlock)
		return InvalidBlock, fmt.Errorf("copy-on-write of block `%d`: %w", block, err)
	}
	if err := m.io.WriteBlock(newBlock, buf[:]); err != nil {
		m.alloc.FreeBlock(newBlock)
		return InvalidBlock, fmt.Errorf("copy-on-write of block `%d`: %w", block, err)
	}

	if _, err := m.alloc.DecBlockRef(block); err != nil {
		return InvalidBlock, fmt.Errorf("copy-on-write of block `%d`: %w", block, err)
	}

	m.stats.COWOperations++
	return newBlock, nil
}

func currentTime() int64 { return time.Now().Unix() }
