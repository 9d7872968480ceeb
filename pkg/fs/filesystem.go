package fs

import (
	"fmt"
	"sync"

	"github.com/weberc2/snapfs/pkg/alloc"
	"github.com/weberc2/snapfs/pkg/cache"
	"github.com/weberc2/snapfs/pkg/dir"
	"github.com/weberc2/snapfs/pkg/disk"
	"github.com/weberc2/snapfs/pkg/snapshot"
	. "github.com/weberc2/snapfs/pkg/types"
)

// Config controls how an image is mounted.
type Config struct {
	CacheCapacity uint32
	EnableCache   bool
	WriteThrough  bool
}

func DefaultConfig() Config {
	return Config{CacheCapacity: 64, EnableCache: true}
}

// Info is the externally visible filesystem state.
type Info struct {
	BlockSize   uint32
	TotalBlocks uint32
	TotalInodes uint32
	FreeBlocks  uint32
	UsedBlocks  uint32
	FreeInodes  uint32
	UsedInodes  uint32

	TotalSize uint64
	FreeSize  uint64
	UsedSize  uint64

	SnapshotCount uint32
	MaxSnapshots  uint32

	CacheStats CacheStats

	Mounted bool
	Path    string
}

// FileSystem binds the storage components and owns their lifecycle. A
// top-level mutex serializes the public operations; the tree-walking
// operations run outside it under an active-operation count that the
// unmount quiesce barrier waits on.
type FileSystem struct {
	mutex      sync.Mutex
	opMutex    sync.Mutex
	opCond     *sync.Cond
	activeOps  int
	unmounting bool

	mounted bool
	path    string
	config  Config

	disk   *disk.DiskImage
	cached *cache.CachedDisk
	io     BlockIO
	alloc  *alloc.Allocator
	dir    *dir.Directory
	snap   *snapshot.Manager
}

func New() *FileSystem {
	fs := &FileSystem{}
	fs.opCond = sync.NewCond(&fs.opMutex)
	return fs
}

// Format creates a fresh image at path. A mounted filesystem is
// unmounted first.
func (fs *FileSystem) Format(path string, totalBlocks, totalInodes uint32) error {
	if fs.IsMounted() {
		if err := fs.Unmount(); err != nil {
			return fmt.Errorf("formatting `%s`: %w", path, err)
		}
	}

	if _, err := disk.Mkfs(path, disk.MkfsOptions{
		TotalBlocks: totalBlocks,
		TotalInodes: totalInodes,
		Force:       true,
	}); err != nil {
		return err
	}
	return nil
}

// Mount opens the image and wires the component stack together:
// disk → optional cache → allocator → directory engine → snapshot
// manager → refcount rebuild → COW hook. On error nothing is left
// mounted.
func (fs *FileSystem) Mount(path string, config Config) error {
	fs.mutex.Lock()
	defer fs.mutex.Unlock()

	if fs.mounted {
		return fmt.Errorf("mounting `%s`: %w", path, AlreadyExistsErr)
	}

	image, err := disk.Open(path)
	if err != nil {
		return fmt.Errorf("mounting `%s`: %w", path, err)
	}

	var cached *cache.CachedDisk
	var io BlockIO = image
	if config.EnableCache {
		capacity := config.CacheCapacity
		if capacity == 0 {
			capacity = DefaultConfig().CacheCapacity
		}
		cached = cache.NewCachedDisk(image, capacity)
		cached.SetWriteThrough(config.WriteThrough)
		io = cached
	}

	allocator := alloc.New(io)
	if err := allocator.Load(); err != nil {
		image.Close()
		return fmt.Errorf("mounting `%s`: %w", path, err)
	}

	directory := dir.New(allocator, io)

	snap := snapshot.New(allocator, io, cached)
	if err := snap.Load(); err != nil {
		image.Close()
		return fmt.Errorf("mounting `%s`: %w", path, err)
	}
	if err := snap.RebuildBlockRefcounts(); err != nil {
		image.Close()
		return fmt.Errorf("mounting `%s`: %w", path, err)
	}

	directory.SetSnapshotter(snap)

	fs.disk = image
	fs.cached = cached
	fs.io = io
	fs.alloc = allocator
	fs.dir = directory
	fs.snap = snap
	fs.mounted = true
	fs.path = path
	fs.config = config

	return nil
}

// Unmount quiesces in-flight operations, pushes every layer's state to
// disk, and tears the components down in reverse creation order.
func (fs *FileSystem) Unmount() error {
	fs.mutex.Lock()
	defer fs.mutex.Unlock()

	if !fs.mounted {
		return nil
	}

	fs.opMutex.Lock()
	fs.unmounting = true
	for fs.activeOps > 0 {
		fs.opCond.Wait()
	}
	fs.opMutex.Unlock()

	err := fs.syncAll()

	fs.snap = nil
	fs.dir = nil
	fs.alloc = nil
	fs.cached = nil
	fs.io = nil

	if closeErr := fs.disk.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	fs.disk = nil

	fs.mounted = false
	fs.path = ""

	fs.opMutex.Lock()
	fs.unmounting = false
	fs.opMutex.Unlock()

	return err
}

// Sync is the durability barrier over the whole stack.
func (fs *FileSystem) Sync() error {
	fs.mutex.Lock()
	defer fs.mutex.Unlock()

	if !fs.mounted {
		return fmt.Errorf("syncing unmounted filesystem: %w", InvalidParamErr)
	}
	return fs.syncAll()
}

// syncAll pushes state down the stack: snapshot list, allocator
// metadata, dirty cache pages, then the disk barrier. Callers hold the
// top-level mutex. The first error wins but every layer still runs.
func (fs *FileSystem) syncAll() error {
	var err error

	if fs.snap != nil {
		if snapErr := fs.snap.Sync(); snapErr != nil && err == nil {
			err = snapErr
		}
	}
	if fs.alloc != nil {
		if allocErr := fs.alloc.Sync(); allocErr != nil && err == nil {
			err = allocErr
		}
	}
	if fs.cached != nil {
		if flushErr := fs.cached.Flush(); flushErr != nil && err == nil {
			err = flushErr
		}
	}
	if fs.disk != nil {
		if diskErr := fs.disk.Sync(); diskErr != nil && err == nil {
			err = diskErr
		}
	}

	return err
}

func (fs *FileSystem) IsMounted() bool {
	fs.mutex.Lock()
	defer fs.mutex.Unlock()
	return fs.mounted
}

func (fs *FileSystem) Path() string {
	fs.mutex.Lock()
	defer fs.mutex.Unlock()
	return fs.path
}

// Info reports counters, capacity, snapshot and cache state.
func (fs *FileSystem) Info() Info {
	fs.mutex.Lock()
	defer fs.mutex.Unlock()

	info := Info{Mounted: fs.mounted, Path: fs.path}
	if !fs.mounted {
		return info
	}

	sb := fs.alloc.Superblock()
	info.BlockSize = sb.BlockSize
	info.TotalBlocks = sb.TotalBlocks
	info.TotalInodes = sb.TotalInodes
	info.FreeBlocks = sb.FreeBlocks
	info.UsedBlocks = sb.UsedBlocks
	info.FreeInodes = sb.FreeInodes
	info.UsedInodes = sb.UsedInodes

	info.TotalSize = uint64(sb.DataBlockCount) * uint64(BlockSize)
	info.FreeSize = uint64(sb.FreeBlocks) * uint64(BlockSize)
	info.UsedSize = uint64(sb.UsedBlocks) * uint64(BlockSize)

	info.SnapshotCount = fs.snap.Count()
	info.MaxSnapshots = MaxSnapshots

	if fs.cached != nil {
		info.CacheStats = fs.cached.Stats()
	}

	return info
}

func (fs *FileSystem) ensureMounted() error {
	if !fs.mounted {
		return fmt.Errorf("filesystem not mounted: %w", InvalidParamErr)
	}
	return nil
}

// beginOp registers a lock-free tree operation with the quiesce
// barrier; it fails once an unmount has started.
func (fs *FileSystem) beginOp() error {
	fs.opMutex.Lock()
	defer fs.opMutex.Unlock()

	if fs.unmounting {
		return fmt.Errorf("filesystem is unmounting: %w", InvalidParamErr)
	}
	fs.activeOps++
	return nil
}

func (fs *FileSystem) endOp() {
	fs.opMutex.Lock()
	fs.activeOps--
	if fs.activeOps == 0 {
		fs.opCond.Broadcast()
	}
	fs.opMutex.Unlock()
}
