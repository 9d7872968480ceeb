package alloc

import (
	"fmt"
	"sync"
	"time"

	"github.com/weberc2/snapfs/pkg/encode"
	. "github.com/weberc2/snapfs/pkg/types"
)

// Allocator owns the superblock, both bitmaps, the inode table, and the
// per-data-block reference-count table. It borrows a BlockIO endpoint
// (raw or cached) decided at construction; every public operation is
// serialized under one mutex.
type Allocator struct {
	mutex sync.Mutex
	io    BlockIO

	sb     Superblock
	loaded bool

	inodeBitmapBytes []byte
	blockBitmapBytes []byte

	inodeBitmapDirty bool
	blockBitmapDirty bool
	superblockDirty  bool

	// refcounts[i] is the number of live references (current tree plus
	// snapshots) to data block i; rebuilt from reachability at mount.
	refcounts []uint8

	stats AllocStats
}

func New(io BlockIO) *Allocator {
	return &Allocator{io: io}
}

// Load reads the superblock and both bitmaps into memory. Refcounts
// start at 1 for every data block; the snapshot manager's rebuild pass
// replaces them with reachability-derived counts.
func (a *Allocator) Load() error {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	return a.load()
}

// Reload discards all in-memory state and re-reads it from the block
// endpoint. Used after a snapshot restore rewrites state underneath us.
func (a *Allocator) Reload() error {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	a.loaded = false
	a.inodeBitmapDirty = false
	a.blockBitmapDirty = false
	a.superblockDirty = false
	return a.load()
}

func (a *Allocator) load() error {
	var buf [BlockSize]byte
	if err := a.io.ReadBlock(0, buf[:]); err != nil {
		return fmt.Errorf("loading allocator: reading superblock: %w", err)
	}
	if err := encode.DecodeSuperblock(&a.sb, &buf); err != nil {
		return fmt.Errorf("loading allocator: %w", err)
	}

	a.inodeBitmapBytes = make([]byte, a.sb.InodeBitmapBlocks*BlockSize)
	if err := a.readBitmap(
		a.sb.InodeBitmapStart,
		a.sb.InodeBitmapBlocks,
		a.inodeBitmapBytes,
	); err != nil {
		return fmt.Errorf("loading allocator: reading inode bitmap: %w", err)
	}

	a.blockBitmapBytes = make([]byte, a.sb.BlockBitmapBlocks*BlockSize)
	if err := a.readBitmap(
		a.sb.BlockBitmapStart,
		a.sb.BlockBitmapBlocks,
		a.blockBitmapBytes,
	); err != nil {
		return fmt.Errorf("loading allocator: reading block bitmap: %w", err)
	}

	a.refcounts = make([]uint8, a.sb.DataBlockCount)
	for i := range a.refcounts {
		a.refcounts[i] = 1
	}

	a.loaded = true
	return nil
}

func (a *Allocator) readBitmap(start Block, blocks uint32, out []byte) error {
	for i := uint32(0); i < blocks; i++ {
		if err := a.io.ReadBlock(
			start+Block(i),
			out[i*BlockSize:(i+1)*BlockSize],
		); err != nil {
			return err
		}
		a.stats.BitmapReads++
	}
	return nil
}

func (a *Allocator) writeBitmap(start Block, blocks uint32, in []byte) error {
	for i := uint32(0); i < blocks; i++ {
		if err := a.io.WriteBlock(
			start+Block(i),
			in[i*BlockSize:(i+1)*BlockSize],
		); err != nil {
			return err
		}
		a.stats.BitmapWrites++
	}
	return nil
}

// Sync writes dirty bitmaps and the superblock back through the block
// endpoint. It does not force the disk barrier; that belongs to the
// layer that owns the disk.
func (a *Allocator) Sync() error {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	return a.sync()
}

func (a *Allocator) sync() error {
	if !a.loaded {
		return fmt.Errorf("syncing unloaded allocator: %w", InvalidParamErr)
	}

	if a.inodeBitmapDirty {
		if err := a.writeBitmap(
			a.sb.InodeBitmapStart,
			a.sb.InodeBitmapBlocks,
			a.inodeBitmapBytes,
		); err != nil {
			return fmt.Errorf("syncing inode bitmap: %w", err)
		}
		a.inodeBitmapDirty = false
	}

	if a.blockBitmapDirty {
		if err := a.writeBitmap(
			a.sb.BlockBitmapStart,
			a.sb.BlockBitmapBlocks,
			a.blockBitmapBytes,
		); err != nil {
			return fmt.Errorf("syncing block bitmap: %w", err)
		}
		a.blockBitmapDirty = false
	}

	a.sb.WriteTime = time.Now().Unix()
	var buf [BlockSize]byte
	encode.EncodeSuperblock(&a.sb, &buf)
	if err := a.io.WriteBlock(0, buf[:]); err != nil {
		return fmt.Errorf("syncing superblock: %w", err)
	}
	a.superblockDirty = false

	return nil
}

// Superblock returns a copy of the in-memory superblock.
func (a *Allocator) Superblock() Superblock {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	return a.sb
}

// MutateSuperblock applies fn to the in-memory superblock and marks it
// dirty. Used by the snapshot manager for the snapshot count and list
// block fields.
func (a *Allocator) MutateSuperblock(fn func(*Superblock)) {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	fn(&a.sb)
	a.superblockDirty = true
}

func (a *Allocator) FreeInodeCount() uint32 {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	return a.sb.FreeInodes
}

func (a *Allocator) UsedInodeCount() uint32 {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	return a.sb.UsedInodes
}

func (a *Allocator) TotalInodeCount() uint32 {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	return a.sb.TotalInodes
}

func (a *Allocator) FreeBlockCount() uint32 {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	return a.sb.FreeBlocks
}

func (a *Allocator) UsedBlockCount() uint32 {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	return a.sb.UsedBlocks
}

func (a *Allocator) TotalBlockCount() uint32 {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	return a.sb.TotalBlocks
}

func (a *Allocator) Stats() AllocStats {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	return a.stats
}

func (a *Allocator) ResetStats() {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	a.stats = AllocStats{}
}

func (a *Allocator) inodeBitmap() Bitmap {
	return NewBitmap(a.inodeBitmapBytes, a.sb.TotalInodes)
}

func (a *Allocator) blockBitmap() Bitmap {
	return NewBitmap(a.blockBitmapBytes, a.sb.DataBlockCount)
}

func (a *Allocator) dataBlockToAbsolute(index uint32) Block {
	return a.sb.DataBlockStart + Block(index)
}

func (a *Allocator) absoluteToDataBlock(block Block) (uint32, bool) {
	if block < a.sb.DataBlockStart {
		return 0, false
	}
	index := uint32(block - a.sb.DataBlockStart)
	if index >= a.sb.DataBlockCount {
		return 0, false
	}
	return index, true
}
