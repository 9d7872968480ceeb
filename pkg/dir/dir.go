package dir

import (
	"fmt"
	"sync"
	"time"

	"github.com/weberc2/snapfs/pkg/alloc"
	"github.com/weberc2/snapfs/pkg/encode"
	. "github.com/weberc2/snapfs/pkg/types"
)

// Snapshotter is the copy-on-write contract the snapshot manager plugs
// into the write path: NeedsCOW reports whether a block is shared with a
// snapshot, PerformCOW reallocates it and returns the private copy.
type Snapshotter interface {
	NeedsCOW(block Block) bool
	PerformCOW(block Block) (Block, error)
}

// Directory is the path/directory/file engine. It borrows the allocator
// and the block endpoint; the snapshot manager is wired in after mount
// so file writes can consult the COW contract.
//
// Lock order is always Directory → Allocator → block endpoint; nothing
// calls back up the chain.
type Directory struct {
	mutex sync.Mutex
	alloc *alloc.Allocator
	io    BlockIO
	snap  Snapshotter
}

func New(allocator *alloc.Allocator, io BlockIO) *Directory {
	return &Directory{alloc: allocator, io: io}
}

func (d *Directory) SetSnapshotter(snap Snapshotter) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.snap = snap
}

func (d *Directory) readInode(ino Ino, out *Inode) error {
	return d.alloc.ReadInode(ino, out)
}

func (d *Directory) writeInode(ino Ino, inode *Inode) error {
	return d.alloc.WriteInode(ino, inode)
}

func (d *Directory) readBlock(block Block, p []byte) error {
	return d.io.ReadBlock(block, p)
}

func (d *Directory) writeBlock(block Block, p []byte) error {
	return d.io.WriteBlock(block, p)
}

// dirBlock is one decoded directory block.
type dirBlock [DirEntriesPerBlock]DirEntry

func (d *Directory) readDirBlock(block Block, entries *dirBlock) error {
	var buf [BlockSize]byte
	if err := d.readBlock(block, buf[:]); err != nil {
		return fmt.Errorf("reading directory block `%d`: %w", block, err)
	}
	for i := uint32(0); i < DirEntriesPerBlock; i++ {
		encode.DecodeDirEntry(
			&entries[i],
			(*[DirEntrySize]byte)(buf[i*DirEntrySize:(i+1)*DirEntrySize]),
		)
	}
	return nil
}

func (d *Directory) writeDirBlock(block Block, entries *dirBlock) error {
	var buf [BlockSize]byte
	for i := uint32(0); i < DirEntriesPerBlock; i++ {
		encode.EncodeDirEntry(
			&entries[i],
			(*[DirEntrySize]byte)(buf[i*DirEntrySize:(i+1)*DirEntrySize]),
		)
	}
	if err := d.writeBlock(block, buf[:]); err != nil {
		return fmt.Errorf("writing directory block `%d`: %w", block, err)
	}
	return nil
}

// dirBlockCount is how many blocks a directory of the given size spans;
// every directory spans at least one.
func dirBlockCount(size uint32) uint32 {
	blocks := (size + BlockSize - 1) / BlockSize
	if blocks == 0 {
		blocks = 1
	}
	return blocks
}

func currentTime() int64 { return time.Now().Unix() }

func touchAccess(inode *Inode) { inode.AccessTime = currentTime() }

func touchModify(inode *Inode) { inode.ModifyTime = currentTime() }
