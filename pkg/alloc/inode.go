package alloc

import (
	"fmt"

	"github.com/weberc2/snapfs/pkg/encode"
	. "github.com/weberc2/snapfs/pkg/types"
)

// AllocInode claims the lowest free inode number, zero-initializes the
// on-disk record to the FREE state (a following WriteInode sets the real
// type), and updates the counters.
func (a *Allocator) AllocInode() (Ino, error) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	if !a.loaded {
		return InvalidIno, fmt.Errorf("allocating inode: %w", InvalidParamErr)
	}
	if a.sb.FreeInodes == 0 {
		return InvalidIno, fmt.Errorf("allocating inode: %w", NoInodeErr)
	}

	index, ok := a.inodeBitmap().FindFirstFree()
	if !ok {
		return InvalidIno, fmt.Errorf("allocating inode: %w", NoInodeErr)
	}

	ino := Ino(index)
	a.inodeBitmap().Set(index)
	a.inodeBitmapDirty = true

	var cleared Inode
	cleared.Clear()
	if err := a.writeInode(ino, &cleared); err != nil {
		a.inodeBitmap().Clear(index)
		return InvalidIno, fmt.Errorf("allocating inode `%d`: %w", ino, err)
	}

	a.sb.UsedInodes++
	a.sb.FreeInodes--
	a.superblockDirty = true
	a.stats.InodeAllocs++

	return ino, nil
}

// FreeInode zeros the on-disk record and releases the bitmap bit. The
// root inode can never be freed.
func (a *Allocator) FreeInode(ino Ino) error {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	if !a.loaded {
		return fmt.Errorf("freeing inode `%d`: %w", ino, InvalidParamErr)
	}
	if ino == RootIno {
		return fmt.Errorf("freeing root inode: %w", PermissionErr)
	}
	if uint32(ino) >= a.sb.TotalInodes {
		return fmt.Errorf("freeing inode `%d`: %w", ino, InvalidParamErr)
	}
	if !a.inodeBitmap().Get(uint32(ino)) {
		return fmt.Errorf("freeing unallocated inode `%d`: %w", ino, InvalidParamErr)
	}

	var cleared Inode
	cleared.Clear()
	if err := a.writeInode(ino, &cleared); err != nil {
		return fmt.Errorf("freeing inode `%d`: %w", ino, err)
	}

	a.inodeBitmap().Clear(uint32(ino))
	a.inodeBitmapDirty = true

	a.sb.UsedInodes--
	a.sb.FreeInodes++
	a.superblockDirty = true
	a.stats.InodeFrees++

	return nil
}

func (a *Allocator) IsInodeAllocated(ino Ino) bool {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	if !a.loaded || uint32(ino) >= a.sb.TotalInodes {
		return false
	}
	return a.inodeBitmap().Get(uint32(ino))
}

// ReadInode decodes inode ino from its table block into out.
func (a *Allocator) ReadInode(ino Ino, out *Inode) error {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	if !a.loaded {
		return fmt.Errorf("reading inode `%d`: %w", ino, InvalidParamErr)
	}
	if uint32(ino) >= a.sb.TotalInodes {
		return fmt.Errorf("reading inode `%d`: %w", ino, InvalidParamErr)
	}

	var buf [BlockSize]byte
	if err := a.io.ReadBlock(a.inodeTableBlock(ino), buf[:]); err != nil {
		return fmt.Errorf("reading inode `%d`: %w", ino, err)
	}

	offset := a.inodeTableOffset(ino)
	if err := encode.DecodeInode(
		out,
		(*[InodeSize]byte)(buf[offset:offset+InodeSize]),
	); err != nil {
		return fmt.Errorf("reading inode `%d`: %w", ino, err)
	}
	return nil
}

// WriteInode read-modify-writes the containing table block.
func (a *Allocator) WriteInode(ino Ino, inode *Inode) error {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	if !a.loaded {
		return fmt.Errorf("writing inode `%d`: %w", ino, InvalidParamErr)
	}
	if uint32(ino) >= a.sb.TotalInodes {
		return fmt.Errorf("writing inode `%d`: %w", ino, InvalidParamErr)
	}
	return a.writeInode(ino, inode)
}

func (a *Allocator) writeInode(ino Ino, inode *Inode) error {
	block := a.inodeTableBlock(ino)

	var buf [BlockSize]byte
	if err := a.io.ReadBlock(block, buf[:]); err != nil {
		return fmt.Errorf("writing inode `%d`: reading table block: %w", ino, err)
	}

	offset := a.inodeTableOffset(ino)
	encode.EncodeInode(inode, (*[InodeSize]byte)(buf[offset:offset+InodeSize]))

	if err := a.io.WriteBlock(block, buf[:]); err != nil {
		return fmt.Errorf("writing inode `%d`: writing table block: %w", ino, err)
	}
	return nil
}

func (a *Allocator) inodeTableBlock(ino Ino) Block {
	return a.sb.InodeTableStart + Block(uint32(ino)/InodesPerBlock)
}

func (a *Allocator) inodeTableOffset(ino Ino) uint32 {
	return (uint32(ino) % InodesPerBlock) * InodeSize
}
