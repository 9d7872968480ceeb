package dir

import (
	"fmt"

	"github.com/weberc2/snapfs/pkg/encode"
	. "github.com/weberc2/snapfs/pkg/types"
)

// FileBlock maps a file-relative block index to its absolute block
// number through the direct, single-indirect, and double-indirect
// pointers. A missing pointer yields NotFoundErr, which the read path
// treats as a zero-filled hole.
func (d *Directory) FileBlock(inode *Inode, index uint32) (Block, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.fileBlock(inode, index)
}

func (d *Directory) fileBlock(inode *Inode, index uint32) (Block, error) {
	if index < NumDirectBlocks {
		if inode.DirectBlocks[index] == InvalidBlock {
			return InvalidBlock, fmt.Errorf(
				"file block `%d`: %w",
				index,
				NotFoundErr,
			)
		}
		return inode.DirectBlocks[index], nil
	}

	index -= NumDirectBlocks

	if index < PtrsPerBlock {
		if inode.SingleIndirect == InvalidBlock {
			return InvalidBlock, fmt.Errorf(
				"file block `%d` (single-indirect): %w",
				index+NumDirectBlocks,
				NotFoundErr,
			)
		}
		return d.indirectPtr(inode.SingleIndirect, index)
	}

	index -= PtrsPerBlock

	if index < PtrsPerBlock*PtrsPerBlock {
		if inode.DoubleIndirect == InvalidBlock {
			return InvalidBlock, fmt.Errorf(
				"file block `%d` (double-indirect): %w",
				index+NumDirectBlocks+PtrsPerBlock,
				NotFoundErr,
			)
		}

		l1, err := d.indirectPtr(inode.DoubleIndirect, index/PtrsPerBlock)
		if err != nil {
			return InvalidBlock, err
		}
		return d.indirectPtr(l1, index%PtrsPerBlock)
	}

	return InvalidBlock, fmt.Errorf(
		"file block `%d` beyond double-indirect capacity: %w",
		index+NumDirectBlocks+PtrsPerBlock,
		FileTooLargeErr,
	)
}

// allocFileBlock is FileBlock with lazy allocation: any missing indirect
// or data block on the way is allocated, the owning pointer updated, and
// the inode's block count bumped for every new block. Shared indirect
// blocks are copied first so a snapshot never observes the update.
func (d *Directory) allocFileBlock(inode *Inode, ino Ino, index uint32) (Block, error) {
	if index < NumDirectBlocks {
		if inode.DirectBlocks[index] == InvalidBlock {
			block, err := d.alloc.AllocBlock()
			if err != nil {
				return InvalidBlock, err
			}
			inode.DirectBlocks[index] = block
			inode.BlockCount++
			if err := d.writeInode(ino, inode); err != nil {
				return InvalidBlock, err
			}
		}
		return inode.DirectBlocks[index], nil
	}

	index -= NumDirectBlocks

	if index < PtrsPerBlock {
		if inode.SingleIndirect == InvalidBlock {
			indirect, err := d.allocIndirectBlock()
			if err != nil {
				return InvalidBlock, err
			}
			inode.SingleIndirect = indirect
			inode.BlockCount++
			if err := d.writeInode(ino, inode); err != nil {
				return InvalidBlock, err
			}
		}

		indirect := inode.SingleIndirect
		if d.snap != nil && d.snap.NeedsCOW(indirect) {
			copied, err := d.snap.PerformCOW(indirect)
			if err != nil {
				return InvalidBlock, err
			}
			if copied != indirect {
				inode.SingleIndirect = copied
				indirect = copied
				if err := d.writeInode(ino, inode); err != nil {
					return InvalidBlock, err
				}
			}
		}

		if existing, err := d.indirectPtr(indirect, index); err == nil {
			return existing, nil
		}

		block, err := d.alloc.AllocBlock()
		if err != nil {
			return InvalidBlock, err
		}
		if err := d.setIndirectPtr(indirect, index, block); err != nil {
			d.alloc.FreeBlock(block)
			return InvalidBlock, err
		}
		inode.BlockCount++
		if err := d.writeInode(ino, inode); err != nil {
			return InvalidBlock, err
		}
		return block, nil
	}

	index -= PtrsPerBlock

	if index < PtrsPerBlock*PtrsPerBlock {
		if inode.DoubleIndirect == InvalidBlock {
			indirect, err := d.allocIndirectBlock()
			if err != nil {
				return InvalidBlock, err
			}
			inode.DoubleIndirect = indirect
			inode.BlockCount++
			if err := d.writeInode(ino, inode); err != nil {
				return InvalidBlock, err
			}
		}

		dbl := inode.DoubleIndirect
		if d.snap != nil && d.snap.NeedsCOW(dbl) {
			copied, err := d.snap.PerformCOW(dbl)
			if err != nil {
				return InvalidBlock, err
			}
			if copied != dbl {
				inode.DoubleIndirect = copied
				dbl = copied
				if err := d.writeInode(ino, inode); err != nil {
					return InvalidBlock, err
				}
			}
		}

		l1Index := index / PtrsPerBlock
		l2Index := index % PtrsPerBlock

		l1, err := d.indirectPtr(dbl, l1Index)
		if err != nil {
			l1, err = d.allocIndirectBlock()
			if err != nil {
				return InvalidBlock, err
			}
			if err := d.setIndirectPtr(dbl, l1Index, l1); err != nil {
				d.alloc.FreeBlock(l1)
				return InvalidBlock, err
			}
			inode.BlockCount++
			if err := d.writeInode(ino, inode); err != nil {
				return InvalidBlock, err
			}
		}

		if d.snap != nil && d.snap.NeedsCOW(l1) {
			copied, err := d.snap.PerformCOW(l1)
			if err != nil {
				return InvalidBlock, err
			}
			if copied != l1 {
				l1 = copied
				if err := d.setIndirectPtr(dbl, l1Index, l1); err != nil {
					return InvalidBlock, err
				}
			}
		}

		if existing, err := d.indirectPtr(l1, l2Index); err == nil {
			return existing, nil
		}

		block, err := d.alloc.AllocBlock()
		if err != nil {
			return InvalidBlock, err
		}
		if err := d.setIndirectPtr(l1, l2Index, block); err != nil {
			d.alloc.FreeBlock(block)
			return InvalidBlock, err
		}
		inode.BlockCount++
		if err := d.writeInode(ino, inode); err != nil {
			return InvalidBlock, err
		}
		return block, nil
	}

	return InvalidBlock, fmt.Errorf(
		"file block `%d` beyond double-indirect capacity: %w",
		index+NumDirectBlocks+PtrsPerBlock,
		FileTooLargeErr,
	)
}

// updatePointer redirects the pointer slot for a file block index to a
// new block after a COW of the data block. Shared indirect blocks along
// the chain are themselves copied first; updates cascade from the
// innermost level back toward the inode.
func (d *Directory) updatePointer(
	inode *Inode,
	ino Ino,
	index uint32,
	newBlock Block,
) error {
	if index < NumDirectBlocks {
		inode.DirectBlocks[index] = newBlock
		return d.writeInode(ino, inode)
	}

	index -= NumDirectBlocks

	if index < PtrsPerBlock {
		if inode.SingleIndirect == InvalidBlock {
			return fmt.Errorf(
				"updating pointer without single-indirect block: %w",
				InvalidParamErr,
			)
		}
		indirect := inode.SingleIndirect
		if d.snap != nil && d.snap.NeedsCOW(indirect) {
			copied, err := d.snap.PerformCOW(indirect)
			if err != nil {
				return err
			}
			if copied != indirect {
				inode.SingleIndirect = copied
				indirect = copied
				if err := d.writeInode(ino, inode); err != nil {
					return err
				}
			}
		}
		return d.setIndirectPtr(indirect, index, newBlock)
	}

	index -= PtrsPerBlock

	if index < PtrsPerBlock*PtrsPerBlock {
		if inode.DoubleIndirect == InvalidBlock {
			return fmt.Errorf(
				"updating pointer without double-indirect block: %w",
				InvalidParamErr,
			)
		}
		dbl := inode.DoubleIndirect
		if d.snap != nil && d.snap.NeedsCOW(dbl) {
			copied, err := d.snap.PerformCOW(dbl)
			if err != nil {
				return err
			}
			if copied != dbl {
				inode.DoubleIndirect = copied
				dbl = copied
				if err := d.writeInode(ino, inode); err != nil {
					return err
				}
			}
		}

		l1Index := index / PtrsPerBlock
		l2Index := index % PtrsPerBlock

		l1, err := d.indirectPtr(dbl, l1Index)
		if err != nil {
			return fmt.Errorf("updating pointer: %w", InvalidParamErr)
		}

		if d.snap != nil && d.snap.NeedsCOW(l1) {
			copied, err := d.snap.PerformCOW(l1)
			if err != nil {
				return err
			}
			if copied != l1 {
				l1 = copied
				if err := d.setIndirectPtr(dbl, l1Index, l1); err != nil {
					return err
				}
			}
		}

		return d.setIndirectPtr(l1, l2Index, newBlock)
	}

	return fmt.Errorf("updating pointer: %w", FileTooLargeErr)
}

// cowFileBlock gives the write path a privately owned copy of the data
// block: when the snapshot manager reports sharing, the block is copied,
// the pointer chain redirected, and the copy returned.
func (d *Directory) cowFileBlock(
	inode *Inode,
	ino Ino,
	index uint32,
	block Block,
) (Block, error) {
	if d.snap == nil || !d.snap.NeedsCOW(block) {
		return block, nil
	}

	copied, err := d.snap.PerformCOW(block)
	if err != nil {
		return InvalidBlock, fmt.Errorf(
			"copy-on-write of file block `%d`: %w",
			index,
			err,
		)
	}
	if err := d.updatePointer(inode, ino, index, copied); err != nil {
		return InvalidBlock, fmt.Errorf(
			"copy-on-write of file block `%d`: %w",
			index,
			err,
		)
	}
	return copied, nil
}

// freeFileBlocks releases every data block with index >= fromBlock.
// Indirect blocks are freed once they no longer serve any kept index;
// partially cleared indirect blocks are written back with the released
// slots marked absent.
func (d *Directory) freeFileBlocks(inode *Inode, fromBlock uint32) error {
	dropCount := func() {
		if inode.BlockCount > 0 {
			inode.BlockCount--
		}
	}

	for i := fromBlock; i < NumDirectBlocks; i++ {
		if inode.DirectBlocks[i] != InvalidBlock {
			d.alloc.FreeBlock(inode.DirectBlocks[i])
			inode.DirectBlocks[i] = InvalidBlock
			dropCount()
		}
	}

	singleBase := NumDirectBlocks
	if inode.SingleIndirect != InvalidBlock &&
		fromBlock < singleBase+PtrsPerBlock {
		var start uint32
		if fromBlock > singleBase {
			start = fromBlock - singleBase
		}

		// a partially kept indirect block gets written back, so a
		// snapshot-shared one must be copied first
		if start > 0 {
			if copied, err := d.cowBlockForWrite(inode.SingleIndirect); err == nil {
				inode.SingleIndirect = copied
			}
		}

		var buf [BlockSize]byte
		if err := d.readBlock(inode.SingleIndirect, buf[:]); err == nil {
			for i := start; i < PtrsPerBlock; i++ {
				if ptr := encode.IndirectPtr(buf[:], i); ptr != InvalidBlock {
					d.alloc.FreeBlock(ptr)
					encode.SetIndirectPtr(buf[:], i, InvalidBlock)
					dropCount()
				}
			}
			if start == 0 {
				d.alloc.FreeBlock(inode.SingleIndirect)
				inode.SingleIndirect = InvalidBlock
				dropCount()
			} else {
				d.writeBlock(inode.SingleIndirect, buf[:])
			}
		}
	}

	doubleBase := NumDirectBlocks + PtrsPerBlock
	if inode.DoubleIndirect != InvalidBlock &&
		fromBlock < doubleBase+PtrsPerBlock*PtrsPerBlock {
		var start uint32
		if fromBlock > doubleBase {
			start = fromBlock - doubleBase
		}

		if start > 0 {
			if copied, err := d.cowBlockForWrite(inode.DoubleIndirect); err == nil {
				inode.DoubleIndirect = copied
			}
		}

		var l1 [BlockSize]byte
		if err := d.readBlock(inode.DoubleIndirect, l1[:]); err == nil {
			l1Dirty := false
			for i := start / PtrsPerBlock; i < PtrsPerBlock; i++ {
				l1Ptr := encode.IndirectPtr(l1[:], i)
				if l1Ptr == InvalidBlock {
					continue
				}

				var l2Start uint32
				if i == start/PtrsPerBlock {
					l2Start = start % PtrsPerBlock
				}

				if l2Start > 0 {
					if copied, err := d.cowBlockForWrite(l1Ptr); err == nil &&
						copied != l1Ptr {
						l1Ptr = copied
						encode.SetIndirectPtr(l1[:], i, copied)
						l1Dirty = true
					}
				}

				var l2 [BlockSize]byte
				if err := d.readBlock(l1Ptr, l2[:]); err == nil {
					for j := l2Start; j < PtrsPerBlock; j++ {
						if ptr := encode.IndirectPtr(l2[:], j); ptr != InvalidBlock {
							d.alloc.FreeBlock(ptr)
							encode.SetIndirectPtr(l2[:], j, InvalidBlock)
							dropCount()
						}
					}
					if l2Start == 0 {
						d.alloc.FreeBlock(l1Ptr)
						encode.SetIndirectPtr(l1[:], i, InvalidBlock)
						l1Dirty = true
						dropCount()
					} else {
						d.writeBlock(l1Ptr, l2[:])
					}
				}
			}
			if start == 0 {
				d.alloc.FreeBlock(inode.DoubleIndirect)
				inode.DoubleIndirect = InvalidBlock
				dropCount()
			} else if l1Dirty {
				d.writeBlock(inode.DoubleIndirect, l1[:])
			}
		}
	}

	return nil
}

// cowBlockForWrite copies the block when a snapshot shares it; the
// caller updates whatever pointer referenced it.
func (d *Directory) cowBlockForWrite(block Block) (Block, error) {
	if d.snap == nil || !d.snap.NeedsCOW(block) {
		return block, nil
	}
	return d.snap.PerformCOW(block)
}

func (d *Directory) indirectPtr(indirect Block, index uint32) (Block, error) {
	if indirect == InvalidBlock || index >= PtrsPerBlock {
		return InvalidBlock, fmt.Errorf(
			"indirect slot `%d` of block `%d`: %w",
			index,
			indirect,
			InvalidParamErr,
		)
	}

	var buf [BlockSize]byte
	if err := d.readBlock(indirect, buf[:]); err != nil {
		return InvalidBlock, err
	}

	ptr := encode.IndirectPtr(buf[:], index)
	if ptr == InvalidBlock {
		return InvalidBlock, fmt.Errorf(
			"indirect slot `%d` of block `%d`: %w",
			index,
			indirect,
			NotFoundErr,
		)
	}
	return ptr, nil
}

func (d *Directory) setIndirectPtr(indirect Block, index uint32, value Block) error {
	if indirect == InvalidBlock || index >= PtrsPerBlock {
		return fmt.Errorf(
			"setting indirect slot `%d` of block `%d`: %w",
			index,
			indirect,
			InvalidParamErr,
		)
	}

	var buf [BlockSize]byte
	if err := d.readBlock(indirect, buf[:]); err != nil {
		return err
	}
	encode.SetIndirectPtr(buf[:], index, value)
	return d.writeBlock(indirect, buf[:])
}

// allocIndirectBlock allocates a block and initializes every pointer
// slot to the absent value.
func (d *Directory) allocIndirectBlock() (Block, error) {
	block, err := d.alloc.AllocBlock()
	if err != nil {
		return InvalidBlock, err
	}

	var buf [BlockSize]byte
	encode.InitIndirectBlock(buf[:])
	if err := d.writeBlock(block, buf[:]); err != nil {
		d.alloc.FreeBlock(block)
		return InvalidBlock, err
	}
	return block, nil
}
