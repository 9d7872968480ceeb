package snapshot

import (
	"fmt"

	"github.com/weberc2/snapfs/pkg/encode"
	. "github.com/weberc2/snapfs/pkg/types"
)

// fileBlock maps a file-relative block index through an inode's pointer
// levels without any allocation. The manager carries its own copy of
// this lookup so snapshot traversals never re-enter the directory
// engine.
func (m *Manager) fileBlock(inode *Inode, index uint32) (Block, error) {
	if index < NumDirectBlocks {
		if inode.DirectBlocks[index] == InvalidBlock {
			return InvalidBlock, fmt.Errorf("file block `%d`: %w", index, NotFoundErr)
		}
		return inode.DirectBlocks[index], nil
	}

	index -= NumDirectBlocks

	if index < PtrsPerBlock {
		if inode.SingleIndirect == InvalidBlock {
			return InvalidBlock, fmt.Errorf(
				"file block `%d`: %w",
				index+NumDirectBlocks,
				NotFoundErr,
			)
		}
		return m.indirectPtr(inode.SingleIndirect, index)
	}

	index -= PtrsPerBlock

	if index < PtrsPerBlock*PtrsPerBlock {
		if inode.DoubleIndirect == InvalidBlock {
			return InvalidBlock, fmt.Errorf(
				"file block `%d`: %w",
				index+NumDirectBlocks+PtrsPerBlock,
				NotFoundErr,
			)
		}
		l1, err := m.indirectPtr(inode.DoubleIndirect, index/PtrsPerBlock)
		if err != nil {
			return InvalidBlock, err
		}
		return m.indirectPtr(l1, index%PtrsPerBlock)
	}

	return InvalidBlock, fmt.Errorf(
		"file block `%d`: %w",
		index+NumDirectBlocks+PtrsPerBlock,
		FileTooLargeErr,
	)
}

// setFileBlock points index at block in a freshly built clone inode,
// allocating indirect blocks as needed. The clone's block count is
// bumped for every block this allocates; the caller accounts for the
// data block itself.
func (m *Manager) setFileBlock(inode *Inode, index uint32, block Block) error {
	if index < NumDirectBlocks {
		inode.DirectBlocks[index] = block
		return nil
	}

	index -= NumDirectBlocks

	if index < PtrsPerBlock {
		if inode.SingleIndirect == InvalidBlock {
			indirect, err := m.allocIndirectBlock()
			if err != nil {
				return err
			}
			inode.SingleIndirect = indirect
			inode.BlockCount++
		}
		return m.setIndirectPtr(inode.SingleIndirect, index, block)
	}

	index -= PtrsPerBlock

	if index < PtrsPerBlock*PtrsPerBlock {
		if inode.DoubleIndirect == InvalidBlock {
			indirect, err := m.allocIndirectBlock()
			if err != nil {
				return err
			}
			inode.DoubleIndirect = indirect
			inode.BlockCount++
		}

		l1Index := index / PtrsPerBlock
		l2Index := index % PtrsPerBlock

		l1, err := m.indirectPtr(inode.DoubleIndirect, l1Index)
		if err != nil {
			l1, err = m.allocIndirectBlock()
			if err != nil {
				return err
			}
			if err := m.setIndirectPtr(inode.DoubleIndirect, l1Index, l1); err != nil {
				m.alloc.FreeBlock(l1)
				return err
			}
			inode.BlockCount++
		}
		return m.setIndirectPtr(l1, l2Index, block)
	}

	return fmt.Errorf("setting file block: %w", FileTooLargeErr)
}

func (m *Manager) indirectPtr(indirect Block, index uint32) (Block, error) {
	var buf [BlockSize]byte
	if err := m.io.ReadBlock(indirect, buf[:]); err != nil {
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

func (m *Manager) setIndirectPtr(indirect Block, index uint32, value Block) error {
	var buf [BlockSize]byte
	if err := m.io.ReadBlock(indirect, buf[:]); err != nil {
		return err
	}
	encode.SetIndirectPtr(buf[:], index, value)
	return m.io.WriteBlock(indirect, buf[:])
}

func (m *Manager) allocIndirectBlock() (Block, error) {
	block, err := m.alloc.AllocBlock()
	if err != nil {
		return InvalidBlock, err
	}
	var buf [BlockSize]byte
	encode.InitIndirectBlock(buf[:])
	if err := m.io.WriteBlock(block, buf[:]); err != nil {
		m.alloc.FreeBlock(block)
		return InvalidBlock, err
	}
	return block, nil
}

// forEachInodeBlock invokes fn for every data block and every indirect
// block reachable from the inode's pointers.
func (m *Manager) forEachInodeBlock(inode *Inode, fn func(Block)) error {
	for i := uint32(0); i < NumDirectBlocks; i++ {
		if inode.DirectBlocks[i] != InvalidBlock {
			fn(inode.DirectBlocks[i])
		}
	}

	if inode.SingleIndirect != InvalidBlock {
		fn(inode.SingleIndirect)

		var buf [BlockSize]byte
		if err := m.io.ReadBlock(inode.SingleIndirect, buf[:]); err == nil {
			for i := uint32(0); i < PtrsPerBlock; i++ {
				if ptr := encode.IndirectPtr(buf[:], i); ptr != InvalidBlock {
					fn(ptr)
				}
			}
		}
	}

	if inode.DoubleIndirect != InvalidBlock {
		fn(inode.DoubleIndirect)

		var l1 [BlockSize]byte
		if err := m.io.ReadBlock(inode.DoubleIndirect, l1[:]); err == nil {
			for i := uint32(0); i < PtrsPerBlock; i++ {
				l1Ptr := encode.IndirectPtr(l1[:], i)
				if l1Ptr == InvalidBlock {
					continue
				}
				fn(l1Ptr)

				var l2 [BlockSize]byte
				if err := m.io.ReadBlock(l1Ptr, l2[:]); err == nil {
					for j := uint32(0); j < PtrsPerBlock; j++ {
						if ptr := encode.IndirectPtr(l2[:], j); ptr != InvalidBlock {
							fn(ptr)
						}
					}
				}
			}
		}
	}

	return nil
}

// readDirEntries decodes one directory block.
func (m *Manager) readDirEntries(block Block, entries *[DirEntriesPerBlock]DirEntry) error {
	var buf [BlockSize]byte
	if err := m.io.ReadBlock(block, buf[:]); err != nil {
		return err
	}
	for i := uint32(0); i < DirEntriesPerBlock; i++ {
		encode.DecodeDirEntry(
			&entries[i],
			(*[DirEntrySize]byte)(buf[i*DirEntrySize:(i+1)*DirEntrySize]),
		)
	}
	return nil
}

func dirBlockCount(size uint32) uint32 {
	blocks := (size + BlockSize - 1) / BlockSize
	if blocks == 0 {
		blocks = 1
	}
	return blocks
}
