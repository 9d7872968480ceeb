package alloc

import (
	"fmt"

	. "github.com/weberc2/snapfs/pkg/types"
)

// AllocBlock claims the lowest free data block, sets its refcount to 1,
// and zero-fills it before returning its absolute block number. On any
// failure after claiming the bit, the bitmap change is rolled back.
func (a *Allocator) AllocBlock() (Block, error) {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	return a.allocBlock()
}

func (a *Allocator) allocBlock() (Block, error) {
	if !a.loaded {
		return InvalidBlock, fmt.Errorf("allocating block: %w", InvalidParamErr)
	}
	if a.sb.FreeBlocks == 0 {
		return InvalidBlock, fmt.Errorf("allocating block: %w", NoSpaceErr)
	}

	index, ok := a.blockBitmap().FindFirstFree()
	if !ok {
		return InvalidBlock, fmt.Errorf("allocating block: %w", NoSpaceErr)
	}

	block := a.dataBlockToAbsolute(index)

	a.blockBitmap().Set(index)
	a.blockBitmapDirty = true
	a.refcounts[index] = 1

	zero := make([]byte, BlockSize)
	if err := a.io.WriteBlock(block, zero); err != nil {
		a.blockBitmap().Clear(index)
		a.refcounts[index] = 0
		return InvalidBlock, fmt.Errorf("zeroing new block `%d`: %w", block, err)
	}

	a.sb.UsedBlocks++
	a.sb.FreeBlocks--
	a.superblockDirty = true
	a.stats.BlockAllocs++

	return block, nil
}

// AllocBlocks allocates count blocks; on partial failure every block
// already claimed in the batch is released again.
func (a *Allocator) AllocBlocks(count uint32) ([]Block, error) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	blocks := make([]Block, 0, count)
	for i := uint32(0); i < count; i++ {
		block, err := a.allocBlock()
		if err != nil {
			for j := len(blocks) - 1; j >= 0; j-- {
				a.freeBlock(blocks[j])
			}
			return nil, fmt.Errorf(
				"allocating `%d` blocks (got `%d`): %w",
				count,
				len(blocks),
				err,
			)
		}
		blocks = append(blocks, block)
	}
	return blocks, nil
}

// FreeBlock drops one reference. When other references remain the block
// stays live; when the last reference goes, the bitmap bit is cleared
// and the counters updated.
func (a *Allocator) FreeBlock(block Block) error {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	return a.freeBlock(block)
}

func (a *Allocator) freeBlock(block Block) error {
	if !a.loaded {
		return fmt.Errorf("freeing block `%d`: %w", block, InvalidParamErr)
	}

	index, ok := a.absoluteToDataBlock(block)
	if !ok {
		return fmt.Errorf("freeing non-data block `%d`: %w", block, InvalidParamErr)
	}
	if !a.blockBitmap().Get(index) {
		return fmt.Errorf("freeing unallocated block `%d`: %w", block, InvalidParamErr)
	}

	if a.refcounts[index] > 1 {
		a.refcounts[index]--
		return nil
	}

	a.refcounts[index] = 0
	a.blockBitmap().Clear(index)
	a.blockBitmapDirty = true

	a.sb.UsedBlocks--
	a.sb.FreeBlocks++
	a.superblockDirty = true
	a.stats.BlockFrees++

	return nil
}

func (a *Allocator) FreeBlocks(blocks []Block) error {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	for _, block := range blocks {
		if err := a.freeBlock(block); err != nil {
			return err
		}
	}
	return nil
}

func (a *Allocator) IsBlockAllocated(block Block) bool {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	if !a.loaded {
		return false
	}
	index, ok := a.absoluteToDataBlock(block)
	if !ok {
		return false
	}
	return a.blockBitmap().Get(index)
}

// IncBlockRef adds a snapshot reference to an allocated data block. The
// count saturates at 255; pushing past it is an internal error.
func (a *Allocator) IncBlockRef(block Block) (uint8, error) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	if !a.loaded {
		return 0, fmt.Errorf("incrementing ref of block `%d`: %w", block, InvalidParamErr)
	}
	index, ok := a.absoluteToDataBlock(block)
	if !ok {
		return 0, fmt.Errorf(
			"incrementing ref of non-data block `%d`: %w",
			block,
			InvalidParamErr,
		)
	}
	if a.refcounts[index] >= 255 {
		return a.refcounts[index], fmt.Errorf(
			"refcount overflow on block `%d`: %w",
			block,
			InternalErr,
		)
	}

	a.refcounts[index]++
	return a.refcounts[index], nil
}

// DecBlockRef removes a snapshot reference; when the count reaches zero
// the block is freed as in FreeBlock.
func (a *Allocator) DecBlockRef(block Block) (uint8, error) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	if !a.loaded {
		return 0, fmt.Errorf("decrementing ref of block `%d`: %w", block, InvalidParamErr)
	}
	index, ok := a.absoluteToDataBlock(block)
	if !ok {
		return 0, fmt.Errorf(
			"decrementing ref of non-data block `%d`: %w",
			block,
			InvalidParamErr,
		)
	}
	if a.refcounts[index] == 0 {
		return 0, fmt.Errorf(
			"refcount underflow on block `%d`: %w",
			block,
			InternalErr,
		)
	}

	a.refcounts[index]--
	if a.refcounts[index] == 0 {
		if a.blockBitmap().Get(index) {
			a.blockBitmap().Clear(index)
			a.blockBitmapDirty = true
			a.sb.UsedBlocks--
			a.sb.FreeBlocks++
			a.superblockDirty = true
			a.stats.BlockFrees++
		}
	}
	return a.refcounts[index], nil
}

func (a *Allocator) BlockRef(block Block) uint8 {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	if !a.loaded {
		return 0
	}
	index, ok := a.absoluteToDataBlock(block)
	if !ok {
		return 0
	}
	return a.refcounts[index]
}

// ResetBlockRefcounts zeroes the whole refcount table ahead of a
// reachability rebuild.
func (a *Allocator) ResetBlockRefcounts() {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	for i := range a.refcounts {
		a.refcounts[i] = 0
	}
}
