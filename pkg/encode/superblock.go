package encode

import (
	"fmt"

	. "github.com/weberc2/snapfs/pkg/types"
)

// EncodeSuperblock writes the superblock into a full block-sized buffer.
// Bytes past the fixed 112-byte prefix are zeroed.
func EncodeSuperblock(sb *Superblock, b *[BlockSize]byte) {
	p := b[:]
	for i := range p {
		p[i] = 0
	}

	putU32(p, sbMagicStart, sb.Magic)
	putU32(p, sbVersionStart, sb.Version)
	putU32(p, sbBlockSizeStart, sb.BlockSize)
	putU32(p, sbTotalBlocksStart, sb.TotalBlocks)
	putU32(p, sbTotalInodesStart, sb.TotalInodes)
	putU32(p, sbBlocksPerGroupStart, sb.BlocksPerGroup)
	putU32(p, sbInodesPerGroupStart, sb.InodesPerGroup)
	putBlock(p, sbInodeBitmapStartStart, sb.InodeBitmapStart)
	putU32(p, sbInodeBitmapBlocksStart, sb.InodeBitmapBlocks)
	putBlock(p, sbBlockBitmapStartStart, sb.BlockBitmapStart)
	putU32(p, sbBlockBitmapBlocksStart, sb.BlockBitmapBlocks)
	putBlock(p, sbInodeTableStartStart, sb.InodeTableStart)
	putU32(p, sbFreeBlocksStart, sb.FreeBlocks)
	putU32(p, sbFreeInodesStart, sb.FreeInodes)
	putU32(p, sbUsedBlocksStart, sb.UsedBlocks)
	putU32(p, sbUsedInodesStart, sb.UsedInodes)
	putBlock(p, sbDataBlockStartStart, sb.DataBlockStart)
	putU32(p, sbDataBlockCountStart, sb.DataBlockCount)
	putU32(p, sbSnapshotCountStart, sb.SnapshotCount)
	putBlock(p, sbSnapshotListBlockStart, sb.SnapshotListBlock)
	putI64(p, sbCreateTimeStart, sb.CreateTime)
	putI64(p, sbMountTimeStart, sb.MountTime)
	putI64(p, sbWriteTimeStart, sb.WriteTime)
	putU32(p, sbStateStart, sb.State)
	putIno(p, sbRootInodeStart, sb.RootInode)
}

// DecodeSuperblock parses and validates block 0. The pointee is only
// mutated once validation has passed.
func DecodeSuperblock(sb *Superblock, b *[BlockSize]byte) error {
	p := b[:]

	var decoded Superblock
	decoded.Magic = getU32(p, sbMagicStart)
	decoded.Version = getU32(p, sbVersionStart)
	decoded.BlockSize = getU32(p, sbBlockSizeStart)
	decoded.TotalBlocks = getU32(p, sbTotalBlocksStart)
	decoded.TotalInodes = getU32(p, sbTotalInodesStart)
	decoded.BlocksPerGroup = getU32(p, sbBlocksPerGroupStart)
	decoded.InodesPerGroup = getU32(p, sbInodesPerGroupStart)
	decoded.InodeBitmapStart = getBlock(p, sbInodeBitmapStartStart)
	decoded.InodeBitmapBlocks = getU32(p, sbInodeBitmapBlocksStart)
	decoded.BlockBitmapStart = getBlock(p, sbBlockBitmapStartStart)
	decoded.BlockBitmapBlocks = getU32(p, sbBlockBitmapBlocksStart)
	decoded.InodeTableStart = getBlock(p, sbInodeTableStartStart)
	decoded.FreeBlocks = getU32(p, sbFreeBlocksStart)
	decoded.FreeInodes = getU32(p, sbFreeInodesStart)
	decoded.UsedBlocks = getU32(p, sbUsedBlocksStart)
	decoded.UsedInodes = getU32(p, sbUsedInodesStart)
	decoded.DataBlockStart = getBlock(p, sbDataBlockStartStart)
	decoded.DataBlockCount = getU32(p, sbDataBlockCountStart)
	decoded.SnapshotCount = getU32(p, sbSnapshotCountStart)
	decoded.SnapshotListBlock = getBlock(p, sbSnapshotListBlockStart)
	decoded.CreateTime = getI64(p, sbCreateTimeStart)
	decoded.MountTime = getI64(p, sbMountTimeStart)
	decoded.WriteTime = getI64(p, sbWriteTimeStart)
	decoded.State = getU32(p, sbStateStart)
	decoded.RootInode = getIno(p, sbRootInodeStart)

	if err := decoded.Validate(); err != nil {
		return fmt.Errorf("decoding superblock: %w", err)
	}

	*sb = decoded
	return nil
}

const (
	sbMagicStart   = 0
	sbVersionStart = sbMagicStart + 4

	sbBlockSizeStart      = sbVersionStart + 4
	sbTotalBlocksStart    = sbBlockSizeStart + 4
	sbTotalInodesStart    = sbTotalBlocksStart + 4
	sbBlocksPerGroupStart = sbTotalInodesStart + 4
	sbInodesPerGroupStart = sbBlocksPerGroupStart + 4

	sbInodeBitmapStartStart  = sbInodesPerGroupStart + 4
	sbInodeBitmapBlocksStart = sbInodeBitmapStartStart + 4
	sbBlockBitmapStartStart  = sbInodeBitmapBlocksStart + 4
	sbBlockBitmapBlocksStart = sbBlockBitmapStartStart + 4
	sbInodeTableStartStart   = sbBlockBitmapBlocksStart + 4

	sbFreeBlocksStart = sbInodeTableStartStart + 4
	sbFreeInodesStart = sbFreeBlocksStart + 4
	sbUsedBlocksStart = sbFreeInodesStart + 4
	sbUsedInodesStart = sbUsedBlocksStart + 4

	sbDataBlockStartStart = sbUsedInodesStart + 4
	sbDataBlockCountStart = sbDataBlockStartStart + 4

	sbSnapshotCountStart     = sbDataBlockCountStart + 4
	sbSnapshotListBlockStart = sbSnapshotCountStart + 4

	sbCreateTimeStart = sbSnapshotListBlockStart + 4
	sbMountTimeStart  = sbCreateTimeStart + 8
	sbWriteTimeStart  = sbMountTimeStart + 8

	sbStateStart     = sbWriteTimeStart + 8
	sbRootInodeStart = sbStateStart + 4

	sbEnd = sbRootInodeStart + 4
)
