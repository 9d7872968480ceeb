package types

import "github.com/weberc2/snapfs/pkg/math"

// Superblock is the block-0 metadata record. All region boundaries are
// derived from the total block and inode counts at init time and never
// move afterwards.
type Superblock struct {
	Magic   uint32
	Version uint32

	BlockSize      uint32
	TotalBlocks    uint32
	TotalInodes    uint32
	BlocksPerGroup uint32 // reserved
	InodesPerGroup uint32 // reserved

	InodeBitmapStart  Block
	InodeBitmapBlocks uint32
	BlockBitmapStart  Block
	BlockBitmapBlocks uint32
	InodeTableStart   Block

	FreeBlocks uint32
	FreeInodes uint32
	UsedBlocks uint32
	UsedInodes uint32

	DataBlockStart Block
	DataBlockCount uint32

	SnapshotCount     uint32
	SnapshotListBlock Block // 0 = none

	CreateTime int64
	MountTime  int64
	WriteTime  int64

	State uint32

	RootInode Ino
}

const superblockStateClean uint32 = 0x0001

// Init computes the on-disk layout for the given geometry. Counters start
// as if nothing is allocated; mkfs adjusts them after reserving the root.
func (sb *Superblock) Init(totalBlocks, totalInodes uint32) {
	*sb = Superblock{
		Magic:       Magic,
		Version:     Version,
		BlockSize:   BlockSize,
		TotalBlocks: totalBlocks,
		TotalInodes: totalInodes,
	}

	bitsPerBlock := BlockSize * 8

	sb.InodeBitmapStart = 1
	sb.InodeBitmapBlocks = math.DivRoundUp(totalInodes, bitsPerBlock)

	sb.BlockBitmapStart = sb.InodeBitmapStart + Block(sb.InodeBitmapBlocks)
	sb.BlockBitmapBlocks = math.DivRoundUp(totalBlocks, bitsPerBlock)

	sb.InodeTableStart = sb.BlockBitmapStart + Block(sb.BlockBitmapBlocks)
	inodeTableBlocks := math.DivRoundUp(totalInodes, InodesPerBlock)

	sb.DataBlockStart = sb.InodeTableStart + Block(inodeTableBlocks)
	sb.DataBlockCount = totalBlocks - uint32(sb.DataBlockStart)

	sb.FreeBlocks = sb.DataBlockCount
	sb.FreeInodes = totalInodes

	sb.State = superblockStateClean
	sb.RootInode = RootIno
}

func (sb *Superblock) Validate() error {
	if sb.Magic != Magic {
		return InvalidMagicErr
	}
	if sb.Version > Version {
		return UnsupportedVersionErr
	}
	if sb.BlockSize != BlockSize {
		return InvalidBlockSizeErr
	}
	if sb.TotalBlocks == 0 || sb.TotalInodes == 0 {
		return InvalidGeometryErr
	}
	return nil
}

const (
	InvalidMagicErr       ConstError = "invalid superblock magic"
	UnsupportedVersionErr ConstError = "unsupported filesystem version"
	InvalidBlockSizeErr   ConstError = "invalid block size"
	InvalidGeometryErr    ConstError = "invalid filesystem geometry"
)
