package disk

import (
	"fmt"
	"os"
	"time"

	"github.com/weberc2/snapfs/pkg/alloc"
	"github.com/weberc2/snapfs/pkg/encode"
	. "github.com/weberc2/snapfs/pkg/types"
)

type MkfsOptions struct {
	TotalBlocks uint32
	TotalInodes uint32
	Force       bool
}

// MkfsReport describes the layout of a freshly formatted image.
type MkfsReport struct {
	TotalBlocks       uint32
	TotalInodes       uint32
	InodeBitmapStart  Block
	InodeBitmapBlocks uint32
	BlockBitmapStart  Block
	BlockBitmapBlocks uint32
	InodeTableStart   Block
	DataBlockStart    Block
	DataBlockCount    uint32
	FreeBlocks        uint32
	FreeInodes        uint32
}

// Mkfs formats a new filesystem image: zero-filled file, bitmaps with
// inode 0 and data block 0 reserved for the root directory, the root
// inode, the root directory block holding `.` and `..`, and finally the
// superblock with derived counters.
func Mkfs(path string, options MkfsOptions) (*MkfsReport, error) {
	if options.TotalBlocks < MinTotalBlocks {
		return nil, fmt.Errorf(
			"total blocks `%d` is below the minimum `%d`: %w",
			options.TotalBlocks,
			MinTotalBlocks,
			InvalidParamErr,
		)
	}
	if options.TotalInodes < MinTotalInodes {
		return nil, fmt.Errorf(
			"total inodes `%d` is below the minimum `%d`: %w",
			options.TotalInodes,
			MinTotalInodes,
			InvalidParamErr,
		)
	}

	if !options.Force {
		if _, err := os.Stat(path); err == nil {
			return nil, fmt.Errorf(
				"image `%s` already exists: %w",
				path,
				AlreadyExistsErr,
			)
		}
	}

	image, err := Create(path, options.TotalBlocks)
	if err != nil {
		return nil, fmt.Errorf("formatting `%s`: %w", path, err)
	}
	defer image.Close()

	var sb Superblock
	sb.Init(options.TotalBlocks, options.TotalInodes)
	now := time.Now().Unix()
	sb.CreateTime = now
	sb.MountTime = now
	sb.WriteTime = now

	// inode bitmap: reserve inode 0 for the root directory
	inodeBitmapBytes := make([]byte, sb.InodeBitmapBlocks*BlockSize)
	alloc.NewBitmap(inodeBitmapBytes, sb.TotalInodes).Set(uint32(RootIno))
	if err := image.WriteBlocks(
		sb.InodeBitmapStart,
		sb.InodeBitmapBlocks,
		inodeBitmapBytes,
	); err != nil {
		return nil, fmt.Errorf("formatting `%s`: writing inode bitmap: %w", path, err)
	}

	// block bitmap: reserve data block 0 for the root directory contents
	blockBitmapBytes := make([]byte, sb.BlockBitmapBlocks*BlockSize)
	alloc.NewBitmap(blockBitmapBytes, sb.DataBlockCount).Set(0)
	if err := image.WriteBlocks(
		sb.BlockBitmapStart,
		sb.BlockBitmapBlocks,
		blockBitmapBytes,
	); err != nil {
		return nil, fmt.Errorf("formatting `%s`: writing block bitmap: %w", path, err)
	}

	// root inode occupies slot 0 of the first inode table block
	var root Inode
	root.Init(FileTypeDir)
	root.CreateTime = now
	root.ModifyTime = now
	root.AccessTime = now
	root.Size = 2 * DirEntrySize
	root.LinkCount = 2
	root.BlockCount = 1
	root.DirectBlocks[0] = sb.DataBlockStart

	inodeBlock := make([]byte, BlockSize)
	encode.EncodeInode(&root, (*[InodeSize]byte)(inodeBlock[:InodeSize]))
	if err := image.WriteBlock(sb.InodeTableStart, inodeBlock); err != nil {
		return nil, fmt.Errorf("formatting `%s`: writing root inode: %w", path, err)
	}

	// root directory contents: `.` and `..` both resolve to the root
	rootDirBlock := make([]byte, BlockSize)
	var entry DirEntry
	entry.Init(RootIno, ".", FileTypeDir)
	encode.EncodeDirEntry(&entry, (*[DirEntrySize]byte)(rootDirBlock[:DirEntrySize]))
	entry.Init(RootIno, "..", FileTypeDir)
	encode.EncodeDirEntry(
		&entry,
		(*[DirEntrySize]byte)(rootDirBlock[DirEntrySize:2*DirEntrySize]),
	)
	entry.Clear()
	for i := uint32(2); i < DirEntriesPerBlock; i++ {
		encode.EncodeDirEntry(
			&entry,
			(*[DirEntrySize]byte)(rootDirBlock[i*DirEntrySize:(i+1)*DirEntrySize]),
		)
	}
	if err := image.WriteBlock(sb.DataBlockStart, rootDirBlock); err != nil {
		return nil, fmt.Errorf(
			"formatting `%s`: writing root directory block: %w",
			path,
			err,
		)
	}

	sb.FreeInodes = options.TotalInodes - 1
	sb.UsedInodes = 1
	sb.FreeBlocks = sb.DataBlockCount - 1
	sb.UsedBlocks = 1

	if err := image.SaveSuperblock(&sb); err != nil {
		return nil, fmt.Errorf("formatting `%s`: %w", path, err)
	}

	if err := image.Sync(); err != nil {
		return nil, fmt.Errorf("formatting `%s`: %w", path, err)
	}

	return &MkfsReport{
		TotalBlocks:       sb.TotalBlocks,
		TotalInodes:       sb.TotalInodes,
		InodeBitmapStart:  sb.InodeBitmapStart,
		InodeBitmapBlocks: sb.InodeBitmapBlocks,
		BlockBitmapStart:  sb.BlockBitmapStart,
		BlockBitmapBlocks: sb.BlockBitmapBlocks,
		InodeTableStart:   sb.InodeTableStart,
		DataBlockStart:    sb.DataBlockStart,
		DataBlockCount:    sb.DataBlockCount,
		FreeBlocks:        sb.FreeBlocks,
		FreeInodes:        sb.FreeInodes,
	}, nil
}

// Check reports whether the file at path carries a valid superblock.
func Check(path string) bool {
	image, err := Open(path)
	if err != nil {
		return false
	}
	defer image.Close()

	var sb Superblock
	return image.LoadSuperblock(&sb) == nil
}
