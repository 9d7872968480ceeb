package disk

import (
	"fmt"
	"os"
	"sync"

	"github.com/weberc2/snapfs/pkg/encode"
	. "github.com/weberc2/snapfs/pkg/types"
)

// DiskImage is raw block-addressed storage over a single fixed-size
// file. It is the only component that touches the OS file; everything
// above it speaks in block numbers.
type DiskImage struct {
	mutex       sync.Mutex
	file        *os.File
	path        string
	totalBlocks uint32
	stats       IOStats
}

// Create makes a new image file of exactly totalBlocks blocks, zero-
// filled, and leaves it open.
func Create(path string, totalBlocks uint32) (*DiskImage, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("creating disk image `%s`: %v: %w", path, err, IOErr)
	}

	zero := make([]byte, BlockSize)
	for i := uint32(0); i < totalBlocks; i++ {
		if _, err := file.Write(zero); err != nil {
			file.Close()
			return nil, fmt.Errorf(
				"zero-filling disk image `%s` at block `%d`: %v: %w",
				path,
				i,
				err,
				IOErr,
			)
		}
	}

	if err := file.Sync(); err != nil {
		file.Close()
		return nil, fmt.Errorf("syncing new disk image `%s`: %v: %w", path, err, IOErr)
	}

	return &DiskImage{file: file, path: path, totalBlocks: totalBlocks}, nil
}

// Open opens an existing image. The block count is derived from the file
// size; a file that is not a whole number of blocks is rejected.
func Open(path string) (*DiskImage, error) {
	file, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening disk image `%s`: %v: %w", path, err, IOErr)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("statting disk image `%s`: %v: %w", path, err, IOErr)
	}

	size := info.Size()
	if size == 0 || size%int64(BlockSize) != 0 {
		file.Close()
		return nil, fmt.Errorf(
			"disk image `%s` size `%d` is not a whole number of blocks: %w",
			path,
			size,
			InvalidParamErr,
		)
	}

	return &DiskImage{
		file:        file,
		path:        path,
		totalBlocks: uint32(size / int64(BlockSize)),
	}, nil
}

func (disk *DiskImage) Close() error {
	disk.mutex.Lock()
	defer disk.mutex.Unlock()

	if disk.file == nil {
		return nil
	}
	err := disk.file.Close()
	disk.file = nil
	if err != nil {
		return fmt.Errorf("closing disk image `%s`: %v: %w", disk.path, err, IOErr)
	}
	return nil
}

func (disk *DiskImage) ReadBlock(block Block, p []byte) error {
	disk.mutex.Lock()
	defer disk.mutex.Unlock()
	return disk.readBlock(block, p)
}

func (disk *DiskImage) readBlock(block Block, p []byte) error {
	if err := disk.checkRange(block, 1, p); err != nil {
		return err
	}
	if _, err := disk.file.ReadAt(
		p[:BlockSize],
		int64(block)*int64(BlockSize),
	); err != nil {
		return fmt.Errorf("reading block `%d`: %v: %w", block, err, IOErr)
	}
	disk.stats.Reads++
	disk.stats.BytesRead += uint64(BlockSize)
	return nil
}

func (disk *DiskImage) WriteBlock(block Block, p []byte) error {
	disk.mutex.Lock()
	defer disk.mutex.Unlock()
	return disk.writeBlock(block, p)
}

func (disk *DiskImage) writeBlock(block Block, p []byte) error {
	if err := disk.checkRange(block, 1, p); err != nil {
		return err
	}
	if _, err := disk.file.WriteAt(
		p[:BlockSize],
		int64(block)*int64(BlockSize),
	); err != nil {
		return fmt.Errorf("writing block `%d`: %v: %w", block, err, IOErr)
	}
	disk.stats.Writes++
	disk.stats.BytesWritten += uint64(BlockSize)
	return nil
}

func (disk *DiskImage) ReadBlocks(start Block, count uint32, p []byte) error {
	disk.mutex.Lock()
	defer disk.mutex.Unlock()

	if err := disk.checkRange(start, count, p); err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		if err := disk.readBlock(
			start+Block(i),
			p[i*BlockSize:(i+1)*BlockSize],
		); err != nil {
			return err
		}
	}
	return nil
}

func (disk *DiskImage) WriteBlocks(start Block, count uint32, p []byte) error {
	disk.mutex.Lock()
	defer disk.mutex.Unlock()

	if err := disk.checkRange(start, count, p); err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		if err := disk.writeBlock(
			start+Block(i),
			p[i*BlockSize:(i+1)*BlockSize],
		); err != nil {
			return err
		}
	}
	return nil
}

func (disk *DiskImage) ZeroBlock(block Block) error {
	disk.mutex.Lock()
	defer disk.mutex.Unlock()

	zero := make([]byte, BlockSize)
	return disk.writeBlock(block, zero)
}

// Sync is the durability barrier: when it returns nil every previously
// accepted write is on stable storage.
func (disk *DiskImage) Sync() error {
	disk.mutex.Lock()
	defer disk.mutex.Unlock()

	if disk.file == nil {
		return fmt.Errorf("syncing closed disk image: %w", InvalidParamErr)
	}
	if err := disk.file.Sync(); err != nil {
		return fmt.Errorf("syncing disk image `%s`: %v: %w", disk.path, err, IOErr)
	}
	return nil
}

func (disk *DiskImage) LoadSuperblock(sb *Superblock) error {
	var buf [BlockSize]byte
	if err := disk.ReadBlock(0, buf[:]); err != nil {
		return fmt.Errorf("loading superblock: %w", err)
	}
	return encode.DecodeSuperblock(sb, &buf)
}

func (disk *DiskImage) SaveSuperblock(sb *Superblock) error {
	var buf [BlockSize]byte
	encode.EncodeSuperblock(sb, &buf)
	if err := disk.WriteBlock(0, buf[:]); err != nil {
		return fmt.Errorf("saving superblock: %w", err)
	}
	return nil
}

func (disk *DiskImage) TotalBlocks() uint32 { return disk.totalBlocks }

func (disk *DiskImage) Path() string { return disk.path }

func (disk *DiskImage) Stats() IOStats {
	disk.mutex.Lock()
	defer disk.mutex.Unlock()
	return disk.stats
}

func (disk *DiskImage) ResetStats() {
	disk.mutex.Lock()
	defer disk.mutex.Unlock()
	disk.stats = IOStats{}
}

func (disk *DiskImage) checkRange(start Block, count uint32, p []byte) error {
	if disk.file == nil {
		return fmt.Errorf("disk image is closed: %w", InvalidParamErr)
	}
	if uint64(start)+uint64(count) > uint64(disk.totalBlocks) {
		return fmt.Errorf(
			"block range [`%d`, `%d`) exceeds total blocks `%d`: %w",
			start,
			uint64(start)+uint64(count),
			disk.totalBlocks,
			InvalidParamErr,
		)
	}
	if uint64(len(p)) < uint64(count)*uint64(BlockSize) {
		return fmt.Errorf(
			"buffer of `%d` bytes is too small for `%d` blocks: %w",
			len(p),
			count,
			InvalidParamErr,
		)
	}
	return nil
}

var _ BlockIO = (*DiskImage)(nil)
