package dir

import (
	"fmt"

	"github.com/weberc2/snapfs/pkg/math"
	. "github.com/weberc2/snapfs/pkg/types"
)

// ReadFile reads up to length bytes starting at offset. length 0 means
// "to the end of the file". Offsets past the end read as empty; holes
// read as zeros.
func (d *Directory) ReadFile(path string, offset, length uint32) ([]byte, error) {
	ino, err := d.ResolvePath(path)
	if err != nil {
		return nil, err
	}
	return d.ReadFileByIno(ino, offset, length)
}

func (d *Directory) ReadFileByIno(ino Ino, offset, length uint32) ([]byte, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	var inode Inode
	if err := d.readInode(ino, &inode); err != nil {
		return nil, fmt.Errorf("reading file inode `%d`: %w", ino, err)
	}
	if !inode.IsRegular() {
		return nil, fmt.Errorf("reading file inode `%d`: %w", ino, IsDirErr)
	}

	if offset >= inode.Size {
		return []byte{}, nil
	}
	if length == 0 || offset+length > inode.Size {
		length = inode.Size - offset
	}

	data := make([]byte, length)
	var buf [BlockSize]byte
	var read uint32

	for read < length {
		current := offset + read
		blockIndex := current / BlockSize
		blockOffset := current % BlockSize
		toRead := math.Min(BlockSize-blockOffset, length-read)

		block, err := d.fileBlock(&inode, blockIndex)
		if err != nil {
			// hole: contributes zeros (data is zeroed already)
		} else {
			if err := d.readBlock(block, buf[:]); err != nil {
				return nil, fmt.Errorf("reading file inode `%d`: %w", ino, err)
			}
			copy(data[read:read+toRead], buf[blockOffset:blockOffset+toRead])
		}

		read += toRead
	}

	touchAccess(&inode)
	d.writeInode(ino, &inode)

	return data, nil
}

// WriteFile writes data at offset, allocating blocks lazily and copying
// any snapshot-shared block before modifying it. Returns the byte count
// written; a failure after the first byte reports the partial count as
// success.
func (d *Directory) WriteFile(path string, data []byte, offset uint32) (uint32, error) {
	ino, err := d.ResolvePath(path)
	if err != nil {
		return 0, err
	}
	return d.WriteFileByIno(ino, data, offset)
}

func (d *Directory) WriteFileByIno(ino Ino, data []byte, offset uint32) (uint32, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	var inode Inode
	if err := d.readInode(ino, &inode); err != nil {
		return 0, fmt.Errorf("writing file inode `%d`: %w", ino, err)
	}
	if !inode.IsRegular() {
		return 0, fmt.Errorf("writing file inode `%d`: %w", ino, IsDirErr)
	}

	writeEnd := uint64(offset) + uint64(len(data))
	if writeEnd > MaxFileSize {
		return 0, fmt.Errorf(
			"writing `%d` bytes at offset `%d`: %w",
			len(data),
			offset,
			FileTooLargeErr,
		)
	}

	var buf [BlockSize]byte
	var written uint32
	length := uint32(len(data))

	for written < length {
		current := offset + written
		blockIndex := current / BlockSize
		blockOffset := current % BlockSize
		toWrite := math.Min(BlockSize-blockOffset, length-written)

		block, err := d.allocFileBlock(&inode, ino, blockIndex)
		if err != nil {
			if written > 0 {
				break
			}
			return 0, fmt.Errorf("writing file inode `%d`: %w", ino, err)
		}

		block, err = d.cowFileBlock(&inode, ino, blockIndex, block)
		if err != nil {
			if written > 0 {
				break
			}
			return 0, fmt.Errorf("writing file inode `%d`: %w", ino, err)
		}

		if blockOffset != 0 || toWrite != BlockSize {
			// partial block: read-modify-write; a fresh block that fails
			// to read behaves as zeros
			if err := d.readBlock(block, buf[:]); err != nil {
				for i := range buf {
					buf[i] = 0
				}
			}
		}
		copy(buf[blockOffset:blockOffset+toWrite], data[written:written+toWrite])

		if err := d.writeBlock(block, buf[:]); err != nil {
			if written > 0 {
				break
			}
			return 0, fmt.Errorf("writing file inode `%d`: %w", ino, err)
		}

		written += toWrite
	}

	// allocFileBlock wrote pointer updates through to the inode table, so
	// re-read before the final size/time update
	if err := d.readInode(ino, &inode); err == nil {
		if end := uint32(writeEnd); end > inode.Size && written == length {
			inode.Size = end
		} else if offset+written > inode.Size {
			inode.Size = offset + written
		}
		touchModify(&inode)
		d.writeInode(ino, &inode)
	}

	return written, nil
}

// AppendFile writes at the current end of the file.
func (d *Directory) AppendFile(path string, data []byte) (uint32, error) {
	ino, err := d.ResolvePath(path)
	if err != nil {
		return 0, err
	}
	stat, err := d.StatInode(ino)
	if err != nil {
		return 0, err
	}
	return d.WriteFileByIno(ino, data, stat.Size)
}

// Truncate shrinks or extends the file. Shrinking frees every block at
// or past the new end; extending only grows the size — reads of the new
// region return zeros until written.
func (d *Directory) Truncate(path string, newSize uint32) error {
	ino, err := d.ResolvePath(path)
	if err != nil {
		return err
	}

	d.mutex.Lock()
	defer d.mutex.Unlock()

	var inode Inode
	if err := d.readInode(ino, &inode); err != nil {
		return fmt.Errorf("truncating `%s`: %w", path, err)
	}
	if !inode.IsRegular() {
		return fmt.Errorf("truncating `%s`: %w", path, IsDirErr)
	}

	if newSize < inode.Size {
		newBlocks := (newSize + BlockSize - 1) / BlockSize
		oldBlocks := (inode.Size + BlockSize - 1) / BlockSize
		if newBlocks < oldBlocks {
			d.freeFileBlocks(&inode, newBlocks)
		}

		// zero the cut-off tail of the last kept block so a later
		// extension reads zeros there
		if tail := newSize % BlockSize; tail != 0 {
			index := newSize / BlockSize
			if block, err := d.fileBlock(&inode, index); err == nil {
				var buf [BlockSize]byte
				if block, err = d.cowFileBlock(&inode, ino, index, block); err == nil {
					if err = d.readBlock(block, buf[:]); err == nil {
						clear(buf[tail:])
						err = d.writeBlock(block, buf[:])
					}
				}
				if err != nil {
					return fmt.Errorf("truncating `%s`: %w", path, err)
				}
			}
		}
	}
	inode.Size = newSize

	touchModify(&inode)
	return d.writeInode(ino, &inode)
}
