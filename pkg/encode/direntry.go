package encode

import (
	. "github.com/weberc2/snapfs/pkg/types"
)

func EncodeDirEntry(entry *DirEntry, b *[DirEntrySize]byte) {
	p := b[:]
	for i := range p {
		p[i] = 0
	}

	putIno(p, dirEntryInoStart, entry.Ino)
	putU8(p, dirEntryNameLenStart, entry.NameLen)
	putU8(p, dirEntryTypeStart, uint8(entry.Type))
	putU16(p, dirEntryRecLenStart, entry.RecLen)

	n := uint32(entry.NameLen)
	if n > MaxNameLen {
		n = MaxNameLen
	}
	copy(p[dirEntryNameStart:dirEntryNameStart+n], entry.Name)
}

// DecodeDirEntry does not validate the file type: a cleared slot is a
// legitimate on-disk state and callers skip it via IsValid.
func DecodeDirEntry(entry *DirEntry, b *[DirEntrySize]byte) {
	p := b[:]

	entry.Ino = getIno(p, dirEntryInoStart)
	entry.NameLen = getU8(p, dirEntryNameLenStart)
	entry.Type = FileType(getU8(p, dirEntryTypeStart))
	entry.RecLen = getU16(p, dirEntryRecLenStart)

	n := uint32(entry.NameLen)
	if n > MaxNameLen {
		n = MaxNameLen
	}
	entry.Name = string(p[dirEntryNameStart : dirEntryNameStart+n])
}

const (
	dirEntryInoStart     = 0
	dirEntryNameLenStart = dirEntryInoStart + 4
	dirEntryTypeStart    = dirEntryNameLenStart + 1
	dirEntryRecLenStart  = dirEntryTypeStart + 1
	dirEntryNameStart    = dirEntryRecLenStart + 2
)
