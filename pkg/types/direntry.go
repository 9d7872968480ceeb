package types

// DirEntry is one 64-byte directory record; 16 fit in one block. A slot
// whose Ino is InvalidIno is a reusable hole.
type DirEntry struct {
	Ino     Ino
	NameLen uint8
	Type    FileType
	RecLen  uint16
	Name    string
}

func (entry *DirEntry) Init(ino Ino, name string, t FileType) {
	n := len(name)
	if uint32(n) > MaxNameLen {
		n = int(MaxNameLen)
	}
	*entry = DirEntry{
		Ino:     ino,
		NameLen: uint8(n),
		Type:    t,
		RecLen:  uint16(DirEntrySize),
		Name:    name[:n],
	}
}

func (entry *DirEntry) Clear() {
	*entry = DirEntry{Ino: InvalidIno}
}

func (entry *DirEntry) IsValid() bool { return entry.Ino != InvalidIno }
