package types

// Inode is the 128-byte per-file metadata record; 8 fit in one block.
type Inode struct {
	Type        FileType
	Permissions uint8
	Flags       uint16

	Size      uint32
	LinkCount uint16
	RefCount  uint16

	CreateTime int64
	ModifyTime int64
	AccessTime int64

	DirectBlocks   [NumDirectBlocks]Block
	SingleIndirect Block
	DoubleIndirect Block

	BlockCount uint32
	Checksum   uint32
}

// Init resets the inode to a freshly allocated record of the given type
// with every block pointer absent.
func (inode *Inode) Init(t FileType) {
	*inode = Inode{
		Type:        t,
		Permissions: 0x07,
		LinkCount:   1,
		RefCount:    1,
	}
	inode.invalidatePointers()
}

// Clear resets the inode to the FREE state written for deallocated slots.
func (inode *Inode) Clear() {
	*inode = Inode{Type: FileTypeFree}
	inode.invalidatePointers()
}

func (inode *Inode) invalidatePointers() {
	for i := range inode.DirectBlocks {
		inode.DirectBlocks[i] = InvalidBlock
	}
	inode.SingleIndirect = InvalidBlock
	inode.DoubleIndirect = InvalidBlock
}

func (inode *Inode) IsValid() bool     { return inode.Type != FileTypeFree }
func (inode *Inode) IsDirectory() bool { return inode.Type == FileTypeDir }
func (inode *Inode) IsRegular() bool   { return inode.Type == FileTypeRegular }

// FileStat is the externally visible subset of an inode.
type FileStat struct {
	Ino        Ino
	Type       FileType
	Size       uint32
	LinkCount  uint16
	CreateTime int64
	ModifyTime int64
	AccessTime int64
	Blocks     uint32
}
