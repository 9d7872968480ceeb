package encode

import (
	"encoding/binary"
	"testing"

	. "github.com/weberc2/snapfs/pkg/types"
)

func TestSuperblockRoundTrip(t *testing.T) {
	var sb Superblock
	sb.Init(2048, 128)
	sb.CreateTime = 1234567
	sb.FreeInodes = 127
	sb.UsedInodes = 1
	sb.FreeBlocks = sb.DataBlockCount - 1
	sb.UsedBlocks = 1
	sb.SnapshotCount = 3
	sb.SnapshotListBlock = 42

	var buf [BlockSize]byte
	EncodeSuperblock(&sb, &buf)

	// magic and version occupy the first 8 bytes, little-endian
	if got := binary.LittleEndian.Uint32(buf[0:4]); got != Magic {
		t.Fatalf("magic: wanted `%#x`; found `%#x`", Magic, got)
	}
	if got := binary.LittleEndian.Uint32(buf[4:8]); got != Version {
		t.Fatalf("version: wanted `%d`; found `%d`", Version, got)
	}

	var decoded Superblock
	if err := DecodeSuperblock(&decoded, &buf); err != nil {
		t.Fatalf("DecodeSuperblock(): unexpected err: %v", err)
	}
	if decoded != sb {
		t.Fatalf("superblock: wanted `%+v`; found `%+v`", sb, decoded)
	}
}

func TestSuperblockDecodeRejectsBadMagic(t *testing.T) {
	var buf [BlockSize]byte
	var sb Superblock
	if err := DecodeSuperblock(&sb, &buf); err == nil {
		t.Fatal("DecodeSuperblock(): wanted error for zeroed block; found nil")
	}
}

func TestInodeLayout(t *testing.T) {
	var inode Inode
	inode.Init(FileTypeDir)
	inode.Size = 128
	inode.LinkCount = 2
	inode.BlockCount = 1
	inode.DirectBlocks[0] = 19
	inode.CreateTime = 99

	var buf [InodeSize]byte
	EncodeInode(&inode, &buf)

	if buf[0] != uint8(FileTypeDir) {
		t.Fatalf("type byte: wanted `%d`; found `%d`", FileTypeDir, buf[0])
	}
	// direct pointer 0 lands after the 36-byte fixed prefix
	if got := binary.LittleEndian.Uint32(buf[36:40]); got != 19 {
		t.Fatalf("direct[0]: wanted `19`; found `%d`", got)
	}
	// absent pointers encode as the invalid sentinel
	if got := binary.LittleEndian.Uint32(buf[40:44]); got != uint32(InvalidBlock) {
		t.Fatalf("direct[1]: wanted `%#x`; found `%#x`", InvalidBlock, got)
	}

	var decoded Inode
	if err := DecodeInode(&decoded, &buf); err != nil {
		t.Fatalf("DecodeInode(): unexpected err: %v", err)
	}
	if decoded != inode {
		t.Fatalf("inode: wanted `%+v`; found `%+v`", inode, decoded)
	}
}

func TestDirEntryLayout(t *testing.T) {
	var entry DirEntry
	entry.Init(7, "papers", FileTypeDir)

	var buf [DirEntrySize]byte
	EncodeDirEntry(&entry, &buf)

	if got := binary.LittleEndian.Uint32(buf[0:4]); got != 7 {
		t.Fatalf("ino: wanted `7`; found `%d`", got)
	}
	if buf[4] != 6 {
		t.Fatalf("name len: wanted `6`; found `%d`", buf[4])
	}
	if string(buf[8:14]) != "papers" {
		t.Fatalf("name bytes: wanted `papers`; found `%q`", buf[8:14])
	}
	// name is NUL-padded to the end of the record
	for i := 14; i < int(DirEntrySize); i++ {
		if buf[i] != 0 {
			t.Fatalf("padding byte %d: wanted `0`; found `%d`", i, buf[i])
		}
	}

	var decoded DirEntry
	DecodeDirEntry(&decoded, &buf)
	if decoded != entry {
		t.Fatalf("direntry: wanted `%+v`; found `%+v`", entry, decoded)
	}
}

func TestClearedDirEntryIsInvalid(t *testing.T) {
	var entry DirEntry
	entry.Clear()

	var buf [DirEntrySize]byte
	EncodeDirEntry(&entry, &buf)

	var decoded DirEntry
	DecodeDirEntry(&decoded, &buf)
	if decoded.IsValid() {
		t.Fatalf("cleared entry: wanted invalid; found `%+v`", decoded)
	}
}

func TestSnapshotListRoundTrip(t *testing.T) {
	snapshots := []SnapshotInfo{
		{Name: "v1", CreateTime: 100, RootInode: 5, BlockCount: 3, Valid: true},
		{Name: "before-upgrade", CreateTime: 200, RootInode: 9, Valid: true},
	}

	var buf [BlockSize]byte
	EncodeSnapshotList(snapshots, &buf)

	if got := binary.LittleEndian.Uint32(buf[0:4]); got != 2 {
		t.Fatalf("count: wanted `2`; found `%d`", got)
	}

	decoded := DecodeSnapshotList(&buf)
	if len(decoded) != len(snapshots) {
		t.Fatalf("decoded count: wanted `%d`; found `%d`", len(snapshots), len(decoded))
	}
	for i := range snapshots {
		if decoded[i] != snapshots[i] {
			t.Fatalf(
				"snapshot %d: wanted `%+v`; found `%+v`",
				i,
				snapshots[i],
				decoded[i],
			)
		}
	}
}

func TestIndirectBlockInit(t *testing.T) {
	buf := make([]byte, BlockSize)
	InitIndirectBlock(buf)

	for i := uint32(0); i < PtrsPerBlock; i++ {
		if got := IndirectPtr(buf, i); got != InvalidBlock {
			t.Fatalf("slot %d: wanted `%#x`; found `%#x`", i, InvalidBlock, got)
		}
	}

	SetIndirectPtr(buf, 7, 1234)
	if got := IndirectPtr(buf, 7); got != 1234 {
		t.Fatalf("slot 7: wanted `1234`; found `%d`", got)
	}
	if got := IndirectPtr(buf, 8); got != InvalidBlock {
		t.Fatalf("slot 8: wanted `%#x`; found `%#x`", InvalidBlock, got)
	}
}
