package alloc_test

import (
	"errors"
	"path/filepath"
	"testing"

	. "github.com/weberc2/snapfs/pkg/alloc"
	"github.com/weberc2/snapfs/pkg/disk"
	. "github.com/weberc2/snapfs/pkg/types"
)

func newTestAllocator(t *testing.T) (*Allocator, *disk.DiskImage) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "fs.img")
	if _, err := disk.Mkfs(path, disk.MkfsOptions{
		TotalBlocks: 2048,
		TotalInodes: 128,
	}); err != nil {
		t.Fatalf("Mkfs(): unexpected err: %v", err)
	}

	image, err := disk.Open(path)
	if err != nil {
		t.Fatalf("Open(): unexpected err: %v", err)
	}
	t.Cleanup(func() { image.Close() })

	a := New(image)
	if err := a.Load(); err != nil {
		t.Fatalf("Load(): unexpected err: %v", err)
	}
	return a, image
}

func TestLoadCounters(t *testing.T) {
	a, _ := newTestAllocator(t)

	if a.UsedInodeCount() != 1 {
		t.Fatalf("used inodes: wanted `1`; found `%d`", a.UsedInodeCount())
	}
	if a.FreeInodeCount() != 127 {
		t.Fatalf("free inodes: wanted `127`; found `%d`", a.FreeInodeCount())
	}
	if a.UsedBlockCount() != 1 {
		t.Fatalf("used blocks: wanted `1`; found `%d`", a.UsedBlockCount())
	}
	if !a.IsInodeAllocated(RootIno) {
		t.Fatal("root inode: wanted allocated; found free")
	}
}

func TestAllocInodeDeterministic(t *testing.T) {
	a, _ := newTestAllocator(t)

	// first-fit gives ids in ascending order: root holds 0
	for wanted := Ino(1); wanted <= 3; wanted++ {
		ino, err := a.AllocInode()
		if err != nil {
			t.Fatalf("AllocInode(): unexpected err: %v", err)
		}
		if ino != wanted {
			t.Fatalf("ino: wanted `%d`; found `%d`", wanted, ino)
		}
	}

	// freeing the middle id makes it the next candidate
	if err := a.FreeInode(2); err != nil {
		t.Fatalf("FreeInode(): unexpected err: %v", err)
	}
	ino, err := a.AllocInode()
	if err != nil {
		t.Fatalf("AllocInode(): unexpected err: %v", err)
	}
	if ino != 2 {
		t.Fatalf("reused ino: wanted `2`; found `%d`", ino)
	}
}

func TestFreeInodeRefusesRoot(t *testing.T) {
	a, _ := newTestAllocator(t)

	if err := a.FreeInode(RootIno); !errors.Is(err, PermissionErr) {
		t.Fatalf("FreeInode(root): wanted `%v`; found `%v`", PermissionErr, err)
	}
}

func TestInodeExhaustion(t *testing.T) {
	a, _ := newTestAllocator(t)

	for i := uint32(1); i < 128; i++ {
		if _, err := a.AllocInode(); err != nil {
			t.Fatalf("AllocInode() %d: unexpected err: %v", i, err)
		}
	}
	if _, err := a.AllocInode(); !errors.Is(err, NoInodeErr) {
		t.Fatalf("AllocInode(full): wanted `%v`; found `%v`", NoInodeErr, err)
	}
}

func TestInodeRoundTrip(t *testing.T) {
	a, _ := newTestAllocator(t)

	ino, err := a.AllocInode()
	if err != nil {
		t.Fatalf("AllocInode(): unexpected err: %v", err)
	}

	// a freshly allocated slot reads back as FREE with absent pointers
	var fresh Inode
	if err := a.ReadInode(ino, &fresh); err != nil {
		t.Fatalf("ReadInode(): unexpected err: %v", err)
	}
	if fresh.IsValid() {
		t.Fatalf("fresh inode: wanted FREE; found `%v`", fresh.Type)
	}
	for i := range fresh.DirectBlocks {
		if fresh.DirectBlocks[i] != InvalidBlock {
			t.Fatalf("fresh direct[%d]: wanted invalid; found `%d`", i, fresh.DirectBlocks[i])
		}
	}

	var inode Inode
	inode.Init(FileTypeRegular)
	inode.Size = 4096
	inode.DirectBlocks[0] = 19
	if err := a.WriteInode(ino, &inode); err != nil {
		t.Fatalf("WriteInode(): unexpected err: %v", err)
	}

	var read Inode
	if err := a.ReadInode(ino, &read); err != nil {
		t.Fatalf("ReadInode(): unexpected err: %v", err)
	}
	if read != inode {
		t.Fatalf("inode: wanted `%+v`; found `%+v`", inode, read)
	}
}

func TestAllocBlockZeroFillsAndCounts(t *testing.T) {
	a, image := newTestAllocator(t)

	freeBefore := a.FreeBlockCount()

	block, err := a.AllocBlock()
	if err != nil {
		t.Fatalf("AllocBlock(): unexpected err: %v", err)
	}
	// first-fit after the root directory block
	if block != a.Superblock().DataBlockStart+1 {
		t.Fatalf(
			"block: wanted `%d`; found `%d`",
			a.Superblock().DataBlockStart+1,
			block,
		)
	}
	if a.BlockRef(block) != 1 {
		t.Fatalf("refcount: wanted `1`; found `%d`", a.BlockRef(block))
	}
	if a.FreeBlockCount() != freeBefore-1 {
		t.Fatalf(
			"free blocks: wanted `%d`; found `%d`",
			freeBefore-1,
			a.FreeBlockCount(),
		)
	}

	buf := make([]byte, BlockSize)
	if err := image.ReadBlock(block, buf); err != nil {
		t.Fatalf("ReadBlock(): unexpected err: %v", err)
	}
	for i := range buf {
		if buf[i] != 0 {
			t.Fatalf("new block byte %d: wanted `0`; found `%d`", i, buf[i])
		}
	}

	if err := a.FreeBlock(block); err != nil {
		t.Fatalf("FreeBlock(): unexpected err: %v", err)
	}
	if a.FreeBlockCount() != freeBefore {
		t.Fatalf(
			"free blocks after free: wanted `%d`; found `%d`",
			freeBefore,
			a.FreeBlockCount(),
		)
	}
	if a.IsBlockAllocated(block) {
		t.Fatal("block: wanted unallocated; found allocated")
	}
}

func TestAllocBlocksBatchRollsBack(t *testing.T) {
	a, _ := newTestAllocator(t)

	free := a.FreeBlockCount()

	if _, err := a.AllocBlocks(free + 1); !errors.Is(err, NoSpaceErr) {
		t.Fatalf("AllocBlocks(too many): wanted `%v`; found `%v`", NoSpaceErr, err)
	}
	if a.FreeBlockCount() != free {
		t.Fatalf(
			"free blocks after rollback: wanted `%d`; found `%d`",
			free,
			a.FreeBlockCount(),
		)
	}

	blocks, err := a.AllocBlocks(5)
	if err != nil {
		t.Fatalf("AllocBlocks(5): unexpected err: %v", err)
	}
	if len(blocks) != 5 {
		t.Fatalf("batch size: wanted `5`; found `%d`", len(blocks))
	}
	if err := a.FreeBlocks(blocks); err != nil {
		t.Fatalf("FreeBlocks(): unexpected err: %v", err)
	}
}

func TestRefcountSharing(t *testing.T) {
	a, _ := newTestAllocator(t)

	block, err := a.AllocBlock()
	if err != nil {
		t.Fatalf("AllocBlock(): unexpected err: %v", err)
	}

	if _, err := a.IncBlockRef(block); err != nil {
		t.Fatalf("IncBlockRef(): unexpected err: %v", err)
	}
	if a.BlockRef(block) != 2 {
		t.Fatalf("refcount: wanted `2`; found `%d`", a.BlockRef(block))
	}

	// freeing a shared block only drops a reference
	used := a.UsedBlockCount()
	if err := a.FreeBlock(block); err != nil {
		t.Fatalf("FreeBlock(shared): unexpected err: %v", err)
	}
	if !a.IsBlockAllocated(block) {
		t.Fatal("shared block: wanted still allocated; found freed")
	}
	if a.UsedBlockCount() != used {
		t.Fatalf("used blocks: wanted `%d`; found `%d`", used, a.UsedBlockCount())
	}

	// the last reference actually frees it
	if err := a.FreeBlock(block); err != nil {
		t.Fatalf("FreeBlock(last): unexpected err: %v", err)
	}
	if a.IsBlockAllocated(block) {
		t.Fatal("block: wanted freed; found allocated")
	}
}

func TestDecBlockRefUnderflow(t *testing.T) {
	a, _ := newTestAllocator(t)

	block, err := a.AllocBlock()
	if err != nil {
		t.Fatalf("AllocBlock(): unexpected err: %v", err)
	}
	if _, err := a.DecBlockRef(block); err != nil {
		t.Fatalf("DecBlockRef(): unexpected err: %v", err)
	}
	if _, err := a.DecBlockRef(block); !errors.Is(err, InternalErr) {
		t.Fatalf("DecBlockRef(zero): wanted `%v`; found `%v`", InternalErr, err)
	}
}

func TestIncBlockRefSaturates(t *testing.T) {
	a, _ := newTestAllocator(t)

	block, err := a.AllocBlock()
	if err != nil {
		t.Fatalf("AllocBlock(): unexpected err: %v", err)
	}
	for i := 0; i < 254; i++ {
		if _, err := a.IncBlockRef(block); err != nil {
			t.Fatalf("IncBlockRef() %d: unexpected err: %v", i, err)
		}
	}
	if _, err := a.IncBlockRef(block); !errors.Is(err, InternalErr) {
		t.Fatalf("IncBlockRef(255): wanted `%v`; found `%v`", InternalErr, err)
	}
}

func TestSyncPersistsBitmaps(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fs.img")
	if _, err := disk.Mkfs(path, disk.MkfsOptions{
		TotalBlocks: 2048,
		TotalInodes: 128,
	}); err != nil {
		t.Fatalf("Mkfs(): unexpected err: %v", err)
	}

	image, err := disk.Open(path)
	if err != nil {
		t.Fatalf("Open(): unexpected err: %v", err)
	}
	defer image.Close()

	a := New(image)
	if err := a.Load(); err != nil {
		t.Fatalf("Load(): unexpected err: %v", err)
	}

	ino, err := a.AllocInode()
	if err != nil {
		t.Fatalf("AllocInode(): unexpected err: %v", err)
	}
	block, err := a.AllocBlock()
	if err != nil {
		t.Fatalf("AllocBlock(): unexpected err: %v", err)
	}
	if err := a.Sync(); err != nil {
		t.Fatalf("Sync(): unexpected err: %v", err)
	}

	reloaded := New(image)
	if err := reloaded.Load(); err != nil {
		t.Fatalf("Load(): unexpected err: %v", err)
	}
	if !reloaded.IsInodeAllocated(ino) {
		t.Fatalf("inode `%d`: wanted allocated after reload; found free", ino)
	}
	if !reloaded.IsBlockAllocated(block) {
		t.Fatalf("block `%d`: wanted allocated after reload; found free", block)
	}
	if reloaded.UsedInodeCount() != 2 {
		t.Fatalf("used inodes: wanted `2`; found `%d`", reloaded.UsedInodeCount())
	}
}

func TestCheckConsistencyFixesCounters(t *testing.T) {
	a, _ := newTestAllocator(t)

	if err := a.CheckConsistency(false); err != nil {
		t.Fatalf("CheckConsistency(clean): unexpected err: %v", err)
	}

	// skew the counters; the bitmaps are ground truth
	a.MutateSuperblock(func(sb *Superblock) {
		sb.UsedInodes = 50
		sb.FreeInodes = 1
	})

	if err := a.CheckConsistency(false); !errors.Is(err, InternalErr) {
		t.Fatalf("CheckConsistency(skewed): wanted `%v`; found `%v`", InternalErr, err)
	}
	if err := a.CheckConsistency(true); err != nil {
		t.Fatalf("CheckConsistency(fix): unexpected err: %v", err)
	}
	if a.UsedInodeCount() != 1 || a.FreeInodeCount() != 127 {
		t.Fatalf(
			"counters after fix: wanted 1/127; found %d/%d",
			a.UsedInodeCount(),
			a.FreeInodeCount(),
		)
	}
}

func TestReconcileUsageReclaimsOrphans(t *testing.T) {
	a, _ := newTestAllocator(t)

	orphanIno, err := a.AllocInode()
	if err != nil {
		t.Fatalf("AllocInode(): unexpected err: %v", err)
	}
	orphanBlock, err := a.AllocBlock()
	if err != nil {
		t.Fatalf("AllocBlock(): unexpected err: %v", err)
	}

	usedInodes := map[Ino]struct{}{RootIno: {}}
	usedBlocks := map[Block]struct{}{a.Superblock().DataBlockStart: {}}

	report, err := a.ReconcileUsage(usedInodes, usedBlocks, false)
	if err != nil {
		t.Fatalf("ReconcileUsage(): unexpected err: %v", err)
	}
	if len(report.OrphanInodes) != 1 || report.OrphanInodes[0] != orphanIno {
		t.Fatalf("orphan inodes: wanted `[%d]`; found `%v`", orphanIno, report.OrphanInodes)
	}
	if len(report.OrphanBlocks) != 1 || report.OrphanBlocks[0] != orphanBlock {
		t.Fatalf(
			"orphan blocks: wanted `[%d]`; found `%v`",
			orphanBlock,
			report.OrphanBlocks,
		)
	}

	// fix reclaims both
	if _, err := a.ReconcileUsage(usedInodes, usedBlocks, true); err != nil {
		t.Fatalf("ReconcileUsage(fix): unexpected err: %v", err)
	}
	if a.IsInodeAllocated(orphanIno) {
		t.Fatal("orphan inode: wanted reclaimed; found allocated")
	}
	if a.IsBlockAllocated(orphanBlock) {
		t.Fatal("orphan block: wanted reclaimed; found allocated")
	}
	if a.UsedInodeCount() != 1 || a.UsedBlockCount() != 1 {
		t.Fatalf(
			"counters: wanted 1/1; found %d/%d",
			a.UsedInodeCount(),
			a.UsedBlockCount(),
		)
	}
}

func TestBitmapBitOrder(t *testing.T) {
	// bit i lives at bytes[i/8] & (1 << (i%8)) — the on-disk convention
	bytes := make([]byte, 2)
	bm := NewBitmap(bytes, 16)

	bm.Set(0)
	bm.Set(9)
	if bytes[0] != 0x01 {
		t.Fatalf("byte 0: wanted `0x01`; found `%#x`", bytes[0])
	}
	if bytes[1] != 0x02 {
		t.Fatalf("byte 1: wanted `0x02`; found `%#x`", bytes[1])
	}

	index, ok := bm.FindFirstFree()
	if !ok || index != 1 {
		t.Fatalf("first free: wanted `1`; found `%d` (ok=%t)", index, ok)
	}

	bm.Clear(0)
	if bm.Get(0) {
		t.Fatal("bit 0: wanted clear; found set")
	}
	if bm.CountUsed() != 1 {
		t.Fatalf("count used: wanted `1`; found `%d`", bm.CountUsed())
	}
}
