package snapshot

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/weberc2/snapfs/pkg/alloc"
	"github.com/weberc2/snapfs/pkg/dir"
	"github.com/weberc2/snapfs/pkg/disk"
	. "github.com/weberc2/snapfs/pkg/types"
)

type stack struct {
	alloc *alloc.Allocator
	dir   *dir.Directory
	snap  *Manager
}

func newTestStack(t *testing.T) *stack {
	t.Helper()

	path := filepath.Join(t.TempDir(), "fs.img")
	if _, err := disk.Mkfs(path, disk.MkfsOptions{
		TotalBlocks: 4096,
		TotalInodes: 256,
	}); err != nil {
		t.Fatalf("Mkfs(): unexpected err: %v", err)
	}

	image, err := disk.Open(path)
	if err != nil {
		t.Fatalf("Open(): unexpected err: %v", err)
	}
	t.Cleanup(func() { image.Close() })

	allocator := alloc.New(image)
	if err := allocator.Load(); err != nil {
		t.Fatalf("Load(): unexpected err: %v", err)
	}

	directory := dir.New(allocator, image)
	manager := New(allocator, image, nil)
	if err := manager.Load(); err != nil {
		t.Fatalf("Manager.Load(): unexpected err: %v", err)
	}
	if err := manager.RebuildBlockRefcounts(); err != nil {
		t.Fatalf("RebuildBlockRefcounts(): unexpected err: %v", err)
	}
	directory.SetSnapshotter(manager)

	return &stack{alloc: allocator, dir: directory, snap: manager}
}

// restore re-synchronizes allocator and refcount state the way the
// filesystem facade does after Manager.Restore.
func (s *stack) restore(t *testing.T, name string) {
	t.Helper()
	if err := s.snap.Restore(name); err != nil {
		t.Fatalf("Restore(%s): unexpected err: %v", name, err)
	}
	if err := s.alloc.Reload(); err != nil {
		t.Fatalf("Reload(): unexpected err: %v", err)
	}
	if err := s.snap.RebuildBlockRefcounts(); err != nil {
		t.Fatalf("RebuildBlockRefcounts(): unexpected err: %v", err)
	}
}

func TestCreateListDelete(t *testing.T) {
	s := newTestStack(t)

	if err := s.snap.Create("v1"); err != nil {
		t.Fatalf("Create(): unexpected err: %v", err)
	}
	if !s.snap.Exists("v1") {
		t.Fatal("v1: wanted present; found missing")
	}
	if err := s.snap.Create("v1"); !errors.Is(err, SnapshotExistsErr) {
		t.Fatalf("Create(duplicate): wanted `%v`; found `%v`", SnapshotExistsErr, err)
	}

	info, err := s.snap.Get("v1")
	if err != nil {
		t.Fatalf("Get(): unexpected err: %v", err)
	}
	if info.Name != "v1" || !info.Valid {
		t.Fatalf("info: wanted valid `v1`; found `%+v`", info)
	}
	if info.RootInode == RootIno {
		t.Fatal("snapshot root: wanted a clone, not the live root")
	}

	if err := s.snap.Delete("v1"); err != nil {
		t.Fatalf("Delete(): unexpected err: %v", err)
	}
	if s.snap.Exists("v1") {
		t.Fatal("v1: wanted gone; found present")
	}
	if err := s.snap.Delete("v1"); !errors.Is(err, SnapshotNotFoundErr) {
		t.Fatalf("Delete(gone): wanted `%v`; found `%v`", SnapshotNotFoundErr, err)
	}
}

func TestCreateNameValidation(t *testing.T) {
	s := newTestStack(t)

	if err := s.snap.Create(""); !errors.Is(err, NameTooLongErr) {
		t.Fatalf("Create(empty): wanted `%v`; found `%v`", NameTooLongErr, err)
	}

	long := make([]byte, MaxSnapshotNameLen+1)
	for i := range long {
		long[i] = 'x'
	}
	if err := s.snap.Create(string(long)); !errors.Is(err, NameTooLongErr) {
		t.Fatalf("Create(long): wanted `%v`; found `%v`", NameTooLongErr, err)
	}
}

func TestMaxSnapshots(t *testing.T) {
	s := newTestStack(t)

	for i := uint32(0); i < MaxSnapshots; i++ {
		if err := s.snap.Create(fmt.Sprintf("s%d", i)); err != nil {
			t.Fatalf("Create(s%d): unexpected err: %v", i, err)
		}
	}
	if err := s.snap.Create("overflow"); !errors.Is(err, MaxSnapshotsErr) {
		t.Fatalf("Create(16th): wanted `%v`; found `%v`", MaxSnapshotsErr, err)
	}
}

func TestSnapshotSharesFileBlocks(t *testing.T) {
	s := newTestStack(t)

	if _, err := s.dir.CreateFile("/f"); err != nil {
		t.Fatalf("CreateFile(): unexpected err: %v", err)
	}
	if _, err := s.dir.WriteFile("/f", []byte("shared bytes"), 0); err != nil {
		t.Fatalf("WriteFile(): unexpected err: %v", err)
	}

	ino, err := s.dir.ResolvePath("/f")
	if err != nil {
		t.Fatalf("ResolvePath(): unexpected err: %v", err)
	}
	var inode Inode
	if err := s.alloc.ReadInode(ino, &inode); err != nil {
		t.Fatalf("ReadInode(): unexpected err: %v", err)
	}
	dataBlock := inode.DirectBlocks[0]

	if s.alloc.BlockRef(dataBlock) != 1 {
		t.Fatalf("refcount before: wanted `1`; found `%d`", s.alloc.BlockRef(dataBlock))
	}

	if err := s.snap.Create("v1"); err != nil {
		t.Fatalf("Create(): unexpected err: %v", err)
	}

	if s.alloc.BlockRef(dataBlock) != 2 {
		t.Fatalf(
			"refcount after snapshot: wanted `2`; found `%d`",
			s.alloc.BlockRef(dataBlock),
		)
	}
	if !s.snap.NeedsCOW(dataBlock) {
		t.Fatal("NeedsCOW(): wanted `true` for shared block")
	}
}

func TestCOWRedirectsWrite(t *testing.T) {
	s := newTestStack(t)

	if _, err := s.dir.CreateFile("/f"); err != nil {
		t.Fatalf("CreateFile(): unexpected err: %v", err)
	}
	if _, err := s.dir.WriteFile("/f", []byte("original"), 0); err != nil {
		t.Fatalf("WriteFile(): unexpected err: %v", err)
	}

	ino, _ := s.dir.ResolvePath("/f")
	var before Inode
	s.alloc.ReadInode(ino, &before)
	oldBlock := before.DirectBlocks[0]

	if err := s.snap.Create("v1"); err != nil {
		t.Fatalf("Create(): unexpected err: %v", err)
	}

	if _, err := s.dir.WriteFile("/f", []byte("modified"), 0); err != nil {
		t.Fatalf("WriteFile(after snapshot): unexpected err: %v", err)
	}

	var after Inode
	s.alloc.ReadInode(ino, &after)
	if after.DirectBlocks[0] == oldBlock {
		t.Fatal("COW: wanted the write redirected to a fresh block")
	}
	if s.alloc.BlockRef(oldBlock) != 1 {
		t.Fatalf(
			"old block refcount: wanted `1` (snapshot only); found `%d`",
			s.alloc.BlockRef(oldBlock),
		)
	}

	data, err := s.dir.ReadFile("/f", 0, 0)
	if err != nil {
		t.Fatalf("ReadFile(): unexpected err: %v", err)
	}
	if string(data) != "modified" {
		t.Fatalf("live content: wanted `modified`; found `%q`", data)
	}
}

func TestRestoreRoundTrip(t *testing.T) {
	s := newTestStack(t)

	if _, err := s.dir.CreateFile("/f"); err != nil {
		t.Fatalf("CreateFile(): unexpected err: %v", err)
	}
	original := []byte("the original contents")
	if _, err := s.dir.WriteFile("/f", original, 0); err != nil {
		t.Fatalf("WriteFile(): unexpected err: %v", err)
	}

	if err := s.snap.Create("v1"); err != nil {
		t.Fatalf("Create(): unexpected err: %v", err)
	}

	if _, err := s.dir.WriteFile("/f", []byte("overwritten with twenty"), 0); err != nil {
		t.Fatalf("WriteFile(overwrite): unexpected err: %v", err)
	}
	if _, err := s.dir.CreateFile("/new-since-snapshot"); err != nil {
		t.Fatalf("CreateFile(): unexpected err: %v", err)
	}

	s.restore(t, "v1")

	data, err := s.dir.ReadFile("/f", 0, 0)
	if err != nil {
		t.Fatalf("ReadFile(after restore): unexpected err: %v", err)
	}
	if !bytes.Equal(data, original) {
		t.Fatalf(
			"restored content: wanted `%q`; found `%q`",
			original,
			data,
		)
	}

	stat, err := s.dir.Stat("/f")
	if err != nil {
		t.Fatalf("Stat(): unexpected err: %v", err)
	}
	if stat.Size != uint32(len(original)) {
		t.Fatalf(
			"restored size: wanted `%d`; found `%d`",
			len(original),
			stat.Size,
		)
	}

	if s.dir.Exists("/new-since-snapshot") {
		t.Fatal("post-snapshot file: wanted absent after restore; found present")
	}

	// the root's `.` and `..` point back at the root inode
	entries, err := s.dir.List("/")
	if err != nil {
		t.Fatalf("List(/): unexpected err: %v", err)
	}
	for i := range entries {
		if entries[i].Name == "." || entries[i].Name == ".." {
			if entries[i].Ino != RootIno {
				t.Fatalf(
					"root `%s`: wanted root inode; found `%d`",
					entries[i].Name,
					entries[i].Ino,
				)
			}
		}
	}
}

func TestRestoreMissingSnapshot(t *testing.T) {
	s := newTestStack(t)

	if err := s.snap.Restore("nope"); !errors.Is(err, SnapshotNotFoundErr) {
		t.Fatalf("Restore(missing): wanted `%v`; found `%v`", SnapshotNotFoundErr, err)
	}
}

func TestDeleteRestoresCounters(t *testing.T) {
	s := newTestStack(t)

	if _, err := s.dir.Mkdir("/docs"); err != nil {
		t.Fatalf("Mkdir(): unexpected err: %v", err)
	}
	if _, err := s.dir.CreateFile("/docs/f"); err != nil {
		t.Fatalf("CreateFile(): unexpected err: %v", err)
	}
	if _, err := s.dir.WriteFile("/docs/f", []byte("payload"), 0); err != nil {
		t.Fatalf("WriteFile(): unexpected err: %v", err)
	}

	freeBlocks := s.alloc.FreeBlockCount()
	freeInodes := s.alloc.FreeInodeCount()

	if err := s.snap.Create("v1"); err != nil {
		t.Fatalf("Create(): unexpected err: %v", err)
	}
	if err := s.snap.Delete("v1"); err != nil {
		t.Fatalf("Delete(): unexpected err: %v", err)
	}

	// everything the snapshot held is released except the one-time
	// snapshot list block
	if s.alloc.FreeBlockCount() != freeBlocks-1 {
		t.Fatalf(
			"free blocks: wanted `%d`; found `%d`",
			freeBlocks-1,
			s.alloc.FreeBlockCount(),
		)
	}
	if s.alloc.FreeInodeCount() != freeInodes {
		t.Fatalf(
			"free inodes: wanted `%d`; found `%d`",
			freeInodes,
			s.alloc.FreeInodeCount(),
		)
	}
}

func TestCollectUsageCoversLiveAndSnapshots(t *testing.T) {
	s := newTestStack(t)

	if _, err := s.dir.CreateFile("/f"); err != nil {
		t.Fatalf("CreateFile(): unexpected err: %v", err)
	}
	if _, err := s.dir.WriteFile("/f", []byte("x"), 0); err != nil {
		t.Fatalf("WriteFile(): unexpected err: %v", err)
	}
	if err := s.snap.Create("v1"); err != nil {
		t.Fatalf("Create(): unexpected err: %v", err)
	}

	usedInodes, usedBlocks, err := s.snap.CollectUsage()
	if err != nil {
		t.Fatalf("CollectUsage(): unexpected err: %v", err)
	}

	if _, ok := usedInodes[RootIno]; !ok {
		t.Fatal("used inodes: wanted the live root")
	}
	info, _ := s.snap.Get("v1")
	if _, ok := usedInodes[info.RootInode]; !ok {
		t.Fatal("used inodes: wanted the snapshot root")
	}

	listBlock := s.alloc.Superblock().SnapshotListBlock
	if listBlock == 0 {
		t.Fatal("snapshot list block: wanted allocated; found 0")
	}
	if _, ok := usedBlocks[listBlock]; !ok {
		t.Fatal("used blocks: wanted the snapshot list block")
	}

	// reconciliation against a fresh collection reports nothing
	report, err := s.alloc.ReconcileUsage(usedInodes, usedBlocks, false)
	if err != nil {
		t.Fatalf("ReconcileUsage(): unexpected err: %v", err)
	}
	if !report.Clean() {
		t.Fatalf("report: wanted clean; found `%+v`", report)
	}
}

func TestRebuildRefcountsFromReachability(t *testing.T) {
	s := newTestStack(t)

	if _, err := s.dir.CreateFile("/f"); err != nil {
		t.Fatalf("CreateFile(): unexpected err: %v", err)
	}
	if _, err := s.dir.WriteFile("/f", []byte("payload"), 0); err != nil {
		t.Fatalf("WriteFile(): unexpected err: %v", err)
	}
	if err := s.snap.Create("v1"); err != nil {
		t.Fatalf("Create(): unexpected err: %v", err)
	}
	if err := s.snap.Create("v2"); err != nil {
		t.Fatalf("Create(v2): unexpected err: %v", err)
	}

	ino, _ := s.dir.ResolvePath("/f")
	var inode Inode
	s.alloc.ReadInode(ino, &inode)
	dataBlock := inode.DirectBlocks[0]

	// live + two snapshots reference the file's data block
	if err := s.snap.RebuildBlockRefcounts(); err != nil {
		t.Fatalf("RebuildBlockRefcounts(): unexpected err: %v", err)
	}
	if got := s.alloc.BlockRef(dataBlock); got != 3 {
		t.Fatalf("refcount: wanted `3`; found `%d`", got)
	}
}

func TestSnapshotPersistsAcrossReload(t *testing.T) {
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

	allocator := alloc.New(image)
	if err := allocator.Load(); err != nil {
		t.Fatalf("Load(): unexpected err: %v", err)
	}
	manager := New(allocator, image, nil)
	if err := manager.Load(); err != nil {
		t.Fatalf("Manager.Load(): unexpected err: %v", err)
	}
	if err := manager.RebuildBlockRefcounts(); err != nil {
		t.Fatalf("RebuildBlockRefcounts(): unexpected err: %v", err)
	}

	if err := manager.Create("persisted"); err != nil {
		t.Fatalf("Create(): unexpected err: %v", err)
	}
	if err := image.Sync(); err != nil {
		t.Fatalf("Sync(): unexpected err: %v", err)
	}
	image.Close()

	reopened, err := disk.Open(path)
	if err != nil {
		t.Fatalf("Open(again): unexpected err: %v", err)
	}
	defer reopened.Close()

	allocator2 := alloc.New(reopened)
	if err := allocator2.Load(); err != nil {
		t.Fatalf("Load(again): unexpected err: %v", err)
	}
	manager2 := New(allocator2, reopened, nil)
	if err := manager2.Load(); err != nil {
		t.Fatalf("Manager.Load(again): unexpected err: %v", err)
	}

	if !manager2.Exists("persisted") {
		t.Fatal("snapshot: wanted present after reload; found missing")
	}
	if manager2.Count() != 1 {
		t.Fatalf("count: wanted `1`; found `%d`", manager2.Count())
	}
}
