package cache

import (
	"fmt"
	"sync"
	"testing"

	. "github.com/weberc2/snapfs/pkg/types"
)

// diskFake is an in-memory Disk that records sync calls.
type diskFake struct {
	mutex  sync.Mutex
	blocks map[Block][]byte
	syncs  int
}

func newDiskFake() *diskFake {
	return &diskFake{blocks: map[Block][]byte{}}
}

func (fake *diskFake) ReadBlock(block Block, p []byte) error {
	fake.mutex.Lock()
	defer fake.mutex.Unlock()

	data, exists := fake.blocks[block]
	if !exists {
		data = make([]byte, BlockSize)
	}
	copy(p[:BlockSize], data)
	return nil
}

func (fake *diskFake) WriteBlock(block Block, p []byte) error {
	fake.mutex.Lock()
	defer fake.mutex.Unlock()

	data := make([]byte, BlockSize)
	copy(data, p[:BlockSize])
	fake.blocks[block] = data
	return nil
}

func (fake *diskFake) Sync() error {
	fake.mutex.Lock()
	defer fake.mutex.Unlock()
	fake.syncs++
	return nil
}

func (fake *diskFake) at(block Block) byte {
	fake.mutex.Lock()
	defer fake.mutex.Unlock()

	if data, exists := fake.blocks[block]; exists {
		return data[0]
	}
	return 0
}

func TestWriteBackDefersDisk(t *testing.T) {
	fake := newDiskFake()
	cd := NewCachedDisk(fake, 16)

	if err := cd.WriteBlock(3, block(0x55)); err != nil {
		t.Fatalf("WriteBlock(): unexpected err: %v", err)
	}

	// write-back: the disk must not see the write yet
	if got := fake.at(3); got != 0 {
		t.Fatalf("disk before flush: wanted `0`; found `%#x`", got)
	}

	// but reads through the cache see it
	out := make([]byte, BlockSize)
	if err := cd.ReadBlock(3, out); err != nil {
		t.Fatalf("ReadBlock(): unexpected err: %v", err)
	}
	if out[0] != 0x55 {
		t.Fatalf("cached read: wanted `0x55`; found `%#x`", out[0])
	}

	if err := cd.Flush(); err != nil {
		t.Fatalf("Flush(): unexpected err: %v", err)
	}
	if got := fake.at(3); got != 0x55 {
		t.Fatalf("disk after flush: wanted `0x55`; found `%#x`", got)
	}
	if fake.syncs != 1 {
		t.Fatalf("syncs: wanted `1`; found `%d`", fake.syncs)
	}
	if dirty := cd.Cache().DirtyBlocks(); len(dirty) != 0 {
		t.Fatalf("dirty after flush: wanted `0`; found `%d`", len(dirty))
	}
}

func TestWriteThroughHitsDiskImmediately(t *testing.T) {
	fake := newDiskFake()
	cd := NewCachedDisk(fake, 16)
	cd.SetWriteThrough(true)

	if err := cd.WriteBlock(3, block(0x77)); err != nil {
		t.Fatalf("WriteBlock(): unexpected err: %v", err)
	}
	if got := fake.at(3); got != 0x77 {
		t.Fatalf("disk: wanted `0x77`; found `%#x`", got)
	}
	if cd.Cache().IsDirty(3) {
		t.Fatal("block 3: wanted clean after write-through; found dirty")
	}
}

func TestPerWriteThroughOverride(t *testing.T) {
	fake := newDiskFake()
	cd := NewCachedDisk(fake, 16)

	if err := cd.WriteBlockThrough(9, block(0x11)); err != nil {
		t.Fatalf("WriteBlockThrough(): unexpected err: %v", err)
	}
	if got := fake.at(9); got != 0x11 {
		t.Fatalf("disk: wanted `0x11`; found `%#x`", got)
	}
}

func TestMissInstallsClean(t *testing.T) {
	fake := newDiskFake()
	fake.WriteBlock(5, block(0xEE))

	cd := NewCachedDisk(fake, 16)

	out := make([]byte, BlockSize)
	if err := cd.ReadBlock(5, out); err != nil {
		t.Fatalf("ReadBlock(): unexpected err: %v", err)
	}
	if out[0] != 0xEE {
		t.Fatalf("read: wanted `0xEE`; found `%#x`", out[0])
	}
	if !cd.Cache().Contains(5) {
		t.Fatal("block 5: wanted installed in cache; found missing")
	}
	if cd.Cache().IsDirty(5) {
		t.Fatal("block 5: wanted clean install; found dirty")
	}

	stats := cd.Stats()
	if stats.Misses != 1 {
		t.Fatalf("misses: wanted `1`; found `%d`", stats.Misses)
	}

	// second read is a hit
	if err := cd.ReadBlock(5, out); err != nil {
		t.Fatalf("ReadBlock(): unexpected err: %v", err)
	}
	if stats := cd.Stats(); stats.Hits != 1 {
		t.Fatalf("hits: wanted `1`; found `%d`", stats.Hits)
	}
}

func TestClearCacheFlushesThenDrops(t *testing.T) {
	fake := newDiskFake()
	cd := NewCachedDisk(fake, 16)

	cd.WriteBlock(1, block(0x22))
	if err := cd.ClearCache(); err != nil {
		t.Fatalf("ClearCache(): unexpected err: %v", err)
	}

	if got := fake.at(1); got != 0x22 {
		t.Fatalf("disk: wanted `0x22` after flush; found `%#x`", got)
	}
	if cd.Cache().CurrentSize() != 0 {
		t.Fatalf("size: wanted `0`; found `%d`", cd.Cache().CurrentSize())
	}
}

func TestDisabledCacheBypasses(t *testing.T) {
	fake := newDiskFake()
	cd := NewCachedDisk(fake, 16)
	cd.SetEnabled(false)

	if err := cd.WriteBlock(2, block(0x44)); err != nil {
		t.Fatalf("WriteBlock(): unexpected err: %v", err)
	}
	// bypassed writes go straight to disk and install nothing
	if got := fake.at(2); got != 0x44 {
		t.Fatalf("disk: wanted `0x44`; found `%#x`", got)
	}
	if cd.Cache().CurrentSize() != 0 {
		t.Fatalf("size: wanted `0`; found `%d`", cd.Cache().CurrentSize())
	}

	cd.SetEnabled(true)
	if !cd.Enabled() {
		t.Fatal("Enabled(): wanted `true`")
	}
}

func TestReadWriteBlocksSpan(t *testing.T) {
	fake := newDiskFake()
	cd := NewCachedDisk(fake, 16)

	data := make([]byte, 3*BlockSize)
	for i := range data {
		data[i] = byte(i % 7)
	}
	if err := cd.WriteBlocks(10, 3, data); err != nil {
		t.Fatalf("WriteBlocks(): unexpected err: %v", err)
	}

	out := make([]byte, 3*BlockSize)
	if err := cd.ReadBlocks(10, 3, out); err != nil {
		t.Fatalf("ReadBlocks(): unexpected err: %v", err)
	}
	for i := range out {
		if out[i] != data[i] {
			t.Fatalf("byte %d: wanted `%d`; found `%d`", i, data[i], out[i])
		}
	}

	if err := cd.ReadBlocks(0, 2, make([]byte, BlockSize)); err == nil {
		t.Fatal("ReadBlocks(short buffer): wanted error; found nil")
	}
}

func TestConcurrentSameBlock(t *testing.T) {
	fake := newDiskFake()
	cd := NewCachedDisk(fake, 4)

	var wg sync.WaitGroup
	for worker := 0; worker < 8; worker++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			buf := make([]byte, BlockSize)
			for i := 0; i < 100; i++ {
				if worker%2 == 0 {
					cd.WriteBlock(1, block(byte(worker)))
				} else if err := cd.ReadBlock(1, buf); err != nil {
					panic(fmt.Sprintf("read: %v", err))
				}
			}
		}(worker)
	}
	wg.Wait()

	if err := cd.Flush(); err != nil {
		t.Fatalf("Flush(): unexpected err: %v", err)
	}
}
