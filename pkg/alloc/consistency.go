package alloc

import (
	"fmt"

	. "github.com/weberc2/snapfs/pkg/types"
)

// CheckConsistency cross-checks the bitmap cardinalities against the
// superblock counters (the bitmaps are ground truth) and verifies that
// the root inode is allocated. With fix set, the counters are rewritten
// to match and the root bit restored.
func (a *Allocator) CheckConsistency(fix bool) error {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	if !a.loaded {
		return fmt.Errorf("checking consistency: %w", InvalidParamErr)
	}

	usedInodes := a.inodeBitmap().CountUsed()
	usedBlocks := a.blockBitmap().CountUsed()
	rootAllocated := a.inodeBitmap().Get(uint32(RootIno))

	consistent := rootAllocated &&
		usedInodes == a.sb.UsedInodes &&
		a.sb.FreeInodes == a.sb.TotalInodes-usedInodes &&
		usedBlocks == a.sb.UsedBlocks &&
		a.sb.FreeBlocks == a.sb.DataBlockCount-usedBlocks

	if consistent {
		return nil
	}
	if !fix {
		return fmt.Errorf(
			"counter mismatch: bitmap used inodes `%d` vs superblock `%d`, "+
				"bitmap used blocks `%d` vs superblock `%d`, root allocated "+
				"`%t`: %w",
			usedInodes,
			a.sb.UsedInodes,
			usedBlocks,
			a.sb.UsedBlocks,
			rootAllocated,
			InternalErr,
		)
	}

	if !rootAllocated {
		a.inodeBitmap().Set(uint32(RootIno))
		a.inodeBitmapDirty = true
		usedInodes++
	}

	a.sb.UsedInodes = usedInodes
	a.sb.FreeInodes = a.sb.TotalInodes - usedInodes
	a.sb.UsedBlocks = usedBlocks
	a.sb.FreeBlocks = a.sb.DataBlockCount - usedBlocks
	a.superblockDirty = true

	return a.sync()
}

// UsageReport lists the discrepancies found by ReconcileUsage.
type UsageReport struct {
	// allocated in the bitmap but unreachable
	OrphanInodes []Ino
	OrphanBlocks []Block
	// reachable but not allocated in the bitmap
	LostInodes []Ino
	LostBlocks []Block
}

func (report *UsageReport) Clean() bool {
	return len(report.OrphanInodes) == 0 &&
		len(report.OrphanBlocks) == 0 &&
		len(report.LostInodes) == 0 &&
		len(report.LostBlocks) == 0
}

// ReconcileUsage intersects the provided reachability sets (live tree
// plus snapshots, plus bookkeeping blocks like the snapshot list) with
// the bitmaps. With fix set, orphans are released and lost entries
// re-reserved, and the counters recomputed from the corrected bitmaps.
func (a *Allocator) ReconcileUsage(
	usedInodes map[Ino]struct{},
	usedBlocks map[Block]struct{},
	fix bool,
) (*UsageReport, error) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	if !a.loaded {
		return nil, fmt.Errorf("reconciling usage: %w", InvalidParamErr)
	}

	var report UsageReport

	inodeBitmap := a.inodeBitmap()
	for i := uint32(0); i < a.sb.TotalInodes; i++ {
		ino := Ino(i)
		_, reachable := usedInodes[ino]
		allocated := inodeBitmap.Get(i)
		if allocated && !reachable && ino != RootIno {
			report.OrphanInodes = append(report.OrphanInodes, ino)
		} else if !allocated && reachable {
			report.LostInodes = append(report.LostInodes, ino)
		}
	}

	blockBitmap := a.blockBitmap()
	for i := uint32(0); i < a.sb.DataBlockCount; i++ {
		block := a.dataBlockToAbsolute(i)
		_, reachable := usedBlocks[block]
		allocated := blockBitmap.Get(i)
		if allocated && !reachable {
			report.OrphanBlocks = append(report.OrphanBlocks, block)
		} else if !allocated && reachable {
			report.LostBlocks = append(report.LostBlocks, block)
		}
	}

	if !fix || report.Clean() {
		return &report, nil
	}

	for _, ino := range report.OrphanInodes {
		var cleared Inode
		cleared.Clear()
		if err := a.writeInode(ino, &cleared); err != nil {
			return &report, fmt.Errorf(
				"reconciling usage: clearing orphan inode `%d`: %w",
				ino,
				err,
			)
		}
		inodeBitmap.Clear(uint32(ino))
	}
	for _, ino := range report.LostInodes {
		inodeBitmap.Set(uint32(ino))
	}
	a.inodeBitmapDirty = len(report.OrphanInodes) > 0 || len(report.LostInodes) > 0

	for _, block := range report.OrphanBlocks {
		index, _ := a.absoluteToDataBlock(block)
		blockBitmap.Clear(index)
		a.refcounts[index] = 0
	}
	for _, block := range report.LostBlocks {
		index, _ := a.absoluteToDataBlock(block)
		blockBitmap.Set(index)
		if a.refcounts[index] == 0 {
			a.refcounts[index] = 1
		}
	}
	a.blockBitmapDirty = len(report.OrphanBlocks) > 0 || len(report.LostBlocks) > 0

	usedInodeCount := inodeBitmap.CountUsed()
	usedBlockCount := blockBitmap.CountUsed()
	a.sb.UsedInodes = usedInodeCount
	a.sb.FreeInodes = a.sb.TotalInodes - usedInodeCount
	a.sb.UsedBlocks = usedBlockCount
	a.sb.FreeBlocks = a.sb.DataBlockCount - usedBlockCount
	a.superblockDirty = true

	if err := a.sync(); err != nil {
		return &report, fmt.Errorf("reconciling usage: %w", err)
	}
	return &report, nil
}
