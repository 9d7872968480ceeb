package snapshot

import (
	"fmt"

	. "github.com/weberc2/snapfs/pkg/types"
)

// RebuildBlockRefcounts recomputes the reference-count table from
// reachability: the table is zeroed, then every inode tree hanging off
// the live root and each snapshot root contributes one reference per
// pointer slot. The snapshot list block, referenced by the superblock
// rather than any inode, is pinned at one. Runs at mount and after
// snapshot-affecting maintenance.
func (m *Manager) RebuildBlockRefcounts() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if !m.loaded {
		return fmt.Errorf("rebuilding block refcounts: %w", InvalidParamErr)
	}

	m.alloc.ResetBlockRefcounts()

	sb := m.alloc.Superblock()

	roots := []Ino{sb.RootInode}
	for i := range m.snapshots {
		roots = append(roots, m.snapshots[i].RootInode)
	}

	for _, root := range roots {
		visited := make(map[Ino]struct{})
		if err := m.walkInodeTree(root, visited, func(inode *Inode) error {
			return m.forEachInodeBlock(inode, func(block Block) {
				m.alloc.IncBlockRef(block)
			})
		}); err != nil {
			return fmt.Errorf("rebuilding block refcounts: %w", err)
		}
	}

	if sb.SnapshotListBlock != 0 {
		m.alloc.IncBlockRef(sb.SnapshotListBlock)
	}

	return nil
}

// CollectUsage runs the same traversal and returns the reachable inode
// and block sets for consistency reconciliation. The snapshot list
// block is included in the block set.
func (m *Manager) CollectUsage() (map[Ino]struct{}, map[Block]struct{}, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if !m.loaded {
		return nil, nil, fmt.Errorf("collecting usage: %w", InvalidParamErr)
	}

	usedInodes := make(map[Ino]struct{})
	usedBlocks := make(map[Block]struct{})

	sb := m.alloc.Superblock()

	roots := []Ino{sb.RootInode}
	for i := range m.snapshots {
		roots = append(roots, m.snapshots[i].RootInode)
	}

	for _, root := range roots {
		visited := make(map[Ino]struct{})
		if err := m.walkInodeTree(root, visited, func(inode *Inode) error {
			return m.forEachInodeBlock(inode, func(block Block) {
				usedBlocks[block] = struct{}{}
			})
		}); err != nil {
			return nil, nil, fmt.Errorf("collecting usage: %w", err)
		}
		for ino := range visited {
			usedInodes[ino] = struct{}{}
		}
	}

	if sb.SnapshotListBlock != 0 {
		usedBlocks[sb.SnapshotListBlock] = struct{}{}
	}

	return usedInodes, usedBlocks, nil
}

// walkInodeTree applies fn to the inode and, for directories, recurses
// into every non-reserved entry. visited collects each inode exactly
// once per walk.
func (m *Manager) walkInodeTree(
	ino Ino,
	visited map[Ino]struct{},
	fn func(*Inode) error,
) error {
	if ino == InvalidIno {
		return nil
	}
	if _, seen := visited[ino]; seen {
		return nil
	}
	visited[ino] = struct{}{}

	var inode Inode
	if err := m.alloc.ReadInode(ino, &inode); err != nil {
		return fmt.Errorf("walking inode `%d`: %w", ino, err)
	}

	if err := fn(&inode); err != nil {
		return err
	}

	if !inode.IsDirectory() {
		return nil
	}

	var entries [DirEntriesPerBlock]DirEntry
	for bi := uint32(0); bi < dirBlockCount(inode.Size); bi++ {
		block, err := m.fileBlock(&inode, bi)
		if err != nil {
			continue
		}
		if err := m.readDirEntries(block, &entries); err != nil {
			continue
		}
		for i := range entries {
			if !entries[i].IsValid() {
				continue
			}
			if entries[i].Name == "." || entries[i].Name == ".." {
				continue
			}
			if err := m.walkInodeTree(entries[i].Ino, visited, fn); err != nil {
				return err
			}
		}
	}

	return nil
}
