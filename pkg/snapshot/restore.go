package snapshot

import (
	"fmt"

	"github.com/weberc2/snapfs/pkg/encode"
	. "github.com/weberc2/snapfs/pkg/types"
)

// Restore replaces the live root inode with the snapshot's root, then
// rewrites the root directory's `.` and `..` entries to point at the
// root inode number again. The block cache is cleared (its pages may
// belong to the abandoned pre-restore tree) and allocator state synced.
// The caller must reload the allocator and rebuild block refcounts
// afterwards.
func (m *Manager) Restore(name string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if !m.loaded {
		return fmt.Errorf("restoring snapshot `%s`: %w", name, InvalidParamErr)
	}

	index := m.findSnapshot(name)
	if index < 0 {
		return fmt.Errorf("restoring snapshot `%s`: %w", name, SnapshotNotFoundErr)
	}
	info := m.snapshots[index]

	var restored Inode
	if err := m.alloc.ReadInode(info.RootInode, &restored); err != nil {
		return fmt.Errorf("restoring snapshot `%s`: %w", name, err)
	}

	restored.RefCount = 1
	if restored.IsDirectory() {
		restored.LinkCount = 2
	}

	if err := m.alloc.WriteInode(RootIno, &restored); err != nil {
		return fmt.Errorf("restoring snapshot `%s`: %w", name, err)
	}

	if restored.IsDirectory() {
		var entries [DirEntriesPerBlock]DirEntry
		for bi := uint32(0); bi < dirBlockCount(restored.Size); bi++ {
			block, err := m.fileBlock(&restored, bi)
			if err != nil {
				continue
			}

			var buf [BlockSize]byte
			if err := m.io.ReadBlock(block, buf[:]); err != nil {
				return fmt.Errorf("restoring snapshot `%s`: %w", name, err)
			}
			for i := uint32(0); i < DirEntriesPerBlock; i++ {
				encode.DecodeDirEntry(
					&entries[i],
					(*[DirEntrySize]byte)(buf[i*DirEntrySize:(i+1)*DirEntrySize]),
				)
			}

			updated := false
			for i := range entries {
				if !entries[i].IsValid() {
					continue
				}
				if entries[i].Name == "." || entries[i].Name == ".." {
					if entries[i].Ino != RootIno {
						entries[i].Ino = RootIno
						updated = true
					}
				}
			}

			if updated {
				for i := uint32(0); i < DirEntriesPerBlock; i++ {
					encode.EncodeDirEntry(
						&entries[i],
						(*[DirEntrySize]byte)(buf[i*DirEntrySize:(i+1)*DirEntrySize]),
					)
				}
				if err := m.io.WriteBlock(block, buf[:]); err != nil {
					return fmt.Errorf("restoring snapshot `%s`: %w", name, err)
				}
			}
		}
	}

	if m.cached != nil {
		m.cached.ClearCache()
	}

	if err := m.alloc.Sync(); err != nil {
		return fmt.Errorf("restoring snapshot `%s`: %w", name, err)
	}
	return nil
}

// Delete removes the snapshot and releases its clone tree: directories
// are descended through their own entry blocks, file trees drop one
// reference per block, and every clone inode is freed. A visited set
// guards against double-free when the clone reaches an inode via more
// than one path.
func (m *Manager) Delete(name string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if !m.loaded {
		return fmt.Errorf("deleting snapshot `%s`: %w", name, InvalidParamErr)
	}

	index := m.findSnapshot(name)
	if index < 0 {
		return fmt.Errorf("deleting snapshot `%s`: %w", name, SnapshotNotFoundErr)
	}

	visited := make(map[Ino]struct{})
	m.freeSnapshotTree(m.snapshots[index].RootInode, visited)

	m.snapshots = append(m.snapshots[:index], m.snapshots[index+1:]...)
	m.dirty = true

	count := uint32(len(m.snapshots))
	m.alloc.MutateSuperblock(func(sb *Superblock) {
		sb.SnapshotCount = count
	})

	if err := m.saveSnapshotList(); err != nil {
		return fmt.Errorf("deleting snapshot `%s`: %w", name, err)
	}
	if err := m.alloc.Sync(); err != nil {
		return fmt.Errorf("deleting snapshot `%s`: %w", name, err)
	}

	m.dirty = false
	return nil
}

func (m *Manager) freeSnapshotTree(ino Ino, visited map[Ino]struct{}) error {
	if ino == InvalidIno {
		return nil
	}
	if _, seen := visited[ino]; seen {
		return nil
	}
	visited[ino] = struct{}{}

	var inode Inode
	if err := m.alloc.ReadInode(ino, &inode); err != nil {
		return fmt.Errorf("freeing snapshot inode `%d`: %w", ino, err)
	}

	if inode.IsDirectory() {
		var entries [DirEntriesPerBlock]DirEntry
		for bi := uint32(0); bi < dirBlockCount(inode.Size); bi++ {
			block, err := m.fileBlock(&inode, bi)
			if err != nil {
				continue
			}
			if err := m.readDirEntries(block, &entries); err != nil {
				return fmt.Errorf("freeing snapshot inode `%d`: %w", ino, err)
			}
			for i := range entries {
				if !entries[i].IsValid() {
					continue
				}
				if entries[i].Name == "." || entries[i].Name == ".." {
					continue
				}
				if err := m.freeSnapshotTree(entries[i].Ino, visited); err != nil {
					return err
				}
			}
		}
	}

	m.decrementBlockRefs(&inode)
	m.alloc.FreeInode(ino)
	return nil
}
