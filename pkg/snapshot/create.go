package snapshot

import (
	"fmt"

	"github.com/weberc2/snapfs/pkg/encode"
	. "github.com/weberc2/snapfs/pkg/types"
)

// Create freezes the current directory tree under a new name. Directory
// inodes and their entry blocks are deep-cloned (entries rewritten to
// point at the cloned children); file inodes are duplicated with their
// block trees shared by reference counts. A failure mid-clone may leave
// orphan inodes and blocks behind; a later consistency pass reclaims
// them.
func (m *Manager) Create(name string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if !m.loaded {
		return fmt.Errorf("creating snapshot `%s`: %w", name, InvalidParamErr)
	}
	if name == "" || uint32(len(name)) > MaxSnapshotNameLen {
		return fmt.Errorf("creating snapshot `%s`: %w", name, NameTooLongErr)
	}
	if m.findSnapshot(name) >= 0 {
		return fmt.Errorf("creating snapshot `%s`: %w", name, SnapshotExistsErr)
	}
	if uint32(len(m.snapshots)) >= MaxSnapshots {
		return fmt.Errorf("creating snapshot `%s`: %w", name, MaxSnapshotsErr)
	}

	liveRoot := m.alloc.Superblock().RootInode

	cloneMap := make(map[Ino]Ino)
	snapshotRoot, err := m.cloneInodeTree(liveRoot, InvalidIno, cloneMap)
	if err != nil {
		return fmt.Errorf("creating snapshot `%s`: %w", name, err)
	}

	info := SnapshotInfo{
		Name:       name,
		CreateTime: currentTime(),
		RootInode:  snapshotRoot,
		Valid:      true,
	}
	var root Inode
	if err := m.alloc.ReadInode(snapshotRoot, &root); err == nil {
		info.BlockCount = root.BlockCount
	}

	m.snapshots = append(m.snapshots, info)
	m.dirty = true
	m.stats.SnapshotsCreated++

	count := uint32(len(m.snapshots))
	m.alloc.MutateSuperblock(func(sb *Superblock) {
		sb.SnapshotCount = count
	})

	if err := m.saveSnapshotList(); err != nil {
		return fmt.Errorf("creating snapshot `%s`: %w", name, err)
	}
	if err := m.alloc.Sync(); err != nil {
		return fmt.Errorf("creating snapshot `%s`: %w", name, err)
	}

	m.dirty = false
	return nil
}

// cloneInodeTree clones src (parent is the clone's parent inode, or
// InvalidIno at the root, in which case `..` points at the clone
// itself). cloneMap makes the clone idempotent per source inode: a
// source reached twice maps to one clone.
func (m *Manager) cloneInodeTree(
	src Ino,
	parent Ino,
	cloneMap map[Ino]Ino,
) (Ino, error) {
	if cloned, exists := cloneMap[src]; exists {
		return cloned, nil
	}

	var srcInode Inode
	if err := m.alloc.ReadInode(src, &srcInode); err != nil {
		return InvalidIno, fmt.Errorf("cloning inode `%d`: %w", src, err)
	}

	newIno, err := m.alloc.AllocInode()
	if err != nil {
		return InvalidIno, fmt.Errorf("cloning inode `%d`: %w", src, err)
	}
	cloneMap[src] = newIno

	dst := srcInode
	dst.RefCount = 1

	if dst.IsDirectory() {
		// directories are deep-cloned: fresh entry blocks with entries
		// rewritten to the cloned ids
		for i := range dst.DirectBlocks {
			dst.DirectBlocks[i] = InvalidBlock
		}
		dst.SingleIndirect = InvalidBlock
		dst.DoubleIndirect = InvalidBlock
		dst.BlockCount = 0

		var entries [DirEntriesPerBlock]DirEntry
		for bi := uint32(0); bi < dirBlockCount(srcInode.Size); bi++ {
			srcBlock, err := m.fileBlock(&srcInode, bi)
			if err != nil {
				continue
			}
			if err := m.readDirEntries(srcBlock, &entries); err != nil {
				return InvalidIno, fmt.Errorf("cloning inode `%d`: %w", src, err)
			}

			for i := range entries {
				if !entries[i].IsValid() {
					continue
				}
				switch entries[i].Name {
				case ".":
					entries[i].Ino = newIno
				case "..":
					if parent == InvalidIno {
						entries[i].Ino = newIno
					} else {
						entries[i].Ino = parent
					}
				default:
					clonedChild, err := m.cloneInodeTree(
						entries[i].Ino,
						newIno,
						cloneMap,
					)
					if err != nil {
						return InvalidIno, err
					}
					entries[i].Ino = clonedChild
				}
			}

			newBlock, err := m.alloc.AllocBlock()
			if err != nil {
				return InvalidIno, fmt.Errorf("cloning inode `%d`: %w", src, err)
			}
			var buf [BlockSize]byte
			for i := uint32(0); i < DirEntriesPerBlock; i++ {
				encode.EncodeDirEntry(
					&entries[i],
					(*[DirEntrySize]byte)(buf[i*DirEntrySize:(i+1)*DirEntrySize]),
				)
			}
			if err := m.io.WriteBlock(newBlock, buf[:]); err != nil {
				m.alloc.FreeBlock(newBlock)
				return InvalidIno, fmt.Errorf("cloning inode `%d`: %w", src, err)
			}

			if err := m.setFileBlock(&dst, bi, newBlock); err != nil {
				m.alloc.FreeBlock(newBlock)
				return InvalidIno, fmt.Errorf("cloning inode `%d`: %w", src, err)
			}
			dst.BlockCount++
		}
	} else {
		// files share their whole block tree by reference count
		if err := m.incrementBlockRefs(&srcInode); err != nil {
			return InvalidIno, fmt.Errorf("cloning inode `%d`: %w", src, err)
		}
	}

	if err := m.alloc.WriteInode(newIno, &dst); err != nil {
		return InvalidIno, fmt.Errorf("cloning inode `%d`: %w", src, err)
	}

	return newIno, nil
}

// incrementBlockRefs adds one reference to every data and indirect block
// reachable from the inode.
func (m *Manager) incrementBlockRefs(inode *Inode) error {
	return m.forEachInodeBlock(inode, func(block Block) {
		m.alloc.IncBlockRef(block)
		m.stats.SharedBlocks++
	})
}

// decrementBlockRefs drops one reference from every data and indirect
// block reachable from the inode, freeing blocks whose count hits zero.
//
// Each indirect block is released before the descent reads it; freeing
// a block only clears its bitmap bit, so its pointers are still
// readable while the tree is being released.
func (m *Manager) decrementBlockRefs(inode *Inode) error {
	return m.forEachInodeBlock(inode, func(block Block) {
		m.alloc.DecBlockRef(block)
	})
}
