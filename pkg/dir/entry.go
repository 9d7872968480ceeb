package dir

import (
	"fmt"

	. "github.com/weberc2/snapfs/pkg/types"
)

// Lookup scans the directory for a valid entry with the given name.
func (d *Directory) Lookup(dirIno Ino, name string) (DirEntry, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.lookup(dirIno, name)
}

func (d *Directory) lookup(dirIno Ino, name string) (DirEntry, error) {
	var inode Inode
	if err := d.readInode(dirIno, &inode); err != nil {
		return DirEntry{}, fmt.Errorf(
			"looking up `%s` in inode `%d`: %w",
			name,
			dirIno,
			err,
		)
	}
	if !inode.IsDirectory() {
		return DirEntry{}, fmt.Errorf(
			"looking up `%s` in inode `%d`: %w",
			name,
			dirIno,
			NotDirErr,
		)
	}

	var entries dirBlock
	for bi := uint32(0); bi < dirBlockCount(inode.Size); bi++ {
		block, err := d.fileBlock(&inode, bi)
		if err != nil {
			continue // hole left by removals
		}
		if err := d.readDirBlock(block, &entries); err != nil {
			continue
		}
		for i := range entries {
			if entries[i].IsValid() && entries[i].Name == name {
				return entries[i], nil
			}
		}
	}

	return DirEntry{}, fmt.Errorf(
		"looking up `%s` in inode `%d`: %w",
		name,
		dirIno,
		NotFoundErr,
	)
}

// AddEntry binds name to target in the directory, reusing the first
// cleared slot; when no slot is free a new directory block is allocated
// and the entry written into its first slot.
func (d *Directory) AddEntry(dirIno Ino, name string, target Ino, t FileType) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.addEntry(dirIno, name, target, t)
}

func (d *Directory) addEntry(dirIno Ino, name string, target Ino, t FileType) error {
	if !IsValidName(name) {
		if uint32(len(name)) > MaxNameLen {
			return fmt.Errorf("adding entry `%s`: %w", name, NameTooLongErr)
		}
		return fmt.Errorf("adding entry `%s`: %w", name, InvalidPathErr)
	}

	if _, err := d.lookup(dirIno, name); err == nil {
		return fmt.Errorf(
			"adding entry `%s` to inode `%d`: %w",
			name,
			dirIno,
			AlreadyExistsErr,
		)
	}

	var inode Inode
	if err := d.readInode(dirIno, &inode); err != nil {
		return fmt.Errorf("adding entry `%s` to inode `%d`: %w", name, dirIno, err)
	}
	if !inode.IsDirectory() {
		return fmt.Errorf(
			"adding entry `%s` to inode `%d`: %w",
			name,
			dirIno,
			NotDirErr,
		)
	}

	blocks := dirBlockCount(inode.Size)
	var entries dirBlock
	for bi := uint32(0); bi < blocks; bi++ {
		block, err := d.fileBlock(&inode, bi)
		if err != nil {
			continue
		}
		if err := d.readDirBlock(block, &entries); err != nil {
			continue
		}
		for i := range entries {
			if entries[i].IsValid() {
				continue
			}
			entries[i].Init(target, name, t)
			if err := d.writeDirBlock(block, &entries); err != nil {
				return fmt.Errorf(
					"adding entry `%s` to inode `%d`: %w",
					name,
					dirIno,
					err,
				)
			}

			newSize := bi*BlockSize + uint32(i+1)*DirEntrySize
			if newSize > inode.Size {
				inode.Size = newSize
			}
			touchModify(&inode)
			return d.writeInode(dirIno, &inode)
		}
	}

	// no free slot anywhere: extend the directory by one block
	block, err := d.allocFileBlock(&inode, dirIno, blocks)
	if err != nil {
		return fmt.Errorf("adding entry `%s` to inode `%d`: %w", name, dirIno, err)
	}

	for i := range entries {
		entries[i].Clear()
	}
	entries[0].Init(target, name, t)
	if err := d.writeDirBlock(block, &entries); err != nil {
		return fmt.Errorf("adding entry `%s` to inode `%d`: %w", name, dirIno, err)
	}

	// re-read: allocFileBlock updated the inode's pointers on disk
	if err := d.readInode(dirIno, &inode); err == nil {
		inode.Size = blocks*BlockSize + DirEntrySize
		touchModify(&inode)
	}
	return d.writeInode(dirIno, &inode)
}

// RemoveEntry clears the named slot, leaving a hole later adds reuse.
// The reserved names cannot be removed.
func (d *Directory) RemoveEntry(dirIno Ino, name string) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.removeEntry(dirIno, name)
}

func (d *Directory) removeEntry(dirIno Ino, name string) error {
	if name == "." || name == ".." {
		return fmt.Errorf("removing entry `%s`: %w", name, PermissionErr)
	}

	var inode Inode
	if err := d.readInode(dirIno, &inode); err != nil {
		return fmt.Errorf("removing entry `%s` from inode `%d`: %w", name, dirIno, err)
	}
	if !inode.IsDirectory() {
		return fmt.Errorf(
			"removing entry `%s` from inode `%d`: %w",
			name,
			dirIno,
			NotDirErr,
		)
	}

	var entries dirBlock
	for bi := uint32(0); bi < dirBlockCount(inode.Size); bi++ {
		block, err := d.fileBlock(&inode, bi)
		if err != nil {
			continue
		}
		if err := d.readDirBlock(block, &entries); err != nil {
			continue
		}
		for i := range entries {
			if entries[i].IsValid() && entries[i].Name == name {
				entries[i].Clear()
				if err := d.writeDirBlock(block, &entries); err != nil {
					return fmt.Errorf(
						"removing entry `%s` from inode `%d`: %w",
						name,
						dirIno,
						err,
					)
				}
				touchModify(&inode)
				return d.writeInode(dirIno, &inode)
			}
		}
	}

	return fmt.Errorf(
		"removing entry `%s` from inode `%d`: %w",
		name,
		dirIno,
		NotFoundErr,
	)
}

// ListDirectory returns every valid entry, skipping holes.
func (d *Directory) ListDirectory(dirIno Ino) ([]DirEntry, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.listDirectory(dirIno)
}

func (d *Directory) listDirectory(dirIno Ino) ([]DirEntry, error) {
	var inode Inode
	if err := d.readInode(dirIno, &inode); err != nil {
		return nil, fmt.Errorf("listing inode `%d`: %w", dirIno, err)
	}
	if !inode.IsDirectory() {
		return nil, fmt.Errorf("listing inode `%d`: %w", dirIno, NotDirErr)
	}

	var result []DirEntry
	var entries dirBlock
	for bi := uint32(0); bi < dirBlockCount(inode.Size); bi++ {
		block, err := d.fileBlock(&inode, bi)
		if err != nil {
			continue
		}
		if err := d.readDirBlock(block, &entries); err != nil {
			continue
		}
		for i := range entries {
			if entries[i].IsValid() {
				result = append(result, entries[i])
			}
		}
	}
	return result, nil
}

// List resolves the path and lists it.
func (d *Directory) List(path string) ([]DirEntry, error) {
	ino, err := d.ResolvePath(path)
	if err != nil {
		return nil, err
	}
	return d.ListDirectory(ino)
}

// IsDirectoryEmpty reports whether the directory holds nothing beyond
// the reserved entries.
func (d *Directory) IsDirectoryEmpty(dirIno Ino) bool {
	entries, err := d.ListDirectory(dirIno)
	if err != nil {
		return false
	}
	for i := range entries {
		if entries[i].Name != "." && entries[i].Name != ".." {
			return false
		}
	}
	return true
}
