package dir

import (
	"fmt"

	. "github.com/weberc2/snapfs/pkg/types"
)

// Mkdir creates a directory at path. The new directory gets one data
// block holding `.` and `..`; the parent gains one link. Resources
// claimed along the way are released if any later step fails.
func (d *Directory) Mkdir(path string) (Ino, error) {
	parent, err := d.ResolveParent(path)
	if err != nil {
		return InvalidIno, fmt.Errorf("mkdir `%s`: %w", path, err)
	}

	if !IsValidName(parent.Name) {
		if uint32(len(parent.Name)) > MaxNameLen {
			return InvalidIno, fmt.Errorf("mkdir `%s`: %w", path, NameTooLongErr)
		}
		return InvalidIno, fmt.Errorf("mkdir `%s`: %w", path, InvalidPathErr)
	}

	if _, err := d.Lookup(parent.Parent, parent.Name); err == nil {
		return InvalidIno, fmt.Errorf("mkdir `%s`: %w", path, AlreadyExistsErr)
	}

	newIno, err := d.alloc.AllocInode()
	if err != nil {
		return InvalidIno, fmt.Errorf("mkdir `%s`: %w", path, err)
	}

	dirBlockNo, err := d.alloc.AllocBlock()
	if err != nil {
		d.alloc.FreeInode(newIno)
		return InvalidIno, fmt.Errorf("mkdir `%s`: %w", path, err)
	}

	var inode Inode
	inode.Init(FileTypeDir)
	now := currentTime()
	inode.CreateTime = now
	inode.ModifyTime = now
	inode.AccessTime = now
	inode.Size = 2 * DirEntrySize
	inode.LinkCount = 2
	inode.BlockCount = 1
	inode.DirectBlocks[0] = dirBlockNo

	var entries dirBlock
	for i := range entries {
		entries[i].Clear()
	}
	entries[0].Init(newIno, ".", FileTypeDir)
	entries[1].Init(parent.Parent, "..", FileTypeDir)

	d.mutex.Lock()
	err = d.writeDirBlock(dirBlockNo, &entries)
	d.mutex.Unlock()
	if err != nil {
		d.alloc.FreeBlock(dirBlockNo)
		d.alloc.FreeInode(newIno)
		return InvalidIno, fmt.Errorf("mkdir `%s`: %w", path, err)
	}

	if err := d.alloc.WriteInode(newIno, &inode); err != nil {
		d.alloc.FreeBlock(dirBlockNo)
		d.alloc.FreeInode(newIno)
		return InvalidIno, fmt.Errorf("mkdir `%s`: %w", path, err)
	}

	if err := d.AddEntry(parent.Parent, parent.Name, newIno, FileTypeDir); err != nil {
		d.alloc.FreeBlock(dirBlockNo)
		d.alloc.FreeInode(newIno)
		return InvalidIno, fmt.Errorf("mkdir `%s`: %w", path, err)
	}

	// subdirectory's `..` counts as a link to the parent
	d.mutex.Lock()
	var parentInode Inode
	if err := d.readInode(parent.Parent, &parentInode); err == nil {
		parentInode.LinkCount++
		d.writeInode(parent.Parent, &parentInode)
	}
	d.mutex.Unlock()

	if err := d.alloc.Sync(); err != nil {
		return InvalidIno, fmt.Errorf("mkdir `%s`: %w", path, err)
	}
	return newIno, nil
}

// Rmdir removes an empty directory. The root cannot be removed.
func (d *Directory) Rmdir(path string) error {
	if NormalizePath(path) == "/" {
		return fmt.Errorf("rmdir `/`: %w", PermissionErr)
	}

	parent, err := d.ResolveParent(path)
	if err != nil {
		return fmt.Errorf("rmdir `%s`: %w", path, err)
	}

	entry, err := d.Lookup(parent.Parent, parent.Name)
	if err != nil {
		return fmt.Errorf("rmdir `%s`: %w", path, NotFoundErr)
	}
	dirIno := entry.Ino

	var inode Inode
	if err := d.alloc.ReadInode(dirIno, &inode); err != nil {
		return fmt.Errorf("rmdir `%s`: %w", path, err)
	}
	if !inode.IsDirectory() {
		return fmt.Errorf("rmdir `%s`: %w", path, NotDirErr)
	}

	if !d.IsDirectoryEmpty(dirIno) {
		return fmt.Errorf("rmdir `%s`: %w", path, NotEmptyErr)
	}

	d.mutex.Lock()
	d.freeFileBlocks(&inode, 0)
	d.mutex.Unlock()

	if err := d.RemoveEntry(parent.Parent, parent.Name); err != nil {
		return fmt.Errorf("rmdir `%s`: %w", path, err)
	}

	d.mutex.Lock()
	var parentInode Inode
	if err := d.readInode(parent.Parent, &parentInode); err == nil {
		if parentInode.LinkCount > 0 {
			parentInode.LinkCount--
		}
		d.writeInode(parent.Parent, &parentInode)
	}
	d.mutex.Unlock()

	if err := d.alloc.FreeInode(dirIno); err != nil {
		return fmt.Errorf("rmdir `%s`: %w", path, err)
	}
	if err := d.alloc.Sync(); err != nil {
		return fmt.Errorf("rmdir `%s`: %w", path, err)
	}
	return nil
}

// CreateFile makes an empty regular file; no data blocks are allocated
// until the first write.
func (d *Directory) CreateFile(path string) (Ino, error) {
	parent, err := d.ResolveParent(path)
	if err != nil {
		return InvalidIno, fmt.Errorf("creating `%s`: %w", path, err)
	}

	if !IsValidName(parent.Name) {
		if uint32(len(parent.Name)) > MaxNameLen {
			return InvalidIno, fmt.Errorf("creating `%s`: %w", path, NameTooLongErr)
		}
		return InvalidIno, fmt.Errorf("creating `%s`: %w", path, InvalidPathErr)
	}

	if _, err := d.Lookup(parent.Parent, parent.Name); err == nil {
		return InvalidIno, fmt.Errorf("creating `%s`: %w", path, AlreadyExistsErr)
	}

	newIno, err := d.alloc.AllocInode()
	if err != nil {
		return InvalidIno, fmt.Errorf("creating `%s`: %w", path, err)
	}

	var inode Inode
	inode.Init(FileTypeRegular)
	now := currentTime()
	inode.CreateTime = now
	inode.ModifyTime = now
	inode.AccessTime = now

	if err := d.alloc.WriteInode(newIno, &inode); err != nil {
		d.alloc.FreeInode(newIno)
		return InvalidIno, fmt.Errorf("creating `%s`: %w", path, err)
	}

	if err := d.AddEntry(
		parent.Parent,
		parent.Name,
		newIno,
		FileTypeRegular,
	); err != nil {
		d.alloc.FreeInode(newIno)
		return InvalidIno, fmt.Errorf("creating `%s`: %w", path, err)
	}

	if err := d.alloc.Sync(); err != nil {
		return InvalidIno, fmt.Errorf("creating `%s`: %w", path, err)
	}
	return newIno, nil
}

// RemoveFile unlinks a regular file; when the last link drops, the file's
// block tree and inode are released.
func (d *Directory) RemoveFile(path string) error {
	parent, err := d.ResolveParent(path)
	if err != nil {
		return fmt.Errorf("removing `%s`: %w", path, err)
	}

	entry, err := d.Lookup(parent.Parent, parent.Name)
	if err != nil {
		return fmt.Errorf("removing `%s`: %w", path, NotFoundErr)
	}
	fileIno := entry.Ino

	var inode Inode
	if err := d.alloc.ReadInode(fileIno, &inode); err != nil {
		return fmt.Errorf("removing `%s`: %w", path, err)
	}
	if !inode.IsRegular() {
		return fmt.Errorf("removing `%s`: %w", path, IsDirErr)
	}

	if err := d.RemoveEntry(parent.Parent, parent.Name); err != nil {
		return fmt.Errorf("removing `%s`: %w", path, err)
	}

	inode.LinkCount--
	if inode.LinkCount == 0 {
		d.mutex.Lock()
		d.freeFileBlocks(&inode, 0)
		d.mutex.Unlock()
		if err := d.alloc.FreeInode(fileIno); err != nil {
			return fmt.Errorf("removing `%s`: %w", path, err)
		}
	} else {
		if err := d.alloc.WriteInode(fileIno, &inode); err != nil {
			return fmt.Errorf("removing `%s`: %w", path, err)
		}
	}

	if err := d.alloc.Sync(); err != nil {
		return fmt.Errorf("removing `%s`: %w", path, err)
	}
	return nil
}

// Remove deletes a file or an empty directory.
func (d *Directory) Remove(path string) error {
	ino, err := d.ResolvePath(path)
	if err != nil {
		return err
	}
	stat, err := d.StatInode(ino)
	if err != nil {
		return err
	}
	if stat.Type == FileTypeDir {
		return d.Rmdir(path)
	}
	return d.RemoveFile(path)
}
