package fs

import (
	"fmt"

	"github.com/weberc2/snapfs/pkg/dir"
	. "github.com/weberc2/snapfs/pkg/types"
)

// Mkdir creates one directory.
func (fs *FileSystem) Mkdir(path string) error {
	fs.mutex.Lock()
	defer fs.mutex.Unlock()

	if err := fs.ensureMounted(); err != nil {
		return err
	}
	_, err := fs.dir.Mkdir(dir.NormalizePath(path))
	return err
}

// Rmdir removes an empty directory.
func (fs *FileSystem) Rmdir(path string) error {
	fs.mutex.Lock()
	defer fs.mutex.Unlock()

	if err := fs.ensureMounted(); err != nil {
		return err
	}
	return fs.dir.Rmdir(dir.NormalizePath(path))
}

// Readdir lists the directory's valid entries.
func (fs *FileSystem) Readdir(path string) ([]DirEntry, error) {
	fs.mutex.Lock()
	defer fs.mutex.Unlock()

	if err := fs.ensureMounted(); err != nil {
		return nil, err
	}
	return fs.dir.List(dir.NormalizePath(path))
}

// MkdirAll creates the directory and any missing parents; an existing
// directory along the way is fine, anything else is NotDirErr.
func (fs *FileSystem) MkdirAll(path string) error {
	fs.mutex.Lock()
	defer fs.mutex.Unlock()

	if err := fs.ensureMounted(); err != nil {
		return err
	}

	normalized := dir.NormalizePath(path)
	if normalized == "/" {
		return nil
	}

	current := ""
	for _, component := range dir.SplitPath(normalized) {
		current += "/" + component
		if !fs.dir.Exists(current) {
			if _, err := fs.dir.Mkdir(current); err != nil {
				return fmt.Errorf("mkdir -p `%s`: %w", path, err)
			}
		} else if !fs.dir.IsDirectory(current) {
			return fmt.Errorf("mkdir -p `%s`: `%s`: %w", path, current, NotDirErr)
		}
	}
	return nil
}

// Create makes an empty regular file.
func (fs *FileSystem) Create(path string) error {
	fs.mutex.Lock()
	defer fs.mutex.Unlock()

	if err := fs.ensureMounted(); err != nil {
		return err
	}
	_, err := fs.dir.CreateFile(dir.NormalizePath(path))
	return err
}

// Unlink removes a regular file.
func (fs *FileSystem) Unlink(path string) error {
	fs.mutex.Lock()
	defer fs.mutex.Unlock()

	if err := fs.ensureMounted(); err != nil {
		return err
	}
	return fs.dir.RemoveFile(dir.NormalizePath(path))
}

// Remove deletes a file or an empty directory.
func (fs *FileSystem) Remove(path string) error {
	fs.mutex.Lock()
	defer fs.mutex.Unlock()

	if err := fs.ensureMounted(); err != nil {
		return err
	}
	return fs.dir.Remove(dir.NormalizePath(path))
}

// ReadFile reads up to length bytes from offset; length 0 reads to the
// end of the file.
func (fs *FileSystem) ReadFile(path string, offset, length uint32) ([]byte, error) {
	fs.mutex.Lock()
	defer fs.mutex.Unlock()

	if err := fs.ensureMounted(); err != nil {
		return nil, err
	}
	return fs.dir.ReadFile(dir.NormalizePath(path), offset, length)
}

// ReadFileString reads the whole file as a string.
func (fs *FileSystem) ReadFileString(path string) (string, error) {
	data, err := fs.ReadFile(path, 0, 0)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// WriteFile writes data at offset and returns the byte count written.
func (fs *FileSystem) WriteFile(path string, data []byte, offset uint32) (uint32, error) {
	fs.mutex.Lock()
	defer fs.mutex.Unlock()

	if err := fs.ensureMounted(); err != nil {
		return 0, err
	}
	return fs.dir.WriteFile(dir.NormalizePath(path), data, offset)
}

// WriteString writes a string at offset.
func (fs *FileSystem) WriteString(path, content string, offset uint32) (uint32, error) {
	return fs.WriteFile(path, []byte(content), offset)
}

// AppendFile writes at the current end of the file.
func (fs *FileSystem) AppendFile(path string, data []byte) (uint32, error) {
	fs.mutex.Lock()
	defer fs.mutex.Unlock()

	if err := fs.ensureMounted(); err != nil {
		return 0, err
	}
	return fs.dir.AppendFile(dir.NormalizePath(path), data)
}

// Truncate shrinks or extends the file to size.
func (fs *FileSystem) Truncate(path string, size uint32) error {
	fs.mutex.Lock()
	defer fs.mutex.Unlock()

	if err := fs.ensureMounted(); err != nil {
		return err
	}
	return fs.dir.Truncate(dir.NormalizePath(path), size)
}

// CopyFile copies src over dst, creating dst when absent and truncating
// it to the source length.
func (fs *FileSystem) CopyFile(src, dst string) error {
	fs.mutex.Lock()
	defer fs.mutex.Unlock()

	if err := fs.ensureMounted(); err != nil {
		return err
	}

	srcPath := dir.NormalizePath(src)
	dstPath := dir.NormalizePath(dst)

	data, err := fs.dir.ReadFile(srcPath, 0, 0)
	if err != nil {
		return fmt.Errorf("copying `%s` to `%s`: %w", src, dst, err)
	}

	if !fs.dir.Exists(dstPath) {
		if _, err := fs.dir.CreateFile(dstPath); err != nil {
			return fmt.Errorf("copying `%s` to `%s`: %w", src, dst, err)
		}
	}

	if _, err := fs.dir.WriteFile(dstPath, data, 0); err != nil {
		return fmt.Errorf("copying `%s` to `%s`: %w", src, dst, err)
	}
	if err := fs.dir.Truncate(dstPath, uint32(len(data))); err != nil {
		return fmt.Errorf("copying `%s` to `%s`: %w", src, dst, err)
	}
	return nil
}

// MoveFile is copy-then-unlink.
func (fs *FileSystem) MoveFile(src, dst string) error {
	if err := fs.CopyFile(src, dst); err != nil {
		return err
	}
	return fs.Unlink(src)
}

// Stat returns file metadata.
func (fs *FileSystem) Stat(path string) (FileStat, error) {
	fs.mutex.Lock()
	defer fs.mutex.Unlock()

	if err := fs.ensureMounted(); err != nil {
		return FileStat{}, err
	}
	return fs.dir.Stat(dir.NormalizePath(path))
}

func (fs *FileSystem) Exists(path string) bool {
	fs.mutex.Lock()
	defer fs.mutex.Unlock()

	if fs.ensureMounted() != nil {
		return false
	}
	return fs.dir.Exists(dir.NormalizePath(path))
}

func (fs *FileSystem) IsDir(path string) bool {
	fs.mutex.Lock()
	defer fs.mutex.Unlock()

	if fs.ensureMounted() != nil {
		return false
	}
	return fs.dir.IsDirectory(dir.NormalizePath(path))
}

func (fs *FileSystem) IsFile(path string) bool {
	fs.mutex.Lock()
	defer fs.mutex.Unlock()

	if fs.ensureMounted() != nil {
		return false
	}
	return fs.dir.IsFile(dir.NormalizePath(path))
}

func (fs *FileSystem) FileSize(path string) (uint32, error) {
	stat, err := fs.Stat(path)
	if err != nil {
		return 0, err
	}
	return stat.Size, nil
}
