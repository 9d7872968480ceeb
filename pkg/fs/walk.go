package fs

import (
	"fmt"

	"github.com/weberc2/snapfs/pkg/dir"
	. "github.com/weberc2/snapfs/pkg/types"
)

// WalkFunc is invoked once per visited path; returning false prunes the
// walk below a directory (and stops it entirely at the top level).
type WalkFunc func(path string, stat FileStat) bool

// Walk visits path and, for directories, every entry beneath it. It
// runs outside the facade lock (the callback may call back into the
// filesystem) under the quiesce barrier's active-operation count.
func (fs *FileSystem) Walk(path string, fn WalkFunc) error {
	fs.mutex.Lock()
	if err := fs.ensureMounted(); err != nil {
		fs.mutex.Unlock()
		return err
	}
	directory := fs.dir
	fs.mutex.Unlock()

	if err := fs.beginOp(); err != nil {
		return err
	}
	defer fs.endOp()

	return fs.walk(directory, dir.NormalizePath(path), fn)
}

func (fs *FileSystem) walk(directory *dir.Directory, path string, fn WalkFunc) error {
	stat, err := directory.Stat(path)
	if err != nil {
		return err
	}

	if !fn(path, stat) {
		return nil
	}

	if stat.Type != FileTypeDir {
		return nil
	}

	entries, err := directory.List(path)
	if err != nil {
		return err
	}

	for i := range entries {
		name := entries[i].Name
		if name == "." || name == ".." {
			continue
		}
		if err := fs.walk(directory, childPath(path, name), fn); err != nil {
			return err
		}
	}
	return nil
}

// RemoveRecursive deletes the tree rooted at path. The root itself is
// protected.
func (fs *FileSystem) RemoveRecursive(path string) error {
	fs.mutex.Lock()
	if err := fs.ensureMounted(); err != nil {
		fs.mutex.Unlock()
		return err
	}
	directory := fs.dir
	fs.mutex.Unlock()

	if err := fs.beginOp(); err != nil {
		return err
	}
	defer fs.endOp()

	return fs.removeRecursive(directory, dir.NormalizePath(path))
}

func (fs *FileSystem) removeRecursive(directory *dir.Directory, path string) error {
	if path == "/" {
		return fmt.Errorf("removing `/` recursively: %w", PermissionErr)
	}

	if !directory.IsDirectory(path) {
		return directory.RemoveFile(path)
	}

	entries, err := directory.List(path)
	if err != nil {
		return err
	}

	for i := range entries {
		name := entries[i].Name
		if name == "." || name == ".." {
			continue
		}
		if err := fs.removeRecursive(directory, childPath(path, name)); err != nil {
			return err
		}
	}

	return directory.Rmdir(path)
}

// DirSize totals the sizes of every regular file under path.
func (fs *FileSystem) DirSize(path string) (uint64, error) {
	var total uint64
	if err := fs.Walk(path, func(_ string, stat FileStat) bool {
		if stat.Type == FileTypeRegular {
			total += uint64(stat.Size)
		}
		return true
	}); err != nil {
		return 0, err
	}
	return total, nil
}

// CheckConsistency validates counters against the bitmaps and the
// bitmaps against reachability (live tree, snapshots, and bookkeeping
// blocks); with fix set, both are repaired.
func (fs *FileSystem) CheckConsistency(fix bool) error {
	fs.mutex.Lock()
	defer fs.mutex.Unlock()

	if err := fs.ensureMounted(); err != nil {
		return err
	}

	var failure error
	if err := fs.alloc.CheckConsistency(fix); err != nil {
		failure = err
	}

	usedInodes, usedBlocks, err := fs.snap.CollectUsage()
	if err != nil {
		return err
	}

	report, err := fs.alloc.ReconcileUsage(usedInodes, usedBlocks, fix)
	if err != nil {
		return err
	}
	if !report.Clean() && !fix {
		return fmt.Errorf(
			"reachability mismatch: `%d` orphan inodes, `%d` orphan blocks, "+
				"`%d` lost inodes, `%d` lost blocks: %w",
			len(report.OrphanInodes),
			len(report.OrphanBlocks),
			len(report.LostInodes),
			len(report.LostBlocks),
			InternalErr,
		)
	}

	return failure
}

func childPath(parent, name string) string {
	if parent == "/" {
		return "/" + name
	}
	return parent + "/" + name
}
