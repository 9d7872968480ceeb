package dir

import (
	"fmt"
	"strings"

	. "github.com/weberc2/snapfs/pkg/types"
)

// NormalizePath collapses repeated separators and strips any trailing
// separator (except for the root itself). Relative input is anchored at
// the root.
func NormalizePath(path string) string {
	if path == "" {
		return "/"
	}
	if path[0] != '/' {
		path = "/" + path
	}

	var builder strings.Builder
	lastWasSlash := false
	for i := 0; i < len(path); i++ {
		c := path[i]
		if c == '/' {
			if !lastWasSlash {
				builder.WriteByte(c)
			}
			lastWasSlash = true
		} else {
			builder.WriteByte(c)
			lastWasSlash = false
		}
	}

	cleaned := builder.String()
	for len(cleaned) > 1 && cleaned[len(cleaned)-1] == '/' {
		cleaned = cleaned[:len(cleaned)-1]
	}
	return cleaned
}

// SplitPath returns the path components with `.` dropped and `..`
// resolved against the components collected so far (clamped at root).
func SplitPath(path string) []string {
	normalized := NormalizePath(path)
	if normalized == "/" {
		return nil
	}

	var components []string
	for _, token := range strings.Split(normalized[1:], "/") {
		switch token {
		case "", ".":
		case "..":
			if len(components) > 0 {
				components = components[:len(components)-1]
			}
		default:
			components = append(components, token)
		}
	}
	return components
}

func IsValidPath(path string) bool {
	if path == "" || path[0] != '/' {
		return false
	}
	for _, component := range SplitPath(path) {
		if !IsValidName(component) {
			return false
		}
	}
	return true
}

// IsValidName reports whether name is usable for a user-created entry:
// non-empty, at most MaxNameLen bytes, not a reserved name, and free of
// separators and NUL bytes.
func IsValidName(name string) bool {
	if name == "" || uint32(len(name)) > MaxNameLen {
		return false
	}
	if name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, "/\x00")
}

// ResolvePath walks the directory tree from the root and returns the
// inode the path names.
func (d *Directory) ResolvePath(path string) (Ino, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.resolvePath(path)
}

func (d *Directory) resolvePath(path string) (Ino, error) {
	components := SplitPath(path)
	current := RootIno

	for _, name := range components {
		var inode Inode
		if err := d.readInode(current, &inode); err != nil {
			return InvalidIno, fmt.Errorf("resolving `%s`: %w", path, err)
		}
		if !inode.IsDirectory() {
			return InvalidIno, fmt.Errorf("resolving `%s`: %w", path, NotDirErr)
		}

		entry, err := d.lookup(current, name)
		if err != nil {
			return InvalidIno, fmt.Errorf("resolving `%s`: %w", path, NotFoundErr)
		}
		current = entry.Ino
	}

	return current, nil
}

// ParentInfo names the directory that would contain the path's final
// component, plus that component.
type ParentInfo struct {
	Parent Ino
	Name   string
}

// ResolveParent resolves everything but the final component. The final
// component itself need not exist.
func (d *Directory) ResolveParent(path string) (ParentInfo, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.resolveParent(path)
}

func (d *Directory) resolveParent(path string) (ParentInfo, error) {
	components := SplitPath(path)
	if len(components) == 0 {
		return ParentInfo{}, fmt.Errorf(
			"resolving parent of `%s`: %w",
			path,
			InvalidPathErr,
		)
	}

	info := ParentInfo{Parent: RootIno, Name: components[len(components)-1]}
	for _, name := range components[:len(components)-1] {
		var inode Inode
		if err := d.readInode(info.Parent, &inode); err != nil {
			return ParentInfo{}, fmt.Errorf("resolving parent of `%s`: %w", path, err)
		}
		if !inode.IsDirectory() {
			return ParentInfo{}, fmt.Errorf(
				"resolving parent of `%s`: %w",
				path,
				NotDirErr,
			)
		}

		entry, err := d.lookup(info.Parent, name)
		if err != nil {
			return ParentInfo{}, fmt.Errorf(
				"resolving parent of `%s`: %w",
				path,
				NotFoundErr,
			)
		}
		info.Parent = entry.Ino
	}

	var parent Inode
	if err := d.readInode(info.Parent, &parent); err != nil {
		return ParentInfo{}, fmt.Errorf("resolving parent of `%s`: %w", path, err)
	}
	if !parent.IsDirectory() {
		return ParentInfo{}, fmt.Errorf("resolving parent of `%s`: %w", path, NotDirErr)
	}

	return info, nil
}

func (d *Directory) Stat(path string) (FileStat, error) {
	ino, err := d.ResolvePath(path)
	if err != nil {
		return FileStat{}, err
	}
	return d.StatInode(ino)
}

func (d *Directory) StatInode(ino Ino) (FileStat, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	var inode Inode
	if err := d.readInode(ino, &inode); err != nil {
		return FileStat{}, fmt.Errorf("statting inode `%d`: %w", ino, err)
	}

	return FileStat{
		Ino:        ino,
		Type:       inode.Type,
		Size:       inode.Size,
		LinkCount:  inode.LinkCount,
		CreateTime: inode.CreateTime,
		ModifyTime: inode.ModifyTime,
		AccessTime: inode.AccessTime,
		Blocks:     inode.BlockCount,
	}, nil
}

func (d *Directory) Exists(path string) bool {
	_, err := d.ResolvePath(path)
	return err == nil
}

func (d *Directory) IsDirectory(path string) bool {
	stat, err := d.Stat(path)
	return err == nil && stat.Type == FileTypeDir
}

func (d *Directory) IsFile(path string) bool {
	stat, err := d.Stat(path)
	return err == nil && stat.Type == FileTypeRegular
}
