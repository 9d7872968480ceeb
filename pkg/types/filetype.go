package types

import "fmt"

type FileType uint8

const (
	FileTypeFree FileType = iota
	FileTypeRegular
	FileTypeDir
	FileTypeSymlink // reserved
)

func (ft FileType) String() string {
	switch ft {
	case FileTypeFree:
		return "Free"
	case FileTypeRegular:
		return "Regular"
	case FileTypeDir:
		return "Dir"
	case FileTypeSymlink:
		return "Symlink"
	default:
		return fmt.Sprintf("FileType(%d)", uint8(ft))
	}
}

func (ft FileType) Validate() error {
	if ft > FileTypeSymlink {
		return fmt.Errorf(
			"validating file type `%d`: %w",
			ft,
			InvalidFileTypeErr,
		)
	}
	return nil
}

const (
	InvalidFileTypeErr ConstError = "invalid file type"
)
