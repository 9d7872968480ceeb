package types

// ConstError is an error that can be declared as a constant and matched
// with errors.Is.
type ConstError string

func (err ConstError) Error() string { return string(err) }

const (
	IOErr       ConstError = "I/O error"
	InternalErr ConstError = "internal error"

	InvalidParamErr ConstError = "invalid parameter"
	InvalidPathErr  ConstError = "invalid path"
	NameTooLongErr  ConstError = "name too long"

	NotFoundErr      ConstError = "not found"
	AlreadyExistsErr ConstError = "already exists"

	NotDirErr   ConstError = "not a directory"
	IsDirErr    ConstError = "is a directory"
	NotEmptyErr ConstError = "directory not empty"

	NoSpaceErr      ConstError = "no space left"
	NoInodeErr      ConstError = "no inode available"
	FileTooLargeErr ConstError = "file too large"

	PermissionErr ConstError = "permission denied"

	SnapshotNotFoundErr ConstError = "snapshot not found"
	SnapshotExistsErr   ConstError = "snapshot exists"
	MaxSnapshotsErr     ConstError = "max snapshots reached"
)
