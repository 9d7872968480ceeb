package types

// SnapshotInfo is the in-memory form of one on-disk snapshot record.
// Snapshots are immutable once created; RootInode points at the cloned
// directory tree frozen at creation time.
type SnapshotInfo struct {
	Name       string
	CreateTime int64
	RootInode  Ino
	BlockCount uint32
	Valid      bool
}
