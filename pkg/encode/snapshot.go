package encode

import (
	"strings"

	. "github.com/weberc2/snapfs/pkg/types"
)

// EncodeSnapshotList writes the snapshot list block: a 4-byte count, a
// 4-byte reserved word, then up to MaxSnapshots fixed 64-byte records.
func EncodeSnapshotList(snapshots []SnapshotInfo, b *[BlockSize]byte) {
	p := b[:]
	for i := range p {
		p[i] = 0
	}

	count := uint32(len(snapshots))
	if count > MaxSnapshots {
		count = MaxSnapshots
	}
	putU32(p, snapListCountStart, count)

	for i := uint32(0); i < count; i++ {
		encodeSnapshotMeta(&snapshots[i], p[snapListMetaStart+i*snapMetaSize:])
	}
}

func DecodeSnapshotList(b *[BlockSize]byte) []SnapshotInfo {
	p := b[:]

	count := getU32(p, snapListCountStart)
	if count > MaxSnapshots {
		count = MaxSnapshots
	}

	snapshots := make([]SnapshotInfo, 0, count)
	for i := uint32(0); i < count; i++ {
		var info SnapshotInfo
		decodeSnapshotMeta(&info, p[snapListMetaStart+i*snapMetaSize:])
		snapshots = append(snapshots, info)
	}
	return snapshots
}

func encodeSnapshotMeta(info *SnapshotInfo, p []byte) {
	name := info.Name
	if uint32(len(name)) > MaxSnapshotNameLen {
		name = name[:MaxSnapshotNameLen]
	}
	copy(p[snapMetaNameStart:snapMetaNameStart+snapMetaNameSize], name)

	putI64(p, snapMetaCreateTimeStart, info.CreateTime)
	putIno(p, snapMetaRootInodeStart, info.RootInode)
	putU32(p, snapMetaBlockCountStart, info.BlockCount)

	var flags uint32
	if info.Valid {
		flags |= snapMetaFlagValid
	}
	putU32(p, snapMetaFlagsStart, flags)
}

func decodeSnapshotMeta(info *SnapshotInfo, p []byte) {
	raw := p[snapMetaNameStart : snapMetaNameStart+snapMetaNameSize]
	info.Name = strings.TrimRight(string(raw), "\x00")

	info.CreateTime = getI64(p, snapMetaCreateTimeStart)
	info.RootInode = getIno(p, snapMetaRootInodeStart)
	info.BlockCount = getU32(p, snapMetaBlockCountStart)
	info.Valid = getU32(p, snapMetaFlagsStart)&snapMetaFlagValid != 0
}

const (
	snapListCountStart    = 0
	snapListReservedStart = snapListCountStart + 4
	snapListMetaStart     = snapListReservedStart + 4

	snapMetaNameStart = 0
	snapMetaNameSize  = 32

	snapMetaCreateTimeStart = snapMetaNameStart + snapMetaNameSize
	snapMetaRootInodeStart  = snapMetaCreateTimeStart + 8
	snapMetaBlockCountStart = snapMetaRootInodeStart + 4
	snapMetaFlagsStart      = snapMetaBlockCountStart + 4

	snapMetaReservedStart = snapMetaFlagsStart + 4
	snapMetaReservedSize  = 12
	snapMetaSize          = snapMetaReservedStart + snapMetaReservedSize

	snapMetaFlagValid uint32 = 0x0001
)
