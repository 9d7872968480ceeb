package encode

import (
	"fmt"

	. "github.com/weberc2/snapfs/pkg/types"
)

func EncodeInode(inode *Inode, b *[InodeSize]byte) {
	p := b[:]
	for i := range p {
		p[i] = 0
	}

	putU8(p, inodeTypeStart, uint8(inode.Type))
	putU8(p, inodePermissionsStart, inode.Permissions)
	putU16(p, inodeFlagsStart, inode.Flags)
	putU32(p, inodeSizeStart, inode.Size)
	putU16(p, inodeLinkCountStart, inode.LinkCount)
	putU16(p, inodeRefCountStart, inode.RefCount)
	putI64(p, inodeCreateTimeStart, inode.CreateTime)
	putI64(p, inodeModifyTimeStart, inode.ModifyTime)
	putI64(p, inodeAccessTimeStart, inode.AccessTime)

	for i := uint32(0); i < NumDirectBlocks; i++ {
		putBlock(p, inodeDirectBlocksStart+i*4, inode.DirectBlocks[i])
	}

	putBlock(p, inodeSingleIndirectStart, inode.SingleIndirect)
	putBlock(p, inodeDoubleIndirectStart, inode.DoubleIndirect)
	putU32(p, inodeBlockCountStart, inode.BlockCount)
	putU32(p, inodeChecksumStart, inode.Checksum)
}

func DecodeInode(inode *Inode, b *[InodeSize]byte) error {
	p := b[:]

	// validate before mutating the pointee
	ft := FileType(getU8(p, inodeTypeStart))
	if err := ft.Validate(); err != nil {
		return fmt.Errorf("decoding inode: %w", err)
	}

	inode.Type = ft
	inode.Permissions = getU8(p, inodePermissionsStart)
	inode.Flags = getU16(p, inodeFlagsStart)
	inode.Size = getU32(p, inodeSizeStart)
	inode.LinkCount = getU16(p, inodeLinkCountStart)
	inode.RefCount = getU16(p, inodeRefCountStart)
	inode.CreateTime = getI64(p, inodeCreateTimeStart)
	inode.ModifyTime = getI64(p, inodeModifyTimeStart)
	inode.AccessTime = getI64(p, inodeAccessTimeStart)

	for i := uint32(0); i < NumDirectBlocks; i++ {
		inode.DirectBlocks[i] = getBlock(p, inodeDirectBlocksStart+i*4)
	}

	inode.SingleIndirect = getBlock(p, inodeSingleIndirectStart)
	inode.DoubleIndirect = getBlock(p, inodeDoubleIndirectStart)
	inode.BlockCount = getU32(p, inodeBlockCountStart)
	inode.Checksum = getU32(p, inodeChecksumStart)

	return nil
}

const (
	inodeTypeStart        = 0
	inodePermissionsStart = inodeTypeStart + 1
	inodeFlagsStart       = inodePermissionsStart + 1

	inodeSizeStart      = inodeFlagsStart + 2
	inodeLinkCountStart = inodeSizeStart + 4
	inodeRefCountStart  = inodeLinkCountStart + 2

	inodeCreateTimeStart = inodeRefCountStart + 2
	inodeModifyTimeStart = inodeCreateTimeStart + 8
	inodeAccessTimeStart = inodeModifyTimeStart + 8

	inodeDirectBlocksStart = inodeAccessTimeStart + 8
	inodeDirectBlocksSize  = NumDirectBlocks * 4

	inodeSingleIndirectStart = inodeDirectBlocksStart + inodeDirectBlocksSize
	inodeDoubleIndirectStart = inodeSingleIndirectStart + 4

	inodeBlockCountStart = inodeDoubleIndirectStart + 4
	inodeChecksumStart   = inodeBlockCountStart + 4

	inodeReservedStart = inodeChecksumStart + 4
	inodeReservedSize  = 28
)
