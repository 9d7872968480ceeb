package encode

import (
	. "github.com/weberc2/snapfs/pkg/types"
)

// An indirect block is an array of PtrsPerBlock little-endian block
// pointers; absent slots hold InvalidBlock.

func IndirectPtr(p []byte, index uint32) Block {
	return getBlock(p, index*4)
}

func SetIndirectPtr(p []byte, index uint32, block Block) {
	putBlock(p, index*4, block)
}

func InitIndirectBlock(p []byte) {
	for i := uint32(0); i < PtrsPerBlock; i++ {
		putBlock(p, i*4, InvalidBlock)
	}
}
