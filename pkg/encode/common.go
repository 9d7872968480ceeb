package encode

import (
	"encoding/binary"

	. "github.com/weberc2/snapfs/pkg/types"
)

func putBlock(b []byte, start uint32, block Block) {
	putU32(b, start, uint32(block))
}

func getBlock(b []byte, start uint32) Block {
	return Block(getU32(b, start))
}

func putIno(b []byte, start uint32, ino Ino) {
	putU32(b, start, uint32(ino))
}

func getIno(b []byte, start uint32) Ino {
	return Ino(getU32(b, start))
}

func putI64(b []byte, start uint32, i int64) {
	binary.LittleEndian.PutUint64(b[start:start+8], uint64(i))
}

func getI64(b []byte, start uint32) int64 {
	return int64(binary.LittleEndian.Uint64(b[start : start+8]))
}

func putU32(b []byte, start uint32, u uint32) {
	binary.LittleEndian.PutUint32(b[start:start+4], u)
}

func getU32(b []byte, start uint32) uint32 {
	return binary.LittleEndian.Uint32(b[start : start+4])
}

func putU16(b []byte, start uint32, u uint16) {
	binary.LittleEndian.PutUint16(b[start:start+2], u)
}

func getU16(b []byte, start uint32) uint16 {
	return binary.LittleEndian.Uint16(b[start : start+2])
}

func putU8(b []byte, start uint32, u uint8) {
	b[start] = u
}

func getU8(b []byte, start uint32) uint8 {
	return b[start]
}
