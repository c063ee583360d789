package binfmt

// Signature is the fixed 8-byte stream header of §4.G. The first byte
// happens to be a valid CBOR "self-describe" tag prefix, but that is
// coincidental — implementations must emit exactly these bytes.
var Signature = [8]byte{0xbf, 'n', 'c', 'd', 'u', 'E', 'X', '1'}

const (
	blockKindData  = 0
	blockKindIndex = 1
)

// blockHeader packs a block's kind (high 4 bits) and total length,
// including the 4-byte header and 4-byte trailer (low 28 bits).
func blockHeader(kind byte, totalLen uint32) uint32 {
	return uint32(kind)<<28 | (totalLen & 0x0fffffff)
}

func decodeBlockHeader(h uint32) (kind byte, totalLen uint32) {
	return byte(h >> 28), h & 0x0fffffff
}

func putU32(buf []byte, v uint32) {
	buf[0] = byte(v >> 24)
	buf[1] = byte(v >> 16)
	buf[2] = byte(v >> 8)
	buf[3] = byte(v)
}

func getU32(buf []byte) uint32 {
	return uint32(buf[0])<<24 | uint32(buf[1])<<16 | uint32(buf[2])<<8 | uint32(buf[3])
}

func putU64(buf []byte, v uint64) {
	for i := 0; i < 8; i++ {
		buf[i] = byte(v >> uint(56-8*i))
	}
}

func getU64(buf []byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v = v<<8 | uint64(buf[i])
	}
	return v
}

// itemRef packs a block number and in-block byte offset per §3.
func itemRef(blockNum uint64, offset uint32) uint64 {
	return blockNum<<24 | uint64(offset)
}

func splitItemRef(ref uint64) (blockNum uint64, offset uint32) {
	return ref >> 24, uint32(ref & 0xffffff)
}

// indexEntry packs a data block's file offset and compressed length,
// as stored in the index block body per §3.
func indexEntry(offset uint64, length uint32) uint64 {
	return offset<<24 | uint64(length&0xffffff)
}

func splitIndexEntry(e uint64) (offset uint64, length uint32) {
	return e >> 24, uint32(e & 0xffffff)
}

// bufferSizeSchedule is the worker-buffer doubling schedule of §4.G:
// 64 KiB initially, doubling after the worker has flushed 1, 2, 4, 8,
// and 16 × 2^20 blocks, ending at 2 MiB.
var bufferSizeSchedule = []int{
	64 << 10, 128 << 10, 256 << 10, 512 << 10, 1024 << 10, 2048 << 10,
}
