package image

import (
	"encoding/binary"

	"mvm/mvmerr"
	"mvm/port"
)

// MaxSnapshotSize is the 64 KiB ceiling on a produced image, since section
// offsets and Values are both 16-bit.
const MaxSnapshotSize = 1 << 16

// CreateSnapshot serializes a restored VM back into a bytecode image: the
// constant prefix (everything up to and including ROM) is copied verbatim
// from the source image, globals and the heap are serialized via
// r.Heap.Serialize (heap/snapshot.go), and the CRC is recomputed over the
// new image.
func CreateSnapshot(r *Restored) ([]byte, *mvmerr.Error) {
	h := r.Header
	prefixEnd := int(h.SectionOffsets[SecGlobals])

	heapBytes, globalsOut := r.Heap.Serialize(r.Globals)

	globalsBytes := make([]byte, len(globalsOut)*2)
	for i, g := range globalsOut {
		binary.LittleEndian.PutUint16(globalsBytes[i*2:i*2+2], uint16(g))
	}

	totalSize := prefixEnd + len(globalsBytes) + len(heapBytes)
	if totalSize > MaxSnapshotSize {
		return nil, mvmerr.New(mvmerr.SnapshotTooLarge)
	}

	out := make([]byte, totalSize)
	copy(out, r.Bytecode[:prefixEnd])
	copy(out[prefixEnd:], globalsBytes)
	copy(out[prefixEnd+len(globalsBytes):], heapBytes)

	binary.LittleEndian.PutUint16(out[offTotalSize:offTotalSize+2], uint16(totalSize))
	binary.LittleEndian.PutUint16(out[offSectionOffset+int(SecGlobals)*2:offSectionOffset+int(SecGlobals)*2+2], uint16(prefixEnd))
	binary.LittleEndian.PutUint16(out[offSectionOffset+int(SecHeap)*2:offSectionOffset+int(SecHeap)*2+2], uint16(prefixEnd+len(globalsBytes)))

	crc := port.CRC16(out[8:totalSize])
	binary.LittleEndian.PutUint16(out[offCRC:offCRC+2], crc)

	return out, nil
}
