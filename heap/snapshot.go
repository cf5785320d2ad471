package heap

import (
	"encoding/binary"

	"mvm/value"
)

// LoadHeap installs data as the sole, fully-used bucket of a freshly
// restored heap: capacity equals len(data), so the bucket has no slack and
// every ShortPtr offset recorded in the image already matches this heap's
// addressing. Loading pointers is therefore an identity transform in this
// port: Go never switches between a native-pointer, page-relative, or
// offset representation the way a port targeting disjoint memory spaces
// might — a ShortPtr is always a logical-heap offset here, the same
// representation the image already stores it in.
func (h *Heap) LoadHeap(data []byte) {
	b := newBucket(0, len(data))
	b.data = make([]byte, len(data))
	copy(b.data, data)
	b.used = len(data)
	h.first, h.last = b, b
	h.totalCap = len(data)
}

// Serialize implements snapshot-side heap walk and
// serialize_pointers: the bucket chain's used bytes are concatenated
// (dropping each bucket's unused tail), and every ShortPtr word — in the
// concatenated heap bytes and in globals — is remapped from its runtime
// offset (relative to each bucket's capacity-based start) to its new
// offset in the compacted image (relative to each bucket's used-based
// start). Unlike moveValue in gc.go, this never allocates; it only
// rewrites offsets in place in freshly copied buffers.
func (h *Heap) Serialize(globalsIn []value.Value) (heapBytes []byte, globalsOut []value.Value) {
	type span struct {
		oldStart, used, newStart int
	}
	var spans []span
	total := 0
	for b := h.first; b != nil; b = b.next {
		spans = append(spans, span{oldStart: b.startOffset, used: b.used, newStart: total})
		total += b.used
	}

	remap := func(v value.Value) value.Value {
		if !v.IsShortPtr() {
			return v
		}
		off := int(v.Offset())
		for _, s := range spans {
			if off >= s.oldStart && off < s.oldStart+s.used {
				return value.ShortPtr(uint16(s.newStart + (off - s.oldStart)))
			}
		}
		return v
	}

	heapBytes = make([]byte, total)
	for i, b := range spans {
		_ = i
		bucket := h.bucketAt(b.oldStart)
		copy(heapBytes[b.newStart:b.newStart+b.used], bucket.data[:b.used])
	}

	pos := 0
	for pos < len(heapBytes) {
		hdr := value.Header(binary.LittleEndian.Uint16(heapBytes[pos : pos+2]))
		size := hdr.Size()
		tc := hdr.TypeCode()
		if tc.IsContainer() {
			n := size / 2
			for i := 0; i < n; i++ {
				wOff := pos + 2 + i*2
				old := value.Value(binary.LittleEndian.Uint16(heapBytes[wOff : wOff+2]))
				binary.LittleEndian.PutUint16(heapBytes[wOff:wOff+2], uint16(remap(old)))
			}
		}
		pos += 2 + size
	}

	globalsOut = make([]value.Value, len(globalsIn))
	for i, g := range globalsIn {
		globalsOut[i] = remap(g)
	}
	return
}

func (h *Heap) bucketAt(startOffset int) *bucket {
	for b := h.first; b != nil; b = b.next {
		if b.startOffset == startOffset {
			return b
		}
	}
	return nil
}
