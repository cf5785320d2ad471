package heap

import (
	"encoding/binary"

	"mvm/mvmerr"
	"mvm/value"
)

// Collect runs a Cheney-style semi-space collection, moving every
// reachable allocation from the current bucket chain (fromspace) into a
// freshly allocated chain (tospace), then freeing fromspace. If squeeze is
// true and the measured live size differs from the estimate used to size
// tospace's first bucket, a second collection runs sized exactly to the
// measured size, trading one extra traversal for a minimal-footprint idle
// heap.
func (h *Heap) Collect(squeeze bool) {
	hint := h.bucketHnt
	h.collectOnce(hint)
	if squeeze {
		used, _ := h.HeapUsed()
		if used != hint {
			h.collectOnce(used)
		}
	}
}

func (h *Heap) collectOnce(bucketHint int) {
	if bucketHint < 4 {
		bucketHint = 4
	}
	oldFirst := h.first

	h.first, h.last = nil, nil
	h.totalCap = 0
	h.addBucket(bucketHint)

	move := func(v *value.Value) { *v = h.moveValue(oldFirst, *v) }

	for i := range h.globals {
		move(&h.globals[i])
	}
	for i := range h.builtins {
		move(&h.builtins[i])
	}
	h.forEachHandle(func(handle *Handle) { move(&handle.Value) })
	if h.roots != nil {
		h.roots.VisitRoots(move)
	}

	h.traceToSpace(oldFirst)

	for b := oldFirst; b != nil; {
		next := b.next
		h.allocator.Free(b.data)
		b = next
	}
}

// traceToSpace walks tospace linearly, rewriting every pointer word of
// each container allocation it finds. Because newly-moved objects are
// appended to the end of tospace during this same walk, one pass suffices
// (classic Cheney). Array and PropertyList are excluded: their pointer
// fields are already fully resolved eagerly at copy time (see moveValue),
// so re-tracing them here would feed moveValue an already-tospace-resident
// value instead of a fromspace one.
func (h *Heap) traceToSpace(oldFirst *bucket) {
	b := h.first
	pos := 0
	for b != nil {
		if pos >= b.used {
			b = b.next
			pos = 0
			continue
		}
		hdr := value.Header(binary.LittleEndian.Uint16(b.data[pos : pos+2]))
		total := 2 + hdr.Size()
		tc := hdr.TypeCode()
		if tc.IsContainer() && tc != value.TCArray && tc != value.TCPropertyList {
			n := hdr.Size() / 2
			for i := 0; i < n; i++ {
				wOff := pos + 2 + i*2
				old := value.Value(binary.LittleEndian.Uint16(b.data[wOff : wOff+2]))
				newV := h.moveValue(oldFirst, old)
				binary.LittleEndian.PutUint16(b.data[wOff:wOff+2], uint16(newV))
			}
		}
		pos += total
	}
}

// moveValue is the per-value move procedure of : leave
// non-pointers untouched, follow an existing tombstone's forwarding
// pointer, or copy the fromspace allocation into tospace and leave a
// tombstone behind.
func (h *Heap) moveValue(oldFirst *bucket, v value.Value) value.Value {
	if !v.IsShortPtr() {
		return v
	}
	ref := resolveShortPtrIn(oldFirst, v)
	if !ref.Valid() {
		h.fatalf(mvmerr.AssertionFailed)
	}
	hdr := ref.Header()
	if hdr.IsTombstone() {
		return ref.Word(0)
	}

	var newPtr value.Value
	switch hdr.TypeCode() {
	case value.TCArray:
		newPtr = h.moveArray(oldFirst, ref, hdr)
	case value.TCPropertyList:
		newPtr = h.movePropertyList(oldFirst, ref, hdr)
	default:
		newPtr = h.rawCopy(ref.bytes)
	}

	ref.setHeader(value.TombstoneHeader)
	ref.SetWord(0, newPtr)
	return newPtr
}

// growTospace is like ensureRoom but never triggers a nested collection:
// tospace must be allowed to grow past the configured cap while a
// collection is in progress, since the live set size is whatever it is.
func (h *Heap) growTospace(total int) {
	if h.last != nil && h.last.used+total <= len(h.last.data) {
		return
	}
	cap := total
	if cap < h.bucketHnt {
		cap = h.bucketHnt
	}
	h.addBucket(cap)
}

// rawCopy appends a verbatim copy of src (header + payload bytes) to the
// end of tospace and returns a ShortPtr to it.
func (h *Heap) rawCopy(src []byte) value.Value {
	total := len(src)
	h.growTospace(total)
	b := h.last
	offset := b.startOffset + b.used
	copy(b.data[b.used:b.used+total], src)
	b.used += total
	return value.ShortPtr(uint16(offset))
}

// rawAlloc reserves and zero-initializes total bytes in tospace without
// copying from anywhere, for constructing a new allocation (the
// PropertyList merge) whose payload doesn't correspond 1:1 to any single
// fromspace allocation.
func (h *Heap) rawAlloc(total int) (offset int, buf []byte) {
	h.growTospace(total)
	b := h.last
	offset = b.startOffset + b.used
	buf = b.data[b.used : b.used+total]
	b.used += total
	return
}

// moveArray implements the Array compaction of : the backing
// FixedLengthArray is moved eagerly (rather than left for the generic
// tracing pass), with its fromspace header first truncated to the array's
// logical length so only that many slots are copied and the tospace walk
// stays on allocation boundaries; a zero-length array's backing is not
// moved and the pointer is nulled out.
func (h *Heap) moveArray(oldFirst *bucket, ref Ref, hdr value.Header) value.Value {
	dpData := ref.Word(0)
	length := ref.Word(1)

	newBacking := dpData
	if dpData.IsShortPtr() {
		backingRef := resolveShortPtrIn(oldFirst, dpData)
		lengthInt := int(length.AsInt14())
		capacitySlots := backingRef.WordCount()
		switch {
		case lengthInt == 0:
			newBacking = value.Null
		case lengthInt < capacitySlots:
			backingRef.setHeader(value.MakeHeader(lengthInt*2, value.TCFixedLengthArray))
		}
		if lengthInt != 0 {
			newBacking = h.moveValue(oldFirst, dpData)
		}
	}

	total := 2 + hdr.Size()
	offset, buf := h.rawAlloc(total)
	binary.LittleEndian.PutUint16(buf[0:2], uint16(hdr))
	binary.LittleEndian.PutUint16(buf[2:4], uint16(newBacking))
	binary.LittleEndian.PutUint16(buf[4:6], uint16(length))
	return value.ShortPtr(uint16(offset))
}

// movePropertyList compacts a PropertyList during collection: the chain
// of appended single-property groups is merged into one allocation. A
// microcontroller-constrained implementation might stream the merge and
// retry if it overflows the current tospace bucket mid-write; this Go port
// first measures the total merged size and grows tospace once before
// writing, since precomputing the size is cheap here and makes a retry
// loop unnecessary.
func (h *Heap) movePropertyList(oldFirst *bucket, ref Ref, hdr value.Header) value.Value {
	type pair struct{ key, val value.Value }
	var pairs []pair
	proto := ref.Word(1)

	cur := ref
	for {
		// Every group, head or appended, is {next, prototype, (key,value)*}
		//; only the head's prototype slot is meaningful.
		n := cur.WordCount()
		for i := 2; i+1 < n; i += 2 {
			pairs = append(pairs, pair{key: cur.Word(i), val: cur.Word(i + 1)})
		}
		next := cur.Word(0)
		if !next.IsShortPtr() {
			break
		}
		cur = resolveShortPtrIn(oldFirst, next)
		if !cur.Valid() {
			h.fatalf(mvmerr.AssertionFailed)
		}
	}

	mergedSize := 4 + 4*len(pairs) // (next, prototype) + (key,value)*
	if mergedSize > value.MaxPayloadSize {
		h.fatalf(mvmerr.AllocationTooLarge)
	}

	newProto := h.moveValue(oldFirst, proto)

	total := 2 + mergedSize
	offset, buf := h.rawAlloc(total)
	newHdr := value.MakeHeader(mergedSize, value.TCPropertyList)
	binary.LittleEndian.PutUint16(buf[0:2], uint16(newHdr))
	binary.LittleEndian.PutUint16(buf[2:4], uint16(value.Null)) // next
	binary.LittleEndian.PutUint16(buf[4:6], uint16(newProto))
	for i, p := range pairs {
		k := h.moveValue(oldFirst, p.key)
		v := h.moveValue(oldFirst, p.val)
		off := 6 + i*4
		binary.LittleEndian.PutUint16(buf[off:off+2], uint16(k))
		binary.LittleEndian.PutUint16(buf[off+2:off+4], uint16(v))
	}
	return value.ShortPtr(uint16(offset))
}
