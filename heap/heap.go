// Package heap implements the semi-space moving collector: a linked list
// of buckets, a bump allocator, a Cheney-style copying collector, the
// handle list, and the built-in operations that operate on heap-resident
// types. Simplified to a single bump-allocator level, since this engine is
// strictly single-threaded and has no per-thread caches to shard across.
package heap

import (
	"encoding/binary"

	"github.com/sirupsen/logrus"

	"mvm/mvmerr"
	"mvm/port"
	"mvm/value"
)

// Builtin indexes the fixed BUILTINS array of a bytecode image.
type Builtin int

const (
	BuiltinInternedStrings Builtin = iota
	BuiltinArrayProto
	builtinCount
)

// BuiltinCount is the number of fixed builtin slots, exported so the
// image package can bound-check the BUILTINS section it parses.
const BuiltinCount = int(builtinCount)

// RootProvider lets a caller outside this package (the interpreter) expose
// additional GC roots — the scope register and every live word of the
// activation stack — without heap needing to know about call frames.
// visit is called once per root word; implementations mutate *v in place
// when a root is relocated by a collection.
type RootProvider interface {
	VisitRoots(visit func(v *value.Value))
}

// Heap is the GC-managed heap plus the fixed parts of a restored bytecode
// image it needs to resolve BytecodeMappedPtr/DynamicPtr values: the ROM
// and GLOBALS section bytes and the section offset table.
type Heap struct {
	first, last *bucket
	totalCap    int

	allocator port.Allocator
	maxHeap   int
	bucketHnt int
	fatal     port.FatalHook
	log       *logrus.Logger

	registersCached bool
	roots           RootProvider

	// Image context needed to decode BytecodeMappedPtr values.
	bytecode      []byte
	romOffset     int
	romEnd        int
	globalsOffset int
	globalsEnd    int

	globals     []value.Value
	builtins    [builtinCount]value.Value
	stringTable []value.Value // sorted ROM STRING_TABLE entries

	handles *Handle

	nalloc, nfree int
}

// New creates an empty heap using cfg's allocator, size cap and bucket
// size hint. The bytecode/section/globals context is filled in by
// image.Restore via SetImageContext once the image has been parsed.
func New(cfg port.Config) *Heap {
	h := &Heap{
		allocator: cfg.Allocator,
		maxHeap:   cfg.MaxHeapSize,
		bucketHnt: cfg.BucketSize,
		fatal:     cfg.Fatal,
		log:       cfg.Logger,
	}
	for i := range h.builtins {
		h.builtins[i] = value.Null
	}
	return h
}

// SetRootProvider registers the interpreter's stack/register roots. Must
// be called before any collection that should see live stack values.
func (h *Heap) SetRootProvider(rp RootProvider) { h.roots = rp }

// SetRegistersCached flags whether the interpreter currently holds cached
// registers that have not been flushed to the shared register block.
// Allocate asserts this is false.
func (h *Heap) SetRegistersCached(cached bool) { h.registersCached = cached }

// SetImageContext wires the restored bytecode image's ROM/GLOBALS section
// bounds so BytecodeMappedPtr values can be resolved.
func (h *Heap) SetImageContext(bytecode []byte, romOffset, romEnd, globalsOffset, globalsEnd int) {
	h.bytecode = bytecode
	h.romOffset = romOffset
	h.romEnd = romEnd
	h.globalsOffset = globalsOffset
	h.globalsEnd = globalsEnd
}

func (h *Heap) SetGlobals(g []value.Value)          { h.globals = g }
func (h *Heap) Globals() []value.Value              { return h.globals }
func (h *Heap) SetBuiltin(b Builtin, v value.Value) { h.builtins[b] = v }
func (h *Heap) GetBuiltin(b Builtin) value.Value     { return h.builtins[b] }
func (h *Heap) SetStringTable(t []value.Value)       { h.stringTable = t }

func (h *Heap) fatalf(code mvmerr.Code) {
	h.fatal(code)
	panic("unreachable: FatalHook must not return")
}

// alignAllocSize rounds a payload size up to the allocator's minimum
// granularity: even byte boundary, minimum total allocation (including the
// 2-byte header) of 4 bytes — the tombstone size.
func alignAllocSize(payloadSize int) (total int) {
	if payloadSize < 0 {
		payloadSize = 0
	}
	p := payloadSize
	if p%2 != 0 {
		p++
	}
	total = p + 2
	if total < 4 {
		total = 4
	}
	return total
}

// Allocate reserves a new allocation of the given payload size and type
// code, and returns a ShortPtr to it.
func (h *Heap) Allocate(payloadSize int, tc value.TypeCode) value.Value {
	if h.registersCached {
		h.fatalf(mvmerr.AssertionFailed)
	}
	if payloadSize > value.MaxPayloadSize {
		h.fatalf(mvmerr.AllocationTooLarge)
	}
	total := alignAllocSize(payloadSize)
	h.ensureRoom(total)
	return h.bumpAlloc(total, tc, payloadSize)
}

// ensureRoom makes sure the last bucket has room for `total` more bytes,
// growing the bucket chain (running a collection first if growing would
// exceed the heap cap) as needed.
func (h *Heap) ensureRoom(total int) {
	if h.last != nil && h.last.used+total <= len(h.last.data) {
		return
	}
	needed := total
	if needed < h.bucketHnt {
		needed = h.bucketHnt
	}
	if h.totalCap+needed > h.maxHeap {
		h.Collect(false)
		if h.last != nil && h.last.used+total <= len(h.last.data) {
			return
		}
		if h.totalCap+needed > h.maxHeap {
			h.fatalf(mvmerr.OutOfMemory)
		}
	}
	h.addBucket(needed)
}

func (h *Heap) addBucket(capacity int) *bucket {
	start := 0
	if h.last != nil {
		start = h.last.end()
	}
	b := newBucket(start, capacity)
	b.data = h.allocator.Alloc(capacity)
	if h.first == nil {
		h.first = b
	} else {
		h.last.next = b
		b.prev = h.last
	}
	h.last = b
	h.totalCap += capacity
	return b
}

// bumpAlloc writes the header for a new allocation at the last bucket's
// write cursor and bumps it.
func (h *Heap) bumpAlloc(total int, tc value.TypeCode, payloadSize int) value.Value {
	b := h.last
	offset := b.startOffset + b.used
	binary.LittleEndian.PutUint16(b.data[b.used:b.used+2], uint16(value.MakeHeader(payloadSize, tc)))
	// Zero the rest of the payload explicitly (Go's make already zeros, but
	// collection reuses freed Go slices indirectly through the allocator,
	// so this keeps the invariant even for a custom Allocator).
	for i := 2; i < total; i++ {
		b.data[b.used+i] = 0
	}
	b.used += total
	h.nalloc++
	return value.ShortPtr(uint16(offset))
}

// resolveShortPtrIn finds the allocation referenced by a ShortPtr within a
// specific bucket chain (used during collection to resolve fromspace
// pointers, and normally to resolve against the live chain).
func resolveShortPtrIn(first *bucket, v value.Value) Ref {
	offset := int(v.Offset())
	for b := first; b != nil; b = b.next {
		if b.contains(offset) {
			local := offset - b.startOffset
			if local+2 > b.used {
				return Ref{}
			}
			hdr := value.Header(binary.LittleEndian.Uint16(b.data[local : local+2]))
			total := 2 + hdr.Size()
			if local+total > b.used {
				return Ref{}
			}
			return Ref{bytes: b.data[local : local+total], b: b, offset: offset}
		}
	}
	return Ref{}
}

// Deref resolves any DynamicPtr-capable Value (ShortPtr, BytecodeMappedPtr,
// well-known Null) to its allocation, recursively following the
// ROM-to-RAM handle indirection (a global slot letting a ROM value point
// at a RAM one). Returns an invalid Ref for Null/Undefined.
func (h *Heap) Deref(v value.Value) Ref {
	switch {
	case v.IsShortPtr():
		return resolveShortPtrIn(h.first, v)
	case v == value.Null:
		return Ref{}
	case v.IsBytecodeMappedPtr():
		off := int(v.BytecodeOffset())
		if off < h.globalsOffset {
			// ROM allocation: the header lives directly in the image.
			hdr := value.Header(binary.LittleEndian.Uint16(h.bytecode[off : off+2]))
			total := 2 + hdr.Size()
			return Ref{bytes: h.bytecode[off : off+total]}
		}
		// Indirection through a global slot (a "handle" letting ROM
		// reference RAM).
		slot := (off - h.globalsOffset) / 2
		return h.Deref(h.globals[slot])
	default:
		return Ref{}
	}
}

// HeapUsed reports total used and total capacity bytes across all buckets.
func (h *Heap) HeapUsed() (used, capacity int) {
	for b := h.first; b != nil; b = b.next {
		used += b.used
		capacity += len(b.data)
	}
	return
}

// BucketCount reports how many buckets currently make up the heap
// (exposed for GetMemoryStats' fragmentation count).
func (h *Heap) BucketCount() int {
	n := 0
	for b := h.first; b != nil; b = b.next {
		n++
	}
	return n
}
