package heap

import (
	"encoding/binary"

	"mvm/value"
)

// Ref is a resolved view onto one allocation: its header plus payload
// bytes, wherever they live (a RAM bucket or the ROM section of the
// bytecode image). It is the heap package's equivalent of the "long
// pointer" abstraction for allocation access.
type Ref struct {
	bytes  []byte // header (2 bytes) followed by payload
	b      *bucket
	offset int // logical heap offset, meaningful only when b != nil
}

// IsRAM reports whether this allocation lives in a GC-managed bucket
// (writable) as opposed to the ROM section of the bytecode image
// (read-only; writes to it are an assertion failure).
func (r Ref) IsRAM() bool { return r.b != nil }

// Valid reports whether the reference resolved to backing bytes at all.
func (r Ref) Valid() bool { return r.bytes != nil }

func (r Ref) Header() value.Header {
	return value.Header(binary.LittleEndian.Uint16(r.bytes[0:2]))
}

func (r Ref) setHeader(h value.Header) {
	binary.LittleEndian.PutUint16(r.bytes[0:2], uint16(h))
}

// Payload returns the payload bytes described by the header's size field.
func (r Ref) Payload() []byte {
	n := r.Header().Size()
	return r.bytes[2 : 2+n]
}

// Word reads the i'th 2-byte word of the payload as a Value.
func (r Ref) Word(i int) value.Value {
	p := r.Payload()
	return value.Value(binary.LittleEndian.Uint16(p[i*2 : i*2+2]))
}

// SetWord writes the i'th 2-byte word of the payload. The caller must have
// verified the allocation is in RAM.
func (r Ref) SetWord(i int, v value.Value) {
	p := r.Payload()
	binary.LittleEndian.PutUint16(p[i*2:i*2+2], uint16(v))
}

// WordCount is the number of 2-byte Value slots in the payload.
func (r Ref) WordCount() int { return r.Header().Size() / 2 }
