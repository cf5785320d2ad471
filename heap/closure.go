package heap

import (
	"encoding/binary"

	"mvm/mvmerr"
	"mvm/value"
)

// Slot is a single addressable Value word inside some allocation's
// payload, used for scope-variable access where a full Ref (header +
// payload) view would be the wrong shape.
type Slot struct{ bytes []byte }

func (s Slot) Get() value.Value { return value.Value(binary.LittleEndian.Uint16(s.bytes)) }
func (s Slot) Set(v value.Value) {
	binary.LittleEndian.PutUint16(s.bytes, uint16(v))
}

// FindScopedVariable walks the scope chain to find the slot a variable
// reference resolves to. The chain is a singly-linked list of
// FixedLengthArrays (slot 0 is the parent), and walking it terminates
// because slot 0 of every scope points to a strictly shorter chain,
// ultimately undefined. index is consumed from the current scope's
// remaining slots as the walk progresses. An out-of-range index is
// bytecode-level undefined behavior and asserts.
func (h *Heap) FindScopedVariable(scope value.Value, index int) Slot {
	for {
		if scope == value.Undefined {
			h.fatalf(mvmerr.AssertionFailed)
		}
		ref := h.Deref(scope)
		if !ref.Valid() {
			h.fatalf(mvmerr.AssertionFailed)
		}
		n := ref.WordCount()
		// Slot 0 is reserved for the parent pointer; slots [1, n) are this
		// scope's own variables.
		ownSlots := n - 1
		if index < ownSlots {
			p := ref.Payload()
			i := 1 + index
			return Slot{bytes: p[i*2 : i*2+2]}
		}
		index -= ownSlots
		scope = ref.Word(0)
	}
}

// NewClosure allocates a {scope, target} closure.
func (h *Heap) NewClosure(scope, target value.Value) value.Value {
	v := h.Allocate(4, value.TCClosure)
	ref := resolveShortPtrIn(h.first, v)
	ref.SetWord(0, scope)
	ref.SetWord(1, target)
	return v
}

// NewScope allocates a FixedLengthArray scope frame with the given slot
// count, slot 0 reserved for the parent scope chain link.
func (h *Heap) NewScope(parent value.Value, varCount int) value.Value {
	v := h.Allocate((varCount+1)*2, value.TCFixedLengthArray)
	ref := resolveShortPtrIn(h.first, v)
	ref.SetWord(0, parent)
	for i := 0; i < varCount; i++ {
		ref.SetWord(1+i, value.Undefined)
	}
	return v
}
