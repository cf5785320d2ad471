package heap

import (
	"mvm/mvmerr"
	"mvm/value"
)

// GetProperty walks a PropertyList's group chain, scanning each group's
// (key, value) pairs, and falls back to the prototype retained from the
// first group when no group has a match. __proto__ is reserved and not
// implemented on PropertyList (only Array honors a prototype lookup).
func (h *Heap) GetProperty(obj value.Value, key value.Value) (value.Value, *mvmerr.Error) {
	ref := h.Deref(obj)
	if !ref.Valid() {
		return value.Undefined, mvmerr.New(mvmerr.TypeError)
	}
	proto := ref.Word(1)
	cur := ref
	for {
		n := cur.WordCount()
		for i := 2; i+1 < n; i += 2 {
			if cur.Word(i) == key {
				return cur.Word(i + 1), nil
			}
		}
		next := cur.Word(0)
		if next == value.Null {
			break
		}
		cur = h.Deref(next)
		if !cur.Valid() {
			return value.Undefined, mvmerr.New(mvmerr.Unexpected)
		}
	}
	if proto != value.Null {
		return h.GetProperty(proto, key)
	}
	return value.Undefined, nil
}

// SetProperty scans a PropertyList's chain for the key and overwrites on a
// hit; on a miss, it appends a new single-property group and links it onto
// the head's chain. A subsequent collection merges the chain back into one
// allocation (see moveValue in gc.go). Writing to a ROM object is a
// bytecode contract violation and must assert, since the compiler
// guarantees writable objects live in RAM.
func (h *Heap) SetProperty(obj value.Value, key, val value.Value) *mvmerr.Error {
	ref := h.Deref(obj)
	if !ref.Valid() {
		return mvmerr.New(mvmerr.TypeError)
	}
	if !ref.IsRAM() {
		h.fatalf(mvmerr.AttemptToWriteToROM)
	}

	head := ref
	cur := ref
	for {
		n := cur.WordCount()
		for i := 2; i+1 < n; i += 2 {
			if cur.Word(i) == key {
				cur.SetWord(i+1, val)
				return nil
			}
		}
		next := cur.Word(0)
		if next == value.Null {
			break
		}
		cur = h.Deref(next)
		if !cur.Valid() {
			return mvmerr.New(mvmerr.Unexpected)
		}
	}

	cellV := h.Allocate(8, value.TCPropertyList)
	cellRef := resolveShortPtrIn(h.first, cellV)
	cellRef.SetWord(0, value.Null)
	cellRef.SetWord(1, value.Null) // only the head group's prototype is meaningful
	cellRef.SetWord(2, key)
	cellRef.SetWord(3, val)

	cur.SetWord(0, cellV)
	_ = head
	return nil
}

// NewObject allocates an empty PropertyList with the given prototype
// : {next: null, prototype, } — no properties yet.
func (h *Heap) NewObject(prototype value.Value) value.Value {
	v := h.Allocate(4, value.TCPropertyList)
	ref := resolveShortPtrIn(h.first, v)
	ref.SetWord(0, value.Null)
	ref.SetWord(1, prototype)
	return v
}
