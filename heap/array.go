package heap

import (
	"mvm/mvmerr"
	"mvm/value"
)

// NewArray allocates an empty Array with the given initial capacity.
// An array allocation is {dpData, length}; dpData points at a
// FixedLengthArray holding the backing slots.
func (h *Heap) NewArray(capacity int) value.Value {
	var backing value.Value
	if capacity == 0 {
		backing = value.Null
	} else {
		backing = h.Allocate(capacity*2, value.TCFixedLengthArray)
	}
	v := h.Allocate(4, value.TCArray)
	ref := resolveShortPtrIn(h.first, v)
	ref.SetWord(0, backing)
	ref.SetWord(1, value.Int14(0))
	return v
}

func (h *Heap) arrayLength(ref Ref) int {
	return int(ref.Word(1).AsInt14())
}

// GetArrayElement reads the backing slot for a normalized integer key, or
// undefined past the current length. Negative indices are a range error,
// checked by the caller via ToPropertyName.
func (h *Heap) GetArrayElement(arr value.Value, index int) (value.Value, *mvmerr.Error) {
	ref := h.Deref(arr)
	if !ref.Valid() {
		return value.Undefined, mvmerr.New(mvmerr.TypeError)
	}
	if index < 0 {
		return value.Undefined, mvmerr.New(mvmerr.RangeError)
	}
	length := h.arrayLength(ref)
	if index >= length {
		return value.Undefined, nil
	}
	backing := ref.Word(0)
	backingRef := h.Deref(backing)
	if !backingRef.Valid() {
		return value.Undefined, mvmerr.New(mvmerr.Unexpected)
	}
	return backingRef.Word(index), nil
}

// SetArrayElement writes an integer-keyed slot: in-place update within
// capacity, or an exponential-growth reallocation when the index reaches
// or exceeds the backing capacity.
func (h *Heap) SetArrayElement(arr value.Value, index int, val value.Value) *mvmerr.Error {
	ref := resolveShortPtrIn(h.first, arr)
	if !ref.Valid() {
		return mvmerr.New(mvmerr.TypeError)
	}
	if !ref.IsRAM() {
		h.fatalf(mvmerr.AttemptToWriteToROM)
	}
	if index < 0 {
		return mvmerr.New(mvmerr.RangeError)
	}

	length := h.arrayLength(ref)
	backing := ref.Word(0)
	capacity := 0
	if backing != value.Null {
		capacity = h.Deref(backing).WordCount()
	}

	if index >= capacity {
		newCapacity := capacity * 2
		if newCapacity < index+1 {
			newCapacity = index + 1
		}
		if newCapacity < 4 {
			newCapacity = 4
		}
		h.growArray(ref, index+1, newCapacity)
		backing = ref.Word(0)
	} else if index >= length {
		if !value.Int14Fits(int32(index + 1)) {
			return mvmerr.New(mvmerr.ArrayTooLong)
		}
		ref.SetWord(1, value.Int14(int32(index+1)))
	}

	backingRef := h.Deref(backing)
	backingRef.SetWord(index, val)
	return nil
}

// growArray reallocates the backing FixedLengthArray to newCapacity slots
// (the caller's exponential growth policy), copying existing elements and
// filling the rest with Deleted, then updates the Array's own length.
func (h *Heap) growArray(ref Ref, newLength, newCapacity int) {
	if !value.Int14Fits(int32(newLength)) {
		h.fatalf(mvmerr.ArrayTooLong)
	}
	oldBacking := ref.Word(0)
	oldLength := h.arrayLength(ref)

	newBackingV := h.Allocate(newCapacity*2, value.TCFixedLengthArray)
	newBackingRef := resolveShortPtrIn(h.first, newBackingV)
	for i := 0; i < newCapacity; i++ {
		switch {
		case i < oldLength && oldBacking != value.Null:
			newBackingRef.SetWord(i, h.Deref(oldBacking).Word(i))
		default:
			newBackingRef.SetWord(i, value.Deleted)
		}
	}

	ref.SetWord(0, newBackingV)
	ref.SetWord(1, value.Int14(int32(newLength)))
}

// SetArrayLength implements `length` set: shrinking wipes
// removed slots to Deleted in place; growing within capacity only updates
// the length field; growing beyond capacity reallocates with
// new_capacity = new_length (no extra headroom, per ).
func (h *Heap) SetArrayLength(arr value.Value, newLength int) *mvmerr.Error {
	ref := resolveShortPtrIn(h.first, arr)
	if !ref.Valid() {
		return mvmerr.New(mvmerr.TypeError)
	}
	if newLength < 0 {
		return mvmerr.New(mvmerr.RangeError)
	}
	if !value.Int14Fits(int32(newLength)) {
		return mvmerr.New(mvmerr.ArrayTooLong)
	}

	oldLength := h.arrayLength(ref)
	backing := ref.Word(0)
	capacity := 0
	if backing != value.Null {
		capacity = h.Deref(backing).WordCount()
	}

	switch {
	case newLength < oldLength:
		backingRef := h.Deref(backing)
		for i := newLength; i < oldLength; i++ {
			backingRef.SetWord(i, value.Deleted)
		}
		ref.SetWord(1, value.Int14(int32(newLength)))
	case newLength <= capacity:
		ref.SetWord(1, value.Int14(int32(newLength)))
	default:
		h.growArray(ref, newLength, newLength)
	}
	return nil
}
