package interp

import (
	"encoding/binary"
	"math"

	"mvm/value"
)

func (vm *VM) boxInt32(x int32) value.Value {
	v := vm.heap.Allocate(4, value.TCInt32)
	ref := vm.heap.Deref(v)
	p := ref.Payload()
	binary.LittleEndian.PutUint32(p, uint32(x))
	return v
}

func (vm *VM) boxFloat64(x float64) value.Value {
	v := vm.heap.Allocate(8, value.TCFloat64)
	ref := vm.heap.Deref(v)
	p := ref.Payload()
	binary.LittleEndian.PutUint64(p, math.Float64bits(x))
	return v
}

// allocateString allocates a plain (not yet interned) TCString with an
// implicit trailing NUL byte.
func (vm *VM) allocateString(s string) value.Value {
	size := len(s) + 1
	v := vm.heap.Allocate(size, value.TCString)
	ref := vm.heap.Deref(v)
	p := ref.Payload()
	copy(p, s)
	p[len(s)] = 0
	return v
}

// encodeNumericResult implements NUM_OP/BIT_OP result
// encoding: an int32 result that fits in int14 is encoded directly,
// otherwise boxed.
func (vm *VM) encodeNumericResult(x int32) value.Value {
	if value.Int14Fits(x) {
		return value.Int14(x)
	}
	return vm.boxInt32(x)
}
