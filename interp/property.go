package interp

import (
	"mvm/heap"
	"mvm/mvmerr"
	"mvm/value"
)

// getProperty implements Get, dispatching on the runtime
// type of obj: Array honors the well-known `length` key directly (an
// Array's length is not stored as an ordinary property), everything else
// goes through the PropertyList chain.
func (vm *VM) getProperty(obj, key value.Value) (value.Value, *mvmerr.Error) {
	switch vm.heap.DeepTypeOf(obj) {
	case heap.TypeArray:
		if key == value.StrLength {
			ref := vm.heap.Deref(obj)
			if !ref.Valid() {
				return value.Undefined, mvmerr.New(mvmerr.TypeError)
			}
			return value.Int14(ref.Word(1).AsInt14()), nil
		}
		name, err := vm.heap.ToPropertyName(key)
		if err != nil {
			return value.Undefined, err
		}
		if name.IsInt14() {
			return vm.heap.GetArrayElement(obj, int(name.AsInt14()))
		}
		return value.Undefined, nil
	case heap.TypeObject:
		name, err := vm.heap.ToPropertyName(key)
		if err != nil {
			return value.Undefined, err
		}
		return vm.heap.GetProperty(obj, name)
	default:
		return value.Undefined, mvmerr.New(mvmerr.TypeError)
	}
}

// setProperty implements Set, mirroring getProperty's
// dispatch.
func (vm *VM) setProperty(obj, key, val value.Value) *mvmerr.Error {
	switch vm.heap.DeepTypeOf(obj) {
	case heap.TypeArray:
		if key == value.StrLength {
			n, err := vm.heap.ToInt32(val)
			if err != nil {
				return err
			}
			return vm.heap.SetArrayLength(obj, int(n))
		}
		name, err := vm.heap.ToPropertyName(key)
		if err != nil {
			return err
		}
		if !name.IsInt14() {
			return mvmerr.New(mvmerr.InvalidArrayIndex)
		}
		return vm.heap.SetArrayElement(obj, int(name.AsInt14()), val)
	case heap.TypeObject:
		name, err := vm.heap.ToPropertyName(key)
		if err != nil {
			return err
		}
		return vm.heap.SetProperty(obj, name, val)
	default:
		return mvmerr.New(mvmerr.TypeError)
	}
}
