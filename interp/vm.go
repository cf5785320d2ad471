package interp

import (
	"mvm/heap"
	"mvm/image"
	"mvm/mvmerr"
	"mvm/port"
	"mvm/value"
)

// VM is a restored, callable instance of the engine: the heap, the parsed
// image sections, and the activation stack/registers shared by every
// nested call within one host-level Call entry.
type VM struct {
	cfg      port.Config
	bytecode []byte
	heap     *heap.Heap
	globals  []value.Value
	imports  []image.HostFunc
	exports  map[uint16]value.Value
	shorts   []image.ShortCallEntry

	stack *Stack
	reg   Registers
}

// VisitRoots implements heap.RootProvider: every live stack slot plus the
// scope register.
func (vm *VM) VisitRoots(visit func(v *value.Value)) {
	for i := 0; i < vm.reg.SP; i++ {
		v := vm.stack.at(i)
		visit(&v)
		vm.stack.set(i, v)
	}
	visit(&vm.reg.Scope)
}

// Restore implements restore entry point.
func Restore(bytecode []byte, cfg port.Config, resolve image.ResolveImport) (*VM, *mvmerr.Error) {
	cfg = port.Normalize(cfg)
	r, err := image.Restore(bytecode, cfg, resolve)
	if err != nil {
		return nil, err
	}
	vm := &VM{
		cfg:      cfg,
		bytecode: r.Bytecode,
		heap:     r.Heap,
		globals:  r.Globals,
		imports:  r.ResolvedImports,
		exports:  r.Exports,
		shorts:   r.ShortCalls,
		stack:    newStack(cfg.StackSize),
	}
	vm.heap.SetRootProvider(vm)
	return vm, nil
}

// ResolveExports implements resolve_exports: looks up each
// requested export ID, returning mvmerr.UnresolvedExport on the first miss.
func (vm *VM) ResolveExports(ids []uint16) ([]value.Value, *mvmerr.Error) {
	out := make([]value.Value, len(ids))
	for i, id := range ids {
		v, ok := vm.exports[id]
		if !ok {
			return nil, mvmerr.New(mvmerr.UnresolvedExport)
		}
		out[i] = v
	}
	return out, nil
}

// NewInt32 implements canonical numeric encoding: values
// that fit in int14 are never boxed.
func (vm *VM) NewInt32(x int32) value.Value {
	if value.Int14Fits(x) {
		return value.Int14(x)
	}
	return vm.boxInt32(x)
}

// NewNumber encodes a float64, normalizing integral values down to int14
// or int32, and boxing true non-integers as Float64.
func (vm *VM) NewNumber(x float64) value.Value {
	if x != x { // NaN
		return value.NaN
	}
	if x == 0 {
		if isNegZero(x) {
			return value.NegZero
		}
		return value.Int14(0)
	}
	if i := int32(x); float64(i) == x {
		return vm.NewInt32(i)
	}
	return vm.boxFloat64(x)
}

func isNegZero(f float64) bool { return f == 0 && (1/f) < 0 }

func (vm *VM) NewBoolean(b bool) value.Value {
	if b {
		return value.True
	}
	return value.False
}

// NewString implements the host-facing new_string entry point: unlike the
// internal allocateString used for concatenation and type-name results
// (always already-valid UTF-8), a host can hand this arbitrary bytes, so
// it goes through heap.NewString's validation.
func (vm *VM) NewString(s string) (value.Value, *mvmerr.Error) {
	return vm.heap.NewString(s)
}

func (vm *VM) ToInt32(v value.Value) (int32, *mvmerr.Error) { return vm.heap.ToInt32(v) }
func (vm *VM) ToFloat64(v value.Value) float64               { return vm.heap.ToFloat64(v) }
func (vm *VM) ToBool(v value.Value) bool                      { return vm.heap.ToBool(v) }
func (vm *VM) ToStringUTF8(v value.Value) (string, *mvmerr.Error) {
	return vm.heap.ToStringUTF8(v)
}
func (vm *VM) TypeOf(v value.Value) heap.Type { return vm.heap.DeepTypeOf(v) }
func (vm *VM) Equal(a, b value.Value) bool     { return vm.heap.Equal(a, b) }

func (vm *VM) InitializeHandle(v value.Value) *heap.Handle { return vm.heap.InitializeHandle(v) }
func (vm *VM) ReleaseHandle(h *heap.Handle)                 { vm.heap.ReleaseHandle(h) }
func (vm *VM) CloneHandle(h *heap.Handle) *heap.Handle      { return vm.heap.CloneHandle(h) }

// RunGC forces a collection, optionally compacting free space harder than
// an allocation-triggered collection would.
func (vm *VM) RunGC(squeeze bool) { vm.heap.Collect(squeeze) }

// MemoryStats reports the engine's memory footprint: table sizes, stack
// depth, and heap usage/fragmentation. StackHighWaterMark is the stack
// depth at the moment of the call, not the peak reached so far, and
// CoreSize is not filled in (always 0).
type MemoryStats struct {
	CoreSize          int
	ImportTableSize   int
	GlobalVariablesSize int
	StackHighWaterMark  int
	HeapUsed            int
	HeapFree            int
	FragmentCount       int
	TotalSize           int
}

func (vm *VM) GetMemoryStats() MemoryStats {
	used, capacity := vm.heap.HeapUsed()
	return MemoryStats{
		ImportTableSize:     len(vm.imports) * 2,
		GlobalVariablesSize: len(vm.globals) * 2,
		StackHighWaterMark:  vm.reg.SP,
		HeapUsed:            used,
		HeapFree:            capacity - used,
		FragmentCount:       vm.heap.BucketCount(),
		TotalSize:           len(vm.bytecode) + capacity,
	}
}

// CreateSnapshot implements create_snapshot.
func (vm *VM) CreateSnapshot() ([]byte, *mvmerr.Error) {
	r := &image.Restored{
		Header:          mustParseHeader(vm.bytecode, vm.cfg),
		Bytecode:        vm.bytecode,
		Heap:            vm.heap,
		Globals:         vm.globals,
		ResolvedImports: vm.imports,
		Exports:         vm.exports,
		ShortCalls:      vm.shorts,
	}
	return image.CreateSnapshot(r)
}

func mustParseHeader(bytecode []byte, cfg port.Config) image.Header {
	h, err := image.ParseHeader(bytecode, cfg)
	if err != nil {
		// bytecode was already validated by Restore; a failure here means
		// something mutated vm.bytecode, which callers never do.
		panic(err)
	}
	return h
}
