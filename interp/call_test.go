package interp

import (
	"testing"

	"mvm/heap"
	"mvm/port"
	"mvm/value"
)

// funcBuilder hand-assembles a ROM image of TCFunction allocations without
// going through image.Restore, so call/return can be exercised directly
// against a set of instruction bytes.
type funcBuilder struct {
	bytecode []byte
}

// newFuncBuilder starts the image with a 20-byte pad: a BytecodeMappedPtr
// for an offset below 18 encodes below value.WellKnownEnd and is
// indistinguishable from the well-known singletons (Undefined, Null, ...),
// which a real restored image never produces since every section starts
// past the fixed header.
func newFuncBuilder() *funcBuilder {
	return &funcBuilder{bytecode: make([]byte, 20)}
}

// defineFunction appends a TCFunction allocation (one max-stack-depth byte
// followed by instrs) at the next even offset, since a BytecodeMappedPtr
// can only encode 2-byte-aligned offsets, and returns its target.
func (fb *funcBuilder) defineFunction(maxStackDepth byte, instrs []byte) value.Value {
	if len(fb.bytecode)%2 != 0 {
		fb.bytecode = append(fb.bytecode, 0)
	}
	offset := len(fb.bytecode)
	payload := append([]byte{maxStackDepth}, instrs...)
	hdr := value.MakeHeader(len(payload), value.TCFunction)
	fb.bytecode = append(fb.bytecode, byte(hdr), byte(hdr>>8))
	fb.bytecode = append(fb.bytecode, payload...)
	return value.BytecodeMappedPtr(uint16(offset))
}

func (fb *funcBuilder) build(t *testing.T, stackSize int) *VM {
	t.Helper()
	cfg := port.Normalize(port.Config{MaxHeapSize: 1 << 16, BucketSize: 64, StackSize: stackSize})
	h := heap.New(cfg)
	end := len(fb.bytecode)
	h.SetImageContext(fb.bytecode, 0, end, end, end)
	vm := &VM{cfg: cfg, bytecode: fb.bytecode, heap: h, stack: newStack(stackSize)}
	h.SetRootProvider(vm)
	return vm
}

func le16(v value.Value) (byte, byte) { return byte(v), byte(uint16(v) >> 8) }

func TestCallIdentityFunction(t *testing.T) {
	fb := newFuncBuilder()
	// LOAD_ARG1(1); RETURN — arg index 1 is the first real argument, since
	// index 0 is the implicit `this` Call always pushes.
	target := fb.defineFunction(4, []byte{
		byte(opLoadArg1<<4) | 1,
		byte(opExtended1<<4) | ex1Return,
	})
	vm := fb.build(t, 32)

	result, err := vm.Call(target, []value.Value{value.Int14(7)})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if result != value.Int14(7) {
		t.Fatalf("result = %v, want 7", result)
	}
	if vm.reg.SP != 0 {
		t.Fatalf("SP after Call = %d, want 0 (fully unwound)", vm.reg.SP)
	}
}

func TestCallNestedBytecodeCallPreservesCallerFrame(t *testing.T) {
	fb := newFuncBuilder()

	// add(a, b): LOAD_ARG1(1); LOAD_ARG1(2); ADD; RETURN
	addFn := fb.defineFunction(4, []byte{
		byte(opLoadArg1<<4) | 1,
		byte(opLoadArg1<<4) | 2,
		byte(opExtended1<<4) | ex1Add,
		byte(opExtended1<<4) | ex1Return,
	})

	lo, hi := le16(addFn)
	// caller(a, b): LOAD_LITERAL(addFn); LOAD_SMALL_LITERAL(Undefined);
	// LOAD_ARG1(1); LOAD_ARG1(2); CALL_1(3); RETURN
	caller := fb.defineFunction(8, []byte{
		byte(opExtended3<<4) | ex3LoadLiteral, lo, hi,
		byte(opLoadSmallLiteral<<4) | 1, // Undefined
		byte(opLoadArg1<<4) | 1,
		byte(opLoadArg1<<4) | 2,
		byte(opCall1<<4) | 3,
		byte(opExtended1<<4) | ex1Return,
	})

	vm := fb.build(t, 64)
	result, err := vm.Call(caller, []value.Value{value.Int14(3), value.Int14(4)})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if result != value.Int14(7) {
		t.Fatalf("result = %v, want 7", result)
	}
	if vm.reg.SP != 0 {
		t.Fatalf("SP after Call = %d, want 0 (fully unwound)", vm.reg.SP)
	}
}

// TestCallNestedCallWithCallerLocalsAboveFrameBase exercises the case that
// exposed the caller-frame-base miscalculation: the caller has a local
// variable live (pushed before the call site) so its FrameBase and its SP
// at the moment of call diverge by more than the call's own argCount. A
// buggy restoration that subtracted callerFrameSize from the callee's
// restored SP, rather than from the caller's SP at call time, would recover
// the wrong FrameBase and corrupt the caller's LOAD_VAR1 addressing.
func TestCallNestedCallWithCallerLocalsAboveFrameBase(t *testing.T) {
	fb := newFuncBuilder()

	// identity(a): LOAD_ARG1(1); RETURN
	identity := fb.defineFunction(4, []byte{
		byte(opLoadArg1<<4) | 1,
		byte(opExtended1<<4) | ex1Return,
	})

	lo, hi := le16(identity)
	// caller(a): LOAD_SMALL_LITERAL(4) reserves local[0] by landing directly
	// in the slot at FrameBase+0 — the first push after frame entry always
	// does, since there is no separate "reserve locals" opcode;
	// LOAD_LITERAL(identity); LOAD_SMALL_LITERAL(Undefined); LOAD_ARG1(1);
	// CALL_1(2); LOAD_VAR1(0) reads the local back (unharmed by the
	// intervening call); ADD; RETURN.
	caller := fb.defineFunction(8, []byte{
		byte(opLoadSmallLiteral<<4) | 10, // local[0] = Int14(4)
		byte(opExtended3<<4) | ex3LoadLiteral, lo, hi,
		byte(opLoadSmallLiteral<<4) | 1, // Undefined
		byte(opLoadArg1<<4) | 1,
		byte(opCall1<<4) | 2,
		byte(opLoadVar1<<4) | 0, // push local[0] back, now that the call returned
		byte(opExtended1<<4) | ex1Add,
		byte(opExtended1<<4) | ex1Return,
	})

	vm := fb.build(t, 64)
	result, err := vm.Call(caller, []value.Value{value.Int14(3)})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if result != value.Int14(7) { // identity(3) + local[0](4)
		t.Fatalf("result = %v, want 7", result)
	}
	if vm.reg.SP != 0 {
		t.Fatalf("SP after Call = %d, want 0 (fully unwound)", vm.reg.SP)
	}
}
