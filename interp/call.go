package interp

import (
	"mvm/mvmerr"
	"mvm/port"
	"mvm/value"
)

// Frame-boundary bookkeeping words (frame size, argCountAndFlags, return
// address) are encoded with the BytecodeMappedPtr tag rather than as plain
// ints, so the GC's blind walk over live stack words (moveValue in
// heap/gc.go, rooting order) leaves them untouched: only
// ShortPtr-tagged words are ever relocated. The scope word of a frame
// boundary, by contrast, is pushed as a real Value and is relocated
// normally.
func encodeRaw(n int) value.Value { return value.BytecodeMappedPtr(uint16(n)) }
func decodeRaw(v value.Value) int { return int(v.BytecodeOffset()) }

// frameHeader is a decoded function header: a 1-byte max stack depth
// followed immediately by the instruction stream.
type frameHeader struct {
	maxStackDepth int
	codeStart     int // absolute byte offset of the first instruction
}

func (vm *VM) functionHeaderAt(target value.Value) (frameHeader, *mvmerr.Error) {
	ref := vm.heap.Deref(target)
	if !ref.Valid() {
		return frameHeader{}, mvmerr.New(mvmerr.TargetNotCallable)
	}
	p := ref.Payload()
	if len(p) < 1 {
		return frameHeader{}, mvmerr.New(mvmerr.TargetNotCallable)
	}
	// The instruction stream immediately follows the 1-byte header within
	// the same allocation's payload; its absolute bytecode offset is
	// recovered from the BytecodeMappedPtr target plus the header size and
	// the allocation's own 2-byte GC header.
	base := int(target.BytecodeOffset())
	return frameHeader{maxStackDepth: int(p[0]), codeStart: base + 2 + 1}, nil
}

const frameBoundaryWords = 4

// pushFrameBoundary saves the four words needed to restore the caller's
// frame on return: the caller's frame size, its scope, its
// argCountAndFlags, and the return address.
func (vm *VM) pushFrameBoundary(returnAddress int) {
	callerFrameSize := vm.reg.SP - vm.reg.FrameBase
	vm.stack.push(&vm.reg, encodeRaw(callerFrameSize))
	vm.stack.push(&vm.reg, vm.reg.Scope)
	vm.stack.push(&vm.reg, encodeRaw(int(vm.reg.ArgCountAndFlags)))
	vm.stack.push(&vm.reg, encodeRaw(returnAddress))
}

// popFrameBoundary reverses pushFrameBoundary as part of a RETURN unwind.
func (vm *VM) popFrameBoundary() (callerFrameSize int, scope value.Value, argCountAndFlags uint16, returnAddress int) {
	returnAddress = decodeRaw(vm.stack.pop(&vm.reg))
	argCountAndFlags = uint16(decodeRaw(vm.stack.pop(&vm.reg)))
	scope = vm.stack.pop(&vm.reg)
	callerFrameSize = decodeRaw(vm.stack.pop(&vm.reg))
	return
}

// resolveCallTarget unwraps a Closure to its underlying target and scope.
func (vm *VM) resolveCallTarget(target value.Value) (callable value.Value, scope value.Value, isHost bool, hostIdx int, err *mvmerr.Error) {
	ref := vm.heap.Deref(target)
	if !ref.Valid() {
		return 0, 0, false, 0, mvmerr.New(mvmerr.TargetNotCallable)
	}
	switch ref.Header().TypeCode() {
	case value.TCClosure:
		return ref.Word(1), ref.Word(0), false, 0, nil
	case value.TCFunction:
		return target, value.Undefined, false, 0, nil
	case value.TCHostFunc:
		// A TCHostFunc allocation's one payload word is its index into the
		// resolved imports table, letting a host function be passed around
		// as an ordinary first-class value rather than only ever called
		// directly by import-table index.
		return 0, 0, true, int(ref.Word(0).AsInt14()), nil
	default:
		return 0, 0, false, 0, mvmerr.New(mvmerr.TargetNotCallable)
	}
}

// Call is the host entry point: it pushes `this` (undefined, since the
// host API has no separate receiver argument) then args, invokes target,
// and runs the interpreter loop to completion.
func (vm *VM) Call(target value.Value, args []value.Value) (result value.Value, rerr *mvmerr.Error) {
	// A FatalHook that panics (DefaultFatalHook, and any host hook that
	// doesn't longjmp/os.Exit out) unwinds through run() as a Go panic;
	// this is the outermost boundary that turns it back into a returned
	// error, and port.Recover's doc comment.
	defer func() {
		if code, ok := port.Recover(); ok {
			result, rerr = value.Undefined, mvmerr.New(code)
		}
	}()

	if len(args) >= 0xFF {
		return value.Undefined, mvmerr.New(mvmerr.TooManyArguments)
	}

	callable, scope, isHost, hostIdx, rerr := vm.resolveCallTarget(target)
	if rerr != nil {
		return value.Undefined, rerr
	}

	if isHost {
		return vm.imports[hostIdx](args)
	}

	spBefore := vm.reg.SP
	argsPointer := vm.reg.SP
	vm.stack.push(&vm.reg, value.Undefined) // this
	for _, a := range args {
		vm.stack.push(&vm.reg, a)
	}
	argCount := len(args) + 1

	savedReg := vm.reg
	vm.reg.ArgsPointer = argsPointer
	vm.reg.ArgCountAndFlags = uint16(argCount) | uint16(flagCalledFromHost)<<8
	vm.reg.Scope = scope
	vm.reg.FrameBase = vm.reg.SP

	hdr, herr := vm.functionHeaderAt(callable)
	if herr != nil {
		vm.reg = savedReg
		vm.reg.SP = spBefore
		return value.Undefined, herr
	}
	if vm.reg.SP+hdr.maxStackDepth+frameBoundaryWords > vm.stack.len() {
		vm.reg = savedReg
		vm.reg.SP = spBefore
		return value.Undefined, mvmerr.New(mvmerr.StackOverflow)
	}
	vm.pushFrameBoundary(-1) // -1: no bytecode return address, the host is the caller
	vm.reg.FrameBase = vm.reg.SP
	vm.reg.PC = hdr.codeStart

	result, rerr2 := vm.run()

	vm.reg = savedReg
	vm.reg.SP = spBefore
	return result, rerr2
}

// callBytecode implements the in-loop CALL_1/CALL_3/CALL_5/CALL_6/CALL_HOST
// variants: push a frame boundary over the already-pushed this+args and
// transfer control, without leaving run()'s loop. pushedFunction records
// whether the callee Value itself occupies a stack slot below the
// arguments (true for every variant except CALL_5, whose target is an
// immediate rather than a popped stack value) — RETURN consults this flag
// to know whether to additionally pop that slot.
func (vm *VM) callBytecode(target value.Value, argCount int, pushedFunction bool) *mvmerr.Error {
	callable, scope, isHost, hostIdx, rerr := vm.resolveCallTarget(target)
	if rerr != nil {
		return rerr
	}
	if isHost {
		return vm.callHostInline(hostIdx, argCount, pushedFunction)
	}

	hdr, herr := vm.functionHeaderAt(callable)
	if herr != nil {
		return herr
	}
	if vm.reg.SP+hdr.maxStackDepth+frameBoundaryWords > vm.stack.len() {
		return mvmerr.New(mvmerr.StackOverflow)
	}

	argsPointer := vm.reg.SP - argCount
	returnAddress := vm.reg.PC
	flags := uint16(0)
	if pushedFunction {
		flags |= flagPushedFunction
	}
	vm.pushFrameBoundary(returnAddress)

	vm.reg.ArgsPointer = argsPointer
	vm.reg.ArgCountAndFlags = uint16(argCount) | flags<<8
	vm.reg.Scope = scope
	vm.reg.FrameBase = vm.reg.SP
	vm.reg.PC = hdr.codeStart
	return nil
}

// callHostInline implements a call resolved to a host function: it runs to
// completion before the interpreter resumes, so no frame boundary or PC
// transfer is needed — just pop args (and the callee slot, if one was
// pushed), call, push result.
func (vm *VM) callHostInline(importIndex, argCount int, pushedFunction bool) *mvmerr.Error {
	args := make([]value.Value, argCount)
	base := vm.reg.SP - argCount
	for i := 0; i < argCount; i++ {
		args[i] = vm.stack.at(base + i)
	}
	vm.reg.SP = base
	if pushedFunction {
		vm.reg.SP--
	}

	spBeforeCall := vm.reg.SP
	result, err := vm.imports[importIndex](args)
	if vm.reg.SP != spBeforeCall {
		return mvmerr.New(mvmerr.AssertionFailed)
	}
	if err != nil {
		return err
	}
	vm.stack.push(&vm.reg, result)
	return nil
}

// doReturn unwinds the current frame back to its caller. done is true once
// the call stack has fully unwound back to the host boundary.
//
// Every frame satisfies the invariant FrameBase - frameBoundaryWords -
// argCount == ArgsPointer (established when the frame was pushed, in
// pushFrameBoundary/callBytecode/Call): this is what lets RETURN recover
// the caller's ArgsPointer from nothing but its restored FrameBase and
// argCountAndFlags, without the frame boundary needing to save either
// directly.
func (vm *VM) doReturn() (done bool, result value.Value, err *mvmerr.Error) {
	result = vm.stack.pop(&vm.reg)

	wasCalledFromHost := vm.reg.calledFromHost()
	argCount := vm.reg.argCount()
	pushedFunction := vm.reg.pushedFunction()

	vm.reg.SP = vm.reg.FrameBase
	callerFrameSize, scope, argCountAndFlags, returnAddress := vm.popFrameBoundary()

	pArgs := vm.reg.FrameBase - frameBoundaryWords - argCount
	extra := 0
	if pushedFunction {
		extra = 1
	}
	restoredSP := pArgs - extra
	vm.reg.SP = restoredSP

	if wasCalledFromHost {
		return true, result, nil
	}

	// restoredSP is the callee's ArgsPointer minus the callee slot, i.e.
	// callerSPAtCallTime - argCount - extra; recover callerSPAtCallTime
	// before subtracting callerFrameSize, rather than subtracting it from
	// restoredSP directly (the two differ by exactly argCount+extra
	// whenever the caller had any of its own locals live at the call site).
	callerSPAtCallTime := restoredSP + argCount + extra
	callerFrameBase := callerSPAtCallTime - callerFrameSize
	vm.reg.Scope = scope
	vm.reg.ArgCountAndFlags = argCountAndFlags
	vm.reg.PC = returnAddress
	vm.reg.FrameBase = callerFrameBase
	vm.reg.ArgsPointer = callerFrameBase - frameBoundaryWords - int(argCountAndFlags&0xFF)
	vm.stack.push(&vm.reg, result)
	return false, value.Undefined, nil
}
