package interp

import (
	"math"

	"mvm/heap"
	"mvm/mvmerr"
	"mvm/value"
)

// fetchByte reads the byte at PC and advances it.
func (vm *VM) fetchByte() byte {
	b := vm.bytecode[vm.reg.PC]
	vm.reg.PC++
	return b
}

func (vm *VM) fetchI8() int8 { return int8(vm.fetchByte()) }

func (vm *VM) fetchU16() uint16 {
	lo := uint16(vm.fetchByte())
	hi := uint16(vm.fetchByte())
	return lo | hi<<8
}

func (vm *VM) fetchI16() int16 { return int16(vm.fetchU16()) }

// run is the instruction fetch/decode/execute loop, entered once per
// outermost host call and re-entered implicitly by nested CALL_*/RETURN
// pairs without ever leaving this function (a bytecode-to-bytecode call
// just moves PC/FrameBase/Scope and keeps looping).
func (vm *VM) run() (value.Value, *mvmerr.Error) {
	for {
		b0 := vm.fetchByte()
		primary := b0 >> 4
		param := int(b0 & 0x0F)

		switch primary {
		case opLoadSmallLiteral:
			vm.stack.push(&vm.reg, smallLiterals[param])

		case opLoadVar1:
			vm.stack.push(&vm.reg, vm.stack.at(vm.reg.FrameBase+param))

		case opLoadScoped1:
			vm.stack.push(&vm.reg, vm.heap.FindScopedVariable(vm.reg.Scope, param).Get())

		case opLoadArg1:
			v := value.Undefined
			if param < vm.reg.argCount() {
				v = vm.stack.at(vm.reg.ArgsPointer + param)
			}
			vm.stack.push(&vm.reg, v)

		case opCall1:
			target := vm.stack.at(vm.reg.SP - param - 1)
			if err := vm.callBytecode(target, param, true); err != nil {
				return value.Undefined, err
			}

		case opFixedArrayNew1:
			vm.stack.push(&vm.reg, vm.heap.NewArray(param))

		case opExtended1:
			if done, result, err := vm.execEx1(byte(param)); done || err != nil {
				return result, err
			}

		case opExtended2:
			imm := int(vm.fetchByte())
			if err := vm.execEx2(byte(param), imm); err != nil {
				return value.Undefined, err
			}

		case opExtended3:
			imm := int(vm.fetchI16())
			if err := vm.execEx3(byte(param), imm); err != nil {
				return value.Undefined, err
			}

		case opCall5:
			target := value.BytecodeMappedPtr(vm.fetchU16())
			if err := vm.callBytecode(target, param, false); err != nil {
				return value.Undefined, err
			}

		case opStoreVar1:
			vm.stack.set(vm.reg.FrameBase+param, vm.stack.pop(&vm.reg))

		case opStoreScoped1:
			vm.heap.FindScopedVariable(vm.reg.Scope, param).Set(vm.stack.pop(&vm.reg))

		case opArrayGet1:
			key := vm.stack.pop(&vm.reg)
			arr := vm.stack.pop(&vm.reg)
			v, err := vm.getProperty(arr, key)
			if err != nil {
				return value.Undefined, err
			}
			vm.stack.push(&vm.reg, v)

		case opArraySet1:
			val := vm.stack.pop(&vm.reg)
			key := vm.stack.pop(&vm.reg)
			arr := vm.stack.pop(&vm.reg)
			if err := vm.setProperty(arr, key, val); err != nil {
				return value.Undefined, err
			}

		case opNumOp:
			if err := vm.execNumOp(byte(param)); err != nil {
				return value.Undefined, err
			}

		case opBitOp:
			if err := vm.execBitOp(byte(param)); err != nil {
				return value.Undefined, err
			}
		}
	}
}

// execEx1 runs a no-immediate extended instruction. done is true once
// RETURN has unwound all the way back to the host boundary.
func (vm *VM) execEx1(sub byte) (done bool, result value.Value, rerr *mvmerr.Error) {
	switch sub {
	case ex1Return:
		return vm.doReturn()

	case ex1Throw:
		// Exceptions are not modeled as a control-flow construct; THROW
		// simply aborts the call with the canonical uncaught-exception code.
		return true, value.Undefined, mvmerr.New(mvmerr.UncaughtException)

	case ex1ClosureNew:
		target := vm.stack.pop(&vm.reg)
		vm.stack.push(&vm.reg, vm.heap.NewClosure(vm.reg.Scope, target))

	case ex1ScopePush:
		vm.reg.Scope = vm.heap.NewScope(vm.reg.Scope, int(vm.stack.pop(&vm.reg).AsInt14()))

	case ex1Pop:
		vm.stack.pop(&vm.reg)

	case ex1TypeOf:
		v := vm.stack.pop(&vm.reg)
		vm.stack.push(&vm.reg, vm.allocateString(vm.heap.DeepTypeOf(v).String()))

	case ex1ObjectNew:
		vm.stack.push(&vm.reg, vm.heap.NewObject(value.Null))

	case ex1LogicalNot:
		v := vm.stack.pop(&vm.reg)
		vm.stack.push(&vm.reg, vm.NewBoolean(!vm.heap.ToBool(v)))

	case ex1ObjectGet1:
		key := vm.stack.pop(&vm.reg)
		obj := vm.stack.pop(&vm.reg)
		v, err := vm.getProperty(obj, key)
		if err != nil {
			return false, value.Undefined, err
		}
		vm.stack.push(&vm.reg, v)

	case ex1Add:
		b := vm.stack.pop(&vm.reg)
		a := vm.stack.pop(&vm.reg)
		v, err := vm.add(a, b)
		if err != nil {
			return false, value.Undefined, err
		}
		vm.stack.push(&vm.reg, v)

	case ex1Equal:
		b := vm.stack.pop(&vm.reg)
		a := vm.stack.pop(&vm.reg)
		vm.stack.push(&vm.reg, vm.NewBoolean(vm.heap.Equal(a, b)))

	case ex1NotEqual:
		b := vm.stack.pop(&vm.reg)
		a := vm.stack.pop(&vm.reg)
		vm.stack.push(&vm.reg, vm.NewBoolean(!vm.heap.Equal(a, b)))

	case ex1ObjectSet1:
		val := vm.stack.pop(&vm.reg)
		key := vm.stack.pop(&vm.reg)
		obj := vm.stack.pop(&vm.reg)
		if err := vm.setProperty(obj, key, val); err != nil {
			return false, value.Undefined, err
		}
		vm.stack.push(&vm.reg, val)
	}
	return false, value.Undefined, nil
}

// execEx2 runs an 8-bit-immediate extended instruction.
func (vm *VM) execEx2(sub byte, imm int) *mvmerr.Error {
	switch sub {
	case ex2Branch1:
		cond := vm.stack.pop(&vm.reg)
		if vm.heap.ToBool(cond) {
			vm.reg.PC += int(int8(imm))
		}

	case ex2StoreArg:
		if imm < vm.reg.argCount() {
			vm.stack.set(vm.reg.ArgsPointer+imm, vm.stack.pop(&vm.reg))
		} else {
			vm.stack.pop(&vm.reg)
		}

	case ex2StoreScoped2:
		vm.heap.FindScopedVariable(vm.reg.Scope, imm).Set(vm.stack.pop(&vm.reg))

	case ex2StoreVar2:
		vm.stack.set(vm.reg.FrameBase+imm, vm.stack.pop(&vm.reg))

	case ex2Jump1:
		vm.reg.PC += int(int8(imm))

	case ex2CallHost:
		target := vm.stack.at(vm.reg.SP - imm - 1)
		return vm.callBytecode(target, imm, true)

	case ex2Call3:
		target := vm.stack.at(vm.reg.SP - imm - 1)
		return vm.callBytecode(target, imm, true)

	case ex2Call6:
		target := vm.stack.at(vm.reg.SP - imm - 1)
		return vm.callBytecode(target, imm, true)

	case ex2LoadScoped2:
		vm.stack.push(&vm.reg, vm.heap.FindScopedVariable(vm.reg.Scope, imm).Get())

	case ex2LoadVar2:
		vm.stack.push(&vm.reg, vm.stack.at(vm.reg.FrameBase+imm))

	case ex2LoadArg2:
		v := value.Undefined
		if imm < vm.reg.argCount() {
			v = vm.stack.at(vm.reg.ArgsPointer + imm)
		}
		vm.stack.push(&vm.reg, v)

	case ex2ArrayNew:
		vm.stack.push(&vm.reg, vm.heap.NewArray(imm))

	case ex2FixedArrayNew2:
		vm.stack.push(&vm.reg, vm.heap.NewArray(imm))
	}
	return nil
}

// execEx3 runs a 16-bit-immediate extended instruction.
func (vm *VM) execEx3(sub byte, imm int) *mvmerr.Error {
	switch sub {
	case ex3PopN:
		for i := 0; i < imm; i++ {
			vm.stack.pop(&vm.reg)
		}

	case ex3ScopePop:
		ref := vm.heap.Deref(vm.reg.Scope)
		if ref.Valid() {
			vm.reg.Scope = ref.Word(0)
		}

	case ex3ScopeClone:
		// Cloning duplicates the current scope's own slots under a fresh
		// allocation with the same parent, used by loop bodies that close
		// over a fresh binding each iteration.
		ref := vm.heap.Deref(vm.reg.Scope)
		if !ref.Valid() {
			return mvmerr.New(mvmerr.AssertionFailed)
		}
		n := ref.WordCount() - 1
		clone := vm.heap.NewScope(ref.Word(0), n)
		cloneRef := vm.heap.Deref(clone)
		for i := 0; i < n; i++ {
			cloneRef.SetWord(1+i, ref.Word(1+i))
		}
		vm.reg.Scope = clone

	case ex3Jump2:
		vm.reg.PC += imm

	case ex3LoadLiteral:
		vm.stack.push(&vm.reg, value.Value(uint16(imm)))

	case ex3LoadGlobal3:
		vm.stack.push(&vm.reg, vm.globals[imm])

	case ex3LoadScoped3:
		vm.stack.push(&vm.reg, vm.heap.FindScopedVariable(vm.reg.Scope, imm).Get())

	case ex3Branch2:
		cond := vm.stack.pop(&vm.reg)
		if vm.heap.ToBool(cond) {
			vm.reg.PC += imm
		}

	case ex3StoreGlobal3:
		vm.globals[imm] = vm.stack.pop(&vm.reg)

	case ex3StoreScoped3:
		vm.heap.FindScopedVariable(vm.reg.Scope, imm).Set(vm.stack.pop(&vm.reg))

	case ex3ObjectGet2:
		obj := vm.stack.pop(&vm.reg)
		v, err := vm.getProperty(obj, value.Value(uint16(imm)))
		if err != nil {
			return err
		}
		vm.stack.push(&vm.reg, v)

	case ex3ObjectSet2:
		val := vm.stack.pop(&vm.reg)
		obj := vm.stack.pop(&vm.reg)
		if err := vm.setProperty(obj, value.Value(uint16(imm)), val); err != nil {
			return err
		}
		vm.stack.push(&vm.reg, val)
	}
	return nil
}

// add implements ADD: string concatenation if either
// operand is a string, otherwise numeric addition.
func (vm *VM) add(a, b value.Value) (value.Value, *mvmerr.Error) {
	if vm.heap.DeepTypeOf(a) == heap.TypeString || vm.heap.DeepTypeOf(b) == heap.TypeString {
		sa, err := vm.heap.ToStringUTF8(a)
		if err != nil {
			return value.Undefined, err
		}
		sb, err := vm.heap.ToStringUTF8(b)
		if err != nil {
			return value.Undefined, err
		}
		return vm.allocateString(sa + sb), nil
	}
	return vm.numAdd(a, b)
}

// int32AddOverflows/int32SubOverflows use the classic sign-compare trick:
// a signed overflow occurred iff both operands share a sign that differs
// from the result's.
func int32AddOverflows(a, b, r int32) bool { return ((a ^ r) & (b ^ r)) < 0 }
func int32SubOverflows(a, b, r int32) bool { return ((a ^ b) & (a ^ r)) < 0 }

func (vm *VM) numAdd(a, b value.Value) (value.Value, *mvmerr.Error) {
	if a.IsInt14() && b.IsInt14() {
		r := a.AsInt14() + b.AsInt14()
		return vm.encodeNumericResult(r), nil
	}
	ai, aerr := vm.heap.ToInt32(a)
	bi, berr := vm.heap.ToInt32(b)
	if aerr == nil && berr == nil {
		r := ai + bi
		if !int32AddOverflows(ai, bi, r) {
			return vm.encodeNumericResult(r), nil
		}
	}
	return vm.boxFloat64(vm.heap.ToFloat64(a) + vm.heap.ToFloat64(b)), nil
}

// execNumOp implements NUM_OP table: relational operators,
// an int32 fast path with overflow fallback to float64 for add/sub/mul,
// and an always-float64 divide/power per the original engine's semantics.
func (vm *VM) execNumOp(sub byte) *mvmerr.Error {
	if sub == numNegate || sub == numUnaryPlus {
		a := vm.stack.pop(&vm.reg)
		switch sub {
		case numUnaryPlus:
			if a.IsInt14() {
				vm.stack.push(&vm.reg, a)
				return nil
			}
			vm.stack.push(&vm.reg, vm.boxFloat64(vm.heap.ToFloat64(a)))
		case numNegate:
			if a.IsInt14() {
				n := -a.AsInt14()
				if value.Int14Fits(n) {
					vm.stack.push(&vm.reg, value.Int14(n))
					return nil
				}
			}
			vm.stack.push(&vm.reg, vm.boxFloat64(-vm.heap.ToFloat64(a)))
		}
		return nil
	}

	b := vm.stack.pop(&vm.reg)
	a := vm.stack.pop(&vm.reg)

	switch sub {
	case numLess, numGreater, numLessEq, numGreaterEq:
		fa, fb := vm.heap.ToFloat64(a), vm.heap.ToFloat64(b)
		var result bool
		switch sub {
		case numLess:
			result = fa < fb
		case numGreater:
			result = fa > fb
		case numLessEq:
			result = fa <= fb
		case numGreaterEq:
			result = fa >= fb
		}
		vm.stack.push(&vm.reg, vm.NewBoolean(result))
		return nil

	case numAdd:
		v, err := vm.numAdd(a, b)
		if err != nil {
			return err
		}
		vm.stack.push(&vm.reg, v)
		return nil

	case numSub:
		if a.IsInt14() && b.IsInt14() {
			ai, bi := a.AsInt14(), b.AsInt14()
			r := ai - bi
			if !int32SubOverflows(ai, bi, r) {
				vm.stack.push(&vm.reg, vm.encodeNumericResult(r))
				return nil
			}
		}
		vm.stack.push(&vm.reg, vm.boxFloat64(vm.heap.ToFloat64(a)-vm.heap.ToFloat64(b)))
		return nil

	case numMul:
		ai, aerr := vm.heap.ToInt32(a)
		bi, berr := vm.heap.ToInt32(b)
		if aerr == nil && berr == nil {
			r64 := int64(ai) * int64(bi)
			if r64 >= math.MinInt32 && r64 <= math.MaxInt32 {
				vm.stack.push(&vm.reg, vm.encodeNumericResult(int32(r64)))
				return nil
			}
		}
		vm.stack.push(&vm.reg, vm.boxFloat64(vm.heap.ToFloat64(a)*vm.heap.ToFloat64(b)))
		return nil

	case numDiv:
		vm.stack.push(&vm.reg, vm.boxFloat64(vm.heap.ToFloat64(a)/vm.heap.ToFloat64(b)))
		return nil

	case numDivTrunc:
		bi, err := vm.heap.ToInt32(b)
		if err != nil || bi == 0 {
			vm.stack.push(&vm.reg, value.Int14(0))
			return nil
		}
		ai, err := vm.heap.ToInt32(a)
		if err != nil {
			vm.stack.push(&vm.reg, value.Int14(0))
			return nil
		}
		vm.stack.push(&vm.reg, vm.encodeNumericResult(ai/bi))
		return nil

	case numRemainder:
		bi, err := vm.heap.ToInt32(b)
		if err != nil || bi == 0 {
			vm.stack.push(&vm.reg, value.NaN)
			return nil
		}
		ai, err := vm.heap.ToInt32(a)
		if err != nil {
			vm.stack.push(&vm.reg, value.NaN)
			return nil
		}
		vm.stack.push(&vm.reg, vm.encodeNumericResult(ai%bi))
		return nil

	case numPow:
		vm.stack.push(&vm.reg, vm.boxFloat64(math.Pow(vm.heap.ToFloat64(a), vm.heap.ToFloat64(b))))
		return nil
	}
	return nil
}

// execBitOp implements BIT_OP table: 32-bit bitwise
// operators on to_int32-converted operands, with the one case that
// promotes to float64 — an unsigned right shift by zero of a negative
// value, whose true ECMAScript result exceeds the int32 range.
func (vm *VM) execBitOp(sub byte) *mvmerr.Error {
	if sub == bitNot {
		a := vm.stack.pop(&vm.reg)
		ai, err := vm.heap.ToInt32(a)
		if err != nil {
			return err
		}
		vm.stack.push(&vm.reg, vm.encodeNumericResult(^ai))
		return nil
	}

	b := vm.stack.pop(&vm.reg)
	a := vm.stack.pop(&vm.reg)
	ai, aerr := vm.heap.ToInt32(a)
	if aerr != nil {
		return aerr
	}
	bi, berr := vm.heap.ToInt32(b)
	if berr != nil {
		return berr
	}

	switch sub {
	case bitShiftRight:
		vm.stack.push(&vm.reg, vm.encodeNumericResult(ai>>(uint32(bi)&31)))

	case bitShiftRightUnsigned:
		shift := uint32(bi) & 31
		if shift == 0 && ai < 0 {
			vm.stack.push(&vm.reg, vm.boxFloat64(float64(uint32(ai))))
			return nil
		}
		vm.stack.push(&vm.reg, vm.encodeNumericResult(int32(uint32(ai)>>shift)))

	case bitShiftLeft:
		vm.stack.push(&vm.reg, vm.encodeNumericResult(ai<<(uint32(bi)&31)))

	case bitOr:
		vm.stack.push(&vm.reg, vm.encodeNumericResult(ai|bi))

	case bitAnd:
		vm.stack.push(&vm.reg, vm.encodeNumericResult(ai&bi))

	case bitXor:
		vm.stack.push(&vm.reg, vm.encodeNumericResult(ai^bi))
	}
	return nil
}
