package vm

import (
	"math"

	"github.com/daimatz/bytecodebuilder/pkg/classfile"
	"github.com/daimatz/bytecodebuilder/pkg/descriptor"
	"github.com/daimatz/bytecodebuilder/pkg/errors"
)

// newarray element type codes.
const (
	atBoolean = 4
	atChar    = 5
	atFloat   = 6
	atDouble  = 7
	atByte    = 8
	atShort   = 9
	atInt     = 10
	atLong    = 11
)

var newarrayTypes = map[uint8]descriptor.Descriptor{
	atBoolean: descriptor.Boolean,
	atChar:    descriptor.Char,
	atFloat:   descriptor.Float,
	atDouble:  descriptor.Double,
	atByte:    descriptor.Byte,
	atShort:   descriptor.Short,
	atInt:     descriptor.Int,
	atLong:    descriptor.Long,
}

// executeInstruction executes a single bytecode instruction.
// Returns (returnValue, hasReturn, error).
func (vm *VM) executeInstruction(frame *Frame, opcode byte) (Value, bool, error) {
	switch opcode {
	case classfile.OpNop:
		// do nothing

	// --- Constant load instructions ---
	case classfile.OpAconstNull:
		frame.Push(NullValue())

	case classfile.OpIconstM1, classfile.OpIconst0, classfile.OpIconst1, classfile.OpIconst2,
		classfile.OpIconst3, classfile.OpIconst4, classfile.OpIconst5:
		frame.Push(IntValue(int32(opcode) - classfile.OpIconst0))

	case classfile.OpLconst0, classfile.OpLconst1:
		frame.Push(LongValue(int64(opcode - classfile.OpLconst0)))

	case classfile.OpFconst0, classfile.OpFconst1, classfile.OpFconst2:
		frame.Push(FloatValue(float32(opcode - classfile.OpFconst0)))

	case classfile.OpDconst0, classfile.OpDconst1:
		frame.Push(DoubleValue(float64(opcode - classfile.OpDconst0)))

	case classfile.OpBipush:
		frame.Push(IntValue(int32(frame.ReadI8())))

	case classfile.OpSipush:
		frame.Push(IntValue(int32(frame.ReadI16())))

	case classfile.OpLdc:
		return vm.executeLdc(frame, uint16(frame.ReadU8()))

	case classfile.OpLdcW, classfile.OpLdc2W:
		return vm.executeLdc(frame, frame.ReadU16())

	// --- Local variable instructions ---
	case classfile.OpIload, classfile.OpLload, classfile.OpFload, classfile.OpDload, classfile.OpAload:
		frame.Push(frame.GetLocal(int(frame.ReadU8())))

	case classfile.OpIload0, classfile.OpIload1, classfile.OpIload2, classfile.OpIload3,
		classfile.OpLload0, classfile.OpLload1, classfile.OpLload2, classfile.OpLload3,
		classfile.OpFload0, classfile.OpFload1, classfile.OpFload2, classfile.OpFload3,
		classfile.OpDload0, classfile.OpDload1, classfile.OpDload2, classfile.OpDload3,
		classfile.OpAload0, classfile.OpAload1, classfile.OpAload2, classfile.OpAload3:
		frame.Push(frame.GetLocal(int(opcode-classfile.OpIload0) % 4))

	case classfile.OpIstore, classfile.OpLstore, classfile.OpFstore, classfile.OpDstore, classfile.OpAstore:
		index := frame.ReadU8()
		frame.SetLocal(int(index), frame.Pop())

	case classfile.OpIstore0, classfile.OpIstore1, classfile.OpIstore2, classfile.OpIstore3,
		classfile.OpLstore0, classfile.OpLstore1, classfile.OpLstore2, classfile.OpLstore3,
		classfile.OpFstore0, classfile.OpFstore1, classfile.OpFstore2, classfile.OpFstore3,
		classfile.OpDstore0, classfile.OpDstore1, classfile.OpDstore2, classfile.OpDstore3,
		classfile.OpAstore0, classfile.OpAstore1, classfile.OpAstore2, classfile.OpAstore3:
		frame.SetLocal(int(opcode-classfile.OpIstore0)%4, frame.Pop())

	case classfile.OpIinc:
		index := frame.ReadU8()
		delta := frame.ReadI8()
		local := frame.GetLocal(int(index))
		frame.SetLocal(int(index), IntValue(local.Int+int32(delta)))

	case classfile.OpWide:
		return vm.executeWide(frame)

	// --- Array instructions ---
	case classfile.OpIaload, classfile.OpLaload, classfile.OpFaload, classfile.OpDaload,
		classfile.OpAaload, classfile.OpBaload, classfile.OpCaload, classfile.OpSaload:
		index := frame.Pop().Int
		arr, err := vm.arrayAt(frame.Pop(), index)
		if err != nil {
			return Value{}, false, err
		}
		frame.Push(arr.Elements[index])

	case classfile.OpIastore, classfile.OpLastore, classfile.OpFastore, classfile.OpDastore,
		classfile.OpAastore, classfile.OpBastore, classfile.OpCastore, classfile.OpSastore:
		return vm.executeArrayStore(frame)

	case classfile.OpNewarray:
		atype := frame.ReadU8()
		elem, ok := newarrayTypes[atype]
		if !ok {
			return Value{}, false, errors.New(errors.PhaseRuntime, errors.KindFrame).
				Value(atype).Detail("newarray: invalid element type").Build()
		}
		return vm.newArray(frame, elem)

	case classfile.OpAnewarray:
		name, err := classfile.GetClassName(frame.Class.file.ConstantPool, frame.ReadU16())
		if err != nil {
			return Value{}, false, errors.Wrap(errors.PhaseRuntime, errors.KindFrame, err, "anewarray")
		}
		return vm.newArray(frame, descriptor.Class(name))

	case classfile.OpMultianewarray:
		return vm.executeMultianewarray(frame)

	case classfile.OpArraylength:
		ref := frame.Pop()
		if ref.IsNull() {
			return Value{}, false, vm.NewJavaException("java/lang/NullPointerException", "arraylength on null")
		}
		arr, ok := ref.Ref.(*JArray)
		if !ok {
			return Value{}, false, errors.New(errors.PhaseRuntime, errors.KindFrame).
				Value(vm.describe(ref.Ref)).Detail("arraylength: reference is not an array").Build()
		}
		frame.Push(IntValue(int32(len(arr.Elements))))

	// --- Stack instructions ---
	case classfile.OpPop:
		frame.Pop()

	case classfile.OpPop2:
		if !frame.Pop().IsWide() {
			frame.Pop()
		}

	case classfile.OpDup:
		frame.Push(frame.Peek())

	case classfile.OpDupX1:
		v1, v2 := frame.Pop(), frame.Pop()
		frame.Push(v1)
		frame.Push(v2)
		frame.Push(v1)

	case classfile.OpDupX2:
		v1, v2 := frame.Pop(), frame.Pop()
		if v2.IsWide() {
			frame.Push(v1)
			frame.Push(v2)
			frame.Push(v1)
			break
		}
		v3 := frame.Pop()
		frame.Push(v1)
		frame.Push(v3)
		frame.Push(v2)
		frame.Push(v1)

	case classfile.OpDup2:
		v1 := frame.Pop()
		if v1.IsWide() {
			frame.Push(v1)
			frame.Push(v1)
			break
		}
		v2 := frame.Pop()
		frame.Push(v2)
		frame.Push(v1)
		frame.Push(v2)
		frame.Push(v1)

	case classfile.OpDup2X1:
		v1, v2 := frame.Pop(), frame.Pop()
		if v1.IsWide() {
			frame.Push(v1)
			frame.Push(v2)
			frame.Push(v1)
			break
		}
		v3 := frame.Pop()
		frame.Push(v2)
		frame.Push(v1)
		frame.Push(v3)
		frame.Push(v2)
		frame.Push(v1)

	case classfile.OpDup2X2:
		vm.executeDup2X2(frame)

	case classfile.OpSwap:
		v1, v2 := frame.Pop(), frame.Pop()
		frame.Push(v1)
		frame.Push(v2)

	// --- Arithmetic ---
	case classfile.OpIadd, classfile.OpIsub, classfile.OpImul, classfile.OpIdiv, classfile.OpIrem,
		classfile.OpIshl, classfile.OpIshr, classfile.OpIushr, classfile.OpIand, classfile.OpIor, classfile.OpIxor:
		v2 := frame.Pop()
		v1 := frame.Pop()
		r, err := vm.intOp(opcode, v1.Int, v2.Int)
		if err != nil {
			return Value{}, false, err
		}
		frame.Push(IntValue(r))

	case classfile.OpLadd, classfile.OpLsub, classfile.OpLmul, classfile.OpLdiv, classfile.OpLrem,
		classfile.OpLand, classfile.OpLor, classfile.OpLxor:
		v2 := frame.Pop()
		v1 := frame.Pop()
		r, err := vm.longOp(opcode, v1.Long, v2.Long)
		if err != nil {
			return Value{}, false, err
		}
		frame.Push(LongValue(r))

	case classfile.OpLshl, classfile.OpLshr, classfile.OpLushr:
		s := uint(frame.Pop().Int) & 0x3f
		v := frame.Pop().Long
		switch opcode {
		case classfile.OpLshl:
			frame.Push(LongValue(v << s))
		case classfile.OpLshr:
			frame.Push(LongValue(v >> s))
		default:
			frame.Push(LongValue(int64(uint64(v) >> s)))
		}

	case classfile.OpFadd, classfile.OpFsub, classfile.OpFmul, classfile.OpFdiv, classfile.OpFrem:
		v2 := frame.Pop()
		v1 := frame.Pop()
		frame.Push(FloatValue(float32(floatOp(opcode-classfile.OpFadd, float64(v1.Float), float64(v2.Float)))))

	case classfile.OpDadd, classfile.OpDsub, classfile.OpDmul, classfile.OpDdiv, classfile.OpDrem:
		v2 := frame.Pop()
		v1 := frame.Pop()
		frame.Push(DoubleValue(floatOp(opcode-classfile.OpDadd, v1.Double, v2.Double)))

	case classfile.OpIneg:
		frame.Push(IntValue(-frame.Pop().Int))
	case classfile.OpLneg:
		frame.Push(LongValue(-frame.Pop().Long))
	case classfile.OpFneg:
		frame.Push(FloatValue(-frame.Pop().Float))
	case classfile.OpDneg:
		frame.Push(DoubleValue(-frame.Pop().Double))

	// --- Type conversions ---
	case classfile.OpI2l, classfile.OpI2f, classfile.OpI2d, classfile.OpI2b, classfile.OpI2c, classfile.OpI2s,
		classfile.OpL2i, classfile.OpL2f, classfile.OpL2d,
		classfile.OpF2i, classfile.OpF2l, classfile.OpF2d,
		classfile.OpD2i, classfile.OpD2l, classfile.OpD2f:
		conv := conversions[opcode]
		frame.Push(explicitConvert(frame.Pop(), conv[0], conv[1]))

	// --- Comparisons ---
	case classfile.OpLcmp:
		v2 := frame.Pop()
		v1 := frame.Pop()
		frame.Push(IntValue(compare(v1.Long, v2.Long)))

	case classfile.OpFcmpl, classfile.OpFcmpg:
		v2 := frame.Pop()
		v1 := frame.Pop()
		frame.Push(IntValue(compareFloat(float64(v1.Float), float64(v2.Float), opcode == classfile.OpFcmpg)))

	case classfile.OpDcmpl, classfile.OpDcmpg:
		v2 := frame.Pop()
		v1 := frame.Pop()
		frame.Push(IntValue(compareFloat(v1.Double, v2.Double, opcode == classfile.OpDcmpg)))

	// --- Comparison and branch ---
	case classfile.OpIfeq:
		return vm.executeBranchUnary(frame, func(v int32) bool { return v == 0 })
	case classfile.OpIfne:
		return vm.executeBranchUnary(frame, func(v int32) bool { return v != 0 })
	case classfile.OpIflt:
		return vm.executeBranchUnary(frame, func(v int32) bool { return v < 0 })
	case classfile.OpIfge:
		return vm.executeBranchUnary(frame, func(v int32) bool { return v >= 0 })
	case classfile.OpIfgt:
		return vm.executeBranchUnary(frame, func(v int32) bool { return v > 0 })
	case classfile.OpIfle:
		return vm.executeBranchUnary(frame, func(v int32) bool { return v <= 0 })

	case classfile.OpIfIcmpeq:
		return vm.executeBranchBinary(frame, func(v1, v2 int32) bool { return v1 == v2 })
	case classfile.OpIfIcmpne:
		return vm.executeBranchBinary(frame, func(v1, v2 int32) bool { return v1 != v2 })
	case classfile.OpIfIcmplt:
		return vm.executeBranchBinary(frame, func(v1, v2 int32) bool { return v1 < v2 })
	case classfile.OpIfIcmpge:
		return vm.executeBranchBinary(frame, func(v1, v2 int32) bool { return v1 >= v2 })
	case classfile.OpIfIcmpgt:
		return vm.executeBranchBinary(frame, func(v1, v2 int32) bool { return v1 > v2 })
	case classfile.OpIfIcmple:
		return vm.executeBranchBinary(frame, func(v1, v2 int32) bool { return v1 <= v2 })

	case classfile.OpIfAcmpeq, classfile.OpIfAcmpne:
		branchPC := frame.PC - 1
		offset := frame.ReadI16()
		v2 := frame.Pop()
		v1 := frame.Pop()
		if sameRef(v1, v2) == (opcode == classfile.OpIfAcmpeq) {
			frame.PC = branchPC + int(offset)
		}

	case classfile.OpIfnull, classfile.OpIfnonnull:
		branchPC := frame.PC - 1
		offset := frame.ReadI16()
		if frame.Pop().IsNull() == (opcode == classfile.OpIfnull) {
			frame.PC = branchPC + int(offset)
		}

	case classfile.OpGoto:
		branchPC := frame.PC - 1
		offset := frame.ReadI16()
		frame.PC = branchPC + int(offset)

	case classfile.OpGotoW:
		branchPC := frame.PC - 1
		offset := frame.ReadI32()
		frame.PC = branchPC + int(offset)

	case classfile.OpTableswitch:
		// PC of the tableswitch opcode
		opcodePC := frame.PC - 1
		for frame.PC%4 != 0 {
			frame.PC++
		}
		defaultOffset := frame.ReadI32()
		low := frame.ReadI32()
		high := frame.ReadI32()
		numOffsets := int(high - low + 1)
		offsets := make([]int32, numOffsets)
		for i := 0; i < numOffsets; i++ {
			offsets[i] = frame.ReadI32()
		}
		index := frame.Pop().Int
		if index >= low && index <= high {
			frame.PC = opcodePC + int(offsets[index-low])
		} else {
			frame.PC = opcodePC + int(defaultOffset)
		}

	case classfile.OpLookupswitch:
		opcodePC := frame.PC - 1
		for frame.PC%4 != 0 {
			frame.PC++
		}
		defaultOffset := frame.ReadI32()
		npairs := frame.ReadI32()
		key := frame.Pop().Int
		target := opcodePC + int(defaultOffset)
		for i := int32(0); i < npairs; i++ {
			match := frame.ReadI32()
			offset := frame.ReadI32()
			if key == match {
				target = opcodePC + int(offset)
			}
		}
		frame.PC = target

	case classfile.OpJsr, classfile.OpJsrW, classfile.OpRet:
		return Value{}, false, errors.Unsupported(errors.PhaseRuntime, classfile.OpcodeName(opcode))

	// --- Return ---
	case classfile.OpIreturn, classfile.OpLreturn, classfile.OpFreturn, classfile.OpDreturn, classfile.OpAreturn:
		return frame.Pop(), true, nil

	case classfile.OpReturn:
		return Value{}, true, nil

	// --- Method invocation and field access ---
	case classfile.OpGetstatic:
		return vm.executeGetstatic(frame)

	case classfile.OpPutstatic:
		return vm.executePutstatic(frame)

	case classfile.OpGetfield:
		return vm.executeGetfield(frame)

	case classfile.OpPutfield:
		return vm.executePutfield(frame)

	case classfile.OpInvokevirtual:
		return vm.executeInvokevirtual(frame, false)

	case classfile.OpInvokeinterface:
		return vm.executeInvokevirtual(frame, true)

	case classfile.OpInvokespecial:
		return vm.executeInvokespecial(frame)

	case classfile.OpInvokestatic:
		return vm.executeInvokestatic(frame)

	case classfile.OpInvokedynamic:
		return vm.executeInvokedynamic(frame)

	// --- Objects ---
	case classfile.OpNew:
		return vm.executeNew(frame)

	case classfile.OpAthrow:
		ref := frame.Pop()
		if ref.IsNull() {
			return Value{}, false, vm.NewJavaException("java/lang/NullPointerException", "throwing null")
		}
		obj, ok := ref.Ref.(*JObject)
		if !ok || !obj.Class.IsSubclassOf(vm.mustBuiltin(classThrowable)) {
			return Value{}, false, errors.New(errors.PhaseRuntime, errors.KindFrame).
				Value(vm.describe(ref.Ref)).Detail("athrow: not a Throwable").Build()
		}
		return Value{}, false, &JavaException{Object: obj}

	case classfile.OpCheckcast, classfile.OpInstanceof:
		name, err := classfile.GetClassName(frame.Class.file.ConstantPool, frame.ReadU16())
		if err != nil {
			return Value{}, false, errors.Wrap(errors.PhaseRuntime, errors.KindFrame, err, classfile.OpcodeName(opcode))
		}
		ref := frame.Pop()
		ok := false
		if !ref.IsNull() {
			if ok, err = vm.isInstance(frame.Class, ref.Ref, name); err != nil {
				return Value{}, false, err
			}
		}
		if opcode == classfile.OpInstanceof {
			frame.Push(boolValue(ok))
			break
		}
		if !ok && !ref.IsNull() {
			return Value{}, false, vm.NewJavaException("java/lang/ClassCastException", "%s cannot be cast to %s", vm.describe(ref.Ref), descriptor.Class(name).DisplayName())
		}
		frame.Push(ref)

	case classfile.OpMonitorenter, classfile.OpMonitorexit:
		if frame.Pop().IsNull() {
			return Value{}, false, vm.NewJavaException("java/lang/NullPointerException", "%s on null", classfile.OpcodeName(opcode))
		}

	default:
		return Value{}, false, errors.New(errors.PhaseRuntime, errors.KindUnsupported).
			Value(opcode).Detail("unknown opcode at PC=%d", frame.PC-1).Build()
	}

	return Value{}, false, nil
}

var conversions = map[byte][2]descriptor.Descriptor{
	classfile.OpI2l: {descriptor.Int, descriptor.Long},
	classfile.OpI2f: {descriptor.Int, descriptor.Float},
	classfile.OpI2d: {descriptor.Int, descriptor.Double},
	classfile.OpI2b: {descriptor.Int, descriptor.Byte},
	classfile.OpI2c: {descriptor.Int, descriptor.Char},
	classfile.OpI2s: {descriptor.Int, descriptor.Short},
	classfile.OpL2i: {descriptor.Long, descriptor.Int},
	classfile.OpL2f: {descriptor.Long, descriptor.Float},
	classfile.OpL2d: {descriptor.Long, descriptor.Double},
	classfile.OpF2i: {descriptor.Float, descriptor.Int},
	classfile.OpF2l: {descriptor.Float, descriptor.Long},
	classfile.OpF2d: {descriptor.Float, descriptor.Double},
	classfile.OpD2i: {descriptor.Double, descriptor.Int},
	classfile.OpD2l: {descriptor.Double, descriptor.Long},
	classfile.OpD2f: {descriptor.Double, descriptor.Float},
}

func (vm *VM) intOp(opcode byte, v1, v2 int32) (int32, error) {
	switch opcode {
	case classfile.OpIadd:
		return v1 + v2, nil
	case classfile.OpIsub:
		return v1 - v2, nil
	case classfile.OpImul:
		return v1 * v2, nil
	case classfile.OpIdiv, classfile.OpIrem:
		if v2 == 0 {
			return 0, vm.NewJavaException("java/lang/ArithmeticException", "/ by zero")
		}
		if opcode == classfile.OpIdiv {
			return v1 / v2, nil
		}
		return v1 % v2, nil
	case classfile.OpIshl:
		return v1 << (uint(v2) & 0x1f), nil
	case classfile.OpIshr:
		return v1 >> (uint(v2) & 0x1f), nil
	case classfile.OpIushr:
		return int32(uint32(v1) >> (uint(v2) & 0x1f)), nil
	case classfile.OpIand:
		return v1 & v2, nil
	case classfile.OpIor:
		return v1 | v2, nil
	}
	return v1 ^ v2, nil
}

func (vm *VM) longOp(opcode byte, v1, v2 int64) (int64, error) {
	switch opcode {
	case classfile.OpLadd:
		return v1 + v2, nil
	case classfile.OpLsub:
		return v1 - v2, nil
	case classfile.OpLmul:
		return v1 * v2, nil
	case classfile.OpLdiv, classfile.OpLrem:
		if v2 == 0 {
			return 0, vm.NewJavaException("java/lang/ArithmeticException", "/ by zero")
		}
		if opcode == classfile.OpLdiv {
			return v1 / v2, nil
		}
		return v1 % v2, nil
	case classfile.OpLand:
		return v1 & v2, nil
	case classfile.OpLor:
		return v1 | v2, nil
	}
	return v1 ^ v2, nil
}

// floatOp applies add, sub, mul, div or rem selected by op, the distance
// from the type's add opcode. Opcodes for one type are four apart.
func floatOp(op byte, v1, v2 float64) float64 {
	switch op / 4 {
	case 0:
		return v1 + v2
	case 1:
		return v1 - v2
	case 2:
		return v1 * v2
	case 3:
		return v1 / v2
	}
	return math.Mod(v1, v2)
}

func compare(v1, v2 int64) int32 {
	switch {
	case v1 > v2:
		return 1
	case v1 < v2:
		return -1
	}
	return 0
}

func compareFloat(v1, v2 float64, nanGreater bool) int32 {
	switch {
	case math.IsNaN(v1) || math.IsNaN(v2):
		if nanGreater {
			return 1
		}
		return -1
	case v1 > v2:
		return 1
	case v1 < v2:
		return -1
	}
	return 0
}

// sameRef implements reference equality. Wrapper values compare by value.
func sameRef(v1, v2 Value) bool {
	if v1.IsNull() || v2.IsNull() {
		return v1.IsNull() && v2.IsNull()
	}
	return v1.Ref == v2.Ref
}

// executeBranchUnary handles unary branch instructions (ifeq, ifne, etc.)
func (vm *VM) executeBranchUnary(frame *Frame, cond func(int32) bool) (Value, bool, error) {
	branchPC := frame.PC - 1 // PC of the branch instruction
	offset := frame.ReadI16()
	val := frame.Pop()
	if cond(val.Int) {
		frame.PC = branchPC + int(offset)
	}
	return Value{}, false, nil
}

// executeBranchBinary handles binary branch instructions (if_icmpeq, etc.)
func (vm *VM) executeBranchBinary(frame *Frame, cond func(int32, int32) bool) (Value, bool, error) {
	branchPC := frame.PC - 1 // PC of the branch instruction
	offset := frame.ReadI16()
	v2 := frame.Pop()
	v1 := frame.Pop()
	if cond(v1.Int, v2.Int) {
		frame.PC = branchPC + int(offset)
	}
	return Value{}, false, nil
}

func (vm *VM) executeDup2X2(frame *Frame) {
	v1, v2 := frame.Pop(), frame.Pop()
	switch {
	case v1.IsWide() && v2.IsWide():
		frame.Push(v1)
		frame.Push(v2)
		frame.Push(v1)
	case v1.IsWide():
		v3 := frame.Pop()
		frame.Push(v1)
		frame.Push(v3)
		frame.Push(v2)
		frame.Push(v1)
	default:
		v3 := frame.Pop()
		if v3.IsWide() {
			frame.Push(v2)
			frame.Push(v1)
			frame.Push(v3)
			frame.Push(v2)
			frame.Push(v1)
			return
		}
		v4 := frame.Pop()
		frame.Push(v2)
		frame.Push(v1)
		frame.Push(v4)
		frame.Push(v3)
		frame.Push(v2)
		frame.Push(v1)
	}
}

func (vm *VM) executeWide(frame *Frame) (Value, bool, error) {
	opcode := frame.ReadU8()
	index := int(frame.ReadU16())
	switch opcode {
	case classfile.OpIload, classfile.OpLload, classfile.OpFload, classfile.OpDload, classfile.OpAload:
		frame.Push(frame.GetLocal(index))
	case classfile.OpIstore, classfile.OpLstore, classfile.OpFstore, classfile.OpDstore, classfile.OpAstore:
		frame.SetLocal(index, frame.Pop())
	case classfile.OpIinc:
		delta := frame.ReadI16()
		frame.SetLocal(index, IntValue(frame.GetLocal(index).Int+int32(delta)))
	default:
		return Value{}, false, errors.New(errors.PhaseRuntime, errors.KindFrame).
			Value(classfile.OpcodeName(opcode)).Detail("invalid wide instruction").Build()
	}
	return Value{}, false, nil
}

func (vm *VM) executeLdc(frame *Frame, index uint16) (Value, bool, error) {
	v, err := vm.loadConstant(vm.threadOf(frame), frame.Class, index)
	if err != nil {
		return Value{}, false, err
	}
	frame.Push(v)
	return Value{}, false, nil
}

// arrayAt checks ref and index for an array element access.
func (vm *VM) arrayAt(ref Value, index int32) (*JArray, error) {
	if ref.IsNull() {
		return nil, vm.NewJavaException("java/lang/NullPointerException", "array access on null")
	}
	arr, ok := ref.Ref.(*JArray)
	if !ok {
		return nil, errors.New(errors.PhaseRuntime, errors.KindFrame).
			Value(vm.describe(ref.Ref)).Detail("array access on a non-array").Build()
	}
	if index < 0 || int(index) >= len(arr.Elements) {
		return nil, vm.NewJavaException("java/lang/ArrayIndexOutOfBoundsException",
			"Index %d out of bounds for length %d", index, len(arr.Elements))
	}
	return arr, nil
}

func (vm *VM) executeArrayStore(frame *Frame) (Value, bool, error) {
	v := frame.Pop()
	index := frame.Pop().Int
	arr, err := vm.arrayAt(frame.Pop(), index)
	if err != nil {
		return Value{}, false, err
	}
	comp := arr.Type.ComponentType()
	switch {
	case comp.IsIntLike():
		v = explicitConvert(v, descriptor.Int, comp)
	case comp.IsReference() && !v.IsNull():
		name, _ := comp.InternalName()
		ok, err := vm.isInstance(frame.Class, v.Ref, name)
		if err != nil {
			return Value{}, false, err
		}
		if !ok {
			return Value{}, false, vm.NewJavaException("java/lang/ArrayStoreException", "%s", vm.describe(v.Ref))
		}
	}
	arr.Elements[index] = v
	return Value{}, false, nil
}

func (vm *VM) newArray(frame *Frame, component descriptor.Descriptor) (Value, bool, error) {
	count := frame.Pop().Int
	if count < 0 {
		return Value{}, false, vm.NewJavaException("java/lang/NegativeArraySizeException", "%d", count)
	}
	t, err := component.ArrayOf()
	if err != nil {
		return Value{}, false, err
	}
	frame.Push(RefValue(NewArray(t, int(count))))
	return Value{}, false, nil
}

func (vm *VM) executeMultianewarray(frame *Frame) (Value, bool, error) {
	name, err := classfile.GetClassName(frame.Class.file.ConstantPool, frame.ReadU16())
	if err != nil {
		return Value{}, false, errors.Wrap(errors.PhaseRuntime, errors.KindFrame, err, "multianewarray")
	}
	dims := int(frame.ReadU8())
	counts := frame.PopN(dims)
	for _, c := range counts {
		if c.Int < 0 {
			return Value{}, false, vm.NewJavaException("java/lang/NegativeArraySizeException", "%d", c.Int)
		}
	}
	var build func(t descriptor.Descriptor, counts []Value) *JArray
	build = func(t descriptor.Descriptor, counts []Value) *JArray {
		arr := NewArray(t, int(counts[0].Int))
		if len(counts) > 1 {
			for i := range arr.Elements {
				arr.Elements[i] = RefValue(build(t.ComponentType(), counts[1:]))
			}
		}
		return arr
	}
	frame.Push(RefValue(build(descriptor.Class(name), counts)))
	return Value{}, false, nil
}
