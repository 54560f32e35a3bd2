package bytecode

import (
	"math"

	"github.com/daimatz/bytecodebuilder/pkg/classfile"
	"github.com/daimatz/bytecodebuilder/pkg/constant"
	"github.com/daimatz/bytecodebuilder/pkg/descriptor"
	"github.com/daimatz/bytecodebuilder/pkg/errors"
)

// Push is the instruction chosen to load a constant. Op is OpLdc for every
// pool load; the assembler widens it to ldc_w or ldc2_w as needed.
type Push struct {
	Op      byte
	Operand int32
}

// IsLdc reports whether the push loads from the constant pool.
func (p Push) IsLdc() bool { return p.Op == classfile.OpLdc }

// SelectConstant picks the most compact instruction that pushes c.
func SelectConstant(c constant.Constant) Push {
	switch v := c.(type) {
	case constant.Int:
		switch {
		case v >= -1 && v <= 5:
			return Push{Op: byte(classfile.OpIconst0 + int(v))}
		case v >= math.MinInt8 && v <= math.MaxInt8:
			return Push{Op: classfile.OpBipush, Operand: int32(v)}
		case v >= math.MinInt16 && v <= math.MaxInt16:
			return Push{Op: classfile.OpSipush, Operand: int32(v)}
		}
	case constant.Long:
		if v == 0 || v == 1 {
			return Push{Op: byte(classfile.OpLconst0 + int(v))}
		}
	case constant.Float:
		if (v == 0 && !math.Signbit(float64(v))) || v == 1 || v == 2 {
			return Push{Op: byte(classfile.OpFconst0 + int(v))}
		}
	case constant.Double:
		if (v == 0 && !math.Signbit(float64(v))) || v == 1 {
			return Push{Op: byte(classfile.OpDconst0 + int(v))}
		}
	}
	return Push{Op: classfile.OpLdc}
}

// LoadOpcode returns the typed local load opcode for d.
func LoadOpcode(d descriptor.Descriptor) (byte, error) {
	return typed(d, classfile.OpIload, classfile.OpLload, classfile.OpFload, classfile.OpDload, classfile.OpAload)
}

// StoreOpcode returns the typed local store opcode for d.
func StoreOpcode(d descriptor.Descriptor) (byte, error) {
	return typed(d, classfile.OpIstore, classfile.OpLstore, classfile.OpFstore, classfile.OpDstore, classfile.OpAstore)
}

// ReturnOpcode returns the typed return opcode for d, including void.
func ReturnOpcode(d descriptor.Descriptor) (byte, error) {
	if d.IsVoid() {
		return classfile.OpReturn, nil
	}
	return typed(d, classfile.OpIreturn, classfile.OpLreturn, classfile.OpFreturn, classfile.OpDreturn, classfile.OpAreturn)
}

func typed(d descriptor.Descriptor, i, l, f, dbl, a byte) (byte, error) {
	switch d.Sort() {
	case descriptor.SortBoolean, descriptor.SortByte, descriptor.SortChar, descriptor.SortShort, descriptor.SortInt:
		return i, nil
	case descriptor.SortLong:
		return l, nil
	case descriptor.SortFloat:
		return f, nil
	case descriptor.SortDouble:
		return dbl, nil
	case descriptor.SortObject, descriptor.SortArray:
		return a, nil
	}
	return 0, errors.InvalidDescriptor(d.String(), "no typed instruction for "+d.Sort().String())
}

// Array type codes for newarray.
const (
	TBoolean = 4
	TChar    = 5
	TFloat   = 6
	TDouble  = 7
	TByte    = 8
	TShort   = 9
	TInt     = 10
	TLong    = 11
)

// NewArrayType returns the newarray type code for a primitive element type.
func NewArrayType(elem descriptor.Descriptor) (int, bool) {
	switch elem.Sort() {
	case descriptor.SortBoolean:
		return TBoolean, true
	case descriptor.SortChar:
		return TChar, true
	case descriptor.SortFloat:
		return TFloat, true
	case descriptor.SortDouble:
		return TDouble, true
	case descriptor.SortByte:
		return TByte, true
	case descriptor.SortShort:
		return TShort, true
	case descriptor.SortInt:
		return TInt, true
	case descriptor.SortLong:
		return TLong, true
	}
	return 0, false
}

// ArrayElementOfType is the inverse of NewArrayType.
func ArrayElementOfType(atype int) (descriptor.Descriptor, bool) {
	for _, d := range []descriptor.Descriptor{
		descriptor.Boolean, descriptor.Char, descriptor.Float, descriptor.Double,
		descriptor.Byte, descriptor.Short, descriptor.Int, descriptor.Long,
	} {
		if t, _ := NewArrayType(d); t == atype {
			return d, true
		}
	}
	return descriptor.Descriptor{}, false
}

// ConstructShuffle returns the stack shuffle emitted between NEW and the
// constructor call so the two uninitialized references end up beneath
// arguments already on the stack. Arguments may occupy at most two slots.
func ConstructShuffle(ctor descriptor.Descriptor) ([]byte, error) {
	switch ctor.ArgumentSlots() {
	case 0:
		return []byte{classfile.OpDup}, nil
	case 1:
		return []byte{classfile.OpDupX1, classfile.OpSwap}, nil
	case 2:
		return []byte{classfile.OpDupX2, classfile.OpDupX2, classfile.OpPop}, nil
	}
	return nil, errors.New(errors.PhaseEncoding, errors.KindUnsupported).
		Descriptor(ctor.String()).
		Detail("construction with arguments wider than two slots").Build()
}
