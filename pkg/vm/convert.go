package vm

import (
	"fmt"
	"math"
	"strconv"

	"github.com/daimatz/bytecodebuilder/pkg/descriptor"
	"github.com/daimatz/bytecodebuilder/pkg/errors"
	"github.com/daimatz/bytecodebuilder/pkg/native"
)

// box converts a primitive value of type p to its Go representation as a
// wrapper object.
func box(p descriptor.Descriptor, v Value) any {
	switch p.Sort() {
	case descriptor.SortBoolean:
		return v.Int != 0
	case descriptor.SortByte:
		return int8(v.Int)
	case descriptor.SortChar:
		return uint16(v.Int)
	case descriptor.SortShort:
		return int16(v.Int)
	case descriptor.SortInt:
		return v.Int
	case descriptor.SortLong:
		return v.Long
	case descriptor.SortFloat:
		return v.Float
	case descriptor.SortDouble:
		return v.Double
	}
	return nil
}

// unbox returns the primitive value and type of a wrapper object.
func unbox(ref any) (Value, descriptor.Descriptor, bool) {
	switch r := ref.(type) {
	case int32:
		return IntValue(r), descriptor.Int, true
	case int64:
		return LongValue(r), descriptor.Long, true
	case float32:
		return FloatValue(r), descriptor.Float, true
	case float64:
		return DoubleValue(r), descriptor.Double, true
	case bool:
		return boolValue(r), descriptor.Boolean, true
	case int8:
		return IntValue(int32(r)), descriptor.Byte, true
	case int16:
		return IntValue(int32(r)), descriptor.Short, true
	case uint16:
		return IntValue(int32(r)), descriptor.Char, true
	}
	return Value{}, descriptor.Descriptor{}, false
}

var widenings = map[descriptor.Sort][]descriptor.Sort{
	descriptor.SortByte:  {descriptor.SortShort, descriptor.SortInt, descriptor.SortLong, descriptor.SortFloat, descriptor.SortDouble},
	descriptor.SortShort: {descriptor.SortInt, descriptor.SortLong, descriptor.SortFloat, descriptor.SortDouble},
	descriptor.SortChar:  {descriptor.SortInt, descriptor.SortLong, descriptor.SortFloat, descriptor.SortDouble},
	descriptor.SortInt:   {descriptor.SortLong, descriptor.SortFloat, descriptor.SortDouble},
	descriptor.SortLong:  {descriptor.SortFloat, descriptor.SortDouble},
	descriptor.SortFloat: {descriptor.SortDouble},
}

// canWiden reports whether from converts to to by identity or primitive
// widening.
func canWiden(from, to descriptor.Descriptor) bool {
	if from == to {
		return true
	}
	for _, s := range widenings[from.Sort()] {
		if s == to.Sort() {
			return true
		}
	}
	return false
}

func d2i(f float64) int32 {
	switch {
	case math.IsNaN(f):
		return 0
	case f >= math.MaxInt32:
		return math.MaxInt32
	case f <= math.MinInt32:
		return math.MinInt32
	}
	return int32(f)
}

func d2l(f float64) int64 {
	switch {
	case math.IsNaN(f):
		return 0
	case f >= math.MaxInt64:
		return math.MaxInt64
	case f <= math.MinInt64:
		return math.MinInt64
	}
	return int64(f)
}

// explicitConvert applies a primitive casting conversion. Conversions to
// boolean keep the low-order bit.
func explicitConvert(v Value, from, to descriptor.Descriptor) Value {
	var (
		i       int64
		f       float64
		isFloat bool
	)
	switch from.Sort() {
	case descriptor.SortLong:
		i = v.Long
	case descriptor.SortFloat:
		f, isFloat = float64(v.Float), true
	case descriptor.SortDouble:
		f, isFloat = v.Double, true
	default:
		i = int64(v.Int)
	}
	asInt := func() int32 {
		if isFloat {
			return d2i(f)
		}
		return int32(i)
	}
	switch to.Sort() {
	case descriptor.SortBoolean:
		return IntValue(asInt() & 1)
	case descriptor.SortByte:
		return IntValue(int32(int8(asInt())))
	case descriptor.SortChar:
		return IntValue(int32(uint16(asInt())))
	case descriptor.SortShort:
		return IntValue(int32(int16(asInt())))
	case descriptor.SortInt:
		return IntValue(asInt())
	case descriptor.SortLong:
		if isFloat {
			return LongValue(d2l(f))
		}
		return LongValue(i)
	case descriptor.SortFloat:
		if isFloat {
			return FloatValue(float32(f))
		}
		return FloatValue(float32(i))
	case descriptor.SortDouble:
		if isFloat {
			return DoubleValue(f)
		}
		return DoubleValue(float64(i))
	}
	return v
}

// ToValue converts a Go value to a Value of type t. Primitive types accept
// any Go number or wrapper that widens to t; reference types accept any
// value, with a plain int standing for an Integer.
func ToValue(t descriptor.Descriptor, x any) (Value, error) {
	if v, ok := x.(Value); ok {
		return v, nil
	}
	if n, ok := x.(int); ok {
		x = int32(n)
	}
	if t.IsVoid() {
		return Value{}, nil
	}
	if !t.IsPrimitive() {
		return RefValue(x), nil
	}
	v, from, ok := unbox(x)
	if !ok {
		return Value{}, errors.New(errors.PhaseRuntime, errors.KindClassCast).
			Descriptor(t.String()).Value(fmt.Sprintf("%T", x)).
			Detail("cannot convert to primitive").Build()
	}
	if canWiden(from, t) || (from.IsIntLike() && t.IsIntLike()) {
		return explicitConvert(v, from, t), nil
	}
	return Value{}, errors.New(errors.PhaseRuntime, errors.KindClassCast).
		Descriptor(t.String()).Value(fmt.Sprintf("%T", x)).
		Detail("cannot convert %s to %s", from, t).Build()
}

// FromValue converts a Value of type t to its Go representation.
func FromValue(t descriptor.Descriptor, v Value) any {
	switch t.Sort() {
	case descriptor.SortVoid:
		return nil
	case descriptor.SortBoolean, descriptor.SortByte, descriptor.SortChar, descriptor.SortShort, descriptor.SortInt:
		return v.Int
	case descriptor.SortLong:
		return v.Long
	case descriptor.SortFloat:
		return v.Float
	case descriptor.SortDouble:
		return v.Double
	}
	if v.IsNull() {
		return nil
	}
	return v.Ref
}

// anyOf converts a Value to its Go representation by its own type tag.
func anyOf(v Value) any {
	switch v.Type {
	case TypeInt:
		return v.Int
	case TypeLong:
		return v.Long
	case TypeFloat:
		return v.Float
	case TypeDouble:
		return v.Double
	case TypeRef:
		return v.Ref
	}
	return nil
}

// convertible reports whether a method type conversion from from to to
// is permitted, possibly with a check at call time.
func (vm *VM) convertible(from, to descriptor.Descriptor) bool {
	switch {
	case from == to:
		return true
	case from.IsVoid() || to.IsVoid():
		return false
	case from.IsPrimitive() && to.IsPrimitive():
		return canWiden(from, to)
	case from.IsPrimitive():
		b, _ := from.BoxType()
		return vm.isAssignable(b, to)
	case to.IsPrimitive():
		if p, ok := from.UnboxType(); ok {
			return canWiden(p, to)
		}
		return true
	}
	return true
}

// convert applies a permitted conversion at call time.
func (vm *VM) convert(v Value, from, to descriptor.Descriptor) (Value, error) {
	switch {
	case from == to:
		return v, nil
	case from.IsPrimitive() && to.IsPrimitive():
		return explicitConvert(v, from, to), nil
	case from.IsPrimitive():
		return RefValue(box(from, v)), nil
	case to.IsPrimitive():
		if v.IsNull() {
			return Value{}, vm.NewJavaException("java/lang/NullPointerException", "cannot unbox null to %s", to.DisplayName())
		}
		p, pt, ok := unbox(v.Ref)
		if !ok || !canWiden(pt, to) {
			return Value{}, vm.NewJavaException("java/lang/ClassCastException", "%T cannot be converted to %s", v.Ref, to.DisplayName())
		}
		return explicitConvert(p, pt, to), nil
	}
	if v.IsNull() || vm.isAssignable(from, to) {
		return v, nil
	}
	name, _ := to.InternalName()
	ok, err := vm.isInstance(nil, v.Ref, name)
	if err != nil {
		return Value{}, err
	}
	if !ok {
		return Value{}, vm.NewJavaException("java/lang/ClassCastException", "%s cannot be cast to %s", vm.describe(v.Ref), to.DisplayName())
	}
	return v, nil
}

// castConstant applies the explicitCast bootstrap conversion: reference
// casts, primitive casts and boxing or unboxing between them.
func (vm *VM) castConstant(v Value, from, to descriptor.Descriptor) (Value, error) {
	switch {
	case from.IsPrimitive() && to.IsPrimitive():
		return explicitConvert(v, from, to), nil
	case to.IsPrimitive():
		if v.IsNull() {
			return zeroValue(to), nil
		}
		p, pt, ok := unbox(v.Ref)
		if !ok {
			return Value{}, vm.NewJavaException("java/lang/ClassCastException", "%s cannot be converted to %s", vm.describe(v.Ref), to.DisplayName())
		}
		return explicitConvert(p, pt, to), nil
	}
	return vm.convert(v, from, to)
}

func (vm *VM) describe(ref any) string {
	if c, err := vm.classOf(ref); err == nil {
		return c.DisplayName()
	}
	return fmt.Sprintf("%T", ref)
}

// stringOf renders a reference the way String.valueOf(Object) does.
func (vm *VM) stringOf(t *thread, v Value) (string, error) {
	if v.IsNull() {
		return "null", nil
	}
	if s, ok := native.Format(v.Ref); ok {
		return s, nil
	}
	if obj, ok := v.Ref.(*JObject); ok {
		m := obj.Class.selectVirtual("toString", "()Ljava/lang/String;")
		if m == nil {
			return obj.String(), nil
		}
		r, err := vm.invoke(t, m, []Value{v})
		if err != nil {
			return "", err
		}
		s, _ := r.Ref.(string)
		if r.IsNull() {
			s = "null"
		}
		return s, nil
	}
	return fmt.Sprint(v.Ref), nil
}

// formatTyped renders a value of static type typ for printing and string
// concatenation.
func (vm *VM) formatTyped(t *thread, v Value, typ descriptor.Descriptor) (string, error) {
	switch typ.Sort() {
	case descriptor.SortInt, descriptor.SortByte, descriptor.SortShort:
		return strconv.FormatInt(int64(v.Int), 10), nil
	case descriptor.SortBoolean:
		return native.FormatBool(v.Int != 0), nil
	case descriptor.SortChar:
		return native.FormatChar(uint16(v.Int)), nil
	case descriptor.SortLong:
		return strconv.FormatInt(v.Long, 10), nil
	case descriptor.SortFloat:
		return native.FormatFloat(v.Float), nil
	case descriptor.SortDouble:
		return native.FormatDouble(v.Double), nil
	}
	return vm.stringOf(t, v)
}
