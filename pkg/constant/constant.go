// Package constant models loadable class-file constants: numeric and string
// literals, type tokens, direct method handles and dynamic constants.
package constant

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/daimatz/bytecodebuilder/pkg/descriptor"
	"github.com/daimatz/bytecodebuilder/pkg/errors"
)

// Constant is a loadable constant. The set of implementations is closed.
type Constant interface {
	fmt.Stringer
	loadable()
}

// Int is an int constant.
type Int int32

// Long is a long constant.
type Long int64

// Float is a float constant.
type Float float32

// Double is a double constant.
type Double float64

// String is a string constant.
type String string

// Type is a class or method type token.
type Type struct {
	Desc descriptor.Descriptor
}

func (Int) loadable()          {}
func (Long) loadable()         {}
func (Float) loadable()        {}
func (Double) loadable()       {}
func (String) loadable()       {}
func (Type) loadable()         {}
func (MethodHandle) loadable() {}
func (Dynamic) loadable()      {}

func (c Int) String() string    { return strconv.FormatInt(int64(c), 10) }
func (c Long) String() string   { return strconv.FormatInt(int64(c), 10) + "L" }
func (c Float) String() string  { return strconv.FormatFloat(float64(c), 'g', -1, 32) + "f" }
func (c Double) String() string { return strconv.FormatFloat(float64(c), 'g', -1, 64) + "d" }
func (c String) String() string { return strconv.Quote(string(c)) }
func (c Type) String() string   { return c.Desc.String() }

// Bool is the int constant 1 or 0.
func Bool(v bool) Int {
	if v {
		return 1
	}
	return 0
}

// Byte widens a byte to an int constant.
func Byte(v int8) Int { return Int(v) }

// Short widens a short to an int constant.
func Short(v int16) Int { return Int(v) }

// Char widens a char to an int constant.
func Char(v uint16) Int { return Int(v) }

// ClassOf returns the class token for d. Primitive types have no class
// constant of their own and are loaded through the primitiveClass bootstrap.
func ClassOf(d descriptor.Descriptor) Constant {
	if d.IsPrimitive() {
		return PrimitiveClass(d)
	}
	return Type{Desc: d}
}

// MethodTypeOf returns the method type token for a method descriptor.
func MethodTypeOf(d descriptor.Descriptor) (Type, error) {
	if !d.IsMethod() {
		return Type{}, errors.InvalidDescriptor(d.String(), "method type requires a method descriptor")
	}
	return Type{Desc: d}, nil
}

// Dynamic is a dynamically-computed constant.
type Dynamic struct {
	Name      string
	Type      descriptor.Descriptor
	Bootstrap MethodHandle
	Args      []Constant
}

// NewDynamic validates and returns a dynamic constant.
func NewDynamic(name string, typ descriptor.Descriptor, bsm MethodHandle, args ...Constant) (Dynamic, error) {
	if name == "" {
		return Dynamic{}, errors.New(errors.PhaseConstruction, errors.KindInvalidArgument).
			Detail("dynamic constant name must not be empty").Build()
	}
	if typ.IsMethod() || typ.IsVoid() || typ.IsZero() {
		return Dynamic{}, errors.InvalidDescriptor(typ.String(), "dynamic constant requires a field type")
	}
	if bsm.Kind != Static && bsm.Kind != InterfaceStatic && bsm.Kind != Constructor {
		return Dynamic{}, errors.New(errors.PhaseConstruction, errors.KindInvalidInvocationKind).
			Owner(bsm.Owner.String()).Member(bsm.Name).
			Detail("bootstrap must be a static method or constructor, got %s", bsm.Kind).Build()
	}
	return Dynamic{Name: name, Type: typ, Bootstrap: bsm, Args: args}, nil
}

func (c Dynamic) String() string {
	var b strings.Builder
	b.WriteString("Dynamic[")
	b.WriteString(c.Bootstrap.Name)
	b.WriteByte('/')
	b.WriteString(c.Name)
	b.WriteByte(':')
	b.WriteString(c.Type.String())
	for _, a := range c.Args {
		b.WriteString(", ")
		b.WriteString(a.String())
	}
	b.WriteByte(']')
	return b.String()
}

// TypeOf returns the descriptor of the value a constant pushes when loaded.
func TypeOf(c Constant) descriptor.Descriptor {
	switch c := c.(type) {
	case Int:
		return descriptor.Int
	case Long:
		return descriptor.Long
	case Float:
		return descriptor.Float
	case Double:
		return descriptor.Double
	case String:
		return descriptor.String
	case Type:
		if c.Desc.IsMethod() {
			return descriptor.MethodType
		}
		return descriptor.ClassType
	case MethodHandle:
		return descriptor.MethodHandle
	case Dynamic:
		return c.Type
	}
	return descriptor.Descriptor{}
}

// IsWide reports whether a constant occupies two stack slots and needs ldc2_w.
func IsWide(c Constant) bool {
	return TypeOf(c).Size() == 2
}
