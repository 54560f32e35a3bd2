// Package invoke declares the capabilities the adapter machinery needs from
// a class host: defining hidden classes, resolving members to callable
// handles and reflecting over class hierarchies.
//
// Values cross the boundary as Go values: int32 for int, boolean, byte,
// char and short; int64, float32, float64 for the wide and floating
// primitives; string for java/lang/String; nil for null; and host objects
// for every other reference.
package invoke

import (
	"github.com/daimatz/bytecodebuilder/pkg/descriptor"
)

// ClassOption is an option for hidden class definition.
type ClassOption int

const (
	// Nestmate makes the hidden class a nestmate of the lookup class.
	Nestmate ClassOption = iota
	// Strong ties the hidden class's lifetime to its defining loader.
	Strong
)

func (o ClassOption) String() string {
	switch o {
	case Nestmate:
		return "NESTMATE"
	case Strong:
		return "STRONG"
	}
	return "UNKNOWN"
}

// MethodHandle is a typed, directly executable reference to a method,
// constructor, field access or adapter chain.
type MethodHandle interface {
	// Type is the method descriptor of the handle.
	Type() descriptor.Descriptor
	// AsType returns a handle that adapts arguments and the return value to
	// t, or an error if the two types cannot be converted.
	AsType(t descriptor.Descriptor) (MethodHandle, error)
	// InvokeExact calls the handle. The caller's view of the call, callType,
	// must equal Type.
	InvokeExact(callType descriptor.Descriptor, args ...any) (any, error)
	// Invoke calls the handle after adapting it to callType.
	Invoke(callType descriptor.Descriptor, args ...any) (any, error)
}

// Method describes a declared method.
type Method struct {
	Name  string
	Type  descriptor.Descriptor
	Flags uint16
}

const (
	accStatic   = 0x0008
	accAbstract = 0x0400
)

// IsStatic reports whether the method is static.
func (m Method) IsStatic() bool { return m.Flags&accStatic != 0 }

// IsAbstract reports whether the method is abstract.
func (m Method) IsAbstract() bool { return m.Flags&accAbstract != 0 }

// Class is a loaded class as seen through reflection.
type Class interface {
	// Name is the internal name.
	Name() string
	Descriptor() descriptor.Descriptor
	IsInterface() bool
	// Superclass returns nil for java/lang/Object and for interfaces.
	Superclass() Class
	Interfaces() []Class
	DeclaredMethods() []Method
}

// Lookup defines classes and resolves members on behalf of its lookup class.
type Lookup interface {
	// LookupClass is the class whose access rights the lookup carries.
	LookupClass() Class
	// FindClass loads the class named by t.
	FindClass(t descriptor.Descriptor) (Class, error)
	// DefineHiddenClass defines bytes as a hidden class in the lookup
	// class's package and returns a lookup on it.
	DefineHiddenClass(bytes []byte, initialize bool, opts ...ClassOption) (Lookup, error)
	// DefineHiddenClassWithClassData is DefineHiddenClass with data
	// attached as the class data.
	DefineHiddenClassWithClassData(bytes []byte, data any, initialize bool, opts ...ClassOption) (Lookup, error)
	// FindStaticGetter returns a handle reading the static field owner.name.
	FindStaticGetter(owner descriptor.Descriptor, name string, t descriptor.Descriptor) (MethodHandle, error)
	// FindConstructor returns a handle that allocates and initializes owner.
	// t must return void; the handle returns the new instance.
	FindConstructor(owner descriptor.Descriptor, t descriptor.Descriptor) (MethodHandle, error)
	// FindStatic returns a handle for the static method owner.name.
	FindStatic(owner descriptor.Descriptor, name string, t descriptor.Descriptor) (MethodHandle, error)
	// FindVirtual returns a handle for the instance method owner.name. The
	// handle takes the receiver as its first argument.
	FindVirtual(owner descriptor.Descriptor, name string, t descriptor.Descriptor) (MethodHandle, error)
}
