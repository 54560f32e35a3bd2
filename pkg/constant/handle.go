package constant

import (
	"github.com/daimatz/bytecodebuilder/pkg/descriptor"
	"github.com/daimatz/bytecodebuilder/pkg/errors"
)

// Kind is the kind of a direct method handle.
type Kind int

const (
	Static Kind = iota
	InterfaceStatic
	Virtual
	InterfaceVirtual
	Special
	InterfaceSpecial
	Constructor
	Getter
	Setter
	StaticGetter
	StaticSetter
)

// Reference kinds from the class-file format.
const (
	RefGetField         = 1
	RefGetStatic        = 2
	RefPutField         = 3
	RefPutStatic        = 4
	RefInvokeVirtual    = 5
	RefInvokeStatic     = 6
	RefInvokeSpecial    = 7
	RefNewInvokeSpecial = 8
	RefInvokeInterface  = 9
)

var kindInfo = [...]struct {
	name    string
	ref     uint8
	iface   bool
	isField bool
}{
	Static:           {"STATIC", RefInvokeStatic, false, false},
	InterfaceStatic:  {"INTERFACE_STATIC", RefInvokeStatic, true, false},
	Virtual:          {"VIRTUAL", RefInvokeVirtual, false, false},
	InterfaceVirtual: {"INTERFACE_VIRTUAL", RefInvokeInterface, true, false},
	Special:          {"SPECIAL", RefInvokeSpecial, false, false},
	InterfaceSpecial: {"INTERFACE_SPECIAL", RefInvokeSpecial, true, false},
	Constructor:      {"CONSTRUCTOR", RefNewInvokeSpecial, false, false},
	Getter:           {"GETTER", RefGetField, false, true},
	Setter:           {"SETTER", RefPutField, false, true},
	StaticGetter:     {"STATIC_GETTER", RefGetStatic, false, true},
	StaticSetter:     {"STATIC_SETTER", RefPutStatic, false, true},
}

func (k Kind) valid() bool { return k >= 0 && int(k) < len(kindInfo) }

func (k Kind) String() string {
	if !k.valid() {
		return "UNKNOWN"
	}
	return kindInfo[k].name
}

// RefKind returns the class-file reference_kind of k.
func (k Kind) RefKind() uint8 { return kindInfo[k].ref }

// IsInterface reports whether the owner of a handle of kind k is an interface.
func (k Kind) IsInterface() bool { return kindInfo[k].iface }

// IsField reports whether k accesses a field.
func (k Kind) IsField() bool { return kindInfo[k].isField }

// KindOf maps a reference_kind and interface flag back to a Kind.
func KindOf(refKind uint8, isInterface bool) (Kind, bool) {
	for k := range kindInfo {
		if kindInfo[k].ref == refKind && kindInfo[k].iface == isInterface {
			return Kind(k), true
		}
	}
	// invokeinterface is always on an interface; others may be either.
	if refKind == RefInvokeInterface {
		return InterfaceVirtual, true
	}
	return 0, false
}

// MethodHandle is a direct method handle constant. Type is the field type
// for field kinds and the method descriptor otherwise.
type MethodHandle struct {
	Kind  Kind
	Owner descriptor.Descriptor
	Name  string
	Type  descriptor.Descriptor
}

// NewMethodHandle validates the shape of a direct method handle.
func NewMethodHandle(kind Kind, owner descriptor.Descriptor, name string, typ descriptor.Descriptor) (MethodHandle, error) {
	if !kind.valid() {
		return MethodHandle{}, errors.New(errors.PhaseConstruction, errors.KindInvalidInvocationKind).
			Value(int(kind)).Detail("unknown handle kind").Build()
	}
	if !owner.IsReference() {
		return MethodHandle{}, errors.InvalidDescriptor(owner.String(), "handle owner must be a class or array type")
	}
	if kind.IsField() {
		if typ.IsMethod() || typ.IsVoid() || typ.IsZero() {
			return MethodHandle{}, errors.InvalidDescriptor(typ.String(), kind.String()+" requires a field type")
		}
	} else if !typ.IsMethod() {
		return MethodHandle{}, errors.InvalidDescriptor(typ.String(), kind.String()+" requires a method descriptor")
	}
	if kind == Constructor {
		if name != "<init>" {
			return MethodHandle{}, errors.New(errors.PhaseConstruction, errors.KindInvalidConstructorInvocation).
				Owner(owner.String()).Member(name).Descriptor(typ.String()).
				Detail("constructor handles must name <init>").Build()
		}
		if !typ.ReturnType().IsVoid() {
			return MethodHandle{}, errors.InvalidDescriptor(typ.String(), "constructor must return void")
		}
	}
	return MethodHandle{Kind: kind, Owner: owner, Name: name, Type: typ}, nil
}

// StaticMethod is shorthand for a Static handle on a class.
func StaticMethod(owner descriptor.Descriptor, name string, typ descriptor.Descriptor) (MethodHandle, error) {
	return NewMethodHandle(Static, owner, name, typ)
}

// InvocationType returns the type of the handle as a method type, with the
// receiver prepended for instance kinds.
func (h MethodHandle) InvocationType() descriptor.Descriptor {
	switch h.Kind {
	case Getter:
		return descriptor.Method(h.Type, h.Owner)
	case Setter:
		return descriptor.Method(descriptor.Void, h.Owner, h.Type)
	case StaticGetter:
		return descriptor.Method(h.Type)
	case StaticSetter:
		return descriptor.Method(descriptor.Void, h.Type)
	case Constructor:
		return h.Type.ChangeReturnType(h.Owner)
	case Static, InterfaceStatic:
		return h.Type
	}
	return h.Type.InsertParams(0, h.Owner)
}

func (h MethodHandle) String() string {
	return "MethodHandle[" + h.Kind.String() + "/" + h.Owner.String() + "::" + h.Name + h.Type.String() + "]"
}
