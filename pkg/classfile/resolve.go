package classfile

import (
	"fmt"

	"github.com/daimatz/bytecodebuilder/pkg/constant"
	"github.com/daimatz/bytecodebuilder/pkg/descriptor"
)

// MemberRef holds a resolved field, method or interface method reference.
type MemberRef struct {
	ClassName  string
	Name       string
	Descriptor string
	Interface  bool
}

func entryAt(pool []ConstantPoolEntry, index uint16) (ConstantPoolEntry, error) {
	if int(index) >= len(pool) || pool[index] == nil {
		return nil, fmt.Errorf("invalid constant pool index %d", index)
	}
	return pool[index], nil
}

// ResolveNameAndType resolves a CONSTANT_NameAndType entry.
func ResolveNameAndType(pool []ConstantPoolEntry, index uint16) (name, desc string, err error) {
	e, err := entryAt(pool, index)
	if err != nil {
		return "", "", err
	}
	nat, ok := e.(*ConstantNameAndType)
	if !ok {
		return "", "", fmt.Errorf("constant pool index %d is not NameAndType", index)
	}
	if name, err = GetUtf8(pool, nat.NameIndex); err != nil {
		return "", "", fmt.Errorf("resolving name: %w", err)
	}
	if desc, err = GetUtf8(pool, nat.DescriptorIndex); err != nil {
		return "", "", fmt.Errorf("resolving descriptor: %w", err)
	}
	return name, desc, nil
}

func resolveMember(pool []ConstantPoolEntry, index uint16, tags ...uint8) (*MemberRef, error) {
	e, err := entryAt(pool, index)
	if err != nil {
		return nil, err
	}
	var classIndex, natIndex uint16
	switch ref := e.(type) {
	case *ConstantFieldref:
		classIndex, natIndex = ref.ClassIndex, ref.NameAndTypeIndex
	case *ConstantMethodref:
		classIndex, natIndex = ref.ClassIndex, ref.NameAndTypeIndex
	case *ConstantInterfaceMethodref:
		classIndex, natIndex = ref.ClassIndex, ref.NameAndTypeIndex
	}
	matched := false
	for _, tag := range tags {
		if e.Tag() == tag {
			matched = true
		}
	}
	if !matched {
		return nil, fmt.Errorf("constant pool index %d has unexpected tag %d", index, e.Tag())
	}

	className, err := GetClassName(pool, classIndex)
	if err != nil {
		return nil, fmt.Errorf("resolving member class: %w", err)
	}
	name, desc, err := ResolveNameAndType(pool, natIndex)
	if err != nil {
		return nil, fmt.Errorf("resolving member %s: %w", className, err)
	}
	return &MemberRef{
		ClassName:  className,
		Name:       name,
		Descriptor: desc,
		Interface:  e.Tag() == TagInterfaceMethodref,
	}, nil
}

// ResolveMethodref resolves a CONSTANT_Methodref entry.
func ResolveMethodref(pool []ConstantPoolEntry, index uint16) (*MemberRef, error) {
	return resolveMember(pool, index, TagMethodref)
}

// ResolveInterfaceMethodref resolves a CONSTANT_InterfaceMethodref entry.
func ResolveInterfaceMethodref(pool []ConstantPoolEntry, index uint16) (*MemberRef, error) {
	return resolveMember(pool, index, TagInterfaceMethodref)
}

// ResolveAnyMethodref resolves either kind of method reference, as used by
// invokestatic and invokespecial.
func ResolveAnyMethodref(pool []ConstantPoolEntry, index uint16) (*MemberRef, error) {
	return resolveMember(pool, index, TagMethodref, TagInterfaceMethodref)
}

// ResolveFieldref resolves a CONSTANT_Fieldref entry.
func ResolveFieldref(pool []ConstantPoolEntry, index uint16) (*MemberRef, error) {
	return resolveMember(pool, index, TagFieldref)
}

// DynamicRef holds a resolved CONSTANT_Dynamic or CONSTANT_InvokeDynamic.
type DynamicRef struct {
	BootstrapIndex uint16
	Name           string
	Descriptor     string
}

// ResolveDynamic resolves a dynamic constant or invokedynamic call site entry.
func ResolveDynamic(pool []ConstantPoolEntry, index uint16) (*DynamicRef, error) {
	e, err := entryAt(pool, index)
	if err != nil {
		return nil, err
	}
	var bsm, nat uint16
	switch d := e.(type) {
	case *ConstantDynamic:
		bsm, nat = d.BootstrapMethodAttrIndex, d.NameAndTypeIndex
	case *ConstantInvokeDynamic:
		bsm, nat = d.BootstrapMethodAttrIndex, d.NameAndTypeIndex
	default:
		return nil, fmt.Errorf("constant pool index %d is not Dynamic", index)
	}
	name, desc, err := ResolveNameAndType(pool, nat)
	if err != nil {
		return nil, err
	}
	return &DynamicRef{BootstrapIndex: bsm, Name: name, Descriptor: desc}, nil
}

// ResolveMethodHandle resolves a CONSTANT_MethodHandle entry.
func ResolveMethodHandle(pool []ConstantPoolEntry, index uint16) (constant.MethodHandle, error) {
	e, err := entryAt(pool, index)
	if err != nil {
		return constant.MethodHandle{}, err
	}
	mh, ok := e.(*ConstantMethodHandle)
	if !ok {
		return constant.MethodHandle{}, fmt.Errorf("constant pool index %d is not MethodHandle", index)
	}
	ref, err := resolveMember(pool, mh.ReferenceIndex, TagFieldref, TagMethodref, TagInterfaceMethodref)
	if err != nil {
		return constant.MethodHandle{}, fmt.Errorf("resolving MethodHandle reference: %w", err)
	}
	kind, ok := constant.KindOf(mh.ReferenceKind, ref.Interface)
	if !ok {
		return constant.MethodHandle{}, fmt.Errorf("invalid reference kind %d at index %d", mh.ReferenceKind, index)
	}
	typ, err := descriptor.Of(ref.Descriptor)
	if err != nil {
		return constant.MethodHandle{}, err
	}
	return constant.MethodHandle{
		Kind:  kind,
		Owner: descriptor.Class(ref.ClassName),
		Name:  ref.Name,
		Type:  typ,
	}, nil
}

// Loadable converts the loadable pool entry at index into a Constant.
// Dynamic entries are resolved recursively through the bootstrap table.
func (cf *ClassFile) Loadable(index uint16) (constant.Constant, error) {
	return cf.loadable(index, 0)
}

func (cf *ClassFile) loadable(index uint16, depth int) (constant.Constant, error) {
	if depth > 64 {
		return nil, fmt.Errorf("dynamic constant nesting too deep at index %d", index)
	}
	e, err := entryAt(cf.ConstantPool, index)
	if err != nil {
		return nil, err
	}
	switch c := e.(type) {
	case *ConstantInteger:
		return constant.Int(c.Value), nil
	case *ConstantLong:
		return constant.Long(c.Value), nil
	case *ConstantFloat:
		return constant.Float(c.Value), nil
	case *ConstantDouble:
		return constant.Double(c.Value), nil
	case *ConstantString:
		s, err := GetUtf8(cf.ConstantPool, c.StringIndex)
		if err != nil {
			return nil, err
		}
		return constant.String(s), nil
	case *ConstantClass:
		name, err := GetUtf8(cf.ConstantPool, c.NameIndex)
		if err != nil {
			return nil, err
		}
		return constant.Type{Desc: descriptor.Class(name)}, nil
	case *ConstantMethodType:
		s, err := GetUtf8(cf.ConstantPool, c.DescriptorIndex)
		if err != nil {
			return nil, err
		}
		d, err := descriptor.Of(s)
		if err != nil {
			return nil, err
		}
		return constant.Type{Desc: d}, nil
	case *ConstantMethodHandle:
		return ResolveMethodHandle(cf.ConstantPool, index)
	case *ConstantDynamic:
		ref, err := ResolveDynamic(cf.ConstantPool, index)
		if err != nil {
			return nil, err
		}
		if int(ref.BootstrapIndex) >= len(cf.BootstrapMethods) {
			return nil, fmt.Errorf("bootstrap method index %d out of range", ref.BootstrapIndex)
		}
		bm := cf.BootstrapMethods[ref.BootstrapIndex]
		bsm, err := ResolveMethodHandle(cf.ConstantPool, bm.MethodRef)
		if err != nil {
			return nil, fmt.Errorf("resolving bootstrap method: %w", err)
		}
		typ, err := descriptor.Of(ref.Descriptor)
		if err != nil {
			return nil, err
		}
		args := make([]constant.Constant, len(bm.BootstrapArguments))
		for i, argIndex := range bm.BootstrapArguments {
			if args[i], err = cf.loadable(argIndex, depth+1); err != nil {
				return nil, fmt.Errorf("resolving bootstrap argument %d: %w", i, err)
			}
		}
		return constant.Dynamic{Name: ref.Name, Type: typ, Bootstrap: bsm, Args: args}, nil
	}
	return nil, fmt.Errorf("constant pool index %d (tag %d) is not loadable", index, e.Tag())
}
