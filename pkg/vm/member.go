package vm

import (
	"github.com/daimatz/bytecodebuilder/pkg/classfile"
	"github.com/daimatz/bytecodebuilder/pkg/descriptor"
)

// NativeMethod implements a method in Go. args holds the receiver first
// for instance methods, then one Value per parameter.
type NativeMethod func(t *thread, args []Value) (Value, error)

// Method is a method declared by a class.
type Method struct {
	Class  *Class
	Name   string
	Desc   descriptor.Descriptor
	Access uint16
	Code   *classfile.CodeAttribute
	Native NativeMethod
}

// IsStatic reports whether the method is static.
func (m *Method) IsStatic() bool { return m.Access&classfile.AccStatic != 0 }

// IsAbstract reports whether the method is abstract.
func (m *Method) IsAbstract() bool { return m.Access&classfile.AccAbstract != 0 }

// IsPrivate reports whether the method is private.
func (m *Method) IsPrivate() bool { return m.Access&classfile.AccPrivate != 0 }

func (m *Method) String() string {
	return m.Class.name + "." + m.Name + m.Desc.String()
}

// Field is a field declared by a class.
type Field struct {
	Class         *Class
	Name          string
	Desc          descriptor.Descriptor
	Access        uint16
	ConstantValue uint16
}

// IsStatic reports whether the field is static.
func (f *Field) IsStatic() bool { return f.Access&classfile.AccStatic != 0 }

func (c *Class) declaredMethod(name, desc string) *Method {
	for _, m := range c.methods {
		if m.Name == name && m.Desc.String() == desc {
			return m
		}
	}
	return nil
}

// findMethod resolves a method reference against c: the class and its
// superclasses first, then its superinterfaces.
func (c *Class) findMethod(name, desc string) *Method {
	for k := c; k != nil; k = k.super {
		if m := k.declaredMethod(name, desc); m != nil {
			return m
		}
	}
	var abstract *Method
	for k := c; k != nil; k = k.super {
		if m := k.findInterfaceMethod(name, desc, &abstract); m != nil {
			return m
		}
	}
	return abstract
}

// findInterfaceMethod searches superinterfaces for a default method,
// remembering the first abstract match.
func (c *Class) findInterfaceMethod(name, desc string, abstract **Method) *Method {
	for _, itf := range c.interfaces {
		if m := itf.declaredMethod(name, desc); m != nil && !m.IsStatic() && !m.IsPrivate() {
			if !m.IsAbstract() {
				return m
			}
			if *abstract == nil {
				*abstract = m
			}
		}
		if m := itf.findInterfaceMethod(name, desc, abstract); m != nil {
			return m
		}
	}
	return nil
}

// selectVirtual picks the implementation of name+desc for a receiver of
// runtime class c.
func (c *Class) selectVirtual(name, desc string) *Method {
	for k := c; k != nil; k = k.super {
		if m := k.declaredMethod(name, desc); m != nil && !m.IsStatic() && !m.IsAbstract() {
			return m
		}
	}
	return c.findMethod(name, desc)
}

// findField resolves a field by name in c, its superinterfaces and its
// superclasses.
func (c *Class) findField(name string) *Field {
	for k := c; k != nil; k = k.super {
		for _, f := range k.fields {
			if f.Name == name {
				return f
			}
		}
		for _, itf := range k.interfaces {
			if f := itf.findField(name); f != nil {
				return f
			}
		}
	}
	return nil
}
