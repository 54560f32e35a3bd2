// Package classmodel is a structured class builder. Classes, fields,
// methods and code bodies are described as values and encoded in one
// pass by Build.
package classmodel

import (
	"fmt"

	"github.com/daimatz/bytecodebuilder/pkg/bytecode"
	"github.com/daimatz/bytecodebuilder/pkg/classfile"
	"github.com/daimatz/bytecodebuilder/pkg/constant"
	"github.com/daimatz/bytecodebuilder/pkg/descriptor"
	"github.com/daimatz/bytecodebuilder/pkg/errors"
)

// DefaultVersion is the class-file major version used when none is set.
const DefaultVersion = 65

// ClassBuilder collects the parts of one class.
type ClassBuilder struct {
	name       string
	version    uint16
	flags      uint16
	super      string
	interfaces []string
	signature  string
	fields     []*FieldBuilder
	methods    []*MethodBuilder
	attributes []classfile.AttributeInfo
	err        error
}

// FieldBuilder describes one field.
type FieldBuilder struct {
	name       string
	desc       descriptor.Descriptor
	flags      uint16
	signature  string
	value      constant.Constant
	attributes []classfile.AttributeInfo
}

// MethodBuilder describes one method.
type MethodBuilder struct {
	owner      string
	name       string
	desc       descriptor.Descriptor
	flags      uint16
	signature  string
	exceptions []string
	attributes []classfile.AttributeInfo
	code       *CodeModel
	err        error
}

// Build runs fn against a fresh ClassBuilder for name and encodes the result.
func Build(name string, fn func(*ClassBuilder)) ([]byte, error) {
	b := &ClassBuilder{
		name:    name,
		version: DefaultVersion,
		super:   "java/lang/Object",
	}
	fn(b)
	return b.encode()
}

func (b *ClassBuilder) setErr(err error) {
	if b.err == nil && err != nil {
		b.err = err
	}
}

// WithVersion sets the major version.
func (b *ClassBuilder) WithVersion(major uint16) *ClassBuilder {
	b.version = major
	return b
}

// WithFlags sets the class access flags.
func (b *ClassBuilder) WithFlags(flags uint16) *ClassBuilder {
	b.flags = flags
	return b
}

// WithSuperclass sets the superclass internal name.
func (b *ClassBuilder) WithSuperclass(name string) *ClassBuilder {
	b.super = name
	return b
}

// WithInterfaces sets the implemented interfaces.
func (b *ClassBuilder) WithInterfaces(names ...string) *ClassBuilder {
	b.interfaces = append([]string(nil), names...)
	return b
}

// WithSignature sets the generic class signature.
func (b *ClassBuilder) WithSignature(sig string) *ClassBuilder {
	b.signature = sig
	return b
}

// WithAttribute appends a raw class attribute.
func (b *ClassBuilder) WithAttribute(name string, data []byte) *ClassBuilder {
	b.attributes = append(b.attributes, classfile.AttributeInfo{Name: name, Data: data})
	return b
}

// WithField adds a field.
func (b *ClassBuilder) WithField(name string, desc descriptor.Descriptor, flags uint16, fn func(*FieldBuilder)) *ClassBuilder {
	f := &FieldBuilder{name: name, desc: desc, flags: flags}
	if fn != nil {
		fn(f)
	}
	b.fields = append(b.fields, f)
	return b
}

// WithMethod adds a method.
func (b *ClassBuilder) WithMethod(name string, desc descriptor.Descriptor, flags uint16, fn func(*MethodBuilder)) *ClassBuilder {
	m := &MethodBuilder{owner: b.name, name: name, desc: desc, flags: flags}
	if fn != nil {
		fn(m)
	}
	b.setErr(m.err)
	b.methods = append(b.methods, m)
	return b
}

// WithSignature sets the generic field signature.
func (f *FieldBuilder) WithSignature(sig string) *FieldBuilder {
	f.signature = sig
	return f
}

// WithConstantValue sets the ConstantValue attribute.
func (f *FieldBuilder) WithConstantValue(c constant.Constant) *FieldBuilder {
	f.value = c
	return f
}

// WithAttribute appends a raw field attribute.
func (f *FieldBuilder) WithAttribute(name string, data []byte) *FieldBuilder {
	f.attributes = append(f.attributes, classfile.AttributeInfo{Name: name, Data: data})
	return f
}

// WithSignature sets the generic method signature.
func (m *MethodBuilder) WithSignature(sig string) *MethodBuilder {
	m.signature = sig
	return m
}

// WithExceptions sets the checked exceptions.
func (m *MethodBuilder) WithExceptions(names ...string) *MethodBuilder {
	m.exceptions = append([]string(nil), names...)
	return m
}

// WithAttribute appends a raw method attribute.
func (m *MethodBuilder) WithAttribute(name string, data []byte) *MethodBuilder {
	m.attributes = append(m.attributes, classfile.AttributeInfo{Name: name, Data: data})
	return m
}

// WithCode records the method body.
func (m *MethodBuilder) WithCode(fn func(*CodeBuilder)) *MethodBuilder {
	cb := &CodeBuilder{}
	fn(cb)
	if cb.err != nil && m.err == nil {
		m.err = cb.err
	}
	m.code = &CodeModel{Instructions: cb.insns}
	return m
}

func (b *ClassBuilder) encode() ([]byte, error) {
	if b.err != nil {
		return nil, b.err
	}
	pool := classfile.NewPoolBuilder()
	cf := &classfile.ClassFile{
		MajorVersion: b.version,
		AccessFlags:  b.flags,
		ThisClass:    pool.Class(b.name),
		Attributes:   append([]classfile.AttributeInfo(nil), b.attributes...),
	}
	if b.super != "" {
		cf.SuperClass = pool.Class(b.super)
	}
	for _, i := range b.interfaces {
		cf.Interfaces = append(cf.Interfaces, pool.Class(i))
	}
	if b.signature != "" {
		cf.Attributes = append(cf.Attributes, classfile.AttributeInfo{
			Name: classfile.AttrSignature,
			Data: u2(pool.Utf8(b.signature)),
		})
	}
	for _, f := range b.fields {
		info := classfile.FieldInfo{
			AccessFlags: f.flags,
			Name:        f.name,
			Descriptor:  f.desc.String(),
			Signature:   f.signature,
			Attributes:  f.attributes,
		}
		if f.value != nil {
			info.ConstantValue = pool.Loadable(f.value)
		}
		cf.Fields = append(cf.Fields, info)
	}
	for _, m := range b.methods {
		info := classfile.MethodInfo{
			AccessFlags: m.flags,
			Name:        m.name,
			Descriptor:  m.desc.String(),
			Signature:   m.signature,
			Exceptions:  m.exceptions,
			Attributes:  m.attributes,
		}
		if m.code != nil {
			code, err := m.code.Lower(pool, bytecode.Method{
				Owner:  b.name,
				Name:   m.name,
				Desc:   m.desc,
				Static: m.flags&classfile.AccStatic != 0,
			})
			if err != nil {
				return nil, fmt.Errorf("method %s%s: %w", m.name, m.desc, err)
			}
			info.Code = code
		}
		cf.Methods = append(cf.Methods, info)
	}
	data, err := classfile.Encode(cf, pool)
	if err != nil {
		return nil, errors.New(errors.PhaseEncoding, errors.KindUnsupported).
			Owner(b.name).Cause(err).Detail("encoding class").Build()
	}
	return data, nil
}

func u2(v uint16) []byte { return []byte{byte(v >> 8), byte(v)} }
