// Package classwriter is a visitor-style class writer. Callers visit the
// class header, then each field and method, then VisitEnd; instructions
// are encoded as they are visited.
package classwriter

import (
	"fortio.org/safecast"

	"github.com/daimatz/bytecodebuilder/pkg/classfile"
	"github.com/daimatz/bytecodebuilder/pkg/constant"
	"github.com/daimatz/bytecodebuilder/pkg/descriptor"
	"github.com/daimatz/bytecodebuilder/pkg/errors"
)

// ClassWriter streams one class into the binary format.
type ClassWriter struct {
	pool  *classfile.PoolBuilder
	cf    classfile.ClassFile
	name  string
	ended bool
	data  []byte
	err   error
}

// NewClassWriter returns an empty writer.
func NewClassWriter() *ClassWriter {
	return &ClassWriter{pool: classfile.NewPoolBuilder()}
}

func (w *ClassWriter) setErr(err error) {
	if w.err == nil && err != nil {
		w.err = err
	}
}

func (w *ClassWriter) u2(v int, what string) uint16 {
	n, err := safecast.Conv[uint16](v)
	if err != nil {
		w.setErr(errors.Overflow(errors.PhaseEncoding, v, what))
	}
	return n
}

// Visit writes the class header. superName is empty only for java/lang/Object.
func (w *ClassWriter) Visit(version, access int, name, signature, superName string, interfaces []string) {
	w.name = name
	w.cf.MajorVersion = w.u2(version, "class version")
	w.cf.AccessFlags = w.u2(access, "class access flags")
	w.cf.ThisClass = w.pool.Class(name)
	if superName != "" {
		w.cf.SuperClass = w.pool.Class(superName)
	}
	for _, i := range interfaces {
		w.cf.Interfaces = append(w.cf.Interfaces, w.pool.Class(i))
	}
	if signature != "" {
		sig := w.pool.Utf8(signature)
		w.cf.Attributes = append(w.cf.Attributes, classfile.AttributeInfo{
			Name: classfile.AttrSignature,
			Data: []byte{byte(sig >> 8), byte(sig)},
		})
	}
}

// VisitAttribute appends a raw class attribute.
func (w *ClassWriter) VisitAttribute(name string, data []byte) {
	w.cf.Attributes = append(w.cf.Attributes, classfile.AttributeInfo{Name: name, Data: data})
}

// VisitField starts a field. value, if non-nil, becomes its ConstantValue.
func (w *ClassWriter) VisitField(access int, name, desc, signature string, value constant.Constant) *FieldWriter {
	f := &FieldWriter{
		owner: w,
		info: classfile.FieldInfo{
			AccessFlags: w.u2(access, "field access flags"),
			Name:        name,
			Descriptor:  desc,
			Signature:   signature,
		},
	}
	if value != nil {
		f.info.ConstantValue = w.pool.Loadable(value)
	}
	return f
}

// VisitMethod starts a method.
func (w *ClassWriter) VisitMethod(access int, name, desc, signature string, exceptions []string) *MethodWriter {
	m := &MethodWriter{
		owner: w,
		info: classfile.MethodInfo{
			AccessFlags: w.u2(access, "method access flags"),
			Name:        name,
			Descriptor:  desc,
			Signature:   signature,
			Exceptions:  exceptions,
		},
	}
	d, err := descriptor.Of(desc)
	if err != nil || !d.IsMethod() {
		m.setErr(errors.InvalidDescriptor(desc, "not a method descriptor"))
		return m
	}
	m.desc = d
	return m
}

// VisitEnd encodes the class. Bytes returns the result.
func (w *ClassWriter) VisitEnd() {
	if w.ended {
		return
	}
	w.ended = true
	if w.err != nil {
		return
	}
	data, err := classfile.Encode(&w.cf, w.pool)
	if err != nil {
		w.setErr(errors.New(errors.PhaseEncoding, errors.KindUnsupported).
			Owner(w.name).Cause(err).Detail("encoding class").Build())
		return
	}
	w.data = data
}

// Bytes returns the encoded class, calling VisitEnd if needed.
func (w *ClassWriter) Bytes() ([]byte, error) {
	w.VisitEnd()
	if w.err != nil {
		return nil, w.err
	}
	return w.data, nil
}

// FieldWriter receives the attributes of one field.
type FieldWriter struct {
	owner *ClassWriter
	info  classfile.FieldInfo
	ended bool
}

// VisitAttribute appends a raw field attribute.
func (f *FieldWriter) VisitAttribute(name string, data []byte) {
	f.info.Attributes = append(f.info.Attributes, classfile.AttributeInfo{Name: name, Data: data})
}

// VisitEnd adds the field to its class.
func (f *FieldWriter) VisitEnd() {
	if f.ended {
		return
	}
	f.ended = true
	f.owner.cf.Fields = append(f.owner.cf.Fields, f.info)
}
