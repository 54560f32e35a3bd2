// Package builder records classes as ordered emission actions and replays
// them against one of two encoders, chosen per build.
package builder

import (
	"time"

	"go.uber.org/zap"

	"github.com/daimatz/bytecodebuilder/pkg/classfile"
	"github.com/daimatz/bytecodebuilder/pkg/constant"
	"github.com/daimatz/bytecodebuilder/pkg/descriptor"
	"github.com/daimatz/bytecodebuilder/pkg/errors"
	"github.com/daimatz/bytecodebuilder/pkg/signature"
)

type fieldDecl struct {
	name       string
	access     uint16
	desc       descriptor.Descriptor
	signature  string
	value      constant.Constant
	attributes []classfile.AttributeInfo
}

type methodDecl struct {
	name       string
	access     uint16
	desc       descriptor.Descriptor
	signature  string
	exceptions []string
	attributes []classfile.AttributeInfo
	code       []action
	hasCode    bool
}

// ClassBuilder records the members of one class.
type ClassBuilder struct {
	fields     []*fieldDecl
	methods    []*methodDecl
	attributes []classfile.AttributeInfo
}

// New returns an empty ClassBuilder.
func New() *ClassBuilder { return &ClassBuilder{} }

// FieldOption configures a field declaration.
type FieldOption func(*fieldDecl)

// WithFieldSignature sets the generic signature of a field.
func WithFieldSignature(sig signature.Signature) FieldOption {
	return func(f *fieldDecl) {
		if sig != nil {
			f.signature = sig.String()
		}
	}
}

// WithConstantValue sets the ConstantValue initializer of a static final field.
func WithConstantValue(c constant.Constant) FieldOption {
	return func(f *fieldDecl) { f.value = c }
}

// MethodOption configures a method declaration.
type MethodOption func(*methodDecl)

// WithMethodSignature sets the generic signature of a method.
func WithMethodSignature(sig signature.MethodSignature) MethodOption {
	return func(m *methodDecl) { m.signature = sig.String() }
}

// WithExceptions declares checked exceptions.
func WithExceptions(types ...descriptor.Descriptor) MethodOption {
	return func(m *methodDecl) {
		for _, t := range types {
			name, _ := t.InternalName()
			m.exceptions = append(m.exceptions, name)
		}
	}
}

// FieldBuilder adds attributes to a field.
type FieldBuilder struct {
	decl *fieldDecl
}

// Attribute appends a raw attribute.
func (f *FieldBuilder) Attribute(name string, data []byte) *FieldBuilder {
	f.decl.attributes = append(f.decl.attributes, classfile.AttributeInfo{Name: name, Data: data})
	return f
}

// MethodBuilder adds a body and attributes to a method.
type MethodBuilder struct {
	decl *methodDecl
}

// Attribute appends a raw attribute.
func (m *MethodBuilder) Attribute(name string, data []byte) *MethodBuilder {
	m.decl.attributes = append(m.decl.attributes, classfile.AttributeInfo{Name: name, Data: data})
	return m
}

// Code records the method body and returns the first construction error
// of fn's calls.
func (m *MethodBuilder) Code(fn func(*CodeBuilder)) error {
	if m.decl.access&(classfile.AccAbstract|classfile.AccNative) != 0 {
		return errors.New(errors.PhaseConstruction, errors.KindInvalidArgument).
			Member(m.decl.name).Descriptor(m.decl.desc.String()).
			Detail("abstract and native methods have no code").Build()
	}
	cb := &CodeBuilder{}
	fn(cb)
	if cb.err != nil {
		return cb.err
	}
	m.decl.code = cb.actions
	m.decl.hasCode = true
	return nil
}

var constantTypes = map[descriptor.Sort]func(constant.Constant) bool{
	descriptor.SortInt:     isInt,
	descriptor.SortBoolean: isInt,
	descriptor.SortByte:    isInt,
	descriptor.SortChar:    isInt,
	descriptor.SortShort:   isInt,
	descriptor.SortLong:    func(c constant.Constant) bool { _, ok := c.(constant.Long); return ok },
	descriptor.SortFloat:   func(c constant.Constant) bool { _, ok := c.(constant.Float); return ok },
	descriptor.SortDouble:  func(c constant.Constant) bool { _, ok := c.(constant.Double); return ok },
}

func isInt(c constant.Constant) bool { _, ok := c.(constant.Int); return ok }

func validateConstantField(f *fieldDecl) error {
	fail := func(detail string) error {
		return errors.New(errors.PhaseConstruction, errors.KindInvalidConstantField).
			Member(f.name).Descriptor(f.desc.String()).Value(f.value).Detail("%s", detail).Build()
	}
	if f.access&classfile.AccStatic == 0 || f.access&classfile.AccFinal == 0 {
		return fail("constant value can only be set for static final fields")
	}
	if _, ok := f.value.(constant.String); ok {
		if f.desc != descriptor.String {
			return fail("string constant on a field of another type")
		}
		return nil
	}
	check, ok := constantTypes[f.desc.Sort()]
	if !ok {
		return fail("constant value must be a primitive or string")
	}
	if !check(f.value) {
		return fail("constant value does not match the field type")
	}
	return nil
}

// Field declares a field. fn may add attributes and may be nil.
func (c *ClassBuilder) Field(name string, access uint16, t descriptor.Descriptor, fn func(*FieldBuilder), opts ...FieldOption) error {
	if t.IsZero() || t.IsMethod() || t.IsVoid() {
		return errors.InvalidDescriptor(t.String(), "field "+name+" requires a field type")
	}
	f := &fieldDecl{name: name, access: access, desc: t}
	for _, opt := range opts {
		opt(f)
	}
	if f.value != nil {
		if err := validateConstantField(f); err != nil {
			return err
		}
	}
	if fn != nil {
		fn(&FieldBuilder{decl: f})
	}
	c.fields = append(c.fields, f)
	return nil
}

// Method declares a method. fn records its body through MethodBuilder.Code
// and may be nil for abstract methods.
func (c *ClassBuilder) Method(name string, access uint16, t descriptor.Descriptor, fn func(*MethodBuilder) error, opts ...MethodOption) error {
	if !t.IsMethod() {
		return errors.InvalidDescriptor(t.String(), "method "+name+" requires a method descriptor")
	}
	m := &methodDecl{name: name, access: access, desc: t}
	for _, opt := range opts {
		opt(m)
	}
	if fn != nil {
		if err := fn(&MethodBuilder{decl: m}); err != nil {
			return err
		}
	}
	c.methods = append(c.methods, m)
	return nil
}

// Constructor declares an <init> method with descriptor t.
func (c *ClassBuilder) Constructor(access uint16, t descriptor.Descriptor, fn func(*MethodBuilder) error, opts ...MethodOption) error {
	if !t.IsMethod() || !t.ReturnType().IsVoid() {
		return errors.InvalidDescriptor(t.String(), "constructor descriptor must return void")
	}
	return c.Method("<init>", access, t, fn, opts...)
}

// Attribute appends a raw class attribute.
func (c *ClassBuilder) Attribute(name string, data []byte) *ClassBuilder {
	c.attributes = append(c.attributes, classfile.AttributeInfo{Name: name, Data: data})
	return c
}

// Build replays the recorded class against the backend in opts.
func (c *ClassBuilder) Build(h Header, opts Options) ([]byte, error) {
	log := opts.logger()
	rh, err := h.resolve()
	if err != nil {
		return nil, err
	}
	start := time.Now()
	var data []byte
	switch opts.Backend {
	case BackendModel:
		data, err = buildModel(rh, c)
	case BackendVisitor:
		data, err = buildVisitor(rh, c)
	default:
		return nil, errors.New(errors.PhaseEncoding, errors.KindUnsupported).
			Owner(rh.name).Value(int(opts.Backend)).Detail("unknown backend %s", opts.Backend).Build()
	}
	if err != nil {
		log.Debug("class build failed",
			zap.String("class", rh.name),
			zap.Stringer("backend", opts.Backend),
			zap.Error(err))
		return nil, err
	}
	log.Debug("built class",
		zap.String("class", rh.name),
		zap.Stringer("backend", opts.Backend),
		zap.Int("fields", len(c.fields)),
		zap.Int("methods", len(c.methods)),
		zap.Int("bytes", len(data)),
		zap.Duration("elapsed", time.Since(start)))
	if opts.Dump != nil {
		if err := opts.Dump(rh.name, data); err != nil {
			return nil, errors.New(errors.PhaseEncoding, errors.KindInvalidArgument).
				Owner(rh.name).Cause(err).Detail("dumping class").Build()
		}
	}
	return data, nil
}
