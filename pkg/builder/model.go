package builder

import (
	"github.com/daimatz/bytecodebuilder/pkg/bytecode"
	"github.com/daimatz/bytecodebuilder/pkg/classfile"
	"github.com/daimatz/bytecodebuilder/pkg/classmodel"
	"github.com/daimatz/bytecodebuilder/pkg/constant"
	"github.com/daimatz/bytecodebuilder/pkg/descriptor"
)

// modelEmitter translates recorded actions into classmodel instructions.
type modelEmitter struct {
	cb *classmodel.CodeBuilder
}

func (m modelEmitter) constant(c constant.Constant) { m.cb.LoadConstant(c) }

func (m modelEmitter) load(t descriptor.Descriptor, slot int) { m.cb.LoadLocal(t, slot) }

func (m modelEmitter) store(t descriptor.Descriptor, slot int) { m.cb.StoreLocal(t, slot) }

func (m modelEmitter) newArray(elem descriptor.Descriptor) {
	if atype, ok := bytecode.NewArrayType(elem); ok {
		m.cb.NewPrimitiveArray(atype)
		return
	}
	m.cb.NewReferenceArray(elem)
}

func (m modelEmitter) instanceOf(t descriptor.Descriptor) { m.cb.InstanceOf(t) }

func (m modelEmitter) checkCast(t descriptor.Descriptor) { m.cb.CheckCast(t) }

func (m modelEmitter) returnValue(t descriptor.Descriptor) { m.cb.Return(t) }

func (m modelEmitter) field(op byte, owner, name string, t descriptor.Descriptor) {
	m.cb.FieldAccess(op, owner, name, t)
}

func (m modelEmitter) invoke(op byte, owner, name string, t descriptor.Descriptor, itf bool) {
	m.cb.Invoke(op, owner, name, t, itf)
}

func (m modelEmitter) newInstance(owner string, ctor descriptor.Descriptor) {
	shuffle, _ := bytecode.ConstructShuffle(ctor)
	m.cb.NewObject(descriptor.Class(owner))
	for _, op := range shuffle {
		m.cb.Operator(op)
	}
	m.cb.Invoke(classfile.OpInvokespecial, owner, "<init>", ctor, false)
}

func (m modelEmitter) invokeDynamic(name string, t descriptor.Descriptor, bsm constant.MethodHandle, args []constant.Constant) {
	m.cb.InvokeDynamic(name, t, bsm, args...)
}

func (m modelEmitter) skip(op byte, fragment []action) {
	end := m.cb.NewLabel()
	m.cb.Branch(op, end)
	replay(m, fragment)
	m.cb.LabelBinding(end)
}

func buildModel(h resolvedHeader, c *ClassBuilder) ([]byte, error) {
	return classmodel.Build(h.name, func(cb *classmodel.ClassBuilder) {
		cb.WithVersion(h.version).
			WithFlags(h.access).
			WithSuperclass(h.super).
			WithInterfaces(h.interfaces...)
		if h.signature != "" {
			cb.WithSignature(h.signature)
		}
		for _, a := range c.attributes {
			cb.WithAttribute(a.Name, a.Data)
		}
		for _, f := range c.fields {
			cb.WithField(f.name, f.desc, f.access, func(fb *classmodel.FieldBuilder) {
				if f.signature != "" {
					fb.WithSignature(f.signature)
				}
				if f.value != nil {
					fb.WithConstantValue(f.value)
				}
				for _, a := range f.attributes {
					fb.WithAttribute(a.Name, a.Data)
				}
			})
		}
		for _, m := range c.methods {
			cb.WithMethod(m.name, m.desc, m.access, func(mb *classmodel.MethodBuilder) {
				if m.signature != "" {
					mb.WithSignature(m.signature)
				}
				if len(m.exceptions) > 0 {
					mb.WithExceptions(m.exceptions...)
				}
				for _, a := range m.attributes {
					mb.WithAttribute(a.Name, a.Data)
				}
				if m.hasCode {
					mb.WithCode(func(code *classmodel.CodeBuilder) {
						replay(modelEmitter{cb: code}, m.code)
					})
				}
			})
		}
	})
}
