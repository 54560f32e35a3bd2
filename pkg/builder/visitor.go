package builder

import (
	"github.com/daimatz/bytecodebuilder/pkg/bytecode"
	"github.com/daimatz/bytecodebuilder/pkg/classfile"
	"github.com/daimatz/bytecodebuilder/pkg/classwriter"
	"github.com/daimatz/bytecodebuilder/pkg/constant"
	"github.com/daimatz/bytecodebuilder/pkg/descriptor"
)

// visitorEmitter translates recorded actions into classwriter visits.
type visitorEmitter struct {
	mw *classwriter.MethodWriter
}

func (v visitorEmitter) constant(c constant.Constant) {
	push := bytecode.SelectConstant(c)
	switch {
	case push.IsLdc():
		v.mw.VisitLdcInsn(c)
	case push.Op == classfile.OpBipush || push.Op == classfile.OpSipush:
		v.mw.VisitIntInsn(int(push.Op), int(push.Operand))
	default:
		v.mw.VisitInsn(int(push.Op))
	}
}

func (v visitorEmitter) load(t descriptor.Descriptor, slot int) {
	op, _ := bytecode.LoadOpcode(t)
	v.mw.VisitVarInsn(int(op), slot)
}

func (v visitorEmitter) store(t descriptor.Descriptor, slot int) {
	op, _ := bytecode.StoreOpcode(t)
	v.mw.VisitVarInsn(int(op), slot)
}

func (v visitorEmitter) newArray(elem descriptor.Descriptor) {
	if atype, ok := bytecode.NewArrayType(elem); ok {
		v.mw.VisitIntInsn(classfile.OpNewarray, atype)
		return
	}
	name, _ := elem.InternalName()
	v.mw.VisitTypeInsn(classfile.OpAnewarray, name)
}

func (v visitorEmitter) instanceOf(t descriptor.Descriptor) {
	name, _ := t.InternalName()
	v.mw.VisitTypeInsn(classfile.OpInstanceof, name)
}

func (v visitorEmitter) checkCast(t descriptor.Descriptor) {
	name, _ := t.InternalName()
	v.mw.VisitTypeInsn(classfile.OpCheckcast, name)
}

func (v visitorEmitter) returnValue(t descriptor.Descriptor) {
	op, _ := bytecode.ReturnOpcode(t)
	v.mw.VisitInsn(int(op))
}

func (v visitorEmitter) field(op byte, owner, name string, t descriptor.Descriptor) {
	v.mw.VisitFieldInsn(int(op), owner, name, t.String())
}

func (v visitorEmitter) invoke(op byte, owner, name string, t descriptor.Descriptor, itf bool) {
	v.mw.VisitMethodInsn(int(op), owner, name, t.String(), itf)
}

func (v visitorEmitter) newInstance(owner string, ctor descriptor.Descriptor) {
	shuffle, _ := bytecode.ConstructShuffle(ctor)
	v.mw.VisitTypeInsn(classfile.OpNew, owner)
	for _, op := range shuffle {
		v.mw.VisitInsn(int(op))
	}
	v.mw.VisitMethodInsn(classfile.OpInvokespecial, owner, "<init>", ctor.String(), false)
}

func (v visitorEmitter) invokeDynamic(name string, t descriptor.Descriptor, bsm constant.MethodHandle, args []constant.Constant) {
	v.mw.VisitInvokeDynamicInsn(name, t.String(), bsm, args...)
}

func (v visitorEmitter) skip(op byte, fragment []action) {
	var end classwriter.Label
	v.mw.VisitJumpInsn(int(op), &end)
	replay(v, fragment)
	v.mw.VisitLabel(&end)
}

func buildVisitor(h resolvedHeader, c *ClassBuilder) ([]byte, error) {
	w := classwriter.NewClassWriter()
	w.Visit(int(h.version), int(h.access), h.name, h.signature, h.super, h.interfaces)
	for _, a := range c.attributes {
		w.VisitAttribute(a.Name, a.Data)
	}
	for _, f := range c.fields {
		fw := w.VisitField(int(f.access), f.name, f.desc.String(), f.signature, f.value)
		for _, a := range f.attributes {
			fw.VisitAttribute(a.Name, a.Data)
		}
		fw.VisitEnd()
	}
	for _, m := range c.methods {
		mw := w.VisitMethod(int(m.access), m.name, m.desc.String(), m.signature, m.exceptions)
		for _, a := range m.attributes {
			mw.VisitAttribute(a.Name, a.Data)
		}
		if m.hasCode {
			mw.VisitCode()
			replay(visitorEmitter{mw: mw}, m.code)
			mw.VisitMaxs(0, 0)
		}
		mw.VisitEnd()
		if err := mw.Err(); err != nil {
			return nil, err
		}
	}
	w.VisitEnd()
	return w.Bytes()
}
