package classwriter

import (
	"fortio.org/safecast"

	"github.com/daimatz/bytecodebuilder/pkg/bytecode"
	"github.com/daimatz/bytecodebuilder/pkg/classfile"
	"github.com/daimatz/bytecodebuilder/pkg/constant"
	"github.com/daimatz/bytecodebuilder/pkg/descriptor"
	"github.com/daimatz/bytecodebuilder/pkg/errors"
)

// Label is a branch target. The zero value is ready to use.
type Label struct {
	target *bytecode.Label
}

func (l *Label) get() *bytecode.Label {
	if l.target == nil {
		l.target = bytecode.NewLabel()
	}
	return l.target
}

// Offset returns the bound code offset, or -1.
func (l *Label) Offset() int { return l.get().Offset() }

// MethodWriter receives the attributes and instructions of one method.
type MethodWriter struct {
	owner *ClassWriter
	info  classfile.MethodInfo
	desc  descriptor.Descriptor
	asm   *bytecode.Assembler
	ended bool
	err   error
}

func (m *MethodWriter) setErr(err error) {
	if m.err == nil && err != nil {
		m.err = err
	}
}

func (m *MethodWriter) opcode(op int) (byte, bool) {
	b, err := safecast.Conv[uint8](op)
	if err != nil {
		m.setErr(errors.Overflow(errors.PhaseEncoding, op, "opcode"))
		return 0, false
	}
	if m.asm == nil {
		m.setErr(errors.New(errors.PhaseEncoding, errors.KindUnsupported).
			Owner(m.owner.name).Member(m.info.Name).
			Detail("%s visited before VisitCode", classfile.OpcodeName(b)).Build())
		return 0, false
	}
	return b, m.err == nil
}

// VisitAttribute appends a raw method attribute.
func (m *MethodWriter) VisitAttribute(name string, data []byte) {
	m.info.Attributes = append(m.info.Attributes, classfile.AttributeInfo{Name: name, Data: data})
}

// VisitCode starts the method body.
func (m *MethodWriter) VisitCode() {
	if m.err != nil {
		return
	}
	m.asm = bytecode.NewAssembler(m.owner.pool, bytecode.Method{
		Owner:  m.owner.name,
		Name:   m.info.Name,
		Desc:   m.desc,
		Static: m.info.AccessFlags&classfile.AccStatic != 0,
	})
}

// VisitInsn visits an instruction without operands.
func (m *MethodWriter) VisitInsn(op int) {
	if b, ok := m.opcode(op); ok {
		m.asm.Insn(b)
	}
}

// VisitIntInsn visits bipush, sipush or newarray.
func (m *MethodWriter) VisitIntInsn(op, operand int) {
	if b, ok := m.opcode(op); ok {
		m.asm.IntInsn(b, operand)
	}
}

// VisitVarInsn visits a local variable load or store.
func (m *MethodWriter) VisitVarInsn(op, slot int) {
	if b, ok := m.opcode(op); ok {
		m.asm.VarInsn(b, slot)
	}
}

// VisitTypeInsn visits new, anewarray, checkcast or instanceof. typ is an
// internal name, or an array descriptor.
func (m *MethodWriter) VisitTypeInsn(op int, typ string) {
	if b, ok := m.opcode(op); ok {
		m.asm.TypeInsn(b, descriptor.Class(typ))
	}
}

// VisitFieldInsn visits a field access.
func (m *MethodWriter) VisitFieldInsn(op int, owner, name, desc string) {
	b, ok := m.opcode(op)
	if !ok {
		return
	}
	d, err := descriptor.Of(desc)
	if err != nil {
		m.setErr(err)
		return
	}
	m.asm.FieldInsn(b, owner, name, d)
}

// VisitMethodInsn visits a method call.
func (m *MethodWriter) VisitMethodInsn(op int, owner, name, desc string, itf bool) {
	b, ok := m.opcode(op)
	if !ok {
		return
	}
	d, err := descriptor.Of(desc)
	if err != nil {
		m.setErr(err)
		return
	}
	m.asm.MethodInsn(b, owner, name, d, itf)
}

// VisitInvokeDynamicInsn visits an invokedynamic call site.
func (m *MethodWriter) VisitInvokeDynamicInsn(name, desc string, bsm constant.MethodHandle, args ...constant.Constant) {
	if _, ok := m.opcode(classfile.OpInvokedynamic); !ok {
		return
	}
	d, err := descriptor.Of(desc)
	if err != nil {
		m.setErr(err)
		return
	}
	m.asm.InvokeDynamic(name, d, bsm, args)
}

// VisitJumpInsn visits a branch to l.
func (m *MethodWriter) VisitJumpInsn(op int, l *Label) {
	if b, ok := m.opcode(op); ok {
		m.asm.Jump(b, l.get())
	}
}

// VisitLabel binds l at the current offset.
func (m *MethodWriter) VisitLabel(l *Label) {
	if m.asm == nil || m.err != nil {
		return
	}
	m.asm.Bind(l.get())
}

// VisitLdcInsn loads a pool constant with ldc, ldc_w or ldc2_w.
func (m *MethodWriter) VisitLdcInsn(c constant.Constant) {
	if _, ok := m.opcode(classfile.OpLdc); ok {
		m.asm.Ldc(c)
	}
}

// VisitMaxs is accepted for symmetry with hand-written visitors. Maximums
// are always computed from the visited code.
func (m *MethodWriter) VisitMaxs(maxStack, maxLocals int) {}

// VisitEnd finishes the method and adds it to its class.
func (m *MethodWriter) VisitEnd() {
	if m.ended {
		return
	}
	m.ended = true
	if m.err == nil && m.asm != nil {
		code, err := m.asm.Finish()
		m.setErr(err)
		m.info.Code = code
	}
	if m.err != nil {
		m.owner.setErr(m.err)
		return
	}
	m.owner.cf.Methods = append(m.owner.cf.Methods, m.info)
}

// Err returns the first error recorded for this method.
func (m *MethodWriter) Err() error {
	if m.err != nil {
		return m.err
	}
	if m.asm != nil {
		return m.asm.Err()
	}
	return nil
}
