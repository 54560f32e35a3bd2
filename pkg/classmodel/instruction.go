package classmodel

import (
	"github.com/daimatz/bytecodebuilder/pkg/bytecode"
	"github.com/daimatz/bytecodebuilder/pkg/classfile"
	"github.com/daimatz/bytecodebuilder/pkg/constant"
	"github.com/daimatz/bytecodebuilder/pkg/descriptor"
)

// Instruction is one element of a method body. Instructions are plain
// values and are only encoded when the class is built.
type Instruction interface {
	lower(l *lowering)
}

// Label is a branch target within one code body.
type Label struct {
	id int
}

type lowering struct {
	asm    *bytecode.Assembler
	labels map[*Label]*bytecode.Label
}

func (l *lowering) label(lbl *Label) *bytecode.Label {
	if t, ok := l.labels[lbl]; ok {
		return t
	}
	t := bytecode.NewLabel()
	l.labels[lbl] = t
	return t
}

// Operator is an instruction without operands, such as dup or iadd.
type Operator struct {
	Code byte
}

func (i Operator) lower(l *lowering) { l.asm.Insn(i.Code) }

// IntOperand is bipush, sipush or newarray.
type IntOperand struct {
	Code    byte
	Operand int
}

func (i IntOperand) lower(l *lowering) { l.asm.IntInsn(i.Code, i.Operand) }

// LoadConstant pushes a constant using the most compact encoding.
type LoadConstant struct {
	Value constant.Constant
}

func (i LoadConstant) lower(l *lowering) { l.asm.PushConstant(i.Value) }

// Local is a typed load or store of a local slot.
type Local struct {
	Code byte
	Slot int
}

func (i Local) lower(l *lowering) { l.asm.VarInsn(i.Code, i.Slot) }

// TypeCheck is new, anewarray, checkcast or instanceof.
type TypeCheck struct {
	Code byte
	Type descriptor.Descriptor
}

func (i TypeCheck) lower(l *lowering) { l.asm.TypeInsn(i.Code, i.Type) }

// FieldAccess reads or writes a static or instance field.
type FieldAccess struct {
	Code  byte
	Owner string
	Name  string
	Type  descriptor.Descriptor
}

func (i FieldAccess) lower(l *lowering) { l.asm.FieldInsn(i.Code, i.Owner, i.Name, i.Type) }

// Invoke calls a method.
type Invoke struct {
	Code      byte
	Owner     string
	Name      string
	Type      descriptor.Descriptor
	Interface bool
}

func (i Invoke) lower(l *lowering) { l.asm.MethodInsn(i.Code, i.Owner, i.Name, i.Type, i.Interface) }

// InvokeDynamic links a call site through a bootstrap method.
type InvokeDynamic struct {
	Name      string
	Type      descriptor.Descriptor
	Bootstrap constant.MethodHandle
	Args      []constant.Constant
}

func (i InvokeDynamic) lower(l *lowering) {
	l.asm.InvokeDynamic(i.Name, i.Type, i.Bootstrap, i.Args)
}

// Branch jumps to Target, conditionally unless Code is goto.
type Branch struct {
	Code   byte
	Target *Label
}

func (i Branch) lower(l *lowering) { l.asm.Jump(i.Code, l.label(i.Target)) }

// LabelTarget binds a label at its position in the body.
type LabelTarget struct {
	Label *Label
}

func (i LabelTarget) lower(l *lowering) { l.asm.Bind(l.label(i.Label)) }

// CodeModel is the recorded body of a method.
type CodeModel struct {
	Instructions []Instruction
}

// Lower encodes the instruction list into a Code attribute.
func (c *CodeModel) Lower(pool *classfile.PoolBuilder, m bytecode.Method) (*classfile.CodeAttribute, error) {
	l := &lowering{
		asm:    bytecode.NewAssembler(pool, m),
		labels: make(map[*Label]*bytecode.Label),
	}
	for _, insn := range c.Instructions {
		insn.lower(l)
		if err := l.asm.Err(); err != nil {
			return nil, err
		}
	}
	return l.asm.Finish()
}
