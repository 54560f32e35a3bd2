package classmodel

import (
	"github.com/daimatz/bytecodebuilder/pkg/bytecode"
	"github.com/daimatz/bytecodebuilder/pkg/classfile"
	"github.com/daimatz/bytecodebuilder/pkg/constant"
	"github.com/daimatz/bytecodebuilder/pkg/descriptor"
)

// CodeBuilder appends instructions to a method body. Typed helpers that
// cannot pick an instruction record the first error, which is returned
// when the class is built.
type CodeBuilder struct {
	insns  []Instruction
	labels int
	err    error
}

// Instructions returns the recorded body.
func (c *CodeBuilder) Instructions() []Instruction { return c.insns }

// Err returns the first error recorded by a typed helper.
func (c *CodeBuilder) Err() error { return c.err }

func (c *CodeBuilder) setErr(err error) {
	if c.err == nil {
		c.err = err
	}
}

// With appends an instruction.
func (c *CodeBuilder) With(insn Instruction) *CodeBuilder {
	c.insns = append(c.insns, insn)
	return c
}

// NewLabel returns a label for this body.
func (c *CodeBuilder) NewLabel() *Label {
	c.labels++
	return &Label{id: c.labels}
}

// LoadConstant pushes a constant.
func (c *CodeBuilder) LoadConstant(v constant.Constant) *CodeBuilder {
	return c.With(LoadConstant{Value: v})
}

// LoadLocal loads a local of type t.
func (c *CodeBuilder) LoadLocal(t descriptor.Descriptor, slot int) *CodeBuilder {
	op, err := bytecode.LoadOpcode(t)
	if err != nil {
		c.setErr(err)
		return c
	}
	return c.With(Local{Code: op, Slot: slot})
}

// StoreLocal stores the top of stack into a local of type t.
func (c *CodeBuilder) StoreLocal(t descriptor.Descriptor, slot int) *CodeBuilder {
	op, err := bytecode.StoreOpcode(t)
	if err != nil {
		c.setErr(err)
		return c
	}
	return c.With(Local{Code: op, Slot: slot})
}

// Operator appends a no-operand instruction.
func (c *CodeBuilder) Operator(op byte) *CodeBuilder {
	return c.With(Operator{Code: op})
}

// NewObject allocates an uninitialized instance of t.
func (c *CodeBuilder) NewObject(t descriptor.Descriptor) *CodeBuilder {
	return c.With(TypeCheck{Code: classfile.OpNew, Type: t})
}

// NewPrimitiveArray allocates an array of a primitive element type.
func (c *CodeBuilder) NewPrimitiveArray(atype int) *CodeBuilder {
	return c.With(IntOperand{Code: classfile.OpNewarray, Operand: atype})
}

// NewReferenceArray allocates an array of a reference element type.
func (c *CodeBuilder) NewReferenceArray(elem descriptor.Descriptor) *CodeBuilder {
	return c.With(TypeCheck{Code: classfile.OpAnewarray, Type: elem})
}

// InstanceOf tests the top of stack against t.
func (c *CodeBuilder) InstanceOf(t descriptor.Descriptor) *CodeBuilder {
	return c.With(TypeCheck{Code: classfile.OpInstanceof, Type: t})
}

// CheckCast narrows the top of stack to t.
func (c *CodeBuilder) CheckCast(t descriptor.Descriptor) *CodeBuilder {
	return c.With(TypeCheck{Code: classfile.OpCheckcast, Type: t})
}

// Return returns a value of type t, or nothing for void.
func (c *CodeBuilder) Return(t descriptor.Descriptor) *CodeBuilder {
	op, err := bytecode.ReturnOpcode(t)
	if err != nil {
		c.setErr(err)
		return c
	}
	return c.Operator(op)
}

// FieldAccess appends getfield, putfield, getstatic or putstatic.
func (c *CodeBuilder) FieldAccess(op byte, owner, name string, t descriptor.Descriptor) *CodeBuilder {
	return c.With(FieldAccess{Code: op, Owner: owner, Name: name, Type: t})
}

// Invoke appends a method call.
func (c *CodeBuilder) Invoke(op byte, owner, name string, t descriptor.Descriptor, itf bool) *CodeBuilder {
	return c.With(Invoke{Code: op, Owner: owner, Name: name, Type: t, Interface: itf})
}

// InvokeDynamic appends an invokedynamic call site.
func (c *CodeBuilder) InvokeDynamic(name string, t descriptor.Descriptor, bsm constant.MethodHandle, args ...constant.Constant) *CodeBuilder {
	return c.With(InvokeDynamic{Name: name, Type: t, Bootstrap: bsm, Args: args})
}

// Branch appends a jump to target.
func (c *CodeBuilder) Branch(op byte, target *Label) *CodeBuilder {
	return c.With(Branch{Code: op, Target: target})
}

// LabelBinding binds l at the current position.
func (c *CodeBuilder) LabelBinding(l *Label) *CodeBuilder {
	return c.With(LabelTarget{Label: l})
}
