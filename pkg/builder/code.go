package builder

import (
	"github.com/daimatz/bytecodebuilder/pkg/bytecode"
	"github.com/daimatz/bytecodebuilder/pkg/classfile"
	"github.com/daimatz/bytecodebuilder/pkg/constant"
	"github.com/daimatz/bytecodebuilder/pkg/descriptor"
	"github.com/daimatz/bytecodebuilder/pkg/errors"
)

// codeEmitter is the instruction vocabulary every backend translates.
type codeEmitter interface {
	constant(c constant.Constant)
	load(t descriptor.Descriptor, slot int)
	store(t descriptor.Descriptor, slot int)
	newArray(elem descriptor.Descriptor)
	instanceOf(t descriptor.Descriptor)
	checkCast(t descriptor.Descriptor)
	returnValue(t descriptor.Descriptor)
	field(op byte, owner, name string, t descriptor.Descriptor)
	invoke(op byte, owner, name string, t descriptor.Descriptor, itf bool)
	newInstance(owner string, ctor descriptor.Descriptor)
	invokeDynamic(name string, t descriptor.Descriptor, bsm constant.MethodHandle, args []constant.Constant)
	skip(op byte, fragment []action)
}

// action is one recorded emission step.
type action func(e codeEmitter)

func replay(e codeEmitter, actions []action) {
	for _, a := range actions {
		a(e)
	}
}

// Condition is the test that guards a Skip fragment. The fragment runs
// when the condition is false.
type Condition byte

const (
	IfZero         = Condition(classfile.OpIfeq)
	IfNonZero      = Condition(classfile.OpIfne)
	IfNegative     = Condition(classfile.OpIflt)
	IfNonNegative  = Condition(classfile.OpIfge)
	IfPositive     = Condition(classfile.OpIfgt)
	IfNonPositive  = Condition(classfile.OpIfle)
	IfIntEqual     = Condition(classfile.OpIfIcmpeq)
	IfIntNotEqual  = Condition(classfile.OpIfIcmpne)
	IfIntLess      = Condition(classfile.OpIfIcmplt)
	IfIntGreaterEq = Condition(classfile.OpIfIcmpge)
	IfIntGreater   = Condition(classfile.OpIfIcmpgt)
	IfIntLessEq    = Condition(classfile.OpIfIcmple)
	IfRefEqual     = Condition(classfile.OpIfAcmpeq)
	IfRefNotEqual  = Condition(classfile.OpIfAcmpne)
	IfNull         = Condition(classfile.OpIfnull)
	IfNonNull      = Condition(classfile.OpIfnonnull)
)

func (c Condition) valid() bool {
	op := byte(c)
	return (op >= classfile.OpIfeq && op <= classfile.OpIfAcmpne) ||
		op == classfile.OpIfnull || op == classfile.OpIfnonnull
}

// CodeBuilder records the instructions of one method body. Every method
// returns the receiver; the first invalid call is recorded and reported by
// Err, and by the MethodBuilder.Code call that owns the body.
type CodeBuilder struct {
	actions []action
	err     error
}

// Err returns the first construction error.
func (c *CodeBuilder) Err() error { return c.err }

// Len returns the number of recorded actions.
func (c *CodeBuilder) Len() int { return len(c.actions) }

func (c *CodeBuilder) add(a action) *CodeBuilder {
	if c.err == nil {
		c.actions = append(c.actions, a)
	}
	return c
}

func (c *CodeBuilder) fail(err error) *CodeBuilder {
	if c.err == nil {
		c.err = err
	}
	return c
}

func internalName(d descriptor.Descriptor) (string, error) {
	return d.InternalName()
}

// Constant pushes v with the most compact encoding.
func (c *CodeBuilder) Constant(v constant.Constant) *CodeBuilder {
	if v == nil {
		return c.fail(errors.New(errors.PhaseConstruction, errors.KindInvalidArgument).Detail("nil constant").Build())
	}
	return c.add(func(e codeEmitter) { e.constant(v) })
}

// Load pushes the local at slot, typed t.
func (c *CodeBuilder) Load(t descriptor.Descriptor, slot int) *CodeBuilder {
	if _, err := bytecode.LoadOpcode(t); err != nil {
		return c.fail(err)
	}
	if slot < 0 {
		return c.fail(errors.New(errors.PhaseConstruction, errors.KindInvalidArgument).Value(slot).Detail("negative local slot").Build())
	}
	return c.add(func(e codeEmitter) { e.load(t, slot) })
}

// Store pops into the local at slot, typed t.
func (c *CodeBuilder) Store(t descriptor.Descriptor, slot int) *CodeBuilder {
	if _, err := bytecode.StoreOpcode(t); err != nil {
		return c.fail(err)
	}
	if slot < 0 {
		return c.fail(errors.New(errors.PhaseConstruction, errors.KindInvalidArgument).Value(slot).Detail("negative local slot").Build())
	}
	return c.add(func(e codeEmitter) { e.store(t, slot) })
}

// LoadThis pushes local 0.
func (c *CodeBuilder) LoadThis() *CodeBuilder {
	return c.Load(descriptor.Object, 0)
}

// NewArray pops a length and pushes a new array with element type elem.
func (c *CodeBuilder) NewArray(elem descriptor.Descriptor) *CodeBuilder {
	if _, ok := bytecode.NewArrayType(elem); !ok && !elem.IsReference() {
		return c.fail(errors.InvalidDescriptor(elem.String(), "not an array element type"))
	}
	return c.add(func(e codeEmitter) { e.newArray(elem) })
}

// InstanceOf replaces the top reference with whether it is a t.
func (c *CodeBuilder) InstanceOf(t descriptor.Descriptor) *CodeBuilder {
	if _, err := internalName(t); err != nil {
		return c.fail(err)
	}
	return c.add(func(e codeEmitter) { e.instanceOf(t) })
}

// CheckCast narrows the top reference to t.
func (c *CodeBuilder) CheckCast(t descriptor.Descriptor) *CodeBuilder {
	if _, err := internalName(t); err != nil {
		return c.fail(err)
	}
	return c.add(func(e codeEmitter) { e.checkCast(t) })
}

// Return returns a value of type t, or nothing for void.
func (c *CodeBuilder) Return(t descriptor.Descriptor) *CodeBuilder {
	if _, err := bytecode.ReturnOpcode(t); err != nil {
		return c.fail(err)
	}
	return c.add(func(e codeEmitter) { e.returnValue(t) })
}

var fieldOps = map[constant.Kind]byte{
	constant.Getter:       classfile.OpGetfield,
	constant.Setter:       classfile.OpPutfield,
	constant.StaticGetter: classfile.OpGetstatic,
	constant.StaticSetter: classfile.OpPutstatic,
}

// Field reads or writes owner.name according to kind, which must be one of
// Getter, Setter, StaticGetter or StaticSetter.
func (c *CodeBuilder) Field(kind constant.Kind, owner descriptor.Descriptor, name string, t descriptor.Descriptor) *CodeBuilder {
	op, ok := fieldOps[kind]
	if !ok {
		return c.fail(errors.New(errors.PhaseConstruction, errors.KindInvalidInvocationKind).
			Owner(owner.String()).Member(name).Value(kind.String()).
			Detail("%s is not a field access kind", kind).Build())
	}
	ownerName, err := internalName(owner)
	if err != nil {
		return c.fail(err)
	}
	if t.IsZero() || t.IsMethod() || t.IsVoid() {
		return c.fail(errors.InvalidDescriptor(t.String(), "field access requires a field type"))
	}
	return c.add(func(e codeEmitter) { e.field(op, ownerName, name, t) })
}

// Invoke calls owner.name according to kind. Constructor builds a new
// instance and requires the name <init>; field kinds are rejected.
func (c *CodeBuilder) Invoke(kind constant.Kind, owner descriptor.Descriptor, name string, t descriptor.Descriptor) *CodeBuilder {
	if kind == constant.Constructor {
		if name != "<init>" {
			return c.fail(errors.New(errors.PhaseConstruction, errors.KindInvalidConstructorInvocation).
				Owner(owner.String()).Member(name).Descriptor(t.String()).
				Detail("CONSTRUCTOR must be used with <init>").Build())
		}
		return c.NewInstance(owner, t)
	}
	var op byte
	switch kind {
	case constant.Static, constant.InterfaceStatic:
		op = classfile.OpInvokestatic
	case constant.Virtual:
		op = classfile.OpInvokevirtual
	case constant.InterfaceVirtual:
		op = classfile.OpInvokeinterface
	case constant.Special, constant.InterfaceSpecial:
		op = classfile.OpInvokespecial
	default:
		return c.fail(errors.New(errors.PhaseConstruction, errors.KindInvalidInvocationKind).
			Owner(owner.String()).Member(name).Value(kind.String()).
			Detail("%s is not a method invocation kind", kind).Build())
	}
	ownerName, err := internalName(owner)
	if err != nil {
		return c.fail(err)
	}
	if !t.IsMethod() {
		return c.fail(errors.InvalidDescriptor(t.String(), "invocation requires a method descriptor"))
	}
	itf := kind.IsInterface()
	return c.add(func(e codeEmitter) { e.invoke(op, ownerName, name, t, itf) })
}

// NewInstance allocates owner and runs its constructor ctor in one step.
// Constructor arguments already on the stack may take at most two slots.
func (c *CodeBuilder) NewInstance(owner descriptor.Descriptor, ctor descriptor.Descriptor) *CodeBuilder {
	ownerName, err := internalName(owner)
	if err != nil {
		return c.fail(err)
	}
	if !ctor.IsMethod() || !ctor.ReturnType().IsVoid() {
		return c.fail(errors.InvalidDescriptor(ctor.String(), "constructor descriptor must return void"))
	}
	if _, err := bytecode.ConstructShuffle(ctor); err != nil {
		return c.fail(err)
	}
	return c.add(func(e codeEmitter) { e.newInstance(ownerName, ctor) })
}

// InvokeDynamic links and calls a dynamic call site.
func (c *CodeBuilder) InvokeDynamic(name string, t descriptor.Descriptor, bsm constant.MethodHandle, args ...constant.Constant) *CodeBuilder {
	if !t.IsMethod() {
		return c.fail(errors.InvalidDescriptor(t.String(), "call site requires a method descriptor"))
	}
	if bsm.Kind != constant.Static && bsm.Kind != constant.InterfaceStatic && bsm.Kind != constant.Constructor {
		return c.fail(errors.New(errors.PhaseConstruction, errors.KindInvalidInvocationKind).
			Member(bsm.Name).Value(bsm.Kind.String()).Detail("bootstrap must be static").Build())
	}
	args = append([]constant.Constant(nil), args...)
	return c.add(func(e codeEmitter) { e.invokeDynamic(name, t, bsm, args) })
}

// Skip emits cond as a forward branch over fragment: fragment runs only
// when cond is false, and execution continues after it either way.
func (c *CodeBuilder) Skip(cond Condition, fragment func(*CodeBuilder)) *CodeBuilder {
	if !cond.valid() {
		return c.fail(errors.New(errors.PhaseConstruction, errors.KindInvalidArgument).
			Value(int(cond)).Detail("not a conditional branch").Build())
	}
	inner := &CodeBuilder{}
	if fragment != nil {
		fragment(inner)
	}
	if inner.err != nil {
		return c.fail(inner.err)
	}
	op := byte(cond)
	body := inner.actions
	return c.add(func(e codeEmitter) { e.skip(op, body) })
}
