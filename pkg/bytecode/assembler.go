package bytecode

import (
	"fmt"

	"fortio.org/safecast"

	"github.com/daimatz/bytecodebuilder/pkg/classfile"
	"github.com/daimatz/bytecodebuilder/pkg/constant"
	"github.com/daimatz/bytecodebuilder/pkg/descriptor"
	"github.com/daimatz/bytecodebuilder/pkg/errors"
)

type frame struct {
	locals []VType
	stack  []VType
}

func (f *frame) clone() *frame {
	return &frame{
		locals: append([]VType(nil), f.locals...),
		stack:  append([]VType(nil), f.stack...),
	}
}

// Label marks a position in the code.
type Label struct {
	offset int
	bound  bool
	target bool
	frame  *frame
}

// NewLabel returns an unbound label.
func NewLabel() *Label { return &Label{offset: -1} }

// Offset returns the bound offset, or -1.
func (l *Label) Offset() int { return l.offset }

type fixup struct {
	insn  int
	at    int
	label *Label
}

// Method identifies the method being assembled.
type Method struct {
	Owner  string
	Name   string
	Desc   descriptor.Descriptor
	Static bool
}

// Assembler encodes one method body.
type Assembler struct {
	pool      *classfile.PoolBuilder
	method    Method
	code      []byte
	cur       *frame
	reachable bool
	maxStack  int
	maxLocals int
	labels    []*Label
	fixups    []fixup
	newTypes  map[int]string
	err       error
}

// NewAssembler prepares an assembler with the locals implied by m.
func NewAssembler(pool *classfile.PoolBuilder, m Method) *Assembler {
	a := &Assembler{
		pool:      pool,
		method:    m,
		cur:       &frame{},
		reachable: true,
		newTypes:  make(map[int]string),
	}
	slot := 0
	if !m.Static {
		if m.Name == "<init>" && m.Owner != objectClass {
			a.setLocal(0, UninitializedThis)
		} else {
			a.setLocal(0, ObjectType(m.Owner))
		}
		slot = 1
	}
	for _, p := range m.Desc.Params() {
		a.setLocal(slot, TypeOf(p))
		slot += p.Size()
	}
	return a
}

// Err returns the first error recorded while assembling.
func (a *Assembler) Err() error { return a.err }

// Len returns the current code length.
func (a *Assembler) Len() int { return len(a.code) }

// Code returns the bytes emitted so far.
func (a *Assembler) Code() []byte { return a.code }

// MaxStack returns the maximum operand stack depth in slots.
func (a *Assembler) MaxStack() int { return a.maxStack }

// MaxLocals returns the number of local slots used.
func (a *Assembler) MaxLocals() int { return a.maxLocals }

func (a *Assembler) fail(format string, args ...any) {
	if a.err == nil {
		a.err = errors.New(errors.PhaseEncoding, errors.KindFrame).
			Owner(a.method.Owner).Member(a.method.Name).Descriptor(a.method.Desc.String()).
			Detail(format, args...).Build()
	}
}

func (a *Assembler) setErr(err error) {
	if a.err == nil && err != nil {
		a.err = err
	}
}

func (a *Assembler) stackSlots() int {
	n := 0
	for _, v := range a.cur.stack {
		n += v.Size()
	}
	return n
}

func (a *Assembler) push(vs ...VType) {
	for _, v := range vs {
		if v.Tag == ItemTop {
			continue
		}
		a.cur.stack = append(a.cur.stack, v)
	}
	if n := a.stackSlots(); n > a.maxStack {
		a.maxStack = n
	}
}

func (a *Assembler) pop() VType {
	n := len(a.cur.stack)
	if n == 0 {
		a.fail("operand stack underflow at offset %d", len(a.code))
		return Top
	}
	v := a.cur.stack[n-1]
	a.cur.stack = a.cur.stack[:n-1]
	return v
}

func (a *Assembler) popN(n int) {
	for i := 0; i < n; i++ {
		a.pop()
	}
}

func (a *Assembler) popDesc(d descriptor.Descriptor) {
	if d.IsVoid() {
		return
	}
	v := a.pop()
	if want := TypeOf(d); want.Tag != v.Tag && !(want.IsReference() && v.IsReference()) {
		a.fail("expected %s on stack, found %s", want, v)
	}
}

func (a *Assembler) pushDesc(d descriptor.Descriptor) {
	if !d.IsVoid() {
		a.push(TypeOf(d))
	}
}

func (a *Assembler) setLocal(slot int, v VType) {
	size := v.Size()
	for len(a.cur.locals) < slot+size {
		a.cur.locals = append(a.cur.locals, Top)
	}
	if slot > 0 && a.cur.locals[slot-1].Size() == 2 {
		a.cur.locals[slot-1] = Top
	}
	if size == 1 && slot+1 < len(a.cur.locals) && a.cur.locals[slot].Size() == 2 {
		a.cur.locals[slot+1] = Top
	}
	a.cur.locals[slot] = v
	if size == 2 {
		a.cur.locals[slot+1] = Top
	}
	if slot+size > a.maxLocals {
		a.maxLocals = slot + size
	}
}

func (a *Assembler) local(slot int) VType {
	if slot < len(a.cur.locals) {
		return a.cur.locals[slot]
	}
	return Top
}

func (a *Assembler) emit(b ...byte) {
	if !a.reachable {
		a.fail("unreachable code at offset %d", len(a.code))
	}
	a.code = append(a.code, b...)
}

func (a *Assembler) emitU2(v int) {
	n, err := safecast.Conv[uint16](v)
	if err != nil {
		a.setErr(errors.Overflow(errors.PhaseEncoding, v, "u2"))
	}
	a.emit(byte(n>>8), byte(n))
}

func (a *Assembler) emitS2(v int) {
	n, err := safecast.Conv[int16](v)
	if err != nil {
		a.setErr(errors.Overflow(errors.PhaseEncoding, v, "branch offset"))
	}
	a.emit(byte(uint16(n)>>8), byte(uint16(n)))
}

// Insn emits an instruction without operands.
func (a *Assembler) Insn(op byte) {
	a.emit(op)
	switch {
	case op == classfile.OpNop:
	case op == classfile.OpAconstNull:
		a.push(Null)
	case op >= classfile.OpIconstM1 && op <= classfile.OpIconst5:
		a.push(Integer)
	case op == classfile.OpLconst0 || op == classfile.OpLconst1:
		a.push(Long)
	case op >= classfile.OpFconst0 && op <= classfile.OpFconst2:
		a.push(Float)
	case op == classfile.OpDconst0 || op == classfile.OpDconst1:
		a.push(Double)
	case op >= classfile.OpIaload && op <= classfile.OpSaload:
		a.pop()
		arr := a.pop()
		switch op {
		case classfile.OpLaload:
			a.push(Long)
		case classfile.OpFaload:
			a.push(Float)
		case classfile.OpDaload:
			a.push(Double)
		case classfile.OpAaload:
			a.push(componentOf(arr))
		default:
			a.push(Integer)
		}
	case op >= classfile.OpIastore && op <= classfile.OpSastore:
		a.popN(3)
	case op == classfile.OpPop:
		a.pop()
	case op == classfile.OpPop2:
		if a.pop().Size() == 1 {
			a.pop()
		}
	case op == classfile.OpDup:
		v := a.pop()
		a.push(v, v)
	case op == classfile.OpDupX1:
		v1, v2 := a.pop(), a.pop()
		a.push(v1, v2, v1)
	case op == classfile.OpDupX2:
		v1, v2 := a.pop(), a.pop()
		if v2.Size() == 2 {
			a.push(v1, v2, v1)
		} else {
			v3 := a.pop()
			a.push(v1, v3, v2, v1)
		}
	case op == classfile.OpDup2:
		v1 := a.pop()
		if v1.Size() == 2 {
			a.push(v1, v1)
		} else {
			v2 := a.pop()
			a.push(v2, v1, v2, v1)
		}
	case op == classfile.OpDup2X1:
		v1 := a.pop()
		if v1.Size() == 2 {
			v2 := a.pop()
			a.push(v1, v2, v1)
		} else {
			v2, v3 := a.pop(), a.pop()
			a.push(v2, v1, v3, v2, v1)
		}
	case op == classfile.OpDup2X2:
		v1 := a.pop()
		if v1.Size() == 2 {
			v2 := a.pop()
			if v2.Size() == 2 {
				a.push(v1, v2, v1)
			} else {
				v3 := a.pop()
				a.push(v1, v3, v2, v1)
			}
		} else {
			v2, v3 := a.pop(), a.pop()
			if v3.Size() == 2 {
				a.push(v2, v1, v3, v2, v1)
			} else {
				v4 := a.pop()
				a.push(v2, v1, v4, v3, v2, v1)
			}
		}
	case op == classfile.OpSwap:
		v1, v2 := a.pop(), a.pop()
		a.push(v1, v2)
	case op >= classfile.OpIadd && op <= classfile.OpDrem:
		a.popN(2)
		a.push(arith[(op-classfile.OpIadd)%4])
	case op >= classfile.OpIneg && op <= classfile.OpDneg:
		a.push(a.pop())
	case op >= classfile.OpIshl && op <= classfile.OpLushr:
		a.pop()
		a.push(a.pop())
	case op >= classfile.OpIand && op <= classfile.OpLxor:
		a.popN(2)
		a.push(arith[(op-classfile.OpIand)%2])
	case op >= classfile.OpI2l && op <= classfile.OpI2s:
		a.pop()
		a.push(conversions[op-classfile.OpI2l])
	case op >= classfile.OpLcmp && op <= classfile.OpDcmpg:
		a.popN(2)
		a.push(Integer)
	case op >= classfile.OpIreturn && op <= classfile.OpAreturn:
		a.popDesc(returnTypes[op-classfile.OpIreturn])
		a.reachable = false
	case op == classfile.OpReturn:
		a.reachable = false
	case op == classfile.OpArraylength:
		a.pop()
		a.push(Integer)
	case op == classfile.OpAthrow:
		a.pop()
		a.reachable = false
	case op == classfile.OpMonitorenter || op == classfile.OpMonitorexit:
		a.pop()
	default:
		a.fail("unsupported instruction %s", classfile.OpcodeName(op))
	}
}

var arith = [4]VType{Integer, Long, Float, Double}

var conversions = [...]VType{
	Long, Float, Double, // i2l i2f i2d
	Integer, Float, Double, // l2i l2f l2d
	Integer, Long, Double, // f2i f2l f2d
	Integer, Long, Float, // d2i d2l d2f
	Integer, Integer, Integer, // i2b i2c i2s
}

var returnTypes = [...]descriptor.Descriptor{
	descriptor.Int, descriptor.Long, descriptor.Float, descriptor.Double, descriptor.Object,
}

// IntInsn emits bipush, sipush or newarray.
func (a *Assembler) IntInsn(op byte, operand int) {
	switch op {
	case classfile.OpBipush:
		v, err := safecast.Conv[int8](operand)
		if err != nil {
			a.setErr(errors.Overflow(errors.PhaseEncoding, operand, "bipush operand"))
		}
		a.emit(op, byte(v))
		a.push(Integer)
	case classfile.OpSipush:
		v, err := safecast.Conv[int16](operand)
		if err != nil {
			a.setErr(errors.Overflow(errors.PhaseEncoding, operand, "sipush operand"))
		}
		a.emit(op, byte(uint16(v)>>8), byte(uint16(v)))
		a.push(Integer)
	case classfile.OpNewarray:
		elem, ok := ArrayElementOfType(operand)
		if !ok {
			a.fail("invalid newarray type %d", operand)
			return
		}
		a.emit(op, byte(operand))
		a.pop()
		a.push(ObjectType("[" + elem.String()))
	default:
		a.fail("%s is not an int instruction", classfile.OpcodeName(op))
	}
}

// VarInsn emits a typed local load or store, using the short forms for
// slots 0-3 and wide for slots above 255.
func (a *Assembler) VarInsn(op byte, slot int) {
	var base, short byte
	load := true
	switch op {
	case classfile.OpIload, classfile.OpLload, classfile.OpFload, classfile.OpDload, classfile.OpAload:
		base, short = classfile.OpIload, classfile.OpIload0
	case classfile.OpIstore, classfile.OpLstore, classfile.OpFstore, classfile.OpDstore, classfile.OpAstore:
		base, short, load = classfile.OpIstore, classfile.OpIstore0, false
	default:
		a.fail("%s is not a local variable instruction", classfile.OpcodeName(op))
		return
	}
	kind := int(op - base)
	switch {
	case slot < 0:
		a.fail("negative local slot %d", slot)
		return
	case slot <= 3:
		a.emit(short + byte(kind*4+slot))
	case slot <= 255:
		a.emit(op, byte(slot))
	default:
		a.emit(classfile.OpWide, op)
		a.emitU2(slot)
	}
	if load {
		v := a.local(slot)
		want := arith[0]
		if kind < 4 {
			want = arith[kind]
		}
		switch {
		case kind == 4 && !v.IsReference():
			a.fail("aload of non-reference local %d (%s)", slot, v)
		case kind < 4 && v.Tag != want.Tag:
			a.fail("%s of local %d holding %s", classfile.OpcodeName(op), slot, v)
		}
		if kind == 4 {
			a.push(v)
		} else {
			a.push(want)
		}
		return
	}
	v := a.pop()
	a.setLocal(slot, v)
}

// TypeInsn emits new, anewarray, checkcast or instanceof.
func (a *Assembler) TypeInsn(op byte, d descriptor.Descriptor) {
	name, err := d.InternalName()
	if err != nil {
		a.setErr(err)
		return
	}
	offset := len(a.code)
	a.emit(op)
	a.emitU2(int(a.pool.Class(name)))
	switch op {
	case classfile.OpNew:
		a.newTypes[offset] = name
		a.push(VType{Tag: ItemUninitialized, Offset: offset})
	case classfile.OpAnewarray:
		a.pop()
		a.push(ObjectType("[" + d.String()))
	case classfile.OpCheckcast:
		a.pop()
		a.push(ObjectType(name))
	case classfile.OpInstanceof:
		a.pop()
		a.push(Integer)
	default:
		a.fail("%s is not a type instruction", classfile.OpcodeName(op))
	}
}

// FieldInsn emits getfield, putfield, getstatic or putstatic.
func (a *Assembler) FieldInsn(op byte, owner, name string, d descriptor.Descriptor) {
	a.emit(op)
	a.emitU2(int(a.pool.Fieldref(owner, name, d.String())))
	switch op {
	case classfile.OpGetstatic:
		a.pushDesc(d)
	case classfile.OpPutstatic:
		a.popDesc(d)
	case classfile.OpGetfield:
		a.pop()
		a.pushDesc(d)
	case classfile.OpPutfield:
		a.popDesc(d)
		a.pop()
	default:
		a.fail("%s is not a field instruction", classfile.OpcodeName(op))
	}
}

// MethodInsn emits invokevirtual, invokespecial, invokestatic or invokeinterface.
func (a *Assembler) MethodInsn(op byte, owner, name string, d descriptor.Descriptor, itf bool) {
	if op == classfile.OpInvokeinterface {
		itf = true
	}
	a.emit(op)
	a.emitU2(int(a.pool.Methodref(owner, name, d.String(), itf)))
	if op == classfile.OpInvokeinterface {
		count := d.ArgumentSlots() + 1
		a.emit(byte(count), 0)
	}
	params := d.Params()
	for i := len(params) - 1; i >= 0; i-- {
		a.popDesc(params[i])
	}
	switch op {
	case classfile.OpInvokestatic:
	case classfile.OpInvokespecial:
		recv := a.pop()
		if name == "<init>" {
			var init VType
			switch recv.Tag {
			case ItemUninitializedThis:
				init = ObjectType(a.method.Owner)
			case ItemUninitialized:
				init = ObjectType(a.newTypes[recv.Offset])
			default:
				a.fail("<init> on initialized receiver %s", recv)
			}
			a.replace(recv, init)
		}
	case classfile.OpInvokevirtual, classfile.OpInvokeinterface:
		a.pop()
	default:
		a.fail("%s is not an invoke instruction", classfile.OpcodeName(op))
	}
	a.pushDesc(d.ReturnType())
}

func (a *Assembler) replace(from, to VType) {
	for i, v := range a.cur.locals {
		if v == from {
			a.cur.locals[i] = to
		}
	}
	for i, v := range a.cur.stack {
		if v == from {
			a.cur.stack[i] = to
		}
	}
}

// InvokeDynamic emits an invokedynamic call site.
func (a *Assembler) InvokeDynamic(name string, d descriptor.Descriptor, bsm constant.MethodHandle, args []constant.Constant) {
	a.emit(classfile.OpInvokedynamic)
	a.emitU2(int(a.pool.InvokeDynamic(name, d.String(), bsm, args)))
	a.emit(0, 0)
	params := d.Params()
	for i := len(params) - 1; i >= 0; i-- {
		a.popDesc(params[i])
	}
	a.pushDesc(d.ReturnType())
}

// Ldc loads c from the constant pool with ldc, ldc_w or ldc2_w.
func (a *Assembler) Ldc(c constant.Constant) {
	idx := int(a.pool.Loadable(c))
	switch {
	case constant.IsWide(c):
		a.emit(classfile.OpLdc2W)
		a.emitU2(idx)
	case idx <= 255:
		a.emit(classfile.OpLdc, byte(idx))
	default:
		a.emit(classfile.OpLdcW)
		a.emitU2(idx)
	}
	a.pushDesc(constant.TypeOf(c))
}

// PushConstant loads c with the most compact instruction.
func (a *Assembler) PushConstant(c constant.Constant) {
	p := SelectConstant(c)
	switch {
	case p.IsLdc():
		a.Ldc(c)
	case p.Op == classfile.OpBipush || p.Op == classfile.OpSipush:
		a.IntInsn(p.Op, int(p.Operand))
	default:
		a.Insn(p.Op)
	}
}

// Jump emits a conditional branch or goto to l.
func (a *Assembler) Jump(op byte, l *Label) {
	insn := len(a.code)
	switch {
	case op >= classfile.OpIfeq && op <= classfile.OpIfle, op == classfile.OpIfnull, op == classfile.OpIfnonnull:
		a.pop()
	case op >= classfile.OpIfIcmpeq && op <= classfile.OpIfAcmpne:
		a.popN(2)
	case op == classfile.OpGoto:
	default:
		a.fail("%s is not a branch instruction", classfile.OpcodeName(op))
		return
	}
	a.emit(op)
	a.flowTo(l)
	if l.bound {
		a.emitS2(l.offset - insn)
	} else {
		a.fixups = append(a.fixups, fixup{insn: insn, at: len(a.code), label: l})
		a.emit(0, 0)
	}
	if op == classfile.OpGoto {
		a.reachable = false
	}
}

func (a *Assembler) flowTo(l *Label) {
	if !l.target {
		l.target = true
		a.labels = append(a.labels, l)
	}
	if l.frame == nil {
		l.frame = a.cur.clone()
		return
	}
	merged, err := a.merge(l.frame, a.cur)
	if err != nil {
		a.setErr(err)
		return
	}
	if l.bound && !sameFrame(merged, l.frame) {
		a.fail("backward branch to offset %d changes the frame", l.offset)
		return
	}
	l.frame = merged
}

// Bind places l at the current offset.
func (a *Assembler) Bind(l *Label) {
	if l.bound {
		a.fail("label bound twice")
		return
	}
	l.bound = true
	l.offset = len(a.code)
	if !a.reachable && !l.target {
		l.target = true
		a.labels = append(a.labels, l)
	}
	switch {
	case l.frame != nil && a.reachable:
		merged, err := a.merge(l.frame, a.cur)
		if err != nil {
			a.setErr(err)
			return
		}
		l.frame = merged
	case l.frame == nil:
		l.frame = a.cur.clone()
	}
	a.cur = l.frame.clone()
	a.reachable = true
}

func (a *Assembler) merge(x, y *frame) (*frame, error) {
	if len(x.stack) != len(y.stack) {
		return nil, errors.New(errors.PhaseEncoding, errors.KindFrame).
			Owner(a.method.Owner).Member(a.method.Name).
			Detail("stack height mismatch at merge: %d vs %d", len(x.stack), len(y.stack)).Build()
	}
	out := &frame{stack: make([]VType, len(x.stack))}
	for i := range x.stack {
		v, ok := mergeType(x.stack[i], y.stack[i])
		if !ok {
			return nil, errors.New(errors.PhaseEncoding, errors.KindFrame).
				Owner(a.method.Owner).Member(a.method.Name).
				Detail("incompatible stack entries at merge: %s vs %s", x.stack[i], y.stack[i]).Build()
		}
		out.stack[i] = v
	}
	n := max(len(x.locals), len(y.locals))
	out.locals = make([]VType, n)
	for i := 0; i < n; i++ {
		xi, yi := Top, Top
		if i < len(x.locals) {
			xi = x.locals[i]
		}
		if i < len(y.locals) {
			yi = y.locals[i]
		}
		out.locals[i], _ = mergeType(xi, yi)
	}
	// A wide value whose second half no longer lines up is unusable.
	for i, v := range out.locals {
		if v.Size() == 2 && (i+1 >= n || out.locals[i+1] != Top) {
			out.locals[i] = Top
		}
	}
	return out, nil
}

func sameFrame(x, y *frame) bool {
	if len(x.stack) != len(y.stack) {
		return false
	}
	for i := range x.stack {
		if x.stack[i] != y.stack[i] {
			return false
		}
	}
	n := max(len(x.locals), len(y.locals))
	for i := 0; i < n; i++ {
		xi, yi := Top, Top
		if i < len(x.locals) {
			xi = x.locals[i]
		}
		if i < len(y.locals) {
			yi = y.locals[i]
		}
		if xi != yi {
			return false
		}
	}
	return true
}

// Finish resolves labels and returns the Code attribute.
func (a *Assembler) Finish() (*classfile.CodeAttribute, error) {
	if a.err != nil {
		return nil, a.err
	}
	if len(a.code) == 0 {
		return nil, errors.New(errors.PhaseEncoding, errors.KindFrame).
			Owner(a.method.Owner).Member(a.method.Name).Detail("empty code").Build()
	}
	if a.reachable {
		return nil, errors.New(errors.PhaseEncoding, errors.KindFrame).
			Owner(a.method.Owner).Member(a.method.Name).Descriptor(a.method.Desc.String()).
			Detail("execution falls off the end of the code").Build()
	}
	for _, f := range a.fixups {
		if !f.label.bound {
			return nil, errors.New(errors.PhaseEncoding, errors.KindFrame).
				Owner(a.method.Owner).Member(a.method.Name).Detail("branch to unbound label").Build()
		}
		delta, err := safecast.Conv[int16](f.label.offset - f.insn)
		if err != nil {
			return nil, errors.Overflow(errors.PhaseEncoding, f.label.offset-f.insn, "branch offset")
		}
		a.code[f.at] = byte(uint16(delta) >> 8)
		a.code[f.at+1] = byte(uint16(delta))
	}
	if len(a.code) > 65535 {
		return nil, errors.Overflow(errors.PhaseEncoding, len(a.code), "code length")
	}
	maxStack, err := safecast.Conv[uint16](a.maxStack)
	if err != nil {
		return nil, errors.Overflow(errors.PhaseEncoding, a.maxStack, "max_stack")
	}
	maxLocals, err := safecast.Conv[uint16](a.maxLocals)
	if err != nil {
		return nil, errors.Overflow(errors.PhaseEncoding, a.maxLocals, "max_locals")
	}
	code := &classfile.CodeAttribute{
		MaxStack:  maxStack,
		MaxLocals: maxLocals,
		Code:      a.code,
	}
	if table := a.stackMapTable(); table != nil {
		code.Attributes = append(code.Attributes, classfile.AttributeInfo{Name: classfile.AttrStackMapTable, Data: table})
	}
	if err := a.pool.Err(); err != nil {
		return nil, fmt.Errorf("assembling %s.%s: %w", a.method.Owner, a.method.Name, err)
	}
	return code, nil
}
