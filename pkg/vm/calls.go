package vm

import (
	"github.com/daimatz/bytecodebuilder/pkg/classfile"
	"github.com/daimatz/bytecodebuilder/pkg/descriptor"
	"github.com/daimatz/bytecodebuilder/pkg/errors"
	"github.com/daimatz/bytecodebuilder/pkg/invoke"
)

func (vm *VM) resolveFieldref(frame *Frame) (*Field, error) {
	ref, err := classfile.ResolveFieldref(frame.Class.file.ConstantPool, frame.ReadU16())
	if err != nil {
		return nil, errors.Wrap(errors.PhaseLinkage, errors.KindInvalidArgument, err, "resolving field reference")
	}
	c, err := vm.resolveClass(frame.Class, ref.ClassName)
	if err != nil {
		return nil, err
	}
	f := c.findField(ref.Name)
	if f == nil || f.Desc.String() != ref.Descriptor {
		return nil, vm.NewJavaException("java/lang/NoSuchFieldError", "%s.%s", c.DisplayName(), ref.Name)
	}
	return f, nil
}

func (vm *VM) executeGetstatic(frame *Frame) (Value, bool, error) {
	f, err := vm.resolveFieldref(frame)
	if err != nil {
		return Value{}, false, err
	}
	if !f.IsStatic() {
		return Value{}, false, vm.NewJavaException("java/lang/IncompatibleClassChangeError", "%s is not static", f.Name)
	}
	v, err := vm.readStatic(vm.threadOf(frame), f)
	if err != nil {
		return Value{}, false, err
	}
	frame.Push(v)
	return Value{}, false, nil
}

func (vm *VM) executePutstatic(frame *Frame) (Value, bool, error) {
	f, err := vm.resolveFieldref(frame)
	if err != nil {
		return Value{}, false, err
	}
	if !f.IsStatic() {
		return Value{}, false, vm.NewJavaException("java/lang/IncompatibleClassChangeError", "%s is not static", f.Name)
	}
	v := frame.Pop()
	if err := f.Class.initialize(vm.threadOf(frame)); err != nil {
		return Value{}, false, err
	}
	f.Class.putStatic(f.Name, v)
	return Value{}, false, nil
}

func (vm *VM) executeGetfield(frame *Frame) (Value, bool, error) {
	f, err := vm.resolveFieldref(frame)
	if err != nil {
		return Value{}, false, err
	}
	ref := frame.Pop()
	obj, ok := ref.Ref.(*JObject)
	if !ok {
		if ref.IsNull() {
			return Value{}, false, vm.NewJavaException("java/lang/NullPointerException", "reading field %s of null", f.Name)
		}
		return Value{}, false, errors.New(errors.PhaseRuntime, errors.KindFrame).
			Value(vm.describe(ref.Ref)).Detail("getfield %s on a non-object", f.Name).Build()
	}
	frame.Push(obj.GetField(f.Name, f.Desc))
	return Value{}, false, nil
}

func (vm *VM) executePutfield(frame *Frame) (Value, bool, error) {
	f, err := vm.resolveFieldref(frame)
	if err != nil {
		return Value{}, false, err
	}
	v := frame.Pop()
	ref := frame.Pop()
	obj, ok := ref.Ref.(*JObject)
	if !ok {
		if ref.IsNull() {
			return Value{}, false, vm.NewJavaException("java/lang/NullPointerException", "writing field %s of null", f.Name)
		}
		return Value{}, false, errors.New(errors.PhaseRuntime, errors.KindFrame).
			Value(vm.describe(ref.Ref)).Detail("putfield %s on a non-object", f.Name).Build()
	}
	obj.SetField(f.Name, v)
	return Value{}, false, nil
}

// methodRef is a resolved method reference operand.
type methodRef struct {
	owner  *Class
	name   string
	desc   descriptor.Descriptor
	method *Method
}

func (vm *VM) resolveMethodref(frame *Frame) (*methodRef, error) {
	ref, err := classfile.ResolveAnyMethodref(frame.Class.file.ConstantPool, frame.ReadU16())
	if err != nil {
		return nil, errors.Wrap(errors.PhaseLinkage, errors.KindInvalidArgument, err, "resolving method reference")
	}
	desc, err := descriptor.Of(ref.Descriptor)
	if err != nil {
		return nil, err
	}
	owner, err := vm.resolveClass(frame.Class, ref.ClassName)
	if err != nil {
		return nil, err
	}
	mr := &methodRef{owner: owner, name: ref.Name, desc: desc}
	if owner.name == classMethodHandle && (ref.Name == "invokeExact" || ref.Name == "invoke") {
		return mr, nil
	}
	if mr.method = owner.findMethod(ref.Name, ref.Descriptor); mr.method == nil {
		return nil, vm.NewJavaException("java/lang/NoSuchMethodError", "%s.%s%s", owner.DisplayName(), ref.Name, ref.Descriptor)
	}
	return mr, nil
}

// pushResult pushes a call's return value unless the method returns void.
func pushResult(frame *Frame, desc descriptor.Descriptor, v Value) (Value, bool, error) {
	if !desc.ReturnType().IsVoid() {
		frame.Push(v)
	}
	return Value{}, false, nil
}

func (vm *VM) executeInvokestatic(frame *Frame) (Value, bool, error) {
	mr, err := vm.resolveMethodref(frame)
	if err != nil {
		return Value{}, false, err
	}
	if !mr.method.IsStatic() {
		return Value{}, false, vm.NewJavaException("java/lang/IncompatibleClassChangeError", "%s is not static", mr.method)
	}
	t := vm.threadOf(frame)
	if err := mr.method.Class.initialize(t); err != nil {
		return Value{}, false, err
	}
	args := frame.PopN(mr.desc.ParamCount())
	r, err := vm.invoke(t, mr.method, args)
	if err != nil {
		return Value{}, false, err
	}
	return pushResult(frame, mr.desc, r)
}

func (vm *VM) executeInvokevirtual(frame *Frame, itf bool) (Value, bool, error) {
	mr, err := vm.resolveMethodref(frame)
	if err != nil {
		return Value{}, false, err
	}
	if itf {
		frame.ReadU16() // count and a zero byte
	}
	t := vm.threadOf(frame)
	args := frame.PopN(mr.desc.ParamCount() + 1)
	if args[0].IsNull() {
		return Value{}, false, vm.NewJavaException("java/lang/NullPointerException", "invoking %s on null", mr.name)
	}
	if mr.method == nil {
		return vm.invokeHandle(t, frame, mr, args)
	}
	impl := mr.method
	if !impl.IsPrivate() {
		rc, err := vm.classOf(args[0].Ref)
		if err != nil {
			return Value{}, false, err
		}
		if impl = rc.selectVirtual(mr.name, mr.desc.String()); impl == nil {
			return Value{}, false, vm.NewJavaException("java/lang/AbstractMethodError", "%s.%s", rc.DisplayName(), mr.name)
		}
	}
	r, err := vm.invoke(t, impl, args)
	if err != nil {
		return Value{}, false, err
	}
	return pushResult(frame, mr.desc, r)
}

// invokeHandle runs MethodHandle.invokeExact and MethodHandle.invoke,
// whose descriptor at the call site is the call type.
func (vm *VM) invokeHandle(t *thread, frame *Frame, mr *methodRef, args []Value) (Value, bool, error) {
	h, ok := args[0].Ref.(invoke.MethodHandle)
	if !ok {
		return Value{}, false, vm.NewJavaException("java/lang/ClassCastException", "%s is not a MethodHandle", vm.describe(args[0].Ref))
	}
	if mr.name == "invokeExact" {
		if h.Type() != mr.desc {
			return Value{}, false, vm.NewJavaException("java/lang/invoke/WrongMethodTypeException",
				"expected %s but found %s", h.Type().DisplayName(), mr.desc.DisplayName())
		}
	} else {
		a, err := h.AsType(mr.desc)
		if err != nil {
			return Value{}, false, vm.NewJavaException("java/lang/invoke/WrongMethodTypeException", "%v", err)
		}
		h = a
	}
	r, err := vm.callExact(t, h, args[1:])
	if err != nil {
		return Value{}, false, err
	}
	return pushResult(frame, mr.desc, r)
}

func (vm *VM) executeInvokespecial(frame *Frame) (Value, bool, error) {
	mr, err := vm.resolveMethodref(frame)
	if err != nil {
		return Value{}, false, err
	}
	if mr.method == nil {
		return Value{}, false, vm.NewJavaException("java/lang/IncompatibleClassChangeError", "invokespecial on %s", mr.name)
	}
	m := mr.method
	cur := frame.Class
	if m.Name != "<init>" && !m.IsPrivate() && !mr.owner.IsInterface() &&
		cur != mr.owner && cur.super != nil && cur.IsSubclassOf(mr.owner) {
		if s := cur.super.selectVirtual(mr.name, mr.desc.String()); s != nil {
			m = s
		}
	}
	t := vm.threadOf(frame)
	args := frame.PopN(mr.desc.ParamCount() + 1)
	if args[0].IsNull() {
		return Value{}, false, vm.NewJavaException("java/lang/NullPointerException", "invoking %s on null", mr.name)
	}
	r, err := vm.invoke(t, m, args)
	if err != nil {
		return Value{}, false, err
	}
	return pushResult(frame, mr.desc, r)
}

func (vm *VM) executeInvokedynamic(frame *Frame) (Value, bool, error) {
	index := frame.ReadU16()
	frame.ReadU16() // two zero bytes
	t := vm.threadOf(frame)
	h, err := vm.callSite(t, frame.Class, index)
	if err != nil {
		if _, ok := err.(*JavaException); ok {
			return Value{}, false, err
		}
		jex := vm.NewJavaException("java/lang/BootstrapMethodError", "%v", err)
		jex.Cause = err
		return Value{}, false, jex
	}
	typ := h.Type()
	args := frame.PopN(typ.ParamCount())
	r, err := vm.callExact(t, h, args)
	if err != nil {
		return Value{}, false, err
	}
	return pushResult(frame, typ, r)
}

func (vm *VM) executeNew(frame *Frame) (Value, bool, error) {
	name, err := classfile.GetClassName(frame.Class.file.ConstantPool, frame.ReadU16())
	if err != nil {
		return Value{}, false, errors.Wrap(errors.PhaseRuntime, errors.KindFrame, err, "new")
	}
	c, err := vm.resolveClass(frame.Class, name)
	if err != nil {
		return Value{}, false, err
	}
	obj, err := vm.allocate(vm.threadOf(frame), c)
	if err != nil {
		return Value{}, false, err
	}
	frame.Push(RefValue(obj))
	return Value{}, false, nil
}
