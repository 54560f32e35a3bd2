package vm

import (
	"github.com/daimatz/bytecodebuilder/pkg/classfile"
	"github.com/daimatz/bytecodebuilder/pkg/constant"
	"github.com/daimatz/bytecodebuilder/pkg/descriptor"
	"github.com/daimatz/bytecodebuilder/pkg/errors"
	"github.com/daimatz/bytecodebuilder/pkg/invoke"
)

// MethodHandle is the VM's implementation of invoke.MethodHandle. Direct
// handles wrap a method or field; adapted handles wrap another handle.
type MethodHandle struct {
	vm   *VM
	typ  descriptor.Descriptor
	name string
	call func(t *thread, args []Value) (Value, error)
}

var _ invoke.MethodHandle = (*MethodHandle)(nil)

// Type returns the method type of the handle.
func (h *MethodHandle) Type() descriptor.Descriptor { return h.typ }

func (h *MethodHandle) String() string {
	return "MethodHandle" + h.typ.DisplayName()
}

// AsType returns a handle adapting arguments and the return value to t.
func (h *MethodHandle) AsType(t descriptor.Descriptor) (invoke.MethodHandle, error) {
	a, err := h.adapt(t)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (h *MethodHandle) adapt(t descriptor.Descriptor) (*MethodHandle, error) {
	if t == h.typ {
		return h, nil
	}
	vm := h.vm
	wrongType := func(detail string, args ...any) error {
		return errors.New(errors.PhaseLinkage, errors.KindWrongMethodType).
			Descriptor(t.String()).Value(h.typ.String()).Detail(detail, args...).Build()
	}
	if !t.IsMethod() {
		return nil, wrongType("not a method type")
	}
	from, to := t.Params(), h.typ.Params()
	if len(from) != len(to) {
		return nil, wrongType("cannot convert %s to %s: arity differs", h.typ.DisplayName(), t.DisplayName())
	}
	for i := range from {
		if !vm.convertible(from[i], to[i]) {
			return nil, wrongType("parameter %d: cannot convert %s to %s", i, from[i].DisplayName(), to[i].DisplayName())
		}
	}
	ret, newRet := h.typ.ReturnType(), t.ReturnType()
	if !ret.IsVoid() && !newRet.IsVoid() && !vm.convertible(ret, newRet) {
		return nil, wrongType("return: cannot convert %s to %s", ret.DisplayName(), newRet.DisplayName())
	}
	target := h
	return &MethodHandle{
		vm:   vm,
		typ:  t,
		name: h.name,
		call: func(th *thread, args []Value) (Value, error) {
			conv := make([]Value, len(args))
			for i, a := range args {
				v, err := vm.convert(a, from[i], to[i])
				if err != nil {
					return Value{}, err
				}
				conv[i] = v
			}
			r, err := target.call(th, conv)
			if err != nil {
				return Value{}, err
			}
			switch {
			case newRet.IsVoid():
				return Value{}, nil
			case ret.IsVoid():
				return zeroValue(newRet), nil
			}
			return vm.convert(r, ret, newRet)
		},
	}, nil
}

// InvokeExact calls the handle. callType must equal Type.
func (h *MethodHandle) InvokeExact(callType descriptor.Descriptor, args ...any) (any, error) {
	if callType != h.typ {
		return nil, errors.New(errors.PhaseRuntime, errors.KindWrongMethodType).
			Descriptor(callType.String()).Value(h.typ.String()).
			Detail("expected %s but found %s", h.typ.DisplayName(), callType.DisplayName()).Build()
	}
	return h.invokeGo(args)
}

// Invoke calls the handle after adapting it to callType.
func (h *MethodHandle) Invoke(callType descriptor.Descriptor, args ...any) (any, error) {
	a, err := h.adapt(callType)
	if err != nil {
		return nil, err
	}
	return a.invokeGo(args)
}

func (h *MethodHandle) invokeGo(args []any) (any, error) {
	params := h.typ.Params()
	if len(args) != len(params) {
		return nil, errors.New(errors.PhaseRuntime, errors.KindWrongMethodType).
			Descriptor(h.typ.String()).Value(len(args)).
			Detail("expected %d arguments", len(params)).Build()
	}
	vals := make([]Value, len(args))
	for i, a := range args {
		v, err := ToValue(params[i], a)
		if err != nil {
			return nil, err
		}
		vals[i] = v
	}
	r, err := h.call(h.vm.newThread(), vals)
	if err != nil {
		return nil, err
	}
	return FromValue(h.typ.ReturnType(), r), nil
}

// callExact calls any invoke.MethodHandle with Values matching its type.
func (vm *VM) callExact(t *thread, h invoke.MethodHandle, args []Value) (Value, error) {
	if mh, ok := h.(*MethodHandle); ok {
		return mh.call(t, args)
	}
	typ := h.Type()
	anys := make([]any, len(args))
	for i, a := range args {
		anys[i] = FromValue(typ.Param(i), a)
	}
	r, err := h.InvokeExact(typ, anys...)
	if err != nil {
		return Value{}, err
	}
	return ToValue(typ.ReturnType(), r)
}

// NativeHandle returns a handle of type typ implemented by fn. fn receives
// and returns Go values as described by FromValue and ToValue.
func (vm *VM) NativeHandle(typ descriptor.Descriptor, fn func(args []any) (any, error)) *MethodHandle {
	params := typ.Params()
	ret := typ.ReturnType()
	return &MethodHandle{
		vm:   vm,
		typ:  typ,
		name: "native",
		call: func(_ *thread, args []Value) (Value, error) {
			anys := make([]any, len(args))
			for i, a := range args {
				anys[i] = FromValue(params[i], a)
			}
			r, err := fn(anys)
			if err != nil {
				return Value{}, err
			}
			return ToValue(ret, r)
		},
	}
}

func (vm *VM) methodHandle(m *Method, typ descriptor.Descriptor, call func(t *thread, args []Value) (Value, error)) *MethodHandle {
	return &MethodHandle{vm: vm, typ: typ, name: m.Class.name + "." + m.Name, call: call}
}

func (vm *VM) staticHandle(m *Method) *MethodHandle {
	return vm.methodHandle(m, m.Desc, func(t *thread, args []Value) (Value, error) {
		if err := m.Class.initialize(t); err != nil {
			return Value{}, err
		}
		return vm.invoke(t, m, args)
	})
}

func (vm *VM) virtualHandle(owner *Class, m *Method) *MethodHandle {
	typ := m.Desc.InsertParams(0, owner.Descriptor())
	return vm.methodHandle(m, typ, func(t *thread, args []Value) (Value, error) {
		recv := args[0]
		if recv.IsNull() {
			return Value{}, vm.NewJavaException("java/lang/NullPointerException", "receiver of %s is null", m.Name)
		}
		rc, err := vm.classOf(recv.Ref)
		if err != nil {
			return Value{}, err
		}
		impl := rc.selectVirtual(m.Name, m.Desc.String())
		if impl == nil {
			impl = m
		}
		return vm.invoke(t, impl, args)
	})
}

func (vm *VM) specialHandle(owner *Class, m *Method) *MethodHandle {
	typ := m.Desc.InsertParams(0, owner.Descriptor())
	return vm.methodHandle(m, typ, func(t *thread, args []Value) (Value, error) {
		if args[0].IsNull() {
			return Value{}, vm.NewJavaException("java/lang/NullPointerException", "receiver of %s is null", m.Name)
		}
		return vm.invoke(t, m, args)
	})
}

func (vm *VM) constructorHandle(owner *Class, m *Method) *MethodHandle {
	typ := m.Desc.ChangeReturnType(owner.Descriptor())
	return vm.methodHandle(m, typ, func(t *thread, args []Value) (Value, error) {
		obj, err := vm.allocate(t, owner)
		if err != nil {
			return Value{}, err
		}
		full := append([]Value{RefValue(obj)}, args...)
		if _, err := vm.invoke(t, m, full); err != nil {
			return Value{}, err
		}
		return RefValue(obj), nil
	})
}

func (vm *VM) fieldHandle(kind constant.Kind, owner *Class, f *Field) *MethodHandle {
	h := &MethodHandle{vm: vm, name: owner.name + "." + f.Name}
	switch kind {
	case constant.Getter:
		h.typ = descriptor.Method(f.Desc, owner.Descriptor())
		h.call = func(t *thread, args []Value) (Value, error) {
			obj, ok := args[0].Ref.(*JObject)
			if !ok {
				return Value{}, vm.NewJavaException("java/lang/NullPointerException", "reading field %s", f.Name)
			}
			return obj.GetField(f.Name, f.Desc), nil
		}
	case constant.Setter:
		h.typ = descriptor.Method(descriptor.Void, owner.Descriptor(), f.Desc)
		h.call = func(t *thread, args []Value) (Value, error) {
			obj, ok := args[0].Ref.(*JObject)
			if !ok {
				return Value{}, vm.NewJavaException("java/lang/NullPointerException", "writing field %s", f.Name)
			}
			obj.SetField(f.Name, args[1])
			return Value{}, nil
		}
	case constant.StaticGetter:
		h.typ = descriptor.Method(f.Desc)
		h.call = func(t *thread, _ []Value) (Value, error) {
			return vm.readStatic(t, f)
		}
	case constant.StaticSetter:
		h.typ = descriptor.Method(descriptor.Void, f.Desc)
		h.call = func(t *thread, args []Value) (Value, error) {
			if err := f.Class.initialize(t); err != nil {
				return Value{}, err
			}
			f.Class.putStatic(f.Name, args[0])
			return Value{}, nil
		}
	}
	return h
}

// readStatic initializes the declaring class of f and reads it.
func (vm *VM) readStatic(t *thread, f *Field) (Value, error) {
	if err := f.Class.initialize(t); err != nil {
		return Value{}, err
	}
	if v, ok := f.Class.getStatic(f.Name); ok {
		return v, nil
	}
	return zeroValue(f.Desc), nil
}

// allocate creates an uninitialized instance of c after initializing c.
func (vm *VM) allocate(t *thread, c *Class) (*JObject, error) {
	if c.IsAbstract() || c.IsInterface() || c.valueClass {
		return nil, vm.NewJavaException("java/lang/InstantiationError", "%s", c.DisplayName())
	}
	if err := c.initialize(t); err != nil {
		return nil, err
	}
	return NewObject(c), nil
}

// directHandle resolves a method handle constant appearing in from.
func (vm *VM) directHandle(from *Class, k constant.MethodHandle) (*MethodHandle, error) {
	ownerName, err := k.Owner.InternalName()
	if err != nil {
		return nil, err
	}
	owner, err := vm.resolveClass(from, ownerName)
	if err != nil {
		return nil, err
	}
	l := vm.Lookup(from)
	if k.Kind.IsField() {
		f, err := l.resolveField(owner, k.Name, k.Type, k.Kind == constant.StaticGetter || k.Kind == constant.StaticSetter)
		if err != nil {
			return nil, err
		}
		return vm.fieldHandle(k.Kind, owner, f), nil
	}
	m, err := l.resolveMethod(owner, k.Name, k.Type)
	if err != nil {
		return nil, err
	}
	wantStatic := k.Kind == constant.Static || k.Kind == constant.InterfaceStatic
	if m.IsStatic() != wantStatic {
		return nil, errors.New(errors.PhaseLinkage, errors.KindIllegalAccess).
			Owner(owner.name).Member(k.Name).Descriptor(k.Type.String()).
			Detail("%s handle on a method that is static=%v", k.Kind, m.IsStatic()).Build()
	}
	switch k.Kind {
	case constant.Static, constant.InterfaceStatic:
		return vm.staticHandle(m), nil
	case constant.Virtual, constant.InterfaceVirtual:
		return vm.virtualHandle(owner, m), nil
	case constant.Special, constant.InterfaceSpecial:
		return vm.specialHandle(owner, m), nil
	case constant.Constructor:
		return vm.constructorHandle(owner, m), nil
	}
	return nil, errors.New(errors.PhaseLinkage, errors.KindInvalidInvocationKind).
		Value(k.Kind.String()).Detail("unsupported handle kind").Build()
}

func accessString(flags uint16) string {
	switch {
	case flags&classfile.AccPublic != 0:
		return "public"
	case flags&classfile.AccPrivate != 0:
		return "private"
	case flags&classfile.AccProtected != 0:
		return "protected"
	}
	return "package-private"
}
