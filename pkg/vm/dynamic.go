package vm

import (
	"strings"

	"go.uber.org/zap"

	"github.com/daimatz/bytecodebuilder/pkg/classfile"
	"github.com/daimatz/bytecodebuilder/pkg/constant"
	"github.com/daimatz/bytecodebuilder/pkg/descriptor"
	"github.com/daimatz/bytecodebuilder/pkg/errors"
	"github.com/daimatz/bytecodebuilder/pkg/invoke"
)

const classStringConcatFactory = "java/lang/invoke/StringConcatFactory"

// String concatenation recipe tags.
const (
	concatArg      = '\x01'
	concatConstant = '\x02'
)

// BootstrapMethod is a bootstrap method implemented in Go. For a dynamic
// constant it returns the constant's value; for an invokedynamic call site
// it returns the target invoke.MethodHandle. args holds the static
// arguments as Go values.
type BootstrapMethod func(lookup invoke.Lookup, name string, typ descriptor.Descriptor, args []any) (any, error)

// RegisterBootstrap installs fn as the implementation of the static method
// owner.name whenever it is used as a bootstrap method.
func (vm *VM) RegisterBootstrap(owner, name string, fn BootstrapMethod) {
	vm.bootstrapMu.Lock()
	defer vm.bootstrapMu.Unlock()
	vm.bootstraps[owner+"."+name] = fn
}

func (vm *VM) bootstrap(h constant.MethodHandle) (BootstrapMethod, bool) {
	owner, err := h.Owner.InternalName()
	if err != nil {
		return nil, false
	}
	vm.bootstrapMu.RLock()
	defer vm.bootstrapMu.RUnlock()
	fn, ok := vm.bootstraps[owner+"."+h.Name]
	return fn, ok
}

// loadConstant resolves the loadable pool entry at index of c. Results are
// cached per entry; the first resolution to finish wins.
func (vm *VM) loadConstant(t *thread, c *Class, index uint16) (Value, error) {
	c.constMu.Lock()
	v, ok := c.constants[index]
	c.constMu.Unlock()
	if ok {
		return v, nil
	}
	k, err := c.file.Loadable(index)
	if err != nil {
		return Value{}, errors.Wrap(errors.PhaseLinkage, errors.KindInvalidArgument, err, "loading constant")
	}
	v, err = vm.constantValue(t, c, k)
	if err != nil {
		return Value{}, err
	}
	c.constMu.Lock()
	defer c.constMu.Unlock()
	if prev, ok := c.constants[index]; ok {
		return prev, nil
	}
	c.constants[index] = v
	return v, nil
}

// constantValue resolves a loadable constant appearing in c.
func (vm *VM) constantValue(t *thread, c *Class, k constant.Constant) (Value, error) {
	switch k := k.(type) {
	case constant.Int:
		return IntValue(int32(k)), nil
	case constant.Long:
		return LongValue(int64(k)), nil
	case constant.Float:
		return FloatValue(float32(k)), nil
	case constant.Double:
		return DoubleValue(float64(k)), nil
	case constant.String:
		return RefValue(string(k)), nil
	case constant.Type:
		if k.Desc.IsMethod() {
			return RefValue(k.Desc), nil
		}
		cls, err := vm.Lookup(c).findClass(k.Desc)
		if err != nil {
			return Value{}, err
		}
		return RefValue(cls), nil
	case constant.MethodHandle:
		h, err := vm.directHandle(c, k)
		if err != nil {
			return Value{}, err
		}
		return RefValue(h), nil
	case constant.Dynamic:
		return vm.resolveDynamic(t, c, k)
	}
	return Value{}, errors.New(errors.PhaseLinkage, errors.KindUnsupported).
		Value(k).Detail("unsupported constant").Build()
}

// staticArgs resolves bootstrap arguments to Values and their types.
func (vm *VM) staticArgs(t *thread, c *Class, args []constant.Constant) ([]Value, []descriptor.Descriptor, error) {
	vals := make([]Value, len(args))
	types := make([]descriptor.Descriptor, len(args))
	for i, a := range args {
		v, err := vm.constantValue(t, c, a)
		if err != nil {
			return nil, nil, err
		}
		vals[i], types[i] = v, constant.TypeOf(a)
	}
	return vals, types, nil
}

func goArgs(vals []Value, types []descriptor.Descriptor) []any {
	out := make([]any, len(vals))
	for i, v := range vals {
		out[i] = FromValue(types[i], v)
	}
	return out
}

// resolveDynamic computes a dynamic constant. The bootstraps of
// MethodHandles and ConstantBootstraps are built in.
func (vm *VM) resolveDynamic(t *thread, c *Class, k constant.Dynamic) (Value, error) {
	Logger().Debug("resolving dynamic constant",
		zap.String("class", c.name),
		zap.Stringer("constant", k))
	switch k.Bootstrap {
	case constant.BSMClassData:
		return vm.classDataValue(c, k.Type)
	case constant.BSMClassDataAt:
		return vm.classDataAt(c, k)
	case constant.BSMNullConstant:
		if k.Type.IsPrimitive() {
			return Value{}, errors.New(errors.PhaseLinkage, errors.KindInvalidArgument).
				Descriptor(k.Type.String()).Detail("null constant of primitive type").Build()
		}
		return NullValue(), nil
	case constant.BSMPrimitiveClass:
		d, err := descriptor.Of(k.Name)
		if err != nil {
			return Value{}, err
		}
		p, ok := vm.primitiveClass(d)
		if !ok {
			return Value{}, errors.New(errors.PhaseLinkage, errors.KindInvalidArgument).
				Value(k.Name).Detail("not a primitive type").Build()
		}
		return RefValue(p), nil
	case constant.BSMExplicitCast:
		if len(k.Args) != 1 {
			return Value{}, vm.badArgs(k, 1)
		}
		vals, types, err := vm.staticArgs(t, c, k.Args)
		if err != nil {
			return Value{}, err
		}
		return vm.castConstant(vals[0], types[0], k.Type)
	case constant.BSMGetStaticFinal, constant.BSMEnumConstant:
		owner := k.Type
		if len(k.Args) == 1 {
			tk, ok := k.Args[0].(constant.Type)
			if !ok {
				return Value{}, vm.badArgs(k, 1)
			}
			owner = tk.Desc
		}
		l := vm.Lookup(c)
		oc, err := l.findClass(owner)
		if err != nil {
			return Value{}, err
		}
		f, err := l.resolveField(oc, k.Name, k.Type, true)
		if err != nil {
			return Value{}, err
		}
		return vm.readStatic(t, f)
	case constant.BSMInvoke:
		if len(k.Args) < 1 {
			return Value{}, vm.badArgs(k, 1)
		}
		vals, types, err := vm.staticArgs(t, c, k.Args)
		if err != nil {
			return Value{}, err
		}
		h, ok := vals[0].Ref.(invoke.MethodHandle)
		if !ok {
			return Value{}, errors.New(errors.PhaseLinkage, errors.KindInvalidArgument).
				Value(k.Args[0]).Detail("invoke requires a method handle").Build()
		}
		a, err := h.AsType(descriptor.Method(k.Type, types[1:]...))
		if err != nil {
			return Value{}, err
		}
		return vm.callExact(t, a, vals[1:])
	case constant.BSMFieldVarHandle, constant.BSMStaticFieldVarHandle, constant.BSMArrayVarHandle:
		return Value{}, errors.Unsupported(errors.PhaseLinkage, "VarHandle constants")
	}

	vals, types, err := vm.staticArgs(t, c, k.Args)
	if err != nil {
		return Value{}, err
	}
	if fn, ok := vm.bootstrap(k.Bootstrap); ok {
		r, err := fn(vm.Lookup(c), k.Name, k.Type, goArgs(vals, types))
		if err != nil {
			return Value{}, vm.bootstrapError(k.Bootstrap, err)
		}
		return ToValue(k.Type, r)
	}
	typeArg, err := vm.Lookup(c).findClass(k.Type)
	if err != nil {
		return Value{}, err
	}
	r, err := vm.callBootstrap(t, c, k.Bootstrap, k.Name, RefValue(typeArg), descriptor.ClassType, vals, types)
	if err != nil {
		return Value{}, err
	}
	return vm.castConstant(r, descriptor.Object, k.Type)
}

// callBootstrap invokes a bootstrap method defined in bytecode with the
// lookup, name, type and static arguments, returning an Object.
func (vm *VM) callBootstrap(t *thread, c *Class, bsm constant.MethodHandle, name string, typ Value, typType descriptor.Descriptor, vals []Value, types []descriptor.Descriptor) (Value, error) {
	h, err := vm.directHandle(c, bsm)
	if err != nil {
		return Value{}, err
	}
	params := append([]descriptor.Descriptor{descriptor.Lookup, descriptor.String, typType}, types...)
	a, err := h.adapt(descriptor.Method(descriptor.Object, params...))
	if err != nil {
		return Value{}, vm.bootstrapError(bsm, err)
	}
	args := append([]Value{RefValue(vm.Lookup(c)), RefValue(name), typ}, vals...)
	r, err := a.call(t, args)
	if err != nil {
		if _, ok := err.(*JavaException); ok {
			return Value{}, err
		}
		return Value{}, vm.bootstrapError(bsm, err)
	}
	return r, nil
}

func (vm *VM) bootstrapError(bsm constant.MethodHandle, err error) error {
	return errors.New(errors.PhaseLinkage, errors.KindInvalidArgument).
		Owner(bsm.Owner.String()).Member(bsm.Name).Cause(err).
		Detail("bootstrap method failed").Build()
}

func (vm *VM) badArgs(k constant.Dynamic, want int) error {
	return errors.New(errors.PhaseLinkage, errors.KindInvalidArgument).
		Member(k.Bootstrap.Name).Value(len(k.Args)).
		Detail("expected %d static arguments", want).Build()
}

// classDataValue converts the class data of c to a Value of type typ. A
// []any becomes an Object array.
func (vm *VM) classDataValue(c *Class, typ descriptor.Descriptor) (Value, error) {
	data := c.classData
	if data == nil {
		if typ.IsPrimitive() {
			return zeroValue(typ), nil
		}
		return NullValue(), nil
	}
	if list, ok := data.([]any); ok {
		arr := NewArray(descriptor.ObjectArray, len(list))
		for i, e := range list {
			v, err := ToValue(descriptor.Object, e)
			if err != nil {
				return Value{}, err
			}
			arr.Elements[i] = v
		}
		return RefValue(arr), nil
	}
	v, err := ToValue(descriptor.Object, data)
	if err != nil {
		return Value{}, err
	}
	return vm.castConstant(v, descriptor.Object, typ)
}

func (vm *VM) classDataAt(c *Class, k constant.Dynamic) (Value, error) {
	if len(k.Args) != 1 {
		return Value{}, vm.badArgs(k, 1)
	}
	idx, ok := k.Args[0].(constant.Int)
	if !ok {
		return Value{}, errors.New(errors.PhaseLinkage, errors.KindClassData).
			Owner(c.name).Value(k.Args[0]).Detail("class data index must be an int").Build()
	}
	list, ok := c.classData.([]any)
	if !ok {
		return Value{}, errors.New(errors.PhaseLinkage, errors.KindClassData).
			Owner(c.name).Detail("class data is not a list").Build()
	}
	if idx < 0 || int(idx) >= len(list) {
		return Value{}, errors.New(errors.PhaseLinkage, errors.KindClassData).
			Owner(c.name).Value(int(idx)).Detail("class data index out of range [0,%d)", len(list)).Build()
	}
	v, err := ToValue(descriptor.Object, list[idx])
	if err != nil {
		return Value{}, err
	}
	return vm.castConstant(v, descriptor.Object, k.Type)
}

// callSite links the invokedynamic call site at index of c. Linked targets
// are cached per call site.
func (vm *VM) callSite(t *thread, c *Class, index uint16) (invoke.MethodHandle, error) {
	c.constMu.Lock()
	h, ok := c.callSites[index]
	c.constMu.Unlock()
	if ok {
		return h, nil
	}
	h, err := vm.linkCallSite(t, c, index)
	if err != nil {
		return nil, err
	}
	c.constMu.Lock()
	defer c.constMu.Unlock()
	if prev, ok := c.callSites[index]; ok {
		return prev, nil
	}
	c.callSites[index] = h
	return h, nil
}

func (vm *VM) linkCallSite(t *thread, c *Class, index uint16) (invoke.MethodHandle, error) {
	pool := c.file.ConstantPool
	ref, err := classfile.ResolveDynamic(pool, index)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseLinkage, errors.KindInvalidArgument, err, "resolving call site")
	}
	typ, err := descriptor.Of(ref.Descriptor)
	if err != nil {
		return nil, err
	}
	if int(ref.BootstrapIndex) >= len(c.file.BootstrapMethods) {
		return nil, errors.New(errors.PhaseLinkage, errors.KindInvalidArgument).
			Owner(c.name).Value(ref.BootstrapIndex).Detail("bootstrap method index out of range").Build()
	}
	bm := c.file.BootstrapMethods[ref.BootstrapIndex]
	bsm, err := classfile.ResolveMethodHandle(pool, bm.MethodRef)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseLinkage, errors.KindInvalidArgument, err, "resolving bootstrap method")
	}
	consts := make([]constant.Constant, len(bm.BootstrapArguments))
	for i, idx := range bm.BootstrapArguments {
		if consts[i], err = c.file.Loadable(idx); err != nil {
			return nil, errors.Wrap(errors.PhaseLinkage, errors.KindInvalidArgument, err, "loading bootstrap argument")
		}
	}
	Logger().Debug("linking call site",
		zap.String("class", c.name),
		zap.String("name", ref.Name),
		zap.Stringer("bootstrap", bsm))

	if owner, _ := bsm.Owner.InternalName(); owner == classStringConcatFactory {
		return vm.stringConcat(t, c, bsm.Name, typ, consts)
	}
	vals, types, err := vm.staticArgs(t, c, consts)
	if err != nil {
		return nil, err
	}
	var target any
	if fn, ok := vm.bootstrap(bsm); ok {
		if target, err = fn(vm.Lookup(c), ref.Name, typ, goArgs(vals, types)); err != nil {
			return nil, vm.bootstrapError(bsm, err)
		}
	} else {
		r, err := vm.callBootstrap(t, c, bsm, ref.Name, RefValue(typ), descriptor.MethodType, vals, types)
		if err != nil {
			return nil, err
		}
		target = r.Ref
		if obj, ok := target.(*JObject); ok && obj.Class.IsSubclassOf(vm.mustBuiltin(classCallSite)) {
			target = obj.GetField(callSiteTarget, descriptor.MethodHandle).Ref
		}
	}
	h, ok := target.(invoke.MethodHandle)
	if !ok {
		return nil, vm.bootstrapError(bsm, errors.New(errors.PhaseLinkage, errors.KindInvalidArgument).
			Value(vm.describe(target)).Detail("call site bootstrap must produce a method handle").Build())
	}
	if h.Type() != typ {
		return h.AsType(typ)
	}
	return h, nil
}

// stringConcat links StringConcatFactory call sites. makeConcat joins every
// argument; makeConcatWithConstants follows its recipe.
func (vm *VM) stringConcat(t *thread, c *Class, name string, typ descriptor.Descriptor, consts []constant.Constant) (invoke.MethodHandle, error) {
	var recipe string
	switch name {
	case "makeConcat":
		recipe = strings.Repeat(string(concatArg), typ.ParamCount())
	case "makeConcatWithConstants":
		var s constant.String
		ok := len(consts) > 0
		if ok {
			s, ok = consts[0].(constant.String)
		}
		if !ok {
			return nil, errors.New(errors.PhaseLinkage, errors.KindInvalidArgument).
				Member(name).Detail("missing recipe").Build()
		}
		recipe, consts = string(s), consts[1:]
	default:
		return nil, errors.Unsupported(errors.PhaseLinkage, "StringConcatFactory."+name)
	}
	vals, types, err := vm.staticArgs(t, c, consts)
	if err != nil {
		return nil, err
	}
	params := typ.Params()
	return &MethodHandle{
		vm:   vm,
		typ:  typ,
		name: "concat",
		call: func(th *thread, args []Value) (Value, error) {
			var b strings.Builder
			ai, ci := 0, 0
			for _, r := range recipe {
				var (
					s   string
					err error
				)
				switch r {
				case concatArg:
					if ai >= len(args) {
						return Value{}, vm.NewJavaException("java/lang/IllegalArgumentException", "recipe needs more arguments")
					}
					s, err = vm.formatTyped(th, args[ai], params[ai])
					ai++
				case concatConstant:
					if ci >= len(vals) {
						return Value{}, vm.NewJavaException("java/lang/IllegalArgumentException", "recipe needs more constants")
					}
					s, err = vm.formatTyped(th, vals[ci], types[ci])
					ci++
				default:
					s = string(r)
				}
				if err != nil {
					return Value{}, err
				}
				b.WriteString(s)
			}
			return RefValue(b.String()), nil
		},
	}, nil
}
