package vm

import (
	"fmt"
	"math"
	"strconv"
	"unicode/utf16"

	"github.com/daimatz/bytecodebuilder/pkg/classfile"
	"github.com/daimatz/bytecodebuilder/pkg/descriptor"
	"github.com/daimatz/bytecodebuilder/pkg/invoke"
	"github.com/daimatz/bytecodebuilder/pkg/native"
)

const (
	classObject       = "java/lang/Object"
	classString       = native.StringClass
	classClass        = "java/lang/Class"
	classNumber       = "java/lang/Number"
	classThrowable    = "java/lang/Throwable"
	classSystem       = "java/lang/System"
	classPrintStream  = "java/io/PrintStream"
	classMethodHandle = "java/lang/invoke/MethodHandle"
	classMethodType   = "java/lang/invoke/MethodType"
	classLookup       = "java/lang/invoke/MethodHandles$Lookup"
	classCallSite     = "java/lang/invoke/CallSite"

	throwableMessage = "message"
	callSiteTarget   = "target"
)

var stringType = descriptor.String

const (
	accPublicClass     = classfile.AccPublic | classfile.AccSuper
	accFinalClass      = classfile.AccPublic | classfile.AccSuper | classfile.AccFinal
	accAbstractClass   = classfile.AccPublic | classfile.AccSuper | classfile.AccAbstract
	accPublicInterface = classfile.AccPublic | classfile.AccInterface | classfile.AccAbstract
)

type builtin struct {
	name       string
	super      string
	interfaces []string
	access     uint16
	value      bool
	methods    []nativeDecl
}

type nativeDecl struct {
	name   string
	desc   string
	access uint16
	fn     NativeMethod
}

func method(name, desc string, fn NativeMethod) nativeDecl {
	return nativeDecl{name: name, desc: desc, access: classfile.AccPublic | classfile.AccNative, fn: fn}
}

func staticMethod(name, desc string, fn NativeMethod) nativeDecl {
	return nativeDecl{name: name, desc: desc, access: classfile.AccPublic | classfile.AccStatic | classfile.AccNative, fn: fn}
}

func abstractMethod(name, desc string) nativeDecl {
	return nativeDecl{name: name, desc: desc, access: classfile.AccPublic | classfile.AccAbstract}
}

// builtins lists the library classes the VM provides without class files,
// supertypes before subtypes.
func builtins() []builtin {
	var out []builtin
	out = append(out,
		builtin{name: classObject, access: accPublicClass, methods: []nativeDecl{
			method("<init>", "()V", func(*thread, []Value) (Value, error) { return Value{}, nil }),
			method("toString", "()Ljava/lang/String;", objectToString),
			method("hashCode", "()I", objectHashCode),
			method("equals", "(Ljava/lang/Object;)Z", objectEquals),
			method("getClass", "()Ljava/lang/Class;", objectGetClass),
		}},
		builtin{name: "java/lang/Comparable", access: accPublicInterface, methods: []nativeDecl{
			abstractMethod("compareTo", "(Ljava/lang/Object;)I"),
		}},
		builtin{name: "java/lang/CharSequence", access: accPublicInterface, methods: []nativeDecl{
			abstractMethod("length", "()I"),
			abstractMethod("charAt", "(I)C"),
		}},
		builtin{name: classString, super: classObject, interfaces: []string{"java/lang/Comparable", "java/lang/CharSequence"}, access: accFinalClass, value: true, methods: stringMethods()},
		builtin{name: classNumber, super: classObject, access: accAbstractClass, methods: []nativeDecl{
			method("<init>", "()V", func(*thread, []Value) (Value, error) { return Value{}, nil }),
			method("intValue", "()I", numberValue(descriptor.Int)),
			method("longValue", "()J", numberValue(descriptor.Long)),
			method("floatValue", "()F", numberValue(descriptor.Float)),
			method("doubleValue", "()D", numberValue(descriptor.Double)),
			method("byteValue", "()B", numberValue(descriptor.Byte)),
			method("shortValue", "()S", numberValue(descriptor.Short)),
		}},
	)
	out = append(out, boxBuiltins()...)
	out = append(out,
		builtin{name: classClass, super: classObject, access: accFinalClass, value: true, methods: []nativeDecl{
			method("getName", "()Ljava/lang/String;", func(_ *thread, args []Value) (Value, error) {
				return RefValue(args[0].Ref.(*Class).DisplayName()), nil
			}),
			method("isInterface", "()Z", func(_ *thread, args []Value) (Value, error) {
				return boolValue(args[0].Ref.(*Class).IsInterface()), nil
			}),
			method("isHidden", "()Z", func(_ *thread, args []Value) (Value, error) {
				return boolValue(args[0].Ref.(*Class).IsHidden()), nil
			}),
		}},
		builtin{name: classThrowable, super: classObject, access: accPublicClass, methods: []nativeDecl{
			method("<init>", "()V", func(*thread, []Value) (Value, error) { return Value{}, nil }),
			method("<init>", "(Ljava/lang/String;)V", func(_ *thread, args []Value) (Value, error) {
				args[0].Ref.(*JObject).SetField(throwableMessage, args[1])
				return Value{}, nil
			}),
			method("getMessage", "()Ljava/lang/String;", func(_ *thread, args []Value) (Value, error) {
				return args[0].Ref.(*JObject).GetField(throwableMessage, stringType), nil
			}),
			method("toString", "()Ljava/lang/String;", func(_ *thread, args []Value) (Value, error) {
				obj := args[0].Ref.(*JObject)
				s := obj.Class.DisplayName()
				if msg, ok := obj.GetField(throwableMessage, stringType).Ref.(string); ok {
					s += ": " + msg
				}
				return RefValue(s), nil
			}),
		}},
	)
	for _, e := range [][2]string{
		{"java/lang/Exception", classThrowable},
		{"java/lang/Error", classThrowable},
		{"java/lang/RuntimeException", "java/lang/Exception"},
		{"java/lang/ArithmeticException", "java/lang/RuntimeException"},
		{"java/lang/NullPointerException", "java/lang/RuntimeException"},
		{"java/lang/ClassCastException", "java/lang/RuntimeException"},
		{"java/lang/IndexOutOfBoundsException", "java/lang/RuntimeException"},
		{"java/lang/ArrayIndexOutOfBoundsException", "java/lang/IndexOutOfBoundsException"},
		{"java/lang/StringIndexOutOfBoundsException", "java/lang/IndexOutOfBoundsException"},
		{"java/lang/NegativeArraySizeException", "java/lang/RuntimeException"},
		{"java/lang/ArrayStoreException", "java/lang/RuntimeException"},
		{"java/lang/IllegalArgumentException", "java/lang/RuntimeException"},
		{"java/lang/NumberFormatException", "java/lang/IllegalArgumentException"},
		{"java/lang/IllegalStateException", "java/lang/RuntimeException"},
		{"java/lang/UnsupportedOperationException", "java/lang/RuntimeException"},
		{"java/lang/invoke/WrongMethodTypeException", "java/lang/RuntimeException"},
		{"java/lang/LinkageError", "java/lang/Error"},
		{"java/lang/ExceptionInInitializerError", "java/lang/LinkageError"},
		{"java/lang/BootstrapMethodError", "java/lang/LinkageError"},
		{"java/lang/IncompatibleClassChangeError", "java/lang/LinkageError"},
		{"java/lang/AbstractMethodError", "java/lang/IncompatibleClassChangeError"},
		{"java/lang/InstantiationError", "java/lang/IncompatibleClassChangeError"},
		{"java/lang/NoSuchFieldError", "java/lang/IncompatibleClassChangeError"},
		{"java/lang/NoSuchMethodError", "java/lang/IncompatibleClassChangeError"},
		{"java/lang/VirtualMachineError", "java/lang/Error"},
		{"java/lang/StackOverflowError", "java/lang/VirtualMachineError"},
	} {
		out = append(out, builtin{name: e[0], super: e[1], access: accPublicClass})
	}
	out = append(out,
		builtin{name: classPrintStream, super: classObject, access: accPublicClass, value: true, methods: printStreamMethods()},
		builtin{name: classSystem, super: classObject, access: accFinalClass},
		builtin{name: classMethodType, super: classObject, access: accFinalClass, value: true, methods: []nativeDecl{
			method("parameterCount", "()I", func(_ *thread, args []Value) (Value, error) {
				return IntValue(int32(args[0].Ref.(descriptor.Descriptor).ParamCount())), nil
			}),
		}},
		builtin{name: classMethodHandle, super: classObject, access: accAbstractClass, value: true, methods: []nativeDecl{
			method("type", "()Ljava/lang/invoke/MethodType;", func(_ *thread, args []Value) (Value, error) {
				return RefValue(args[0].Ref.(invoke.MethodHandle).Type()), nil
			}),
			method("asType", "(Ljava/lang/invoke/MethodType;)Ljava/lang/invoke/MethodHandle;", func(t *thread, args []Value) (Value, error) {
				h, err := args[0].Ref.(invoke.MethodHandle).AsType(args[1].Ref.(descriptor.Descriptor))
				if err != nil {
					return Value{}, t.vm.NewJavaException("java/lang/invoke/WrongMethodTypeException", "%v", err)
				}
				return RefValue(h), nil
			}),
		}},
		builtin{name: classLookup, super: classObject, access: accFinalClass, value: true, methods: []nativeDecl{
			method("lookupClass", "()Ljava/lang/Class;", func(_ *thread, args []Value) (Value, error) {
				return RefValue(args[0].Ref.(*Lookup).class), nil
			}),
		}},
		builtin{name: classCallSite, super: classObject, access: accAbstractClass, methods: []nativeDecl{
			method("getTarget", "()Ljava/lang/invoke/MethodHandle;", func(_ *thread, args []Value) (Value, error) {
				return args[0].Ref.(*JObject).GetField(callSiteTarget, descriptor.MethodHandle), nil
			}),
		}},
		builtin{name: "java/lang/invoke/ConstantCallSite", super: classCallSite, access: accPublicClass, methods: []nativeDecl{
			method("<init>", "(Ljava/lang/invoke/MethodHandle;)V", func(t *thread, args []Value) (Value, error) {
				if args[1].IsNull() {
					return Value{}, t.vm.NewJavaException("java/lang/NullPointerException", "call site target")
				}
				args[0].Ref.(*JObject).SetField(callSiteTarget, args[1])
				return Value{}, nil
			}),
		}},
		builtin{name: "java/lang/Runnable", access: accPublicInterface, methods: []nativeDecl{
			abstractMethod("run", "()V"),
		}},
		builtin{name: "java/util/concurrent/Callable", access: accPublicInterface, methods: []nativeDecl{
			abstractMethod("call", "()Ljava/lang/Object;"),
		}},
		builtin{name: "java/util/function/Supplier", access: accPublicInterface, methods: []nativeDecl{
			abstractMethod("get", "()Ljava/lang/Object;"),
		}},
		builtin{name: "java/util/function/Function", access: accPublicInterface, methods: []nativeDecl{
			abstractMethod("apply", "(Ljava/lang/Object;)Ljava/lang/Object;"),
		}},
		builtin{name: "java/util/function/UnaryOperator", interfaces: []string{"java/util/function/Function"}, access: accPublicInterface},
		builtin{name: "java/util/function/BiFunction", access: accPublicInterface, methods: []nativeDecl{
			abstractMethod("apply", "(Ljava/lang/Object;Ljava/lang/Object;)Ljava/lang/Object;"),
		}},
		builtin{name: "java/util/function/Predicate", access: accPublicInterface, methods: []nativeDecl{
			abstractMethod("test", "(Ljava/lang/Object;)Z"),
		}},
		builtin{name: "java/util/function/IntUnaryOperator", access: accPublicInterface, methods: []nativeDecl{
			abstractMethod("applyAsInt", "(I)I"),
		}},
		builtin{name: "java/util/function/IntBinaryOperator", access: accPublicInterface, methods: []nativeDecl{
			abstractMethod("applyAsInt", "(II)I"),
		}},
		builtin{name: "java/util/Comparator", access: accPublicInterface, methods: []nativeDecl{
			abstractMethod("compare", "(Ljava/lang/Object;Ljava/lang/Object;)I"),
			abstractMethod("equals", "(Ljava/lang/Object;)Z"),
		}},
	)
	return out
}

func boxBuiltins() []builtin {
	boxes := []struct {
		name   string
		prim   descriptor.Descriptor
		number bool
	}{
		{native.IntegerClass, descriptor.Int, true},
		{native.LongClass, descriptor.Long, true},
		{native.FloatClass, descriptor.Float, true},
		{native.DoubleClass, descriptor.Double, true},
		{native.ByteClass, descriptor.Byte, true},
		{native.ShortClass, descriptor.Short, true},
		{native.BooleanClass, descriptor.Boolean, false},
		{native.CharacterClass, descriptor.Char, false},
	}
	out := make([]builtin, 0, len(boxes))
	for _, b := range boxes {
		prim := b.prim
		self := descriptor.Class(b.name)
		methods := []nativeDecl{
			staticMethod("valueOf", descriptor.Method(self, prim).String(), func(_ *thread, args []Value) (Value, error) {
				return RefValue(box(prim, args[0])), nil
			}),
			staticMethod("toString", descriptor.Method(stringType, prim).String(), func(_ *thread, args []Value) (Value, error) {
				s, _ := native.Format(box(prim, args[0]))
				return RefValue(s), nil
			}),
			method("compareTo", "(Ljava/lang/Object;)I", compareBoxes),
		}
		super := classObject
		if b.number {
			super = classNumber
		} else {
			methods = append(methods, method(prim.DisplayName()+"Value", descriptor.Method(prim).String(), func(_ *thread, args []Value) (Value, error) {
				v, _, _ := unbox(args[0].Ref)
				return v, nil
			}))
		}
		if prim == descriptor.Int {
			methods = append(methods, staticMethod("parseInt", "(Ljava/lang/String;)I", func(t *thread, args []Value) (Value, error) {
				s, _ := args[0].Ref.(string)
				n, err := strconv.ParseInt(s, 10, 32)
				if err != nil {
					return Value{}, t.vm.NewJavaException("java/lang/NumberFormatException", "For input string: %q", s)
				}
				return IntValue(int32(n)), nil
			}))
		}
		out = append(out, builtin{
			name:       b.name,
			super:      super,
			interfaces: []string{"java/lang/Comparable"},
			access:     accFinalClass,
			value:      true,
			methods:    methods,
		})
	}
	return out
}

func stringMethods() []nativeDecl {
	str := func(v Value) string { s, _ := v.Ref.(string); return s }
	return []nativeDecl{
		method("length", "()I", func(_ *thread, args []Value) (Value, error) {
			return IntValue(int32(len(utf16.Encode([]rune(str(args[0])))))), nil
		}),
		method("isEmpty", "()Z", func(_ *thread, args []Value) (Value, error) {
			return boolValue(str(args[0]) == ""), nil
		}),
		method("charAt", "(I)C", func(t *thread, args []Value) (Value, error) {
			units := utf16.Encode([]rune(str(args[0])))
			i := args[1].Int
			if i < 0 || int(i) >= len(units) {
				return Value{}, t.vm.NewJavaException("java/lang/StringIndexOutOfBoundsException", "index %d, length %d", i, len(units))
			}
			return IntValue(int32(units[i])), nil
		}),
		method("concat", "(Ljava/lang/String;)Ljava/lang/String;", func(_ *thread, args []Value) (Value, error) {
			return RefValue(str(args[0]) + str(args[1])), nil
		}),
		method("compareTo", "(Ljava/lang/Object;)I", compareBoxes),
		method("compareTo", "(Ljava/lang/String;)I", compareBoxes),
		staticMethod("valueOf", "(Ljava/lang/Object;)Ljava/lang/String;", func(t *thread, args []Value) (Value, error) {
			s, err := t.vm.stringOf(t, args[0])
			return RefValue(s), err
		}),
		staticMethod("valueOf", "(I)Ljava/lang/String;", func(_ *thread, args []Value) (Value, error) {
			return RefValue(strconv.FormatInt(int64(args[0].Int), 10)), nil
		}),
		staticMethod("valueOf", "(J)Ljava/lang/String;", func(_ *thread, args []Value) (Value, error) {
			return RefValue(strconv.FormatInt(args[0].Long, 10)), nil
		}),
		staticMethod("valueOf", "(Z)Ljava/lang/String;", func(_ *thread, args []Value) (Value, error) {
			return RefValue(native.FormatBool(args[0].Int != 0)), nil
		}),
		staticMethod("valueOf", "(C)Ljava/lang/String;", func(_ *thread, args []Value) (Value, error) {
			return RefValue(native.FormatChar(uint16(args[0].Int))), nil
		}),
		staticMethod("valueOf", "(D)Ljava/lang/String;", func(_ *thread, args []Value) (Value, error) {
			return RefValue(native.FormatDouble(args[0].Double)), nil
		}),
	}
}

func printStreamMethods() []nativeDecl {
	emit := func(newline bool, t descriptor.Descriptor) NativeMethod {
		return func(th *thread, args []Value) (Value, error) {
			ps := args[0].Ref.(*native.PrintStream)
			var s string
			if len(args) > 1 {
				var err error
				if s, err = th.vm.formatTyped(th, args[1], t); err != nil {
					return Value{}, err
				}
			}
			if newline {
				if len(args) == 1 {
					ps.Println()
				} else {
					ps.Println(s)
				}
			} else {
				ps.Print(s)
			}
			return Value{}, nil
		}
	}
	out := []nativeDecl{method("println", "()V", emit(true, descriptor.Void))}
	for _, t := range []descriptor.Descriptor{
		descriptor.Int, descriptor.Long, descriptor.Float, descriptor.Double,
		descriptor.Boolean, descriptor.Char, stringType, descriptor.Object,
	} {
		out = append(out,
			method("println", descriptor.Method(descriptor.Void, t).String(), emit(true, t)),
			method("print", descriptor.Method(descriptor.Void, t).String(), emit(false, t)),
		)
	}
	return out
}

func installBuiltins(vm *VM) {
	for _, b := range builtins() {
		c := newClass(vm, b.name)
		c.access = b.access
		c.valueClass = b.value
		c.state = initDone
		if b.super != "" {
			c.super = vm.classes[b.super]
		}
		for _, in := range b.interfaces {
			c.interfaces = append(c.interfaces, vm.classes[in])
		}
		for _, d := range b.methods {
			c.methods = append(c.methods, &Method{
				Class:  c,
				Name:   d.name,
				Desc:   descriptor.MustOf(d.desc),
				Access: d.access,
				Native: d.fn,
			})
		}
		vm.classes[b.name] = c
	}

	system := vm.classes[classSystem]
	system.fields = append(system.fields, &Field{
		Class:  system,
		Name:   "out",
		Desc:   descriptor.Class(classPrintStream),
		Access: classfile.AccPublic | classfile.AccStatic | classfile.AccFinal,
	})
	system.statics["out"] = RefValue(vm.out)

	for _, p := range []descriptor.Descriptor{
		descriptor.Void, descriptor.Boolean, descriptor.Byte, descriptor.Char, descriptor.Short,
		descriptor.Int, descriptor.Long, descriptor.Float, descriptor.Double,
	} {
		c := newClass(vm, p.DisplayName())
		c.primitive = p
		c.access = classfile.AccPublic | classfile.AccFinal | classfile.AccAbstract
		c.state = initDone
		vm.primitives[p] = c
	}
}

func boolValue(b bool) Value {
	if b {
		return IntValue(1)
	}
	return IntValue(0)
}

func objectToString(_ *thread, args []Value) (Value, error) {
	if s, ok := native.Format(args[0].Ref); ok {
		return RefValue(s), nil
	}
	return RefValue(fmt.Sprint(args[0].Ref)), nil
}

func objectHashCode(_ *thread, args []Value) (Value, error) {
	switch r := args[0].Ref.(type) {
	case *JObject:
		return IntValue(r.IdentityHash()), nil
	case string:
		return IntValue(native.StringHash(r)), nil
	case int32:
		return IntValue(r), nil
	case int64:
		return IntValue(int32(r ^ int64(uint64(r)>>32))), nil
	case bool:
		if r {
			return IntValue(1231), nil
		}
		return IntValue(1237), nil
	case int8:
		return IntValue(int32(r)), nil
	case int16:
		return IntValue(int32(r)), nil
	case uint16:
		return IntValue(int32(r)), nil
	case float32:
		return IntValue(int32(math.Float32bits(r))), nil
	case float64:
		bits := math.Float64bits(r)
		return IntValue(int32(bits ^ bits>>32)), nil
	}
	return IntValue(native.StringHash(fmt.Sprintf("%p", args[0].Ref))), nil
}

func objectEquals(_ *thread, args []Value) (Value, error) {
	if args[1].IsNull() {
		return IntValue(0), nil
	}
	return boolValue(args[0].Ref == args[1].Ref), nil
}

func objectGetClass(t *thread, args []Value) (Value, error) {
	c, err := t.vm.classOf(args[0].Ref)
	if err != nil {
		return Value{}, err
	}
	return RefValue(c), nil
}

func numberValue(to descriptor.Descriptor) NativeMethod {
	return func(t *thread, args []Value) (Value, error) {
		v, from, ok := unbox(args[0].Ref)
		if !ok {
			return Value{}, t.vm.NewJavaException("java/lang/ClassCastException", "%T is not a Number", args[0].Ref)
		}
		return explicitConvert(v, from, to), nil
	}
}

func compareBoxes(t *thread, args []Value) (Value, error) {
	a, b := args[0].Ref, args[1].Ref
	if b == nil {
		return Value{}, t.vm.NewJavaException("java/lang/NullPointerException", "compareTo(null)")
	}
	cmp := func(x, y float64) int32 {
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
		return 0
	}
	switch a := a.(type) {
	case string:
		bs, ok := b.(string)
		if !ok {
			return Value{}, t.vm.NewJavaException("java/lang/ClassCastException", "%T is not a String", b)
		}
		switch {
		case a < bs:
			return IntValue(-1), nil
		case a > bs:
			return IntValue(1), nil
		}
		return IntValue(0), nil
	case int64:
		bl, ok := b.(int64)
		if !ok {
			return Value{}, t.vm.NewJavaException("java/lang/ClassCastException", "%T is not a Long", b)
		}
		switch {
		case a < bl:
			return IntValue(-1), nil
		case a > bl:
			return IntValue(1), nil
		}
		return IntValue(0), nil
	}
	av, at, ok1 := unbox(a)
	bv, bt, ok2 := unbox(b)
	if !ok1 || !ok2 || at != bt {
		return Value{}, t.vm.NewJavaException("java/lang/ClassCastException", "cannot compare %T with %T", a, b)
	}
	x := explicitConvert(av, at, descriptor.Double).Double
	y := explicitConvert(bv, bt, descriptor.Double).Double
	return IntValue(cmp(x, y)), nil
}
