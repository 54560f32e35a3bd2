package lambda

import (
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/sync/errgroup"

	"github.com/daimatz/bytecodebuilder/pkg/builder"
	"github.com/daimatz/bytecodebuilder/pkg/classfile"
	"github.com/daimatz/bytecodebuilder/pkg/constant"
	"github.com/daimatz/bytecodebuilder/pkg/descriptor"
	"github.com/daimatz/bytecodebuilder/pkg/errors"
	"github.com/daimatz/bytecodebuilder/pkg/invoke"
	"github.com/daimatz/bytecodebuilder/pkg/vm"
)

var (
	opsType          = descriptor.Class("demo/Ops")
	taskType         = descriptor.Class("demo/Task")
	integerType      = descriptor.Class("java/lang/Integer")
	functionType     = descriptor.Class("java/util/function/Function")
	biFunctionType   = descriptor.Class("java/util/function/BiFunction")
	supplierType     = descriptor.Class("java/util/function/Supplier")
	intUnaryType     = descriptor.Class("java/util/function/IntUnaryOperator")
	unaryOpType      = descriptor.Class("java/util/function/UnaryOperator")
	comparatorType   = descriptor.Class("java/util/Comparator")
	objectToObject   = descriptor.Method(descriptor.Object, descriptor.Object)
	intToInt         = descriptor.Method(descriptor.Int, descriptor.Int)
	describeType     = descriptor.Method(descriptor.String, descriptor.String, descriptor.Int)
	makeDescriberTyp = descriptor.Method(functionType, descriptor.String)
)

type classDef struct {
	name       string
	access     uint16
	interfaces []descriptor.Descriptor
	build      func(cb *builder.ClassBuilder) error
}

func abstractMethod(cb *builder.ClassBuilder, name string, typ descriptor.Descriptor) error {
	return cb.Method(name, classfile.AccPublic|classfile.AccAbstract, typ, nil)
}

func hostClasses() []classDef {
	return []classDef{
		{name: "demo/Ops", access: classfile.AccPublic | classfile.AccSuper, build: func(cb *builder.ClassBuilder) error {
			factory, err := constant.StaticMethod(descriptor.Class("java/lang/invoke/StringConcatFactory"), "makeConcatWithConstants",
				descriptor.Method(descriptor.Class("java/lang/invoke/CallSite"),
					descriptor.Lookup, descriptor.String, descriptor.MethodType, descriptor.String, descriptor.ObjectArray))
			if err != nil {
				return err
			}
			if err := cb.Method("describe", classfile.AccPrivate|classfile.AccStatic, describeType, func(m *builder.MethodBuilder) error {
				return m.Code(func(c *builder.CodeBuilder) {
					c.Load(descriptor.String, 0).
						Load(descriptor.Int, 1).
						InvokeDynamic("makeConcatWithConstants", describeType, factory, constant.String("\u0001=\u0001")).
						Return(descriptor.String)
				})
			}); err != nil {
				return err
			}
			describe, err := constant.StaticMethod(opsType, "describe", describeType)
			if err != nil {
				return err
			}
			args, err := BootstrapArgs(objectToObject, describe, descriptor.Method(descriptor.String, integerType))
			if err != nil {
				return err
			}
			return cb.Method("makeDescriber", classfile.AccPublic|classfile.AccStatic, makeDescriberTyp, func(m *builder.MethodBuilder) error {
				return m.Code(func(c *builder.CodeBuilder) {
					c.Load(descriptor.String, 0).
						InvokeDynamic("apply", makeDescriberTyp, BootstrapHandle(), args...).
						Return(functionType)
				})
			})
		}},
		{name: "demo/Task", access: classfile.AccPublic | classfile.AccSuper | classfile.AccAbstract, build: func(cb *builder.ClassBuilder) error {
			if err := cb.Constructor(classfile.AccPublic, descriptor.Method(descriptor.Void), func(m *builder.MethodBuilder) error {
				return m.Code(func(c *builder.CodeBuilder) {
					c.LoadThis().
						Invoke(constant.Special, descriptor.Object, "<init>", descriptor.Method(descriptor.Void)).
						Return(descriptor.Void)
				})
			}); err != nil {
				return err
			}
			if err := cb.Method("name", classfile.AccPublic, descriptor.Method(descriptor.String), func(m *builder.MethodBuilder) error {
				return m.Code(func(c *builder.CodeBuilder) {
					c.Constant(constant.String("task")).Return(descriptor.String)
				})
			}); err != nil {
				return err
			}
			return abstractMethod(cb, "run", descriptor.Method(descriptor.Long, descriptor.Long))
		}},
		{name: "demo/Two", access: classfile.AccPublic | classfile.AccInterface | classfile.AccAbstract, build: func(cb *builder.ClassBuilder) error {
			if err := abstractMethod(cb, "first", descriptor.Method(descriptor.Void)); err != nil {
				return err
			}
			return abstractMethod(cb, "second", descriptor.Method(descriptor.Void, descriptor.Int))
		}},
		{name: "demo/Base", access: classfile.AccPublic | classfile.AccInterface | classfile.AccAbstract, build: func(cb *builder.ClassBuilder) error {
			if err := cb.Method("helper", classfile.AccPublic|classfile.AccStatic, descriptor.Method(descriptor.Void), func(m *builder.MethodBuilder) error {
				return m.Code(func(c *builder.CodeBuilder) { c.Return(descriptor.Void) })
			}); err != nil {
				return err
			}
			return abstractMethod(cb, "run", descriptor.Method(descriptor.Void))
		}},
		{name: "demo/Derived", access: classfile.AccPublic | classfile.AccInterface | classfile.AccAbstract,
			interfaces: []descriptor.Descriptor{descriptor.Class("demo/Base")},
			build: func(cb *builder.ClassBuilder) error {
				return abstractMethod(cb, "run", descriptor.Method(descriptor.Void))
			}},
	}
}

func newHost(t *testing.T, backend builder.Backend) (*vm.VM, *vm.Lookup) {
	t.Helper()
	loader := vm.NewMemoryClassLoader()
	for _, d := range hostClasses() {
		cb := builder.New()
		if err := d.build(cb); err != nil {
			t.Fatalf("declaring %s: %v", d.name, err)
		}
		data, err := cb.Build(builder.Header{Access: d.access, Name: descriptor.Class(d.name), Interfaces: d.interfaces},
			builder.Options{Backend: backend})
		if err != nil {
			t.Fatalf("building %s: %v", d.name, err)
		}
		if _, err := loader.Add(data); err != nil {
			t.Fatalf("adding %s: %v", d.name, err)
		}
	}
	host := vm.NewVM(loader, vm.WithStdout(io.Discard))
	c, err := host.LoadClass("demo/Ops")
	if err != nil {
		t.Fatalf("LoadClass: %v", err)
	}
	return host, host.Lookup(c)
}

func forEachBackend(t *testing.T, fn func(t *testing.T, backend builder.Backend)) {
	for _, b := range builder.Backends {
		t.Run(b.String(), func(t *testing.T) { fn(t, b) })
	}
}

// callAbstract calls the method name of owner on recv through a virtual
// handle.
func callAbstract(t *testing.T, l *vm.Lookup, owner descriptor.Descriptor, name string, typ descriptor.Descriptor, recv any, args ...any) any {
	t.Helper()
	h, err := l.FindVirtual(owner, name, typ)
	if err != nil {
		t.Fatalf("FindVirtual(%s.%s): %v", owner.DisplayName(), name, err)
	}
	r, err := h.InvokeExact(h.Type(), append([]any{recv}, args...)...)
	if err != nil {
		t.Fatalf("%s.%s: %v", owner.DisplayName(), name, err)
	}
	return r
}

func addHandle(host *vm.VM) *vm.MethodHandle {
	return host.NativeHandle(descriptor.Method(descriptor.Int, descriptor.Int, descriptor.Int), func(args []any) (any, error) {
		return args[0].(int32) + args[1].(int32), nil
	})
}

func TestMetafactoryCapturing(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend builder.Backend) {
		host, l := newHost(t, backend)
		add := addHandle(host)
		factoryType := descriptor.Method(intUnaryType, descriptor.Int)

		factory, err := Metafactory(l, "applyAsInt", factoryType, intToInt, add, intToInt, WithBackend(backend))
		if err != nil {
			t.Fatalf("Metafactory: %v", err)
		}
		if factory.Type() != factoryType {
			t.Errorf("factory type: got %s, want %s", factory.Type(), factoryType)
		}

		adders := make([]any, 3)
		for i := range adders {
			if adders[i], err = factory.InvokeExact(factoryType, int32(10*(i+1))); err != nil {
				t.Fatalf("factory(%d): %v", i, err)
			}
		}
		if adders[0] == adders[1] {
			t.Error("capturing factory returned the same instance twice")
		}
		for i, a := range adders {
			want := int32(10*(i+1) + 5)
			direct, err := add.InvokeExact(add.Type(), int32(10*(i+1)), int32(5))
			if err != nil {
				t.Fatal(err)
			}
			got := callAbstract(t, l, intUnaryType, "applyAsInt", intToInt, a, int32(5))
			if got != want || got != direct {
				t.Errorf("adder %d: got %v, want %d (direct %v)", i, got, want, direct)
			}
		}

		obj, ok := adders[0].(*vm.JObject)
		if !ok {
			t.Fatalf("instance: got %T, want *vm.JObject", adders[0])
		}
		if !obj.Class.IsHidden() {
			t.Error("adapter class is not hidden")
		}
		if prefix := "demo/Ops$$FlexibleLambdaMetafactory$applyAsInt/0x"; !strings.HasPrefix(obj.Class.Name(), prefix) {
			t.Errorf("adapter name: got %q, want prefix %q", obj.Class.Name(), prefix)
		}
	})
}

func TestMetafactoryWideCaptures(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend builder.Backend) {
		host, l := newHost(t, backend)
		implType := descriptor.Method(descriptor.String, descriptor.Long, descriptor.Double, descriptor.String, descriptor.String)
		impl := host.NativeHandle(implType, func(args []any) (any, error) {
			return fmt.Sprintf("%d/%g/%s/%s", args[0].(int64), args[1].(float64), args[2].(string), args[3].(string)), nil
		})
		factoryType := descriptor.Method(functionType, descriptor.Long, descriptor.Double, descriptor.String)

		factory, err := Metafactory(l, "apply", factoryType, objectToObject, impl,
			descriptor.Method(descriptor.String, descriptor.String), WithBackend(backend))
		if err != nil {
			t.Fatalf("Metafactory: %v", err)
		}
		fn, err := factory.InvokeExact(factoryType, int64(1)<<40, 2.5, "c")
		if err != nil {
			t.Fatalf("factory: %v", err)
		}
		got := callAbstract(t, l, functionType, "apply", objectToObject, fn, "d")
		if want := "1099511627776/2.5/c/d"; got != want {
			t.Errorf("got %v, want %q", got, want)
		}
	})
}

func TestMetafactoryAdaptsArguments(t *testing.T) {
	host, l := newHost(t, builder.BackendModel)
	var seen []string
	impl := host.NativeHandle(descriptor.Method(descriptor.String, descriptor.String, descriptor.String), func(args []any) (any, error) {
		s := args[0].(string) + ": processed: " + args[1].(string)
		seen = append(seen, s)
		return s, nil
	})
	factoryType := descriptor.Method(functionType, descriptor.String)

	factory, err := Metafactory(l, "apply", factoryType, objectToObject, impl, descriptor.Method(descriptor.String, descriptor.String))
	if err != nil {
		t.Fatalf("Metafactory: %v", err)
	}
	fn, err := factory.InvokeExact(factoryType, "prefix")
	if err != nil {
		t.Fatal(err)
	}
	if got := callAbstract(t, l, functionType, "apply", objectToObject, fn, "string"); got != "prefix: processed: string" {
		t.Errorf("got %v, want %q", got, "prefix: processed: string")
	}

	h, err := l.FindVirtual(functionType, "apply", objectToObject)
	if err != nil {
		t.Fatal(err)
	}
	_, err = h.InvokeExact(h.Type(), fn, int32(1))
	var jex *vm.JavaException
	if !errors.As(err, &jex) || jex.ClassName() != "java/lang/ClassCastException" {
		t.Errorf("non-string argument: got %v, want ClassCastException", err)
	}
	if len(seen) != 1 {
		t.Errorf("implementation calls: got %d, want 1", len(seen))
	}
}

func TestMetafactorySingleton(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend builder.Backend) {
		host, l := newHost(t, backend)
		var calls atomic.Int32
		answer := host.NativeHandle(descriptor.Method(descriptor.Int), func([]any) (any, error) {
			calls.Add(1)
			return int32(42), nil
		})
		factoryType := descriptor.Method(supplierType)

		factory, err := Metafactory(l, "get", factoryType, descriptor.Method(descriptor.Object), answer,
			descriptor.Method(integerType), WithBackend(backend))
		if err != nil {
			t.Fatalf("Metafactory: %v", err)
		}
		first, err := factory.InvokeExact(factoryType)
		if err != nil {
			t.Fatalf("factory: %v", err)
		}
		second, err := factory.InvokeExact(factoryType)
		if err != nil {
			t.Fatalf("factory: %v", err)
		}
		if first != second {
			t.Error("non-capturing factory returned distinct instances")
		}
		if got := callAbstract(t, l, supplierType, "get", descriptor.Method(descriptor.Object), first); got != int32(42) {
			t.Errorf("get: got %v, want 42", got)
		}
		if n := calls.Load(); n != 1 {
			t.Errorf("implementation calls: got %d, want 1", n)
		}
	})
}

func TestMetafactoryAbstractClass(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend builder.Backend) {
		host, l := newHost(t, backend)
		runType := descriptor.Method(descriptor.Long, descriptor.Long)
		double := host.NativeHandle(runType, func(args []any) (any, error) { return args[0].(int64) * 2, nil })
		factoryType := descriptor.Method(taskType)

		factory, err := Metafactory(l, "run", factoryType, runType, double, runType, WithBackend(backend))
		if err != nil {
			t.Fatalf("Metafactory: %v", err)
		}
		task, err := factory.InvokeExact(factoryType)
		if err != nil {
			t.Fatalf("factory: %v", err)
		}
		obj := task.(*vm.JObject)
		taskClass, err := host.LoadClass("demo/Task")
		if err != nil {
			t.Fatal(err)
		}
		if !obj.Class.IsSubclassOf(taskClass) {
			t.Errorf("%s does not extend demo/Task", obj.Class.Name())
		}
		if got := callAbstract(t, l, taskType, "run", runType, task, int64(21)); got != int64(42) {
			t.Errorf("run: got %v, want 42", got)
		}
		if got := callAbstract(t, l, taskType, "name", descriptor.Method(descriptor.String), task); got != "task" {
			t.Errorf("inherited name: got %v, want task", got)
		}
	})
}

func TestMetafactoryErrors(t *testing.T) {
	host, l := newHost(t, builder.BackendModel)
	add := addHandle(host)

	tests := []struct {
		name        string
		method      string
		factoryType descriptor.Descriptor
		samType     descriptor.Descriptor
		impl        invoke.MethodHandle
		dynamicType descriptor.Descriptor
	}{
		{"implementation arity", "get", descriptor.Method(supplierType), descriptor.Method(descriptor.Object), add, descriptor.Method(descriptor.Object)},
		{"narrowing return", "applyAsInt", descriptor.Method(intUnaryType, descriptor.Int), intToInt,
			host.NativeHandle(descriptor.Method(descriptor.Long, descriptor.Int, descriptor.Int), func([]any) (any, error) { return int64(0), nil }), intToInt},
		{"missing target", "run", descriptor.Method(descriptor.Class("demo/Missing")), descriptor.Method(descriptor.Void), add, descriptor.Method(descriptor.Void)},
		{"primitive factory return", "run", descriptor.Method(descriptor.Int), descriptor.Method(descriptor.Void), add, descriptor.Method(descriptor.Void)},
		{"dynamic arity", "applyAsInt", descriptor.Method(intUnaryType, descriptor.Int), intToInt, add, descriptor.Method(descriptor.Int)},
		{"initializer name", "<init>", descriptor.Method(intUnaryType, descriptor.Int), intToInt, add, intToInt},
		{"nil implementation", "applyAsInt", descriptor.Method(intUnaryType, descriptor.Int), intToInt, nil, intToInt},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Metafactory(l, tt.method, tt.factoryType, tt.samType, tt.impl, tt.dynamicType)
			if !errors.Is(err, errors.ErrLambdaAdaptation) {
				t.Errorf("got %v, want lambda adaptation error", err)
			}
		})
	}
}

func TestFindAbstractMethod(t *testing.T) {
	_, l := newHost(t, builder.BackendModel)

	tests := []struct {
		name    string
		class   descriptor.Descriptor
		want    invoke.Method
		wantErr error
	}{
		{"interface", functionType, invoke.Method{Name: "apply", Type: objectToObject}, nil},
		{"inherited through subinterface", unaryOpType, invoke.Method{Name: "apply", Type: objectToObject}, nil},
		{"redeclared abstract method", descriptor.Class("demo/Derived"), invoke.Method{Name: "run", Type: descriptor.Method(descriptor.Void)}, nil},
		{"abstract class", taskType, invoke.Method{Name: "run", Type: descriptor.Method(descriptor.Long, descriptor.Long)}, nil},
		{"two abstract methods", descriptor.Class("demo/Two"), invoke.Method{}, errors.ErrAmbiguousAbstractMethod},
		{"abstract equals counts", comparatorType, invoke.Method{}, errors.ErrAmbiguousAbstractMethod},
		{"concrete class", integerType, invoke.Method{}, errors.ErrNoAbstractMethod},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := l.FindClass(tt.class)
			if err != nil {
				t.Fatalf("FindClass: %v", err)
			}
			got, err := FindAbstractMethod(c)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("got %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.Name != tt.want.Name || got.Type != tt.want.Type {
				t.Errorf("got %s%s, want %s%s", got.Name, got.Type, tt.want.Name, tt.want.Type)
			}
			if !got.IsAbstract() || got.IsStatic() {
				t.Errorf("flags: got %#x, want abstract instance method", got.Flags)
			}
		})
	}
}

func TestCoerce(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend builder.Backend) {
		host, l := newHost(t, backend)
		add := addHandle(host)

		t.Run("singleton", func(t *testing.T) {
			greeting := host.NativeHandle(descriptor.Method(descriptor.String), func([]any) (any, error) { return "hello", nil })
			s, err := Coerce(l, greeting, supplierType, WithBackend(backend))
			if err != nil {
				t.Fatalf("Coerce: %v", err)
			}
			if got := callAbstract(t, l, supplierType, "get", descriptor.Method(descriptor.Object), s); got != "hello" {
				t.Errorf("got %v, want hello", got)
			}
		})

		t.Run("capturing", func(t *testing.T) {
			factory, err := CoerceCapturing(l, add, intUnaryType, WithBackend(backend))
			if err != nil {
				t.Fatalf("CoerceCapturing: %v", err)
			}
			if want := descriptor.Method(intUnaryType, descriptor.Int); factory.Type() != want {
				t.Errorf("factory type: got %s, want %s", factory.Type(), want)
			}
			op, err := factory.InvokeExact(factory.Type(), int32(7))
			if err != nil {
				t.Fatal(err)
			}
			if got := callAbstract(t, l, intUnaryType, "applyAsInt", intToInt, op, int32(8)); got != int32(15) {
				t.Errorf("got %v, want 15", got)
			}
		})

		t.Run("capturing factory", func(t *testing.T) {
			fn, err := CoerceCapturingFactory(l, add, intUnaryType, functionType, WithBackend(backend))
			if err != nil {
				t.Fatalf("CoerceCapturingFactory: %v", err)
			}
			op := callAbstract(t, l, functionType, "apply", objectToObject, fn, int32(3))
			if got := callAbstract(t, l, intUnaryType, "applyAsInt", intToInt, op, int32(4)); got != int32(7) {
				t.Errorf("got %v, want 7", got)
			}
		})

		t.Run("handle with too few parameters", func(t *testing.T) {
			identity := host.NativeHandle(objectToObject, func(args []any) (any, error) { return args[0], nil })
			_, err := CoerceCapturing(l, identity, biFunctionType, WithBackend(backend))
			if !errors.Is(err, errors.ErrLambdaAdaptation) {
				t.Errorf("got %v, want lambda adaptation error", err)
			}
		})

		t.Run("no abstract method", func(t *testing.T) {
			_, err := Coerce(l, add, integerType, WithBackend(backend))
			if !errors.Is(err, errors.ErrNoAbstractMethod) {
				t.Errorf("got %v, want no abstract method", err)
			}
		})
	})
}

func TestInvokeDynamicBootstrap(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend builder.Backend) {
		host, l := newHost(t, backend)
		host.RegisterBootstrap(BootstrapOwner, BootstrapName, Bootstrap(WithBackend(backend)))

		h, err := l.FindStatic(opsType, "makeDescriber", makeDescriberTyp)
		if err != nil {
			t.Fatalf("FindStatic: %v", err)
		}
		fn, err := h.InvokeExact(makeDescriberTyp, "n")
		if err != nil {
			t.Fatalf("makeDescriber: %v", err)
		}
		if got := callAbstract(t, l, functionType, "apply", objectToObject, fn, int32(5)); got != "n=5" {
			t.Errorf("apply: got %v, want %q", got, "n=5")
		}
		again, err := h.InvokeExact(makeDescriberTyp, "m")
		if err != nil {
			t.Fatal(err)
		}
		if again.(*vm.JObject).Class != fn.(*vm.JObject).Class {
			t.Error("call site linked twice")
		}
	})
}

func TestBootstrapRejectsArguments(t *testing.T) {
	_, l := newHost(t, builder.BackendModel)
	bsm := Bootstrap()
	_, err := bsm(l, "apply", descriptor.Method(functionType), []any{objectToObject, "not a handle", objectToObject})
	if !errors.Is(err, errors.ErrLambdaAdaptation) {
		t.Errorf("got %v, want lambda adaptation error", err)
	}
	_, err = bsm(l, "apply", descriptor.Method(functionType), nil)
	if !errors.Is(err, errors.ErrLambdaAdaptation) {
		t.Errorf("got %v, want lambda adaptation error", err)
	}
}

func TestConcurrentSynthesis(t *testing.T) {
	host, l := newHost(t, builder.BackendModel)
	add := addHandle(host)
	factoryType := descriptor.Method(intUnaryType, descriptor.Int)

	const n = 16
	results := make([]any, n)
	var g errgroup.Group
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			factory, err := Metafactory(l, "applyAsInt", factoryType, intToInt, add, intToInt)
			if err != nil {
				return err
			}
			op, err := factory.InvokeExact(factoryType, int32(i))
			if err != nil {
				return err
			}
			results[i] = op
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("concurrent synthesis: %v", err)
	}

	names := make(map[string]bool)
	for i, op := range results {
		if got := callAbstract(t, l, intUnaryType, "applyAsInt", intToInt, op, int32(1)); got != int32(i+1) {
			t.Errorf("adapter %d: got %v, want %d", i, got, i+1)
		}
		names[op.(*vm.JObject).Class.Name()] = true
	}
	if len(names) != n {
		t.Errorf("distinct adapter classes: got %d, want %d", len(names), n)
	}
}

func TestSynthesisLogging(t *testing.T) {
	host, l := newHost(t, builder.BackendVisitor)
	core, logs := observer.New(zapcore.DebugLevel)
	opts := builder.Options{Backend: builder.BackendVisitor, Logger: zap.New(core)}

	if _, err := Metafactory(l, "applyAsInt", descriptor.Method(intUnaryType, descriptor.Int), intToInt,
		addHandle(host), intToInt, WithBuildOptions(opts)); err != nil {
		t.Fatalf("Metafactory: %v", err)
	}
	entries := logs.FilterMessage("synthesizing adapter").All()
	if len(entries) != 1 {
		t.Fatalf("synthesis log entries: got %d, want 1", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["captured"] != int64(1) || fields["singleton"] != false {
		t.Errorf("fields: got %v", fields)
	}
	if logs.FilterMessage("adapter defined").Len() != 1 {
		t.Error("missing adapter defined entry")
	}
}
