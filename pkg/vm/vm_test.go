package vm

import (
	"bytes"
	"io"
	"strings"
	"sync/atomic"
	"testing"

	"golang.org/x/sync/errgroup"

	"github.com/daimatz/bytecodebuilder/pkg/builder"
	"github.com/daimatz/bytecodebuilder/pkg/classdata"
	"github.com/daimatz/bytecodebuilder/pkg/classfile"
	"github.com/daimatz/bytecodebuilder/pkg/constant"
	"github.com/daimatz/bytecodebuilder/pkg/descriptor"
	"github.com/daimatz/bytecodebuilder/pkg/errors"
	"github.com/daimatz/bytecodebuilder/pkg/invoke"
)

const (
	accPublicStatic = classfile.AccPublic | classfile.AccStatic
)

var (
	systemType      = descriptor.Class("java/lang/System")
	printStreamType = descriptor.Class("java/io/PrintStream")
	integerType     = descriptor.Class("java/lang/Integer")
	callSiteType    = descriptor.Class("java/lang/invoke/CallSite")
	intSupplier     = descriptor.Method(descriptor.Int)
)

// classDef is one class compiled into the loader of a test VM.
type classDef struct {
	name  string
	super string
	build func(cb *builder.ClassBuilder) error
}

func newClassVM(t *testing.T, backend builder.Backend, out io.Writer, defs ...classDef) *VM {
	t.Helper()
	loader := NewMemoryClassLoader()
	for _, d := range defs {
		cb := builder.New()
		if d.build != nil {
			if err := d.build(cb); err != nil {
				t.Fatalf("declaring %s: %v", d.name, err)
			}
		}
		h := builder.Header{Access: classfile.AccPublic | classfile.AccSuper, Name: descriptor.Class(d.name)}
		if d.super != "" {
			h.Super = descriptor.Class(d.super)
		}
		data, err := cb.Build(h, builder.Options{Backend: backend})
		if err != nil {
			t.Fatalf("building %s: %v", d.name, err)
		}
		if _, err := loader.Add(data); err != nil {
			t.Fatalf("adding %s: %v", d.name, err)
		}
	}
	return NewVM(loader, WithStdout(out))
}

func forEachBackend(t *testing.T, fn func(t *testing.T, backend builder.Backend)) {
	for _, b := range builder.Backends {
		t.Run(b.String(), func(t *testing.T) { fn(t, b) })
	}
}

func declareStatic(cb *builder.ClassBuilder, name string, typ descriptor.Descriptor, body func(c *builder.CodeBuilder)) error {
	return cb.Method(name, accPublicStatic, typ, func(m *builder.MethodBuilder) error {
		return m.Code(body)
	})
}

func defaultConstructor(cb *builder.ClassBuilder) error {
	return cb.Constructor(classfile.AccPublic, descriptor.Method(descriptor.Void), func(m *builder.MethodBuilder) error {
		return m.Code(func(c *builder.CodeBuilder) {
			c.LoadThis().
				Invoke(constant.Special, descriptor.Object, "<init>", descriptor.Method(descriptor.Void)).
				Return(descriptor.Void)
		})
	})
}

func lookupOf(t *testing.T, vm *VM, name string) *Lookup {
	t.Helper()
	c, err := vm.LoadClass(name)
	if err != nil {
		t.Fatalf("LoadClass(%s): %v", name, err)
	}
	return vm.Lookup(c)
}

func callStatic(t *testing.T, vm *VM, owner, name string, typ descriptor.Descriptor, args ...any) (any, error) {
	t.Helper()
	h, err := lookupOf(t, vm, owner).FindStatic(descriptor.Class(owner), name, typ)
	if err != nil {
		t.Fatalf("FindStatic(%s.%s): %v", owner, name, err)
	}
	return h.InvokeExact(typ, args...)
}

func mustCallStatic(t *testing.T, vm *VM, owner, name string, typ descriptor.Descriptor, args ...any) any {
	t.Helper()
	r, err := callStatic(t, vm, owner, name, typ, args...)
	if err != nil {
		t.Fatalf("%s.%s: %v", owner, name, err)
	}
	return r
}

func mustHandle(t *testing.T, kind constant.Kind, owner descriptor.Descriptor, name string, typ descriptor.Descriptor) constant.MethodHandle {
	t.Helper()
	h, err := constant.NewMethodHandle(kind, owner, name, typ)
	if err != nil {
		t.Fatalf("NewMethodHandle: %v", err)
	}
	return h
}

func expectKind(t *testing.T, err error, kind errors.Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", kind)
	}
	var e *errors.Error
	if !errors.As(err, &e) {
		t.Fatalf("expected *errors.Error, got %T: %v", err, err)
	}
	if e.Kind != kind {
		t.Errorf("kind: got %s, want %s (%v)", e.Kind, kind, err)
	}
}

func TestHelloWorld(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend builder.Backend) {
		var out bytes.Buffer
		vm := newClassVM(t, backend, &out, classDef{name: "demo/Hello", build: func(cb *builder.ClassBuilder) error {
			return declareStatic(cb, "main", descriptor.Method(descriptor.Void, descriptor.StringArray), func(c *builder.CodeBuilder) {
				c.Field(constant.StaticGetter, systemType, "out", printStreamType).
					Constant(constant.String("Hello, World!")).
					Invoke(constant.Virtual, printStreamType, "println", descriptor.Method(descriptor.Void, descriptor.String)).
					Return(descriptor.Void)
			})
		}})

		if err := vm.Execute("demo/Hello"); err != nil {
			t.Fatalf("Execute: %v", err)
		}
		if got := out.String(); got != "Hello, World!\n" {
			t.Errorf("stdout: got %q, want %q", got, "Hello, World!\n")
		}
	})
}

func TestStaticInitialization(t *testing.T) {
	config := descriptor.Class("demo/Config")
	forEachBackend(t, func(t *testing.T, backend builder.Backend) {
		vm := newClassVM(t, backend, io.Discard, classDef{name: "demo/Config", build: func(cb *builder.ClassBuilder) error {
			if err := cb.Field("LIMIT", accPublicStatic|classfile.AccFinal, descriptor.Int, nil,
				builder.WithConstantValue(constant.Int(1000))); err != nil {
				return err
			}
			if err := cb.Field("greeting", classfile.AccPrivate|classfile.AccStatic, descriptor.String, nil); err != nil {
				return err
			}
			if err := cb.Method("<clinit>", classfile.AccStatic, descriptor.Method(descriptor.Void), func(m *builder.MethodBuilder) error {
				return m.Code(func(c *builder.CodeBuilder) {
					c.Constant(constant.String("hi")).
						Field(constant.StaticSetter, config, "greeting", descriptor.String).
						Return(descriptor.Void)
				})
			}); err != nil {
				return err
			}
			if err := declareStatic(cb, "limit", intSupplier, func(c *builder.CodeBuilder) {
				c.Field(constant.StaticGetter, config, "LIMIT", descriptor.Int).Return(descriptor.Int)
			}); err != nil {
				return err
			}
			return declareStatic(cb, "greeting", descriptor.Method(descriptor.String), func(c *builder.CodeBuilder) {
				c.Field(constant.StaticGetter, config, "greeting", descriptor.String).Return(descriptor.String)
			})
		}})

		if got := mustCallStatic(t, vm, "demo/Config", "limit", intSupplier); got != int32(1000) {
			t.Errorf("limit: got %v, want 1000", got)
		}
		if got := mustCallStatic(t, vm, "demo/Config", "greeting", descriptor.Method(descriptor.String)); got != "hi" {
			t.Errorf("greeting: got %v, want %q", got, "hi")
		}
	})
}

func TestObjectsAndVirtualDispatch(t *testing.T) {
	point := descriptor.Class("demo/Point")
	point3 := descriptor.Class("demo/Point3")
	intCtor := descriptor.Method(descriptor.Void, descriptor.Int)

	defs := []classDef{
		{name: "demo/Point", build: func(cb *builder.ClassBuilder) error {
			if err := cb.Field("x", classfile.AccPrivate, descriptor.Int, nil); err != nil {
				return err
			}
			if err := cb.Constructor(classfile.AccPublic, intCtor, func(m *builder.MethodBuilder) error {
				return m.Code(func(c *builder.CodeBuilder) {
					c.LoadThis().
						Invoke(constant.Special, descriptor.Object, "<init>", descriptor.Method(descriptor.Void)).
						LoadThis().
						Load(descriptor.Int, 1).
						Field(constant.Setter, point, "x", descriptor.Int).
						Return(descriptor.Void)
				})
			}); err != nil {
				return err
			}
			if err := cb.Method("getX", classfile.AccPublic, intSupplier, func(m *builder.MethodBuilder) error {
				return m.Code(func(c *builder.CodeBuilder) {
					c.LoadThis().Field(constant.Getter, point, "x", descriptor.Int).Return(descriptor.Int)
				})
			}); err != nil {
				return err
			}
			return declareStatic(cb, "make", descriptor.Method(point, descriptor.Int), func(c *builder.CodeBuilder) {
				c.Load(descriptor.Int, 0).NewInstance(point, intCtor).Return(point)
			})
		}},
		{name: "demo/Point3", super: "demo/Point", build: func(cb *builder.ClassBuilder) error {
			if err := cb.Constructor(classfile.AccPublic, intCtor, func(m *builder.MethodBuilder) error {
				return m.Code(func(c *builder.CodeBuilder) {
					c.LoadThis().
						Load(descriptor.Int, 1).
						Invoke(constant.Special, point, "<init>", intCtor).
						Return(descriptor.Void)
				})
			}); err != nil {
				return err
			}
			return cb.Method("getX", classfile.AccPublic, intSupplier, func(m *builder.MethodBuilder) error {
				return m.Code(func(c *builder.CodeBuilder) {
					c.Constant(constant.Int(99)).Return(descriptor.Int)
				})
			})
		}},
	}

	forEachBackend(t, func(t *testing.T, backend builder.Backend) {
		vm := newClassVM(t, backend, io.Discard, defs...)
		l := lookupOf(t, vm, "demo/Point")

		p := mustCallStatic(t, vm, "demo/Point", "make", descriptor.Method(point, descriptor.Int), 5)
		obj, ok := p.(*JObject)
		if !ok || obj.ClassName() != "demo/Point" {
			t.Fatalf("make: got %v, want a demo/Point", p)
		}

		getX, err := l.FindVirtual(point, "getX", intSupplier)
		if err != nil {
			t.Fatalf("FindVirtual: %v", err)
		}
		getXType := descriptor.Method(descriptor.Int, point)
		if getX.Type() != getXType {
			t.Errorf("handle type: got %s, want %s", getX.Type(), getXType)
		}
		if got, err := getX.InvokeExact(getXType, obj); err != nil || got != int32(5) {
			t.Errorf("getX(Point): got %v, %v, want 5", got, err)
		}

		ctor, err := lookupOf(t, vm, "demo/Point3").FindConstructor(point3, intCtor)
		if err != nil {
			t.Fatalf("FindConstructor: %v", err)
		}
		p3, err := ctor.InvokeExact(descriptor.Method(point3, descriptor.Int), 1)
		if err != nil {
			t.Fatalf("constructor: %v", err)
		}
		if got, err := getX.InvokeExact(getXType, p3); err != nil || got != int32(99) {
			t.Errorf("getX(Point3): got %v, %v, want 99", got, err)
		}
		if got := p3.(*JObject).GetField("x", descriptor.Int); got.Int != 1 {
			t.Errorf("inherited field x: got %d, want 1", got.Int)
		}

		if _, err := getX.InvokeExact(getXType, nil); err == nil {
			t.Error("expected NullPointerException for null receiver")
		} else {
			expectJavaException(t, err, "java/lang/NullPointerException")
		}
	})
}

func TestExceptionsSurfaceAsJavaException(t *testing.T) {
	parseType := descriptor.Method(descriptor.Int, descriptor.String)
	parseInt := func(c *builder.CodeBuilder) *builder.CodeBuilder {
		return c.Invoke(constant.Static, integerType, "parseInt", parseType)
	}
	defs := []classDef{
		{name: "demo/Parser", build: func(cb *builder.ClassBuilder) error {
			return declareStatic(cb, "parse", parseType, func(c *builder.CodeBuilder) {
				parseInt(c.Load(descriptor.String, 0)).Return(descriptor.Int)
			})
		}},
		{name: "demo/Broken", build: func(cb *builder.ClassBuilder) error {
			if err := cb.Method("<clinit>", classfile.AccStatic, descriptor.Method(descriptor.Void), func(m *builder.MethodBuilder) error {
				return m.Code(func(c *builder.CodeBuilder) {
					parseInt(c.Constant(constant.String("oops"))).
						Store(descriptor.Int, 0).
						Return(descriptor.Void)
				})
			}); err != nil {
				return err
			}
			return declareStatic(cb, "ping", intSupplier, func(c *builder.CodeBuilder) {
				c.Constant(constant.Int(1)).Return(descriptor.Int)
			})
		}},
	}

	forEachBackend(t, func(t *testing.T, backend builder.Backend) {
		vm := newClassVM(t, backend, io.Discard, defs...)

		if got := mustCallStatic(t, vm, "demo/Parser", "parse", parseType, "42"); got != int32(42) {
			t.Errorf("parse(42): got %v, want 42", got)
		}
		_, err := callStatic(t, vm, "demo/Parser", "parse", parseType, "x")
		expectJavaException(t, err, "java/lang/NumberFormatException")

		for i := 0; i < 2; i++ {
			_, err := callStatic(t, vm, "demo/Broken", "ping", intSupplier)
			expectJavaException(t, err, "java/lang/ExceptionInInitializerError")
		}
	})
}

func TestStringConcat(t *testing.T) {
	factory := descriptor.Class("java/lang/invoke/StringConcatFactory")
	withConstants := func(t *testing.T) constant.MethodHandle {
		return mustHandle(t, constant.Static, factory, "makeConcatWithConstants",
			descriptor.Method(callSiteType, descriptor.Lookup, descriptor.String, descriptor.MethodType, descriptor.String, descriptor.ObjectArray))
	}
	plain := func(t *testing.T) constant.MethodHandle {
		return mustHandle(t, constant.Static, factory, "makeConcat",
			descriptor.Method(callSiteType, descriptor.Lookup, descriptor.String, descriptor.MethodType))
	}
	describeType := descriptor.Method(descriptor.String, descriptor.Int)
	joinType := descriptor.Method(descriptor.String, descriptor.String, descriptor.Long)

	forEachBackend(t, func(t *testing.T, backend builder.Backend) {
		vm := newClassVM(t, backend, io.Discard, classDef{name: "demo/Concat", build: func(cb *builder.ClassBuilder) error {
			if err := declareStatic(cb, "describe", describeType, func(c *builder.CodeBuilder) {
				c.Load(descriptor.Int, 0).
					InvokeDynamic("makeConcatWithConstants", describeType, withConstants(t), constant.String("n=\u0001\u0002"), constant.String("!")).
					Return(descriptor.String)
			}); err != nil {
				return err
			}
			return declareStatic(cb, "join", joinType, func(c *builder.CodeBuilder) {
				c.Load(descriptor.String, 0).
					Load(descriptor.Long, 1).
					InvokeDynamic("makeConcat", joinType, plain(t)).
					Return(descriptor.String)
			})
		}})

		if got := mustCallStatic(t, vm, "demo/Concat", "describe", describeType, 5); got != "n=5!" {
			t.Errorf("describe: got %v, want %q", got, "n=5!")
		}
		if got := mustCallStatic(t, vm, "demo/Concat", "join", joinType, "a", int64(7)); got != "a7" {
			t.Errorf("join: got %v, want %q", got, "a7")
		}
		if got := mustCallStatic(t, vm, "demo/Concat", "join", joinType, nil, int64(-1)); got != "null-1" {
			t.Errorf("join(null): got %v, want %q", got, "null-1")
		}
	})
}

func TestInvokeDynamicBootstraps(t *testing.T) {
	indy := descriptor.Class("demo/Indy")
	bsmType := descriptor.Method(descriptor.MethodHandle, descriptor.Lookup, descriptor.String, descriptor.MethodType)
	siteType := descriptor.Method(callSiteType, descriptor.Lookup, descriptor.String, descriptor.MethodType)

	forEachBackend(t, func(t *testing.T, backend builder.Backend) {
		target := mustHandle(t, constant.Static, indy, "target", intSupplier)
		vm := newClassVM(t, backend, io.Discard, classDef{name: "demo/Indy", build: func(cb *builder.ClassBuilder) error {
			if err := declareStatic(cb, "target", intSupplier, func(c *builder.CodeBuilder) {
				c.Constant(constant.Int(7)).Return(descriptor.Int)
			}); err != nil {
				return err
			}
			if err := declareStatic(cb, "handleBootstrap", bsmType, func(c *builder.CodeBuilder) {
				c.Constant(target).Return(descriptor.MethodHandle)
			}); err != nil {
				return err
			}
			if err := declareStatic(cb, "siteBootstrap", siteType, func(c *builder.CodeBuilder) {
				c.Constant(target).
					NewInstance(descriptor.Class("java/lang/invoke/ConstantCallSite"), descriptor.Method(descriptor.Void, descriptor.MethodHandle)).
					Return(callSiteType)
			}); err != nil {
				return err
			}
			goBootstraps := descriptor.Class("demo/GoBootstraps")
			for _, site := range []struct {
				name string
				bsm  constant.MethodHandle
				args []constant.Constant
			}{
				{"viaHandle", mustHandle(t, constant.Static, indy, "handleBootstrap", bsmType), nil},
				{"viaSite", mustHandle(t, constant.Static, indy, "siteBootstrap", siteType), nil},
				{"viaGo", mustHandle(t, constant.Static, goBootstraps, "answer", siteType), []constant.Constant{constant.Int(40)}},
				{"viaMissing", mustHandle(t, constant.Static, goBootstraps, "missing", siteType), nil},
			} {
				bsm, args := site.bsm, site.args
				if err := declareStatic(cb, site.name, intSupplier, func(c *builder.CodeBuilder) {
					c.InvokeDynamic("get", intSupplier, bsm, args...).Return(descriptor.Int)
				}); err != nil {
					return err
				}
			}
			return nil
		}})

		var calls atomic.Int32
		vm.RegisterBootstrap("demo/GoBootstraps", "answer", func(l invoke.Lookup, name string, typ descriptor.Descriptor, args []any) (any, error) {
			calls.Add(1)
			if l.LookupClass().Name() != "demo/Indy" || name != "get" || typ != intSupplier {
				t.Errorf("bootstrap called with %v, %q, %s", l.LookupClass().Name(), name, typ)
			}
			base, _ := args[0].(int32)
			return vm.NativeHandle(intSupplier, func([]any) (any, error) { return base + 2, nil }), nil
		})

		tests := []struct {
			method string
			want   int32
		}{
			{"viaHandle", 7},
			{"viaSite", 7},
			{"viaGo", 42},
		}
		for _, tt := range tests {
			if got := mustCallStatic(t, vm, "demo/Indy", tt.method, intSupplier); got != tt.want {
				t.Errorf("%s: got %v, want %d", tt.method, got, tt.want)
			}
		}
		mustCallStatic(t, vm, "demo/Indy", "viaGo", intSupplier)
		if n := calls.Load(); n != 1 {
			t.Errorf("bootstrap calls: got %d, want 1 (call site cached)", n)
		}

		_, err := callStatic(t, vm, "demo/Indy", "viaMissing", intSupplier)
		if !errors.Is(err, errors.ErrNotFound) {
			t.Errorf("unregistered bootstrap: got %v, want not found", err)
		}
		var jex *JavaException
		if !errors.As(err, &jex) || jex.ClassName() != "java/lang/BootstrapMethodError" {
			t.Errorf("unregistered bootstrap: got %v, want BootstrapMethodError", err)
		} else if jex.Cause == nil {
			t.Error("BootstrapMethodError carries no cause")
		}
	})
}

func TestDynamicConstants(t *testing.T) {
	consts := descriptor.Class("demo/Consts")
	echoType := descriptor.Method(descriptor.Int, descriptor.Int)

	forEachBackend(t, func(t *testing.T, backend builder.Backend) {
		echo := mustHandle(t, constant.Static, consts, "echo", echoType)
		vm := newClassVM(t, backend, io.Discard, classDef{name: "demo/Consts", build: func(cb *builder.ClassBuilder) error {
			if err := cb.Field("LIMIT", accPublicStatic|classfile.AccFinal, descriptor.Int, nil,
				builder.WithConstantValue(constant.Int(7))); err != nil {
				return err
			}
			if err := declareStatic(cb, "echo", echoType, func(c *builder.CodeBuilder) {
				c.Load(descriptor.Int, 0).Return(descriptor.Int)
			}); err != nil {
				return err
			}
			methods := []struct {
				name string
				ret  descriptor.Descriptor
				k    constant.Dynamic
			}{
				{"nullString", descriptor.String, constant.NullConstant(descriptor.String)},
				{"intClass", descriptor.ClassType, constant.PrimitiveClass(descriptor.Int)},
				{"narrow", descriptor.Byte, constant.ExplicitCast(constant.Int(300), descriptor.Byte)},
				{"limit", descriptor.Int, constant.StaticFinal(consts, "LIMIT", descriptor.Int)},
				{"invoked", descriptor.Int, constant.Invoke(descriptor.Int, echo, constant.Int(21))},
				{"fieldHandle", descriptor.VarHandle, constant.StaticFieldVarHandle(consts, "LIMIT", descriptor.Int)},
			}
			for _, m := range methods {
				k, ret := m.k, m.ret
				if err := declareStatic(cb, m.name, descriptor.Method(ret), func(c *builder.CodeBuilder) {
					c.Constant(k).Return(ret)
				}); err != nil {
					return err
				}
			}
			return nil
		}})

		if got := mustCallStatic(t, vm, "demo/Consts", "nullString", descriptor.Method(descriptor.String)); got != nil {
			t.Errorf("nullString: got %v, want nil", got)
		}
		c, ok := mustCallStatic(t, vm, "demo/Consts", "intClass", descriptor.Method(descriptor.ClassType)).(*Class)
		if !ok || c.DisplayName() != "int" {
			t.Errorf("intClass: got %v, want int", c)
		}
		if got := mustCallStatic(t, vm, "demo/Consts", "narrow", descriptor.Method(descriptor.Byte)); got != int32(44) {
			t.Errorf("narrow: got %v, want 44", got)
		}
		if got := mustCallStatic(t, vm, "demo/Consts", "limit", intSupplier); got != int32(7) {
			t.Errorf("limit: got %v, want 7", got)
		}
		if got := mustCallStatic(t, vm, "demo/Consts", "invoked", intSupplier); got != int32(21) {
			t.Errorf("invoked: got %v, want 21", got)
		}
		_, err := callStatic(t, vm, "demo/Consts", "fieldHandle", descriptor.Method(descriptor.VarHandle))
		expectKind(t, err, errors.KindUnsupported)
	})
}

func TestHiddenClasses(t *testing.T) {
	host := descriptor.Class("demo/Host")
	hidden := descriptor.Class("demo/Hidden")
	defs := []classDef{{name: "demo/Host", build: func(cb *builder.ClassBuilder) error {
		if err := defaultConstructor(cb); err != nil {
			return err
		}
		return cb.Method("secret", classfile.AccPrivate|classfile.AccStatic, intSupplier, func(m *builder.MethodBuilder) error {
			return m.Code(func(c *builder.CodeBuilder) {
				c.Constant(constant.Int(13)).Return(descriptor.Int)
			})
		})
	}}}

	declare := func(cb *builder.ClassBuilder, tr *classdata.Tracker) error {
		payload := tr.Register(descriptor.String, "payload")
		answer := tr.RegisterDeferred(descriptor.Object, func() (any, error) { return int32(42), nil })
		if err := declareStatic(cb, "payload", descriptor.Method(descriptor.String), func(c *builder.CodeBuilder) {
			c.Constant(payload).Return(descriptor.String)
		}); err != nil {
			return err
		}
		return declareStatic(cb, "answer", descriptor.Method(descriptor.Object), func(c *builder.CodeBuilder) {
			c.Constant(answer).Return(descriptor.Object)
		})
	}

	forEachBackend(t, func(t *testing.T, backend builder.Backend) {
		vm := newClassVM(t, backend, io.Discard, defs...)
		hostLookup := lookupOf(t, vm, "demo/Host")
		opts := builder.Options{Backend: backend}
		header := builder.Header{Access: classfile.AccFinal | classfile.AccSuper, Name: hidden}

		t.Run("class data", func(t *testing.T) {
			defined, err := builder.DefineHidden(hostLookup, true, header, opts, declare, invoke.Nestmate)
			if err != nil {
				t.Fatalf("DefineHidden: %v", err)
			}
			hl := defined.(*Lookup)
			if !hl.Class().IsHidden() {
				t.Error("defined class is not hidden")
			}
			if name := hl.Class().Name(); !strings.HasPrefix(name, "demo/Hidden/0x") {
				t.Errorf("hidden name: got %q, want demo/Hidden/0x...", name)
			}
			if got := hl.Class().DeclaredName(); got != "demo/Hidden" {
				t.Errorf("declared name: got %q, want demo/Hidden", got)
			}

			for _, tt := range []struct {
				name string
				typ  descriptor.Descriptor
				want any
			}{
				{"payload", descriptor.Method(descriptor.String), "payload"},
				{"answer", descriptor.Method(descriptor.Object), int32(42)},
			} {
				h, err := hl.FindStatic(hidden, tt.name, tt.typ)
				if err != nil {
					t.Fatalf("FindStatic(%s): %v", tt.name, err)
				}
				if got, err := h.InvokeExact(tt.typ); err != nil || got != tt.want {
					t.Errorf("%s: got %v, %v, want %v", tt.name, got, err, tt.want)
				}
			}
		})

		t.Run("each definition is distinct", func(t *testing.T) {
			a, err := builder.DefineHidden(hostLookup, false, header, opts, declare)
			if err != nil {
				t.Fatal(err)
			}
			b, err := builder.DefineHidden(hostLookup, false, header, opts, declare)
			if err != nil {
				t.Fatal(err)
			}
			if a.(*Lookup).Class().Name() == b.(*Lookup).Class().Name() {
				t.Error("two hidden definitions share a name")
			}
		})

		t.Run("nestmate reaches host private members", func(t *testing.T) {
			for _, tt := range []struct {
				name string
				opts []invoke.ClassOption
				ok   bool
			}{
				{"nestmate", []invoke.ClassOption{invoke.Nestmate}, true},
				{"not a nestmate", nil, false},
			} {
				defined, err := builder.DefineHidden(hostLookup, false, header, opts, func(*builder.ClassBuilder, *classdata.Tracker) error { return nil }, tt.opts...)
				if err != nil {
					t.Fatalf("%s: DefineHidden: %v", tt.name, err)
				}
				h, err := defined.(*Lookup).FindStatic(host, "secret", intSupplier)
				if !tt.ok {
					expectKind(t, err, errors.KindIllegalAccess)
					continue
				}
				if err != nil {
					t.Fatalf("%s: FindStatic: %v", tt.name, err)
				}
				if got, err := h.InvokeExact(intSupplier); err != nil || got != int32(13) {
					t.Errorf("%s: got %v, %v, want 13", tt.name, got, err)
				}
			}
		})

		t.Run("package must match host", func(t *testing.T) {
			other := builder.Header{Access: classfile.AccFinal | classfile.AccSuper, Name: descriptor.Class("other/Hidden")}
			_, err := builder.DefineHidden(hostLookup, false, other, opts, declare)
			if !errors.Is(err, errors.ErrLambdaAdaptation) {
				t.Fatalf("got %v, want lambda adaptation error", err)
			}
			if !errors.Is(err, &errors.Error{Kind: errors.KindIllegalAccess}) {
				t.Errorf("cause: got %v, want illegal access", err)
			}
		})
	})
}

func TestLookupAccess(t *testing.T) {
	vault := descriptor.Class("other/Vault")
	defs := []classDef{
		{name: "demo/Host", build: defaultConstructor},
		{name: "demo/Neighbor", build: func(cb *builder.ClassBuilder) error {
			return cb.Method("shared", classfile.AccStatic, intSupplier, func(m *builder.MethodBuilder) error {
				return m.Code(func(c *builder.CodeBuilder) { c.Constant(constant.Int(1)).Return(descriptor.Int) })
			})
		}},
		{name: "other/Vault", build: func(cb *builder.ClassBuilder) error {
			body := func(m *builder.MethodBuilder) error {
				return m.Code(func(c *builder.CodeBuilder) { c.Constant(constant.Int(2)).Return(descriptor.Int) })
			}
			for _, m := range []struct {
				name   string
				access uint16
			}{
				{"open", accPublicStatic},
				{"hidden", classfile.AccPrivate | classfile.AccStatic},
				{"internal", classfile.AccStatic},
				{"instance", classfile.AccPublic},
			} {
				if err := cb.Method(m.name, m.access, intSupplier, body); err != nil {
					return err
				}
			}
			return cb.Field("COUNT", accPublicStatic, descriptor.Int, nil)
		}},
	}

	vm := newClassVM(t, builder.BackendModel, io.Discard, defs...)
	l := lookupOf(t, vm, "demo/Host")

	tests := []struct {
		name  string
		find  func() (invoke.MethodHandle, error)
		kind  errors.Kind
		valid bool
	}{
		{"public", func() (invoke.MethodHandle, error) { return l.FindStatic(vault, "open", intSupplier) }, "", true},
		{"same package", func() (invoke.MethodHandle, error) {
			return l.FindStatic(descriptor.Class("demo/Neighbor"), "shared", intSupplier)
		}, "", true},
		{"private", func() (invoke.MethodHandle, error) { return l.FindStatic(vault, "hidden", intSupplier) }, errors.KindIllegalAccess, false},
		{"package-private", func() (invoke.MethodHandle, error) { return l.FindStatic(vault, "internal", intSupplier) }, errors.KindIllegalAccess, false},
		{"instance as static", func() (invoke.MethodHandle, error) { return l.FindStatic(vault, "instance", intSupplier) }, errors.KindIllegalAccess, false},
		{"static as virtual", func() (invoke.MethodHandle, error) { return l.FindVirtual(vault, "open", intSupplier) }, errors.KindIllegalAccess, false},
		{"missing method", func() (invoke.MethodHandle, error) { return l.FindStatic(vault, "nope", intSupplier) }, errors.KindNotFound, false},
		{"wrong descriptor", func() (invoke.MethodHandle, error) {
			return l.FindStatic(vault, "open", descriptor.Method(descriptor.Long))
		}, errors.KindNotFound, false},
		{"static getter", func() (invoke.MethodHandle, error) { return l.FindStaticGetter(vault, "COUNT", descriptor.Int) }, "", true},
		{"static getter wrong type", func() (invoke.MethodHandle, error) {
			return l.FindStaticGetter(vault, "COUNT", descriptor.Long)
		}, errors.KindNotFound, false},
		{"constructor must return void", func() (invoke.MethodHandle, error) {
			return l.FindConstructor(vault, intSupplier)
		}, errors.KindInvalidArgument, false},
		{"missing constructor", func() (invoke.MethodHandle, error) {
			return l.FindConstructor(vault, descriptor.Method(descriptor.Void))
		}, errors.KindNotFound, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := tt.find()
			if !tt.valid {
				expectKind(t, err, tt.kind)
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if h == nil {
				t.Fatal("nil handle")
			}
		})
	}

	t.Run("find primitive class", func(t *testing.T) {
		c, err := l.FindClass(descriptor.Long)
		if err != nil {
			t.Fatal(err)
		}
		if c.Name() != "long" {
			t.Errorf("got %q, want long", c.Name())
		}
	})

	t.Run("find missing class", func(t *testing.T) {
		_, err := l.FindClass(descriptor.Class("demo/Missing"))
		expectKind(t, err, errors.KindNotFound)
	})
}

func TestMethodHandleAdaptation(t *testing.T) {
	vm := newTestVM(t)
	sumType := descriptor.Method(descriptor.Int, descriptor.Int, descriptor.Int)
	sum := vm.NativeHandle(sumType, func(args []any) (any, error) {
		return args[0].(int32) + args[1].(int32), nil
	})

	t.Run("invoke exact", func(t *testing.T) {
		got, err := sum.InvokeExact(sumType, 2, int32(3))
		if err != nil || got != int32(5) {
			t.Errorf("got %v, %v, want 5", got, err)
		}
	})

	t.Run("invoke exact with another type", func(t *testing.T) {
		_, err := sum.InvokeExact(descriptor.Method(descriptor.Long, descriptor.Long, descriptor.Long), int64(1), int64(2))
		if !errors.Is(err, errors.ErrWrongMethodType) {
			t.Errorf("got %v, want wrong method type", err)
		}
	})

	t.Run("invoke boxes and widens", func(t *testing.T) {
		boxed := descriptor.Method(descriptor.Object, integerType, integerType)
		got, err := sum.Invoke(boxed, int32(4), int32(5))
		if err != nil || got != int32(9) {
			t.Errorf("boxed: got %v, %v, want 9", got, err)
		}
		widened := descriptor.Method(descriptor.Long, descriptor.Short, descriptor.Byte)
		got, err = sum.Invoke(widened, int16(1), int8(2))
		if err != nil || got != int64(3) {
			t.Errorf("widened: got %v, %v, want 3", got, err)
		}
	})

	t.Run("as type rejects arity change", func(t *testing.T) {
		_, err := sum.AsType(descriptor.Method(descriptor.Int, descriptor.Int))
		expectKind(t, err, errors.KindWrongMethodType)
	})

	t.Run("as type rejects narrowing", func(t *testing.T) {
		_, err := sum.AsType(descriptor.Method(descriptor.Int, descriptor.Long, descriptor.Int))
		expectKind(t, err, errors.KindWrongMethodType)
	})

	t.Run("unboxing a non-number fails at call time", func(t *testing.T) {
		loose, err := sum.AsType(descriptor.Method(descriptor.Int, descriptor.Object, descriptor.Object))
		if err != nil {
			t.Fatalf("AsType: %v", err)
		}
		_, err = loose.InvokeExact(loose.Type(), "x", int32(1))
		expectJavaException(t, err, "java/lang/ClassCastException")
		_, err = loose.InvokeExact(loose.Type(), nil, int32(1))
		expectJavaException(t, err, "java/lang/NullPointerException")
	})

	t.Run("void return", func(t *testing.T) {
		var seen int32
		sink := vm.NativeHandle(descriptor.Method(descriptor.Void, descriptor.Int), func(args []any) (any, error) {
			seen = args[0].(int32)
			return nil, nil
		})
		asInt, err := sink.AsType(descriptor.Method(descriptor.Int, descriptor.Int))
		if err != nil {
			t.Fatal(err)
		}
		got, err := asInt.InvokeExact(asInt.Type(), 8)
		if err != nil || got != int32(0) || seen != 8 {
			t.Errorf("got %v, %v (seen %d), want 0 and seen 8", got, err, seen)
		}
	})
}

func TestGoValueConversion(t *testing.T) {
	tests := []struct {
		name string
		typ  descriptor.Descriptor
		in   any
		want Value
	}{
		{"int", descriptor.Int, 7, IntValue(7)},
		{"int widened to long", descriptor.Long, int32(3), LongValue(3)},
		{"int narrowed to byte", descriptor.Byte, 300, IntValue(44)},
		{"bool", descriptor.Boolean, true, IntValue(1)},
		{"float to double", descriptor.Double, float32(1.5), DoubleValue(1.5)},
		{"string reference", descriptor.String, "s", RefValue("s")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ToValue(tt.typ, tt.in)
			if err != nil {
				t.Fatalf("ToValue: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}

	t.Run("incompatible primitive", func(t *testing.T) {
		_, err := ToValue(descriptor.Int, "x")
		expectKind(t, err, errors.KindClassCast)
		_, err = ToValue(descriptor.Int, int64(1))
		expectKind(t, err, errors.KindClassCast)
	})

	t.Run("from value", func(t *testing.T) {
		if got := FromValue(descriptor.Char, IntValue(65)); got != int32(65) {
			t.Errorf("char: got %v, want 65", got)
		}
		if got := FromValue(descriptor.String, NullValue()); got != nil {
			t.Errorf("null: got %v, want nil", got)
		}
		if got := FromValue(descriptor.Void, IntValue(1)); got != nil {
			t.Errorf("void: got %v, want nil", got)
		}
	})
}

func TestConcurrentClassInitialization(t *testing.T) {
	counter := descriptor.Class("demo/Counter")
	tick := mustHandle(t, constant.Static, descriptor.Class("demo/Ticks"), "tick",
		descriptor.Method(callSiteType, descriptor.Lookup, descriptor.String, descriptor.MethodType))

	forEachBackend(t, func(t *testing.T, backend builder.Backend) {
		vm := newClassVM(t, backend, io.Discard, classDef{name: "demo/Counter", build: func(cb *builder.ClassBuilder) error {
			if err := cb.Method("<clinit>", classfile.AccStatic, descriptor.Method(descriptor.Void), func(m *builder.MethodBuilder) error {
				return m.Code(func(c *builder.CodeBuilder) {
					c.InvokeDynamic("tick", descriptor.Method(descriptor.Void), tick).Return(descriptor.Void)
				})
			}); err != nil {
				return err
			}
			return declareStatic(cb, "ready", intSupplier, func(c *builder.CodeBuilder) {
				c.Constant(constant.Int(1)).Return(descriptor.Int)
			})
		}})

		var inits atomic.Int32
		vm.RegisterBootstrap("demo/Ticks", "tick", func(invoke.Lookup, string, descriptor.Descriptor, []any) (any, error) {
			return vm.NativeHandle(descriptor.Method(descriptor.Void), func([]any) (any, error) {
				inits.Add(1)
				return nil, nil
			}), nil
		})

		l := lookupOf(t, vm, "demo/Counter")
		var g errgroup.Group
		for i := 0; i < 16; i++ {
			g.Go(func() error {
				h, err := l.FindStatic(counter, "ready", intSupplier)
				if err != nil {
					return err
				}
				_, err = h.InvokeExact(intSupplier)
				return err
			})
		}
		if err := g.Wait(); err != nil {
			t.Fatalf("concurrent calls: %v", err)
		}
		if n := inits.Load(); n != 1 {
			t.Errorf("static initializer ran %d times, want 1", n)
		}
	})
}
