package builder

import (
	"bytes"
	"math"
	"reflect"
	"strings"
	"testing"

	"github.com/daimatz/bytecodebuilder/pkg/classdata"
	"github.com/daimatz/bytecodebuilder/pkg/classfile"
	"github.com/daimatz/bytecodebuilder/pkg/constant"
	"github.com/daimatz/bytecodebuilder/pkg/descriptor"
	"github.com/daimatz/bytecodebuilder/pkg/errors"
	"github.com/daimatz/bytecodebuilder/pkg/invoke"
	"github.com/daimatz/bytecodebuilder/pkg/signature"
)

var (
	counterType = descriptor.Class("demo/Counter")
	listType    = descriptor.Class("java/util/List")
	boxType     = descriptor.Class("demo/Box")
)

func mustMethodHandle(t *testing.T, kind constant.Kind, owner descriptor.Descriptor, name string, typ descriptor.Descriptor) constant.MethodHandle {
	t.Helper()
	h, err := constant.NewMethodHandle(kind, owner, name, typ)
	if err != nil {
		t.Fatalf("NewMethodHandle: %v", err)
	}
	return h
}

// counter records a class that touches every CodeBuilder operation.
func counter(t *testing.T) *ClassBuilder {
	t.Helper()
	cb := New()
	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatal(err)
		}
	}
	must(cb.Field("LIMIT", classfile.AccPublic|classfile.AccStatic|classfile.AccFinal, descriptor.Int, nil,
		WithConstantValue(constant.Int(1000))))
	must(cb.Field("count", classfile.AccPrivate, descriptor.Long, nil))
	must(cb.Field("items", classfile.AccPrivate, listType, nil,
		WithFieldSignature(signature.ClassType("java/util/List", signature.Exact(signature.ClassType("java/lang/String"))))))

	must(cb.Constructor(classfile.AccPublic, descriptor.Method(descriptor.Void), func(m *MethodBuilder) error {
		return m.Code(func(c *CodeBuilder) {
			c.LoadThis().
				Invoke(constant.Special, descriptor.Object, "<init>", descriptor.Method(descriptor.Void)).
				Return(descriptor.Void)
		})
	}))

	bump := descriptor.Method(descriptor.Long, descriptor.Int)
	must(cb.Method("bump", classfile.AccPublic, bump, func(m *MethodBuilder) error {
		return m.Code(func(c *CodeBuilder) {
			c.Load(descriptor.Int, 1).
				Skip(IfNonPositive, func(c *CodeBuilder) {
					c.LoadThis().
						Constant(constant.Long(1)).
						Field(constant.Setter, counterType, "count", descriptor.Long)
				}).
				LoadThis().
				Field(constant.Getter, counterType, "count", descriptor.Long).
				Return(descriptor.Long)
		})
	}, WithExceptions(descriptor.Class("java/io/IOException"))))

	boxCtor := descriptor.Method(descriptor.Void, descriptor.String)
	must(cb.Method("box", classfile.AccPublic|classfile.AccStatic, descriptor.Method(descriptor.Object), func(m *MethodBuilder) error {
		return m.Code(func(c *CodeBuilder) {
			c.Constant(constant.String("boxed")).
				NewInstance(boxType, boxCtor).
				Return(descriptor.Object)
		})
	}))

	concat := mustMethodHandle(t, constant.Static, descriptor.Class("java/lang/invoke/StringConcatFactory"), "makeConcatWithConstants",
		descriptor.Method(descriptor.Class("java/lang/invoke/CallSite"),
			descriptor.Lookup, descriptor.String, descriptor.MethodType, descriptor.String, descriptor.ObjectArray))
	must(cb.Method("describe", classfile.AccPublic|classfile.AccStatic, descriptor.Method(descriptor.String, descriptor.Int), func(m *MethodBuilder) error {
		return m.Code(func(c *CodeBuilder) {
			c.Load(descriptor.Int, 0).
				InvokeDynamic("makeConcatWithConstants", descriptor.Method(descriptor.String, descriptor.Int), concat, constant.String("n=\u0001")).
				Return(descriptor.String)
		})
	}))

	must(cb.Method("table", classfile.AccPublic|classfile.AccStatic, descriptor.Method(descriptor.MustOf("[I"), descriptor.Object), func(m *MethodBuilder) error {
		return m.Code(func(c *CodeBuilder) {
			c.Load(descriptor.Object, 0).
				InstanceOf(descriptor.String).
				Store(descriptor.Int, 1).
				Constant(constant.Int(3)).
				NewArray(descriptor.Int).
				Return(descriptor.MustOf("[I"))
		})
	}))

	must(cb.Method("names", classfile.AccPublic|classfile.AccStatic, descriptor.Method(descriptor.StringArray, descriptor.Object), func(m *MethodBuilder) error {
		return m.Code(func(c *CodeBuilder) {
			c.Load(descriptor.Object, 0).
				CheckCast(descriptor.StringArray).
				Return(descriptor.StringArray)
		})
	}))

	must(cb.Method("run", classfile.AccPublic|classfile.AccAbstract, descriptor.Method(descriptor.Void), nil))
	cb.Attribute("SourceFile", []byte{0, 0})
	return cb
}

func counterHeader() Header {
	return Header{
		Access:     classfile.AccPublic | classfile.AccAbstract | classfile.AccSuper,
		Name:       counterType,
		Interfaces: []descriptor.Descriptor{descriptor.Class("java/lang/Runnable")},
	}
}

func parse(t *testing.T, data []byte) *classfile.ClassFile {
	t.Helper()
	cf, err := classfile.ParseBytes(data)
	if err != nil {
		t.Fatalf("ParseBytes: %v", err)
	}
	return cf
}

func TestBackendsAgree(t *testing.T) {
	classes := make(map[Backend]*classfile.ClassFile)
	for _, b := range Backends {
		data, err := counter(t).Build(counterHeader(), Options{Backend: b})
		if err != nil {
			t.Fatalf("%s: Build: %v", b, err)
		}
		classes[b] = parse(t, data)
	}
	model, visitor := classes[BackendModel], classes[BackendVisitor]

	if got, want := len(visitor.Fields), len(model.Fields); got != want {
		t.Fatalf("fields: got %d, want %d", got, want)
	}
	for i, f := range model.Fields {
		v := visitor.Fields[i]
		if v.Name != f.Name || v.Descriptor != f.Descriptor || v.Signature != f.Signature || v.AccessFlags != f.AccessFlags {
			t.Errorf("field %d: got %+v, want %+v", i, v, f)
		}
	}
	if got, want := len(visitor.Methods), len(model.Methods); got != want {
		t.Fatalf("methods: got %d, want %d", got, want)
	}
	for i, m := range model.Methods {
		v := visitor.Methods[i]
		t.Run(m.Name, func(t *testing.T) {
			if v.Name != m.Name || v.Descriptor != m.Descriptor {
				t.Fatalf("got %s%s, want %s%s", v.Name, v.Descriptor, m.Name, m.Descriptor)
			}
			if !reflect.DeepEqual(v.Exceptions, m.Exceptions) {
				t.Errorf("exceptions: got %v, want %v", v.Exceptions, m.Exceptions)
			}
			if (v.Code == nil) != (m.Code == nil) {
				t.Fatalf("code presence differs")
			}
			if m.Code == nil {
				return
			}
			if !bytes.Equal(v.Code.Code, m.Code.Code) {
				t.Errorf("code: got %v, want %v", v.Code.Code, m.Code.Code)
			}
			if v.Code.MaxStack != m.Code.MaxStack || v.Code.MaxLocals != m.Code.MaxLocals {
				t.Errorf("maxs: got %d/%d, want %d/%d", v.Code.MaxStack, v.Code.MaxLocals, m.Code.MaxStack, m.Code.MaxLocals)
			}
		})
	}
	if got, want := len(visitor.BootstrapMethods), len(model.BootstrapMethods); got != want || got != 1 {
		t.Errorf("bootstrap methods: got %d, want %d", got, want)
	}
	if got := model.FindMethod("bump", "(I)J").Exceptions; !reflect.DeepEqual(got, []string{"java/io/IOException"}) {
		t.Errorf("bump exceptions: got %v", got)
	}
	if got := model.Fields[2].Signature; got != "Ljava/util/List<Ljava/lang/String;>;" {
		t.Errorf("items signature: got %q", got)
	}
}

func TestNewInstanceEncoding(t *testing.T) {
	for _, b := range Backends {
		t.Run(b.String(), func(t *testing.T) {
			data, err := counter(t).Build(counterHeader(), Options{Backend: b})
			if err != nil {
				t.Fatal(err)
			}
			box := parse(t, data).FindMethod("box", "()Ljava/lang/Object;")
			code := box.Code.Code
			// ldc #s; new #c; dup_x1; swap; invokespecial #m; areturn
			want := []byte{classfile.OpLdc, classfile.OpNew, classfile.OpDupX1, classfile.OpSwap, classfile.OpInvokespecial, classfile.OpAreturn}
			got := []byte{code[0], code[2], code[5], code[6], code[7], code[10]}
			if !bytes.Equal(got, want) {
				t.Errorf("got %v, want %v (code %v)", got, want, code)
			}
			if box.Code.MaxStack != 3 {
				t.Errorf("max stack: got %d, want 3", box.Code.MaxStack)
			}
		})
	}
}

func TestConstantEncoding(t *testing.T) {
	tests := []struct {
		name  string
		value constant.Constant
		ret   descriptor.Descriptor
		want  []byte
	}{
		{"int -1", constant.Int(-1), descriptor.Int, []byte{classfile.OpIconstM1, classfile.OpIreturn}},
		{"int 5", constant.Int(5), descriptor.Int, []byte{classfile.OpIconst5, classfile.OpIreturn}},
		{"int 6", constant.Int(6), descriptor.Int, []byte{classfile.OpBipush, 6, classfile.OpIreturn}},
		{"int -129", constant.Int(-129), descriptor.Int, []byte{classfile.OpSipush, 0xff, 0x7f, classfile.OpIreturn}},
		{"int 40000", constant.Int(40000), descriptor.Int, []byte{classfile.OpLdc}},
		{"bool", constant.Bool(true), descriptor.Boolean, []byte{classfile.OpIconst1, classfile.OpIreturn}},
		{"long 1", constant.Long(1), descriptor.Long, []byte{classfile.OpLconst1, classfile.OpLreturn}},
		{"long 2", constant.Long(2), descriptor.Long, []byte{classfile.OpLdc2W}},
		{"float 2", constant.Float(2), descriptor.Float, []byte{classfile.OpFconst2, classfile.OpFreturn}},
		{"float -0", constant.Float(float32(math.Copysign(0, -1))), descriptor.Float, []byte{classfile.OpLdc}},
		{"double 1", constant.Double(1), descriptor.Double, []byte{classfile.OpDconst1, classfile.OpDreturn}},
		{"double 2", constant.Double(2), descriptor.Double, []byte{classfile.OpLdc2W}},
		{"string", constant.String("x"), descriptor.String, []byte{classfile.OpLdc}},
		{"class", constant.ClassOf(descriptor.String), descriptor.ClassType, []byte{classfile.OpLdc}},
		{"primitive class", constant.ClassOf(descriptor.Int), descriptor.ClassType, []byte{classfile.OpLdc}},
		{"null", constant.NullConstant(descriptor.String), descriptor.String, []byte{classfile.OpLdc}},
	}
	for _, b := range Backends {
		for _, tt := range tests {
			t.Run(b.String()+"/"+tt.name, func(t *testing.T) {
				cb := New()
				err := cb.Method("get", classfile.AccPublic|classfile.AccStatic, descriptor.Method(tt.ret), func(m *MethodBuilder) error {
					return m.Code(func(c *CodeBuilder) {
						c.Constant(tt.value).Return(tt.ret)
					})
				})
				if err != nil {
					t.Fatal(err)
				}
				data, err := cb.Build(Header{Access: classfile.AccPublic, Name: descriptor.Class("demo/Constants")}, Options{Backend: b})
				if err != nil {
					t.Fatalf("Build: %v", err)
				}
				code := parse(t, data).FindMethod("get", descriptor.Method(tt.ret).String()).Code.Code
				if !bytes.HasPrefix(code, tt.want) {
					t.Errorf("got %v, want prefix %v", code, tt.want)
				}
			})
		}
	}
}

func TestSkip(t *testing.T) {
	for _, b := range Backends {
		t.Run(b.String(), func(t *testing.T) {
			cb := New()
			err := cb.Method("clamp", classfile.AccStatic, descriptor.Method(descriptor.Int, descriptor.Int), func(m *MethodBuilder) error {
				return m.Code(func(c *CodeBuilder) {
					c.Load(descriptor.Int, 0).
						Skip(IfZero, func(c *CodeBuilder) {
							c.Constant(constant.Int(7)).Store(descriptor.Int, 0)
						}).
						Load(descriptor.Int, 0).
						Return(descriptor.Int)
				})
			})
			if err != nil {
				t.Fatal(err)
			}
			data, err := cb.Build(Header{Name: descriptor.Class("demo/Skip")}, Options{Backend: b})
			if err != nil {
				t.Fatal(err)
			}
			code := parse(t, data).FindMethod("clamp", "(I)I").Code
			want := []byte{
				classfile.OpIload0,
				classfile.OpIfeq, 0, 6,
				classfile.OpBipush, 7,
				classfile.OpIstore0,
				classfile.OpIload0,
				classfile.OpIreturn,
			}
			if !bytes.Equal(code.Code, want) {
				t.Errorf("got %v, want %v", code.Code, want)
			}
			if len(code.Attributes) != 1 || code.Attributes[0].Name != classfile.AttrStackMapTable {
				t.Errorf("expected one StackMapTable, got %v", code.Attributes)
			}
		})
	}
}

func TestConstructionErrors(t *testing.T) {
	tests := []struct {
		name string
		code func(c *CodeBuilder)
		want error
	}{
		{
			name: "constructor kind without <init>",
			code: func(c *CodeBuilder) {
				c.Invoke(constant.Constructor, boxType, "make", descriptor.Method(descriptor.Void))
			},
			want: errors.ErrInvalidConstructorInvocation,
		},
		{
			name: "field kind on invoke",
			code: func(c *CodeBuilder) {
				c.Invoke(constant.Getter, boxType, "value", descriptor.Method(descriptor.Int))
			},
			want: &errors.Error{Kind: errors.KindInvalidInvocationKind},
		},
		{
			name: "method kind on field",
			code: func(c *CodeBuilder) {
				c.Field(constant.Virtual, boxType, "value", descriptor.Int)
			},
			want: &errors.Error{Kind: errors.KindInvalidInvocationKind},
		},
		{
			name: "void load",
			code: func(c *CodeBuilder) { c.Load(descriptor.Void, 0) },
			want: errors.ErrInvalidDescriptor,
		},
		{
			name: "primitive checkcast",
			code: func(c *CodeBuilder) { c.CheckCast(descriptor.Int) },
			want: errors.ErrInvalidDescriptor,
		},
		{
			name: "wide constructor arguments",
			code: func(c *CodeBuilder) {
				c.NewInstance(boxType, descriptor.Method(descriptor.Void, descriptor.Long, descriptor.Int))
			},
			want: &errors.Error{Kind: errors.KindUnsupported},
		},
		{
			name: "error inside skip",
			code: func(c *CodeBuilder) {
				c.Skip(IfNull, func(c *CodeBuilder) { c.Return(descriptor.MustOf("()V")) })
			},
			want: errors.ErrInvalidDescriptor,
		},
		{
			name: "not a condition",
			code: func(c *CodeBuilder) { c.Skip(Condition(classfile.OpGoto), nil) },
			want: &errors.Error{Kind: errors.KindInvalidArgument},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cb := New()
			err := cb.Method("m", classfile.AccStatic, descriptor.Method(descriptor.Void), func(m *MethodBuilder) error {
				return m.Code(tt.code)
			})
			if err == nil {
				t.Fatal("expected error")
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
			if len(cb.methods) != 0 {
				t.Errorf("failed method was recorded")
			}
		})
	}
}

func TestConstantFieldValidation(t *testing.T) {
	staticFinal := uint16(classfile.AccStatic | classfile.AccFinal)
	tests := []struct {
		name   string
		access uint16
		typ    descriptor.Descriptor
		value  constant.Constant
		ok     bool
		detail string
	}{
		{"int", staticFinal, descriptor.Int, constant.Int(1), true, ""},
		{"char", staticFinal, descriptor.Char, constant.Char('a'), true, ""},
		{"long", staticFinal, descriptor.Long, constant.Long(1), true, ""},
		{"double", staticFinal, descriptor.Double, constant.Double(1), true, ""},
		{"string", staticFinal, descriptor.String, constant.String("s"), true, ""},
		{"not static", classfile.AccFinal, descriptor.Int, constant.Int(1), false, "static final fields"},
		{"not final", classfile.AccStatic, descriptor.Int, constant.Int(1), false, "static final fields"},
		{"type mismatch", staticFinal, descriptor.Long, constant.Int(1), false, "does not match the field type"},
		{"string on object", staticFinal, descriptor.Object, constant.String("s"), false, "string constant on a field of another type"},
		{"class constant", staticFinal, descriptor.ClassType, constant.ClassOf(descriptor.String), false, "primitive or string"},
		{"dynamic", staticFinal, descriptor.String, constant.NullConstant(descriptor.String), false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New().Field("F", tt.access, tt.typ, nil, WithConstantValue(tt.value))
			if tt.ok {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, errors.ErrInvalidConstantField) {
				t.Errorf("got %v, want InvalidConstantField", err)
			}
			var e *errors.Error
			if errors.As(err, &e) && !strings.Contains(e.Detail, tt.detail) {
				t.Errorf("detail: got %q, want it to mention %q", e.Detail, tt.detail)
			}
		})
	}
}

func TestDeclarationErrors(t *testing.T) {
	cb := New()
	if err := cb.Field("f", 0, descriptor.Void, nil); !errors.Is(err, errors.ErrInvalidDescriptor) {
		t.Errorf("void field: got %v", err)
	}
	if err := cb.Method("m", 0, descriptor.Int, nil); !errors.Is(err, errors.ErrInvalidDescriptor) {
		t.Errorf("field descriptor method: got %v", err)
	}
	if err := cb.Constructor(0, descriptor.Method(descriptor.Int), nil); !errors.Is(err, errors.ErrInvalidDescriptor) {
		t.Errorf("non-void constructor: got %v", err)
	}
	err := cb.Method("m", classfile.AccAbstract, descriptor.Method(descriptor.Void), func(m *MethodBuilder) error {
		return m.Code(func(c *CodeBuilder) { c.Return(descriptor.Void) })
	})
	if err == nil {
		t.Error("abstract method with code: expected error")
	}
}

func TestBuildFrameErrorSurfacesFromBothBackends(t *testing.T) {
	for _, b := range Backends {
		t.Run(b.String(), func(t *testing.T) {
			cb := New()
			err := cb.Method("m", classfile.AccStatic, descriptor.Method(descriptor.Int), func(m *MethodBuilder) error {
				return m.Code(func(c *CodeBuilder) { c.Return(descriptor.Int) })
			})
			if err != nil {
				t.Fatal(err)
			}
			_, err = cb.Build(Header{Name: descriptor.Class("demo/Bad")}, Options{Backend: b})
			if !errors.Is(err, &errors.Error{Kind: errors.KindFrame}) {
				t.Errorf("got %v, want a frame error", err)
			}
		})
	}
}

func TestParseBackend(t *testing.T) {
	tests := []struct {
		in      string
		want    Backend
		wantErr bool
	}{
		{"", BackendModel, false},
		{"model", BackendModel, false},
		{" Visitor ", BackendVisitor, false},
		{"asm", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseBackend(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseBackend(%q): err = %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseBackend(%q): got %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestDump(t *testing.T) {
	var names []string
	var dumped []byte
	opts := Options{Dump: func(name string, data []byte) error {
		names = append(names, name)
		dumped = data
		return nil
	}}
	data, err := counter(t).Build(counterHeader(), opts)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(names) != 1 || names[0] != "demo/Counter" {
		t.Errorf("dumped names: got %v, want [demo/Counter]", names)
	}
	if !bytes.Equal(dumped, data) {
		t.Error("dumped bytes differ from built bytes")
	}

	opts.Dump = func(string, []byte) error { return errors.ErrNotFound }
	_, err = counter(t).Build(counterHeader(), opts)
	var e *errors.Error
	if !errors.As(err, &e) || e.Kind != errors.KindInvalidArgument {
		t.Errorf("got %v, want invalid argument", err)
	}
	if !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("dump error %v does not wrap its cause", err)
	}
}

type recordingLookup struct {
	invoke.Lookup
	bytes    []byte
	data     any
	withData bool
}

func (l *recordingLookup) DefineHiddenClass(b []byte, initialize bool, opts ...invoke.ClassOption) (invoke.Lookup, error) {
	l.bytes = b
	return l, nil
}

func (l *recordingLookup) DefineHiddenClassWithClassData(b []byte, data any, initialize bool, opts ...invoke.ClassOption) (invoke.Lookup, error) {
	l.bytes, l.data, l.withData = b, data, true
	return l, nil
}

func TestDefineHidden(t *testing.T) {
	h := Header{Access: classfile.AccFinal, Name: descriptor.Class("demo/Hidden")}

	t.Run("without class data", func(t *testing.T) {
		l := &recordingLookup{}
		_, err := DefineHidden(l, true, h, Options{}, func(cb *ClassBuilder, _ *classdata.Tracker) error {
			return nil
		}, invoke.Nestmate)
		if err != nil {
			t.Fatal(err)
		}
		if l.withData || len(l.bytes) == 0 {
			t.Errorf("got withData=%v, %d bytes", l.withData, len(l.bytes))
		}
	})

	t.Run("with class data", func(t *testing.T) {
		l := &recordingLookup{}
		calls := 0
		_, err := DefineHidden(l, false, h, Options{Backend: BackendVisitor}, func(cb *ClassBuilder, tr *classdata.Tracker) error {
			first := tr.Register(descriptor.String, "first")
			second := tr.RegisterDeferred(descriptor.Object, func() (any, error) {
				calls++
				return 42, nil
			})
			return cb.Method("pair", classfile.AccStatic, descriptor.Method(descriptor.Object), func(m *MethodBuilder) error {
				return m.Code(func(c *CodeBuilder) {
					c.Constant(first).Constant(second).Return(descriptor.Object)
				})
			})
		})
		if err != nil {
			t.Fatal(err)
		}
		if !l.withData {
			t.Fatal("expected class data definition")
		}
		if got, want := l.data, []any{"first", 42}; !reflect.DeepEqual(got, want) {
			t.Errorf("data: got %v, want %v", got, want)
		}
		if calls != 1 {
			t.Errorf("supplier calls: got %d, want 1", calls)
		}
		if got := len(parse(t, l.bytes).BootstrapMethods); got != 2 {
			t.Errorf("bootstrap methods: got %d, want 2", got)
		}
	})
}
