package signature

import (
	"testing"

	"github.com/daimatz/bytecodebuilder/pkg/descriptor"
	"github.com/daimatz/bytecodebuilder/pkg/errors"
)

func TestTypeSignatures(t *testing.T) {
	object := ClassType("java/lang/Object")
	tests := []struct {
		name string
		sig  Signature
		want string
	}{
		{"plain class", ClassType("java/lang/String"), "Ljava/lang/String;"},
		{"class with args", ClassType("java/util/Map", Exact(ClassType("K")), Wildcard()), "Ljava/util/Map<LK;*>;"},
		{"inner", ClassType("Foo").Inner("Bar"), "LFoo.Bar;"},
		{"inner with args", ClassType("Foo").Inner("Bar", Exact(ClassType("argument"))), "LFoo.Bar<Largument;>;"},
		{"generic outer", ClassType("Foo", Exact(TypeVariable("T"))).Inner("Bar"), "LFoo<TT;>.Bar;"},
		{"type variable", TypeVariable("T"), "TT;"},
		{"array", TypeVariable("T").Array(), "[TT;"},
		{"class array", object.Array().Array(), "[[Ljava/lang/Object;"},
		{"extends", ClassType("java/util/List", Extends(object)), "Ljava/util/List<+Ljava/lang/Object;>;"},
		{"super", ClassType("java/util/List", Super(TypeVariable("E"))), "Ljava/util/List<-TE;>;"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.sig.String(); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestInnerRequiresClassType(t *testing.T) {
	if _, err := Inner(TypeVariable("T"), "Bar"); !errors.Is(err, errors.ErrUnsupportedSignatureOperation) {
		t.Errorf("Inner on type variable: got %v", err)
	}
	if _, err := Inner(ClassType("Foo").Array(), "Bar"); !errors.Is(err, errors.ErrUnsupportedSignatureOperation) {
		t.Errorf("Inner on array: got %v", err)
	}
	sig, err := Inner(ClassType("Foo"), "Bar")
	if err != nil {
		t.Fatal(err)
	}
	if sig.String() != "LFoo.Bar;" {
		t.Errorf("got %q", sig)
	}
}

func TestFromDescriptor(t *testing.T) {
	sig, err := FromDescriptor(descriptor.String)
	if err != nil {
		t.Fatal(err)
	}
	if sig.String() != "Ljava/lang/String;" {
		t.Errorf("got %q", sig)
	}
	sig, err = FromDescriptor(descriptor.Int)
	if err != nil || sig.String() != "I" {
		t.Errorf("got %v, %v", sig, err)
	}
	if _, err := FromDescriptor(descriptor.Method(descriptor.Void)); !errors.Is(err, errors.ErrInvalidDescriptor) {
		t.Errorf("method descriptor: got %v", err)
	}
	if _, err := FromDescriptor(descriptor.Int, Wildcard()); !errors.Is(err, errors.ErrUnsupportedSignatureOperation) {
		t.Errorf("primitive with args: got %v", err)
	}
}

func TestClassSignatureBuilder(t *testing.T) {
	object := ClassType("java/lang/Object")
	comparable := ClassType("java/lang/Comparable", Exact(TypeVariable("T")))
	tests := []struct {
		name string
		sig  ClassSignature
		want string
	}{
		{
			name: "no type parameters",
			sig:  NewClassSignature().Build(object, ClassType("java/lang/Runnable")),
			want: "Ljava/lang/Object;Ljava/lang/Runnable;",
		},
		{
			name: "bounded parameter",
			sig:  NewClassSignature().TypeParameter("T", object, comparable).Build(object),
			want: "<T:Ljava/lang/Object;:Ljava/lang/Comparable<TT;>;>Ljava/lang/Object;",
		},
		{
			name: "interface-only bound",
			sig:  NewClassSignature().TypeParameter("T", nil, comparable).TypeParameter("U", object).Build(object),
			want: "<T::Ljava/lang/Comparable<TT;>;U:Ljava/lang/Object;>Ljava/lang/Object;",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.sig.String(); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMethodSignatureBuilder(t *testing.T) {
	object := ClassType("java/lang/Object")
	tv := TypeVariable("T")
	tests := []struct {
		name string
		sig  MethodSignature
		want string
	}{
		{
			name: "plain",
			sig:  NewMethodSignature().Build(simple("V"), ClassType("java/util/List", Exact(tv))),
			want: "(Ljava/util/List<TT;>;)V",
		},
		{
			name: "generic",
			sig:  NewMethodSignature().TypeParameter("T", object).Build(tv, tv),
			want: "<T:Ljava/lang/Object;>(TT;)TT;",
		},
		{
			name: "throws",
			sig: NewMethodSignature().TypeParameter("X", ClassType("java/lang/Throwable")).
				BuildThrows(simple("V"), []Signature{TypeVariable("X"), ClassType("java/io/IOException")}),
			want: "<X:Ljava/lang/Throwable;>()V^TX;^Ljava/io/IOException;",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.sig.String(); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}
