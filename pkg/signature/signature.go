// Package signature builds generic Signature attribute strings.
package signature

import (
	"strings"

	"github.com/daimatz/bytecodebuilder/pkg/descriptor"
	"github.com/daimatz/bytecodebuilder/pkg/errors"
)

// Signature is a generic type signature.
type Signature interface {
	String() string
	// Array returns the one-dimensional array of this type.
	Array() Signature
}

type simple string

func (s simple) String() string   { return string(s) }
func (s simple) Array() Signature { return simple("[" + string(s)) }

// Void is the return signature of a method that returns nothing.
var Void Signature = simple("V")

// TypeArgument is one entry of a type argument list.
type TypeArgument struct {
	s string
}

func (a TypeArgument) String() string { return a.s }

// Exact is a plain type argument.
func Exact(sig Signature) TypeArgument { return TypeArgument{sig.String()} }

// Wildcard is the unbounded '*' type argument.
func Wildcard() TypeArgument { return TypeArgument{"*"} }

// Extends is an upper-bounded wildcard, '+' followed by the bound.
func Extends(sig Signature) TypeArgument { return TypeArgument{"+" + sig.String()} }

// Super is a lower-bounded wildcard, '-' followed by the bound.
func Super(sig Signature) TypeArgument { return TypeArgument{"-" + sig.String()} }

// ClassTypeSignature is a class type, optionally nested in an outer class type.
type ClassTypeSignature struct {
	outer *ClassTypeSignature
	name  string
	args  []TypeArgument
}

// ClassType returns the signature of the class with the given internal name.
// With no type arguments the argument list is omitted entirely.
func ClassType(name string, args ...TypeArgument) *ClassTypeSignature {
	return &ClassTypeSignature{name: name, args: args}
}

// Inner returns the member class name of c, e.g. LFoo.Bar;.
func (c *ClassTypeSignature) Inner(name string, args ...TypeArgument) *ClassTypeSignature {
	return &ClassTypeSignature{outer: c, name: name, args: args}
}

func (c *ClassTypeSignature) partial() string {
	var b strings.Builder
	if c.outer != nil {
		b.WriteString(c.outer.partial())
		b.WriteByte('.')
	}
	b.WriteString(c.name)
	if len(c.args) > 0 {
		b.WriteByte('<')
		for _, a := range c.args {
			b.WriteString(a.s)
		}
		b.WriteByte('>')
	}
	return b.String()
}

func (c *ClassTypeSignature) String() string   { return "L" + c.partial() + ";" }
func (c *ClassTypeSignature) Array() Signature { return simple("[" + c.String()) }

// TypeVariable returns the signature of a type variable, e.g. TT;.
func TypeVariable(name string) Signature { return simple("T" + name + ";") }

// FromDescriptor returns the signature of a non-generic type descriptor.
// Type arguments are only accepted for class types.
func FromDescriptor(d descriptor.Descriptor, args ...TypeArgument) (Signature, error) {
	switch {
	case d.IsClass():
		name, _ := d.InternalName()
		return ClassType(name, args...), nil
	case d.IsMethod() || d.IsZero():
		return nil, errors.InvalidDescriptor(d.String(), "not a type descriptor")
	case len(args) > 0:
		return nil, errors.New(errors.PhaseConstruction, errors.KindUnsupportedSignatureOperation).
			Descriptor(d.String()).
			Detail("type arguments require a class type").
			Build()
	}
	return simple(d.String()), nil
}

// Inner derives a member class signature from sig, which must be class-like.
func Inner(sig Signature, name string, args ...TypeArgument) (Signature, error) {
	c, ok := sig.(*ClassTypeSignature)
	if !ok {
		return nil, errors.New(errors.PhaseConstruction, errors.KindUnsupportedSignatureOperation).
			Descriptor(sig.String()).
			Detail("cannot make an inner class signature of a non-class type").
			Build()
	}
	return c.Inner(name, args...), nil
}
