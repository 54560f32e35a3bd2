package signature

import "strings"

// ClassSignature is a complete class Signature attribute value.
type ClassSignature struct {
	s string
}

func (c ClassSignature) String() string { return c.s }

// MethodSignature is a complete method Signature attribute value.
type MethodSignature struct {
	s string
}

func (m MethodSignature) String() string { return m.s }

type typeParameters struct {
	b strings.Builder
}

func (p *typeParameters) add(name string, classBound Signature, interfaceBounds []Signature) {
	p.b.WriteString(name)
	p.b.WriteByte(':')
	if classBound != nil {
		p.b.WriteString(classBound.String())
	}
	for _, bound := range interfaceBounds {
		p.b.WriteByte(':')
		p.b.WriteString(bound.String())
	}
}

func (p *typeParameters) writeTo(b *strings.Builder) {
	if p.b.Len() == 0 {
		return
	}
	b.WriteByte('<')
	b.WriteString(p.b.String())
	b.WriteByte('>')
}

// ClassSignatureBuilder accumulates type parameters for a class signature.
type ClassSignatureBuilder struct {
	params typeParameters
}

// NewClassSignature starts a class signature.
func NewClassSignature() *ClassSignatureBuilder {
	return &ClassSignatureBuilder{}
}

// TypeParameter declares a type parameter. A nil classBound leaves the
// class bound empty, as for interface-only bounds.
func (b *ClassSignatureBuilder) TypeParameter(name string, classBound Signature, interfaceBounds ...Signature) *ClassSignatureBuilder {
	b.params.add(name, classBound, interfaceBounds)
	return b
}

// Build assembles <params>super interfaces...
func (b *ClassSignatureBuilder) Build(super Signature, interfaces ...Signature) ClassSignature {
	var full strings.Builder
	b.params.writeTo(&full)
	full.WriteString(super.String())
	for _, iface := range interfaces {
		full.WriteString(iface.String())
	}
	return ClassSignature{full.String()}
}

// MethodSignatureBuilder accumulates type parameters for a method signature.
type MethodSignatureBuilder struct {
	params typeParameters
}

// NewMethodSignature starts a method signature.
func NewMethodSignature() *MethodSignatureBuilder {
	return &MethodSignatureBuilder{}
}

// TypeParameter declares a type parameter.
func (b *MethodSignatureBuilder) TypeParameter(name string, classBound Signature, interfaceBounds ...Signature) *MethodSignatureBuilder {
	b.params.add(name, classBound, interfaceBounds)
	return b
}

// Build assembles <params>(parameters)return.
func (b *MethodSignatureBuilder) Build(ret Signature, params ...Signature) MethodSignature {
	return b.BuildThrows(ret, nil, params...)
}

// BuildThrows is Build followed by ^T for every thrown type.
func (b *MethodSignatureBuilder) BuildThrows(ret Signature, throws []Signature, params ...Signature) MethodSignature {
	var full strings.Builder
	b.params.writeTo(&full)
	full.WriteByte('(')
	for _, p := range params {
		full.WriteString(p.String())
	}
	full.WriteByte(')')
	full.WriteString(ret.String())
	for _, t := range throws {
		full.WriteByte('^')
		full.WriteString(t.String())
	}
	return MethodSignature{full.String()}
}
