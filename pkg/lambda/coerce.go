package lambda

import (
	"github.com/daimatz/bytecodebuilder/pkg/descriptor"
	"github.com/daimatz/bytecodebuilder/pkg/errors"
	"github.com/daimatz/bytecodebuilder/pkg/invoke"
)

const classObject = "java/lang/Object"

// FindAbstractMethod returns the single abstract instance method of class.
// Declared methods are visited depth first, each class's own methods before
// its interfaces and its interfaces before its superclass. A method
// redeclared with the same name and type is counted once.
func FindAbstractMethod(class invoke.Class) (invoke.Method, error) {
	var (
		found   *invoke.Method
		checked = make(map[string]bool)
	)
	var visit func(c invoke.Class) error
	visit = func(c invoke.Class) error {
		for _, m := range c.DeclaredMethods() {
			if m.IsStatic() {
				continue
			}
			tag := m.Name + m.Type.String()
			if checked[tag] {
				continue
			}
			checked[tag] = true
			if !m.IsAbstract() {
				continue
			}
			if found != nil {
				return errors.New(errors.PhaseDiscovery, errors.KindAmbiguousAbstractMethod).
					Owner(c.Name()).Member(m.Name).Descriptor(m.Type.String()).
					Detail("found two abstract methods in %s: %s%s and %s%s",
						class.Name(), found.Name, found.Type, m.Name, m.Type).Build()
			}
			found = &m
		}
		for _, itf := range c.Interfaces() {
			if err := visit(itf); err != nil {
				return err
			}
		}
		if super := c.Superclass(); super != nil && super.Name() != classObject {
			return visit(super)
		}
		return nil
	}
	if err := visit(class); err != nil {
		return invoke.Method{}, err
	}
	if found == nil {
		return invoke.Method{}, errors.New(errors.PhaseDiscovery, errors.KindNoAbstractMethod).
			Owner(class.Name()).Detail("no abstract method found").Build()
	}
	return *found, nil
}

func abstractMethodOf(lookup invoke.Lookup, target descriptor.Descriptor) (invoke.Method, error) {
	c, err := lookup.FindClass(target)
	if err != nil {
		return invoke.Method{}, errors.New(errors.PhaseLinkage, errors.KindLambdaAdaptation).
			Owner(target.String()).Cause(err).Detail("loading target type").Build()
	}
	return FindAbstractMethod(c)
}

// Coerce returns an instance of target whose abstract method calls handle.
func Coerce(lookup invoke.Lookup, handle invoke.MethodHandle, target descriptor.Descriptor, opts ...Option) (any, error) {
	m, err := abstractMethodOf(lookup, target)
	if err != nil {
		return nil, err
	}
	factoryType := descriptor.Method(target)
	factory, err := Metafactory(lookup, m.Name, factoryType, m.Type, handle, m.Type, opts...)
	if err != nil {
		return nil, err
	}
	v, err := factory.InvokeExact(factoryType)
	if err != nil {
		return nil, errors.New(errors.PhaseLinkage, errors.KindLambdaAdaptation).
			Owner(target.String()).Member(m.Name).Cause(err).Detail("creating instance").Build()
	}
	return v, nil
}

// CoerceCapturing returns a factory for instances of target. Leading
// parameters of handle beyond those of target's abstract method become the
// factory's parameters and are captured by each instance.
func CoerceCapturing(lookup invoke.Lookup, handle invoke.MethodHandle, target descriptor.Descriptor, opts ...Option) (invoke.MethodHandle, error) {
	m, err := abstractMethodOf(lookup, target)
	if err != nil {
		return nil, err
	}
	params := handle.Type().Params()
	arity := len(params) - m.Type.ParamCount()
	if arity < 0 {
		return nil, errors.New(errors.PhaseLinkage, errors.KindLambdaAdaptation).
			Owner(target.String()).Member(m.Name).Descriptor(handle.Type().String()).
			Detail("handle takes fewer parameters than %s%s", m.Name, m.Type).Build()
	}
	factoryType := descriptor.Method(target, params[:arity]...)
	return Metafactory(lookup, m.Name, factoryType, m.Type, handle, m.Type, opts...)
}

// CoerceCapturingFactory is CoerceCapturing with the resulting factory
// itself coerced to the functional type factory.
func CoerceCapturingFactory(lookup invoke.Lookup, handle invoke.MethodHandle, target, factory descriptor.Descriptor, opts ...Option) (any, error) {
	h, err := CoerceCapturing(lookup, handle, target, opts...)
	if err != nil {
		return nil, err
	}
	return Coerce(lookup, h, factory, opts...)
}
