// Package lambda synthesizes hidden classes that implement a functional
// interface, or extend an abstract class, by delegating the single abstract
// method to a method handle.
package lambda

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/daimatz/bytecodebuilder/pkg/builder"
	"github.com/daimatz/bytecodebuilder/pkg/classdata"
	"github.com/daimatz/bytecodebuilder/pkg/classfile"
	"github.com/daimatz/bytecodebuilder/pkg/constant"
	"github.com/daimatz/bytecodebuilder/pkg/descriptor"
	"github.com/daimatz/bytecodebuilder/pkg/errors"
	"github.com/daimatz/bytecodebuilder/pkg/invoke"
)

// ClassVersion is the class-file major version of synthesized classes.
const ClassVersion = 65

const (
	classSuffix   = "$$FlexibleLambdaMetafactory$"
	instanceField = "$INSTANCE"
)

// Option configures synthesis.
type Option func(*config)

type config struct {
	build builder.Options
}

// WithBackend selects the encoder used for synthesized classes.
func WithBackend(b builder.Backend) Option {
	return func(c *config) { c.build.Backend = b }
}

// WithBuildOptions replaces the build options used for synthesized classes.
func WithBuildOptions(o builder.Options) Option {
	return func(c *config) { c.build = o }
}

func newConfig(opts []Option) config {
	var c config
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

func (c config) logger() *zap.Logger {
	if c.build.Logger != nil {
		return c.build.Logger
	}
	return Logger()
}

func argField(i int) string { return fmt.Sprintf("arg$%d", i) }

// Metafactory defines a hidden class in the package of lookup's class that
// implements the abstract method name of factoryType's return type, and
// returns a factory handle of type factoryType producing its instances.
//
// The parameters of factoryType are captured into final fields. The
// abstract method, of type samType, calls impl with the captured values
// followed by its own arguments. impl is first adapted to dynamicType and
// then to samType, both appended after the captured parameters.
//
// With no captured parameters the factory returns one shared instance.
func Metafactory(lookup invoke.Lookup, name string, factoryType, samType descriptor.Descriptor, impl invoke.MethodHandle, dynamicType descriptor.Descriptor, opts ...Option) (invoke.MethodHandle, error) {
	cfg := newConfig(opts)
	fail := func(err error, detail string, args ...any) error {
		return errors.New(errors.PhaseLinkage, errors.KindLambdaAdaptation).
			Member(name).Descriptor(factoryType.String()).Cause(err).Detail(detail, args...).Build()
	}

	switch {
	case name == "" || name == "<init>" || name == "<clinit>":
		return nil, fail(nil, "invalid interface method name %q", name)
	case !factoryType.IsMethod() || !factoryType.ReturnType().IsClass():
		return nil, fail(nil, "factory type must return a class type")
	case !samType.IsMethod():
		return nil, fail(nil, "interface method type %s is not a method type", samType)
	case !dynamicType.IsMethod():
		return nil, fail(nil, "dynamic method type %s is not a method type", dynamicType)
	case dynamicType.ParamCount() != samType.ParamCount():
		return nil, fail(nil, "dynamic type %s and interface method type %s differ in arity", dynamicType, samType)
	case impl == nil:
		return nil, fail(nil, "nil implementation")
	}

	samClassType := factoryType.ReturnType()
	samClass, err := lookup.FindClass(samClassType)
	if err != nil {
		return nil, fail(err, "loading %s", samClassType.DisplayName())
	}
	isInterface := samClass.IsInterface()

	captured := factoryType.Params()
	ctorType := factoryType.ChangeReturnType(descriptor.Void)

	adapted, err := retarget(impl, len(captured), dynamicType)
	if err != nil {
		return nil, fail(err, "adapting implementation to %s", dynamicType.DisplayName())
	}
	adapted, err = retarget(adapted, len(captured), samType)
	if err != nil {
		return nil, fail(err, "adapting implementation to %s", samType.DisplayName())
	}
	implType := adapted.Type()
	singleton := len(captured) == 0

	hostName := lookup.LookupClass().Name()
	target := descriptor.Class(hostName + classSuffix + name)
	super, interfaces := samClassType, []descriptor.Descriptor(nil)
	if isInterface {
		super, interfaces = descriptor.Object, []descriptor.Descriptor{samClassType}
	}

	log := cfg.logger()
	log.Debug("synthesizing adapter",
		zap.String("host", hostName),
		zap.String("method", name+samType.String()),
		zap.String("target", samClassType.DisplayName()),
		zap.Int("captured", len(captured)),
		zap.Bool("singleton", singleton))

	header := builder.Header{
		Version:    ClassVersion,
		Access:     classfile.AccFinal | classfile.AccSuper,
		Name:       target,
		Super:      super,
		Interfaces: interfaces,
	}
	declare := func(cb *builder.ClassBuilder, tracker *classdata.Tracker) error {
		for i, p := range captured {
			if err := cb.Field(argField(i), classfile.AccPrivate|classfile.AccFinal, p, nil); err != nil {
				return err
			}
		}
		if singleton {
			if err := cb.Field(instanceField, classfile.AccPrivate|classfile.AccStatic|classfile.AccFinal, samClassType, nil); err != nil {
				return err
			}
		}

		// Captured fields are stored before the super constructor runs.
		if err := cb.Constructor(classfile.AccPrivate, ctorType, func(m *builder.MethodBuilder) error {
			return m.Code(func(c *builder.CodeBuilder) {
				slot := 1
				for i, p := range captured {
					c.LoadThis().Load(p, slot).Field(constant.Setter, target, argField(i), p)
					slot += p.Size()
				}
				c.LoadThis().
					Invoke(constant.Special, super, "<init>", descriptor.Method(descriptor.Void)).
					Return(descriptor.Void)
			})
		}); err != nil {
			return err
		}

		handle := tracker.Register(descriptor.MethodHandle, adapted)
		if err := cb.Method(name, classfile.AccPublic|classfile.AccFinal, samType, func(m *builder.MethodBuilder) error {
			return m.Code(func(c *builder.CodeBuilder) {
				c.Constant(handle)
				for i, p := range captured {
					c.LoadThis().Field(constant.Getter, target, argField(i), p)
				}
				slot := 1
				for _, p := range samType.Params() {
					c.Load(p, slot)
					slot += p.Size()
				}
				c.Invoke(constant.Virtual, descriptor.MethodHandle, "invokeExact", implType).
					Return(implType.ReturnType())
			})
		}); err != nil {
			return err
		}

		if !singleton {
			return nil
		}
		return cb.Method("<clinit>", classfile.AccStatic, descriptor.Method(descriptor.Void), func(m *builder.MethodBuilder) error {
			return m.Code(func(c *builder.CodeBuilder) {
				c.NewInstance(target, descriptor.Method(descriptor.Void)).
					Field(constant.StaticSetter, target, instanceField, samClassType).
					Return(descriptor.Void)
			})
		})
	}

	hidden, err := builder.DefineHidden(lookup, false, header, cfg.build, declare, invoke.Nestmate)
	if err != nil {
		if errors.Is(err, errors.ErrLambdaAdaptation) {
			return nil, err
		}
		return nil, fail(err, "building %s", target.DisplayName())
	}

	defined := hidden.LookupClass().Descriptor()
	var factory invoke.MethodHandle
	if singleton {
		factory, err = hidden.FindStaticGetter(defined, instanceField, samClassType)
	} else {
		factory, err = hidden.FindConstructor(defined, ctorType)
	}
	if err != nil {
		return nil, fail(err, "resolving factory of %s", hidden.LookupClass().Name())
	}
	factory, err = factory.AsType(factoryType)
	if err != nil {
		return nil, fail(err, "adapting factory")
	}
	log.Debug("adapter defined",
		zap.String("class", hidden.LookupClass().Name()),
		zap.String("factory", factoryType.String()))
	return factory, nil
}

// retarget adapts h to a type whose parameters after the first captured
// ones, and whose return type, are taken from shape.
func retarget(h invoke.MethodHandle, captured int, shape descriptor.Descriptor) (invoke.MethodHandle, error) {
	t := h.Type()
	if t.ParamCount() != captured+shape.ParamCount() {
		return nil, errors.New(errors.PhaseLinkage, errors.KindWrongMethodType).
			Descriptor(t.String()).Value(shape.String()).
			Detail("implementation takes %d parameters, want %d captured plus %d", t.ParamCount(), captured, shape.ParamCount()).Build()
	}
	t = t.ChangeReturnType(shape.ReturnType())
	for i, p := range shape.Params() {
		t = t.ChangeParam(captured+i, p)
	}
	return h.AsType(t)
}
