package lambda

import (
	"github.com/daimatz/bytecodebuilder/pkg/constant"
	"github.com/daimatz/bytecodebuilder/pkg/descriptor"
	"github.com/daimatz/bytecodebuilder/pkg/errors"
	"github.com/daimatz/bytecodebuilder/pkg/invoke"
)

// Bootstrap method coordinates for invokedynamic call sites linked by
// Metafactory.
const (
	BootstrapOwner = "bytecodebuilder/runtime/FlexibleLambdaMetafactory"
	BootstrapName  = "metafactory"
)

// BootstrapType is the type of the metafactory bootstrap method.
var BootstrapType = descriptor.Method(descriptor.Class("java/lang/invoke/CallSite"),
	descriptor.Lookup, descriptor.String, descriptor.MethodType,
	descriptor.MethodType, descriptor.MethodHandle, descriptor.MethodType)

// BootstrapHandle returns the bootstrap method reference to use at
// invokedynamic sites linked by Bootstrap.
func BootstrapHandle() constant.MethodHandle {
	h, err := constant.StaticMethod(descriptor.Class(BootstrapOwner), BootstrapName, BootstrapType)
	if err != nil {
		panic(err)
	}
	return h
}

// BootstrapArgs returns the static arguments of a metafactory call site:
// the interface method type, the implementation and the dynamic type.
func BootstrapArgs(samType descriptor.Descriptor, impl constant.MethodHandle, dynamicType descriptor.Descriptor) ([]constant.Constant, error) {
	sam, err := constant.MethodTypeOf(samType)
	if err != nil {
		return nil, err
	}
	dyn, err := constant.MethodTypeOf(dynamicType)
	if err != nil {
		return nil, err
	}
	return []constant.Constant{sam, impl, dyn}, nil
}

// Bootstrap returns a Go bootstrap method that links an invokedynamic call
// site through Metafactory. The call site type is the factory type.
func Bootstrap(opts ...Option) func(lookup invoke.Lookup, name string, typ descriptor.Descriptor, args []any) (any, error) {
	return func(lookup invoke.Lookup, name string, typ descriptor.Descriptor, args []any) (any, error) {
		if len(args) != 3 {
			return nil, errors.New(errors.PhaseLinkage, errors.KindLambdaAdaptation).
				Member(name).Value(len(args)).Detail("expected 3 static arguments").Build()
		}
		samType, ok1 := args[0].(descriptor.Descriptor)
		impl, ok2 := args[1].(invoke.MethodHandle)
		dynamicType, ok3 := args[2].(descriptor.Descriptor)
		if !ok1 || !ok2 || !ok3 {
			return nil, errors.New(errors.PhaseLinkage, errors.KindLambdaAdaptation).
				Member(name).Detail("static arguments must be (MethodType, MethodHandle, MethodType), got (%T, %T, %T)",
				args[0], args[1], args[2]).Build()
		}
		return Metafactory(lookup, name, typ, samType, impl, dynamicType, opts...)
	}
}
