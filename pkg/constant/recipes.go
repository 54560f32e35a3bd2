package constant

import "github.com/daimatz/bytecodebuilder/pkg/descriptor"

// DefaultName is the invocation name used by recipes whose bootstrap
// ignores it.
const DefaultName = "_"

var (
	constantBootstraps = descriptor.Class("java/lang/invoke/ConstantBootstraps")
	methodHandles      = descriptor.Class("java/lang/invoke/MethodHandles")
)

func bootstrap(owner descriptor.Descriptor, name string, ret descriptor.Descriptor, extra ...descriptor.Descriptor) MethodHandle {
	params := append([]descriptor.Descriptor{descriptor.Lookup, descriptor.String, descriptor.ClassType}, extra...)
	return MethodHandle{Kind: Static, Owner: owner, Name: name, Type: descriptor.Method(ret, params...)}
}

// Bootstrap methods behind the recipes.
var (
	BSMClassData            = bootstrap(methodHandles, "classData", descriptor.Object)
	BSMClassDataAt          = bootstrap(methodHandles, "classDataAt", descriptor.Object, descriptor.Int)
	BSMNullConstant         = bootstrap(constantBootstraps, "nullConstant", descriptor.Object)
	BSMPrimitiveClass       = bootstrap(constantBootstraps, "primitiveClass", descriptor.ClassType)
	BSMEnumConstant         = bootstrap(constantBootstraps, "enumConstant", descriptor.Enum)
	BSMGetStaticFinal       = bootstrap(constantBootstraps, "getStaticFinal", descriptor.Object, descriptor.ClassType)
	BSMInvoke               = bootstrap(constantBootstraps, "invoke", descriptor.Object, descriptor.MethodHandle, descriptor.ObjectArray)
	BSMFieldVarHandle       = bootstrap(constantBootstraps, "fieldVarHandle", descriptor.VarHandle, descriptor.ClassType, descriptor.ClassType)
	BSMStaticFieldVarHandle = bootstrap(constantBootstraps, "staticFieldVarHandle", descriptor.VarHandle, descriptor.ClassType, descriptor.ClassType)
	BSMArrayVarHandle       = bootstrap(constantBootstraps, "arrayVarHandle", descriptor.VarHandle, descriptor.ClassType)
	BSMExplicitCast         = bootstrap(constantBootstraps, "explicitCast", descriptor.Object, descriptor.Object)
)

// ClassData loads the whole class data object of the current hidden class.
func ClassData(typ descriptor.Descriptor) Dynamic {
	return Dynamic{Name: DefaultName, Type: typ, Bootstrap: BSMClassData}
}

// ClassDataAt loads element index of the class data list.
func ClassDataAt(typ descriptor.Descriptor, index int) Dynamic {
	return Dynamic{Name: DefaultName, Type: typ, Bootstrap: BSMClassDataAt, Args: []Constant{Int(index)}}
}

// NullConstant is the null reference typed as typ.
func NullConstant(typ descriptor.Descriptor) Dynamic {
	return Dynamic{Name: DefaultName, Type: typ, Bootstrap: BSMNullConstant}
}

// PrimitiveClass is the Class object of a primitive type.
func PrimitiveClass(primitive descriptor.Descriptor) Dynamic {
	return Dynamic{Name: primitive.String(), Type: descriptor.ClassType, Bootstrap: BSMPrimitiveClass}
}

// EnumConstant is the enum constant called name of enumType.
func EnumConstant(enumType descriptor.Descriptor, name string) Dynamic {
	return Dynamic{Name: name, Type: enumType, Bootstrap: BSMEnumConstant}
}

// StaticFinal reads the static final field owner.name of the given type.
func StaticFinal(owner descriptor.Descriptor, name string, typ descriptor.Descriptor) Dynamic {
	return Dynamic{Name: name, Type: typ, Bootstrap: BSMGetStaticFinal, Args: []Constant{ClassOf(owner)}}
}

// Invoke is the result of calling handle with args.
func Invoke(typ descriptor.Descriptor, handle Constant, args ...Constant) Dynamic {
	all := append([]Constant{handle}, args...)
	return Dynamic{Name: DefaultName, Type: typ, Bootstrap: BSMInvoke, Args: all}
}

// FieldVarHandle is a VarHandle for the instance field owner.name.
func FieldVarHandle(owner descriptor.Descriptor, name string, fieldType descriptor.Descriptor) Dynamic {
	return Dynamic{
		Name:      name,
		Type:      descriptor.VarHandle,
		Bootstrap: BSMFieldVarHandle,
		Args:      []Constant{ClassOf(owner), ClassOf(fieldType)},
	}
}

// StaticFieldVarHandle is a VarHandle for the static field owner.name.
func StaticFieldVarHandle(owner descriptor.Descriptor, name string, fieldType descriptor.Descriptor) Dynamic {
	return Dynamic{
		Name:      name,
		Type:      descriptor.VarHandle,
		Bootstrap: BSMStaticFieldVarHandle,
		Args:      []Constant{ClassOf(owner), ClassOf(fieldType)},
	}
}

// ArrayVarHandle is a VarHandle over elements of arrayType.
func ArrayVarHandle(arrayType descriptor.Descriptor) Dynamic {
	return Dynamic{Name: DefaultName, Type: descriptor.VarHandle, Bootstrap: BSMArrayVarHandle, Args: []Constant{ClassOf(arrayType)}}
}

// ExplicitCast converts value to target with cast, widening or unboxing rules.
func ExplicitCast(value Constant, target descriptor.Descriptor) Dynamic {
	return Dynamic{Name: DefaultName, Type: target, Bootstrap: BSMExplicitCast, Args: []Constant{value}}
}
