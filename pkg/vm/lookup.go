package vm

import (
	"github.com/daimatz/bytecodebuilder/pkg/classfile"
	"github.com/daimatz/bytecodebuilder/pkg/constant"
	"github.com/daimatz/bytecodebuilder/pkg/descriptor"
	"github.com/daimatz/bytecodebuilder/pkg/errors"
	"github.com/daimatz/bytecodebuilder/pkg/invoke"
)

// Lookup resolves classes and members with the access rights of a class.
type Lookup struct {
	vm    *VM
	class *Class
}

var _ invoke.Lookup = (*Lookup)(nil)

// Class returns the lookup class.
func (l *Lookup) Class() *Class { return l.class }

// LookupClass returns the lookup class.
func (l *Lookup) LookupClass() invoke.Class { return l.class }

func (l *Lookup) String() string { return l.class.DisplayName() }

// FindClass loads the class or primitive type named by t.
func (l *Lookup) FindClass(t descriptor.Descriptor) (invoke.Class, error) {
	c, err := l.findClass(t)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (l *Lookup) findClass(t descriptor.Descriptor) (*Class, error) {
	if t.IsPrimitive() || t.IsVoid() {
		if c, ok := l.vm.primitiveClass(t); ok {
			return c, nil
		}
	}
	if t.IsArray() || t.IsMethod() || !t.IsClass() {
		return nil, errors.Unsupported(errors.PhaseLinkage, "class object for "+t.String())
	}
	name, err := t.InternalName()
	if err != nil {
		return nil, err
	}
	return l.vm.resolveClass(l.class, name)
}

// DefineHiddenClass defines bytes as a hidden class in the package of the
// lookup class.
func (l *Lookup) DefineHiddenClass(bytes []byte, initialize bool, opts ...invoke.ClassOption) (invoke.Lookup, error) {
	return l.DefineHiddenClassWithClassData(bytes, nil, initialize, opts...)
}

// DefineHiddenClassWithClassData defines a hidden class carrying data.
func (l *Lookup) DefineHiddenClassWithClassData(bytes []byte, data any, initialize bool, opts ...invoke.ClassOption) (invoke.Lookup, error) {
	c, err := l.vm.defineHidden(l.class, bytes, data, initialize, opts)
	if err != nil {
		return nil, err
	}
	return l.vm.Lookup(c), nil
}

// FindStaticGetter returns a handle reading a static field.
func (l *Lookup) FindStaticGetter(owner descriptor.Descriptor, name string, t descriptor.Descriptor) (invoke.MethodHandle, error) {
	c, err := l.findClass(owner)
	if err != nil {
		return nil, err
	}
	f, err := l.resolveField(c, name, t, true)
	if err != nil {
		return nil, err
	}
	return l.vm.fieldHandle(constant.StaticGetter, c, f), nil
}

// FindConstructor returns a handle that allocates and initializes owner.
func (l *Lookup) FindConstructor(owner descriptor.Descriptor, t descriptor.Descriptor) (invoke.MethodHandle, error) {
	if !t.IsMethod() || !t.ReturnType().IsVoid() {
		return nil, errors.New(errors.PhaseLinkage, errors.KindInvalidArgument).
			Owner(owner.String()).Descriptor(t.String()).
			Detail("constructor type must return void").Build()
	}
	c, err := l.findClass(owner)
	if err != nil {
		return nil, err
	}
	m := c.declaredMethod("<init>", t.String())
	if m == nil {
		return nil, l.notFound(c, "<init>", t)
	}
	if err := l.checkAccess(c, m.Class, "<init>", m.Access); err != nil {
		return nil, err
	}
	return l.vm.constructorHandle(c, m), nil
}

// FindStatic returns a handle for a static method.
func (l *Lookup) FindStatic(owner descriptor.Descriptor, name string, t descriptor.Descriptor) (invoke.MethodHandle, error) {
	c, err := l.findClass(owner)
	if err != nil {
		return nil, err
	}
	m, err := l.resolveMethod(c, name, t)
	if err != nil {
		return nil, err
	}
	if !m.IsStatic() {
		return nil, l.staticMismatch(c, name, t, true)
	}
	return l.vm.staticHandle(m), nil
}

// FindVirtual returns a handle for an instance method. The handle
// dispatches on the runtime class of its first argument.
func (l *Lookup) FindVirtual(owner descriptor.Descriptor, name string, t descriptor.Descriptor) (invoke.MethodHandle, error) {
	c, err := l.findClass(owner)
	if err != nil {
		return nil, err
	}
	m, err := l.resolveMethod(c, name, t)
	if err != nil {
		return nil, err
	}
	if m.IsStatic() {
		return nil, l.staticMismatch(c, name, t, false)
	}
	return l.vm.virtualHandle(c, m), nil
}

func (l *Lookup) resolveMethod(owner *Class, name string, t descriptor.Descriptor) (*Method, error) {
	m := owner.findMethod(name, t.String())
	if m == nil {
		return nil, l.notFound(owner, name, t)
	}
	if err := l.checkAccess(owner, m.Class, name, m.Access); err != nil {
		return nil, err
	}
	return m, nil
}

func (l *Lookup) resolveField(owner *Class, name string, t descriptor.Descriptor, static bool) (*Field, error) {
	f := owner.findField(name)
	if f == nil || f.Desc != t {
		return nil, l.notFound(owner, name, t)
	}
	if f.IsStatic() != static {
		return nil, l.staticMismatch(owner, name, t, static)
	}
	if err := l.checkAccess(owner, f.Class, name, f.Access); err != nil {
		return nil, err
	}
	return f, nil
}

// checkAccess applies Java member access rules for a member of decl
// reached through owner.
func (l *Lookup) checkAccess(owner, decl *Class, name string, flags uint16) error {
	from := l.class
	switch {
	case flags&classfile.AccPublic != 0:
		return nil
	case flags&classfile.AccPrivate != 0:
		if from == decl || from.nest() == decl.nest() {
			return nil
		}
	case from.packageName() == decl.packageName():
		return nil
	case flags&classfile.AccProtected != 0:
		if from.IsSubclassOf(decl) {
			return nil
		}
	}
	return errors.New(errors.PhaseLinkage, errors.KindIllegalAccess).
		Owner(owner.name).Member(name).
		Detail("%s member is not accessible from %s", accessString(flags), from.DisplayName()).Build()
}

func (l *Lookup) notFound(owner *Class, name string, t descriptor.Descriptor) error {
	return errors.New(errors.PhaseLinkage, errors.KindNotFound).
		Owner(owner.name).Member(name).Descriptor(t.String()).
		Detail("no such member").Build()
}

func (l *Lookup) staticMismatch(owner *Class, name string, t descriptor.Descriptor, wantStatic bool) error {
	return errors.New(errors.PhaseLinkage, errors.KindIllegalAccess).
		Owner(owner.name).Member(name).Descriptor(t.String()).
		Detail("expected static=%v", wantStatic).Build()
}
