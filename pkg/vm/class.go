package vm

import (
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/daimatz/bytecodebuilder/pkg/classfile"
	"github.com/daimatz/bytecodebuilder/pkg/descriptor"
	"github.com/daimatz/bytecodebuilder/pkg/invoke"
)

type initState int

const (
	initPending initState = iota
	initRunning
	initDone
	initFailed
)

// Class is a loaded, linked class. Builtin classes have no class file and
// implement their methods natively.
type Class struct {
	vm         *VM
	name       string
	declared   string
	file       *classfile.ClassFile
	access     uint16
	super      *Class
	interfaces []*Class
	methods    []*Method
	fields     []*Field
	primitive  descriptor.Descriptor
	valueClass bool

	hidden    bool
	classData any
	nestHost  *Class
	strong    bool

	staticsMu sync.RWMutex
	statics   map[string]Value

	constMu   sync.Mutex
	constants map[uint16]Value
	callSites map[uint16]invoke.MethodHandle

	initMu     sync.Mutex
	initCond   *sync.Cond
	state      initState
	initThread *thread
	initErr    error
}

func newClass(vm *VM, name string) *Class {
	c := &Class{
		vm:        vm,
		name:      name,
		declared:  name,
		statics:   make(map[string]Value),
		constants: make(map[uint16]Value),
		callSites: make(map[uint16]invoke.MethodHandle),
	}
	c.initCond = sync.NewCond(&c.initMu)
	return c
}

// Name returns the internal name. Hidden classes carry a unique suffix.
func (c *Class) Name() string { return c.name }

// DeclaredName returns the name the class file declares.
func (c *Class) DeclaredName() string { return c.declared }

// DisplayName returns the binary name, or the keyword of a primitive class.
func (c *Class) DisplayName() string {
	if !c.primitive.IsZero() {
		return c.primitive.DisplayName()
	}
	return strings.ReplaceAll(c.name, "/", ".")
}

// Descriptor returns the type descriptor of the class.
func (c *Class) Descriptor() descriptor.Descriptor {
	if !c.primitive.IsZero() {
		return c.primitive
	}
	return descriptor.Class(c.name)
}

// IsInterface reports whether the class is an interface.
func (c *Class) IsInterface() bool { return c.access&classfile.AccInterface != 0 }

// IsAbstract reports whether the class is abstract.
func (c *Class) IsAbstract() bool { return c.access&classfile.AccAbstract != 0 }

// IsHidden reports whether the class was defined as a hidden class.
func (c *Class) IsHidden() bool { return c.hidden }

// ClassData returns the class data of a hidden class, or nil.
func (c *Class) ClassData() any { return c.classData }

// File returns the parsed class file, or nil for builtin classes.
func (c *Class) File() *classfile.ClassFile { return c.file }

// Superclass implements invoke.Class.
func (c *Class) Superclass() invoke.Class {
	if c.super == nil || c.IsInterface() {
		return nil
	}
	return c.super
}

// Interfaces implements invoke.Class.
func (c *Class) Interfaces() []invoke.Class {
	out := make([]invoke.Class, len(c.interfaces))
	for i, itf := range c.interfaces {
		out[i] = itf
	}
	return out
}

// DeclaredMethods implements invoke.Class.
func (c *Class) DeclaredMethods() []invoke.Method {
	out := make([]invoke.Method, len(c.methods))
	for i, m := range c.methods {
		out[i] = invoke.Method{Name: m.Name, Type: m.Desc, Flags: m.Access}
	}
	return out
}

func (c *Class) String() string {
	if c.IsInterface() {
		return "interface " + c.DisplayName()
	}
	return "class " + c.DisplayName()
}

// packageName is the package of the declared name.
func (c *Class) packageName() string {
	if i := strings.LastIndexByte(c.declared, '/'); i >= 0 {
		return c.declared[:i]
	}
	return ""
}

func (c *Class) nest() *Class {
	if c.nestHost != nil {
		return c.nestHost
	}
	return c
}

// IsSubclassOf reports whether c is other, extends it or implements it.
func (c *Class) IsSubclassOf(other *Class) bool {
	if c == other {
		return true
	}
	if other.name == classObject && other.primitive.IsZero() && c.primitive.IsZero() {
		return true
	}
	for s := c.super; s != nil; s = s.super {
		if s == other {
			return true
		}
	}
	if !other.IsInterface() {
		return false
	}
	return c.implements(other)
}

func (c *Class) implements(itf *Class) bool {
	for k := c; k != nil; k = k.super {
		for _, i := range k.interfaces {
			if i == itf || i.implements(itf) {
				return true
			}
		}
	}
	return false
}

func (c *Class) getStatic(name string) (Value, bool) {
	c.staticsMu.RLock()
	defer c.staticsMu.RUnlock()
	v, ok := c.statics[name]
	return v, ok
}

func (c *Class) putStatic(name string, v Value) {
	c.staticsMu.Lock()
	defer c.staticsMu.Unlock()
	c.statics[name] = v
}

// initialize runs static initialization once. A thread already running
// the initializer of c sees it as initialized.
func (c *Class) initialize(t *thread) error {
	c.initMu.Lock()
	for {
		switch c.state {
		case initDone:
			c.initMu.Unlock()
			return nil
		case initFailed:
			err := c.initErr
			c.initMu.Unlock()
			return err
		case initRunning:
			if c.initThread == t {
				c.initMu.Unlock()
				return nil
			}
			c.initCond.Wait()
			continue
		}
		break
	}
	c.state = initRunning
	c.initThread = t
	c.initMu.Unlock()

	err := c.runInitializer(t)

	c.initMu.Lock()
	if err != nil {
		c.state = initFailed
		c.initErr = err
	} else {
		c.state = initDone
	}
	c.initThread = nil
	c.initCond.Broadcast()
	c.initMu.Unlock()
	return err
}

func (c *Class) runInitializer(t *thread) error {
	if c.super != nil {
		if err := c.super.initialize(t); err != nil {
			return err
		}
	}
	if err := c.initStaticFields(t); err != nil {
		return err
	}
	m := c.declaredMethod("<clinit>", "()V")
	if m == nil {
		return nil
	}
	Logger().Debug("initializing class", zap.String("class", c.name))
	if _, err := c.vm.invoke(t, m, nil); err != nil {
		if _, ok := err.(*JavaException); ok {
			return c.vm.NewJavaException("java/lang/ExceptionInInitializerError", "%s: %v", c.DisplayName(), err)
		}
		return err
	}
	return nil
}

func (c *Class) initStaticFields(t *thread) error {
	for _, f := range c.fields {
		if !f.IsStatic() {
			continue
		}
		if _, ok := c.getStatic(f.Name); ok {
			continue
		}
		v := zeroValue(f.Desc)
		if f.ConstantValue != 0 && c.file != nil {
			k, err := c.file.Loadable(f.ConstantValue)
			if err != nil {
				return err
			}
			if v, err = c.vm.constantValue(t, c, k); err != nil {
				return err
			}
		}
		c.putStatic(f.Name, v)
	}
	return nil
}
