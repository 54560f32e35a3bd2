package vm

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/daimatz/bytecodebuilder/pkg/classfile"
	"github.com/daimatz/bytecodebuilder/pkg/descriptor"
	"github.com/daimatz/bytecodebuilder/pkg/errors"
	"github.com/daimatz/bytecodebuilder/pkg/invoke"
	"github.com/daimatz/bytecodebuilder/pkg/native"
)

// maxFrameDepth is the maximum number of nested method calls.
const maxFrameDepth = 1024

// VM is the virtual machine that executes Java bytecode. A VM is safe for
// concurrent use; every entry point runs on its own thread of execution.
type VM struct {
	Stdout io.Writer
	loader ClassLoader
	out    *native.PrintStream

	mu      sync.RWMutex
	classes map[string]*Class

	primitives map[descriptor.Descriptor]*Class

	bootstrapMu sync.RWMutex
	bootstraps  map[string]BootstrapMethod

	hiddenSeq atomic.Uint64
}

// thread is one Java thread of execution. It tracks call depth and owns
// class initializations in progress.
type thread struct {
	vm    *VM
	depth int
}

// Option configures a VM.
type Option func(*VM)

// WithStdout redirects System.out.
func WithStdout(w io.Writer) Option {
	return func(vm *VM) { vm.Stdout = w }
}

// NewVM creates a VM that loads classes through loader. loader may be nil
// when every class is defined explicitly.
func NewVM(loader ClassLoader, opts ...Option) *VM {
	vm := &VM{
		Stdout:     os.Stdout,
		loader:     loader,
		classes:    make(map[string]*Class),
		primitives: make(map[descriptor.Descriptor]*Class),
		bootstraps: make(map[string]BootstrapMethod),
	}
	for _, opt := range opts {
		opt(vm)
	}
	vm.out = native.NewPrintStream(vm.Stdout)
	installBuiltins(vm)
	return vm
}

func (vm *VM) newThread() *thread {
	return &thread{vm: vm}
}

func (vm *VM) threadOf(f *Frame) *thread {
	if f.thread == nil {
		f.thread = vm.newThread()
	}
	return f.thread
}

// LoadClass returns the class registered under name, loading and linking
// it through the class loader on first use.
func (vm *VM) LoadClass(name string) (*Class, error) {
	vm.mu.RLock()
	c, ok := vm.classes[name]
	vm.mu.RUnlock()
	if ok {
		return c, nil
	}
	if vm.loader == nil {
		return nil, errors.New(errors.PhaseLinkage, errors.KindNotFound).
			Owner(name).Detail("no class loader configured").Build()
	}
	cf, err := vm.loader.LoadClass(name)
	if err != nil {
		return nil, errors.New(errors.PhaseLinkage, errors.KindNotFound).
			Owner(name).Cause(err).Detail("loading class").Build()
	}
	c, err = vm.link(cf, name)
	if err != nil {
		return nil, err
	}
	return vm.register(c, false)
}

// DefineClass parses and links a class file and registers it under its
// declared name.
func (vm *VM) DefineClass(data []byte) (*Class, error) {
	cf, err := classfile.ParseBytes(data)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseParse, errors.KindInvalidArgument, err, "parsing class")
	}
	name, err := cf.ClassName()
	if err != nil {
		return nil, errors.Wrap(errors.PhaseParse, errors.KindInvalidArgument, err, "reading class name")
	}
	c, err := vm.link(cf, name)
	if err != nil {
		return nil, err
	}
	return vm.register(c, true)
}

func (vm *VM) register(c *Class, strict bool) (*Class, error) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	if existing, ok := vm.classes[c.name]; ok {
		if strict {
			return nil, errors.New(errors.PhaseLinkage, errors.KindInvalidArgument).
				Owner(c.name).Detail("duplicate class definition").Build()
		}
		return existing, nil
	}
	vm.classes[c.name] = c
	Logger().Debug("class loaded",
		zap.String("class", c.name),
		zap.Bool("hidden", c.hidden))
	return c, nil
}

// link resolves the superclass and superinterfaces of cf and builds the
// runtime class under name.
func (vm *VM) link(cf *classfile.ClassFile, name string) (*Class, error) {
	declared, err := cf.ClassName()
	if err != nil {
		return nil, errors.Wrap(errors.PhaseParse, errors.KindInvalidArgument, err, "reading class name")
	}
	c := newClass(vm, name)
	c.declared = declared
	c.file = cf
	c.access = cf.AccessFlags
	if super := cf.SuperClassName(); super != "" {
		if c.super, err = vm.LoadClass(super); err != nil {
			return nil, err
		}
	}
	ifaces, err := cf.InterfaceNames()
	if err != nil {
		return nil, errors.Wrap(errors.PhaseParse, errors.KindInvalidArgument, err, "reading interfaces")
	}
	for _, in := range ifaces {
		itf, err := vm.LoadClass(in)
		if err != nil {
			return nil, err
		}
		c.interfaces = append(c.interfaces, itf)
	}
	for i := range cf.Methods {
		mi := &cf.Methods[i]
		desc, err := descriptor.Of(mi.Descriptor)
		if err != nil {
			return nil, err
		}
		c.methods = append(c.methods, &Method{
			Class:  c,
			Name:   mi.Name,
			Desc:   desc,
			Access: mi.AccessFlags,
			Code:   mi.Code,
		})
	}
	for _, fi := range cf.Fields {
		desc, err := descriptor.Of(fi.Descriptor)
		if err != nil {
			return nil, err
		}
		c.fields = append(c.fields, &Field{
			Class:         c,
			Name:          fi.Name,
			Desc:          desc,
			Access:        fi.AccessFlags,
			ConstantValue: fi.ConstantValue,
		})
	}
	return c, nil
}

// defineHidden defines data as a hidden class in the package of host.
func (vm *VM) defineHidden(host *Class, data []byte, classData any, initialize bool, opts []invoke.ClassOption) (*Class, error) {
	start := time.Now()
	cf, err := classfile.ParseBytes(data)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseParse, errors.KindInvalidArgument, err, "parsing hidden class")
	}
	declared, err := cf.ClassName()
	if err != nil {
		return nil, errors.Wrap(errors.PhaseParse, errors.KindInvalidArgument, err, "reading class name")
	}
	probe := &Class{declared: declared}
	if probe.packageName() != host.packageName() {
		return nil, errors.New(errors.PhaseLinkage, errors.KindIllegalAccess).
			Owner(declared).
			Detail("hidden class must be in package %q of %s", host.packageName(), host.name).Build()
	}
	name := fmt.Sprintf("%s/0x%04x", declared, vm.hiddenSeq.Add(1))
	c, err := vm.link(cf, name)
	if err != nil {
		return nil, err
	}
	c.hidden = true
	c.classData = classData
	for _, opt := range opts {
		switch opt {
		case invoke.Nestmate:
			c.nestHost = host.nest()
		case invoke.Strong:
			c.strong = true
		}
	}
	if _, err := vm.register(c, true); err != nil {
		return nil, err
	}
	if initialize {
		if err := c.initialize(vm.newThread()); err != nil {
			return nil, err
		}
	}
	Logger().Debug("hidden class defined",
		zap.String("class", c.name),
		zap.String("host", host.name),
		zap.Bool("classData", classData != nil),
		zap.Duration("elapsed", time.Since(start)))
	return c, nil
}

// resolveClass resolves a class name appearing in from. A hidden class
// refers to itself by its declared name.
func (vm *VM) resolveClass(from *Class, name string) (*Class, error) {
	if from != nil && from.hidden && name == from.declared {
		return from, nil
	}
	return vm.LoadClass(name)
}

func (vm *VM) mustBuiltin(name string) *Class {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	c, ok := vm.classes[name]
	if !ok {
		panic("missing builtin class " + name)
	}
	return c
}

// primitiveClass returns the Class object of a primitive type or void.
func (vm *VM) primitiveClass(d descriptor.Descriptor) (*Class, bool) {
	c, ok := vm.primitives[d]
	return c, ok
}

// classOf returns the runtime class of a non-null reference.
func (vm *VM) classOf(ref any) (*Class, error) {
	switch r := ref.(type) {
	case *JObject:
		return r.Class, nil
	case *JArray:
		return vm.mustBuiltin(classObject), nil
	case *Class:
		return vm.mustBuiltin(classClass), nil
	case descriptor.Descriptor:
		return vm.mustBuiltin(classMethodType), nil
	case *Lookup:
		return vm.mustBuiltin(classLookup), nil
	case invoke.MethodHandle:
		return vm.mustBuiltin(classMethodHandle), nil
	case *native.PrintStream:
		return vm.mustBuiltin(classPrintStream), nil
	}
	if name, ok := native.BoxClassName(ref); ok {
		return vm.mustBuiltin(name), nil
	}
	return nil, errors.New(errors.PhaseRuntime, errors.KindUnsupported).
		Value(fmt.Sprintf("%T", ref)).Detail("value has no runtime class").Build()
}

// isInstance reports whether the non-null reference ref is an instance of
// the class or array type named target.
func (vm *VM) isInstance(from *Class, ref any, target string) (bool, error) {
	if strings.HasPrefix(target, "[") {
		arr, ok := ref.(*JArray)
		if !ok {
			return false, nil
		}
		return vm.isAssignable(arr.Type, descriptor.Class(target)), nil
	}
	tc, err := vm.resolveClass(from, target)
	if err != nil {
		return false, err
	}
	if _, ok := ref.(*JArray); ok {
		return tc.name == classObject, nil
	}
	rc, err := vm.classOf(ref)
	if err != nil {
		return false, err
	}
	return rc.IsSubclassOf(tc), nil
}

// isAssignable reports whether a value of type from may be stored in a
// variable of type to without conversion.
func (vm *VM) isAssignable(from, to descriptor.Descriptor) bool {
	if from == to {
		return true
	}
	if from.IsPrimitive() || to.IsPrimitive() {
		return false
	}
	if to == descriptor.Object {
		return true
	}
	if from.IsArray() {
		if !to.IsArray() {
			return false
		}
		fc, tc := from.ComponentType(), to.ComponentType()
		if fc.IsPrimitive() || tc.IsPrimitive() {
			return fc == tc
		}
		return vm.isAssignable(fc, tc)
	}
	if to.IsArray() {
		return false
	}
	fn, _ := from.InternalName()
	tn, _ := to.InternalName()
	fc, err := vm.LoadClass(fn)
	if err != nil {
		return false
	}
	tc, err := vm.LoadClass(tn)
	if err != nil {
		return false
	}
	return fc.IsSubclassOf(tc)
}

// Lookup returns a lookup with the full access rights of c.
func (vm *VM) Lookup(c *Class) *Lookup {
	return &Lookup{vm: vm, class: c}
}

// Execute finds and executes the main method of the named class.
func (vm *VM) Execute(className string, args ...string) error {
	c, err := vm.LoadClass(className)
	if err != nil {
		return err
	}
	t := vm.newThread()
	if err := c.initialize(t); err != nil {
		return err
	}
	method := c.declaredMethod("main", "([Ljava/lang/String;)V")
	if method == nil || !method.IsStatic() {
		return errors.New(errors.PhaseRuntime, errors.KindNotFound).
			Owner(className).Member("main").Detail("main method not found").Build()
	}
	argv := NewArray(descriptor.StringArray, len(args))
	for i, a := range args {
		argv.Elements[i] = RefValue(a)
	}
	Logger().Info("executing", zap.String("class", className), zap.Int("args", len(args)))
	_, err = vm.invoke(t, method, []Value{RefValue(argv)})
	return err
}

// invoke runs m with args, receiver first for instance methods.
func (vm *VM) invoke(t *thread, m *Method, args []Value) (Value, error) {
	if m.Native != nil {
		return m.Native(t, args)
	}
	if m.IsAbstract() {
		return Value{}, vm.NewJavaException("java/lang/AbstractMethodError", "%s", m)
	}
	if m.Code == nil {
		return Value{}, errors.New(errors.PhaseRuntime, errors.KindNotFound).
			Owner(m.Class.name).Member(m.Name).Descriptor(m.Desc.String()).
			Detail("method has no Code attribute").Build()
	}

	t.depth++
	defer func() { t.depth-- }()
	if t.depth > maxFrameDepth {
		return Value{}, vm.NewJavaException("java/lang/StackOverflowError", "frame depth exceeded %d", maxFrameDepth)
	}

	frame := NewFrame(m.Code.MaxLocals, m.Code.MaxStack, m.Code.Code, m.Class)
	frame.thread = t
	slot := 0
	for _, arg := range args {
		frame.SetLocal(slot, arg)
		slot++
		if arg.IsWide() {
			slot++
		}
	}
	return vm.run(frame, m)
}

// run is the execution loop of one frame. Java exceptions unwind to the
// innermost matching handler; panics surface as frame errors.
func (vm *VM) run(frame *Frame, m *Method) (ret Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.New(errors.PhaseRuntime, errors.KindFrame).
				Owner(m.Class.name).Member(m.Name).Descriptor(m.Desc.String()).
				Detail("pc %d: %v", frame.PC, r).Build()
		}
	}()

	for frame.PC < len(frame.Code) {
		start := frame.PC
		opcode := frame.Code[frame.PC]
		frame.PC++

		retVal, hasReturn, ierr := vm.executeInstruction(frame, opcode)
		if ierr != nil {
			jex, ok := ierr.(*JavaException)
			if !ok {
				return Value{}, ierr
			}
			handler, herr := vm.findHandler(frame, m, start, jex)
			if herr != nil {
				return Value{}, herr
			}
			if handler < 0 {
				return Value{}, jex
			}
			frame.SP = 0
			frame.Push(RefValue(jex.Object))
			frame.PC = handler
			continue
		}
		if hasReturn {
			return retVal, nil
		}
	}

	// Fell off the end of the method (implicit return for void methods)
	return Value{}, nil
}

func (vm *VM) findHandler(frame *Frame, m *Method, pc int, jex *JavaException) (int, error) {
	for _, h := range m.Code.ExceptionHandlers {
		if pc < int(h.StartPC) || pc >= int(h.EndPC) {
			continue
		}
		if h.CatchType == 0 {
			return int(h.HandlerPC), nil
		}
		name, err := classfile.GetClassName(m.Class.file.ConstantPool, h.CatchType)
		if err != nil {
			return -1, err
		}
		catch, err := vm.resolveClass(frame.Class, name)
		if err != nil {
			return -1, err
		}
		if jex.Object.Class.IsSubclassOf(catch) {
			return int(h.HandlerPC), nil
		}
	}
	return -1, nil
}
