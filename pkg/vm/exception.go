package vm

import "fmt"

// JavaException represents a JVM exception being thrown.
type JavaException struct {
	Object *JObject
	// Cause is the Go error the exception was raised for, if any.
	Cause error
}

func (e *JavaException) Error() string {
	if msg := e.Message(); msg != "" {
		return fmt.Sprintf("JavaException: %s: %s", e.ClassName(), msg)
	}
	return fmt.Sprintf("JavaException: %s", e.ClassName())
}

func (e *JavaException) Unwrap() error { return e.Cause }

// ClassName returns the internal name of the thrown object's class.
func (e *JavaException) ClassName() string {
	return e.Object.ClassName()
}

// Message returns the detail message, or "".
func (e *JavaException) Message() string {
	v := e.Object.GetField(throwableMessage, stringType)
	if s, ok := v.Ref.(string); ok {
		return s
	}
	return ""
}

// NewJavaException creates a throwable of the named class carrying a
// formatted detail message. The class must be a loaded Throwable.
func (vm *VM) NewJavaException(className string, format string, args ...any) *JavaException {
	c, err := vm.LoadClass(className)
	if err != nil {
		c = vm.mustBuiltin(classThrowable)
	}
	obj := NewObject(c)
	if format != "" {
		obj.SetField(throwableMessage, RefValue(fmt.Sprintf(format, args...)))
	}
	return &JavaException{Object: obj}
}
