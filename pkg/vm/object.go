package vm

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/daimatz/bytecodebuilder/pkg/descriptor"
)

var identitySeq atomic.Int32

// JObject represents a JVM object instance.
type JObject struct {
	Class  *Class
	mu     sync.RWMutex
	Fields map[string]Value
	hash   int32
}

// NewObject allocates an instance of c with every field unset.
func NewObject(c *Class) *JObject {
	return &JObject{
		Class:  c,
		Fields: make(map[string]Value),
		hash:   identitySeq.Add(0x61c88647),
	}
}

// ClassName returns the internal name of the object's class.
func (o *JObject) ClassName() string {
	return o.Class.Name()
}

// GetField returns the value of an instance field. Unset fields read as
// the zero value of t.
func (o *JObject) GetField(name string, t descriptor.Descriptor) Value {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if v, ok := o.Fields[name]; ok {
		return v
	}
	return zeroValue(t)
}

// SetField stores an instance field.
func (o *JObject) SetField(name string, v Value) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.Fields[name] = v
}

// IdentityHash is the value Object.hashCode returns for o.
func (o *JObject) IdentityHash() int32 {
	return o.hash
}

func (o *JObject) String() string {
	return fmt.Sprintf("%s@%x", o.Class.DisplayName(), uint32(o.hash))
}

// JArray represents a JVM array. Type is the array descriptor.
type JArray struct {
	Type     descriptor.Descriptor
	Elements []Value
}

// NewArray allocates an array of type t with n zeroed elements.
func NewArray(t descriptor.Descriptor, n int) *JArray {
	elements := make([]Value, n)
	zero := zeroValue(t.ComponentType())
	for i := range elements {
		elements[i] = zero
	}
	return &JArray{Type: t, Elements: elements}
}

func (a *JArray) String() string {
	return fmt.Sprintf("%s@%p", a.Type, a)
}

// zeroValue is the default value of a field or array element of type t.
func zeroValue(t descriptor.Descriptor) Value {
	switch t.Sort() {
	case descriptor.SortBoolean, descriptor.SortByte, descriptor.SortChar, descriptor.SortShort, descriptor.SortInt:
		return IntValue(0)
	case descriptor.SortLong:
		return LongValue(0)
	case descriptor.SortFloat:
		return FloatValue(0)
	case descriptor.SortDouble:
		return DoubleValue(0)
	}
	return NullValue()
}
