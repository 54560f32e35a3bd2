// Package bytecode assembles method bodies: it encodes instructions,
// resolves labels, simulates verification types and computes max stack,
// max locals and the StackMapTable.
package bytecode

import (
	"fmt"

	"github.com/daimatz/bytecodebuilder/pkg/descriptor"
)

// Verification type tags as written in a StackMapTable.
const (
	ItemTop               = 0
	ItemInteger           = 1
	ItemFloat             = 2
	ItemDouble            = 3
	ItemLong              = 4
	ItemNull              = 5
	ItemUninitializedThis = 6
	ItemObject            = 7
	ItemUninitialized     = 8
)

// VType is a verification type.
type VType struct {
	Tag uint8
	// Class is the internal name for ItemObject.
	Class string
	// Offset is the offset of the NEW instruction for ItemUninitialized.
	Offset int
}

var (
	Top               = VType{Tag: ItemTop}
	Integer           = VType{Tag: ItemInteger}
	Float             = VType{Tag: ItemFloat}
	Double            = VType{Tag: ItemDouble}
	Long              = VType{Tag: ItemLong}
	Null              = VType{Tag: ItemNull}
	UninitializedThis = VType{Tag: ItemUninitializedThis}
)

const objectClass = "java/lang/Object"

// ObjectType returns the verification type of an initialized reference.
func ObjectType(internalName string) VType {
	return VType{Tag: ItemObject, Class: internalName}
}

// TypeOf maps a field descriptor to its verification type.
func TypeOf(d descriptor.Descriptor) VType {
	switch d.Sort() {
	case descriptor.SortBoolean, descriptor.SortByte, descriptor.SortChar, descriptor.SortShort, descriptor.SortInt:
		return Integer
	case descriptor.SortFloat:
		return Float
	case descriptor.SortLong:
		return Long
	case descriptor.SortDouble:
		return Double
	case descriptor.SortObject, descriptor.SortArray:
		name, _ := d.InternalName()
		return ObjectType(name)
	}
	return Top
}

// Size returns the number of slots the type occupies.
func (v VType) Size() int {
	if v.Tag == ItemLong || v.Tag == ItemDouble {
		return 2
	}
	return 1
}

// IsReference reports whether v is null, an object or an uninitialized object.
func (v VType) IsReference() bool {
	switch v.Tag {
	case ItemNull, ItemObject, ItemUninitialized, ItemUninitializedThis:
		return true
	}
	return false
}

func (v VType) String() string {
	switch v.Tag {
	case ItemTop:
		return "top"
	case ItemInteger:
		return "int"
	case ItemFloat:
		return "float"
	case ItemDouble:
		return "double"
	case ItemLong:
		return "long"
	case ItemNull:
		return "null"
	case ItemUninitializedThis:
		return "uninitializedThis"
	case ItemObject:
		return v.Class
	case ItemUninitialized:
		return fmt.Sprintf("uninitialized(%d)", v.Offset)
	}
	return "?"
}

// componentOf returns the element type loaded by aaload from an array.
func componentOf(arr VType) VType {
	if arr.Tag == ItemObject && len(arr.Class) > 1 && arr.Class[0] == '[' {
		if d, err := descriptor.Of(arr.Class[1:]); err == nil {
			return TypeOf(d)
		}
	}
	if arr.Tag == ItemNull {
		return Null
	}
	return ObjectType(objectClass)
}

// mergeType joins two verification types at a control-flow merge.
func mergeType(a, b VType) (VType, bool) {
	if a == b {
		return a, true
	}
	if a.Tag == ItemNull && (b.Tag == ItemObject) {
		return b, true
	}
	if b.Tag == ItemNull && (a.Tag == ItemObject) {
		return a, true
	}
	// No class hierarchy is available here, so distinct references merge
	// to Object rather than to their common superclass.
	if a.Tag == ItemObject && b.Tag == ItemObject {
		return ObjectType(objectClass), true
	}
	return Top, false
}
