// Package descriptor models JVM field and method descriptors as canonical
// string values.
package descriptor

import (
	"strings"

	"github.com/daimatz/bytecodebuilder/pkg/errors"
)

// Sort is the category of a descriptor.
type Sort int

const (
	SortInvalid Sort = iota
	SortVoid
	SortBoolean
	SortChar
	SortByte
	SortShort
	SortInt
	SortFloat
	SortLong
	SortDouble
	SortArray
	SortObject
	SortMethod
)

var sortNames = [...]string{
	SortInvalid: "invalid",
	SortVoid:    "void",
	SortBoolean: "boolean",
	SortChar:    "char",
	SortByte:    "byte",
	SortShort:   "short",
	SortInt:     "int",
	SortFloat:   "float",
	SortLong:    "long",
	SortDouble:  "double",
	SortArray:   "array",
	SortObject:  "object",
	SortMethod:  "method",
}

func (s Sort) String() string {
	if s < 0 || int(s) >= len(sortNames) {
		return "invalid"
	}
	return sortNames[s]
}

// Descriptor is an immutable field, method or void descriptor.
// Two descriptors are equal iff their canonical strings are equal.
type Descriptor struct {
	s string
}

// Predefined descriptors.
var (
	Void    = Descriptor{"V"}
	Boolean = Descriptor{"Z"}
	Byte    = Descriptor{"B"}
	Char    = Descriptor{"C"}
	Short   = Descriptor{"S"}
	Int     = Descriptor{"I"}
	Long    = Descriptor{"J"}
	Float   = Descriptor{"F"}
	Double  = Descriptor{"D"}

	Object       = Descriptor{"Ljava/lang/Object;"}
	String       = Descriptor{"Ljava/lang/String;"}
	ClassType    = Descriptor{"Ljava/lang/Class;"}
	Enum         = Descriptor{"Ljava/lang/Enum;"}
	Number       = Descriptor{"Ljava/lang/Number;"}
	Throwable    = Descriptor{"Ljava/lang/Throwable;"}
	MethodHandle = Descriptor{"Ljava/lang/invoke/MethodHandle;"}
	MethodType   = Descriptor{"Ljava/lang/invoke/MethodType;"}
	VarHandle    = Descriptor{"Ljava/lang/invoke/VarHandle;"}
	Lookup       = Descriptor{"Ljava/lang/invoke/MethodHandles$Lookup;"}
	ObjectArray  = Descriptor{"[Ljava/lang/Object;"}
	StringArray  = Descriptor{"[Ljava/lang/String;"}
)

// Of parses and validates a field, method or void descriptor.
func Of(s string) (Descriptor, error) {
	if s == "" {
		return Descriptor{}, errors.InvalidDescriptor(s, "empty descriptor")
	}
	if s == "V" {
		return Void, nil
	}
	if s[0] == '(' {
		i := 1
		for i < len(s) && s[i] != ')' {
			end, ok := scanField(s, i)
			if !ok {
				return Descriptor{}, errors.InvalidDescriptor(s, "malformed parameter")
			}
			i = end
		}
		if i >= len(s) {
			return Descriptor{}, errors.InvalidDescriptor(s, "missing ')'")
		}
		i++
		if i < len(s) && s[i] == 'V' && i+1 == len(s) {
			return Descriptor{s}, nil
		}
		end, ok := scanField(s, i)
		if !ok || end != len(s) {
			return Descriptor{}, errors.InvalidDescriptor(s, "malformed return type")
		}
		return Descriptor{s}, nil
	}
	end, ok := scanField(s, 0)
	if !ok || end != len(s) {
		return Descriptor{}, errors.InvalidDescriptor(s, "malformed field descriptor")
	}
	return Descriptor{s}, nil
}

// MustOf is like Of but panics on malformed input. Intended for literals.
func MustOf(s string) Descriptor {
	d, err := Of(s)
	if err != nil {
		panic(err)
	}
	return d
}

// Class returns the descriptor for an internal or binary class name.
// Array internal names ("[I") are returned as array descriptors.
func Class(name string) Descriptor {
	name = strings.ReplaceAll(name, ".", "/")
	if strings.HasPrefix(name, "[") {
		return Descriptor{name}
	}
	return Descriptor{"L" + name + ";"}
}

// Method returns the method descriptor with the given return and parameter types.
func Method(ret Descriptor, params ...Descriptor) Descriptor {
	var b strings.Builder
	b.WriteByte('(')
	for _, p := range params {
		b.WriteString(p.s)
	}
	b.WriteByte(')')
	b.WriteString(ret.s)
	return Descriptor{b.String()}
}

// scanField returns the end offset of the field descriptor starting at i.
func scanField(s string, i int) (int, bool) {
	start := i
	for i < len(s) && s[i] == '[' {
		i++
	}
	if i >= len(s) || i-start > 255 {
		return 0, false
	}
	switch s[i] {
	case 'Z', 'B', 'C', 'S', 'I', 'J', 'F', 'D':
		return i + 1, true
	case 'L':
		semi := strings.IndexByte(s[i:], ';')
		if semi <= 1 {
			return 0, false
		}
		name := s[i+1 : i+semi]
		if strings.ContainsAny(name, ".[<>") || strings.HasPrefix(name, "/") ||
			strings.HasSuffix(name, "/") || strings.Contains(name, "//") {
			return 0, false
		}
		return i + semi + 1, true
	}
	return 0, false
}

// String returns the canonical descriptor string.
func (d Descriptor) String() string { return d.s }

// IsZero reports whether d is the zero Descriptor.
func (d Descriptor) IsZero() bool { return d.s == "" }

// Sort returns the category of d.
func (d Descriptor) Sort() Sort {
	if d.s == "" {
		return SortInvalid
	}
	switch d.s[0] {
	case 'V':
		return SortVoid
	case 'Z':
		return SortBoolean
	case 'C':
		return SortChar
	case 'B':
		return SortByte
	case 'S':
		return SortShort
	case 'I':
		return SortInt
	case 'F':
		return SortFloat
	case 'J':
		return SortLong
	case 'D':
		return SortDouble
	case '[':
		return SortArray
	case 'L':
		return SortObject
	case '(':
		return SortMethod
	}
	return SortInvalid
}

// IsPrimitive reports whether d is a primitive type or void.
func (d Descriptor) IsPrimitive() bool {
	s := d.Sort()
	return s >= SortVoid && s <= SortDouble
}

// IsClass reports whether d names a class or interface type.
func (d Descriptor) IsClass() bool { return d.Sort() == SortObject }

// IsArray reports whether d is an array type.
func (d Descriptor) IsArray() bool { return d.Sort() == SortArray }

// IsMethod reports whether d is a method descriptor.
func (d Descriptor) IsMethod() bool { return d.Sort() == SortMethod }

// IsVoid reports whether d is void.
func (d Descriptor) IsVoid() bool { return d.s == "V" }

// IsReference reports whether d is a class or array type.
func (d Descriptor) IsReference() bool {
	s := d.Sort()
	return s == SortObject || s == SortArray
}

// IsIntLike reports whether values of d occupy an int on the operand stack.
func (d Descriptor) IsIntLike() bool {
	switch d.Sort() {
	case SortBoolean, SortChar, SortByte, SortShort, SortInt:
		return true
	}
	return false
}

// Size returns the number of local or stack slots a value of d occupies.
// A method descriptor reports the size of its return type.
func (d Descriptor) Size() int {
	switch d.Sort() {
	case SortVoid, SortInvalid:
		return 0
	case SortLong, SortDouble:
		return 2
	case SortMethod:
		return d.ReturnType().Size()
	}
	return 1
}

// InternalName returns the JVM internal name of a class or array type.
func (d Descriptor) InternalName() (string, error) {
	switch d.Sort() {
	case SortObject:
		return d.s[1 : len(d.s)-1], nil
	case SortArray:
		return d.s, nil
	}
	return "", errors.InvalidDescriptor(d.s, "no internal name for "+d.Sort().String()+" descriptor")
}

// ArrayOf returns the one-dimensional array type whose component is d.
func (d Descriptor) ArrayOf() (Descriptor, error) {
	switch d.Sort() {
	case SortVoid, SortMethod, SortInvalid:
		return Descriptor{}, errors.InvalidDescriptor(d.s, "cannot form an array of "+d.Sort().String())
	}
	if d.Dimensions() >= 255 {
		return Descriptor{}, errors.InvalidDescriptor(d.s, "too many array dimensions")
	}
	return Descriptor{"[" + d.s}, nil
}

// ComponentType returns the component of an array type, or the zero Descriptor.
func (d Descriptor) ComponentType() Descriptor {
	if !d.IsArray() {
		return Descriptor{}
	}
	return Descriptor{d.s[1:]}
}

// ElementType strips every array dimension.
func (d Descriptor) ElementType() Descriptor {
	if !d.IsArray() {
		return d
	}
	return Descriptor{strings.TrimLeft(d.s, "[")}
}

// Dimensions returns the number of array dimensions.
func (d Descriptor) Dimensions() int {
	return len(d.s) - len(strings.TrimLeft(d.s, "["))
}

// DisplayName returns the Java source spelling, e.g. "java.lang.String[]".
func (d Descriptor) DisplayName() string {
	switch s := d.Sort(); s {
	case SortArray:
		return d.ComponentType().DisplayName() + "[]"
	case SortObject:
		return strings.ReplaceAll(d.s[1:len(d.s)-1], "/", ".")
	case SortMethod:
		var parts []string
		for _, p := range d.Params() {
			parts = append(parts, p.DisplayName())
		}
		return "(" + strings.Join(parts, ",") + ")" + d.ReturnType().DisplayName()
	default:
		return s.String()
	}
}
