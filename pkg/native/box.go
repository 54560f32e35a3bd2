// Package native holds the Go representations of the few library objects
// the VM provides without class files: boxed primitives, strings and the
// standard output stream.
package native

import (
	"math"
	"strconv"
	"strings"
	"unicode/utf16"
)

// Boxed primitives are plain Go values of these types.
const (
	IntegerClass   = "java/lang/Integer"
	LongClass      = "java/lang/Long"
	FloatClass     = "java/lang/Float"
	DoubleClass    = "java/lang/Double"
	BooleanClass   = "java/lang/Boolean"
	ByteClass      = "java/lang/Byte"
	ShortClass     = "java/lang/Short"
	CharacterClass = "java/lang/Character"
	StringClass    = "java/lang/String"
)

// BoxClassName returns the class a Go value stands for when it is used as
// a reference: the wrapper class for boxed primitives, String for strings.
func BoxClassName(v any) (string, bool) {
	switch v.(type) {
	case int32:
		return IntegerClass, true
	case int64:
		return LongClass, true
	case float32:
		return FloatClass, true
	case float64:
		return DoubleClass, true
	case bool:
		return BooleanClass, true
	case int8:
		return ByteClass, true
	case int16:
		return ShortClass, true
	case uint16:
		return CharacterClass, true
	case string:
		return StringClass, true
	}
	return "", false
}

// IsBox reports whether v is a boxed primitive.
func IsBox(v any) bool {
	name, ok := BoxClassName(v)
	return ok && name != StringClass
}

// FormatFloat formats v the way Float.toString does.
func FormatFloat(v float32) string {
	return formatFloating(float64(v), 32)
}

// FormatDouble formats v the way Double.toString does.
func FormatDouble(v float64) string {
	return formatFloating(v, 64)
}

func formatFloating(v float64, bits int) string {
	switch {
	case math.IsNaN(v):
		return "NaN"
	case math.IsInf(v, 1):
		return "Infinity"
	case math.IsInf(v, -1):
		return "-Infinity"
	case v == 0:
		if math.Signbit(v) {
			return "-0.0"
		}
		return "0.0"
	}
	abs := math.Abs(v)
	if abs >= 1e-3 && abs < 1e7 {
		s := strconv.FormatFloat(v, 'f', -1, bits)
		if !strings.Contains(s, ".") {
			s += ".0"
		}
		return s
	}
	s := strconv.FormatFloat(v, 'E', -1, bits)
	mant, exp, _ := strings.Cut(s, "E")
	if !strings.Contains(mant, ".") {
		mant += ".0"
	}
	exp = strings.TrimPrefix(exp, "+")
	neg := strings.HasPrefix(exp, "-")
	exp = strings.TrimLeft(strings.TrimPrefix(exp, "-"), "0")
	if neg {
		exp = "-" + exp
	}
	return mant + "E" + exp
}

// FormatChar formats a UTF-16 code unit as a one-character string.
func FormatChar(c uint16) string {
	return string(utf16.Decode([]uint16{c}))
}

// FormatBool formats a boolean the way Boolean.toString does.
func FormatBool(b bool) string {
	return strconv.FormatBool(b)
}

// Format renders a boxed primitive or string as its toString value.
func Format(v any) (string, bool) {
	switch v := v.(type) {
	case string:
		return v, true
	case int32:
		return strconv.FormatInt(int64(v), 10), true
	case int64:
		return strconv.FormatInt(v, 10), true
	case int8:
		return strconv.FormatInt(int64(v), 10), true
	case int16:
		return strconv.FormatInt(int64(v), 10), true
	case uint16:
		return FormatChar(v), true
	case float32:
		return FormatFloat(v), true
	case float64:
		return FormatDouble(v), true
	case bool:
		return FormatBool(v), true
	}
	return "", false
}

// StringHash computes String.hashCode over the UTF-16 encoding of s.
func StringHash(s string) int32 {
	var h int32
	for _, c := range utf16.Encode([]rune(s)) {
		h = 31*h + int32(c)
	}
	return h
}
