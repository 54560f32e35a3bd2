package native

import (
	"bytes"
	"math"
	"testing"
)

func TestBoxClassName(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  string
		ok    bool
	}{
		{"int", int32(1), IntegerClass, true},
		{"long", int64(1), LongClass, true},
		{"float", float32(1), FloatClass, true},
		{"double", float64(1), DoubleClass, true},
		{"boolean", true, BooleanClass, true},
		{"byte", int8(1), ByteClass, true},
		{"short", int16(1), ShortClass, true},
		{"char", uint16('a'), CharacterClass, true},
		{"string", "s", StringClass, true},
		{"other", struct{}{}, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := BoxClassName(tt.value)
			if got != tt.want || ok != tt.ok {
				t.Errorf("BoxClassName(%v): got (%q, %v), want (%q, %v)", tt.value, got, ok, tt.want, tt.ok)
			}
		})
	}

	if IsBox("s") {
		t.Error("IsBox(string): got true, want false")
	}
	if !IsBox(int32(3)) {
		t.Error("IsBox(int32): got false, want true")
	}
}

func TestFormatDouble(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{1, "1.0"},
		{-2.5, "-2.5"},
		{0, "0.0"},
		{math.Copysign(0, -1), "-0.0"},
		{1e7, "1.0E7"},
		{1.5e-5, "1.5E-5"},
		{123456.75, "123456.75"},
		{math.NaN(), "NaN"},
		{math.Inf(1), "Infinity"},
		{math.Inf(-1), "-Infinity"},
	}

	for _, tt := range tests {
		got := FormatDouble(tt.in)
		if got != tt.want {
			t.Errorf("FormatDouble(%v): got %q, want %q", tt.in, got, tt.want)
		}
	}

	if got := FormatFloat(0.5); got != "0.5" {
		t.Errorf("FormatFloat(0.5): got %q, want %q", got, "0.5")
	}
}

func TestFormat(t *testing.T) {
	tests := []struct {
		value any
		want  string
	}{
		{"hello", "hello"},
		{int32(-7), "-7"},
		{int64(1) << 40, "1099511627776"},
		{uint16('x'), "x"},
		{true, "true"},
		{float64(3), "3.0"},
	}

	for _, tt := range tests {
		got, ok := Format(tt.value)
		if !ok || got != tt.want {
			t.Errorf("Format(%v): got (%q, %v), want (%q, true)", tt.value, got, ok, tt.want)
		}
	}

	if _, ok := Format([]int{1}); ok {
		t.Error("Format([]int): got ok, want not ok")
	}
}

func TestStringHash(t *testing.T) {
	tests := []struct {
		in   string
		want int32
	}{
		{"", 0},
		{"a", 97},
		{"hello", 99162322},
	}

	for _, tt := range tests {
		if got := StringHash(tt.in); got != tt.want {
			t.Errorf("StringHash(%q): got %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestPrintStream(t *testing.T) {
	t.Run("println with value", func(t *testing.T) {
		var buf bytes.Buffer
		ps := NewPrintStream(&buf)
		ps.Println("42")
		if buf.String() != "42\n" {
			t.Errorf("got %q, want %q", buf.String(), "42\n")
		}
	})

	t.Run("println without args", func(t *testing.T) {
		var buf bytes.Buffer
		ps := NewPrintStream(&buf)
		ps.Println()
		if buf.String() != "\n" {
			t.Errorf("got %q, want %q", buf.String(), "\n")
		}
	})

	t.Run("print", func(t *testing.T) {
		var buf bytes.Buffer
		ps := NewPrintStream(&buf)
		ps.Print("a")
		ps.Print("b")
		if buf.String() != "ab" {
			t.Errorf("got %q, want %q", buf.String(), "ab")
		}
	})
}
