package descriptor

import "strings"

// Params returns the parameter types of a method descriptor.
func (d Descriptor) Params() []Descriptor {
	if !d.IsMethod() {
		return nil
	}
	var params []Descriptor
	i := 1
	for i < len(d.s) && d.s[i] != ')' {
		end, ok := scanField(d.s, i)
		if !ok {
			return params
		}
		params = append(params, Descriptor{d.s[i:end]})
		i = end
	}
	return params
}

// ParamCount returns the number of parameters of a method descriptor.
func (d Descriptor) ParamCount() int {
	return len(d.Params())
}

// Param returns the i-th parameter type.
func (d Descriptor) Param(i int) Descriptor {
	return d.Params()[i]
}

// ReturnType returns the return type of a method descriptor.
func (d Descriptor) ReturnType() Descriptor {
	if !d.IsMethod() {
		return Descriptor{}
	}
	return Descriptor{d.s[strings.LastIndexByte(d.s, ')')+1:]}
}

// ArgumentSlots returns the number of local slots the parameters occupy.
func (d Descriptor) ArgumentSlots() int {
	n := 0
	for _, p := range d.Params() {
		n += p.Size()
	}
	return n
}

// ChangeReturnType returns a method descriptor with the return type replaced.
func (d Descriptor) ChangeReturnType(ret Descriptor) Descriptor {
	return Method(ret, d.Params()...)
}

// ChangeParam returns a method descriptor with parameter i replaced.
func (d Descriptor) ChangeParam(i int, p Descriptor) Descriptor {
	params := d.Params()
	params[i] = p
	return Method(d.ReturnType(), params...)
}

// DropParams returns a method descriptor without parameters [start, end).
func (d Descriptor) DropParams(start, end int) Descriptor {
	params := d.Params()
	out := append([]Descriptor{}, params[:start]...)
	out = append(out, params[end:]...)
	return Method(d.ReturnType(), out...)
}

// InsertParams returns a method descriptor with ps inserted at pos.
func (d Descriptor) InsertParams(pos int, ps ...Descriptor) Descriptor {
	params := d.Params()
	out := append([]Descriptor{}, params[:pos]...)
	out = append(out, ps...)
	out = append(out, params[pos:]...)
	return Method(d.ReturnType(), out...)
}

// Erase maps every reference type in a method descriptor to Object.
func (d Descriptor) Erase() Descriptor {
	erase := func(p Descriptor) Descriptor {
		if p.IsReference() {
			return Object
		}
		return p
	}
	params := d.Params()
	for i, p := range params {
		params[i] = erase(p)
	}
	return Method(erase(d.ReturnType()), params...)
}

var boxes = map[Descriptor]Descriptor{
	Boolean: Class("java/lang/Boolean"),
	Byte:    Class("java/lang/Byte"),
	Char:    Class("java/lang/Character"),
	Short:   Class("java/lang/Short"),
	Int:     Class("java/lang/Integer"),
	Long:    Class("java/lang/Long"),
	Float:   Class("java/lang/Float"),
	Double:  Class("java/lang/Double"),
	Void:    Class("java/lang/Void"),
}

var unboxes = func() map[Descriptor]Descriptor {
	m := make(map[Descriptor]Descriptor, len(boxes))
	for p, w := range boxes {
		m[w] = p
	}
	return m
}()

// BoxType returns the wrapper class of a primitive type.
func (d Descriptor) BoxType() (Descriptor, bool) {
	w, ok := boxes[d]
	return w, ok
}

// UnboxType returns the primitive type of a wrapper class.
func (d Descriptor) UnboxType() (Descriptor, bool) {
	p, ok := unboxes[d]
	return p, ok
}
