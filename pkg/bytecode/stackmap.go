package bytecode

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"sort"

	"github.com/daimatz/bytecodebuilder/pkg/classfile"
)

const fullFrame = 255

// stackMapTable encodes one full_frame per branch target, or nil when the
// method has no branches.
func (a *Assembler) stackMapTable() []byte {
	byOffset := make(map[int]*frame)
	for _, l := range a.labels {
		if l.bound && l.frame != nil {
			byOffset[l.offset] = l.frame
		}
	}
	if len(byOffset) == 0 {
		return nil
	}
	offsets := make([]int, 0, len(byOffset))
	for off := range byOffset {
		offsets = append(offsets, off)
	}
	sort.Ints(offsets)

	w := classfile.NewWriter()
	w.U2(len(offsets))
	prev := -1
	for _, off := range offsets {
		f := byOffset[off]
		w.U1(fullFrame)
		w.U2(off - prev - 1)
		prev = off

		locals := compactLocals(f.locals)
		w.U2(len(locals))
		for _, v := range locals {
			a.writeVType(w, v)
		}
		w.U2(len(f.stack))
		for _, v := range f.stack {
			a.writeVType(w, v)
		}
	}
	if err := w.Err(); err != nil {
		a.setErr(err)
		return nil
	}
	return w.Bytes()
}

// compactLocals drops the implicit second slot of long and double values
// and any trailing tops.
func compactLocals(locals []VType) []VType {
	var out []VType
	for i := 0; i < len(locals); i++ {
		out = append(out, locals[i])
		if locals[i].Size() == 2 {
			i++
		}
	}
	for len(out) > 0 && out[len(out)-1] == Top {
		out = out[:len(out)-1]
	}
	return out
}

func (a *Assembler) writeVType(w *classfile.Writer, v VType) {
	w.U1(int(v.Tag))
	switch v.Tag {
	case ItemObject:
		w.U2(int(a.pool.Class(v.Class)))
	case ItemUninitialized:
		w.U2(v.Offset)
	}
}

// Frame is a decoded StackMapTable entry.
type Frame struct {
	Offset int
	Locals []VType
	Stack  []VType
}

// ParseStackMapTable decodes a table of full frames as written by the
// assembler. Class names are resolved through pool.
func ParseStackMapTable(pool []classfile.ConstantPoolEntry, data []byte) ([]Frame, error) {
	r := bytes.NewReader(data)
	var n uint16
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return nil, fmt.Errorf("reading frame count: %w", err)
	}
	frames := make([]Frame, 0, n)
	prev := -1
	for i := 0; i < int(n); i++ {
		var header struct {
			Type  uint8
			Delta uint16
		}
		if err := binary.Read(r, binary.BigEndian, &header.Type); err != nil {
			return nil, fmt.Errorf("reading frame %d: %w", i, err)
		}
		if header.Type != fullFrame {
			return nil, fmt.Errorf("frame %d: unsupported frame type %d", i, header.Type)
		}
		if err := binary.Read(r, binary.BigEndian, &header.Delta); err != nil {
			return nil, fmt.Errorf("reading frame %d offset: %w", i, err)
		}
		f := Frame{Offset: prev + int(header.Delta) + 1}
		prev = f.Offset
		var err error
		if f.Locals, err = readVTypes(pool, r); err != nil {
			return nil, fmt.Errorf("frame %d locals: %w", i, err)
		}
		if f.Stack, err = readVTypes(pool, r); err != nil {
			return nil, fmt.Errorf("frame %d stack: %w", i, err)
		}
		frames = append(frames, f)
	}
	return frames, nil
}

func readVTypes(pool []classfile.ConstantPoolEntry, r io.Reader) ([]VType, error) {
	var n uint16
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return nil, err
	}
	out := make([]VType, 0, n)
	for i := 0; i < int(n); i++ {
		var v VType
		if err := binary.Read(r, binary.BigEndian, &v.Tag); err != nil {
			return nil, err
		}
		switch v.Tag {
		case ItemObject, ItemUninitialized:
			var operand uint16
			if err := binary.Read(r, binary.BigEndian, &operand); err != nil {
				return nil, err
			}
			if v.Tag == ItemUninitialized {
				v.Offset = int(operand)
				break
			}
			name, err := classfile.GetClassName(pool, operand)
			if err != nil {
				return nil, err
			}
			v.Class = name
		}
		out = append(out, v)
	}
	return out, nil
}
