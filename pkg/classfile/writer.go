package classfile

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"fortio.org/safecast"
)

// Writer provides big-endian writing utilities for class-file encoding.
// Narrowing failures are sticky and reported by Err.
type Writer struct {
	buf bytes.Buffer
	err error
}

// NewWriter creates a new Writer.
func NewWriter() *Writer {
	return &Writer{}
}

// Bytes returns the written bytes.
func (w *Writer) Bytes() []byte { return w.buf.Bytes() }

// Len returns the number of bytes written.
func (w *Writer) Len() int { return w.buf.Len() }

// Err returns the first narrowing error.
func (w *Writer) Err() error { return w.err }

func (w *Writer) setErr(err error) {
	if w.err == nil {
		w.err = err
	}
}

// U1 writes a single byte.
func (w *Writer) U1(v int) {
	b, err := safecast.Conv[uint8](v)
	if err != nil {
		w.setErr(fmt.Errorf("u1 %d: %w", v, err))
	}
	w.buf.WriteByte(b)
}

// U2 writes a big-endian uint16.
func (w *Writer) U2(v int) {
	n, err := safecast.Conv[uint16](v)
	if err != nil {
		w.setErr(fmt.Errorf("u2 %d: %w", v, err))
	}
	w.buf.Write(binary.BigEndian.AppendUint16(nil, n))
}

// U4 writes a big-endian uint32.
func (w *Writer) U4(v int) {
	n, err := safecast.Conv[uint32](v)
	if err != nil {
		w.setErr(fmt.Errorf("u4 %d: %w", v, err))
	}
	w.buf.Write(binary.BigEndian.AppendUint32(nil, n))
}

// WriteBytes writes a byte slice.
func (w *Writer) WriteBytes(data []byte) { w.buf.Write(data) }

// Attribute writes name index, u4 length and payload.
func (w *Writer) Attribute(nameIndex uint16, data []byte) {
	w.U2(int(nameIndex))
	w.U4(len(data))
	w.WriteBytes(data)
}

func writePool(w *Writer, entries []ConstantPoolEntry) {
	w.U2(len(entries))
	for _, e := range entries {
		if e == nil {
			continue
		}
		w.U1(int(e.Tag()))
		switch c := e.(type) {
		case *ConstantUtf8:
			w.U2(len(c.Value))
			w.WriteBytes([]byte(c.Value))
		case *ConstantInteger:
			w.U4(int(uint32(c.Value)))
		case *ConstantFloat:
			w.U4(int(math.Float32bits(c.Value)))
		case *ConstantLong:
			w.U4(int(uint32(uint64(c.Value) >> 32)))
			w.U4(int(uint32(c.Value)))
		case *ConstantDouble:
			bits := math.Float64bits(c.Value)
			w.U4(int(uint32(bits >> 32)))
			w.U4(int(uint32(bits)))
		case *ConstantClass:
			w.U2(int(c.NameIndex))
		case *ConstantString:
			w.U2(int(c.StringIndex))
		case *ConstantFieldref:
			w.U2(int(c.ClassIndex))
			w.U2(int(c.NameAndTypeIndex))
		case *ConstantMethodref:
			w.U2(int(c.ClassIndex))
			w.U2(int(c.NameAndTypeIndex))
		case *ConstantInterfaceMethodref:
			w.U2(int(c.ClassIndex))
			w.U2(int(c.NameAndTypeIndex))
		case *ConstantNameAndType:
			w.U2(int(c.NameIndex))
			w.U2(int(c.DescriptorIndex))
		case *ConstantMethodHandle:
			w.U1(int(c.ReferenceKind))
			w.U2(int(c.ReferenceIndex))
		case *ConstantMethodType:
			w.U2(int(c.DescriptorIndex))
		case *ConstantDynamic:
			w.U2(int(c.BootstrapMethodAttrIndex))
			w.U2(int(c.NameAndTypeIndex))
		case *ConstantInvokeDynamic:
			w.U2(int(c.BootstrapMethodAttrIndex))
			w.U2(int(c.NameAndTypeIndex))
		}
	}
}

type encodedAttr struct {
	name uint16
	data []byte
}

func u2Bytes(v uint16) []byte { return binary.BigEndian.AppendUint16(nil, v) }

// Encode serializes cf, interning every name it needs into pool. The
// ConstantPool and BootstrapMethods fields of cf are ignored in favor of pool.
func Encode(cf *ClassFile, pool *PoolBuilder) ([]byte, error) {
	// Intern everything before the pool is written.
	type member struct {
		access uint16
		name   uint16
		desc   uint16
		attrs  []encodedAttr
	}
	encodeRaw := func(attrs []AttributeInfo, skip ...string) []encodedAttr {
		var out []encodedAttr
	next:
		for _, a := range attrs {
			for _, s := range skip {
				if a.Name == s {
					continue next
				}
			}
			out = append(out, encodedAttr{pool.Utf8(a.Name), a.Data})
		}
		return out
	}

	fields := make([]member, len(cf.Fields))
	for i, f := range cf.Fields {
		m := member{access: f.AccessFlags, name: pool.Utf8(f.Name), desc: pool.Utf8(f.Descriptor)}
		var skip []string
		if f.ConstantValue != 0 {
			m.attrs = append(m.attrs, encodedAttr{pool.Utf8(AttrConstantValue), u2Bytes(f.ConstantValue)})
			skip = append(skip, AttrConstantValue)
		}
		if f.Signature != "" {
			m.attrs = append(m.attrs, encodedAttr{pool.Utf8(AttrSignature), u2Bytes(pool.Utf8(f.Signature))})
			skip = append(skip, AttrSignature)
		}
		m.attrs = append(m.attrs, encodeRaw(f.Attributes, skip...)...)
		fields[i] = m
	}

	methods := make([]member, len(cf.Methods))
	for i, mi := range cf.Methods {
		m := member{access: mi.AccessFlags, name: pool.Utf8(mi.Name), desc: pool.Utf8(mi.Descriptor)}
		var skip []string
		if mi.Code != nil {
			data, err := encodeCode(mi.Code, pool)
			if err != nil {
				return nil, fmt.Errorf("encoding Code of %s%s: %w", mi.Name, mi.Descriptor, err)
			}
			m.attrs = append(m.attrs, encodedAttr{pool.Utf8(AttrCode), data})
			skip = append(skip, AttrCode)
		}
		if len(mi.Exceptions) > 0 {
			ew := NewWriter()
			ew.U2(len(mi.Exceptions))
			for _, e := range mi.Exceptions {
				ew.U2(int(pool.Class(e)))
			}
			if ew.Err() != nil {
				return nil, ew.Err()
			}
			m.attrs = append(m.attrs, encodedAttr{pool.Utf8(AttrExceptions), ew.Bytes()})
			skip = append(skip, AttrExceptions)
		}
		if mi.Signature != "" {
			m.attrs = append(m.attrs, encodedAttr{pool.Utf8(AttrSignature), u2Bytes(pool.Utf8(mi.Signature))})
			skip = append(skip, AttrSignature)
		}
		m.attrs = append(m.attrs, encodeRaw(mi.Attributes, skip...)...)
		methods[i] = m
	}

	classAttrs := encodeRaw(cf.Attributes, AttrBootstrapMethods)
	if bsms := pool.BootstrapMethods(); len(bsms) > 0 {
		bw := NewWriter()
		bw.U2(len(bsms))
		for _, b := range bsms {
			bw.U2(int(b.MethodRef))
			bw.U2(len(b.BootstrapArguments))
			for _, a := range b.BootstrapArguments {
				bw.U2(int(a))
			}
		}
		if bw.Err() != nil {
			return nil, bw.Err()
		}
		classAttrs = append(classAttrs, encodedAttr{pool.Utf8(AttrBootstrapMethods), bw.Bytes()})
	}

	if err := pool.Err(); err != nil {
		return nil, err
	}

	w := NewWriter()
	w.U4(classMagic)
	w.U2(int(cf.MinorVersion))
	w.U2(int(cf.MajorVersion))
	writePool(w, pool.Entries())
	w.U2(int(cf.AccessFlags))
	w.U2(int(cf.ThisClass))
	w.U2(int(cf.SuperClass))
	w.U2(len(cf.Interfaces))
	for _, i := range cf.Interfaces {
		w.U2(int(i))
	}
	for _, group := range [][]member{fields, methods} {
		w.U2(len(group))
		for _, m := range group {
			w.U2(int(m.access))
			w.U2(int(m.name))
			w.U2(int(m.desc))
			w.U2(len(m.attrs))
			for _, a := range m.attrs {
				w.Attribute(a.name, a.data)
			}
		}
	}
	w.U2(len(classAttrs))
	for _, a := range classAttrs {
		w.Attribute(a.name, a.data)
	}
	if err := w.Err(); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

func encodeCode(code *CodeAttribute, pool *PoolBuilder) ([]byte, error) {
	w := NewWriter()
	w.U2(int(code.MaxStack))
	w.U2(int(code.MaxLocals))
	w.U4(len(code.Code))
	w.WriteBytes(code.Code)
	w.U2(len(code.ExceptionHandlers))
	for _, h := range code.ExceptionHandlers {
		w.U2(int(h.StartPC))
		w.U2(int(h.EndPC))
		w.U2(int(h.HandlerPC))
		w.U2(int(h.CatchType))
	}
	w.U2(len(code.Attributes))
	for _, a := range code.Attributes {
		w.Attribute(pool.Utf8(a.Name), a.Data)
	}
	return w.Bytes(), w.Err()
}
