package classfile

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// decoder reads big-endian class-file items from an in-memory buffer. The
// first failure sticks; later reads return zero values.
type decoder struct {
	data []byte
	off  int
	err  error
}

func (d *decoder) need(n int, what string) bool {
	if d.err != nil {
		return false
	}
	if n < 0 || len(d.data)-d.off < n {
		d.err = fmt.Errorf("reading %s at offset %d: %w", what, d.off, io.ErrUnexpectedEOF)
		return false
	}
	return true
}

func (d *decoder) u1(what string) uint8 {
	if !d.need(1, what) {
		return 0
	}
	v := d.data[d.off]
	d.off++
	return v
}

func (d *decoder) u2(what string) uint16 {
	if !d.need(2, what) {
		return 0
	}
	v := binary.BigEndian.Uint16(d.data[d.off:])
	d.off += 2
	return v
}

func (d *decoder) u4(what string) uint32 {
	if !d.need(4, what) {
		return 0
	}
	v := binary.BigEndian.Uint32(d.data[d.off:])
	d.off += 4
	return v
}

func (d *decoder) u8(what string) uint64 {
	if !d.need(8, what) {
		return 0
	}
	v := binary.BigEndian.Uint64(d.data[d.off:])
	d.off += 8
	return v
}

func (d *decoder) f4(what string) float32 { return math.Float32frombits(d.u4(what)) }
func (d *decoder) f8(what string) float64 { return math.Float64frombits(d.u8(what)) }

// bytes returns a copy of the next n bytes.
func (d *decoder) bytes(n int, what string) []byte {
	if !d.need(n, what) {
		return nil
	}
	b := make([]byte, n)
	copy(b, d.data[d.off:])
	d.off += n
	return b
}

// u2s reads a u2 count followed by that many u2 values.
func (d *decoder) u2s(what string) []uint16 {
	n := d.u2(what + " count")
	if d.err != nil {
		return nil
	}
	vs := make([]uint16, n)
	for i := range vs {
		vs[i] = d.u2(what)
	}
	return vs
}

func (d *decoder) done() bool { return d.err == nil && d.off == len(d.data) }
