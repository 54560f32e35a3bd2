package classfile

import (
	"fmt"
	"math"
	"strings"

	"fortio.org/safecast"

	"github.com/daimatz/bytecodebuilder/pkg/constant"
)

type poolKey struct {
	tag uint8
	a   uint64
	b   uint64
	s   string
}

// PoolBuilder assembles a deduplicated constant pool and bootstrap method
// table. The first overflow is sticky and reported by Err.
type PoolBuilder struct {
	entries    []ConstantPoolEntry
	index      map[poolKey]uint16
	bootstraps []BootstrapMethod
	bsmIndex   map[string]uint16
	err        error
}

// NewPoolBuilder returns an empty pool builder.
func NewPoolBuilder() *PoolBuilder {
	return &PoolBuilder{
		entries:  []ConstantPoolEntry{nil},
		index:    make(map[poolKey]uint16),
		bsmIndex: make(map[string]uint16),
	}
}

// Err returns the first error recorded while building.
func (p *PoolBuilder) Err() error { return p.err }

// Entries returns the 1-indexed pool. Index 0 and the slot after a long or
// double are nil.
func (p *PoolBuilder) Entries() []ConstantPoolEntry { return p.entries }

// BootstrapMethods returns the bootstrap method table.
func (p *PoolBuilder) BootstrapMethods() []BootstrapMethod { return p.bootstraps }

func (p *PoolBuilder) fail(err error) uint16 {
	if p.err == nil {
		p.err = err
	}
	return 0
}

func (p *PoolBuilder) add(key poolKey, entry ConstantPoolEntry) uint16 {
	if idx, ok := p.index[key]; ok {
		return idx
	}
	wide := key.tag == TagLong || key.tag == TagDouble
	next := len(p.entries)
	if wide {
		next++
	}
	if next >= math.MaxUint16 {
		return p.fail(fmt.Errorf("constant pool overflow: %d entries", next))
	}
	idx, err := safecast.Conv[uint16](len(p.entries))
	if err != nil {
		return p.fail(err)
	}
	p.entries = append(p.entries, entry)
	if wide {
		p.entries = append(p.entries, nil)
	}
	p.index[key] = idx
	return idx
}

// Utf8 interns a Utf8 entry.
func (p *PoolBuilder) Utf8(s string) uint16 {
	if len(s) > math.MaxUint16 {
		return p.fail(fmt.Errorf("utf8 constant too long: %d bytes", len(s)))
	}
	return p.add(poolKey{tag: TagUtf8, s: s}, &ConstantUtf8{Value: s})
}

// Integer interns an Integer entry.
func (p *PoolBuilder) Integer(v int32) uint16 {
	return p.add(poolKey{tag: TagInteger, a: uint64(uint32(v))}, &ConstantInteger{Value: v})
}

// Float interns a Float entry, keyed by bit pattern.
func (p *PoolBuilder) Float(v float32) uint16 {
	return p.add(poolKey{tag: TagFloat, a: uint64(math.Float32bits(v))}, &ConstantFloat{Value: v})
}

// Long interns a Long entry.
func (p *PoolBuilder) Long(v int64) uint16 {
	return p.add(poolKey{tag: TagLong, a: uint64(v)}, &ConstantLong{Value: v})
}

// Double interns a Double entry, keyed by bit pattern.
func (p *PoolBuilder) Double(v float64) uint16 {
	return p.add(poolKey{tag: TagDouble, a: math.Float64bits(v)}, &ConstantDouble{Value: v})
}

// Class interns a Class entry for an internal name.
func (p *PoolBuilder) Class(internalName string) uint16 {
	name := p.Utf8(internalName)
	return p.add(poolKey{tag: TagClass, a: uint64(name)}, &ConstantClass{NameIndex: name})
}

// String interns a String entry.
func (p *PoolBuilder) String(s string) uint16 {
	v := p.Utf8(s)
	return p.add(poolKey{tag: TagString, a: uint64(v)}, &ConstantString{StringIndex: v})
}

// NameAndType interns a NameAndType entry.
func (p *PoolBuilder) NameAndType(name, desc string) uint16 {
	n, d := p.Utf8(name), p.Utf8(desc)
	return p.add(poolKey{tag: TagNameAndType, a: uint64(n), b: uint64(d)},
		&ConstantNameAndType{NameIndex: n, DescriptorIndex: d})
}

// Fieldref interns a Fieldref entry.
func (p *PoolBuilder) Fieldref(owner, name, desc string) uint16 {
	c, nat := p.Class(owner), p.NameAndType(name, desc)
	return p.add(poolKey{tag: TagFieldref, a: uint64(c), b: uint64(nat)},
		&ConstantFieldref{ClassIndex: c, NameAndTypeIndex: nat})
}

// Methodref interns a Methodref, or an InterfaceMethodref when itf is set.
func (p *PoolBuilder) Methodref(owner, name, desc string, itf bool) uint16 {
	c, nat := p.Class(owner), p.NameAndType(name, desc)
	if itf {
		return p.add(poolKey{tag: TagInterfaceMethodref, a: uint64(c), b: uint64(nat)},
			&ConstantInterfaceMethodref{ClassIndex: c, NameAndTypeIndex: nat})
	}
	return p.add(poolKey{tag: TagMethodref, a: uint64(c), b: uint64(nat)},
		&ConstantMethodref{ClassIndex: c, NameAndTypeIndex: nat})
}

// MethodType interns a MethodType entry.
func (p *PoolBuilder) MethodType(desc string) uint16 {
	d := p.Utf8(desc)
	return p.add(poolKey{tag: TagMethodType, a: uint64(d)}, &ConstantMethodType{DescriptorIndex: d})
}

// MethodHandle interns a MethodHandle entry and its member reference.
func (p *PoolBuilder) MethodHandle(h constant.MethodHandle) uint16 {
	owner, err := h.Owner.InternalName()
	if err != nil {
		return p.fail(err)
	}
	var ref uint16
	if h.Kind.IsField() {
		ref = p.Fieldref(owner, h.Name, h.Type.String())
	} else {
		ref = p.Methodref(owner, h.Name, h.Type.String(), h.Kind.IsInterface())
	}
	kind := h.Kind.RefKind()
	return p.add(poolKey{tag: TagMethodHandle, a: uint64(kind), b: uint64(ref)},
		&ConstantMethodHandle{ReferenceKind: kind, ReferenceIndex: ref})
}

// Bootstrap interns a bootstrap method table entry.
func (p *PoolBuilder) Bootstrap(bsm constant.MethodHandle, args []constant.Constant) uint16 {
	ref := p.MethodHandle(bsm)
	argIdx := make([]uint16, len(args))
	var key strings.Builder
	fmt.Fprintf(&key, "%d", ref)
	for i, a := range args {
		argIdx[i] = p.Loadable(a)
		fmt.Fprintf(&key, ",%d", argIdx[i])
	}
	if idx, ok := p.bsmIndex[key.String()]; ok {
		return idx
	}
	idx, err := safecast.Conv[uint16](len(p.bootstraps))
	if err != nil {
		return p.fail(err)
	}
	p.bootstraps = append(p.bootstraps, BootstrapMethod{MethodRef: ref, BootstrapArguments: argIdx})
	p.bsmIndex[key.String()] = idx
	return idx
}

// Dynamic interns a CONSTANT_Dynamic entry.
func (p *PoolBuilder) Dynamic(d constant.Dynamic) uint16 {
	bsm := p.Bootstrap(d.Bootstrap, d.Args)
	nat := p.NameAndType(d.Name, d.Type.String())
	return p.add(poolKey{tag: TagDynamic, a: uint64(bsm), b: uint64(nat)},
		&ConstantDynamic{BootstrapMethodAttrIndex: bsm, NameAndTypeIndex: nat})
}

// InvokeDynamic interns a CONSTANT_InvokeDynamic call site entry.
func (p *PoolBuilder) InvokeDynamic(name, desc string, bsm constant.MethodHandle, args []constant.Constant) uint16 {
	b := p.Bootstrap(bsm, args)
	nat := p.NameAndType(name, desc)
	return p.add(poolKey{tag: TagInvokeDynamic, a: uint64(b), b: uint64(nat)},
		&ConstantInvokeDynamic{BootstrapMethodAttrIndex: b, NameAndTypeIndex: nat})
}

// Loadable interns any loadable constant.
func (p *PoolBuilder) Loadable(c constant.Constant) uint16 {
	switch c := c.(type) {
	case constant.Int:
		return p.Integer(int32(c))
	case constant.Long:
		return p.Long(int64(c))
	case constant.Float:
		return p.Float(float32(c))
	case constant.Double:
		return p.Double(float64(c))
	case constant.String:
		return p.String(string(c))
	case constant.Type:
		if c.Desc.IsMethod() {
			return p.MethodType(c.Desc.String())
		}
		name, err := c.Desc.InternalName()
		if err != nil {
			return p.fail(err)
		}
		return p.Class(name)
	case constant.MethodHandle:
		return p.MethodHandle(c)
	case constant.Dynamic:
		return p.Dynamic(c)
	}
	return p.fail(fmt.Errorf("unsupported constant %T", c))
}
