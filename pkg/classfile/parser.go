package classfile

import (
	"fmt"
	"io"
	"os"
)

const classMagic = 0xCAFEBABE

// ParseFile reads and parses the .class file at path.
func ParseFile(path string) (*ClassFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseBytes(data)
}

// Parse reads a whole class file from r.
func Parse(r io.Reader) (*ClassFile, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading class file: %w", err)
	}
	return ParseBytes(data)
}

// ParseBytes parses an in-memory class file.
func ParseBytes(data []byte) (*ClassFile, error) {
	d := &decoder{data: data}
	if magic := d.u4("magic number"); d.err == nil && magic != classMagic {
		return nil, fmt.Errorf("invalid magic number: 0x%X (expected 0xCAFEBABE)", magic)
	}
	cf := &ClassFile{
		MinorVersion: d.u2("minor version"),
		MajorVersion: d.u2("major version"),
	}
	if d.err != nil {
		return nil, d.err
	}

	pool, err := parseConstantPool(d)
	if err != nil {
		return nil, fmt.Errorf("parsing constant pool: %w", err)
	}
	cf.ConstantPool = pool

	cf.AccessFlags = d.u2("access flags")
	cf.ThisClass = d.u2("this_class")
	cf.SuperClass = d.u2("super_class")
	cf.Interfaces = d.u2s("interfaces")
	if d.err != nil {
		return nil, d.err
	}

	if cf.Fields, err = parseFields(d, pool); err != nil {
		return nil, fmt.Errorf("parsing fields: %w", err)
	}
	if cf.Methods, err = parseMethods(d, pool); err != nil {
		return nil, fmt.Errorf("parsing methods: %w", err)
	}
	if cf.Attributes, err = parseAttributes(d, pool); err != nil {
		return nil, fmt.Errorf("parsing class attributes: %w", err)
	}
	for _, attr := range cf.Attributes {
		if attr.Name != AttrBootstrapMethods {
			continue
		}
		if cf.BootstrapMethods, err = parseBootstrapMethods(attr.Data); err != nil {
			return nil, fmt.Errorf("parsing BootstrapMethods: %w", err)
		}
	}
	if !d.done() {
		return nil, fmt.Errorf("%d trailing bytes after class attributes", len(data)-d.off)
	}
	return cf, nil
}

// member is the header shared by field_info and method_info.
type member struct {
	access uint16
	name   string
	desc   string
	attrs  []AttributeInfo
}

func parseMember(d *decoder, pool []ConstantPoolEntry) (member, error) {
	access := d.u2("access flags")
	nameIndex := d.u2("name index")
	descIndex := d.u2("descriptor index")
	if d.err != nil {
		return member{}, d.err
	}
	name, err := GetUtf8(pool, nameIndex)
	if err != nil {
		return member{}, fmt.Errorf("resolving name: %w", err)
	}
	desc, err := GetUtf8(pool, descIndex)
	if err != nil {
		return member{}, fmt.Errorf("resolving descriptor of %s: %w", name, err)
	}
	attrs, err := parseAttributes(d, pool)
	if err != nil {
		return member{}, fmt.Errorf("parsing attributes of %s: %w", name, err)
	}
	return member{access: access, name: name, desc: desc, attrs: attrs}, nil
}

func parseFields(d *decoder, pool []ConstantPoolEntry) ([]FieldInfo, error) {
	n := d.u2("fields count")
	if d.err != nil {
		return nil, d.err
	}
	fields := make([]FieldInfo, n)
	for i := range fields {
		m, err := parseMember(d, pool)
		if err != nil {
			return nil, fmt.Errorf("field %d: %w", i, err)
		}
		f := FieldInfo{
			AccessFlags: m.access,
			Name:        m.name,
			Descriptor:  m.desc,
			Attributes:  m.attrs,
			Signature:   signatureOf(pool, m.attrs),
		}
		if data, ok := attribute(m.attrs, AttrConstantValue); ok {
			cv := &decoder{data: data}
			f.ConstantValue = cv.u2("ConstantValue index")
			if !cv.done() {
				return nil, fmt.Errorf("field %s: malformed ConstantValue attribute", m.name)
			}
		}
		fields[i] = f
	}
	return fields, nil
}

func parseMethods(d *decoder, pool []ConstantPoolEntry) ([]MethodInfo, error) {
	n := d.u2("methods count")
	if d.err != nil {
		return nil, d.err
	}
	methods := make([]MethodInfo, n)
	for i := range methods {
		m, err := parseMember(d, pool)
		if err != nil {
			return nil, fmt.Errorf("method %d: %w", i, err)
		}
		mi := MethodInfo{
			AccessFlags: m.access,
			Name:        m.name,
			Descriptor:  m.desc,
			Attributes:  m.attrs,
			Signature:   signatureOf(pool, m.attrs),
		}
		if data, ok := attribute(m.attrs, AttrCode); ok {
			if mi.Code, err = parseCode(data, pool); err != nil {
				return nil, fmt.Errorf("parsing Code attribute for method %s: %w", m.name, err)
			}
		}
		if data, ok := attribute(m.attrs, AttrExceptions); ok {
			if mi.Exceptions, err = parseExceptions(data, pool); err != nil {
				return nil, fmt.Errorf("parsing Exceptions attribute for method %s: %w", m.name, err)
			}
		}
		methods[i] = mi
	}
	return methods, nil
}

func parseAttributes(d *decoder, pool []ConstantPoolEntry) ([]AttributeInfo, error) {
	n := d.u2("attributes count")
	if d.err != nil {
		return nil, d.err
	}
	attrs := make([]AttributeInfo, n)
	for i := range attrs {
		nameIndex := d.u2("attribute name index")
		length := d.u4("attribute length")
		data := d.bytes(int(length), "attribute data")
		if d.err != nil {
			return nil, fmt.Errorf("attribute %d: %w", i, d.err)
		}
		name, err := GetUtf8(pool, nameIndex)
		if err != nil {
			return nil, fmt.Errorf("resolving attribute %d name: %w", i, err)
		}
		attrs[i] = AttributeInfo{Name: name, Data: data}
	}
	return attrs, nil
}

// attribute returns the data of the first attribute called name.
func attribute(attrs []AttributeInfo, name string) ([]byte, bool) {
	for _, a := range attrs {
		if a.Name == name {
			return a.Data, true
		}
	}
	return nil, false
}

func parseCode(data []byte, pool []ConstantPoolEntry) (*CodeAttribute, error) {
	d := &decoder{data: data}
	code := &CodeAttribute{
		MaxStack:  d.u2("max_stack"),
		MaxLocals: d.u2("max_locals"),
	}
	code.Code = d.bytes(int(d.u4("code_length")), "code")
	handlers := d.u2("exception table length")
	if d.err != nil {
		return nil, d.err
	}
	code.ExceptionHandlers = make([]ExceptionHandler, handlers)
	for i := range code.ExceptionHandlers {
		code.ExceptionHandlers[i] = ExceptionHandler{
			StartPC:   d.u2("start_pc"),
			EndPC:     d.u2("end_pc"),
			HandlerPC: d.u2("handler_pc"),
			CatchType: d.u2("catch_type"),
		}
	}
	if d.err != nil {
		return nil, fmt.Errorf("exception table: %w", d.err)
	}
	attrs, err := parseAttributes(d, pool)
	if err != nil {
		return nil, fmt.Errorf("parsing Code attributes: %w", err)
	}
	code.Attributes = attrs
	return code, nil
}

func parseExceptions(data []byte, pool []ConstantPoolEntry) ([]string, error) {
	d := &decoder{data: data}
	indexes := d.u2s("exception index")
	if !d.done() {
		return nil, fmt.Errorf("Exceptions attribute malformed: %v", d.err)
	}
	names := make([]string, len(indexes))
	for i, idx := range indexes {
		name, err := GetClassName(pool, idx)
		if err != nil {
			return nil, fmt.Errorf("resolving exception %d: %w", i, err)
		}
		names[i] = name
	}
	return names, nil
}

func signatureOf(pool []ConstantPoolEntry, attrs []AttributeInfo) string {
	data, ok := attribute(attrs, AttrSignature)
	if !ok || len(data) != 2 {
		return ""
	}
	d := &decoder{data: data}
	sig, err := GetUtf8(pool, d.u2("signature index"))
	if err != nil {
		return ""
	}
	return sig
}

func parseBootstrapMethods(data []byte) ([]BootstrapMethod, error) {
	d := &decoder{data: data}
	n := d.u2("bootstrap methods count")
	if d.err != nil {
		return nil, d.err
	}
	methods := make([]BootstrapMethod, n)
	for i := range methods {
		methods[i] = BootstrapMethod{
			MethodRef:          d.u2("bootstrap_method_ref"),
			BootstrapArguments: d.u2s("bootstrap argument"),
		}
		if d.err != nil {
			return nil, fmt.Errorf("bootstrap method %d: %w", i, d.err)
		}
	}
	return methods, nil
}

// ClassName returns the internal name of this class.
func (cf *ClassFile) ClassName() (string, error) {
	return GetClassName(cf.ConstantPool, cf.ThisClass)
}

// FindMethod finds a method by name and descriptor.
func (cf *ClassFile) FindMethod(name, descriptor string) *MethodInfo {
	for i := range cf.Methods {
		if cf.Methods[i].Name == name && cf.Methods[i].Descriptor == descriptor {
			return &cf.Methods[i]
		}
	}
	return nil
}

// FindMethodByName returns the first method called name.
func (cf *ClassFile) FindMethodByName(name string) *MethodInfo {
	for i := range cf.Methods {
		if cf.Methods[i].Name == name {
			return &cf.Methods[i]
		}
	}
	return nil
}
