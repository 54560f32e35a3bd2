package classfile

import "fmt"

// Constant pool tags
const (
	TagUtf8               = 1
	TagInteger            = 3
	TagFloat              = 4
	TagLong               = 5
	TagDouble             = 6
	TagClass              = 7
	TagString             = 8
	TagFieldref           = 9
	TagMethodref          = 10
	TagInterfaceMethodref = 11
	TagNameAndType        = 12
	TagMethodHandle       = 15
	TagMethodType         = 16
	TagDynamic            = 17
	TagInvokeDynamic      = 18
)

// parseConstantPool reads constant_pool_count and the entries that follow.
// The returned slice is 1-indexed: index 0, and the slot after each long
// or double, is nil.
func parseConstantPool(d *decoder) ([]ConstantPoolEntry, error) {
	count := d.u2("constant pool count")
	if d.err != nil {
		return nil, d.err
	}
	pool := make([]ConstantPoolEntry, count)
	for i := 1; i < int(count); i++ {
		tag := d.u1("constant pool tag")
		var e ConstantPoolEntry
		switch tag {
		case TagUtf8:
			e = &ConstantUtf8{Value: string(d.bytes(int(d.u2("Utf8 length")), "Utf8 bytes"))}
		case TagInteger:
			e = &ConstantInteger{Value: int32(d.u4("Integer"))}
		case TagFloat:
			e = &ConstantFloat{Value: d.f4("Float")}
		case TagLong:
			e = &ConstantLong{Value: int64(d.u8("Long"))}
		case TagDouble:
			e = &ConstantDouble{Value: d.f8("Double")}
		case TagClass:
			e = &ConstantClass{NameIndex: d.u2("Class name_index")}
		case TagString:
			e = &ConstantString{StringIndex: d.u2("String string_index")}
		case TagFieldref:
			e = &ConstantFieldref{ClassIndex: d.u2("Fieldref class_index"), NameAndTypeIndex: d.u2("Fieldref name_and_type_index")}
		case TagMethodref:
			e = &ConstantMethodref{ClassIndex: d.u2("Methodref class_index"), NameAndTypeIndex: d.u2("Methodref name_and_type_index")}
		case TagInterfaceMethodref:
			e = &ConstantInterfaceMethodref{ClassIndex: d.u2("InterfaceMethodref class_index"), NameAndTypeIndex: d.u2("InterfaceMethodref name_and_type_index")}
		case TagNameAndType:
			e = &ConstantNameAndType{NameIndex: d.u2("NameAndType name_index"), DescriptorIndex: d.u2("NameAndType descriptor_index")}
		case TagMethodHandle:
			e = &ConstantMethodHandle{ReferenceKind: d.u1("MethodHandle reference_kind"), ReferenceIndex: d.u2("MethodHandle reference_index")}
		case TagMethodType:
			e = &ConstantMethodType{DescriptorIndex: d.u2("MethodType descriptor_index")}
		case TagDynamic:
			e = &ConstantDynamic{BootstrapMethodAttrIndex: d.u2("Dynamic bootstrap_method_attr_index"), NameAndTypeIndex: d.u2("Dynamic name_and_type_index")}
		case TagInvokeDynamic:
			e = &ConstantInvokeDynamic{BootstrapMethodAttrIndex: d.u2("InvokeDynamic bootstrap_method_attr_index"), NameAndTypeIndex: d.u2("InvokeDynamic name_and_type_index")}
		default:
			if d.err == nil {
				return nil, fmt.Errorf("unknown constant pool tag %d at index %d", tag, i)
			}
		}
		if d.err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, d.err)
		}
		pool[i] = e
		if tag == TagLong || tag == TagDouble {
			i++
		}
	}
	return pool, nil
}

// GetUtf8 returns the Utf8 string at the given constant pool index.
func GetUtf8(pool []ConstantPoolEntry, index uint16) (string, error) {
	if int(index) >= len(pool) || pool[index] == nil {
		return "", fmt.Errorf("invalid constant pool index %d", index)
	}
	utf8, ok := pool[index].(*ConstantUtf8)
	if !ok {
		return "", fmt.Errorf("constant pool index %d is not Utf8 (tag=%d)", index, pool[index].Tag())
	}
	return utf8.Value, nil
}

// GetClassName returns the class name referenced by a CONSTANT_Class entry.
func GetClassName(pool []ConstantPoolEntry, classIndex uint16) (string, error) {
	if int(classIndex) >= len(pool) || pool[classIndex] == nil {
		return "", fmt.Errorf("invalid constant pool index %d", classIndex)
	}
	class, ok := pool[classIndex].(*ConstantClass)
	if !ok {
		return "", fmt.Errorf("constant pool index %d is not Class", classIndex)
	}
	return GetUtf8(pool, class.NameIndex)
}

