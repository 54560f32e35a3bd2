package main

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/daimatz/bytecodebuilder/pkg/classfile"
)

var (
	headingColor = color.New(color.FgYellow, color.Bold)
	nameColor    = color.New(color.FgBlue, color.Bold)
)

var (
	inspectPool bool
	inspectJobs int
)

func init() {
	inspectCmd.Flags().BoolVar(&inspectPool, "pool", false, "print the constant pool")
	inspectCmd.Flags().IntVarP(&inspectJobs, "jobs", "j", 8, "number of files parsed concurrently")
}

var inspectCmd = &cobra.Command{
	Use:   "inspect <file.class>...",
	Short: "Print the structure of class files",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, _, err := loadConfig(cmd); err != nil {
			return err
		}
		reports := make([]bytes.Buffer, len(args))
		var g errgroup.Group
		g.SetLimit(max(inspectJobs, 1))
		for i, path := range args {
			i, path := i, path
			g.Go(func() error {
				cf, err := classfile.ParseFile(path)
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				return describeClass(&reports[i], path, cf, inspectPool)
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for i := range reports {
			if i > 0 {
				fmt.Fprintln(out)
			}
			if _, err := reports[i].WriteTo(out); err != nil {
				return err
			}
		}
		return nil
	},
}

var accessNames = []struct {
	flag uint16
	name string
}{
	{classfile.AccPublic, "public"},
	{classfile.AccPrivate, "private"},
	{classfile.AccProtected, "protected"},
	{classfile.AccStatic, "static"},
	{classfile.AccFinal, "final"},
	{classfile.AccInterface, "interface"},
	{classfile.AccAbstract, "abstract"},
	{classfile.AccSynthetic, "synthetic"},
	{classfile.AccAnnotation, "annotation"},
	{classfile.AccEnum, "enum"},
}

func accessString(flags uint16) string {
	var parts []string
	for _, a := range accessNames {
		if flags&a.flag != 0 {
			parts = append(parts, a.name)
		}
	}
	return strings.Join(parts, " ")
}

func heading(w io.Writer, title string, n int) {
	fmt.Fprintf(w, "%s (%d)\n", headingColor.Sprint(title), n)
}

func describeClass(w io.Writer, path string, cf *classfile.ClassFile, pool bool) error {
	name, err := cf.ClassName()
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	interfaces, err := cf.InterfaceNames()
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	fmt.Fprintf(w, "%s %s\n", nameColor.Sprint(name), path)
	fmt.Fprintf(w, "  version: %d.%d\n", cf.MajorVersion, cf.MinorVersion)
	fmt.Fprintf(w, "  access: %s (0x%04x)\n", accessString(cf.AccessFlags), cf.AccessFlags)
	if super := cf.SuperClassName(); super != "" {
		fmt.Fprintf(w, "  super: %s\n", super)
	}
	if len(interfaces) > 0 {
		fmt.Fprintf(w, "  interfaces: %s\n", strings.Join(interfaces, ", "))
	}
	if sig := cf.Signature(); sig != "" {
		fmt.Fprintf(w, "  signature: %s\n", sig)
	}

	if pool {
		heading(w, "constant pool", len(cf.ConstantPool)-1)
		for i, e := range cf.ConstantPool {
			if e == nil {
				continue
			}
			fmt.Fprintf(w, "  #%d = %s\n", i, describeEntry(cf, uint16(i), e))
		}
	}

	heading(w, "fields", len(cf.Fields))
	for _, f := range cf.Fields {
		fmt.Fprintf(w, "  %s %s %s", accessString(f.AccessFlags), f.Name, f.Descriptor)
		if f.ConstantValue != 0 {
			if c, err := cf.Loadable(f.ConstantValue); err == nil {
				fmt.Fprintf(w, " = %v", c)
			}
		}
		fmt.Fprintln(w)
	}

	heading(w, "methods", len(cf.Methods))
	for _, m := range cf.Methods {
		fmt.Fprintf(w, "  %s %s%s", accessString(m.AccessFlags), m.Name, m.Descriptor)
		if len(m.Exceptions) > 0 {
			fmt.Fprintf(w, " throws %s", strings.Join(m.Exceptions, ", "))
		}
		if m.Code != nil {
			fmt.Fprintf(w, " [stack=%d locals=%d code=%d handlers=%d]",
				m.Code.MaxStack, m.Code.MaxLocals, len(m.Code.Code), len(m.Code.ExceptionHandlers))
		}
		fmt.Fprintln(w)
	}

	if len(cf.BootstrapMethods) == 0 {
		return nil
	}
	heading(w, "bootstrap methods", len(cf.BootstrapMethods))
	for i, b := range cf.BootstrapMethods {
		bsm, err := classfile.ResolveMethodHandle(cf.ConstantPool, b.MethodRef)
		if err != nil {
			return fmt.Errorf("%s: bootstrap method %d: %w", path, i, err)
		}
		args := make([]string, len(b.BootstrapArguments))
		for j, idx := range b.BootstrapArguments {
			c, err := cf.Loadable(idx)
			if err != nil {
				return fmt.Errorf("%s: bootstrap method %d argument %d: %w", path, i, j, err)
			}
			args[j] = fmt.Sprint(c)
		}
		fmt.Fprintf(w, "  %d: %v [%s]\n", i, bsm, strings.Join(args, ", "))
	}
	return nil
}

var tagNames = map[uint8]string{
	classfile.TagUtf8:               "Utf8",
	classfile.TagInteger:            "Integer",
	classfile.TagFloat:              "Float",
	classfile.TagLong:               "Long",
	classfile.TagDouble:             "Double",
	classfile.TagClass:              "Class",
	classfile.TagString:             "String",
	classfile.TagFieldref:           "Fieldref",
	classfile.TagMethodref:          "Methodref",
	classfile.TagInterfaceMethodref: "InterfaceMethodref",
	classfile.TagNameAndType:        "NameAndType",
	classfile.TagMethodHandle:       "MethodHandle",
	classfile.TagMethodType:         "MethodType",
	classfile.TagDynamic:            "Dynamic",
	classfile.TagInvokeDynamic:      "InvokeDynamic",
}

func describeEntry(cf *classfile.ClassFile, index uint16, e classfile.ConstantPoolEntry) string {
	tag := tagNames[e.Tag()]
	if tag == "" {
		tag = fmt.Sprintf("Tag(%d)", e.Tag())
	}
	var detail string
	switch e.Tag() {
	case classfile.TagUtf8:
		detail = e.(*classfile.ConstantUtf8).Value
	case classfile.TagNameAndType:
		name, desc, err := classfile.ResolveNameAndType(cf.ConstantPool, index)
		if err == nil {
			detail = name + ":" + desc
		}
	case classfile.TagFieldref, classfile.TagMethodref, classfile.TagInterfaceMethodref:
		var (
			ref *classfile.MemberRef
			err error
		)
		if e.Tag() == classfile.TagFieldref {
			ref, err = classfile.ResolveFieldref(cf.ConstantPool, index)
		} else {
			ref, err = classfile.ResolveAnyMethodref(cf.ConstantPool, index)
		}
		if err == nil {
			detail = ref.ClassName + "." + ref.Name + ":" + ref.Descriptor
		}
	case classfile.TagInvokeDynamic:
		ref, err := classfile.ResolveDynamic(cf.ConstantPool, index)
		if err == nil {
			detail = fmt.Sprintf("#%d:%s:%s", ref.BootstrapIndex, ref.Name, ref.Descriptor)
		}
	default:
		if c, err := cf.Loadable(index); err == nil {
			detail = fmt.Sprint(c)
		}
	}
	return fmt.Sprintf("%-18s %s", tag, detail)
}
