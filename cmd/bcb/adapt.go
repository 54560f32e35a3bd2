package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/daimatz/bytecodebuilder/pkg/builder"
	"github.com/daimatz/bytecodebuilder/pkg/classfile"
	"github.com/daimatz/bytecodebuilder/pkg/descriptor"
	"github.com/daimatz/bytecodebuilder/pkg/lambda"
	"github.com/daimatz/bytecodebuilder/pkg/vm"
)

const adaptHost = "bcb/AdapterHost"

var (
	adaptOut    string
	adaptTarget string
)

func init() {
	adaptCmd.Flags().StringVarP(&adaptOut, "out", "o", "", "directory receiving the generated class files")
	adaptCmd.Flags().StringVar(&adaptTarget, "target", "java/util/function/IntBinaryOperator", "functional interface or abstract class to implement")
	_ = adaptCmd.MarkFlagRequired("out")
}

var adaptCmd = &cobra.Command{
	Use:   "adapt",
	Short: "Synthesize an adapter class for a functional type and write its bytes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		defer func() { _ = log.Sync() }()
		opts, err := cfg.Options()
		if err != nil {
			return err
		}
		written, err := synthesizeAdapter(adaptOut, strings.ReplaceAll(adaptTarget, ".", "/"), cfg.Build.Version, opts)
		if err != nil {
			return err
		}
		for _, p := range written {
			fmt.Fprintln(cmd.OutOrStdout(), p)
		}
		log.Info("adapter written",
			zap.String("target", adaptTarget),
			zap.Stringer("backend", opts.Backend),
			zap.Int("files", len(written)))
		return nil
	},
}

// synthesizeAdapter defines an empty host class on a fresh VM and coerces a
// handle returning zero values to target through it. Every class built on
// the way is written below out; the written paths are returned.
func synthesizeAdapter(out, target string, version int, opts builder.Options) ([]string, error) {
	var (
		mu      sync.Mutex
		written []string
	)
	opts.Dump = func(name string, data []byte) error {
		path := filepath.Join(out, filepath.FromSlash(name)+".class")
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return err
		}
		mu.Lock()
		written = append(written, path)
		mu.Unlock()
		return nil
	}

	data, err := builder.New().Build(builder.Header{
		Version: version,
		Access:  classfile.AccPublic | classfile.AccSuper,
		Name:    descriptor.Class(adaptHost),
	}, opts)
	if err != nil {
		return nil, fmt.Errorf("building host class: %w", err)
	}
	machine := vm.NewVM(nil)
	host, err := machine.DefineClass(data)
	if err != nil {
		return nil, fmt.Errorf("defining host class: %w", err)
	}
	lookup := machine.Lookup(host)

	targetType := descriptor.Class(target)
	class, err := lookup.FindClass(targetType)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", target, err)
	}
	sam, err := lambda.FindAbstractMethod(class)
	if err != nil {
		return nil, err
	}
	ret := sam.Type.ReturnType()
	handle := machine.NativeHandle(sam.Type, func([]any) (any, error) {
		return zeroOf(ret), nil
	})
	if _, err := lambda.Coerce(lookup, handle, targetType, lambda.WithBuildOptions(opts)); err != nil {
		return nil, err
	}
	return written, nil
}

func zeroOf(t descriptor.Descriptor) any {
	switch t.Sort() {
	case descriptor.SortBoolean, descriptor.SortByte, descriptor.SortChar, descriptor.SortShort, descriptor.SortInt:
		return int32(0)
	case descriptor.SortLong:
		return int64(0)
	case descriptor.SortFloat:
		return float32(0)
	case descriptor.SortDouble:
		return float64(0)
	}
	return nil
}
