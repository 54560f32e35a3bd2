package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/daimatz/bytecodebuilder/pkg/classfile"
	"github.com/daimatz/bytecodebuilder/pkg/config"
	"github.com/daimatz/bytecodebuilder/pkg/lambda"
	"github.com/daimatz/bytecodebuilder/pkg/vm"
)

var runCmd = &cobra.Command{
	Use:   "run <file.class> [args...]",
	Short: "Run the main method of a class file on the embedded VM",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		defer func() { _ = log.Sync() }()

		filename := args[0]
		className := strings.TrimSuffix(filepath.Base(filename), ".class")
		loader := classLoader(cfg, filepath.Dir(filename))
		opts, err := cfg.Options()
		if err != nil {
			return err
		}

		machine := vm.NewVM(loader, vm.WithStdout(cmd.OutOrStdout()))
		machine.RegisterBootstrap(lambda.BootstrapOwner, lambda.BootstrapName, lambda.Bootstrap(lambda.WithBuildOptions(opts)))

		log.Debug("running class",
			zap.String("class", className),
			zap.Stringer("backend", opts.Backend),
			zap.Strings("classpath", cfg.Runtime.ClassPath))
		if err := machine.Execute(className, args[1:]...); err != nil {
			return fmt.Errorf("executing %s: %w", className, err)
		}
		return nil
	},
}

// classLoader chains the platform archive, the configured class path and
// dir. Earlier entries take precedence.
func classLoader(cfg config.Config, dir string) vm.ClassLoader {
	var loader vm.ClassLoader
	if jmod := cfg.JmodPath(); jmod != "" {
		loader = vm.NewArchiveClassLoader(jmod)
	}
	for _, p := range cfg.Runtime.ClassPath {
		if strings.HasSuffix(p, ".jar") {
			loader = chain(vm.NewArchiveClassLoader(p), loader)
			continue
		}
		loader = vm.NewDirClassLoader(p, loader)
	}
	return vm.NewDirClassLoader(dir, loader)
}

// parentFirst delegates to parent before child, like DirClassLoader.
type parentFirst struct {
	parent, child vm.ClassLoader
}

func chain(child, parent vm.ClassLoader) vm.ClassLoader {
	if parent == nil {
		return child
	}
	return parentFirst{parent: parent, child: child}
}

func (l parentFirst) LoadClass(name string) (*classfile.ClassFile, error) {
	if cf, err := l.parent.LoadClass(name); err == nil {
		return cf, nil
	}
	return l.child.LoadClass(name)
}
