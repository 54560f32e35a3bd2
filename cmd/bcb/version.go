package main

import (
	"fmt"
	"runtime/debug"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/daimatz/bytecodebuilder/pkg/builder"
	"github.com/daimatz/bytecodebuilder/pkg/lambda"
)

// Version is the tool version, overridden at link time with -X.
var Version = "0.1.0-dev"

var (
	versionColor = color.New(color.FgGreen, color.Bold)
	labelColor   = color.New(color.FgCyan)
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show bcb version and build information",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "bcb %s\n", versionColor.Sprint(Version))
		fmt.Fprintf(out, "%s %d\n", labelColor.Sprint("class version:"), builder.DefaultVersion)
		fmt.Fprintf(out, "%s %d\n", labelColor.Sprint("adapter class version:"), lambda.ClassVersion)
		if info, ok := debug.ReadBuildInfo(); ok {
			fmt.Fprintf(out, "%s %s\n", labelColor.Sprint("go:"), info.GoVersion)
			for _, s := range info.Settings {
				if s.Key == "vcs.revision" {
					fmt.Fprintf(out, "%s %s\n", labelColor.Sprint("commit:"), s.Value)
				}
			}
		}
		return nil
	},
}
