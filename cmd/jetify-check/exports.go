package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/devolutions/jetify/hooks"
	"github.com/devolutions/jetify/util"
	"github.com/devolutions/jetify/winapi"
	"github.com/spf13/cobra"
)

func newExportsCmd(env util.Env) *cobra.Command {
	var dirs []string
	cmd := &cobra.Command{
		Use:   "exports",
		Short: "Show which DLL exports each hooked function",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(dirs) == 0 {
				dirs = []string{defaultSystemDir(env)}
			}
			return runExports(cmd.OutOrStdout(), newModuleSet(dirs), winapi.Targets)
		},
	}
	cmd.Flags().StringSliceVar(&dirs, "system-dir", nil, "directories searched for the DLLs (default %SystemRoot%\\System32)")
	return cmd
}

func runExports(out io.Writer, modules *moduleSet, targets []hooks.Target) error {
	for _, target := range targets {
		for _, module := range target.Modules {
			f, err := modules.load(module)
			if err != nil {
				fmt.Fprintf(out, "%-20s %-16s missing: %v\n", target.Name, module, err)
				continue
			}
			export, ok := f.ExportNameMap[target.Name]
			switch {
			case !ok:
				fmt.Fprintf(out, "%-20s %-16s not exported\n", target.Name, module)
			case export.Forwarded():
				fmt.Fprintf(out, "%-20s %-16s forwarded to %s\n", target.Name, module, export.Forward)
			default:
				fmt.Fprintf(out, "%-20s %-16s rva 0x%x\n", target.Name, module, export.Rva)
			}
		}
		loc, err := modules.locate(target)
		if err != nil {
			fmt.Fprintf(out, "%-20s => unresolved: %v\n", target.Name, err)
			continue
		}
		via := ""
		if len(loc.forwarded) > 0 {
			via = " via " + strings.Join(loc.forwarded, ", ")
		}
		fmt.Fprintf(out, "%-20s => %s!%s%s\n", target.Name, loc.module, loc.export.Name, via)
	}
	return nil
}
