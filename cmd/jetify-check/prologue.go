package main

import (
	"fmt"
	"io"

	"github.com/devolutions/jetify/hooks"
	"github.com/devolutions/jetify/util"
	"github.com/devolutions/jetify/winapi"
	"github.com/spf13/cobra"
	"golang.org/x/arch/x86/x86asm"
)

// prologueBytes is how much code is read for each function.
const prologueBytes = 64

func newPrologueCmd(env util.Env) *cobra.Command {
	var dirs []string
	cmd := &cobra.Command{
		Use:   "prologue",
		Short: "Disassemble the start of each hooked function and check that it can be patched",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(dirs) == 0 {
				dirs = []string{defaultSystemDir(env)}
			}
			return runPrologue(cmd.OutOrStdout(), newModuleSet(dirs), winapi.Targets)
		},
	}
	cmd.Flags().StringSliceVar(&dirs, "system-dir", nil, "directories searched for the DLLs (default %SystemRoot%\\System32)")
	return cmd
}

func runPrologue(out io.Writer, modules *moduleSet, targets []hooks.Target) error {
	for _, target := range targets {
		loc, err := modules.locate(target)
		if err != nil {
			fmt.Fprintf(out, "%s: %v\n\n", target.Name, err)
			continue
		}
		code, err := loc.file.ReadRva(loc.export.Rva, prologueBytes)
		if err != nil {
			fmt.Fprintf(out, "%s: %v\n\n", target.Name, err)
			continue
		}
		from := uintptr(loc.file.ImageBase) + uintptr(loc.export.Rva)
		fmt.Fprintf(out, "%s!%s at 0x%x\n", loc.module, loc.export.Name, from)
		describePrologue(out, loc.file.Mode(), code, from)
		fmt.Fprintln(out)
	}
	return nil
}

// describePrologue lists the instructions a patch would overwrite and
// whether a trampoline can be built for the near and the absolute patch.
func describePrologue(out io.Writer, mode int, code []byte, from uintptr) {
	cover := hooks.NearJumpSize
	if mode == 64 {
		cover = hooks.FarJumpSize
	}
	for off := 0; off < cover && off < len(code); {
		inst, err := x86asm.Decode(code[off:], mode)
		if err != nil {
			fmt.Fprintf(out, "  +%02x  % x  (%v)\n", off, code[off], err)
			break
		}
		fmt.Fprintf(out, "  +%02x  %-30s %s\n", off, fmt.Sprintf("% x", code[off:off+inst.Len]),
			x86asm.IntelSyntax(inst, uint64(from)+uint64(off), nil))
		off += inst.Len
	}

	// the relay region sits within a few megabytes of the module
	at := from + 0x100000
	report := func(kind string, size int) {
		t, err := hooks.BuildTrampoline(mode, code, from, at, size)
		if err != nil {
			fmt.Fprintf(out, "  %s patch: rejected: %v\n", kind, err)
			return
		}
		fmt.Fprintf(out, "  %s patch: ok, %d bytes moved, trampoline %d bytes\n", kind, t.Stolen, len(t.Code))
	}
	report("near", hooks.NearJumpSize)
	if mode == 64 {
		report("absolute", hooks.FarJumpSize)
	}
}
