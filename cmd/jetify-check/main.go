// Command jetify-check inspects a machine before the interception library
// is deployed on it: which DLLs export the hooked functions, whether their
// prologues can be patched, and whether WinRM works through the proxy.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/devolutions/jetify/util"
	"github.com/spf13/cobra"
)

func defaultSystemDir(env util.Env) string {
	root := util.GetEnv(env, "SystemRoot", `C:\Windows`)
	return filepath.Join(root, "System32")
}

func newRootCmd(env util.Env) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "jetify-check",
		Short:         "Diagnostics for the Jetify WinRM interception library",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.AddCommand(
		newExportsCmd(env),
		newPrologueCmd(env),
		newProbeCmd(env),
		newConfigCmd(env),
	)
	return rootCmd
}

func main() {
	if err := newRootCmd(util.OSEnv{}).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
