package main

import (
	"fmt"
	"io"

	"github.com/devolutions/jetify/core"
	"github.com/devolutions/jetify/util"
	"github.com/devolutions/jetify/winapi"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v2"
)

func newConfigCmd(env util.Env) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the configuration the library would load in this environment",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfig(cmd.OutOrStdout(), env)
		},
	}
}

func runConfig(out io.Writer, env util.Env) error {
	conf, err := util.LoadConfig(env)
	if err != nil {
		fmt.Fprintf(out, "# warning: %v\n", err)
	}
	buf, err := yaml.Marshal(&conf)
	if err != nil {
		return err
	}
	out.Write(buf)

	fmt.Fprintln(out, "\n# logging")
	level, ok := core.ParseLevel(conf.LogLevel)
	switch {
	case !conf.LogLevelSet():
		fmt.Fprintln(out, "#   off, no level configured")
	case ok && level == core.LevelOff:
		fmt.Fprintln(out, "#   off")
	default:
		if !ok {
			level = core.LevelDebug
		}
		path := conf.LogFilePath
		if path == "" {
			path = "%TEMP%\\" + core.DefaultLogFileName
		}
		fmt.Fprintf(out, "#   %s to %s\n", level, path)
	}

	fmt.Fprintln(out, "# proxy")
	if proxy := util.GetEnv(env, util.EnvProxy, ""); proxy != "" {
		fmt.Fprintf(out, "#   %s for %q, bypass %q\n", proxy, winapi.WinRMClientAgent, util.GetEnv(env, util.EnvProxyBypass, ""))
	} else {
		fmt.Fprintf(out, "#   %s not set, WinHttpOpen is left unchanged\n", util.EnvProxy)
	}

	fmt.Fprintln(out, "# hooks")
	for _, target := range winapi.Targets {
		state := "enabled"
		if conf.HookDisabled(target.Name) {
			state = "disabled"
		}
		fmt.Fprintf(out, "#   %-20s %-8s %s\n", target.Name, state, target)
	}
	return nil
}
