//go:build !windows

package shim

import (
	"os"

	"github.com/devolutions/jetify/hooks"
	"github.com/devolutions/jetify/winapi"
	"github.com/devolutions/jetify/wsman"
)

// DefaultPlatform describes the hooks without installing any of them.
func DefaultPlatform() Platform {
	return Platform{
		Resolver:   hooks.NewResolver(),
		NewPatcher: hooks.NewPatcher,
		Loader:     wsman.NewLoader(),
		ModulePath: modulePath,
		SystemRoot: systemRoot,
		Register:   winapi.NewHooks,
	}
}

func modulePath() string {
	path, err := os.Executable()
	if err != nil {
		return ""
	}
	return path
}
