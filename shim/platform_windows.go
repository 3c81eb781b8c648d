//go:build windows

package shim

import (
	"unsafe"

	"github.com/devolutions/jetify/hooks"
	"github.com/devolutions/jetify/winapi"
	"github.com/devolutions/jetify/wsman"
	"golang.org/x/sys/windows"
)

// marker lives in the shim's image, so its address identifies the module.
var marker byte

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

// modulePath returns the file name of the module the shim was loaded from.
func modulePath() string {
	var h windows.Handle
	flags := uint32(windows.GET_MODULE_HANDLE_EX_FLAG_FROM_ADDRESS | windows.GET_MODULE_HANDLE_EX_FLAG_UNCHANGED_REFCOUNT)
	if err := windows.GetModuleHandleEx(flags, (*uint16)(unsafe.Pointer(&marker)), &h); err != nil {
		return ""
	}
	buf := make([]uint16, windows.MAX_LONG_PATH)
	n, err := windows.GetModuleFileName(h, &buf[0], uint32(len(buf)))
	if err != nil {
		return ""
	}
	return windows.UTF16ToString(buf[:n])
}
