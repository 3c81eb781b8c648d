//go:build windows && (amd64 || 386)

package hooks

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/windows"
)

type moduleResolver struct {
	mode int
}

// NewResolver returns a Resolver over the modules of the current process.
// Import thunks in front of a function are followed, so the hook lands on
// the code that actually runs.
func NewResolver() Resolver {
	return &moduleResolver{mode: archMode()}
}

func (r *moduleResolver) Resolve(module, name string, load bool) (uintptr, error) {
	var h windows.Handle
	var err error
	if load {
		h, err = windows.LoadLibraryEx(module, 0, windows.LOAD_LIBRARY_SEARCH_SYSTEM32)
	} else {
		var name16 *uint16
		if name16, err = windows.UTF16PtrFromString(module); err == nil {
			err = windows.GetModuleHandleEx(windows.GET_MODULE_HANDLE_EX_FLAG_UNCHANGED_REFCOUNT, name16, &h)
		}
	}
	if err != nil {
		return 0, errors.Wrapf(err, "module %s", module)
	}
	addr, err := windows.GetProcAddress(h, name)
	if err != nil {
		return 0, errors.Wrapf(err, "export %s", name)
	}
	return FollowJumps(r.mode, readMemory, addr)
}
