// Package wsman loads the real WsmSvc.dll when the shim itself is deployed
// under that name, so a host that loads the shim in its place still reaches
// the WS-Management client functions.
package wsman

import (
	"sync"

	"github.com/devolutions/jetify/core"
	"github.com/devolutions/jetify/util"
	"github.com/pkg/errors"
)

const DllName = "WsmSvc.dll"

// ProcNames is the function table resolved from the real library.
var ProcNames = []string{
	"WSManInitialize",
	"WSManDeinitialize",
	"WSManGetErrorMessage",
	"WSManCreateSession",
	"WSManCloseSession",
	"WSManSetSessionOption",
	"WSManGetSessionOptionAsDword",
	"WSManGetSessionOptionAsString",
	"WSManCloseOperation",
	"WSManSignalShell",
	"WSManReceiveShellOutput",
	"WSManSendShellInput",
	"WSManCloseCommand",
	"WSManCloseShell",
	"WSManCreateShellEx",
	"WSManRunShellCommandEx",
	"WSManDisconnectShell",
	"WSManReconnectShell",
	"WSManReconnectShellCommand",
	"WSManConnectShell",
	"WSManConnectShellCommand",
}

// Loader is the dynamic library API of the platform.
type Loader interface {
	Load(path string) (uintptr, error)
	Proc(module uintptr, name string) (uintptr, error)
	Free(module uintptr) error
}

// ShouldInit reports whether the module at modulePath is named WsmSvc.dll.
func ShouldInit(modulePath string) bool {
	name := util.FileBase(modulePath)
	return name != "" && util.StringIEquals(name, DllName)
}

// LibraryPath returns the location of the system copy of WsmSvc.dll.
func LibraryPath(systemRoot string) string {
	return systemRoot + `\System32\` + DllName
}

type Library struct {
	mu     sync.Mutex
	loader Loader
	log    *core.Logger
	module uintptr
	procs  map[string]uintptr
}

func New(loader Loader, log *core.Logger) *Library {
	return &Library{loader: loader, log: log}
}

// Init loads the system WsmSvc.dll when selfPath names the shim as
// WsmSvc.dll. Otherwise it does nothing and succeeds. Exports that are
// missing from the library are left unresolved.
func (l *Library) Init(selfPath, systemRoot string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.log.Debugf("WSMan_ShouldInit: %s", selfPath)
	if !ShouldInit(selfPath) {
		return nil
	}
	if l.module != 0 {
		return nil
	}

	path := LibraryPath(systemRoot)
	module, err := l.loader.Load(path)
	if err != nil {
		return errors.Wrapf(err, "load %s", path)
	}
	l.module = module
	l.procs = make(map[string]uintptr, len(ProcNames))
	for _, name := range ProcNames {
		addr, err := l.loader.Proc(module, name)
		if err != nil || addr == 0 {
			l.log.Warnf("%s: %s not found", DllName, name)
			continue
		}
		l.procs[name] = addr
	}
	return nil
}

// Proc returns the address of a function of the real library, or 0.
func (l *Library) Proc(name string) uintptr {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.procs[name]
}

func (l *Library) Loaded() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.module != 0
}

// Uninit frees the library and clears the function table.
func (l *Library) Uninit() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.module == 0 {
		return nil
	}
	err := l.loader.Free(l.module)
	l.module = 0
	l.procs = nil
	return errors.Wrapf(err, "free %s", DllName)
}
