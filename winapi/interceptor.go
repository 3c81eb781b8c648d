package winapi

import (
	"unsafe"

	"github.com/devolutions/jetify/core"
	"github.com/devolutions/jetify/util"
)

// Originals reaches the real implementation of each intercepted function.
type Originals struct {
	WinHttpOpen        func(agent *uint16, accessType uint32, proxy, proxyBypass *uint16, flags uint32) HINTERNET
	WinHttpConnect     func(session HINTERNET, serverName *uint16, port uint16, reserved uint32) HINTERNET
	WinHttpSetOption   func(handle HINTERNET, option uint32, buffer unsafe.Pointer, bufferLength uint32) BOOL
	WinHttpOpenRequest func(connect HINTERNET, verb, objectName, version, referrer *uint16, acceptTypes **uint16, flags uint32) HINTERNET
	WinHttpSendRequest func(request HINTERNET, headers *uint16, headersLength uint32, optional unsafe.Pointer, optionalLength, totalLength uint32, context uintptr) BOOL
	WinHttpCloseHandle func(handle HINTERNET) BOOL
	RegOpenKeyExW      func(key HKEY, subKey *uint16, options, samDesired uint32, result *HKEY) uint32
	RegQueryValueExW   func(key HKEY, valueName *uint16, reserved, valueType *uint32, data *byte, dataLen *uint32) uint32
}

// Interceptor holds the behavior that replaces each intercepted function.
// Its methods take the original arguments and may be called from any
// thread of the host process.
type Interceptor struct {
	real     *Originals
	env      util.Env
	log      *core.Logger
	registry *RegistryState
}

func NewInterceptor(real *Originals, env util.Env, log *core.Logger) *Interceptor {
	return &Interceptor{
		real:     real,
		env:      env,
		log:      log,
		registry: &RegistryState{},
	}
}

func (i *Interceptor) Registry() *RegistryState {
	return i.registry
}
