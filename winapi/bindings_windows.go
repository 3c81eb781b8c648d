//go:build windows

package winapi

import (
	"syscall"
	"unsafe"

	"github.com/devolutions/jetify/core"
	"github.com/devolutions/jetify/hooks"
	"github.com/devolutions/jetify/util"
	"golang.org/x/sys/windows"
)

var (
	modkernel32      = windows.NewLazySystemDLL("kernel32.dll")
	procSetLastError = modkernel32.NewProc("SetLastError")
)

// NewHooks registers every intercepted function in t, with callbacks that
// run the returned Interceptor, and binds the interceptor's originals to the
// hooks' trampolines.
func NewHooks(t *hooks.Table, env util.Env, log *core.Logger) *Interceptor {
	i := NewInterceptor(&Originals{}, env, log)
	WinhttpHooks(t, i)
	WinregHooks(t, i)
	return i
}

// callReal runs the original function behind h and leaves its last-error
// value in place for the caller of the hook. The value survives the return
// through the callback only while that path makes no system call of its
// own; a goroutine switch on the way out can still reset it. Nothing may be
// logged after callReal for the same reason.
func callReal(h *hooks.Hook, args ...uintptr) uintptr {
	r, _, errno := syscall.SyscallN(h.Real(), args...)
	syscall.SyscallN(procSetLastError.Addr(), uintptr(errno))
	return r
}

func wstr(p uintptr) *uint16 {
	return (*uint16)(unsafe.Pointer(p))
}

func ptr(p unsafe.Pointer) uintptr {
	return uintptr(p)
}

func WinhttpHooks(t *hooks.Table, i *Interceptor) {
	open := t.AddHook(winhttpTarget("WinHttpOpen"), windows.NewCallback(
		func(agent, accessType, proxy, proxyBypass, flags uintptr) uintptr {
			return uintptr(i.WinHttpOpen(wstr(agent), uint32(accessType), wstr(proxy), wstr(proxyBypass), uint32(flags)))
		}))
	i.real.WinHttpOpen = func(agent *uint16, accessType uint32, proxy, proxyBypass *uint16, flags uint32) HINTERNET {
		return HINTERNET(callReal(open, ptr(unsafe.Pointer(agent)), uintptr(accessType), ptr(unsafe.Pointer(proxy)), ptr(unsafe.Pointer(proxyBypass)), uintptr(flags)))
	}

	connect := t.AddHook(winhttpTarget("WinHttpConnect"), windows.NewCallback(
		func(session, serverName, port, reserved uintptr) uintptr {
			return uintptr(i.WinHttpConnect(HINTERNET(session), wstr(serverName), uint16(port), uint32(reserved)))
		}))
	i.real.WinHttpConnect = func(session HINTERNET, serverName *uint16, port uint16, reserved uint32) HINTERNET {
		return HINTERNET(callReal(connect, uintptr(session), ptr(unsafe.Pointer(serverName)), uintptr(port), uintptr(reserved)))
	}

	setOption := t.AddHook(winhttpTarget("WinHttpSetOption"), windows.NewCallback(
		func(handle, option, buffer, bufferLength uintptr) uintptr {
			return uintptr(uint32(i.WinHttpSetOption(HINTERNET(handle), uint32(option), unsafe.Pointer(buffer), uint32(bufferLength))))
		}))
	i.real.WinHttpSetOption = func(handle HINTERNET, option uint32, buffer unsafe.Pointer, bufferLength uint32) BOOL {
		return BOOL(callReal(setOption, uintptr(handle), uintptr(option), ptr(buffer), uintptr(bufferLength)))
	}

	openRequest := t.AddHook(winhttpTarget("WinHttpOpenRequest"), windows.NewCallback(
		func(connect, verb, objectName, version, referrer, acceptTypes, flags uintptr) uintptr {
			return uintptr(i.WinHttpOpenRequest(HINTERNET(connect), wstr(verb), wstr(objectName), wstr(version), wstr(referrer),
				(**uint16)(unsafe.Pointer(acceptTypes)), uint32(flags)))
		}))
	i.real.WinHttpOpenRequest = func(connect HINTERNET, verb, objectName, version, referrer *uint16, acceptTypes **uint16, flags uint32) HINTERNET {
		return HINTERNET(callReal(openRequest, uintptr(connect), ptr(unsafe.Pointer(verb)), ptr(unsafe.Pointer(objectName)),
			ptr(unsafe.Pointer(version)), ptr(unsafe.Pointer(referrer)), ptr(unsafe.Pointer(acceptTypes)), uintptr(flags)))
	}

	sendRequest := t.AddHook(winhttpTarget("WinHttpSendRequest"), windows.NewCallback(
		func(request, headers, headersLength, optional, optionalLength, totalLength, context uintptr) uintptr {
			return uintptr(uint32(i.WinHttpSendRequest(HINTERNET(request), wstr(headers), uint32(headersLength),
				unsafe.Pointer(optional), uint32(optionalLength), uint32(totalLength), context)))
		}))
	i.real.WinHttpSendRequest = func(request HINTERNET, headers *uint16, headersLength uint32, optional unsafe.Pointer, optionalLength, totalLength uint32, context uintptr) BOOL {
		return BOOL(callReal(sendRequest, uintptr(request), ptr(unsafe.Pointer(headers)), uintptr(headersLength),
			ptr(optional), uintptr(optionalLength), uintptr(totalLength), context))
	}

	closeHandle := t.AddHook(winhttpTarget("WinHttpCloseHandle"), windows.NewCallback(
		func(handle uintptr) uintptr {
			return uintptr(uint32(i.WinHttpCloseHandle(HINTERNET(handle))))
		}))
	i.real.WinHttpCloseHandle = func(handle HINTERNET) BOOL {
		return BOOL(callReal(closeHandle, uintptr(handle)))
	}
}

func WinregHooks(t *hooks.Table, i *Interceptor) {
	openKey := t.AddHook(registryTarget("RegOpenKeyExW"), windows.NewCallback(
		func(key, subKey, options, samDesired, result uintptr) uintptr {
			return uintptr(i.RegOpenKeyExW(HKEY(key), wstr(subKey), uint32(options), uint32(samDesired), (*HKEY)(unsafe.Pointer(result))))
		}))
	i.real.RegOpenKeyExW = func(key HKEY, subKey *uint16, options, samDesired uint32, result *HKEY) uint32 {
		return uint32(callReal(openKey, uintptr(key), ptr(unsafe.Pointer(subKey)), uintptr(options), uintptr(samDesired), ptr(unsafe.Pointer(result))))
	}

	queryValue := t.AddHook(registryTarget("RegQueryValueExW"), windows.NewCallback(
		func(key, valueName, reserved, valueType, data, dataLen uintptr) uintptr {
			return uintptr(i.RegQueryValueExW(HKEY(key), wstr(valueName), (*uint32)(unsafe.Pointer(reserved)),
				(*uint32)(unsafe.Pointer(valueType)), (*byte)(unsafe.Pointer(data)), (*uint32)(unsafe.Pointer(dataLen))))
		}))
	i.real.RegQueryValueExW = func(key HKEY, valueName *uint16, reserved, valueType *uint32, data *byte, dataLen *uint32) uint32 {
		return uint32(callReal(queryValue, uintptr(key), ptr(unsafe.Pointer(valueName)), ptr(unsafe.Pointer(reserved)),
			ptr(unsafe.Pointer(valueType)), ptr(unsafe.Pointer(data)), ptr(unsafe.Pointer(dataLen))))
	}
}
