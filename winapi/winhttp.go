package winapi

import (
	"runtime"
	"unsafe"

	"github.com/devolutions/jetify/core"
	"github.com/devolutions/jetify/util"
)

// maxOptionDump bounds the option buffer bytes written at TRACE level.
const maxOptionDump = 256

// WinHttpOpen sends sessions opened by the WinRM client through the proxy
// named in WINRM_PROXY, with WINRM_PROXY_BYPASS as the bypass list. Other
// sessions, or a missing WINRM_PROXY, are forwarded unchanged.
func (i *Interceptor) WinHttpOpen(agent *uint16, accessType uint32, proxy, proxyBypass *uint16, flags uint32) HINTERNET {
	var proxyW, bypassW []uint16

	if util.WideEqual(agent, WinRMClientAgent) {
		proxyEnv, hasProxy := i.env.LookupEnv(util.EnvProxy)
		bypassEnv, hasBypass := i.env.LookupEnv(util.EnvProxyBypass)

		if hasProxy {
			if w, err := util.ToWide(proxyEnv); err != nil {
				i.log.Warnf("WinHttpOpen: ignoring %s: %v", util.EnvProxy, err)
			} else {
				proxyW = w
				accessType = WINHTTP_ACCESS_TYPE_NAMED_PROXY
				proxy = util.WidePtr(proxyW)

				if hasBypass {
					if w, err := util.ToWide(bypassEnv); err != nil {
						i.log.Warnf("WinHttpOpen: ignoring %s: %v", util.EnvProxyBypass, err)
					} else {
						bypassW = w
						proxyBypass = util.WidePtr(bypassW)
					}
				}
			}
		}
	}

	if i.log.IsActive(core.LevelDebug) {
		i.log.Debugf("WinHttpOpen(dwAccessType: %d (%s), dwFlags: 0x%08X)", accessType, accessTypeNames[accessType], flags)
		i.log.Debugf("pszAgent: \"%s\"", displayWide(agent))
		i.log.Debugf("pszProxy: \"%s\" pszProxyBypass: \"%s\"", displayWide(proxy), displayWide(proxyBypass))
	}

	h := i.real.WinHttpOpen(agent, accessType, proxy, proxyBypass, flags)

	runtime.KeepAlive(proxyW)
	runtime.KeepAlive(bypassW)
	return h
}

func (i *Interceptor) WinHttpConnect(session HINTERNET, serverName *uint16, port uint16, reserved uint32) HINTERNET {
	if i.log.IsActive(core.LevelDebug) {
		i.log.Debugf("WinHttpConnect(hSession: 0x%x, pszServerName: %s nServerPort: %d)", session, displayWide(serverName), port)
	}
	return i.real.WinHttpConnect(session, serverName, port, reserved)
}

func (i *Interceptor) WinHttpSetOption(handle HINTERNET, option uint32, buffer unsafe.Pointer, bufferLength uint32) BOOL {
	i.log.Debugf("WinHttpSetOption(hInternet: 0x%x, dwOption: %d, dwBufferLength: %d)", handle, option, bufferLength)
	if buffer != nil && bufferLength > 0 && i.log.IsActive(core.LevelTrace) {
		// string options give their length in characters, so this never
		// reads past the buffer
		i.log.HexDump(core.LevelTrace, unsafe.Slice((*byte)(buffer), min(bufferLength, maxOptionDump)))
	}
	return i.real.WinHttpSetOption(handle, option, buffer, bufferLength)
}

func (i *Interceptor) WinHttpOpenRequest(connect HINTERNET, verb, objectName, version, referrer *uint16, acceptTypes **uint16, flags uint32) HINTERNET {
	if i.log.IsActive(core.LevelDebug) {
		i.log.Debugf("WinHttpOpenRequest(hConnect: 0x%x, pwszVerb: %s, pwszObjectName: %s, dwFlags: 0x%08X)",
			connect, displayWide(verb), displayWide(objectName), flags)
	}
	return i.real.WinHttpOpenRequest(connect, verb, objectName, version, referrer, acceptTypes, flags)
}

func (i *Interceptor) WinHttpSendRequest(request HINTERNET, headers *uint16, headersLength uint32, optional unsafe.Pointer, optionalLength, totalLength uint32, context uintptr) BOOL {
	i.log.Debugf("WinHttpSendRequest(hRequest: 0x%x, dwOptionalLength: %d, dwTotalLength: %d)", request, optionalLength, totalLength)
	return i.real.WinHttpSendRequest(request, headers, headersLength, optional, optionalLength, totalLength, context)
}

func (i *Interceptor) WinHttpCloseHandle(handle HINTERNET) BOOL {
	i.log.Debugf("WinHttpCloseHandle(hInternet: 0x%x)", handle)
	return i.real.WinHttpCloseHandle(handle)
}

// displayWide decodes a wide string for a log line; nil shows as empty.
func displayWide(p *uint16) string {
	if p == nil {
		return ""
	}
	s, err := util.FromWide(util.UTF16FromPtr(p))
	if err != nil {
		return util.WideString(p)
	}
	return s
}
