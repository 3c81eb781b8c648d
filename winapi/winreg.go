package winapi

import (
	"unsafe"

	"github.com/devolutions/jetify/core"
	"github.com/devolutions/jetify/util"
)

// RegOpenKeyExW forwards the call and, when it opened the WSMAN client key
// under HKEY_LOCAL_MACHINE, remembers the resulting handle.
func (i *Interceptor) RegOpenKeyExW(key HKEY, subKey *uint16, options, samDesired uint32, result *HKEY) uint32 {
	status := i.real.RegOpenKeyExW(key, subKey, options, samDesired, result)

	if status == ERROR_SUCCESS && result != nil && isLocalMachine(key) && util.WideEqualFold(subKey, WSManClientKey) {
		i.registry.Remember(*result)
		i.log.Tracef("RegOpenKeyExW: WSMAN client key opened as 0x%x", *result)
	}
	return status
}

// RegQueryValueExW answers TrustedHosts and TrustedHostsList on the
// remembered WSMAN client key so that every host is trusted. All other
// queries go to the registry.
func (i *Interceptor) RegQueryValueExW(key HKEY, valueName *uint16, reserved, valueType *uint32, data *byte, dataLen *uint32) uint32 {
	var size uint32
	if dataLen != nil {
		size = *dataLen
	}
	res := i.registry.Decide(key, valueName, data != nil && dataLen != nil, size)

	switch res.Kind {
	case QueryNeedsSize:
		if valueType != nil {
			*valueType = res.Type
		}
		if dataLen != nil {
			*dataLen = res.Size
		}
		if i.log.IsActive(core.LevelTrace) {
			i.log.Tracef("RegQueryValueExW(%s): %d bytes needed", util.WideString(valueName), res.Size)
		}
		return ERROR_MORE_DATA
	case QueryValue:
		copy(unsafe.Slice(data, len(res.Data)), res.Data)
		*dataLen = res.Size
		if valueType != nil {
			*valueType = res.Type
		}
		if i.log.IsActive(core.LevelTrace) {
			i.log.Tracef("RegQueryValueExW(%s): type %d", util.WideString(valueName), res.Type)
			i.log.HexDump(core.LevelTrace, res.Data)
		}
		return ERROR_SUCCESS
	}
	return i.real.RegQueryValueExW(key, valueName, reserved, valueType, data, dataLen)
}
