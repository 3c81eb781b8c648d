package winapi_test

import (
	"encoding/binary"
	"testing"

	"github.com/devolutions/jetify/util"
	"github.com/devolutions/jetify/winapi"
	"github.com/stretchr/testify/assert"
)

const (
	clientKey = winapi.HKEY(0x1A4)
	otherKey  = winapi.HKEY(0x1B0)
	realValue = 0x5A5A
)

type fakeRegistry struct {
	opens   int
	queries int
	status  uint32
}

func (r *fakeRegistry) originals() *winapi.Originals {
	return &winapi.Originals{
		RegOpenKeyExW: func(key winapi.HKEY, subKey *uint16, options, samDesired uint32, result *winapi.HKEY) uint32 {
			r.opens++
			if r.status == winapi.ERROR_SUCCESS && result != nil {
				if util.WideEqualFold(subKey, winapi.WSManClientKey) {
					*result = clientKey
				} else {
					*result = otherKey
				}
			}
			return r.status
		},
		RegQueryValueExW: func(key winapi.HKEY, valueName *uint16, reserved, valueType *uint32, data *byte, dataLen *uint32) uint32 {
			r.queries++
			if valueType != nil {
				*valueType = winapi.REG_DWORD
			}
			return realValue
		},
	}
}

func openClientKey(t *testing.T, i *winapi.Interceptor, root winapi.HKEY, subKey string) winapi.HKEY {
	var h winapi.HKEY
	i.RegOpenKeyExW(root, wide(t, subKey), 0, 0x20019, &h)
	return h
}

func TestRegOpenKeyRemembersClientKey(t *testing.T) {
	reg := &fakeRegistry{}
	i := winapi.NewInterceptor(reg.originals(), util.MapEnv{}, quietLogger())

	h := openClientKey(t, i, winapi.HKEY_LOCAL_MACHINE, `software\microsoft\windows\currentversion\wsman\client`)
	assert.Equal(t, clientKey, h)
	assert.Equal(t, clientKey, i.Registry().ClientKey())
	assert.Equal(t, 1, reg.opens)
}

func TestRegOpenKeySignExtendedRoot(t *testing.T) {
	if ^uintptr(0) == 0xFFFFFFFF {
		t.Skip("handles are 32-bit")
	}
	reg := &fakeRegistry{}
	i := winapi.NewInterceptor(reg.originals(), util.MapEnv{}, quietLogger())

	signExtended := uint64(0xFFFFFFFF80000002)
	openClientKey(t, i, winapi.HKEY(signExtended), winapi.WSManClientKey)
	assert.Equal(t, clientKey, i.Registry().ClientKey())
}

func TestRegOpenKeyIgnored(t *testing.T) {
	tests := []struct {
		name   string
		root   winapi.HKEY
		subKey string
		status uint32
	}{
		{"other root", winapi.HKEY(0x80000001), winapi.WSManClientKey, winapi.ERROR_SUCCESS},
		{"other subkey", winapi.HKEY_LOCAL_MACHINE, `SOFTWARE\Microsoft\Windows\CurrentVersion\WSMAN`, winapi.ERROR_SUCCESS},
		{"failed open", winapi.HKEY_LOCAL_MACHINE, winapi.WSManClientKey, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := &fakeRegistry{status: tt.status}
			i := winapi.NewInterceptor(reg.originals(), util.MapEnv{}, quietLogger())
			var h winapi.HKEY
			status := i.RegOpenKeyExW(tt.root, wide(t, tt.subKey), 0, 0x20019, &h)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, winapi.HKEY(0), i.Registry().ClientKey())
		})
	}
}

func TestRegOpenKeyLatestHandleWins(t *testing.T) {
	i := winapi.NewInterceptor(nil, util.MapEnv{}, quietLogger())
	i.Registry().Remember(0x100)
	i.Registry().Remember(0x200)
	assert.Equal(t, winapi.HKEY(0x200), i.Registry().ClientKey())
}

func TestQueryTrustedHosts(t *testing.T) {
	reg := &fakeRegistry{}
	i := winapi.NewInterceptor(reg.originals(), util.MapEnv{}, quietLogger())
	h := openClientKey(t, i, winapi.HKEY_LOCAL_MACHINE, winapi.WSManClientKey)

	var typ uint32
	data := make([]byte, 4)
	size := uint32(len(data))
	status := i.RegQueryValueExW(h, wide(t, "TrustedHosts"), nil, &typ, &data[0], &size)
	assert.Equal(t, uint32(winapi.ERROR_SUCCESS), status)
	assert.Equal(t, uint32(winapi.REG_DWORD), typ)
	assert.Equal(t, uint32(1), binary.LittleEndian.Uint32(data))
	assert.Equal(t, uint32(4), size)
	assert.Zero(t, reg.queries)

	// lower case names match too
	data = make([]byte, 8)
	size = 8
	status = i.RegQueryValueExW(h, wide(t, "trustedhosts"), nil, nil, &data[0], &size)
	assert.Equal(t, uint32(winapi.ERROR_SUCCESS), status)
	assert.Equal(t, uint32(4), size)
	assert.Zero(t, reg.queries)
}

func TestQueryTrustedHostsWithoutBufferForwards(t *testing.T) {
	reg := &fakeRegistry{}
	i := winapi.NewInterceptor(reg.originals(), util.MapEnv{}, quietLogger())
	h := openClientKey(t, i, winapi.HKEY_LOCAL_MACHINE, winapi.WSManClientKey)

	size := uint32(0)
	status := i.RegQueryValueExW(h, wide(t, "TrustedHosts"), nil, nil, nil, &size)
	assert.Equal(t, uint32(realValue), status)

	data := make([]byte, 2)
	size = 2
	status = i.RegQueryValueExW(h, wide(t, "TrustedHosts"), nil, nil, &data[0], &size)
	assert.Equal(t, uint32(realValue), status)
	assert.Equal(t, 2, reg.queries)
}

func TestQueryTrustedHostsListProbeThenFetch(t *testing.T) {
	reg := &fakeRegistry{}
	i := winapi.NewInterceptor(reg.originals(), util.MapEnv{}, quietLogger())
	h := openClientKey(t, i, winapi.HKEY_LOCAL_MACHINE, winapi.WSManClientKey)

	var typ, size uint32
	status := i.RegQueryValueExW(h, wide(t, "TrustedHostsList"), nil, &typ, nil, &size)
	assert.Equal(t, uint32(winapi.ERROR_MORE_DATA), status)
	assert.Equal(t, uint32(4), size)
	assert.Equal(t, uint32(winapi.REG_SZ), typ)

	data := make([]byte, size)
	status = i.RegQueryValueExW(h, wide(t, "TrustedHostsList"), nil, &typ, &data[0], &size)
	assert.Equal(t, uint32(winapi.ERROR_SUCCESS), status)
	assert.Equal(t, uint32(4), size)
	assert.Equal(t, uint32(winapi.REG_SZ), typ)
	assert.Equal(t, []byte{'*', 0, 0, 0}, data)

	// no size pointer at all
	status = i.RegQueryValueExW(h, wide(t, "TrustedHostsList"), nil, nil, nil, nil)
	assert.Equal(t, uint32(winapi.ERROR_MORE_DATA), status)

	// too small a buffer goes to the registry
	small := make([]byte, 2)
	size = 2
	status = i.RegQueryValueExW(h, wide(t, "TrustedHostsList"), nil, nil, &small[0], &size)
	assert.Equal(t, uint32(realValue), status)
	assert.Equal(t, 1, reg.queries)
}

func TestQueryForwarded(t *testing.T) {
	reg := &fakeRegistry{}
	i := winapi.NewInterceptor(reg.originals(), util.MapEnv{}, quietLogger())
	h := openClientKey(t, i, winapi.HKEY_LOCAL_MACHINE, winapi.WSManClientKey)

	data := make([]byte, 4)
	size := uint32(4)
	assert.Equal(t, uint32(realValue), i.RegQueryValueExW(h, wide(t, "AllowUnencrypted"), nil, nil, &data[0], &size))
	assert.Equal(t, uint32(realValue), i.RegQueryValueExW(h, nil, nil, nil, &data[0], &size))
	assert.Equal(t, uint32(realValue), i.RegQueryValueExW(otherKey, wide(t, "TrustedHosts"), nil, nil, &data[0], &size))
	assert.Equal(t, 3, reg.queries)
	assert.Equal(t, []byte{0, 0, 0, 0}, data)
}

func TestQueryBeforeAnyOpenForwards(t *testing.T) {
	reg := &fakeRegistry{}
	i := winapi.NewInterceptor(reg.originals(), util.MapEnv{}, quietLogger())

	size := uint32(0)
	assert.Equal(t, uint32(realValue), i.RegQueryValueExW(0, wide(t, "TrustedHostsList"), nil, nil, nil, &size))
	assert.Equal(t, 1, reg.queries)
}

func TestDecide(t *testing.T) {
	s := &winapi.RegistryState{}
	s.Remember(clientKey)
	name := func(v string) *uint16 { return wide(t, v) }

	assert.Equal(t, winapi.QueryValue, s.Decide(clientKey, name("TrustedHosts"), true, 4).Kind)
	assert.Equal(t, winapi.QueryForward, s.Decide(clientKey, name("TrustedHosts"), true, 3).Kind)
	assert.Equal(t, winapi.QueryForward, s.Decide(clientKey, name("TrustedHosts"), false, 4).Kind)

	res := s.Decide(clientKey, name("TRUSTEDHOSTSLIST"), false, 0)
	assert.Equal(t, winapi.QueryNeedsSize, res.Kind)
	assert.Equal(t, uint32(4), res.Size)
	assert.Nil(t, res.Data)

	assert.Equal(t, winapi.QueryForward, s.Decide(otherKey, name("TrustedHosts"), true, 4).Kind)
	assert.Equal(t, winapi.QueryForward, s.Decide(0, name("TrustedHosts"), true, 4).Kind)
}
