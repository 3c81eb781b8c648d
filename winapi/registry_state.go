package winapi

import (
	"sync/atomic"

	"github.com/devolutions/jetify/util"
)

type QueryKind int

const (
	// QueryForward sends the query to the real registry.
	QueryForward QueryKind = iota
	// QueryNeedsSize answers a size probe with ERROR_MORE_DATA.
	QueryNeedsSize
	// QueryValue answers with Data.
	QueryValue
)

// QueryResult is the outcome of a value query against the WSMAN client key.
type QueryResult struct {
	Kind QueryKind
	Type uint32
	Size uint32
	Data []byte
}

var (
	trustedHostsData     = []byte{0x01, 0x00, 0x00, 0x00}
	trustedHostsListData = []byte{'*', 0x00, 0x00, 0x00}
)

// RegistryState remembers the handle of the most recent successful open of
// the WSMAN client key. The word is written by RegOpenKeyExW and read by
// RegQueryValueExW without a lock: if the host closes that handle and the
// value is reused for another key before the next open, queries on the new
// key are answered as well.
type RegistryState struct {
	clientKey atomic.Uintptr
}

func (s *RegistryState) Remember(key HKEY) {
	s.clientKey.Store(uintptr(key))
}

func (s *RegistryState) ClientKey() HKEY {
	return HKEY(s.clientKey.Load())
}

// Decide picks the answer for a query of valueName on key. hasBuffer tells
// whether the caller passed both a data buffer and a size, and size is the
// buffer capacity in bytes.
func (s *RegistryState) Decide(key HKEY, valueName *uint16, hasBuffer bool, size uint32) QueryResult {
	if key == 0 || key != s.ClientKey() || valueName == nil {
		return QueryResult{Kind: QueryForward}
	}
	switch {
	case util.WideEqualFold(valueName, TrustedHosts):
		if hasBuffer && size >= uint32(len(trustedHostsData)) {
			return QueryResult{Kind: QueryValue, Type: REG_DWORD, Size: uint32(len(trustedHostsData)), Data: trustedHostsData}
		}
	case util.WideEqualFold(valueName, TrustedHostsList):
		if !hasBuffer {
			return QueryResult{Kind: QueryNeedsSize, Type: REG_SZ, Size: uint32(len(trustedHostsListData))}
		}
		if size >= uint32(len(trustedHostsListData)) {
			return QueryResult{Kind: QueryValue, Type: REG_SZ, Size: uint32(len(trustedHostsListData)), Data: trustedHostsListData}
		}
	}
	return QueryResult{Kind: QueryForward}
}
