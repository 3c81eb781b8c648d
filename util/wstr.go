package util

import (
	"strings"
	"unicode/utf16"
	"unsafe"
)

// UTF16FromPtr returns the code units of the NUL-terminated wide string at p,
// without the terminator. The slice aliases the caller's memory.
func UTF16FromPtr(p *uint16) []uint16 {
	if p == nil {
		return nil
	}
	n := 0
	for ptr := unsafe.Pointer(p); *(*uint16)(ptr) != 0; ptr = unsafe.Add(ptr, 2) {
		n++
	}
	return unsafe.Slice(p, n)
}

// WideString decodes the wide string at p for display. Invalid sequences
// come out as U+FFFD; nil gives "(null)".
func WideString(p *uint16) string {
	if p == nil {
		return "(null)"
	}
	return string(utf16.Decode(UTF16FromPtr(p)))
}

// WideEqual compares the wide string at p with s, code unit by code unit.
func WideEqual(p *uint16, s string) bool {
	if p == nil {
		return false
	}
	ws := UTF16FromPtr(p)
	want := utf16.Encode([]rune(s))
	if len(ws) != len(want) {
		return false
	}
	for i := range ws {
		if ws[i] != want[i] {
			return false
		}
	}
	return true
}

// WideEqualFold is WideEqual ignoring case.
func WideEqualFold(p *uint16, s string) bool {
	if p == nil {
		return false
	}
	return strings.EqualFold(string(utf16.Decode(UTF16FromPtr(p))), s)
}

// WidePtr returns a pointer to the first code unit of ws, or nil when ws is
// empty.
func WidePtr(ws []uint16) *uint16 {
	if len(ws) == 0 {
		return nil
	}
	return &ws[0]
}
