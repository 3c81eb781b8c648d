package hooks

import "encoding/binary"

// CONTEXT layout for x64.
const (
	contextControl     = 0x00100001
	contextSize        = 1232
	contextFlagsOffset = 0x30
	contextIPOffset    = 0xF8
)

func setContextFlags(ctx []byte, flags uint32) {
	binary.LittleEndian.PutUint32(ctx[contextFlagsOffset:], flags)
}

func readIP(ctx []byte) uintptr {
	return uintptr(binary.LittleEndian.Uint64(ctx[contextIPOffset:]))
}

func writeIP(ctx []byte, ip uintptr) {
	binary.LittleEndian.PutUint64(ctx[contextIPOffset:], uint64(ip))
}
