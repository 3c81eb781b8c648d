package hooks

import "encoding/binary"

// CONTEXT layout for x86.
const (
	contextControl     = 0x00010001
	contextSize        = 716
	contextFlagsOffset = 0x00
	contextIPOffset    = 0xB8
)

func setContextFlags(ctx []byte, flags uint32) {
	binary.LittleEndian.PutUint32(ctx[contextFlagsOffset:], flags)
}

func readIP(ctx []byte) uintptr {
	return uintptr(binary.LittleEndian.Uint32(ctx[contextIPOffset:]))
}

func writeIP(ctx []byte, ip uintptr) {
	binary.LittleEndian.PutUint32(ctx[contextIPOffset:], uint32(ip))
}
