package hooks

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"
	"golang.org/x/arch/x86/x86asm"
)

const (
	// NearJumpSize is the length of jmp rel32.
	NearJumpSize = 5
	// FarJumpSize is the length of jmp [rip+0] followed by the 64-bit target.
	FarJumpSize = 14
	// MaxThunkDepth bounds how many import thunks FollowJumps walks through.
	MaxThunkDepth = 4
)

var conditionCodes = map[x86asm.Op]byte{
	x86asm.JO: 0x0, x86asm.JNO: 0x1, x86asm.JB: 0x2, x86asm.JAE: 0x3,
	x86asm.JE: 0x4, x86asm.JNE: 0x5, x86asm.JBE: 0x6, x86asm.JA: 0x7,
	x86asm.JS: 0x8, x86asm.JNS: 0x9, x86asm.JP: 0xA, x86asm.JNP: 0xB,
	x86asm.JL: 0xC, x86asm.JGE: 0xD, x86asm.JLE: 0xE, x86asm.JG: 0xF,
}

// Boundary pairs the offset of an instruction in the original function with
// the offset of its relocated copy in the trampoline.
type Boundary struct {
	Original   int
	Trampoline int
}

// Trampoline is the relocated copy of the instructions a patch overwrites,
// followed by a jump back to the rest of the function.
type Trampoline struct {
	Address    uintptr
	Code       []byte
	Stolen     int
	Boundaries []Boundary

	jumpBack int
}

// BuildTrampoline copies whole instructions from code, the bytes found at
// from, until at least size bytes are covered, and relocates them to run at
// at. Relative branches and rip-relative operands are rewritten, and short
// branches are widened when their target moves out of reach.
//
// It fails with ErrInvalidBlock when the function returns or jumps away
// before size bytes, when an instruction cannot be relocated, or when a
// branch lands inside the overwritten bytes.
func BuildTrampoline(mode int, code []byte, from, at uintptr, size int) (*Trampoline, error) {
	if mode != 32 && mode != 64 {
		return nil, errors.Wrapf(ErrInvalidParameter, "mode %d", mode)
	}
	t := &Trampoline{Address: at}
	var targets []uintptr
	off := 0
	for off < size {
		if off >= len(code) {
			return nil, errors.Wrapf(ErrInvalidBlock, "need %d bytes of code, have %d", size, len(code))
		}
		inst, err := x86asm.Decode(code[off:], mode)
		if err != nil {
			return nil, errors.Wrapf(ErrInvalidBlock, "decode at +%d: %v", off, err)
		}
		raw := code[off : off+inst.Len]
		t.Boundaries = append(t.Boundaries, Boundary{Original: off, Trampoline: len(t.Code)})

		out, target, err := relocate(mode, inst, raw, from+uintptr(off), at+uintptr(len(t.Code)))
		if err != nil {
			return nil, errors.Wrapf(err, "relocate '%s' at +%d", inst, off)
		}
		if target != 0 {
			targets = append(targets, target)
		}
		t.Code = append(t.Code, out...)
		off += inst.Len

		if off < size && endsFunction(inst, raw) {
			return nil, errors.Wrapf(ErrInvalidBlock, "function ends after %d bytes, %d needed", off, size)
		}
	}
	t.Stolen = off

	for _, target := range targets {
		if target > from && target < from+uintptr(off) {
			return nil, errors.Wrapf(ErrInvalidBlock, "branch into patched bytes at 0x%x", target)
		}
	}

	t.jumpBack = len(t.Code)
	t.Code = append(t.Code, EncodeJump(mode, at+uintptr(len(t.Code)), from+uintptr(off))...)
	return t, nil
}

// TrampolineOffset maps an instruction start in the original function to
// the matching position in the trampoline.
func (t *Trampoline) TrampolineOffset(original int) (int, bool) {
	for _, b := range t.Boundaries {
		if b.Original == original {
			return b.Trampoline, true
		}
	}
	return 0, false
}

// OriginalOffset maps a position in the trampoline back to the original
// function. The jump back maps to the first byte after the patch.
func (t *Trampoline) OriginalOffset(trampoline int) (int, bool) {
	if trampoline >= t.jumpBack && trampoline < len(t.Code) {
		return t.Stolen, true
	}
	for _, b := range t.Boundaries {
		if b.Trampoline == trampoline {
			return b.Original, true
		}
	}
	return 0, false
}

// EncodeJump returns a jump placed at from that lands on to: jmp rel32 when
// the distance allows, jmp [rip+0] with an absolute target otherwise.
func EncodeJump(mode int, from, to uintptr) []byte {
	if d, ok := rel32(mode, from+NearJumpSize, to); ok {
		return append([]byte{0xE9}, le32(d)...)
	}
	return farJump(to)
}

// PatchCode returns the bytes written over the start of a hooked function:
// a jump to to, padded with int3 up to stolen bytes.
func PatchCode(mode int, from, to uintptr, stolen int) []byte {
	patch := EncodeJump(mode, from, to)
	for len(patch) < stolen {
		patch = append(patch, 0xCC)
	}
	return patch
}

// PatchSize returns how many bytes a patch at from needs to reach to.
func PatchSize(mode int, from, to uintptr) int {
	return len(EncodeJump(mode, from, to))
}

// ReadFunc reads up to n bytes at addr.
type ReadFunc func(addr uintptr, n int) ([]byte, error)

// FollowJumps skips over import thunks: while the code at addr starts with
// jmp rel32 or an indirect jmp through a pointer slot, it moves to the jump
// target, at most MaxThunkDepth times.
func FollowJumps(mode int, read ReadFunc, addr uintptr) (uintptr, error) {
	for depth := 0; depth < MaxThunkDepth; depth++ {
		code, err := read(addr, 16)
		if err != nil {
			return addr, err
		}
		inst, err := x86asm.Decode(code, mode)
		if err != nil || inst.Op != x86asm.JMP {
			return addr, nil
		}
		next := addr + uintptr(inst.Len)
		switch a := inst.Args[0].(type) {
		case x86asm.Rel:
			addr = next + uintptr(int64(a))
		case x86asm.Mem:
			var slot uintptr
			switch {
			case mode == 64 && a.Base == x86asm.RIP && a.Index == 0:
				slot = next + uintptr(int64(int32(a.Disp)))
			case mode == 32 && a.Base == 0 && a.Index == 0:
				slot = uintptr(uint32(a.Disp))
			default:
				return addr, nil
			}
			ptr, err := read(slot, mode/8)
			if err != nil {
				return addr, err
			}
			if len(ptr) < mode/8 {
				return addr, nil
			}
			if mode == 64 {
				addr = uintptr(binary.LittleEndian.Uint64(ptr))
			} else {
				addr = uintptr(binary.LittleEndian.Uint32(ptr))
			}
		default:
			return addr, nil
		}
	}
	return addr, nil
}

func relocate(mode int, inst x86asm.Inst, raw []byte, src, pc uintptr) ([]byte, uintptr, error) {
	next := src + uintptr(inst.Len)
	for _, arg := range inst.Args {
		switch a := arg.(type) {
		case x86asm.Rel:
			target := next + uintptr(int64(a))
			out, err := relocateBranch(mode, inst, target, pc)
			return out, target, err
		case x86asm.Mem:
			if a.Base != x86asm.RIP {
				continue
			}
			out, err := relocateRIP(mode, inst, raw, next+uintptr(int64(int32(a.Disp))), pc)
			return out, 0, err
		}
	}
	return append([]byte(nil), raw...), 0, nil
}

func relocateBranch(mode int, inst x86asm.Inst, target, pc uintptr) ([]byte, error) {
	switch inst.Op {
	case x86asm.JMP:
		return EncodeJump(mode, pc, target), nil
	case x86asm.CALL:
		if d, ok := rel32(mode, pc+5, target); ok {
			return append([]byte{0xE8}, le32(d)...), nil
		}
		// call [rip+2]; jmp +8; target
		out := []byte{0xFF, 0x15, 0x02, 0x00, 0x00, 0x00, 0xEB, 0x08}
		return append(out, le64(uint64(target))...), nil
	}
	if cc, ok := conditionCodes[inst.Op]; ok {
		if d, ok := rel32(mode, pc+6, target); ok {
			return append([]byte{0x0F, 0x80 | cc}, le32(d)...), nil
		}
		// inverted condition skips the absolute jump
		out := []byte{0x70 | (cc ^ 1), FarJumpSize}
		return append(out, farJump(target)...), nil
	}
	return nil, errors.Wrapf(ErrInvalidBlock, "cannot relocate %s", inst.Op)
}

func relocateRIP(mode int, inst x86asm.Inst, raw []byte, target, pc uintptr) ([]byte, error) {
	pos, err := fieldOffset(mode, inst, raw, 4, ripDisp)
	if err != nil {
		return nil, err
	}
	d, ok := rel32(mode, pc+uintptr(len(raw)), target)
	if !ok {
		return nil, errors.Wrapf(ErrInvalidBlock, "rip-relative target 0x%x out of reach", target)
	}
	out := append([]byte(nil), raw...)
	binary.LittleEndian.PutUint32(out[pos:], uint32(d))
	return out, nil
}

func ripDisp(inst x86asm.Inst) (int64, bool) {
	for _, arg := range inst.Args {
		if m, ok := arg.(x86asm.Mem); ok && m.Base == x86asm.RIP {
			return m.Disp, true
		}
	}
	return 0, false
}

// fieldOffset finds where the value reported by get is encoded in raw by
// changing each candidate position and decoding again.
func fieldOffset(mode int, inst x86asm.Inst, raw []byte, width int, get func(x86asm.Inst) (int64, bool)) (int, error) {
	want, ok := get(inst)
	if !ok {
		return 0, errors.Wrap(ErrInvalidBlock, "no operand to relocate")
	}
	mask := uint64(1)<<(8*uint(width)) - 1
	probe := make([]byte, len(raw))
	for pos := len(raw) - width; pos > 0; pos-- {
		if readField(raw[pos:], width) != uint64(want)&mask {
			continue
		}
		copy(probe, raw)
		changed := (uint64(want) ^ 0x11) & mask
		writeField(probe[pos:], width, changed)
		i, err := x86asm.Decode(probe, mode)
		if err != nil || i.Len != len(raw) {
			continue
		}
		if got, ok := get(i); ok && uint64(got)&mask == changed {
			return pos, nil
		}
	}
	return 0, errors.Wrapf(ErrInvalidBlock, "cannot locate %d-byte operand", width)
}

func readField(b []byte, width int) uint64 {
	var v uint64
	for i := width - 1; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

func writeField(b []byte, width int, v uint64) {
	for i := 0; i < width; i++ {
		b[i] = byte(v >> (8 * uint(i)))
	}
}

func endsFunction(inst x86asm.Inst, raw []byte) bool {
	switch inst.Op {
	case x86asm.RET, x86asm.LRET, x86asm.JMP, x86asm.LJMP, x86asm.UD2, x86asm.IRET, x86asm.IRETD, x86asm.IRETQ:
		return true
	}
	return raw[len(raw)-1] == 0xCC && inst.Len == 1
}

// rel32 returns the displacement from the end of an instruction to target,
// and whether it fits in 32 bits. In 32-bit mode every address is in reach.
func rel32(mode int, next, target uintptr) (int32, bool) {
	if mode == 32 {
		return int32(uint32(target) - uint32(next)), true
	}
	d := int64(target) - int64(next)
	if d < math.MinInt32 || d > math.MaxInt32 {
		return 0, false
	}
	return int32(d), true
}

func farJump(to uintptr) []byte {
	out := []byte{0xFF, 0x25, 0x00, 0x00, 0x00, 0x00}
	return append(out, le64(uint64(to))...)
}

func le32(v int32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, uint32(v))
	return b
}

func le64(v uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, v)
	return b
}
