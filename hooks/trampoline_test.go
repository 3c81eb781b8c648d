package hooks_test

import (
	"encoding/binary"
	"testing"

	"github.com/devolutions/jetify/hooks"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/arch/x86/x86asm"
)

const (
	funcAddr = uintptr(0x7FF812340000)
	nearAddr = funcAddr + 0x10000
	farAddr  = funcAddr + 0x200000000
)

// decodeAt decodes the instruction at off in code.
func decodeAt(t *testing.T, code []byte, off int) x86asm.Inst {
	inst, err := x86asm.Decode(code[off:], 64)
	require.NoError(t, err)
	return inst
}

func relTarget(t *testing.T, code []byte, base uintptr, off int) uintptr {
	inst := decodeAt(t, code, off)
	rel, ok := inst.Args[0].(x86asm.Rel)
	require.True(t, ok, "%s has no relative operand", inst)
	return base + uintptr(off+inst.Len) + uintptr(int64(rel))
}

func TestTrampolineCopiesWholeInstructions(t *testing.T) {
	// mov [rsp+8], rbx; mov [rsp+10h], rsi; push rdi; sub rsp, 20h
	prologue := []byte{
		0x48, 0x89, 0x5C, 0x24, 0x08,
		0x48, 0x89, 0x74, 0x24, 0x10,
		0x57,
		0x48, 0x83, 0xEC, 0x20,
		0x33, 0xC0,
	}

	tr, err := hooks.BuildTrampoline(64, prologue, funcAddr, nearAddr, hooks.NearJumpSize)
	require.NoError(t, err)
	assert.Equal(t, 5, tr.Stolen)
	assert.Equal(t, prologue[:5], tr.Code[:5])
	assert.Equal(t, funcAddr+5, relTarget(t, tr.Code, nearAddr, 5))

	tr, err = hooks.BuildTrampoline(64, prologue, funcAddr, nearAddr, hooks.FarJumpSize)
	require.NoError(t, err)
	assert.Equal(t, 15, tr.Stolen)
	assert.Equal(t, prologue[:15], tr.Code[:15])
	assert.Equal(t, []hooks.Boundary{{0, 0}, {5, 5}, {10, 10}, {11, 11}}, tr.Boundaries)
	assert.Equal(t, funcAddr+15, relTarget(t, tr.Code, nearAddr, 15))
}

func TestTrampolineJumpBackFarAway(t *testing.T) {
	prologue := []byte{0x48, 0x89, 0x5C, 0x24, 0x08, 0x57}

	tr, err := hooks.BuildTrampoline(64, prologue, funcAddr, farAddr, hooks.NearJumpSize)
	require.NoError(t, err)
	back := tr.Code[5:]
	require.Len(t, back, hooks.FarJumpSize)
	assert.Equal(t, []byte{0xFF, 0x25, 0, 0, 0, 0}, back[:6])
	assert.Equal(t, uint64(funcAddr+5), binary.LittleEndian.Uint64(back[6:]))
}

func TestTrampolineRelocatesRipRelative(t *testing.T) {
	// mov rax, [rip+10h]; ret
	prologue := []byte{0x48, 0x8B, 0x05, 0x10, 0x00, 0x00, 0x00, 0xC3}
	want := funcAddr + 7 + 0x10

	tr, err := hooks.BuildTrampoline(64, prologue, funcAddr, nearAddr, hooks.NearJumpSize)
	require.NoError(t, err)
	inst := decodeAt(t, tr.Code, 0)
	assert.Equal(t, 7, inst.Len)
	mem, ok := inst.Args[1].(x86asm.Mem)
	require.True(t, ok)
	assert.Equal(t, x86asm.RIP, mem.Base)
	assert.Equal(t, want, nearAddr+7+uintptr(int64(int32(mem.Disp))))

	// the same operand reached from below the function
	below := funcAddr - 0x20000
	tr, err = hooks.BuildTrampoline(64, prologue, funcAddr, below, hooks.NearJumpSize)
	require.NoError(t, err)
	mem = decodeAt(t, tr.Code, 0).Args[1].(x86asm.Mem)
	assert.Equal(t, want, below+7+uintptr(int64(int32(mem.Disp))))

	_, err = hooks.BuildTrampoline(64, prologue, funcAddr, farAddr, hooks.NearJumpSize)
	assert.True(t, errors.Is(err, hooks.ErrInvalidBlock))
}

func TestTrampolineWidensConditionalBranch(t *testing.T) {
	// test eax, eax; je +10h; mov rax, rcx
	prologue := []byte{0x85, 0xC0, 0x74, 0x10, 0x48, 0x89, 0xC8, 0xC3}
	target := funcAddr + 4 + 0x10

	tr, err := hooks.BuildTrampoline(64, prologue, funcAddr, nearAddr, hooks.NearJumpSize)
	require.NoError(t, err)
	assert.Equal(t, 7, tr.Stolen)
	je := decodeAt(t, tr.Code, 2)
	assert.Equal(t, x86asm.JE, je.Op)
	assert.Equal(t, 6, je.Len)
	assert.Equal(t, target, relTarget(t, tr.Code, nearAddr, 2))
	off, ok := tr.TrampolineOffset(4)
	require.True(t, ok)
	assert.Equal(t, 8, off)
	assert.Equal(t, prologue[4:7], tr.Code[8:11])

	tr, err = hooks.BuildTrampoline(64, prologue, funcAddr, farAddr, hooks.NearJumpSize)
	require.NoError(t, err)
	// jne over an absolute jump to the original target
	assert.Equal(t, []byte{0x75, 0x0E, 0xFF, 0x25, 0, 0, 0, 0}, tr.Code[2:10])
	assert.Equal(t, uint64(target), binary.LittleEndian.Uint64(tr.Code[10:18]))
}

func TestTrampolineRelocatesCall(t *testing.T) {
	// call +100h; nop
	prologue := []byte{0xE8, 0x00, 0x01, 0x00, 0x00, 0x90}
	target := funcAddr + 5 + 0x100

	tr, err := hooks.BuildTrampoline(64, prologue, funcAddr, nearAddr, hooks.NearJumpSize)
	require.NoError(t, err)
	assert.Equal(t, x86asm.CALL, decodeAt(t, tr.Code, 0).Op)
	assert.Equal(t, target, relTarget(t, tr.Code, nearAddr, 0))

	tr, err = hooks.BuildTrampoline(64, prologue, funcAddr, farAddr, hooks.NearJumpSize)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xFF, 0x15, 0x02, 0, 0, 0, 0xEB, 0x08}, tr.Code[:8])
	assert.Equal(t, uint64(target), binary.LittleEndian.Uint64(tr.Code[8:16]))
}

func TestTrampolineRejects(t *testing.T) {
	tests := []struct {
		name string
		code []byte
	}{
		{"return", []byte{0x33, 0xC0, 0xC3, 0xCC, 0xCC, 0xCC, 0xCC}},
		{"padding", []byte{0xCC, 0xCC, 0xCC, 0xCC, 0xCC, 0xCC}},
		{"short", []byte{0x48, 0x89, 0xC8}},
		{"loop", []byte{0xE2, 0x10, 0x48, 0x89, 0xC8, 0x90}},
		{"branch into patch", []byte{0x74, 0x01, 0x90, 0x90, 0x48, 0x89, 0xC8}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := hooks.BuildTrampoline(64, tt.code, funcAddr, nearAddr, hooks.NearJumpSize)
			require.Error(t, err)
			assert.True(t, errors.Is(err, hooks.ErrInvalidBlock), "%v", err)
			assert.Equal(t, hooks.Status(9), hooks.StatusOf(err))
		})
	}
}

func TestTrampoline32(t *testing.T) {
	// mov edi, edi; push ebp; mov ebp, esp; call +20h
	prologue := []byte{0x8B, 0xFF, 0x55, 0x8B, 0xEC, 0xE8, 0x20, 0x00, 0x00, 0x00}
	from, at := uintptr(0x76540000), uintptr(0x00120000)

	tr, err := hooks.BuildTrampoline(32, prologue, from, at, hooks.NearJumpSize)
	require.NoError(t, err)
	assert.Equal(t, 5, tr.Stolen)
	assert.Equal(t, prologue[:5], tr.Code[:5])
	require.Len(t, tr.Code, 10)
	assert.Equal(t, byte(0xE9), tr.Code[5])
	rel := int32(binary.LittleEndian.Uint32(tr.Code[6:]))
	assert.Equal(t, uint32(from+5), uint32(at)+10+uint32(rel))
}

func TestOffsetMapping(t *testing.T) {
	prologue := []byte{0x48, 0x89, 0x5C, 0x24, 0x08, 0x57, 0x48, 0x83, 0xEC, 0x20}
	tr, err := hooks.BuildTrampoline(64, prologue, funcAddr, nearAddr, hooks.NearJumpSize)
	require.NoError(t, err)

	off, ok := tr.OriginalOffset(0)
	assert.True(t, ok)
	assert.Equal(t, 0, off)
	off, ok = tr.OriginalOffset(len(tr.Code) - 1)
	assert.True(t, ok)
	assert.Equal(t, tr.Stolen, off)
	_, ok = tr.OriginalOffset(2)
	assert.False(t, ok)
	_, ok = tr.TrampolineOffset(3)
	assert.False(t, ok)
}

func TestEncodeJump(t *testing.T) {
	assert.Equal(t, []byte{0xE9, 0xFB, 0xFF, 0x00, 0x00}, hooks.EncodeJump(64, funcAddr, nearAddr))
	assert.Equal(t, []byte{0xE9, 0xFB, 0xFF, 0xFE, 0xFF}, hooks.EncodeJump(64, nearAddr, funcAddr))
	far := hooks.EncodeJump(64, funcAddr, farAddr)
	assert.Len(t, far, hooks.FarJumpSize)
	assert.Equal(t, uint64(farAddr), binary.LittleEndian.Uint64(far[6:]))
	assert.Equal(t, hooks.FarJumpSize, hooks.PatchSize(64, funcAddr, farAddr))

	patch := hooks.PatchCode(64, funcAddr, nearAddr, 7)
	assert.Equal(t, []byte{0xE9, 0xFB, 0xFF, 0x00, 0x00, 0xCC, 0xCC}, patch)
}

type fakeMemory map[uintptr][]byte

func (m fakeMemory) read(addr uintptr, n int) ([]byte, error) {
	for base, b := range m {
		if addr >= base && addr < base+uintptr(len(b)) {
			out := b[addr-base:]
			if len(out) > n {
				out = out[:n]
			}
			return out, nil
		}
	}
	return nil, errors.Errorf("0x%x is not mapped", addr)
}

func TestFollowJumps(t *testing.T) {
	thunk := uintptr(0x10000)
	stub := uintptr(0x20000)
	body := uintptr(0x30000)

	slot := make([]byte, 8)
	binary.LittleEndian.PutUint64(slot, uint64(stub))
	mem := fakeMemory{
		// jmp [rip+2]; int3; int3; slot
		thunk: append([]byte{0xFF, 0x25, 0x02, 0x00, 0x00, 0x00, 0xCC, 0xCC}, slot...),
		stub:  append([]byte{0xE9}, le32(int32(body-(stub+5)))...),
		body:  {0x48, 0x89, 0x5C, 0x24, 0x08, 0xC3},
	}

	addr, err := hooks.FollowJumps(64, mem.read, thunk)
	require.NoError(t, err)
	assert.Equal(t, body, addr)

	addr, err = hooks.FollowJumps(64, mem.read, body)
	require.NoError(t, err)
	assert.Equal(t, body, addr)

	// jmp $ never resolves to anything else
	self := fakeMemory{0x40000: {0xEB, 0xFE}}
	addr, err = hooks.FollowJumps(64, self.read, 0x40000)
	require.NoError(t, err)
	assert.Equal(t, uintptr(0x40000), addr)

	_, err = hooks.FollowJumps(64, mem.read, 0x50000)
	assert.Error(t, err)
}

func le32(v int32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, uint32(v))
	return b
}
