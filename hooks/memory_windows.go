//go:build windows && (amd64 || 386)

package hooks

import (
	"syscall"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/windows"
)

const (
	allocationGranularity = 0x10000
	regionSize            = allocationGranularity
	nearReach             = 0x7FF00000
	memFree               = 0x10000
)

var (
	modkernel32 = windows.NewLazySystemDLL("kernel32.dll")

	procFlushInstructionCache = modkernel32.NewProc("FlushInstructionCache")
	procSuspendThread         = modkernel32.NewProc("SuspendThread")
	procGetThreadContext      = modkernel32.NewProc("GetThreadContext")
	procSetThreadContext      = modkernel32.NewProc("SetThreadContext")
)

func archMode() int {
	if unsafe.Sizeof(uintptr(0)) == 8 {
		return 64
	}
	return 32
}

// loadProcs resolves the kernel32 entry points used while other threads
// are suspended, so that no lookup happens inside that window.
func loadProcs() error {
	for _, p := range []*windows.LazyProc{procFlushInstructionCache, procSuspendThread, procGetThreadContext, procSetThreadContext} {
		if err := p.Find(); err != nil {
			return err
		}
	}
	return nil
}

// readMemory copies up to n bytes at addr, stopping at the end of the
// committed region that contains it.
func readMemory(addr uintptr, n int) ([]byte, error) {
	var mbi windows.MemoryBasicInformation
	if err := windows.VirtualQuery(addr, &mbi, unsafe.Sizeof(mbi)); err != nil {
		return nil, errors.Wrapf(err, "query 0x%x", addr)
	}
	if mbi.State != windows.MEM_COMMIT || mbi.Protect&(windows.PAGE_NOACCESS|windows.PAGE_GUARD) != 0 {
		return nil, errors.Wrapf(ErrInvalidParameter, "0x%x is not readable", addr)
	}
	if avail := mbi.BaseAddress + mbi.RegionSize - addr; uintptr(n) > avail {
		n = int(avail)
	}
	out := make([]byte, n)
	copy(out, unsafe.Slice((*byte)(unsafe.Pointer(addr)), n))
	return out, nil
}

// writeCode overwrites code at addr, restoring the page protection after.
func writeCode(addr uintptr, code []byte) error {
	var old uint32
	if err := windows.VirtualProtect(addr, uintptr(len(code)), windows.PAGE_EXECUTE_READWRITE, &old); err != nil {
		return errors.Wrapf(err, "unprotect 0x%x", addr)
	}
	copy(unsafe.Slice((*byte)(unsafe.Pointer(addr)), len(code)), code)
	var ignored uint32
	windows.VirtualProtect(addr, uintptr(len(code)), old, &ignored)
	syscall.SyscallN(procFlushInstructionCache.Addr(), uintptr(windows.CurrentProcess()), addr, uintptr(len(code)))
	return nil
}

// allocNear reserves an executable region within rel32 reach of target,
// searching below it first and then above.
func allocNear(target uintptr) (uintptr, error) {
	lo := uintptr(allocationGranularity)
	if target > nearReach+allocationGranularity {
		lo = target - nearReach
	}
	hi := target + nearReach
	if hi < target {
		hi = ^uintptr(0)
	}
	base := target &^ (allocationGranularity - 1)

	for addr := base - allocationGranularity; addr >= lo; {
		var mbi windows.MemoryBasicInformation
		if windows.VirtualQuery(addr, &mbi, unsafe.Sizeof(mbi)) != nil {
			break
		}
		if mbi.State == memFree {
			if p, err := windows.VirtualAlloc(addr, regionSize, windows.MEM_COMMIT|windows.MEM_RESERVE, windows.PAGE_EXECUTE_READWRITE); err == nil {
				return p, nil
			}
		}
		next := mbi.AllocationBase &^ (allocationGranularity - 1)
		if mbi.State == memFree || next == 0 || next > addr {
			next = addr
		}
		if next < lo+allocationGranularity {
			break
		}
		addr = next - allocationGranularity
	}

	for addr := base + allocationGranularity; addr < hi && addr > base; {
		var mbi windows.MemoryBasicInformation
		if windows.VirtualQuery(addr, &mbi, unsafe.Sizeof(mbi)) != nil {
			break
		}
		if mbi.State == memFree {
			if p, err := windows.VirtualAlloc(addr, regionSize, windows.MEM_COMMIT|windows.MEM_RESERVE, windows.PAGE_EXECUTE_READWRITE); err == nil {
				return p, nil
			}
		}
		next := (mbi.BaseAddress + mbi.RegionSize + allocationGranularity - 1) &^ (allocationGranularity - 1)
		if next <= addr {
			next = addr + allocationGranularity
		}
		addr = next
	}
	return 0, errors.Wrapf(ErrNotEnoughMemory, "no free region near 0x%x", target)
}

func allocAnywhere() (uintptr, error) {
	p, err := windows.VirtualAlloc(0, regionSize, windows.MEM_COMMIT|windows.MEM_RESERVE, windows.PAGE_EXECUTE_READWRITE)
	if err != nil {
		return 0, errors.Wrap(ErrNotEnoughMemory, err.Error())
	}
	return p, nil
}

func freeRegion(addr uintptr) {
	windows.VirtualFree(addr, 0, windows.MEM_RELEASE)
}

func writeRegion(addr uintptr, code []byte) {
	copy(unsafe.Slice((*byte)(unsafe.Pointer(addr)), len(code)), code)
}
