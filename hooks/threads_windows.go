//go:build windows && (amd64 || 386)

package hooks

import (
	"syscall"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/windows"
)

const (
	threadSuspendResume = 0x0002
	threadGetContext    = 0x0008
	threadSetContext    = 0x0010
)

type suspendedThread struct {
	id     uint32
	handle windows.Handle
	ctx    []byte
}

// suspendOtherThreads suspends every thread of the process except the
// calling one. Everything is allocated before the first thread stops, since
// a stopped thread may hold a runtime lock. Threads that cannot be opened
// have exited and are skipped.
func suspendOtherThreads() ([]*suspendedThread, error) {
	snap, err := windows.CreateToolhelp32Snapshot(windows.TH32CS_SNAPTHREAD, 0)
	if err != nil {
		return nil, errors.Wrap(err, "thread snapshot")
	}
	defer windows.CloseHandle(snap)

	pid := windows.GetCurrentProcessId()
	self := windows.GetCurrentThreadId()
	var candidates []*suspendedThread
	var te windows.ThreadEntry32
	te.Size = uint32(unsafe.Sizeof(te))
	for err = windows.Thread32First(snap, &te); err == nil; err = windows.Thread32Next(snap, &te) {
		if te.OwnerProcessID == pid && te.ThreadID != self {
			candidates = append(candidates, &suspendedThread{id: te.ThreadID, ctx: newContext()})
		}
	}

	threads := make([]*suspendedThread, 0, len(candidates))
	for _, t := range candidates {
		h, err := windows.OpenThread(threadSuspendResume|threadGetContext|threadSetContext, false, t.id)
		if err != nil {
			continue
		}
		if r, _, _ := syscall.SyscallN(procSuspendThread.Addr(), uintptr(h)); uint32(r) == 0xFFFFFFFF {
			windows.CloseHandle(h)
			continue
		}
		t.handle = h
		threads = append(threads, t)
	}
	return threads, nil
}

func resumeThreads(threads []*suspendedThread) {
	for _, t := range threads {
		windows.ResumeThread(t.handle)
		windows.CloseHandle(t.handle)
	}
}

// newContext returns a zeroed context record aligned to 16 bytes.
func newContext() []byte {
	buf := make([]byte, contextSize+16)
	off := (16 - uintptr(unsafe.Pointer(&buf[0]))%16) % 16
	return buf[off : off+contextSize]
}

func (t *suspendedThread) ip() (uintptr, bool) {
	setContextFlags(t.ctx, contextControl)
	r, _, _ := syscall.SyscallN(procGetThreadContext.Addr(), uintptr(t.handle), uintptr(unsafe.Pointer(&t.ctx[0])))
	if r == 0 {
		return 0, false
	}
	return readIP(t.ctx), true
}

// setIP must follow a successful ip call on the same thread.
func (t *suspendedThread) setIP(ip uintptr) bool {
	writeIP(t.ctx, ip)
	r, _, _ := syscall.SyscallN(procSetThreadContext.Addr(), uintptr(t.handle), uintptr(unsafe.Pointer(&t.ctx[0])))
	return r != 0
}
