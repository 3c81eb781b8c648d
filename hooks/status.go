package hooks

import (
	"fmt"
	"syscall"

	"github.com/pkg/errors"
)

// Status is the Windows error code reported by AttachAll and DetachAll.
// Zero is success.
type Status uint32

const StatusSuccess Status = 0

// Errno is a Windows error code carried as a Go error.
type Errno uint32

const (
	ErrInvalidHandle    Errno = 6
	ErrNotEnoughMemory  Errno = 8
	ErrInvalidBlock     Errno = 9
	ErrInvalidParameter Errno = 87
	ErrNotSupported     Errno = 50
	ErrInvalidOperation Errno = 4317
)

var errnoText = map[Errno]string{
	ErrInvalidHandle:    "invalid handle",
	ErrNotEnoughMemory:  "not enough memory",
	ErrInvalidBlock:     "invalid block",
	ErrInvalidParameter: "invalid parameter",
	ErrNotSupported:     "not supported",
	ErrInvalidOperation: "invalid operation",
}

func (e Errno) Error() string {
	if s, ok := errnoText[e]; ok {
		return s
	}
	return fmt.Sprintf("error %d", uint32(e))
}

// StatusOf maps an error to the code reported to the host. Errors that do
// not carry a code become ERROR_INVALID_OPERATION.
func StatusOf(err error) Status {
	if err == nil {
		return StatusSuccess
	}
	var e Errno
	if errors.As(err, &e) {
		return Status(e)
	}
	var se syscall.Errno
	if errors.As(err, &se) {
		return Status(se)
	}
	return Status(ErrInvalidOperation)
}

func (s Status) Err() error {
	if s == StatusSuccess {
		return nil
	}
	return Errno(s)
}
