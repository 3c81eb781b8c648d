//go:build !windows || !(amd64 || 386)

package hooks

import (
	"runtime"

	"github.com/devolutions/jetify/core"
	"github.com/pkg/errors"
)

// NewResolver returns a Resolver that finds nothing: functions are only
// patched on Windows x86 and x64.
func NewResolver() Resolver {
	return unsupported{}
}

// NewPatcher returns a Patcher that commits empty transactions and refuses
// to attach anything.
func NewPatcher(log *core.Logger) Patcher {
	return &unsupported{}
}

type unsupported struct{}

func (unsupported) Resolve(module, name string, load bool) (uintptr, error) {
	return 0, errors.Wrapf(ErrNotSupported, "%s/%s", runtime.GOOS, runtime.GOARCH)
}

func (*unsupported) Begin() error { return nil }

func (*unsupported) Attach(target, detour uintptr) (uintptr, error) {
	return 0, errors.Wrapf(ErrNotSupported, "%s/%s", runtime.GOOS, runtime.GOARCH)
}

func (*unsupported) Detach(target uintptr) error {
	return errors.Wrapf(ErrNotSupported, "%s/%s", runtime.GOOS, runtime.GOARCH)
}

func (*unsupported) Commit() error { return nil }

func (*unsupported) Abort() error { return nil }
