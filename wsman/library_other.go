//go:build !windows

package wsman

import (
	"github.com/pkg/errors"
)

type systemLoader struct{}

func NewLoader() Loader {
	return systemLoader{}
}

func (systemLoader) Load(path string) (uintptr, error) {
	return 0, errors.Errorf("cannot load %s on this platform", path)
}

func (systemLoader) Proc(module uintptr, name string) (uintptr, error) {
	return 0, errors.Errorf("cannot resolve %s on this platform", name)
}

func (systemLoader) Free(module uintptr) error {
	return nil
}
