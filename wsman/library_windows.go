//go:build windows

package wsman

import (
	"golang.org/x/sys/windows"
)

type systemLoader struct{}

// NewLoader returns the Loader backed by LoadLibrary.
func NewLoader() Loader {
	return systemLoader{}
}

func (systemLoader) Load(path string) (uintptr, error) {
	h, err := windows.LoadLibrary(path)
	return uintptr(h), err
}

func (systemLoader) Proc(module uintptr, name string) (uintptr, error) {
	return windows.GetProcAddress(windows.Handle(module), name)
}

func (systemLoader) Free(module uintptr) error {
	return windows.FreeLibrary(windows.Handle(module))
}
