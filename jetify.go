// Package main builds the interception library as a C shared library:
//
//	go build -buildmode=c-shared -o Jetify.dll
//
// The hooks are attached as soon as the library is loaded. Jetify_Init and
// Jetify_Uninit let a host drive the lifecycle explicitly.
package main

import "C"

import (
	"github.com/devolutions/jetify/shim"
	"github.com/devolutions/jetify/util"
)

var jetify = shim.New(util.OSEnv{}, shim.DefaultPlatform())

func init() {
	jetify.Initialize()
}

//export Jetify_Init
func Jetify_Init() uint32 {
	return uint32(jetify.Initialize())
}

// Jetify_Uninit detaches the hooks. A Go runtime cannot be unloaded, so a
// host that wants the original functions back calls it before FreeLibrary.
//
//export Jetify_Uninit
func Jetify_Uninit() uint32 {
	return uint32(jetify.Uninitialize())
}

func main() {
	// required by -buildmode=c-shared
}
