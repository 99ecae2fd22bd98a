//go:build !linux

package main

import (
	"runtime"

	"golang.design/x/hotkey/mainthread"
)

func init() {
	runtime.LockOSThread()
}

func main() {
	// The hotkey library owns the process main thread for its event
	// loop on macOS and Windows.
	mainthread.Init(run)
}
