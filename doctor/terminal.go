package doctor

import (
	"os"
	"os/exec"
	"runtime"

	"ankiscribe/shutdown"
)

// resetTerminal undoes raw mode left behind by an interrupted check.
func resetTerminal() {
	if runtime.GOOS == "windows" {
		return
	}
	exec.Command("stty", "sane").Run()
}

func setupInterruptHandler() {
	go func() {
		<-shutdown.Listen()
		println("\nInterrupted")
		os.Exit(1)
	}()
}
