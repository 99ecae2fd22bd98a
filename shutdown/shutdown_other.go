//go:build !windows

package shutdown

import (
	"os"
	"os/signal"
	"syscall"
)

// Listen reports termination requests. SIGTERM is included so service
// managers can stop the daemon while a recording is still open.
func Listen() <-chan os.Signal {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	return ch
}
