//go:build windows

package shutdown

import (
	"os"
	"os/signal"
)

// Listen reports termination requests. Windows only delivers the
// interrupt, from Ctrl+C or the console closing.
func Listen() <-chan os.Signal {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt)
	return ch
}
