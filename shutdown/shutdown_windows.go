//go:build windows

package shutdown

import (
	"os"
	"os/signal"
)

// Notify registers the signals that end a session; SIGTERM does not
// exist here, so only interrupt is watched.
func Notify(ch chan os.Signal) {
	signal.Notify(ch, os.Interrupt)
}
