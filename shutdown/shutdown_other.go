//go:build !windows

// Package shutdown registers the signals that end a session cleanly,
// so the mic and the terminal are released on the way out.
package shutdown

import (
	"os"
	"os/signal"
	"syscall"
)

func Notify(ch chan os.Signal) {
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
}
