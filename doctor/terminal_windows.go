//go:build windows

package doctor

import (
	"fmt"
	"os"
	"os/signal"
)

func resetTerminal() {
	// The console needs no reset on Windows.
}

func setupInterruptHandler() {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	go func() {
		<-sig
		fmt.Fprintln(os.Stderr, "\ninterrupted")
		os.Exit(1)
	}()
}
