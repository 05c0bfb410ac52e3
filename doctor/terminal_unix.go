//go:build !windows

package doctor

import (
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
)

// resetTerminal undoes whatever state an interrupted check left the
// tty in; the microphone check runs with the terminal reconfigured.
func resetTerminal() {
	exec.Command("stty", "sane").Run()
}

func setupInterruptHandler() {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		resetTerminal()
		fmt.Fprintln(os.Stderr, "\ninterrupted")
		os.Exit(1)
	}()
}
