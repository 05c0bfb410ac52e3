package audio

import (
	"fmt"
	"os"

	"golang.org/x/term"
)

// SelectDevice walks the user through picking a question microphone on
// the terminal. A single device is returned without prompting; arrow
// keys or j/k move, Enter confirms, Ctrl+C aborts the process.
func SelectDevice(ctx Context) (*DeviceInfo, error) {
	devices, err := ctx.Devices()
	if err != nil {
		return nil, fmt.Errorf("enumerating devices: %w", err)
	}
	switch len(devices) {
	case 0:
		return nil, fmt.Errorf("no capture devices found")
	case 1:
		return &devices[0], nil
	}

	fd := int(os.Stdin.Fd())
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return nil, fmt.Errorf("setting raw mode: %w", err)
	}
	defer term.Restore(fd, oldState)

	cursor := 0
	paint := func() {
		fmt.Print("\r\x1b[J")
		fmt.Print("Microphone for questions (↑/↓, Enter to confirm):\r\n\r\n")
		for i, d := range devices {
			line := "    " + d.Name
			if i == cursor {
				line = fmt.Sprintf("  \x1b[1;36m▶ %s\x1b[0m", d.Name)
			}
			if IsBluetooth(d.Name) {
				line += " \x1b[33m[⚠ Lower audio quality]\x1b[0m"
			}
			fmt.Print(line + "\r\n")
		}
	}
	paint()

	for {
		k, err := readKey()
		if err != nil {
			return nil, fmt.Errorf("reading input: %w", err)
		}
		switch k {
		case keyEnter:
			fmt.Print("\r\n")
			term.Restore(fd, oldState)
			return &devices[cursor], nil
		case keyAbort:
			fmt.Print("\r\n")
			term.Restore(fd, oldState)
			os.Exit(130)
		case keyUp:
			if cursor > 0 {
				cursor--
			}
		case keyDown:
			if cursor < len(devices)-1 {
				cursor++
			}
		}
		fmt.Printf("\x1b[%dA", len(devices)+2)
		paint()
	}
}

type key int

const (
	keyNone key = iota
	keyUp
	keyDown
	keyEnter
	keyAbort
)

// readKey decodes one keypress from raw stdin: arrows, vim j/k, Enter,
// Ctrl+C. Anything else is keyNone.
func readKey() (key, error) {
	buf := make([]byte, 3)
	n, err := os.Stdin.Read(buf)
	if err != nil {
		return keyNone, err
	}
	if n == 1 {
		switch buf[0] {
		case '\r':
			return keyEnter, nil
		case 3:
			return keyAbort, nil
		case 'k':
			return keyUp, nil
		case 'j':
			return keyDown, nil
		}
	}
	if n == 3 && buf[0] == 0x1b && buf[1] == '[' {
		switch buf[2] {
		case 'A':
			return keyUp, nil
		case 'B':
			return keyDown, nil
		}
	}
	return keyNone, nil
}
