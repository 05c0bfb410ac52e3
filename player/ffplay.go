package player

import (
	"io"
	"os"
	"os/exec"
	"runtime"
	"sync"
)

// ffplayBackend pipes the encoded reply through an ffplay subprocess.
// ffplay probes the container itself, so one command line covers every
// format the service sends back.
type ffplayBackend struct {
	mu    sync.Mutex
	cmd   *exec.Cmd
	stdin io.WriteCloser
}

func newFFPlayBackend() Backend {
	return &ffplayBackend{}
}

func (b *ffplayBackend) Start(data []byte) error {
	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-nostats",
		"-nodisp",
		"-autoexit",
		"-i", "-",
	}
	cmd := exec.Command("ffplay", args...)
	if runtime.GOOS == "darwin" && os.Getenv("SDL_AUDIODRIVER") == "" {
		// SDL can pick a silent dummy driver on macOS; pin CoreAudio.
		cmd.Env = append(os.Environ(), "SDL_AUDIODRIVER=coreaudio")
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard
	if err := cmd.Start(); err != nil {
		stdin.Close()
		return err
	}

	b.mu.Lock()
	b.cmd = cmd
	b.stdin = stdin
	b.mu.Unlock()

	go func() {
		stdin.Write(data)
		stdin.Close()
	}()
	return nil
}

func (b *ffplayBackend) Wait() error {
	b.mu.Lock()
	cmd := b.cmd
	b.mu.Unlock()
	if cmd == nil {
		return nil
	}
	return cmd.Wait()
}

func (b *ffplayBackend) Kill() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stdin != nil {
		b.stdin.Close()
	}
	if b.cmd != nil && b.cmd.Process != nil {
		b.cmd.Process.Kill()
	}
}
