// Package player turns the assistant's base64 reply audio into sound.
// At most one playback resource exists at a time; starting a second one
// while audio is still playing is rejected.
package player

import (
	"encoding/base64"
	"errors"
	"fmt"
	"sync"

	"lexvoice/log"
)

var (
	// ErrAlreadyPlaying is returned by Play while a reply is audible.
	ErrAlreadyPlaying = errors.New("playback already in progress")

	// ErrBadAudio covers undecodable base64 and formats the output
	// backend cannot play.
	ErrBadAudio = errors.New("unplayable reply audio")
)

var playableFormats = map[string]bool{
	"mp3":  true,
	"wav":  true,
	"ogg":  true,
	"flac": true,
}

// Backend is one playback run: started once, then either runs to
// completion or is killed.
type Backend interface {
	Start(data []byte) error
	Wait() error
	Kill()
}

type Player struct {
	newBackend func() Backend

	mu      sync.Mutex
	current Backend
}

// New returns a Player speaking through ffplay.
func New() *Player {
	return &Player{newBackend: newFFPlayBackend}
}

// NewWithBackend swaps the output for tests and headless mode.
func NewWithBackend(factory func() Backend) *Player {
	return &Player{newBackend: factory}
}

func (p *Player) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current != nil
}

// Play decodes and starts the reply audio. onDone fires exactly once,
// whether playback runs to completion or is cut short by Stop.
func (p *Player) Play(audioBase64, format string, onDone func()) error {
	if !playableFormats[format] {
		return fmt.Errorf("%w: format %q", ErrBadAudio, format)
	}
	data, err := base64.StdEncoding.DecodeString(audioBase64)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadAudio, err)
	}
	if len(data) == 0 {
		return fmt.Errorf("%w: empty audio", ErrBadAudio)
	}

	p.mu.Lock()
	if p.current != nil {
		p.mu.Unlock()
		return ErrAlreadyPlaying
	}
	b := p.newBackend()
	if err := b.Start(data); err != nil {
		p.mu.Unlock()
		return err
	}
	p.current = b
	p.mu.Unlock()

	go func() {
		err := b.Wait()
		p.mu.Lock()
		if p.current == b {
			p.current = nil
		}
		p.mu.Unlock()
		if err != nil {
			log.Warnf("playback ended with error: %v", err)
		}
		if onDone != nil {
			onDone()
		}
	}()
	return nil
}

// Stop kills the current playback, if any. Idempotent; the pending
// onDone callback still fires via the Wait goroutine.
func (p *Player) Stop() {
	p.mu.Lock()
	b := p.current
	p.mu.Unlock()
	if b != nil {
		b.Kill()
	}
}
