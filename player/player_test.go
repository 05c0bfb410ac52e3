package player

import (
	"encoding/base64"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func b64(s string) string { return base64.StdEncoding.EncodeToString([]byte(s)) }

// testPlayer returns a player whose backends are recorded so tests can
// finish or inspect them.
func testPlayer() (*Player, *[]*FakeBackend) {
	var backends []*FakeBackend
	p := NewWithBackend(func() Backend {
		f := NewFakeBackend()
		backends = append(backends, f)
		return f
	})
	return p, &backends
}

func waitDone(t *testing.T, done *atomic.Int32, want int32) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for done.Load() != want {
		select {
		case <-deadline:
			t.Fatalf("completion count = %d, want %d", done.Load(), want)
		case <-time.After(time.Millisecond):
		}
	}
}

func TestPlayToCompletion(t *testing.T) {
	p, backends := testPlayer()
	var done atomic.Int32

	if err := p.Play(b64("reply-audio"), "mp3", func() { done.Add(1) }); err != nil {
		t.Fatalf("Play: %v", err)
	}
	if !p.Playing() {
		t.Fatal("not playing after Play")
	}
	b := (*backends)[0]
	if string(b.Data()) != "reply-audio" {
		t.Error("backend did not receive decoded audio")
	}

	b.Finish()
	waitDone(t, &done, 1)
	if p.Playing() {
		t.Error("still playing after completion")
	}
}

func TestPlayWhilePlaying(t *testing.T) {
	p, backends := testPlayer()

	if err := p.Play(b64("one"), "mp3", nil); err != nil {
		t.Fatalf("Play: %v", err)
	}
	if err := p.Play(b64("two"), "mp3", nil); !errors.Is(err, ErrAlreadyPlaying) {
		t.Errorf("second Play = %v, want ErrAlreadyPlaying", err)
	}
	if len(*backends) != 1 {
		t.Errorf("rejected Play created a backend (%d total)", len(*backends))
	}
	(*backends)[0].Finish()
}

func TestStopCutsPlaybackShort(t *testing.T) {
	p, backends := testPlayer()
	var done atomic.Int32

	if err := p.Play(b64("long reply"), "wav", func() { done.Add(1) }); err != nil {
		t.Fatalf("Play: %v", err)
	}
	p.Stop()

	waitDone(t, &done, 1)
	if !(*backends)[0].Killed() {
		t.Error("backend not killed by Stop")
	}
	if p.Playing() {
		t.Error("still playing after Stop")
	}

	// Stop when idle is a no-op, and the callback never double-fires.
	p.Stop()
	time.Sleep(20 * time.Millisecond)
	if done.Load() != 1 {
		t.Errorf("completion fired %d times, want once", done.Load())
	}
}

func TestPlayAfterStop(t *testing.T) {
	p, backends := testPlayer()
	var done atomic.Int32

	if err := p.Play(b64("first"), "mp3", func() { done.Add(1) }); err != nil {
		t.Fatalf("Play: %v", err)
	}
	p.Stop()
	waitDone(t, &done, 1)

	if err := p.Play(b64("second"), "mp3", func() { done.Add(1) }); err != nil {
		t.Fatalf("Play after Stop: %v", err)
	}
	(*backends)[1].Finish()
	waitDone(t, &done, 2)
}

func TestPlayRejectsBadInput(t *testing.T) {
	p, backends := testPlayer()

	if err := p.Play("!!!not-base64!!!", "mp3", nil); !errors.Is(err, ErrBadAudio) {
		t.Errorf("bad base64 = %v, want ErrBadAudio", err)
	}
	if err := p.Play(b64("x"), "midi", nil); !errors.Is(err, ErrBadAudio) {
		t.Errorf("bad format = %v, want ErrBadAudio", err)
	}
	if err := p.Play("", "mp3", nil); !errors.Is(err, ErrBadAudio) {
		t.Errorf("empty audio = %v, want ErrBadAudio", err)
	}
	if len(*backends) != 0 {
		t.Error("rejected input created a backend")
	}
	if p.Playing() {
		t.Error("player busy after rejected input")
	}
}
