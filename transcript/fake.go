package transcript

import "sync"

// Fake is an in-process Channel for tests and headless mode. Tests
// drive it with EmitInterim/EmitFinal; after Stop both become no-ops,
// matching the freeze behavior of the live channel.
type Fake struct {
	mu        sync.Mutex
	committed string
	interim   string
	frozen    bool
	err       error
	updates   chan Update
}

func NewFake() *Fake {
	return &Fake{updates: make(chan Update, 16)}
}

func (f *Fake) Feed([]byte) {}

func (f *Fake) Updates() <-chan Update { return f.updates }

func (f *Fake) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *Fake) SetErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

// EmitInterim repaints the volatile tail. Returns false when dropped
// because the transcript is already frozen.
func (f *Fake) EmitInterim(text string) bool {
	f.mu.Lock()
	if f.frozen {
		f.mu.Unlock()
		return false
	}
	f.interim = text
	update := Update{Committed: f.committed, Interim: f.interim}
	f.mu.Unlock()

	select {
	case f.updates <- update:
	default:
	}
	return true
}

// EmitFinal commits a segment and clears the interim tail.
func (f *Fake) EmitFinal(text string) bool {
	f.mu.Lock()
	if f.frozen {
		f.mu.Unlock()
		return false
	}
	if f.committed != "" {
		f.committed += " " + text
	} else {
		f.committed = text
	}
	f.interim = ""
	update := Update{Committed: f.committed}
	f.mu.Unlock()

	select {
	case f.updates <- update:
	default:
	}
	return true
}

func (f *Fake) Stop() Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.frozen {
		f.frozen = true
		close(f.updates)
	}
	return Snapshot{Committed: f.committed, Interim: f.interim}
}
