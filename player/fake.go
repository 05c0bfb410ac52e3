package player

import "sync"

// FakeBackend plays nothing and finishes when told to, so tests control
// exactly when the completion callback fires.
type FakeBackend struct {
	mu      sync.Mutex
	data    []byte
	started bool
	killed  bool
	done    chan struct{}
	once    sync.Once
}

func NewFakeBackend() *FakeBackend {
	return &FakeBackend{done: make(chan struct{})}
}

func (f *FakeBackend) Start(data []byte) error {
	f.mu.Lock()
	f.started = true
	f.data = data
	f.mu.Unlock()
	return nil
}

func (f *FakeBackend) Wait() error {
	<-f.done
	return nil
}

func (f *FakeBackend) Kill() {
	f.mu.Lock()
	f.killed = true
	f.mu.Unlock()
	f.Finish()
}

// Finish simulates playback running to its natural end.
func (f *FakeBackend) Finish() {
	f.once.Do(func() { close(f.done) })
}

func (f *FakeBackend) Started() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.started
}

func (f *FakeBackend) Killed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.killed
}

func (f *FakeBackend) Data() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.data
}
