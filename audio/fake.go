package audio

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"lexvoice/encoder"
)

const (
	WAVHeaderSize = 44

	fakeFrameSize     = 1024
	fakeBytesPerFrame = 2 // 16-bit mono
)

// FakeContext is an in-process device provider for tests and headless
// mode. It feeds a fixed PCM buffer through each capture it creates and
// counts open captures so leak checks can assert a clean teardown.
type FakeContext struct {
	pcm      []byte
	realtime bool
	denied   bool

	opened atomic.Int32
	closed atomic.Int32

	mu   sync.Mutex
	last *FakeCapture
}

func NewFakeContext(pcm []byte, realtime bool) *FakeContext {
	return &FakeContext{pcm: pcm, realtime: realtime}
}

func NewFakeContextFromWAV(wavPath string, realtime bool) (*FakeContext, error) {
	data, err := os.ReadFile(wavPath)
	if err != nil {
		return nil, err
	}
	if len(data) > WAVHeaderSize {
		data = data[WAVHeaderSize:]
	}
	return &FakeContext{pcm: data, realtime: realtime}, nil
}

// NewDeniedContext simulates a provider whose acquisition is refused
// (no permission, no hardware).
func NewDeniedContext() *FakeContext {
	return &FakeContext{denied: true}
}

func (f *FakeContext) Devices() ([]DeviceInfo, error) {
	if f.denied {
		return nil, nil
	}
	return []DeviceInfo{{ID: "fake0", Name: "fake"}}, nil
}

func (f *FakeContext) Close() {}

// OpenCaptures reports captures acquired but not yet closed.
func (f *FakeContext) OpenCaptures() int {
	return int(f.opened.Load() - f.closed.Load())
}

func (f *FakeContext) NewCapture(_ *DeviceInfo, _ CaptureConfig) (CaptureDevice, error) {
	if f.denied {
		return nil, fmt.Errorf("capture device access denied")
	}
	f.opened.Add(1)
	c := &FakeCapture{
		parent:    f,
		pcm:       f.pcm,
		realtime:  f.realtime,
		audioDone: make(chan struct{}),
	}
	f.mu.Lock()
	f.last = c
	f.mu.Unlock()
	return c, nil
}

// AudioDone proxies to the most recently created capture, for callers
// that never see the device itself. Blocks forever if none exists yet.
func (f *FakeContext) AudioDone() <-chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.last == nil {
		return make(chan struct{})
	}
	return f.last.audioDone
}

type FakeCapture struct {
	parent    *FakeContext
	pcm       []byte
	realtime  bool
	audioDone chan struct{}

	mu        sync.Mutex
	cb        DataCallback
	stopCh    chan struct{}
	feedDone  chan struct{}
	closeOnce sync.Once
}

// AudioDone is closed once the recorded PCM has been fed through; after
// that the fake keeps producing silence until stopped.
func (f *FakeCapture) AudioDone() <-chan struct{} { return f.audioDone }

func (f *FakeCapture) SetCallback(cb DataCallback) {
	f.mu.Lock()
	f.cb = cb
	f.mu.Unlock()
}

func (f *FakeCapture) ClearCallback() {
	f.mu.Lock()
	f.cb = nil
	f.mu.Unlock()
}

func (f *FakeCapture) DeviceName() string { return "fake" }

func (f *FakeCapture) feedChunk(cb DataCallback, pos, chunkBytes int) int {
	end := min(pos+chunkBytes, len(f.pcm))
	chunk := make([]byte, end-pos)
	copy(chunk, f.pcm[pos:end])
	cb(chunk, uint32(len(chunk)/fakeBytesPerFrame))
	return end
}

func (f *FakeCapture) Start() error {
	f.stopCh = make(chan struct{})
	f.feedDone = make(chan struct{})
	// audioDone is NOT recreated here -- callers may already be waiting on it.
	// It's reset in Stop() for replay.

	chunkBytes := fakeFrameSize * fakeBytesPerFrame

	if !f.realtime {
		f.mu.Lock()
		cb := f.cb
		f.mu.Unlock()
		if cb != nil {
			for pos := 0; pos < len(f.pcm); {
				pos = f.feedChunk(cb, pos, chunkBytes)
			}
		}
		close(f.audioDone)

		go func() {
			defer close(f.feedDone)
			silence := make([]byte, chunkBytes)
			for {
				select {
				case <-f.stopCh:
					return
				case <-time.After(time.Millisecond):
				}
				f.mu.Lock()
				cb := f.cb
				f.mu.Unlock()
				if cb != nil {
					cb(silence, fakeFrameSize)
				}
			}
		}()
	} else {
		interval := time.Duration(fakeFrameSize) * time.Second / time.Duration(encoder.SampleRate)
		go func() {
			defer close(f.feedDone)
			pos := 0
			silence := make([]byte, chunkBytes)
			audioFinished := false

			for {
				select {
				case <-f.stopCh:
					return
				default:
				}

				f.mu.Lock()
				cb := f.cb
				f.mu.Unlock()
				if cb == nil {
					time.Sleep(time.Millisecond)
					continue
				}

				if pos < len(f.pcm) {
					pos = f.feedChunk(cb, pos, chunkBytes)
				} else {
					if !audioFinished {
						audioFinished = true
						close(f.audioDone)
					}
					cb(silence, fakeFrameSize)
				}

				select {
				case <-f.stopCh:
					return
				case <-time.After(interval):
				}
			}
		}()
	}

	return nil
}

func (f *FakeCapture) Stop() {
	if f.stopCh == nil {
		return
	}
	select {
	case <-f.stopCh:
	default:
		close(f.stopCh)
	}
	if f.feedDone != nil {
		<-f.feedDone
	}
	f.audioDone = make(chan struct{}) // reset for replay
}

func (f *FakeCapture) Close() {
	f.closeOnce.Do(func() {
		f.parent.closed.Add(1)
	})
}
