// Package capture owns the microphone for the duration of one voice
// recording: device acquisition, the PCM callback, and the concurrent
// encode pipeline that produces the upload payload.
package capture

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"lexvoice/audio"
	"lexvoice/encoder"
	"lexvoice/log"
)

var (
	// ErrAlreadyActive is returned by Start while a recording is live.
	ErrAlreadyActive = errors.New("recording already active")

	// ErrNoActiveRecording is returned by Stop when nothing is recording.
	ErrNoActiveRecording = errors.New("no active recording")

	// ErrDeviceUnavailable wraps device acquisition failures (permission
	// denied, device gone, backend init errors).
	ErrDeviceUnavailable = errors.New("capture device unavailable")
)

// Payload is the encoded audio produced by a stopped recording.
type Payload struct {
	Data     []byte
	Format   string
	Frames   uint64
	Duration time.Duration
	Err      error
}

// Config selects the device and encoding for new recordings.
type Config struct {
	Device  *audio.DeviceInfo // nil means system default
	Capture audio.CaptureConfig
	Format  string // "flac" or "wav"
}

// Session manages at most one live recording at a time. The device is
// acquired fresh on every Start and released on Stop, so permission or
// hardware changes between recordings take effect immediately.
type Session struct {
	ctx audio.Context
	cfg Config

	mu  sync.Mutex
	rec *recording
}

type recording struct {
	device audio.CaptureDevice
	enc    encoder.Encoder
	format string

	blockChan  chan []int16
	encodeDone chan struct{}

	bufMu       sync.Mutex
	sampleBuf   []int16
	totalFrames uint64
	stopped     bool
}

func New(ctx audio.Context, cfg Config) *Session {
	return &Session{ctx: ctx, cfg: cfg}
}

// SetDevice changes the device used for subsequent recordings. Does not
// affect a recording already in progress.
func (s *Session) SetDevice(dev *audio.DeviceInfo) {
	s.mu.Lock()
	s.cfg.Device = dev
	s.mu.Unlock()
}

func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec != nil
}

// Start acquires the device and begins recording. onData is invoked
// from the capture callback with a private copy of each PCM chunk; it
// must not block.
func (s *Session) Start(onData func(pcm []byte)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.rec != nil {
		return ErrAlreadyActive
	}

	enc, err := encoder.New(s.cfg.Format)
	if err != nil {
		return err
	}

	device, err := s.ctx.NewCapture(s.cfg.Device, s.cfg.Capture)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	rec := &recording{
		device:     device,
		enc:        enc,
		format:     s.cfg.Format,
		blockChan:  make(chan []int16, 64),
		encodeDone: make(chan struct{}),
	}

	go func() {
		defer close(rec.encodeDone)
		for block := range rec.blockChan {
			start := time.Now()
			rec.enc.EncodeBlock(block)
			rec.enc.AddEncodeTime(time.Since(start))
		}
	}()

	device.SetCallback(func(data []byte, frameCount uint32) {
		rec.bufMu.Lock()
		if rec.stopped {
			rec.bufMu.Unlock()
			return
		}
		rec.totalFrames += uint64(frameCount)
		for i := 0; i+1 < len(data); i += 2 {
			rec.sampleBuf = append(rec.sampleBuf, int16(binary.LittleEndian.Uint16(data[i:])))
		}
		var blocks [][]int16
		for len(rec.sampleBuf) >= encoder.BlockSize {
			block := make([]int16, encoder.BlockSize)
			copy(block, rec.sampleBuf[:encoder.BlockSize])
			rec.sampleBuf = rec.sampleBuf[encoder.BlockSize:]
			blocks = append(blocks, block)
		}
		rec.bufMu.Unlock()

		for _, block := range blocks {
			rec.blockChan <- block
		}

		if onData != nil && len(data) > 0 {
			pcm := make([]byte, len(data))
			copy(pcm, data)
			onData(pcm)
		}
	})

	if err := device.Start(); err != nil {
		device.ClearCallback()
		device.Close()
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	log.Info("recording_device: " + device.DeviceName())
	s.rec = rec
	return nil
}

// Stop releases the device immediately and finishes encoding in the
// background. The returned channel delivers exactly one Payload and is
// then closed. A second Stop with no recording in flight returns
// ErrNoActiveRecording.
func (s *Session) Stop() (<-chan Payload, error) {
	s.mu.Lock()
	rec := s.rec
	s.rec = nil
	s.mu.Unlock()

	if rec == nil {
		return nil, ErrNoActiveRecording
	}

	// Device first: the mic indicator must go dark before any encode
	// work finishes. Stop the stream, detach the callback, then close.
	rec.device.Stop()
	rec.device.ClearCallback()
	rec.device.Close()

	rec.bufMu.Lock()
	rec.stopped = true
	if len(rec.sampleBuf) > 0 {
		partial := make([]int16, len(rec.sampleBuf))
		copy(partial, rec.sampleBuf)
		rec.sampleBuf = nil
		rec.bufMu.Unlock()
		rec.blockChan <- partial
	} else {
		rec.bufMu.Unlock()
	}

	out := make(chan Payload, 1)
	go func() {
		defer close(out)
		close(rec.blockChan)
		<-rec.encodeDone

		if err := rec.enc.Close(); err != nil {
			out <- Payload{Err: err}
			return
		}

		frames := rec.enc.TotalFrames()
		out <- Payload{
			Data:     rec.enc.Bytes(),
			Format:   rec.format,
			Frames:   frames,
			Duration: time.Duration(float64(frames) / float64(encoder.SampleRate) * float64(time.Second)),
		}
	}()
	return out, nil
}

// Abort tears down a live recording without producing a payload. No-op
// when nothing is recording.
func (s *Session) Abort() {
	ch, err := s.Stop()
	if err != nil {
		return
	}
	go func() {
		for range ch {
		}
	}()
}
