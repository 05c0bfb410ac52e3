// Package voice drives one voice interaction from mic to spoken reply:
// capture, live transcription, upload, playback, and the phase machine
// that keeps them mutually exclusive.
package voice

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"lexvoice/assistant"
	"lexvoice/capture"
	"lexvoice/level"
	"lexvoice/log"
	"lexvoice/player"
	"lexvoice/silence"
	"lexvoice/transcript"
)

// MaxPayloadBytes is the hard upload ceiling. Anything larger is
// rejected locally, before a single byte goes on the wire.
const MaxPayloadBytes = 25 * 1024 * 1024

// PayloadWithinLimit reports whether an encoded recording of n bytes
// may be uploaded.
func PayloadWithinLimit(n int) bool { return n <= MaxPayloadBytes }

var (
	ErrPayloadTooLarge = errors.New("recording exceeds the upload size limit")
	ErrClosed          = errors.New("voice controller closed")
)

type Phase int

const (
	PhaseIdle Phase = iota
	PhaseListening
	PhaseFinalizing
	PhaseUploading
	PhasePlaying
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseListening:
		return "listening"
	case PhaseFinalizing:
		return "finalizing"
	case PhaseUploading:
		return "uploading"
	case PhasePlaying:
		return "playing"
	default:
		return "unknown"
	}
}

// Asker is the assistant round-trip. *assistant.Client satisfies it.
type Asker interface {
	Ask(ctx context.Context, audioData []byte, format string, p assistant.QueryParams) (*assistant.Answer, error)
	Warm()
}

type speechDetector interface {
	Process(data []byte)
	HasSpeechTick() bool
}

// Options wires the controller's collaborators.
type Options struct {
	Capture   *capture.Session
	Player    *player.Player
	Assistant Asker
	Query     assistant.QueryParams

	// NewChannel opens a live transcription stream per recording; nil
	// disables live transcription.
	NewChannel func(ctx context.Context) transcript.Channel

	// Analyzer meters loudness for the visuals; nil disables metering.
	Analyzer *level.Analyzer

	Events EventSink

	// AutoFinalize ends the question after sustained silence instead of
	// waiting for the user. Off unless configured.
	AutoFinalize bool
}

// Controller is the voice interaction state machine. All commands are
// safe for concurrent use; long-running work (encoding, upload,
// playback) happens off the caller's goroutine.
type Controller struct {
	capture      *capture.Session
	player       *player.Player
	asker        Asker
	query        assistant.QueryParams
	newChannel   func(ctx context.Context) transcript.Channel
	analyzer     *level.Analyzer
	events       EventSink
	autoFinalize bool
	newDetector  func() (speechDetector, error)
	maxPayload   int

	mu         sync.Mutex
	phase      Phase
	id         string
	voiceMode  bool
	capturing  bool
	channel    transcript.Channel
	listenDone chan struct{}
	closed     bool
}

func NewController(opts Options) *Controller {
	events := opts.Events
	if events == nil {
		events = NopSink{}
	}
	return &Controller{
		capture:      opts.Capture,
		player:       opts.Player,
		asker:        opts.Assistant,
		query:        opts.Query,
		newChannel:   opts.NewChannel,
		analyzer:     opts.Analyzer,
		events:       events,
		autoFinalize: opts.AutoFinalize,
		newDetector: func() (speechDetector, error) {
			return silence.NewProcessor()
		},
		maxPayload: MaxPayloadBytes,
	}
}

func (c *Controller) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

func (c *Controller) InteractionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

func (c *Controller) setPhaseLocked(to Phase) {
	from := c.phase
	if from == to {
		return
	}
	c.phase = to
	log.Phase(c.id, from.String(), to.String())
	c.events.PhaseChange(from, to)
}

// Start opens a new interaction and begins capturing. While a reply is
// playing the command is rejected with ErrAlreadyPlaying; any other
// non-idle phase rejects it with ErrAlreadyActive. Capture and playback
// never overlap.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.phase == PhasePlaying {
		c.mu.Unlock()
		return player.ErrAlreadyPlaying
	}
	// Listening without an open capture is the retained voice-mode state
	// after a text-only answer; a new question may start from it.
	if c.phase != PhaseIdle && !(c.phase == PhaseListening && !c.capturing) {
		c.mu.Unlock()
		return capture.ErrAlreadyActive
	}

	id := uuid.NewString()
	var channel transcript.Channel
	if c.newChannel != nil {
		channel = c.newChannel(ctx)
	}
	var detector speechDetector
	if d, err := c.newDetector(); err == nil {
		detector = d
	} else {
		log.Warnf("voice activity detection unavailable: %v", err)
	}

	analyzer := c.analyzer
	onData := func(pcm []byte) {
		if analyzer != nil {
			analyzer.Push(pcm)
		}
		if channel != nil {
			channel.Feed(pcm)
		}
		if detector != nil {
			detector.Process(pcm)
		}
	}

	if err := c.capture.Start(onData); err != nil {
		c.mu.Unlock()
		if channel != nil {
			channel.Stop()
		}
		log.Errorf("capture start failed: %v", err)
		c.events.Error(err)
		return err
	}

	c.id = id
	c.voiceMode = true
	c.capturing = true
	c.channel = channel
	c.listenDone = make(chan struct{})
	listenDone := c.listenDone
	c.setPhaseLocked(PhaseListening)
	c.mu.Unlock()

	c.asker.Warm()
	if analyzer != nil {
		analyzer.Reset()
		analyzer.Run(func(snap level.Snapshot) {
			c.events.AudioLevel(snap.Level, snap.Waveform)
		})
	}
	if channel != nil {
		go func() {
			for u := range channel.Updates() {
				c.events.TranscriptUpdate(u.Committed, u.Interim)
			}
		}()
	}
	go c.runListenLoop(detector, listenDone)
	return nil
}

func (c *Controller) runListenLoop(detector speechDetector, done chan struct{}) {
	mon := silence.NewMonitor(func() bool { return c.autoFinalize })
	start := time.Now()
	ticker := time.NewTicker(silence.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			c.events.ListeningTick(time.Since(start).Seconds())
			if detector == nil {
				continue
			}
			switch mon.Tick(detector.HasSpeechTick()) {
			case silence.Warn, silence.Repeat:
				log.Info("no_voice_warning")
				c.events.SilenceWarning(true)
			case silence.WarnClear:
				c.events.SilenceWarning(false)
			case silence.AutoFinalize:
				log.Info("silence_auto_finalize")
				go c.Finalize(context.Background())
				return
			}
		}
	}
}

// Finalize ends the recording and runs the rest of the interaction
// (encode, upload, playback) in the background. The mic is released
// before Finalize returns.
func (c *Controller) Finalize(ctx context.Context) error {
	return c.endCapture(ctx, true)
}

// Stop ends the recording the same way Finalize does but exits voice
// mode: the answer is still fetched and surfaced as text, yet nothing
// is spoken back. With voice mode on but no recording open, Stop just
// leaves the mode.
func (c *Controller) Stop() error {
	return c.endCapture(context.Background(), false)
}

func (c *Controller) endCapture(ctx context.Context, keepVoice bool) error {
	c.mu.Lock()
	if c.phase != PhaseListening {
		c.mu.Unlock()
		return capture.ErrNoActiveRecording
	}
	if !c.capturing {
		// Voice mode retained after a text-only answer: no capture is
		// open, so Finalize has nothing to send, while Stop exits the
		// mode and returns to idle.
		if keepVoice {
			c.mu.Unlock()
			return capture.ErrNoActiveRecording
		}
		c.voiceMode = false
		log.Info("voice_mode_exit")
		c.setPhaseLocked(PhaseIdle)
		c.mu.Unlock()
		return nil
	}
	c.capturing = false
	id := c.id
	channel := c.channel
	c.channel = nil
	close(c.listenDone)
	c.listenDone = nil
	if !keepVoice {
		c.voiceMode = false
		log.Info("voice_mode_exit")
	}
	c.setPhaseLocked(PhaseFinalizing)
	c.mu.Unlock()

	if c.analyzer != nil {
		c.analyzer.Stop()
	}

	payloadCh, err := c.capture.Stop()
	if err != nil {
		if channel != nil {
			channel.Stop()
		}
		c.fail(id, err)
		return err
	}

	var snap transcript.Snapshot
	if channel != nil {
		snap = channel.Stop()
	}

	go c.finish(ctx, id, payloadCh, snap)
	return nil
}

func (c *Controller) finish(ctx context.Context, id string, payloadCh <-chan capture.Payload, snap transcript.Snapshot) {
	payload := <-payloadCh
	if payload.Err != nil {
		c.fail(id, payload.Err)
		return
	}
	if len(payload.Data) > c.maxPayload {
		c.fail(id, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(payload.Data)))
		return
	}

	c.mu.Lock()
	if c.id != id || c.closed {
		c.mu.Unlock()
		return
	}
	c.setPhaseLocked(PhaseUploading)
	voiceMode := c.voiceMode
	c.mu.Unlock()

	if q := strings.TrimSpace(snap.Committed); q != "" {
		log.QuestionText(q)
	}

	answer, err := c.asker.Ask(ctx, payload.Data, payload.Format, c.query)
	if err != nil {
		c.fail(id, err)
		return
	}

	if answer.Metrics != nil {
		m := answer.Metrics
		rawKB := float64(payload.Frames) * 2 / 1024
		encKB := float64(len(payload.Data)) / 1024
		compressionPct := 0.0
		if rawKB > 0 {
			compressionPct = (1.0 - encKB/rawKB) * 100
		}
		log.Upload(id, log.UploadMetrics{
			AudioLengthS:     payload.Duration.Seconds(),
			RawSizeKB:        rawKB,
			CompressedSizeKB: encKB,
			CompressionPct:   compressionPct,
			DNSTimeMs:        float64(m.DNS.Milliseconds()),
			TLSTimeMs:        float64(m.TLS.Milliseconds()),
			TTFBMs:           float64(m.TTFB.Milliseconds()),
			TotalTimeMs:      float64(m.Sum().Milliseconds()),
		}, payload.Format, c.query.ResponseStyle)
	}
	if answer.Text != "" {
		log.QuestionText(answer.Text)
	}
	c.events.AnswerReady(answer.Text)

	if !voiceMode {
		c.toIdle(id)
		return
	}

	c.mu.Lock()
	if c.id != id || c.closed {
		c.mu.Unlock()
		return
	}
	if answer.AudioBase64 == "" {
		// Text-only answer while voice mode is on: go back to
		// listening so the next question starts without re-arming.
		c.setPhaseLocked(PhaseListening)
		c.mu.Unlock()
		return
	}
	c.setPhaseLocked(PhasePlaying)
	c.mu.Unlock()
	c.events.PlaybackStart()

	err = c.player.Play(answer.AudioBase64, answer.AudioFormat, func() {
		c.events.PlaybackEnd()
		c.toIdle(id)
	})
	if err != nil {
		c.fail(id, err)
	}
}

// toIdle returns the phase to idle, unless a newer interaction has
// already taken over.
func (c *Controller) toIdle(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.id != id || c.closed {
		return
	}
	c.setPhaseLocked(PhaseIdle)
}

// fail surfaces one error for the interaction and drops back to idle.
func (c *Controller) fail(id string, err error) {
	log.Errorf("interaction failed: %v", err)
	c.events.Error(err)
	c.toIdle(id)
}

// StopPlayback cuts the spoken reply short. Idempotent; a no-op when
// nothing is playing. The phase returns to idle through the playback
// completion callback.
func (c *Controller) StopPlayback() {
	c.player.Stop()
}

// Close tears everything down unconditionally: capture, transcription,
// playback. The controller rejects commands afterwards.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.capturing = false
	channel := c.channel
	c.channel = nil
	if c.listenDone != nil {
		close(c.listenDone)
		c.listenDone = nil
	}
	c.setPhaseLocked(PhaseIdle)
	c.mu.Unlock()

	if c.analyzer != nil {
		c.analyzer.Stop()
	}
	c.capture.Abort()
	if channel != nil {
		channel.Stop()
	}
	c.player.Stop()
}
