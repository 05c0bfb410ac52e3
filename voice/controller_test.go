package voice

import (
	"context"
	"encoding/base64"
	"errors"
	"sync"
	"testing"
	"time"

	"lexvoice/assistant"
	"lexvoice/audio"
	"lexvoice/capture"
	"lexvoice/encoder"
	"lexvoice/level"
	"lexvoice/player"
	"lexvoice/transcript"
)

type fakeAsker struct {
	mu        sync.Mutex
	calls     int
	gotData   []byte
	gotFormat string
	gotParams assistant.QueryParams
	answer    *assistant.Answer
	err       error
	block     chan struct{} // when set, Ask waits on it
}

func (f *fakeAsker) Warm() {}

func (f *fakeAsker) Ask(_ context.Context, data []byte, format string, p assistant.QueryParams) (*assistant.Answer, error) {
	f.mu.Lock()
	f.calls++
	f.gotData = data
	f.gotFormat = format
	f.gotParams = p
	block := f.block
	f.mu.Unlock()
	if block != nil {
		<-block
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.answer, nil
}

func (f *fakeAsker) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type recordSink struct {
	mu          sync.Mutex
	phases      []Phase
	transcripts []string
	answers     []string
	errs        []error
	levels      int
	playStarts  int
	playEnds    int
}

func (s *recordSink) PhaseChange(_, to Phase) {
	s.mu.Lock()
	s.phases = append(s.phases, to)
	s.mu.Unlock()
}
func (s *recordSink) ListeningTick(float64) {}
func (s *recordSink) AudioLevel(float64, []float64) {
	s.mu.Lock()
	s.levels++
	s.mu.Unlock()
}
func (s *recordSink) TranscriptUpdate(committed, interim string) {
	s.mu.Lock()
	if interim != "" {
		s.transcripts = append(s.transcripts, interim)
	} else {
		s.transcripts = append(s.transcripts, committed)
	}
	s.mu.Unlock()
}
func (s *recordSink) SilenceWarning(bool) {}
func (s *recordSink) AnswerReady(text string) {
	s.mu.Lock()
	s.answers = append(s.answers, text)
	s.mu.Unlock()
}
func (s *recordSink) PlaybackStart() {
	s.mu.Lock()
	s.playStarts++
	s.mu.Unlock()
}
func (s *recordSink) PlaybackEnd() {
	s.mu.Lock()
	s.playEnds++
	s.mu.Unlock()
}
func (s *recordSink) Error(err error) {
	s.mu.Lock()
	s.errs = append(s.errs, err)
	s.mu.Unlock()
}

func (s *recordSink) sawTranscript(text string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, tr := range s.transcripts {
		if tr == text {
			return true
		}
	}
	return false
}

func (s *recordSink) firstErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.errs) == 0 {
		return nil
	}
	return s.errs[0]
}

type fixture struct {
	ctrl     *Controller
	ctx      *audio.FakeContext
	sink     *recordSink
	asker    *fakeAsker
	backends *[]*player.FakeBackend
}

func goodAnswer() *assistant.Answer {
	return &assistant.Answer{
		Text:        "kira tespit davası",
		AudioBase64: base64.StdEncoding.EncodeToString([]byte("reply-audio")),
		AudioFormat: "mp3",
	}
}

func newFixture(t *testing.T, deviceCtx *audio.FakeContext, asker *fakeAsker, mutate func(*Options)) *fixture {
	t.Helper()

	var backendsMu sync.Mutex
	var backends []*player.FakeBackend
	pl := player.NewWithBackend(func() player.Backend {
		f := player.NewFakeBackend()
		backendsMu.Lock()
		backends = append(backends, f)
		backendsMu.Unlock()
		return f
	})

	sink := &recordSink{}
	opts := Options{
		Capture: capture.New(deviceCtx, capture.Config{
			Capture: audio.CaptureConfig{SampleRate: encoder.SampleRate, Channels: encoder.Channels},
			Format:  "wav",
		}),
		Player:    pl,
		Assistant: asker,
		Query: assistant.QueryParams{
			Language:            "tr",
			Limit:               5,
			SimilarityThreshold: 0.3,
			ResponseStyle:       "detailed",
		},
		Events: sink,
	}
	if mutate != nil {
		mutate(&opts)
	}

	c := NewController(opts)
	// Keep the silence machinery out of timing-sensitive tests.
	c.newDetector = func() (speechDetector, error) {
		return nil, errors.New("detector disabled in tests")
	}
	t.Cleanup(c.Close)
	return &fixture{ctrl: c, ctx: deviceCtx, sink: sink, asker: asker, backends: &backends}
}

func waitPhase(t *testing.T, c *Controller, want Phase) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for c.Phase() != want {
		select {
		case <-deadline:
			t.Fatalf("phase = %v, want %v", c.Phase(), want)
		case <-time.After(time.Millisecond):
		}
	}
}

func waitBackend(t *testing.T, backends *[]*player.FakeBackend) *player.FakeBackend {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		if len(*backends) > 0 {
			return (*backends)[len(*backends)-1]
		}
		select {
		case <-deadline:
			t.Fatal("no playback backend created")
		case <-time.After(time.Millisecond):
		}
	}
}

func TestVoiceQuestionRoundTrip(t *testing.T) {
	pcm := make([]byte, encoder.SampleRate/2)
	f := newFixture(t, audio.NewFakeContext(pcm, false), &fakeAsker{answer: goodAnswer()}, func(o *Options) {
		o.Analyzer = level.New()
	})

	if err := f.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if f.ctrl.Phase() != PhaseListening {
		t.Fatalf("phase = %v, want listening", f.ctrl.Phase())
	}
	if f.ctrl.InteractionID() == "" {
		t.Error("missing interaction id")
	}
	time.Sleep(50 * time.Millisecond) // let the level loop tick

	if err := f.ctrl.Finalize(context.Background()); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	// The mic is released as soon as Finalize returns.
	if got := f.ctx.OpenCaptures(); got != 0 {
		t.Errorf("open captures after Finalize = %d, want 0", got)
	}

	waitPhase(t, f.ctrl, PhasePlaying)
	b := waitBackend(t, f.backends)
	if string(b.Data()) != "reply-audio" {
		t.Error("playback did not receive the decoded reply")
	}
	b.Finish()
	waitPhase(t, f.ctrl, PhaseIdle)

	if f.asker.callCount() != 1 {
		t.Fatalf("upload count = %d, want 1", f.asker.callCount())
	}
	if f.asker.gotFormat != "wav" || len(f.asker.gotData) < 44 || string(f.asker.gotData[:4]) != "RIFF" {
		t.Error("uploaded payload is not the encoded recording")
	}
	if f.asker.gotParams.ResponseStyle != "detailed" || f.asker.gotParams.Limit != 5 {
		t.Errorf("query params not forwarded: %+v", f.asker.gotParams)
	}

	f.sink.mu.Lock()
	phases := append([]Phase(nil), f.sink.phases...)
	answers := append([]string(nil), f.sink.answers...)
	levels := f.sink.levels
	playEnds := f.sink.playEnds
	f.sink.mu.Unlock()

	wantOrder := []Phase{PhaseListening, PhaseFinalizing, PhaseUploading, PhasePlaying, PhaseIdle}
	if len(phases) != len(wantOrder) {
		t.Fatalf("phase transitions = %v, want %v", phases, wantOrder)
	}
	for i := range wantOrder {
		if phases[i] != wantOrder[i] {
			t.Fatalf("phase transitions = %v, want %v", phases, wantOrder)
		}
	}
	if len(answers) != 1 || answers[0] != "kira tespit davası" {
		t.Errorf("answers = %v", answers)
	}
	if levels == 0 {
		t.Error("no audio level events during listening")
	}
	if playEnds != 1 {
		t.Errorf("playback end events = %d, want 1", playEnds)
	}
}

func TestStopExitsVoiceMode(t *testing.T) {
	f := newFixture(t, audio.NewFakeContext(make([]byte, 2048), false), &fakeAsker{answer: goodAnswer()}, nil)

	if err := f.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := f.ctrl.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if got := f.ctx.OpenCaptures(); got != 0 {
		t.Errorf("open captures after Stop = %d, want 0", got)
	}
	waitPhase(t, f.ctrl, PhaseIdle)

	// The question is still answered, but in text only: the reply audio
	// is never played once voice mode is off.
	if f.asker.callCount() != 1 {
		t.Errorf("upload count = %d, want 1", f.asker.callCount())
	}
	time.Sleep(20 * time.Millisecond)
	if len(*f.backends) != 0 {
		t.Error("playback started after Stop exited voice mode")
	}
	f.sink.mu.Lock()
	answers := append([]string(nil), f.sink.answers...)
	f.sink.mu.Unlock()
	if len(answers) != 1 {
		t.Errorf("answers = %v, want one", answers)
	}

	// Stop is not re-entrant once idle.
	if err := f.ctrl.Stop(); !errors.Is(err, capture.ErrNoActiveRecording) {
		t.Errorf("second Stop = %v, want ErrNoActiveRecording", err)
	}
}

func TestDeviceUnavailable(t *testing.T) {
	f := newFixture(t, audio.NewDeniedContext(), &fakeAsker{answer: goodAnswer()}, nil)

	err := f.ctrl.Start(context.Background())
	if !errors.Is(err, capture.ErrDeviceUnavailable) {
		t.Fatalf("Start = %v, want ErrDeviceUnavailable", err)
	}
	if f.ctrl.Phase() != PhaseIdle {
		t.Errorf("phase = %v, want idle", f.ctrl.Phase())
	}
	if !errors.Is(f.sink.firstErr(), capture.ErrDeviceUnavailable) {
		t.Errorf("sink error = %v", f.sink.firstErr())
	}
	if got := f.ctx.OpenCaptures(); got != 0 {
		t.Errorf("open captures = %d, want 0", got)
	}
}

func TestUploadFailure(t *testing.T) {
	asker := &fakeAsker{err: assistant.ErrUploadFailed}
	f := newFixture(t, audio.NewFakeContext(make([]byte, 2048), false), asker, nil)

	if err := f.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := f.ctrl.Finalize(context.Background()); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	waitPhase(t, f.ctrl, PhaseIdle)

	if !errors.Is(f.sink.firstErr(), assistant.ErrUploadFailed) {
		t.Errorf("sink error = %v, want ErrUploadFailed", f.sink.firstErr())
	}
	if len(*f.backends) != 0 {
		t.Error("playback started despite failed upload")
	}
	if got := f.ctx.OpenCaptures(); got != 0 {
		t.Errorf("open captures = %d, want 0", got)
	}
}

func TestStartWhileListening(t *testing.T) {
	f := newFixture(t, audio.NewFakeContext(make([]byte, 2048), false), &fakeAsker{answer: goodAnswer()}, nil)

	if err := f.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := f.ctrl.Start(context.Background()); !errors.Is(err, capture.ErrAlreadyActive) {
		t.Errorf("second Start = %v, want ErrAlreadyActive", err)
	}
	if got := f.ctx.OpenCaptures(); got != 1 {
		t.Errorf("open captures = %d, want 1", got)
	}
}

func TestFinalizeWithoutRecording(t *testing.T) {
	f := newFixture(t, audio.NewFakeContext(nil, false), &fakeAsker{answer: goodAnswer()}, nil)
	if err := f.ctrl.Finalize(context.Background()); !errors.Is(err, capture.ErrNoActiveRecording) {
		t.Errorf("Finalize = %v, want ErrNoActiveRecording", err)
	}
}

func TestPayloadTooLarge(t *testing.T) {
	f := newFixture(t, audio.NewFakeContext(make([]byte, 8192), false), &fakeAsker{answer: goodAnswer()}, nil)
	f.ctrl.maxPayload = 64 // every real recording overflows this

	if err := f.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := f.ctrl.Finalize(context.Background()); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	waitPhase(t, f.ctrl, PhaseIdle)

	if !errors.Is(f.sink.firstErr(), ErrPayloadTooLarge) {
		t.Errorf("sink error = %v, want ErrPayloadTooLarge", f.sink.firstErr())
	}
	// The guard fires before any network activity.
	if f.asker.callCount() != 0 {
		t.Errorf("upload count = %d, want 0", f.asker.callCount())
	}
}

func TestPayloadLimitBoundary(t *testing.T) {
	if !PayloadWithinLimit(MaxPayloadBytes) {
		t.Error("a payload of exactly the limit must pass")
	}
	if PayloadWithinLimit(MaxPayloadBytes + 1) {
		t.Error("one byte over the limit must be rejected")
	}
}

func TestLateInterimDroppedAfterFinalize(t *testing.T) {
	fake := transcript.NewFake()
	asker := &fakeAsker{answer: goodAnswer(), block: make(chan struct{})}
	f := newFixture(t, audio.NewFakeContext(make([]byte, 2048), false), asker, func(o *Options) {
		o.NewChannel = func(context.Context) transcript.Channel { return fake }
	})

	if err := f.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	fake.EmitFinal("tahliye davası nasıl açılır")

	if err := f.ctrl.Finalize(context.Background()); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	// A straggler arriving after finalize must not repaint anything.
	if fake.EmitInterim("tahliye davası nasıl açılır acaba") {
		t.Error("interim accepted after finalize froze the transcript")
	}

	close(asker.block)
	waitPhase(t, f.ctrl, PhasePlaying)
	waitBackend(t, f.backends).Finish()
	waitPhase(t, f.ctrl, PhaseIdle)

	if f.sink.sawTranscript("tahliye davası nasıl açılır acaba") {
		t.Error("late interim reached the display")
	}
	if !f.sink.sawTranscript("tahliye davası nasıl açılır") {
		t.Error("committed transcript never reached the display")
	}
}

func TestStartWhilePlayingRejected(t *testing.T) {
	f := newFixture(t, audio.NewFakeContext(make([]byte, 2048), false), &fakeAsker{answer: goodAnswer()}, nil)

	if err := f.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := f.ctrl.Finalize(context.Background()); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	waitPhase(t, f.ctrl, PhasePlaying)
	b := waitBackend(t, f.backends)

	// Capture and playback never overlap: the reply keeps playing and
	// no microphone is acquired.
	if err := f.ctrl.Start(context.Background()); !errors.Is(err, player.ErrAlreadyPlaying) {
		t.Fatalf("Start during playback = %v, want ErrAlreadyPlaying", err)
	}
	if f.ctrl.Phase() != PhasePlaying {
		t.Errorf("phase = %v, want playing", f.ctrl.Phase())
	}
	if b.Killed() {
		t.Error("playback was interrupted by the rejected start")
	}
	if got := f.ctx.OpenCaptures(); got != 0 {
		t.Errorf("open captures = %d, want 0", got)
	}

	// Cutting the reply short frees the way for a new question.
	f.ctrl.StopPlayback()
	waitPhase(t, f.ctrl, PhaseIdle)
	if err := f.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start after StopPlayback: %v", err)
	}
	f.ctrl.Stop()
}

func TestStopPlaybackIsIdempotent(t *testing.T) {
	f := newFixture(t, audio.NewFakeContext(make([]byte, 2048), false), &fakeAsker{answer: goodAnswer()}, nil)

	f.ctrl.StopPlayback() // nothing playing: no-op

	if err := f.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := f.ctrl.Finalize(context.Background()); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	waitPhase(t, f.ctrl, PhasePlaying)

	f.ctrl.StopPlayback()
	waitPhase(t, f.ctrl, PhaseIdle)
	f.ctrl.StopPlayback() // again: no-op

	f.sink.mu.Lock()
	playEnds := f.sink.playEnds
	f.sink.mu.Unlock()
	if playEnds != 1 {
		t.Errorf("playback end events = %d, want 1", playEnds)
	}
}

func TestAnswerWithoutAudioReturnsToListening(t *testing.T) {
	asker := &fakeAsker{answer: &assistant.Answer{Text: "yalnızca metin"}}
	f := newFixture(t, audio.NewFakeContext(make([]byte, 2048), false), asker, nil)

	if err := f.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := f.ctrl.Finalize(context.Background()); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	// A text-only answer keeps voice mode on: after the upload the
	// controller returns to listening instead of dropping to idle.
	waitPhase(t, f.ctrl, PhaseListening)

	if len(*f.backends) != 0 {
		t.Error("playback backend created for a text-only answer")
	}
	if got := f.ctx.OpenCaptures(); got != 0 {
		t.Errorf("open captures while listening without a question = %d, want 0", got)
	}
	f.sink.mu.Lock()
	phases := append([]Phase(nil), f.sink.phases...)
	answers := append([]string(nil), f.sink.answers...)
	f.sink.mu.Unlock()
	wantOrder := []Phase{PhaseListening, PhaseFinalizing, PhaseUploading, PhaseListening}
	if len(phases) != len(wantOrder) {
		t.Fatalf("phase transitions = %v, want %v", phases, wantOrder)
	}
	for i := range wantOrder {
		if phases[i] != wantOrder[i] {
			t.Fatalf("phase transitions = %v, want %v", phases, wantOrder)
		}
	}
	if len(answers) != 1 || answers[0] != "yalnızca metin" {
		t.Errorf("answers = %v", answers)
	}

	// No capture is open, so there is nothing to finalize; Stop leaves
	// voice mode and returns to idle without another upload.
	if err := f.ctrl.Finalize(context.Background()); !errors.Is(err, capture.ErrNoActiveRecording) {
		t.Errorf("Finalize without a recording = %v, want ErrNoActiveRecording", err)
	}
	if err := f.ctrl.Stop(); err != nil {
		t.Fatalf("Stop from retained listening: %v", err)
	}
	waitPhase(t, f.ctrl, PhaseIdle)
	if f.asker.callCount() != 1 {
		t.Errorf("upload count = %d, want 1", f.asker.callCount())
	}
}

func TestNextQuestionAfterTextOnlyAnswer(t *testing.T) {
	asker := &fakeAsker{answer: &assistant.Answer{Text: "ilk yanıt"}}
	f := newFixture(t, audio.NewFakeContext(make([]byte, 2048), false), asker, nil)

	if err := f.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := f.ctrl.Finalize(context.Background()); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	waitPhase(t, f.ctrl, PhaseListening)

	// Starting from the retained listening state opens a fresh capture.
	if err := f.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start after text-only answer: %v", err)
	}
	if got := f.ctx.OpenCaptures(); got != 1 {
		t.Errorf("open captures = %d, want 1", got)
	}
	if err := f.ctrl.Finalize(context.Background()); err != nil {
		t.Fatalf("second Finalize: %v", err)
	}
	waitPhase(t, f.ctrl, PhaseListening)

	if f.asker.callCount() != 2 {
		t.Errorf("upload count = %d, want 2", f.asker.callCount())
	}
}

func TestCloseTearsEverythingDown(t *testing.T) {
	f := newFixture(t, audio.NewFakeContext(make([]byte, 2048), false), &fakeAsker{answer: goodAnswer()}, nil)

	if err := f.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	f.ctrl.Close()

	if got := f.ctx.OpenCaptures(); got != 0 {
		t.Errorf("open captures after Close = %d, want 0", got)
	}
	if err := f.ctrl.Start(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Start after Close = %v, want ErrClosed", err)
	}
	f.ctrl.Close() // idempotent
}
