package voice

// EventSink abstracts the display layer so the TUI and the headless
// test harness receive the same interaction events. Implementations
// must return quickly and must not call back into the controller.
type EventSink interface {
	PhaseChange(from, to Phase)
	ListeningTick(duration float64)
	AudioLevel(level float64, waveform []float64)
	TranscriptUpdate(committed, interim string)
	SilenceWarning(on bool)
	AnswerReady(text string)
	PlaybackStart()
	PlaybackEnd()
	Error(err error)
}

// NopSink discards every event.
type NopSink struct{}

func (NopSink) PhaseChange(Phase, Phase)        {}
func (NopSink) ListeningTick(float64)           {}
func (NopSink) AudioLevel(float64, []float64)   {}
func (NopSink) TranscriptUpdate(string, string) {}
func (NopSink) SilenceWarning(bool)             {}
func (NopSink) AnswerReady(string)              {}
func (NopSink) PlaybackStart()                  {}
func (NopSink) PlaybackEnd()                    {}
func (NopSink) Error(error)                     {}
