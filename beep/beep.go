// Package beep plays the short synthesized cues that bracket a voice
// interaction: one when listening opens, one when the question is sent,
// one on failure. Playback is fire-and-forget; a cue that cannot sound
// never blocks or errors.
package beep

var disabled bool

// Disable silences every cue. Used by the headless harness, where a
// tone on a CI box is noise at best.
func Disable() { disabled = true }

const sampleRate = 44100

// tone is one synthesized note: a sine at freq shaped by an
// exponential decay envelope, optionally followed by a gap of silence.
type tone struct {
	freq   float64 // Hz
	dur    float64 // seconds
	volume float64 // 0..1
	decay  float64 // envelope rate, larger dies faster
	gap    float64 // trailing silence, seconds
}

// The cue vocabulary. Listening opens on a rising two-note chime, the
// question leaves on a single low confirmation, errors buzz twice on
// the same flat note.
var (
	cueStart = []tone{
		{freq: 880, dur: 0.05, volume: 0.4, decay: 50, gap: 0.02},
		{freq: 1320, dur: 0.07, volume: 0.4, decay: 45},
	}
	cueEnd = []tone{
		{freq: 660, dur: 0.09, volume: 0.45, decay: 35},
	}
	cueError = []tone{
		{freq: 311, dur: 0.09, volume: 0.55, decay: 25, gap: 0.06},
		{freq: 311, dur: 0.09, volume: 0.55, decay: 25},
	}
)
