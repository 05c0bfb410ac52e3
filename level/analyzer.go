// Package level turns raw capture samples into the loudness scalar and
// waveform snapshot that drive the voice-mode visuals.
package level

import (
	"encoding/binary"
	"math"
	"sync"
	"time"
)

const (
	// WindowSize is the time-domain analysis window, in samples.
	WindowSize = 1024

	// WaveformPoints is the fixed length of the downsampled waveform.
	WaveformPoints = 96

	// DefaultSensitivity scales RMS up before clamping; speech sits well
	// below full scale.
	DefaultSensitivity = 3.5

	// DefaultNoiseGate is the level below which ambient hiss is attenuated.
	DefaultNoiseGate = 0.03

	gateAttenuation = 0.2

	// tickInterval approximates a repaint cadence.
	tickInterval = 16 * time.Millisecond

	// staleAfter is how long the tick loop keeps emitting without fresh
	// samples. A healthy capture pushes every few milliseconds; past
	// this, the source is gone and the loop shuts itself down rather
	// than repaint a frozen window.
	staleAfter = 500 * time.Millisecond
)

// Snapshot is one analysis tick's output. Values are replaced wholesale
// every tick; readers must not mutate Waveform.
type Snapshot struct {
	Level    float64
	Waveform []float64
}

// Analyzer keeps a sliding window of the most recent samples and
// computes level/waveform snapshots on a fixed tick. Single writer
// (the capture callback via Push), any number of snapshot readers.
type Analyzer struct {
	Sensitivity float64
	NoiseGate   float64

	mu       sync.Mutex
	window   [WindowSize]float64
	pos      int
	filled   bool
	lastPush time.Time

	runMu sync.Mutex
	live  bool
	done  chan struct{}
}

func New() *Analyzer {
	return &Analyzer{
		Sensitivity: DefaultSensitivity,
		NoiseGate:   DefaultNoiseGate,
	}
}

// Push folds little-endian int16 PCM into the analysis window.
func (a *Analyzer) Push(pcm []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lastPush = time.Now()
	for i := 0; i+1 < len(pcm); i += 2 {
		sample := int16(binary.LittleEndian.Uint16(pcm[i:]))
		a.window[a.pos] = float64(sample) / 32768.0
		a.pos++
		if a.pos == WindowSize {
			a.pos = 0
			a.filled = true
		}
	}
}

// Snapshot computes the current level and waveform from the window.
func (a *Analyzer) Snapshot() Snapshot {
	a.mu.Lock()
	// Copy in chronological order so transients line up on screen.
	ordered := make([]float64, WindowSize)
	if a.filled {
		n := copy(ordered, a.window[a.pos:])
		copy(ordered[n:], a.window[:a.pos])
	} else {
		copy(ordered, a.window[:a.pos])
	}
	a.mu.Unlock()

	var sumSquares float64
	for _, s := range ordered {
		sumSquares += s * s
	}
	rms := math.Sqrt(sumSquares / WindowSize)

	lvl := rms * a.Sensitivity
	if lvl > 1 {
		lvl = 1
	}
	if lvl < a.NoiseGate {
		lvl *= gateAttenuation
	}

	// Pure subsampling, no averaging: transients stay visible.
	stride := WindowSize / WaveformPoints
	waveform := make([]float64, WaveformPoints)
	for i := range waveform {
		waveform[i] = math.Abs(ordered[i*stride])
	}

	return Snapshot{Level: lvl, Waveform: waveform}
}

// Run starts the tick loop, invoking emit with a fresh snapshot each
// tick. The loop checks liveness every frame and self-terminates after
// Stop, or on its own once the sample source stops pushing; it never
// relies on garbage collection of the closure.
func (a *Analyzer) Run(emit func(Snapshot)) {
	a.runMu.Lock()
	if a.live {
		a.runMu.Unlock()
		return
	}
	a.live = true
	a.done = make(chan struct{})
	done := a.done
	a.runMu.Unlock()

	a.mu.Lock()
	a.lastPush = time.Now()
	a.mu.Unlock()

	go func() {
		ticker := time.NewTicker(tickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				a.runMu.Lock()
				live := a.live
				a.runMu.Unlock()
				if !live {
					return
				}
				a.mu.Lock()
				stale := time.Since(a.lastPush) > staleAfter
				a.mu.Unlock()
				if stale {
					a.Stop()
					return
				}
				emit(a.Snapshot())
			}
		}
	}()
}

// Stop halts the tick loop. Safe to call when not running, and safe to
// call more than once.
func (a *Analyzer) Stop() {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	if !a.live {
		return
	}
	a.live = false
	close(a.done)
}

// Reset clears the window between capture sessions.
func (a *Analyzer) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.window = [WindowSize]float64{}
	a.pos = 0
	a.filled = false
}
