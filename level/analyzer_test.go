package level

import (
	"encoding/binary"
	"math"
	"sync/atomic"
	"testing"
	"time"
)

func pcmFromSamples(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

func TestSilenceIsZero(t *testing.T) {
	a := New()
	a.Push(make([]byte, WindowSize*2))

	snap := a.Snapshot()
	if snap.Level != 0 {
		t.Errorf("level for silence = %f, want 0", snap.Level)
	}
	for i, v := range snap.Waveform {
		if v != 0 {
			t.Fatalf("waveform[%d] = %f, want 0", i, v)
		}
	}
}

func TestFullScaleClampsToOne(t *testing.T) {
	a := New()
	samples := make([]int16, WindowSize)
	for i := range samples {
		samples[i] = int16(32000 * math.Sin(2*math.Pi*float64(i)/64))
	}
	a.Push(pcmFromSamples(samples))

	// RMS of a near-full-scale sine is ~0.69; scaled by sensitivity it
	// overshoots and must clamp.
	snap := a.Snapshot()
	if snap.Level != 1 {
		t.Errorf("level = %f, want clamped 1", snap.Level)
	}
}

func TestNoiseGateAttenuates(t *testing.T) {
	a := New()
	samples := make([]int16, WindowSize)
	for i := range samples {
		// Tiny constant amplitude: RMS*sensitivity lands under the gate.
		samples[i] = 100
	}
	a.Push(pcmFromSamples(samples))

	raw := (100.0 / 32768.0) * a.Sensitivity
	if raw >= a.NoiseGate {
		t.Fatalf("test amplitude too loud for gate: %f", raw)
	}
	snap := a.Snapshot()
	want := raw * gateAttenuation
	if math.Abs(snap.Level-want) > 1e-9 {
		t.Errorf("gated level = %f, want %f", snap.Level, want)
	}
}

func TestLoudSignalPassesGate(t *testing.T) {
	a := New()
	samples := make([]int16, WindowSize)
	for i := range samples {
		samples[i] = 3000
	}
	a.Push(pcmFromSamples(samples))

	want := (3000.0 / 32768.0) * a.Sensitivity
	snap := a.Snapshot()
	if math.Abs(snap.Level-want) > 1e-9 {
		t.Errorf("level = %f, want ungated %f", snap.Level, want)
	}
}

func TestWaveformShape(t *testing.T) {
	a := New()
	samples := make([]int16, WindowSize)
	for i := range samples {
		samples[i] = -16384 // magnitude 0.5 regardless of sign
	}
	a.Push(pcmFromSamples(samples))

	snap := a.Snapshot()
	if len(snap.Waveform) != WaveformPoints {
		t.Fatalf("waveform length = %d, want %d", len(snap.Waveform), WaveformPoints)
	}
	for i, v := range snap.Waveform {
		if math.Abs(v-0.5) > 1e-9 {
			t.Fatalf("waveform[%d] = %f, want 0.5", i, v)
		}
	}
}

func TestPushWrapsWindow(t *testing.T) {
	a := New()
	// Fill with loud samples, then overwrite the whole window with
	// silence. The old signal must not leak into the snapshot.
	loud := make([]int16, WindowSize)
	for i := range loud {
		loud[i] = 20000
	}
	a.Push(pcmFromSamples(loud))
	a.Push(make([]byte, WindowSize*2))

	if snap := a.Snapshot(); snap.Level != 0 {
		t.Errorf("level after overwrite = %f, want 0", snap.Level)
	}
}

func TestRunStopsTicking(t *testing.T) {
	a := New()
	var ticks atomic.Int64
	a.Run(func(Snapshot) { ticks.Add(1) })

	deadline := time.After(2 * time.Second)
	for ticks.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("no ticks emitted")
		case <-time.After(5 * time.Millisecond):
		}
	}

	a.Stop()
	settled := ticks.Load()
	time.Sleep(5 * tickInterval)
	// One in-flight tick may land after Stop, never more.
	if after := ticks.Load(); after > settled+1 {
		t.Errorf("ticks continued after Stop: %d -> %d", settled, after)
	}

	a.Stop() // second Stop is a no-op
}

func TestRunStopsWhenSourceGoesQuiet(t *testing.T) {
	a := New()
	var ticks atomic.Int64
	a.Run(func(Snapshot) { ticks.Add(1) })
	a.Push(make([]byte, 64)) // one delivery, then the source dies

	// Wait out the staleness window plus slack for the loop to notice.
	time.Sleep(staleAfter + 10*tickInterval)
	settled := ticks.Load()
	if settled == 0 {
		t.Fatal("no ticks emitted while the source was fresh")
	}
	time.Sleep(10 * tickInterval)
	if after := ticks.Load(); after != settled {
		t.Errorf("ticks continued on a dead source: %d -> %d", settled, after)
	}

	// The loop shut itself down, so a new Run starts cleanly.
	a.Run(func(Snapshot) { ticks.Add(1) })
	defer a.Stop()
	deadline := time.After(2 * time.Second)
	for ticks.Load() == settled {
		select {
		case <-deadline:
			t.Fatal("Run after self-stop emitted nothing")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestRunTwiceIsNoop(t *testing.T) {
	a := New()
	var ticks atomic.Int64
	a.Run(func(Snapshot) { ticks.Add(1) })
	a.Run(func(Snapshot) { ticks.Add(1000) })
	defer a.Stop()

	time.Sleep(4 * tickInterval)
	if ticks.Load() >= 1000 {
		t.Error("second Run started another loop")
	}
}

func TestReset(t *testing.T) {
	a := New()
	loud := make([]int16, WindowSize)
	for i := range loud {
		loud[i] = 20000
	}
	a.Push(pcmFromSamples(loud))
	a.Reset()

	if snap := a.Snapshot(); snap.Level != 0 {
		t.Errorf("level after Reset = %f, want 0", snap.Level)
	}
}
