//go:build darwin

package beep

import (
	"math"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"
)

// Core Audio output via malgo. The device stays initialized between
// cues; the data callback streams the active cue and then silence.
var (
	outCtx    *malgo.AllocatedContext
	outDev    *malgo.Device
	outMu     sync.Mutex
	soundOnce sync.Once

	activeCue atomic.Pointer[[]byte]
	cuePos    atomic.Uint32

	startSamples []byte
	endSamples   []byte
	errorSamples []byte
)

func initSound() {
	if disabled {
		return
	}
	var err error
	outCtx, err = malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return
	}

	startSamples = renderMono(cueStart)
	endSamples = renderMono(cueEnd)
	errorSamples = renderMono(cueError)

	if err := openDevice(); err != nil {
		outCtx.Uninit()
		outCtx = nil
	}
}

func openDevice() error {
	config := malgo.DefaultDeviceConfig(malgo.Playback)
	config.Playback.Format = malgo.FormatS16
	config.Playback.Channels = 1
	config.SampleRate = sampleRate

	dev, err := malgo.InitDevice(outCtx.Context, config, malgo.DeviceCallbacks{
		Data: streamCue,
	})
	if err != nil {
		return err
	}
	outDev = dev
	return nil
}

// streamCue copies the active cue into the output buffer, zero-filling
// whatever the cue does not cover. Runs on the audio thread; only the
// atomics are touched.
func streamCue(pOutput, _ []byte, frameCount uint32) {
	want := frameCount * 2
	cue := activeCue.Load()
	if cue == nil {
		clear(pOutput[:want])
		return
	}

	pos := cuePos.Load()
	remaining := uint32(len(*cue)) - pos
	if remaining == 0 {
		activeCue.Store(nil)
		clear(pOutput[:want])
		return
	}

	n := want
	if n > remaining {
		n = remaining
	}
	copy(pOutput[:n], (*cue)[pos:pos+n])
	cuePos.Store(pos + n)
	clear(pOutput[n:want])
}

// renderMono synthesizes a cue as little-endian mono int16 bytes.
func renderMono(cue []tone) []byte {
	var out []byte
	for _, tn := range cue {
		n := int(float64(sampleRate) * tn.dur)
		for i := 0; i < n; i++ {
			t := float64(i) / float64(sampleRate)
			envelope := math.Exp(-t * tn.decay)
			s := int16(math.Sin(2*math.Pi*tn.freq*t) * 32767 * tn.volume * envelope)
			out = append(out, byte(s), byte(s>>8))
		}
		out = append(out, make([]byte, int(float64(sampleRate)*tn.gap)*2)...)
	}
	return out
}

func playCue(samples []byte) {
	if disabled || outCtx == nil || len(samples) == 0 {
		return
	}

	outMu.Lock()
	defer outMu.Unlock()
	if outDev == nil {
		return
	}

	outDev.Stop() // no-op when already stopped
	cuePos.Store(0)
	activeCue.Store(&samples)

	if err := outDev.Start(); err == nil {
		return
	}
	// Core Audio devices go stale across sleep/wake; rebuild once.
	outDev.Uninit()
	outDev = nil
	if err := openDevice(); err != nil {
		activeCue.Store(nil)
		return
	}
	if err := outDev.Start(); err != nil {
		activeCue.Store(nil)
	}
}

func Init() {
	soundOnce.Do(initSound)
}

func PlayStart() {
	soundOnce.Do(initSound)
	playCue(startSamples)
}

func PlayEnd() {
	soundOnce.Do(initSound)
	playCue(endSamples)
}

func PlayError() {
	soundOnce.Do(initSound)
	playCue(errorSamples)
}
