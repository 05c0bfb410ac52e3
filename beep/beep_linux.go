//go:build linux

package beep

import (
	"math"
	"sync"

	"github.com/jfreymuth/pulse"
	"github.com/jfreymuth/pulse/proto"
)

var (
	startSamples []int16
	endSamples   []int16
	errorSamples []int16
	soundOnce    sync.Once
)

func initSound() {
	startSamples = renderStereo(cueStart)
	endSamples = renderStereo(cueEnd)
	errorSamples = renderStereo(cueError)
}

// renderStereo synthesizes a cue as interleaved stereo int16, the
// sample layout pulse expects.
func renderStereo(cue []tone) []int16 {
	var out []int16
	for _, tn := range cue {
		n := int(float64(sampleRate) * tn.dur)
		for i := 0; i < n; i++ {
			t := float64(i) / float64(sampleRate)
			envelope := math.Exp(-t * tn.decay)
			s := int16(math.Sin(2*math.Pi*tn.freq*t) * 32767 * tn.volume * envelope)
			out = append(out, s, s)
		}
		out = append(out, make([]int16, int(float64(sampleRate)*tn.gap)*2)...)
	}
	return out
}

func playSamples(samples []int16) {
	if disabled || len(samples) == 0 {
		return
	}
	c, err := pulse.NewClient()
	if err != nil {
		return
	}
	defer c.Close()

	pos := 0
	reader := pulse.Int16Reader(func(buf []int16) (int, error) {
		if pos >= len(samples) {
			return 0, pulse.EndOfData
		}
		n := copy(buf, samples[pos:])
		pos += n
		return n, nil
	})
	stream, err := c.NewPlayback(reader,
		pulse.PlaybackStereo,
		pulse.PlaybackSampleRate(sampleRate),
		pulse.PlaybackLatency(0.1),
		pulse.PlaybackRawOption(func(p *proto.CreatePlaybackStream) {
			p.ChannelVolumes = proto.ChannelVolumes{uint32(proto.VolumeNorm), uint32(proto.VolumeNorm)}
		}),
	)
	if err != nil {
		return
	}
	stream.Start()
	stream.Drain()
	stream.Stop()
	stream.Close()
}

func Init() {
	soundOnce.Do(initSound)
}

func PlayStart() {
	soundOnce.Do(initSound)
	go playSamples(startSamples)
}

func PlayEnd() {
	soundOnce.Do(initSound)
	go playSamples(endSamples)
}

func PlayError() {
	soundOnce.Do(initSound)
	go playSamples(errorSamples)
}
