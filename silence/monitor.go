// Package silence watches for recordings where nobody is talking:
// it warns after sustained silence and, when auto-finalize is enabled,
// ends the question instead of letting the mic run forever.
package silence

import "time"

const (
	// TickInterval is how often the monitor expects Tick calls.
	TickInterval = 100 * time.Millisecond

	warnEvery       = 8 * time.Second
	autoFinalizeDur = 30 * time.Second
	speechMinRatio  = 0.10
	// Higher threshold to clear the warning (hysteresis).
	speechClearRatio = 0.25
)

type Event int

const (
	None         Event = iota
	Warn               // no voice detected
	WarnClear          // speech resumed after warning
	Repeat             // repeat warning (every 8s)
	AutoFinalize       // 30s of silence with auto-finalize enabled
)

// Monitor turns per-tick speech flags into silence events. One instance
// per recording; not safe for concurrent use.
type Monitor struct {
	warnAt   int
	windowSz int

	autoFinalize func() bool

	ticks       int
	window      []bool
	speechCount int
	warned      bool
	lastWarn    int
}

func NewMonitor(autoFinalize func() bool) *Monitor {
	warnAt := int(warnEvery / TickInterval)
	windowSz := int(autoFinalizeDur / TickInterval)
	return &Monitor{
		warnAt:       warnAt,
		windowSz:     windowSz,
		autoFinalize: autoFinalize,
		window:       make([]bool, windowSz),
	}
}

func (m *Monitor) ratio(n int) float64 {
	if m.ticks < n {
		n = m.ticks
	}
	if n == 0 {
		return 1.0
	}
	count := 0
	for i := 0; i < n; i++ {
		if m.window[(m.ticks-1-i+m.windowSz)%m.windowSz] {
			count++
		}
	}
	return float64(count) / float64(n)
}

func (m *Monitor) Tick(hasSpeech bool) Event {
	idx := m.ticks % m.windowSz
	if m.ticks >= m.windowSz && m.window[idx] {
		m.speechCount--
	}
	m.window[idx] = hasSpeech
	if hasSpeech {
		m.speechCount++
	}
	m.ticks++

	r := m.ratio(m.warnAt)

	// Warn: 8s window below threshold
	if m.ticks >= m.warnAt && r < speechMinRatio && !m.warned {
		m.warned = true
		m.lastWarn = m.ticks
		return Warn
	}
	// Clear: speech ratio above clear threshold
	if m.warned && r >= speechClearRatio {
		m.warned = false
		return WarnClear
	}

	if !m.autoFinalize() {
		return None
	}

	// Auto-finalize: 30s window below threshold (checked before repeat)
	if m.ticks >= m.windowSz && float64(m.speechCount)/float64(m.windowSz) < speechMinRatio {
		return AutoFinalize
	}

	// Repeat warning every 8s
	if m.warned && m.ticks-m.lastWarn >= m.warnAt {
		m.lastWarn = m.ticks
		return Repeat
	}

	return None
}
