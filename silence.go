package main

import "time"

const (
	levelInterval    = 200 * time.Millisecond
	silenceWarnEvery = 8 * time.Second
	speechPeakFloor  = 0.02
	speechMinRatio   = 0.10
	speechClearRatio = 0.25 // higher threshold to clear warning (hysteresis)
)

type SilenceEvent int

const (
	SilenceNone      SilenceEvent = iota
	SilenceWarn                   // no audible input
	SilenceWarnClear              // input resumed after warning
	SilenceRepeat                 // repeat cue (every 8s)
)

// silenceMonitor watches peak levels during a recording and decides when
// the user should be nudged about a dead microphone. Sampling happens on
// the caller's clock (levelInterval); the monitor only counts ticks.
type silenceMonitor struct {
	warnAt   int
	windowSz int

	ticks   int
	window  []bool
	warned  bool
	lastCue int
}

func newSilenceMonitor() *silenceMonitor {
	warnAt := int(silenceWarnEvery / levelInterval)
	return &silenceMonitor{
		warnAt:   warnAt,
		windowSz: warnAt,
		window:   make([]bool, warnAt),
	}
}

// Reset clears all tick history. Called between recording turns so one
// turn's silence cannot leak a warning into the next.
func (m *silenceMonitor) Reset() {
	m.ticks = 0
	m.warned = false
	m.lastCue = 0
	for i := range m.window {
		m.window[i] = false
	}
}

func (m *silenceMonitor) ratio() float64 {
	n := m.windowSz
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

// Tick records one level sample and returns the event, if any, that the
// sample triggered. peak is the normalized peak amplitude of the most
// recent audio chunk.
func (m *silenceMonitor) Tick(peak float64) SilenceEvent {
	hasAudio := peak >= speechPeakFloor

	m.window[m.ticks%m.windowSz] = hasAudio
	m.ticks++

	r := m.ratio()

	// Warn: 8s window below threshold
	if m.ticks >= m.warnAt && r < speechMinRatio && !m.warned {
		m.warned = true
		m.lastCue = m.ticks
		return SilenceWarn
	}
	// Clear: audio ratio above clear threshold
	if m.warned && r >= speechClearRatio {
		m.warned = false
		return SilenceWarnClear
	}

	// Repeat cue every 8s while the warning stands
	if m.warned && m.ticks-m.lastCue >= m.warnAt {
		m.lastCue = m.ticks
		return SilenceRepeat
	}

	return SilenceNone
}
