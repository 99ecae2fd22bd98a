// Package beep plays the daemon's short audio cues: a tick when a
// recording starts, a lower tick when it stops, and a double beep when
// the microphone looks dead.
package beep

var disabled bool

// Disable turns every cue into a no-op. Used by -quiet and test mode.
func Disable() { disabled = true }

const (
	sampleRate = 44100

	// Start cue: high pitch, short
	startFreq   = 1200
	startVolume = 0.5
	startDecay  = 60

	// Stop cue: medium pitch, slightly longer
	stopFreq   = 900
	stopVolume = 0.5
	stopDecay  = 40

	// Warn cue: low pitch double beep
	warnFreq   = 350
	warnVolume = 0.6
	warnDecay  = 30
)
