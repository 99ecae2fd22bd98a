package main

import "fmt"

// EventSink receives user-facing status updates from the recording
// pipeline. The TUI implements it with program messages; headless mode
// gets plain console lines instead.
type EventSink interface {
	RecordingStart(cardID int64)
	RecordingStop(path string, seconds float64)
	RecordingTick(seconds float64)
	AudioLevel(peak float64)
	SilenceWarning(on bool)
	SaveResult(ok bool, detail string)
	TranscriptSaved(text string)
	DeviceLine(text string)
	StatusLine(text string)
}

// consoleSink prints events to stdout for -tui=false runs. Per-tick
// noise (durations, levels) is dropped so logs stay readable when the
// daemon runs under a supervisor.
type consoleSink struct{}

func (consoleSink) RecordingStart(cardID int64) {
	if cardID > 0 {
		fmt.Printf("● recording (card %d)\n", cardID)
		return
	}
	fmt.Println("● recording")
}

func (consoleSink) RecordingStop(path string, seconds float64) {
	if path == "" {
		fmt.Printf("○ stopped after %.1fs (no file)\n", seconds)
		return
	}
	fmt.Printf("○ stopped after %.1fs → %s\n", seconds, path)
}

func (consoleSink) RecordingTick(seconds float64) {}

func (consoleSink) AudioLevel(peak float64) {}

func (consoleSink) SilenceWarning(on bool) {
	if on {
		fmt.Println("⚠ no audio detected — check your microphone")
	} else {
		fmt.Println("✓ audio detected again")
	}
}

func (consoleSink) SaveResult(ok bool, detail string) {
	if ok {
		fmt.Println("✓ transcript saved")
		return
	}
	fmt.Printf("✗ transcript not saved: %s\n", detail)
}

func (consoleSink) TranscriptSaved(text string) {}

func (consoleSink) DeviceLine(text string) {
	fmt.Printf("mic: %s\n", text)
}

func (consoleSink) StatusLine(text string) {
	fmt.Println(text)
}

// nopSink swallows everything. Used by -test mode where the harness
// reads structured log lines instead of console output.
type nopSink struct{}

func (nopSink) RecordingStart(cardID int64)                {}
func (nopSink) RecordingStop(path string, seconds float64) {}
func (nopSink) RecordingTick(seconds float64)              {}
func (nopSink) AudioLevel(peak float64)                    {}
func (nopSink) SilenceWarning(on bool)                     {}
func (nopSink) SaveResult(ok bool, detail string)          {}
func (nopSink) TranscriptSaved(text string)                {}
func (nopSink) DeviceLine(text string)                     {}
func (nopSink) StatusLine(text string)                     {}
