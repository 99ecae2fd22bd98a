// Package audio abstracts microphone capture behind a small backend
// interface so the recording pipeline can run against miniaudio,
// PulseAudio, or an in-process fake.
package audio

import "strings"

// Format is the PCM layout a capture stream delivers. NewCapture
// treats it as a request and returns the layout actually opened;
// callers must use the returned value, not the request.
type Format struct {
	SampleRate  int
	Channels    int
	SampleWidth int // bytes per sample
}

func (f Format) FrameSize() int { return f.Channels * f.SampleWidth }

// DataCallback receives captured PCM. The slice is only valid for the
// duration of the call.
type DataCallback func(data []byte, frameCount uint32)

type DeviceInfo struct {
	ID   string // opaque platform-specific identifier
	Name string
}

type Context interface {
	Devices() ([]DeviceInfo, error)
	// NewCapture opens a capture stream on device (nil = system
	// default) as close to want as the backend supports, and returns
	// the negotiated format.
	NewCapture(device *DeviceInfo, want Format) (CaptureDevice, Format, error)
	Close()
}

type CaptureDevice interface {
	Start() error
	Stop()
	Close()
	SetCallback(cb DataCallback)
	ClearCallback()
}

var btKeywords = []string{
	"airpods", "beats", "bose", "wh-1000", "wf-1000",
	"sony wh-", "sony wf-",
	"jabra", "galaxy buds", "pixel buds", "powerbeats",
	"jbl ", "sennheiser momentum", "plantronics",
	"tozo", "anker soundcore", "skullcandy",
	"bluetooth", " bt ", " bt)", " bt]",
}

// IsBluetooth reports whether a device name looks like a Bluetooth
// headset, which typically captures at reduced quality.
func IsBluetooth(name string) bool {
	lower := strings.ToLower(name)
	for _, kw := range btKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
