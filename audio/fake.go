package audio

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"
)

const fakeChunkFrames = 1024

// FakeContext is a test backend. It plays PCM through the data
// callback (then silence forever) instead of touching real hardware.
// The zero value behaves like a default device that grants whatever
// format is requested; the knobs simulate the awkward cases.
type FakeContext struct {
	PCM      []byte
	Realtime bool

	NoDevices    bool          // NewCapture fails as if no input device exists
	DeviceFormat Format        // non-zero: the only format the device opens with
	FailStart    bool          // Start returns an error after a successful open
	StopDelay    time.Duration // Stop takes this long to return
}

// NewFakeContext loads the payload of a WAV file as the signal to
// play back. Used by the stdin-driven test mode.
func NewFakeContext(wavPath string, realtime bool) (*FakeContext, error) {
	data, err := os.ReadFile(wavPath)
	if err != nil {
		return nil, err
	}
	if len(data) < 44 {
		return nil, fmt.Errorf("audio: %s is too short to be a WAV file", wavPath)
	}
	return &FakeContext{PCM: data[44:], Realtime: realtime}, nil
}

func (f *FakeContext) Devices() ([]DeviceInfo, error) {
	if f.NoDevices {
		return nil, nil
	}
	return []DeviceInfo{{ID: "fake0", Name: "fake capture"}}, nil
}

func (f *FakeContext) Close() {}

func (f *FakeContext) NewCapture(_ *DeviceInfo, want Format) (CaptureDevice, Format, error) {
	if f.NoDevices {
		return nil, Format{}, errors.New("audio: no capture devices")
	}
	got := want
	if f.DeviceFormat != (Format{}) {
		got = f.DeviceFormat
	}
	capture := &FakeCapture{
		pcm:       f.PCM,
		realtime:  f.Realtime,
		failStart: f.FailStart,
		stopDelay: f.StopDelay,
		format:    got,
		audioDone: make(chan struct{}),
	}
	return capture, got, nil
}

type FakeCapture struct {
	pcm       []byte
	realtime  bool
	failStart bool
	stopDelay time.Duration
	format    Format
	audioDone chan struct{}

	mu       sync.Mutex
	cb       DataCallback
	stopCh   chan struct{}
	feedDone chan struct{}
}

// AudioDone closes once the whole source signal has been fed. After
// that the capture produces silence until stopped.
func (f *FakeCapture) AudioDone() <-chan struct{} { return f.audioDone }

func (f *FakeCapture) SetCallback(cb DataCallback) {
	f.mu.Lock()
	f.cb = cb
	f.mu.Unlock()
}

func (f *FakeCapture) ClearCallback() {
	f.mu.Lock()
	f.cb = nil
	f.mu.Unlock()
}

func (f *FakeCapture) loadCB() DataCallback {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cb
}

func (f *FakeCapture) feedChunk(cb DataCallback, pos, chunkBytes int) int {
	end := min(pos+chunkBytes, len(f.pcm))
	chunk := make([]byte, end-pos)
	copy(chunk, f.pcm[pos:end])
	cb(chunk, uint32(len(chunk)/f.format.FrameSize()))
	return end
}

func (f *FakeCapture) Start() error {
	if f.failStart {
		return errors.New("audio: fake start failure")
	}
	f.stopCh = make(chan struct{})
	f.feedDone = make(chan struct{})
	// audioDone is NOT recreated here; callers may already be waiting
	// on it. It is reset in Stop for replay.

	chunkBytes := fakeChunkFrames * f.format.FrameSize()

	if !f.realtime {
		if cb := f.loadCB(); cb != nil {
			for pos := 0; pos < len(f.pcm); {
				pos = f.feedChunk(cb, pos, chunkBytes)
			}
		}
		close(f.audioDone)

		go func() {
			defer close(f.feedDone)
			silence := make([]byte, chunkBytes)
			for {
				select {
				case <-f.stopCh:
					return
				case <-time.After(time.Millisecond):
				}
				if cb := f.loadCB(); cb != nil {
					cb(silence, fakeChunkFrames)
				}
			}
		}()
		return nil
	}

	interval := time.Duration(fakeChunkFrames) * time.Second / time.Duration(f.format.SampleRate)
	go func() {
		defer close(f.feedDone)
		pos := 0
		silence := make([]byte, chunkBytes)
		audioFinished := false

		for {
			select {
			case <-f.stopCh:
				return
			default:
			}

			cb := f.loadCB()
			if cb == nil {
				time.Sleep(time.Millisecond)
				continue
			}

			if pos < len(f.pcm) {
				pos = f.feedChunk(cb, pos, chunkBytes)
			} else {
				if !audioFinished {
					audioFinished = true
					close(f.audioDone)
				}
				cb(silence, fakeChunkFrames)
			}

			select {
			case <-f.stopCh:
				return
			case <-time.After(interval):
			}
		}
	}()

	return nil
}

func (f *FakeCapture) Stop() {
	if f.stopCh == nil {
		return
	}
	select {
	case <-f.stopCh:
	default:
		close(f.stopCh)
	}
	<-f.feedDone
	if f.stopDelay > 0 {
		time.Sleep(f.stopDelay)
	}
	f.audioDone = make(chan struct{}) // reset for replay
}

func (f *FakeCapture) Close() {}
