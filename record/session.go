// Package record owns the recording lifecycle: one Session per spoken
// answer, streaming microphone audio into a growing WAV file while
// fanning drained chunks out to registered sinks.
package record

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"ankiscribe/audio"
	"ankiscribe/log"
	"ankiscribe/wav"
)

type State int

const (
	StateIdle State = iota
	StateStarting
	StateRecording
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateRecording:
		return "recording"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

var (
	ErrAlreadyRecording  = errors.New("record: recording already in progress")
	ErrDeviceUnavailable = errors.New("record: capture device unavailable")
	ErrFormatUnsupported = errors.New("record: capture format unsupported")
)

// DefaultFormat is the capture layout requested from the backend.
// Backends may negotiate something else; the session records whatever
// comes back.
var DefaultFormat = audio.Format{SampleRate: 16000, Channels: 1, SampleWidth: 2}

const (
	captureBufSize = 8192
	drainInterval  = 50 * time.Millisecond
)

// ChunkSink receives every drained PCM chunk of a recording, in drain
// order. The slice is shared between sinks and must not be retained.
type ChunkSink interface {
	OnChunk(pcm []byte)
}

type Config struct {
	Context audio.Context
	Device  *audio.DeviceInfo // nil = system default
	Path    string
	CardID  int64
	Format  audio.Format // zero value = DefaultFormat
	Chunks  []ChunkSink
	OnLevel func(peak float64)
}

// Session drives one recording from device open to file close. The
// capture callback fills a bounded buffer; a single drain goroutine
// moves buffered audio to the WAV writer and the chunk sinks, so
// drains never overlap. Sessions are single use.
type Session struct {
	id      string
	ctx     audio.Context
	device  *audio.DeviceInfo
	path    string
	cardID  int64
	want    audio.Format
	chunks  []ChunkSink
	levelFn func(peak float64)

	mu          sync.Mutex
	state       State
	err         error
	startedAt   time.Time
	wallSeconds float64

	// published under mu in Start, immutable once set
	capture audio.CaptureDevice
	writer  *wav.Writer
	format  audio.Format

	bufMu   sync.Mutex
	buf     []byte
	dropped uint64

	drains uint64 // touched only by the drain goroutine

	dataReady chan struct{}
	stopCh    chan struct{}
	doneCh    chan struct{}
	stopOnce  sync.Once
}

func New(cfg Config) *Session {
	want := cfg.Format
	if want == (audio.Format{}) {
		want = DefaultFormat
	}
	return &Session{
		id:        uuid.NewString()[:8],
		ctx:       cfg.Context,
		device:    cfg.Device,
		path:      cfg.Path,
		cardID:    cfg.CardID,
		want:      want,
		chunks:    cfg.Chunks,
		levelFn:   cfg.OnLevel,
		buf:       make([]byte, 0, captureBufSize),
		dataReady: make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Start opens the capture device and begins streaming into the WAV
// file. Device failures degrade the session instead of failing the
// turn: Start still returns nil, the session reports zero duration
// and produces no file. The error is kept on Err.
func (s *Session) Start() error {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return ErrAlreadyRecording
	}
	s.state = StateStarting
	s.mu.Unlock()

	capture, got, err := s.ctx.NewCapture(s.device, s.want)
	if err != nil {
		s.fail(fmt.Errorf("%w: %v", ErrDeviceUnavailable, err))
		return nil
	}
	if got.SampleRate <= 0 || got.FrameSize() <= 0 {
		capture.Close()
		s.fail(fmt.Errorf("%w: %dHz %d-byte frames", ErrFormatUnsupported, got.SampleRate, got.FrameSize()))
		return nil
	}

	capture.SetCallback(s.onData)
	if err := capture.Start(); err != nil {
		capture.Close()
		s.fail(fmt.Errorf("%w: start: %v", ErrDeviceUnavailable, err))
		return nil
	}

	w, err := wav.Create(s.path, wav.Format{
		SampleRate:  got.SampleRate,
		Channels:    got.Channels,
		SampleWidth: got.SampleWidth,
	})
	if err != nil {
		// Keep capturing: chunks still reach the sinks, duration
		// falls back to the wall clock.
		log.Errorf("recording %s: create %s: %v", s.id, s.path, err)
	}

	s.mu.Lock()
	s.capture = capture
	s.format = got
	s.writer = w
	s.startedAt = time.Now()
	s.state = StateRecording
	s.mu.Unlock()

	log.RecordingStart(s.id, s.cardID, s.path, got.SampleRate, got.Channels)
	go s.drainLoop()
	return nil
}

// fail abandons a session that never reached StateRecording.
func (s *Session) fail(err error) {
	log.Errorf("recording %s degraded: %v", s.id, err)
	s.mu.Lock()
	s.err = err
	s.state = StateStopped
	s.mu.Unlock()
	close(s.doneCh)
}

// onData runs on the backend's capture thread. Overflow beyond the
// buffer cap is dropped and counted rather than blocking the device.
func (s *Session) onData(data []byte, _ uint32) {
	s.bufMu.Lock()
	n := len(data)
	if free := captureBufSize - len(s.buf); n > free {
		s.dropped += uint64(n - free)
		n = free
	}
	if n > 0 {
		s.buf = append(s.buf, data[:n]...)
	}
	s.bufMu.Unlock()

	if n > 0 {
		select {
		case s.dataReady <- struct{}{}:
		default:
		}
	}
}

func (s *Session) drainLoop() {
	ticker := time.NewTicker(drainInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.drain()
		case <-s.dataReady:
			s.drain()
		case <-s.stopCh:
			s.shutdown()
			return
		}
	}
}

// drain moves everything buffered so far to the writer and the sinks.
// Only the drain goroutine calls it, so consecutive drains never
// interleave and an empty buffer makes it a no-op.
func (s *Session) drain() {
	s.bufMu.Lock()
	if len(s.buf) == 0 {
		s.bufMu.Unlock()
		return
	}
	chunk := s.buf
	s.buf = make([]byte, 0, captureBufSize)
	s.bufMu.Unlock()

	s.drains++
	if s.writer != nil {
		if err := s.writer.Write(chunk); err != nil {
			log.Errorf("recording %s: write: %v", s.id, err)
		}
	}
	if s.levelFn != nil {
		s.levelFn(peak16(chunk))
	}
	for _, sink := range s.chunks {
		safely("chunk sink", func() { sink.OnChunk(chunk) })
	}
}

// shutdown runs on the drain goroutine once stopCh closes: detach the
// callback so no new audio arrives, drain what is buffered, then tear
// down the device and the file.
func (s *Session) shutdown() {
	s.capture.ClearCallback()
	s.drain()
	s.capture.Stop()
	s.capture.Close()

	s.mu.Lock()
	if s.writer != nil {
		if err := s.writer.Close(); err != nil {
			log.Errorf("recording %s: close %s: %v", s.id, s.path, err)
		}
	} else if !s.startedAt.IsZero() {
		s.wallSeconds = time.Since(s.startedAt).Seconds()
	}
	s.state = StateStopped
	s.mu.Unlock()

	s.bufMu.Lock()
	dropped := s.dropped
	s.bufMu.Unlock()

	var frames uint64
	seconds := s.wallSeconds
	if s.writer != nil {
		frames = s.writer.Frames()
		seconds = s.writer.Duration()
	}
	log.RecordingStop(s.id, frames, frames*uint64(s.format.FrameSize()), dropped, s.drains, seconds)
	close(s.doneCh)
}

// Stop ends the session and blocks until the drain goroutine has
// flushed and closed everything. It is safe to call more than once
// and from any state; it always returns the session's file path.
func (s *Session) Stop() string {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		st := s.state
		if st == StateRecording {
			s.state = StateStopping
		}
		s.mu.Unlock()

		close(s.stopCh)
		if st == StateIdle {
			// Never started, so no drain goroutine will report done.
			s.mu.Lock()
			s.state = StateStopped
			s.mu.Unlock()
			close(s.doneCh)
		}
	})
	<-s.doneCh
	return s.path
}

// Duration reports recorded audio in seconds: the WAV writer's frame
// count when a file is being written, the wall clock otherwise.
func (s *Session) Duration() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writer != nil {
		return s.writer.Duration()
	}
	if s.wallSeconds > 0 {
		return s.wallSeconds
	}
	if !s.startedAt.IsZero() {
		return time.Since(s.startedAt).Seconds()
	}
	return 0
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Session) Path() string { return s.path }

// Done closes once the session has fully stopped.
func (s *Session) Done() <-chan struct{} { return s.doneCh }

// peak16 is the loudest 16-bit sample in the chunk, normalized to 0..1.
func peak16(pcm []byte) float64 {
	var peak int
	for i := 0; i+1 < len(pcm); i += 2 {
		v := int(int16(binary.LittleEndian.Uint16(pcm[i:])))
		if v < 0 {
			v = -v
		}
		if v > peak {
			peak = v
		}
	}
	return float64(peak) / 32768
}

// safely isolates a misbehaving sink from the recording pipeline.
func safely(what string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("%s panic: %v", what, r)
		}
	}()
	fn()
}
