package record

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"ankiscribe/audio"
	"ankiscribe/log"
)

var ErrNotRecording = errors.New("record: no recording in progress")

const durationTick = 200 * time.Millisecond

// NotificationSink observes recording lifecycle events. OnComplete
// fires exactly once per finished turn; abandoned turns never
// complete.
type NotificationSink interface {
	OnComplete(path string)
	OnDurationUpdate(seconds float64)
}

// Controller maps review turns onto sessions: at most one active
// recording, deterministic per-card file names, and duration pushes
// to the notification sinks every 200ms while recording.
type Controller struct {
	ctx     audio.Context
	device  *audio.DeviceInfo
	dir     string
	format  audio.Format
	chunks  []ChunkSink
	notifs  []NotificationSink
	levelFn func(peak float64)

	mu       sync.Mutex
	sess     *Session
	tickStop chan struct{}
	stopping bool
	finished int
}

func NewController(ctx audio.Context, device *audio.DeviceInfo, dir string) *Controller {
	return &Controller{ctx: ctx, device: device, dir: dir}
}

// Sink registration is wiring-time only; not safe once turns begin.

func (c *Controller) AddChunkSink(s ChunkSink) { c.chunks = append(c.chunks, s) }

func (c *Controller) AddNotificationSink(n NotificationSink) { c.notifs = append(c.notifs, n) }

func (c *Controller) SetLevelFunc(fn func(peak float64)) { c.levelFn = fn }

func (c *Controller) SetFormat(f audio.Format) { c.format = f }

// turnPath is stable per card so re-recording an answer overwrites
// the previous take. Unknown cards fall back to a timestamp name.
func (c *Controller) turnPath(cardID int64) string {
	if cardID > 0 {
		return filepath.Join(c.dir, fmt.Sprintf("%d_rec.wav", cardID))
	}
	return filepath.Join(c.dir, fmt.Sprintf("%d_rec.wav", time.Now().UnixMilli()))
}

// BeginTurn starts recording the answer for a card. A turn already in
// progress is left untouched and ErrAlreadyRecording comes back.
func (c *Controller) BeginTurn(cardID int64) error {
	c.mu.Lock()
	if c.sess != nil {
		c.mu.Unlock()
		log.Warnf("begin turn for card %d ignored: recording in progress", cardID)
		return ErrAlreadyRecording
	}
	sess := New(Config{
		Context: c.ctx,
		Device:  c.device,
		Path:    c.turnPath(cardID),
		CardID:  cardID,
		Format:  c.format,
		Chunks:  c.chunks,
		OnLevel: c.levelFn,
	})
	stop := make(chan struct{})
	c.sess = sess
	c.tickStop = stop
	c.mu.Unlock()

	if err := sess.Start(); err != nil {
		c.mu.Lock()
		if c.sess == sess && !c.stopping {
			c.sess = nil
			c.tickStop = nil
			c.mu.Unlock()
			close(stop)
			return err
		}
		// An End or Abandon got in first and owns the teardown.
		c.mu.Unlock()
		return err
	}
	go c.tickLoop(sess, stop)
	return nil
}

// EndTurn stops the active recording and notifies the sinks with the
// finished file's path. The turn counts as active for BeginTurn until
// the file is closed and the sinks have run, so a re-record for the
// same card can never truncate a file mid-write.
func (c *Controller) EndTurn() (string, error) {
	sess, stop := c.claimStop()
	if sess == nil {
		return "", ErrNotRecording
	}
	defer c.release()
	close(stop)
	path := sess.Stop()

	c.mu.Lock()
	c.finished++
	c.mu.Unlock()

	for _, n := range c.notifs {
		safely("notification sink", func() { n.OnComplete(path) })
	}
	return path, nil
}

// Abandon stops the active recording and discards its file. A file
// that never materialized (degraded session) is not an error.
func (c *Controller) Abandon() error {
	sess, stop := c.claimStop()
	if sess == nil {
		return ErrNotRecording
	}
	defer c.release()
	close(stop)
	path := sess.Stop()

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.Errorf("abandon: remove %s: %v", path, err)
		return err
	}
	log.Info(fmt.Sprintf("abandoned recording %s", filepath.Base(path)))
	return nil
}

// claimStop marks the active turn as stopping and returns it. The
// turn stays attached until release, so a concurrent BeginTurn keeps
// seeing it; a second claim gets nil.
func (c *Controller) claimStop() (*Session, chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil || c.stopping {
		return nil, nil
	}
	c.stopping = true
	return c.sess, c.tickStop
}

// release detaches a fully stopped turn.
func (c *Controller) release() {
	c.mu.Lock()
	c.sess = nil
	c.tickStop = nil
	c.stopping = false
	c.mu.Unlock()
}

func (c *Controller) tickLoop(sess *Session, stop chan struct{}) {
	ticker := time.NewTicker(durationTick)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			d := sess.Duration()
			for _, n := range c.notifs {
				safely("notification sink", func() { n.OnDurationUpdate(d) })
			}
		case <-stop:
			return
		}
	}
}

func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess != nil
}

// Duration reports the active recording's length, 0 when idle.
func (c *Controller) Duration() float64 {
	c.mu.Lock()
	sess := c.sess
	c.mu.Unlock()
	if sess == nil {
		return 0
	}
	return sess.Duration()
}

// Finished counts completed turns since startup.
func (c *Controller) Finished() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.finished
}
