package record

import (
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"ankiscribe/audio"
)

type notifySink struct {
	mu        sync.Mutex
	completes []string
	updates   int
}

func (n *notifySink) OnComplete(path string) {
	n.mu.Lock()
	n.completes = append(n.completes, path)
	n.mu.Unlock()
}

func (n *notifySink) OnDurationUpdate(float64) {
	n.mu.Lock()
	n.updates++
	n.mu.Unlock()
}

func (n *notifySink) snapshot() ([]string, int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.completes...), n.updates
}

func newTestController(t *testing.T, ctx *audio.FakeContext) (*Controller, string, *notifySink) {
	t.Helper()
	dir := t.TempDir()
	c := NewController(ctx, nil, dir)
	sink := &notifySink{}
	c.AddNotificationSink(sink)
	return c, dir, sink
}

func TestTurnProducesCardNamedFile(t *testing.T) {
	c, dir, sink := newTestController(t, &audio.FakeContext{PCM: makePCM(1000)})

	if err := c.BeginTurn(1234); err != nil {
		t.Fatal(err)
	}
	path, err := c.EndTurn()
	if err != nil {
		t.Fatal(err)
	}

	if want := filepath.Join(dir, "1234_rec.wav"); path != want {
		t.Errorf("path = %q, want %q", path, want)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("recording file missing: %v", err)
	}
	completes, _ := sink.snapshot()
	if len(completes) != 1 || completes[0] != path {
		t.Errorf("completes = %v, want exactly [%q]", completes, path)
	}
}

func TestSecondTurnOverwritesSameCard(t *testing.T) {
	c, _, _ := newTestController(t, &audio.FakeContext{PCM: makePCM(1000)})

	if err := c.BeginTurn(42); err != nil {
		t.Fatal(err)
	}
	first, err := c.EndTurn()
	if err != nil {
		t.Fatal(err)
	}
	if err := c.BeginTurn(42); err != nil {
		t.Fatal(err)
	}
	second, err := c.EndTurn()
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Errorf("same card produced %q then %q", first, second)
	}
}

func TestUnknownCardGetsTimestampName(t *testing.T) {
	c, _, _ := newTestController(t, &audio.FakeContext{PCM: makePCM(500)})

	if err := c.BeginTurn(0); err != nil {
		t.Fatal(err)
	}
	path, err := c.EndTurn()
	if err != nil {
		t.Fatal(err)
	}

	name := filepath.Base(path)
	if ok, _ := regexp.MatchString(`^\d+_rec\.wav$`, name); !ok {
		t.Errorf("fallback name = %q, want <timestamp>_rec.wav", name)
	}
	if strings.HasPrefix(name, "0_") {
		t.Errorf("fallback name %q used the zero card id", name)
	}
}

func TestBeginWhileRecordingIsRejected(t *testing.T) {
	c, _, _ := newTestController(t, &audio.FakeContext{PCM: makePCM(500)})

	if err := c.BeginTurn(1); err != nil {
		t.Fatal(err)
	}
	if err := c.BeginTurn(2); !errors.Is(err, ErrAlreadyRecording) {
		t.Errorf("second begin = %v, want ErrAlreadyRecording", err)
	}

	// The original turn is untouched.
	path, err := c.EndTurn()
	if err != nil {
		t.Fatal(err)
	}
	if got := filepath.Base(path); got != "1_rec.wav" {
		t.Errorf("finished %q, want the first card's file", got)
	}
}

func TestEndWithoutBegin(t *testing.T) {
	c, _, _ := newTestController(t, &audio.FakeContext{})

	if _, err := c.EndTurn(); !errors.Is(err, ErrNotRecording) {
		t.Errorf("EndTurn = %v, want ErrNotRecording", err)
	}
	if err := c.Abandon(); !errors.Is(err, ErrNotRecording) {
		t.Errorf("Abandon = %v, want ErrNotRecording", err)
	}
}

func TestAbandonRemovesFileAndSkipsComplete(t *testing.T) {
	c, dir, sink := newTestController(t, &audio.FakeContext{PCM: makePCM(1000)})

	if err := c.BeginTurn(7); err != nil {
		t.Fatal(err)
	}
	if err := c.Abandon(); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(filepath.Join(dir, "7_rec.wav")); !os.IsNotExist(err) {
		t.Errorf("abandoned file still present, stat err = %v", err)
	}
	completes, _ := sink.snapshot()
	if len(completes) != 0 {
		t.Errorf("completes = %v, want none after abandon", completes)
	}
}

func TestAbandonToleratesMissingFile(t *testing.T) {
	// A degraded session never creates its file.
	c, _, _ := newTestController(t, &audio.FakeContext{NoDevices: true})

	if err := c.BeginTurn(9); err != nil {
		t.Fatal(err)
	}
	if err := c.Abandon(); err != nil {
		t.Errorf("Abandon = %v, want nil for a file that never existed", err)
	}
}

func TestDegradedTurnStillCompletes(t *testing.T) {
	c, _, sink := newTestController(t, &audio.FakeContext{NoDevices: true})

	if err := c.BeginTurn(5); err != nil {
		t.Fatal(err)
	}
	if !c.Active() {
		t.Error("controller should report an active turn even without a device")
	}
	path, err := c.EndTurn()
	if err != nil {
		t.Fatal(err)
	}
	completes, _ := sink.snapshot()
	if len(completes) != 1 || completes[0] != path {
		t.Errorf("completes = %v, want [%q]", completes, path)
	}
}

func TestDurationUpdatesWhileRecording(t *testing.T) {
	c, _, sink := newTestController(t, &audio.FakeContext{PCM: makePCM(2000)})

	if err := c.BeginTurn(3); err != nil {
		t.Fatal(err)
	}
	time.Sleep(3 * durationTick)
	if _, err := c.EndTurn(); err != nil {
		t.Fatal(err)
	}

	if _, updates := sink.snapshot(); updates == 0 {
		t.Error("no duration updates were pushed while recording")
	}
}

func TestBeginTurnWhileStoppingIsRejected(t *testing.T) {
	ctx := &audio.FakeContext{PCM: makePCM(1000), StopDelay: 300 * time.Millisecond}
	c, _, sink := newTestController(t, ctx)

	if err := c.BeginTurn(42); err != nil {
		t.Fatal(err)
	}

	type result struct {
		path string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		path, err := c.EndTurn()
		done <- result{path, err}
	}()

	// Land inside the device teardown, well before StopDelay elapses.
	time.Sleep(100 * time.Millisecond)
	if err := c.BeginTurn(42); !errors.Is(err, ErrAlreadyRecording) {
		t.Errorf("begin while stopping = %v, want ErrAlreadyRecording", err)
	}
	if !c.Active() {
		t.Error("turn should stay active until the stop finishes")
	}

	res := <-done
	if res.err != nil {
		t.Fatal(res.err)
	}

	if err := c.BeginTurn(42); err != nil {
		t.Fatalf("begin after stop = %v", err)
	}
	second, err := c.EndTurn()
	if err != nil {
		t.Fatal(err)
	}
	if second != res.path {
		t.Errorf("same card produced %q then %q", res.path, second)
	}

	data, err := os.ReadFile(second)
	if err != nil {
		t.Fatal(err)
	}
	if len(data) < 44 {
		t.Fatalf("file too short: %d bytes", len(data))
	}
	if got, want := binary.LittleEndian.Uint32(data[40:44]), uint32(len(data)-44); got != want {
		t.Errorf("header claims %d data bytes, file holds %d", got, want)
	}
	completes, _ := sink.snapshot()
	if len(completes) != 2 {
		t.Errorf("completes = %v, want one per finished turn", completes)
	}
}

// The bridge polls Active and Duration from its own goroutines while
// turns start and stop.
func TestConcurrentStatusReads(t *testing.T) {
	c, _, _ := newTestController(t, &audio.FakeContext{PCM: makePCM(2000)})

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				c.Duration()
				c.Active()
			}
		}
	}()

	for card := int64(1); card <= 5; card++ {
		if err := c.BeginTurn(card); err != nil {
			t.Fatal(err)
		}
		if _, err := c.EndTurn(); err != nil {
			t.Fatal(err)
		}
	}
	close(stop)
	wg.Wait()
}

func TestActiveAndFinished(t *testing.T) {
	c, _, _ := newTestController(t, &audio.FakeContext{PCM: makePCM(500)})

	if c.Active() {
		t.Error("fresh controller reports active")
	}
	if err := c.BeginTurn(1); err != nil {
		t.Fatal(err)
	}
	if !c.Active() {
		t.Error("controller not active after begin")
	}
	if d := c.Duration(); d < 0 {
		t.Errorf("duration = %v, want >= 0", d)
	}
	if _, err := c.EndTurn(); err != nil {
		t.Fatal(err)
	}
	if c.Active() {
		t.Error("controller still active after end")
	}
	if got := c.Finished(); got != 1 {
		t.Errorf("Finished = %d, want 1", got)
	}
}
