package bridge

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"ankiscribe/anki"
)

type fakeRecorder struct {
	mu       sync.Mutex
	begun    []int64
	ends     int
	abandons int
	active   bool
	beginErr error
	endErr   error
}

func (f *fakeRecorder) BeginTurn(cardID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.beginErr != nil {
		return f.beginErr
	}
	f.begun = append(f.begun, cardID)
	f.active = true
	return nil
}

func (f *fakeRecorder) EndTurn() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.endErr != nil {
		return "", f.endErr
	}
	f.ends++
	f.active = false
	return "/tmp/fake.wav", nil
}

func (f *fakeRecorder) Abandon() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.abandons++
	f.active = false
	return nil
}

func (f *fakeRecorder) Active() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

func (f *fakeRecorder) Duration() float64 { return 0 }

type fakeSaver struct {
	mu     sync.Mutex
	card   int64
	field  string
	text   string
	result anki.FieldResult
}

func (f *fakeSaver) SaveField(cardID int64, field, text string) anki.FieldResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.card, f.field, f.text = cardID, field, text
	return f.result
}

func startServer(t *testing.T, rec Recorder, saver FieldSaver) *Server {
	t.Helper()
	s := NewServer("127.0.0.1:0", "Transcript", rec, saver)
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(s.Close)
	return s
}

// dial connects and consumes the initial status frame every new
// panel receives.
func dial(t *testing.T, s *Server) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial("ws://"+s.Addr()+"/ws", nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ws.Close() })
	if frame := readFrame(t, ws); frame["type"] != "status" {
		t.Fatalf("first frame type = %v, want status", frame["type"])
	}
	return ws
}

func readFrame(t *testing.T, ws *websocket.Conn) map[string]any {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := ws.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	var frame map[string]any
	if err := json.Unmarshal(raw, &frame); err != nil {
		t.Fatal(err)
	}
	return frame
}

func send(t *testing.T, ws *websocket.Conn, v any) {
	t.Helper()
	if err := ws.WriteJSON(v); err != nil {
		t.Fatal(err)
	}
}

func TestConnectReportsActiveRecording(t *testing.T) {
	rec := &fakeRecorder{active: true}
	s := startServer(t, rec, &fakeSaver{})

	ws, _, err := websocket.DefaultDialer.Dial("ws://"+s.Addr()+"/ws", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer ws.Close()

	frame := readFrame(t, ws)
	if frame["type"] != "status" || frame["recording"] != true {
		t.Errorf("frame = %v, want an active status", frame)
	}
}

func TestStartCommand(t *testing.T) {
	rec := &fakeRecorder{}
	s := startServer(t, rec, &fakeSaver{})
	ws := dial(t, s)

	send(t, ws, map[string]any{"type": "start", "cardId": 42})

	frame := readFrame(t, ws)
	if frame["type"] != "status" || frame["recording"] != true {
		t.Errorf("frame = %v, want recording status", frame)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.begun) != 1 || rec.begun[0] != 42 {
		t.Errorf("begun = %v, want [42]", rec.begun)
	}
}

func TestStartWhileBusyWarns(t *testing.T) {
	rec := &fakeRecorder{beginErr: errors.New("recording already in progress")}
	s := startServer(t, rec, &fakeSaver{})
	ws := dial(t, s)

	send(t, ws, map[string]any{"type": "start", "cardId": 1})

	frame := readFrame(t, ws)
	if frame["type"] != "warning" || frame["kind"] != "busy" {
		t.Errorf("frame = %v, want a busy warning", frame)
	}
}

func TestStopCommand(t *testing.T) {
	rec := &fakeRecorder{active: true}
	s := startServer(t, rec, &fakeSaver{})
	ws := dial(t, s)

	send(t, ws, map[string]any{"type": "stop"})

	frame := readFrame(t, ws)
	if frame["type"] != "status" || frame["recording"] != false {
		t.Errorf("frame = %v, want an idle status", frame)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.ends != 1 {
		t.Errorf("ends = %d, want 1", rec.ends)
	}
}

func TestStopWhenIdleWarns(t *testing.T) {
	rec := &fakeRecorder{endErr: errors.New("no recording in progress")}
	s := startServer(t, rec, &fakeSaver{})
	ws := dial(t, s)

	send(t, ws, map[string]any{"type": "stop"})

	frame := readFrame(t, ws)
	if frame["type"] != "warning" || frame["kind"] != "idle" {
		t.Errorf("frame = %v, want an idle warning", frame)
	}
}

func TestAbandonCommand(t *testing.T) {
	rec := &fakeRecorder{active: true}
	s := startServer(t, rec, &fakeSaver{})
	ws := dial(t, s)

	send(t, ws, map[string]any{"type": "abandon"})

	frame := readFrame(t, ws)
	if frame["type"] != "status" || frame["recording"] != false {
		t.Errorf("frame = %v, want an idle status", frame)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.abandons != 1 {
		t.Errorf("abandons = %d, want 1", rec.abandons)
	}
}

func TestSaveTranscriptUsesDefaultField(t *testing.T) {
	saver := &fakeSaver{result: anki.FieldResult{Success: true}}
	s := startServer(t, &fakeRecorder{}, saver)
	ws := dial(t, s)

	send(t, ws, map[string]any{"type": "saveTranscript", "cardId": 7, "text": "hola mundo"})

	frame := readFrame(t, ws)
	if frame["type"] != "saveResult" || frame["success"] != true {
		t.Errorf("frame = %v, want a successful saveResult", frame)
	}
	saver.mu.Lock()
	defer saver.mu.Unlock()
	if saver.card != 7 || saver.field != "Transcript" || saver.text != "hola mundo" {
		t.Errorf("saver got (%d, %q, %q), want (7, Transcript, hola mundo)", saver.card, saver.field, saver.text)
	}
}

func TestSaveTranscriptExplicitField(t *testing.T) {
	saver := &fakeSaver{result: anki.FieldResult{Error: "note type \"Basic\" has no \"Answer\" field"}}
	s := startServer(t, &fakeRecorder{}, saver)
	ws := dial(t, s)

	send(t, ws, map[string]any{"type": "saveTranscript", "cardId": 7, "field": "Answer", "text": "x"})

	frame := readFrame(t, ws)
	if frame["type"] != "saveResult" || frame["success"] != false {
		t.Errorf("frame = %v, want a failed saveResult", frame)
	}
	if msg, ok := frame["error"].(string); !ok || msg == "" {
		t.Error("failed save should carry the error text")
	}
	saver.mu.Lock()
	defer saver.mu.Unlock()
	if saver.field != "Answer" {
		t.Errorf("field = %q, want Answer", saver.field)
	}
}

func TestChunkRoundTrip(t *testing.T) {
	s := startServer(t, &fakeRecorder{}, &fakeSaver{})
	ws := dial(t, s)

	pcm := []byte{0, 1, 2, 250, 251, 252}
	s.OnChunk(pcm)

	frame := readFrame(t, ws)
	if frame["type"] != "chunk" {
		t.Fatalf("frame type = %v, want chunk", frame["type"])
	}
	got, err := base64.StdEncoding.DecodeString(frame["data"].(string))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(pcm) {
		t.Errorf("decoded chunk = %v, want %v", got, pcm)
	}
}

func TestDurationFrame(t *testing.T) {
	s := startServer(t, &fakeRecorder{}, &fakeSaver{})
	ws := dial(t, s)

	s.OnDurationUpdate(1.5)

	frame := readFrame(t, ws)
	if frame["type"] != "duration" || frame["seconds"] != 1.5 {
		t.Errorf("frame = %v, want duration 1.5", frame)
	}
}

func TestCompleteCarriesAudio(t *testing.T) {
	path := filepath.Join(t.TempDir(), "9_rec.wav")
	content := []byte("RIFFfakewav")
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatal(err)
	}

	s := startServer(t, &fakeRecorder{}, &fakeSaver{})
	ws := dial(t, s)

	s.OnComplete(path)

	frame := readFrame(t, ws)
	if frame["type"] != "complete" || frame["path"] != path {
		t.Fatalf("frame = %v, want complete for %s", frame, path)
	}
	got, err := base64.StdEncoding.DecodeString(frame["audio"].(string))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(content) {
		t.Errorf("decoded audio = %q, want %q", got, content)
	}
}

func TestCompleteWithoutFile(t *testing.T) {
	s := startServer(t, &fakeRecorder{}, &fakeSaver{})
	ws := dial(t, s)

	path := filepath.Join(t.TempDir(), "never-written.wav")
	s.OnComplete(path)

	frame := readFrame(t, ws)
	if frame["type"] != "complete" || frame["path"] != path {
		t.Fatalf("frame = %v, want complete for %s", frame, path)
	}
	if _, ok := frame["audio"]; ok {
		t.Error("complete frame for a missing file should not carry audio")
	}
}

func TestWarningPush(t *testing.T) {
	s := startServer(t, &fakeRecorder{}, &fakeSaver{})
	ws := dial(t, s)

	s.PushWarning("silence", "no speech detected for 8s")

	frame := readFrame(t, ws)
	if frame["type"] != "warning" || frame["kind"] != "silence" {
		t.Errorf("frame = %v, want a silence warning", frame)
	}
}

func TestStatusPushReflectsRecorder(t *testing.T) {
	rec := &fakeRecorder{active: true}
	s := startServer(t, rec, &fakeSaver{})
	ws := dial(t, s)

	s.PushStatus()

	frame := readFrame(t, ws)
	if frame["type"] != "status" || frame["recording"] != true {
		t.Errorf("frame = %v, want a recording status", frame)
	}
}

func TestUnknownCommandKeepsConnectionAlive(t *testing.T) {
	s := startServer(t, &fakeRecorder{}, &fakeSaver{})
	ws := dial(t, s)

	send(t, ws, map[string]any{"type": "bogus"})
	s.OnDurationUpdate(2)

	frame := readFrame(t, ws)
	if frame["type"] != "duration" {
		t.Errorf("frame = %v, want the duration frame after an ignored command", frame)
	}
}
