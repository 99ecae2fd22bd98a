// Package bridge serves the review panel over a local WebSocket:
// audio chunks, duration ticks and lifecycle events flow out, panel
// commands (start, stop, abandon, save) flow in.
package bridge

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"

	"github.com/gorilla/websocket"

	"ankiscribe/anki"
	"ankiscribe/log"
)

// DefaultAddr is the panel endpoint unless -listen says otherwise.
const DefaultAddr = "127.0.0.1:8766"

// sendBufSize bounds the per-connection outbound queue. A panel that
// cannot keep up loses frames instead of stalling the recorder.
const sendBufSize = 256

// Recorder is the slice of the recording controller the panel drives.
type Recorder interface {
	BeginTurn(cardID int64) error
	EndTurn() (string, error)
	Abandon() error
	Active() bool
	Duration() float64
}

// FieldSaver persists a transcript into a note field.
type FieldSaver interface {
	SaveField(cardID int64, field, text string) anki.FieldResult
}

type chunkFrame struct {
	Type string `json:"type"`
	Data string `json:"data"` // base64 PCM
}

type durationFrame struct {
	Type    string  `json:"type"`
	Seconds float64 `json:"seconds"`
}

type completeFrame struct {
	Type  string `json:"type"`
	Path  string `json:"path"`
	Audio string `json:"audio,omitempty"` // base64 of the whole WAV
}

type statusFrame struct {
	Type      string  `json:"type"`
	Recording bool    `json:"recording"`
	Seconds   float64 `json:"seconds,omitempty"`
}

type warningFrame struct {
	Type    string `json:"type"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type saveResultFrame struct {
	Type    string `json:"type"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

type command struct {
	Type   string `json:"type"`
	CardID int64  `json:"cardId,omitempty"`
	Field  string `json:"field,omitempty"`
	Text   string `json:"text,omitempty"`
}

type conn struct {
	ws   *websocket.Conn
	send chan []byte
}

func (c *conn) writePump() {
	for msg := range c.send {
		if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
			break
		}
	}
	c.ws.Close()
}

// Server owns the listener and the connected panels. It plugs into
// the recording pipeline as both a chunk sink and a notification
// sink.
type Server struct {
	addr     string
	field    string
	recorder Recorder
	saver    FieldSaver

	upgrader websocket.Upgrader
	ln       net.Listener
	httpSrv  *http.Server

	mu    sync.Mutex
	conns map[*conn]struct{}
}

func NewServer(addr, field string, rec Recorder, saver FieldSaver) *Server {
	if addr == "" {
		addr = DefaultAddr
	}
	return &Server{
		addr:     addr,
		field:    field,
		recorder: rec,
		saver:    saver,
		// The panel lives inside Anki's embedded browser, so the
		// Origin header is qrc:// or absent. The listener itself is
		// loopback-only.
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		conns:    map[*conn]struct{}{},
	}
}

func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("bridge: listen %s: %w", s.addr, err)
	}
	s.ln = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	s.httpSrv = &http.Server{Handler: mux}
	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("bridge: serve: %v", err)
		}
	}()
	log.Info(fmt.Sprintf("bridge listening on ws://%s/ws", ln.Addr()))
	return nil
}

// Addr is the bound address, useful when listening on port 0.
func (s *Server) Addr() string {
	if s.ln == nil {
		return s.addr
	}
	return s.ln.Addr().String()
}

func (s *Server) Close() {
	if s.httpSrv != nil {
		s.httpSrv.Close()
	}
	s.mu.Lock()
	for c := range s.conns {
		delete(s.conns, c)
		close(c.send)
	}
	s.mu.Unlock()
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warnf("bridge: upgrade: %v", err)
		return
	}
	c := &conn{ws: ws, send: make(chan []byte, sendBufSize)}

	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()
	go c.writePump()

	// Late joiners learn whether a recording is already running.
	s.sendTo(c, statusFrame{Type: "status", Recording: s.recorder.Active(), Seconds: s.recorder.Duration()})

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			break
		}
		s.dispatch(raw)
	}
	s.unregister(c)
}

func (s *Server) unregister(c *conn) {
	s.mu.Lock()
	if _, ok := s.conns[c]; ok {
		delete(s.conns, c)
		close(c.send)
	}
	s.mu.Unlock()
}

func (s *Server) dispatch(raw []byte) {
	var cmd command
	if err := json.Unmarshal(raw, &cmd); err != nil {
		log.Warnf("bridge: bad command: %v", err)
		return
	}

	switch cmd.Type {
	case "start":
		if err := s.recorder.BeginTurn(cmd.CardID); err != nil {
			s.broadcast(warningFrame{Type: "warning", Kind: "busy", Message: err.Error()})
			return
		}
		s.broadcast(statusFrame{Type: "status", Recording: true})
	case "stop":
		if _, err := s.recorder.EndTurn(); err != nil {
			s.broadcast(warningFrame{Type: "warning", Kind: "idle", Message: err.Error()})
			return
		}
		s.broadcast(statusFrame{Type: "status", Recording: false})
	case "abandon":
		if err := s.recorder.Abandon(); err != nil {
			log.Warnf("bridge: abandon: %v", err)
			return
		}
		s.broadcast(statusFrame{Type: "status", Recording: false})
	case "saveTranscript":
		field := cmd.Field
		if field == "" {
			field = s.field
		}
		res := s.saver.SaveField(cmd.CardID, field, cmd.Text)
		s.broadcast(saveResultFrame{Type: "saveResult", Success: res.Success, Error: res.Error})
	default:
		log.Warnf("bridge: unknown command %q", cmd.Type)
	}
}

// broadcast fans a frame out to every panel. Connections with a full
// queue skip the frame; audio must never wait on a webview.
func (s *Server) broadcast(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Errorf("bridge: marshal: %v", err)
		return
	}
	s.mu.Lock()
	for c := range s.conns {
		select {
		case c.send <- data:
		default:
		}
	}
	s.mu.Unlock()
}

func (s *Server) sendTo(c *conn, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	s.mu.Lock()
	if _, ok := s.conns[c]; ok {
		select {
		case c.send <- data:
		default:
		}
	}
	s.mu.Unlock()
}

// OnChunk implements record.ChunkSink.
func (s *Server) OnChunk(pcm []byte) {
	s.broadcast(chunkFrame{Type: "chunk", Data: base64.StdEncoding.EncodeToString(pcm)})
}

// OnDurationUpdate implements record.NotificationSink.
func (s *Server) OnDurationUpdate(seconds float64) {
	s.broadcast(durationFrame{Type: "duration", Seconds: seconds})
}

// OnComplete implements record.NotificationSink. The finished WAV
// rides along base64-encoded so the panel can replay it; a recording
// that never produced a file still completes, just without audio.
func (s *Server) OnComplete(path string) {
	frame := completeFrame{Type: "complete", Path: path}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		frame.Audio = base64.StdEncoding.EncodeToString(data)
	case !os.IsNotExist(err):
		log.Errorf("bridge: read %s: %v", path, err)
	}
	s.broadcast(frame)
}

// PushWarning forwards an advisory (silence, bluetooth quality) to
// the panel.
func (s *Server) PushWarning(kind, message string) {
	s.broadcast(warningFrame{Type: "warning", Kind: kind, Message: message})
}

// PushStatus rebroadcasts the live recording state. Turns toggled
// outside the panel (hotkey, follow mode) call this so open panels
// stay in sync.
func (s *Server) PushStatus() {
	s.broadcast(statusFrame{Type: "status", Recording: s.recorder.Active(), Seconds: s.recorder.Duration()})
}
