package main

import (
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"ankiscribe/anki"
	"ankiscribe/audio"
	"ankiscribe/beep"
	"ankiscribe/bridge"
	"ankiscribe/clipboard"
	"ankiscribe/doctor"
	"ankiscribe/hotkey"
	"ankiscribe/log"
	"ankiscribe/record"
	"ankiscribe/shutdown"
)

var version = "dev"

// levelStore hands the newest drain peak from the capture callback to
// the silence sampler without locking in the hot path.
type levelStore struct{ bits atomic.Uint64 }

func (l *levelStore) set(peak float64) { l.bits.Store(math.Float64bits(peak)) }
func (l *levelStore) get() float64     { return math.Float64frombits(l.bits.Load()) }

// recorder wraps the controller so panel commands and local toggles
// produce the same cues and events.
type recorder struct {
	*record.Controller
	sink EventSink
}

func (r *recorder) BeginTurn(cardID int64) error {
	if err := r.Controller.BeginTurn(cardID); err != nil {
		return err
	}
	beep.PlayStart()
	r.sink.RecordingStart(cardID)
	return nil
}

func (r *recorder) EndTurn() (string, error) {
	path, err := r.Controller.EndTurn()
	if err != nil {
		return path, err
	}
	beep.PlayStop()
	return path, nil
}

func (r *recorder) Abandon() error {
	if err := r.Controller.Abandon(); err != nil {
		return err
	}
	beep.PlayStop()
	r.sink.RecordingStop("", 0)
	return nil
}

// notifier feeds turn completions into the UI. The completion only
// carries the file path, so the last duration tick is kept around to
// report how long the turn ran.
type notifier struct {
	sink EventSink

	mu      sync.Mutex
	seconds float64
}

func (n *notifier) OnDurationUpdate(seconds float64) {
	n.mu.Lock()
	n.seconds = seconds
	n.mu.Unlock()
	n.sink.RecordingTick(seconds)
}

func (n *notifier) OnComplete(path string) {
	n.mu.Lock()
	seconds := n.seconds
	n.seconds = 0
	n.mu.Unlock()
	// A degraded turn reports its intended path even when no file was
	// written. The UI shows "no file" for those.
	if _, err := os.Stat(path); err != nil {
		path = ""
	}
	n.sink.RecordingStop(path, seconds)
}

// saver runs panel save commands through AnkiConnect and mirrors the
// outcome to the UI and, when -copy is set, the clipboard.
type saver struct {
	client   *anki.Client
	sink     EventSink
	copyText bool
}

func (s *saver) SaveField(cardID int64, field, text string) anki.FieldResult {
	res := s.client.SaveField(cardID, field, text)
	if !res.Success {
		s.sink.SaveResult(false, res.Error)
		return res
	}
	s.sink.SaveResult(true, field)
	s.sink.TranscriptSaved(text)
	if s.copyText {
		if err := clipboard.Copy(text); err != nil {
			log.Warnf("clipboard: %v", err)
		}
	}
	return res
}

// toggleRecording flips between idle and recording. Starting asks Anki
// for the card under review so the file is named after it; outside
// review the turn records against card 0. The bridge is told about the
// change because the panel never saw a command for it.
func toggleRecording(rec *recorder, client *anki.Client, srv *bridge.Server) {
	defer srv.PushStatus()
	if rec.Active() {
		if _, err := rec.EndTurn(); err != nil {
			log.Warnf("toggle stop: %v", err)
		}
		return
	}
	var cardID int64
	if card, err := client.GuiCurrentCard(); err == nil {
		cardID = card.CardID
	}
	if err := rec.BeginTurn(cardID); err != nil {
		log.Warnf("toggle start: %v", err)
	}
}

func deviceLineText(device *audio.DeviceInfo) string {
	if device == nil {
		return "system default"
	}
	if audio.IsBluetooth(device.Name) {
		return device.Name + " (BT)"
	}
	return device.Name
}

func ankiStatusText(client *anki.Client) string {
	v, err := client.Version()
	if err != nil {
		return "anki unreachable"
	}
	return fmt.Sprintf("anki connected (v%d)", v)
}

func run() {
	cfg := parseConfig()

	// Resolve log directory early
	logPath, err := log.ResolveDir(cfg.LogPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to resolve log directory: %v\n", err)
		os.Exit(1)
	}
	log.SetDir(logPath)

	if err := log.EnsureDir(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not create log directory: %v\n", err)
	}

	crashPath := filepath.Join(log.Dir(), "crash_log.txt")
	crashFile, err := os.OpenFile(crashPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err == nil {
		fmt.Fprintf(crashFile, "\n=== Session %s [pid=%d] ===\n", time.Now().Format("2006-01-02 15:04:05"), os.Getpid())
		debug.SetCrashOutput(crashFile, debug.CrashOptions{})
	}

	if cfg.Version {
		fmt.Printf("ankiscribe %s\n", version)
		os.Exit(0)
	}

	if cfg.Doctor {
		os.Exit(doctor.Run(doctor.Options{
			Device:  cfg.Device,
			AnkiURL: cfg.AnkiURL,
			Listen:  cfg.Listen,
		}))
	}

	// Resolve -setup into a device choice before daemonizing, while we
	// still own the terminal.
	if cfg.Setup {
		actx, err := audio.NewContext()
		if err != nil {
			fmt.Printf("Error initializing audio: %v\n", err)
			os.Exit(1)
		}
		dev, err := audio.SelectDevice(actx)
		actx.Close()
		if err != nil {
			fmt.Printf("Warning: device selection failed: %v\n", err)
			fmt.Println("Falling back to default device")
		} else {
			cfg.Device = dev.Name
			if err := saveDevice(dev.Name); err != nil {
				log.Warnf("save device choice: %v", err)
			}
			fmt.Printf("Using %s\n", dev.Name)
		}
	}

	// Test mode keeps stdin, so it must run before daemonization.
	if cfg.TestWAV != "" {
		runTestMode(cfg)
		return
	}

	// Daemonize in headless mode: re-exec in background, return shell prompt
	if !cfg.TUI && os.Getenv("_ANKISCRIBE_BG") == "" {
		args := os.Args[1:]
		if cfg.Device != "" {
			args = append(args, "-device", cfg.Device)
		}
		exe, _ := os.Executable()
		cmd := exec.Command(exe, args...)
		cmd.Env = append(os.Environ(), "_ANKISCRIBE_BG=1")
		devnull, _ := os.Open(os.DevNull)
		cmd.Stdin, cmd.Stdout, cmd.Stderr = devnull, devnull, devnull
		if err := cmd.Start(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	if err := log.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not init logging: %v\n", err)
	}

	if cfg.Quiet {
		beep.Disable()
	} else {
		go beep.Init()
	}

	actx, err := audio.NewContext()
	if err != nil {
		log.Errorf("audio context init: %v", err)
		fmt.Printf("Error initializing audio context: %v\n", err)
		os.Exit(1)
	}

	deviceName := cfg.Device
	if deviceName == "" {
		deviceName = savedDevice()
	}
	var device *audio.DeviceInfo
	if deviceName != "" {
		devices, err := actx.Devices()
		if err != nil {
			log.Warnf("device enumeration: %v", err)
		} else {
			device = audio.Match(devices, deviceName)
		}
		if device == nil {
			log.Warnf("device %q not found, using system default", deviceName)
		}
	}
	if device != nil && audio.IsBluetooth(device.Name) {
		log.Warn("bluetooth input selected, audio quality may drop while recording")
	}

	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		log.Errorf("recordings dir: %v", err)
		fmt.Printf("Error creating recordings directory: %v\n", err)
		os.Exit(1)
	}

	sessionDevice := "system default"
	if device != nil {
		sessionDevice = device.Name
	}
	log.SessionStart(sessionDevice, cfg.Listen, cfg.AnkiURL)

	var sink EventSink
	if cfg.TUI {
		sink = tuiSink{}
	} else {
		sink = consoleSink{}
	}

	levels := &levelStore{}
	ctl := record.NewController(actx, device, cfg.Dir)
	ctl.SetLevelFunc(func(peak float64) {
		levels.set(peak)
		sink.AudioLevel(peak)
	})

	rec := &recorder{Controller: ctl, sink: sink}
	ctl.AddNotificationSink(&notifier{sink: sink})

	client := anki.NewClient(cfg.AnkiURL)

	srv := bridge.NewServer(cfg.Listen, cfg.Field, rec, &saver{
		client:   client,
		sink:     sink,
		copyText: cfg.Copy,
	})
	ctl.AddChunkSink(srv)
	ctl.AddNotificationSink(srv)
	if err := srv.Start(); err != nil {
		log.Errorf("%v", err)
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	stopPolling := make(chan struct{})
	var shutdownOnce sync.Once
	gracefulShutdown := func() {
		shutdownOnce.Do(func() {
			if rec.Active() {
				rec.EndTurn()
			}
			close(stopPolling)
			srv.Close()
			actx.Close()
			log.SessionEnd(ctl.Finished())
			log.Close()
			tuiMu.Lock()
			p := tuiProgram
			tuiMu.Unlock()
			if p != nil {
				p.Quit()
			}
			os.Exit(0)
		})
	}

	if cfg.TUI {
		p := NewTUIProgram(func() { toggleRecording(rec, client, srv) })
		go func() {
			if _, err := p.Run(); err != nil {
				log.Errorf("tui: %v", err)
				os.Exit(1)
			}
			gracefulShutdown()
		}()
	}

	sink.DeviceLine(deviceLineText(device))
	sink.StatusLine(fmt.Sprintf("panel ws://%s · %s", srv.Addr(), ankiStatusText(client)))

	// Silence watcher: samples the capture level while a turn is live
	// and resets between turns.
	monitor := newSilenceMonitor()
	go func() {
		ticker := time.NewTicker(levelInterval)
		defer ticker.Stop()
		warned := false
		inTurn := false
		for {
			select {
			case <-stopPolling:
				return
			case <-ticker.C:
			}
			if !ctl.Active() {
				if inTurn {
					monitor.Reset()
					levels.set(0)
					if warned {
						sink.SilenceWarning(false)
						warned = false
					}
					inTurn = false
				}
				continue
			}
			inTurn = true
			switch monitor.Tick(levels.get()) {
			case SilenceWarn:
				warned = true
				sink.SilenceWarning(true)
				srv.PushWarning("silence", "no audio detected, check your microphone")
				beep.PlayWarn()
				log.Warn("silence during recording")
				logToTUI("no audio detected")
			case SilenceWarnClear:
				warned = false
				sink.SilenceWarning(false)
			case SilenceRepeat:
				beep.PlayWarn()
			}
		}
	}()

	var hkToggled <-chan struct{}
	if cfg.Hotkey {
		hk := hotkey.New()
		if err := hk.Register(); err != nil {
			log.Warnf("hotkey register: %v, panel and TUI toggles still work", err)
			logToTUI("hotkey unavailable, use r or the panel")
		} else {
			defer hk.Unregister()
			hkToggled = hk.Toggled()
		}
	}

	if cfg.Follow {
		follower := &anki.Follower{Client: client, OnChange: func(card *anki.CurrentCard) {
			defer srv.PushStatus()
			if rec.Active() {
				if _, err := rec.EndTurn(); err != nil {
					log.Warnf("follow stop: %v", err)
				}
			}
			if card == nil {
				logToTUI("left review")
				return
			}
			logToTUI(fmt.Sprintf("review card %d", card.CardID))
			if err := rec.BeginTurn(card.CardID); err != nil {
				log.Warnf("follow start: %v", err)
			}
		}}
		go follower.Run(stopPolling)
	}

	sigChan := shutdown.Listen()

	for {
		select {
		case <-hkToggled:
			log.Info("hotkey toggle")
			toggleRecording(rec, client, srv)
		case <-sigChan:
			gracefulShutdown()
		}
	}
}
