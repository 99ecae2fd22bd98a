// Package log writes the daemon's diagnostics to a rotated log file
// and keeps a separate plain-text audit of saved transcripts.
package log

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	diagLog        zerolog.Logger
	diagOut        *lumberjack.Logger
	transcriptFile *os.File
	logMu          sync.Mutex
	logReady       bool
	pid            int
	dir            string
)

// ResolveDir picks the log directory: explicit flag first, then the
// ANKISCRIBE_LOG_PATH environment variable, then an OS default.
func ResolveDir(flagPath string) (string, error) {
	if flagPath != "" {
		if !filepath.IsAbs(flagPath) {
			wd, err := os.Getwd()
			if err != nil {
				return "", err
			}
			return filepath.Join(wd, flagPath), nil
		}
		return flagPath, nil
	}

	envPath := os.Getenv("ANKISCRIBE_LOG_PATH")
	if envPath != "" {
		if !filepath.IsAbs(envPath) {
			wd, err := os.Getwd()
			if err != nil {
				return "", err
			}
			return filepath.Join(wd, envPath), nil
		}
		return envPath, nil
	}

	return getDefaultDir()
}

func SetDir(d string) {
	dir = d
}

func Dir() string {
	return dir
}

func EnsureDir() error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	return nil
}

func Init() error {
	logMu.Lock()
	defer logMu.Unlock()

	if err := EnsureDir(); err != nil {
		return err
	}

	pid = os.Getpid()

	diagOut = &lumberjack.Logger{
		Filename:   filepath.Join(dir, "diagnostics_log.txt"),
		MaxSize:    10, // MB
		MaxBackups: 3,
	}

	transcriptPath := filepath.Join(dir, "transcripts_log.txt")
	f, err := os.OpenFile(transcriptPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		diagOut.Close()
		diagOut = nil
		return err
	}
	transcriptFile = f

	consoleWriter := zerolog.ConsoleWriter{
		Out:        diagOut,
		TimeFormat: "2006-01-02 15:04:05",
		NoColor:    true,
	}
	diagLog = zerolog.New(consoleWriter).With().Timestamp().Int("pid", pid).Logger()

	logReady = true
	return nil
}

func Close() {
	logMu.Lock()
	defer logMu.Unlock()
	if diagOut != nil {
		diagOut.Close()
		diagOut = nil
	}
	if transcriptFile != nil {
		transcriptFile.Close()
		transcriptFile = nil
	}
	logReady = false
}

func Info(msg string) {
	if logReady {
		diagLog.Info().Msg(msg)
	}
}

func Error(msg string) {
	if logReady {
		diagLog.Error().Msg(msg)
	}
}

func Errorf(format string, args ...any) {
	if logReady {
		diagLog.Error().Msg(fmt.Sprintf(format, args...))
	}
}

func Warn(msg string) {
	if logReady {
		diagLog.Warn().Msg(msg)
	}
}

func Warnf(format string, args ...any) {
	if logReady {
		diagLog.Warn().Msg(fmt.Sprintf(format, args...))
	}
}

// SessionStart records one daemon launch with its wiring.
func SessionStart(device, listen, anki string) {
	if !logReady {
		return
	}
	diagLog.Info().
		Str("device", device).
		Str("listen", listen).
		Str("anki", anki).
		Msg("session_start")
}

func SessionEnd(recordings int) {
	if !logReady {
		return
	}
	diagLog.Info().
		Int("recordings", recordings).
		Msg("session_end")
}

// RecordingStart records one recording lifecycle opening.
func RecordingStart(id string, card int64, path string, sampleRate, channels int) {
	if !logReady {
		return
	}
	diagLog.Info().
		Str("rec", id).
		Int64("card", card).
		Str("path", path).
		Int("rate", sampleRate).
		Int("channels", channels).
		Msg("recording_start")
}

// RecordingStop records the stream totals of one finished recording.
func RecordingStop(id string, frames, bytes, dropped, drains uint64, seconds float64) {
	if !logReady {
		return
	}
	diagLog.Info().
		Str("rec", id).
		Uint64("frames", frames).
		Uint64("bytes", bytes).
		Uint64("dropped", dropped).
		Uint64("drains", drains).
		Float64("audio_s", seconds).
		Msg("recording_stop")
}

// SaveResult records one transcript field-save attempt.
func SaveResult(card int64, field string, ok bool, errText string) {
	if !logReady {
		return
	}
	ev := diagLog.Info().
		Int64("card", card).
		Str("field", field).
		Bool("ok", ok)
	if errText != "" {
		ev = ev.Str("error", errText)
	}
	ev.Msg("save_result")
}

// TranscriptText appends one saved transcript to the audit file.
func TranscriptText(text string) {
	if !logReady {
		return
	}
	logMu.Lock()
	defer logMu.Unlock()
	line := fmt.Sprintf("%s\t[%d]\t%s\n", time.Now().Format("2006-01-02 15:04:05"), pid, text)
	transcriptFile.WriteString(line)
}
