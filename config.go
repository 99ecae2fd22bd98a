package main

import (
	"flag"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"ankiscribe/anki"
	"ankiscribe/bridge"
)

const defaultField = "Transcript"

// Config holds everything the daemon reads from flags, environment
// variables and the .env file. Flags win over environment, environment
// wins over defaults.
type Config struct {
	Dir     string
	Listen  string
	AnkiURL string
	Device  string
	Setup   bool
	Follow  bool
	Field   string
	Copy    bool
	Quiet   bool
	Hotkey  bool
	LogPath string
	TestWAV string
	TUI     bool
	Doctor  bool
	Version bool
}

func parseConfig() Config {
	_ = godotenv.Load()

	var cfg Config
	flag.StringVar(&cfg.Dir, "dir", envOr("ANKISCRIBE_DIR", defaultRecordingDir()), "directory for recorded WAV files")
	flag.StringVar(&cfg.Listen, "listen", envOr("ANKISCRIBE_LISTEN", bridge.DefaultAddr), "listen address for the panel bridge")
	flag.StringVar(&cfg.AnkiURL, "anki", envOr("ANKISCRIBE_ANKI", anki.DefaultURL), "AnkiConnect endpoint")
	flag.StringVar(&cfg.Device, "device", envOr("ANKISCRIBE_DEVICE", ""), "capture device name (substring match)")
	flag.BoolVar(&cfg.Setup, "setup", false, "pick a capture device interactively and save the choice")
	flag.BoolVar(&cfg.Follow, "follow", envBool("ANKISCRIBE_FOLLOW", false), "start and stop recording as cards change in review")
	flag.StringVar(&cfg.Field, "field", envOr("ANKISCRIBE_FIELD", defaultField), "note field transcripts are saved to")
	flag.BoolVar(&cfg.Copy, "copy", envBool("ANKISCRIBE_COPY", false), "copy saved transcripts to the clipboard")
	flag.BoolVar(&cfg.Quiet, "quiet", envBool("ANKISCRIBE_QUIET", false), "disable audio cues")
	flag.BoolVar(&cfg.Hotkey, "hotkey", envBool("ANKISCRIBE_HOTKEY", true), "register the global record toggle (ctrl+shift+r)")
	flag.StringVar(&cfg.LogPath, "logpath", "", "log directory (default: OS log dir)")
	flag.StringVar(&cfg.TestWAV, "test", "", "test mode: replay WAV `file` as the microphone, drive via stdin")
	flag.BoolVar(&cfg.TUI, "tui", envBool("ANKISCRIBE_TUI", true), "show the terminal status view")
	flag.BoolVar(&cfg.Doctor, "doctor", false, "check the environment and exit")
	flag.BoolVar(&cfg.Version, "version", false, "print version and exit")
	flag.Parse()

	return cfg
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func defaultRecordingDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "recordings"
	}
	return filepath.Join(home, "ankiscribe")
}

// deviceConfigPath is where -setup persists the chosen capture device.
func deviceConfigPath() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "ankiscribe", "device"), nil
}

// savedDevice returns the persisted device name, or "" when none was
// saved. Any read error counts as no saved choice.
func savedDevice() string {
	path, err := deviceConfigPath()
	if err != nil {
		return ""
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func saveDevice(name string) error {
	path, err := deviceConfigPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(name+"\n"), 0o644)
}
