// Package doctor verifies the environment the daemon needs: a working
// capture device, a writable WAV path, a reachable AnkiConnect and a
// bindable bridge port.
package doctor

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"ankiscribe/anki"
	"ankiscribe/audio"
	"ankiscribe/hotkey"
	"ankiscribe/record"
	"ankiscribe/wav"
)

// Options narrows the daemon config down to what the checks touch.
type Options struct {
	Device  string
	AnkiURL string
	Listen  string
}

// Run executes the checks and returns an exit code (0=all pass, 1=any fail).
func Run(opts Options) int {
	resetTerminal()
	setupInterruptHandler()

	fmt.Println("ankiscribe doctor - system diagnostics")
	fmt.Println("======================================")

	allPass := true

	if !checkHotkey() {
		allPass = false
	}
	pcm, format, ok := checkMicrophone(opts.Device)
	if !ok {
		allPass = false
	}
	if ok && !checkWAV(pcm, format) {
		allPass = false
	}
	if !checkAnki(opts.AnkiURL) {
		allPass = false
	}
	if !checkBridgePort(opts.Listen) {
		allPass = false
	}

	fmt.Println()
	if allPass {
		fmt.Println("All checks passed!")
		return 0
	}
	fmt.Println("Some checks failed. See details above.")
	return 1
}

func checkHotkey() bool {
	fmt.Println()
	fmt.Println("[1/5] Hotkey")

	msg, err := hotkey.Diagnose()
	if err != nil {
		fmt.Printf("  FAIL: %v\n", err)
		return false
	}
	fmt.Printf("  %s\n", msg)

	hk := hotkey.New()
	if err := hk.Register(); err != nil {
		fmt.Printf("  FAIL: could not register hotkey: %v\n", err)
		return false
	}
	defer hk.Unregister()

	fmt.Println("  Press Ctrl+Shift+R...")
	select {
	case <-hk.Toggled():
		// The listener may leave the terminal in raw mode
		resetTerminal()
		fmt.Println("  PASS: hotkey detected")
		return true
	case <-time.After(10 * time.Second):
		fmt.Println("  FAIL: timeout waiting for hotkey")
		return false
	}
}

func checkMicrophone(deviceName string) ([]byte, audio.Format, bool) {
	fmt.Println()
	fmt.Println("[2/5] Microphone")

	ctx, err := audio.NewContext()
	if err != nil {
		fmt.Printf("  FAIL: cannot connect to audio: %v\n", err)
		return nil, audio.Format{}, false
	}
	defer ctx.Close()

	devices, err := ctx.Devices()
	if err != nil {
		fmt.Printf("  FAIL: cannot list devices: %v\n", err)
		return nil, audio.Format{}, false
	}
	if len(devices) == 0 {
		fmt.Println("  FAIL: no capture devices found")
		return nil, audio.Format{}, false
	}

	device := audio.Match(devices, deviceName)
	if device != nil {
		fmt.Printf("  Using device: %s\n", device.Name)
	} else {
		fmt.Println("  Using default device")
	}

	reader := bufio.NewReader(os.Stdin)
	fmt.Print("  Press Enter and speak for 3 seconds...")
	reader.ReadString('\n')

	stop := make(chan struct{})
	go func() {
		time.Sleep(3 * time.Second)
		close(stop)
	}()

	pcm, format, err := captureFor(ctx, device, stop)
	if err != nil {
		fmt.Printf("  FAIL: recording error: %v\n", err)
		return nil, audio.Format{}, false
	}
	if len(pcm) == 0 {
		fmt.Println("  FAIL: no audio captured")
		return nil, audio.Format{}, false
	}

	peak := peakLevel(pcm)
	fmt.Printf("  Recorded %.1f KB at %d Hz, peak level %.2f\n",
		float64(len(pcm))/1024, format.SampleRate, peak)
	if peak < 0.01 {
		fmt.Println("  FAIL: microphone captured only silence")
		return nil, audio.Format{}, false
	}

	fmt.Println("  PASS: microphone captured audio")
	return pcm, format, true
}

func captureFor(ctx audio.Context, device *audio.DeviceInfo, stop <-chan struct{}) ([]byte, audio.Format, error) {
	capture, format, err := ctx.NewCapture(device, record.DefaultFormat)
	if err != nil {
		return nil, audio.Format{}, err
	}

	var mu sync.Mutex
	var pcm []byte
	stopped := false

	capture.SetCallback(func(data []byte, _ uint32) {
		mu.Lock()
		if !stopped {
			pcm = append(pcm, data...)
		}
		mu.Unlock()
	})

	if err := capture.Start(); err != nil {
		capture.Close()
		return nil, format, err
	}

	fmt.Print("  Recording")
	done := make(chan struct{})
	ticker := time.NewTicker(500 * time.Millisecond)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				fmt.Print(".")
			}
		}
	}()

	<-stop
	close(done)

	capture.Stop()
	fmt.Println(" done")
	capture.Close()

	mu.Lock()
	stopped = true
	raw := pcm
	mu.Unlock()

	return raw, format, nil
}

func peakLevel(pcm []byte) float64 {
	var peak int
	for i := 0; i+1 < len(pcm); i += 2 {
		s := int(int16(uint16(pcm[i]) | uint16(pcm[i+1])<<8))
		if s < 0 {
			s = -s
		}
		if s > peak {
			peak = s
		}
	}
	return float64(peak) / 32768
}

func checkWAV(pcm []byte, format audio.Format) bool {
	fmt.Println()
	fmt.Println("[3/5] WAV writer")

	path := filepath.Join(os.TempDir(), "ankiscribe_doctor.wav")
	defer os.Remove(path)

	w, err := wav.Create(path, wav.Format{
		SampleRate:  format.SampleRate,
		Channels:    format.Channels,
		SampleWidth: format.SampleWidth,
	})
	if err != nil {
		fmt.Printf("  FAIL: create: %v\n", err)
		return false
	}
	if err := w.Write(pcm); err != nil {
		fmt.Printf("  FAIL: write: %v\n", err)
		w.Close()
		return false
	}
	frames := w.Frames()
	if err := w.Close(); err != nil {
		fmt.Printf("  FAIL: close: %v\n", err)
		return false
	}

	parsed, gotFrames, err := wav.Info(path)
	if err != nil {
		fmt.Printf("  FAIL: reparse: %v\n", err)
		return false
	}
	if parsed.SampleRate != format.SampleRate || gotFrames != frames {
		fmt.Printf("  FAIL: header mismatch (%d Hz / %d frames, want %d / %d)\n",
			parsed.SampleRate, gotFrames, format.SampleRate, frames)
		return false
	}

	fmt.Printf("  PASS: %d frames round-tripped\n", gotFrames)
	return true
}

func checkAnki(url string) bool {
	fmt.Println()
	fmt.Println("[4/5] AnkiConnect")

	client := anki.NewClient(url)
	ver, err := client.Version()
	if err != nil {
		fmt.Printf("  FAIL: %v\n", err)
		fmt.Println("  Is Anki running with the AnkiConnect add-on installed?")
		return false
	}
	fmt.Printf("  PASS: AnkiConnect version %d\n", ver)
	return true
}

func checkBridgePort(addr string) bool {
	fmt.Println()
	fmt.Println("[5/5] Panel bridge port")

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		fmt.Printf("  FAIL: cannot bind %s: %v\n", addr, err)
		fmt.Println("  Is another ankiscribe instance running?")
		return false
	}
	ln.Close()
	fmt.Printf("  PASS: %s is bindable\n", addr)
	return true
}
