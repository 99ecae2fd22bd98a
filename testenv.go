package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"ankiscribe/anki"
	"ankiscribe/audio"
	"ankiscribe/beep"
	"ankiscribe/bridge"
	"ankiscribe/hotkey"
	"ankiscribe/log"
	"ankiscribe/record"
)

// runTestMode drives the daemon from stdin against a fake capture
// context that replays a WAV file in real time. The harness reads the
// printed responses and the structured logs. Commands, one per line:
//
//	START [cardID]   begin a turn
//	STOP             end the turn, prints STOPPED <path>
//	ABANDON          discard the turn
//	TOGGLE           simulate one hotkey press
//	STATUS           print recording state and duration
//	SLEEP <ms>       pause the driver
//	QUIT             end the session
func runTestMode(cfg Config) {
	beep.Disable()

	if err := log.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not init logging: %v\n", err)
	}
	defer log.Close()

	fakeCtx, err := audio.NewFakeContext(cfg.TestWAV, true)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading WAV: %v\n", err)
		os.Exit(1)
	}

	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "Error creating recordings directory: %v\n", err)
		os.Exit(1)
	}

	log.SessionStart("fake: "+cfg.TestWAV, cfg.Listen, cfg.AnkiURL)

	ctl := record.NewController(fakeCtx, nil, cfg.Dir)
	rec := &recorder{Controller: ctl, sink: nopSink{}}

	client := anki.NewClient(cfg.AnkiURL)
	srv := bridge.NewServer(cfg.Listen, cfg.Field, rec, &saver{client: client, sink: nopSink{}})
	ctl.AddChunkSink(srv)
	ctl.AddNotificationSink(srv)
	if err := srv.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer srv.Close()

	// The harness parses this line to find the bridge when -listen
	// picked a free port.
	fmt.Printf("READY %s\n", srv.Addr())

	// TOGGLE goes through the same channel plumbing the real hotkey
	// uses; toggled confirms the press was applied so the next command
	// sees the new state.
	hk := hotkey.NewFake()
	toggled := make(chan struct{})
	go func() {
		for range hk.Toggled() {
			toggleRecording(rec, client, srv)
			toggled <- struct{}{}
		}
	}()

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "START":
			var cardID int64
			if len(fields) > 1 {
				cardID, _ = strconv.ParseInt(fields[1], 10, 64)
			}
			if err := rec.BeginTurn(cardID); err != nil {
				fmt.Printf("ERR %v\n", err)
				continue
			}
			fmt.Println("OK")
		case "STOP":
			path, err := rec.EndTurn()
			if err != nil {
				fmt.Printf("ERR %v\n", err)
				continue
			}
			fmt.Printf("STOPPED %s\n", path)
		case "ABANDON":
			if err := rec.Abandon(); err != nil {
				fmt.Printf("ERR %v\n", err)
				continue
			}
			fmt.Println("ABANDONED")
		case "TOGGLE":
			hk.SimPress()
			<-toggled
			fmt.Println("TOGGLED")
		case "STATUS":
			fmt.Printf("STATUS recording=%v seconds=%.1f finished=%d\n",
				ctl.Active(), ctl.Duration(), ctl.Finished())
		case "SLEEP":
			if len(fields) > 1 {
				if ms, err := strconv.Atoi(fields[1]); err == nil {
					time.Sleep(time.Duration(ms) * time.Millisecond)
				}
			}
		case "QUIT":
			log.SessionEnd(ctl.Finished())
			fmt.Println("BYE")
			return
		default:
			fmt.Printf("ERR unknown command %q\n", fields[0])
		}
	}

	log.SessionEnd(ctl.Finished())
}
