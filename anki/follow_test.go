package anki

import (
	"sync"
	"testing"
	"time"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestFollowerReportsTransitionsOnly(t *testing.T) {
	fake := &fakeAnki{}
	srv := fake.serve(t)

	var mu sync.Mutex
	var events []int64 // 0 = left review
	stop := make(chan struct{})
	defer close(stop)

	f := &Follower{
		Client:   NewClient(srv.URL),
		Interval: 10 * time.Millisecond,
		OnChange: func(card *CurrentCard) {
			mu.Lock()
			defer mu.Unlock()
			if card == nil {
				events = append(events, 0)
				return
			}
			events = append(events, card.CardID)
		},
	}
	go f.Run(stop)

	snapshot := func() []int64 {
		mu.Lock()
		defer mu.Unlock()
		return append([]int64(nil), events...)
	}

	// Idle reviewer produces nothing.
	time.Sleep(50 * time.Millisecond)
	if got := snapshot(); len(got) != 0 {
		t.Fatalf("idle poll produced events: %v", got)
	}

	fake.setCurrent(&CurrentCard{CardID: 11})
	waitFor(t, "first card", func() bool { return len(snapshot()) == 1 })

	// Same card again: still one event.
	time.Sleep(50 * time.Millisecond)
	if got := snapshot(); len(got) != 1 || got[0] != 11 {
		t.Fatalf("events = %v, want [11]", got)
	}

	fake.setCurrent(&CurrentCard{CardID: 22})
	waitFor(t, "second card", func() bool { return len(snapshot()) == 2 })

	fake.setCurrent(nil)
	waitFor(t, "leaving review", func() bool { return len(snapshot()) == 3 })

	if got := snapshot(); got[0] != 11 || got[1] != 22 || got[2] != 0 {
		t.Errorf("events = %v, want [11 22 0]", got)
	}
}
