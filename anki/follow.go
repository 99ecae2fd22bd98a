package anki

import (
	"errors"
	"time"

	"ankiscribe/log"
)

// Follower polls the reviewer and reports card changes, so recording
// can follow the review flow without any add-on installed beyond
// AnkiConnect.
type Follower struct {
	Client   *Client
	Interval time.Duration           // default 1s
	OnChange func(card *CurrentCard) // nil card = left review
}

// Run polls until stop closes. Consecutive polls of the same card are
// silent; only transitions reach OnChange. An unreachable Anki is
// treated as leaving review and logged once per outage.
func (f *Follower) Run(stop <-chan struct{}) {
	interval := f.Interval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastID int64
	down := false
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		card, err := f.Client.GuiCurrentCard()
		switch {
		case err == nil:
			down = false
			if card.CardID != lastID {
				lastID = card.CardID
				f.OnChange(card)
			}
		case errors.Is(err, ErrNoCurrentCard):
			down = false
			if lastID != 0 {
				lastID = 0
				f.OnChange(nil)
			}
		default:
			if !down {
				down = true
				log.Warnf("card poll: %v", err)
			}
			if lastID != 0 {
				lastID = 0
				f.OnChange(nil)
			}
		}
	}
}
