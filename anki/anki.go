// Package anki talks to a running Anki instance through the
// AnkiConnect add-on's JSON API.
package anki

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"ankiscribe/log"
)

// DefaultURL is where AnkiConnect listens out of the box.
const DefaultURL = "http://127.0.0.1:8765"

const apiVersion = 6

var ErrNoCurrentCard = errors.New("anki: no card under review")

type Client struct {
	url  string
	http *resty.Client
}

func NewClient(url string) *Client {
	if url == "" {
		url = DefaultURL
	}
	return &Client{
		url:  url,
		http: resty.New().SetTimeout(5 * time.Second),
	}
}

type apiRequest struct {
	Action  string `json:"action"`
	Version int    `json:"version"`
	Params  any    `json:"params,omitempty"`
}

type apiResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *string         `json:"error"`
}

// invoke posts one action and decodes the response envelope. The body
// is parsed by hand because AnkiConnect labels it text/json, which
// defeats content-type driven unmarshalling.
func (c *Client) invoke(action string, params, result any) error {
	r, err := c.http.R().
		SetHeader("Content-Type", "application/json").
		SetBody(apiRequest{Action: action, Version: apiVersion, Params: params}).
		Post(c.url)
	if err != nil {
		return fmt.Errorf("anki: %s: %w", action, err)
	}
	if r.IsError() {
		return fmt.Errorf("anki: %s: HTTP %s", action, r.Status())
	}
	var resp apiResponse
	if err := json.Unmarshal(r.Body(), &resp); err != nil {
		return fmt.Errorf("anki: %s: decode response: %w", action, err)
	}
	if resp.Error != nil && *resp.Error != "" {
		return fmt.Errorf("anki: %s: %s", action, *resp.Error)
	}
	if result != nil && len(resp.Result) > 0 {
		if err := json.Unmarshal(resp.Result, result); err != nil {
			return fmt.Errorf("anki: %s: decode result: %w", action, err)
		}
	}
	return nil
}

func (c *Client) Version() (int, error) {
	var v int
	if err := c.invoke("version", nil, &v); err != nil {
		return 0, err
	}
	return v, nil
}

type FieldValue struct {
	Value string `json:"value"`
	Order int    `json:"order"`
}

type CurrentCard struct {
	CardID    int64                 `json:"cardId"`
	DeckName  string                `json:"deckName"`
	ModelName string                `json:"modelName"`
	Question  string                `json:"question"`
	Answer    string                `json:"answer"`
	Fields    map[string]FieldValue `json:"fields"`
}

// GuiCurrentCard reports the card currently shown in the reviewer.
// ErrNoCurrentCard when the user is not reviewing; that is the normal
// idle state, not a failure.
func (c *Client) GuiCurrentCard() (*CurrentCard, error) {
	var card CurrentCard
	if err := c.invoke("guiCurrentCard", nil, &card); err != nil {
		if strings.Contains(err.Error(), "not currently active") {
			return nil, ErrNoCurrentCard
		}
		return nil, err
	}
	if card.CardID == 0 {
		return nil, ErrNoCurrentCard
	}
	return &card, nil
}

func (c *Client) CardsToNotes(cardIDs []int64) ([]int64, error) {
	var noteIDs []int64
	err := c.invoke("cardsToNotes", map[string]any{"cards": cardIDs}, &noteIDs)
	return noteIDs, err
}

type NoteInfo struct {
	NoteID    int64                 `json:"noteId"`
	ModelName string                `json:"modelName"`
	Tags      []string              `json:"tags"`
	Fields    map[string]FieldValue `json:"fields"`
}

// NotesInfo looks up notes by id. AnkiConnect pads unknown ids with
// empty objects, so callers must check NoteID != 0.
func (c *Client) NotesInfo(noteIDs []int64) ([]NoteInfo, error) {
	var notes []NoteInfo
	err := c.invoke("notesInfo", map[string]any{"notes": noteIDs}, &notes)
	return notes, err
}

func (c *Client) UpdateNoteFields(noteID int64, fields map[string]string) error {
	params := map[string]any{
		"note": map[string]any{
			"id":     noteID,
			"fields": fields,
		},
	}
	return c.invoke("updateNoteFields", params, nil)
}

// FieldResult is the outcome of a transcript save, shaped for the
// review panel: a missing field is advice for the user, not an
// exception.
type FieldResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// SaveField writes text into one field of the note behind cardID,
// resolving card to note first so re-saves overwrite rather than
// append. Every attempt lands in the diagnostics log; successful
// saves also land in the transcript audit.
func (c *Client) SaveField(cardID int64, field, text string) FieldResult {
	res := c.saveField(cardID, field, text)
	log.SaveResult(cardID, field, res.Success, res.Error)
	if res.Success {
		log.TranscriptText(text)
	}
	return res
}

func (c *Client) saveField(cardID int64, field, text string) FieldResult {
	noteIDs, err := c.CardsToNotes([]int64{cardID})
	if err != nil {
		return FieldResult{Error: err.Error()}
	}
	if len(noteIDs) == 0 {
		return FieldResult{Error: fmt.Sprintf("card %d has no note", cardID)}
	}
	notes, err := c.NotesInfo(noteIDs[:1])
	if err != nil {
		return FieldResult{Error: err.Error()}
	}
	if len(notes) == 0 || notes[0].NoteID == 0 {
		return FieldResult{Error: fmt.Sprintf("note for card %d not found", cardID)}
	}
	note := notes[0]
	if _, ok := note.Fields[field]; !ok {
		return FieldResult{Error: fmt.Sprintf("note type %q has no %q field; add one to save transcripts", note.ModelName, field)}
	}
	if err := c.UpdateNoteFields(note.NoteID, map[string]string{field: text}); err != nil {
		return FieldResult{Error: err.Error()}
	}
	return FieldResult{Success: true}
}
