package slack

import (
	"encoding/json"
	"errors"
	"net/url"
	"strings"
)

// Envelope types delivered to the events endpoint.
const (
	TypeURLVerification = "url_verification"
	TypeEventCallback   = "event_callback"
	EventAppMention     = "app_mention"
)

// Envelope is the outer Events API payload.
type Envelope struct {
	Type      string          `json:"type"`
	Challenge string          `json:"challenge,omitempty"`
	TeamID    string          `json:"team_id,omitempty"`
	EventID   string          `json:"event_id,omitempty"`
	Event     json.RawMessage `json:"event,omitempty"`
}

// InnerEvent holds the fields of the wrapped event the bot reads.
type InnerEvent struct {
	Type     string `json:"type"`
	User     string `json:"user"`
	Text     string `json:"text"`
	Channel  string `json:"channel"`
	TS       string `json:"ts"`
	ThreadTS string `json:"thread_ts,omitempty"`
}

// ThreadRoot is the ts of the thread the event belongs to: its thread_ts,
// or its own ts for a top-level message.
func (e InnerEvent) ThreadRoot() string {
	if e.ThreadTS != "" {
		return e.ThreadTS
	}
	return e.TS
}

// ErrMalformedEvent is returned for payloads missing required fields.
var ErrMalformedEvent = errors.New("malformed slack event")

// ParseEnvelope decodes an Events API body.
func ParseEnvelope(body []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Envelope{}, err
	}
	if env.Type == "" {
		return Envelope{}, ErrMalformedEvent
	}
	return env, nil
}

// Inner decodes the wrapped event.
func (e Envelope) Inner() (InnerEvent, error) {
	if len(e.Event) == 0 {
		return InnerEvent{}, ErrMalformedEvent
	}
	var in InnerEvent
	if err := json.Unmarshal(e.Event, &in); err != nil {
		return InnerEvent{}, err
	}
	return in, nil
}

// SlashCommand is a decoded slash-command form post.
type SlashCommand struct {
	Command     string
	Text        string
	TeamID      string
	ChannelID   string
	UserID      string
	ResponseURL string
}

// ParseSlashCommand decodes an application/x-www-form-urlencoded body.
func ParseSlashCommand(body []byte) (SlashCommand, error) {
	form, err := url.ParseQuery(string(body))
	if err != nil {
		return SlashCommand{}, err
	}
	cmd := SlashCommand{
		Command:     form.Get("command"),
		Text:        strings.TrimSpace(form.Get("text")),
		TeamID:      form.Get("team_id"),
		ChannelID:   form.Get("channel_id"),
		UserID:      form.Get("user_id"),
		ResponseURL: form.Get("response_url"),
	}
	if cmd.Command == "" || cmd.TeamID == "" {
		return SlashCommand{}, ErrMalformedEvent
	}
	return cmd, nil
}
