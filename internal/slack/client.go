// Package slack is a small Slack Web API client covering what the bot needs:
// member listing, bot identity, thread history, posting, and slash-command
// responses. It also verifies inbound request signatures and decodes event
// and command payloads.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// DefaultBaseURL is the public Web API root.
const DefaultBaseURL = "https://slack.com/api"

// PageLimit is the page size requested from paginated methods.
const PageLimit = 1000

// APIError is an ok=false reply from the Web API.
type APIError struct {
	Method string
	Code   string
}

func (e *APIError) Error() string { return "slack " + e.Method + ": " + e.Code }

// ErrMissingToken is returned when the client has no bot token.
var ErrMissingToken = errors.New("missing slack token")

// Client calls the Web API with a bot token.
type Client struct {
	Token   string
	BaseURL string
	HTTP    *http.Client
}

// NewClient returns a client whose transport is traced with OpenTelemetry.
func NewClient(token, baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		Token:   token,
		BaseURL: baseURL,
		HTTP: &http.Client{
			Timeout:   30 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// Profile holds the profile fields read from users.list.
type Profile struct {
	DisplayName string `json:"display_name"`
	RealName    string `json:"real_name"`
	Image512    string `json:"image_512"`
}

// User is one member from users.list.
type User struct {
	ID      string  `json:"id"`
	Deleted bool    `json:"deleted"`
	IsBot   bool    `json:"is_bot"`
	Profile Profile `json:"profile"`
}

// UsersPage is one page of users.list.
type UsersPage struct {
	Members    []User
	HasMore    bool
	NextCursor string
}

// Message is one message from conversations.replies.
type Message struct {
	User     string `json:"user,omitempty"`
	BotID    string `json:"bot_id,omitempty"`
	Text     string `json:"text"`
	TS       string `json:"ts"`
	ThreadTS string `json:"thread_ts,omitempty"`
}

// RepliesPage is one page of conversations.replies.
type RepliesPage struct {
	Messages   []Message
	HasMore    bool
	NextCursor string
}

// AuthInfo is the auth.test reply.
type AuthInfo struct {
	UserID string `json:"user_id"`
	TeamID string `json:"team_id"`
	BotID  string `json:"bot_id"`
}

// PostMessageInput is a chat.postMessage request.
type PostMessageInput struct {
	Channel  string `json:"channel"`
	Text     string `json:"text"`
	ThreadTS string `json:"thread_ts,omitempty"`
	Username string `json:"username,omitempty"`
	IconURL  string `json:"icon_url,omitempty"`
}

type envelope struct {
	OK               bool   `json:"ok"`
	Error            string `json:"error,omitempty"`
	HasMore          bool   `json:"has_more,omitempty"`
	ResponseMetadata struct {
		NextCursor string `json:"next_cursor"`
	} `json:"response_metadata"`
}

// UsersList fetches one page of workspace members.
func (c *Client) UsersList(ctx context.Context, cursor string) (UsersPage, error) {
	q := url.Values{"limit": {strconv.Itoa(PageLimit)}}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	var resp struct {
		envelope
		Members []User `json:"members"`
	}
	if err := c.get(ctx, "users.list", q, &resp, &resp.envelope); err != nil {
		return UsersPage{}, err
	}
	return UsersPage{
		Members:    resp.Members,
		HasMore:    resp.ResponseMetadata.NextCursor != "",
		NextCursor: resp.ResponseMetadata.NextCursor,
	}, nil
}

// AuthTest returns the identity behind the bot token.
func (c *Client) AuthTest(ctx context.Context) (AuthInfo, error) {
	var resp struct {
		envelope
		AuthInfo
	}
	if err := c.post(ctx, "auth.test", struct{}{}, &resp, &resp.envelope); err != nil {
		return AuthInfo{}, err
	}
	return resp.AuthInfo, nil
}

// ConversationReplies fetches one page of a thread rooted at ts.
func (c *Client) ConversationReplies(ctx context.Context, channel, ts, cursor string) (RepliesPage, error) {
	q := url.Values{
		"channel": {channel},
		"ts":      {ts},
		"limit":   {strconv.Itoa(PageLimit)},
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	var resp struct {
		envelope
		Messages []Message `json:"messages"`
	}
	if err := c.get(ctx, "conversations.replies", q, &resp, &resp.envelope); err != nil {
		return RepliesPage{}, err
	}
	return RepliesPage{
		Messages:   resp.Messages,
		HasMore:    resp.HasMore && resp.ResponseMetadata.NextCursor != "",
		NextCursor: resp.ResponseMetadata.NextCursor,
	}, nil
}

// Thread returns every message of the thread rooted at ts, following cursors.
func (c *Client) Thread(ctx context.Context, channel, ts string) ([]Message, error) {
	var out []Message
	cursor := ""
	for {
		page, err := c.ConversationReplies(ctx, channel, ts, cursor)
		if err != nil {
			return nil, err
		}
		out = append(out, page.Messages...)
		if !page.HasMore {
			return out, nil
		}
		cursor = page.NextCursor
	}
}

// PostMessage posts a message and returns its ts.
func (c *Client) PostMessage(ctx context.Context, in PostMessageInput) (string, error) {
	if in.Channel == "" {
		return "", fmt.Errorf("missing slack channel")
	}
	var resp struct {
		envelope
		TS string `json:"ts"`
	}
	if err := c.post(ctx, "chat.postMessage", in, &resp, &resp.envelope); err != nil {
		return "", err
	}
	if resp.TS == "" {
		return "", fmt.Errorf("missing slack message ts")
	}
	return resp.TS, nil
}

// Respond posts text to a slash command's response_url. Replies are
// ephemeral to the invoking user.
func (c *Client) Respond(ctx context.Context, responseURL, text string) error {
	if responseURL == "" {
		return fmt.Errorf("missing response url")
	}
	body, err := json.Marshal(map[string]string{"text": text, "response_type": "ephemeral"})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, responseURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := c.httpClient().Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, res.Body)
	if res.StatusCode/100 != 2 {
		return fmt.Errorf("slack response_url: status %d", res.StatusCode)
	}
	return nil
}

func (c *Client) httpClient() *http.Client {
	if c.HTTP == nil {
		c.HTTP = &http.Client{Timeout: 30 * time.Second}
	}
	return c.HTTP
}

func (c *Client) baseURL() string {
	if c.BaseURL == "" {
		return DefaultBaseURL
	}
	return c.BaseURL
}

func (c *Client) get(ctx context.Context, method string, q url.Values, out any, env *envelope) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL()+"/"+method+"?"+q.Encode(), nil)
	if err != nil {
		return err
	}
	return c.do(req, method, out, env)
}

func (c *Client) post(ctx context.Context, method string, payload any, out any, env *envelope) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL()+"/"+method, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	return c.do(req, method, out, env)
}

func (c *Client) do(req *http.Request, method string, out any, env *envelope) error {
	if c.Token == "" {
		return ErrMissingToken
	}
	req.Header.Set("Authorization", "Bearer "+c.Token)

	res, err := c.httpClient().Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusTooManyRequests {
		return &APIError{Method: method, Code: "ratelimited"}
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("slack %s: decode: %w", method, err)
	}
	if !env.OK {
		code := env.Error
		if code == "" {
			code = "slack api error"
		}
		return &APIError{Method: method, Code: code}
	}
	return nil
}
