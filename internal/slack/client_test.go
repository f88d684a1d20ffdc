package slack

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return &Client{Token: "xoxb-test", BaseURL: srv.URL, HTTP: srv.Client()}
}

func TestUsersList_PagesAndAuth(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/users.list" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer xoxb-test" {
			t.Fatalf("unexpected auth header: %s", got)
		}
		if got := r.URL.Query().Get("limit"); got != "1000" {
			t.Fatalf("limit = %q", got)
		}
		if r.URL.Query().Get("cursor") == "" {
			_, _ = w.Write([]byte(`{"ok":true,"members":[{"id":"U1","profile":{"display_name":"ann","real_name":"Ann A","image_512":"http://a"}}],"response_metadata":{"next_cursor":"c2"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"ok":true,"members":[{"id":"U2","profile":{"real_name":"Bob"}}],"response_metadata":{"next_cursor":""}}`))
	})

	p1, err := c.UsersList(context.Background(), "")
	if err != nil {
		t.Fatalf("UsersList: %v", err)
	}
	if !p1.HasMore || p1.NextCursor != "c2" || len(p1.Members) != 1 || p1.Members[0].Profile.Image512 != "http://a" {
		t.Fatalf("page 1 unexpected: %+v", p1)
	}
	p2, err := c.UsersList(context.Background(), "c2")
	if err != nil {
		t.Fatalf("UsersList: %v", err)
	}
	if p2.HasMore || p2.Members[0].ID != "U2" {
		t.Fatalf("page 2 unexpected: %+v", p2)
	}
}

func TestAuthTest(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/auth.test" {
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"ok":true,"user_id":"UBOT","team_id":"T1"}`))
	})
	info, err := c.AuthTest(context.Background())
	if err != nil || info.UserID != "UBOT" || info.TeamID != "T1" {
		t.Fatalf("AuthTest = %+v, %v", info, err)
	}
}

func TestThread_FollowsCursor(t *testing.T) {
	calls := 0
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		q := r.URL.Query()
		if q.Get("channel") != "C1" || q.Get("ts") != "100.0" {
			t.Fatalf("unexpected query: %v", q)
		}
		if q.Get("cursor") == "" {
			_, _ = w.Write([]byte(`{"ok":true,"messages":[{"user":"U1","text":"a","ts":"100.0"}],"has_more":true,"response_metadata":{"next_cursor":"n"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"ok":true,"messages":[{"bot_id":"B1","text":"b","ts":"101.0"}],"has_more":false}`))
	})
	msgs, err := c.Thread(context.Background(), "C1", "100.0")
	if err != nil {
		t.Fatalf("Thread: %v", err)
	}
	if calls != 2 || len(msgs) != 2 || msgs[1].User != "" || msgs[1].Text != "b" {
		t.Fatalf("unexpected: calls=%d msgs=%+v", calls, msgs)
	}
}

func TestPostMessage(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat.postMessage" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		var in PostMessageInput
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if in.Channel != "C1" || in.ThreadTS != "1.0" || in.Username != "ann-bot" || in.IconURL != "http://a" {
			t.Fatalf("unexpected payload: %+v", in)
		}
		_, _ = w.Write([]byte(`{"ok":true,"ts":"123.456"}`))
	})
	ts, err := c.PostMessage(context.Background(), PostMessageInput{Channel: "C1", Text: "hi", ThreadTS: "1.0", Username: "ann-bot", IconURL: "http://a"})
	if err != nil || ts != "123.456" {
		t.Fatalf("PostMessage = %q, %v", ts, err)
	}
}

func TestClientErrors(t *testing.T) {
	c := &Client{BaseURL: "https://example.test", HTTP: http.DefaultClient}
	if _, err := c.AuthTest(context.Background()); !errors.Is(err, ErrMissingToken) {
		t.Fatalf("expected missing token error, got %v", err)
	}
	c.Token = "x"
	if _, err := c.PostMessage(context.Background(), PostMessageInput{Text: "x"}); err == nil {
		t.Fatalf("expected missing channel error")
	}

	c = newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ok":false,"error":"channel_not_found"}`))
	})
	_, err := c.PostMessage(context.Background(), PostMessageInput{Channel: "C1", Text: "x"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Code != "channel_not_found" || apiErr.Method != "chat.postMessage" {
		t.Fatalf("expected APIError, got %v", err)
	}

	c = newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	if _, err := c.PostMessage(context.Background(), PostMessageInput{Channel: "C1", Text: "x"}); err == nil {
		t.Fatalf("expected missing ts error")
	}

	c = newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not-json`))
	})
	if _, err := c.UsersList(context.Background(), ""); err == nil {
		t.Fatalf("expected decode error")
	}

	c = newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})
	if _, err := c.AuthTest(context.Background()); !errors.As(err, &apiErr) || apiErr.Code != "ratelimited" {
		t.Fatalf("expected ratelimited APIError, got %v", err)
	}
}

func TestRespond(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "" {
			t.Fatalf("response_url must not receive the bot token")
		}
		b, _ := io.ReadAll(r.Body)
		got = string(b)
	}))
	defer srv.Close()

	c := NewClient("xoxb-test", "")
	if err := c.Respond(context.Background(), srv.URL+"/hook", "Began collecting ann's messages."); err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if !strings.Contains(got, `"text":"Began collecting ann's messages."`) || !strings.Contains(got, `"response_type":"ephemeral"`) {
		t.Fatalf("unexpected body: %s", got)
	}

	if err := c.Respond(context.Background(), "", "x"); err == nil {
		t.Fatalf("expected missing url error")
	}

	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusGone)
	}))
	defer bad.Close()
	if err := c.Respond(context.Background(), bad.URL, "x"); err == nil {
		t.Fatalf("expected status error")
	}
}
