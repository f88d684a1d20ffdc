package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/tbourn/go-doppel-bot/internal/domain"
)

func newTestServer(t *testing.T, h http.HandlerFunc, opts Options) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	opts.BaseURL = srv.URL + "/"
	opts.HTTPClient = srv.Client()
	c, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestNew_RequiresBaseURL(t *testing.T) {
	if _, err := New(Options{BaseURL: "  "}); err == nil {
		t.Fatalf("expected baseURL error")
	}
	c, err := New(Options{BaseURL: "http://svc/", MaxRetries: -3})
	if err != nil || c.BaseURL() != "http://svc" || c.maxRetries != 0 {
		t.Fatalf("unexpected client: %+v err=%v", c, err)
	}
}

func TestCollector_Collect(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/collect" || r.Method != http.MethodPost {
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer svc-token" {
			t.Fatalf("auth header = %q", got)
		}
		var in collectRequest
		_ = json.NewDecoder(r.Body).Decode(&in)
		if in.User != "bob" || in.TeamID != "T1" || in.BotToken != "xoxb" {
			t.Fatalf("unexpected body: %+v", in)
		}
		_, _ = w.Write([]byte(`{"samples":42}`))
	}, Options{Token: "svc-token"})

	n, err := NewCollector(c).Collect(context.Background(), "bob", "T1", "xoxb")
	if err != nil || n != 42 {
		t.Fatalf("Collect = %d, %v", n, err)
	}
}

func TestCollector_MissingOrNegativeSamples(t *testing.T) {
	for _, body := range []string{`{}`, `{"samples":-1}`} {
		c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(body))
		}, Options{})
		if _, err := NewCollector(c).Collect(context.Background(), "bob", "T1", ""); err == nil {
			t.Fatalf("expected error for body %s", body)
		}
	}
}

func TestFineTuner_ErrorEnvelope(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"corpus too small","code":"too_small"}}`))
	}, Options{MaxRetries: 2})

	err := NewFineTuner(c).Train(context.Background(), "bob", "T1")
	var herr *HTTPError
	if !errors.As(err, &herr) {
		t.Fatalf("expected HTTPError, got %v", err)
	}
	if herr.StatusCode != 400 || herr.Message != "corpus too small" || herr.Code != "too_small" {
		t.Fatalf("unexpected HTTPError: %+v", herr)
	}
}

func TestFineTuner_Success(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/finetune" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusNoContent)
	}, Options{})
	if err := NewFineTuner(c).Train(context.Background(), "bob", "T1"); err != nil {
		t.Fatalf("Train: %v", err)
	}
}

func TestDoJSON_RetriesTemporaryFailures(t *testing.T) {
	var calls int32
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"detail":"warming up"}`))
			return
		}
		_, _ = w.Write([]byte(`{"text":"U1: hi"}`))
	}, Options{MaxRetries: 1})

	out, err := NewGenerator(c).Generate(context.Background(), "T1", "bob", "prompt", domain.DefaultSampling())
	if err != nil || out != "U1: hi" {
		t.Fatalf("Generate = %q, %v", out, err)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
}

func TestGenerator_SendsSamplingAndRejectsEmpty(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		var in map[string]any
		_ = json.NewDecoder(r.Body).Decode(&in)
		if in["prompt"] != "U1: hello" || in["top_k"] != float64(40) || in["do_sample"] != true || in["user"] != "bob" {
			t.Fatalf("unexpected body: %v", in)
		}
		_, _ = w.Write([]byte(`{"text":"   "}`))
	}, Options{})

	_, err := NewGenerator(c).Generate(context.Background(), "T1", "bob", "U1: hello", domain.DefaultSampling())
	if !errors.Is(err, ErrEmptyOutput) {
		t.Fatalf("expected ErrEmptyOutput, got %v", err)
	}
}

func TestDoJSON_Timeout(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}, Options{Timeout: 50 * time.Millisecond})

	if _, err := NewGenerator(c).Generate(context.Background(), "T1", "bob", "x", domain.DefaultSampling()); err == nil {
		t.Fatalf("expected timeout error")
	}
}

func TestHTTPError_Messages(t *testing.T) {
	err := parseHTTPError(502, []byte("<html>bad gateway</html>"))
	var herr *HTTPError
	if !errors.As(err, &herr) || herr.Message != "<html>bad gateway</html>" || !herr.Temporary() {
		t.Fatalf("unexpected: %#v", err)
	}
	if got := (&HTTPError{StatusCode: 404}).Error(); got != "http error: status=404 message=Not Found" {
		t.Fatalf("Error() = %q", got)
	}
	if (&HTTPError{StatusCode: 400}).Temporary() {
		t.Fatalf("400 must not be temporary")
	}
}

func TestPipelineCalls_SentExactlyOnce(t *testing.T) {
	cases := []struct {
		name string
		call func(*Client) error
	}{
		{"collect", func(c *Client) error {
			_, err := NewCollector(c).Collect(context.Background(), "bob", "T1", "xoxb")
			return err
		}},
		{"finetune", func(c *Client) error {
			return NewFineTuner(c).Train(context.Background(), "bob", "T1")
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var calls int32
			c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&calls, 1)
				w.WriteHeader(http.StatusGatewayTimeout)
			}, Options{MaxRetries: 2})

			err := tc.call(c)
			var herr *HTTPError
			if !errors.As(err, &herr) || herr.StatusCode != http.StatusGatewayTimeout {
				t.Fatalf("expected 504 HTTPError, got %v", err)
			}
			if got := atomic.LoadInt32(&calls); got != 1 {
				t.Fatalf("expected exactly 1 call, got %d", got)
			}
		})
	}
}

func TestHTTPError_PlainBodyTruncatedOnRuneBoundary(t *testing.T) {
	// 199 ASCII bytes then a 3-byte rune straddling the cap.
	raw := strings.Repeat("a", 199) + "€" + strings.Repeat("b", 50)
	err := parseHTTPError(502, []byte(raw))
	var herr *HTTPError
	if !errors.As(err, &herr) {
		t.Fatalf("unexpected: %#v", err)
	}
	if herr.Message != strings.Repeat("a", 199) {
		t.Fatalf("message = %q", herr.Message)
	}
	if !utf8.ValidString(herr.Error()) {
		t.Fatalf("error text is not valid UTF-8: %q", herr.Error())
	}
}

func TestTruncateUTF8(t *testing.T) {
	cases := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 200, "short"},
		{"héllo", 2, "h"},
		{"héllo", 3, "hé"},
		{"ab\xffcd", 10, "ab\uFFFDcd"},
	}
	for _, tc := range cases {
		if got := truncateUTF8(tc.in, tc.n); got != tc.want {
			t.Errorf("truncateUTF8(%q, %d) = %q, want %q", tc.in, tc.n, got, tc.want)
		}
	}
}
