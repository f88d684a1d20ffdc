package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/tbourn/go-doppel-bot/internal/conversation"
	"github.com/tbourn/go-doppel-bot/internal/domain"
	"github.com/tbourn/go-doppel-bot/internal/identity"
)

func mentionFixture() (*MentionService, *memStore, *fakeGenerator, *fakePoster) {
	store := newMemStore()
	dir := &fakeDirectory{
		self: "UBOT",
		table: identity.Table{
			"bob":   {ID: "U1", AvatarURL: "https://img/bob.png"},
			"Bob B": {ID: "U1", AvatarURL: "https://img/bob.png"},
			"alice": {ID: "U2", AvatarURL: "https://img/alice.png"},
		},
	}
	threads := &fakeThreads{msgs: []conversation.Message{
		{SenderID: "U2", Text: "<@UBOT> what do you think?", Timestamp: "1700000002.000200"},
		{SenderID: "U1", Text: "hello", Timestamp: "1700000001.000100"},
	}}
	gen := &fakeGenerator{}
	poster := &fakePoster{}
	svc := NewMentionService(dir, threads, poster, gen, store)
	return svc, store, gen, poster
}

func TestHandle_NoTrainedSpeaker(t *testing.T) {
	svc, _, gen, poster := mentionFixture()
	before := testutil.ToFloat64(mentions.WithLabelValues(outcomeNoSpeaker))

	n, err := svc.Handle(context.Background(), MentionEvent{TeamID: "T1", Channel: "C1", ThreadTS: "1700000001.000100"})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if n != 1 || len(poster.posts) != 1 || poster.posts[0].Text != NoSpeakerText {
		t.Fatalf("posts = %+v", poster.posts)
	}
	if poster.posts[0].ThreadTS != "1700000001.000100" {
		t.Fatalf("reply not threaded: %+v", poster.posts[0])
	}
	if gen.gotUser != "" {
		t.Fatal("generator must not be called")
	}
	if got := testutil.ToFloat64(mentions.WithLabelValues(outcomeNoSpeaker)) - before; got != 1 {
		t.Fatalf("no_speaker delta = %v", got)
	}
}

func TestHandle_GeneratesAndSplitsAsSpeaker(t *testing.T) {
	svc, store, gen, poster := mentionFixture()
	store.put(domain.TrainingJob{TeamID: "T1", UserKey: "bob", State: domain.JobStateSucceeded, UpdatedAt: time.Now()})
	gen.out = "U1: sure thing U2: thanks"

	n, err := svc.Handle(context.Background(), MentionEvent{TeamID: "T1", Channel: "C1", ThreadTS: "1700000001.000100"})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if n != 2 {
		t.Fatalf("posted = %d (%+v)", n, poster.posts)
	}
	if gen.gotUser != "bob" {
		t.Fatalf("speaker = %q", gen.gotUser)
	}
	// Oldest first, bot mention stripped.
	if want := "U1: hello\nU2:  what do you think?"; gen.gotInput != want {
		t.Fatalf("prompt = %q, want %q", gen.gotInput, want)
	}
	for _, p := range poster.posts {
		if p.Username != "bob-bot" || p.IconURL != "https://img/bob.png" || p.Channel != "C1" {
			t.Fatalf("post = %+v", p)
		}
	}
	if poster.posts[0].Text != "sure thing" || poster.posts[1].Text != "thanks" {
		t.Fatalf("fragments = %q, %q", poster.posts[0].Text, poster.posts[1].Text)
	}
}

func TestHandle_SkipsSpeakersNoLongerInWorkspace(t *testing.T) {
	svc, store, gen, _ := mentionFixture()
	now := time.Now()
	store.put(domain.TrainingJob{TeamID: "T1", UserKey: "ghost", State: domain.JobStateSucceeded, UpdatedAt: now})
	store.put(domain.TrainingJob{TeamID: "T1", UserKey: "alice", State: domain.JobStateSucceeded, UpdatedAt: now.Add(-time.Minute)})
	store.put(domain.TrainingJob{TeamID: "T1", UserKey: "bob", State: domain.JobStateTraining, UpdatedAt: now.Add(time.Minute)})
	gen.out = "hi"

	if _, err := svc.Handle(context.Background(), MentionEvent{TeamID: "T1", Channel: "C1", ThreadTS: "1"}); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if gen.gotUser != "alice" {
		t.Fatalf("speaker = %q, want alice", gen.gotUser)
	}
}

func TestHandle_InferenceFailurePostsNothing(t *testing.T) {
	svc, store, gen, poster := mentionFixture()
	store.put(domain.TrainingJob{TeamID: "T1", UserKey: "bob", State: domain.JobStateSucceeded})
	gen.err = errors.New("model not loaded")

	_, err := svc.Handle(context.Background(), MentionEvent{TeamID: "T1", Channel: "C1", ThreadTS: "1"})
	if !errors.Is(err, ErrInferenceFailed) {
		t.Fatalf("err = %v", err)
	}
	if len(poster.posts) != 0 {
		t.Fatalf("posts = %+v", poster.posts)
	}
}

func TestHandle_PostFailureSkipsFragment(t *testing.T) {
	svc, store, gen, poster := mentionFixture()
	store.put(domain.TrainingJob{TeamID: "T1", UserKey: "bob", State: domain.JobStateSucceeded})
	gen.out = "U1: one U1: two"
	poster.fail = map[string]bool{"one": true}

	n, err := svc.Handle(context.Background(), MentionEvent{TeamID: "T1", Channel: "C1", ThreadTS: "1"})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if n != 1 || poster.posts[0].Text != "two" {
		t.Fatalf("n=%d posts=%+v", n, poster.posts)
	}
}

func TestHandle_DirectoryError(t *testing.T) {
	svc, _, _, poster := mentionFixture()
	svc.Directory = &fakeDirectory{err: errors.New("invalid_auth")}
	if _, err := svc.Handle(context.Background(), MentionEvent{TeamID: "T1"}); err == nil {
		t.Fatal("expected error")
	}
	if len(poster.posts) != 0 {
		t.Fatal("nothing should be posted")
	}
}
