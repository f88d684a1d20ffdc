// Package handlers provides HTTP handler implementations for the Slack
// callbacks and the read-only jobs API.
//
// Handlers are transport-thin: they validate input, call application services,
// and translate results into HTTP responses (including conditional responses).
package handlers

import (
	"context"
	"time"

	"github.com/tbourn/go-doppel-bot/internal/domain"
	"github.com/tbourn/go-doppel-bot/internal/services"
)

//
// Service contracts (context-aware)
//

// JobService reads training jobs.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type JobService interface {
	// ListPage returns a page of a team's jobs and the team total.
	ListPage(ctx context.Context, teamID string, page, pageSize int) ([]domain.TrainingJob, int64, error)
	// Get returns one job or services.ErrJobNotFound.
	Get(ctx context.Context, teamID, userKey string) (*domain.TrainingJob, error)
	// Stats returns the team's job count and latest update for ETags.
	Stats(ctx context.Context, teamID string) (int64, *time.Time, error)
}

// MentionHandler answers a mention in its thread.
type MentionHandler interface {
	Handle(ctx context.Context, ev services.MentionEvent) (int, error)
}

// CommandHandler runs a training command and returns the immediate reply.
type CommandHandler interface {
	Train(ctx context.Context, cmd services.Command) (string, error)
}

// EventLog remembers delivered event ids so Slack retries are dropped.
type EventLog interface {
	Record(ctx context.Context, teamID, eventID string, ttl time.Duration) (fresh bool, err error)
}

// Runner runs detached work that outlives the request.
type Runner interface {
	Go(name string, fn func()) bool
}

//
// Handler wiring
//

// Deps lists what the handlers need. Jobs may be nil when only the Slack
// routes are mounted, and the Slack fields may be nil for the API alone.
type Deps struct {
	Jobs     JobService
	Mentions MentionHandler
	Commands CommandHandler
	Events   EventLog
	Runner   Runner

	// MentionTimeout bounds one detached mention reply.
	MentionTimeout time.Duration
	// ReceiptTTL is how long an event id is remembered.
	ReceiptTTL time.Duration
}

// Handlers groups the HTTP endpoints.
type Handlers struct {
	jobs     JobService
	mentions MentionHandler
	commands CommandHandler
	events   EventLog
	runner   Runner

	mentionTimeout time.Duration
	receiptTTL     time.Duration
}

// New constructs a Handlers instance, defaulting the timeouts.
func New(d Deps) *Handlers {
	h := &Handlers{
		jobs:           d.Jobs,
		mentions:       d.Mentions,
		commands:       d.Commands,
		events:         d.Events,
		runner:         d.Runner,
		mentionTimeout: d.MentionTimeout,
		receiptTTL:     d.ReceiptTTL,
	}
	if h.mentionTimeout <= 0 {
		h.mentionTimeout = 2 * time.Minute
	}
	if h.receiptTTL <= 0 {
		h.receiptTTL = time.Hour
	}
	return h
}
