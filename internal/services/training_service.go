// Package services – TrainingService
//
// This file implements the per-user training pipeline:
//
//	unregistered -> registered -> collecting -> training -> succeeded
//
// Registration is an insert-if-absent on the job store, which is the only
// guard against two live runs for one (team, user) pair. Collection and
// fine-tuning are remote calls that may take hours. Any failure after
// registration reports the reason through the progress callback, deletes the
// job record so the pair can be retried, and is returned to the caller.
//
// Observability: Run opens a span per pipeline; outcomes and phase durations
// are exported to Prometheus.
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-doppel-bot/internal/domain"
)

// JobStore persists training jobs keyed by (teamID, userKey).
type JobStore interface {
	// InsertIfAbsent registers a job. It returns a nil prior on success and
	// the blocking live record otherwise. A terminal record is replaced.
	InsertIfAbsent(ctx context.Context, teamID, userKey string) (prior *domain.TrainingJob, err error)

	// Get returns the job for the pair or repo.ErrNotFound.
	Get(ctx context.Context, teamID, userKey string) (*domain.TrainingJob, error)

	// UpdateState advances the job's state.
	UpdateState(ctx context.Context, teamID, userKey string, state domain.JobState) error

	// SetSamples records the collected sample count.
	SetSamples(ctx context.Context, teamID, userKey string, n int) error

	// Delete removes the job. Missing jobs are not an error.
	Delete(ctx context.Context, teamID, userKey string) error

	// ListPage returns a page of a team's jobs and the team total.
	ListPage(ctx context.Context, teamID string, offset, limit int) ([]domain.TrainingJob, int64, error)

	// Succeeded returns a team's succeeded jobs, most recent first.
	Succeeded(ctx context.Context, teamID string) ([]domain.TrainingJob, error)

	// Stats returns the team's job count and latest update time.
	Stats(ctx context.Context, teamID string) (int64, *time.Time, error)
}

// Collector gathers a member's message history and returns the sample count.
type Collector interface {
	Collect(ctx context.Context, userKey, teamID, authToken string) (int, error)
}

// FineTuner trains a member's model on the collected corpus.
type FineTuner interface {
	Train(ctx context.Context, userKey, teamID string) error
}

// Progress receives user-visible milestone messages.
type Progress func(msg string)

// Outcome classifies a pipeline run that did not fail.
type Outcome string

const (
	// OutcomeTrained means the run went all the way to succeeded.
	OutcomeTrained Outcome = "trained"
	// OutcomeAlreadyRegistered means a live job held the pair; nothing ran.
	OutcomeAlreadyRegistered Outcome = "already_registered"
)

// TrainingResult describes a completed Run.
type TrainingResult struct {
	Outcome Outcome
	// Existing is the blocking job for OutcomeAlreadyRegistered.
	Existing *domain.TrainingJob
	Samples  int
	Elapsed  time.Duration
}

// TrainingService runs training pipelines.
type TrainingService struct {
	Store     JobStore
	Collector Collector
	FineTuner FineTuner
	Runner    *Runner

	// Timeout caps a detached pipeline started with Start.
	Timeout time.Duration

	// OnFailure, when set, is called after a detached pipeline failed.
	OnFailure func(teamID, userKey string, err error)

	now func() time.Time
}

// NewTrainingService wires a service with a 4h pipeline ceiling.
func NewTrainingService(store JobStore, col Collector, ft FineTuner, runner *Runner) *TrainingService {
	return &TrainingService{
		Store:     store,
		Collector: col,
		FineTuner: ft,
		Runner:    runner,
		Timeout:   4 * time.Hour,
	}
}

func (s *TrainingService) clock() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now()
}

// Start runs the pipeline in the background and returns at once. The run is
// detached from ctx's cancellation but keeps its values, and is bounded by
// Timeout. Failures are logged and passed to OnFailure.
func (s *TrainingService) Start(ctx context.Context, teamID, userKey, authToken string, progress Progress) error {
	base := context.WithoutCancel(ctx)
	ok := s.Runner.Go("training:"+teamID+":"+userKey, func() {
		pipelinesInFlight.Inc()
		defer pipelinesInFlight.Dec()

		runCtx, cancel := context.WithTimeout(base, s.Timeout)
		defer cancel()

		if _, err := s.Run(runCtx, teamID, userKey, authToken, progress); err != nil {
			log.Error().
				Err(err).
				Str("team_id", teamID).
				Str("user_key", userKey).
				Msg("training pipeline failed")
			if s.OnFailure != nil {
				s.OnFailure(teamID, userKey, err)
			}
		}
	})
	if !ok {
		return ErrShuttingDown
	}
	return nil
}

// Run executes the pipeline synchronously.
//
// A live prior job is not an error: the result carries
// OutcomeAlreadyRegistered and the existing record. Errors wrap one of
// ErrJobStore, ErrCollectionFailed or ErrTrainingFailed.
func (s *TrainingService) Run(ctx context.Context, teamID, userKey, authToken string, progress Progress) (*TrainingResult, error) {
	tr := otel.Tracer("services/TrainingService")
	ctx, span := tr.Start(ctx, "Run",
		trace.WithAttributes(
			attribute.String("team.id", teamID),
			attribute.String("user.key", userKey),
		),
	)
	defer span.End()

	if progress == nil {
		progress = func(string) {}
	}

	prior, err := s.Store.InsertIfAbsent(ctx, teamID, userKey)
	if err != nil {
		// Nothing was registered, so there is nothing to roll back.
		err = fmt.Errorf("%w: %w", ErrJobStore, err)
		progress(failedText(userKey, err))
		return nil, s.failed(span, err)
	}
	if prior != nil {
		progress(fmt.Sprintf("Team %s already has %s registered (state=%s).", teamID, prior.UserKey, prior.State))
		trainingJobs.WithLabelValues(outcomeDuplicate).Inc()
		span.SetAttributes(attribute.String("outcome", string(OutcomeAlreadyRegistered)))
		return &TrainingResult{Outcome: OutcomeAlreadyRegistered, Existing: prior}, nil
	}

	fail := func(kind, cause error) (*TrainingResult, error) {
		err := fmt.Errorf("%w: %w", kind, cause)
		progress(failedText(userKey, cause))
		s.rollback(ctx, teamID, userKey)
		return nil, s.failed(span, err)
	}

	// Collection
	if err := s.Store.UpdateState(ctx, teamID, userKey, domain.JobStateCollecting); err != nil {
		return fail(ErrJobStore, err)
	}
	progress(fmt.Sprintf("Began collecting %s's messages.", userKey))
	t0 := s.clock()
	samples, err := s.Collector.Collect(ctx, userKey, teamID, authToken)
	trainingPhase.WithLabelValues("collect").Observe(s.clock().Sub(t0).Seconds())
	if err != nil {
		return fail(ErrCollectionFailed, err)
	}
	if err := s.Store.SetSamples(ctx, teamID, userKey, samples); err != nil {
		return fail(ErrJobStore, err)
	}
	progress(fmt.Sprintf("Finished collecting %s's messages, %d samples found, starting training.", userKey, samples))
	if err := s.Store.UpdateState(ctx, teamID, userKey, domain.JobStateTraining); err != nil {
		return fail(ErrJobStore, err)
	}

	// Training
	t1 := s.clock()
	if err := s.FineTuner.Train(ctx, userKey, teamID); err != nil {
		return fail(ErrTrainingFailed, err)
	}
	elapsed := s.clock().Sub(t1)
	trainingPhase.WithLabelValues("train").Observe(elapsed.Seconds())
	progress(fmt.Sprintf("Finished training %s after %.2f seconds.", userKey, elapsed.Seconds()))

	if err := s.Store.UpdateState(ctx, teamID, userKey, domain.JobStateSucceeded); err != nil {
		return fail(ErrJobStore, err)
	}

	trainingJobs.WithLabelValues(outcomeSucceeded).Inc()
	span.SetAttributes(attribute.String("outcome", string(OutcomeTrained)), attribute.Int("samples", samples))
	log.Info().
		Str("team_id", teamID).
		Str("user_key", userKey).
		Int("samples", samples).
		Dur("elapsed", elapsed).
		Msg("training pipeline succeeded")
	return &TrainingResult{Outcome: OutcomeTrained, Samples: samples, Elapsed: elapsed}, nil
}

// rollback deletes the job on a context that outlives cancellation of the
// pipeline, so a timed-out run still frees the pair.
func (s *TrainingService) rollback(ctx context.Context, teamID, userKey string) {
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if err := s.Store.Delete(dctx, teamID, userKey); err != nil {
		log.Error().
			Err(err).
			Str("team_id", teamID).
			Str("user_key", userKey).
			Msg("training rollback failed; job record left behind")
	}
}

func (s *TrainingService) failed(span trace.Span, err error) error {
	trainingJobs.WithLabelValues(outcomeFailed).Inc()
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

func failedText(userKey string, reason error) string {
	msg := reason.Error()
	if errors.Is(reason, context.DeadlineExceeded) {
		msg = "timed out"
	}
	return fmt.Sprintf("Failed to train %s (%s). Try again in a bit!", userKey, msg)
}
