// Package services – JobService
//
// This file implements read access to training jobs for the REST API and
// the CLI.
package services

import (
	"context"
	"errors"
	"time"

	"github.com/tbourn/go-doppel-bot/internal/domain"
	"github.com/tbourn/go-doppel-bot/internal/repo"
)

// JobService lists and fetches training jobs.
type JobService struct {
	Store JobStore
}

// NewJobService wraps store.
func NewJobService(store JobStore) *JobService { return &JobService{Store: store} }

// ListPage returns a page of a team's jobs, most recently updated first.
// It applies defaults for invalid page/pageSize and returns the total count.
func (s *JobService) ListPage(ctx context.Context, teamID string, page, pageSize int) ([]domain.TrainingJob, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	return s.Store.ListPage(ctx, teamID, (page-1)*pageSize, pageSize)
}

// Get returns the job for (teamID, userKey) or ErrJobNotFound.
func (s *JobService) Get(ctx context.Context, teamID, userKey string) (*domain.TrainingJob, error) {
	j, err := s.Store.Get(ctx, teamID, userKey)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrJobNotFound
	}
	return j, err
}

// Stats returns the count and latest update for ETag computation.
func (s *JobService) Stats(ctx context.Context, teamID string) (int64, *time.Time, error) {
	return s.Store.Stats(ctx, teamID)
}
