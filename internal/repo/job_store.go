package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-doppel-bot/internal/domain"
)

// SQLJobStore adapts the job repository functions to a store bound to one
// database handle.
type SQLJobStore struct {
	DB *gorm.DB
}

// NewSQLJobStore returns a store over db.
func NewSQLJobStore(db *gorm.DB) *SQLJobStore { return &SQLJobStore{DB: db} }

func (s *SQLJobStore) InsertIfAbsent(ctx context.Context, teamID, userKey string) (*domain.TrainingJob, error) {
	return InsertJobIfAbsent(ctx, s.DB, teamID, userKey)
}

func (s *SQLJobStore) Get(ctx context.Context, teamID, userKey string) (*domain.TrainingJob, error) {
	return GetJob(ctx, s.DB, teamID, userKey)
}

func (s *SQLJobStore) UpdateState(ctx context.Context, teamID, userKey string, state domain.JobState) error {
	return UpdateJobState(ctx, s.DB, teamID, userKey, state)
}

func (s *SQLJobStore) SetSamples(ctx context.Context, teamID, userKey string, n int) error {
	return SetJobSamples(ctx, s.DB, teamID, userKey, n)
}

func (s *SQLJobStore) Delete(ctx context.Context, teamID, userKey string) error {
	return DeleteJob(ctx, s.DB, teamID, userKey)
}

// ListPage returns one page of a team's jobs and the team's total.
func (s *SQLJobStore) ListPage(ctx context.Context, teamID string, offset, limit int) ([]domain.TrainingJob, int64, error) {
	total, err := CountJobs(ctx, s.DB, teamID)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.TrainingJob{}, 0, nil
	}
	items, err := ListJobsPage(ctx, s.DB, teamID, offset, limit)
	return items, total, err
}

func (s *SQLJobStore) Succeeded(ctx context.Context, teamID string) ([]domain.TrainingJob, error) {
	return ListSucceededJobs(ctx, s.DB, teamID)
}

func (s *SQLJobStore) Stats(ctx context.Context, teamID string) (int64, *time.Time, error) {
	return JobsStats(ctx, s.DB, teamID)
}
