// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the TrainingJob
// model.
//
// All functions are context-aware and accept a *gorm.DB handle, so they can
// run inside transactions. They follow the "thin repository" approach: no
// business logic beyond the single-writer guarantees the job lifecycle needs.
//
// Error semantics:
//   - When a job is not found, functions return ErrNotFound.
//   - A second registration for a live (team, user) pair yields ErrDuplicate
//     from CreateJob; InsertJobIfAbsent turns that into the prior record.
//   - Other DB errors are propagated unchanged.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-doppel-bot/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// ErrDuplicate indicates that a unique key is already taken.
var ErrDuplicate = errors.New("duplicate")

// isDuplicate recognizes unique violations across drivers.
func isDuplicate(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	// glebarez/sqlite often returns plain-text errors for UNIQUE violations.
	low := strings.ToLower(err.Error())
	return strings.Contains(low, "unique constraint failed") ||
		strings.Contains(low, "constraint failed: unique") ||
		strings.Contains(low, "duplicate key value")
}

// CreateJob inserts a registered job for (teamID, userKey). It returns
// ErrDuplicate when a row for the pair already exists.
func CreateJob(ctx context.Context, db *gorm.DB, teamID, userKey string) (*domain.TrainingJob, error) {
	now := time.Now().UTC()
	j := &domain.TrainingJob{
		ID:        uuid.NewString(),
		TeamID:    teamID,
		UserKey:   userKey,
		State:     domain.JobStateRegistered,
		StartedAt: now,
		UpdatedAt: now,
	}
	if err := db.WithContext(ctx).Create(j).Error; err != nil {
		if isDuplicate(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return j, nil
}

// GetJob fetches the job for (teamID, userKey), or ErrNotFound.
func GetJob(ctx context.Context, db *gorm.DB, teamID, userKey string) (*domain.TrainingJob, error) {
	var j domain.TrainingJob
	if err := db.WithContext(ctx).
		Where("team_id = ? AND user_key = ?", teamID, userKey).
		First(&j).Error; err != nil {
		return nil, err
	}
	return &j, nil
}

// ResetTerminalJob re-registers a job that reached a terminal state. The
// update is conditional on the stored state, so of several concurrent callers
// only one observes ok=true.
func ResetTerminalJob(ctx context.Context, db *gorm.DB, teamID, userKey string) (ok bool, err error) {
	now := time.Now().UTC()
	res := db.WithContext(ctx).
		Model(&domain.TrainingJob{}).
		Where("team_id = ? AND user_key = ? AND state IN ?", teamID, userKey,
			[]string{string(domain.JobStateSucceeded), string(domain.JobStateFailed)}).
		Updates(map[string]any{
			"state":       domain.JobStateRegistered,
			"samples":     0,
			"started_at":  now,
			"updated_at":  now,
			"finished_at": nil,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// InsertJobIfAbsent registers (teamID, userKey) unless a live job holds the
// pair. On success prior is nil. Otherwise prior is the record that blocked
// the insert. A terminal record is replaced in place.
func InsertJobIfAbsent(ctx context.Context, db *gorm.DB, teamID, userKey string) (prior *domain.TrainingJob, err error) {
	// Two rounds cover a concurrent delete between the failed insert and the
	// lookup.
	for attempt := 0; attempt < 2; attempt++ {
		_, err = CreateJob(ctx, db, teamID, userKey)
		if err == nil {
			return nil, nil
		}
		if !errors.Is(err, ErrDuplicate) {
			return nil, err
		}

		cur, gerr := GetJob(ctx, db, teamID, userKey)
		if errors.Is(gerr, ErrNotFound) {
			continue
		}
		if gerr != nil {
			return nil, gerr
		}
		if !cur.State.Terminal() {
			return cur, nil
		}
		ok, rerr := ResetTerminalJob(ctx, db, teamID, userKey)
		if rerr != nil {
			return nil, rerr
		}
		if ok {
			return nil, nil
		}
		// Someone else re-registered first; report what they left.
		if cur, gerr = GetJob(ctx, db, teamID, userKey); gerr == nil {
			return cur, nil
		}
	}
	return nil, err
}

// UpdateJobState moves a job to state. Terminal states also stamp FinishedAt.
func UpdateJobState(ctx context.Context, db *gorm.DB, teamID, userKey string, state domain.JobState) error {
	now := time.Now().UTC()
	fields := map[string]any{"state": state, "updated_at": now}
	if state.Terminal() {
		fields["finished_at"] = now
	}
	res := db.WithContext(ctx).
		Model(&domain.TrainingJob{}).
		Where("team_id = ? AND user_key = ?", teamID, userKey).
		Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SetJobSamples records how many samples collection produced.
func SetJobSamples(ctx context.Context, db *gorm.DB, teamID, userKey string, n int) error {
	res := db.WithContext(ctx).
		Model(&domain.TrainingJob{}).
		Where("team_id = ? AND user_key = ?", teamID, userKey).
		Updates(map[string]any{"samples": n, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteJob removes the job for (teamID, userKey). Deleting a missing job is
// not an error.
func DeleteJob(ctx context.Context, db *gorm.DB, teamID, userKey string) error {
	return db.WithContext(ctx).
		Where("team_id = ? AND user_key = ?", teamID, userKey).
		Delete(&domain.TrainingJob{}).Error
}

// CountJobs returns the total number of jobs for a team.
func CountJobs(ctx context.Context, db *gorm.DB, teamID string) (int64, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.TrainingJob{}).
		Where("team_id = ?", teamID).
		Count(&n).Error
	return n, err
}

// ListJobsPage returns a page of a team's jobs, most recently updated first.
func ListJobsPage(ctx context.Context, db *gorm.DB, teamID string, offset, limit int) ([]domain.TrainingJob, error) {
	var out []domain.TrainingJob
	err := db.WithContext(ctx).
		Where("team_id = ?", teamID).
		Order("updated_at DESC").
		Order("user_key ASC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// ListSucceededJobs returns a team's succeeded jobs, most recently finished
// first.
func ListSucceededJobs(ctx context.Context, db *gorm.DB, teamID string) ([]domain.TrainingJob, error) {
	var out []domain.TrainingJob
	err := db.WithContext(ctx).
		Where("team_id = ? AND state = ?", teamID, domain.JobStateSucceeded).
		Order("updated_at DESC").
		Find(&out).Error
	return out, err
}
