// Package domain defines the persistence models for training jobs and
// inbound event receipts, plus the small value types shared by the service
// layer. These types are mapped with GORM and form the core data layer of the
// doppel bot.
package domain

import (
	"fmt"
	"time"
)

// JobState is the lifecycle state of a training job.
//
// The machine is linear:
//
//	unregistered -> registered -> collecting -> training -> succeeded
//
// A failure at any live step removes the job record entirely, which returns the
// (team, user) pair to unregistered. Failed exists for records written by
// other tooling and is treated as terminal.
type JobState string

const (
	JobStateUnregistered JobState = "unregistered"
	JobStateRegistered   JobState = "registered"
	JobStateCollecting   JobState = "collecting"
	JobStateTraining     JobState = "training"
	JobStateSucceeded    JobState = "succeeded"
	JobStateFailed       JobState = "failed"
)

// Terminal reports whether no further transitions happen from s.
func (s JobState) Terminal() bool {
	return s == JobStateSucceeded || s == JobStateFailed
}

// Live reports whether s is a registered, non-terminal state.
func (s JobState) Live() bool {
	switch s {
	case JobStateRegistered, JobStateCollecting, JobStateTraining:
		return true
	}
	return false
}

// Valid reports whether s is one of the known states.
func (s JobState) Valid() bool {
	switch s {
	case JobStateUnregistered, JobStateRegistered, JobStateCollecting,
		JobStateTraining, JobStateSucceeded, JobStateFailed:
		return true
	}
	return false
}

// ParseJobState converts a stored string back to a JobState.
func ParseJobState(s string) (JobState, error) {
	st := JobState(s)
	if !st.Valid() {
		return "", fmt.Errorf("unknown job state %q", s)
	}
	return st, nil
}

// TrainingJob is one training run for a (team, user key) pair.
//
// Fields:
//   - ID: UUID primary key (char(36)).
//   - TeamID / UserKey: the job identity; unique together, so the store's
//     insert is the mutual-exclusion point for concurrent registrations.
//   - State: current JobState (enforced by DB constraint).
//   - Samples: number of samples collected (0 until collection finishes).
//   - StartedAt: registration time; reset when a terminal job is re-registered.
//   - UpdatedAt: last state change.
//   - FinishedAt: set when the job reaches a terminal state.
type TrainingJob struct {
	ID         string     `json:"id"          gorm:"type:char(36);primaryKey"`
	TeamID     string     `json:"team_id"     gorm:"type:varchar(64);not null;uniqueIndex:ux_jobs_team_user,priority:1;index:idx_jobs_team_updated,priority:1"`
	UserKey    string     `json:"user_key"    gorm:"type:varchar(255);not null;uniqueIndex:ux_jobs_team_user,priority:2"`
	State      JobState   `json:"state"       gorm:"type:varchar(16);not null;check:state IN ('unregistered','registered','collecting','training','succeeded','failed')"`
	Samples    int        `json:"samples"     gorm:"not null;default:0"`
	StartedAt  time.Time  `json:"started_at"`
	UpdatedAt  time.Time  `json:"updated_at"  gorm:"index:idx_jobs_team_updated,priority:2"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// TableName returns the database table name for TrainingJob.
func (TrainingJob) TableName() string { return "training_jobs" }
