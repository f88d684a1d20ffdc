// Package services defines the business logic for training doppel models and
// answering mentions with them. This file centralizes common service-level
// error values so that they can be consistently returned by service methods
// and checked by callers.
//
// Translation into user-facing messages or HTTP status codes is performed at
// the handler layer.
package services

import "errors"

var (
	// ErrUserNotFound is returned when a command names a user that is not a
	// member of the workspace.
	ErrUserNotFound = errors.New("user not found")

	// ErrCollectionFailed wraps failures of the corpus collection service.
	ErrCollectionFailed = errors.New("collection failed")

	// ErrTrainingFailed wraps failures of the fine-tuning service.
	ErrTrainingFailed = errors.New("training failed")

	// ErrInferenceFailed wraps failures of the text generation service.
	ErrInferenceFailed = errors.New("inference failed")

	// ErrJobStore wraps failures of the job record store.
	ErrJobStore = errors.New("job store failure")

	// ErrJobNotFound indicates that no job exists for a (team, user) pair.
	ErrJobNotFound = errors.New("job not found")

	// ErrShuttingDown is returned when work is submitted after shutdown began.
	ErrShuttingDown = errors.New("shutting down")
)
