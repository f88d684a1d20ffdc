// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository helpers for the EventReceipt
// model used to drop redelivered workspace events.
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

// CreateEventReceipt inserts a receipt and returns ErrDuplicate on unique
// violation.
func CreateEventReceipt(ctx context.Context, db *gorm.DB, teamID, eventID string, ttl time.Duration) (*domain.EventReceipt, error) {
	now := time.Now().UTC()
	rec := &domain.EventReceipt{
		ID:        uuid.NewString(),
		TeamID:    teamID,
		EventID:   eventID,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	if err := db.WithContext(ctx).Create(rec).Error; err != nil {
		if isDuplicate(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return rec, nil
}

// DeleteExpiredReceipts purges receipts whose expiry is at or before now.
// teamID and eventID narrow the purge when non-empty.
func DeleteExpiredReceipts(ctx context.Context, db *gorm.DB, teamID, eventID string, now time.Time) (int64, error) {
	q := db.WithContext(ctx).Where("expires_at <= ?", now)
	if teamID != "" {
		q = q.Where("team_id = ?", teamID)
	}
	if eventID != "" {
		q = q.Where("event_id = ?", eventID)
	}
	res := q.Delete(&domain.EventReceipt{})
	return res.RowsAffected, res.Error
}

// SQLEventLog records inbound event ids in the event_receipts table.
type SQLEventLog struct {
	DB *gorm.DB
}

// Record stores (teamID, eventID) for ttl and reports whether it was unseen.
// An expired receipt for the same pair is purged first so the id becomes
// fresh again.
func (l SQLEventLog) Record(ctx context.Context, teamID, eventID string, ttl time.Duration) (fresh bool, err error) {
	if strings.TrimSpace(eventID) == "" {
		return true, nil
	}
	if _, err := DeleteExpiredReceipts(ctx, l.DB, teamID, eventID, time.Now().UTC()); err != nil {
		return false, err
	}
	if _, err := CreateEventReceipt(ctx, l.DB, teamID, eventID, ttl); err != nil {
		if errors.Is(err, ErrDuplicate) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
