// Package domain defines the core persistence models for the application.
// These types are used by GORM for database schema mapping and are shared
// across the repository and service layers.
package domain

import "time"

// EventReceipt records that an inbound workspace event was accepted, keyed by
// (team_id, event_id). The chat platform redelivers events it considers
// unacknowledged; a live receipt lets the handler ack the redelivery without
// generating a second reply.
type EventReceipt struct {
	ID        string    `gorm:"type:TEXT NOT NULL;primaryKey"`
	TeamID    string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_receipt_team_event,priority:1"`
	EventID   string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_receipt_team_event,priority:2"`
	CreatedAt time.Time `gorm:"type:DATETIME NOT NULL;autoCreateTime"`
	ExpiresAt time.Time `gorm:"type:DATETIME NOT NULL;index"`
}

// TableName implements the GORM tabler interface.
func (EventReceipt) TableName() string { return "event_receipts" }
