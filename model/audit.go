package model

import (
	"time"

	"gorm.io/datatypes"
)

// AuditLog records one attempt against a quest: activations, guesses, hint
// requests and inbound messages, successful or not.
type AuditLog struct {
	ID        int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	TraceID   string         `gorm:"index:idx_audit_trace;size:36" json:"trace_id"`
	Actor     string         `gorm:"size:64" json:"actor"`
	Quest     string         `gorm:"index:idx_audit_quest;size:64" json:"quest"`
	Puzzle    string         `gorm:"size:64" json:"puzzle"`
	Action    string         `gorm:"size:32;not null" json:"action"`
	Outcome   string         `gorm:"size:32;not null" json:"outcome"`
	Detail    datatypes.JSON `json:"detail"`
	CreatedAt time.Time      `gorm:"index:idx_audit_created;autoCreateTime:milli" json:"created_at"`
}
