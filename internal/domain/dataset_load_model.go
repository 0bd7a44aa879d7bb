package domain

import "time"

const (
	LoadOutcomeInstalled = "installed"
	LoadOutcomeUnchanged = "unchanged"
	LoadOutcomeFailed    = "failed"
)

// DatasetLoad is one row of load history: every initial load, refresh and
// peer install attempt ends up here when the database is enabled.
type DatasetLoad struct {
	ID           uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	Origin       string    `gorm:"size:1024;not null;default:''" json:"origin"`
	Outcome      string    `gorm:"size:16;not null;index" json:"outcome"`
	Records      int       `gorm:"not null;default:0" json:"records"`
	Countries    int       `gorm:"not null;default:0" json:"countries"`
	Descriptions int       `gorm:"not null;default:0" json:"descriptions"`
	Skipped      int       `gorm:"not null;default:0" json:"skipped"`
	Collisions   int       `gorm:"not null;default:0" json:"collisions"`
	Digest       string    `gorm:"size:16;not null;default:''" json:"digest"`
	DurationMs   int64     `gorm:"not null;default:0" json:"duration_ms"`
	Error        string    `gorm:"type:text;not null;default:''" json:"error,omitempty"`
	CreatedAt    time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}
