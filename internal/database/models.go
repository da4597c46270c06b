package database

import "time"

// TrackingSessionRecord mirrors the in-memory session registry for
// statistics, the TTL sweep, and archive metadata that must survive a
// process restart. The in-memory registry stays the source of truth for
// pipeline state; these rows are advisory.
type TrackingSessionRecord struct {
	ID          string `gorm:"primaryKey"`
	Status      string `gorm:"index"`
	Filename    string
	FrameCount  int
	PointCount  int
	ModelSize   string
	Error       string
	VideoPath   string
	SessionDir  string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
}

// TableName overrides the default table name
func (TrackingSessionRecord) TableName() string {
	return "tracking_sessions"
}
