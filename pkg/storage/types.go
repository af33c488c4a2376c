package storage

import "time"

// SessionRecord is the archived header of one audit session.
type SessionRecord struct {
	ID    string  `json:"id"`
	Asset string  `json:"asset"`
	Mode  string  `json:"mode"`
	Rate  float64 `json:"base_rate"`
	State string  `json:"state"`
	Cause string  `json:"cause,omitempty"`

	Partial       bool      `json:"partial"`
	FramesApplied int       `json:"frames_applied"`
	FramesSkipped int       `json:"frames_skipped"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`

	// Filled by ListSessions and GetSession.
	TotalMoney float64 `json:"total_money"`
}

// BrandStats aggregates one brand across every archived session.
type BrandStats struct {
	Brand        string  `json:"brand"`
	SessionCount int     `json:"sessions"`
	Money        float64 `json:"money"`
	Sightings    int     `json:"sightings"`
}
