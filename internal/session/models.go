package session

import (
	"time"

	"easel/internal/quality"
)

// ResultMeta describes a stored generation artifact.
type ResultMeta struct {
	ResultID         string
	Path             string
	Seed             *int64
	QualityRequested quality.Level
	QualityEffective quality.Level
	CreatedAt        time.Time
}

// Session holds one client's identity and resource maps. The maps are
// mutated only through Store methods, which hold the store lock.
type Session struct {
	SID       string
	UserID    string
	UserInfo  string
	CreatedAt time.Time

	lastSeen       time.Time
	baseImages     map[string]string
	currentBase    string
	results        map[string]*ResultMeta
	history        []string
	downloadTokens map[string]*ResultMeta
	activeJobs     map[string]struct{}
}

// Info is a read-only session summary for status surfaces.
type Info struct {
	SID        string    `json:"sid"`
	UserID     string    `json:"user_id"`
	UserInfo   string    `json:"user_info"`
	CreatedAt  time.Time `json:"created_at"`
	LastSeen   time.Time `json:"last_seen"`
	ActiveJobs int       `json:"active_jobs"`
	Results    int       `json:"results"`
}
