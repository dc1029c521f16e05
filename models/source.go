package models

import "time"

type SourceStatus string

const (
	SourceStatusPending    SourceStatus = "pending"
	SourceStatusInProgress SourceStatus = "in_progress"
	SourceStatusCompleted  SourceStatus = "completed"
	SourceStatusFailed     SourceStatus = "failed"
	SourceStatusDisabled   SourceStatus = "disabled"
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Source is one listings page that gets scraped periodically. URL is unique.
type Source struct {
	ID             int64        `json:"id" db:"id"`
	URL            string       `json:"url" db:"url"`
	SiteName       string       `json:"site_name" db:"site_name"`
	Description    string       `json:"description" db:"description"`
	Priority       Priority     `json:"priority" db:"priority"`
	Active         bool         `json:"is_active" db:"is_active"`
	FrequencyHours int          `json:"frequency_hours" db:"frequency_hours"`
	Status         SourceStatus `json:"status" db:"status"`
	LastRunAt      *time.Time   `json:"last_run_at" db:"last_run_at"`
	NextRunAt      *time.Time   `json:"next_run_at" db:"next_run_at"`
	TotalRuns      int          `json:"total_runs" db:"total_runs"`
	SuccessfulRuns int          `json:"successful_runs" db:"successful_runs"`
	FailedRuns     int          `json:"failed_runs" db:"failed_runs"`
	LastError      string       `json:"last_error" db:"last_error"`
	CreatedAt      time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at" db:"updated_at"`
}

// IsDue reports whether the source may be dispatched at now.
func (s *Source) IsDue(now time.Time) bool {
	if !s.Active || s.Status == SourceStatusInProgress {
		return false
	}
	return s.NextRunAt == nil || !s.NextRunAt.After(now)
}
