package models

import (
	"encoding/json"
	"time"
)

type RunStatus string

const (
	RunStatusStarted   RunStatus = "started"
	RunStatusCompleted RunStatus = "completed"
	RunStatusPartial   RunStatus = "partial"
	RunStatusFailed    RunStatus = "failed"
)

// Terminal reports whether the status ends a run.
func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusPartial || s == RunStatusFailed
}

// RunRecord is one pipeline invocation against one source.
type RunRecord struct {
	ID             int64           `json:"id" db:"id"`
	SourceID       int64           `json:"source_id" db:"source_id"`
	Status         RunStatus       `json:"status" db:"status"`
	StartedAt      time.Time       `json:"started_at" db:"started_at"`
	FinishedAt     *time.Time      `json:"finished_at" db:"finished_at"`
	ElapsedSeconds float64         `json:"elapsed_seconds" db:"elapsed_seconds"`
	Found          int             `json:"found" db:"found"`
	Created        int             `json:"created" db:"created"`
	Updated        int             `json:"updated" db:"updated"`
	Failed         int             `json:"failed" db:"failed"`
	Error          string          `json:"error" db:"error"`
	Diagnostics    json.RawMessage `json:"diagnostics" db:"diagnostics"`
}

// RunDiagnostics is the payload stored in RunRecord.Diagnostics.
type RunDiagnostics struct {
	Attempts            int     `json:"attempts"`
	HTMLSizeOriginalKB  float64 `json:"html_size_original_kb"`
	HTMLSizeCleanKB     float64 `json:"html_size_clean_kb"`
	HTMLReductionPct    float64 `json:"html_reduction_percentage"`
	ReductionMode       string  `json:"reduction_mode,omitempty"`
	Truncated           bool    `json:"truncated,omitempty"`
	HeuristicCandidates int     `json:"heuristic_candidates"`
	LLMCandidates       int     `json:"llm_candidates"`
	MergedCandidates    int     `json:"merged_candidates"`
	SnapshotKey         string  `json:"snapshot_key,omitempty"`
}

// RunSummary is what RunPipeline hands back to callers.
type RunSummary struct {
	SourceID       int64     `json:"source_id"`
	RunID          int64     `json:"run_id"`
	Status         RunStatus `json:"status"`
	Found          int       `json:"found"`
	Created        int       `json:"created"`
	Updated        int       `json:"updated"`
	Failed         int       `json:"failed"`
	Attempts       int       `json:"attempts"`
	ElapsedSeconds float64   `json:"elapsed_seconds"`
	Error          string    `json:"error,omitempty"`
}
