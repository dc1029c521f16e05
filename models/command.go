package models

import (
	"encoding/json"
	"time"
)

type CommandType string

const (
	CmdRunSource    CommandType = "run_source"
	CmdRunDue       CommandType = "run_due"
	CmdPause        CommandType = "pause"
	CmdResume       CommandType = "resume"
	CmdResetPending CommandType = "reset_pending"
	CmdMaintenance  CommandType = "maintenance"
)

type Command struct {
	ID          int64           `json:"id" db:"id"`
	Command     CommandType     `json:"command" db:"command"`
	Params      json.RawMessage `json:"params" db:"params"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	ProcessedAt *time.Time      `json:"processed_at" db:"processed_at"`
}

type CommandParams struct {
	SourceID int64 `json:"source_id,omitempty"`
}
