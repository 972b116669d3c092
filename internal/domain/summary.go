package domain

import "time"

// RunSummary describes the outcome of the most recent processing run.
type RunSummary struct {
	RunID       string    `json:"run_id,omitempty"`
	Stage       string    `json:"stage"`
	Rows        int       `json:"rows"`
	Columns     []string  `json:"columns"`
	IngestedAt  time.Time `json:"ingested_at"`
	CorrectedAt time.Time `json:"corrected_at,omitzero"`
	Error       string    `json:"error,omitempty"`
}
