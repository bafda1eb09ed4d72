package model

import "time"

// RunStatus is the outcome of one sync run.
type RunStatus string

const (
	StatusRunning    RunStatus = "running"
	StatusDone       RunStatus = "done"
	StatusIncomplete RunStatus = "incomplete" // aborted, safe to resume
	StatusFailed     RunStatus = "failed"
)

// RunSummary is the record of one sync run, persisted and reported.
type RunSummary struct {
	RunID      string    `json:"run_id"`
	Provider   string    `json:"provider"`
	Status     RunStatus `json:"status"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
	Pages      int       `json:"pages"`
	Listed     int       `json:"listed"`  // entries returned by the listing this run
	New        int       `json:"new"`     // entries committed this run
	Skipped    int       `json:"skipped"` // entries already in the dedup store
	Errors     int       `json:"errors"`
	LastError  string    `json:"last_error,omitempty"`
}

// Progressed reports whether the run committed anything.
func (s RunSummary) Progressed() bool { return s.New > 0 }
