package syncer

import (
	"fmt"

	"mailtally/internal/model"
)

// RunError is returned for runs that did not reach Done. Summary tells how
// far the run got; Progressed separates "nothing happened" from "partial
// progress, safe to resume".
type RunError struct {
	Summary model.RunSummary
	Err     error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("sync %s (%d new, %d skipped): %v", e.Summary.Status, e.Summary.New, e.Summary.Skipped, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }

func (e *RunError) Progressed() bool { return e.Summary.Progressed() }
