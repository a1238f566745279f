package models

import "time"

// RunStatus is the user-visible tri-state outcome of a matrix run.
type RunStatus string

const (
	RunSucceeded RunStatus = "succeeded"
	RunPartial   RunStatus = "partially_failed"
	RunFailed    RunStatus = "failed"
)

// CellError is a captured per-cell failure.
type CellError struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
}

// CellOutcome is the result of executing one (pipeline, collection) cell.
type CellOutcome struct {
	Pipeline    string        `json:"pipeline"`
	Collection  string        `json:"collection"`
	Operation   OperationKind `json:"operation"`
	Message     string        `json:"message,omitempty"`
	Error       *CellError    `json:"error,omitempty"`
	StartedAt   time.Time     `json:"started_at"`
	EndedAt     time.Time     `json:"ended_at"`
	DurationSec float64       `json:"duration_sec"`
}

// Failed reports whether the cell recorded a failure.
func (o *CellOutcome) Failed() bool { return o.Error != nil }

// RunReport aggregates every cell outcome of one engine invocation. Completed
// cells' effects are retained even when siblings fail; the report is how
// partial failure surfaces to the caller.
type RunReport struct {
	RunID          string        `json:"run_id"`
	Operation      OperationKind `json:"operation"`
	DryRun         bool          `json:"dry_run,omitempty"`
	TotalCells     int           `json:"total_cells"`
	CompletedCells int           `json:"completed_cells"`
	FailedCells    int           `json:"failed_cells"`
	Status         RunStatus     `json:"status"`
	StartedAt      time.Time     `json:"started_at"`
	EndedAt        time.Time     `json:"ended_at"`
	DurationSec    float64       `json:"duration_sec"`
	Outcomes       []CellOutcome `json:"outcomes"`
}

// Finalize fills the aggregate counters and status from the outcome set.
func (r *RunReport) Finalize() {
	r.TotalCells = len(r.Outcomes)
	r.CompletedCells = 0
	r.FailedCells = 0
	for i := range r.Outcomes {
		if r.Outcomes[i].Failed() {
			r.FailedCells++
		} else {
			r.CompletedCells++
		}
	}
	switch {
	case r.FailedCells == 0:
		r.Status = RunSucceeded
	case r.CompletedCells == 0 && r.FailedCells > 0:
		r.Status = RunFailed
	default:
		r.Status = RunPartial
	}
	r.EndedAt = time.Now()
	r.DurationSec = r.EndedAt.Sub(r.StartedAt).Seconds()
}
