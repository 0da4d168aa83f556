package model

import "time"

// Run summarises one simulator execution.
type Run struct {
	ID               string        `json:"id"`
	Scenario         string        `json:"scenario"`
	InterSwitchDelay time.Duration `json:"inter_switch_delay_ns"`
	Sources          []RunSource   `json:"sources"`
	GrantCount       int           `json:"grant_count"`
	Violations       []string      `json:"violations,omitempty"`
	StartedAt        time.Time     `json:"started_at"`
	FinishedAt       time.Time     `json:"finished_at"`
}

// Duration returns how long the run took.
func (r *Run) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Passed reports whether verification found no violations.
func (r *Run) Passed() bool {
	return len(r.Violations) == 0
}

// RunSource is the per-source tally of a run.
type RunSource struct {
	Label     string `json:"label"`
	Commands  int    `json:"commands"`
	Grants    int    `json:"grants"`
	Completed int    `json:"completed"`
	Failed    int    `json:"failed"`
	Dropped   int    `json:"dropped"` // still queued when the port closed
}

// Grant is one run grant observed during a run.
type Grant struct {
	Seq      int           `json:"seq"`
	SourceID string        `json:"source_id"`
	Label    string        `json:"label"`
	At       time.Duration `json:"at_ns"`
	Gap      time.Duration `json:"gap_ns"`
	Switched bool          `json:"switched"`
}
