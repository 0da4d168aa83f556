package model

import (
	"testing"
	"time"
)

func TestRun_Duration(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	r := &Run{StartedAt: start}
	if r.Duration() != 0 {
		t.Errorf("unfinished run Duration = %v, want 0", r.Duration())
	}
	r.FinishedAt = start.Add(1500 * time.Millisecond)
	if r.Duration() != 1500*time.Millisecond {
		t.Errorf("Duration = %v, want 1.5s", r.Duration())
	}
}

func TestRun_Passed(t *testing.T) {
	r := &Run{}
	if !r.Passed() {
		t.Error("run without violations should pass")
	}
	r.Violations = []string{"grant 3: switch after 10ms"}
	if r.Passed() {
		t.Error("run with violations should not pass")
	}
}
