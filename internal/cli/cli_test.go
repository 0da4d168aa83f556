package cli

import (
	"bytes"
	"context"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/me/portsched/internal/config"
	"github.com/me/portsched/internal/scheduler"
	"github.com/me/portsched/internal/server"
)

const testScenario = `name: cli-smoke
inter_switch_delay: 1ms
sources:
  - label: ttyUSB2
    commands: 4
    service_time: 1ms
  - label: ttyUSB0
    commands: 2
    service_time: 1ms
    fail_every: 2
`

func writeScenario(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	if err := os.WriteFile(path, []byte(testScenario), 0o644); err != nil {
		t.Fatalf("write scenario: %v", err)
	}
	return path
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()

	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)

	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

var runIDPattern = regexp.MustCompile(`run (run_[0-9a-f-]+)`)

func TestSimulateSaveAndInspect(t *testing.T) {
	db := filepath.Join(t.TempDir(), "traces.db")
	scenario := writeScenario(t)

	output, err := runCLI(t, "--db", db, "simulate", "--save", scenario)
	if err != nil {
		t.Fatalf("simulate error: %v\n%s", err, output)
	}
	for _, want := range []string{"Scenario cli-smoke", "ttyUSB2", "ttyUSB0", "6 grants", "PASS"} {
		if !strings.Contains(output, want) {
			t.Errorf("simulate output missing %q:\n%s", want, output)
		}
	}

	m := runIDPattern.FindStringSubmatch(output)
	if m == nil {
		t.Fatalf("no run id in output:\n%s", output)
	}
	runID := m[1]

	output, err = runCLI(t, "--db", db, "runs")
	if err != nil {
		t.Fatalf("runs error: %v", err)
	}
	if !strings.Contains(output, runID) || !strings.Contains(output, "cli-smoke") || !strings.Contains(output, "pass") {
		t.Errorf("runs output missing run:\n%s", output)
	}

	output, err = runCLI(t, "--db", db, "trace", runID)
	if err != nil {
		t.Fatalf("trace error: %v", err)
	}
	if got := strings.Count(output, "\n"); got < 6 {
		t.Errorf("trace output too short (%d lines):\n%s", got, output)
	}
	if !strings.Contains(output, "<- switch") {
		t.Errorf("trace output has no switches:\n%s", output)
	}
}

func TestSimulate_DelayOverride(t *testing.T) {
	output, err := runCLI(t, "simulate", "--delay", "3ms", writeScenario(t))
	if err != nil {
		t.Fatalf("simulate error: %v", err)
	}
	if !strings.Contains(output, "inter-switch delay 3ms") {
		t.Errorf("delay override not applied:\n%s", output)
	}

	if _, err := runCLI(t, "simulate", "--delay", "-1ms", writeScenario(t)); err == nil {
		t.Error("expected error for negative delay")
	}
}

func TestSimulate_MissingFile(t *testing.T) {
	_, err := runCLI(t, "simulate", filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("expected error for missing scenario")
	}
}

func TestRuns_Empty(t *testing.T) {
	output, err := runCLI(t, "--db", filepath.Join(t.TempDir(), "empty.db"), "runs")
	if err != nil {
		t.Fatalf("runs error: %v", err)
	}
	if !strings.Contains(output, "No runs found.") {
		t.Errorf("output = %q", output)
	}
}

func TestTrace_NotFound(t *testing.T) {
	_, err := runCLI(t, "--db", filepath.Join(t.TempDir(), "empty.db"), "trace", "run_missing")
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("error = %v, want not found", err)
	}
}

func TestBadLogFormat(t *testing.T) {
	_, err := runCLI(t, "--log-format", "xml", "runs")
	if err == nil {
		t.Fatal("expected error for unknown log format")
	}
}

type staticLive struct{ snap scheduler.Snapshot }

func (s staticLive) Snapshot(context.Context) (scheduler.Snapshot, error) { return s.snap, nil }

func TestLiveCommand(t *testing.T) {
	at, qcdm := scheduler.NewSourceID(), scheduler.NewSourceID()
	snap := scheduler.Snapshot{
		State:            scheduler.StateWaiting,
		InterSwitchDelay: 20 * time.Millisecond,
		LastDispatched:   &at,
		Sources: []scheduler.SourceInfo{
			{ID: at, Label: "ttyUSB2", Pending: 2, Grants: 1500, Completions: 1500},
			{ID: qcdm, Label: "ttyUSB0", Pending: 1, Grants: 3, Completions: 3},
		},
	}
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelError}))
	srv := server.New(config.DefaultServerConfig(), nil, logger, server.WithSnapshotter(staticLive{snap}))
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	output, err := runCLI(t, "live", "--server", ts.URL)
	if err != nil {
		t.Fatalf("live error: %v", err)
	}
	for _, want := range []string{"State waiting", "3 command(s) pending", "1,500", "last"} {
		if !strings.Contains(output, want) {
			t.Errorf("live output missing %q:\n%s", want, output)
		}
	}
}

func TestLiveCommand_NothingRunning(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelError}))
	ts := httptest.NewServer(server.New(config.DefaultServerConfig(), nil, logger).Handler())
	t.Cleanup(ts.Close)

	_, err := runCLI(t, "live", "--server", ts.URL)
	if err == nil || !strings.Contains(err.Error(), "UNAVAILABLE") {
		t.Errorf("error = %v, want UNAVAILABLE", err)
	}
}
