package store

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/me/portsched/pkg/model"
)

func testStore(t *testing.T) *SQLiteStore {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelError}))
	st, err := NewSQLiteStore(":memory:", logger)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := st.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func sampleRun(id string) *model.Run {
	start := time.Now().UTC().Truncate(time.Millisecond)
	return &model.Run{
		ID:               id,
		Scenario:         "at-qcdm",
		InterSwitchDelay: 20 * time.Millisecond,
		Sources: []model.RunSource{
			{Label: "ttyUSB2", Commands: 6, Grants: 6, Completed: 6},
			{Label: "ttyUSB0", Commands: 3, Grants: 3, Completed: 2, Failed: 1},
		},
		GrantCount: 9,
		StartedAt:  start,
		FinishedAt: start.Add(250 * time.Millisecond),
	}
}

func sampleGrants() []model.Grant {
	return []model.Grant{
		{Seq: 1, SourceID: "a", Label: "ttyUSB2", At: time.Millisecond},
		{Seq: 2, SourceID: "b", Label: "ttyUSB0", At: 23 * time.Millisecond, Gap: 22 * time.Millisecond, Switched: true},
		{Seq: 3, SourceID: "a", Label: "ttyUSB2", At: 45 * time.Millisecond, Gap: 22 * time.Millisecond, Switched: true},
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	st := testStore(t)
	if err := st.Migrate(context.Background()); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}

func TestCreateAndGetRun(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	run := sampleRun("run_1")
	run.Violations = []string{"grant 2: switched too early"}

	if err := st.CreateRun(ctx, run); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := st.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil {
		t.Fatal("got nil run")
	}
	if got.Scenario != run.Scenario || got.InterSwitchDelay != run.InterSwitchDelay {
		t.Errorf("got %s/%v, want %s/%v", got.Scenario, got.InterSwitchDelay, run.Scenario, run.InterSwitchDelay)
	}
	if len(got.Sources) != 2 || got.Sources[1].Failed != 1 {
		t.Errorf("sources = %+v", got.Sources)
	}
	if got.Passed() {
		t.Error("violations not preserved")
	}
	if !got.StartedAt.Equal(run.StartedAt) || got.Duration() != 250*time.Millisecond {
		t.Errorf("timing = %v / %v", got.StartedAt, got.Duration())
	}
}

func TestGetRun_NotFound(t *testing.T) {
	st := testStore(t)
	got, err := st.GetRun(context.Background(), "run_missing")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil, got %+v", got)
	}
}

func TestGetRun_Unfinished(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	run := sampleRun("run_open")
	run.FinishedAt = time.Time{}
	if err := st.CreateRun(ctx, run); err != nil {
		t.Fatalf("create: %v", err)
	}
	got, err := st.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.FinishedAt.IsZero() || !got.Passed() {
		t.Errorf("got %+v", got)
	}
}

func TestListRuns_Pagination(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		run := sampleRun(fmt.Sprintf("run_%d", i))
		run.StartedAt = time.Now().UTC().Add(time.Duration(i) * time.Second)
		if err := st.CreateRun(ctx, run); err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
	}

	runs, total, err := st.ListRuns(ctx, model.ListOptions{Limit: 2})
	if err != nil {
		t.Fatalf("list page 1: %v", err)
	}
	if total != 3 || len(runs) != 2 {
		t.Errorf("page 1: total=%d len=%d, want 3/2", total, len(runs))
	}
	if runs[0].ID != "run_2" {
		t.Errorf("first = %s, want newest run_2", runs[0].ID)
	}

	runs, _, err = st.ListRuns(ctx, model.ListOptions{Limit: 2, Offset: 2})
	if err != nil {
		t.Fatalf("list page 2: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != "run_0" {
		t.Errorf("page 2 = %v", runs)
	}
}

func TestListRuns_FilterByName(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	for i, name := range []string{"at-qcdm", "rogue", "at-qcdm"} {
		run := sampleRun(fmt.Sprintf("run_%d", i))
		run.Scenario = name
		if err := st.CreateRun(ctx, run); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	runs, total, err := st.ListRuns(ctx, model.ListOptions{Limit: 10, Name: "rogue"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 1 || len(runs) != 1 || runs[0].ID != "run_1" {
		t.Errorf("filtered = %d %v", total, runs)
	}
}

func TestAppendAndListGrants(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	run := sampleRun("run_g")
	if err := st.CreateRun(ctx, run); err != nil {
		t.Fatalf("create: %v", err)
	}

	want := sampleGrants()
	if err := st.AppendGrants(ctx, run.ID, want); err != nil {
		t.Fatalf("append: %v", err)
	}

	got, err := st.ListGrants(ctx, run.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("grant %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestAppendGrants_DuplicateRollsBack(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	if err := st.CreateRun(ctx, sampleRun("run_d")); err != nil {
		t.Fatalf("create: %v", err)
	}

	grants := sampleGrants()
	grants = append(grants, grants[0])
	if err := st.AppendGrants(ctx, "run_d", grants); err == nil {
		t.Fatal("expected duplicate seq error")
	}

	got, err := st.ListGrants(ctx, "run_d")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("partial insert left %d grants", len(got))
	}
}

func TestAppendGrants_UnknownRun(t *testing.T) {
	st := testStore(t)
	if err := st.AppendGrants(context.Background(), "run_nope", sampleGrants()); err == nil {
		t.Error("expected foreign key error")
	}
}
