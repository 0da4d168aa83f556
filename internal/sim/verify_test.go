package sim

import (
	"testing"
	"time"

	"github.com/me/portsched/pkg/model"
)

func TestVerify(t *testing.T) {
	grants := []model.Grant{
		{Seq: 1, SourceID: "a", Label: "A"},
		{Seq: 2, SourceID: "a", Label: "A", Gap: time.Millisecond},
		{Seq: 3, SourceID: "b", Label: "B", Gap: 600 * time.Millisecond, Switched: true},
		{Seq: 4, SourceID: "a", Label: "A", Gap: 100 * time.Millisecond, Switched: true},
	}

	if v := Verify(grants, 50*time.Millisecond); len(v) != 0 {
		t.Errorf("violations at 50ms = %v, want none", v)
	}
	v := Verify(grants, 500*time.Millisecond)
	if len(v) != 1 {
		t.Fatalf("violations at 500ms = %v, want 1", v)
	}

	grants[1].Seq = 7
	if v := Verify(grants, 0); len(v) != 1 {
		t.Errorf("sequence violations = %v, want 1", v)
	}
}

func TestLongestRun(t *testing.T) {
	grants := []model.Grant{
		{SourceID: "a", Label: "A"},
		{SourceID: "b", Label: "B"},
		{SourceID: "b", Label: "B"},
		{SourceID: "b", Label: "B"},
		{SourceID: "a", Label: "A"},
	}
	label, n := LongestRun(grants)
	if label != "B" || n != 3 {
		t.Errorf("LongestRun = %s/%d, want B/3", label, n)
	}
	if _, n := LongestRun(nil); n != 0 {
		t.Errorf("LongestRun(nil) = %d, want 0", n)
	}
}
