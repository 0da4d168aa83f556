package sim

import (
	"fmt"
	"time"

	"github.com/me/portsched/pkg/model"
)

// Verify checks a grant trace for sequence gaps and for switches between
// sources that came sooner than delay.
func Verify(grants []model.Grant, delay time.Duration) []string {
	var violations []string
	for i, g := range grants {
		if g.Seq != i+1 {
			violations = append(violations, fmt.Sprintf("grant %d: out of sequence (seq %d)", i+1, g.Seq))
		}
		if i > 0 && g.Switched && g.Gap < delay {
			violations = append(violations, fmt.Sprintf("grant %d: switched %s -> %s after %v, want >= %v",
				g.Seq, grants[i-1].Label, g.Label, g.Gap, delay))
		}
	}
	return violations
}

// LongestRun returns the label with the most consecutive grants and the
// length of that streak.
func LongestRun(grants []model.Grant) (string, int) {
	var best string
	bestLen, cur := 0, 0
	for i, g := range grants {
		if i > 0 && grants[i-1].SourceID == g.SourceID {
			cur++
		} else {
			cur = 1
		}
		if cur > bestLen {
			best, bestLen = g.Label, cur
		}
	}
	return best, bestLen
}
