package eventloop

import (
	"time"

	"github.com/google/btree"
)

// Virtual is a deterministic Loop whose clock only moves when timers run.
// It is meant for tests and is not safe for concurrent use.
type Virtual struct {
	now    time.Time
	seq    uint64
	posted []func()
	timers *btree.BTreeG[*virtualTimer]
}

type virtualTimer struct {
	v    *Virtual
	when time.Time
	seq  uint64
	fn   func()
	done bool
}

func lessTimer(a, b *virtualTimer) bool {
	if !a.when.Equal(b.when) {
		return a.when.Before(b.when)
	}
	return a.seq < b.seq
}

// NewVirtual creates a Virtual loop whose clock starts at start.
func NewVirtual(start time.Time) *Virtual {
	return &Virtual{
		now:    start,
		timers: btree.NewG(4, lessTimer),
	}
}

// Post implements Loop.
func (v *Virtual) Post(fn func()) {
	v.posted = append(v.posted, fn)
}

// AfterFunc implements Loop. Negative durations are treated as zero.
func (v *Virtual) AfterFunc(d time.Duration, fn func()) Timer {
	if d < 0 {
		d = 0
	}
	v.seq++
	t := &virtualTimer{v: v, when: v.now.Add(d), seq: v.seq, fn: fn}
	v.timers.ReplaceOrInsert(t)
	return t
}

// Now implements Loop.
func (v *Virtual) Now() time.Time {
	return v.now
}

// Pending returns the number of queued callbacks and armed timers.
func (v *Virtual) Pending() int {
	return len(v.posted) + v.timers.Len()
}

// RunUntilIdle runs callbacks and timers, advancing the clock to each timer's
// deadline, until nothing is left. It returns the number of callbacks run.
func (v *Virtual) RunUntilIdle() int {
	n := 0
	for v.step(time.Time{}) {
		n++
	}
	return n
}

// Advance runs everything due within d and leaves the clock at now+d.
func (v *Virtual) Advance(d time.Duration) int {
	deadline := v.now.Add(d)
	n := 0
	for v.step(deadline) {
		n++
	}
	if v.now.Before(deadline) {
		v.now = deadline
	}
	return n
}

// step runs one posted callback or the earliest timer due by deadline. A
// zero deadline means no limit.
func (v *Virtual) step(deadline time.Time) bool {
	if len(v.posted) > 0 {
		fn := v.posted[0]
		v.posted = v.posted[1:]
		fn()
		return true
	}

	t, ok := v.timers.Min()
	if !ok {
		return false
	}
	if !deadline.IsZero() && t.when.After(deadline) {
		return false
	}
	v.timers.Delete(t)
	if t.when.After(v.now) {
		v.now = t.when
	}
	t.done = true
	t.fn()
	return true
}

func (t *virtualTimer) Stop() bool {
	if t.done {
		return false
	}
	t.done = true
	t.v.timers.Delete(t)
	return true
}
