package calc

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"
)

// commitRecorder captures the offsets acknowledged to the bus.
type commitRecorder struct {
	commits []int64
	fail    bool
}

func (r *commitRecorder) fn() CommitFunc {
	return func(partition int32, offset int64) error {
		if r.fail {
			return errors.New("broker unavailable")
		}
		r.commits = append(r.commits, offset)
		return nil
	}
}

func TestOutOfOrderCompletionCommitsInOneRun(t *testing.T) {
	tr := NewTracker(zerolog.Nop())
	rec := &commitRecorder{}

	for _, off := range []int64{10, 11, 12} {
		if !tr.Begin(0, off) {
			t.Fatalf("Begin(0,%d) refused", off)
		}
	}

	// Completion order 12, 11, 10: nothing may be acknowledged until 10.
	tr.Complete(0, 12, rec.fn())
	if len(rec.commits) != 0 {
		t.Fatalf("committed %v after 12 completed, want none", rec.commits)
	}
	tr.Complete(0, 11, rec.fn())
	if len(rec.commits) != 0 {
		t.Fatalf("committed %v after 11 completed, want none", rec.commits)
	}

	tr.Complete(0, 10, rec.fn())
	want := []int64{11, 12, 13}
	if len(rec.commits) != len(want) {
		t.Fatalf("commits = %v, want %v", rec.commits, want)
	}
	for i := range want {
		if rec.commits[i] != want[i] {
			t.Fatalf("commits = %v, want %v", rec.commits, want)
		}
	}

	if last, ok := tr.LastCommitted(0); !ok || last != 12 {
		t.Fatalf("lastCommitted = %d,%v, want 12,true", last, ok)
	}
}

func TestCommitsAreStrictlySequential(t *testing.T) {
	tr := NewTracker(zerolog.Nop())
	rec := &commitRecorder{}

	tr.Begin(0, 5)
	tr.Complete(0, 5, rec.fn())

	tr.Begin(0, 6)
	tr.Begin(0, 7)
	tr.Complete(0, 7, rec.fn()) // 6 still in flight: hold
	if len(rec.commits) != 1 {
		t.Fatalf("commits = %v, want only the first", rec.commits)
	}
	tr.Complete(0, 6, rec.fn())

	want := []int64{6, 7, 8}
	for i := range want {
		if rec.commits[i] != want[i] {
			t.Fatalf("commits = %v, want %v", rec.commits, want)
		}
	}
}

func TestFirstCommitWaitsForEarlierInFlight(t *testing.T) {
	tr := NewTracker(zerolog.Nop())
	rec := &commitRecorder{}

	tr.Begin(1, 3)
	tr.Begin(1, 4)
	tr.Complete(1, 4, rec.fn())
	if len(rec.commits) != 0 {
		t.Fatalf("committed %v while offset 3 still in flight", rec.commits)
	}
	tr.Complete(1, 3, rec.fn())
	if len(rec.commits) != 2 || rec.commits[0] != 4 || rec.commits[1] != 5 {
		t.Fatalf("commits = %v, want [4 5]", rec.commits)
	}
}

func TestDuplicateDeliveriesRefused(t *testing.T) {
	tr := NewTracker(zerolog.Nop())
	rec := &commitRecorder{}

	if !tr.Begin(0, 10) {
		t.Fatal("first Begin refused")
	}
	if tr.Begin(0, 10) {
		t.Fatal("in-flight duplicate accepted")
	}

	tr.Begin(0, 12)
	tr.Complete(0, 12, rec.fn()) // completed but not committed (gap at 10..11)
	if tr.Begin(0, 12) {
		t.Fatal("completed duplicate accepted")
	}

	tr.Complete(0, 10, rec.fn())
	// 10 committed; redelivery at or below lastCommitted is refused.
	if tr.Begin(0, 10) {
		t.Fatal("already committed duplicate accepted")
	}
}

func TestFailedOffsetCanBeRetried(t *testing.T) {
	tr := NewTracker(zerolog.Nop())
	rec := &commitRecorder{}

	tr.Begin(0, 20)
	tr.Fail(0, 20)

	// Redelivery after the failure must be accepted.
	if !tr.Begin(0, 20) {
		t.Fatal("Begin refused after Fail")
	}
	tr.Complete(0, 20, rec.fn())
	if len(rec.commits) != 1 || rec.commits[0] != 21 {
		t.Fatalf("commits = %v, want [21]", rec.commits)
	}
}

func TestCommitFailureRetriesOnNextCompletion(t *testing.T) {
	tr := NewTracker(zerolog.Nop())
	rec := &commitRecorder{fail: true}

	tr.Begin(0, 1)
	tr.Begin(0, 2)
	tr.Complete(0, 1, rec.fn())
	if len(rec.commits) != 0 {
		t.Fatalf("commits = %v during broker outage, want none", rec.commits)
	}

	rec.fail = false
	tr.Complete(0, 2, rec.fn())
	if len(rec.commits) != 2 || rec.commits[0] != 2 || rec.commits[1] != 3 {
		t.Fatalf("commits = %v, want [2 3]", rec.commits)
	}
}

func TestPartitionsAreIndependent(t *testing.T) {
	tr := NewTracker(zerolog.Nop())
	rec0 := &commitRecorder{}
	rec1 := &commitRecorder{}

	tr.Begin(0, 100)
	tr.Begin(1, 5)

	tr.Complete(1, 5, rec1.fn())
	if len(rec1.commits) != 1 || rec1.commits[0] != 6 {
		t.Fatalf("partition 1 commits = %v, want [6]", rec1.commits)
	}
	if len(rec0.commits) != 0 {
		t.Fatalf("partition 0 commits = %v, want none", rec0.commits)
	}

	tr.Complete(0, 100, rec0.fn())
	if len(rec0.commits) != 1 || rec0.commits[0] != 101 {
		t.Fatalf("partition 0 commits = %v, want [101]", rec0.commits)
	}
}
