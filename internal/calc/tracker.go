package calc

import (
	"sync"

	"github.com/rs/zerolog"
)

// CommitFunc acknowledges an offset to the bus. The tracker passes the
// next-wanted offset (processed offset + 1).
type CommitFunc func(partition int32, offset int64) error

// Tracker enforces in-order offset commits per partition while intervals
// are processed concurrently. An offset moves inFlight → completed, and a
// commit run only advances over a gapless prefix: offset k is never
// acknowledged while anything in [lastCommitted+1, k-1] is still
// outstanding.
type Tracker struct {
	mu    sync.Mutex
	parts map[int32]*partitionState
	log   zerolog.Logger
}

type partitionState struct {
	inFlight      map[int64]struct{}
	completed     map[int64]struct{}
	lastCommitted int64
	hasCommitted  bool
}

// NewTracker creates an empty tracker.
func NewTracker(log zerolog.Logger) *Tracker {
	return &Tracker{
		parts: make(map[int32]*partitionState),
		log:   log.With().Str("component", "offset-tracker").Logger(),
	}
}

// Begin registers an offset as in flight. It returns false for duplicate
// deliveries: offsets already in flight, completed but not yet committed,
// or at/below the last committed offset.
func (t *Tracker) Begin(partition int32, offset int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	st := t.parts[partition]
	if st == nil {
		st = &partitionState{
			inFlight:  make(map[int64]struct{}),
			completed: make(map[int64]struct{}),
		}
		t.parts[partition] = st
	}

	if st.hasCommitted && offset <= st.lastCommitted {
		return false
	}
	if _, ok := st.inFlight[offset]; ok {
		return false
	}
	if _, ok := st.completed[offset]; ok {
		return false
	}

	st.inFlight[offset] = struct{}{}
	return true
}

// Fail abandons an in-flight offset. The message stays uncommitted and
// will be redelivered after a rebalance or restart.
func (t *Tracker) Fail(partition int32, offset int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if st := t.parts[partition]; st != nil {
		delete(st.inFlight, offset)
	}
}

// Complete marks an offset as processed and attempts a commit run. Commit
// errors are transient: the run stops and resumes on the next completion.
func (t *Tracker) Complete(partition int32, offset int64, commit CommitFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()

	st := t.parts[partition]
	if st == nil {
		return
	}
	delete(st.inFlight, offset)
	st.completed[offset] = struct{}{}

	t.commitRun(partition, st, commit)
}

// commitRun advances the committed offset over the completed prefix.
// Called with the tracker lock held so runs never interleave.
func (t *Tracker) commitRun(partition int32, st *partitionState, commit CommitFunc) {
	var next int64
	if st.hasCommitted {
		next = st.lastCommitted + 1
	} else {
		if len(st.completed) == 0 {
			return
		}
		next = minKey(st.completed)
		// The first commit has no committed floor to anchor on: refuse to
		// start while an earlier offset is still being processed.
		for o := range st.inFlight {
			if o < next {
				return
			}
		}
	}

	for {
		if _, ok := st.completed[next]; !ok {
			return
		}
		if err := commit(partition, next+1); err != nil {
			t.log.Warn().Err(err).
				Int32("partition", partition).
				Int64("offset", next).
				Msg("offset commit failed, will retry on next completion")
			return
		}
		delete(st.completed, next)
		st.lastCommitted = next
		st.hasCommitted = true
		next++
	}
}

// LastCommitted returns the most recently acknowledged offset for a
// partition, if any.
func (t *Tracker) LastCommitted(partition int32) (int64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	st := t.parts[partition]
	if st == nil || !st.hasCommitted {
		return 0, false
	}
	return st.lastCommitted, true
}

func minKey(m map[int64]struct{}) int64 {
	first := true
	var min int64
	for k := range m {
		if first || k < min {
			min = k
			first = false
		}
	}
	return min
}
