package calc

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/ndrandal/intraday-pnl/internal/bus"
	"github.com/ndrandal/intraday-pnl/internal/model"
)

type fakeFetcher struct {
	trades   []model.Trade
	failures int
	calls    int
}

func (f *fakeFetcher) GetTradesForPeriod(_ context.Context, start, end time.Time) ([]model.Trade, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, errors.New("memory service unavailable")
	}
	return f.trades, nil
}

type savedPair struct {
	market model.MarketInterval
	pnl    model.PnL
}

type fakeStore struct {
	existing    map[intervalKey]bool
	saved       []savedPair
	existsCalls int
	saveLoses   bool // concurrent writer wins every save
	existsErr   error
	saveErr     error
}

func newFakeStore() *fakeStore {
	return &fakeStore{existing: make(map[intervalKey]bool)}
}

func (s *fakeStore) Exists(_ context.Context, start, end time.Time) (bool, error) {
	s.existsCalls++
	if s.existsErr != nil {
		return false, s.existsErr
	}
	return s.existing[intervalKey{start.UnixNano(), end.UnixNano()}], nil
}

func (s *fakeStore) SaveWithPnL(_ context.Context, m model.MarketInterval, p model.PnL) (bool, error) {
	if s.saveErr != nil {
		return false, s.saveErr
	}
	if s.saveLoses || s.existing[keyOf(m)] {
		return false, nil
	}
	s.existing[keyOf(m)] = true
	s.saved = append(s.saved, savedPair{market: m, pnl: p})
	return true, nil
}

func newTestPipeline(t *testing.T, fetcher TradeFetcher, store MarketWriter) *Pipeline {
	t.Helper()
	p, err := New(fetcher, store, fee, 100, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	p.now = func() time.Time { return t0.Add(2 * time.Minute) }
	p.fetchBackoff = func() backoff.BackOff {
		return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 4)
	}
	return p
}

func TestProcessWritesMarketAndPnL(t *testing.T) {
	fetcher := &fakeFetcher{trades: []model.Trade{
		{Side: model.SideBuy, Volume: d("100"), Time: t0.Add(10 * time.Second)},
		{Side: model.SideSell, Volume: d("50"), Time: t0.Add(20 * time.Second)},
	}}
	store := newFakeStore()
	p := newTestPipeline(t, fetcher, store)

	outcome, err := p.Process(context.Background(), benchMark)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if outcome != OutcomeWritten {
		t.Fatalf("outcome = %s, want written", outcome)
	}
	if len(store.saved) != 1 {
		t.Fatalf("saved %d pairs, want 1", len(store.saved))
	}
	if got := store.saved[0].pnl.PnL; !got.Equal(d("-2269.5")) {
		t.Errorf("stored pnl = %s, want -2269.5", got)
	}
}

func TestProcessIsIdempotent(t *testing.T) {
	fetcher := &fakeFetcher{}
	store := newFakeStore()
	p := newTestPipeline(t, fetcher, store)

	if outcome, err := p.Process(context.Background(), benchMark); err != nil || outcome != OutcomeWritten {
		t.Fatalf("first Process = %s, %v", outcome, err)
	}

	outcome, err := p.Process(context.Background(), benchMark)
	if err != nil {
		t.Fatalf("second Process: %v", err)
	}
	if outcome != OutcomeSkipped {
		t.Fatalf("second outcome = %s, want skipped", outcome)
	}
	if len(store.saved) != 1 {
		t.Fatalf("saved %d pairs after redelivery, want exactly 1", len(store.saved))
	}
	// The recent-interval cache answers the redelivery; the store is not
	// consulted a second time.
	if store.existsCalls != 1 {
		t.Errorf("store existence checked %d times, want 1", store.existsCalls)
	}
}

func TestProcessSkipsIntervalAlreadyInStore(t *testing.T) {
	fetcher := &fakeFetcher{}
	store := newFakeStore()
	store.existing[keyOf(benchMark)] = true
	p := newTestPipeline(t, fetcher, store)

	outcome, err := p.Process(context.Background(), benchMark)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if outcome != OutcomeSkipped {
		t.Fatalf("outcome = %s, want skipped", outcome)
	}
	if fetcher.calls != 0 {
		t.Errorf("fetched trades for an already stored interval")
	}
}

func TestProcessTreatsConcurrentWriterAsSuccess(t *testing.T) {
	fetcher := &fakeFetcher{}
	store := newFakeStore()
	store.saveLoses = true
	p := newTestPipeline(t, fetcher, store)

	outcome, err := p.Process(context.Background(), benchMark)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if outcome != OutcomeSkipped {
		t.Fatalf("outcome = %s, want skipped when another writer won", outcome)
	}
}

func TestProcessRetriesTradeFetch(t *testing.T) {
	fetcher := &fakeFetcher{failures: 2}
	store := newFakeStore()
	p := newTestPipeline(t, fetcher, store)

	outcome, err := p.Process(context.Background(), benchMark)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if outcome != OutcomeWritten {
		t.Fatalf("outcome = %s, want written", outcome)
	}
	if fetcher.calls != 3 {
		t.Errorf("fetch attempts = %d, want 3", fetcher.calls)
	}
}

func TestProcessFailsAfterFetchExhaustion(t *testing.T) {
	fetcher := &fakeFetcher{failures: 100}
	store := newFakeStore()
	p := newTestPipeline(t, fetcher, store)

	_, err := p.Process(context.Background(), benchMark)
	if err == nil {
		t.Fatal("Process should fail when every fetch attempt fails")
	}
	if fetcher.calls != 5 {
		t.Errorf("fetch attempts = %d, want 5", fetcher.calls)
	}
	if len(store.saved) != 0 {
		t.Errorf("saved %d pairs despite fetch failure", len(store.saved))
	}
}

// recordingCommitter captures handler-level offset commits.
type recordingCommitter struct {
	commits map[int32][]int64
}

func (r *recordingCommitter) CommitOffset(topic string, partition int32, offset int64) error {
	if r.commits == nil {
		r.commits = make(map[int32][]int64)
	}
	r.commits[partition] = append(r.commits[partition], offset)
	return nil
}

func TestHandlerPassesMalformedMessageOffset(t *testing.T) {
	p := newTestPipeline(t, &fakeFetcher{}, newFakeStore())
	handler := p.Handler()
	commit := &recordingCommitter{}

	handler(context.Background(), commit, &bus.Message{
		Topic:     "market",
		Partition: 0,
		Offset:    0,
		Value:     []byte("not json"),
	})

	got := commit.commits[0]
	if len(got) != 1 || got[0] != 1 {
		t.Fatalf("commits = %v, want [1]: a dropped message must not stall the partition", got)
	}
}

func TestTrackerRefusesDuplicateWhileInFlight(t *testing.T) {
	p := newTestPipeline(t, &fakeFetcher{}, newFakeStore())

	if !p.tracker.Begin(0, 7) {
		t.Fatal("setup Begin failed")
	}
	// A redelivery of the same offset while the first is still being
	// processed must not spawn a second task.
	if p.tracker.Begin(0, 7) {
		t.Fatal("duplicate tracked twice")
	}
}
