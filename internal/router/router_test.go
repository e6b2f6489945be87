package router

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/ndrandal/intraday-pnl/internal/memory"
	"github.com/ndrandal/intraday-pnl/internal/model"
)

var t0 = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

type stubHistory struct {
	trades []model.Trade
	err    error
	calls  int
}

func (s *stubHistory) GetTradesForPeriod(_ context.Context, start, end time.Time) ([]model.Trade, error) {
	s.calls++
	return s.trades, s.err
}

func trade(ts time.Time) model.Trade {
	return model.Trade{Side: model.SideSell, Volume: decimal.NewFromInt(2), Time: ts}
}

func newTestRouter(buf *memory.Buffer, history HistoryClient) *Router {
	r := New(buf, history, 200*time.Millisecond, zerolog.Nop())
	r.pollInterval = 10 * time.Millisecond
	return r
}

func TestReturnsImmediatelyWhenLaterTradeAlreadySeen(t *testing.T) {
	buf := memory.NewBuffer(time.Hour, time.Hour, zerolog.Nop())
	buf.Add(trade(t0.Add(-3 * time.Second)))
	buf.Add(trade(t0.Add(time.Second))) // already past the period end

	r := newTestRouter(buf, &stubHistory{})

	begin := time.Now()
	got := r.GetTradesForPeriod(context.Background(), t0.Add(-5*time.Second), t0)
	elapsed := time.Since(begin)

	if len(got) != 1 {
		t.Fatalf("got %d trades, want 1", len(got))
	}
	if elapsed > 100*time.Millisecond {
		t.Fatalf("took %v, expected immediate return", elapsed)
	}
}

func TestWaitsFullTimeoutWhenNoLaterTradeArrives(t *testing.T) {
	buf := memory.NewBuffer(time.Hour, time.Hour, zerolog.Nop())
	buf.Add(trade(t0.Add(-3 * time.Second)))

	r := newTestRouter(buf, &stubHistory{})

	begin := time.Now()
	got := r.GetTradesForPeriod(context.Background(), t0.Add(-5*time.Second), t0)
	elapsed := time.Since(begin)

	if len(got) != 1 {
		t.Fatalf("got %d trades, want 1", len(got))
	}
	if elapsed < 200*time.Millisecond {
		t.Fatalf("returned after %v, want the full 200ms wait", elapsed)
	}
}

func TestReturnsOnceLaterTradeArrives(t *testing.T) {
	buf := memory.NewBuffer(time.Hour, time.Hour, zerolog.Nop())
	buf.Add(trade(t0.Add(-3 * time.Second)))

	r := newTestRouter(buf, &stubHistory{})

	go func() {
		time.Sleep(40 * time.Millisecond)
		buf.Add(trade(t0.Add(-2 * time.Second))) // still in-period: admitted, not a release
		buf.Add(trade(t0.Add(time.Second)))      // past the end: releases the wait
	}()

	begin := time.Now()
	got := r.GetTradesForPeriod(context.Background(), t0.Add(-5*time.Second), t0)
	elapsed := time.Since(begin)

	if len(got) != 2 {
		t.Fatalf("got %d trades, want 2 (straggler admitted)", len(got))
	}
	if elapsed >= 200*time.Millisecond {
		t.Fatalf("took %v, should release before the timeout", elapsed)
	}
}

func TestDelegatesToHistoryWhenBufferHasNoHits(t *testing.T) {
	buf := memory.NewBuffer(time.Hour, time.Hour, zerolog.Nop())
	buf.Add(trade(t0.Add(time.Hour))) // buffered, but outside the period

	history := &stubHistory{trades: []model.Trade{trade(t0.Add(-time.Minute))}}
	r := newTestRouter(buf, history)

	got := r.GetTradesForPeriod(context.Background(), t0.Add(-2*time.Minute), t0.Add(-30*time.Second))
	if history.calls != 1 {
		t.Fatalf("history called %d times, want 1", history.calls)
	}
	if len(got) != 1 {
		t.Fatalf("got %d trades, want 1 from history", len(got))
	}
}

func TestHistoryFailureYieldsEmptyNotError(t *testing.T) {
	buf := memory.NewBuffer(time.Hour, time.Hour, zerolog.Nop())
	history := &stubHistory{err: errors.New("store down")}
	r := newTestRouter(buf, history)

	got := r.GetTradesForPeriod(context.Background(), t0.Add(-time.Minute), t0)
	if len(got) != 0 {
		t.Fatalf("got %d trades, want 0 on history failure", len(got))
	}
}

func TestQueryUpdatesQueriedRange(t *testing.T) {
	buf := memory.NewBuffer(time.Hour, time.Hour, zerolog.Nop())
	r := newTestRouter(buf, &stubHistory{})

	// Recent timestamps: the buffer clamps ranges older than its
	// queried-range retention against the wall clock.
	end := time.Now()
	start := end.Add(-time.Minute)
	r.GetTradesForPeriod(context.Background(), start, end)

	qs, qe, ok := buf.QueriedRange()
	if !ok {
		t.Fatal("queried range not recorded")
	}
	if !qs.Equal(start) || !qe.Equal(end) {
		t.Fatalf("queried range = [%v, %v], want [%v, %v]", qs, qe, start, end)
	}
}
