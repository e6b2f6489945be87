package memory

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/ndrandal/intraday-pnl/internal/model"
)

var t0 = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func newTestBuffer(now time.Time) *Buffer {
	b := NewBuffer(10*time.Second, time.Minute, zerolog.Nop())
	b.now = func() time.Time { return now }
	return b
}

func trade(ts time.Time, offset int64) model.Trade {
	return model.Trade{
		Side:   model.SideBuy,
		Volume: decimal.NewFromInt(1),
		Time:   ts,
		Offset: offset,
	}
}

func TestQueryInclusiveBounds(t *testing.T) {
	b := newTestBuffer(t0)
	b.Add(trade(t0.Add(-3*time.Second), 1))
	b.Add(trade(t0.Add(-2*time.Second), 2))
	b.Add(trade(t0.Add(-1*time.Second), 3))

	got := b.Query(t0.Add(-3*time.Second), t0.Add(-1*time.Second))
	if len(got) != 3 {
		t.Fatalf("query returned %d trades, want 3 (bounds are inclusive)", len(got))
	}

	got = b.Query(t0.Add(-3*time.Second), t0.Add(-2*time.Second))
	if len(got) != 2 {
		t.Fatalf("query returned %d trades, want 2", len(got))
	}
}

func TestQueryOutOfRangeIsEmpty(t *testing.T) {
	b := newTestBuffer(t0)
	b.Add(trade(t0, 1))

	if got := b.Query(t0.Add(time.Hour), t0.Add(2*time.Hour)); len(got) != 0 {
		t.Fatalf("query returned %d trades, want 0", len(got))
	}
	if b.HasAny(t0.Add(time.Hour), t0.Add(2*time.Hour)) {
		t.Fatal("HasAny should be false outside the buffered range")
	}
}

func TestSweepKeepsCutoffRemovesOlder(t *testing.T) {
	b := newTestBuffer(t0)
	cutoff := t0.Add(-10 * time.Second)

	b.Add(trade(cutoff.Add(-time.Millisecond), 1)) // just too old
	b.Add(trade(cutoff, 2))                        // exactly at cutoff: retained
	b.Add(trade(cutoff.Add(time.Second), 3))

	if n := b.Sweep(); n != 1 {
		t.Fatalf("swept %d trades, want 1", n)
	}
	if b.Len() != 2 {
		t.Fatalf("len = %d after sweep, want 2", b.Len())
	}
	if !b.HasAny(cutoff, cutoff) {
		t.Fatal("trade exactly at cutoff should survive the sweep")
	}
}

func TestSweepFrontTrimsChronologicalArrivals(t *testing.T) {
	b := newTestBuffer(t0)
	for i := 0; i < 20; i++ {
		b.Add(trade(t0.Add(-20*time.Second).Add(time.Duration(i)*time.Second), int64(i)))
	}

	swept := b.Sweep()
	if swept != 10 {
		t.Fatalf("swept %d, want 10", swept)
	}
	if b.Len() != 10 {
		t.Fatalf("len = %d, want 10", b.Len())
	}
}

func TestLastTradeTimeMonotonic(t *testing.T) {
	b := newTestBuffer(t0)

	if _, ok := b.LastTradeTime(); ok {
		t.Fatal("empty buffer should have no last trade time")
	}

	b.Add(trade(t0, 1))
	b.Add(trade(t0.Add(-time.Second), 2)) // older arrival must not move it back

	last, ok := b.LastTradeTime()
	if !ok || !last.Equal(t0) {
		t.Fatalf("last trade time = %v, want %v", last, t0)
	}

	b.Add(trade(t0.Add(time.Second), 3))
	last, _ = b.LastTradeTime()
	if !last.Equal(t0.Add(time.Second)) {
		t.Fatalf("last trade time = %v, want %v", last, t0.Add(time.Second))
	}
}

func TestQueriedRangeMergesAndClamps(t *testing.T) {
	b := newTestBuffer(t0)

	b.UpdateQueriedRange(t0.Add(-30*time.Second), t0.Add(-20*time.Second))
	start, end, ok := b.QueriedRange()
	if !ok || !start.Equal(t0.Add(-30*time.Second)) || !end.Equal(t0.Add(-20*time.Second)) {
		t.Fatalf("range = [%v, %v], ok=%v", start, end, ok)
	}

	// End grows, start extends backward within the retention window.
	b.UpdateQueriedRange(t0.Add(-40*time.Second), t0.Add(-10*time.Second))
	start, end, _ = b.QueriedRange()
	if !start.Equal(t0.Add(-40*time.Second)) || !end.Equal(t0.Add(-10*time.Second)) {
		t.Fatalf("range = [%v, %v]", start, end)
	}

	// A start beyond the retention window is clamped to now - retention.
	b.UpdateQueriedRange(t0.Add(-5*time.Minute), t0.Add(-10*time.Second))
	start, _, _ = b.QueriedRange()
	if !start.Equal(t0.Add(-time.Minute)) {
		t.Fatalf("start = %v, want clamped to %v", start, t0.Add(-time.Minute))
	}

	// End never shrinks.
	b.UpdateQueriedRange(t0.Add(-30*time.Second), t0.Add(-25*time.Second))
	_, end, _ = b.QueriedRange()
	if !end.Equal(t0.Add(-10 * time.Second)) {
		t.Fatalf("end = %v, want unchanged %v", end, t0.Add(-10*time.Second))
	}
}

func TestLateTradeInsideQueriedRangeFiresHook(t *testing.T) {
	b := newTestBuffer(t0)

	var late []model.Trade
	b.OnLateTrade(func(tr model.Trade) { late = append(late, tr) })

	b.UpdateQueriedRange(t0.Add(-30*time.Second), t0.Add(-10*time.Second))

	b.Add(trade(t0.Add(-20*time.Second), 1)) // inside queried range: late
	b.Add(trade(t0.Add(-5*time.Second), 2))  // after range end: fine

	if len(late) != 1 {
		t.Fatalf("late hook fired %d times, want 1", len(late))
	}
	if late[0].Offset != 1 {
		t.Fatalf("late trade offset = %d, want 1", late[0].Offset)
	}
	// Flagged trades are still buffered and queryable.
	if !b.HasAny(t0.Add(-20*time.Second), t0.Add(-20*time.Second)) {
		t.Fatal("late trade should still be buffered")
	}
}
