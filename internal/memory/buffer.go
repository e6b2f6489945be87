// Package memory holds recent trades in RAM. The buffer is append-heavy:
// trades arrive roughly chronologically per partition, so retention can
// front-trim instead of scanning, and range queries walk the whole slice.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ndrandal/intraday-pnl/internal/metrics"
	"github.com/ndrandal/intraday-pnl/internal/model"
)

// Buffer is a bounded-retention trade buffer with range queries. It also
// tracks a single merged "queried range" so trades that arrive after their
// window was already served can be flagged.
type Buffer struct {
	mu        sync.Mutex
	trades    []model.Trade
	lastTrade time.Time
	hasLast   bool

	qStart   time.Time
	qEnd     time.Time
	hasRange bool

	retention        time.Duration
	queriedRetention time.Duration

	now    func() time.Time
	onLate func(model.Trade)
	log    zerolog.Logger
}

// NewBuffer creates a buffer that keeps trades for retention after their
// trade time and remembers served query ranges for queriedRetention.
func NewBuffer(retention, queriedRetention time.Duration, log zerolog.Logger) *Buffer {
	return &Buffer{
		retention:        retention,
		queriedRetention: queriedRetention,
		now:              time.Now,
		log:              log.With().Str("component", "trade-memory").Logger(),
	}
}

// OnLateTrade installs a hook invoked for every trade that lands inside the
// already-queried range. With no hook installed, such trades are only
// logged and counted in the late-trades metric.
func (b *Buffer) OnLateTrade(fn func(model.Trade)) {
	b.mu.Lock()
	b.onLate = fn
	b.mu.Unlock()
}

// Add appends a trade and advances the last-seen trade time. A trade whose
// time falls inside the merged queried range has possibly been missed by an
// interval that was already answered; it is flagged but still buffered.
func (b *Buffer) Add(t model.Trade) {
	b.mu.Lock()
	b.trades = append(b.trades, t)
	if !b.hasLast || t.Time.After(b.lastTrade) {
		b.lastTrade = t.Time
		b.hasLast = true
	}
	late := b.hasRange && !t.Time.Before(b.qStart) && !t.Time.After(b.qEnd)
	hook := b.onLate
	size := len(b.trades)
	b.mu.Unlock()

	metrics.MemoryBufferTrades.Set(float64(size))

	if late {
		metrics.LateTrades.Inc()
		b.log.Warn().
			Time("trade_time", t.Time).
			Int32("partition", t.Partition).
			Int64("offset", t.Offset).
			Msg("possible out-of-order trade: inside already queried range")
		if hook != nil {
			hook(t)
		}
	}
}

// Query returns all buffered trades with start <= time <= end.
func (b *Buffer) Query(start, end time.Time) []model.Trade {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []model.Trade
	for _, t := range b.trades {
		if !t.Time.Before(start) && !t.Time.After(end) {
			out = append(out, t)
		}
	}
	return out
}

// HasAny reports whether any buffered trade falls in [start, end].
func (b *Buffer) HasAny(start, end time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, t := range b.trades {
		if !t.Time.Before(start) && !t.Time.After(end) {
			return true
		}
	}
	return false
}

// LastTradeTime returns the newest trade time observed, if any. The value
// is monotonically non-decreasing.
func (b *Buffer) LastTradeTime() (time.Time, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastTrade, b.hasLast
}

// UpdateQueriedRange merges [start, end] into the tracked range. The end
// only grows; the start is clamped forward so the range never reaches
// further back than the queried-range retention window.
func (b *Buffer) UpdateQueriedRange(start, end time.Time) {
	cutoff := b.now().Add(-b.queriedRetention)

	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.hasRange {
		b.qStart, b.qEnd = start, end
		b.hasRange = true
	} else {
		if start.Before(b.qStart) {
			b.qStart = start
		}
		if end.After(b.qEnd) {
			b.qEnd = end
		}
	}
	if b.qStart.Before(cutoff) {
		b.qStart = cutoff
	}
}

// QueriedRange returns the merged range, if one has been recorded.
func (b *Buffer) QueriedRange() (start, end time.Time, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.qStart, b.qEnd, b.hasRange
}

// Sweep drops trades older than the retention window and returns how many
// were removed. Trades exactly at the cutoff are retained. Arrival order is
// roughly chronological, so trimming stops at the first young-enough trade.
func (b *Buffer) Sweep() int {
	cutoff := b.now().Add(-b.retention)

	b.mu.Lock()
	defer b.mu.Unlock()

	n := 0
	for n < len(b.trades) && b.trades[n].Time.Before(cutoff) {
		n++
	}
	if n > 0 {
		b.trades = append(b.trades[:0:0], b.trades[n:]...)
	}
	metrics.MemoryBufferTrades.Set(float64(len(b.trades)))
	return n
}

// Len returns the number of buffered trades.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.trades)
}

// Run sweeps on the given interval until ctx is cancelled.
func (b *Buffer) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := b.Sweep(); n > 0 {
				b.log.Debug().Int("swept", n).Int("remaining", b.Len()).Msg("retention sweep")
			}
		}
	}
}
