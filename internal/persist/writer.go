package persist

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ndrandal/intraday-pnl/internal/bus"
	"github.com/ndrandal/intraday-pnl/internal/metrics"
	"github.com/ndrandal/intraday-pnl/internal/model"
)

// TradeSink is the bulk-upsert surface of the trade collection. successful
// counts inserts plus idempotent matches; a partial failure returns a
// *PartialWriteError alongside the count of operations that did land.
type TradeSink interface {
	BulkUpsert(ctx context.Context, trades []model.Trade) (successful int64, err error)
}

// PartialWriteError reports a bulk write where some operations failed.
type PartialWriteError struct {
	Successful int64
	Err        error
}

func (e *PartialWriteError) Error() string {
	return fmt.Sprintf("partial bulk write (%d successful): %v", e.Successful, e.Err)
}

func (e *PartialWriteError) Unwrap() error {
	return e.Err
}

// TradeWriter accumulates bus-delivered trades and flushes them to the
// store on a timer. Offsets are committed loosely: after any batch with at
// least one successful write, the highest offset seen per partition is
// acknowledged. A silently failed operation below that offset will not be
// redelivered; that risk is accepted because bulk-write failures are rare
// and the store is reconciled externally.
type TradeWriter struct {
	mu      sync.Mutex
	pending []model.Trade
	highest map[int32]int64
	commit  bus.Committer

	sink     TradeSink
	topic    string
	interval time.Duration
	log      zerolog.Logger
}

// NewTradeWriter creates a writer flushing to sink every interval.
func NewTradeWriter(sink TradeSink, topic string, interval time.Duration, log zerolog.Logger) *TradeWriter {
	return &TradeWriter{
		highest:  make(map[int32]int64),
		sink:     sink,
		topic:    topic,
		interval: interval,
		log:      log.With().Str("component", "trade-writer").Logger(),
	}
}

// Observe records a delivery's offset and the session committer, whether or
// not the payload parses. Malformed messages thereby still advance the
// commit point with the next successful batch.
func (w *TradeWriter) Observe(partition int32, offset int64, commit bus.Committer) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if cur, ok := w.highest[partition]; !ok || offset > cur {
		w.highest[partition] = offset
	}
	w.commit = commit
}

// Add queues a parsed trade for the next flush.
func (w *TradeWriter) Add(t model.Trade) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending = append(w.pending, t)
}

// Pending returns the number of queued trades.
func (w *TradeWriter) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}

// Flush writes the queued batch and commits offsets.
//
// Outcomes:
//   - clean write, successful > 0: commit highest+1 per partition
//   - partial failure, successful > 0: commit anyway (loose policy); the
//     failed operations are upserts, so any redelivery is harmless
//   - partial failure, successful == 0: requeue the batch, no commit
//   - commit failure or any other write error: requeue the batch
func (w *TradeWriter) Flush(ctx context.Context) error {
	w.mu.Lock()
	toFlush := w.pending
	w.pending = nil
	highest := make(map[int32]int64, len(w.highest))
	for p, o := range w.highest {
		highest[p] = o
	}
	commit := w.commit
	w.mu.Unlock()

	if len(toFlush) == 0 {
		metrics.TradeFlushes.WithLabelValues("empty").Inc()
		return nil
	}

	successful, err := w.sink.BulkUpsert(ctx, toFlush)

	var partial *PartialWriteError
	switch {
	case err == nil, errors.As(err, &partial) && successful > 0:
		if partial != nil {
			w.log.Warn().Err(partial.Err).
				Int64("successful", successful).
				Int("batch", len(toFlush)).
				Msg("partial bulk write, committing highest offsets anyway")
			metrics.TradeFlushes.WithLabelValues("partial").Inc()
		} else {
			metrics.TradeFlushes.WithLabelValues("ok").Inc()
		}
		metrics.TradesFlushed.Add(float64(successful))

		if successful > 0 {
			if cerr := w.commitHighest(commit, highest); cerr != nil {
				w.requeue(toFlush)
				metrics.TradeFlushes.WithLabelValues("failed").Inc()
				return fmt.Errorf("commit offsets: %w", cerr)
			}
		}
		return nil

	case partial != nil:
		// Partial failure with nothing written: retry the whole batch.
		w.requeue(toFlush)
		metrics.TradeFlushes.WithLabelValues("failed").Inc()
		return err

	default:
		w.requeue(toFlush)
		metrics.TradeFlushes.WithLabelValues("failed").Inc()
		return fmt.Errorf("bulk upsert: %w", err)
	}
}

func (w *TradeWriter) commitHighest(commit bus.Committer, highest map[int32]int64) error {
	if commit == nil {
		return errors.New("no consumer session observed")
	}
	for partition, offset := range highest {
		if err := commit.CommitOffset(w.topic, partition, offset+1); err != nil {
			return err
		}
		metrics.OffsetCommits.WithLabelValues(w.topic).Inc()
	}
	return nil
}

// requeue puts a failed batch back at the front of pending, ahead of trades
// that arrived during the flush.
func (w *TradeWriter) requeue(toFlush []model.Trade) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending = append(toFlush, w.pending...)
}

// Run flushes on the batch interval until ctx is cancelled, then performs
// one final flush so shutdown does not strand the pending batch.
func (w *TradeWriter) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := w.Flush(shutdownCtx); err != nil {
				w.log.Error().Err(err).Msg("final flush failed")
			}
			cancel()
			return
		case <-ticker.C:
			if err := w.Flush(ctx); err != nil {
				w.log.Error().Err(err).Int("requeued", w.Pending()).Msg("flush failed, batch requeued")
			}
		}
	}
}

// NewConsumeHandler returns the bus handler feeding the writer from the
// trades topic.
func NewConsumeHandler(w *TradeWriter, log zerolog.Logger) bus.Handler {
	log = log.With().Str("component", "trade-persistence-ingest").Logger()

	return func(ctx context.Context, commit bus.Committer, msg *bus.Message) {
		metrics.MessagesConsumed.WithLabelValues(msg.Topic).Inc()
		w.Observe(msg.Partition, msg.Offset, commit)

		t, err := model.ParseTrade(msg.Value, msg.Partition, msg.Offset)
		if err != nil {
			metrics.MessagesDropped.WithLabelValues(msg.Topic).Inc()
			log.Warn().Err(err).
				Int32("partition", msg.Partition).
				Int64("offset", msg.Offset).
				Msg("[DLQ] dropping trade message")
			return
		}
		w.Add(t)
	}
}
