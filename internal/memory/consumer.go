package memory

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/ndrandal/intraday-pnl/internal/bus"
	"github.com/ndrandal/intraday-pnl/internal/metrics"
	"github.com/ndrandal/intraday-pnl/internal/model"
)

// NewIngestHandler returns the bus handler that feeds the buffer from the
// trades topic. Buffering is cheap, so every delivery is acknowledged
// immediately; durability is the persistence service's job.
func NewIngestHandler(buf *Buffer, log zerolog.Logger) bus.Handler {
	log = log.With().Str("component", "trade-memory-ingest").Logger()

	return func(ctx context.Context, commit bus.Committer, msg *bus.Message) {
		metrics.MessagesConsumed.WithLabelValues(msg.Topic).Inc()

		t, err := model.ParseTrade(msg.Value, msg.Partition, msg.Offset)
		if err != nil {
			metrics.MessagesDropped.WithLabelValues(msg.Topic).Inc()
			log.Warn().Err(err).
				Int32("partition", msg.Partition).
				Int64("offset", msg.Offset).
				Msg("[DLQ] dropping trade message")
		} else {
			buf.Add(t)
		}

		if err := commit.CommitOffset(msg.Topic, msg.Partition, msg.Offset+1); err != nil {
			log.Warn().Err(err).Msg("offset commit failed")
			return
		}
		metrics.OffsetCommits.WithLabelValues(msg.Topic).Inc()
	}
}
