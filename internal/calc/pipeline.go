package calc

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/ndrandal/intraday-pnl/internal/bus"
	"github.com/ndrandal/intraday-pnl/internal/metrics"
	"github.com/ndrandal/intraday-pnl/internal/model"
)

// TradeFetcher returns the trades inside an interval. Implemented by the
// trade memory service's RPC client.
type TradeFetcher interface {
	GetTradesForPeriod(ctx context.Context, start, end time.Time) ([]model.Trade, error)
}

// MarketWriter is the store surface the pipeline writes through.
type MarketWriter interface {
	Exists(ctx context.Context, start, end time.Time) (bool, error)
	SaveWithPnL(ctx context.Context, m model.MarketInterval, p model.PnL) (created bool, err error)
}

// Outcome of processing one interval.
type Outcome string

const (
	OutcomeWritten Outcome = "written"
	OutcomeSkipped Outcome = "skipped"
)

// Pipeline processes market interval messages: fetch trades, compute PnL,
// write atomically, acknowledge in order. The bus handler never blocks;
// each interval runs in its own goroutine.
type Pipeline struct {
	fetcher TradeFetcher
	store   MarketWriter
	tracker *Tracker
	recent  *lru.Cache[intervalKey, struct{}]
	fee     decimal.Decimal

	now          func() time.Time
	fetchBackoff func() backoff.BackOff
	log          zerolog.Logger
}

// intervalKey identifies an interval by its window.
type intervalKey struct {
	start int64
	end   int64
}

func keyOf(m model.MarketInterval) intervalKey {
	return intervalKey{start: m.StartTime.UnixNano(), end: m.EndTime.UnixNano()}
}

// New creates a pipeline with a recently-processed cache of bufferSize
// intervals.
func New(fetcher TradeFetcher, store MarketWriter, fee decimal.Decimal, bufferSize int, log zerolog.Logger) (*Pipeline, error) {
	recent, err := lru.New[intervalKey, struct{}](bufferSize)
	if err != nil {
		return nil, err
	}
	return &Pipeline{
		fetcher:      fetcher,
		store:        store,
		tracker:      NewTracker(log),
		recent:       recent,
		fee:          fee,
		now:          time.Now,
		fetchBackoff: defaultFetchBackoff,
		log:          log.With().Str("component", "calc-pipeline").Logger(),
	}, nil
}

// Tracker exposes the offset tracker, mainly for inspection in tests.
func (p *Pipeline) Tracker() *Tracker {
	return p.tracker
}

// Handler returns the bus handler for the market topic.
func (p *Pipeline) Handler() bus.Handler {
	return func(ctx context.Context, commit bus.Committer, msg *bus.Message) {
		metrics.MessagesConsumed.WithLabelValues(msg.Topic).Inc()

		commitFn := func(partition int32, offset int64) error {
			if err := commit.CommitOffset(msg.Topic, partition, offset); err != nil {
				return err
			}
			metrics.OffsetCommits.WithLabelValues(msg.Topic).Inc()
			return nil
		}

		m, err := model.ParseMarket(msg.Value, msg.Partition, msg.Offset)
		if err != nil {
			metrics.MessagesDropped.WithLabelValues(msg.Topic).Inc()
			p.log.Warn().Err(err).
				Int32("partition", msg.Partition).
				Int64("offset", msg.Offset).
				Msg("[DLQ] dropping market message")
			// Record the offset as done so the ordered commit run can pass
			// the gap; otherwise the partition would stall here forever.
			if p.tracker.Begin(msg.Partition, msg.Offset) {
				p.tracker.Complete(msg.Partition, msg.Offset, commitFn)
			}
			return
		}

		if !p.tracker.Begin(m.Partition, m.Offset) {
			p.log.Debug().
				Int32("partition", m.Partition).
				Int64("offset", m.Offset).
				Msg("duplicate delivery, already tracked")
			return
		}

		go p.run(ctx, m, commitFn)
	}
}

func (p *Pipeline) run(ctx context.Context, m model.MarketInterval, commitFn CommitFunc) {
	outcome, err := p.Process(ctx, m)
	if err != nil {
		p.tracker.Fail(m.Partition, m.Offset)
		metrics.IntervalsProcessed.WithLabelValues("failed").Inc()
		p.log.Error().Err(err).
			Time("start", m.StartTime).
			Time("end", m.EndTime).
			Int32("partition", m.Partition).
			Int64("offset", m.Offset).
			Msg("interval processing failed, leaving offset uncommitted")
		return
	}

	metrics.IntervalsProcessed.WithLabelValues(string(outcome)).Inc()
	p.tracker.Complete(m.Partition, m.Offset, commitFn)
}

// Process computes and persists the PnL for one interval. Redelivered or
// concurrently written intervals come back as OutcomeSkipped; both leave
// exactly one market and one PnL record behind.
func (p *Pipeline) Process(ctx context.Context, m model.MarketInterval) (Outcome, error) {
	key := keyOf(m)
	if p.recent.Contains(key) {
		return OutcomeSkipped, nil
	}

	exists, err := p.store.Exists(ctx, m.StartTime, m.EndTime)
	if err != nil {
		return "", err
	}
	if exists {
		p.recent.Add(key, struct{}{})
		return OutcomeSkipped, nil
	}

	trades, err := p.fetchTrades(ctx, m)
	if err != nil {
		return "", err
	}

	pnl := ComputePnL(m, trades, p.fee, p.now())

	created, err := p.store.SaveWithPnL(ctx, m, pnl)
	if err != nil {
		return "", err
	}
	p.recent.Add(key, struct{}{})

	if !created {
		return OutcomeSkipped, nil
	}

	p.log.Info().
		Time("start", m.StartTime).
		Time("end", m.EndTime).
		Int("trades", len(trades)).
		Str("pnl", pnl.PnL.String()).
		Msg("interval written")
	return OutcomeWritten, nil
}

func (p *Pipeline) fetchTrades(ctx context.Context, m model.MarketInterval) ([]model.Trade, error) {
	var trades []model.Trade
	op := func() error {
		var err error
		trades, err = p.fetcher.GetTradesForPeriod(ctx, m.StartTime, m.EndTime)
		return err
	}
	notify := func(err error, next time.Duration) {
		p.log.Warn().Err(err).Dur("retry_in", next).
			Time("start", m.StartTime).
			Time("end", m.EndTime).
			Msg("trade fetch failed")
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(p.fetchBackoff(), ctx), notify); err != nil {
		return nil, err
	}
	return trades, nil
}

// defaultFetchBackoff doubles from 100ms for five attempts total.
func defaultFetchBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxInterval = 30 * time.Second
	return backoff.WithMaxRetries(b, 4)
}
