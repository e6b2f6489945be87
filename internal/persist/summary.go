package persist

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// Aggregation windows reported by the summary, anchored at the newest
// interval's end time.
const (
	windowMinute = time.Minute
	windowFive   = 5 * time.Minute
)

// WindowPnL is one row of the aggregated PnL view. Times are formatted for
// humans; the pnl is rounded to two decimal places.
type WindowPnL struct {
	StartTime string `json:"startTime"`
	EndTime   string `json:"endTime"`
	PnL       string `json:"pnl"`
}

// PnLReader produces the aggregated PnL summary from the pnls collection.
type PnLReader struct {
	pnls *mongo.Collection
}

// NewPnLReader creates a reader over the pnls collection.
func NewPnLReader(db *mongo.Database) *PnLReader {
	return &PnLReader{pnls: db.Collection(CollPnLs)}
}

// Summary returns three rows: the newest interval's own PnL, and the summed
// PnL of all intervals ending within the last minute and last five minutes
// relative to that newest interval. An empty collection yields an empty
// list.
//
// The store keeps pnl values as decimal strings, which aggregation
// pipelines cannot sum without losing precision, so the five-minute
// superset is fetched and folded in decimal here. Rounding happens only on
// the formatted output.
func (r *PnLReader) Summary(ctx context.Context) ([]WindowPnL, error) {
	var latest pnlDoc
	err := r.pnls.FindOne(ctx, bson.M{},
		options.FindOne().SetSort(bson.D{{Key: "market_end_time", Value: -1}}),
	).Decode(&latest)
	if err == mongo.ErrNoDocuments {
		return []WindowPnL{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find latest pnl: %w", err)
	}

	ref := latest.MarketEndTime

	cursor, err := r.pnls.Find(ctx,
		bson.M{"market_end_time": bson.M{"$gte": ref.Add(-windowFive)}},
		options.Find().SetSort(bson.D{{Key: "market_end_time", Value: 1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("query pnl window: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []pnlDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode pnl window: %w", err)
	}

	lastPnL, err := decimal.NewFromString(latest.PnL)
	if err != nil {
		return nil, fmt.Errorf("stored pnl %q: %w", latest.PnL, err)
	}

	minuteSum := decimal.Zero
	fiveSum := decimal.Zero
	for _, d := range docs {
		v, err := decimal.NewFromString(d.PnL)
		if err != nil {
			return nil, fmt.Errorf("stored pnl %q: %w", d.PnL, err)
		}
		fiveSum = fiveSum.Add(v)
		if !d.MarketEndTime.Before(ref.Add(-windowMinute)) {
			minuteSum = minuteSum.Add(v)
		}
	}

	return []WindowPnL{
		{
			StartTime: formatSummaryTime(latest.MarketStartTime),
			EndTime:   formatSummaryTime(ref),
			PnL:       lastPnL.Round(2).StringFixed(2),
		},
		{
			StartTime: formatSummaryTime(ref.Add(-windowMinute)),
			EndTime:   formatSummaryTime(ref),
			PnL:       minuteSum.Round(2).StringFixed(2),
		},
		{
			StartTime: formatSummaryTime(ref.Add(-windowFive)),
			EndTime:   formatSummaryTime(ref),
			PnL:       fiveSum.Round(2).StringFixed(2),
		},
	}, nil
}

func formatSummaryTime(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04")
}
