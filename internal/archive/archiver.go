// Package archive moves aged trades out of the store into gzipped NDJSON
// files partitioned by day. It is opt-in; with no archive directory
// configured the trade collection grows unbounded, which matches the
// default lifecycle of the persistence service.
package archive

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/ndrandal/intraday-pnl/internal/persist"
)

// Archiver exports trades older than maxAge, deleting the oldest archive
// files when the total size exceeds maxBytes.
type Archiver struct {
	db       *mongo.Database
	dir      string
	maxBytes int64
	interval time.Duration
	maxAge   time.Duration
	log      zerolog.Logger
}

// New creates an Archiver.
func New(db *mongo.Database, dir string, maxGB, intervalHours, afterHours int, log zerolog.Logger) *Archiver {
	return &Archiver{
		db:       db,
		dir:      dir,
		maxBytes: int64(maxGB) * 1 << 30,
		interval: time.Duration(intervalHours) * time.Hour,
		maxAge:   time.Duration(afterHours) * time.Hour,
		log:      log.With().Str("component", "trade-archiver").Logger(),
	}
}

// Run starts the periodic archive loop. Blocks until ctx is cancelled.
func (a *Archiver) Run(ctx context.Context) {
	a.log.Info().
		Str("dir", a.dir).
		Int64("max_gb", a.maxBytes>>30).
		Dur("interval", a.interval).
		Dur("age", a.maxAge).
		Msg("trade archiver started")

	a.cycle(ctx)

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.cycle(ctx)
		}
	}
}

func (a *Archiver) cycle(ctx context.Context) {
	cursor, err := a.loadCursor(ctx)
	if err != nil {
		a.log.Error().Err(err).Msg("load cursor")
		return
	}

	cutoff := time.Now().Add(-a.maxAge)
	if !cursor.Before(cutoff) {
		return
	}

	trades, err := a.queryTrades(ctx, cursor, cutoff)
	if err != nil {
		a.log.Error().Err(err).Msg("query aged trades")
		return
	}
	if len(trades) == 0 {
		a.saveCursor(ctx, cutoff)
		return
	}

	for day, batch := range groupByDay(trades) {
		if err := a.writeBatch(day, batch); err != nil {
			a.log.Error().Err(err).Str("day", day).Msg("write archive")
			return
		}
		if err := a.deleteBatch(ctx, batch); err != nil {
			a.log.Error().Err(err).Str("day", day).Msg("delete archived trades")
			return
		}
		a.log.Info().Int("trades", len(batch)).Str("day", day).Msg("archived")
	}

	a.saveCursor(ctx, cutoff)
	a.rotate()
}

// archivedTrade mirrors the stored trade document.
type archivedTrade struct {
	TradeType string    `bson:"trade_type" json:"tradeType"`
	Volume    string    `bson:"volume"     json:"volume"`
	Time      time.Time `bson:"time"       json:"time"`
	Partition int32     `bson:"partition"  json:"partition"`
	Offset    int64     `bson:"offset"     json:"offset"`
}

func (a *Archiver) loadCursor(ctx context.Context) (time.Time, error) {
	var doc struct {
		ValueTime time.Time `bson:"value_time"`
	}
	err := a.db.Collection(persist.CollMeta).FindOne(ctx, bson.M{"key": "archive_cursor"}).Decode(&doc)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return time.Time{}, nil
		}
		return time.Time{}, err
	}
	return doc.ValueTime, nil
}

func (a *Archiver) saveCursor(ctx context.Context, t time.Time) {
	_, err := a.db.Collection(persist.CollMeta).UpdateOne(ctx,
		bson.M{"key": "archive_cursor"},
		bson.M{"$set": bson.M{
			"key":        "archive_cursor",
			"value_time": t,
			"updated_at": time.Now(),
		}},
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		a.log.Error().Err(err).Msg("save cursor")
	}
}

func (a *Archiver) queryTrades(ctx context.Context, from, to time.Time) ([]archivedTrade, error) {
	filter := bson.M{
		"time": bson.M{"$gte": from, "$lt": to},
	}
	opts := options.Find().SetSort(bson.D{{Key: "time", Value: 1}})

	cur, err := a.db.Collection(persist.CollTrades).Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find trades: %w", err)
	}
	defer cur.Close(ctx)

	var trades []archivedTrade
	if err := cur.All(ctx, &trades); err != nil {
		return nil, fmt.Errorf("decode trades: %w", err)
	}
	return trades, nil
}

func groupByDay(trades []archivedTrade) map[string][]archivedTrade {
	batches := make(map[string][]archivedTrade)
	for _, t := range trades {
		day := t.Time.UTC().Format("2006/01/02")
		batches[day] = append(batches[day], t)
	}
	return batches
}

// writeBatch appends trades as one gzipped NDJSON member to
// dir/trades/YYYY/MM/DD.jsonl.gz, so a day exported over several cycles
// keeps every batch.
func (a *Archiver) writeBatch(day string, trades []archivedTrade) error {
	path := filepath.Join(a.dir, "trades", day+".jsonl.gz")

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	enc := json.NewEncoder(gz)
	for _, t := range trades {
		if err := enc.Encode(t); err != nil {
			gz.Close()
			return fmt.Errorf("encode: %w", err)
		}
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("gzip close: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		f.Close()
		return fmt.Errorf("write: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close: %w", err)
	}
	return nil
}

func (a *Archiver) deleteBatch(ctx context.Context, trades []archivedTrade) error {
	keys := make([]bson.M, len(trades))
	for i, t := range trades {
		keys[i] = bson.M{"partition": t.Partition, "offset": t.Offset}
	}

	_, err := a.db.Collection(persist.CollTrades).DeleteMany(ctx, bson.M{"$or": keys})
	if err != nil {
		return fmt.Errorf("delete archived trades: %w", err)
	}
	return nil
}

// rotate deletes the oldest archive files until total size is under maxBytes.
func (a *Archiver) rotate() {
	root := filepath.Join(a.dir, "trades")

	type entry struct {
		path string
		size int64
	}

	var files []entry
	var total int64

	filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		files = append(files, entry{path: path, size: info.Size()})
		total += info.Size()
		return nil
	})

	if total <= a.maxBytes {
		return
	}

	// Path is YYYY/MM/DD, so lexicographic order is chronological.
	sort.Slice(files, func(i, j int) bool {
		return files[i].path < files[j].path
	})

	for _, f := range files {
		if total <= a.maxBytes {
			break
		}
		if err := os.Remove(f.path); err != nil {
			a.log.Warn().Err(err).Str("path", f.path).Msg("rotate remove failed")
			continue
		}
		total -= f.size
		a.log.Info().Str("path", f.path).Int64("bytes", f.size).Msg("rotated out archive file")
	}
}
