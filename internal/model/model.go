package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of a trade.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Trade is a single bus-delivered trade event. The (Partition, Offset) pair
// is globally unique per event; Volume keeps full decimal precision.
type Trade struct {
	Side      Side
	Volume    decimal.Decimal
	Time      time.Time
	Partition int32
	Offset    int64
}

// MarketInterval is one market window with its settlement prices.
// (StartTime, EndTime) is unique in the store, as is (Partition, Offset).
type MarketInterval struct {
	BuyPrice  decimal.Decimal
	SellPrice decimal.Decimal
	StartTime time.Time
	EndTime   time.Time
	Partition int32
	Offset    int64
}

// Contains reports whether t falls inside the interval, inclusive on both
// ends.
func (m MarketInterval) Contains(t time.Time) bool {
	return !t.Before(m.StartTime) && !t.After(m.EndTime)
}
