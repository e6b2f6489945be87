package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// PnL is the profit-and-loss record derived from one market interval and
// the trades inside it. All monetary fields are exact decimals; nothing is
// rounded before the aggregated query formats its output.
type PnL struct {
	MarketStartTime  time.Time
	MarketEndTime    time.Time
	BuyPrice         decimal.Decimal
	SellPrice        decimal.Decimal
	TotalBuyVolume   decimal.Decimal
	TotalSellVolume  decimal.Decimal
	TotalBuyCost     decimal.Decimal
	TotalSellRevenue decimal.Decimal
	TotalFees        decimal.Decimal
	PnL              decimal.Decimal
	CreatedAt        time.Time
}
