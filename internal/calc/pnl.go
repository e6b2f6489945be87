// Package calc consumes market intervals, joins them against the trades
// that fell inside them, and writes the derived PnL records. Offsets are
// acknowledged to the bus strictly in order per partition even though
// intervals are processed concurrently.
package calc

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/ndrandal/intraday-pnl/internal/model"
)

// ComputePnL derives the PnL record for one market interval. All arithmetic
// is exact decimal:
//
//	totalBuyCost     = buyVolume·buyPrice + buyVolume·fee
//	totalSellRevenue = sellVolume·sellPrice − sellVolume·fee
//	totalFees        = (buyVolume + sellVolume)·fee
//	pnl              = totalSellRevenue − totalBuyCost
//
// An interval with no trades yields all-zero totals.
func ComputePnL(m model.MarketInterval, trades []model.Trade, fee decimal.Decimal, now time.Time) model.PnL {
	buyVolume := decimal.Zero
	sellVolume := decimal.Zero

	for _, t := range trades {
		switch t.Side {
		case model.SideBuy:
			buyVolume = buyVolume.Add(t.Volume)
		case model.SideSell:
			sellVolume = sellVolume.Add(t.Volume)
		}
	}

	buyCost := buyVolume.Mul(m.BuyPrice).Add(buyVolume.Mul(fee))
	sellRevenue := sellVolume.Mul(m.SellPrice).Sub(sellVolume.Mul(fee))
	totalFees := buyVolume.Add(sellVolume).Mul(fee)

	return model.PnL{
		MarketStartTime:  m.StartTime,
		MarketEndTime:    m.EndTime,
		BuyPrice:         m.BuyPrice,
		SellPrice:        m.SellPrice,
		TotalBuyVolume:   buyVolume,
		TotalSellVolume:  sellVolume,
		TotalBuyCost:     buyCost,
		TotalSellRevenue: sellRevenue,
		TotalFees:        totalFees,
		PnL:              sellRevenue.Sub(buyCost),
		CreatedAt:        now,
	}
}
