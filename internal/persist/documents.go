package persist

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ndrandal/intraday-pnl/internal/model"
)

// Store documents. Volumes, prices and derived monetary values are kept as
// decimal strings so the store round-trips exactly what the pipeline
// computed.

type tradeDoc struct {
	TradeType string    `bson:"trade_type"`
	Volume    string    `bson:"volume"`
	Time      time.Time `bson:"time"`
	Partition int32     `bson:"partition"`
	Offset    int64     `bson:"offset"`
}

type marketDoc struct {
	BuyPrice  string    `bson:"buy_price"`
	SellPrice string    `bson:"sell_price"`
	StartTime time.Time `bson:"start_time"`
	EndTime   time.Time `bson:"end_time"`
	Partition int32     `bson:"partition"`
	Offset    int64     `bson:"offset"`
}

type pnlDoc struct {
	MarketStartTime  time.Time `bson:"market_start_time"`
	MarketEndTime    time.Time `bson:"market_end_time"`
	BuyPrice         string    `bson:"buy_price"`
	SellPrice        string    `bson:"sell_price"`
	TotalBuyVolume   string    `bson:"total_buy_volume"`
	TotalSellVolume  string    `bson:"total_sell_volume"`
	TotalBuyCost     string    `bson:"total_buy_cost"`
	TotalSellRevenue string    `bson:"total_sell_revenue"`
	TotalFees        string    `bson:"total_fees"`
	PnL              string    `bson:"pnl"`
	CreatedAt        time.Time `bson:"created_at"`
}

func docFromTrade(t model.Trade) tradeDoc {
	return tradeDoc{
		TradeType: string(t.Side),
		Volume:    t.Volume.String(),
		Time:      t.Time.UTC(),
		Partition: t.Partition,
		Offset:    t.Offset,
	}
}

func (d tradeDoc) toTrade() (model.Trade, error) {
	volume, err := decimal.NewFromString(d.Volume)
	if err != nil {
		return model.Trade{}, fmt.Errorf("trade volume %q: %w", d.Volume, err)
	}
	return model.Trade{
		Side:      model.Side(d.TradeType),
		Volume:    volume,
		Time:      d.Time,
		Partition: d.Partition,
		Offset:    d.Offset,
	}, nil
}

func docFromMarket(m model.MarketInterval) marketDoc {
	return marketDoc{
		BuyPrice:  m.BuyPrice.String(),
		SellPrice: m.SellPrice.String(),
		StartTime: m.StartTime.UTC(),
		EndTime:   m.EndTime.UTC(),
		Partition: m.Partition,
		Offset:    m.Offset,
	}
}

func docFromPnL(p model.PnL) pnlDoc {
	return pnlDoc{
		MarketStartTime:  p.MarketStartTime.UTC(),
		MarketEndTime:    p.MarketEndTime.UTC(),
		BuyPrice:         p.BuyPrice.String(),
		SellPrice:        p.SellPrice.String(),
		TotalBuyVolume:   p.TotalBuyVolume.String(),
		TotalSellVolume:  p.TotalSellVolume.String(),
		TotalBuyCost:     p.TotalBuyCost.String(),
		TotalSellRevenue: p.TotalSellRevenue.String(),
		TotalFees:        p.TotalFees.String(),
		PnL:              p.PnL.String(),
		CreatedAt:        p.CreatedAt.UTC(),
	}
}
