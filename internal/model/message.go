package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Bus message contracts. Both topics carry UTF-8 JSON with a messageType
// discriminator; prices and volumes travel as decimal strings so no
// precision is lost between producer and store.

const (
	MessageTypeTrades = "trades"
	MessageTypeMarket = "market"
)

// ErrMalformed wraps every parse or validation failure so consumers can
// route the message to their dead-letter handling.
var ErrMalformed = errors.New("malformed message")

// TradeMessage is the wire form of a trade event.
type TradeMessage struct {
	MessageType string `json:"messageType"`
	TradeType   string `json:"tradeType"`
	Volume      string `json:"volume"`
	Time        string `json:"time"`
}

// MarketMessage is the wire form of a market interval.
type MarketMessage struct {
	MessageType string `json:"messageType"`
	BuyPrice    string `json:"buyPrice"`
	SellPrice   string `json:"sellPrice"`
	StartTime   string `json:"startTime"`
	EndTime     string `json:"endTime"`
}

// ParseTrade decodes and validates a trades-topic payload. The partition and
// offset come from the bus envelope, not the payload.
func ParseTrade(value []byte, partition int32, offset int64) (Trade, error) {
	var msg TradeMessage
	if err := json.Unmarshal(value, &msg); err != nil {
		return Trade{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if msg.MessageType != MessageTypeTrades {
		return Trade{}, fmt.Errorf("%w: messageType %q", ErrMalformed, msg.MessageType)
	}

	side := Side(msg.TradeType)
	if side != SideBuy && side != SideSell {
		return Trade{}, fmt.Errorf("%w: tradeType %q", ErrMalformed, msg.TradeType)
	}

	volume, err := decimal.NewFromString(msg.Volume)
	if err != nil {
		return Trade{}, fmt.Errorf("%w: volume %q", ErrMalformed, msg.Volume)
	}
	if !volume.IsPositive() {
		return Trade{}, fmt.Errorf("%w: volume %s not positive", ErrMalformed, msg.Volume)
	}

	ts, err := time.Parse(time.RFC3339, msg.Time)
	if err != nil {
		return Trade{}, fmt.Errorf("%w: time %q", ErrMalformed, msg.Time)
	}

	return Trade{
		Side:      side,
		Volume:    volume,
		Time:      ts,
		Partition: partition,
		Offset:    offset,
	}, nil
}

// ParseMarket decodes and validates a market-topic payload.
func ParseMarket(value []byte, partition int32, offset int64) (MarketInterval, error) {
	var msg MarketMessage
	if err := json.Unmarshal(value, &msg); err != nil {
		return MarketInterval{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if msg.MessageType != MessageTypeMarket {
		return MarketInterval{}, fmt.Errorf("%w: messageType %q", ErrMalformed, msg.MessageType)
	}

	buy, err := decimal.NewFromString(msg.BuyPrice)
	if err != nil {
		return MarketInterval{}, fmt.Errorf("%w: buyPrice %q", ErrMalformed, msg.BuyPrice)
	}
	sell, err := decimal.NewFromString(msg.SellPrice)
	if err != nil {
		return MarketInterval{}, fmt.Errorf("%w: sellPrice %q", ErrMalformed, msg.SellPrice)
	}

	start, err := time.Parse(time.RFC3339, msg.StartTime)
	if err != nil {
		return MarketInterval{}, fmt.Errorf("%w: startTime %q", ErrMalformed, msg.StartTime)
	}
	end, err := time.Parse(time.RFC3339, msg.EndTime)
	if err != nil {
		return MarketInterval{}, fmt.Errorf("%w: endTime %q", ErrMalformed, msg.EndTime)
	}
	if !end.After(start) {
		return MarketInterval{}, fmt.Errorf("%w: endTime %s not after startTime %s", ErrMalformed, msg.EndTime, msg.StartTime)
	}

	return MarketInterval{
		BuyPrice:  buy,
		SellPrice: sell,
		StartTime: start,
		EndTime:   end,
		Partition: partition,
		Offset:    offset,
	}, nil
}
