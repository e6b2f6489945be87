package rpc

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/ndrandal/intraday-pnl/internal/model"
)

// TradesClient calls a TradesService endpoint.
type TradesClient struct {
	cc *grpc.ClientConn
}

// NewTradesClient creates a client for the given address. The connection is
// lazy; failures surface on the first call.
func NewTradesClient(addr string) (*TradesClient, error) {
	cc, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName)),
	)
	if err != nil {
		return nil, err
	}
	return &TradesClient{cc: cc}, nil
}

// Close releases the connection.
func (c *TradesClient) Close() error {
	return c.cc.Close()
}

// GetTradesForPeriod fetches all trades in [start, end], in the order the
// serving backend returns them (see GetTradesResponse).
func (c *TradesClient) GetTradesForPeriod(ctx context.Context, start, end time.Time) ([]model.Trade, error) {
	req := &GetTradesRequest{
		StartTime: start.Format(time.RFC3339Nano),
		EndTime:   end.Format(time.RFC3339Nano),
	}
	resp := new(GetTradesResponse)
	if err := c.cc.Invoke(ctx, methodGetTradesForPeriod, req, resp); err != nil {
		return nil, err
	}
	return TradesFromRecords(resp.Trades)
}
