// Package rpc defines the TradesService gRPC surface shared by the trade
// memory and trade persistence services. The service has a single unary
// method; the descriptor is maintained by hand against the wire contract.
package rpc

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/ndrandal/intraday-pnl/internal/model"
)

const (
	// ServiceName is the fully qualified gRPC service name.
	ServiceName = "trades.TradesService"

	methodGetTradesForPeriod = "/trades.TradesService/GetTradesForPeriod"
)

// GetTradesRequest asks for all trades with startTime <= time <= endTime.
// Both bounds are RFC 3339 strings.
type GetTradesRequest struct {
	StartTime string `json:"startTime"`
	EndTime   string `json:"endTime"`
}

// TradeRecord is one trade on the wire.
type TradeRecord struct {
	TradeType string `json:"tradeType"`
	Volume    string `json:"volume"`
	Time      string `json:"time"`
}

// GetTradesResponse carries the matching trades. The persistence service
// returns them time ascending; the memory service returns them in buffer
// arrival order, which is only roughly chronological.
type GetTradesResponse struct {
	Trades []TradeRecord `json:"trades"`
}

// TradesServer is the service interface implemented by both backends.
type TradesServer interface {
	GetTradesForPeriod(ctx context.Context, req *GetTradesRequest) (*GetTradesResponse, error)
}

// RegisterTradesServer registers srv on a gRPC server.
func RegisterTradesServer(s grpc.ServiceRegistrar, srv TradesServer) {
	s.RegisterService(&tradesServiceDesc, srv)
}

var tradesServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*TradesServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "GetTradesForPeriod",
			Handler:    getTradesForPeriodHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "trades",
}

func getTradesForPeriodHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(GetTradesRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(TradesServer).GetTradesForPeriod(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: methodGetTradesForPeriod,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(TradesServer).GetTradesForPeriod(ctx, req.(*GetTradesRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// TradeSource is the backend behind a trades server: the range-query router
// in the memory service, the store reader in the persistence service.
type TradeSource interface {
	GetTradesForPeriod(ctx context.Context, start, end time.Time) ([]model.Trade, error)
}

// Server adapts a TradeSource to the wire contract. Backend failures map to
// codes.Internal.
type Server struct {
	src TradeSource
}

// NewServer wraps a TradeSource.
func NewServer(src TradeSource) *Server {
	return &Server{src: src}
}

// GetTradesForPeriod implements TradesServer.
func (s *Server) GetTradesForPeriod(ctx context.Context, req *GetTradesRequest) (*GetTradesResponse, error) {
	start, err := time.Parse(time.RFC3339, req.StartTime)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "startTime: %v", err)
	}
	end, err := time.Parse(time.RFC3339, req.EndTime)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "endTime: %v", err)
	}

	trades, err := s.src.GetTradesForPeriod(ctx, start, end)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "query trades: %v", err)
	}

	return &GetTradesResponse{Trades: RecordsFromTrades(trades)}, nil
}

// RecordsFromTrades converts domain trades to wire records.
func RecordsFromTrades(trades []model.Trade) []TradeRecord {
	out := make([]TradeRecord, len(trades))
	for i, t := range trades {
		out[i] = TradeRecord{
			TradeType: string(t.Side),
			Volume:    t.Volume.String(),
			Time:      t.Time.Format(time.RFC3339Nano),
		}
	}
	return out
}

// TradesFromRecords converts wire records back to domain trades.
func TradesFromRecords(records []TradeRecord) ([]model.Trade, error) {
	out := make([]model.Trade, len(records))
	for i, r := range records {
		volume, err := decimal.NewFromString(r.Volume)
		if err != nil {
			return nil, status.Errorf(codes.Internal, "trade volume %q: %v", r.Volume, err)
		}
		ts, err := time.Parse(time.RFC3339, r.Time)
		if err != nil {
			return nil, status.Errorf(codes.Internal, "trade time %q: %v", r.Time, err)
		}
		out[i] = model.Trade{
			Side:   model.Side(r.TradeType),
			Volume: volume,
			Time:   ts,
		}
	}
	return out, nil
}
