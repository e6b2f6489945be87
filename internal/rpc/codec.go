package rpc

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// The trades service speaks JSON over gRPC. Registering the codec once
// makes it available to every server by content-subtype; clients opt in
// with grpc.CallContentSubtype(codecName).
const codecName = "json"

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string {
	return codecName
}

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
