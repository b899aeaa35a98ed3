package ws

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gorilla/websocket"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// Format selects how events are framed for a client.
type Format string

const (
	FormatJSON  Format = "json"
	FormatProto Format = "proto"
)

// ParseFormat accepts "", "json" or "proto".
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(FormatJSON):
		return FormatJSON, nil
	case string(FormatProto):
		return FormatProto, nil
	default:
		return "", fmt.Errorf("ws: unknown format %q", s)
	}
}

// encodeFrame turns a JSON event into a websocket frame. Proto clients get
// a binary google.protobuf.Struct with the same fields.
func encodeFrame(f Format, payload []byte) (int, []byte, error) {
	if f != FormatProto {
		return websocket.TextMessage, payload, nil
	}
	var fields map[string]any
	if err := json.Unmarshal(payload, &fields); err != nil {
		return 0, nil, fmt.Errorf("ws: decode payload: %w", err)
	}
	s, err := structpb.NewStruct(fields)
	if err != nil {
		return 0, nil, fmt.Errorf("ws: build struct: %w", err)
	}
	data, err := proto.Marshal(s)
	if err != nil {
		return 0, nil, fmt.Errorf("ws: marshal proto: %w", err)
	}
	return websocket.BinaryMessage, data, nil
}
