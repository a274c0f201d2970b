package webmonitor

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/dj-oyu/class-monitor/internal/alert"
	"github.com/dj-oyu/class-monitor/internal/behavior"
)

// EventMessage is the wire shape of one alerted behavior on the event stream.
type EventMessage struct {
	Sequence  uint64         `json:"sequence"`
	Behavior  behavior.Label `json:"behavior"`
	Time      string         `json:"time"`
	Timestamp float64        `json:"timestamp"` // unix seconds
	Message   string         `json:"message"`
}

func newEventMessage(seq uint64, ev alert.Event) EventMessage {
	return EventMessage{
		Sequence:  seq,
		Behavior:  ev.Label,
		Time:      ev.Time.Format(alert.TimeLayout),
		Timestamp: float64(ev.Time.UnixMilli()) / 1000,
		Message:   ev.String(),
	}
}

// serialize encodes payload as JSON and as a base64 protobuf Struct built
// from that same JSON, so both formats carry identical fields.
func serialize(payload any) (*SerializedEvent, error) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("json marshal: %w", err)
	}

	var fields map[string]any
	if err := json.Unmarshal(jsonData, &fields); err != nil {
		return nil, fmt.Errorf("payload is not a JSON object: %w", err)
	}
	st, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("build struct: %w", err)
	}
	pbData, err := proto.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("protobuf marshal: %w", err)
	}

	return &SerializedEvent{
		JSONData:     jsonData,
		ProtobufData: []byte(base64.StdEncoding.EncodeToString(pbData)),
	}, nil
}

func serializeEvent(seq uint64, ev alert.Event) (*SerializedEvent, error) {
	return serialize(newEventMessage(seq, ev))
}

func serializeStatus(st any) (*SerializedEvent, error) {
	return serialize(struct {
		Status    any     `json:"status"`
		Timestamp float64 `json:"timestamp"`
	}{st, float64(time.Now().UnixMilli()) / 1000})
}

// DecodeProtobufEvent reverses the SSE protobuf encoding. Used by clients
// written in Go and by tests.
func DecodeProtobufEvent(data []byte) (*structpb.Struct, error) {
	raw, err := base64.StdEncoding.DecodeString(string(data))
	if err != nil {
		return nil, fmt.Errorf("base64 decode: %w", err)
	}
	st := &structpb.Struct{}
	if err := proto.Unmarshal(raw, st); err != nil {
		return nil, fmt.Errorf("protobuf unmarshal: %w", err)
	}
	return st, nil
}
