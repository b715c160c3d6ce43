package server

import (
	"encoding/json"
	"fmt"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/good-yellow-bee/siemlite/internal/alerting"
	"github.com/good-yellow-bee/siemlite/internal/ingest"
)

// sequenceField is an optional client-chosen number echoed in stream acks.
const sequenceField = "sequence"

// eventFromStruct decodes an event message. Field names match the JSON body
// of the HTTP ingest endpoint; timestamp is an RFC 3339 string.
func eventFromStruct(msg *structpb.Struct) (*ingest.Event, error) {
	if msg == nil || len(msg.GetFields()) == 0 {
		return nil, fmt.Errorf("%w: empty event", alerting.ErrInvalidEvent)
	}
	fields := msg.AsMap()
	delete(fields, sequenceField)

	data, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", alerting.ErrInvalidEvent, err)
	}
	var event ingest.Event
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, fmt.Errorf("%w: %v", alerting.ErrInvalidEvent, err)
	}
	return &event, nil
}

// sequenceOf returns the sequence number of msg, or 0.
func sequenceOf(msg *structpb.Struct) float64 {
	if v, ok := msg.GetFields()[sequenceField]; ok {
		return v.GetNumberValue()
	}
	return 0
}

// EventToStruct encodes an event for IngestService.
func EventToStruct(e *ingest.Event) (*structpb.Struct, error) {
	fields := map[string]any{
		"timestamp":   e.Timestamp.UTC().Format(time.RFC3339Nano),
		"event_type":  e.EventType,
		"raw_message": e.RawMessage,
	}
	if e.Severity != "" {
		fields["severity"] = e.Severity
	}
	if e.SourceIP != "" {
		fields["source_ip"] = e.SourceIP
	}
	if e.Username != "" {
		fields["username"] = e.Username
	}
	if e.CorrelationID != "" {
		fields["correlation_id"] = e.CorrelationID
	}
	if len(e.Metadata) > 0 {
		fields["metadata"] = e.Metadata
	}
	return structpb.NewStruct(fields)
}

func resultToStruct(res *ingest.Result) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"id":     structpb.NewStringValue(res.ID),
		"status": structpb.NewStringValue(res.Status),
		"alerts": structpb.NewNumberValue(float64(res.Alerts)),
	}}
}

// ResultFromStruct decodes an IngestService response.
func ResultFromStruct(msg *structpb.Struct) *ingest.Result {
	f := msg.GetFields()
	return &ingest.Result{
		ID:     f["id"].GetStringValue(),
		Status: f["status"].GetStringValue(),
		Alerts: int(f["alerts"].GetNumberValue()),
	}
}
