package auditlog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// Record is an event as stored, with its id and integrity hash.
type Record struct {
	EventID         int64
	IntegritySHA256 string
	Event
}

// Verify recomputes the integrity hash from the stored fields.
func (r Record) Verify() error {
	raw, ok := r.Payload.(json.RawMessage)
	if !ok {
		var err error
		if raw, err = json.Marshal(r.Payload); err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
	}
	raw, err := canonicalJSON(raw)
	if err != nil {
		return err
	}
	sum, err := ComputeIntegritySHA256(r.Event, raw)
	if err != nil {
		return err
	}
	if sum != r.IntegritySHA256 {
		return fmt.Errorf("audit event %d: integrity mismatch", r.EventID)
	}
	return nil
}

// NDJSONExporter writes records as newline-delimited JSON.
type NDJSONExporter struct {
	enc *json.Encoder
}

func NewNDJSONExporter(w io.Writer) *NDJSONExporter {
	return &NDJSONExporter{enc: json.NewEncoder(w)}
}

func (e *NDJSONExporter) Export(_ context.Context, rec Record) error {
	return e.enc.Encode(exportRecord(rec))
}

type exportEvent struct {
	EventID         int64           `json:"event_id"`
	OccurredAt      string          `json:"occurred_at"`
	Actor           string          `json:"actor"`
	Action          string          `json:"action"`
	ResourceType    string          `json:"resource_type"`
	ResourceID      string          `json:"resource_id"`
	RequestID       string          `json:"request_id,omitempty"`
	Payload         json.RawMessage `json:"payload"`
	IntegritySHA256 string          `json:"integrity_sha256"`
	Verified        bool            `json:"verified"`
}

func exportRecord(rec Record) exportEvent {
	payload, ok := rec.Payload.(json.RawMessage)
	if !ok {
		payload, _ = json.Marshal(rec.Payload)
	}
	return exportEvent{
		EventID:         rec.EventID,
		OccurredAt:      rec.OccurredAt.UTC().Format(time.RFC3339Nano),
		Actor:           rec.Actor,
		Action:          rec.Action,
		ResourceType:    rec.ResourceType,
		ResourceID:      rec.ResourceID,
		RequestID:       rec.RequestID,
		Payload:         payload,
		IntegritySHA256: rec.IntegritySHA256,
		Verified:        rec.Verify() == nil,
	}
}
