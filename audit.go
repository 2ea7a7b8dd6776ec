package passauth

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"
)

// AuditEvent defines a public type used by passauth APIs.
//
// One event is emitted per flow outcome, success or failure. FamilyID is set
// whenever the event concerns a refresh family; Metadata carries flow-specific
// detail such as the failure reason or the passkey id.
type AuditEvent struct {
	Timestamp time.Time         `json:"timestamp"`
	EventType string            `json:"event_type"`
	UserID    string            `json:"user_id,omitempty"`
	FamilyID  string            `json:"family_id,omitempty"`
	IP        string            `json:"ip,omitempty"`
	Success   bool              `json:"success"`
	Error     string            `json:"error,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// AuditSink receives audit events from the engine's dispatcher. Emit is
// called from a single dispatcher goroutine; implementations that fan out
// further do their own synchronization.
type AuditSink interface {
	Emit(ctx context.Context, event AuditEvent)
}

// NoOpSink discards every event. It is the fallback when auditing is enabled
// without a sink.
type NoOpSink struct{}

func (NoOpSink) Emit(context.Context, AuditEvent) {}

// ChannelSink buffers events on a channel for consumers that process them in
// their own goroutine. The channel is never closed; readers stop by
// abandoning it.
type ChannelSink struct {
	events chan AuditEvent
}

func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{events: make(chan AuditEvent, buffer)}
}

// Emit blocks on a full buffer until the consumer catches up or the context
// is cancelled.
func (s *ChannelSink) Emit(ctx context.Context, event AuditEvent) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

func (s *ChannelSink) Events() <-chan AuditEvent {
	return s.events
}

// JSONWriterSink writes newline-delimited JSON, one event per line, suitable
// for shipping to a log pipeline.
type JSONWriterSink struct {
	mu      sync.Mutex
	encoder *json.Encoder
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	sink := &JSONWriterSink{}
	if w != nil {
		sink.encoder = json.NewEncoder(w)
	}
	return sink
}

// Emit serializes the event under the sink's lock. An event that fails to
// serialize is dropped; the audit trail must not take the flow down with it.
func (s *JSONWriterSink) Emit(_ context.Context, event AuditEvent) {
	if s == nil || s.encoder == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_ = s.encoder.Encode(event)
}
