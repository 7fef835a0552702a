package audit

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"time"
)

// Event is the security audit record for one authentication outcome.
type Event struct {
	Timestamp         time.Time         `json:"timestamp"`
	EventType         string            `json:"event_type"`
	UserID            string            `json:"user_id,omitempty"`
	Email             string            `json:"email,omitempty"`
	SessionID         string            `json:"session_id,omitempty"`
	IP                string            `json:"ip,omitempty"`
	UserAgent         string            `json:"user_agent,omitempty"`
	Success           bool              `json:"success"`
	RequiresTwoFactor bool              `json:"requires_two_factor"`
	Reason            string            `json:"reason,omitempty"`
	Metadata          map[string]string `json:"metadata,omitempty"`
}

// Sink receives emitted audit events.
type Sink interface {
	Emit(ctx context.Context, event Event)
}

// Recorder is a Sink that can report whether an event was stored. The
// synchronous dispatcher prefers Record over Emit.
type Recorder interface {
	Sink
	Record(ctx context.Context, event Event) error
}

// NoOpSink drops audit events.
type NoOpSink struct{}

func (NoOpSink) Emit(context.Context, Event) {}

func (NoOpSink) Record(context.Context, Event) error { return nil }

// ChannelSink writes audit events into a buffered channel.
type ChannelSink struct {
	events chan Event
}

func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{
		events: make(chan Event, buffer),
	}
}

func (s *ChannelSink) Emit(ctx context.Context, event Event) {
	_ = s.Record(ctx, event)
}

// Record blocks until the event is buffered or ctx is done.
func (s *ChannelSink) Record(ctx context.Context, event Event) error {
	select {
	case s.events <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *ChannelSink) Events() <-chan Event {
	return s.events
}

// JSONWriterSink writes one JSON object per line.
type JSONWriterSink struct {
	writer io.Writer
	mu     sync.Mutex
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{
		writer: w,
	}
}

func (s *JSONWriterSink) Emit(ctx context.Context, event Event) {
	_ = s.Record(ctx, event)
}

// Record writes the event as one line and returns the write error.
func (s *JSONWriterSink) Record(ctx context.Context, event Event) error {
	if s == nil || s.writer == nil {
		return nil
	}
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.writer.Write(data)
	return err
}

// MultiSink delivers each event to every sink in order.
type MultiSink []Sink

func (m MultiSink) Emit(ctx context.Context, event Event) {
	for _, s := range m {
		if s != nil {
			s.Emit(ctx, event)
		}
	}
}

// Record delivers to every sink and joins the failures of those that
// implement Recorder.
func (m MultiSink) Record(ctx context.Context, event Event) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := record(ctx, s, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func record(ctx context.Context, s Sink, event Event) error {
	if r, ok := s.(Recorder); ok {
		return r.Record(ctx, event)
	}
	s.Emit(ctx, event)
	return nil
}
