package kairosauth

import (
	"io"

	"github.com/MrEthical07/kairosauth/internal/audit"
)

type (
	// AuditEvent is one security audit record.
	AuditEvent = audit.Event
	// AuditSink receives audit events from the engine's dispatcher.
	AuditSink = audit.Sink
	NoOpSink  = audit.NoOpSink
	// ChannelSink buffers events in a channel; useful in tests.
	ChannelSink    = audit.ChannelSink
	JSONWriterSink = audit.JSONWriterSink
	MultiSink      = audit.MultiSink
)

func NewChannelSink(buffer int) *ChannelSink {
	return audit.NewChannelSink(buffer)
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return audit.NewJSONWriterSink(w)
}
