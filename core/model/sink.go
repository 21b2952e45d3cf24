package model

import "context"

// Sink consumes ordered batches of field updates, one batch per inbound
// frame carrying data. There is no replay across reconnects.
type Sink interface {
	Publish(ctx context.Context, batch []FieldUpdate) error
}

// MultiSink fans a batch out to several sinks. Errors are collected so one
// failing sink does not starve the others.
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink creates a sink that forwards to all given sinks.
func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

func (m *MultiSink) Publish(ctx context.Context, batch []FieldUpdate) error {
	var firstErr error
	for _, s := range m.sinks {
		if err := s.Publish(ctx, batch); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// NopSink discards all updates.
type NopSink struct{}

func (NopSink) Publish(context.Context, []FieldUpdate) error { return nil }
