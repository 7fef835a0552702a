// Package otel binds engine counters and latency histograms to OpenTelemetry
// observable instruments.
//
// [NewExporter] registers an Int64ObservableCounter per counter and an
// Int64ObservableGauge per cumulative histogram bucket. A single callback
// reads [kairosauth.Engine.MetricsSnapshot] on each collection. Callers own
// the MeterProvider.
package otel
