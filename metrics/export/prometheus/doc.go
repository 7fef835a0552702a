// Package prometheus exposes engine counters and latency histograms as a
// prometheus.Collector.
//
// Counters are named kairos_*_total and histograms kairos_*_latency_seconds.
// Register the collector with your own registry, or mount [Collector.Handler],
// which uses a private one. Nothing is registered globally.
package prometheus
