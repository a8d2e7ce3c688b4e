// Package prometheus exposes controller metrics as a prometheus.Collector.
//
// Counters are named gosession_*_total; the single histogram is
// gosession_propagation_latency_seconds. Values are read from
// [goSession.Controller.MetricsSnapshot] on every scrape, so the collector
// holds no state of its own. Callers choose the registry; nothing is
// registered globally.
package prometheus
