// Package otel binds controller metrics to an OpenTelemetry Meter.
//
// Each counter becomes an Int64ObservableCounter and each histogram bucket
// an Int64ObservableGauge holding the cumulative count. One callback reads
// [goSession.Controller.MetricsSnapshot] per collection. The caller owns the
// MeterProvider.
package otel
