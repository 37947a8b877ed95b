// Package otel exports workgate Engine metrics through an OpenTelemetry Meter.
//
// [NewExporter] registers one Int64ObservableCounter per counter and one
// Int64ObservableGauge per histogram bucket; a single callback reads
// Engine.MetricsSnapshot on each collection. Callers own the MeterProvider.
package otel
