// Package otel exposes engine metrics as OpenTelemetry observable instruments.
//
// Counters map to Int64ObservableCounter. The backoffice latency histogram is
// published as one Int64ObservableGauge per cumulative bucket plus a count
// gauge. The caller owns the MeterProvider.
package otel
