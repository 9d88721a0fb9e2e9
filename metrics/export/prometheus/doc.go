// Package prometheus renders engine counters and the backoffice latency
// histogram in the Prometheus text exposition format. Callers mount
// Exporter.Handler themselves; nothing is registered globally.
package prometheus
