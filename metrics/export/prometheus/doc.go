// Package prometheus exports workgate Engine metrics as a prometheus.Collector.
//
// Register [Collector] with any registry, or mount [Collector.Handler] for a
// standalone endpoint. Counter names are prefixed workgate_*_total; latency
// histograms are workgate_verify_latency_seconds and
// workgate_authorize_latency_seconds.
package prometheus
