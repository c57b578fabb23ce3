// Package metrics provides observability hooks for matrix run metrics.
//
// Components receive a Recorder through dependency injection and default to
// NoopRecorder, so metrics collection needs no nil checks and costs nothing
// when disabled. The Prometheus implementation is activated by the daemon
// when a metrics listen address is configured:
//
//	reg := prometheus.NewRegistry()
//	recorder := metrics.NewPrometheusRecorder(reg)
//	orchestrator := run.New(cfg, run.WithRecorder(recorder))
package metrics
