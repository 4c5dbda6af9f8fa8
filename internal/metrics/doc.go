// Package metrics provides the observability hooks for the recorder.
//
// Components receive a Recorder through dependency injection and default to
// NoopRecorder, so metrics never require nil checks at call sites:
//
//	sup := supervisor.New(deps) // deps.Metrics defaults to metrics.NoopRecorder{}
//
// When metrics are enabled the daemon swaps in a PrometheusRecorder bound to its
// own registry and serves it on /metrics through HTTPHandler.
package metrics
