// Package telemetry provides Prometheus and OpenTelemetry instrumentation
// for the hot module runtime.
//
// Both Metrics and Tracing implement hmr.Interceptor and are installed
// through hmr.Options:
//
//	metrics := telemetry.NewMetrics(telemetry.WithRegistry(reg))
//	tracing := telemetry.NewTracing(telemetry.WithTracerName("my-app"))
//
//	rt, err := hmr.NewRuntime(cfg, table, hmr.Options{
//	    Interceptors: []hmr.Interceptor{tracing, metrics},
//	})
//
// # Metrics
//
//   - hmr_loads_total: module loads by status
//   - hmr_load_duration_seconds: module load duration
//   - hmr_load_errors_total: failed loads by error type
//   - hmr_updates_total: update batches by outcome
//   - hmr_update_duration_seconds: update batch duration
//   - hmr_patched_modules: modules re-executed per patch
//   - hmr_generation: last settled generation
//   - hmr_connected_clients: clients attached to the dev server
//   - hmr_frames_sent_total: frames sent by the dev server, by type
//
// # Tracing
//
// Every load gets a span named "hmr.load", every batch a span named
// "hmr.update". Module bodies receive the load span in their context, so
// work they start is parented correctly.
package telemetry
