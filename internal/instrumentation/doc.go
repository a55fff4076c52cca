// Package instrumentation provides OpenTelemetry metrics and tracing for
// the sync engine.
//
// The Provider wires a meter and tracer with prometheus, OTLP or stdout
// exporters selected through environment variables. The Metrics recorder is
// nil-safe: a nil *Metrics records nothing, so components can treat
// instrumentation as optional.
package instrumentation
