// Package tracing provides OpenTelemetry tracing for the proxy.
//
// The middleware starts a server span per request, continuing any W3C trace
// context carried by the client, and exposes the trace id in the
// X-Trace-Id response header. DecisionAnnotator records the routing decision
// on the active span. Spans are exported over OTLP/gRPC.
package tracing
