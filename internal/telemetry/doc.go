// Package telemetry provides OpenTelemetry tracing and metrics for patternd.
//
// The ranking, pack and trust packages create their spans and instruments
// from the global providers that New installs. Exports go over OTLP, gRPC by
// default or HTTP/protobuf when configured:
//
//	telemetry:
//	  enabled: true
//	  endpoint: "localhost:4317"
//	  protocol: grpc
//	  sampling:
//	    rate: 1.0
//	  metrics:
//	    enabled: true
//	    export_interval: 15s
//
// Telemetry failures do not stop the process; Health reports the degraded
// state and the reason.
//
// Tests use TestTelemetry, which records spans and metrics in memory:
//
//	tt := telemetry.NewTestTelemetry()
//	m, _ := trust.NewMetrics(tt.Meter("test"))
package telemetry
