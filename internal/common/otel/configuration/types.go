package configuration

const (
	ExportNone   = "none"
	ExportStdout = "stdout"
	ExportHttp   = "http"
	ExportGrpc   = "grpc"
)

type OtelConfig struct {
	// One of none, stdout, http or grpc. The OTLP exporters are further configured
	// through the standard OTEL_EXPORTER_OTLP_* environment variables.
	ExportStrategy string `validate:"omitempty,oneof=none stdout http grpc"`
	ServiceName    string `validate:"required"`
	// Verbosity of the OTEL SDK's own logging
	LogLevel int `validate:"gte=0"`
}
