package observability

import (
	"strings"

	"github.com/smallbiznis/donorbook/internal/config"
)

// Config is the slice of the service configuration the logger, tracer and meter read.
type Config struct {
	ServiceName string
	Environment string
	Version     string

	LogLevel  string
	LogFormat string

	OtelEnabled          bool
	OtelExporterEndpoint string
	OtelExporterProtocol string
	OtelSamplingRatio    float64
}

func NewConfig(cfg config.Config) Config {
	return Config{
		ServiceName:          valueOr(cfg.AppName, "donorbook"),
		Environment:          strings.TrimSpace(cfg.Environment),
		Version:              strings.TrimSpace(cfg.AppVersion),
		LogLevel:             valueOr(cfg.LogLevel, "info"),
		LogFormat:            valueOr(cfg.LogFormat, "json"),
		OtelEnabled:          cfg.OtelEnabled,
		OtelExporterEndpoint: strings.TrimSpace(cfg.OTLPEndpoint),
		OtelExporterProtocol: valueOr(cfg.OTLPProtocol, "grpc"),
		OtelSamplingRatio:    cfg.OtelSamplingRatio,
	}
}

// Debug turns on verbose request logs and stack traces outside production.
func (c Config) Debug() bool {
	if strings.EqualFold(strings.TrimSpace(c.LogLevel), "debug") {
		return true
	}
	switch strings.ToLower(strings.TrimSpace(c.Environment)) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

func valueOr(value, def string) string {
	if value = strings.TrimSpace(value); value != "" {
		return value
	}
	return def
}
