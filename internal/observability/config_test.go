package observability

import (
	"testing"

	"github.com/smallbiznis/donorbook/internal/config"
	"github.com/stretchr/testify/assert"
)

func TestNewConfig_FillsDefaults(t *testing.T) {
	cfg := NewConfig(config.Config{
		Environment:       " production ",
		AppVersion:        "1.2.0",
		OtelEnabled:       true,
		OTLPEndpoint:      "collector:4317",
		OtelSamplingRatio: 0.5,
	})

	assert.Equal(t, "donorbook", cfg.ServiceName)
	assert.Equal(t, "production", cfg.Environment)
	assert.Equal(t, "1.2.0", cfg.Version)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, "grpc", cfg.OtelExporterProtocol)
	assert.Equal(t, "collector:4317", cfg.OtelExporterEndpoint)
	assert.True(t, cfg.OtelEnabled)
	assert.Equal(t, 0.5, cfg.OtelSamplingRatio)
	assert.False(t, cfg.Debug())
}

func TestConfig_Debug(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
		want bool
	}{
		{"debug level in production", Config{LogLevel: "DEBUG", Environment: "production"}, true},
		{"development", Config{LogLevel: "info", Environment: "development"}, true},
		{"test", Config{Environment: "test"}, true},
		{"staging", Config{LogLevel: "info", Environment: "staging"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.cfg.Debug())
		})
	}
}
