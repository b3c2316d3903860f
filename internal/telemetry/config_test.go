package telemetry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/utils/ptr"
)

func TestConfig_Defaults(t *testing.T) {
	t.Parallel()

	cfg := &Config{}
	assert.Equal(t, DefaultServiceName, cfg.GetServiceName())
	assert.Equal(t, "unknown", cfg.GetServiceVersion())
	assert.Equal(t, DefaultEndpoint, cfg.GetEndpoint())
	assert.False(t, cfg.GetInsecure())
	assert.Equal(t, DefaultSampling, (&TracingConfig{}).GetSampling())
	assert.Equal(t, MetricsExporterOTLP, (&MetricsConfig{}).GetExporter())

	cfg = &Config{ServiceName: "composer-f40", ServiceVersion: "1.2.0", Endpoint: "otel:4318", Insecure: true}
	assert.Equal(t, "composer-f40", cfg.GetServiceName())
	assert.Equal(t, "1.2.0", cfg.GetServiceVersion())
	assert.Equal(t, "otel:4318", cfg.GetEndpoint())
	assert.True(t, cfg.GetInsecure())
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		config  *Config
		wantErr string
	}{
		{name: "nil config", config: nil},
		{name: "disabled ignores bad values", config: &Config{
			Tracing: &TracingConfig{Enabled: true, Sampling: ptr.To(7.0)},
		}},
		{name: "valid sampling", config: &Config{
			Enabled: true,
			Tracing: &TracingConfig{Enabled: true, Sampling: ptr.To(0.5)},
		}},
		{name: "full sampling", config: &Config{
			Enabled: true,
			Tracing: &TracingConfig{Enabled: true, Sampling: ptr.To(1.0)},
		}},
		{name: "zero sampling", config: &Config{
			Enabled: true,
			Tracing: &TracingConfig{Enabled: true, Sampling: ptr.To(0.0)},
		}, wantErr: "tracing: sampling must be greater than 0.0"},
		{name: "sampling above one", config: &Config{
			Enabled: true,
			Tracing: &TracingConfig{Enabled: true, Sampling: ptr.To(1.1)},
		}, wantErr: "tracing: sampling must be greater than 0.0"},
		{name: "disabled tracing skips sampling check", config: &Config{
			Enabled: true,
			Tracing: &TracingConfig{Sampling: ptr.To(-1.0)},
		}},
		{name: "prometheus exporter", config: &Config{
			Enabled: true,
			Metrics: &MetricsConfig{Enabled: true, Exporter: MetricsExporterPrometheus},
		}},
		{name: "unknown exporter", config: &Config{
			Enabled: true,
			Metrics: &MetricsConfig{Enabled: true, Exporter: "statsd"},
		}, wantErr: `metrics: unknown metrics exporter "statsd"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.config.Validate()
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			assert.NoError(t, err)
		})
	}
}
