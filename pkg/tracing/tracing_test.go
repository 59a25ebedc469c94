package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sandboxnotify/internal/config"
)

func TestInitDisabled(t *testing.T) {
	tp, err := Init(context.Background(), config.TracingConfig{}, "notification-service")
	require.NoError(t, err)
	require.NotNil(t, tp)
	assert.NoError(t, tp.Shutdown(context.Background()))
}

func TestCreateSampler(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.SamplerConfig
		want string
	}{
		{"default follows parent", config.SamplerConfig{}, "ParentBased{root:AlwaysOnSampler"},
		{"always off", config.SamplerConfig{Type: "always_off"}, "AlwaysOffSampler"},
		{"always on", config.SamplerConfig{Type: "always_on"}, "AlwaysOnSampler"},
		{"ratio", config.SamplerConfig{Type: "traceidratio", Param: 0.5}, "TraceIDRatioBased{0.5}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Contains(t, createSampler(tt.cfg).Description(), tt.want)
		})
	}
}
