package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(kv map[string]string) func(string) string {
	return func(k string) string { return kv[k] }
}

func TestFromEnv_Defaults(t *testing.T) {
	cfg, err := FromEnv(env(map[string]string{"DATABASE_URL": "postgres://localhost/app"}))
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.ServerPort)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, "gpt-4o", cfg.OpenAIModel)
	assert.Equal(t, int64(10<<20), cfg.UploadMaxBytes)
	assert.Zero(t, cfg.AutoAllocationInterval)
	assert.Empty(t, cfg.AutoAllocationTenants)
	assert.Error(t, cfg.RequireJWTSecret())
}

func TestFromEnv_Overrides(t *testing.T) {
	cfg, err := FromEnv(env(map[string]string{
		"DATABASE_URL":             "postgres://localhost/app",
		"SERVER_PORT":              "9090",
		"JWT_SECRET":               "s3cret",
		"LOG_LEVEL":                "DEBUG",
		"LOG_FORMAT":               "text",
		"AUTO_ALLOCATION_INTERVAL": "5m",
		"AUTO_ALLOCATION_TENANTS":  "1, 7,",
		"UPLOAD_MAX_BYTES":         "1024",
	}))
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.ServerPort)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, 5*time.Minute, cfg.AutoAllocationInterval)
	assert.Equal(t, []int{1, 7}, cfg.AutoAllocationTenants)
	assert.Equal(t, int64(1024), cfg.UploadMaxBytes)
	assert.NoError(t, cfg.RequireJWTSecret())
}

func TestFromEnv_Invalid(t *testing.T) {
	base := func(extra map[string]string) map[string]string {
		m := map[string]string{"DATABASE_URL": "postgres://localhost/app"}
		for k, v := range extra {
			m[k] = v
		}
		return m
	}

	tests := []struct {
		name string
		env  map[string]string
	}{
		{"missing database", map[string]string{}},
		{"bad log format", base(map[string]string{"LOG_FORMAT": "xml"})},
		{"bad interval", base(map[string]string{"AUTO_ALLOCATION_INTERVAL": "soon", "AUTO_ALLOCATION_TENANTS": "1"})},
		{"negative interval", base(map[string]string{"AUTO_ALLOCATION_INTERVAL": "-1m", "AUTO_ALLOCATION_TENANTS": "1"})},
		{"interval without tenants", base(map[string]string{"AUTO_ALLOCATION_INTERVAL": "1m"})},
		{"bad tenant", base(map[string]string{"AUTO_ALLOCATION_TENANTS": "1,abc"})},
		{"bad upload size", base(map[string]string{"UPLOAD_MAX_BYTES": "-3"})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromEnv(env(tt.env))
			assert.Error(t, err)
		})
	}
}
