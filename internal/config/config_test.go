package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envOf(values map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	}
}

func TestFromEnvDefaults(t *testing.T) {
	cfg, err := FromEnv(envOf(nil))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, ":9090", cfg.GRPCAddr)
	assert.Equal(t, 0.6, cfg.Match.Threshold)
	assert.True(t, cfg.Match.StopAtFirstMatch)
	assert.Equal(t, 5000, cfg.Match.MaxIdentities)
	assert.Equal(t, 30*time.Second, cfg.SnapshotTTL)
	assert.Equal(t, 5*time.Minute, cfg.ResultTTL)
	assert.Equal(t, "dev-secret", cfg.JWTSecret)
	assert.True(t, cfg.Development())
}

func TestFromEnvOverrides(t *testing.T) {
	cfg, err := FromEnv(envOf(map[string]string{
		"APP_ENV":             "prod",
		"JWT_SECRET":          "s3cret",
		"MATCH_THRESHOLD":     "0.45",
		"STOP_AT_FIRST_MATCH": "false",
		"SNAPSHOT_TTL":        "1m",
		"RATE_LIMIT_BURST":    "3",
	}))
	require.NoError(t, err)

	assert.Equal(t, 0.45, cfg.Match.Threshold)
	assert.False(t, cfg.Match.StopAtFirstMatch)
	assert.Equal(t, time.Minute, cfg.SnapshotTTL)
	assert.Equal(t, 3, cfg.RateLimitBurst)
	assert.False(t, cfg.Development())
}

func TestFromEnvErrors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"prod without secret", map[string]string{"APP_ENV": "prod"}},
		{"bad threshold", map[string]string{"MATCH_THRESHOLD": "close"}},
		{"zero threshold", map[string]string{"MATCH_THRESHOLD": "0"}},
		{"negative identities", map[string]string{"MAX_IDENTITIES": "-1"}},
		{"bad duration", map[string]string{"RESULT_TTL": "soon"}},
		{"bad bool", map[string]string{"STOP_AT_FIRST_MATCH": "maybe"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromEnv(envOf(tt.env))
			assert.Error(t, err)
		})
	}
}
