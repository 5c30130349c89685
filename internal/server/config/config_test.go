package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.LoadDefaults()

	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, "localhost", cfg.RPID)
	assert.False(t, cfg.IsProduction())
}

func TestEnvOverlay(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("NODE_ENV", "production")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("WEBAUTHN_RP_ID", "pik.example")

	cfg := LoadConfig()

	assert.Equal(t, ":9090", cfg.Addr)
	assert.True(t, cfg.IsProduction())
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
	assert.Equal(t, "pik.example", cfg.RPID)
}
