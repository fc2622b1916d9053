package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0", cfg.Host)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, TransportNone, cfg.Transport)
	assert.False(t, cfg.ZUp)
}

func TestParseMQTTTransport(t *testing.T) {
	cfg, err := Parse([]string{"--mqtt", "--mqtt-broker", "broker.local", "--mqtt-port", "1884"})
	require.NoError(t, err)
	assert.Equal(t, TransportMQTT, cfg.Transport)
	assert.Equal(t, "broker.local", cfg.MQTTBroker)
	assert.Equal(t, 1884, cfg.MQTTPort)
}

func TestParseCrowTransport(t *testing.T) {
	cfg, err := Parse([]string{"--crow", "--crowker", "127.0.0.1:9100"})
	require.NoError(t, err)
	assert.Equal(t, TransportCrow, cfg.Transport)
	assert.Equal(t, "127.0.0.1:9100", cfg.CrowkerAddr)
}

func TestParseRejectsBothTransports(t *testing.T) {
	_, err := Parse([]string{"--mqtt", "--crow"})
	assert.Error(t, err)
}

func TestParseZUpFlag(t *testing.T) {
	cfg, err := Parse([]string{"--z-up"})
	require.NoError(t, err)
	assert.True(t, cfg.ZUp)
}

func TestParseOverridesPathUnderConfigDir(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Contains(t, cfg.OverridesPath, "webkin")
	assert.Contains(t, cfg.OverridesPath, "axis_overrides.json")
}
