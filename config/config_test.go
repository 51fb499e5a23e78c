package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStringToLogLevel(t *testing.T) {
	level, err := StringToLogLevel("WARN")
	require.NoError(t, err)
	assert.Equal(t, log.WarnLevel, level)

	level, err = StringToLogLevel("chatty")
	assert.Error(t, err)
	assert.Equal(t, log.InfoLevel, level)
}

func TestReadFileOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"LogLevel": "debug",
		"SignalingAddress": "https://calls.example.com",
		"VideoBandwidth": 500,
		"AmplitudeIntervalMs": 0
	}`), 0o600))

	c, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", c.LogLevel)
	assert.Equal(t, "https://calls.example.com", c.SignalingAddress)
	assert.Equal(t, 500, c.VideoBandwidth)
	assert.Equal(t, 16, c.AudioBandwidth)
	assert.Equal(t, time.Second, c.AmplitudeInterval())
	assert.Equal(t, 10*time.Second, c.NegotiationTimeout())
	assert.Len(t, c.ICEServers, 1)
}

func TestReadFileErrors(t *testing.T) {
	_, err := ReadFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	path := filepath.Join(t.TempDir(), "broken.json")
	require.NoError(t, os.WriteFile(path, []byte("{"), 0o600))
	_, err = ReadFile(path)
	assert.Error(t, err)
}
