package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigMissingFile(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	require.NoError(t, LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")))
	assert.Equal(t, "pulseaudio", viper.GetString("backend"))
	assert.Equal(t, "capture.wav", viper.GetString("output"))

	cfg := CaptureConfig()
	assert.Equal(t, 10*time.Second, cfg.Timeout)
	assert.Equal(t, 64, cfg.QueueSize)
	assert.False(t, cfg.Realtime)
}

func TestLoadConfigFile(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	path := filepath.Join(t.TempDir(), "config.yaml")
	contents := "backend: wavfile\ndevice: input.wav\ntimeout: -1\nrealtime: true\nserver: unix:/run/pulse/native\n"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	require.NoError(t, LoadConfig(path))
	assert.Equal(t, "wavfile", viper.GetString("backend"))
	assert.Equal(t, "input.wav", viper.GetString("device"))

	cfg := CaptureConfig()
	assert.Equal(t, time.Duration(-1), cfg.Timeout)
	assert.True(t, cfg.Realtime)
	assert.Equal(t, "unix:/run/pulse/native", cfg.Server)

	_, ok := cfg.WaitTimeout()
	assert.False(t, ok)
}

func TestLoadConfigMalformed(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("backend: [unterminated\n"), 0o644))

	assert.Error(t, LoadConfig(path))
}
