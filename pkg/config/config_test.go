package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cuemby/gamefeed/pkg/integrity"
	"github.com/cuemby/gamefeed/pkg/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gamefeed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadYAML(t *testing.T) {
	path := writeConfig(t, `
log:
  level: debug
  json: true
bus:
  queue_size: 500
store:
  dir: /var/lib/gamefeed/events
  buffer_size: 25
  flush_interval: 2s
recorder:
  dir: /var/lib/gamefeed/recordings
  username: alice
  limits:
    max_games: 10
    max_duration: 1h30m
integrity:
  type: GAMES
  value: 2
server:
  addr: 127.0.0.1:9011
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, log.DebugLevel, cfg.Log.Level)
	assert.True(t, cfg.Log.JSON)
	assert.Equal(t, 500, cfg.Bus.QueueSize)
	assert.Equal(t, Default().Bus.StopTimeout, cfg.Bus.StopTimeout)
	assert.Equal(t, 25, cfg.Store.BufferSize)
	assert.Equal(t, 2*time.Second, cfg.Store.FlushInterval)
	assert.Equal(t, "alice", cfg.Recorder.Username)
	assert.Equal(t, 10, cfg.Recorder.Limits.MaxGames)
	assert.Equal(t, 90*time.Minute, cfg.Recorder.Limits.MaxDuration)
	assert.True(t, cfg.Recorder.Enabled, "unset fields keep their defaults")
	assert.Equal(t, "127.0.0.1:9011", cfg.Server.Addr)

	rec := cfg.RecorderConfig()
	assert.Equal(t, integrity.Config{Type: integrity.ThresholdGames, Value: 2}, rec.Integrity)
	assert.Equal(t, "/var/lib/gamefeed/recordings", rec.Dir)
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "store:\n  buffer_size: 25\n")
	t.Setenv("GAMEFEED_STORE_BUFFER_SIZE", "40")
	t.Setenv("GAMEFEED_INTEGRITY_TYPE", "GAMES")
	t.Setenv("GAMEFEED_INTEGRITY_VALUE", "3")
	t.Setenv("GAMEFEED_RECORDER_LIMITS_MAX_DURATION", "45m")
	t.Setenv("GAMEFEED_SERVER_ENABLED", "false")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 40, cfg.Store.BufferSize)
	assert.Equal(t, integrity.ThresholdGames, cfg.Integrity.Type)
	assert.Equal(t, 3, cfg.Integrity.Value)
	assert.Equal(t, 45*time.Minute, cfg.Recorder.Limits.MaxDuration)
	assert.False(t, cfg.Server.Enabled)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		env     map[string]string
		wantErr string
	}{
		{name: "unknown field", body: "stroe:\n  dir: x\n", wantErr: "field stroe not found"},
		{name: "malformed yaml", body: "log: [", wantErr: "failed to parse"},
		{name: "bad level", body: "log:\n  level: loud\n", wantErr: "invalid log level"},
		{name: "bad threshold", body: "integrity:\n  type: MINUTES\n", wantErr: "invalid recorder config"},
		{name: "zero threshold", body: "integrity:\n  value: 0\n", wantErr: "threshold value"},
		{name: "negative buffer", body: "store:\n  buffer_size: -1\n", wantErr: "invalid store config"},
		{name: "empty addr", body: "server:\n  addr: \"\"\n", wantErr: "server addr"},
		{name: "zero queue", body: "bus:\n  queue_size: 0\n", wantErr: "queue_size"},
		{name: "bad env duration", env: map[string]string{"GAMEFEED_BUS_STOP_TIMEOUT": "soon"}, wantErr: "failed to parse environment"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			path := ""
			if tt.body != "" {
				path = writeConfig(t, tt.body)
			}

			_, err := Load(path)
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read config")
}

func TestEmptyFileKeepsDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestComponentConfigs(t *testing.T) {
	cfg := Default()

	store := cfg.StoreConfig("s1")
	assert.Equal(t, "s1", store.SessionID)

	cfg.Store.SessionID = "fixed"
	assert.Equal(t, "fixed", cfg.StoreConfig("s1").SessionID)

	bus := cfg.BusConfig()
	assert.Equal(t, cfg.Bus.QueueSize, bus.QueueSize)

	var buf bytes.Buffer
	lc := cfg.LogConfig(&buf)
	assert.Equal(t, log.InfoLevel, lc.Level)
	assert.Same(t, &buf, lc.Output)
}
