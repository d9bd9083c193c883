package config

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/ranlab/rtcore/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestMain runs before all tests to set up the test environment
func TestMain(m *testing.M) {
	// Initialize the logger before any tests run
	log.Initialize(false)
	defer log.Close()

	exitCode := m.Run()
	os.Exit(exitCode)
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "n", cfg.ThreadPool)
	assert.Equal(t, TimeSourceRealtime, cfg.TimeManagement.TimeSource)
	assert.Equal(t, ModeStandalone, cfg.TimeManagement.Mode)
	assert.Equal(t, "127.0.0.1:7374", cfg.TimeManagement.Address())
	assert.Equal(t, "shm_radio_channel", cfg.ShmRadio.ChannelName)
	assert.Equal(t, 1.0, cfg.ShmRadio.Timescale)
	assert.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"bad time source", func(c *Config) { c.TimeManagement.TimeSource = "gps" }, "time_source"},
		{"bad mode", func(c *Config) { c.TimeManagement.Mode = "relay" }, "mode"},
		{"bad port", func(c *Config) { c.TimeManagement.ServerPort = 0 }, "server_port"},
		{"bad role", func(c *Config) { c.ShmRadio.Role = "peer" }, "role"},
		{"bad timescale", func(c *Config) { c.ShmRadio.Timescale = 0 }, "timescale"},
		{"bad sample rate", func(c *Config) { c.ShmRadio.SampleRate = 10 }, "sample_rate"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestLoadConfig(t *testing.T) {
	t.Run("creates default config when missing", func(t *testing.T) {
		dir := t.TempDir()
		t.Setenv("RTCORE_HOME", dir)

		cfg := LoadConfig()
		assert.Equal(t, DefaultConfig().TimeManagement, cfg.TimeManagement)
		assert.FileExists(t, filepath.Join(dir, ConfigFileName))
	})

	t.Run("round trips saved values", func(t *testing.T) {
		t.Setenv("RTCORE_HOME", t.TempDir())

		cfg := DefaultConfig()
		cfg.ThreadPool = "-1,-1,3"
		cfg.TimeManagement.Mode = ModeServer
		cfg.TimeManagement.ServerPort = 9000
		cfg.ShmRadio.Role = RoleServer
		require.NoError(t, SaveConfig(cfg))

		loaded := LoadConfig()
		assert.Equal(t, "-1,-1,3", loaded.ThreadPool)
		assert.Equal(t, ModeServer, loaded.TimeManagement.Mode)
		assert.Equal(t, 9000, loaded.TimeManagement.ServerPort)
		assert.Equal(t, RoleServer, loaded.ShmRadio.Role)
	})

	t.Run("partial file keeps defaults", func(t *testing.T) {
		dir := t.TempDir()
		t.Setenv("RTCORE_HOME", dir)
		data := []byte(`{"time_management": {"time_source": "iq_samples", "mode": "client", "server_ip": "10.0.0.2", "server_port": 7374}, "shm_radio": {"channel_name": "shm_radio_channel", "role": "client", "timescale": 1, "sample_rate": 30720000, "sample_advance": 200}}`)
		require.NoError(t, os.WriteFile(filepath.Join(dir, ConfigFileName), data, 0644))

		loaded := LoadConfig()
		assert.Equal(t, TimeSourceIQSamples, loaded.TimeManagement.TimeSource)
		assert.Equal(t, "10.0.0.2:7374", loaded.TimeManagement.Address())
		assert.Equal(t, "shm_radio_channel", loaded.ShmRadio.ChannelName)
		assert.Equal(t, uint64(200), loaded.ShmRadio.SampleAdvance)
	})

	t.Run("invalid file falls back to defaults", func(t *testing.T) {
		dir := t.TempDir()
		t.Setenv("RTCORE_HOME", dir)
		require.NoError(t, os.WriteFile(filepath.Join(dir, ConfigFileName), []byte("{not json"), 0644))

		loaded := LoadConfig()
		assert.Equal(t, DefaultConfig().TimeManagement, loaded.TimeManagement)
	})
}

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	require.NoError(t, os.WriteFile(path, []byte("old"), 0644))

	err := writeFileAtomic(path, 0600, func(w io.Writer) error {
		_, _ = w.Write([]byte("partial"))
		return errors.New("encoder failed")
	})
	require.Error(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "old", string(data))
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file is removed")

	require.NoError(t, writeFileAtomic(path, 0600, func(w io.Writer) error {
		_, err := w.Write([]byte("new"))
		return err
	}))
	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}
