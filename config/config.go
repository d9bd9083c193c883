package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/ranlab/rtcore/log"
	"github.com/sugawarayuuta/sonnet"
)

const ConfigFileName = "config.json"

const (
	TimeSourceRealtime  = "realtime"
	TimeSourceIQSamples = "iq_samples"

	ModeStandalone = "standalone"
	ModeServer     = "server"
	ModeClient     = "client"

	RoleServer = "server"
	RoleClient = "client"

	DefaultServerIP   = "127.0.0.1"
	DefaultServerPort = 7374
)

// GetConfigDir returns the path to the application's configuration directory
func GetConfigDir() (string, error) {
	if dir := os.Getenv("RTCORE_HOME"); dir != "" {
		return dir, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get config home directory: %w", err)
	}
	return filepath.Join(homeDir, ".rtcore"), nil
}

// TimeManagement selects how the process obtains its tick clock.
type TimeManagement struct {
	// TimeSource is either "realtime" or "iq_samples".
	TimeSource string `json:"time_source"`
	// Mode is "standalone", "server" or "client".
	Mode       string `json:"mode"`
	ServerIP   string `json:"server_ip"`
	ServerPort int    `json:"server_port"`
}

// Address returns host:port of the tick server.
func (t TimeManagement) Address() string {
	return fmt.Sprintf("%s:%d", t.ServerIP, t.ServerPort)
}

// ShmRadio configures the shared-memory radio device.
type ShmRadio struct {
	ChannelName string  `json:"channel_name"`
	Role        string  `json:"role"`
	Timescale   float64 `json:"timescale"`
	SampleRate  float64 `json:"sample_rate"`
	// Capacity is the per-antenna ring size in samples. Zero selects the default.
	Capacity uint64 `json:"capacity"`
	// SampleAdvance is subtracted from every transmit timestamp.
	SampleAdvance uint64 `json:"sample_advance"`
}

// Config represents the application configuration
type Config struct {
	// ThreadPool is the worker layout, e.g. "n" for inline execution or "-1,2,3".
	ThreadPool     string         `json:"thread_pool"`
	PoolName       string         `json:"pool_name"`
	TimeManagement TimeManagement `json:"time_management"`
	ShmRadio       ShmRadio       `json:"shm_radio"`
	// RunStore is the sqlite database receiving session reports.
	RunStore string `json:"run_store"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	runStore := "runs.db"
	if dir, err := GetConfigDir(); err == nil {
		runStore = filepath.Join(dir, "runs.db")
	}
	return &Config{
		ThreadPool: "n",
		PoolName:   "Tpool",
		TimeManagement: TimeManagement{
			TimeSource: TimeSourceRealtime,
			Mode:       ModeStandalone,
			ServerIP:   DefaultServerIP,
			ServerPort: DefaultServerPort,
		},
		ShmRadio: ShmRadio{
			ChannelName: "shm_radio_channel",
			Role:        RoleClient,
			Timescale:   1.0,
			SampleRate:  30.72e6,
		},
		RunStore: runStore,
	}
}

// Validate rejects values the runtime components cannot act on.
func (c *Config) Validate() error {
	switch c.TimeManagement.TimeSource {
	case TimeSourceRealtime, TimeSourceIQSamples:
	default:
		return fmt.Errorf("invalid time_source %q", c.TimeManagement.TimeSource)
	}
	switch c.TimeManagement.Mode {
	case ModeStandalone, ModeServer, ModeClient:
	default:
		return fmt.Errorf("invalid time_management mode %q", c.TimeManagement.Mode)
	}
	if c.TimeManagement.ServerPort <= 0 || c.TimeManagement.ServerPort > 65535 {
		return fmt.Errorf("invalid server_port %d", c.TimeManagement.ServerPort)
	}
	switch c.ShmRadio.Role {
	case RoleServer, RoleClient:
	default:
		return fmt.Errorf("invalid shm_radio role %q", c.ShmRadio.Role)
	}
	if c.ShmRadio.Timescale <= 0 {
		return fmt.Errorf("invalid shm_radio timescale %v", c.ShmRadio.Timescale)
	}
	if c.ShmRadio.SampleRate < 1000 {
		return fmt.Errorf("invalid shm_radio sample_rate %v", c.ShmRadio.SampleRate)
	}
	return nil
}

// LoadConfig loads the configuration from disk. If it cannot be done, we return the default configuration.
func LoadConfig() *Config {
	configDir, err := GetConfigDir()
	if err != nil {
		log.ErrorLog.Printf("failed to get config directory: %v", err)
		return DefaultConfig()
	}

	configPath := filepath.Join(configDir, ConfigFileName)
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// Create and save default config if file doesn't exist
			defaultCfg := DefaultConfig()
			if saveErr := saveConfig(defaultCfg); saveErr != nil {
				log.WarningLog.Printf("failed to save default config: %v", saveErr)
			}
			return defaultCfg
		}

		log.WarningLog.Printf("failed to get config file: %v", err)
		return DefaultConfig()
	}

	// Missing keys keep their defaults.
	config := DefaultConfig()
	if err := sonnet.Unmarshal(data, config); err != nil {
		log.ErrorLog.Printf("failed to parse config file: %v", err)
		return DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		log.ErrorLog.Printf("invalid config file %s: %v", configPath, err)
		return DefaultConfig()
	}

	return config
}

// saveConfig saves the configuration to disk
func saveConfig(config *Config) error {
	configDir, err := GetConfigDir()
	if err != nil {
		return fmt.Errorf("failed to get config directory: %w", err)
	}

	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	configPath := filepath.Join(configDir, ConfigFileName)
	data, err := sonnet.MarshalIndent(config, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	return writeFileAtomic(configPath, 0644, func(w io.Writer) error {
		_, err := w.Write(append(data, '\n'))
		return err
	})
}

// SaveConfig exports the saveConfig function for use by other packages
func SaveConfig(config *Config) error {
	return saveConfig(config)
}
