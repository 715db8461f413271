package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/astromech-labs/droidvision/internal/logger"
)

// Source backend names accepted in the "source" field.
const (
	SourceV4L2      = "v4l2"
	SourceSynthetic = "synthetic"
	SourceReplay    = "replay"
)

// Config represents the droidvision configuration
type Config struct {
	ServerPort int    `json:"server_port" yaml:"server_port"`
	LogLevel   string `json:"log_level" yaml:"log_level"`

	// Frame source
	Source string `json:"source" yaml:"source"`
	Device string `json:"device" yaml:"device"`
	Width  int    `json:"width" yaml:"width"`
	Height int    `json:"height" yaml:"height"`

	// Pipeline
	CaptureFPS     int `json:"capture_fps" yaml:"capture_fps"`
	BroadcastFPS   int `json:"broadcast_fps" yaml:"broadcast_fps"`
	Quality        int `json:"quality" yaml:"quality"`
	BufferCapacity int `json:"buffer_capacity" yaml:"buffer_capacity"`
	MaxReadFails   int `json:"max_read_fails" yaml:"max_read_fails"`

	// Broadcast
	HeartbeatSeconds int    `json:"heartbeat_seconds" yaml:"heartbeat_seconds"`
	FrameKind        string `json:"frame_kind" yaml:"frame_kind"`
	TimestampOverlay bool   `json:"timestamp_overlay" yaml:"timestamp_overlay"`

	// Optional shared token checked on websocket upgrade. Empty disables the check.
	AuthToken string `json:"auth_token,omitempty" yaml:"auth_token,omitempty"`

	// Recording / replay
	RecordDir  string `json:"record_dir,omitempty" yaml:"record_dir,omitempty"`
	ReplayPath string `json:"replay_path,omitempty" yaml:"replay_path,omitempty"`
	ReplayLoop bool   `json:"replay_loop" yaml:"replay_loop"`
}

// Manager handles configuration
type Manager struct {
	configPath string
	config     *Config
	mu         sync.RWMutex
}

// NewManager creates a new configuration manager
func NewManager(configFile string) (*Manager, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}

	configDir := filepath.Join(homeDir, ".config", "droidvision")
	defaultConfigPath := filepath.Join(configDir, "config.yaml")

	actualConfigPath := defaultConfigPath
	if configFile != "" {
		actualConfigPath = configFile
	}

	if err := os.MkdirAll(filepath.Dir(actualConfigPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	m := &Manager{
		configPath: actualConfigPath,
	}

	if err := m.load(); err != nil {
		if os.IsNotExist(err) {
			logger.WithComponent("config").Info().
				Str("path", m.configPath).
				Msg("Config file not found, creating new config")
			m.config = Defaults()
			if err := m.Save(); err != nil {
				return nil, fmt.Errorf("failed to create default config: %w", err)
			}
		} else {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	if err := m.config.Validate(); err != nil {
		return nil, err
	}

	logger.WithComponent("config").Info().
		Str("path", m.configPath).
		Str("source", m.config.Source).
		Int("port", m.config.ServerPort).
		Msg("Config loaded")

	return m, nil
}

// Defaults returns the default configuration
func Defaults() *Config {
	return &Config{
		ServerPort:       8765,
		LogLevel:         "info",
		Source:           SourceV4L2,
		Device:           "/dev/video0",
		Width:            640,
		Height:           480,
		CaptureFPS:       30,
		BroadcastFPS:     15,
		Quality:          80,
		BufferCapacity:   2,
		MaxReadFails:     30,
		HeartbeatSeconds: 5,
		FrameKind:        "video_frame",
		TimestampOverlay: true,
		ReplayLoop:       true,
	}
}

// Validate checks that the configuration is internally consistent
func (c *Config) Validate() error {
	if c.ServerPort <= 0 || c.ServerPort > 65535 {
		return fmt.Errorf("invalid server_port: %d", c.ServerPort)
	}
	switch c.Source {
	case SourceV4L2, SourceSynthetic, SourceReplay:
	default:
		return fmt.Errorf("unknown source %q (use %s, %s or %s)",
			c.Source, SourceV4L2, SourceSynthetic, SourceReplay)
	}
	if c.Source == SourceReplay && c.ReplayPath == "" {
		return fmt.Errorf("source %q requires replay_path", SourceReplay)
	}
	if c.Quality < 1 || c.Quality > 100 {
		return fmt.Errorf("quality must be in [1,100], got %d", c.Quality)
	}
	if c.BufferCapacity < 1 {
		return fmt.Errorf("buffer_capacity must be at least 1, got %d", c.BufferCapacity)
	}
	if c.CaptureFPS < 1 || c.BroadcastFPS < 1 {
		return fmt.Errorf("capture_fps and broadcast_fps must be positive")
	}
	if c.MaxReadFails < 1 {
		return fmt.Errorf("max_read_fails must be at least 1, got %d", c.MaxReadFails)
	}
	return nil
}

func (m *Manager) load() error {
	data, err := os.ReadFile(m.configPath)
	if err != nil {
		return err
	}

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}

	m.config = cfg
	return nil
}

// Save writes the current configuration to disk
func (m *Manager) Save() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, err := yaml.Marshal(m.config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(m.configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// Get returns a copy of the current configuration
func (m *Manager) Get() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return *m.config
}

// GetConfigPath returns the path of the backing config file
func (m *Manager) GetConfigPath() string {
	return m.configPath
}

// Override applies fn to the in-memory configuration. Used for flag overrides;
// does not persist to disk.
func (m *Manager) Override(fn func(*Config)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(m.config)
	return m.config.Validate()
}
