package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/tspv.relay/internal/processor"
	"github.com/banshee-data/tspv.relay/internal/serialmux"
)

// ExampleConfigPath is the path to the documented example relay config.
const ExampleConfigPath = "config/relay.example.json"

// RelayConfig is the on-disk configuration of the relay. Every field is
// optional; the Get* methods supply defaults for anything left out.
type RelayConfig struct {
	// Sequencing
	HistoryWindow *int `json:"history_window,omitempty"`
	IntakeQueue   *int `json:"intake_queue,omitempty"`

	// Transport (only one of these is used)
	ListenUDP  *string                `json:"listen_udp,omitempty"`
	SerialPort *string                `json:"serial_port,omitempty"`
	Serial     *serialmux.PortOptions `json:"serial,omitempty"`

	// Recovery
	RecoveryAddr    *string `json:"recovery_addr,omitempty"`
	RecoveryTimeout *string `json:"recovery_timeout,omitempty"` // duration string like "50ms"

	// Sink and HTTP
	DBPath     *string `json:"db_path,omitempty"`
	HTTPListen *string `json:"http_listen,omitempty"`
	Debug      *bool   `json:"debug,omitempty"`
}

// LoadRelayConfig loads a RelayConfig from a JSON file. The path must have a
// .json extension and the file must be under 1MB.
func LoadRelayConfig(path string) (*RelayConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &RelayConfig{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration values are valid.
func (c *RelayConfig) Validate() error {
	if c.HistoryWindow != nil && (*c.HistoryWindow < 1 || *c.HistoryWindow > processor.MaxHistoryWindow) {
		return fmt.Errorf("history_window must be between 1 and %d, got %d", processor.MaxHistoryWindow, *c.HistoryWindow)
	}

	if c.IntakeQueue != nil && *c.IntakeQueue < 0 {
		return fmt.Errorf("intake_queue must be non-negative, got %d", *c.IntakeQueue)
	}

	if c.RecoveryTimeout != nil && *c.RecoveryTimeout != "" {
		d, err := time.ParseDuration(*c.RecoveryTimeout)
		if err != nil {
			return fmt.Errorf("invalid recovery_timeout '%s': %w", *c.RecoveryTimeout, err)
		}
		if d <= 0 {
			return fmt.Errorf("recovery_timeout must be positive, got %s", d)
		}
	}

	if c.Serial != nil {
		if _, err := c.Serial.Normalize(); err != nil {
			return fmt.Errorf("invalid serial options: %w", err)
		}
	}

	if c.ListenUDP != nil && *c.ListenUDP != "" && c.SerialPort != nil && *c.SerialPort != "" {
		return fmt.Errorf("listen_udp and serial_port are mutually exclusive")
	}

	return nil
}

// GetHistoryWindow returns the history_window value or the default of 4.
func (c *RelayConfig) GetHistoryWindow() int {
	if c.HistoryWindow == nil {
		return 4
	}
	return *c.HistoryWindow
}

// GetIntakeQueue returns the intake_queue value or the default.
func (c *RelayConfig) GetIntakeQueue() int {
	if c.IntakeQueue == nil {
		return 64
	}
	return *c.IntakeQueue
}

// GetListenUDP returns the listen_udp value or the default.
func (c *RelayConfig) GetListenUDP() string {
	if c.ListenUDP == nil {
		return ":5600"
	}
	return *c.ListenUDP
}

// GetSerialPort returns the serial_port value; empty means serial is unused.
func (c *RelayConfig) GetSerialPort() string {
	if c.SerialPort == nil {
		return ""
	}
	return *c.SerialPort
}

// GetSerial returns the serial options, normalized, or the defaults.
func (c *RelayConfig) GetSerial() serialmux.PortOptions {
	var opts serialmux.PortOptions
	if c.Serial != nil {
		opts = *c.Serial
	}
	normalized, err := opts.Normalize()
	if err != nil {
		normalized, _ = serialmux.PortOptions{}.Normalize()
	}
	return normalized
}

// GetRecoveryAddr returns the recovery_addr value; empty disables recovery.
func (c *RelayConfig) GetRecoveryAddr() string {
	if c.RecoveryAddr == nil {
		return ""
	}
	return *c.RecoveryAddr
}

// GetRecoveryTimeout parses and returns the RecoveryTimeout as a time.Duration.
func (c *RelayConfig) GetRecoveryTimeout() time.Duration {
	if c.RecoveryTimeout == nil || *c.RecoveryTimeout == "" {
		return 50 * time.Millisecond // default
	}
	d, err := time.ParseDuration(*c.RecoveryTimeout)
	if err != nil || d <= 0 {
		return 50 * time.Millisecond // default on parse error
	}
	return d
}

// GetDBPath returns the db_path value or the default.
func (c *RelayConfig) GetDBPath() string {
	if c.DBPath == nil || *c.DBPath == "" {
		return "tspv.db"
	}
	return *c.DBPath
}

// GetHTTPListen returns the http_listen value or the default.
func (c *RelayConfig) GetHTTPListen() string {
	if c.HTTPListen == nil {
		return ":8080"
	}
	return *c.HTTPListen
}

// GetDebug returns the debug value or false.
func (c *RelayConfig) GetDebug() bool {
	if c.Debug == nil {
		return false
	}
	return *c.Debug
}
