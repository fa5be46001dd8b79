package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/tspv.relay/internal/serialmux"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestRelayConfig_Defaults(t *testing.T) {
	cfg := &RelayConfig{}

	assert.Equal(t, 4, cfg.GetHistoryWindow())
	assert.Equal(t, 64, cfg.GetIntakeQueue())
	assert.Equal(t, ":5600", cfg.GetListenUDP())
	assert.Equal(t, "", cfg.GetSerialPort())
	assert.Equal(t, "", cfg.GetRecoveryAddr())
	assert.Equal(t, 50*time.Millisecond, cfg.GetRecoveryTimeout())
	assert.Equal(t, "tspv.db", cfg.GetDBPath())
	assert.Equal(t, ":8080", cfg.GetHTTPListen())
	assert.False(t, cfg.GetDebug())
	assert.Equal(t, serialmux.PortOptions{BaudRate: 19200, DataBits: 8, StopBits: 1, Parity: "N"}, cfg.GetSerial())
	assert.NoError(t, cfg.Validate())
}

func TestLoadRelayConfig(t *testing.T) {
	path := writeConfig(t, "relay.json", `{
  "history_window": 8,
  "serial_port": "/dev/ttyUSB0",
  "listen_udp": "",
  "serial": {"baud_rate": 115200, "parity": "even"},
  "recovery_addr": "10.0.0.2:5601",
  "recovery_timeout": "20ms",
  "debug": true
}`)

	cfg, err := LoadRelayConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.GetHistoryWindow())
	assert.Equal(t, "/dev/ttyUSB0", cfg.GetSerialPort())
	assert.Equal(t, "", cfg.GetListenUDP())
	assert.Equal(t, "10.0.0.2:5601", cfg.GetRecoveryAddr())
	assert.Equal(t, 20*time.Millisecond, cfg.GetRecoveryTimeout())
	assert.True(t, cfg.GetDebug())
	assert.Equal(t, serialmux.PortOptions{BaudRate: 115200, DataBits: 8, StopBits: 1, Parity: "E"}, cfg.GetSerial())
	// unset fields keep defaults
	assert.Equal(t, "tspv.db", cfg.GetDBPath())
}

func TestLoadRelayConfig_Errors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		body    string
		wantErr string
	}{
		{"wrong extension", "relay.yaml", `{}`, ".json extension"},
		{"bad json", "relay.json", `{"history_window":`, "failed to parse config JSON"},
		{"window too small", "relay.json", `{"history_window": 0}`, "history_window"},
		{"window too large", "relay.json", `{"history_window": 300}`, "history_window"},
		{"window above max", "relay.json", `{"history_window": 17}`, "between 1 and 16"},
		{"negative queue", "relay.json", `{"intake_queue": -1}`, "intake_queue"},
		{"bad timeout", "relay.json", `{"recovery_timeout": "soon"}`, "recovery_timeout"},
		{"zero timeout", "relay.json", `{"recovery_timeout": "0s"}`, "recovery_timeout"},
		{"bad parity", "relay.json", `{"serial": {"parity": "X"}}`, "serial options"},
		{"two transports", "relay.json", `{"listen_udp": ":1", "serial_port": "/dev/x"}`, "mutually exclusive"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadRelayConfig(writeConfig(t, tt.file, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadRelayConfig_MissingAndLarge(t *testing.T) {
	_, err := LoadRelayConfig(filepath.Join(t.TempDir(), "missing.json"))
	assert.ErrorContains(t, err, "failed to stat")

	big := writeConfig(t, "big.json", `{"db_path": "`+strings.Repeat("a", 2*1024*1024)+`"}`)
	_, err = LoadRelayConfig(big)
	assert.ErrorContains(t, err, "too large")
}

func TestLoadRelayConfig_Example(t *testing.T) {
	cfg, err := LoadRelayConfig(filepath.Join("..", "..", ExampleConfigPath))
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.GetHistoryWindow())
	assert.Equal(t, "127.0.0.1:5601", cfg.GetRecoveryAddr())
}
