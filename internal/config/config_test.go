package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetEnvironment(t *testing.T) {
	// Table-driven test cases
	tests := []struct {
		name          string
		inputEnv      string
		expectedName  string
		expectedAddr  string
		expectedQCap  int
		expectDefault bool // If true, we expect the fallback (local) config
	}{
		{
			name:         "Get local environment",
			inputEnv:     "local",
			expectedName: "LOCAL",
			expectedAddr: "localhost:" + ServerPort,
			expectedQCap: 50,
		},
		{
			name:         "Get remote environment",
			inputEnv:     "remote",
			expectedName: "REMOTO",
			expectedAddr: "0.0.0.0:" + ServerPort,
			expectedQCap: 50,
		},
		{
			name:          "Get unknown environment (defaults to local)",
			inputEnv:      "unknown_env",
			expectedName:  "LOCAL",
			expectedAddr:  "localhost:" + ServerPort,
			expectedQCap:  50,
			expectDefault: true,
		},
		{
			name:          "Get empty environment (defaults to local)",
			inputEnv:      "",
			expectedName:  "LOCAL",
			expectedAddr:  "localhost:" + ServerPort,
			expectedQCap:  50,
			expectDefault: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := GetEnvironment(tt.inputEnv)

			if got.Name != tt.expectedName {
				t.Errorf("GetEnvironment(%q).Name = %q; want %q", tt.inputEnv, got.Name, tt.expectedName)
			}
			if got.ListenAddr != tt.expectedAddr {
				t.Errorf("GetEnvironment(%q).ListenAddr = %q; want %q", tt.inputEnv, got.ListenAddr, tt.expectedAddr)
			}
			if got.QueueCapacity != tt.expectedQCap {
				t.Errorf("GetEnvironment(%q).QueueCapacity = %d; want %d", tt.inputEnv, got.QueueCapacity, tt.expectedQCap)
			}
			if got.ReadTimeout == 0 || got.WriteTimeout == 0 {
				t.Errorf("GetEnvironment(%q) has zero timeouts", tt.inputEnv)
			}
			if err := got.Validate(); err != nil {
				t.Errorf("GetEnvironment(%q).Validate() = %v", tt.inputEnv, err)
			}

			if tt.expectDefault {
				localCfg := environments["local"]
				if got.Name != localCfg.Name {
					t.Errorf("GetEnvironment(%q) did not return local config as default", tt.inputEnv)
				}
			}
		})
	}
}

func TestEnvironment_LogPath(t *testing.T) {
	env := Environment{
		ServiceName: "TestService",
	}
	programData := "/var/lib"
	expected := filepath.Join(programData, "TestService", "TestService.log")

	got := env.LogPath(programData)

	if got != expected {
		t.Errorf("LogPath(%q) = %q; want %q", programData, got, expected)
	}
}

func TestLoadWithoutFile(t *testing.T) {
	got, err := Load("remote", t.TempDir())
	require.NoError(t, err)
	want := GetEnvironment("remote")
	assert.Empty(t, got.ConfigFile)
	assert.Equal(t, want.ListenAddr, got.ListenAddr)
	assert.Equal(t, want.Delivery.Methods, got.Delivery.Methods)
	assert.Equal(t, want.Poller, got.Poller)
	assert.Equal(t, BackendMemory, got.Queue.Backend)
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	yaml := `
listen_addr: "127.0.0.1:9000"
printer:
  default: "Kitchen"
  candidates: ["EPSON TM-T20", "POS-80"]
  paper: "58mm"
delivery:
  methods: [raw, spooler]
  timeout: 3s
  raw_addresses:
    kitchen: "10.0.0.7:9100"
poller:
  interval: 500ms
  workers: 3
queue:
  backend: sql
  dsn: "file::memory:"
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName+".yaml"), []byte(yaml), 0o600))
	t.Setenv("RECEIPT_POLLER_WORKERS", "5")
	t.Setenv("RECEIPT_ALLOWED_ORIGINS", "https://pos.example.com,http://localhost:*")

	got, err := Load("remote", dir)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, FileName+".yaml"), got.ConfigFile)
	assert.Equal(t, "127.0.0.1:9000", got.ListenAddr)
	assert.Equal(t, "Kitchen", got.Printer.Default)
	assert.Equal(t, []string{"EPSON TM-T20", "POS-80"}, got.Printer.Candidates)
	assert.Equal(t, "58", got.Printer.Paper)
	assert.Equal(t, []string{"raw", "spooler"}, got.Delivery.Methods)
	assert.Equal(t, 3*time.Second, got.Delivery.Timeout)
	assert.Equal(t, map[string]string{"kitchen": "10.0.0.7:9100"}, got.Delivery.RawAddresses)
	assert.Equal(t, 500*time.Millisecond, got.Poller.Interval)
	assert.Equal(t, 5, got.Poller.Workers, "environment wins over file")
	assert.Equal(t, []string{"https://pos.example.com", "http://localhost:*"}, got.AllowedOrigins)
	assert.Equal(t, BackendSQL, got.Queue.Backend)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"bad paper", "RECEIPT_PRINTER_PAPER", "100"},
		{"unknown backend", "RECEIPT_QUEUE_BACKEND", "redis"},
		{"http without url", "RECEIPT_QUEUE_BACKEND", "http"},
		{"zero interval", "RECEIPT_POLLER_INTERVAL", "0s"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)
			_, err := Load("local")
			assert.Error(t, err)
		})
	}
}
