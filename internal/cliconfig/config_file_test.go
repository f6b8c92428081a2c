package cliconfig

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestApplyFileConfig(t *testing.T) {
	trueVal := true

	tests := []struct {
		name       string
		fileConfig FileConfig
		changed    map[string]bool
		initial    Config
		expected   Config
		wantErr    bool
	}{
		{
			name: "applies all valid config values",
			fileConfig: FileConfig{
				Scenario:     "power",
				Iterations:   5,
				DrainTimeout: "5s",
				WatchFlags:   &trueVal,
			},
			changed: map[string]bool{},
			initial: Config{},
			expected: Config{
				Scenario:     "power",
				Iterations:   5,
				DrainTimeout: 5 * time.Second,
				WatchFlags:   true,
			},
			wantErr: false,
		},
		{
			name: "respects changed flags",
			fileConfig: FileConfig{
				Scenario:  "wake",
				FlagStore: "sqlite",
			},
			changed: map[string]bool{"scenario": true},
			initial: Config{
				Scenario:  "stress",
				FlagStore: "memory",
			},
			expected: Config{
				Scenario:  "stress", // unchanged because flag was set
				FlagStore: "sqlite",
			},
			wantErr: false,
		},
		{
			name: "handles all field types correctly",
			fileConfig: FileConfig{
				LogLevel:         "debug",
				LogJSON:          &trueVal,
				Scenario:         "lifecycle",
				Iterations:       7,
				Workers:          2,
				Instance:         "dev1",
				Latency:          "2ms",
				FlagsFile:        "/tmp/flags.toml",
				FlagStore:        "toml",
				WatchFlags:       &trueVal,
				Capabilities:     "/tmp/caps.yaml",
				DeferredCapacity: 32,
				DrainTimeout:     "1m",
				MetricsAddr:      ":9100",
			},
			changed: map[string]bool{},
			initial: Config{},
			expected: Config{
				LogLevel:         "debug",
				LogJSON:          true,
				Scenario:         "lifecycle",
				Iterations:       7,
				Workers:          2,
				Instance:         "dev1",
				Latency:          2 * time.Millisecond,
				FlagsFile:        "/tmp/flags.toml",
				FlagStore:        "toml",
				WatchFlags:       true,
				Capabilities:     "/tmp/caps.yaml",
				DeferredCapacity: 32,
				DrainTimeout:     time.Minute,
				MetricsAddr:      ":9100",
			},
			wantErr: false,
		},
		{
			name: "returns error for invalid duration",
			fileConfig: FileConfig{
				DrainTimeout: "soon",
			},
			changed: map[string]bool{},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.initial
			err := ApplyFileConfig(&cfg, tt.fileConfig, tt.changed)

			if tt.wantErr && err == nil {
				t.Error("ApplyFileConfig() expected error but got nil")
				return
			}
			if !tt.wantErr && err != nil {
				t.Errorf("ApplyFileConfig() unexpected error: %v", err)
				return
			}

			if !tt.wantErr && cfg != tt.expected {
				t.Errorf("ApplyFileConfig() = %+v, want %+v", cfg, tt.expected)
			}
		})
	}
}

func TestLoadFileConfig(t *testing.T) {
	// Create a temporary TOML file
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "test-config.toml")

	tomlContent := `
scenario = "wake"
iterations = 3
flag_store = "toml"
flags_file = "/var/lib/pnpcoord/flags.toml"
drain_timeout = "10s"
watch_flags = true
`

	if err := os.WriteFile(configPath, []byte(tomlContent), 0644); err != nil {
		t.Fatalf("Failed to create test config file: %v", err)
	}

	fc, err := LoadFileConfig(configPath)
	if err != nil {
		t.Fatalf("LoadFileConfig() error = %v", err)
	}

	if fc.Scenario != "wake" {
		t.Errorf("Scenario = %v, want wake", fc.Scenario)
	}
	if fc.Iterations != 3 {
		t.Errorf("Iterations = %v, want 3", fc.Iterations)
	}
	if fc.FlagStore != "toml" {
		t.Errorf("FlagStore = %v, want toml", fc.FlagStore)
	}
	if fc.DrainTimeout != "10s" {
		t.Errorf("DrainTimeout = %v, want 10s", fc.DrainTimeout)
	}
	if fc.WatchFlags == nil || *fc.WatchFlags != true {
		t.Errorf("WatchFlags = %v, want true", fc.WatchFlags)
	}
}

func TestLoadFileConfig_InvalidFile(t *testing.T) {
	_, err := LoadFileConfig("/nonexistent/path/config.toml")
	if err == nil {
		t.Error("LoadFileConfig() expected error for nonexistent file")
	}
}

func TestLoadFileConfig_InvalidTOML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid.toml")

	invalidContent := `
scenario = "all"
this is not valid toml
`

	if err := os.WriteFile(configPath, []byte(invalidContent), 0644); err != nil {
		t.Fatalf("Failed to create test config file: %v", err)
	}

	_, err := LoadFileConfig(configPath)
	if err == nil {
		t.Error("LoadFileConfig() expected error for invalid TOML")
	}
}

func TestDefaultConfigPath(t *testing.T) {
	path := DefaultConfigPath()

	// Should return a path containing .pnpcoord
	if path != "" && !strings.Contains(path, ".pnpcoord") {
		t.Errorf("DefaultConfigPath() = %v, should contain .pnpcoord", path)
	}
}

func TestFileExists(t *testing.T) {
	tmpDir := t.TempDir()
	existingFile := filepath.Join(tmpDir, "exists.txt")

	if err := os.WriteFile(existingFile, []byte("test"), 0644); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}

	if !FileExists(existingFile) {
		t.Error("FileExists() = false, want true for existing file")
	}

	if FileExists(filepath.Join(tmpDir, "nonexistent.txt")) {
		t.Error("FileExists() = true, want false for nonexistent file")
	}
}
