package main

import (
	"os"
	"testing"
	"time"
)

func TestGetEnv(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue string
		envValue     string
		want         string
	}{
		{
			name:         "returns environment variable when set",
			key:          "TEST_VAR",
			defaultValue: "default",
			envValue:     "custom",
			want:         "custom",
		},
		{
			name:         "returns default when environment variable not set",
			key:          "UNSET_VAR",
			defaultValue: "default",
			envValue:     "",
			want:         "default",
		},
		{
			name:         "handles empty string environment variable",
			key:          "EMPTY_VAR",
			defaultValue: "default",
			envValue:     "",
			want:         "default",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Set or unset environment variable
			if tt.envValue != "" {
				os.Setenv(tt.key, tt.envValue)
				defer os.Unsetenv(tt.key)
			} else {
				os.Unsetenv(tt.key)
			}

			got := getEnv(tt.key, tt.defaultValue)
			if got != tt.want {
				t.Errorf("getEnv() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetEnvInt(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue int
		envValue     string
		want         int
	}{
		{
			name:         "returns parsed integer when valid",
			key:          "TEST_INT",
			defaultValue: 10,
			envValue:     "42",
			want:         42,
		},
		{
			name:         "returns default when environment variable not set",
			key:          "UNSET_INT",
			defaultValue: 10,
			envValue:     "",
			want:         10,
		},
		{
			name:         "returns default when environment variable is invalid",
			key:          "INVALID_INT",
			defaultValue: 10,
			envValue:     "not_a_number",
			want:         10,
		},
		{
			name:         "handles zero value",
			key:          "ZERO_INT",
			defaultValue: 10,
			envValue:     "0",
			want:         0,
		},
		{
			name:         "handles negative value",
			key:          "NEG_INT",
			defaultValue: 10,
			envValue:     "-5",
			want:         -5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Set or unset environment variable
			if tt.envValue != "" {
				os.Setenv(tt.key, tt.envValue)
				defer os.Unsetenv(tt.key)
			} else {
				os.Unsetenv(tt.key)
			}

			got := getEnvInt(tt.key, tt.defaultValue)
			if got != tt.want {
				t.Errorf("getEnvInt() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestConfigFromEnvDefaults(t *testing.T) {
	os.Unsetenv("WORKER_ID")
	os.Unsetenv("WORKER_CAPABILITIES")
	os.Unsetenv("REUSE_SESSIONS")
	os.Unsetenv("HEARTBEAT_INTERVAL_SEC")

	cfg := configFromEnv()
	if cfg.WorkerID != defaultWorkerID {
		t.Errorf("Expected worker id %s, got %s", defaultWorkerID, cfg.WorkerID)
	}
	if len(cfg.Capabilities) != 0 {
		t.Errorf("Expected no capabilities, got %v", cfg.Capabilities)
	}
	if cfg.ReuseSessions {
		t.Error("Expected session reuse to be off by default")
	}
	if cfg.HeartbeatInterval != 30*time.Second {
		t.Errorf("Expected 30s heartbeat, got %v", cfg.HeartbeatInterval)
	}
}

func TestConfigFromEnvOverrides(t *testing.T) {
	t.Setenv("WORKER_ID", "w-9")
	t.Setenv("WORKER_CAPABILITIES", "go, python,,lint ")
	t.Setenv("REUSE_SESSIONS", "true")
	t.Setenv("HEARTBEAT_INTERVAL_SEC", "5")

	cfg := configFromEnv()
	if cfg.WorkerID != "w-9" {
		t.Errorf("Expected worker id w-9, got %s", cfg.WorkerID)
	}
	want := []string{"go", "python", "lint"}
	if len(cfg.Capabilities) != len(want) {
		t.Fatalf("Expected capabilities %v, got %v", want, cfg.Capabilities)
	}
	for i := range want {
		if cfg.Capabilities[i] != want[i] {
			t.Errorf("Expected capability %s at %d, got %s", want[i], i, cfg.Capabilities[i])
		}
	}
	if !cfg.ReuseSessions {
		t.Error("Expected session reuse to be on")
	}
	if cfg.HeartbeatInterval != 5*time.Second {
		t.Errorf("Expected 5s heartbeat, got %v", cfg.HeartbeatInterval)
	}
}
