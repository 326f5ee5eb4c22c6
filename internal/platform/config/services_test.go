package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultSubsystemConfig(t *testing.T) {
	cfg := DefaultSubsystemConfig()
	if cfg == nil {
		t.Fatal("DefaultSubsystemConfig() returned nil")
	}

	expectedSubsystems := []string{
		"collector",
		"risk",
		"pattern",
		"attribution",
		"evidence",
		"cases",
		"compliance",
		"alerting",
		"webhook",
		"scheduler",
	}

	for _, id := range expectedSubsystems {
		settings, ok := cfg.Subsystems[id]
		if !ok {
			t.Errorf("missing subsystem %q in default config", id)
			continue
		}
		if !settings.Enabled {
			t.Errorf("subsystem %q should be enabled by default", id)
		}
		if settings.Port == 0 {
			t.Errorf("subsystem %q has no port configured", id)
		}
		if settings.Description == "" {
			t.Errorf("subsystem %q has no description", id)
		}
	}
}

func TestLoadSubsystemConfigFromPath(t *testing.T) {
	t.Run("valid config", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "subsystems.yaml")

		configContent := `
subsystems:
  testsystem:
    enabled: true
    port: 8080
    description: "Test subsystem"
`
		if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
			t.Fatalf("failed to write test config: %v", err)
		}

		cfg, err := LoadSubsystemConfigFromPath(configPath)
		if err != nil {
			t.Fatalf("LoadSubsystemConfigFromPath() error = %v", err)
		}

		if cfg == nil {
			t.Fatal("LoadSubsystemConfigFromPath() returned nil")
		}

		sub, ok := cfg.Subsystems["testsystem"]
		if !ok {
			t.Fatal("testsystem not found in config")
		}
		if sub.Port != 8080 {
			t.Errorf("port = %d, want 8080", sub.Port)
		}
		if !sub.Enabled {
			t.Error("subsystem should be enabled")
		}
	})

	t.Run("missing port", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "subsystems.yaml")

		configContent := `
subsystems:
  testsystem:
    enabled: true
    description: "Test subsystem"
`
		if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
			t.Fatalf("failed to write test config: %v", err)
		}

		_, err := LoadSubsystemConfigFromPath(configPath)
		if err == nil {
			t.Error("expected error for missing port")
		}
	})

	t.Run("file not found", func(t *testing.T) {
		_, err := LoadSubsystemConfigFromPath("/nonexistent/path/subsystems.yaml")
		if err == nil {
			t.Error("expected error for missing file")
		}
	})

	t.Run("invalid yaml", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "subsystems.yaml")

		if err := os.WriteFile(configPath, []byte("invalid: yaml: content:"), 0644); err != nil {
			t.Fatalf("failed to write test config: %v", err)
		}

		_, err := LoadSubsystemConfigFromPath(configPath)
		if err == nil {
			t.Error("expected error for invalid yaml")
		}
	})
}

func TestLoadSubsystemConfigOrDefault(t *testing.T) {
	// This should return default config since config/subsystems.yaml likely doesn't exist in test
	cfg := LoadSubsystemConfigOrDefault()
	if cfg == nil {
		t.Fatal("LoadSubsystemConfigOrDefault() returned nil")
	}

	if len(cfg.Subsystems) == 0 {
		t.Error("expected non-empty subsystems map")
	}
}
