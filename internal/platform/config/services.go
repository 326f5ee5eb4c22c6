package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// LoadSubsystemConfig loads the subsystem toggle configuration from config/subsystems.yaml
func LoadSubsystemConfig() (*SubsystemConfig, error) {
	return LoadSubsystemConfigFromPath(filepath.Join("config", "subsystems.yaml"))
}

// LoadSubsystemConfigFromPath loads the subsystem configuration from a specific path
func LoadSubsystemConfigFromPath(path string) (*SubsystemConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read subsystem config: %w", err)
	}

	var cfg SubsystemConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse subsystem config: %w", err)
	}

	for id, settings := range cfg.Subsystems {
		if settings.Port == 0 {
			return nil, fmt.Errorf("subsystem %s: port is required", id)
		}
	}

	return &cfg, nil
}

// LoadSubsystemConfigOrDefault loads the subsystem config or returns the default
// (every subsystem enabled) if no file is present.
func LoadSubsystemConfigOrDefault() *SubsystemConfig {
	cfg, err := LoadSubsystemConfig()
	if err != nil {
		return DefaultSubsystemConfig()
	}
	return cfg
}

// DefaultSubsystemConfig returns the default subsystem configuration: every
// analytical-core subsystem (C2-C12) enabled with its conventional port.
func DefaultSubsystemConfig() *SubsystemConfig {
	return &SubsystemConfig{
		Subsystems: map[string]*SubsystemSettings{
			"collector": {
				Enabled:     true,
				Port:        8081,
				Description: "Per-chain block/transaction collector pool",
			},
			"risk": {
				Enabled:     true,
				Port:        8082,
				Description: "Deterministic address/entity/transaction risk scoring",
			},
			"pattern": {
				Enabled:     true,
				Port:        8083,
				Description: "Behavioural pattern detector",
			},
			"attribution": {
				Enabled:     true,
				Port:        8084,
				Description: "Entity attribution graph",
			},
			"evidence": {
				Enabled:     true,
				Port:        8085,
				Description: "Content-addressed evidence vault",
			},
			"cases": {
				Enabled:     true,
				Port:        8086,
				Description: "Forensic case store",
			},
			"compliance": {
				Enabled:     true,
				Port:        8087,
				Description: "Court-defensibility assessor",
			},
			"alerting": {
				Enabled:     true,
				Port:        8088,
				Description: "Alert rule engine",
			},
			"webhook": {
				Enabled:     true,
				Port:        8089,
				Description: "Webhook dispatcher",
			},
			"scheduler": {
				Enabled:     true,
				Port:        8090,
				Description: "Periodic sync scheduler",
			},
		},
	}
}
