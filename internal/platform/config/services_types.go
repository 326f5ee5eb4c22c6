package config

// SubsystemSettings holds configuration for a single analytical-core
// subsystem read from config/subsystems.yaml.
type SubsystemSettings struct {
	// Enabled determines if the subsystem should run.
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Port is the HTTP port the subsystem's status/debug surface binds to.
	Port int `yaml:"port" json:"port"`

	// Description is a human-readable description.
	Description string `yaml:"description" json:"description"`

	// Extra holds any additional subsystem-specific configuration.
	Extra map[string]any `yaml:"extra,omitempty" json:"extra,omitempty"`
}

// SubsystemConfig holds configuration for all analytical-core subsystems.
type SubsystemConfig struct {
	Subsystems map[string]*SubsystemSettings `yaml:"subsystems" json:"subsystems"`
}

// IsEnabled checks if a subsystem is enabled in the configuration.
// Returns false if the subsystem is not found in config.
func (c *SubsystemConfig) IsEnabled(id string) bool {
	if c == nil || c.Subsystems == nil {
		return false
	}
	settings, ok := c.Subsystems[id]
	if !ok {
		return false
	}
	return settings.Enabled
}

// GetSettings returns the settings for a subsystem.
// Returns nil if the subsystem is not found.
func (c *SubsystemConfig) GetSettings(id string) *SubsystemSettings {
	if c == nil || c.Subsystems == nil {
		return nil
	}
	return c.Subsystems[id]
}

// EnabledSubsystems returns a list of enabled subsystem IDs.
func (c *SubsystemConfig) EnabledSubsystems() []string {
	if c == nil || c.Subsystems == nil {
		return nil
	}
	var enabled []string
	for id, settings := range c.Subsystems {
		if settings.Enabled {
			enabled = append(enabled, id)
		}
	}
	return enabled
}

// DisabledSubsystems returns a list of disabled subsystem IDs.
func (c *SubsystemConfig) DisabledSubsystems() []string {
	if c == nil || c.Subsystems == nil {
		return nil
	}
	var disabled []string
	for id, settings := range c.Subsystems {
		if !settings.Enabled {
			disabled = append(disabled, id)
		}
	}
	return disabled
}
