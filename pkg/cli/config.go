package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// UserConfig represents ~/.tap/config.yaml.
type UserConfig struct {
	CurrentProfile string             `yaml:"current-profile"`
	Profiles       map[string]Profile `yaml:"profiles"`
}

// Profile represents a single named configuration profile.
type Profile struct {
	URL      string `yaml:"url,omitempty" json:"url,omitempty"`
	Output   string `yaml:"output,omitempty" json:"output,omitempty"`
	ClientID string `yaml:"client-id,omitempty" json:"client_id,omitempty"`
	User     string `yaml:"user,omitempty" json:"user,omitempty"`
	Cookie   string `yaml:"cookie,omitempty" json:"cookie,omitempty"`
}

// ActiveProfileName returns the override when set, then the current
// profile, then "default".
func (c *UserConfig) ActiveProfileName(override string) string {
	switch {
	case override != "":
		return override
	case c.CurrentProfile != "":
		return c.CurrentProfile
	}
	return "default"
}

// ActiveProfile returns the profile to use based on the override or current-profile.
func (c *UserConfig) ActiveProfile(override string) Profile {
	return c.Profiles[c.ActiveProfileName(override)]
}

// ConfigDir returns the path to ~/.tap/.
func ConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".tap")
}

// ConfigPath returns the path to ~/.tap/config.yaml.
func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// LoadUserConfig reads ~/.tap/config.yaml.
func LoadUserConfig() (*UserConfig, error) {
	data, err := os.ReadFile(ConfigPath())
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg UserConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.Profiles == nil {
		cfg.Profiles = map[string]Profile{}
	}
	return &cfg, nil
}

// loadOrEmptyUserConfig returns the stored config, or an empty one when
// none can be read.
func loadOrEmptyUserConfig() *UserConfig {
	cfg, err := LoadUserConfig()
	if err != nil {
		return &UserConfig{CurrentProfile: "default", Profiles: map[string]Profile{}}
	}
	return cfg
}

// SaveUserConfig writes ~/.tap/config.yaml. The file holds session cookies
// and is private to the user.
func SaveUserConfig(cfg *UserConfig) error {
	dir := ConfigDir()
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(ConfigPath(), data, 0o600)
}

// updateProfile applies fn to the named profile and saves the config.
func updateProfile(name string, fn func(p *Profile)) error {
	cfg := loadOrEmptyUserConfig()
	if cfg.CurrentProfile == "" {
		cfg.CurrentProfile = name
	}
	p := cfg.Profiles[name]
	fn(&p)
	cfg.Profiles[name] = p
	return SaveUserConfig(cfg)
}
