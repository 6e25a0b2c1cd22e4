package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models cleanline.yml.
type Config struct {
	Facility struct {
		Name     string `yaml:"name"`
		Timezone string `yaml:"timezone"`
	} `yaml:"facility"`
	Session struct {
		// nil means unset; an explicit 0 makes every session completable.
		CompletionThreshold *int `yaml:"completion_threshold"`
	} `yaml:"session"`
	Polling struct {
		IntervalSeconds int `yaml:"interval_seconds"`
	} `yaml:"polling"`
	Auth struct {
		AccessTokenTTLMinutes int `yaml:"access_token_ttl_minutes"`
		RefreshTokenTTLHours  int `yaml:"refresh_token_ttl_hours"`
	} `yaml:"auth"`
	Catalogue []CatalogueRoom `yaml:"catalogue"`
}

// CatalogueRoom seeds a room and its recurring tasks at init time.
type CatalogueRoom struct {
	Name  string          `yaml:"name"`
	Floor string          `yaml:"floor"`
	Tasks []CatalogueTask `yaml:"tasks"`
}

type CatalogueTask struct {
	Name          string `yaml:"name"`
	Description   string `yaml:"description"`
	Frequency     string `yaml:"frequency"`
	SuggestedTime string `yaml:"suggested_time"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; run cleanline init first", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

var validFrequencies = map[string]bool{"daily": true, "weekly": true, "monthly": true}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Facility.Name == "" {
		return fmt.Errorf("config.facility.name is required")
	}
	if t := c.Session.CompletionThreshold; t != nil && (*t < 0 || *t > 100) {
		return fmt.Errorf("config.session.completion_threshold must be between 0 and 100")
	}
	if c.Polling.IntervalSeconds < 0 {
		return fmt.Errorf("config.polling.interval_seconds must not be negative")
	}
	if c.Auth.AccessTokenTTLMinutes < 0 {
		return fmt.Errorf("config.auth.access_token_ttl_minutes must not be negative")
	}
	if c.Auth.RefreshTokenTTLHours < 0 {
		return fmt.Errorf("config.auth.refresh_token_ttl_hours must not be negative")
	}
	seen := map[string]bool{}
	for _, room := range c.Catalogue {
		if room.Name == "" {
			return fmt.Errorf("config.catalogue contains a room without a name")
		}
		if seen[room.Name] {
			return fmt.Errorf("config.catalogue room %s listed twice", room.Name)
		}
		seen[room.Name] = true
		for _, task := range room.Tasks {
			if task.Name == "" {
				return fmt.Errorf("room %s has a task without a name", room.Name)
			}
			if task.Frequency != "" && !validFrequencies[task.Frequency] {
				return fmt.Errorf("task %s in room %s has invalid frequency %s", task.Name, room.Name, task.Frequency)
			}
		}
	}
	return nil
}

// CompletionThreshold returns the configured session completion threshold,
// falling back to 80 percent when unset. A configured 0 is honored.
func (c *Config) CompletionThreshold() int {
	if c == nil || c.Session.CompletionThreshold == nil {
		return 80
	}
	return *c.Session.CompletionThreshold
}

// PollInterval returns the configured polling interval in seconds, falling
// back to 15 when unset.
func (c *Config) PollInterval() int {
	if c == nil || c.Polling.IntervalSeconds == 0 {
		return 15
	}
	return c.Polling.IntervalSeconds
}

// AccessTokenTTLMinutes falls back to 15 minutes when unset.
func (c *Config) AccessTokenTTL() int {
	if c == nil || c.Auth.AccessTokenTTLMinutes == 0 {
		return 15
	}
	return c.Auth.AccessTokenTTLMinutes
}

// RefreshTokenTTL falls back to 720 hours (30 days) when unset.
func (c *Config) RefreshTokenTTL() int {
	if c == nil || c.Auth.RefreshTokenTTLHours == 0 {
		return 720
	}
	return c.Auth.RefreshTokenTTLHours
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "cleanline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(facilityName string) string {
	return fmt.Sprintf(defaultTemplate, facilityName)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct for a facility.
func Default(facilityName string) *Config {
	var cfg Config
	cfg.Facility.Name = facilityName
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, facilityName))).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `facility:
  name: %s
  timezone: Europe/Paris

session:
  completion_threshold: 80

polling:
  interval_seconds: 15

auth:
  access_token_ttl_minutes: 15
  refresh_token_ttl_hours: 720

catalogue:
  - name: Kitchen
    floor: ground
    tasks:
      - name: Clean worktops
        frequency: daily
        suggested_time: "08:00"
      - name: Mop floor
        frequency: daily
        suggested_time: "18:00"
      - name: Descale coffee machine
        frequency: weekly

  - name: Bathroom
    floor: ground
    tasks:
      - name: Disinfect sanitary fittings
        frequency: daily
        suggested_time: "09:00"
      - name: Restock supplies
        frequency: daily

  - name: Meeting room
    floor: first
    tasks:
      - name: Wipe tables
        frequency: daily
      - name: Clean windows
        frequency: monthly
`
