// Package config loads the engine's on-disk configuration: where its data
// files live, a session slot count checked against the dispatcher's fixed
// pool size, the listen address for its HTTP acceptor, and the table definitions that
// pkg/schema turns into open tables at startup.
//
// Example Usage:
//
//	cfg, err := config.Load("dlex.yaml")
//	if err != nil {
//		log.Fatal(err)
//	}
//	for name, def := range cfg.Tables {
//		tbl, err := schema.ParseDefinition(name, def)
//		...
//	}
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/papiermache/dlex/pkg/session"
)

// Config is the engine's full on-disk configuration.
type Config struct {
	// DataDir holds one `<table>.dat` file per table.
	DataDir string `yaml:"data_dir"`

	// ListenAddress is the HTTP acceptor's bind address, e.g. ":8080".
	ListenAddress string `yaml:"listen_address"`

	// SessionSlots is validated to be at most session.SlotCount; zero or
	// negative means session.SlotCount. The dispatcher does not read it:
	// its pool is always session.SlotCount slots.
	SessionSlots int `yaml:"session_slots"`

	// Tables maps table name to its wire-level definition map, the same
	// shape schema.ParseDefinition consumes.
	Tables map[string]map[string]string `yaml:"tables"`
}

// Load reads and validates a YAML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports the first structural problem with cfg, if any, and
// fills in defaults for fields left at their zero value.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("config: data_dir is required")
	}
	if c.ListenAddress == "" {
		c.ListenAddress = ":8080"
	}
	if c.SessionSlots <= 0 {
		c.SessionSlots = session.SlotCount
	}
	if c.SessionSlots > session.SlotCount {
		return fmt.Errorf("config: session_slots %d exceeds the dispatcher's fixed slot count %d", c.SessionSlots, session.SlotCount)
	}
	if len(c.Tables) == 0 {
		return fmt.Errorf("config: at least one table must be defined")
	}
	for name, def := range c.Tables {
		if name == "" {
			return fmt.Errorf("config: table name cannot be empty")
		}
		if len(def) == 0 {
			return fmt.Errorf("config: table %q has no column or permission entries", name)
		}
	}
	return nil
}
