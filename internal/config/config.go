// Package config loads and validates the historian configuration: the
// connection descriptor (dialect type plus dialect-specific connect
// parameters) and the optional table-naming descriptor.
package config

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/gridscope/historian/internal/storage"
)

// Config is the top-level historian configuration.
type Config struct {
	Connection Connection `yaml:"connection"`
	Tables     Tables     `yaml:"tables"`

	// ReadOnly skips schema bootstrap; useful for query-only deployments
	// pointed at a store another instance writes.
	ReadOnly bool `yaml:"readonly"`
}

// Connection describes which dialect to use and how to connect to it.
type Connection struct {
	Type   string         `yaml:"type"`
	Params map[string]any `yaml:"params"`
}

// Tables carries the optional table-naming descriptor. If topics and
// metadata base names coincide, the backend treats them as co-located.
type Tables struct {
	TablePrefix string `yaml:"table_prefix"`
	DataTable   string `yaml:"data_table"`
	TopicsTable string `yaml:"topics_table"`
	MetaTable   string `yaml:"meta_table"`
}

// Load reads and validates a YAML configuration file. Unknown fields are
// rejected.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes and validates YAML configuration bytes.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the required connection fields.
func (c *Config) Validate() error {
	if c.Connection.Type == "" {
		return fmt.Errorf("config: connection.type is required")
	}
	if len(c.Connection.Params) == 0 {
		return fmt.Errorf("config: connection.params is required")
	}
	return nil
}

// TableNames resolves the configured naming descriptor to the full physical
// table set.
func (t Tables) TableNames() storage.TableNames {
	return storage.NewTableNames(t.TablePrefix, t.DataTable, t.TopicsTable, t.MetaTable)
}

// secretKeys are the parameter names whose values never reach the logs.
var secretKeys = []string{"pass", "passwd", "password", "pw"}

// LogValue renders the connection descriptor for structured logging with
// password-like parameters masked.
func (c Connection) LogValue() slog.Value {
	attrs := make([]slog.Attr, 0, len(c.Params)+1)
	attrs = append(attrs, slog.String("type", c.Type))
	for k, v := range c.Params {
		if isSecret(k) {
			attrs = append(attrs, slog.String(k, "********"))
			continue
		}
		attrs = append(attrs, slog.Any(k, v))
	}
	return slog.GroupValue(attrs...)
}

func isSecret(key string) bool {
	for _, s := range secretKeys {
		if key == s {
			return true
		}
	}
	return false
}
