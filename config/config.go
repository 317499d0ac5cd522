// Package config
// Author: momentics <momentics@gmail.com>
//
// Config is a read-only key -> string/number oracle consulted at daemon
// startup, backed by a YAML document. Unknown keys and type mismatches
// fall back to the caller-supplied default rather than erroring, matching
// the framework's "typed read-only key lookup with default fallback"
// contract.
package config

import (
	"os"
	"sync"

	"gopkg.in/yaml.v2"
)

// Config wraps a parsed YAML document as a flat key->value oracle.
type Config struct {
	mu     sync.RWMutex
	values map[string]any
}

// New returns an empty Config; every Get falls back to its default until
// Load populates it.
func New() *Config {
	return &Config{values: make(map[string]any)}
}

// Load parses a YAML document from path and replaces the current contents.
// A missing file is not an error: every key simply falls back to its
// default, mirroring the framework's "all optional, with defaults" policy
// for the database_* keys.
func Load(path string) (*Config, error) {
	c := New()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return c, nil
		}
		return nil, err
	}
	raw := make(map[string]any)
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	c.values = raw
	return c, nil
}

func (c *Config) lookup(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.values[key]
	return v, ok
}

// Set stores a value programmatically, useful for tests and for wiring
// values that don't come from disk.
func (c *Config) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = value
}

// GetString returns the string value for key, or def if absent or of a
// different type.
func (c *Config) GetString(key, def string) string {
	if c == nil {
		return def
	}
	if v, ok := c.lookup(key); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return def
}

// GetInt returns the integer value for key, accepting the int/int64
// widening yaml.v2 produces depending on document size, or def if absent
// or of a different type.
func (c *Config) GetInt(key string, def int) int {
	if c == nil {
		return def
	}
	if v, ok := c.lookup(key); ok {
		switch n := v.(type) {
		case int:
			return n
		case int64:
			return int(n)
		}
	}
	return def
}

// GetBool returns the boolean value for key, or def if absent or of a
// different type.
func (c *Config) GetBool(key string, def bool) bool {
	if c == nil {
		return def
	}
	if v, ok := c.lookup(key); ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return def
}
