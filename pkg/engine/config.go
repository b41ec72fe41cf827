package engine

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds the per-session optimizer options.
type Config struct {
	Level         int   `yaml:"optimization_level"`
	DisabledFlags []int `yaml:"disabled_flags"`
	MaxPasses     int   `yaml:"max_passes"`
	MaxRewrites   int   `yaml:"max_rewrites_per_unit"`
	Trace         bool  `yaml:"trace"`
}

// DefaultConfig returns the standard session options.
func DefaultConfig() Config {
	return Config{
		Level:       1,
		MaxPasses:   32,
		MaxRewrites: 4096,
	}
}

// normalize fills zero or negative caps (MaxPasses, MaxRewrites) with
// defaults so a partially specified Config behaves. Level 0 is a valid
// level and is kept; a negative level becomes 0.
func (c Config) normalize() Config {
	d := DefaultConfig()
	if c.MaxPasses <= 0 {
		c.MaxPasses = d.MaxPasses
	}
	if c.MaxRewrites <= 0 {
		c.MaxRewrites = d.MaxRewrites
	}
	if c.Level < 0 {
		c.Level = 0
	}
	return c
}

func (c Config) disabledSet() map[int]bool {
	if len(c.DisabledFlags) == 0 {
		return nil
	}
	m := make(map[int]bool, len(c.DisabledFlags))
	for _, f := range c.DisabledFlags {
		m[f] = true
	}
	return m
}

// LoadConfig reads a YAML session config. Unknown keys are errors.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg := DefaultConfig()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg.normalize(), nil
}
