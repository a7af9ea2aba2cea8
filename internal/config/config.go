// Package config loads and validates the caching layer's
// configuration from YAML files and OBJCACHE_* environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// Configuration represents the complete caching-layer configuration.
type Configuration struct {
	Cache   CacheConfig   `yaml:"cache"`
	Memory  MemoryConfig  `yaml:"memory"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// CacheConfig tunes the cache engine and the facade.
type CacheConfig struct {
	// CapacityFloor and CapacityCeiling bound the capacity target,
	// as human-readable sizes ("64MB", "8GB").
	CapacityFloor   string `yaml:"capacity_floor"`
	CapacityCeiling string `yaml:"capacity_ceiling"`

	// CacheWholeReads and CacheRangedReads enable caching per read
	// kind.
	CacheWholeReads  bool `yaml:"cache_whole_reads"`
	CacheRangedReads bool `yaml:"cache_ranged_reads"`

	// EvictionSamples is how many LRU-tail entries are scored per
	// eviction step.
	EvictionSamples int `yaml:"eviction_samples"`
}

// MemoryConfig tunes the memory monitor.
type MemoryConfig struct {
	// Fraction of available system memory to target for the cache.
	Fraction float64 `yaml:"fraction"`

	// SampleInterval between telemetry reads.
	SampleInterval time.Duration `yaml:"sample_interval"`

	// MinResizeDelta is the relative capacity change below which a
	// resize is skipped.
	MinResizeDelta float64 `yaml:"min_resize_delta"`
}

// MetricsConfig tunes the Prometheus endpoint.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Port      int    `yaml:"port"`
	Path      string `yaml:"path"`
	Namespace string `yaml:"namespace"`
}

// NewDefault returns a configuration with sensible defaults.
func NewDefault() *Configuration {
	return &Configuration{
		Cache: CacheConfig{
			CapacityFloor:    "64MB",
			CapacityCeiling:  "8GB",
			CacheWholeReads:  true,
			CacheRangedReads: true,
			EvictionSamples:  8,
		},
		Memory: MemoryConfig{
			Fraction:       0.6,
			SampleInterval: 5 * time.Second,
			MinResizeDelta: 0.05,
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Port:      9145,
			Path:      "/metrics",
			Namespace: "objcache",
		},
	}
}

// LoadFromFile loads configuration from a YAML file.
func (c *Configuration) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

// LoadFromEnv overrides configuration from environment variables.
func (c *Configuration) LoadFromEnv() error {
	if val := os.Getenv("OBJCACHE_CAPACITY_FLOOR"); val != "" {
		c.Cache.CapacityFloor = val
	}
	if val := os.Getenv("OBJCACHE_CAPACITY_CEILING"); val != "" {
		c.Cache.CapacityCeiling = val
	}
	if val := os.Getenv("OBJCACHE_CACHE_WHOLE_READS"); val != "" {
		c.Cache.CacheWholeReads = strings.ToLower(val) == "true"
	}
	if val := os.Getenv("OBJCACHE_CACHE_RANGED_READS"); val != "" {
		c.Cache.CacheRangedReads = strings.ToLower(val) == "true"
	}
	if val := os.Getenv("OBJCACHE_MEMORY_FRACTION"); val != "" {
		if fraction, err := strconv.ParseFloat(val, 64); err == nil {
			c.Memory.Fraction = fraction
		}
	}
	if val := os.Getenv("OBJCACHE_SAMPLE_INTERVAL"); val != "" {
		if interval, err := time.ParseDuration(val); err == nil {
			c.Memory.SampleInterval = interval
		}
	}
	if val := os.Getenv("OBJCACHE_METRICS_ENABLED"); val != "" {
		c.Metrics.Enabled = strings.ToLower(val) == "true"
	}
	if val := os.Getenv("OBJCACHE_METRICS_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			c.Metrics.Port = port
		}
	}
	return nil
}

// FloorBytes returns the parsed capacity floor.
func (c *Configuration) FloorBytes() (int64, error) {
	return ParseSize(c.Cache.CapacityFloor)
}

// CeilingBytes returns the parsed capacity ceiling.
func (c *Configuration) CeilingBytes() (int64, error) {
	return ParseSize(c.Cache.CapacityCeiling)
}

// Validate validates the configuration.
func (c *Configuration) Validate() error {
	floor, err := c.FloorBytes()
	if err != nil {
		return fmt.Errorf("invalid capacity_floor: %w", err)
	}
	ceiling, err := c.CeilingBytes()
	if err != nil {
		return fmt.Errorf("invalid capacity_ceiling: %w", err)
	}
	if floor <= 0 {
		return fmt.Errorf("capacity_floor must be greater than 0")
	}
	if ceiling < floor {
		return fmt.Errorf("capacity_ceiling (%d) must be >= capacity_floor (%d)", ceiling, floor)
	}
	if c.Memory.Fraction <= 0 || c.Memory.Fraction > 1 {
		return fmt.Errorf("memory fraction must be in (0, 1], got %v", c.Memory.Fraction)
	}
	if c.Memory.SampleInterval <= 0 {
		return fmt.Errorf("sample_interval must be greater than 0")
	}
	if c.Cache.EvictionSamples < 0 {
		return fmt.Errorf("eviction_samples must not be negative")
	}
	return nil
}

// ParseSize parses a human-readable size string like "512MB" or "2GB"
// into bytes. A bare number is taken as bytes.
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(strings.ToUpper(s))
	if s == "" {
		return 0, fmt.Errorf("empty size")
	}

	multipliers := []struct {
		suffix string
		factor int64
	}{
		{"TB", 1 << 40},
		{"GB", 1 << 30},
		{"MB", 1 << 20},
		{"KB", 1 << 10},
		{"B", 1},
	}

	for _, m := range multipliers {
		if strings.HasSuffix(s, m.suffix) {
			num := strings.TrimSpace(strings.TrimSuffix(s, m.suffix))
			value, err := strconv.ParseFloat(num, 64)
			if err != nil {
				return 0, fmt.Errorf("invalid size %q: %w", s, err)
			}
			if value < 0 {
				return 0, fmt.Errorf("size must not be negative: %q", s)
			}
			return int64(value * float64(m.factor)), nil
		}
	}

	value, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}
	if value < 0 {
		return 0, fmt.Errorf("size must not be negative: %q", s)
	}
	return value, nil
}
