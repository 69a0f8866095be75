// Package config handles gc.toml collector configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/inhies/go-bytesize"
	"github.com/tliron/commonlog"
)

// FileName is the configuration file looked up by Load and FindAndLoad.
const FileName = "gc.toml"

// Plan kinds.
const (
	NoGC      = "nogc"
	SemiSpace = "semispace"
)

// Config represents a gc.toml file.
type Config struct {
	Plan       PlanConfig       `toml:"plan"`
	Heap       HeapConfig       `toml:"heap"`
	Collection CollectionConfig `toml:"collection"`
	References ReferenceConfig  `toml:"references"`
	Stats      StatsConfig      `toml:"stats"`
	Log        LogConfig        `toml:"log"`

	// Dir is the directory containing gc.toml (set at load time).
	Dir string `toml:"-"`
}

// PlanConfig selects the collector.
type PlanConfig struct {
	Kind string `toml:"kind"`
	// MultiSpace routes immortal, code and large-object allocation of the
	// nogc plan to dedicated spaces instead of its single default space.
	MultiSpace bool `toml:"multi-space"`
	NoZeroing  bool `toml:"no-zeroing"`
}

// HeapConfig sizes the heap.
type HeapConfig struct {
	Size bytesize.ByteSize `toml:"size"`
}

// CollectionConfig tunes pauses.
type CollectionConfig struct {
	Threads        int  `toml:"threads"`
	IgnoreSystemGC bool `toml:"ignore-system-gc"`
}

// ReferenceConfig tunes soft, weak and phantom reference processing.
type ReferenceConfig struct {
	Disabled   bool `toml:"disabled"`
	MaxEntries int  `toml:"max-entries"`
}

// StatsConfig configures pause history.
type StatsConfig struct {
	Database      string `toml:"database"`
	FlushInterval string `toml:"flush-interval"`
}

// LogConfig configures commonlog.
type LogConfig struct {
	Verbosity int    `toml:"verbosity"`
	Path      string `toml:"path"`
}

// Default returns the configuration used when no gc.toml exists.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	if c.Plan.Kind == "" {
		c.Plan.Kind = SemiSpace
	}
	if c.Heap.Size == 0 {
		c.Heap.Size = 64 * bytesize.MB
	}
	if c.Collection.Threads == 0 {
		c.Collection.Threads = 4
	}
	if c.References.MaxEntries == 0 {
		c.References.MaxEntries = 1 << 20
	}
	if c.Stats.FlushInterval == "" {
		c.Stats.FlushInterval = "5s"
	}
}

// Parse decodes gc.toml content and applies defaults.
func Parse(data []byte) (*Config, error) {
	var c Config
	if err := toml.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Load parses the gc.toml file in dir.
func Load(dir string) (*Config, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	c.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}
	return c, nil
}

// FindAndLoad walks up from startDir to find a gc.toml file, then loads
// it. Returns nil if no file is found.
func FindAndLoad(startDir string) (*Config, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, nil
		}
		dir = parent
	}
}

// Validate checks values that would make the collector unusable.
func (c *Config) Validate() error {
	switch c.Plan.Kind {
	case NoGC, SemiSpace:
	default:
		return fmt.Errorf("unknown plan kind %q", c.Plan.Kind)
	}
	if c.Heap.Size < 4*bytesize.MB {
		return fmt.Errorf("heap size %s is below the 4MB minimum", c.Heap.Size)
	}
	if c.Collection.Threads < 1 {
		return fmt.Errorf("collection threads must be positive, got %d", c.Collection.Threads)
	}
	if c.References.MaxEntries < 0 {
		return fmt.Errorf("references max-entries must not be negative, got %d", c.References.MaxEntries)
	}
	if _, err := c.FlushInterval(); err != nil {
		return err
	}
	return nil
}

// HeapBytes returns the heap size in bytes.
func (c *Config) HeapBytes() uintptr { return uintptr(c.Heap.Size) }

// FlushInterval parses the stats flush interval.
func (c *Config) FlushInterval() (time.Duration, error) {
	d, err := time.ParseDuration(c.Stats.FlushInterval)
	if err != nil {
		return 0, fmt.Errorf("stats flush-interval: %w", err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("stats flush-interval must be positive, got %s", d)
	}
	return d, nil
}

// DatabasePath resolves the stats database relative to the config file.
func (c *Config) DatabasePath() string {
	if c.Stats.Database == "" || filepath.IsAbs(c.Stats.Database) || c.Dir == "" {
		return c.Stats.Database
	}
	return filepath.Join(c.Dir, c.Stats.Database)
}

// ConfigureLogging applies the [log] section to commonlog.
func (c *Config) ConfigureLogging() {
	var path *string
	if c.Log.Path != "" {
		p := c.Log.Path
		path = &p
	}
	commonlog.Configure(c.Log.Verbosity, path)
}
