// Package config loads and validates fsidx configuration.
//
// A configuration document is YAML (.yaml, .yml) or TOML (.toml). After
// decoding, defaults are applied and the result is checked against the
// embedded CUE schema in schema.cue, so range and enum violations are
// reported with the offending path.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/roach88/fsidx/internal/fserr"
)

// Overflow policies for a pool whose active connections reached MaxActive.
const (
	WhenExhaustedFail  = "fail"
	WhenExhaustedBlock = "block"
	WhenExhaustedGrow  = "grow"
)

// Fast-path rule sets for the search dispatcher.
const (
	FastPathEquals           = "equals"
	FastPathEqualsOrContains = "equals-or-contains"
)

// LegacyReadOnlyProperty is the connection property that overrides
// PoolConfig.SupportsReadOnly. The "connection." prefix is optional.
const LegacyReadOnlyProperty = "database.supportsReadOnly"

// Duration is a time.Duration that decodes from strings such as "5s".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config is the complete fsidx configuration document.
type Config struct {
	Pool    PoolConfig    `yaml:"pool" toml:"pool" json:"pool"`
	Search  SearchConfig  `yaml:"search" toml:"search" json:"search"`
	Objects ObjectsConfig `yaml:"objects" toml:"objects" json:"objects"`
}

// PoolConfig configures the connection pool.
type PoolConfig struct {
	Driver   string `yaml:"driver" toml:"driver" json:"driver"`
	URL      string `yaml:"url" toml:"url" json:"url"`
	Username string `yaml:"username" toml:"username" json:"username,omitempty"`
	Password string `yaml:"password" toml:"password" json:"password,omitempty"`

	MaxActive int `yaml:"maxActive" toml:"maxActive" json:"maxActive"`
	MaxIdle   int `yaml:"maxIdle" toml:"maxIdle" json:"maxIdle"`
	MinIdle   int `yaml:"minIdle" toml:"minIdle" json:"minIdle"`

	// MaxWait bounds how long a blocked acquisition waits under the block
	// policy. Zero waits until the caller's context ends.
	MaxWait Duration `yaml:"maxWait" toml:"maxWait" json:"maxWait"`

	MinEvictableIdle        Duration `yaml:"minEvictableIdle" toml:"minEvictableIdle" json:"minEvictableIdle"`
	TimeBetweenEvictionRuns Duration `yaml:"timeBetweenEvictionRuns" toml:"timeBetweenEvictionRuns" json:"timeBetweenEvictionRuns"`
	NumTestsPerEvictionRun  int      `yaml:"numTestsPerEvictionRun" toml:"numTestsPerEvictionRun" json:"numTestsPerEvictionRun"`

	ValidationQuery string `yaml:"validationQuery" toml:"validationQuery" json:"validationQuery,omitempty"`
	TestOnBorrow    bool   `yaml:"testOnBorrow" toml:"testOnBorrow" json:"testOnBorrow"`
	TestOnReturn    bool   `yaml:"testOnReturn" toml:"testOnReturn" json:"testOnReturn"`
	TestWhileIdle   bool   `yaml:"testWhileIdle" toml:"testWhileIdle" json:"testWhileIdle"`

	WhenExhausted string `yaml:"whenExhausted" toml:"whenExhausted" json:"whenExhausted"`

	// SupportsReadOnly is nil until defaults are applied.
	SupportsReadOnly *bool `yaml:"supportsReadOnly" toml:"supportsReadOnly" json:"supportsReadOnly"`

	ConnectionProperties map[string]string `yaml:"connectionProperties" toml:"connectionProperties" json:"connectionProperties,omitempty"`
}

// SearchConfig configures the search module.
type SearchConfig struct {
	MaxResults           int    `yaml:"maxResults" toml:"maxResults" json:"maxResults"`
	MaxSecondsPerSession int    `yaml:"maxSecondsPerSession" toml:"maxSecondsPerSession" json:"maxSecondsPerSession"`
	IndexDCFields        *bool  `yaml:"indexDCFields" toml:"indexDCFields" json:"indexDCFields"`
	FastPathRule         string `yaml:"fastPathRule" toml:"fastPathRule" json:"fastPathRule"`
}

// ObjectsConfig locates the canonical object store.
type ObjectsConfig struct {
	Dir string `yaml:"dir" toml:"dir" json:"dir,omitempty"`
}

// SessionTTL returns MaxSecondsPerSession as a duration.
func (s SearchConfig) SessionTTL() time.Duration {
	return time.Duration(s.MaxSecondsPerSession) * time.Second
}

// IndexesDCFields reports whether all DC fields are indexed (default true).
func (s SearchConfig) IndexesDCFields() bool {
	return s.IndexDCFields == nil || *s.IndexDCFields
}

// Default returns a configuration for an embedded SQLite database at path.
func Default(path string) *Config {
	cfg := &Config{Pool: PoolConfig{Driver: "sqlite3", URL: path}}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	p := &c.Pool
	if p.Driver == "" {
		p.Driver = "sqlite3"
	}
	if p.MaxActive == 0 {
		p.MaxActive = 8
	}
	if p.MaxIdle == 0 {
		p.MaxIdle = p.MaxActive
	}
	if p.MaxWait.Duration == 0 {
		p.MaxWait.Duration = 5 * time.Second
	}
	if p.WhenExhausted == "" {
		p.WhenExhausted = WhenExhaustedBlock
	}
	if p.SupportsReadOnly == nil {
		v := true
		p.SupportsReadOnly = &v
	}

	s := &c.Search
	if s.MaxResults == 0 {
		s.MaxResults = 100
	}
	if s.MaxSecondsPerSession == 0 {
		s.MaxSecondsPerSession = 300
	}
	if s.IndexDCFields == nil {
		v := true
		s.IndexDCFields = &v
	}
	if s.FastPathRule == "" {
		s.FastPathRule = FastPathEquals
	}
}

// Load reads, defaults, and validates the configuration file at path.
// The format is chosen by extension.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := &Config{}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, configError("decode yaml", err)
		}
	case ".toml":
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, configError("decode toml", err)
		}
	default:
		return nil, fserr.New(fserr.CodeConfiguration, "load",
			fmt.Sprintf("unsupported config format %q (want .yaml, .yml or .toml)", ext))
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func configError(op string, err error) error {
	return &fserr.Error{Code: fserr.CodeConfiguration, Op: op, Err: err}
}
