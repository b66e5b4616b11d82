// Package config loads the build configuration from roller.yaml, ROLLER_
// environment variables and command line flags.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/viper"
)

const (
	// AppName is the application name.
	AppName = "roller"
	// ConfigFileName is the name of the config file, without extension.
	ConfigFileName = "roller"
	// EnvPrefix prefixes environment overrides, e.g. ROLLER_OUT_DIR.
	EnvPrefix = "ROLLER"
)

// Split modes.
const (
	SplitAuto    = "auto"
	SplitNone    = "none"
	SplitCommon  = "common"
	SplitDynamic = "dynamic"
)

type (
	// Config is the validated configuration of a build.
	Config struct {
		BaseDir string `mapstructure:"base_dir"`
		OutDir  string `mapstructure:"out_dir"`
		// CacheDir keeps the graph of the last build. Relative to BaseDir,
		// disabled when empty.
		CacheDir string `mapstructure:"cache_dir"`
		// Entries maps chunk names to entry paths. Names are lower-cased.
		Entries map[string]string `mapstructure:"entries"`
		Split   string            `mapstructure:"split"`
		// Transform lists the global transforms applied to top-level modules.
		Transform []string `mapstructure:"transform"`
		// TransformKey is the dotted path of package transforms inside
		// package.json.
		TransformKey string   `mapstructure:"transform_key"`
		External     []string `mapstructure:"external"`
		NoParse      []string `mapstructure:"no_parse"`
		Extensions   []string `mapstructure:"extensions"`
		// Modules maps bare module names to files, relative to BaseDir. An
		// empty path leaves the module out of the bundle.
		Modules     map[string]string `mapstructure:"modules"`
		Concurrency int               `mapstructure:"concurrency"`
		Mangle      bool              `mapstructure:"mangle"`
		Debug       bool              `mapstructure:"debug"`
		// InsertGlobals binds process, global, Buffer, __filename and
		// __dirname for modules using them.
		InsertGlobals bool  `mapstructure:"insert_globals"`
		Watch         Watch `mapstructure:"watch"`
		Serve         Serve `mapstructure:"serve"`
	}

	// Watch configures rebuilds on file changes.
	Watch struct {
		Debounce time.Duration `mapstructure:"debounce"`
		Ignore   []string      `mapstructure:"ignore"`
	}

	// Serve configures the development server.
	Serve struct {
		Addr string `mapstructure:"addr"`
	}
)

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() *Config {
	return &Config{
		BaseDir:       ".",
		OutDir:        "dist",
		CacheDir:      ".roller",
		Entries:       map[string]string{},
		Split:         SplitAuto,
		TransformKey:  "browserify.transform",
		Extensions:    []string{".js", ".jsx", ".ts", ".tsx", ".json", ".yaml", ".yml", ".css"},
		Concurrency:   10,
		Mangle:        true,
		InsertGlobals: true,
		Watch:         Watch{Debounce: 200 * time.Millisecond},
		Serve:         Serve{Addr: "127.0.0.1:8080"},
	}
}

// New returns a viper instance with defaults, the config file search path
// and environment overrides set up.
func New() *viper.Viper {
	v := viper.New()
	d := DefaultConfig()
	v.SetDefault("base_dir", d.BaseDir)
	v.SetDefault("out_dir", d.OutDir)
	v.SetDefault("cache_dir", d.CacheDir)
	v.SetDefault("entries", d.Entries)
	v.SetDefault("split", d.Split)
	v.SetDefault("transform", d.Transform)
	v.SetDefault("transform_key", d.TransformKey)
	v.SetDefault("external", d.External)
	v.SetDefault("no_parse", d.NoParse)
	v.SetDefault("extensions", d.Extensions)
	v.SetDefault("modules", d.Modules)
	v.SetDefault("concurrency", d.Concurrency)
	v.SetDefault("mangle", d.Mangle)
	v.SetDefault("debug", d.Debug)
	v.SetDefault("insert_globals", d.InsertGlobals)
	v.SetDefault("watch.debounce", d.Watch.Debounce)
	v.SetDefault("watch.ignore", d.Watch.Ignore)
	v.SetDefault("serve.addr", d.Serve.Addr)

	v.SetConfigName(ConfigFileName)
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the config file, at path if set or found in the search path
// otherwise, and returns the validated configuration. A missing config file
// is not an error unless path is set.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	if file := v.ConfigFileUsed(); file != "" && !filepath.IsAbs(cfg.BaseDir) {
		cfg.BaseDir = filepath.Join(filepath.Dir(file), cfg.BaseDir)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ValidationError lists every invalid setting.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "config: invalid configuration: " + strings.Join(e.Problems, "; ")
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	var problems []string
	if c.Concurrency < 0 {
		problems = append(problems, fmt.Sprintf("concurrency must not be negative, got %d", c.Concurrency))
	}
	if c.Watch.Debounce < 0 {
		problems = append(problems, "watch.debounce must not be negative")
	}
	switch c.Split {
	case SplitAuto, SplitNone, SplitCommon, SplitDynamic:
	default:
		problems = append(problems, fmt.Sprintf("unknown split mode %q", c.Split))
	}
	if c.Split == SplitDynamic && len(c.Entries) > 1 {
		problems = append(problems, "dynamic split takes a single entry")
	}
	for name := range c.Entries {
		if name == "common" || name == "bootstrap" {
			problems = append(problems, fmt.Sprintf("entry name %q is reserved", name))
		}
	}
	for _, list := range []struct {
		key      string
		patterns []string
	}{
		{"external", c.External},
		{"no_parse", c.NoParse},
		{"watch.ignore", c.Watch.Ignore},
	} {
		for _, p := range list.patterns {
			if !doublestar.ValidatePattern(p) {
				problems = append(problems, fmt.Sprintf("%s: invalid pattern %q", list.key, p))
			}
		}
	}
	for _, ext := range c.Extensions {
		if !strings.HasPrefix(ext, ".") {
			problems = append(problems, fmt.Sprintf("extension %q must start with a dot", ext))
		}
	}
	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// TransformPath returns TransformKey split into package.json keys.
func (c *Config) TransformPath() []string {
	if c.TransformKey == "" {
		return nil
	}
	return strings.Split(c.TransformKey, ".")
}

// SplitMode returns the effective split mode for n entries.
func (c *Config) SplitMode(n int) string {
	if c.Split != SplitAuto {
		return c.Split
	}
	if n > 1 {
		return SplitCommon
	}
	return SplitNone
}
