package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	// SiteConfigFile is the site configuration read from the source directory.
	SiteConfigFile = "_config.yml"

	// GlobalConfigFile lives under GlobalDirName in the user's home.
	GlobalConfigFile = "config.toml"
	GlobalDirName    = ".remote-theme"

	DefaultCachePath = "vendor/cache/remote-themes"
	DefaultTimeout   = 10 * time.Minute
)

// Config is the resolved configuration. Precedence, lowest first:
// defaults, ~/.remote-theme/config.toml, _config.yml, environment, flags.
type Config struct {
	Source            string            `mapstructure:"source"`
	RemoteTheme       string            `mapstructure:"remote_theme"`
	Repository        string            `mapstructure:"repository"`
	Cache             CacheConfig       `mapstructure:"remote_theme_cache"`
	AlternateHostname string            `mapstructure:"alternate_hostname"`
	AuthToken         string            `mapstructure:"auth_token"`
	CustomHeaders     map[string]string `mapstructure:"custom_headers"`
	Plugins           []string          `mapstructure:"plugins"`
	Whitelist         []string          `mapstructure:"whitelist"`
	Timeout           time.Duration     `mapstructure:"timeout"`
}

type CacheConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// LoadOptions locates the configuration sources.
type LoadOptions struct {
	// SourceDir is the site directory. Empty means the working directory.
	SourceDir string
	// ConfigFile replaces SourceDir/_config.yml.
	ConfigFile string
	// GlobalConfigFile replaces ~/.remote-theme/config.toml.
	GlobalConfigFile string
	// Flags, when set, override configuration for the flags the user changed.
	Flags *pflag.FlagSet
}

// flagKeys maps configuration keys to the CLI flags that override them.
var flagKeys = map[string]string{
	"remote_theme_cache.enabled": "cache",
	"remote_theme_cache.path":    "cache-path",
	"timeout":                    "timeout",
}

// Load resolves configuration using Viper's merge semantics.
func Load(opts LoadOptions) (*Config, error) {
	if opts.GlobalConfigFile == "" {
		home, err := os.UserHomeDir()
		if err == nil {
			opts.GlobalConfigFile = filepath.Join(home, GlobalDirName, GlobalConfigFile)
		}
	}

	source := opts.SourceDir
	if source == "" {
		source = "."
	}
	source, err := filepath.Abs(source)
	if err != nil {
		return nil, fmt.Errorf("resolving source directory: %w", err)
	}

	v := viper.New()
	v.SetDefault("remote_theme_cache.enabled", false)
	v.SetDefault("remote_theme_cache.path", DefaultCachePath)
	v.SetDefault("timeout", DefaultTimeout)

	if err := v.BindEnv("alternate_hostname", "GITHUB_HOSTNAME", "PAGES_GITHUB_HOSTNAME"); err != nil {
		return nil, err
	}
	if err := v.BindEnv("auth_token", "JEKYLL_GITHUB_TOKEN", "GITHUB_TOKEN"); err != nil {
		return nil, err
	}

	// Lowest priority: global config; ignore if missing.
	if opts.GlobalConfigFile != "" {
		if _, err := os.Stat(opts.GlobalConfigFile); err == nil {
			v.SetConfigType("toml")
			v.SetConfigFile(opts.GlobalConfigFile)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("reading %s: %w", opts.GlobalConfigFile, err)
			}
		}
	}

	// Higher priority: site config. An explicit file must exist.
	sitePath := opts.ConfigFile
	required := sitePath != ""
	if !required {
		sitePath = filepath.Join(source, SiteConfigFile)
	}
	if _, err := os.Stat(sitePath); err == nil {
		v.SetConfigType("yaml")
		v.SetConfigFile(sitePath)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("reading %s: %w", sitePath, err)
		}
	} else if required {
		return nil, fmt.Errorf("reading %s: %w", sitePath, err)
	}

	// Highest priority: CLI flags
	if opts.Flags != nil {
		for key, name := range flagKeys {
			if f := opts.Flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("binding --%s: %w", name, err)
				}
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	cfg.Source = source

	return cfg, nil
}

// CachePath returns the absolute cache root. Relative paths are taken from
// the source directory.
func (c *Config) CachePath() string {
	p := c.Cache.Path
	if p == "" {
		p = DefaultCachePath
	}
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(c.Source, p)
}

// AllowedDependencies is the union of plugins and whitelist.
func (c *Config) AllowedDependencies() []string {
	var out []string
	for _, name := range slices.Concat(c.Plugins, c.Whitelist) {
		if name != "" && !slices.Contains(out, name) {
			out = append(out, name)
		}
	}
	return out
}

// Validate reports every problem with the configuration at once.
func (c *Config) Validate() error {
	var err error
	if c.Timeout <= 0 {
		err = errors.Join(err, fmt.Errorf("timeout must be positive, got %s", c.Timeout))
	}
	if c.Cache.Enabled && strings.TrimSpace(c.Cache.Path) == "" {
		err = errors.Join(err, fmt.Errorf("remote_theme_cache.path must be set when caching is enabled"))
	}
	for name := range c.CustomHeaders {
		if name == "" || strings.ContainsAny(name, " \t\r\n:") {
			err = errors.Join(err, fmt.Errorf("invalid custom header name %q", name))
		}
	}
	if strings.ContainsAny(c.AlternateHostname, "/ ") {
		err = errors.Join(err, fmt.Errorf("alternate_hostname must be a bare host, got %q", c.AlternateHostname))
	}
	return err
}
