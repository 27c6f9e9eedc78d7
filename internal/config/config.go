// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	EnvPrefix      = "SHELF_"
	DefaultDBName  = "shelf.db"
	defaultTracker = "https://www.myanonamouse.net"
)

var (
	DefaultAudioTypes = []string{"m4b", "m4a", "mp4", "mp3", "ogg", "flac", "opus"}
	DefaultEbookTypes = []string{"epub", "azw3", "mobi", "pdf", "cbz", "cbr"}
)

// Load reads configuration from configPath, or from the standard locations
// when configPath is empty. SHELF__ prefixed environment variables override
// file values, with "__" separating nested keys.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "__"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("toml")
		v.AddConfigPath(".")
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, "shelf"))
		}
		v.AddConfigPath("/config")
		v.AddConfigPath("/etc/shelf/")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("config file not found: %w", err)
		}
		return nil, fmt.Errorf("error reading config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	resolvePaths(&cfg, v.ConfigFileUsed())

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", "")
	v.SetDefault("database_path", "")

	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "console")
	v.SetDefault("log_path", "")
	v.SetDefault("log_max_size", 50)
	v.SetDefault("log_max_backups", 3)

	v.SetDefault("interval", 10*time.Minute)
	v.SetDefault("watch", true)
	v.SetDefault("watch_debounce", 30*time.Second)

	v.SetDefault("link_concurrency", 1)
	v.SetDefault("exclude_narrator_in_library_dir", false)
	v.SetDefault("audio_types", DefaultAudioTypes)
	v.SetDefault("ebook_types", DefaultEbookTypes)

	v.SetDefault("on_invalid.category", "")
	v.SetDefault("on_invalid.tags", []string{})

	v.SetDefault("tracker.url", defaultTracker)
	v.SetDefault("tracker.mam_id", "")
	v.SetDefault("tracker.timeout", 30*time.Second)
	v.SetDefault("tracker.retries", 3)
}

// resolvePaths places the database next to the config file unless a data
// dir or explicit path is configured.
func resolvePaths(cfg *Config, configFile string) {
	if cfg.DatabasePath != "" {
		return
	}

	dir := cfg.DataDir
	if dir == "" && configFile != "" {
		dir = filepath.Dir(configFile)
	}
	cfg.DatabasePath = filepath.Join(dir, DefaultDBName)
}

// validate checks the configuration and normalizes list values in place.
func validate(cfg *Config) error {
	validLevels := map[string]bool{
		"trace": true,
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	if !validLevels[cfg.LogLevel] {
		return fmt.Errorf("invalid log_level: %s", cfg.LogLevel)
	}

	if cfg.LogFormat != "console" && cfg.LogFormat != "json" {
		return fmt.Errorf("invalid log_format: %s", cfg.LogFormat)
	}

	if cfg.Interval <= 0 {
		return fmt.Errorf("interval must be positive, got %s", cfg.Interval)
	}

	if cfg.LinkConcurrency < 1 {
		return fmt.Errorf("link_concurrency must be at least 1, got %d", cfg.LinkConcurrency)
	}

	cfg.AudioTypes = normalizeExtensions(cfg.AudioTypes)
	cfg.EbookTypes = normalizeExtensions(cfg.EbookTypes)
	if len(cfg.AudioTypes) == 0 && len(cfg.EbookTypes) == 0 {
		return errors.New("audio_types and ebook_types cannot both be empty")
	}

	if len(cfg.Clients) == 0 {
		return errors.New("at least one [[clients]] entry is required")
	}

	names := make(map[string]bool, len(cfg.Clients))
	for i := range cfg.Clients {
		c := &cfg.Clients[i]
		if c.Name == "" {
			return fmt.Errorf("clients[%d].name is required", i)
		}
		if names[c.Name] {
			return fmt.Errorf("duplicate client name: %s", c.Name)
		}
		names[c.Name] = true

		if c.URL == "" {
			return fmt.Errorf("clients[%d].url is required", i)
		}
		if c.Timeout <= 0 {
			c.Timeout = 30 * time.Second
		}
		for j, m := range c.PathMappings {
			if m.From == "" || m.To == "" {
				return fmt.Errorf("clients[%d].path_mappings[%d] needs both from and to", i, j)
			}
		}
	}

	for i := range cfg.Libraries {
		if err := validateLibrary(&cfg.Libraries[i]); err != nil {
			return fmt.Errorf("libraries[%d]: %w", i, err)
		}
	}

	return nil
}

func validateLibrary(r *LibraryRule) error {
	set := 0
	for _, v := range []string{r.DownloadDir, r.Category, r.RipDir} {
		if v != "" {
			set++
		}
	}
	if set != 1 {
		return errors.New("exactly one of download_dir, category or rip_dir must be set")
	}

	r.AudioTypes = normalizeExtensions(r.AudioTypes)
	r.EbookTypes = normalizeExtensions(r.EbookTypes)

	if r.Kind() == LibraryKindRipDir {
		return nil
	}

	if r.DownloadDir != "" {
		r.DownloadDir = filepath.Clean(r.DownloadDir)
	}

	if r.LibraryDir == "" {
		return errors.New("library_dir is required")
	}
	r.LibraryDir = filepath.Clean(r.LibraryDir)

	if r.Method == "" {
		r.Method = LinkMethodHardlinkOrCopy
	}
	if !validLinkMethods[r.Method] {
		return fmt.Errorf("invalid method: %s", r.Method)
	}

	return nil
}

// normalizeExtensions lowercases, strips leading dots and drops duplicates
// while keeping rank order.
func normalizeExtensions(exts []string) []string {
	out := make([]string, 0, len(exts))
	for _, ext := range exts {
		ext = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
		if ext == "" || slices.Contains(out, ext) {
			continue
		}
		out = append(out, ext)
	}
	return out
}

// AudioTypesFor returns the ranked audio extensions for rule, preferring its override.
func (c *Config) AudioTypesFor(rule *LibraryRule) []string {
	if rule != nil && len(rule.AudioTypes) > 0 {
		return rule.AudioTypes
	}
	return c.AudioTypes
}

// EbookTypesFor returns the ranked ebook extensions for rule, preferring its override.
func (c *Config) EbookTypesFor(rule *LibraryRule) []string {
	if rule != nil && len(rule.EbookTypes) > 0 {
		return rule.EbookTypes
	}
	return c.EbookTypes
}

// Client returns the client configuration with the given name.
func (c *Config) Client(name string) (*ClientConfig, bool) {
	for i := range c.Clients {
		if c.Clients[i].Name == name {
			return &c.Clients[i], true
		}
	}
	return nil, false
}
