package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/viper"
)

const (
	EnvPrefix = "KICKDL"

	MinPageDelay  = 500 * time.Millisecond
	MinRetryDelay = 2 * time.Second

	DefaultConcurrency      = 4
	DefaultMaxFetchAttempts = 10
)

// ConcurrencyPresets are the batch sizes offered when asking interactively.
var ConcurrencyPresets = []int{2, 4, 8}

type Config struct {
	BaseURL          string        `mapstructure:"base_url" json:"base_url"`
	OutputDir        string        `mapstructure:"output_dir" json:"output_dir"`
	Concurrency      int           `mapstructure:"concurrency" json:"concurrency"`
	Force            bool          `mapstructure:"force" json:"force"`
	FFmpegPath       string        `mapstructure:"ffmpeg_path" json:"ffmpeg_path"`
	FFmpegThreads    int           `mapstructure:"ffmpeg_threads" json:"ffmpeg_threads"`
	PageDelay        time.Duration `mapstructure:"page_delay" json:"page_delay"`
	RetryDelay       time.Duration `mapstructure:"retry_delay" json:"retry_delay"`
	MaxFetchAttempts int           `mapstructure:"max_fetch_attempts" json:"max_fetch_attempts"`
	RequestTimeout   time.Duration `mapstructure:"request_timeout" json:"request_timeout"`
	Proxy            string        `mapstructure:"proxy" json:"proxy,omitempty"`
	UserAgent        string        `mapstructure:"user_agent" json:"user_agent,omitempty"`
	VODQuality       string        `mapstructure:"vod_quality" json:"vod_quality"`
	ChannelCacheTTL  time.Duration `mapstructure:"channel_cache_ttl" json:"channel_cache_ttl"`
	LogLevel         string        `mapstructure:"log_level" json:"log_level"`

	ConfigFile string `mapstructure:"-" json:"config_file,omitempty"`
}

var defaults = map[string]any{
	"base_url":           "https://kick.com",
	"output_dir":         "downloads",
	"concurrency":        DefaultConcurrency,
	"force":              false,
	"ffmpeg_path":        "ffmpeg",
	"ffmpeg_threads":     0,
	"page_delay":         MinPageDelay,
	"retry_delay":        MinRetryDelay,
	"max_fetch_attempts": DefaultMaxFetchAttempts,
	"request_timeout":    30 * time.Second,
	"proxy":              "",
	"user_agent":         "",
	"vod_quality":        "480p30",
	"channel_cache_ttl":  10 * time.Minute,
	"log_level":          "info",
}

// NewViper returns a viper instance with defaults and KICKDL_* environment
// overrides registered.
func NewViper() *viper.Viper {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the optional config file and decodes the effective settings.
// An explicit configFile must exist; otherwise kickdl.{toml,yaml,json} is
// looked up in the working directory and the user config directory.
func Load(v *viper.Viper, configFile string) (Config, error) {
	if v == nil {
		v = NewViper()
	}
	if f := strings.TrimSpace(configFile); f != "" {
		v.SetConfigFile(f)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", f, err)
		}
	} else {
		v.SetConfigName("kickdl")
		v.AddConfigPath(".")
		if dir := userConfigDir(); dir != "" {
			v.AddConfigPath(dir)
		}
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.ConfigFile = v.ConfigFileUsed()
	if err := cfg.Normalize(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Normalize fills blanks and enforces the upstream pacing floors.
func (c *Config) Normalize() error {
	c.BaseURL = strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	if c.BaseURL == "" {
		c.BaseURL = defaults["base_url"].(string)
	}
	c.OutputDir = strings.TrimSpace(c.OutputDir)
	if c.OutputDir == "" {
		c.OutputDir = defaults["output_dir"].(string)
	}
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	c.FFmpegPath = strings.TrimSpace(c.FFmpegPath)
	if c.FFmpegPath == "" {
		c.FFmpegPath = defaults["ffmpeg_path"].(string)
	}
	if c.FFmpegThreads < 0 {
		c.FFmpegThreads = 0
	}
	if c.PageDelay < MinPageDelay {
		c.PageDelay = MinPageDelay
	}
	if c.RetryDelay < MinRetryDelay {
		c.RetryDelay = MinRetryDelay
	}
	if c.MaxFetchAttempts < 0 {
		c.MaxFetchAttempts = 0
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = defaults["request_timeout"].(time.Duration)
	}
	c.VODQuality = strings.TrimSpace(c.VODQuality)
	if c.VODQuality == "" {
		c.VODQuality = defaults["vod_quality"].(string)
	}
	if c.ChannelCacheTTL <= 0 {
		c.ChannelCacheTTL = defaults["channel_cache_ttl"].(time.Duration)
	}
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log_level %q: %w", c.LogLevel, err)
	}
	return nil
}

// Level returns the parsed log level; Normalize has already validated it.
func (c Config) Level() log.Level {
	lvl, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		return log.InfoLevel
	}
	return lvl
}

func userConfigDir() string {
	if xdg := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME")); xdg != "" {
		return filepath.Join(xdg, "kickdl")
	}
	home, err := os.UserHomeDir()
	if err != nil || strings.TrimSpace(home) == "" {
		return ""
	}
	return filepath.Join(home, ".config", "kickdl")
}
