package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"kickdl/internal/config"
	"kickdl/internal/discovery"
	"kickdl/internal/kick"
	"kickdl/internal/model"
)

// flagKeys maps command-line flags onto config keys.
var flagKeys = map[string]string{
	"output-dir":         "output_dir",
	"base-url":           "base_url",
	"proxy":              "proxy",
	"log-level":          "log_level",
	"concurrency":        "concurrency",
	"force":              "force",
	"ffmpeg-path":        "ffmpeg_path",
	"ffmpeg-threads":     "ffmpeg_threads",
	"vod-quality":        "vod_quality",
	"max-fetch-attempts": "max_fetch_attempts",
}

type app struct {
	cfg         config.Config
	logger      *log.Logger
	out         io.Writer
	interactive bool
	// concurrencySet reports that a flag, env var or config file chose the
	// batch size, so there is nothing to ask.
	concurrencySet bool
}

func loadApp(cmd *cobra.Command, v *viper.Viper) (*app, error) {
	flags := cmd.Flags()
	if err := bindFlags(v, flags); err != nil {
		return nil, err
	}
	configFile, _ := flags.GetString("config")
	cfg, err := config.Load(v, configFile)
	if err != nil {
		return nil, err
	}

	logger := log.NewWithOptions(cmd.ErrOrStderr(), log.Options{
		Level:  cfg.Level(),
		Prefix: "kickdl",
	})
	out := cmd.OutOrStdout()
	_, envSet := os.LookupEnv(config.EnvPrefix + "_CONCURRENCY")
	return &app{
		cfg:            cfg,
		logger:         logger,
		out:            out,
		interactive:    out == io.Writer(os.Stdout) && fileIsTTY(os.Stdout) && stdinIsTTY(),
		concurrencySet: flags.Changed("concurrency") || envSet || v.InConfig("concurrency"),
	}, nil
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	for name, key := range flagKeys {
		f := flags.Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind --%s: %w", name, err)
		}
	}
	return nil
}

func (a *app) kickClient() (*kick.Client, error) {
	return kick.New(kick.Options{
		BaseURL:         a.cfg.BaseURL,
		UserAgent:       a.cfg.UserAgent,
		Proxy:           a.cfg.Proxy,
		Timeout:         a.cfg.RequestTimeout,
		VODQuality:      a.cfg.VODQuality,
		ChannelCacheTTL: a.cfg.ChannelCacheTTL,
		Logger:          a.logger,
	})
}

func (a *app) collect(ctx context.Context, client *kick.Client, q model.Query) (model.CollectionResult, error) {
	c := discovery.NewCollector(client, discovery.CollectorOptions{
		PageDelay:   a.cfg.PageDelay,
		RetryDelay:  a.cfg.RetryDelay,
		MaxAttempts: a.cfg.MaxFetchAttempts,
		Logger:      a.logger,
		OnPage: func(s discovery.PageStats) {
			a.logger.Info("page fetched", "page", s.Page, "found", s.Found, "new", s.New, "total", s.Total)
		},
	})
	return c.Collect(ctx, q)
}

// askConcurrency offers the presets when a picker session left the batch
// size open.
func (a *app) askConcurrency() error {
	if !a.interactive || a.concurrencySet {
		return nil
	}
	n, err := runConcurrencyPrompt(config.ConcurrencyPresets, a.cfg.Concurrency)
	if err != nil {
		return err
	}
	a.cfg.Concurrency = n
	return nil
}

// runLogger keeps log lines from tearing through the dashboard.
func (a *app) runLogger() *log.Logger {
	if !a.interactive {
		return a.logger
	}
	quiet := a.logger.With()
	if a.cfg.Level() < log.WarnLevel {
		quiet.SetLevel(log.WarnLevel)
	}
	return quiet
}
