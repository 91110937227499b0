package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"kickdl/internal/discovery"
	"kickdl/internal/model"
	"kickdl/internal/runstore"
)

func newDoctorCmd(v *viper.Viper) *cobra.Command {
	var (
		jsonOut bool
		probe   bool
	)
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check ffmpeg, the output directory and the config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd, v)
			if err != nil {
				return err
			}
			opts := discovery.DoctorOptions{
				FFmpegPath: a.cfg.FFmpegPath,
				OutputDir:  a.cfg.OutputDir,
				ConfigFile: a.cfg.ConfigFile,
			}
			if probe {
				client, err := a.kickClient()
				if err != nil {
					return err
				}
				defer client.Close()
				opts.APIProbe = func(ctx context.Context) error {
					_, err := client.Channel(ctx, "kick")
					return err
				}
			}

			res := discovery.Doctor(cmd.Context(), opts)
			if jsonOut {
				if err := printJSON(a.out, res); err != nil {
					return err
				}
			} else {
				for _, c := range res.Checks {
					status := "ok"
					if !c.OK {
						status = "fail"
					}
					fmt.Fprintf(a.out, "%s: %s (%s)\n", c.Name, status, c.Message)
				}
			}
			if !res.OK {
				return errors.New("doctor checks failed")
			}
			if !jsonOut {
				fmt.Fprintln(a.out, "doctor: all checks passed")
			}
			return nil
		},
	}
	addRunFlags(cmd.Flags())
	cmd.Flags().BoolVar(&probe, "probe", false, "also check that the Kick API answers")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print JSON output")
	return cmd
}

func newConfigCmd(v *viper.Viper) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show the effective settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd, v)
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(a.out, a.cfg)
			}
			c := a.cfg
			rows := [][2]string{
				{"config_file", defaultIfEmpty(c.ConfigFile, "(none)")},
				{"base_url", c.BaseURL},
				{"output_dir", c.OutputDir},
				{"concurrency", fmt.Sprint(c.Concurrency)},
				{"force", fmt.Sprint(c.Force)},
				{"ffmpeg_path", c.FFmpegPath},
				{"ffmpeg_threads", fmt.Sprint(c.FFmpegThreads)},
				{"page_delay", c.PageDelay.String()},
				{"retry_delay", c.RetryDelay.String()},
				{"max_fetch_attempts", fmt.Sprint(c.MaxFetchAttempts)},
				{"request_timeout", c.RequestTimeout.String()},
				{"proxy", defaultIfEmpty(c.Proxy, "(none)")},
				{"user_agent", defaultIfEmpty(c.UserAgent, "(default)")},
				{"vod_quality", c.VODQuality},
				{"channel_cache_ttl", c.ChannelCacheTTL.String()},
				{"log_level", c.LogLevel},
			}
			for _, r := range rows {
				fmt.Fprintf(a.out, "%s: %s\n", r[0], r[1])
			}
			return nil
		},
	}
	addRunFlags(cmd.Flags())
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print JSON output")
	return cmd
}

func newLastRunCmd(v *viper.Viper) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "last-run <download-dir>",
		Short: "Show the latest run recorded in a download directory",
		Long:  "Show the latest run recorded in a download directory such as downloads/<user>/clips, including why items failed.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd, v)
			if err != nil {
				return err
			}
			path, err := runstore.LatestManifest(strings.TrimSpace(args[0]))
			if err != nil {
				return err
			}
			var mf model.RunManifest
			if err := runstore.ReadJSON(path, &mf); err != nil {
				return err
			}
			if jsonOut {
				return printJSON(a.out, mf)
			}
			fmt.Fprintf(a.out, "run_id: %s\n", mf.RunID)
			fmt.Fprintf(a.out, "created_at: %s\n", mf.CreatedAt)
			fmt.Fprintf(a.out, "channel: %s\n", mf.Channel)
			fmt.Fprintf(a.out, "total: %d  succeeded: %d  skipped: %d  failed: %d  pending: %d\n",
				mf.Total, mf.Succeeded, mf.Skipped, mf.Failed, mf.Pending)
			for _, rec := range mf.Items {
				if rec.Status != model.StatusFailed {
					continue
				}
				detail := rec.Reason
				if rec.ExitCode != 0 {
					detail += fmt.Sprintf(" (exit %d)", rec.ExitCode)
				}
				fmt.Fprintf(a.out, "failed #%d %s: %s\n", rec.Index, truncateRunes(rec.Title, 60), detail)
				if last := lastLine(rec.LastError); last != "" {
					fmt.Fprintf(a.out, "    %s\n", last)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print JSON output")
	return cmd
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}

func defaultIfEmpty(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
