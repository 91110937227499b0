package cli

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"kickdl/internal/archive"
	"kickdl/internal/config"
	"kickdl/internal/model"
)

type downloadKind struct {
	use   string
	short string
	kind  string
	dir   string
	noun  string
}

var (
	downloadClips = downloadKind{use: "clips <channel>", short: "Pick and download clips of a channel", kind: model.KindClip, dir: "clips", noun: "clips"}
	downloadVODs  = downloadKind{use: "vods <channel>", short: "Pick and download past broadcasts of a channel", kind: model.KindVOD, dir: "vods", noun: "VODs"}
)

func addRunFlags(f *pflag.FlagSet) {
	f.IntP("concurrency", "n", 0, "downloads per batch (default 4)")
	f.Bool("force", false, "download again even if the file exists")
	f.String("ffmpeg-path", "", "ffmpeg binary")
	f.Int("ffmpeg-threads", 0, "ffmpeg -threads value (0 = ffmpeg default)")
	f.String("vod-quality", "", "VOD rendition, e.g. 480p30, 720p60 or source")
}

func addMaxFetchAttemptsFlag(f *pflag.FlagSet) {
	f.Int("max-fetch-attempts", config.DefaultMaxFetchAttempts, "consecutive failed attempts per page before giving up (0 = unlimited)")
}

func addSelectionFlags(f *pflag.FlagSet, sel *selectionFlags) {
	f.BoolVar(&sel.all, "all", false, "download every listed item")
	f.StringVar(&sel.pick, "pick", "", "1-based items to download, e.g. 1,3,5-8")
	f.IntVar(&sel.top, "top", 0, "download the first N listed items")
}

func newDownloadCmd(v *viper.Viper, k downloadKind) *cobra.Command {
	var (
		timeFilter string
		sortOrder  string
		sel        selectionFlags
		jsonOut    bool
	)
	cmd := &cobra.Command{
		Use:   k.use,
		Short: k.short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := sel.validate(); err != nil {
				return err
			}
			if jsonOut && sel.empty() {
				return errors.New("--json needs a non-interactive selection: --all, --pick or --top")
			}
			a, err := loadApp(cmd, v)
			if err != nil {
				return err
			}
			q := model.Query{Channel: args[0], Kind: k.kind, Time: timeFilter, Sort: sortOrder}
			return a.download(cmd.Context(), k, q, sel, jsonOut)
		},
	}

	f := cmd.Flags()
	if k.kind == model.KindClip {
		f.StringVar(&timeFilter, "time", model.TimeAll, "time filter: all|day|week|month")
		f.StringVar(&sortOrder, "sort", model.SortViews, "sort order: view|date")
	} else {
		timeFilter, sortOrder = model.TimeAll, model.SortRecent
	}
	addMaxFetchAttemptsFlag(f)
	addSelectionFlags(f, &sel)
	addRunFlags(f)
	f.BoolVar(&jsonOut, "json", false, "print the run summary as JSON")
	return cmd
}

func (a *app) download(ctx context.Context, k downloadKind, q model.Query, sel selectionFlags, jsonOut bool) error {
	client, err := a.kickClient()
	if err != nil {
		return err
	}
	defer client.Close()

	ch, err := client.Channel(ctx, q.Channel)
	if err != nil {
		return err
	}
	q.Channel = ch.Slug
	if err := q.Validate(); err != nil {
		return err
	}

	res, err := a.collect(ctx, client, q)
	if err != nil {
		return err
	}
	if len(res.Items) == 0 {
		if jsonOut {
			return printJSON(a.out, model.RunSummary{})
		}
		fmt.Fprintf(a.out, "No %s found for %s.\n", k.noun, ch.Username)
		return nil
	}

	title := fmt.Sprintf("%s %s", ch.Username, k.noun)
	if k.kind == model.KindClip {
		title += fmt.Sprintf(" (time: %s, sort: %s)", q.Time, q.Sort)
	}
	items, err := a.choose(sel, title, res.Items)
	if err == nil && sel.empty() {
		err = a.askConcurrency()
	}
	if errors.Is(err, errSelectionCanceled) {
		fmt.Fprintln(a.out, "Selection canceled.")
		return nil
	}
	if err != nil {
		return err
	}

	summary, err := a.runSelection(ctx, runRequest{
		title:    fmt.Sprintf("Downloading %d %s from %s", len(items), k.noun, ch.Username),
		channel:  ch.Slug,
		username: ch.Username,
		dest:     destDir(a.cfg.OutputDir, ch.Username, k.dir),
		items:    items,
	})
	return a.report(summary, err, jsonOut)
}

func destDir(root, username, kindDir string) string {
	name := archive.SanitizeTitle(username)
	if name == "" {
		name = "kick"
	}
	return filepath.Join(root, name, kindDir)
}

type runRequest struct {
	title    string
	channel  string
	username string
	dest     string
	items    []model.Item
}

func (a *app) runSelection(ctx context.Context, req runRequest) (model.RunSummary, error) {
	opts := archive.SchedulerOptions{
		Concurrency:   a.cfg.Concurrency,
		DestDir:       req.dest,
		Channel:       req.channel,
		Username:      req.username,
		Force:         a.cfg.Force,
		FFmpegPath:    a.cfg.FFmpegPath,
		FFmpegThreads: a.cfg.FFmpegThreads,
		Logger:        a.runLogger(),
	}
	if !a.interactive {
		opts.Reporter = archive.NewLogReporter(a.logger)
		return archive.NewScheduler(opts).Run(ctx, req.items)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	p := tea.NewProgram(archive.NewDashboard(req.title, opts.Concurrency, cancel), tea.WithOutput(a.out))
	opts.Reporter = archive.NewTeaReporter(p)

	uiDone := make(chan error, 1)
	go func() {
		_, err := p.Run()
		uiDone <- err
	}()
	summary, err := archive.NewScheduler(opts).Run(runCtx, req.items)
	p.Quit()
	if uiErr := <-uiDone; uiErr != nil && !errors.Is(uiErr, tea.ErrProgramKilled) {
		a.logger.Warn("dashboard stopped", "err", uiErr)
	}
	return summary, err
}

func (a *app) report(summary model.RunSummary, runErr error, jsonOut bool) error {
	if jsonOut {
		if err := printJSON(a.out, summary); err != nil {
			return err
		}
	} else if summary.RunID != "" {
		printSummary(a.out, summary)
	}
	if runErr == nil {
		return nil
	}
	if errors.Is(runErr, context.Canceled) {
		return fmt.Errorf("run canceled; finished files are kept: %w", runErr)
	}
	return runErr
}

func newVideoCmd(v *viper.Viper) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "video <url>",
		Short: "Download one VOD by its page URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd, v)
			if err != nil {
				return err
			}
			client, err := a.kickClient()
			if err != nil {
				return err
			}
			defer client.Close()

			video, err := client.Video(cmd.Context(), strings.TrimSpace(args[0]))
			if err != nil {
				return err
			}
			summary, err := a.runSelection(cmd.Context(), runRequest{
				title:    "Downloading " + video.Item.Title,
				channel:  video.Channel.Slug,
				username: video.Channel.Username,
				dest:     destDir(a.cfg.OutputDir, video.Channel.Username, downloadVODs.dir),
				items:    []model.Item{video.Item},
			})
			return a.report(summary, err, jsonOut)
		},
	}
	addRunFlags(cmd.Flags())
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print the run summary as JSON")
	return cmd
}

func newListCmd(v *viper.Viper) *cobra.Command {
	var (
		kind       string
		timeFilter string
		sortOrder  string
		jsonOut    bool
	)
	cmd := &cobra.Command{
		Use:   "list <channel>",
		Short: "List a channel's clips or VODs without downloading",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd, v)
			if err != nil {
				return err
			}
			client, err := a.kickClient()
			if err != nil {
				return err
			}
			defer client.Close()

			ch, err := client.Channel(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			q := model.Query{Channel: ch.Slug, Kind: kind, Time: timeFilter, Sort: sortOrder}
			if kind == model.KindVOD {
				q.Time, q.Sort = model.TimeAll, model.SortRecent
			}
			if err := q.Validate(); err != nil {
				return err
			}
			res, err := a.collect(cmd.Context(), client, q)
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(a.out, res)
			}
			for i, it := range res.Items {
				fmt.Fprintf(a.out, "%3d. %-60s %10s %8d views\n", i+1, truncateRunes(it.Title, 60), formatDuration(it.DurationSec), it.Views)
			}
			fmt.Fprintf(a.out, "%d items in %d pages\n", len(res.Items), res.Pages)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&kind, "kind", model.KindClip, "content kind: clip|vod")
	f.StringVar(&timeFilter, "time", model.TimeAll, "time filter: all|day|week|month")
	f.StringVar(&sortOrder, "sort", model.SortViews, "sort order: view|date")
	addMaxFetchAttemptsFlag(f)
	f.BoolVar(&jsonOut, "json", false, "print JSON output")
	return cmd
}
