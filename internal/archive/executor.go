package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"kickdl/internal/ffmpeg"
	"kickdl/internal/model"
	"kickdl/internal/runstore"
)

const (
	ReasonMissingSource = "missing_source"
	ReasonExists        = "already_exists"
	ReasonExitStatus    = "exit_status"
	ReasonSpawnError    = "spawn_error"
	ReasonLogFile       = "log_file_error"
	ReasonFinalize      = "finalize_error"
	ReasonCanceled      = "canceled"
)

type ExecutorOptions struct {
	FFmpegPath string
	Threads    int
	Force      bool
	// Username prefixes every file name.
	Username string
	// LogDir receives one ffmpeg transcript per item when set.
	LogDir   string
	Slots    *SlotPool
	Reporter Reporter
}

// Executor downloads single items by handing the stream to ffmpeg.
type Executor struct {
	opts ExecutorOptions
	now  func() time.Time
}

func NewExecutor(opts ExecutorOptions) *Executor {
	if opts.Reporter == nil {
		opts.Reporter = nopReporter{}
	}
	return &Executor{opts: opts, now: time.Now}
}

// Path is where item will be written inside destDir.
func (e *Executor) Path(item model.Item, destDir string) string {
	return filepath.Join(destDir, FileName(e.opts.Username, item.Title, item.DurationSec, item.Views))
}

// Download produces the result for one item. The returned error is non-nil
// only when ffmpeg could not be started; the result is still filled in as a
// failure in that case.
func (e *Executor) Download(ctx context.Context, item model.Item, destDir string, slot int) (model.DownloadResult, error) {
	res := model.DownloadResult{ItemID: item.ID}
	if strings.TrimSpace(item.SourceURL) == "" {
		res.Status = model.StatusFailed
		res.Reason = ReasonMissingSource
		res.Err = "item has no source URL"
		return res, nil
	}

	outPath := e.Path(item, destDir)
	res.FilePath = outPath
	if !e.opts.Force {
		if info, err := os.Stat(outPath); err == nil && !info.IsDir() {
			res.Status = model.StatusSkipped
			res.Reason = ReasonExists
			return res, nil
		}
	}

	var logW io.Writer
	if dir := strings.TrimSpace(e.opts.LogDir); dir != "" {
		if err := runstore.Mkdir(dir); err != nil {
			return failed(res, ReasonLogFile, err.Error()), nil
		}
		logFile, err := os.Create(filepath.Join(dir, safeLogName(item.ID)+".log"))
		if err != nil {
			return failed(res, ReasonLogFile, err.Error()), nil
		}
		defer logFile.Close()
		logW = logFile
	}

	var tracker *Tracker
	if e.opts.Slots != nil {
		tracker = e.opts.Slots.Tracker(slot)
	}
	parser := ffmpeg.NewParser()
	onLine := func(stream ffmpeg.OutputStream, line string) {
		sample, ok := parser.Feed(stream, line)
		if !ok || tracker == nil {
			return
		}
		e.opts.Reporter.UpdateSlot(tracker.Observe(sample, e.now()))
	}

	// ffmpeg writes next to the target and the file is renamed into place
	// only on success, so a failed forced download keeps the previous copy.
	partPath := PartPath(outPath)
	copyRes, err := ffmpeg.Copy(ctx, ffmpeg.CopyOptions{
		Binary:     e.opts.FFmpegPath,
		InputURL:   item.SourceURL,
		OutputPath: partPath,
		Threads:    e.opts.Threads,
		LogWriter:  logW,
		OnLine:     onLine,
	})
	if err == nil {
		if err := os.Rename(partPath, outPath); err != nil {
			_ = os.Remove(partPath)
			return failed(res, ReasonFinalize, err.Error()), nil
		}
		res.Status = model.StatusSucceeded
		return res, nil
	}

	_ = os.Remove(partPath)
	var spawnErr *ffmpeg.SpawnError
	if errors.As(err, &spawnErr) {
		return failed(res, ReasonSpawnError, err.Error()), err
	}

	res.ExitCode = copyRes.ExitCode
	if ctx.Err() != nil {
		return failed(res, ReasonCanceled, ctx.Err().Error()), nil
	}
	var exitErr *ffmpeg.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.Code
		return failed(res, ReasonExitStatus, truncate(exitErr.Output, 1200)), nil
	}
	return failed(res, ReasonExitStatus, err.Error()), nil
}

// PartPath is the in-progress name for outPath. The extension is kept so
// ffmpeg can still pick the container from it.
func PartPath(outPath string) string {
	ext := filepath.Ext(outPath)
	return strings.TrimSuffix(outPath, ext) + ".part" + ext
}

func failed(res model.DownloadResult, reason, detail string) model.DownloadResult {
	res.Status = model.StatusFailed
	res.Reason = reason
	res.Err = detail
	return res
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[len(s)-max:]
}

func safeLogName(id string) string {
	id = SanitizeTitle(id)
	if id == "" {
		return fmt.Sprintf("unknown_%d", time.Now().UnixNano())
	}
	return id
}
