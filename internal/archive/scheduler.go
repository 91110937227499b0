package archive

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/rs/xid"
	"golang.org/x/sync/errgroup"

	"kickdl/internal/ffmpeg"
	"kickdl/internal/model"
	"kickdl/internal/runstore"
)

const manifestSchemaVersion = 1

type SchedulerOptions struct {
	Concurrency   int
	DestDir       string
	Channel       string
	Username      string
	Force         bool
	FFmpegPath    string
	FFmpegThreads int
	RunID         string
	Reporter      Reporter
	Logger        *log.Logger
}

// Scheduler runs a selection in sequential batches of concurrent downloads.
type Scheduler struct {
	opts   SchedulerOptions
	logger *log.Logger
	now    func() time.Time
}

func NewScheduler(opts SchedulerOptions) *Scheduler {
	if opts.Concurrency < 1 {
		opts.Concurrency = 4
	}
	if opts.Reporter == nil {
		opts.Reporter = nopReporter{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Scheduler{opts: opts, logger: logger.WithPrefix("run"), now: time.Now}
}

type runState struct {
	mu           sync.Mutex
	mf           model.RunManifest
	manifestPath string
}

func (st *runState) update(i int, fn func(rec *model.ItemRecord) error) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	if err := fn(&st.mf.Items[i]); err != nil {
		return err
	}
	recomputeCounts(&st.mf)
	st.mf.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
	if err := runstore.WriteJSON(st.manifestPath, st.mf); err != nil {
		return fmt.Errorf("persist run manifest: %w", err)
	}
	return nil
}

// Run downloads items and returns the summary. Item failures are counted,
// not returned; an error means the run itself could not proceed.
func (s *Scheduler) Run(ctx context.Context, items []model.Item) (model.RunSummary, error) {
	dest := strings.TrimSpace(s.opts.DestDir)
	summary := model.RunSummary{DestinationDir: dest, Total: len(items)}
	if dest == "" {
		return summary, fmt.Errorf("destination directory is required")
	}
	if err := runstore.Mkdir(dest); err != nil {
		return summary, err
	}

	runID := strings.TrimSpace(s.opts.RunID)
	if runID == "" {
		runID = xid.New().String()
	}
	summary.RunID = runID

	lock, err := runstore.AcquireDestLock(dest, runID)
	if err != nil {
		return summary, err
	}
	defer func() {
		_ = lock.Release()
	}()

	// A missing binary still lets every item be accounted for: existing files
	// are skipped and the rest fail with spawn_error.
	if err := ffmpeg.CheckDependency(s.opts.FFmpegPath); err != nil {
		s.logger.Warn("ffmpeg unavailable; downloads will fail", "err", err)
	}

	runLog := s.logger.With("run_id", runID)
	if f, err := runstore.CreateRunLog(dest, runID); err == nil {
		defer f.Close()
		runLog = log.NewWithOptions(f, log.Options{ReportTimestamp: true, Prefix: "run", Level: log.DebugLevel})
	} else {
		s.logger.Warn("run log unavailable", "err", err)
	}

	st := &runState{manifestPath: runstore.ManifestPath(dest, runID)}
	st.mf = newManifest(runID, s.opts, dest, items)
	if err := runstore.WriteJSON(st.manifestPath, st.mf); err != nil {
		return summary, fmt.Errorf("persist run manifest: %w", err)
	}
	summary.ManifestPath = st.manifestPath

	slots := NewSlotPool(s.opts.Concurrency)
	exec := NewExecutor(ExecutorOptions{
		FFmpegPath: s.opts.FFmpegPath,
		Threads:    s.opts.FFmpegThreads,
		Force:      s.opts.Force,
		Username:   s.opts.Username,
		LogDir:     runstore.ItemLogDir(dest, runID),
		Slots:      slots,
		Reporter:   s.opts.Reporter,
	})

	batches := Batches(items, s.opts.Concurrency)
	agg := NewAggregator(len(items), len(batches))
	rep := s.opts.Reporter
	s.logger.Info("run started", "run_id", runID, "items", len(items), "batches", len(batches), "concurrency", s.opts.Concurrency, "dest", dest)

	offset := 0
	for bi, batch := range batches {
		if err := ctx.Err(); err != nil {
			summary.Canceled = true
			break
		}
		snap := agg.StartBatch(bi + 1)
		rep.UpdateOverall(OverallUpdate{Completed: snap.Completed, Total: snap.Total, Status: snap.Status})
		rep.UpdateBatch(BatchUpdate{Index: bi + 1, Count: len(batches), Size: len(batch)})

		clock := BatchClock{Start: s.now(), Size: len(batch)}
		var clockMu sync.Mutex

		g, gctx := errgroup.WithContext(ctx)
		for j, item := range batch {
			idx := offset + j
			g.Go(func() error {
				res, err := s.runItem(gctx, exec, slots, st, idx, item, dest)
				if err != nil {
					return err
				}

				snap, err := agg.Update(res)
				if err != nil {
					return err
				}
				clockMu.Lock()
				clock.Completed++
				eta, ok := clock.ETA(s.now())
				bu := BatchUpdate{Index: bi + 1, Count: len(batches), Size: clock.Size, Completed: clock.Completed, ETA: eta, HasETA: ok}
				clockMu.Unlock()

				rep.UpdateBatch(bu)
				rep.UpdateOverall(OverallUpdate{Completed: snap.Completed, Total: snap.Total, Status: snap.Status})
				runLog.Info("item finished", "item_id", res.ItemID, "status", res.Status, "reason", res.Reason, "exit_code", res.ExitCode, "file", res.FilePath)
				if res.Status == model.StatusFailed {
					s.logger.Debug("item failed", "item_id", res.ItemID, "reason", res.Reason)
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return s.finish(summary, agg, st, rep), err
		}
		offset += len(batch)
	}
	if ctx.Err() != nil {
		summary.Canceled = true
	}

	summary = s.finish(summary, agg, st, rep)
	if summary.Canceled {
		runLog.Warn("run canceled", "completed", summary.Succeeded+summary.Skipped+summary.Failed, "total", summary.Total)
		return summary, ctx.Err()
	}
	runLog.Info("run finished", "succeeded", summary.Succeeded, "skipped", summary.Skipped, "failed", summary.Failed)
	return summary, nil
}

func (s *Scheduler) runItem(ctx context.Context, exec *Executor, slots *SlotPool, st *runState, idx int, item model.Item, dest string) (model.DownloadResult, error) {
	if strings.TrimSpace(item.SourceURL) == "" {
		res := failed(model.DownloadResult{ItemID: item.ID}, ReasonMissingSource, "item has no source URL")
		return res, st.update(idx, func(rec *model.ItemRecord) error {
			return finishRecord(rec, res, s.now())
		})
	}

	slot := slots.Acquire(itemLabel(item))
	defer func() {
		if slot >= 0 {
			slots.Release(slot)
			s.opts.Reporter.ReleaseSlot(slot)
		}
	}()

	if err := st.update(idx, func(rec *model.ItemRecord) error {
		if err := model.TransitionItemStatus(rec, model.StatusRunning, ""); err != nil {
			return err
		}
		rec.StartedAt = s.now().UTC().Format(time.RFC3339)
		return nil
	}); err != nil {
		return model.DownloadResult{}, err
	}

	res, spawnErr := exec.Download(ctx, item, dest, slot)
	if spawnErr != nil {
		s.logger.Warn("ffmpeg could not be started", "item_id", item.ID, "err", spawnErr)
		if res.Status != model.StatusFailed {
			res = failed(res, ReasonSpawnError, spawnErr.Error())
		}
	}
	return res, st.update(idx, func(rec *model.ItemRecord) error {
		return finishRecord(rec, res, s.now())
	})
}

func (s *Scheduler) finish(summary model.RunSummary, agg *Aggregator, st *runState, rep Reporter) model.RunSummary {
	snap := agg.Finish()
	summary.Succeeded = snap.Succeeded
	summary.Skipped = snap.Skipped
	summary.Failed = snap.Failed

	st.mu.Lock()
	recomputeCounts(&st.mf)
	st.mf.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
	if err := runstore.WriteJSON(st.manifestPath, st.mf); err != nil {
		s.logger.Warn("final manifest write failed", "err", err)
	}
	st.mu.Unlock()

	rep.UpdateOverall(OverallUpdate{Completed: snap.Completed, Total: snap.Total, Status: snap.Status})
	rep.Finished(summary)
	return summary
}

func finishRecord(rec *model.ItemRecord, res model.DownloadResult, now time.Time) error {
	if err := model.TransitionItemStatus(rec, res.Status, res.Reason); err != nil {
		return err
	}
	rec.FilePath = res.FilePath
	rec.LastError = res.Err
	rec.ExitCode = res.ExitCode
	rec.FinishedAt = now.UTC().Format(time.RFC3339)
	return nil
}

func newManifest(runID string, opts SchedulerOptions, dest string, items []model.Item) model.RunManifest {
	now := time.Now().UTC().Format(time.RFC3339)
	mf := model.RunManifest{
		SchemaVersion:  manifestSchemaVersion,
		RunID:          runID,
		CreatedAt:      now,
		UpdatedAt:      now,
		Channel:        opts.Channel,
		DestinationDir: dest,
		Concurrency:    opts.Concurrency,
		Items:          make([]model.ItemRecord, len(items)),
	}
	for i, item := range items {
		rec := model.ItemRecord{
			Index:     i + 1,
			ItemID:    item.ID,
			Title:     item.Title,
			SourceURL: item.SourceURL,
		}
		_ = model.TransitionItemStatus(&rec, model.StatusPending, "")
		mf.Items[i] = rec
	}
	recomputeCounts(&mf)
	return mf
}

func recomputeCounts(mf *model.RunManifest) {
	mf.Total = len(mf.Items)
	mf.Pending, mf.Running, mf.Succeeded, mf.Skipped, mf.Failed = 0, 0, 0, 0, 0
	for _, rec := range mf.Items {
		switch rec.Status {
		case model.StatusPending:
			mf.Pending++
		case model.StatusRunning:
			mf.Running++
		case model.StatusSucceeded:
			mf.Succeeded++
		case model.StatusSkipped:
			mf.Skipped++
		case model.StatusFailed:
			mf.Failed++
		}
	}
}

func itemLabel(item model.Item) string {
	title := strings.TrimSpace(item.Title)
	if title == "" {
		title = item.ID
	}
	if r := []rune(title); len(r) > 48 {
		title = string(r[:48]) + "..."
	}
	return title
}
