package archive

import (
	"io"
	"time"

	"github.com/charmbracelet/log"

	"kickdl/internal/model"
)

type SlotUpdate struct {
	Slot       int
	Position   float64
	Total      float64
	Label      string
	Throughput string
}

type OverallUpdate struct {
	Completed int
	Total     int
	Status    string
}

type BatchUpdate struct {
	Index     int
	Count     int
	Size      int
	Completed int
	ETA       time.Duration
	HasETA    bool
}

// Reporter receives live progress. Implementations are called from several
// goroutines at once.
type Reporter interface {
	UpdateSlot(SlotUpdate)
	ReleaseSlot(slot int)
	UpdateOverall(OverallUpdate)
	UpdateBatch(BatchUpdate)
	Finished(model.RunSummary)
}

type nopReporter struct{}

func (nopReporter) UpdateSlot(SlotUpdate)       {}
func (nopReporter) ReleaseSlot(int)             {}
func (nopReporter) UpdateOverall(OverallUpdate) {}
func (nopReporter) UpdateBatch(BatchUpdate)     {}
func (nopReporter) Finished(model.RunSummary)   {}

// LogReporter writes progress as log lines, for non-interactive output.
type LogReporter struct {
	logger *log.Logger
}

func NewLogReporter(logger *log.Logger) *LogReporter {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &LogReporter{logger: logger.WithPrefix("progress")}
}

func (r *LogReporter) UpdateSlot(u SlotUpdate) {
	r.logger.Debug("slot", "slot", u.Slot, "item", u.Label, "position", u.Position, "total", u.Total, "rate", u.Throughput)
}

func (r *LogReporter) ReleaseSlot(int) {}

func (r *LogReporter) UpdateOverall(u OverallUpdate) {
	r.logger.Info(u.Status, "completed", u.Completed, "total", u.Total)
}

func (r *LogReporter) UpdateBatch(u BatchUpdate) {
	if !u.HasETA {
		r.logger.Debug("batch started", "batch", u.Index, "of", u.Count, "size", u.Size)
		return
	}
	r.logger.Debug("batch progress", "batch", u.Index, "completed", u.Completed, "size", u.Size, "eta", u.ETA.Round(time.Second))
}

func (r *LogReporter) Finished(s model.RunSummary) {
	r.logger.Info("run finished", "run_id", s.RunID, "succeeded", s.Succeeded, "skipped", s.Skipped, "failed", s.Failed, "dest", s.DestinationDir)
}
