package archive

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"kickdl/internal/model"
)

var ErrCounterOverflow = errors.New("completed items exceed selection size")

type Snapshot struct {
	Succeeded int    `json:"succeeded"`
	Skipped   int    `json:"skipped"`
	Failed    int    `json:"failed"`
	Completed int    `json:"completed"`
	Total     int    `json:"total"`
	Batch     int    `json:"batch"`
	Batches   int    `json:"batches"`
	Finished  bool   `json:"finished"`
	Status    string `json:"status"`
}

// Aggregator folds download results into run-wide counters.
type Aggregator struct {
	mu        sync.Mutex
	total     int
	batches   int
	batch     int
	succeeded int
	skipped   int
	failed    int
	finished  bool
}

func NewAggregator(total, batches int) *Aggregator {
	return &Aggregator{total: total, batches: batches}
}

func (a *Aggregator) StartBatch(index int) Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.batch = index
	return a.snapshotLocked()
}

// Update counts one result. A result past the selection size is rejected
// and leaves the counters untouched.
func (a *Aggregator) Update(r model.DownloadResult) (Snapshot, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.completedLocked() >= a.total {
		return a.snapshotLocked(), fmt.Errorf("%w: total=%d item=%s", ErrCounterOverflow, a.total, r.ItemID)
	}
	if !model.IsTerminal(r.Status) {
		return a.snapshotLocked(), fmt.Errorf("cannot count result with status %q (item=%s)", r.Status, r.ItemID)
	}
	switch r.Status {
	case model.StatusSucceeded:
		a.succeeded++
	case model.StatusSkipped:
		a.skipped++
	case model.StatusFailed:
		a.failed++
	}
	return a.snapshotLocked(), nil
}

func (a *Aggregator) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshotLocked()
}

func (a *Aggregator) Status() string {
	return a.Snapshot().Status
}

func (a *Aggregator) Finish() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.finished = true
	return a.snapshotLocked()
}

func (a *Aggregator) completedLocked() int {
	return a.succeeded + a.skipped + a.failed
}

func (a *Aggregator) snapshotLocked() Snapshot {
	s := Snapshot{
		Succeeded: a.succeeded,
		Skipped:   a.skipped,
		Failed:    a.failed,
		Completed: a.completedLocked(),
		Total:     a.total,
		Batch:     a.batch,
		Batches:   a.batches,
		Finished:  a.finished,
	}
	if a.finished {
		s.Status = fmt.Sprintf("Completed: %d downloaded, %d skipped, %d failed", s.Succeeded, s.Skipped, s.Failed)
	} else {
		s.Status = fmt.Sprintf("Processing batch %d/%d | Downloaded: %d | Skipped: %d | Failed: %d", s.Batch, s.Batches, s.Succeeded, s.Skipped, s.Failed)
	}
	return s
}

// BatchClock estimates the time left in the running batch.
type BatchClock struct {
	Start     time.Time
	Size      int
	Completed int
}

// ETA returns elapsed/fraction - elapsed, clamped at zero. It reports false
// until the first item of the batch has finished.
func (c BatchClock) ETA(now time.Time) (time.Duration, bool) {
	if c.Size <= 0 || c.Completed <= 0 {
		return 0, false
	}
	elapsed := now.Sub(c.Start)
	if elapsed < 0 {
		elapsed = 0
	}
	fraction := float64(c.Completed) / float64(c.Size)
	eta := time.Duration(float64(elapsed)/fraction) - elapsed
	if eta < 0 {
		eta = 0
	}
	return eta, true
}
