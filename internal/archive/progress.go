package archive

import (
	"math"
	"strconv"
	"sync"
	"time"

	"kickdl/internal/ffmpeg"
)

// SampleInterval is the minimum spacing between throughput samples.
const SampleInterval = 500 * time.Millisecond

// Meter turns cumulative byte counts into a throughput figure.
type Meter struct {
	started   bool
	lastAt    time.Time
	lastBytes int64
	rate      float64
}

func (m *Meter) Reset() {
	*m = Meter{}
}

// Observe records a cumulative byte count. The rate only changes once at
// least SampleInterval has passed since the previous accepted sample.
func (m *Meter) Observe(totalBytes int64, now time.Time) (float64, bool) {
	if !m.started {
		m.started = true
		m.lastAt = now
		m.lastBytes = totalBytes
		return m.rate, false
	}
	dt := now.Sub(m.lastAt)
	if dt < SampleInterval {
		return m.rate, false
	}
	delta := totalBytes - m.lastBytes
	if delta < 0 {
		delta = 0
	}
	m.rate = float64(delta) / dt.Seconds()
	m.lastAt = now
	m.lastBytes = totalBytes
	return m.rate, true
}

// Rate is in bytes per second.
func (m *Meter) Rate() float64 {
	return m.rate
}

// Tracker is the reusable progress state behind one slot.
type Tracker struct {
	mu         sync.Mutex
	slot       int
	label      string
	meter      Meter
	position   float64
	total      float64
	throughput string
}

func (t *Tracker) reset(label string) {
	t.mu.Lock()
	t.label = label
	t.meter.Reset()
	t.position = 0
	t.total = 0
	t.throughput = ""
	t.mu.Unlock()
}

// Observe folds one telemetry sample into the tracker.
func (t *Tracker) Observe(s ffmpeg.Sample, now time.Time) SlotUpdate {
	t.mu.Lock()
	defer t.mu.Unlock()

	if s.DurationSec > 0 {
		t.total = s.DurationSec
	}
	t.position = s.ElapsedSec
	if t.total > 0 {
		t.position = math.Min(s.ElapsedSec, t.total)
	}
	if rate, ok := t.meter.Observe(s.TotalBytes, now); ok {
		t.throughput = FormatRate(rate)
	}
	if s.Final && t.total > 0 {
		t.position = t.total
	}
	return SlotUpdate{
		Slot:       t.slot,
		Position:   t.position,
		Total:      t.total,
		Label:      t.label,
		Throughput: t.throughput,
	}
}

func FormatRate(bytesPerSec float64) string {
	if bytesPerSec <= 0 {
		return "0 B/s"
	}
	return formatBytesIEC(int64(math.Round(bytesPerSec))) + "/s"
}

func formatBytesIEC(n int64) string {
	if n <= 0 {
		return "0 B"
	}
	const unit = 1024
	if n < unit {
		return strconv.FormatInt(n, 10) + " B"
	}
	div, exp := int64(unit), 0
	for q := n / unit; q >= unit; q /= unit {
		div *= unit
		exp++
	}
	value := float64(n) / float64(div)
	suffix := "KMGTPE"[exp]
	return strconv.FormatFloat(value, 'f', 2, 64) + " " + string(suffix) + "iB"
}
