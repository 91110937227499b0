package archive

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"kickdl/internal/model"
	"kickdl/internal/runstore"
)

const fakeFFmpegScript = `#!/usr/bin/env bash
set -u
trace="${KICKDL_TRACE:-/dev/null}"
in=""
prev=""
for a in "$@"; do
  if [ "$prev" = "-i" ]; then in="$a"; fi
  prev="$a"
done
out="${@: -1}"
echo "start $in" >> "$trace"
echo "  Duration: 00:00:10.00, start: 0.000000, bitrate: 900 kb/s" >&2
sleep 0.2
case "$in" in
  *fail*)
    echo partial > "$out"
    echo "Server returned 404 Not Found" >&2
    echo "end $in" >> "$trace"
    exit 1
    ;;
esac
printf 'out_time=00:00:05.000000\ntotal_size=5000\nprogress=continue\n'
printf 'out_time=00:00:10.000000\ntotal_size=10000\nprogress=end\n'
echo video > "$out"
echo "end $in" >> "$trace"
`

type harness struct {
	ffmpeg string
	trace  string
	dest   string
}

func newHarness(t *testing.T) harness {
	t.Helper()
	tmp := t.TempDir()
	bin := filepath.Join(tmp, "bin")
	if err := os.MkdirAll(bin, 0o755); err != nil {
		t.Fatal(err)
	}
	ffmpegPath := filepath.Join(bin, "ffmpeg")
	if err := os.WriteFile(ffmpegPath, []byte(fakeFFmpegScript), 0o755); err != nil {
		t.Fatal(err)
	}
	trace := filepath.Join(tmp, "trace.log")
	t.Setenv("KICKDL_TRACE", trace)
	return harness{ffmpeg: ffmpegPath, trace: trace, dest: filepath.Join(tmp, "downloads", "Streamer", "clips")}
}

func (h harness) traceLines(t *testing.T) []string {
	t.Helper()
	f, err := os.Open(h.trace)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		t.Fatal(err)
	}
	defer f.Close()
	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	return lines
}

func (h harness) scheduler(concurrency int, rep Reporter) *Scheduler {
	return NewScheduler(SchedulerOptions{
		Concurrency: concurrency,
		DestDir:     h.dest,
		Channel:     "streamer",
		Username:    "Streamer",
		FFmpegPath:  h.ffmpeg,
		Reporter:    rep,
	})
}

func testItems(n int) []model.Item {
	out := make([]model.Item, n)
	for i := range out {
		out[i] = model.Item{
			ID:          fmt.Sprintf("clip-%02d", i),
			Kind:        model.KindClip,
			Title:       fmt.Sprintf("Clip %02d", i),
			DurationSec: 10,
			Views:       i * 10,
			SourceURL:   fmt.Sprintf("https://cdn.example/item-%02d.m3u8", i),
		}
	}
	return out
}

type recordingReporter struct {
	mu       sync.Mutex
	batches  []BatchUpdate
	slots    []SlotUpdate
	released []int
	overall  []OverallUpdate
	finished []model.RunSummary
}

func (r *recordingReporter) UpdateSlot(u SlotUpdate) {
	r.mu.Lock()
	r.slots = append(r.slots, u)
	r.mu.Unlock()
}

func (r *recordingReporter) ReleaseSlot(slot int) {
	r.mu.Lock()
	r.released = append(r.released, slot)
	r.mu.Unlock()
}

func (r *recordingReporter) UpdateOverall(u OverallUpdate) {
	r.mu.Lock()
	r.overall = append(r.overall, u)
	r.mu.Unlock()
}

func (r *recordingReporter) UpdateBatch(u BatchUpdate) {
	r.mu.Lock()
	r.batches = append(r.batches, u)
	r.mu.Unlock()
}

func (r *recordingReporter) Finished(s model.RunSummary) {
	r.mu.Lock()
	r.finished = append(r.finished, s)
	r.mu.Unlock()
}

func TestHarnessRunsBatchesSequentially(t *testing.T) {
	h := newHarness(t)
	rep := &recordingReporter{}
	items := testItems(10)

	summary, err := h.scheduler(4, rep).Run(context.Background(), items)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.Succeeded != 10 || summary.Skipped != 0 || summary.Failed != 0 || summary.Total != 10 {
		t.Fatalf("unexpected summary %+v", summary)
	}

	var sizes []int
	for _, b := range rep.batches {
		if b.Completed == 0 {
			sizes = append(sizes, b.Size)
		}
	}
	if fmt.Sprint(sizes) != "[4 4 2]" {
		t.Fatalf("expected batches [4 4 2], got %v", sizes)
	}

	batchOf := func(line string) int {
		var n int
		if _, err := fmt.Sscanf(line[strings.LastIndex(line, "item-")+5:], "%02d", &n); err != nil {
			t.Fatalf("bad trace line %q", line)
		}
		return n / 4
	}
	lines := h.traceLines(t)
	if len(lines) != 20 {
		t.Fatalf("expected 20 trace lines, got %d", len(lines))
	}
	ended := map[int]int{}
	for _, line := range lines {
		b := batchOf(line)
		if strings.HasPrefix(line, "start ") && b > 0 {
			want := 4
			if ended[b-1] != want {
				t.Fatalf("batch %d started before batch %d finished: %v", b+1, b, lines)
			}
		}
		if strings.HasPrefix(line, "end ") {
			ended[b]++
		}
	}

	if len(rep.slots) == 0 {
		t.Fatalf("expected slot progress updates")
	}
	for _, u := range rep.slots {
		if u.Slot < 0 || u.Slot >= 4 {
			t.Fatalf("slot %d outside the pool", u.Slot)
		}
		if (u.Total != 0 && u.Total != 10) || (u.Total > 0 && u.Position > u.Total) {
			t.Fatalf("unexpected slot update %+v", u)
		}
	}
	last := rep.overall[len(rep.overall)-1]
	if last.Status != "Completed: 10 downloaded, 0 skipped, 0 failed" {
		t.Fatalf("unexpected final status %q", last.Status)
	}
	if len(rep.finished) != 1 {
		t.Fatalf("expected one finished notification, got %d", len(rep.finished))
	}

	var mf model.RunManifest
	if err := runstore.ReadJSON(summary.ManifestPath, &mf); err != nil {
		t.Fatal(err)
	}
	if mf.Succeeded != 10 || mf.Pending != 0 || mf.Running != 0 {
		t.Fatalf("unexpected manifest counts %+v", mf)
	}
	if _, err := os.Stat(filepath.Join(runstore.ItemLogDir(h.dest, summary.RunID), "clip-00.log")); err != nil {
		t.Fatalf("expected per-item log: %v", err)
	}
}

func TestHarnessCountsFailuresAndContinues(t *testing.T) {
	h := newHarness(t)
	items := testItems(4)
	items[1].SourceURL = "https://cdn.example/fail-01.m3u8"
	items[2].SourceURL = ""

	summary, err := h.scheduler(2, nil).Run(context.Background(), items)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.Succeeded != 2 || summary.Failed != 2 || summary.Succeeded+summary.Skipped+summary.Failed != len(items) {
		t.Fatalf("unexpected summary %+v", summary)
	}

	var mf model.RunManifest
	if err := runstore.ReadJSON(summary.ManifestPath, &mf); err != nil {
		t.Fatal(err)
	}
	exitRec := mf.Items[1]
	if exitRec.Status != model.StatusFailed || exitRec.Reason != ReasonExitStatus || exitRec.ExitCode != 1 {
		t.Fatalf("unexpected record for failing item %+v", exitRec)
	}
	if !strings.Contains(exitRec.LastError, "404 Not Found") {
		t.Fatalf("expected ffmpeg error tail, got %q", exitRec.LastError)
	}
	if mf.Items[2].Reason != ReasonMissingSource || mf.Items[2].StartedAt != "" {
		t.Fatalf("missing-source item must fail without starting: %+v", mf.Items[2])
	}
	for _, line := range h.traceLines(t) {
		if strings.Contains(line, "item-02") {
			t.Fatalf("ffmpeg must not run for an item without source")
		}
	}
	exec := NewExecutor(ExecutorOptions{Username: "Streamer"})
	failedPath := exec.Path(items[1], h.dest)
	for _, p := range []string{failedPath, PartPath(failedPath)} {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Fatalf("expected no output left for the failed item at %s", p)
		}
	}
}

func TestHarnessSkipsExistingFiles(t *testing.T) {
	h := newHarness(t)
	items := testItems(3)
	exec := NewExecutor(ExecutorOptions{Username: "Streamer"})
	existing := exec.Path(items[0], h.dest)
	if err := runstore.WriteBytes(existing, []byte("keep me")); err != nil {
		t.Fatal(err)
	}

	summary, err := h.scheduler(4, nil).Run(context.Background(), items)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.Skipped != 1 || summary.Succeeded != 2 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	for _, line := range h.traceLines(t) {
		if strings.Contains(line, "item-00") {
			t.Fatalf("ffmpeg must not be spawned for an existing file")
		}
	}
	data, err := os.ReadFile(existing)
	if err != nil || string(data) != "keep me" {
		t.Fatalf("existing file changed: %q err=%v", data, err)
	}

	again, err := h.scheduler(4, nil).Run(context.Background(), items)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if again.Skipped != 3 || again.Succeeded != 0 {
		t.Fatalf("expected every item to be skipped on rerun, got %+v", again)
	}
	if again.RunID == summary.RunID {
		t.Fatalf("expected a fresh run id")
	}
	manifests, err := runstore.ListManifests(h.dest)
	if err != nil || len(manifests) != 2 {
		t.Fatalf("expected two run manifests, got %v err=%v", manifests, err)
	}
}

func TestHarnessForceRedownloads(t *testing.T) {
	h := newHarness(t)
	items := testItems(1)
	exec := NewExecutor(ExecutorOptions{Username: "Streamer"})
	if err := runstore.WriteBytes(exec.Path(items[0], h.dest), []byte("old")); err != nil {
		t.Fatal(err)
	}
	s := NewScheduler(SchedulerOptions{Concurrency: 1, DestDir: h.dest, Username: "Streamer", FFmpegPath: h.ffmpeg, Force: true})
	summary, err := s.Run(context.Background(), items)
	if err != nil {
		t.Fatal(err)
	}
	if summary.Succeeded != 1 {
		t.Fatalf("expected forced download, got %+v", summary)
	}
	data, err := os.ReadFile(exec.Path(items[0], h.dest))
	if err != nil || string(data) != "video\n" {
		t.Fatalf("expected the new download in place, got %q err=%v", data, err)
	}
}

func TestHarnessFailedForceKeepsPreviousFile(t *testing.T) {
	h := newHarness(t)
	items := testItems(1)
	items[0].SourceURL = "https://cdn.example/fail-00.m3u8"
	exec := NewExecutor(ExecutorOptions{Username: "Streamer"})
	target := exec.Path(items[0], h.dest)
	if err := runstore.WriteBytes(target, []byte("old")); err != nil {
		t.Fatal(err)
	}
	s := NewScheduler(SchedulerOptions{Concurrency: 1, DestDir: h.dest, Username: "Streamer", FFmpegPath: h.ffmpeg, Force: true})
	summary, err := s.Run(context.Background(), items)
	if err != nil {
		t.Fatal(err)
	}
	if summary.Failed != 1 {
		t.Fatalf("expected the forced download to fail, got %+v", summary)
	}
	data, err := os.ReadFile(target)
	if err != nil || string(data) != "old" {
		t.Fatalf("previous file must survive a failed redownload, got %q err=%v", data, err)
	}
	if _, err := os.Stat(PartPath(target)); !os.IsNotExist(err) {
		t.Fatalf("expected the in-progress file to be removed")
	}
}

func TestHarnessConvertsSpawnFailure(t *testing.T) {
	h := newHarness(t)
	broken := filepath.Join(t.TempDir(), "ffmpeg")
	if err := os.WriteFile(broken, []byte("#!/nonexistent/interpreter\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	s := NewScheduler(SchedulerOptions{Concurrency: 2, DestDir: h.dest, Username: "Streamer", FFmpegPath: broken})
	summary, err := s.Run(context.Background(), testItems(2))
	if err != nil {
		t.Fatalf("spawn failures must not abort the run: %v", err)
	}
	if summary.Failed != 2 {
		t.Fatalf("expected both items failed, got %+v", summary)
	}
	var mf model.RunManifest
	if err := runstore.ReadJSON(summary.ManifestPath, &mf); err != nil {
		t.Fatal(err)
	}
	if mf.Items[0].Reason != ReasonSpawnError {
		t.Fatalf("unexpected reason %q", mf.Items[0].Reason)
	}
}

func TestExecutorReturnsSpawnError(t *testing.T) {
	exec := NewExecutor(ExecutorOptions{FFmpegPath: filepath.Join(t.TempDir(), "missing-ffmpeg"), Username: "u"})
	res, err := exec.Download(context.Background(), testItems(1)[0], t.TempDir(), -1)
	if err == nil {
		t.Fatalf("expected spawn error")
	}
	if res.Status != model.StatusFailed || res.Reason != ReasonSpawnError {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestHarnessFailsWhenDestinationIsLocked(t *testing.T) {
	h := newHarness(t)
	lock, err := runstore.AcquireDestLock(h.dest, "other-run")
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		_ = lock.Release()
	}()

	_, err = h.scheduler(2, nil).Run(context.Background(), testItems(1))
	if err == nil || !strings.Contains(err.Error(), "locked") {
		t.Fatalf("expected lock error, got %v", err)
	}
}

func TestHarnessCountsEveryItemWithoutFFmpeg(t *testing.T) {
	h := newHarness(t)
	items := testItems(3)
	exec := NewExecutor(ExecutorOptions{Username: "Streamer"})
	if err := runstore.WriteBytes(exec.Path(items[0], h.dest), []byte("done")); err != nil {
		t.Fatal(err)
	}
	s := NewScheduler(SchedulerOptions{Concurrency: 2, DestDir: h.dest, Username: "Streamer", FFmpegPath: filepath.Join(t.TempDir(), "nope")})
	summary, err := s.Run(context.Background(), items)
	if err != nil {
		t.Fatalf("a missing binary must not abort the run: %v", err)
	}
	if summary.Skipped != 1 || summary.Failed != 2 || summary.Succeeded+summary.Skipped+summary.Failed != len(items) {
		t.Fatalf("unexpected summary %+v", summary)
	}
	var mf model.RunManifest
	if err := runstore.ReadJSON(summary.ManifestPath, &mf); err != nil {
		t.Fatal(err)
	}
	if mf.Items[1].Reason != ReasonSpawnError || mf.Items[2].Reason != ReasonSpawnError {
		t.Fatalf("expected spawn_error reasons, got %+v", mf.Items)
	}
}

func TestHarnessWritesRunLog(t *testing.T) {
	h := newHarness(t)
	summary, err := h.scheduler(1, nil).Run(context.Background(), testItems(1))
	if err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(runstore.RunLogPath(h.dest, summary.RunID))
	if err != nil {
		t.Fatalf("expected run log on a fresh destination: %v", err)
	}
	if !strings.Contains(string(data), "item finished") || !strings.Contains(string(data), "run finished") {
		t.Fatalf("unexpected run log:\n%s", data)
	}
}

func TestHarnessStopsWhenCanceled(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, err := h.scheduler(2, nil).Run(ctx, testItems(3))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if !summary.Canceled || summary.Succeeded+summary.Failed+summary.Skipped != 0 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	var mf model.RunManifest
	if err := runstore.ReadJSON(summary.ManifestPath, &mf); err != nil {
		t.Fatal(err)
	}
	if mf.Pending != 3 {
		t.Fatalf("expected untouched items to stay pending, got %+v", mf)
	}
}
