package discovery

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"kickdl/internal/model"
)

type fakeResponse struct {
	page model.Page
	err  error
}

type fakeFetcher struct {
	responses []fakeResponse
	cursors   []string
}

func (f *fakeFetcher) FetchPage(_ context.Context, _ model.Query, cursor string) (model.Page, error) {
	f.cursors = append(f.cursors, cursor)
	if len(f.responses) == 0 {
		return model.Page{}, nil
	}
	r := f.responses[0]
	f.responses = f.responses[1:]
	return r.page, r.err
}

type retryableErr struct{ retry bool }

func (e retryableErr) Error() string   { return fmt.Sprintf("retryable=%v", e.retry) }
func (e retryableErr) Retryable() bool { return e.retry }

func items(prefix string, from, to int) []model.Item {
	out := make([]model.Item, 0, to-from+1)
	for i := from; i <= to; i++ {
		out = append(out, model.Item{ID: fmt.Sprintf("%s%d", prefix, i), Kind: model.KindClip})
	}
	return out
}

func clipQuery() model.Query {
	return model.Query{Channel: "streamer", Kind: model.KindClip, Time: model.TimeAll, Sort: model.SortViews}
}

func newTestCollector(f PageFetcher, opts CollectorOptions) (*Collector, *[]time.Duration) {
	c := NewCollector(f, opts)
	var sleeps []time.Duration
	c.sleep = func(ctx context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return ctx.Err()
	}
	return c, &sleeps
}

func TestCollectDeduplicatesAcrossPages(t *testing.T) {
	page2 := append(items("c", 1, 2), items("c", 11, 18)...)
	f := &fakeFetcher{responses: []fakeResponse{
		{page: model.Page{Items: items("c", 1, 10), NextCursor: "p2"}},
		{page: model.Page{Items: page2, NextCursor: "p3"}},
		{page: model.Page{Items: items("c", 19, 28)}},
	}}
	var stats []PageStats
	c, sleeps := newTestCollector(f, CollectorOptions{
		PageDelay: 500 * time.Millisecond,
		OnPage:    func(s PageStats) { stats = append(stats, s) },
	})

	res, err := c.Collect(context.Background(), clipQuery())
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(res.Items) != 28 {
		t.Fatalf("expected 28 unique items, got %d", len(res.Items))
	}
	seen := map[string]bool{}
	for _, it := range res.Items {
		if seen[it.ID] {
			t.Fatalf("duplicate id %s", it.ID)
		}
		seen[it.ID] = true
	}
	if res.Items[10].ID != "c11" {
		t.Fatalf("expected first-seen ordering, got %s at index 10", res.Items[10].ID)
	}
	if res.State != model.CollectionExhausted || res.Pages != 3 {
		t.Fatalf("unexpected result state=%s pages=%d", res.State, res.Pages)
	}
	if got := fmt.Sprint(f.cursors); got != "[ p2 p3]" {
		t.Fatalf("unexpected cursor sequence %s", got)
	}
	if len(*sleeps) != 2 {
		t.Fatalf("expected a pacing delay between each pair of pages, got %v", *sleeps)
	}
	for _, d := range *sleeps {
		if d != 500*time.Millisecond {
			t.Fatalf("unexpected pacing delay %v", d)
		}
	}
	if len(stats) != 3 || stats[1].Found != 10 || stats[1].New != 8 || stats[2].Total != 28 {
		t.Fatalf("unexpected page stats %+v", stats)
	}
}

func TestCollectStopsOnRepeatedCursor(t *testing.T) {
	f := &fakeFetcher{responses: []fakeResponse{
		{page: model.Page{Items: items("a", 1, 3), NextCursor: "same"}},
		{page: model.Page{Items: items("a", 4, 6), NextCursor: "same"}},
		{page: model.Page{Items: items("a", 7, 9), NextCursor: "never"}},
	}}
	c, _ := newTestCollector(f, CollectorOptions{})
	res, err := c.Collect(context.Background(), clipQuery())
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Items) != 6 || len(f.cursors) != 2 {
		t.Fatalf("expected stop after repeated cursor, got %d items over %d requests", len(res.Items), len(f.cursors))
	}
}

func TestCollectStopsOnEmptyPage(t *testing.T) {
	f := &fakeFetcher{responses: []fakeResponse{
		{page: model.Page{Items: items("a", 1, 2), NextCursor: "next"}},
		{page: model.Page{NextCursor: "more"}},
	}}
	c, _ := newTestCollector(f, CollectorOptions{})
	res, err := c.Collect(context.Background(), clipQuery())
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Items) != 2 || len(f.cursors) != 2 || res.State != model.CollectionExhausted {
		t.Fatalf("unexpected result %+v after %d requests", res, len(f.cursors))
	}
}

func TestCollectRetriesSameCursor(t *testing.T) {
	f := &fakeFetcher{responses: []fakeResponse{
		{page: model.Page{Items: items("a", 1, 2), NextCursor: "p2"}},
		{err: errors.New("connection reset")},
		{err: errors.New("unexpected EOF")},
		{page: model.Page{Items: items("a", 3, 4)}},
	}}
	c, sleeps := newTestCollector(f, CollectorOptions{PageDelay: 500 * time.Millisecond, RetryDelay: 2 * time.Second, MaxAttempts: 5})
	res, err := c.Collect(context.Background(), clipQuery())
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(res.Items) != 4 {
		t.Fatalf("expected no page to be skipped, got %d items", len(res.Items))
	}
	if got := fmt.Sprint(f.cursors); got != "[ p2 p2 p2]" {
		t.Fatalf("expected retries on the same cursor, got %s", got)
	}
	want := []time.Duration{500 * time.Millisecond, 2 * time.Second, 2 * time.Second}
	if fmt.Sprint(*sleeps) != fmt.Sprint(want) {
		t.Fatalf("unexpected delays %v", *sleeps)
	}
}

func TestCollectGivesUpAfterMaxAttempts(t *testing.T) {
	f := &fakeFetcher{}
	for i := 0; i < 5; i++ {
		f.responses = append(f.responses, fakeResponse{err: errors.New("timeout")})
	}
	c, _ := newTestCollector(f, CollectorOptions{MaxAttempts: 3})
	_, err := c.Collect(context.Background(), clipQuery())
	if !errors.Is(err, ErrCollectionFailed) {
		t.Fatalf("expected ErrCollectionFailed, got %v", err)
	}
	var ce *CollectionError
	if !errors.As(err, &ce) || ce.Attempts != 3 || ce.Page != 1 {
		t.Fatalf("unexpected collection error %+v", ce)
	}
	if len(f.cursors) != 3 {
		t.Fatalf("expected 3 attempts, got %d", len(f.cursors))
	}
}

func TestCollectFailsFastOnPermanentError(t *testing.T) {
	f := &fakeFetcher{responses: []fakeResponse{{err: retryableErr{retry: false}}}}
	c, sleeps := newTestCollector(f, CollectorOptions{MaxAttempts: 10})
	_, err := c.Collect(context.Background(), clipQuery())
	if !errors.Is(err, ErrCollectionFailed) {
		t.Fatalf("expected ErrCollectionFailed, got %v", err)
	}
	var re retryableErr
	if !errors.As(err, &re) {
		t.Fatalf("expected cause to be preserved, got %v", err)
	}
	if len(*sleeps) != 0 || len(f.cursors) != 1 {
		t.Fatalf("expected no retries, got %d requests", len(f.cursors))
	}
}

func TestCollectUnboundedRetries(t *testing.T) {
	f := &fakeFetcher{}
	for i := 0; i < 25; i++ {
		f.responses = append(f.responses, fakeResponse{err: retryableErr{retry: true}})
	}
	f.responses = append(f.responses, fakeResponse{page: model.Page{Items: items("z", 1, 1)}})
	c, _ := newTestCollector(f, CollectorOptions{MaxAttempts: 0})
	res, err := c.Collect(context.Background(), clipQuery())
	if err != nil || len(res.Items) != 1 {
		t.Fatalf("expected eventual success, got %d items err=%v", len(res.Items), err)
	}
}

func TestCollectHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	f := &fakeFetcher{responses: []fakeResponse{
		{page: model.Page{Items: items("a", 1, 2), NextCursor: "p2"}},
	}}
	c := NewCollector(f, CollectorOptions{PageDelay: time.Hour})
	c.sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return sleepContext(ctx, d)
	}
	res, err := c.Collect(ctx, clipQuery())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(res.Items) != 2 {
		t.Fatalf("expected partial result to be returned, got %d", len(res.Items))
	}
}

func TestCollectorEnforcesPacingFloors(t *testing.T) {
	f := &fakeFetcher{responses: []fakeResponse{
		{page: model.Page{Items: items("a", 1, 2), NextCursor: "p2"}},
		{err: errors.New("connection reset")},
		{page: model.Page{Items: items("a", 3, 4), NextCursor: "p3"}},
		{page: model.Page{Items: items("a", 5, 6)}},
	}}
	c, sleeps := newTestCollector(f, CollectorOptions{PageDelay: time.Millisecond, RetryDelay: -time.Second})
	if _, err := c.Collect(context.Background(), clipQuery()); err != nil {
		t.Fatalf("collect: %v", err)
	}
	want := []time.Duration{MinPageDelay, MinRetryDelay, MinPageDelay}
	if fmt.Sprint(*sleeps) != fmt.Sprint(want) {
		t.Fatalf("expected delays %v, got %v", want, *sleeps)
	}

	d, sleeps := newTestCollector(&fakeFetcher{responses: []fakeResponse{
		{page: model.Page{Items: items("b", 1, 1), NextCursor: "p2"}},
		{page: model.Page{Items: items("b", 2, 2)}},
	}}, CollectorOptions{})
	if _, err := d.Collect(context.Background(), clipQuery()); err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(*sleeps) != 1 || (*sleeps)[0] != 500*time.Millisecond {
		t.Fatalf("zero options must still pace pages, got %v", *sleeps)
	}
}

func TestCollectRejectsInvalidQuery(t *testing.T) {
	c, _ := newTestCollector(&fakeFetcher{}, CollectorOptions{})
	if _, err := c.Collect(context.Background(), model.Query{Channel: "x", Kind: model.KindClip, Time: "year", Sort: model.SortViews}); err == nil {
		t.Fatalf("expected validation error")
	}
}
