package discovery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/log"

	"kickdl/internal/model"
)

// PageFetcher returns one page of a channel listing.
type PageFetcher interface {
	FetchPage(ctx context.Context, q model.Query, cursor string) (model.Page, error)
}

// Pacing floors. Shorter delays passed in CollectorOptions are raised to these.
const (
	MinPageDelay  = 500 * time.Millisecond
	MinRetryDelay = 2 * time.Second
)

var ErrCollectionFailed = errors.New("collection failed")

// CollectionError is returned when a page could not be fetched.
type CollectionError struct {
	Page     int
	Cursor   string
	Attempts int
	Err      error
}

func (e *CollectionError) Error() string {
	return fmt.Sprintf("%v: page %d after %d attempt(s): %v", ErrCollectionFailed, e.Page, e.Attempts, e.Err)
}

func (e *CollectionError) Unwrap() []error {
	return []error{ErrCollectionFailed, e.Err}
}

type CollectorOptions struct {
	PageDelay  time.Duration
	RetryDelay time.Duration
	// MaxAttempts bounds consecutive failed requests for one page. Zero
	// retries forever.
	MaxAttempts int
	Logger      *log.Logger
	OnPage      func(PageStats)
}

type PageStats struct {
	Page  int
	Found int
	New   int
	Total int
}

type Collector struct {
	fetcher PageFetcher
	opts    CollectorOptions
	logger  *log.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

func NewCollector(fetcher PageFetcher, opts CollectorOptions) *Collector {
	if opts.PageDelay < MinPageDelay {
		opts.PageDelay = MinPageDelay
	}
	if opts.RetryDelay < MinRetryDelay {
		opts.RetryDelay = MinRetryDelay
	}
	if opts.MaxAttempts < 0 {
		opts.MaxAttempts = 0
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Collector{
		fetcher: fetcher,
		opts:    opts,
		logger:  logger.WithPrefix("collect"),
		sleep:   sleepContext,
	}
}

// Collect walks the listing until the cursor stops advancing or a page
// comes back empty. Items are returned in first-seen order without
// duplicates.
func (c *Collector) Collect(ctx context.Context, q model.Query) (model.CollectionResult, error) {
	res := model.CollectionResult{Query: q, Items: []model.Item{}}
	if err := q.Validate(); err != nil {
		return res, err
	}

	seen := make(map[string]struct{})
	cursor := ""
	page := 1

	for {
		p, err := c.fetchWithRetry(ctx, q, cursor, page)
		if err != nil {
			return res, err
		}
		res.Pages = page

		added := 0
		for _, item := range p.Items {
			if _, dup := seen[item.ID]; dup {
				continue
			}
			seen[item.ID] = struct{}{}
			res.Items = append(res.Items, item)
			added++
		}

		c.logger.Debug("page collected", "page", page, "found", len(p.Items), "new", added, "total", len(res.Items))
		if c.opts.OnPage != nil {
			c.opts.OnPage(PageStats{Page: page, Found: len(p.Items), New: added, Total: len(res.Items)})
		}

		if len(p.Items) == 0 || p.NextCursor == "" || p.NextCursor == cursor {
			res.State = model.CollectionExhausted
			return res, nil
		}
		cursor = p.NextCursor
		page++

		if err := c.sleep(ctx, c.opts.PageDelay); err != nil {
			return res, err
		}
	}
}

func (c *Collector) fetchWithRetry(ctx context.Context, q model.Query, cursor string, page int) (model.Page, error) {
	attempts := 0
	for {
		if err := ctx.Err(); err != nil {
			return model.Page{}, err
		}
		p, err := c.fetcher.FetchPage(ctx, q, cursor)
		if err == nil {
			return p, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return model.Page{}, ctxErr
		}

		attempts++
		if !isTransient(err) || (c.opts.MaxAttempts > 0 && attempts >= c.opts.MaxAttempts) {
			return model.Page{}, &CollectionError{Page: page, Cursor: cursor, Attempts: attempts, Err: err}
		}

		c.logger.Warn("page fetch failed, retrying", "page", page, "attempt", attempts, "delay", c.opts.RetryDelay, "err", err)
		if err := c.sleep(ctx, c.opts.RetryDelay); err != nil {
			return model.Page{}, err
		}
	}
}

// isTransient treats every error as retryable unless it says otherwise.
func isTransient(err error) bool {
	var r interface{ Retryable() bool }
	if errors.As(err, &r) {
		return r.Retryable()
	}
	return true
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
