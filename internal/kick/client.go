package kick

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dgraph-io/ristretto/v2"
	"golang.org/x/net/proxy"
	"golang.org/x/sync/singleflight"

	"kickdl/internal/model"
)

const (
	DefaultBaseURL    = "https://kick.com"
	DefaultUserAgent  = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"
	DefaultVODQuality = "480p30"
	QualitySource     = "source"
)

type Options struct {
	BaseURL         string
	UserAgent       string
	Proxy           string
	Timeout         time.Duration
	VODQuality      string
	ChannelCacheTTL time.Duration
	Logger          *log.Logger
	HTTPClient      *http.Client
}

// Client talks to the public Kick listing API.
type Client struct {
	baseURL    string
	userAgent  string
	quality    string
	cacheTTL   time.Duration
	httpClient *http.Client
	logger     *log.Logger

	channels *ristretto.Cache[string, Channel]
	group    singleflight.Group
}

type Channel struct {
	Slug     string `json:"slug"`
	Username string `json:"username"`
}

// StatusError is a non-2xx HTTP response.
type StatusError struct {
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("GET %s: HTTP %d", e.URL, e.StatusCode)
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// Retryable reports whether retrying the same request may succeed.
func (e *StatusError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

func New(opts Options) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("invalid base URL %q: %w", base, err)
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		transport, err := newTransport(opts.Proxy)
		if err != nil {
			return nil, err
		}
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Transport: transport, Timeout: timeout}
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}

	cache, err := ristretto.NewCache(&ristretto.Config[string, Channel]{
		NumCounters: 1e4,
		MaxCost:     1 << 20,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create channel cache: %w", err)
	}

	quality := strings.TrimSpace(opts.VODQuality)
	if quality == "" {
		quality = DefaultVODQuality
	}
	ua := strings.TrimSpace(opts.UserAgent)
	if ua == "" {
		ua = DefaultUserAgent
	}
	ttl := opts.ChannelCacheTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}

	return &Client{
		baseURL:    base,
		userAgent:  ua,
		quality:    quality,
		cacheTTL:   ttl,
		httpClient: httpClient,
		logger:     logger.WithPrefix("kick"),
		channels:   cache,
	}, nil
}

func (c *Client) Close() {
	c.channels.Close()
}

func newTransport(proxyStr string) (*http.Transport, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	proxyStr = strings.TrimSpace(proxyStr)
	if proxyStr == "" {
		return transport, nil
	}

	proxyURL, err := url.Parse(proxyStr)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy URL: %w", err)
	}
	switch proxyURL.Scheme {
	case "http", "https":
		transport.Proxy = http.ProxyURL(proxyURL)
	case "socks5", "socks5h":
		dialer, err := proxy.FromURL(proxyURL, proxy.Direct)
		if err != nil {
			return nil, fmt.Errorf("create socks dialer: %w", err)
		}
		ctxDialer, ok := dialer.(proxy.ContextDialer)
		if !ok {
			return nil, fmt.Errorf("socks dialer does not support contexts")
		}
		transport.Proxy = nil
		transport.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			return ctxDialer.DialContext(ctx, network, addr)
		}
	default:
		return nil, fmt.Errorf("unsupported proxy type: %s", proxyURL.Scheme)
	}
	return transport, nil
}

// NormalizeChannel turns user input into a channel slug.
func NormalizeChannel(input string) string {
	fields := strings.Fields(strings.ToLower(input))
	return strings.Join(fields, "_")
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, v any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", u, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{URL: u, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode %s: %w", u, err)
	}
	return nil
}

// Channel resolves a slug to its display username. Concurrent lookups of
// the same slug share one request and results are cached.
func (c *Client) Channel(ctx context.Context, slug string) (Channel, error) {
	slug = NormalizeChannel(slug)
	if slug == "" {
		return Channel{}, fmt.Errorf("channel is required")
	}
	if ch, ok := c.channels.Get(slug); ok {
		return ch, nil
	}

	v, err, _ := c.group.Do(slug, func() (any, error) {
		if ch, ok := c.channels.Get(slug); ok {
			return ch, nil
		}
		var raw struct {
			Slug string `json:"slug"`
			User struct {
				Username string `json:"username"`
			} `json:"user"`
		}
		if err := c.getJSON(ctx, "/api/v2/channels/"+url.PathEscape(slug), nil, &raw); err != nil {
			return Channel{}, err
		}
		ch := Channel{Slug: raw.Slug, Username: raw.User.Username}
		if ch.Slug == "" {
			ch.Slug = slug
		}
		if ch.Username == "" {
			ch.Username = slug
		}
		c.channels.SetWithTTL(slug, ch, 1, c.cacheTTL)
		c.channels.Wait()
		c.logger.Debug("channel resolved", "slug", slug, "username", ch.Username)
		return ch, nil
	})
	if err != nil {
		return Channel{}, fmt.Errorf("lookup channel %s: %w", slug, err)
	}
	return v.(Channel), nil
}

// FetchPage returns one listing page. VOD listings are not paginated by the
// API, so they always come back as a single page without a cursor.
func (c *Client) FetchPage(ctx context.Context, q model.Query, cursor string) (model.Page, error) {
	slug := NormalizeChannel(q.Channel)
	switch q.Kind {
	case model.KindClip:
		return c.fetchClips(ctx, slug, q, cursor)
	case model.KindVOD:
		if cursor != "" {
			return model.Page{}, nil
		}
		return c.fetchVODs(ctx, slug)
	default:
		return model.Page{}, fmt.Errorf("unsupported content kind %q", q.Kind)
	}
}

type clipEntry struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Duration int    `json:"duration"`
	Views    int    `json:"views"`
	ClipURL  string `json:"clip_url"`
	Category *struct {
		Name string `json:"name"`
	} `json:"category"`
	CreatedAt string `json:"created_at"`
}

func (c *Client) fetchClips(ctx context.Context, slug string, q model.Query, cursor string) (model.Page, error) {
	query := url.Values{}
	query.Set("sort", q.Sort)
	query.Set("time", q.Time)
	if cursor != "" {
		query.Set("cursor", cursor)
	}

	var raw struct {
		Clips      []json.RawMessage `json:"clips"`
		NextCursor json.RawMessage   `json:"nextCursor"`
	}
	if err := c.getJSON(ctx, "/api/v2/channels/"+url.PathEscape(slug)+"/clips", query, &raw); err != nil {
		return model.Page{}, err
	}

	page := model.Page{NextCursor: rawScalar(raw.NextCursor)}
	for _, entry := range raw.Clips {
		var clip clipEntry
		if err := json.Unmarshal(entry, &clip); err != nil {
			return model.Page{}, fmt.Errorf("decode clip: %w", err)
		}
		item := model.Item{
			ID:          clip.ID,
			Kind:        model.KindClip,
			Title:       clip.Title,
			DurationSec: clip.Duration,
			Views:       clip.Views,
			SourceURL:   clip.ClipURL,
			CreatedAt:   clip.CreatedAt,
			Origin:      entry,
		}
		if clip.Category != nil {
			item.Category = clip.Category.Name
		}
		page.Items = append(page.Items, item)
	}
	return page, nil
}

type vodEntry struct {
	ID           json.RawMessage `json:"id"`
	SessionTitle string          `json:"session_title"`
	DurationMS   int64           `json:"duration"`
	Views        int             `json:"views"`
	Source       string          `json:"source"`
	StartTime    string          `json:"start_time"`
	CreatedAt    string          `json:"created_at"`
	Categories   []struct {
		Name string `json:"name"`
	} `json:"categories"`
	Video struct {
		UUID string `json:"uuid"`
	} `json:"video"`
}

func (c *Client) vodItem(entry json.RawMessage, v vodEntry) model.Item {
	id := v.Video.UUID
	if id == "" {
		id = rawScalar(v.ID)
	}
	created := v.StartTime
	if created == "" {
		created = v.CreatedAt
	}
	item := model.Item{
		ID:          id,
		Kind:        model.KindVOD,
		Title:       v.SessionTitle,
		DurationSec: int(v.DurationMS / 1000),
		Views:       v.Views,
		SourceURL:   RewriteVODSource(v.Source, c.quality),
		CreatedAt:   created,
		Origin:      entry,
	}
	if len(v.Categories) > 0 {
		item.Category = v.Categories[0].Name
	}
	return item
}

func (c *Client) fetchVODs(ctx context.Context, slug string) (model.Page, error) {
	query := url.Values{}
	query.Set("sort", model.SortRecent)
	query.Set("time", model.TimeAll)

	var raw []json.RawMessage
	if err := c.getJSON(ctx, "/api/v2/channels/"+url.PathEscape(slug)+"/videos", query, &raw); err != nil {
		return model.Page{}, err
	}

	page := model.Page{}
	for _, entry := range raw {
		var v vodEntry
		if err := json.Unmarshal(entry, &v); err != nil {
			return model.Page{}, fmt.Errorf("decode video: %w", err)
		}
		page.Items = append(page.Items, c.vodItem(entry, v))
	}
	return page, nil
}

// Video is a single VOD resolved from its page URL.
type Video struct {
	Item    model.Item
	Channel Channel
}

// VideoIDFromURL extracts the path segment following "videos".
func VideoIDFromURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("invalid video URL: %w", err)
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i, p := range parts {
		if p == "videos" && i+1 < len(parts) && parts[i+1] != "" {
			return parts[i+1], nil
		}
	}
	return "", fmt.Errorf("no video id in %q", raw)
}

func (c *Client) Video(ctx context.Context, videoURL string) (Video, error) {
	id, err := VideoIDFromURL(videoURL)
	if err != nil {
		return Video{}, err
	}

	var body json.RawMessage
	if err := c.getJSON(ctx, "/api/v1/video/"+url.PathEscape(id), nil, &body); err != nil {
		return Video{}, err
	}
	var raw struct {
		UUID       string `json:"uuid"`
		Source     string `json:"source"`
		Views      int    `json:"views"`
		Livestream struct {
			SessionTitle string `json:"session_title"`
			DurationMS   int64  `json:"duration"`
			StartTime    string `json:"start_time"`
			Categories   []struct {
				Name string `json:"name"`
			} `json:"categories"`
			Channel struct {
				Slug string `json:"slug"`
				User struct {
					Username string `json:"username"`
				} `json:"user"`
			} `json:"channel"`
		} `json:"livestream"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return Video{}, fmt.Errorf("decode video %s: %w", id, err)
	}
	if strings.TrimSpace(raw.Source) == "" {
		return Video{}, errors.New("video has no playable source")
	}

	itemID := raw.UUID
	if itemID == "" {
		itemID = id
	}
	item := model.Item{
		ID:          itemID,
		Kind:        model.KindVOD,
		Title:       raw.Livestream.SessionTitle,
		DurationSec: int(raw.Livestream.DurationMS / 1000),
		Views:       raw.Views,
		SourceURL:   RewriteVODSource(raw.Source, c.quality),
		CreatedAt:   raw.Livestream.StartTime,
		Origin:      body,
	}
	if len(raw.Livestream.Categories) > 0 {
		item.Category = raw.Livestream.Categories[0].Name
	}

	ch := Channel{Slug: raw.Livestream.Channel.Slug, Username: raw.Livestream.Channel.User.Username}
	if ch.Username == "" {
		ch.Username = ch.Slug
	}
	if ch.Username == "" {
		ch.Username = "kick"
	}
	return Video{Item: item, Channel: ch}, nil
}

// RewriteVODSource points a master playlist at a fixed rendition.
func RewriteVODSource(source, quality string) string {
	quality = strings.TrimSpace(quality)
	if quality == "" || quality == QualitySource {
		return source
	}
	const master = "/hls/master.m3u8"
	if !strings.HasSuffix(source, master) {
		return source
	}
	return strings.TrimSuffix(source, master) + "/hls/" + quality + "/playlist.m3u8"
}

// rawScalar renders a JSON string or number as a plain string.
func rawScalar(raw json.RawMessage) string {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return ""
	}
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return str
	}
	return s
}
