// Package thumbnail fetches marker thumbnails from object storage with a
// "use cache, else load" policy.
package thumbnail

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	_ "image/jpeg" // register decoders
	_ "image/png"
	"io"
	"net/http"
	"time"

	"github.com/okian/geocluster/internal/adapters/iconcache"
	"github.com/okian/geocluster/pkg/logger"
	"github.com/okian/geocluster/pkg/metrics"
	_ "golang.org/x/image/webp"
)

const (
	defaultTimeout      = 5 * time.Second
	defaultMaxBodyBytes = 8 << 20
)

// SourceCache holds decoded sources keyed by URL.
type SourceCache interface {
	Get(key iconcache.Key) (*image.RGBA, bool)
	Insert(key iconcache.Key, bmp *image.RGBA) error
}

// Client is a read-only object-storage client. Safe for concurrent use.
type Client struct {
	http     *http.Client
	cache    SourceCache
	timeout  time.Duration
	maxBytes int64
	log      logger.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.http = h
		}
	}
}

// WithSourceCache enables the source cache. It must not be the icon cache:
// both key plain URLs.
func WithSourceCache(sc SourceCache) Option {
	return func(c *Client) { c.cache = sc }
}

// WithTimeout bounds a single GET.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithMaxBodyBytes caps the accepted response size.
func WithMaxBodyBytes(n int64) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxBytes = n
		}
	}
}

// WithLogger sets the client logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Client) { c.log = l }
}

// New creates a Client.
func New(opts ...Option) *Client {
	c := &Client{
		http:     http.DefaultClient,
		timeout:  defaultTimeout,
		maxBytes: defaultMaxBodyBytes,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = logger.OrDefault(c.log, "thumbnail")
	return c
}

// Fetch returns the decoded image at url, from the source cache when present.
func (c *Client) Fetch(ctx context.Context, url string) (image.Image, error) {
	key := iconcache.PlainKey(url)
	if c.cache != nil {
		if img, ok := c.cache.Get(key); ok {
			return img, nil
		}
	}

	start := time.Now()
	img, reason, err := c.load(ctx, url)
	metrics.RecordFetch(time.Since(start), reason)
	if err != nil {
		return nil, err
	}

	if c.cache != nil {
		if err := c.cache.Insert(key, toRGBA(img)); err != nil {
			c.log.Debug(ctx, "thumbnail not cached", logger.String("url", url), logger.Error(err))
		}
	}
	return img, nil
}

func (c *Client) load(ctx context.Context, url string) (image.Image, string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "request", fmt.Errorf("%w: %s: %w", ErrFetchFailed, url, err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		reason := "transport"
		if errors.Is(err, context.DeadlineExceeded) {
			reason = "timeout"
		}
		return nil, reason, fmt.Errorf("%w: %s: %w", ErrFetchFailed, url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return nil, "status", fmt.Errorf("%w: %s: %d", ErrUnexpectedStatus, url, resp.StatusCode)
	}

	img, format, err := image.Decode(io.LimitReader(resp.Body, c.maxBytes))
	if err != nil {
		return nil, "decode", fmt.Errorf("%w: %s: %w", ErrDecodeFailed, url, err)
	}
	c.log.Debug(ctx, "thumbnail loaded",
		logger.String("url", url),
		logger.String("format", format),
		logger.Int("width", img.Bounds().Dx()),
		logger.Int("height", img.Bounds().Dy()),
	)
	return img, "", nil
}

func toRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok {
		return rgba
	}
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}
