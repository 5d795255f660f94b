// Package markerapi queries the marker backend for the records inside a
// bounding box. Responses are GeoJSON feature collections of points.
package markerapi

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/okian/geocluster/internal/domain/model"
	"github.com/okian/geocluster/pkg/logger"
	"github.com/okian/geocluster/pkg/metrics"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

const (
	defaultTimeout      = 5 * time.Second
	defaultMaxBodyBytes = 16 << 20
)

// Feature property names.
const (
	PropID           = "id"
	PropKind         = "kind"
	PropThumbnailURL = "thumbnail_url"
	PropDisplayOrder = "display_order"
	PropText         = "text"
	PropStatus       = "status"
)

// Client is a bounding-box query client. Safe for concurrent use.
type Client struct {
	baseURL  string
	http     *http.Client
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

// WithTimeout bounds a single query.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithLogger sets the client logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Client) { c.log = l }
}

// New creates a Client for the endpoint at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:  baseURL,
		http:     http.DefaultClient,
		timeout:  defaultTimeout,
		maxBytes: defaultMaxBodyBytes,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = logger.OrDefault(c.log, "markerapi")
	return c
}

// Query returns the markers inside bound in backend order.
func (c *Client) Query(ctx context.Context, bound orb.Bound) ([]model.MarkerItem, error) {
	start := time.Now()
	items, err := c.query(ctx, bound)
	metrics.RecordMarkerQuery(time.Since(start), err != nil)
	if err != nil {
		return nil, err
	}
	c.log.Debug(ctx, "markers queried",
		logger.Int("markers", len(items)),
		logger.Duration("took", time.Since(start)),
	)
	return items, nil
}

func (c *Client) query(ctx context.Context, bound orb.Bound) ([]model.MarkerItem, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: base url: %w", ErrQuery, err)
	}
	q := u.Query()
	q.Set("bbox", BBox(bound))
	u.RawQuery = q.Encode()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrQuery, err)
	}
	req.Header.Set("Accept", "application/geo+json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrQuery, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrQuery, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %w", ErrQuery, err)
	}
	return Decode(ctx, data, c.log)
}

// BBox formats bound as "minLng,minLat,maxLng,maxLat".
func BBox(b orb.Bound) string {
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	return f(b.Min[0]) + "," + f(b.Min[1]) + "," + f(b.Max[0]) + "," + f(b.Max[1])
}

// Decode parses a feature collection into markers, keeping feature order.
// Features that are not points, lack an id, or carry an unknown kind are
// skipped with a warning.
func Decode(ctx context.Context, data []byte, log logger.Logger) ([]model.MarkerItem, error) {
	log = logger.OrDefault(log, "markerapi")

	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("%w: decode: %w", ErrQuery, err)
	}

	items := make([]model.MarkerItem, 0, len(fc.Features))
	for i, f := range fc.Features {
		item, err := decodeFeature(f)
		if err != nil {
			log.Warn(ctx, "marker skipped", logger.Int("feature", i), logger.Error(err))
			continue
		}
		items = append(items, item)
	}
	return items, nil
}

func decodeFeature(f *geojson.Feature) (model.MarkerItem, error) {
	pt, ok := f.Geometry.(orb.Point)
	if !ok {
		return model.MarkerItem{}, fmt.Errorf("%w: geometry %T", ErrMalformedFeature, f.Geometry)
	}

	id := featureID(f)
	if id == "" {
		return model.MarkerItem{}, fmt.Errorf("%w: missing id", ErrMalformedFeature)
	}

	kindName := f.Properties.MustString(PropKind, "")
	kind, ok := model.ParseKind(kindName)
	if !ok {
		return model.MarkerItem{}, fmt.Errorf("%w: %q", ErrUnknownKind, kindName)
	}

	item := model.MarkerItem{
		ID:         id,
		Kind:       kind,
		Coordinate: model.Coordinate{Lat: pt.Lat(), Lng: pt.Lon()},
	}
	switch kind {
	case model.KindPhoto:
		item.Payload = model.PhotoPayload{
			ThumbnailURL: f.Properties.MustString(PropThumbnailURL, ""),
			DisplayOrder: f.Properties.MustInt(PropDisplayOrder, 0),
		}
	case model.KindQuestion:
		item.Payload = model.QuestionPayload{
			Text:   f.Properties.MustString(PropText, ""),
			Status: f.Properties.MustString(PropStatus, ""),
		}
	}
	return item, nil
}

// featureID prefers the feature id and falls back to the id property.
func featureID(f *geojson.Feature) string {
	switch v := f.ID.(type) {
	case string:
		if v != "" {
			return v
		}
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	if s, ok := f.Properties[PropID].(string); ok {
		return s
	}
	if n, ok := f.Properties[PropID].(float64); ok {
		return strconv.FormatFloat(n, 'f', -1, 64)
	}
	return ""
}

// Encode writes items as a feature collection in the format Decode reads.
func Encode(items []model.MarkerItem) ([]byte, error) {
	fc := geojson.NewFeatureCollection()
	for _, it := range items {
		f := geojson.NewFeature(it.Coordinate.Point())
		f.ID = it.ID
		f.Properties[PropKind] = it.Kind.String()
		switch p := it.Payload.(type) {
		case model.PhotoPayload:
			f.Properties[PropThumbnailURL] = p.ThumbnailURL
			f.Properties[PropDisplayOrder] = p.DisplayOrder
		case model.QuestionPayload:
			f.Properties[PropText] = p.Text
			f.Properties[PropStatus] = p.Status
		}
		fc.Append(f)
	}
	data, err := fc.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("%w: encode: %w", ErrQuery, err)
	}
	return data, nil
}
