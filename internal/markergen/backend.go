package markergen

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/okian/geocluster/internal/adapters/markerapi"
	"github.com/okian/geocluster/internal/domain/model"
	"github.com/okian/geocluster/pkg/logger"
	"github.com/paulmach/orb"
)

// Backend is a marker backend over a fixed marker set. It answers
// GET ?bbox=minLng,minLat,maxLng,maxLat with the markers inside the box.
type Backend struct {
	items   []model.MarkerItem
	queries atomic.Int64
	log     logger.Logger
}

// NewBackend serves items.
func NewBackend(items []model.MarkerItem, log logger.Logger) *Backend {
	return &Backend{items: items, log: logger.OrDefault(log, "markergen")}
}

// Queries returns how many bbox queries were answered.
func (b *Backend) Queries() int { return int(b.queries.Load()) }

// ServeHTTP implements http.Handler.
func (b *Backend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	bound, err := ParseBBox(r.URL.Query().Get("bbox"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	inside := b.Within(bound)
	data, err := markerapi.Encode(inside)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	b.queries.Add(1)
	b.log.Debug(context.Background(), "bbox answered",
		logger.String("bbox", markerapi.BBox(bound)),
		logger.Int("markers", len(inside)),
	)
	w.Header().Set("Content-Type", "application/geo+json")
	_, _ = w.Write(data)
}

// Within returns the markers inside bound in stored order.
func (b *Backend) Within(bound orb.Bound) []model.MarkerItem {
	out := make([]model.MarkerItem, 0)
	for _, it := range b.items {
		if bound.Contains(it.Coordinate.Point()) {
			out = append(out, it)
		}
	}
	return out
}

// ParseBBox reads "minLng,minLat,maxLng,maxLat".
func ParseBBox(s string) (orb.Bound, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return orb.Bound{}, fmt.Errorf("bbox %q: want 4 values", s)
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return orb.Bound{}, fmt.Errorf("bbox %q: %w", s, err)
		}
		v[i] = f
	}
	if v[0] > v[2] || v[1] > v[3] {
		return orb.Bound{}, fmt.Errorf("bbox %q: min exceeds max", s)
	}
	return orb.Bound{Min: orb.Point{v[0], v[1]}, Max: orb.Point{v[2], v[3]}}, nil
}
