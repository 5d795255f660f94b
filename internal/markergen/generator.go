package markergen

import (
	"context"
	"fmt"
	"math/rand/v2"

	"github.com/google/uuid"
	"github.com/okian/geocluster/internal/domain/model"
	"github.com/okian/geocluster/pkg/logger"
)

const (
	hotspotCount  = 5
	hotspotSpread = 0.02 // fraction of the radius
)

var questionTexts = []string{
	"Is this trail open?",
	"Where was this taken?",
	"Any parking nearby?",
	"Is the water safe to swim?",
	"Best time to visit?",
}

var questionStatuses = []string{"open", "answered", "closed"}

// Generate creates cfg.Count markers. Ids are UUIDs drawn from the seeded
// source, so equal seeds give equal fixtures.
func Generate(ctx context.Context, cfg *Config, stats *Stats) []model.MarkerItem {
	seed := cfg.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	rng := rand.New(rand.NewPCG(seed, seed^0x9E3779B97F4A7C15))

	hotspots := make([]model.Coordinate, hotspotCount)
	for i := range hotspots {
		hotspots[i] = jitter(rng, cfg.Center, cfg.RadiusDeg)
	}

	items := make([]model.MarkerItem, cfg.Count)
	for i := range items {
		at := jitter(rng, cfg.Center, cfg.RadiusDeg)
		if rng.Float64() < cfg.HotspotRate {
			at = jitter(rng, hotspots[rng.IntN(hotspotCount)], cfg.RadiusDeg*hotspotSpread)
			stats.Hotspots++
		}
		id := newID(rng)

		if rng.Float64() < cfg.PhotoRatio {
			items[i] = model.MarkerItem{
				ID:         id,
				Kind:       model.KindPhoto,
				Coordinate: at,
				Payload: model.PhotoPayload{
					ThumbnailURL: fmt.Sprintf(cfg.ThumbURL, id),
					DisplayOrder: i,
				},
			}
			stats.Photos++
			continue
		}
		items[i] = model.MarkerItem{
			ID:         id,
			Kind:       model.KindQuestion,
			Coordinate: at,
			Payload: model.QuestionPayload{
				Text:   questionTexts[rng.IntN(len(questionTexts))],
				Status: questionStatuses[rng.IntN(len(questionStatuses))],
			},
		}
		stats.Questions++
	}

	logger.OrDefault(cfg.Logger, "markergen").Info(ctx, "markers generated",
		logger.Int("photos", stats.Photos),
		logger.Int("questions", stats.Questions),
		logger.Int("onHotspots", stats.Hotspots),
		logger.Uint64("seed", seed),
	)
	return items
}

func jitter(rng *rand.Rand, c model.Coordinate, r float64) model.Coordinate {
	return model.Coordinate{
		Lat: c.Lat + (rng.Float64()*2-1)*r,
		Lng: c.Lng + (rng.Float64()*2-1)*r,
	}
}

func newID(rng *rand.Rand) string {
	var b [16]byte
	for i := range b {
		b[i] = byte(rng.UintN(256))
	}
	id, err := uuid.FromBytes(b[:])
	if err != nil {
		return uuid.NewString()
	}
	// version 4, RFC 4122 variant
	id[6] = (id[6] & 0x0f) | 0x40
	id[8] = (id[8] & 0x3f) | 0x80
	return id.String()
}
