package markergen

import (
	"github.com/okian/geocluster/internal/domain/model"
	"github.com/okian/geocluster/pkg/logger"
)

// Config holds configuration for a fixture run.
type Config struct {
	Center      model.Coordinate // centre of the generated area
	RadiusDeg   float64          // half-width of the square the markers fall in
	Count       int              // number of markers
	PhotoRatio  float64          // share of photos, the rest are questions
	HotspotRate float64          // share of markers piled onto a few hotspots
	ThumbURL    string           // thumbnail URL template, %s is the marker id
	Seed        uint64           // zero picks a random seed
	OutputFile  string           // GeoJSON output path, empty skips writing
	ServeAddr   string           // marker backend listen address, empty skips serving
	Logger      logger.Logger    // nil falls back to the process logger, or discards
}

// Stats holds run statistics.
type Stats struct {
	Photos    int
	Questions int
	Hotspots  int
	Queries   int
	Bytes     int
}
