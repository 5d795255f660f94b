package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/okian/geocluster/internal/domain/model"
	"github.com/okian/geocluster/internal/markergen"
	"github.com/okian/geocluster/pkg/logger"
)

// Default fixture constants.
const (
	defaultLat        = 52.52
	defaultLng        = 13.405
	defaultRadius     = 0.05
	defaultCount      = 500
	defaultPhotoRatio = 0.7
	defaultHotspots   = 0.3
	defaultThumbURL   = "https://picsum.photos/seed/%s/128"
	defaultOutput     = "markers.geojson"
)

func main() {
	var (
		lat      = flag.Float64("lat", defaultLat, "Centre latitude")
		lng      = flag.Float64("lng", defaultLng, "Centre longitude")
		radius   = flag.Float64("radius", defaultRadius, "Half-width of the area in degrees")
		count    = flag.Int("count", defaultCount, "Number of markers")
		photos   = flag.Float64("photos", defaultPhotoRatio, "Share of photo markers")
		hotspots = flag.Float64("hotspots", defaultHotspots, "Share of markers piled onto a few hotspots")
		thumbURL = flag.String("thumb", defaultThumbURL, "Thumbnail URL template, %s is the marker id")
		seed     = flag.Uint64("seed", 0, "Random seed, 0 for a random one")
		output   = flag.String("output", defaultOutput, "Output GeoJSON file, empty to skip")
		serve    = flag.String("serve", "", "Serve the markers as a bbox backend on this address")
		verbose  = flag.Bool("verbose", false, "Enable verbose logging")
		help     = flag.Bool("help", false, "Show help")
	)
	flag.Parse()

	if *help {
		markergen.ShowHelp()
		return
	}

	if err := logger.Init(); err != nil {
		os.Stderr.WriteString("Failed to setup logging: " + err.Error() + "\n")
		return
	}
	if *verbose {
		_ = logger.SetLevelString("debug")
	}

	log := logger.Get()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := &markergen.Config{
		Center:      model.Coordinate{Lat: *lat, Lng: *lng},
		RadiusDeg:   *radius,
		Count:       *count,
		PhotoRatio:  *photos,
		HotspotRate: *hotspots,
		ThumbURL:    *thumbURL,
		Seed:        *seed,
		OutputFile:  *output,
		ServeAddr:   *serve,
		Logger:      log.Named("markergen"),
	}

	stats, err := markergen.Run(ctx, cfg)
	if err != nil {
		os.Stderr.WriteString("Fixture failed: " + err.Error() + "\n")
		return
	}
	log.Info(ctx, "done",
		logger.Int("photos", stats.Photos),
		logger.Int("questions", stats.Questions),
		logger.Int("queries", stats.Queries),
	)
}
