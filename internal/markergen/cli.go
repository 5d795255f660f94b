package markergen

import "os"

// ShowHelp prints usage information for the fixture tool.
func ShowHelp() {
	os.Stdout.WriteString(`Marker Fixture Tool
===================

Generates random photo and question markers as a GeoJSON feature collection
and optionally serves them as a bounding-box marker backend.

Usage:
  go run ./cmd/gen-markers [options]

Options:
  -lat, -lng float
        Centre of the generated area (default 52.52, 13.405)
  -radius float
        Half-width of the area in degrees (default 0.05)
  -count int
        Number of markers (default 500)
  -photos float
        Share of photo markers (default 0.7)
  -hotspots float
        Share of markers piled onto a few hotspots (default 0.3)
  -thumb string
        Thumbnail URL template, %s is the marker id
  -seed uint
        Random seed, 0 for a random one
  -output string
        Output file (default markers.geojson)
  -serve string
        Serve the markers on this address, e.g. :8080
  -verbose
        Enable debug logging
  -help
        Show this help message

Examples:
  # Write a fixture for the snapshot tool
  go run ./cmd/gen-markers -count 2000 -output testdata/berlin.geojson

  # Serve a backend for marker_api_url=http://localhost:8080/markers
  go run ./cmd/gen-markers -serve :8080
`)
}
