package render

import "errors"

var (
	ErrNoFetcher       = errors.New("no thumbnail fetcher configured")
	ErrUnsupportedKind = errors.New("unsupported icon kind")
)
