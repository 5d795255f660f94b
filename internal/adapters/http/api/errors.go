package api

import "errors"

// Sentinel kinds for API errors.
var (
	ErrServe    = errors.New("debug server failed")
	ErrSnapshot = errors.New("snapshot encode failed")
	ErrGesture  = errors.New("gesture rejected")
)
