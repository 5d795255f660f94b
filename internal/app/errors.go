package service

import "errors"

var (
	ErrNotStarted     = errors.New("map screen not started")
	ErrUnknownCluster = errors.New("cluster not on screen")
	ErrNoViewport     = errors.New("no viewport settled yet")
	ErrLoadMarkers    = errors.New("load markers failed")
)
