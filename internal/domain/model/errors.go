package model

import "errors"

var (
	ErrInvalidCoordinate = errors.New("invalid coordinate")
	ErrInvalidViewport   = errors.New("invalid viewport")
)
