package queue

import "errors"

var (
	ErrClosed = errors.New("render queue closed")
	ErrFull   = errors.New("render queue full")
)
