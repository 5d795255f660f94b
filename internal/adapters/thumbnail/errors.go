package thumbnail

import "errors"

// Sentinel errors for thumbnail loads. The marker keeps its placeholder on any of them.
var (
	ErrFetchFailed      = errors.New("thumbnail fetch failed")
	ErrUnexpectedStatus = errors.New("unexpected thumbnail status")
	ErrDecodeFailed     = errors.New("thumbnail decode failed")
)
