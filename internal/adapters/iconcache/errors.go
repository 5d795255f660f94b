package iconcache

import "errors"

// Sentinel errors for cache inserts. Neither is surfaced to the user; the
// caller falls back to rendering again on the next lookup.
var (
	ErrEntryTooLarge = errors.New("icon larger than cache byte budget")
	ErrNilBitmap     = errors.New("nil icon bitmap")
)
