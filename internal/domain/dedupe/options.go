package dedupe

const defaultMaxSize = 4096

type options struct {
	maxSize int
}

// Option applies a configuration option to NewInMemoryTracker.
type Option func(*options)

// WithMaxSize sets the maximum number of keys in flight.
// If maxSize > 0: bounded mode, Track refuses new keys with ErrFull.
// If maxSize <= 0: unbounded mode.
func WithMaxSize(maxSize int) Option {
	return func(o *options) {
		o.maxSize = maxSize
	}
}
