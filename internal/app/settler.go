package service

import (
	"sync"
	"time"

	"github.com/okian/geocluster/internal/domain/model"
)

// DefaultQuietPeriod is how long the camera must rest before a viewport
// counts as settled.
const DefaultQuietPeriod = 150 * time.Millisecond

// Settler coalesces a burst of camera moves into one settled viewport. Only
// the last viewport of a burst is emitted, once no move arrived for the
// quiet period.
type Settler struct {
	quiet time.Duration
	out   chan model.Viewport

	mu     sync.Mutex
	timer  *time.Timer
	last   model.Viewport
	armed  bool
	closed bool
}

// NewSettler creates a Settler. A non-positive quiet period uses DefaultQuietPeriod.
func NewSettler(quiet time.Duration) *Settler {
	if quiet <= 0 {
		quiet = DefaultQuietPeriod
	}
	return &Settler{quiet: quiet, out: make(chan model.Viewport, 1)}
}

// Settled delivers settled viewports. At most one is buffered; a newer one
// replaces an unread one.
func (s *Settler) Settled() <-chan model.Viewport { return s.out }

// Moved records an intermediate camera position and restarts the quiet period.
func (s *Settler) Moved(vp model.Viewport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.last, s.armed = vp, true
	if s.timer == nil {
		s.timer = time.AfterFunc(s.quiet, s.fire)
		return
	}
	s.timer.Reset(s.quiet)
}

// Flush emits the pending viewport immediately. It reports whether one was pending.
func (s *Settler) Flush() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
	}
	return s.emit()
}

// Stop discards any pending viewport and stops the timer.
func (s *Settler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed, s.armed = true, false
	if s.timer != nil {
		s.timer.Stop()
	}
}

func (s *Settler) fire() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emit()
}

// emit must be called with s.mu held.
func (s *Settler) emit() bool {
	if !s.armed || s.closed {
		return false
	}
	s.armed = false
	select {
	case <-s.out:
	default:
	}
	s.out <- s.last
	return true
}
