package api

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"
)

// SnapshotProvider renders the current map surface as a PNG.
type SnapshotProvider interface {
	EncodePNG(w io.Writer) error
}

// SnapshotHandler handles snapshot requests.
type SnapshotHandler struct {
	provider SnapshotProvider
}

// NewSnapshotHandler creates a new snapshot handler.
func NewSnapshotHandler(p SnapshotProvider) *SnapshotHandler {
	return &SnapshotHandler{provider: p}
}

// HandleSnapshot handles GET /snapshot.png requests.
func (h *SnapshotHandler) HandleSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	var buf bytes.Buffer
	if err := h.provider.EncodePNG(&buf); err != nil {
		writeError(w, http.StatusInternalServerError, "snapshot_failed", fmt.Errorf("%w: %w", ErrSnapshot, err))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.Header().Set("Cache-Control", "no-store")
	_, _ = buf.WriteTo(w)
}
