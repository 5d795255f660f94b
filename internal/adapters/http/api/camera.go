package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/okian/geocluster/internal/domain/interaction"
	"github.com/okian/geocluster/internal/domain/model"
)

// Camera receives the gestures a map surface would produce.
type Camera interface {
	// Move records an intermediate camera position; the map settles once
	// the camera rests.
	Move(vp model.Viewport)
	Tap(ctx context.Context, clusterID string) (interaction.Action, error)
	LongPress(ctx context.Context, at model.Coordinate)
}

// CameraHandler turns debug requests into camera gestures.
type CameraHandler struct {
	camera Camera
}

// NewCameraHandler creates a new camera handler.
func NewCameraHandler(c Camera) *CameraHandler {
	return &CameraHandler{camera: c}
}

type actionResponse struct {
	Action  string   `json:"action"`
	Members []string `json:"members,omitempty"`
	Lat     float64  `json:"lat,omitempty"`
	Lng     float64  `json:"lng,omitempty"`
	LatSpan float64  `json:"lat_span,omitempty"`
	LngSpan float64  `json:"lng_span,omitempty"`
}

// HandleMove handles POST /camera?lat=&lng=&lat_span=&lng_span=&width=&height=.
func (h *CameraHandler) HandleMove(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	vals, err := floats(r, "lat", "lng", "lat_span", "lng_span", "width", "height")
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_viewport", err)
		return
	}
	vp := model.Viewport{
		Center: model.Coordinate{Lat: vals[0], Lng: vals[1]},
		Span:   model.Span{LatDelta: vals[2], LngDelta: vals[3]},
		Size:   model.PixelSize{Width: vals[4], Height: vals[5]},
	}
	if err := vp.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "bad_viewport", fmt.Errorf("%w: %w", ErrGesture, err))
		return
	}
	h.camera.Move(vp)
	w.WriteHeader(http.StatusAccepted)
}

// HandleTap handles POST /tap?cluster=<id>.
func (h *CameraHandler) HandleTap(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	id := r.URL.Query().Get("cluster")
	if id == "" {
		writeError(w, http.StatusBadRequest, "bad_tap", fmt.Errorf("%w: cluster is required", ErrGesture))
		return
	}
	action, err := h.camera.Tap(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusConflict, "tap_failed", fmt.Errorf("%w: %w", ErrGesture, err))
		return
	}

	resp := actionResponse{Action: action.Kind.String()}
	switch action.Kind {
	case interaction.ActionReveal:
		for _, m := range action.Members {
			resp.Members = append(resp.Members, m.ID)
		}
	case interaction.ActionZoom:
		resp.Lat, resp.Lng = action.Center.Lat, action.Center.Lng
		resp.LatSpan, resp.LngSpan = action.Span.LatDelta, action.Span.LngDelta
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleLongPress handles POST /longpress?lat=&lng=.
func (h *CameraHandler) HandleLongPress(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	vals, err := floats(r, "lat", "lng")
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_coordinate", err)
		return
	}
	at := model.Coordinate{Lat: vals[0], Lng: vals[1]}
	if err := at.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "bad_coordinate", fmt.Errorf("%w: %w", ErrGesture, err))
		return
	}
	h.camera.LongPress(r.Context(), at)
	w.WriteHeader(http.StatusAccepted)
}

// floats parses the named query parameters in order.
func floats(r *http.Request, names ...string) ([]float64, error) {
	q := r.URL.Query()
	out := make([]float64, len(names))
	for i, name := range names {
		v, err := strconv.ParseFloat(q.Get(name), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrGesture, name, err)
		}
		out[i] = v
	}
	return out, nil
}
