// Package model contains the map-screen domain values passed between layers.
package model

import "strings"

// Kind identifies which domain entity a marker stands for.
type Kind uint8

const (
	// KindPhoto is a photo point with a remote thumbnail.
	KindPhoto Kind = iota + 1
	// KindQuestion is a question point rendered from a fixed glyph.
	KindQuestion
)

func (k Kind) String() string {
	switch k {
	case KindPhoto:
		return "photo"
	case KindQuestion:
		return "question"
	default:
		return "unknown"
	}
}

// ParseKind maps the wire names used by the marker API to a Kind.
func ParseKind(s string) (Kind, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "photo", "photo_point", "photopoint":
		return KindPhoto, true
	case "question", "question_point", "questionpoint":
		return KindQuestion, true
	default:
		return 0, false
	}
}

// PhotoPayload is the kind-specific part of a photo point.
type PhotoPayload struct {
	ThumbnailURL string
	DisplayOrder int
}

// QuestionPayload is the kind-specific part of a question point.
type QuestionPayload struct {
	Text   string
	Status string
}

// MarkerItem is one geo-tagged record supplied for the current bounding box.
// Values are never mutated after construction.
type MarkerItem struct {
	ID         string // unique within Kind
	Kind       Kind
	Coordinate Coordinate
	Payload    any // PhotoPayload or QuestionPayload
}

// Key returns an identifier unique across kinds.
func (m MarkerItem) Key() string {
	return m.Kind.String() + ":" + m.ID
}

// Photo returns the photo payload when the item carries one.
func (m MarkerItem) Photo() (PhotoPayload, bool) {
	p, ok := m.Payload.(PhotoPayload)
	return p, ok
}

// Question returns the question payload when the item carries one.
func (m MarkerItem) Question() (QuestionPayload, bool) {
	q, ok := m.Payload.(QuestionPayload)
	return q, ok
}

// ProjectedPoint pairs an item with its position in the current viewport.
type ProjectedPoint struct {
	Item      MarkerItem
	ScreenPos ScreenPoint
}

// ClusterResult is one group of markers rendered as a single unit.
// Members keep input order; the first member is the pivot.
type ClusterResult struct {
	ID      string
	Center  Coordinate
	Members []MarkerItem
}

// Size returns the member count.
func (c ClusterResult) Size() int { return len(c.Members) }

// Pivot returns the member that seeded the cluster.
func (c ClusterResult) Pivot() MarkerItem { return c.Members[0] }

// AllOfKind reports whether every member has kind k.
func (c ClusterResult) AllOfKind(k Kind) bool {
	if len(c.Members) == 0 {
		return false
	}
	for _, m := range c.Members {
		if m.Kind != k {
			return false
		}
	}
	return true
}
