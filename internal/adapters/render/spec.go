package render

import (
	"github.com/okian/geocluster/internal/adapters/iconcache"
	"github.com/okian/geocluster/internal/domain/model"
)

// Synthetic sources for icons that are drawn locally.
const (
	QuestionSource      = "icon://question"
	clusterSourcePrefix = "icon://cluster/"
)

// Kind is one of the four icon shapes.
type Kind uint8

const (
	KindThumbnail Kind = iota + 1
	KindBadgedThumbnail
	KindQuestion
	KindNumeric
)

func (k Kind) String() string {
	switch k {
	case KindThumbnail:
		return "thumbnail"
	case KindBadgedThumbnail:
		return "badged_thumbnail"
	case KindQuestion:
		return "question"
	case KindNumeric:
		return "numeric"
	default:
		return "unknown"
	}
}

// Local reports whether the kind is drawn without a remote fetch.
func (k Kind) Local() bool { return k == KindQuestion || k == KindNumeric }

// Mode colours numeric cluster icons.
type Mode uint8

const (
	ModeMixed Mode = iota
	ModePhoto
	ModeQuestion
)

func (m Mode) String() string {
	switch m {
	case ModePhoto:
		return "photo"
	case ModeQuestion:
		return "question"
	default:
		return "mixed"
	}
}

// Spec fully describes an icon. Equal specs produce identical bitmaps, so
// Key is a valid cache identity.
type Spec struct {
	Kind      Kind
	Key       iconcache.Key
	SourceURL string
	Count     int
	Mode      Mode
}

// SpecFor picks the icon for a cluster:
//   - a single photo shows its thumbnail;
//   - a photo-only cluster shows the pivot thumbnail with a count badge;
//   - a single question shows the question glyph;
//   - anything else shows a numeric icon coloured by member kinds.
func SpecFor(c model.ClusterResult) Spec {
	n := c.Size()
	if n > 0 && c.AllOfKind(model.KindPhoto) {
		if p, ok := c.Pivot().Photo(); ok && p.ThumbnailURL != "" {
			if n == 1 {
				return Spec{Kind: KindThumbnail, Key: iconcache.PlainKey(p.ThumbnailURL), SourceURL: p.ThumbnailURL, Count: 1, Mode: ModePhoto}
			}
			return Spec{
				Kind:      KindBadgedThumbnail,
				Key:       iconcache.BadgeKey(p.ThumbnailURL, uint32(n)),
				SourceURL: p.ThumbnailURL,
				Count:     n,
				Mode:      ModePhoto,
			}
		}
	}
	if n == 1 && c.Pivot().Kind == model.KindQuestion {
		return Spec{Kind: KindQuestion, Key: iconcache.PlainKey(QuestionSource), Count: 1, Mode: ModeQuestion}
	}

	mode := ModeMixed
	switch {
	case c.AllOfKind(model.KindPhoto):
		mode = ModePhoto
	case c.AllOfKind(model.KindQuestion):
		mode = ModeQuestion
	}
	return Spec{
		Kind:  KindNumeric,
		Key:   iconcache.BadgeKey(clusterSourcePrefix+mode.String(), uint32(n)),
		Count: n,
		Mode:  mode,
	}
}
