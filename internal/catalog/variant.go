package catalog

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/language"
)

// Kind distinguishes the three track types a variant can carry.
type Kind string

const (
	KindVideo    Kind = "video"
	KindAudio    Kind = "audio"
	KindSubtitle Kind = "subtitle"
)

// Valid reports whether the kind is one of the known track types.
func (k Kind) Valid() bool {
	switch k {
	case KindVideo, KindAudio, KindSubtitle:
		return true
	}
	return false
}

// SegmentRef identifies one fetchable, individually decryptable chunk of a
// variant's stream. Index ordering is significant: segments are reassembled
// in index order regardless of download completion order.
type SegmentRef struct {
	Index      int
	URL        string
	ByteLength int64 // hint only, zero when the manifest omits it
	IV         []byte
	KeyID      string
}

// Variant is one downloadable track (video, audio, or subtitle) for a given
// locale. Immutable once resolved by the catalog service.
type Variant struct {
	ID       string
	Locale   string
	Kind     Kind
	Segments []SegmentRef
	KeyID    string
	Duration time.Duration
}

// SegmentCount returns the number of segments in the variant.
func (v *Variant) SegmentCount() int { return len(v.Segments) }

// Label returns a short human-readable identifier for logs and reports.
func (v *Variant) Label() string {
	return fmt.Sprintf("%s/%s", v.Kind, v.Locale)
}

// LanguageTag canonicalizes the variant locale to a BCP-47 tag. Unparseable
// locales fall back to und so a bad manifest never aborts track naming.
func (v *Variant) LanguageTag() language.Tag {
	tag, err := language.Parse(strings.TrimSpace(v.Locale))
	if err != nil {
		return language.Und
	}
	return tag
}

// MuxLanguage returns the base language subtag mkvmerge expects, or "und"
// when the locale carries no usable base language.
func (v *Variant) MuxLanguage() string {
	base, conf := v.LanguageTag().Base()
	if conf == language.No {
		return "und"
	}
	return base.String()
}

// Validate checks structural soundness of a resolved variant.
func (v *Variant) Validate() error {
	if strings.TrimSpace(v.ID) == "" {
		return fmt.Errorf("variant: missing id")
	}
	if !v.Kind.Valid() {
		return fmt.Errorf("variant %s: unknown kind %q", v.ID, v.Kind)
	}
	if len(v.Segments) == 0 {
		return fmt.Errorf("variant %s: no segments", v.ID)
	}
	for i, seg := range v.Segments {
		if seg.Index != i {
			return fmt.Errorf("variant %s: segment %d carries index %d", v.ID, i, seg.Index)
		}
		if seg.URL == "" {
			return fmt.Errorf("variant %s: segment %d has no url", v.ID, i)
		}
	}
	return nil
}

// DecryptionKey is raw key material for one variant's segments.
type DecryptionKey []byte

// Service is the capability the pipeline uses to resolve an episode into
// variants and obtain per-variant key material. Implementations handle
// authentication and manifest parsing; the core never sees either.
type Service interface {
	Resolve(episodeID string) ([]Variant, error)
	KeyMaterial(variant Variant) (DecryptionKey, error)
}
