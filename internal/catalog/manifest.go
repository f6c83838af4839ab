package catalog

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"
)

// Manifest is a file-backed Service implementation: a JSON document mapping
// episode identifiers to variant descriptions and key identifiers to raw key
// material. It covers self-hosted and pre-resolved catalogs; network-backed
// catalogs implement Service directly.
type Manifest struct {
	episodes map[string][]Variant
	keys     map[string]DecryptionKey
}

type manifestDoc struct {
	Episodes map[string]manifestEpisode `json:"episodes"`
	Keys     map[string]string          `json:"keys"`
}

type manifestEpisode struct {
	Variants []manifestVariant `json:"variants"`
}

type manifestVariant struct {
	ID              string            `json:"id"`
	Locale          string            `json:"locale"`
	Kind            string            `json:"kind"`
	KeyID           string            `json:"key_id"`
	DurationSeconds float64           `json:"duration_seconds"`
	Segments        []manifestSegment `json:"segments"`
}

type manifestSegment struct {
	URL        string `json:"url"`
	ByteLength int64  `json:"byte_length"`
	IV         string `json:"iv"`
}

// LoadManifest reads and validates a manifest file.
func LoadManifest(path string) (*Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open manifest: %w", err)
	}
	defer f.Close()
	m, err := ParseManifest(f)
	if err != nil {
		return nil, fmt.Errorf("manifest %s: %w", path, err)
	}
	return m, nil
}

// ParseManifest decodes a manifest document from r.
func ParseManifest(r io.Reader) (*Manifest, error) {
	var doc manifestDoc
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if len(doc.Episodes) == 0 {
		return nil, fmt.Errorf("no episodes")
	}

	m := &Manifest{
		episodes: make(map[string][]Variant, len(doc.Episodes)),
		keys:     make(map[string]DecryptionKey, len(doc.Keys)),
	}
	for id, raw := range doc.Keys {
		key, err := hex.DecodeString(raw)
		if err != nil {
			return nil, fmt.Errorf("key %s: %w", id, err)
		}
		if len(key) != 16 {
			return nil, fmt.Errorf("key %s: %d bytes, want 16", id, len(key))
		}
		m.keys[id] = key
	}

	for episodeID, ep := range doc.Episodes {
		variants := make([]Variant, 0, len(ep.Variants))
		for _, mv := range ep.Variants {
			v := Variant{
				ID:       mv.ID,
				Locale:   mv.Locale,
				Kind:     Kind(mv.Kind),
				KeyID:    mv.KeyID,
				Duration: time.Duration(mv.DurationSeconds * float64(time.Second)),
			}
			for i, seg := range mv.Segments {
				ref := SegmentRef{
					Index:      i,
					URL:        seg.URL,
					ByteLength: seg.ByteLength,
					KeyID:      mv.KeyID,
				}
				if seg.IV != "" {
					iv, err := hex.DecodeString(seg.IV)
					if err != nil {
						return nil, fmt.Errorf("episode %s variant %s segment %d iv: %w", episodeID, mv.ID, i, err)
					}
					ref.IV = iv
				}
				v.Segments = append(v.Segments, ref)
			}
			if err := v.Validate(); err != nil {
				return nil, fmt.Errorf("episode %s: %w", episodeID, err)
			}
			if v.KeyID != "" {
				if _, ok := m.keys[v.KeyID]; !ok {
					return nil, fmt.Errorf("episode %s variant %s: unknown key id %q", episodeID, mv.ID, v.KeyID)
				}
			}
			variants = append(variants, v)
		}
		m.episodes[episodeID] = variants
	}
	return m, nil
}

// Resolve implements Service.
func (m *Manifest) Resolve(episodeID string) ([]Variant, error) {
	variants, ok := m.episodes[episodeID]
	if !ok {
		return nil, fmt.Errorf("episode %q not in manifest", episodeID)
	}
	return variants, nil
}

// KeyMaterial implements Service. Variants without a key id fail: every
// manifest segment is expected to be encrypted.
func (m *Manifest) KeyMaterial(variant Variant) (DecryptionKey, error) {
	if variant.KeyID == "" {
		return nil, fmt.Errorf("variant %s carries no key id", variant.ID)
	}
	key, ok := m.keys[variant.KeyID]
	if !ok {
		return nil, fmt.Errorf("variant %s: unknown key id %q", variant.ID, variant.KeyID)
	}
	return key, nil
}

// Episodes lists the manifest's episode identifiers.
func (m *Manifest) Episodes() []string {
	out := make([]string, 0, len(m.episodes))
	for id := range m.episodes {
		out = append(out, id)
	}
	return out
}
