package catalog_test

import (
	"strings"
	"testing"
	"time"

	"trackweave/internal/catalog"
)

const sampleManifest = `{
  "episodes": {
    "ep-1": {
      "variants": [
        {
          "id": "audio-ja",
          "locale": "ja-JP",
          "kind": "audio",
          "key_id": "k1",
          "duration_seconds": 2.5,
          "segments": [
            {"url": "https://cdn.example/a/0", "byte_length": 4096},
            {"url": "https://cdn.example/a/1", "iv": "000102030405060708090a0b0c0d0e0f"}
          ]
        }
      ]
    }
  },
  "keys": {
    "k1": "00112233445566778899aabbccddeeff"
  }
}`

func TestParseManifestResolvesVariants(t *testing.T) {
	m, err := catalog.ParseManifest(strings.NewReader(sampleManifest))
	if err != nil {
		t.Fatalf("ParseManifest: %v", err)
	}

	variants, err := m.Resolve("ep-1")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(variants) != 1 {
		t.Fatalf("resolved %d variants", len(variants))
	}
	v := variants[0]
	if v.Kind != catalog.KindAudio || v.Locale != "ja-JP" {
		t.Fatalf("unexpected variant %+v", v)
	}
	if v.Duration != 2500*time.Millisecond {
		t.Fatalf("duration = %v", v.Duration)
	}
	if v.Segments[0].Index != 0 || v.Segments[1].Index != 1 {
		t.Fatal("segment indexes not assigned by position")
	}
	if len(v.Segments[1].IV) != 16 {
		t.Fatalf("iv length = %d", len(v.Segments[1].IV))
	}

	key, err := m.KeyMaterial(v)
	if err != nil {
		t.Fatalf("KeyMaterial: %v", err)
	}
	if len(key) != 16 || key[0] != 0x00 || key[15] != 0xff {
		t.Fatalf("unexpected key %x", key)
	}
}

func TestParseManifestRejections(t *testing.T) {
	cases := []struct {
		name string
		doc  string
	}{
		{"empty", `{}`},
		{"short key", `{"episodes":{"e":{"variants":[{"id":"a","locale":"x","kind":"audio","key_id":"k","segments":[{"url":"u"}]}]}},"keys":{"k":"aabb"}}`},
		{"unknown key id", `{"episodes":{"e":{"variants":[{"id":"a","locale":"x","kind":"audio","key_id":"missing","segments":[{"url":"u"}]}]}},"keys":{}}`},
		{"no segments", `{"episodes":{"e":{"variants":[{"id":"a","locale":"x","kind":"audio"}]}}}`},
		{"bad kind", `{"episodes":{"e":{"variants":[{"id":"a","locale":"x","kind":"sticker","segments":[{"url":"u"}]}]}}}`},
		{"unknown field", `{"episodes":{},"extra":true}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := catalog.ParseManifest(strings.NewReader(tc.doc)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestResolveUnknownEpisode(t *testing.T) {
	m, err := catalog.ParseManifest(strings.NewReader(sampleManifest))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.Resolve("ep-404"); err == nil {
		t.Fatal("expected error for unknown episode")
	}
}
