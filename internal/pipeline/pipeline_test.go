package pipeline_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"trackweave/internal/catalog"
	"trackweave/internal/config"
	"trackweave/internal/logging"
	"trackweave/internal/pipeline"
	"trackweave/internal/services"
	"trackweave/internal/services/mkvmerge"
	"trackweave/internal/testsupport"
)

const testSampleRate = 8000

// fixtureCatalog serves a single episode whose segments live on an httptest
// server, encrypted with the shared test key.
type fixtureCatalog struct {
	episodeID string
	variants  []catalog.Variant
}

func (c *fixtureCatalog) Resolve(episodeID string) ([]catalog.Variant, error) {
	if episodeID != c.episodeID {
		return nil, fmt.Errorf("unknown episode %q", episodeID)
	}
	return c.variants, nil
}

func (c *fixtureCatalog) KeyMaterial(catalog.Variant) (catalog.DecryptionKey, error) {
	return testsupport.TestKey, nil
}

// newSegmentServer serves /seg/<variantID>/<index> with encrypted fixture
// payloads.
func newSegmentServer(t *testing.T, segmentSize int) *httptest.Server {
	t.Helper()
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/seg/"), "/")
		if len(parts) != 2 {
			http.NotFound(w, r)
			return
		}
		var index int
		if _, err := fmt.Sscanf(parts[1], "%d", &index); err != nil {
			http.NotFound(w, r)
			return
		}
		plain := testsupport.SegmentPayload(parts[0], index, segmentSize)
		data := testsupport.EncryptSegment(t, plain, catalog.SegmentRef{Index: index})
		_, _ = w.Write(data)
	})
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server
}

func makeVariant(server *httptest.Server, id, locale string, kind catalog.Kind, segments int) catalog.Variant {
	v := catalog.Variant{ID: id, Locale: locale, Kind: kind}
	for i := 0; i < segments; i++ {
		v.Segments = append(v.Segments, catalog.SegmentRef{
			Index: i,
			URL:   fmt.Sprintf("%s/seg/%s/%d", server.URL, id, i),
		})
	}
	return v
}

// stubDecoder returns canned PCM per audio variant, verifying first that the
// assembled file carries the expected decrypted segment bytes.
type stubDecoder struct {
	t           *testing.T
	segmentSize int
	segments    map[string]int
	samples     map[string][]int16
}

func (d *stubDecoder) Decode(_ context.Context, inputPath string, sampleRate int) ([]int16, error) {
	if sampleRate != testSampleRate {
		return nil, fmt.Errorf("unexpected sample rate %d", sampleRate)
	}
	for id, samples := range d.samples {
		if !strings.Contains(filepath.Base(inputPath), id) {
			continue
		}
		got, err := os.ReadFile(inputPath)
		if err != nil {
			return nil, err
		}
		var want bytes.Buffer
		for i := 0; i < d.segments[id]; i++ {
			want.Write(testsupport.SegmentPayload(id, i, d.segmentSize))
		}
		if !bytes.Equal(got, want.Bytes()) {
			d.t.Errorf("assembled media for %s does not match fixture payload", id)
		}
		return samples, nil
	}
	return nil, fmt.Errorf("no fixture audio for %s", inputPath)
}

// captureMuxer records the command and fabricates the output container.
type captureMuxer struct {
	mu  sync.Mutex
	cmd mkvmerge.Command
}

func (m *captureMuxer) Mux(_ context.Context, cmd mkvmerge.Command) error {
	m.mu.Lock()
	m.cmd = cmd
	m.mu.Unlock()
	return os.WriteFile(cmd.OutputPath, []byte("mkv"), 0o644)
}

func (m *captureMuxer) command() mkvmerge.Command {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cmd
}

func inputByPathSuffix(t *testing.T, cmd mkvmerge.Command, suffix string) mkvmerge.Input {
	t.Helper()
	for _, in := range cmd.Inputs {
		if strings.HasSuffix(in.Path, suffix) {
			return in
		}
	}
	t.Fatalf("no mux input ending in %q (inputs: %+v)", suffix, cmd.Inputs)
	return mkvmerge.Input{}
}

func testConfig(t *testing.T) *config.Config {
	return testsupport.NewConfig(t, testsupport.WithWorkers(4), func(c *config.Config) {
		c.Alignment.SampleRate = testSampleRate
	})
}

func TestRunSynchronizesLaggingLocale(t *testing.T) {
	const segmentSize = 4096
	server := newSegmentServer(t, segmentSize)
	svc := &fixtureCatalog{
		episodeID: "ep-1",
		variants: []catalog.Variant{
			makeVariant(server, "video-main", "ja-JP", catalog.KindVideo, 6),
			makeVariant(server, "audio-ja", "ja-JP", catalog.KindAudio, 4),
			makeVariant(server, "sub-ja", "ja-JP", catalog.KindSubtitle, 1),
			makeVariant(server, "audio-de", "de-DE", catalog.KindAudio, 4),
			makeVariant(server, "sub-de", "de-DE", catalog.KindSubtitle, 1),
		},
	}

	// Same underlying tone, but the de dub carries 2.4s of extra lead.
	decoder := &stubDecoder{
		t:           t,
		segmentSize: segmentSize,
		segments:    map[string]int{"audio-ja": 4, "audio-de": 4},
		samples: map[string][]int16{
			"audio-ja": testsupport.ToneSamples(12, testSampleRate, 0, 7),
			"audio-de": testsupport.ToneSamples(12, testSampleRate, 2.4, 7),
		},
	}
	muxer := &captureMuxer{}

	cfg := testConfig(t)
	p, err := pipeline.New(cfg, svc, logging.NewNop(),
		pipeline.WithDecoder(decoder),
		pipeline.WithMuxer(muxer))
	if err != nil {
		t.Fatal(err)
	}

	outputPath := filepath.Join(cfg.Paths.OutputDir, "episode.mkv")
	report, err := p.Run(context.Background(), pipeline.Request{
		EpisodeID:  "ep-1",
		Locales:    []string{"ja-JP", "de-DE"},
		OutputPath: outputPath,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if report.OutputPath != outputPath {
		t.Fatalf("output path = %s", report.OutputPath)
	}
	if info, err := os.Stat(outputPath); err != nil || info.Size() == 0 {
		t.Fatalf("output container missing: %v", err)
	}

	tracks := make(map[string]pipeline.TrackReport)
	for _, tr := range report.Tracks {
		tracks[tr.VariantID] = tr
	}
	if len(tracks) != 5 {
		t.Fatalf("reported %d tracks, want 5", len(tracks))
	}

	de := tracks["audio-de"]
	if de.Fallback {
		t.Fatalf("de audio fell back to zero offset (confidence %.2f)", de.Confidence)
	}
	// Offsets quantize to the fingerprint hop (125ms), so 2.4s lands on an
	// adjacent frame boundary.
	drift := de.Offset - 2400*time.Millisecond
	if drift < 0 {
		drift = -drift
	}
	if drift > 130*time.Millisecond {
		t.Fatalf("de audio offset = %v, want about 2.4s", de.Offset)
	}
	if de.Confidence < cfg.Alignment.ConfidenceThreshold {
		t.Fatalf("de audio confidence = %.2f, below threshold", de.Confidence)
	}
	if sub := tracks["sub-de"]; sub.Offset != de.Offset {
		t.Fatalf("de subtitle offset %v != audio offset %v", sub.Offset, de.Offset)
	}
	if ja := tracks["audio-ja"]; ja.Offset != 0 {
		t.Fatalf("reference audio offset = %v, want 0", ja.Offset)
	}

	cmd := muxer.command()
	if len(cmd.Inputs) != 5 {
		t.Fatalf("mux got %d inputs, want 5", len(cmd.Inputs))
	}
	wantDelay := -int(de.Offset / time.Millisecond)
	deAudio := inputByPathSuffix(t, cmd, "audio-de.mp4")
	if deAudio.DelayMS != wantDelay {
		t.Fatalf("de audio delay = %d, want %d", deAudio.DelayMS, wantDelay)
	}
	if deAudio.Language != "de" {
		t.Fatalf("de audio language = %q", deAudio.Language)
	}
	deSub := inputByPathSuffix(t, cmd, "sub-de.ass")
	if deSub.DelayMS != wantDelay {
		t.Fatalf("de subtitle delay = %d, want %d (must match its audio)", deSub.DelayMS, wantDelay)
	}
	if in := inputByPathSuffix(t, cmd, "audio-ja.mp4"); in.DelayMS != 0 || !in.Default {
		t.Fatalf("reference audio input = %+v, want zero delay and default", in)
	}
	if in := inputByPathSuffix(t, cmd, "video-main.mp4"); !in.Default {
		t.Fatal("video track should be default")
	}
}

func TestRunFallsBackOnUnrelatedAudio(t *testing.T) {
	const segmentSize = 2048
	server := newSegmentServer(t, segmentSize)
	svc := &fixtureCatalog{
		episodeID: "ep-1",
		variants: []catalog.Variant{
			makeVariant(server, "video-main", "ja-JP", catalog.KindVideo, 2),
			makeVariant(server, "audio-ja", "ja-JP", catalog.KindAudio, 2),
			makeVariant(server, "audio-de", "de-DE", catalog.KindAudio, 2),
		},
	}
	// Different seeds: the tracks share no acoustic content.
	decoder := &stubDecoder{
		t:           t,
		segmentSize: segmentSize,
		segments:    map[string]int{"audio-ja": 2, "audio-de": 2},
		samples: map[string][]int16{
			"audio-ja": testsupport.ToneSamples(10, testSampleRate, 0, 7),
			"audio-de": testsupport.ToneSamples(10, testSampleRate, 0, 99),
		},
	}
	muxer := &captureMuxer{}

	cfg := testConfig(t)
	p, err := pipeline.New(cfg, svc, logging.NewNop(),
		pipeline.WithDecoder(decoder),
		pipeline.WithMuxer(muxer))
	if err != nil {
		t.Fatal(err)
	}

	report, err := p.Run(context.Background(), pipeline.Request{
		EpisodeID:  "ep-1",
		OutputPath: filepath.Join(cfg.Paths.OutputDir, "episode.mkv"),
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	for _, tr := range report.Tracks {
		if tr.VariantID != "audio-de" {
			continue
		}
		if !tr.Fallback {
			t.Fatalf("expected fallback for unrelated audio, got offset %v confidence %.2f", tr.Offset, tr.Confidence)
		}
		if tr.Offset != 0 {
			t.Fatalf("fallback offset = %v, want 0", tr.Offset)
		}
	}
	if in := inputByPathSuffix(t, muxer.command(), "audio-de.mp4"); in.DelayMS != 0 {
		t.Fatalf("fallback track delay = %d, want 0", in.DelayMS)
	}
}

func TestRunRefusesExistingOutputWithoutForce(t *testing.T) {
	cfg := testConfig(t)
	server := newSegmentServer(t, 1024)
	svc := &fixtureCatalog{
		episodeID: "ep-1",
		variants: []catalog.Variant{
			makeVariant(server, "video-main", "ja-JP", catalog.KindVideo, 1),
			makeVariant(server, "audio-ja", "ja-JP", catalog.KindAudio, 1),
		},
	}
	p, err := pipeline.New(cfg, svc, logging.NewNop(),
		pipeline.WithDecoder(&stubDecoder{t: t}),
		pipeline.WithMuxer(&captureMuxer{}))
	if err != nil {
		t.Fatal(err)
	}

	outputPath := filepath.Join(cfg.Paths.OutputDir, "episode.mkv")
	if err := os.WriteFile(outputPath, []byte("old"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, runErr := p.Run(context.Background(), pipeline.Request{EpisodeID: "ep-1", OutputPath: outputPath})
	if !errors.Is(runErr, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", runErr)
	}
}

func TestRunUnknownLocaleFails(t *testing.T) {
	cfg := testConfig(t)
	server := newSegmentServer(t, 1024)
	svc := &fixtureCatalog{
		episodeID: "ep-1",
		variants: []catalog.Variant{
			makeVariant(server, "video-main", "ja-JP", catalog.KindVideo, 1),
			makeVariant(server, "audio-ja", "ja-JP", catalog.KindAudio, 1),
		},
	}
	p, err := pipeline.New(cfg, svc, logging.NewNop(),
		pipeline.WithDecoder(&stubDecoder{t: t}),
		pipeline.WithMuxer(&captureMuxer{}))
	if err != nil {
		t.Fatal(err)
	}

	_, runErr := p.Run(context.Background(), pipeline.Request{
		EpisodeID:  "ep-1",
		Locales:    []string{"fr-FR"},
		OutputPath: filepath.Join(cfg.Paths.OutputDir, "episode.mkv"),
	})
	if !errors.Is(runErr, services.ErrNotFound) {
		t.Fatalf("expected not-found error, got %v", runErr)
	}
}

func TestRunSingleAudioSkipsAlignment(t *testing.T) {
	const segmentSize = 1024
	cfg := testConfig(t)
	server := newSegmentServer(t, segmentSize)
	svc := &fixtureCatalog{
		episodeID: "ep-1",
		variants: []catalog.Variant{
			makeVariant(server, "video-main", "ja-JP", catalog.KindVideo, 2),
			makeVariant(server, "audio-ja", "ja-JP", catalog.KindAudio, 2),
		},
	}
	muxer := &captureMuxer{}
	p, err := pipeline.New(cfg, svc, logging.NewNop(),
		pipeline.WithDecoder(&stubDecoder{t: t, segmentSize: segmentSize}),
		pipeline.WithMuxer(muxer))
	if err != nil {
		t.Fatal(err)
	}

	report, err := p.Run(context.Background(), pipeline.Request{
		EpisodeID:  "ep-1",
		OutputPath: filepath.Join(cfg.Paths.OutputDir, "episode.mkv"),
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(report.Tracks) != 2 {
		t.Fatalf("reported %d tracks, want 2", len(report.Tracks))
	}
	for _, in := range muxer.command().Inputs {
		if in.DelayMS != 0 {
			t.Fatalf("single-audio run should carry no delays, got %+v", in)
		}
	}
}
