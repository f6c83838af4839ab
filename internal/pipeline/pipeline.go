package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"trackweave/internal/align"
	"trackweave/internal/catalog"
	"trackweave/internal/config"
	"trackweave/internal/coordinator"
	"trackweave/internal/fetch"
	"trackweave/internal/fileutil"
	"trackweave/internal/fingerprint"
	"trackweave/internal/logging"
	"trackweave/internal/ratelimit"
	"trackweave/internal/segstore"
	"trackweave/internal/services"
	"trackweave/internal/services/ffmpeg"
	"trackweave/internal/services/mkvmerge"
	"trackweave/internal/session"
)

// Request describes one acquisition run.
type Request struct {
	EpisodeID  string
	Locales    []string // audio/subtitle locales to keep; empty keeps all
	OutputPath string
	Resume     bool
	Force      bool // overwrite an existing output file
}

// TrackReport records the outcome for one muxed track.
type TrackReport struct {
	VariantID  string
	Label      string
	Kind       catalog.Kind
	Locale     string
	Offset     time.Duration
	Confidence float64
	Fallback   bool // alignment fell below the confidence threshold
}

// Report summarizes a completed run.
type Report struct {
	SessionID  string
	OutputPath string
	Resumed    bool
	Tracks     []TrackReport
}

// ReferencePolicy selects the alignment reference from the run's audio
// variants, returning its variant ID. Candidates arrive in requested-locale
// order.
type ReferencePolicy func(candidates []catalog.Variant) (string, error)

// DefaultReferencePolicy picks the first audio variant in requested-locale
// order.
func DefaultReferencePolicy(candidates []catalog.Variant) (string, error) {
	if len(candidates) == 0 {
		return "", errors.New("no audio variants to choose a reference from")
	}
	return candidates[0].ID, nil
}

// Option configures the pipeline.
type Option func(*Pipeline)

// WithDecoder injects the audio decoder (primarily for tests).
func WithDecoder(d ffmpeg.Decoder) Option {
	return func(p *Pipeline) {
		if d != nil {
			p.decoder = d
		}
	}
}

// WithMuxer injects the muxer (primarily for tests).
func WithMuxer(m mkvmerge.Muxer) Option {
	return func(p *Pipeline) {
		if m != nil {
			p.muxer = m
		}
	}
}

// WithHTTPClient overrides the segment transport.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Pipeline) {
		if c != nil {
			p.httpClient = c
		}
	}
}

// WithReferencePolicy overrides reference track selection.
func WithReferencePolicy(policy ReferencePolicy) Option {
	return func(p *Pipeline) {
		if policy != nil {
			p.refPolicy = policy
		}
	}
}

// WithProgress registers a per-segment progress callback.
func WithProgress(fn func(variantID string, written, total int)) Option {
	return func(p *Pipeline) { p.onProgress = fn }
}

// Pipeline wires the acquisition stages together.
type Pipeline struct {
	cfg        *config.Config
	catalog    catalog.Service
	sessions   *session.Manager
	decoder    ffmpeg.Decoder
	muxer      mkvmerge.Muxer
	httpClient *http.Client
	refPolicy  ReferencePolicy
	onProgress func(variantID string, written, total int)
	logger     *slog.Logger
}

// New constructs a pipeline. Without injected clients the configured ffmpeg
// and mkvmerge binaries are used.
func New(cfg *config.Config, svc catalog.Service, logger *slog.Logger, opts ...Option) (*Pipeline, error) {
	if cfg == nil {
		return nil, errors.New("pipeline: config required")
	}
	if svc == nil {
		return nil, errors.New("pipeline: catalog service required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	p := &Pipeline{
		cfg:      cfg,
		catalog:  svc,
		sessions: session.NewManager(cfg, logger),
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.Download.RequestTimeoutSeconds) * time.Second,
		},
		refPolicy: DefaultReferencePolicy,
		logger:    logging.WithComponent(logger, "pipeline"),
	}
	for _, opt := range opts {
		opt(p)
	}

	if p.decoder == nil {
		client, err := ffmpeg.New(cfg.Tools.FFmpegBinary)
		if err != nil {
			return nil, err
		}
		p.decoder = client
	}
	if p.muxer == nil {
		client, err := mkvmerge.New(cfg.Tools.MkvmergeBinary)
		if err != nil {
			return nil, err
		}
		p.muxer = client
	}
	return p, nil
}

// Run executes the full acquisition for one request.
func (p *Pipeline) Run(ctx context.Context, req Request) (*Report, error) {
	if strings.TrimSpace(req.EpisodeID) == "" {
		return nil, services.Wrap(services.ErrValidation, "pipeline", "run", "episode id required", nil)
	}
	if strings.TrimSpace(req.OutputPath) == "" {
		return nil, services.Wrap(services.ErrValidation, "pipeline", "run", "output path required", nil)
	}
	if !req.Force {
		if _, err := os.Stat(req.OutputPath); err == nil {
			return nil, services.Wrap(services.ErrValidation, "pipeline", "run",
				fmt.Sprintf("output %s already exists (use force to overwrite)", req.OutputPath), nil)
		}
	}

	variants, err := p.selectVariants(req)
	if err != nil {
		return nil, err
	}

	sess, err := p.sessions.Acquire(req.OutputPath, req.Resume)
	if err != nil {
		return nil, err
	}
	ctx = services.WithSessionID(ctx, sess.ID)
	logger := p.logger.With(slog.String(logging.FieldSessionID, sess.ID))

	report, runErr := p.run(ctx, logger, sess, req, variants)

	preserve := runErr != nil && ctx.Err() != nil && p.cfg.Download.KeepPartialOnCancel
	if closeErr := sess.Close(preserve); closeErr != nil && runErr == nil {
		runErr = closeErr
	}
	if runErr != nil {
		return nil, runErr
	}
	return report, nil
}

// selectVariants resolves the episode and keeps one video variant plus the
// audio and subtitle variants for the requested locales, ordered by the
// request's locale list.
func (p *Pipeline) selectVariants(req Request) ([]catalog.Variant, error) {
	resolved, err := p.catalog.Resolve(req.EpisodeID)
	if err != nil {
		return nil, services.Wrap(services.ErrNotFound, "pipeline", "resolve",
			fmt.Sprintf("resolve episode %s", req.EpisodeID), err)
	}

	var video *catalog.Variant
	byLocale := make(map[string][]catalog.Variant)
	var localeOrder []string
	for i := range resolved {
		v := resolved[i]
		if err := v.Validate(); err != nil {
			return nil, services.Wrap(services.ErrValidation, "pipeline", "resolve", "invalid variant", err)
		}
		if v.Kind == catalog.KindVideo {
			if video == nil {
				video = &resolved[i]
			}
			continue
		}
		if _, seen := byLocale[v.Locale]; !seen {
			localeOrder = append(localeOrder, v.Locale)
		}
		byLocale[v.Locale] = append(byLocale[v.Locale], v)
	}
	if video == nil {
		return nil, services.Wrap(services.ErrValidation, "pipeline", "resolve", "episode has no video variant", nil)
	}

	wanted := localeOrder
	if len(req.Locales) > 0 {
		wanted = req.Locales
	}

	selected := []catalog.Variant{*video}
	for _, locale := range wanted {
		tracks, ok := byLocale[locale]
		if !ok {
			return nil, services.Wrap(services.ErrNotFound, "pipeline", "resolve",
				fmt.Sprintf("locale %s not available for episode %s", locale, req.EpisodeID), nil)
		}
		// Audio before subtitles per locale, stable within a kind.
		sort.SliceStable(tracks, func(i, j int) bool {
			return kindRank(tracks[i].Kind) < kindRank(tracks[j].Kind)
		})
		selected = append(selected, tracks...)
	}
	return selected, nil
}

func kindRank(k catalog.Kind) int {
	switch k {
	case catalog.KindAudio:
		return 0
	case catalog.KindSubtitle:
		return 1
	default:
		return 2
	}
}

func (p *Pipeline) run(ctx context.Context, logger *slog.Logger, sess *session.Session, req Request, variants []catalog.Variant) (*Report, error) {
	jobs, err := p.prepareJobs(ctx, sess, variants)
	if err != nil {
		return nil, err
	}

	if err := p.download(ctx, logger, sess, jobs); err != nil {
		return nil, err
	}

	offsets, err := p.alignTracks(ctx, logger, sess, variants)
	if err != nil {
		return nil, err
	}

	outputPath, err := p.mux(ctx, logger, sess, req, variants, offsets)
	if err != nil {
		return nil, err
	}

	report := &Report{
		SessionID:  sess.ID,
		OutputPath: outputPath,
		Resumed:    sess.Resumed,
	}
	for _, v := range variants {
		tr := TrackReport{
			VariantID: v.ID,
			Label:     v.Label(),
			Kind:      v.Kind,
			Locale:    v.Locale,
		}
		if res, ok := offsets[v.ID]; ok {
			tr.Offset = res.offset
			tr.Confidence = res.confidence
			tr.Fallback = res.fallback
		}
		report.Tracks = append(report.Tracks, tr)
	}
	return report, nil
}

// prepareJobs opens a segment store per variant and records the run's shape
// in the session database.
func (p *Pipeline) prepareJobs(ctx context.Context, sess *session.Session, variants []catalog.Variant) ([]coordinator.VariantJob, error) {
	ids := make([]string, 0, len(variants))
	jobs := make([]coordinator.VariantJob, 0, len(variants))
	for _, v := range variants {
		key, err := p.catalog.KeyMaterial(v)
		if err != nil {
			return nil, services.Wrap(services.ErrValidation, "pipeline", "prepare",
				fmt.Sprintf("key material for %s", v.Label()), err)
		}

		dir := sess.VariantDir(v.ID)
		var store *segstore.Store
		if sess.Resumed {
			store, err = segstore.Reopen(dir, v.SegmentCount())
		} else {
			store, err = segstore.Open(dir, v.SegmentCount())
		}
		if err != nil {
			return nil, services.Wrap(services.ErrConfiguration, "pipeline", "prepare",
				fmt.Sprintf("segment store for %s", v.Label()), err)
		}

		rec := session.VariantRecord{
			VariantID:    v.ID,
			SessionID:    sess.ID,
			Label:        v.Label(),
			Kind:         string(v.Kind),
			Locale:       v.Locale,
			SegmentCount: v.SegmentCount(),
		}
		if err := sess.Store().UpsertVariant(ctx, rec); err != nil {
			return nil, err
		}
		if store.Written() > 0 {
			if err := sess.Store().UpdateProgress(ctx, sess.ID, v.ID, store.Written()); err != nil {
				return nil, err
			}
		}

		ids = append(ids, v.ID)
		jobs = append(jobs, coordinator.VariantJob{Variant: v, Key: key, Store: store})
	}
	if err := sess.RecordVariants(ids); err != nil {
		return nil, err
	}
	return jobs, nil
}

func (p *Pipeline) download(ctx context.Context, logger *slog.Logger, sess *session.Session, jobs []coordinator.VariantJob) error {
	ctx = services.WithStage(ctx, "download")

	fetcher := fetch.New(
		p.httpClient,
		ratelimit.NewBucket(p.cfg.Download.RateLimitBytesPerSec),
		fetch.Policy{MaxAttempts: p.cfg.Download.FetchAttempts},
		logger,
	)
	coord := coordinator.New(fetcher, coordinator.Config{
		Workers:        p.cfg.Download.Workers,
		SegmentRetries: p.cfg.Download.SegmentRetries,
		OnVariantReady: func(job coordinator.VariantJob) {
			_ = sess.Store().SetStatus(ctx, sess.ID, job.Variant.ID, session.StatusComplete, "")
		},
		OnProgress: func(variantID string, written, total int) {
			_ = sess.Store().UpdateProgress(ctx, sess.ID, variantID, written)
			if p.onProgress != nil {
				p.onProgress(variantID, written, total)
			}
		},
	}, logger)

	for _, job := range jobs {
		_ = sess.Store().SetStatus(ctx, sess.ID, job.Variant.ID, session.StatusDownloading, "")
	}

	results, err := coord.Run(ctx, jobs)
	if err != nil {
		return services.Wrap(services.ErrTransient, "pipeline", "download", "download aborted", err)
	}

	var failed []string
	for _, job := range jobs {
		if vErr := results[job.Variant.ID]; vErr != nil {
			failed = append(failed, job.Variant.Label())
			_ = sess.Store().SetStatus(ctx, sess.ID, job.Variant.ID, session.StatusFailed, vErr.Error())
			logger.Error("variant download failed", logging.Error(vErr),
				slog.String(logging.FieldVariant, job.Variant.Label()))
		}
	}
	if len(failed) > 0 {
		return services.Wrap(services.ErrTransient, "pipeline", "download",
			fmt.Sprintf("variants failed: %s", strings.Join(failed, ", ")), nil)
	}
	return nil
}

type trackOffset struct {
	offset     time.Duration
	confidence float64
	fallback   bool
}

// alignTracks fingerprints every audio variant and aligns each against the
// reference. Subtitle variants inherit the offset of their locale's audio
// track; the reference locale stays at zero.
func (p *Pipeline) alignTracks(ctx context.Context, logger *slog.Logger, sess *session.Session, variants []catalog.Variant) (map[string]trackOffset, error) {
	ctx = services.WithStage(ctx, "align")

	var audio []catalog.Variant
	for _, v := range variants {
		if v.Kind == catalog.KindAudio {
			audio = append(audio, v)
		}
	}
	offsets := make(map[string]trackOffset)
	if len(audio) < 2 {
		return offsets, nil
	}

	refID, err := p.refPolicy(audio)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "pipeline", "align", "select reference track", err)
	}

	prints := make(map[string]fingerprint.Sequence, len(audio))
	var refLocale string
	for _, v := range audio {
		seq, err := p.fingerprintVariant(ctx, sess, v)
		if err != nil {
			_ = sess.Store().SetStatus(ctx, sess.ID, v.ID, session.StatusFailed, err.Error())
			return nil, err
		}
		prints[v.ID] = seq
		if v.ID == refID {
			refLocale = v.Locale
		}
	}
	refPrint, ok := prints[refID]
	if !ok {
		return nil, services.Wrap(services.ErrValidation, "pipeline", "align",
			fmt.Sprintf("reference policy chose unknown variant %s", refID), nil)
	}

	engine := align.New(align.Config{
		MaxOffset:        time.Duration(p.cfg.Alignment.MaxOffsetSeconds) * time.Second,
		SimilarityBits:   p.cfg.Alignment.SimilarityBits,
		MinOverlapFrames: p.cfg.Alignment.MinOverlapFrames,
	})

	byLocale := make(map[string]trackOffset)
	for _, v := range audio {
		if v.ID == refID {
			offsets[v.ID] = trackOffset{confidence: 1}
			_ = sess.Store().SetStatus(ctx, sess.ID, v.ID, session.StatusAligned, "reference")
			continue
		}
		result, err := engine.Align(refPrint, prints[v.ID])
		if err != nil {
			return nil, services.Wrap(services.ErrValidation, "pipeline", "align",
				fmt.Sprintf("align %s against reference", v.Label()), err)
		}

		off := trackOffset{offset: result.Offset, confidence: result.Confidence}
		if result.Confidence < p.cfg.Alignment.ConfidenceThreshold {
			logger.Warn("alignment confidence below threshold, keeping original timing",
				slog.String(logging.FieldVariant, v.Label()),
				slog.Float64("confidence", result.Confidence),
				slog.Duration("rejected_offset", result.Offset))
			off = trackOffset{fallback: true, confidence: result.Confidence}
		} else {
			logger.Info("track aligned",
				slog.String(logging.FieldVariant, v.Label()),
				slog.Duration("offset", result.Offset),
				slog.Float64("confidence", result.Confidence))
		}
		offsets[v.ID] = off
		byLocale[v.Locale] = off
		_ = sess.Store().SetStatus(ctx, sess.ID, v.ID, session.StatusAligned, result.String())
	}

	for _, v := range variants {
		if v.Kind != catalog.KindSubtitle || v.Locale == refLocale {
			continue
		}
		if off, ok := byLocale[v.Locale]; ok {
			offsets[v.ID] = off
		}
	}
	return offsets, nil
}

func (p *Pipeline) fingerprintVariant(ctx context.Context, sess *session.Session, v catalog.Variant) (fingerprint.Sequence, error) {
	job, err := p.assembleVariant(sess, v)
	if err != nil {
		return fingerprint.Sequence{}, err
	}
	samples, err := p.decoder.Decode(ctx, job, p.cfg.Alignment.SampleRate)
	if err != nil {
		return fingerprint.Sequence{}, err
	}
	seq, err := fingerprint.Extract(samples, p.cfg.Alignment.SampleRate)
	if err != nil {
		return fingerprint.Sequence{}, services.Wrap(services.ErrValidation, "pipeline", "align",
			fmt.Sprintf("fingerprint %s", v.Label()), err)
	}
	return seq, nil
}

// assembleVariant concatenates a variant's decrypted segments into one file
// under the session temp dir. Idempotent: an existing assembly is reused.
func (p *Pipeline) assembleVariant(sess *session.Session, v catalog.Variant) (string, error) {
	if err := os.MkdirAll(sess.TempDir(), 0o755); err != nil {
		return "", services.Wrap(services.ErrConfiguration, "pipeline", "assemble", "create temp directory", err)
	}
	path := filepath.Join(sess.TempDir(), v.ID+trackExtension(v.Kind))
	if err := fileutil.NonZeroFile(path); err == nil {
		return path, nil
	}
	store, err := segstore.Reopen(sess.VariantDir(v.ID), v.SegmentCount())
	if err != nil {
		return "", services.Wrap(services.ErrConfiguration, "pipeline", "assemble",
			fmt.Sprintf("reopen segment store for %s", v.Label()), err)
	}
	if err := store.Assemble(path); err != nil {
		return "", services.Wrap(services.ErrValidation, "pipeline", "assemble",
			fmt.Sprintf("assemble %s", v.Label()), err)
	}
	return path, nil
}

func trackExtension(kind catalog.Kind) string {
	switch kind {
	case catalog.KindSubtitle:
		return ".ass"
	default:
		return ".mp4"
	}
}

// mux merges all tracks into the final container, applying a negative sync
// delay equal to each track's measured lead so every track starts together.
func (p *Pipeline) mux(ctx context.Context, logger *slog.Logger, sess *session.Session, req Request, variants []catalog.Variant, offsets map[string]trackOffset) (string, error) {
	ctx = services.WithStage(ctx, "mux")

	cmd := mkvmerge.Command{
		OutputPath: filepath.Join(sess.TempDir(), "output.mkv"),
	}
	defaultAudioSet := false
	for _, v := range variants {
		path, err := p.assembleVariant(sess, v)
		if err != nil {
			return "", err
		}
		in := mkvmerge.Input{
			Path:     path,
			Language: v.MuxLanguage(),
			DelayMS:  -int(offsets[v.ID].offset / time.Millisecond),
		}
		switch v.Kind {
		case catalog.KindVideo:
			in.Default = true
		case catalog.KindAudio:
			in.Name = v.Label()
			if !defaultAudioSet {
				in.Default = true
				defaultAudioSet = true
			}
		case catalog.KindSubtitle:
			in.Name = v.Label()
		}
		cmd.Inputs = append(cmd.Inputs, in)
	}

	if err := p.muxer.Mux(ctx, cmd); err != nil {
		return "", err
	}
	if err := fileutil.MoveFile(cmd.OutputPath, req.OutputPath); err != nil {
		return "", services.Wrap(services.ErrConfiguration, "pipeline", "mux", "move output into place", err)
	}

	for _, v := range variants {
		_ = sess.Store().SetStatus(ctx, sess.ID, v.ID, session.StatusMuxed, "")
	}
	logger.Info("mux complete", slog.String("output", req.OutputPath))
	return req.OutputPath, nil
}
