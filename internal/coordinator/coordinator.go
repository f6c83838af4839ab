package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"trackweave/internal/catalog"
	"trackweave/internal/fetch"
	"trackweave/internal/logging"
	"trackweave/internal/segstore"
)

// Fetcher is the slice of the fetch package the coordinator depends on.
type Fetcher interface {
	Fetch(ctx context.Context, segment catalog.SegmentRef, key catalog.DecryptionKey) ([]byte, error)
}

// VariantJob pairs a variant with its key material and destination store.
type VariantJob struct {
	Variant catalog.Variant
	Key     catalog.DecryptionKey
	Store   *segstore.Store
}

// Config tunes the coordinator.
type Config struct {
	// Workers bounds concurrent fetches. Zero derives from GOMAXPROCS.
	Workers int
	// SegmentRetries is how many times a retryable segment failure may be
	// requeued before the owning variant is declared dead.
	SegmentRetries int
	// RetryDelay spaces coordinator-level requeues.
	RetryDelay time.Duration
	// OnVariantReady fires (on its own goroutine) as soon as a variant's
	// store reports complete, so downstream work can start immediately.
	OnVariantReady func(VariantJob)
	// OnProgress fires after every stored segment.
	OnProgress func(variantID string, written, total int)
}

func (c Config) normalized() Config {
	if c.Workers <= 0 {
		c.Workers = runtime.GOMAXPROCS(0)
	}
	if c.SegmentRetries < 0 {
		c.SegmentRetries = 0
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = time.Second
	}
	return c
}

// Coordinator drives a set of variant downloads to completion.
type Coordinator struct {
	fetcher Fetcher
	cfg     Config
	logger  *slog.Logger
}

// New constructs a coordinator.
func New(fetcher Fetcher, cfg Config, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Coordinator{
		fetcher: fetcher,
		cfg:     cfg.normalized(),
		logger:  logging.WithComponent(logger, "coordinator"),
	}
}

type task struct {
	job      *VariantJob
	segment  catalog.SegmentRef
	requeues int
}

type runState struct {
	mu        sync.Mutex
	remaining map[string]int
	failed    map[string]error
}

func (s *runState) failVariant(id string, err error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, done := s.failed[id]; done {
		return false
	}
	if s.remaining[id] == 0 {
		return false // already complete
	}
	s.failed[id] = err
	return true
}

func (s *runState) variantFailed(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, failed := s.failed[id]
	return failed
}

// segmentStored marks one segment finished and reports whether the variant
// just completed.
func (s *runState) segmentStored(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, failed := s.failed[id]; failed {
		return false
	}
	s.remaining[id]--
	return s.remaining[id] == 0
}

// Run downloads every missing segment of every job. The returned map holds
// one entry per variant: nil for complete, the fatal error otherwise.
// Cancellation aborts promptly and leaves already-written segments on disk.
func (c *Coordinator) Run(ctx context.Context, jobs []VariantJob) (map[string]error, error) {
	if len(jobs) == 0 {
		return nil, errors.New("coordinator: no variants requested")
	}

	state := &runState{
		remaining: make(map[string]int, len(jobs)),
		failed:    make(map[string]error),
	}

	var tasks []task
	for i := range jobs {
		job := &jobs[i]
		id := job.Variant.ID
		missing := job.Store.Missing()
		state.remaining[id] = len(missing)
		if len(missing) == 0 {
			c.logger.Info("variant already complete",
				slog.String("variant", job.Variant.Label()))
			c.notifyReady(*job)
			continue
		}
		for _, index := range missing {
			tasks = append(tasks, task{job: job, segment: job.Variant.Segments[index]})
		}
	}

	if len(tasks) == 0 {
		return c.results(ctx, state, jobs), nil
	}

	// Buffered to the task count so requeue sends can never block: a task is
	// either queued, in flight, or waiting on a retry timer, never two at
	// once.
	queue := make(chan task, len(tasks))
	var taskWG sync.WaitGroup
	taskWG.Add(len(tasks))
	for _, t := range tasks {
		queue <- t
	}

	var workerWG sync.WaitGroup
	for w := 0; w < c.cfg.Workers; w++ {
		workerWG.Add(1)
		go func() {
			defer workerWG.Done()
			c.worker(ctx, queue, state, &taskWG)
		}()
	}

	// Close the queue once every task has been finalized. If the context is
	// cancelled first, the drain below finalizes whatever the workers left
	// behind so this goroutine always terminates.
	go func() {
		taskWG.Wait()
		close(queue)
	}()

	workerWG.Wait()
	if ctx.Err() != nil {
		go func() {
			for range queue {
				taskWG.Done()
			}
		}()
	}

	return c.results(ctx, state, jobs), ctx.Err()
}

func (c *Coordinator) worker(ctx context.Context, queue chan task, state *runState, taskWG *sync.WaitGroup) {
	for {
		select {
		case <-ctx.Done():
			return
		case t, ok := <-queue:
			if !ok {
				return
			}
			c.process(ctx, t, queue, state, taskWG)
		}
	}
}

func (c *Coordinator) process(ctx context.Context, t task, queue chan task, state *runState, taskWG *sync.WaitGroup) {
	id := t.job.Variant.ID
	if state.variantFailed(id) {
		taskWG.Done()
		return
	}

	data, err := c.fetcher.Fetch(ctx, t.segment, t.job.Key)
	if err != nil {
		c.handleFetchFailure(ctx, t, err, queue, state, taskWG)
		return
	}

	if err := t.job.Store.Write(t.segment.Index, data); err != nil {
		// Store contract violations are not network weather; the track is
		// unrecoverable.
		c.failVariant(state, t.job, fmt.Errorf("store segment %d: %w", t.segment.Index, err))
		taskWG.Done()
		return
	}

	if c.cfg.OnProgress != nil {
		c.cfg.OnProgress(id, t.job.Store.Written(), t.job.Store.Count())
	}
	if state.segmentStored(id) {
		c.logger.Info("variant complete", slog.String("variant", t.job.Variant.Label()))
		c.notifyReady(*t.job)
	}
	taskWG.Done()
}

func (c *Coordinator) handleFetchFailure(ctx context.Context, t task, err error, queue chan task, state *runState, taskWG *sync.WaitGroup) {
	var fetchErr *fetch.Error
	permanent := errors.As(err, &fetchErr) && fetchErr.Permanent

	if ctx.Err() != nil {
		taskWG.Done()
		return
	}
	if permanent {
		c.failVariant(state, t.job, err)
		taskWG.Done()
		return
	}
	if t.requeues >= c.cfg.SegmentRetries {
		c.failVariant(state, t.job, fmt.Errorf("segment %d: retry budget exhausted: %w", t.segment.Index, err))
		taskWG.Done()
		return
	}

	t.requeues++
	c.logger.Warn("requeueing segment",
		slog.String("variant", t.job.Variant.Label()),
		slog.Int("index", t.segment.Index),
		slog.Int("requeue", t.requeues),
		logging.Error(err))
	requeued := t
	time.AfterFunc(c.cfg.RetryDelay, func() {
		if ctx.Err() != nil || state.variantFailed(requeued.job.Variant.ID) {
			taskWG.Done()
			return
		}
		queue <- requeued
	})
}

func (c *Coordinator) failVariant(state *runState, job *VariantJob, err error) {
	if state.failVariant(job.Variant.ID, err) {
		c.logger.Error("variant failed",
			slog.String("variant", job.Variant.Label()),
			logging.Error(err))
	}
}

func (c *Coordinator) notifyReady(job VariantJob) {
	if c.cfg.OnVariantReady != nil {
		go c.cfg.OnVariantReady(job)
	}
}

func (c *Coordinator) results(ctx context.Context, state *runState, jobs []VariantJob) map[string]error {
	state.mu.Lock()
	defer state.mu.Unlock()
	out := make(map[string]error, len(jobs))
	for i := range jobs {
		id := jobs[i].Variant.ID
		switch {
		case state.failed[id] != nil:
			out[id] = state.failed[id]
		case state.remaining[id] == 0:
			out[id] = nil
		case ctx.Err() != nil:
			out[id] = ctx.Err()
		default:
			out[id] = errors.New("variant incomplete")
		}
	}
	return out
}
