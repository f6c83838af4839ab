package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"trackweave/internal/catalog"
	"trackweave/internal/logging"
	"trackweave/internal/ratelimit"
)

// Error is the terminal outcome of a fetch after the policy's retry budget
// is spent (or immediately, for permanent failures).
type Error struct {
	Index     int
	URL       string
	Permanent bool
	Cause     error
}

func (e *Error) Error() string {
	kind := "retryable"
	if e.Permanent {
		kind = "permanent"
	}
	return fmt.Sprintf("fetch segment %d (%s): %v", e.Index, kind, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

const copyChunkSize = 32 * 1024

// Fetcher downloads one segment at a time, sharing its HTTP client and
// bandwidth bucket with every other fetcher in the session.
type Fetcher struct {
	client *http.Client
	bucket *ratelimit.Bucket
	policy Policy
	logger *slog.Logger
}

// New constructs a fetcher. client may be nil to use a default with sane
// timeouts; bucket may be nil for unthrottled transfers.
func New(client *http.Client, bucket *ratelimit.Bucket, policy Policy, logger *slog.Logger) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Fetcher{
		client: client,
		bucket: bucket,
		policy: policy.normalized(),
		logger: logging.WithComponent(logger, "fetcher"),
	}
}

// Fetch downloads segment, throttled by the shared bucket, and decrypts it
// with key when key material is present. Transient failures retry with
// exponential backoff up to the policy bound; the returned *Error reports
// whether the coordinator may requeue the segment.
func (f *Fetcher) Fetch(ctx context.Context, segment catalog.SegmentRef, key catalog.DecryptionKey) ([]byte, error) {
	var lastErr error
	for attempt := 1; attempt <= f.policy.MaxAttempts; attempt++ {
		if attempt > 1 {
			delay := f.policy.Delay(attempt - 1)
			f.logger.Debug("retrying segment",
				slog.Int("index", segment.Index),
				slog.Int("attempt", attempt),
				slog.Duration("backoff", delay))
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, &Error{Index: segment.Index, URL: segment.URL, Cause: ctx.Err()}
			case <-timer.C:
			}
		}

		data, err := f.fetchOnce(ctx, segment)
		if err == nil {
			if len(key) == 0 {
				return data, nil
			}
			plain, decErr := decryptSegment(data, key, segment)
			if decErr != nil {
				// Key material does not improve with retries.
				return nil, &Error{Index: segment.Index, URL: segment.URL, Permanent: true, Cause: decErr}
			}
			return plain, nil
		}

		var permanent *permanentError
		if errors.As(err, &permanent) {
			return nil, &Error{Index: segment.Index, URL: segment.URL, Permanent: true, Cause: permanent.cause}
		}
		if ctx.Err() != nil {
			return nil, &Error{Index: segment.Index, URL: segment.URL, Cause: ctx.Err()}
		}
		lastErr = err
	}
	return nil, &Error{Index: segment.Index, URL: segment.URL, Cause: fmt.Errorf("retries exhausted: %w", lastErr)}
}

type permanentError struct{ cause error }

func (e *permanentError) Error() string { return e.cause.Error() }

func (f *Fetcher) fetchOnce(ctx context.Context, segment catalog.SegmentRef) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, segment.URL, nil)
	if err != nil {
		return nil, &permanentError{cause: fmt.Errorf("build request: %w", err)}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		if !isTransportTransient(err) && ctx.Err() == nil {
			return nil, &permanentError{cause: err}
		}
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
	case resp.StatusCode == http.StatusRequestTimeout,
		resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode >= 500:
		return nil, fmt.Errorf("status %s", resp.Status)
	default:
		return nil, &permanentError{cause: fmt.Errorf("status %s", resp.Status)}
	}

	return f.readThrottled(ctx, resp.Body, segment.ByteLength)
}

// readThrottled drains the body in chunks, drawing each chunk's budget from
// the shared bucket before consuming it. Slow budget means the read
// suspends; bytes are never dropped.
func (f *Fetcher) readThrottled(ctx context.Context, body io.Reader, sizeHint int64) ([]byte, error) {
	capacity := copyChunkSize
	if sizeHint > 0 {
		capacity = int(sizeHint)
	}
	out := make([]byte, 0, capacity)
	chunk := make([]byte, copyChunkSize)
	for {
		n, err := body.Read(chunk)
		if n > 0 {
			if takeErr := f.bucket.Take(ctx, n); takeErr != nil {
				return nil, takeErr
			}
			out = append(out, chunk[:n]...)
		}
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read body: %w", err)
		}
	}
}

func isTransportTransient(err error) bool {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if urlErr.Timeout() || urlErr.Temporary() {
			return true
		}
		err = urlErr.Err
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	// Connection resets and EOFs mid-transfer are worth another attempt.
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
