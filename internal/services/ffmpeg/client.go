package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"trackweave/internal/services"
)

// Decoder defines the behaviour the alignment stage requires.
type Decoder interface {
	Decode(ctx context.Context, inputPath string, sampleRate int) ([]int16, error)
}

// Executor abstracts command execution for testability. Run returns the
// command's stdout; stderr is folded into the error on failure.
type Executor interface {
	Run(ctx context.Context, binary string, args []string) ([]byte, error)
}

// Option configures the client.
type Option func(*Client)

// WithExecutor injects a custom executor (primarily for tests).
func WithExecutor(exec Executor) Option {
	return func(c *Client) {
		if exec != nil {
			c.exec = exec
		}
	}
}

// Client wraps ffmpeg decode invocations.
type Client struct {
	binary string
	exec   Executor
}

// New constructs an ffmpeg client.
func New(binary string, opts ...Option) (*Client, error) {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		return nil, errors.New("ffmpeg binary required")
	}
	client := &Client{binary: binary, exec: commandExecutor{}}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// Decode renders the first audio stream of inputPath as mono signed 16-bit
// PCM at the requested sample rate.
func (c *Client) Decode(ctx context.Context, inputPath string, sampleRate int) ([]int16, error) {
	if strings.TrimSpace(inputPath) == "" {
		return nil, errors.New("input path required")
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate %d", sampleRate)
	}

	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-i", inputPath,
		"-map", "0:a:0",
		"-f", "s16le",
		"-ac", "1",
		"-ar", strconv.Itoa(sampleRate),
		"-",
	}
	raw, err := c.exec.Run(ctx, c.binary, args)
	if err != nil {
		return nil, services.Wrap(services.ErrExternalTool, "ffmpeg", "decode", "decode audio stream", err)
	}
	if len(raw) == 0 {
		return nil, services.Wrap(services.ErrExternalTool, "ffmpeg", "decode", "decoder produced no samples", nil)
	}
	return decodePCM(raw), nil
}

// decodePCM reads little-endian s16le bytes; a trailing odd byte is dropped.
func decodePCM(raw []byte) []int16 {
	samples := make([]int16, len(raw)/2)
	for i := range samples {
		samples[i] = int16(uint16(raw[2*i]) | uint16(raw[2*i+1])<<8)
	}
	return samples
}

type commandExecutor struct{}

func (commandExecutor) Run(ctx context.Context, binary string, args []string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, binary, args...) //nolint:gosec
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail != "" {
			return nil, fmt.Errorf("%w: %s", err, detail)
		}
		return nil, err
	}
	return stdout.Bytes(), nil
}
