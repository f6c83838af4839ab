package mkvmerge

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"trackweave/internal/fileutil"
	"trackweave/internal/services"
)

// Input describes one source file to merge into the output container.
type Input struct {
	Path     string
	Language string // BCP 47 or ISO 639 tag passed through to mkvmerge
	Name     string // optional track name
	DelayMS  int    // sync delay applied to all tracks of this input
	Default  bool   // mark this input's tracks as default
}

// Command describes a complete mux invocation.
type Command struct {
	OutputPath string
	Title      string
	Inputs     []Input
}

// Muxer defines the behaviour the pipeline's mux stage requires.
type Muxer interface {
	Mux(ctx context.Context, cmd Command) error
}

// Executor abstracts command execution for testability. Run returns combined
// output and the process exit code.
type Executor interface {
	Run(ctx context.Context, binary string, args []string) (output []byte, exitCode int, err error)
}

// ToolError reports a failed mkvmerge invocation.
type ToolError struct {
	ExitCode int
	Output   string
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("mkvmerge exited with status %d: %s", e.ExitCode, e.Output)
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

// Client wraps mkvmerge invocations.
type Client struct {
	binary string
	exec   Executor
}

// New constructs an mkvmerge client.
func New(binary string, opts ...Option) (*Client, error) {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		return nil, errors.New("mkvmerge binary required")
	}
	client := &Client{binary: binary, exec: commandExecutor{}}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// Mux merges the command's inputs into OutputPath. mkvmerge's warning exit
// status (1) is treated as success; status 2 and above fail.
func (c *Client) Mux(ctx context.Context, cmd Command) error {
	args, err := BuildArgs(cmd)
	if err != nil {
		return services.Wrap(services.ErrValidation, "mkvmerge", "mux", "invalid mux command", err)
	}

	output, exitCode, runErr := c.exec.Run(ctx, c.binary, args)
	if runErr != nil && exitCode < 0 {
		return services.Wrap(services.ErrExternalTool, "mkvmerge", "mux", "run mkvmerge", runErr)
	}
	if exitCode > 1 {
		toolErr := &ToolError{ExitCode: exitCode, Output: strings.TrimSpace(string(output))}
		return services.Wrap(services.ErrExternalTool, "mkvmerge", "mux", "merge tracks", toolErr)
	}

	if err := fileutil.NonZeroFile(cmd.OutputPath); err != nil {
		return services.Wrap(services.ErrExternalTool, "mkvmerge", "mux", "verify output container", err)
	}
	return nil
}

// BuildArgs renders the mkvmerge argument list for a command.
func BuildArgs(cmd Command) ([]string, error) {
	if strings.TrimSpace(cmd.OutputPath) == "" {
		return nil, errors.New("output path required")
	}
	if len(cmd.Inputs) == 0 {
		return nil, errors.New("at least one input required")
	}

	args := []string{"--output", cmd.OutputPath}
	if cmd.Title != "" {
		args = append(args, "--title", cmd.Title)
	}
	for _, in := range cmd.Inputs {
		if strings.TrimSpace(in.Path) == "" {
			return nil, errors.New("input path required")
		}
		if in.Language != "" {
			args = append(args, "--language", "0:"+in.Language)
		}
		if in.Name != "" {
			args = append(args, "--track-name", "0:"+in.Name)
		}
		if in.DelayMS != 0 {
			args = append(args, "--sync", "0:"+strconv.Itoa(in.DelayMS))
		}
		if in.Default {
			args = append(args, "--default-track", "0:yes")
		} else {
			args = append(args, "--default-track", "0:no")
		}
		args = append(args, in.Path)
	}
	return args, nil
}

type commandExecutor struct{}

func (commandExecutor) Run(ctx context.Context, binary string, args []string) ([]byte, int, error) {
	cmd := exec.CommandContext(ctx, binary, args...) //nolint:gosec
	var combined bytes.Buffer
	cmd.Stdout = &combined
	cmd.Stderr = &combined
	err := cmd.Run()
	if err == nil {
		return combined.Bytes(), 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return combined.Bytes(), exitErr.ExitCode(), err
	}
	return combined.Bytes(), -1, err
}
