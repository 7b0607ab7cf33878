// Package image guarantees a pullable, inspectable container image exists
// before a containerized command runs, and records its provenance.
package image

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/maxpumperla/aetros-cli/internal/model"
)

// Inspection is one element of the runtime's `inspect` JSON output,
// reduced to the fields the job record keeps.
type Inspection struct {
	ID            string `json:"Id"`
	DockerVersion string `json:"DockerVersion"`
	Created       string `json:"Created"`
	Container     string `json:"Container"`
	Architecture  string `json:"Architecture"`
	Os            string `json:"Os"`
	Size          int64  `json:"Size"`
	RootFS        RootFS `json:"RootFS"`
}

// RootFS identifies the image's root filesystem.
type RootFS struct {
	Type   string   `json:"Type"`
	Layers []string `json:"Layers"`
}

// Engine is the container runtime boundary.
type Engine interface {
	// Build builds dockerfile in contextDir and tags the result. A
	// non-zero build surfaces the tool's exit code.
	Build(ctx context.Context, tag, dockerfile, contextDir string) error

	Pull(ctx context.Context, ref string) error

	Inspect(ctx context.Context, ref string) ([]Inspection, error)

	// Remove deletes a stale container by name. Removing a container
	// that does not exist is not an error.
	Remove(ctx context.Context, name string) error
}

// CLI shells out to the configured runtime binary (docker, podman).
// Build and pull output streams into Out so it lands in the job log.
type CLI struct {
	Bin string
	Out io.Writer
}

func (c CLI) Build(ctx context.Context, tag, dockerfile, contextDir string) error {
	args := []string{"build", "-t", tag, "-f", dockerfile, "."}
	slog.InfoContext(ctx, "preparing image", "cmd", c.render(args))

	cmd := exec.CommandContext(ctx, c.Bin, args...)
	cmd.Dir = contextDir
	cmd.Stdout = c.Out
	cmd.Stderr = c.Out
	if err := cmd.Run(); err != nil {
		return &model.RunError{
			Kind:     model.KindImageBuildFailed,
			Cmd:      c.render(args),
			ExitCode: exitCode(err),
			Err:      err,
		}
	}
	return nil
}

func (c CLI) Pull(ctx context.Context, ref string) error {
	args := []string{"pull", ref}
	slog.InfoContext(ctx, "pulling image", "cmd", c.render(args))

	cmd := exec.CommandContext(ctx, c.Bin, args...)
	cmd.Stdout = c.Out
	cmd.Stderr = c.Out
	if err := cmd.Run(); err != nil {
		return &model.RunError{
			Kind:     model.KindImagePullFailed,
			Cmd:      c.render(args),
			ExitCode: exitCode(err),
			Err:      err,
		}
	}
	return nil
}

func (c CLI) Inspect(ctx context.Context, ref string) ([]Inspection, error) {
	cmd := exec.CommandContext(ctx, c.Bin, "inspect", ref)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = c.Out
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("inspecting %s: %w", ref, err)
	}
	var inspections []Inspection
	if err := json.Unmarshal(stdout.Bytes(), &inspections); err != nil {
		return nil, fmt.Errorf("decoding inspect output for %s: %w", ref, err)
	}
	return inspections, nil
}

func (c CLI) Remove(ctx context.Context, name string) error {
	cmd := exec.CommandContext(ctx, c.Bin, "rm", name)
	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard
	if err := cmd.Run(); err != nil {
		slog.DebugContext(ctx, "no stale container to remove", "name", name, "error", err)
	}
	return nil
}

func (c CLI) render(args []string) string {
	return c.Bin + " " + strings.Join(args, " ")
}

// exitCode maps process termination to [0,255]; signal-terminated and
// unstarted commands count as failure code 1.
func exitCode(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if code := exitErr.ExitCode(); code > 0 {
			return code
		}
	}
	return 1
}
