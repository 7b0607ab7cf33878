package aetros_test

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var aetrosPath string

func TestMain(m *testing.M) {
	if !flag.Parsed() {
		flag.Parse()
	}
	if testing.Short() {
		slog.Warn("integration tests with -short are ignored")
		os.Exit(0)
	}

	if !isExecutable("aetros-ci") {
		slog.Warn("cannot locate aetros-ci binary: run go build -race -o aetros-ci ./cmd/aetros/ first, skipping integration tests")
		os.Exit(0)
	}

	var err error
	aetrosPath, err = filepath.Abs("aetros-ci")
	if err != nil {
		slog.Error("can't get abspath for aetros-ci", "error", err)
		os.Exit(1)
	}

	os.Exit(m.Run())
}

func TestStart(t *testing.T) {
	storage := t.TempDir()
	projectDir := t.TempDir()

	const config = `
command: echo integration says hello
`
	configPath := filepath.Join(projectDir, ".aetros.yml")
	require.NoError(t, os.WriteFile(configPath, []byte(config), 0o644))

	ctx, cancel := context.WithTimeout(testContext(t), 60*time.Second)
	t.Cleanup(cancel)

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, aetrosPath, "start", "alice/mnist",
		"--storage", storage,
		"--config", configPath,
		"--fetch=false")
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	if err != nil {
		t.Logf("%s", stderr.String())
		require.NoError(t, err)
	}

	require.Contains(t, stdout.String(), "integration says hello")

	// the record ends with the child's exit code committed
	raw, err := os.ReadFile(filepath.Join(storage, "aetros", "job", "exit_code.json"))
	require.NoError(t, err)
	var code int
	require.NoError(t, json.Unmarshal(raw, &code))
	require.Equal(t, 0, code)
}

func TestStartPropagatesFailure(t *testing.T) {
	storage := t.TempDir()
	projectDir := t.TempDir()

	const config = `
command: exit 7
`
	configPath := filepath.Join(projectDir, ".aetros.yml")
	require.NoError(t, os.WriteFile(configPath, []byte(config), 0o644))

	ctx, cancel := context.WithTimeout(testContext(t), 60*time.Second)
	t.Cleanup(cancel)

	cmd := exec.CommandContext(ctx, aetrosPath, "start", "alice/mnist",
		"--storage", storage,
		"--config", configPath,
		"--fetch=false")
	err := cmd.Run()

	var exitErr *exec.ExitError
	require.ErrorAs(t, err, &exitErr)
	require.Equal(t, 7, exitErr.ExitCode())
}

func TestStartReportsInvalidJobID(t *testing.T) {
	ctx, cancel := context.WithTimeout(testContext(t), 60*time.Second)
	t.Cleanup(cancel)

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, aetrosPath, "start", "badid")
	cmd.Stderr = &stderr
	err := cmd.Run()

	var exitErr *exec.ExitError
	require.ErrorAs(t, err, &exitErr)
	require.Equal(t, 1, exitErr.ExitCode())
	// the failure names the invalid input instead of exiting silently
	require.Contains(t, stderr.String(), "invalid job id")
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode().Perm()&0111 != 0
}

// testContext mirrors t.Context from newer Go releases: it returns a context
// canceled when the test finishes.
func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}
