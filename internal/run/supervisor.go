package run

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/maxpumperla/aetros-cli/internal/config"
	"github.com/maxpumperla/aetros-cli/internal/image"
	"github.com/maxpumperla/aetros-cli/internal/model"
	"github.com/maxpumperla/aetros-cli/internal/store"
)

// nestedStatusPath is the evidence that the launched child manages its
// own job lifecycle. Its presence at interrupt time means the outer
// supervisor must not overwrite the inner process's final state.
const nestedStatusPath = "aetros/job/status/progress.json"

const (
	configSnapshotPath = "aetros/job/config.yaml"
	jobLogPath         = "aetros/job/log.txt"
)

// Trainer drives the managed training loop. The training algorithm
// itself lives outside this package, only progress and completion
// signalling matter here.
type Trainer interface {
	Train(ctx context.Context, job *model.Job, progress func(done, total int)) error
}

// Supervisor runs one job: it owns the lifecycle state machine, resolves
// the command, provisions the image, launches the process and drains its
// output. The zero value is not usable, fill in Store and Sink at least.
//
// At most one supervisor writes to a given job record at a time; that
// exclusivity is the caller's concern.
type Supervisor struct {
	Store   store.Store
	Project config.Config
	Sink    *Sink

	// Interrupts delivers external cancellation signals. The first one
	// starts the cooperative wait-then-classify path, a second one
	// forces an immediate exit.
	Interrupts <-chan os.Signal

	// Engine overrides the container runtime, tests use this. Nil picks
	// the configured CLI binary.
	Engine image.Engine

	// Trainer backs managed runs. Direct command runs ignore it.
	Trainer Trainer

	// Fetch controls whether checkout fetches the job record from the
	// remote first.
	Fetch bool
}

// Run executes the job and returns the exit code the supervisor process
// should terminate with, so callers chaining supervisors observe the
// child's exit semantics.
func (s *Supervisor) Run(ctx context.Context, job *model.Job) (int, error) {
	// output produced before the run must not land in the job log
	s.Sink.Reset()

	if err := s.transition(ctx, job, model.StatusCheckout); err != nil {
		return 1, err
	}
	slog.InfoContext(ctx, "checkout", "job", job.FullID())
	if s.Fetch {
		if err := s.Store.Fetch(job.ID); err != nil {
			return s.fail(ctx, job, 1, err)
		}
	}
	if err := s.Store.Restore(job.ID); err != nil {
		return s.fail(ctx, job, 1, err)
	}
	if err := s.snapshotConfig(job); err != nil {
		return s.fail(ctx, job, 1, err)
	}

	spec, err := Resolver{Store: s.Store}.Resolve(job, s.Project)
	if err != nil {
		slog.ErrorContext(ctx, "cannot start job", "error", err)
		return s.fail(ctx, job, 1, err)
	}

	if err := s.recordResources(spec.Config); err != nil {
		return s.fail(ctx, job, 1, err)
	}

	if spec.Mode == ManagedTrainingRun {
		return s.runManaged(ctx, job, spec.Config)
	}

	if spec.Config.Image != "" {
		prov := &image.Provisioner{Store: s.Store, Engine: s.engine(spec.Config)}
		ref, err := prov.Ensure(ctx, job, spec.Config)
		if err != nil {
			code := 1
			var re *model.RunError
			if errors.As(err, &re) && re.ExitCode > 0 {
				code = re.ExitCode
			}
			return s.fail(ctx, job, code, err)
		}
		spec = Resolver{Store: s.Store}.Containerize(spec, job, ref)
	}

	return s.runDirect(ctx, job, spec)
}

func (s *Supervisor) runDirect(ctx context.Context, job *model.Job, spec Spec) (int, error) {
	if err := s.transition(ctx, job, model.StatusRunning); err != nil {
		return 1, err
	}
	rendered := strings.Join(spec.Argv, " ")
	slog.InfoContext(ctx, "running", "cmd", "$ "+rendered)

	cmd := exec.Command(spec.Argv[0], spec.Argv[1:]...)
	if job.WorkTree != "" {
		cmd.Dir = job.WorkTree
	}
	cmd.Env = overlayEnviron(spec.Env)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return s.fail(ctx, job, 1, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return s.fail(ctx, job, 1, err)
	}

	if err := cmd.Start(); err != nil {
		return s.fail(ctx, job, 1, &model.RunError{
			Kind: model.KindCommandLaunchFailed,
			Cmd:  rendered,
			Err:  err,
		})
	}

	// Both drains attach before anything blocks on the wait.
	tail := newTailWriter(2048)
	flushOut := Attach(stdout, s.Sink)
	flushErr := Attach(stderr, io.MultiWriter(s.Sink, tail))

	waitCh := make(chan int, 1)
	go func() {
		// the pipes must be fully read before Wait closes them
		var g errgroup.Group
		g.Go(flushOut)
		g.Go(flushErr)
		_ = g.Wait()
		waitCh <- childExitCode(cmd.Wait())
	}()

	var exit int
	interrupted := false
wait:
	for {
		select {
		case exit = <-waitCh:
			break wait
		case <-s.Interrupts:
			if interrupted {
				// second signal: abandon the run, nothing beyond what
				// is already committed
				slog.WarnContext(ctx, "second interrupt, exiting immediately")
				return 1, &model.RunError{Kind: model.KindExternalInterrupt, Cmd: rendered}
			}
			// We cannot know whether the signal reached only us or the
			// whole process group, so assume the child received it or
			// will exit on its own, and wait.
			interrupted = true
			slog.InfoContext(ctx, "interrupt received, waiting for the job to exit")
		}
	}

	s.persistLog(ctx, job)

	if interrupted {
		if s.Store.HasFile(nestedStatusPath) {
			// the child tracked its own lifecycle, record a neutral
			// marker instead of overwriting its final state
			if err := s.transition(ctx, job, model.StatusStopped); err != nil {
				return exit, err
			}
			slog.InfoContext(ctx, "job stopped", "job", job.FullID())
		} else {
			if err := s.transition(ctx, job, model.StatusAborted); err != nil {
				return exit, err
			}
			slog.WarnContext(ctx, "job aborted", "job", job.FullID())
		}
		return exit, nil
	}

	if err := s.Store.SetInfo("exit_code", exit); err != nil {
		return exit, &model.RunError{Kind: model.KindStoreTransactionFailed, Err: err}
	}

	if exit != 0 {
		if err := s.transition(ctx, job, model.StatusFailed); err != nil {
			return exit, err
		}
		slog.ErrorContext(ctx, "job failed",
			"exit_code", exit,
			"stderr_tail", tail.String())
		return exit, &model.RunError{
			Kind:     model.KindChildNonZeroExit,
			Cmd:      rendered,
			ExitCode: exit,
		}
	}

	if err := s.transition(ctx, job, model.StatusDone); err != nil {
		return exit, err
	}
	return 0, nil
}

// runManaged drives a registered Trainer instead of an external command.
func (s *Supervisor) runManaged(ctx context.Context, job *model.Job, cfg config.Config) (int, error) {
	if s.Trainer == nil {
		return s.fail(ctx, job, 1, errors.New("managed run requested but no trainer is registered"))
	}

	sc := s.Store.BeginScope("git version")
	if url, err := s.Store.RemoteURL("origin"); err == nil {
		sc.SetInfo("git_remote_url", url)
	}
	sc.SetInfo("git_version", job.ID)
	if err := sc.Commit(); err != nil {
		return s.fail(ctx, job, 1, &model.RunError{Kind: model.KindStoreTransactionFailed, Err: err})
	}

	if err := s.transition(ctx, job, model.StatusRunning); err != nil {
		return 1, err
	}

	progress := func(done, total int) {
		job.SetProgress(done, total)
		if err := s.Store.SetInfo("progress", model.Progress{Done: done, Total: total}); err != nil {
			slog.WarnContext(ctx, "recording progress failed", "error", err)
		}
	}
	progress(0, cfg.Epochs)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- s.Trainer.Train(ctx, job, progress)
	}()

	select {
	case err := <-done:
		if err != nil {
			if serr := s.Store.SetInfo("exit_code", 1); serr != nil {
				slog.WarnContext(ctx, "recording exit code failed", "error", serr)
			}
			return s.fail(ctx, job, 1, fmt.Errorf("training failed: %w", err))
		}
		if err := s.Store.SetInfo("exit_code", 0); err != nil {
			return 1, &model.RunError{Kind: model.KindStoreTransactionFailed, Err: err}
		}
		if err := s.transition(ctx, job, model.StatusDone); err != nil {
			return 1, err
		}
		return 0, nil
	case <-s.Interrupts:
		slog.WarnContext(ctx, "aborted")
		if err := s.transition(ctx, job, model.StatusAborted); err != nil {
			return 1, err
		}
		return 1, nil
	}
}

func (s *Supervisor) fail(ctx context.Context, job *model.Job, code int, err error) (int, error) {
	if terr := s.transition(ctx, job, model.StatusFailed); terr != nil {
		slog.ErrorContext(ctx, "marking job failed", "error", terr)
	}
	return code, err
}

// transition moves the job and mirrors the new status into the record.
// The mirror write is best effort: a failing store must not mask the
// run's actual outcome.
func (s *Supervisor) transition(ctx context.Context, job *model.Job, next model.Status) error {
	if err := job.Transition(next); err != nil {
		return err
	}
	if err := s.Store.SetInfo("status", next.String()); err != nil {
		slog.WarnContext(ctx, "recording status failed", "status", next.String(), "error", err)
	}
	return nil
}

func (s *Supervisor) engine(cfg config.Config) image.Engine {
	if s.Engine != nil {
		return s.Engine
	}
	return image.CLI{Bin: cfg.DockerBinary(), Out: s.Sink}
}

// snapshotConfig commits the job configuration into the record, so the
// record describes the run without the project file.
func (s *Supervisor) snapshotConfig(job *model.Job) error {
	if job.WorkTree == "" {
		return nil
	}
	raw, err := yaml.Marshal(job.Config)
	if err != nil {
		return fmt.Errorf("encoding job config: %w", err)
	}
	abs := filepath.Join(job.WorkTree, filepath.FromSlash(configSnapshotPath))
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(abs, raw, 0o644); err != nil {
		return err
	}
	return s.Store.CommitFile(configSnapshotPath)
}

// recordResources keeps requested resource quantities as metadata.
// Enforcing them against the container runtime is an extension point.
func (s *Supervisor) recordResources(cfg config.Config) error {
	if len(cfg.Resources) == 0 {
		return nil
	}
	sc := s.Store.BeginScope("resources")
	for name, quantity := range cfg.Resources {
		sc.SetInfo("resources/"+name, quantity)
	}
	if err := sc.Commit(); err != nil {
		return &model.RunError{Kind: model.KindStoreTransactionFailed, Err: err}
	}
	return nil
}

func (s *Supervisor) persistLog(ctx context.Context, job *model.Job) {
	if job.WorkTree == "" {
		return
	}
	abs := filepath.Join(job.WorkTree, filepath.FromSlash(jobLogPath))
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		slog.WarnContext(ctx, "persisting job log failed", "error", err)
		return
	}
	if err := os.WriteFile(abs, s.Sink.Bytes(), 0o644); err != nil {
		slog.WarnContext(ctx, "persisting job log failed", "error", err)
		return
	}
	if err := s.Store.CommitFile(jobLogPath); err != nil {
		slog.WarnContext(ctx, "committing job log failed", "error", err)
	}
}

// overlayEnviron merges the overlay on top of the current environment.
func overlayEnviron(overlay map[string]string) []string {
	env := os.Environ()
	for k, v := range overlay {
		env = append(env, k+"="+v)
	}
	return env
}

// childExitCode maps process termination to [0,255]. Signal-terminated
// children count as failure code 1.
func childExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if code := exitErr.ExitCode(); code > 0 {
			return code
		}
	}
	return 1
}
