package run

import (
	"errors"

	"github.com/maxpumperla/aetros-cli/internal/config"
	"github.com/maxpumperla/aetros-cli/internal/model"
	"github.com/maxpumperla/aetros-cli/internal/store"
)

// Mode selects the run strategy, decided once at resolution time.
type Mode int

const (
	// DirectCommandRun launches the resolved argv as a child process.
	DirectCommandRun Mode = iota
	// ManagedTrainingRun drives a registered Trainer instead of an
	// external command.
	ManagedTrainingRun
)

// Spec is the resolved launch plan: final argv plus the environment
// overlay to apply. Derived, never persisted; recomputed each run.
type Spec struct {
	Argv []string
	Env  map[string]string
	Mode Mode

	// Config is the merged job-over-project configuration the rest of
	// the run works with.
	Config config.Config
}

// Resolver decides the literal argument vector to execute.
type Resolver struct {
	Store store.Store
}

// Resolve merges job and project configuration and produces the base
// launch plan. Job-level command overrides project-level; a scalar
// command is wrapped as a shell invocation, a sequence is used verbatim.
// Containerized wrapping happens later, once the image reference is
// known, see Containerize.
func (r Resolver) Resolve(job *model.Job, project config.Config) (Spec, error) {
	cfg := project.Merge(job.Config)

	spec := Spec{
		Env:    r.overlay(job),
		Config: cfg,
	}

	if job.Managed {
		spec.Mode = ManagedTrainingRun
		return spec, nil
	}

	// an empty sequence counts as missing, there is nothing to execute
	if len(cfg.Command.Lines()) == 0 {
		return Spec{}, &model.RunError{
			Kind: model.KindMissingCommand,
			Err:  errors.New(`no "command" specified in .aetros.yml, see the configuration section in the documentation`),
		}
	}

	if cfg.Command.IsList() {
		spec.Argv = append([]string(nil), cfg.Command.Items...)
	} else {
		spec.Argv = []string{"sh", "-c", cfg.Command.Value}
	}
	return spec, nil
}

// Containerize wraps the resolved argv for containerized execution: the
// work tree is bind-mounted at /exp and used as the working directory.
// Requested resources stay metadata only, no runtime flags are derived
// from them.
func (r Resolver) Containerize(spec Spec, job *model.Job, ref string) Spec {
	cfg := spec.Config
	argv := []string{cfg.DockerBinary(), "run", "--name", job.ID}
	argv = append(argv, cfg.DockerOptions...)
	argv = append(argv,
		"--mount", "type=bind,source="+job.WorkTree+",destination=/exp",
		"-w", "/exp",
	)
	argv = append(argv, ref)
	argv = append(argv, spec.Argv...)
	spec.Argv = argv
	return spec
}

// overlay is the environment handed to every child, enough for a nested
// supervisor inside the child to locate the same store.
func (r Resolver) overlay(job *model.Job) map[string]string {
	return map[string]string{
		"AETROS_CWD":        job.WorkTree,
		"AETROS_MODEL_NAME": job.ModelName(),
		"AETROS_JOB_ID":     job.ID,
		"AETROS_ATTY":       "1",
		"AETROS_GIT":        r.Store.BaseCommand(),
	}
}
