package image

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/maxpumperla/aetros-cli/internal/config"
	"github.com/maxpumperla/aetros-cli/internal/model"
	"github.com/maxpumperla/aetros-cli/internal/store"
)

// provenanceComment marks synthesized build files as machine-generated.
const provenanceComment = `# CREATED BY AETROS because of "install" or "dockerfile" config in .aetros.yml.`

// Provisioner resolves the image a containerized run executes in: it
// synthesizes and builds a Dockerfile when configuration asks for one,
// pulls the resulting reference, and records provenance metadata in the
// job record.
type Provisioner struct {
	Store  store.Store
	Engine Engine
}

// Ensure returns the image reference to run. Build and pull failures
// abort the run before any command executes.
func (p *Provisioner) Ensure(ctx context.Context, job *model.Job, cfg config.Config) (string, error) {
	ref := cfg.Image
	if err := p.Store.SetInfo("image/name", ref); err != nil {
		return "", fmt.Errorf("recording image name: %w", err)
	}

	// No dockerfile and no install steps: use the image directly,
	// still subject to pull, inspect and metadata recording.
	if !cfg.Dockerfile.IsZero() || !cfg.Install.IsZero() {
		dockerfile, err := p.locateOrSynthesize(job, cfg)
		if err != nil {
			return "", err
		}
		if err := p.Engine.Build(ctx, job.ModelName(), dockerfile, job.WorkTree); err != nil {
			return "", err
		}
		ref = job.ModelName()
	}

	if err := p.Engine.Pull(ctx, ref); err != nil {
		return "", err
	}

	if err := p.recordMetadata(ctx, ref); err != nil {
		return "", err
	}

	// stale container from an earlier run with the same id
	if err := p.Engine.Remove(ctx, job.ID); err != nil {
		return "", err
	}
	return ref, nil
}

// locateOrSynthesize returns the dockerfile path to build, relative to
// the work tree. A scalar dockerfile naming an existing file is used
// directly; anything else is synthesized, written to the work tree and
// committed into the store.
func (p *Provisioner) locateOrSynthesize(job *model.Job, cfg config.Config) (string, error) {
	if !cfg.Dockerfile.IsList() && cfg.Dockerfile.Value != "" {
		candidate := filepath.Join(job.WorkTree, cfg.Dockerfile.Value)
		if info, err := os.Stat(candidate); err == nil && info.Mode().IsRegular() {
			return cfg.Dockerfile.Value, nil
		}
	}

	content := Synthesize(cfg.Image, cfg.Dockerfile, cfg.Install)
	path := filepath.Join(job.WorkTree, "Dockerfile")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("writing synthesized Dockerfile: %w", err)
	}
	if err := p.Store.CommitFile("Dockerfile"); err != nil {
		return "", fmt.Errorf("committing synthesized Dockerfile: %w", err)
	}
	return "Dockerfile", nil
}

// Synthesize produces build file content from the configured dockerfile
// or install steps. The first non-comment line is always a FROM line.
func Synthesize(image string, dockerfile, install config.StringOrList) string {
	var body string
	switch {
	case !dockerfile.IsList() && dockerfile.Value != "":
		// literal dockerfile text, used as-is
		body = dockerfile.Value
	case dockerfile.IsList() && len(dockerfile.Items) > 0:
		lines := dockerfile.Items
		if !strings.HasPrefix(lines[0], "FROM ") {
			lines = append([]string{"FROM " + image}, lines...)
		}
		body = strings.Join(lines, "\n")
	default:
		steps := install.Lines()
		lines := make([]string, 0, len(steps)+1)
		lines = append(lines, "FROM "+image)
		for _, step := range steps {
			lines = append(lines, "RUN "+step)
		}
		body = strings.Join(lines, "\n")
	}
	return provenanceComment + "\n" + body + "\n"
}

// recordMetadata persists the image/* provenance fields in one scope, so
// a reader of the job record never observes a partial set.
func (p *Provisioner) recordMetadata(ctx context.Context, ref string) error {
	inspections, err := p.Engine.Inspect(ctx, ref)
	if err != nil {
		return fmt.Errorf("inspecting image %s: %w", ref, err)
	}
	if len(inspections) == 0 {
		slog.WarnContext(ctx, "image inspect returned nothing", "ref", ref)
		return nil
	}
	in := inspections[0]

	sc := p.Store.BeginScope("docker image")
	sc.SetInfo("image/id", in.ID)
	sc.SetInfo("image/docker_version", in.DockerVersion)
	sc.SetInfo("image/created", in.Created)
	sc.SetInfo("image/container", in.Container)
	sc.SetInfo("image/architecture", in.Architecture)
	sc.SetInfo("image/os", in.Os)
	sc.SetInfo("image/size", in.Size)
	sc.SetInfo("image/rootfs", in.RootFS)
	if err := sc.Commit(); err != nil {
		return &model.RunError{Kind: model.KindStoreTransactionFailed, Err: err}
	}
	return nil
}
