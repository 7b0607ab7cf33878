package model

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/maxpumperla/aetros-cli/internal/config"
)

// Status is the lifecycle state of a job. Transitions are monotonic:
// once a terminal state is reached the record never changes again.
type Status int

const (
	StatusCreated Status = iota
	StatusCheckout
	StatusRunning
	StatusProgressing
	StatusDone
	StatusFailed
	StatusAborted
	StatusStopped
)

func (s Status) String() string {
	switch s {
	case StatusCreated:
		return "created"
	case StatusCheckout:
		return "checkout"
	case StatusRunning:
		return "running"
	case StatusProgressing:
		return "progressing"
	case StatusDone:
		return "done"
	case StatusFailed:
		return "failed"
	case StatusAborted:
		return "aborted"
	case StatusStopped:
		return "stopped"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Terminal reports whether s is one of the mutually exclusive end states.
func (s Status) Terminal() bool {
	switch s {
	case StatusDone, StatusFailed, StatusAborted, StatusStopped:
		return true
	}
	return false
}

// Progress is a numerator/denominator pair, e.g. completed/total epochs.
type Progress struct {
	Done  int `json:"done"`
	Total int `json:"total"`
}

// Job is one execution attempt of a configured workload. The record is
// created once per run invocation; status and progress mutate during the
// run and freeze once a terminal state is reached.
type Job struct {
	Owner    string
	Project  string
	ID       string
	Config   config.Config
	WorkTree string

	// Managed selects the built-in training loop instead of an external
	// command. Decided once before the run starts.
	Managed bool

	status   Status
	progress Progress
}

// NewJob creates a job in the created state. An empty id is replaced with
// a generated one.
func NewJob(owner, project, id string, cfg config.Config) *Job {
	if id == "" {
		id = uuid.NewString()
	}
	return &Job{
		Owner:   owner,
		Project: project,
		ID:      id,
		Config:  cfg,
		status:  StatusCreated,
	}
}

// ModelName is the owner/project pair, used as the image build tag.
func (j *Job) ModelName() string {
	return j.Owner + "/" + j.Project
}

// FullID is the owner/project/id triple.
func (j *Job) FullID() string {
	return j.ModelName() + "/" + j.ID
}

// Status returns the current lifecycle state.
func (j *Job) Status() Status {
	return j.status
}

// Transition moves the job to next. It fails when the current state is
// terminal, or when next is not reachable from the current state.
func (j *Job) Transition(next Status) error {
	if j.status.Terminal() {
		return fmt.Errorf("job %s is %s: no transition to %s", j.ID, j.status, next)
	}
	if !reachable(j.status, next) {
		return fmt.Errorf("job %s cannot go from %s to %s", j.ID, j.status, next)
	}
	j.status = next
	return nil
}

func reachable(from, to Status) bool {
	switch from {
	case StatusCreated:
		return to == StatusCheckout || to.Terminal()
	case StatusCheckout:
		return to == StatusRunning || to.Terminal()
	case StatusRunning:
		return to == StatusProgressing || to.Terminal()
	case StatusProgressing:
		// progressing is a sub-state of running, reachable repeatedly
		return to == StatusRunning || to == StatusProgressing || to.Terminal()
	}
	return false
}

// SetProgress records numerator/denominator progress and enters the
// progressing sub-state. A no-op once the job is terminal.
func (j *Job) SetProgress(done, total int) {
	if j.status.Terminal() {
		return
	}
	j.progress = Progress{Done: done, Total: total}
	j.status = StatusProgressing
}

// Progress returns the last recorded progress.
func (j *Job) Progress() Progress {
	return j.progress
}

// ParseFullID splits owner/project or owner/project/id. When the id part
// is omitted a new one is generated.
func ParseFullID(s string) (owner, project, id string, err error) {
	parts := strings.Split(strings.Trim(s, "/"), "/")
	switch len(parts) {
	case 2:
		owner, project = parts[0], parts[1]
		id = uuid.NewString()
	case 3:
		owner, project, id = parts[0], parts[1], parts[2]
	default:
		return "", "", "", fmt.Errorf("invalid job id %q, expected owner/project or owner/project/id", s)
	}
	if owner == "" || project == "" {
		return "", "", "", fmt.Errorf("invalid job id %q, owner and project must be non-empty", s)
	}
	return owner, project, id, nil
}
