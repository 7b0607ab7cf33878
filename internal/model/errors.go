package model

import (
	"errors"
	"fmt"
)

// ErrorKind tags the failure classes of a run.
type ErrorKind int

const (
	KindMissingCommand ErrorKind = iota
	KindImageBuildFailed
	KindImagePullFailed
	KindCommandLaunchFailed
	KindChildNonZeroExit
	KindExternalInterrupt
	KindStoreTransactionFailed
)

func (k ErrorKind) String() string {
	switch k {
	case KindMissingCommand:
		return "missing command"
	case KindImageBuildFailed:
		return "image build failed"
	case KindImagePullFailed:
		return "image pull failed"
	case KindCommandLaunchFailed:
		return "command launch failed"
	case KindChildNonZeroExit:
		return "child exited non-zero"
	case KindExternalInterrupt:
		return "external interrupt"
	case KindStoreTransactionFailed:
		return "store transaction failed"
	}
	return fmt.Sprintf("error kind(%d)", int(k))
}

// RunError is a tagged error variant carrying the failed command and its
// exit code, when those are known.
type RunError struct {
	Kind     ErrorKind
	Cmd      string
	ExitCode int
	Err      error
}

func (e *RunError) Error() string {
	msg := e.Kind.String()
	if e.Cmd != "" {
		msg += ": $ " + e.Cmd
	}
	if e.ExitCode != 0 {
		msg += fmt.Sprintf(" (exit code %d)", e.ExitCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *RunError) Unwrap() error {
	return e.Err
}

// IsKind reports whether err carries a RunError of the given kind
// anywhere in its chain.
func IsKind(err error, kind ErrorKind) bool {
	var re *RunError
	return errors.As(err, &re) && re.Kind == kind
}
