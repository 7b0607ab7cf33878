// Package run supervises one job execution end to end.
//
// Overview
// The Supervisor owns the job's lifecycle state machine. It checks out
// the job record, resolves the command to execute, provisions a
// container image when one is configured, launches the child process and
// drains its output streams concurrently into the process-wide Sink.
//
// Data flow:
//
//	Supervisor              Resolver / Provisioner        child process
//	    |                         |                            |
//	checkout -> store fetch/restore                            |
//	    | Resolve() ------------->| argv + env overlay         |
//	    | Ensure() -------------->| build/pull/inspect image   |
//	    | start -------------------------------------------->  | spawned
//	    |                                    Attach(stdout) <--| drain goroutine
//	    |                                    Attach(stderr) <--| drain goroutine
//	    | wait <---------------------------------------------- | exits
//	    | classify: done / failed / aborted / stopped          |
//
// Invariants:
//   - Both drains are attached before the supervisor blocks on the wait.
//   - Every byte a stream carries before close reaches the Sink before
//     the drain finalizer returns; ordering across the two streams is
//     not guaranteed.
//   - Interruption is cooperative: the child is never force-killed. The
//     supervisor waits, drains, then classifies the run as stopped or
//     aborted. A second interrupt abandons the run immediately.
//   - The supervisor's caller exits with the child's exit code.
package run
