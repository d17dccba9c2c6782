package scheduler

import (
	"context"
	"time"

	"vidgend/internal/artifact"
	"vidgend/internal/capability"
)

// State is a job lifecycle state. Transitions are monotonic:
// Queued → Acquiring → Running → Encoding → {Succeeded | Failed | Cancelled};
// no state is revisited.
type State string

const (
	StateQueued    State = "queued"
	StateAcquiring State = "acquiring"
	StateRunning   State = "running"
	StateEncoding  State = "encoding"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// Terminal reports whether s is a final state.
func (s State) Terminal() bool {
	switch s {
	case StateSucceeded, StateFailed, StateCancelled:
		return true
	}
	return false
}

// rank orders states for the monotonicity guard.
func (s State) rank() int {
	switch s {
	case StateQueued:
		return 0
	case StateAcquiring:
		return 1
	case StateRunning:
		return 2
	case StateEncoding:
		return 3
	default:
		return 4
	}
}

// Job is one in-flight generation request. All mutable fields are guarded by
// the scheduler's mutex.
type Job struct {
	ID   string
	Spec capability.GenerationSpec

	state       State
	submittedAt time.Time
	startedAt   time.Time
	finishedAt  time.Time
	err         error
	seed        int64
	artifact    artifact.Ref

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// Done is closed when the job reaches a terminal state.
func (j *Job) Done() <-chan struct{} { return j.done }

// Snapshot is a read-only copy of a job's externally visible state.
type Snapshot struct {
	ID          string
	Task        capability.TaskID
	State       State
	SubmittedAt time.Time
	StartedAt   time.Time
	FinishedAt  time.Time
	Error       string
	// Cause is the typed failure, when any; Error is its string form.
	Cause    error
	Seed     int64
	Artifact artifact.Ref
}
