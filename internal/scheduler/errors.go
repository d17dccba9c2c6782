package scheduler

// overloadedError signals that the admission queue is full. Clients should
// retry with backoff; mapped to 503.
type overloadedError struct{}

func (overloadedError) Error() string { return "overloaded" }

// ErrOverloaded constructs a backpressure rejection.
func ErrOverloaded() error { return overloadedError{} }

// IsOverloaded reports whether err indicates admission backpressure.
func IsOverloaded(err error) bool {
	_, ok := err.(overloadedError)
	return ok
}

// jobNotFoundError reports an unknown or already-expired job id.
type jobNotFoundError struct{ id string }

func (e jobNotFoundError) Error() string { return "job not found: " + e.id }

// ErrJobNotFound constructs a job-not-found error.
func ErrJobNotFound(id string) error { return jobNotFoundError{id: id} }

// IsJobNotFound reports whether err indicates an unknown job id.
func IsJobNotFound(err error) bool {
	_, ok := err.(jobNotFoundError)
	return ok
}

// timeoutError reports that a job exceeded its deadline and was cancelled.
type timeoutError struct{ id string }

func (e timeoutError) Error() string { return "job timed out: " + e.id }

// ErrTimeout constructs a job timeout error.
func ErrTimeout(id string) error { return timeoutError{id: id} }

// IsTimeout reports whether err indicates a job deadline overrun.
func IsTimeout(err error) bool {
	_, ok := err.(timeoutError)
	return ok
}
