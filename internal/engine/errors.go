package engine

// resourceExhaustedError signals accelerator memory exhaustion during
// inference. Not retried: the condition is systemic, not request-specific.
type resourceExhaustedError struct{ msg string }

func (e resourceExhaustedError) Error() string { return "resource exhausted: " + e.msg }

// ErrResourceExhausted constructs a resource-exhaustion error.
func ErrResourceExhausted(msg string) error { return resourceExhaustedError{msg: msg} }

// IsResourceExhausted reports whether err indicates accelerator memory exhaustion.
func IsResourceExhausted(err error) bool {
	_, ok := err.(resourceExhaustedError)
	return ok
}

// cancelledError signals that the runtime stopped at a checkpoint after a
// cooperative cancellation request.
type cancelledError struct{}

func (cancelledError) Error() string { return "generation cancelled" }

// ErrCancelled constructs a cancellation error.
func ErrCancelled() error { return cancelledError{} }

// IsCancelled reports whether err indicates a cooperative cancellation.
func IsCancelled(err error) bool {
	_, ok := err.(cancelledError)
	return ok
}

// internalModelError is any unexpected failure inside the inference runtime.
type internalModelError struct{ msg string }

func (e internalModelError) Error() string { return "model error: " + e.msg }

// ErrInternalModel constructs an internal model error.
func ErrInternalModel(msg string) error { return internalModelError{msg: msg} }

// IsInternalModel reports whether err is an unexpected runtime failure.
func IsInternalModel(err error) bool {
	_, ok := err.(internalModelError)
	return ok
}
