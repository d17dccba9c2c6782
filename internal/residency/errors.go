package residency

// loadError reports that model weights failed to load: missing checkpoint,
// incompatible weights, or a runner that died during load. Fatal for the
// triggering job, never for the process.
type loadError struct {
	task string
	err  error
}

func (e loadError) Error() string {
	if e.err == nil {
		return "load " + e.task + " failed"
	}
	return "load " + e.task + " failed: " + e.err.Error()
}

func (e loadError) Unwrap() error { return e.err }

// ErrLoad constructs a load error for task.
func ErrLoad(task string, err error) error { return loadError{task: task, err: err} }

// IsLoad reports whether err indicates a weight-loading failure.
func IsLoad(err error) bool {
	_, ok := err.(loadError)
	return ok
}
