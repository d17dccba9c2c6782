package capability

// taskNotFoundError reports an unrecognized task id.
type taskNotFoundError struct{ id string }

func (e taskNotFoundError) Error() string { return "unknown task: " + e.id }

// ErrTaskNotFound constructs a task-not-found error for id.
func ErrTaskNotFound(id string) error { return taskNotFoundError{id: id} }

// IsTaskNotFound reports whether err indicates an unknown task id.
func IsTaskNotFound(err error) bool {
	_, ok := err.(taskNotFoundError)
	return ok
}
