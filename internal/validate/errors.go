package validate

import "fmt"

// Kind identifies which validation check failed. The kind string is part of
// the client-facing error message.
type Kind string

const (
	KindUnknownTask       Kind = "UnknownTask"
	KindInvalidPrompt     Kind = "InvalidPrompt"
	KindMissingImage      Kind = "MissingImage"
	KindUnexpectedImage   Kind = "UnexpectedImage"
	KindUnsupportedSize   Kind = "UnsupportedSize"
	KindInvalidFrameCount Kind = "InvalidFrameCount"
	KindInvalidParameter  Kind = "InvalidParameter"
)

// validationError is a client-caused rejection. Never retried, mapped to 400.
type validationError struct {
	kind Kind
	msg  string
}

func (e validationError) Error() string { return string(e.kind) + ": " + e.msg }

func errf(kind Kind, format string, args ...any) error {
	return validationError{kind: kind, msg: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is a validation failure.
func IsValidation(err error) bool {
	_, ok := err.(validationError)
	return ok
}

// KindOf returns the failure kind when err is a validation failure.
func KindOf(err error) (Kind, bool) {
	ve, ok := err.(validationError)
	if !ok {
		return "", false
	}
	return ve.kind, true
}
