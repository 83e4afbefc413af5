package capture

import (
	"errors"
	"fmt"
)

const (
	CodeNoActiveTarget  = "NO_ACTIVE_TARGET"
	CodeProtectedTarget = "PROTECTED_TARGET"
	CodeAttachFailed    = "ATTACH_FAILED"
	CodeEnableFailed    = "ENABLE_FAILED"
	CodeExportFailed    = "EXPORT_FAILED"
	CodeValidation      = "VALIDATION"
	CodeCDPUnavailable  = "CDP_UNAVAILABLE"
)

// ErrNoTarget is returned by a Source when there is no tab to attach to.
var ErrNoTarget = errors.New("no active target")

// CodedError is a typed error used for stable API mapping.
type CodedError struct {
	Code    string
	Message string
	Cause   error
}

func (e *CodedError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
}

func (e *CodedError) Unwrap() error { return e.Cause }

func newError(code, msg string, cause error) error {
	return &CodedError{Code: code, Message: msg, Cause: cause}
}

// ErrorCode returns the code of a CodedError anywhere in err's chain, or "".
func ErrorCode(err error) string {
	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Code
	}
	return ""
}
