package contracts

import (
	"errors"
	"fmt"
)

// Stable error codes raised by the engine and its collaborators.
const (
	CodeInvalidRequest       = "INVALID_REQUEST"
	CodeInvalidConfig        = "INVALID_CONFIG"
	CodeInvalidPolicy        = "INVALID_POLICY"
	CodeDatabaseRequired     = "DATABASE_REQUIRED"
	CodeAgentNotFound        = "AGENT_NOT_FOUND"
	CodeVersionNotFound      = "VERSION_NOT_FOUND"
	CodeApprovalNotSupported = "APPROVAL_NOT_SUPPORTED"
	CodePolicyDenied         = "POLICY_DENIED"
	CodeToolExecutionError   = "TOOL_EXECUTION_ERROR"
)

// GovernanceError is the single structured error kind of the engine: a
// stable code, a failure category, and optional contextual fields.
type GovernanceError struct {
	Code     string          `json:"code"`
	Category FailureCategory `json:"category"`
	Message  string          `json:"message"`
	Context  map[string]any  `json:"context,omitempty"`
	wrapped  error
}

// NewGovernanceError constructs a GovernanceError with the given code,
// category and message.
func NewGovernanceError(code string, category FailureCategory, message string) *GovernanceError {
	return &GovernanceError{Code: code, Category: category, Message: message}
}

// WithContext attaches a contextual field and returns the error.
func (e *GovernanceError) WithContext(key string, value any) *GovernanceError {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// Wrap records an underlying cause and returns the error.
func (e *GovernanceError) Wrap(err error) *GovernanceError {
	e.wrapped = err
	return e
}

func (e *GovernanceError) Error() string {
	if e.wrapped != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.wrapped)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *GovernanceError) Unwrap() error { return e.wrapped }

// IsCode reports whether err carries a GovernanceError with the given code.
func IsCode(err error, code string) bool {
	var ge *GovernanceError
	return errors.As(err, &ge) && ge.Code == code
}
