package sandbox

import "fmt"

// ErrorType classifies the terminal state of an execution. The set is
// exhaustive; callers switch on it to decide retry and reporting behavior.
type ErrorType string

const (
	ErrorValidationRejected ErrorType = "VALIDATION_REJECTED"
	ErrorTimeout            ErrorType = "TIMEOUT"
	ErrorPolicyKilled       ErrorType = "RUNTIME_POLICY_KILLED"
	ErrorNonzeroExit        ErrorType = "NONZERO_EXIT"
	ErrorMissingResult      ErrorType = "MISSING_RESULT"
	ErrorMalformedResult    ErrorType = "MALFORMED_RESULT"
	ErrorInfrastructure     ErrorType = "INFRASTRUCTURE_ERROR"
	ErrorSuccess            ErrorType = "SUCCESS"
)

// InfraError marks a failure of the isolation runtime itself: daemon
// unreachable, image missing, cannot allocate. It requires operator
// attention and is never folded into a candidate-code result.
type InfraError struct {
	Op  string
	Err error
}

func (e *InfraError) Error() string {
	return fmt.Sprintf("infrastructure failure during %s: %v", e.Op, e.Err)
}

func (e *InfraError) Unwrap() error {
	return e.Err
}

func infraErr(op string, err error) *InfraError {
	return &InfraError{Op: op, Err: err}
}
