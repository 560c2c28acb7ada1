package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNoHeaders          = errors.New("backup header query returned no rows")
	ErrManualIntervention = errors.New("log backup too recent to apply, manual intervention might be required")
	ErrMaxProcessingTime  = errors.New("max processing time exceeded")
)

// BackendError carries the SQL Server error number of a failed statement.
type BackendError struct {
	Number int32
	Err    error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("sql error %d: %v", e.Number, e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// ErrorNumber returns the SQL Server error number wrapped in err, or 0.
func ErrorNumber(err error) int32 {
	var be *BackendError
	if errors.As(err, &be) {
		return be.Number
	}
	return 0
}

type HeaderVerificationError struct {
	Verdict Verdict
	File    string
	Msg     string
}

func (e *HeaderVerificationError) Error() string {
	return fmt.Sprintf("header verification failed for %s (%s): %s", e.File, e.Verdict, e.Msg)
}

func IsVerdict(err error, v Verdict) bool {
	var he *HeaderVerificationError
	return errors.As(err, &he) && he.Verdict == v
}
