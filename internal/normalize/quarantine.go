// Package normalize converts raw source records into canonical permits via
// declarative per-source alias tables.
package normalize

import (
	"errors"
	"fmt"
)

// QuarantineError marks a single record as rejected. It is counted, never
// fatal: the batch continues and the watermark still advances.
type QuarantineError struct {
	Source string
	Field  string
	Reason string
}

func (e *QuarantineError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("quarantine %s record: %s (field %s)", e.Source, e.Reason, e.Field)
	}
	return fmt.Sprintf("quarantine %s record: %s", e.Source, e.Reason)
}

// IsQuarantine reports whether the error chain contains a QuarantineError.
func IsQuarantine(err error) bool {
	var qe *QuarantineError
	return errors.As(err, &qe)
}
