package annotated

import (
	"errors"
	"fmt"
)

// ErrorClass categorizes structural violations in the input stream.
// Each class maps to a stable exit signal so operators can tell failure
// modes apart from logs and exit codes alone.
type ErrorClass uint8

const (
	ClassUnknownHeader ErrorClass = iota
	ClassBlockShape
	ClassMissingColumns
	ClassBlankMeasurement
	ClassBlankTime
)

func (c ErrorClass) String() string {
	switch c {
	case ClassUnknownHeader:
		return "unknown_header"
	case ClassBlockShape:
		return "block_shape"
	case ClassMissingColumns:
		return "missing_columns"
	case ClassBlankMeasurement:
		return "blank_measurement"
	case ClassBlankTime:
		return "blank_time"
	default:
		return "unknown"
	}
}

// StructuralError reports a malformed or unexpected line in the record
// stream. It is always fatal to the batch. Line is 1-based.
type StructuralError struct {
	Class ErrorClass
	Line  int
	Raw   string
	Msg   string
}

func (e *StructuralError) Error() string {
	return fmt.Sprintf("annotated: %s at line %d: %s (line: %q)", e.Class, e.Line, e.Msg, e.Raw)
}

// AsStructural unwraps err into a *StructuralError if one is present.
func AsStructural(err error) (*StructuralError, bool) {
	var se *StructuralError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}
