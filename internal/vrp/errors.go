package vrp

import "fmt"

// ParseError reports a malformed instance file: a required section is missing
// or a token that must be numeric is not.
type ParseError struct {
	Line int // 1-based; 0 when the problem is not tied to a line
	Msg  string
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("parse instance: line %d: %s", e.Line, e.Msg)
	}
	return "parse instance: " + e.Msg
}

// DimensionMismatchError reports an edge-weight section whose token count is
// not dimension².
type DimensionMismatchError struct {
	Dimension int
	Got       int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("edge weight section has %d values, want %d (dimension %d squared)",
		e.Got, e.Dimension*e.Dimension, e.Dimension)
}

// InvalidParameterError reports an instance or solver parameter outside its
// valid range.
type InvalidParameterError struct {
	Param string
	Value any
	Want  string
}

func (e *InvalidParameterError) Error() string {
	return fmt.Sprintf("invalid %s: %v (want %s)", e.Param, e.Value, e.Want)
}

func invalid(param string, value any, want string) error {
	return &InvalidParameterError{Param: param, Value: value, Want: want}
}
