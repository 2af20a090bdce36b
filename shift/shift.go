// Package shift parses compact time offsets such as "30s", "5m" or "2w".
//
// Only a single non-negative integer followed by one unit letter is
// accepted. Compound forms like "1d2h" are rejected.
package shift

import (
	"errors"
	"strconv"
	"time"
)

// ErrInvalidShift is matched by every error returned from Parse.
var ErrInvalidShift = errors.New("invalid shift")

// InvalidShiftError describes why an expression could not be parsed.
type InvalidShiftError struct {
	Expr   string
	Reason string
}

func (e *InvalidShiftError) Error() string {
	return "invalid shift " + strconv.Quote(e.Expr) + ": " + e.Reason
}

func (e *InvalidShiftError) Is(target error) bool {
	return target == ErrInvalidShift
}

var units = map[byte]time.Duration{
	's': time.Second,
	'm': time.Minute,
	'h': time.Hour,
	'd': 24 * time.Hour,
	'w': 7 * 24 * time.Hour,
}

// Parse converts "<integer><unit>" into a duration. Supported units are
// s, m, h, d and w.
func Parse(expr string) (time.Duration, error) {
	if expr == "" {
		return 0, &InvalidShiftError{expr, "empty expression"}
	}

	unit, ok := units[expr[len(expr)-1]]
	if !ok {
		return 0, &InvalidShiftError{expr, "missing unit, expected one of s, m, h, d, w"}
	}

	digits := expr[:len(expr)-1]
	if digits == "" {
		return 0, &InvalidShiftError{expr, "missing number"}
	}

	// ParseUint would accept a leading '+', we want digits only
	for i := 0; i < len(digits); i++ {
		if digits[i] < '0' || digits[i] > '9' {
			return 0, &InvalidShiftError{expr, "number must be a non-negative integer"}
		}
	}

	n, err := strconv.ParseInt(digits, 10, 64)
	if err != nil || n > int64(maxDuration/unit) {
		return 0, &InvalidShiftError{expr, "number out of range"}
	}

	return time.Duration(n) * unit, nil
}

const maxDuration = time.Duration(1<<63 - 1)

// Value binds a shift expression to a command line flag.
type Value struct {
	Expr     string
	Duration time.Duration
}

func (v *Value) String() string {
	if v == nil || v.Expr == "" {
		return "0s"
	}
	return v.Expr
}

func (v *Value) Set(expr string) error {
	d, err := Parse(expr)
	if err != nil {
		return err
	}

	v.Expr = expr
	v.Duration = d

	return nil
}
