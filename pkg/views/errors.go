package views

import (
	"errors"
	"fmt"
)

// ErrInvalidLimit is returned by Top-N when the limit is not positive.
var ErrInvalidLimit = errors.New("top-n limit must be positive")

// Kind classifies a view failure.
type Kind string

const (
	KindConfig       Kind = "config"
	KindConnectivity Kind = "connectivity"
	KindSchema       Kind = "schema"
	KindQuery        Kind = "query"
)

// Error is the typed failure of one view computation.
type Error struct {
	View Name
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("view %s: %s error: %v", e.View, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the failure kind of err, or "" if err is not a view error.
func KindOf(err error) Kind {
	var ve *Error
	if errors.As(err, &ve) {
		return ve.Kind
	}
	return ""
}
