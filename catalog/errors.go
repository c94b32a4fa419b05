package catalog

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound = errors.New("not found")
	ErrExists   = errors.New("already exists")
	ErrInUse    = errors.New("in use")
	ErrInvalid  = errors.New("invalid")
)

// Error is a catalog failure of a given kind. errors.Is matches it against
// the sentinel of that kind.
type Error struct {
	Kind error
	Msg  string
}

func (e *Error) Error() string {
	return e.Msg
}

func (e *Error) Is(target error) bool {
	return e.Kind == target
}

func notFound(format string, args ...interface{}) error {
	return &Error{Kind: ErrNotFound, Msg: fmt.Sprintf(format, args...)}
}

func exists(format string, args ...interface{}) error {
	return &Error{Kind: ErrExists, Msg: fmt.Sprintf(format, args...)}
}

func inUse(format string, args ...interface{}) error {
	return &Error{Kind: ErrInUse, Msg: fmt.Sprintf(format, args...)}
}

func invalid(format string, args ...interface{}) error {
	return &Error{Kind: ErrInvalid, Msg: fmt.Sprintf(format, args...)}
}

// NotFoundf builds an ErrNotFound error outside the catalog, e.g. for
// objects resolved by the REST layer.
func NotFoundf(format string, args ...interface{}) error {
	return notFound(format, args...)
}

func Invalidf(format string, args ...interface{}) error {
	return invalid(format, args...)
}
