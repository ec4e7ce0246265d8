package core

import "fmt"

type Error string

func (e Error) Error() string {
	return string(e)
}

const (
	ERR_IO             = Error("i/o error")
	ERR_INVALID_CACHE  = Error("invalid cache")
	ERR_PRECONDITION   = Error("precondition violated")
	ERR_INVALID_CONFIG = Error("invalid config")

	ERR_CHUNK_NOT_FOUND = Error("chunk not found")
	ERR_CHECKSUM        = Error("chunk checksum mismatch")

	ERR_AUTH_FAILED   = Error("auth failed")
	ERR_INVALID_IMAGE = Error("invalid image name")
)

// IOError is an environment failure while touching a cache or pool file.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("couldn't %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// Is makes every IOError match ERR_IO.
func (e *IOError) Is(target error) bool {
	return target == ERR_IO
}

func NewIOError(op, path string, err error) error {
	return &IOError{Op: op, Path: path, Err: err}
}

// PreconditionError is raised (panicked) when a caller breaks the contract of
// a cache operation. It is a bug in the caller, never a runtime condition.
type PreconditionError struct {
	Msg string
}

func (e *PreconditionError) Error() string {
	return string(ERR_PRECONDITION) + ": " + e.Msg
}

func (e *PreconditionError) Unwrap() error { return ERR_PRECONDITION }

// Require panics with a *PreconditionError when cond is false.
func Require(cond bool, format string, args ...interface{}) {
	if !cond {
		panic(&PreconditionError{Msg: fmt.Sprintf(format, args...)})
	}
}
