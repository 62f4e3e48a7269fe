package stream

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrInvalidSegment is returned when a segment filename does not end in ".ts".
	ErrInvalidSegment = errors.New("invalid segment")

	// ErrPathTraversal is returned when the canonical path leaves the package root.
	ErrPathTraversal = errors.New("path escapes package root")

	// ErrNotFound is returned when the requested package file does not exist.
	ErrNotFound = errors.New("not found")
)

// FilesystemError is an I/O failure unrelated to request validation.
type FilesystemError struct {
	Op   string
	Path string
	Err  error
}

func (e *FilesystemError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *FilesystemError) Unwrap() error { return e.Err }

// StatusCode maps a resolver or delivery error to its HTTP status.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrInvalidSegment):
		return http.StatusBadRequest
	case errors.Is(err, ErrPathTraversal):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// Message is the short response body for err. Internal details are not exposed.
func Message(err error) string {
	switch StatusCode(err) {
	case http.StatusBadRequest:
		return "Invalid segment"
	case http.StatusForbidden:
		return "Forbidden"
	case http.StatusNotFound:
		return "Not found"
	default:
		return "Internal server error"
	}
}
