package orchestrator

import (
	"errors"
	"fmt"
)

var (
	// ErrAssetBusy is returned when another job holds the asset lock.
	ErrAssetBusy = errors.New("asset is being transcoded")

	// ErrAssetExists is returned when a package for the asset id is already published.
	ErrAssetExists = errors.New("asset already exists")

	// ErrJobExists is returned when creating a job for an asset id that already has one.
	ErrJobExists = errors.New("transcode job already exists")

	// ErrJobNotFound is returned for unknown asset ids.
	ErrJobNotFound = errors.New("transcode job not found")

	// ErrJobInterrupted is recorded on jobs a previous process left unfinished.
	ErrJobInterrupted = errors.New("job interrupted before completion")

	// ErrInvalidTransition is returned when a status change would move a job backwards
	// or out of a terminal state.
	ErrInvalidTransition = errors.New("invalid job status transition")
)

// ValidationError rejects an upload before any processing happens.
type ValidationError struct {
	Field  string
	Reason string
	// TooLarge distinguishes size rejections (413) from other rejections (400).
	TooLarge bool
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// EncodeError is the external tool failing for one rendition.
type EncodeError struct {
	Rendition string
	Err       error
	Output    string // trimmed tool diagnostics, may be empty
}

func (e *EncodeError) Error() string {
	if e.Output != "" {
		return fmt.Sprintf("encode %s: %v: %s", e.Rendition, e.Err, e.Output)
	}
	return fmt.Sprintf("encode %s: %v", e.Rendition, e.Err)
}

func (e *EncodeError) Unwrap() error { return e.Err }

// TranscodeError is the aggregate failure of a job. Cause is the triggering
// EncodeError or the filesystem error that aborted the job.
type TranscodeError struct {
	AssetID string
	Cause   error
}

func (e *TranscodeError) Error() string {
	return fmt.Sprintf("transcode %s: %v", e.AssetID, e.Cause)
}

func (e *TranscodeError) Unwrap() error { return e.Cause }
