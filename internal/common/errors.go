package common

import (
	"errors"
	"fmt"
)

// Sentinel errors for the pipeline's failure taxonomy. Everything else that
// escapes a run is a generic run failure, caught and persisted by the
// orchestrator.
var (
	// ErrNotFound means the receipt row is missing; the job is dropped.
	ErrNotFound = errors.New("receipt not found")
	// ErrDecode means the image bytes could not be decoded; fatal for the run.
	ErrDecode = errors.New("image decode failed")
	// ErrInvalidResponse means the extraction model returned something that is
	// not a single valid JSON object.
	ErrInvalidResponse = errors.New("invalid model response")
	// ErrScheduling means the fallback pool could not accept the job; the
	// receipt stays pending for later recovery.
	ErrScheduling = errors.New("background scheduling failed")
	// ErrDuplicate marks an image already processed under another receipt.
	// It is a normal terminal outcome, not a system failure.
	ErrDuplicate = errors.New("duplicate receipt content")
)

// WrapError annotates err with a message, preserving the chain.
func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}
