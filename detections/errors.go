package detections

import (
	"errors"
	"fmt"
)

var (
	ErrModelNotFound   = errors.New("model file not found")
	ErrModelUnreadable = errors.New("model file unreadable")
	ErrGraphImport     = errors.New("graph import failed")
	ErrSessionInit     = errors.New("session init failed")

	ErrOutputMismatch = errors.New("scores and classes outputs differ in length")
	ErrPoolClosed     = errors.New("session pool is closed")
	ErrPoolTimeout    = errors.New("timeout waiting for available session")
)

// ModelLoadError reports why a model could not be brought up. Kind is one of
// the ErrModel*/ErrGraphImport/ErrSessionInit sentinels.
type ModelLoadError struct {
	Path  string
	Kind  error
	Cause error
}

func (e *ModelLoadError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("load model %s: %v: %v", e.Path, e.Kind, e.Cause)
	}
	return fmt.Sprintf("load model %s: %v", e.Path, e.Kind)
}

func (e *ModelLoadError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Cause}
}

// DecodeError means the uploaded bytes are not an image we can read.
type DecodeError struct {
	Cause error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode image: %v", e.Cause)
}

func (e *DecodeError) Unwrap() error { return e.Cause }

type InferenceError struct {
	Message string
	Cause   error
}

func (e *InferenceError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *InferenceError) Unwrap() error { return e.Cause }
