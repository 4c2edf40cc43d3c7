// Package extractor wraps the face model runtime that turns an image frame
// into a biometric.Descriptor.
package extractor

import (
	"context"
	"errors"
	"fmt"

	"github.com/example/face-auth/internal/biometric"
)

var (
	// ErrNoFace is returned when a frame does not contain exactly one face.
	// Callers should ask the user to reposition and capture again.
	ErrNoFace = errors.New("no face detected")
	// ErrMultipleFaces is a flavour of ErrNoFace: the extractor never guesses
	// between several faces.
	ErrMultipleFaces = fmt.Errorf("%w: more than one face in frame", ErrNoFace)
	// ErrModelLoad is returned when no model source could be opened.
	ErrModelLoad = errors.New("face model could not be loaded")
)

// Extractor maps one frame to one descriptor.
type Extractor interface {
	Extract(ctx context.Context, frame []byte) (biometric.Descriptor, error)
}

// Model is a loaded extractor holding runtime resources.
type Model interface {
	Extractor
	Close() error
}

// FaceCountError converts a detected face count into the matching sentinel.
func FaceCountError(count int) error {
	switch {
	case count == 0:
		return ErrNoFace
	case count > 1:
		return fmt.Errorf("%w (%d faces)", ErrMultipleFaces, count)
	default:
		return nil
	}
}
