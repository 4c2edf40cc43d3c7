// Package flow drives the client-side capture flows: enrollment, and
// verification against the server.
package flow

import (
	"context"
	"errors"

	"github.com/example/face-auth/internal/biometric"
	"github.com/example/face-auth/internal/extractor"
)

// State is a flow state.
type State int

const (
	Idle State = iota
	ModelLoading
	CameraActive
	CapturePending
	Extracting
	// Verifying covers the server-side fetch and match of a verification.
	Verifying
	Enrolled
	Accepted
	Rejected
	Failed
)

var stateNames = [...]string{
	Idle:           "idle",
	ModelLoading:   "model_loading",
	CameraActive:   "camera_active",
	CapturePending: "capture_pending",
	Extracting:     "extracting",
	Verifying:      "verifying",
	Enrolled:       "enrolled",
	Accepted:       "accepted",
	Rejected:       "rejected",
	Failed:         "failed",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// Terminal reports whether the attempt is over. Start may be called again
// from any terminal state.
func (s State) Terminal() bool {
	switch s {
	case Enrolled, Accepted, Rejected, Failed:
		return true
	}
	return false
}

var (
	ErrMissingIdentity        = errors.New("claimed identity required")
	ErrCameraPermissionDenied = errors.New("camera permission denied")
	ErrModelLoad              = extractor.ErrModelLoad
	ErrStoreRejected          = errors.New("enrollment rejected")
	ErrCancelled              = errors.New("flow cancelled")
	ErrCaptureTimeout         = errors.New("no capture before idle timeout")
	ErrBusy                   = errors.New("flow already running")
	ErrNotReady               = errors.New("camera not ready for capture")

	// Rejection outcomes reported by an Authenticator.
	ErrNoEnrollment       = errors.New("facial login not set up for this account")
	ErrDescriptorMismatch = errors.New("face did not match")
	ErrLockedOut          = errors.New("too many failed attempts")
)

// User-facing messages.
const (
	MsgNoFace       = "No face detected, reposition and capture again."
	MsgReady        = "Camera ready, capture when your face is centred."
	MsgEnrolled     = "Face enrolled."
	MsgAccepted     = "Face recognised."
	MsgNoEnrollment = "Facial login is not set up for this account, sign in with your password."
	MsgMismatch     = "Face not recognised, try again."
	MsgLockedOut    = "Too many failed attempts, try again later or use your password."
)

// ModelLoader hands out the shared extractor; *extractor.Cache satisfies it.
type ModelLoader interface {
	Load(ctx context.Context) (extractor.Extractor, error)
}

// Enroller stores a descriptor for the signed-in user. Errors wrapping
// ErrStoreRejected are final rejections of the descriptor or the identity.
type Enroller interface {
	Enroll(ctx context.Context, d biometric.Descriptor) error
}

// Authenticator asks the server to verify d for email and returns a session
// token. Errors wrapping ErrNoEnrollment, ErrDescriptorMismatch or
// ErrLockedOut are rejections; anything else fails the attempt.
type Authenticator interface {
	Verify(ctx context.Context, email string, d biometric.Descriptor) (string, error)
}
