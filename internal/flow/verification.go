package flow

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/example/face-auth/internal/biometric"
	"github.com/example/face-auth/internal/camera"
)

// Reason explains a Rejected verification.
type Reason string

const (
	ReasonNone               Reason = ""
	ReasonNoEnrollment       Reason = "no_enrollment"
	ReasonDescriptorMismatch Reason = "descriptor_mismatch"
	ReasonLockedOut          Reason = "locked_out"
)

// Verification captures a face for a claimed identity and lets the server
// decide. Matching never happens on this side.
type Verification struct {
	capture
	auth Authenticator

	email  string
	token  string
	reason Reason
}

// NewVerification builds an idle verification flow.
func NewVerification(loader ModelLoader, cam camera.Camera, auth Authenticator, opts Options, logger *zap.Logger) *Verification {
	v := &Verification{auth: auth}
	v.setup(loader, cam, opts, logger.Named("verification_flow"))
	return v
}

// Start requires the claimed email up front. Without one it fails with
// ErrMissingIdentity before the model or camera are touched.
func (v *Verification) Start(ctx context.Context, email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		v.mu.Lock()
		defer v.mu.Unlock()
		if v.state != Idle && !v.state.Terminal() {
			return ErrBusy
		}
		v.state, v.message, v.err = Failed, "", ErrMissingIdentity
		return ErrMissingIdentity
	}
	return v.open(ctx, func() {
		v.email, v.token, v.reason = email, "", ReasonNone
	})
}

// Capture samples a frame on user request and submits it for verification.
// Rejections return Rejected with the matching error.
func (v *Verification) Capture(ctx context.Context) (State, error) {
	v.mu.Lock()
	email := v.email
	v.mu.Unlock()

	return v.run(ctx, Verifying, func(ctx context.Context, d biometric.Descriptor) (State, string, error) {
		token, err := v.auth.Verify(ctx, email, d)
		if err == nil {
			v.logger.Info("verification accepted")
			v.setOutcome(token, ReasonNone)
			return Accepted, MsgAccepted, nil
		}
		var reason Reason
		var message string
		switch {
		case errors.Is(err, ErrNoEnrollment):
			reason, message = ReasonNoEnrollment, MsgNoEnrollment
		case errors.Is(err, ErrDescriptorMismatch):
			reason, message = ReasonDescriptorMismatch, MsgMismatch
		case errors.Is(err, ErrLockedOut):
			reason, message = ReasonLockedOut, MsgLockedOut
		default:
			return Failed, "", err
		}
		v.logger.Info("verification rejected", zap.String("reason", string(reason)))
		v.setOutcome("", reason)
		return Rejected, message, err
	})
}

func (v *Verification) setOutcome(token string, reason Reason) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.token, v.reason = token, reason
}

// Token returns the session token of an Accepted verification.
func (v *Verification) Token() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.token
}

// Reason returns why the last verification was Rejected.
func (v *Verification) Reason() Reason {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.reason
}
