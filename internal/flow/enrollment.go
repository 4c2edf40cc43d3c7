package flow

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/example/face-auth/internal/biometric"
	"github.com/example/face-auth/internal/camera"
)

// Enrollment captures one face and stores it as the signed-in user's
// reference descriptor. Re-running it overwrites the previous enrollment.
type Enrollment struct {
	capture
	enroller Enroller
}

// NewEnrollment builds an idle enrollment flow.
func NewEnrollment(loader ModelLoader, cam camera.Camera, enroller Enroller, opts Options, logger *zap.Logger) *Enrollment {
	e := &Enrollment{enroller: enroller}
	e.setup(loader, cam, opts, logger.Named("enrollment_flow"))
	return e
}

// Start loads the model and opens the camera, ending in CameraActive or Failed.
func (e *Enrollment) Start(ctx context.Context) error {
	return e.open(ctx, nil)
}

// Capture samples a frame on user request. It returns CameraActive when no
// single face was found, Enrolled on success and Failed otherwise.
func (e *Enrollment) Capture(ctx context.Context) (State, error) {
	return e.run(ctx, Extracting, func(ctx context.Context, d biometric.Descriptor) (State, string, error) {
		if err := e.enroller.Enroll(ctx, d); err != nil {
			if errors.Is(err, ErrStoreRejected) {
				e.logger.Warn("enrollment rejected", zap.Error(err))
			}
			return Failed, "", err
		}
		e.logger.Info("face enrolled")
		return Enrolled, MsgEnrolled, nil
	})
}
