package flow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/example/face-auth/internal/biometric"
	"github.com/example/face-auth/internal/camera"
	"github.com/example/face-auth/internal/extractor"
)

// Options tunes a flow.
type Options struct {
	// IdleTimeout fails a flow left in CameraActive without a capture.
	// Zero leaves the camera open until the caller acts.
	IdleTimeout time.Duration
}

// lease owns one camera stream and closes it exactly once.
type lease struct {
	once   sync.Once
	stream camera.Stream
	logger *zap.Logger
}

func (l *lease) release() {
	l.once.Do(func() {
		if err := l.stream.Close(); err != nil {
			l.logger.Warn("camera stream close failed", zap.Error(err))
		}
	})
}

// finishFunc completes a capture with the extracted descriptor. It runs
// after the camera has been released.
type finishFunc func(ctx context.Context, d biometric.Descriptor) (State, string, error)

// capture is the state shared by both flows: model, camera lease, idle
// timer and cancellation.
type capture struct {
	loader ModelLoader
	camera camera.Camera
	opts   Options
	logger *zap.Logger

	mu      sync.Mutex
	state   State
	message string
	err     error
	gen     uint64
	model   extractor.Extractor
	lease   *lease
	idle    *time.Timer
	session context.Context
	cancel  context.CancelFunc
}

func (c *capture) setup(loader ModelLoader, cam camera.Camera, opts Options, logger *zap.Logger) {
	c.loader, c.camera, c.opts, c.logger = loader, cam, opts, logger
}

// State returns the current state.
func (c *capture) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Message returns the user-facing message of the current state.
func (c *capture) Message() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.message
}

// Err returns the error that ended the last attempt, if any.
func (c *capture) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Cancel aborts the attempt, releases the camera and returns to Idle.
// In-flight operations return ErrCancelled.
func (c *capture) Cancel() {
	c.abort(ErrCancelled)
}

// Reset returns a finished flow to Idle.
func (c *capture) Reset() {
	c.abort(nil)
}

func (c *capture) abort(cause error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Idle {
		return
	}
	c.gen++
	c.releaseLocked()
	c.state = Idle
	c.message = ""
	c.err = cause
}

// begin moves a non-running flow to ModelLoading and returns its generation.
// prepare, if set, runs under the lock before the new attempt is visible.
func (c *capture) begin(prepare func()) (uint64, context.Context, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Idle && !c.state.Terminal() {
		return 0, nil, ErrBusy
	}
	if prepare != nil {
		prepare()
	}
	c.gen++
	c.releaseLocked()
	c.session, c.cancel = context.WithCancel(context.Background())
	c.state = ModelLoading
	c.message = ""
	c.err = nil
	return c.gen, c.session, nil
}

// open loads the shared model and opens the camera.
func (c *capture) open(ctx context.Context, prepare func()) error {
	gen, session, err := c.begin(prepare)
	if err != nil {
		return err
	}
	opCtx, stop := mergeCancel(ctx, session)
	defer stop()

	model, err := c.loader.Load(opCtx)
	if err != nil {
		if !errors.Is(err, ErrModelLoad) && !errors.Is(err, context.Canceled) {
			err = fmt.Errorf("%w: %w", ErrModelLoad, err)
		}
		return c.fail(gen, err)
	}

	stream, err := c.camera.Open(opCtx)
	if err != nil {
		if errors.Is(err, camera.ErrPermissionDenied) {
			err = fmt.Errorf("%w: %v", ErrCameraPermissionDenied, err)
		}
		return c.fail(gen, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		_ = stream.Close()
		return ErrCancelled
	}
	c.model = model
	c.lease = &lease{stream: stream, logger: c.logger}
	c.activateLocked(MsgReady)
	return nil
}

// run samples one frame, extracts a descriptor and hands it to finish.
// A frame without exactly one face returns the flow to CameraActive.
func (c *capture) run(ctx context.Context, next State, finish finishFunc) (State, error) {
	c.mu.Lock()
	if c.state != CameraActive {
		c.mu.Unlock()
		return c.State(), ErrNotReady
	}
	c.stopIdleLocked()
	c.state = CapturePending
	gen, l, model, session := c.gen, c.lease, c.model, c.session
	c.mu.Unlock()

	opCtx, stop := mergeCancel(ctx, session)
	defer stop()

	frame, err := l.stream.Frame(opCtx)
	if err != nil {
		if errors.Is(err, camera.ErrPermissionDenied) {
			err = fmt.Errorf("%w: %v", ErrCameraPermissionDenied, err)
		}
		err = c.fail(gen, err)
		return c.State(), err
	}
	if !c.advance(gen, CapturePending, Extracting) {
		return Idle, ErrCancelled
	}

	d, err := model.Extract(opCtx, frame)
	if errors.Is(err, extractor.ErrNoFace) {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.gen != gen {
			return Idle, ErrCancelled
		}
		c.logger.Info("no face in captured frame", zap.Error(err))
		c.activateLocked(MsgNoFace)
		return CameraActive, nil
	}
	if err != nil {
		err = c.fail(gen, err)
		return c.State(), err
	}

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return Idle, ErrCancelled
	}
	c.releaseCameraLocked()
	c.state = next
	c.mu.Unlock()

	state, message, err := finish(opCtx, d)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		return Idle, ErrCancelled
	}
	c.releaseLocked()
	if errors.Is(err, context.Canceled) {
		c.state, c.message, c.err = Idle, "", ErrCancelled
		return Idle, ErrCancelled
	}
	c.state, c.message, c.err = state, message, err
	return state, err
}

func (c *capture) advance(gen uint64, from, to State) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen || c.state != from {
		return false
	}
	c.state = to
	return true
}

// fail ends the attempt unless it was cancelled meanwhile.
func (c *capture) fail(gen uint64, err error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		return ErrCancelled
	}
	c.releaseLocked()
	if errors.Is(err, context.Canceled) {
		c.state, c.message, c.err = Idle, "", ErrCancelled
		return ErrCancelled
	}
	c.logger.Warn("flow failed", zap.Error(err))
	c.state = Failed
	c.message = ""
	c.err = err
	return err
}

func (c *capture) activateLocked(message string) {
	c.state = CameraActive
	c.message = message
	if c.opts.IdleTimeout <= 0 {
		return
	}
	gen := c.gen
	c.idle = time.AfterFunc(c.opts.IdleTimeout, func() { c.expire(gen) })
}

func (c *capture) expire(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen || c.state != CameraActive {
		return
	}
	c.logger.Info("capture idle timeout, releasing camera")
	c.releaseLocked()
	c.state = Failed
	c.message = ""
	c.err = ErrCaptureTimeout
}

func (c *capture) stopIdleLocked() {
	if c.idle != nil {
		c.idle.Stop()
		c.idle = nil
	}
}

// releaseCameraLocked releases the camera lease and the idle timer.
func (c *capture) releaseCameraLocked() {
	c.stopIdleLocked()
	if c.lease != nil {
		c.lease.release()
		c.lease = nil
	}
}

// releaseLocked drops every resource of the current attempt and cancels
// its in-flight operations. The model is shared and stays loaded by its
// cache.
func (c *capture) releaseLocked() {
	c.releaseCameraLocked()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.model = nil
}

// mergeCancel returns a context cancelled when either ctx or session is.
func mergeCancel(ctx, session context.Context) (context.Context, context.CancelFunc) {
	opCtx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(session, cancel)
	return opCtx, func() {
		stop()
		cancel()
	}
}
