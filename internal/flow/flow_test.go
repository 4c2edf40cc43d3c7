package flow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/example/face-auth/internal/biometric"
	"github.com/example/face-auth/internal/camera"
	"github.com/example/face-auth/internal/extractor"
)

type stubLoader struct {
	ext   extractor.Extractor
	err   error
	calls atomic.Int32
}

func (l *stubLoader) Load(context.Context) (extractor.Extractor, error) {
	l.calls.Add(1)
	if l.err != nil {
		return nil, l.err
	}
	return l.ext, nil
}

type stubStream struct {
	block  bool
	closes atomic.Int32
}

func (s *stubStream) Frame(ctx context.Context) ([]byte, error) {
	if s.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return []byte("frame"), nil
}

func (s *stubStream) Close() error {
	s.closes.Add(1)
	return nil
}

type stubCamera struct {
	stream *stubStream
	err    error
	opens  atomic.Int32
}

func (c *stubCamera) Open(context.Context) (camera.Stream, error) {
	c.opens.Add(1)
	if c.err != nil {
		return nil, c.err
	}
	return c.stream, nil
}

// scriptedExtractor returns the queued errors in order, then descriptors.
type scriptedExtractor struct {
	mu    sync.Mutex
	errs  []error
	block bool
}

func (e *scriptedExtractor) Extract(ctx context.Context, _ []byte) (biometric.Descriptor, error) {
	if e.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.errs) > 0 {
		err := e.errs[0]
		e.errs = e.errs[1:]
		return nil, err
	}
	return make(biometric.Descriptor, biometric.DefaultDimension), nil
}

type stubEnroller struct {
	err   error
	calls int
}

func (e *stubEnroller) Enroll(context.Context, biometric.Descriptor) error {
	e.calls++
	return e.err
}

type stubAuthenticator struct {
	token string
	err   error
	email string
}

func (a *stubAuthenticator) Verify(_ context.Context, email string, _ biometric.Descriptor) (string, error) {
	a.email = email
	return a.token, a.err
}

type enrollmentFixture struct {
	flow     *Enrollment
	loader   *stubLoader
	camera   *stubCamera
	stream   *stubStream
	ext      *scriptedExtractor
	enroller *stubEnroller
}

func newEnrollmentFixture(opts Options) *enrollmentFixture {
	f := &enrollmentFixture{
		ext:      &scriptedExtractor{},
		stream:   &stubStream{},
		enroller: &stubEnroller{},
	}
	f.loader = &stubLoader{ext: f.ext}
	f.camera = &stubCamera{stream: f.stream}
	f.flow = NewEnrollment(f.loader, f.camera, f.enroller, opts, zap.NewNop())
	return f
}

func TestEnrollmentHappyPath(t *testing.T) {
	f := newEnrollmentFixture(Options{})
	ctx := context.Background()

	require.NoError(t, f.flow.Start(ctx))
	assert.Equal(t, CameraActive, f.flow.State())

	state, err := f.flow.Capture(ctx)
	require.NoError(t, err)
	assert.Equal(t, Enrolled, state)
	assert.Equal(t, MsgEnrolled, f.flow.Message())
	assert.Equal(t, 1, f.enroller.calls)
	assert.EqualValues(t, 1, f.stream.closes.Load())

	// Re-running from a terminal state starts over.
	require.NoError(t, f.flow.Start(ctx))
	assert.Equal(t, CameraActive, f.flow.State())
}

func TestRepeatedNoFaceStaysActive(t *testing.T) {
	f := newEnrollmentFixture(Options{})
	f.ext.errs = []error{extractor.FaceCountError(0), extractor.FaceCountError(2), extractor.FaceCountError(0)}
	ctx := context.Background()
	require.NoError(t, f.flow.Start(ctx))

	for i := 0; i < 3; i++ {
		state, err := f.flow.Capture(ctx)
		require.NoError(t, err)
		assert.Equal(t, CameraActive, state)
		assert.Equal(t, MsgNoFace, f.flow.Message())
	}
	assert.Zero(t, f.stream.closes.Load())
	assert.Zero(t, f.enroller.calls)

	state, err := f.flow.Capture(ctx)
	require.NoError(t, err)
	assert.Equal(t, Enrolled, state)
	assert.EqualValues(t, 1, f.stream.closes.Load())
}

func TestCancelReleasesCameraOnce(t *testing.T) {
	t.Run("camera active", func(t *testing.T) {
		f := newEnrollmentFixture(Options{})
		require.NoError(t, f.flow.Start(context.Background()))

		f.flow.Cancel()
		f.flow.Cancel()

		assert.Equal(t, Idle, f.flow.State())
		assert.ErrorIs(t, f.flow.Err(), ErrCancelled)
		assert.EqualValues(t, 1, f.stream.closes.Load())
	})

	t.Run("capture pending", func(t *testing.T) {
		f := newEnrollmentFixture(Options{})
		f.stream.block = true
		assertCancelDuring(t, f, CapturePending)
	})

	t.Run("extracting", func(t *testing.T) {
		f := newEnrollmentFixture(Options{})
		f.ext.block = true
		assertCancelDuring(t, f, Extracting)
	})
}

func assertCancelDuring(t *testing.T, f *enrollmentFixture, state State) {
	t.Helper()
	require.NoError(t, f.flow.Start(context.Background()))

	done := make(chan error, 1)
	go func() {
		_, err := f.flow.Capture(context.Background())
		done <- err
	}()
	require.Eventually(t, func() bool { return f.flow.State() == state }, time.Second, time.Millisecond)

	f.flow.Cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrCancelled)
	case <-time.After(time.Second):
		t.Fatal("capture did not return after cancel")
	}
	assert.Equal(t, Idle, f.flow.State())
	assert.EqualValues(t, 1, f.stream.closes.Load())
	assert.Zero(t, f.enroller.calls)
}

func TestCallerContextCancelReleasesCamera(t *testing.T) {
	f := newEnrollmentFixture(Options{})
	f.stream.block = true
	require.NoError(t, f.flow.Start(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := f.flow.Capture(ctx)
		done <- err
	}()
	require.Eventually(t, func() bool { return f.flow.State() == CapturePending }, time.Second, time.Millisecond)
	cancel()

	assert.ErrorIs(t, <-done, ErrCancelled)
	assert.Equal(t, Idle, f.flow.State())
	assert.EqualValues(t, 1, f.stream.closes.Load())
}

func TestIdleTimeoutReleasesCamera(t *testing.T) {
	f := newEnrollmentFixture(Options{IdleTimeout: 10 * time.Millisecond})
	require.NoError(t, f.flow.Start(context.Background()))

	require.Eventually(t, func() bool { return f.flow.State() == Failed }, time.Second, time.Millisecond)
	assert.ErrorIs(t, f.flow.Err(), ErrCaptureTimeout)
	assert.EqualValues(t, 1, f.stream.closes.Load())

	_, err := f.flow.Capture(context.Background())
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestModelLoadFailureAllowsRetry(t *testing.T) {
	f := newEnrollmentFixture(Options{})
	f.loader.err = errors.New("every source failed")

	err := f.flow.Start(context.Background())
	assert.ErrorIs(t, err, ErrModelLoad)
	assert.Equal(t, Failed, f.flow.State())
	assert.Zero(t, f.camera.opens.Load())

	f.loader.err = nil
	require.NoError(t, f.flow.Start(context.Background()))
	assert.Equal(t, CameraActive, f.flow.State())
}

type closableExtractor struct {
	scriptedExtractor
}

func (*closableExtractor) Close() error { return nil }

func TestCancelledFlowDoesNotFailSharedModelLoad(t *testing.T) {
	release := make(chan struct{})
	var loads atomic.Int32
	model := &closableExtractor{}
	cache := extractor.NewCache([]extractor.Source{{Name: "slow", Open: func(ctx context.Context) (extractor.Model, error) {
		loads.Add(1)
		select {
		case <-release:
			return model, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}}}, zap.NewNop())

	camA := &stubCamera{stream: &stubStream{}}
	camB := &stubCamera{stream: &stubStream{}}
	a := NewEnrollment(cache, camA, &stubEnroller{}, Options{}, zap.NewNop())
	b := NewEnrollment(cache, camB, &stubEnroller{}, Options{}, zap.NewNop())

	errA := make(chan error, 1)
	errB := make(chan error, 1)
	go func() { errA <- a.Start(context.Background()) }()
	go func() { errB <- b.Start(context.Background()) }()
	require.Eventually(t, func() bool {
		return a.State() == ModelLoading && b.State() == ModelLoading && loads.Load() == 1
	}, time.Second, time.Millisecond)

	a.Cancel()
	assert.ErrorIs(t, <-errA, ErrCancelled)
	assert.Equal(t, Idle, a.State())
	assert.Zero(t, camA.opens.Load())

	close(release)
	require.NoError(t, <-errB)
	assert.Equal(t, CameraActive, b.State())
	assert.EqualValues(t, 1, loads.Load())

	state, err := b.Capture(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Enrolled, state)
}

func TestModelLoadErrorKeepsCause(t *testing.T) {
	f := newEnrollmentFixture(Options{})
	cause := errors.New("cdn down")
	f.loader.err = fmt.Errorf("%w: %w", extractor.ErrModelLoad, cause)

	err := f.flow.Start(context.Background())
	assert.ErrorIs(t, err, ErrModelLoad)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, 1, strings.Count(err.Error(), ErrModelLoad.Error()))
}

func TestCameraPermissionDenied(t *testing.T) {
	f := newEnrollmentFixture(Options{})
	f.camera.err = fmt.Errorf("%w: /dev/video0", camera.ErrPermissionDenied)

	err := f.flow.Start(context.Background())
	assert.ErrorIs(t, err, ErrCameraPermissionDenied)
	assert.Equal(t, Failed, f.flow.State())
}

func TestStoreRejectedFailsEnrollment(t *testing.T) {
	f := newEnrollmentFixture(Options{})
	f.enroller.err = fmt.Errorf("%w: invalid face descriptor", ErrStoreRejected)
	require.NoError(t, f.flow.Start(context.Background()))

	state, err := f.flow.Capture(context.Background())
	assert.Equal(t, Failed, state)
	assert.ErrorIs(t, err, ErrStoreRejected)
	assert.ErrorIs(t, f.flow.Err(), ErrStoreRejected)
	assert.EqualValues(t, 1, f.stream.closes.Load())
}

func TestCaptureRequiresActiveCamera(t *testing.T) {
	f := newEnrollmentFixture(Options{})
	state, err := f.flow.Capture(context.Background())
	assert.Equal(t, Idle, state)
	assert.ErrorIs(t, err, ErrNotReady)
}

func newVerification(auth *stubAuthenticator) (*Verification, *stubLoader, *stubCamera, *stubStream) {
	stream := &stubStream{}
	cam := &stubCamera{stream: stream}
	loader := &stubLoader{ext: &scriptedExtractor{}}
	return NewVerification(loader, cam, auth, Options{}, zap.NewNop()), loader, cam, stream
}

func TestVerificationMissingIdentityTouchesNothing(t *testing.T) {
	v, loader, cam, _ := newVerification(&stubAuthenticator{})

	err := v.Start(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrMissingIdentity)
	assert.Equal(t, Failed, v.State())
	assert.Zero(t, loader.calls.Load())
	assert.Zero(t, cam.opens.Load())
}

func TestVerificationAccepted(t *testing.T) {
	auth := &stubAuthenticator{token: "session-token"}
	v, _, _, stream := newVerification(auth)
	ctx := context.Background()

	require.NoError(t, v.Start(ctx, "teacher@example.com"))
	state, err := v.Capture(ctx)
	require.NoError(t, err)
	assert.Equal(t, Accepted, state)
	assert.Equal(t, "session-token", v.Token())
	assert.Equal(t, "teacher@example.com", auth.email)
	assert.EqualValues(t, 1, stream.closes.Load())
}

func TestVerificationRejections(t *testing.T) {
	cases := []struct {
		err    error
		reason Reason
		msg    string
	}{
		{err: ErrNoEnrollment, reason: ReasonNoEnrollment, msg: MsgNoEnrollment},
		{err: ErrDescriptorMismatch, reason: ReasonDescriptorMismatch, msg: MsgMismatch},
		{err: fmt.Errorf("server said: %w", ErrLockedOut), reason: ReasonLockedOut, msg: MsgLockedOut},
	}
	for _, tc := range cases {
		t.Run(string(tc.reason), func(t *testing.T) {
			v, _, _, stream := newVerification(&stubAuthenticator{err: tc.err})
			require.NoError(t, v.Start(context.Background(), "teacher@example.com"))

			state, err := v.Capture(context.Background())
			assert.Equal(t, Rejected, state)
			assert.ErrorIs(t, err, tc.err)
			assert.Equal(t, tc.reason, v.Reason())
			assert.Equal(t, tc.msg, v.Message())
			assert.Empty(t, v.Token())
			assert.EqualValues(t, 1, stream.closes.Load())
		})
	}
}

func TestVerificationNetworkFailure(t *testing.T) {
	v, _, _, _ := newVerification(&stubAuthenticator{err: errors.New("connection refused")})
	require.NoError(t, v.Start(context.Background(), "teacher@example.com"))

	state, err := v.Capture(context.Background())
	assert.Equal(t, Failed, state)
	require.Error(t, err)

	v.Reset()
	assert.Equal(t, Idle, v.State())
	assert.NoError(t, v.Err())
}

// gatedLoader blocks Load until release is closed.
type gatedLoader struct {
	ext     extractor.Extractor
	release chan struct{}
}

func (l *gatedLoader) Load(ctx context.Context) (extractor.Extractor, error) {
	select {
	case <-l.release:
		return l.ext, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestVerificationClaimedEmailSetBeforeCameraActive(t *testing.T) {
	auth := &stubAuthenticator{token: "tok"}
	loader := &gatedLoader{ext: &scriptedExtractor{}, release: make(chan struct{})}
	v := NewVerification(loader, &stubCamera{stream: &stubStream{}}, auth, Options{}, zap.NewNop())

	started := make(chan error, 1)
	go func() { started <- v.Start(context.Background(), "teacher@example.com") }()
	require.Eventually(t, func() bool { return v.State() == ModelLoading }, time.Second, time.Millisecond)

	v.mu.Lock()
	email := v.email
	v.mu.Unlock()
	assert.Equal(t, "teacher@example.com", email)

	_, err := v.Capture(context.Background())
	assert.ErrorIs(t, err, ErrNotReady)

	close(loader.release)
	require.NoError(t, <-started)
	state, err := v.Capture(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Accepted, state)
	assert.Equal(t, "teacher@example.com", auth.email)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "capture_pending", CapturePending.String())
	assert.Equal(t, "unknown", State(99).String())
	assert.True(t, Rejected.Terminal())
	assert.False(t, Extracting.Terminal())
}
