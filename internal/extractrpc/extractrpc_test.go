package extractrpc

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"

	"github.com/example/face-auth/internal/biometric"
	"github.com/example/face-auth/internal/extractor"
)

type stubExtractor struct {
	desc biometric.Descriptor
	err  error
}

func (s *stubExtractor) Extract(ctx context.Context, frame []byte) (biometric.Descriptor, error) {
	return s.desc, s.err
}

func startServer(t *testing.T, ext extractor.Extractor, dim int) extractor.Model {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	RegisterExtractorServer(srv, NewServer(ext, zap.NewNop()))
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	model, err := Dial(context.Background(), "bufnet", dim, zap.NewNop(),
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = model.Close() })
	return model
}

func TestRemoteExtractRoundTrip(t *testing.T) {
	want := make(biometric.Descriptor, biometric.DefaultDimension)
	for i := range want {
		want[i] = float32(i)/1000 - 0.064
	}
	model := startServer(t, &stubExtractor{desc: want}, biometric.DefaultDimension)

	got, err := model.Extract(context.Background(), []byte("frame"))
	require.NoError(t, err)
	assert.True(t, want.Equal(got))
}

func TestRemoteExtractNoFace(t *testing.T) {
	model := startServer(t, &stubExtractor{err: extractor.ErrNoFace}, biometric.DefaultDimension)

	_, err := model.Extract(context.Background(), []byte("frame"))
	assert.ErrorIs(t, err, extractor.ErrNoFace)
	assert.NotErrorIs(t, err, extractor.ErrMultipleFaces)
}

func TestRemoteExtractMultipleFaces(t *testing.T) {
	model := startServer(t, &stubExtractor{err: extractor.ErrMultipleFaces}, biometric.DefaultDimension)

	_, err := model.Extract(context.Background(), []byte("frame"))
	assert.ErrorIs(t, err, extractor.ErrMultipleFaces)
	assert.ErrorIs(t, err, extractor.ErrNoFace)
}

func TestRemoteExtractRejectsWrongDimension(t *testing.T) {
	model := startServer(t, &stubExtractor{desc: biometric.Descriptor{1, 2, 3}}, biometric.DefaultDimension)

	_, err := model.Extract(context.Background(), []byte("frame"))
	assert.ErrorIs(t, err, biometric.ErrInvalidShape)
}

func TestRemoteExtractHidesInternalErrors(t *testing.T) {
	model := startServer(t, &stubExtractor{err: errors.New("cuda exploded")}, biometric.DefaultDimension)

	_, err := model.Extract(context.Background(), []byte("frame"))
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "cuda")
	assert.NotErrorIs(t, err, extractor.ErrNoFace)
}

func TestRemoteExtractRejectsEmptyFrame(t *testing.T) {
	model := startServer(t, &stubExtractor{}, biometric.DefaultDimension)

	_, err := model.Extract(context.Background(), nil)
	assert.Error(t, err)
}
