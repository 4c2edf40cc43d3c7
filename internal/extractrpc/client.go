package extractrpc

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/example/face-auth/internal/biometric"
	"github.com/example/face-auth/internal/extractor"
	"github.com/example/face-auth/internal/logging"
)

// Dial returns a ready-to-use remote extractor. The returned model owns the
// connection; Close releases it.
func Dial(ctx context.Context, addr string, dim int, logger *zap.Logger, opts ...grpc.DialOption) (extractor.Model, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock(),
	}, opts...)
	conn, err := grpc.DialContext(dialCtx, addr, opts...)
	if err != nil {
		wrapped := logging.NewOperationError("extractrpc.dial", "", err)
		logger.Error("failed to dial extractor", zap.Error(wrapped), zap.String("addr", addr))
		return nil, wrapped
	}
	return &remoteExtractor{conn: conn, dim: dim, logger: logger.Named("remote_extractor")}, nil
}

// Source returns a model source that dials addr.
func Source(addr string, dim int, logger *zap.Logger) extractor.Source {
	return extractor.Source{
		Name: "grpc://" + addr,
		Open: func(ctx context.Context) (extractor.Model, error) {
			return Dial(ctx, addr, dim, logger)
		},
	}
}

type remoteExtractor struct {
	conn   *grpc.ClientConn
	dim    int
	logger *zap.Logger
}

func (r *remoteExtractor) Extract(ctx context.Context, frame []byte) (biometric.Descriptor, error) {
	resp := new(structpb.Struct)
	if err := r.conn.Invoke(ctx, extractMethod, wrapperspb.Bytes(frame), resp); err != nil {
		wrapped := logging.NewOperationError("extractrpc.extract", "", err)
		r.logger.Error("extractor call failed", zap.Error(wrapped))
		return nil, wrapped
	}
	return decodeResponse(resp, r.dim)
}

func (r *remoteExtractor) Close() error {
	return r.conn.Close()
}

func decodeResponse(resp *structpb.Struct, dim int) (biometric.Descriptor, error) {
	fields := resp.GetFields()
	faces := int(fields[fieldFaces].GetNumberValue())
	if err := extractor.FaceCountError(faces); err != nil {
		return nil, err
	}
	list := fields[fieldDescriptor].GetListValue().GetValues()
	values := make([]float32, len(list))
	for i, v := range list {
		values[i] = float32(v.GetNumberValue())
	}
	d, err := biometric.New(values, dim)
	if err != nil {
		return nil, fmt.Errorf("extractor response: %w", err)
	}
	return d, nil
}
