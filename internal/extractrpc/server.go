package extractrpc

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/example/face-auth/internal/extractor"
)

// Server exposes a local extractor over gRPC.
type Server struct {
	extractor extractor.Extractor
	logger    *zap.Logger
}

// NewServer wraps ext for registration with RegisterExtractorServer.
func NewServer(ext extractor.Extractor, logger *zap.Logger) *Server {
	return &Server{extractor: ext, logger: logger.Named("extractor_server")}
}

// Extract runs the local model. Frames without exactly one face are not
// errors on the wire: they are reported through the faces count.
func (s *Server) Extract(ctx context.Context, frame *wrapperspb.BytesValue) (*structpb.Struct, error) {
	if len(frame.GetValue()) == 0 {
		return nil, status.Error(codes.InvalidArgument, "empty frame")
	}

	desc, err := s.extractor.Extract(ctx, frame.GetValue())
	switch {
	case errors.Is(err, extractor.ErrMultipleFaces):
		return faceCountResponse(2), nil
	case errors.Is(err, extractor.ErrNoFace):
		return faceCountResponse(0), nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return nil, status.FromContextError(err).Err()
	case err != nil:
		s.logger.Error("extraction failed", zap.Error(err))
		return nil, status.Error(codes.Internal, "extraction failed")
	}

	values := make([]*structpb.Value, len(desc))
	for i, v := range desc {
		values[i] = structpb.NewNumberValue(float64(v))
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		fieldFaces:      structpb.NewNumberValue(1),
		fieldDescriptor: structpb.NewListValue(&structpb.ListValue{Values: values}),
	}}, nil
}

func faceCountResponse(n int) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		fieldFaces:      structpb.NewNumberValue(float64(n)),
		fieldDescriptor: structpb.NewListValue(&structpb.ListValue{}),
	}}
}
