// Package extractrpc carries extractor calls over gRPC so that the model
// runtime can live in its own process.
//
// The service uses well-known protobuf types as messages: the request is a
// wrapperspb.BytesValue holding the frame, the response a structpb.Struct
// with a "faces" count and a "descriptor" list.
package extractrpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	serviceName   = "faceauth.extractor.v1.Extractor"
	extractMethod = "/" + serviceName + "/Extract"

	fieldFaces      = "faces"
	fieldDescriptor = "descriptor"
)

// ExtractorServer is the server-side contract of the extractor service.
type ExtractorServer interface {
	Extract(ctx context.Context, frame *wrapperspb.BytesValue) (*structpb.Struct, error)
}

// RegisterExtractorServer registers srv with a gRPC server.
func RegisterExtractorServer(s grpc.ServiceRegistrar, srv ExtractorServer) {
	s.RegisterService(&serviceDesc, srv)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*ExtractorServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Extract", Handler: extractHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "faceauth/extractor/v1/extractor.proto",
}

func extractHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ExtractorServer).Extract(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: extractMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ExtractorServer).Extract(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}
