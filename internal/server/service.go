package server

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// Fully-qualified names of the ingest service and its methods.
const (
	ServiceName            = "siemlite.v1.IngestService"
	IngestFullMethod       = "/" + ServiceName + "/Ingest"
	IngestStreamFullMethod = "/" + ServiceName + "/IngestStream"
	ingestServiceProtoFile = "siemlite/v1/ingest.proto"
)

// IngestServer is the server API for IngestService. Events and results are
// carried as google.protobuf.Struct so agents only need the well-known types.
type IngestServer interface {
	// Ingest stores and evaluates one event.
	Ingest(context.Context, *structpb.Struct) (*structpb.Struct, error)
	// IngestStream acknowledges each event sent on the stream, in order.
	IngestStream(grpc.BidiStreamingServer[structpb.Struct, structpb.Struct]) error
}

// RegisterIngestServer registers srv on s.
func RegisterIngestServer(s grpc.ServiceRegistrar, srv IngestServer) {
	s.RegisterService(&IngestServiceDesc, srv)
}

func ingestHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(IngestServer).Ingest(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: IngestFullMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(IngestServer).Ingest(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func ingestStreamHandler(srv any, stream grpc.ServerStream) error {
	return srv.(IngestServer).IngestStream(&grpc.GenericServerStream[structpb.Struct, structpb.Struct]{ServerStream: stream})
}

// IngestServiceDesc is the grpc.ServiceDesc for IngestService.
var IngestServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*IngestServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Ingest", Handler: ingestHandler},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "IngestStream",
			Handler:       ingestStreamHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: ingestServiceProtoFile,
}

// IngestClient is the client API for IngestService.
type IngestClient interface {
	Ingest(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	IngestStream(ctx context.Context, opts ...grpc.CallOption) (grpc.BidiStreamingClient[structpb.Struct, structpb.Struct], error)
}

type ingestClient struct {
	cc grpc.ClientConnInterface
}

// NewIngestClient returns a client for IngestService on cc.
func NewIngestClient(cc grpc.ClientConnInterface) IngestClient {
	return &ingestClient{cc: cc}
}

func (c *ingestClient) Ingest(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, IngestFullMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *ingestClient) IngestStream(ctx context.Context, opts ...grpc.CallOption) (grpc.BidiStreamingClient[structpb.Struct, structpb.Struct], error) {
	stream, err := c.cc.NewStream(ctx, &IngestServiceDesc.Streams[0], IngestStreamFullMethod, opts...)
	if err != nil {
		return nil, err
	}
	return &grpc.GenericClientStream[structpb.Struct, structpb.Struct]{ClientStream: stream}, nil
}
