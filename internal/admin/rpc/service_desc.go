package rpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceDesc registers AdminServer on a *grpc.Server, in the shape
// protoc-gen-go-grpc emits for a service with six unary methods and one
// server-streaming method.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: "viewstream.admin.v1.Admin",
	HandlerType: (*AdminServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "CreateQuery", Handler: adminCreateQueryHandler},
		{MethodName: "DeleteQuery", Handler: adminDeleteQueryHandler},
		{MethodName: "ListQueries", Handler: adminListQueriesHandler},
		{MethodName: "GetResults", Handler: adminGetResultsHandler},
		{MethodName: "GetResultsAt", Handler: adminGetResultsAtHandler},
		{MethodName: "Ingest", Handler: adminIngestHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Subscribe", Handler: adminSubscribeHandler, ServerStreams: true},
	},
	Metadata: "internal/admin/rpc/admin.proto",
}

// RegisterAdminServer registers srv's handlers on s.
func RegisterAdminServer(s grpc.ServiceRegistrar, srv AdminServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func adminCreateQueryHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AdminServer).CreateQuery(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/viewstream.admin.v1.Admin/CreateQuery"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(AdminServer).CreateQuery(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func adminDeleteQueryHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AdminServer).DeleteQuery(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/viewstream.admin.v1.Admin/DeleteQuery"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(AdminServer).DeleteQuery(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func adminListQueriesHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AdminServer).ListQueries(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/viewstream.admin.v1.Admin/ListQueries"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(AdminServer).ListQueries(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func adminGetResultsHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AdminServer).GetResults(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/viewstream.admin.v1.Admin/GetResults"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(AdminServer).GetResults(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func adminGetResultsAtHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AdminServer).GetResultsAt(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/viewstream.admin.v1.Admin/GetResultsAt"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(AdminServer).GetResultsAt(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func adminIngestHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AdminServer).Ingest(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/viewstream.admin.v1.Admin/Ingest"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(AdminServer).Ingest(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func adminSubscribeHandler(srv interface{}, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(AdminServer).Subscribe(in, &adminSubscribeServer{stream})
}
