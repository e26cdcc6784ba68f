package server

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// AdminServiceName is the fully qualified gRPC service name.
const AdminServiceName = "arena.admin.v1.ArenaAdmin"

// ArenaAdminServer is the admin RPC surface. Requests and responses are
// free-form structs so operators can call it with grpcurl without a schema.
type ArenaAdminServer interface {
	ListMatches(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetMatch(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CancelMatch(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ForceAdvance(context.Context, *structpb.Struct) (*structpb.Struct, error)
	QueueStats(context.Context, *structpb.Struct) (*structpb.Struct, error)
	VerifyReplay(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// RegisterArenaAdminServer registers srv on s.
func RegisterArenaAdminServer(s grpc.ServiceRegistrar, srv ArenaAdminServer) {
	s.RegisterService(&ArenaAdmin_ServiceDesc, srv)
}

type adminMethod func(ArenaAdminServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(name string, call adminMethod) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(ArenaAdminServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: "/" + AdminServiceName + "/" + name,
			}
			handler := func(ctx context.Context, req interface{}) (interface{}, error) {
				return call(srv.(ArenaAdminServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// ArenaAdmin_ServiceDesc describes the admin service for grpc.Server.
var ArenaAdmin_ServiceDesc = grpc.ServiceDesc{
	ServiceName: AdminServiceName,
	HandlerType: (*ArenaAdminServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryHandler("ListMatches", ArenaAdminServer.ListMatches),
		unaryHandler("GetMatch", ArenaAdminServer.GetMatch),
		unaryHandler("CancelMatch", ArenaAdminServer.CancelMatch),
		unaryHandler("ForceAdvance", ArenaAdminServer.ForceAdvance),
		unaryHandler("QueueStats", ArenaAdminServer.QueueStats),
		unaryHandler("VerifyReplay", ArenaAdminServer.VerifyReplay),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "arena/admin/v1/admin.proto",
}

// ArenaAdminClient calls the admin service.
type ArenaAdminClient struct {
	cc grpc.ClientConnInterface
}

func NewArenaAdminClient(cc grpc.ClientConnInterface) *ArenaAdminClient {
	return &ArenaAdminClient{cc: cc}
}

// Call invokes method with req.
func (c *ArenaAdminClient) Call(ctx context.Context, method string, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	if req == nil {
		req = &structpb.Struct{}
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+AdminServiceName+"/"+method, req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
