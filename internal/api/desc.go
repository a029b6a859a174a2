package api

import (
	"context"

	"google.golang.org/grpc"
)

// Service names on the wire.
const (
	SessionServiceName = "duet.v1.SessionService"
	ChatServiceName    = "duet.v1.ChatService"
	ActionServiceName  = "duet.v1.ActionService"
)

// FullMethod returns the "/service/method" path used by clients.
func FullMethod(service, method string) string {
	return "/" + service + "/" + method
}

// unary builds a method descriptor that decodes Req and calls fn on the
// registered server, honouring any interceptor.
func unary[S, Req, Resp any](service, name string, fn func(S, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	full := FullMethod(service, name)
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return fn(srv.(S), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: full}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return fn(srv.(S), ctx, req.(*Req))
			})
		},
	}
}
