package grpc

import (
	"context"

	"google.golang.org/grpc"
)

const (
	authServiceName         = "healthconnect.v1.AuthService"
	appointmentsServiceName = "healthconnect.v1.AppointmentsService"
)

// unary builds a method descriptor that decodes Req and dispatches to fn on the registered server.
func unary[S any, Req any, Resp any](service, method string, fn func(S, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return fn(srv.(S), ctx, in)
			}
			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: "/" + service + "/" + method,
			}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return fn(srv.(S), ctx, req.(*Req))
			})
		},
	}
}

type authServiceServer interface {
	SignUp(context.Context, *SignUpRequest) (*SessionResponse, error)
	SignIn(context.Context, *SignInRequest) (*SessionResponse, error)
	SignOut(context.Context, *SignOutRequest) (*SignOutResponse, error)
	GetIdentity(context.Context, *GetIdentityRequest) (*GetIdentityResponse, error)
	Authorize(context.Context, *AuthorizeRequest) (*AuthorizeResponse, error)
}

var authServiceDesc = grpc.ServiceDesc{
	ServiceName: authServiceName,
	HandlerType: (*authServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(authServiceName, "SignUp", (*AuthServer).SignUp),
		unary(authServiceName, "SignIn", (*AuthServer).SignIn),
		unary(authServiceName, "SignOut", (*AuthServer).SignOut),
		unary(authServiceName, "GetIdentity", (*AuthServer).GetIdentity),
		unary(authServiceName, "Authorize", (*AuthServer).Authorize),
	},
	Streams: []grpc.StreamDesc{},
}

func RegisterAuthServer(r grpc.ServiceRegistrar, srv *AuthServer) {
	r.RegisterService(&authServiceDesc, srv)
}

type appointmentsServiceServer interface {
	CreateAppointment(context.Context, *CreateAppointmentRequest) (*CreateAppointmentResponse, error)
	ListAppointments(context.Context, *ListAppointmentsRequest) (*ListAppointmentsResponse, error)
	CheckConflict(context.Context, *CheckConflictRequest) (*CheckConflictResponse, error)
}

var appointmentsServiceDesc = grpc.ServiceDesc{
	ServiceName: appointmentsServiceName,
	HandlerType: (*appointmentsServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(appointmentsServiceName, "CreateAppointment", (*AppointmentsServer).CreateAppointment),
		unary(appointmentsServiceName, "ListAppointments", (*AppointmentsServer).ListAppointments),
		unary(appointmentsServiceName, "CheckConflict", (*AppointmentsServer).CheckConflict),
	},
	Streams: []grpc.StreamDesc{},
}

func RegisterAppointmentsServer(r grpc.ServiceRegistrar, srv *AppointmentsServer) {
	r.RegisterService(&appointmentsServiceDesc, srv)
}
