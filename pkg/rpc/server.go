// Package rpc exposes the token service over gRPC. Messages travel as
// JSON (content subtype "json") using the wire forms of pkg/token, and
// every error is reduced with [sserr.Public] before it leaves the
// process.
//
// The service descriptor is written by hand; there is no protobuf
// schema. [Client] speaks the same protocol and satisfies both [Service]
// and [admins.Updater].
package rpc

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/StricklySoft/ezsecurity/pkg/auth"
	sserr "github.com/StricklySoft/ezsecurity/pkg/errors"
	"github.com/StricklySoft/ezsecurity/pkg/issuer"
	"github.com/StricklySoft/ezsecurity/pkg/token"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "ezsecurity.EzSecurity"

// Method names.
const (
	MethodPing               = "Ping"
	MethodRequestToken       = "RequestToken"
	MethodRefreshToken       = "RefreshToken"
	MethodRequestProxyToken  = "RequestProxyToken"
	MethodGetAuthorizations  = "GetAuthorizations"
	MethodIsUserInvalid      = "IsUserInvalid"
	MethodInvalidateCache    = "InvalidateCache"
	MethodUpdateAdmins       = "UpdateAdmins"
	MethodRequestUserInfo    = "RequestUserInfo"
	MethodRequestUserInfoJWT = "RequestUserInfoJWT"
)

// Service is the token service as served over gRPC.
type Service interface {
	Ping(ctx context.Context) bool
	RequestToken(ctx context.Context, req *token.TokenRequest, signature []byte) (*token.Token, error)
	RefreshToken(ctx context.Context, req *token.TokenRequest, signature []byte) (*token.Token, error)
	RequestProxyToken(ctx context.Context, req *token.ProxyTokenRequest) (*token.ProxyTokenResponse, error)
	GetAuthorizations(ctx context.Context, caller *token.Token, typ token.Type, id string) (token.Tags, error)
	IsUserInvalid(ctx context.Context, caller *token.Token, userID string) (bool, error)
	InvalidateCache(ctx context.Context, adminToken *token.Token) error
	UpdateAdmins(ctx context.Context, admins []string) (bool, error)
	RequestUserInfo(ctx context.Context, req *token.TokenRequest, signature []byte) (*token.Token, error)
	RequestUserInfoJWT(ctx context.Context, req *token.TokenRequest, signature []byte) (string, error)
}

var _ Service = (*issuer.Issuer)(nil)

// Server adapts a [Service] to gRPC.
type Server struct {
	svc    Service
	logger *slog.Logger
}

// NewServer returns a server for svc.
func NewServer(svc Service, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{svc: svc, logger: logger}
}

// Register adds the service to r.
func (s *Server) Register(r grpc.ServiceRegistrar) {
	r.RegisterService(&serviceDesc, s)
}

// NewGRPCServer returns a gRPC server with s registered. creds may be nil
// for a plaintext listener. With requirePeer set, every call must arrive
// over a channel with a verified client certificate.
func NewGRPCServer(s *Server, creds credentials.TransportCredentials, requirePeer bool, opts ...grpc.ServerOption) *grpc.Server {
	if creds == nil {
		creds = insecure.NewCredentials()
	}
	opts = append([]grpc.ServerOption{
		grpc.Creds(creds),
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(auth.UnaryServerInterceptor(requirePeer)),
		grpc.ChainStreamInterceptor(auth.StreamServerInterceptor(requirePeer)),
	}, opts...)
	gs := grpc.NewServer(opts...)
	s.Register(gs)
	return gs
}

// fail logs err with its full detail and returns the reduced status.
func (s *Server) fail(ctx context.Context, method string, err error) error {
	level := slog.LevelDebug
	if !sserr.IsClientError(err) {
		level = slog.LevelWarn
	}
	s.logger.Log(ctx, level, "rpc: call failed", "method", method, "code", sserr.GetCode(err), "error", err)
	return Status(err).Err()
}

// handlerType is the interface gRPC checks registered servers against.
type handlerType interface {
	fail(ctx context.Context, method string, err error) error
}

// unary builds the method descriptor for a call decoding into Req.
func unary[Req any](method string, call func(ctx context.Context, svc Service, req *Req) (any, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			s := srv.(*Server)
			req := new(Req)
			if err := dec(req); err != nil {
				return nil, s.fail(ctx, method, sserr.Wrap(err, sserr.CodeValidationFormat, "rpc: malformed request"))
			}
			handler := func(ctx context.Context, r any) (any, error) {
				resp, err := call(ctx, s.svc, r.(*Req))
				if err != nil {
					return nil, s.fail(ctx, method, err)
				}
				return resp, nil
			}
			if interceptor == nil {
				return handler(ctx, req)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + method}
			return interceptor(ctx, req, info, handler)
		},
	}
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*handlerType)(nil),
	Methods: []grpc.MethodDesc{
		unary(MethodPing, func(ctx context.Context, svc Service, _ *Empty) (any, error) {
			return &BoolResponse{Value: svc.Ping(ctx)}, nil
		}),
		unary(MethodRequestToken, func(ctx context.Context, svc Service, req *SignedTokenRequest) (any, error) {
			tok, err := svc.RequestToken(ctx, req.Request, req.Signature)
			if err != nil {
				return nil, err
			}
			return &TokenResponse{Token: tok}, nil
		}),
		unary(MethodRefreshToken, func(ctx context.Context, svc Service, req *SignedTokenRequest) (any, error) {
			tok, err := svc.RefreshToken(ctx, req.Request, req.Signature)
			if err != nil {
				return nil, err
			}
			return &TokenResponse{Token: tok}, nil
		}),
		unary(MethodRequestProxyToken, func(ctx context.Context, svc Service, req *token.ProxyTokenRequest) (any, error) {
			return svc.RequestProxyToken(ctx, req)
		}),
		unary(MethodGetAuthorizations, func(ctx context.Context, svc Service, req *AuthorizationsRequest) (any, error) {
			tags, err := svc.GetAuthorizations(ctx, req.Caller, req.Type, req.ID)
			if err != nil {
				return nil, err
			}
			return &AuthorizationsResponse{Authorizations: tags}, nil
		}),
		unary(MethodIsUserInvalid, func(ctx context.Context, svc Service, req *UserInvalidRequest) (any, error) {
			invalid, err := svc.IsUserInvalid(ctx, req.Caller, req.UserID)
			if err != nil {
				return nil, err
			}
			return &BoolResponse{Value: invalid}, nil
		}),
		unary(MethodInvalidateCache, func(ctx context.Context, svc Service, req *InvalidateCacheRequest) (any, error) {
			if err := svc.InvalidateCache(ctx, req.Token); err != nil {
				return nil, err
			}
			return &Empty{}, nil
		}),
		unary(MethodUpdateAdmins, func(ctx context.Context, svc Service, req *UpdateAdminsRequest) (any, error) {
			ok, err := svc.UpdateAdmins(ctx, req.Admins)
			if err != nil {
				return nil, err
			}
			return &BoolResponse{Value: ok}, nil
		}),
		unary(MethodRequestUserInfo, func(ctx context.Context, svc Service, req *SignedTokenRequest) (any, error) {
			tok, err := svc.RequestUserInfo(ctx, req.Request, req.Signature)
			if err != nil {
				return nil, err
			}
			return &TokenResponse{Token: tok}, nil
		}),
		unary(MethodRequestUserInfoJWT, func(ctx context.Context, svc Service, req *SignedTokenRequest) (any, error) {
			jwt, err := svc.RequestUserInfoJWT(ctx, req.Request, req.Signature)
			if err != nil {
				return nil, err
			}
			return &JWTResponse{JWT: jwt}, nil
		}),
	},
	Metadata: "ezsecurity.json",
}
