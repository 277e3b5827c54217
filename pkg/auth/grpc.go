package auth

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

// UnaryServerInterceptor returns a gRPC unary server interceptor that
// attaches the caller's verified client certificate to the context as a
// [Peer].
//
// With required set, a call whose channel carries no verified
// certificate fails with Unauthenticated before reaching the handler.
// Otherwise the handler runs without a peer and decides for itself.
func UnaryServerInterceptor(required bool) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		ctx, err := extractPeerFromGRPC(ctx, required)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// StreamServerInterceptor is the streaming form of
// [UnaryServerInterceptor].
func StreamServerInterceptor(required bool) grpc.StreamServerInterceptor {
	return func(
		srv any,
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		ctx, err := extractPeerFromGRPC(ss.Context(), required)
		if err != nil {
			return err
		}
		return handler(srv, &wrappedServerStream{ServerStream: ss, ctx: ctx})
	}
}

func extractPeerFromGRPC(ctx context.Context, required bool) (context.Context, error) {
	p, ok := peerFromGRPC(ctx)
	if !ok {
		if required {
			return ctx, status.Error(codes.Unauthenticated, "verified client certificate required")
		}
		return ctx, nil
	}
	return ContextWithPeer(ctx, p), nil
}

// peerFromGRPC reads the leaf of the first verified chain. Certificates
// the handshake did not verify are ignored.
func peerFromGRPC(ctx context.Context) (Peer, bool) {
	gp, ok := peer.FromContext(ctx)
	if !ok || gp.AuthInfo == nil {
		return Peer{}, false
	}
	info, ok := gp.AuthInfo.(credentials.TLSInfo)
	if !ok {
		return Peer{}, false
	}
	chains := info.State.VerifiedChains
	if len(chains) == 0 || len(chains[0]) == 0 {
		return Peer{}, false
	}
	leaf := chains[0][0]
	p := Peer{
		CommonName: leaf.Subject.CommonName,
		Subject:    leaf.Subject.String(),
		Issuer:     leaf.Issuer.String(),
	}
	if gp.Addr != nil {
		p.Addr = gp.Addr.String()
	}
	return p, true
}

// wrappedServerStream overrides Context so stream handlers see the peer.
type wrappedServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

// Context returns the context carrying the peer.
func (w *wrappedServerStream) Context() context.Context {
	return w.ctx
}
