// Package auth carries the verified identity of the remote end of a
// mutually authenticated TLS channel. gRPC server interceptors extract the
// client certificate that the TLS handshake verified and attach it to the
// request context as a [Peer]; handlers read it back with
// [PeerFromContext].
//
// The peer identity is distinct from the application identity asserted
// inside a signed token request: the former is proven by the channel, the
// latter by a detached signature.
package auth

import (
	"context"
)

// contextKey is an unexported type used for context keys in this package.
type contextKey int

const peerKey contextKey = iota

// Peer is the identity proven by a verified client certificate.
type Peer struct {
	// CommonName is the subject CN. Infrastructure services present their
	// reserved security id here.
	CommonName string
	// Subject is the full subject DN.
	Subject string
	// Issuer is the DN of the certificate issuer.
	Issuer string
	// Addr is the remote network address.
	Addr string
}

// ContextWithPeer returns a new context carrying p.
func ContextWithPeer(ctx context.Context, p Peer) context.Context {
	return context.WithValue(ctx, peerKey, p)
}

// PeerFromContext returns the peer attached by the server interceptors.
// It reports false when the channel carried no verified certificate.
//
// Example:
//
//	p, ok := auth.PeerFromContext(ctx)
//	if !ok || p.CommonName != "_Ez_Security" {
//	    return sserr.New(sserr.CodePeerNotTrusted, "peer not trusted")
//	}
func PeerFromContext(ctx context.Context) (Peer, bool) {
	p, ok := ctx.Value(peerKey).(Peer)
	return p, ok
}

// MustPeerFromContext returns the peer or panics. Use it only behind an
// interceptor configured to require a peer.
func MustPeerFromContext(ctx context.Context) Peer {
	p, ok := PeerFromContext(ctx)
	if !ok {
		panic("auth: no peer in context; ensure the peer interceptor is configured with required=true")
	}
	return p
}
