package rpc

import (
	"context"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"

	"github.com/StricklySoft/ezsecurity/pkg/admins"
	sserr "github.com/StricklySoft/ezsecurity/pkg/errors"
	"github.com/StricklySoft/ezsecurity/pkg/token"
)

// Client calls a remote token service. Errors are returned as
// [*sserr.Error] values rebuilt from the reply status.
//
// Client is safe for concurrent use.
type Client struct {
	cc    grpc.ClientConnInterface
	close func() error
}

var (
	_ Service        = (*Client)(nil)
	_ admins.Updater = (*Client)(nil)
)

// Dial returns a client for target. No connection is made until the
// first call. opts should carry transport credentials; see
// [TLSConfig.ClientCredentials].
func Dial(target string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(CodecName)),
	}, opts...)
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, sserr.Wrapf(err, sserr.CodeInternalConfiguration, "rpc: invalid target %q", target)
	}
	return &Client{cc: conn, close: conn.Close}, nil
}

// NewFromConn wraps an existing connection. Close does not close cc.
func NewFromConn(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc, close: func() error { return nil }}
}

// Close releases a connection opened by [Dial].
func (c *Client) Close() error { return c.close() }

func (c *Client) invoke(ctx context.Context, method string, req, resp any) error {
	err := c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, req, resp, grpc.CallContentSubtype(CodecName))
	return FromStatus(err)
}

// Ping reports whether the service answered.
func (c *Client) Ping(ctx context.Context) bool {
	var resp BoolResponse
	if err := c.invoke(ctx, MethodPing, &Empty{}, &resp); err != nil {
		return false
	}
	return resp.Value
}

func (c *Client) signedToken(ctx context.Context, method string, req *token.TokenRequest, signature []byte) (*token.Token, error) {
	var resp TokenResponse
	if err := c.invoke(ctx, method, &SignedTokenRequest{Request: req, Signature: signature}, &resp); err != nil {
		return nil, err
	}
	return resp.Token, nil
}

// RequestToken implements [Service].
func (c *Client) RequestToken(ctx context.Context, req *token.TokenRequest, signature []byte) (*token.Token, error) {
	return c.signedToken(ctx, MethodRequestToken, req, signature)
}

// RefreshToken implements [Service].
func (c *Client) RefreshToken(ctx context.Context, req *token.TokenRequest, signature []byte) (*token.Token, error) {
	return c.signedToken(ctx, MethodRefreshToken, req, signature)
}

// RequestUserInfo implements [Service].
func (c *Client) RequestUserInfo(ctx context.Context, req *token.TokenRequest, signature []byte) (*token.Token, error) {
	return c.signedToken(ctx, MethodRequestUserInfo, req, signature)
}

// RequestUserInfoJWT implements [Service].
func (c *Client) RequestUserInfoJWT(ctx context.Context, req *token.TokenRequest, signature []byte) (string, error) {
	var resp JWTResponse
	if err := c.invoke(ctx, MethodRequestUserInfoJWT, &SignedTokenRequest{Request: req, Signature: signature}, &resp); err != nil {
		return "", err
	}
	return resp.JWT, nil
}

// RequestProxyToken implements [Service].
func (c *Client) RequestProxyToken(ctx context.Context, req *token.ProxyTokenRequest) (*token.ProxyTokenResponse, error) {
	var resp token.ProxyTokenResponse
	if err := c.invoke(ctx, MethodRequestProxyToken, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetAuthorizations implements [Service].
func (c *Client) GetAuthorizations(ctx context.Context, caller *token.Token, typ token.Type, id string) (token.Tags, error) {
	var resp AuthorizationsResponse
	if err := c.invoke(ctx, MethodGetAuthorizations, &AuthorizationsRequest{Caller: caller, Type: typ, ID: id}, &resp); err != nil {
		return nil, err
	}
	return resp.Authorizations, nil
}

// IsUserInvalid implements [Service].
func (c *Client) IsUserInvalid(ctx context.Context, caller *token.Token, userID string) (bool, error) {
	var resp BoolResponse
	if err := c.invoke(ctx, MethodIsUserInvalid, &UserInvalidRequest{Caller: caller, UserID: userID}, &resp); err != nil {
		return false, err
	}
	return resp.Value, nil
}

// InvalidateCache implements [Service].
func (c *Client) InvalidateCache(ctx context.Context, adminToken *token.Token) error {
	return c.invoke(ctx, MethodInvalidateCache, &InvalidateCacheRequest{Token: adminToken}, &Empty{})
}

// UpdateAdmins implements [Service] and [admins.Updater].
func (c *Client) UpdateAdmins(ctx context.Context, ids []string) (bool, error) {
	var resp BoolResponse
	if err := c.invoke(ctx, MethodUpdateAdmins, &UpdateAdminsRequest{Admins: ids}, &resp); err != nil {
		return false, err
	}
	return resp.Value, nil
}
