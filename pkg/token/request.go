package token

import (
	"encoding/json"
	"fmt"
	"time"
)

// Proof is the proof of identity embedded in a [TokenRequest]. It is a
// closed sum: the only implementations are [RawPrincipal],
// [TokenPrincipal], [ProxyPrincipal] and [SelfAttested].
type Proof interface {
	proof()
}

// RawPrincipal is a principal EzSecurity issued earlier. Its validity
// signature is checked with the server key unless the request comes from
// the front-end, which is trusted to vouch for the principal itself.
type RawPrincipal struct {
	Principal Principal
}

// TokenPrincipal is a previously issued token. Its signature is always
// re-verified.
type TokenPrincipal struct {
	Token *Token
}

// ProxyPrincipal is a proxy user token issued and signed by EzSecurity
// itself. Token holds the JSON encoding exactly as it was signed.
type ProxyPrincipal struct {
	Token     string `json:"proxy_token"`
	Signature []byte `json:"signature"`
}

// SelfAttested marks a request with no embedded proof. Only an
// application requesting a token for itself may use it.
type SelfAttested struct{}

func (RawPrincipal) proof()   {}
func (TokenPrincipal) proof() {}
func (ProxyPrincipal) proof() {}
func (SelfAttested) proof()   {}

// TokenRequest asks EzSecurity for a token. It is signed by the
// application named in Caveats.Issuer, or by SecurityID when no issuer is
// given; the detached signature travels next to the request.
type TokenRequest struct {
	SecurityID       string
	TargetSecurityID string
	Timestamp        time.Time
	Type             Type
	Caveats          *Validity
	Proof            Proof

	// PreFilter narrows the formal authorizations of the issued token.
	// A nil PreFilter means no pre-filter.
	PreFilter Tags
	// Exclude is removed from both authorization sets after filtering.
	Exclude Tags
}

// SignerID returns the security id whose key must verify the request.
func (r *TokenRequest) SignerID() string {
	if r.Caveats != nil && r.Caveats.Issuer != "" {
		return r.Caveats.Issuer
	}
	return r.SecurityID
}

// requestWire is the JSON form of a TokenRequest. At most one of the proof
// fields may be set.
type requestWire struct {
	SecurityID       string          `json:"security_id"`
	TargetSecurityID string          `json:"target_security_id,omitempty"`
	Timestamp        time.Time       `json:"timestamp"`
	Type             Type            `json:"type,omitempty"`
	Caveats          *Validity       `json:"caveats,omitempty"`
	Principal        *Principal      `json:"principal,omitempty"`
	TokenPrincipal   *Token          `json:"token_principal,omitempty"`
	ProxyPrincipal   *ProxyPrincipal `json:"proxy_principal,omitempty"`
	PreFilter        Tags            `json:"pre_filter,omitempty"`
	Exclude          Tags            `json:"exclude_authorizations,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (r TokenRequest) MarshalJSON() ([]byte, error) {
	w := requestWire{
		SecurityID:       r.SecurityID,
		TargetSecurityID: r.TargetSecurityID,
		Timestamp:        r.Timestamp,
		Type:             r.Type,
		Caveats:          r.Caveats,
		PreFilter:        r.PreFilter,
		Exclude:          r.Exclude,
	}
	switch p := r.Proof.(type) {
	case RawPrincipal:
		w.Principal = &p.Principal
	case TokenPrincipal:
		w.TokenPrincipal = p.Token
	case ProxyPrincipal:
		w.ProxyPrincipal = &p
	case SelfAttested, nil:
	default:
		return nil, fmt.Errorf("token: unknown proof type %T", p)
	}
	return json.Marshal(w)
}

// UnmarshalJSON implements json.Unmarshaler. A request carrying more than
// one proof is rejected here so the issuer only ever sees one.
func (r *TokenRequest) UnmarshalJSON(data []byte) error {
	var w requestWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	var proofs []Proof
	if w.Principal != nil {
		proofs = append(proofs, RawPrincipal{Principal: *w.Principal})
	}
	if w.TokenPrincipal != nil {
		proofs = append(proofs, TokenPrincipal{Token: w.TokenPrincipal})
	}
	if w.ProxyPrincipal != nil {
		proofs = append(proofs, *w.ProxyPrincipal)
	}
	if len(proofs) > 1 {
		return fmt.Errorf("token: request carries %d principal proofs, want at most one", len(proofs))
	}
	*r = TokenRequest{
		SecurityID:       w.SecurityID,
		TargetSecurityID: w.TargetSecurityID,
		Timestamp:        w.Timestamp,
		Type:             w.Type,
		Caveats:          w.Caveats,
		PreFilter:        w.PreFilter,
		Exclude:          w.Exclude,
		Proof:            SelfAttested{},
	}
	if len(proofs) == 1 {
		r.Proof = proofs[0]
	}
	return nil
}

// X509Info is the identity a front-end extracted from a browser's client
// certificate.
type X509Info struct {
	Subject string `json:"subject"`
	Issuer  string `json:"issuer,omitempty"`
}

// ProxyUserToken binds a certificate subject to the front-end that
// terminated the TLS session. EzSecurity issues and signs it; the
// front-end later embeds it in token requests as a [ProxyPrincipal].
type ProxyUserToken struct {
	X509     X509Info  `json:"x509"`
	IssuedBy string    `json:"issued_by"`
	IssuedTo string    `json:"issued_to"`
	NotAfter time.Time `json:"not_after"`
}

// Encode returns the JSON form that is signed and carried inside a
// [ProxyPrincipal].
func (p *ProxyUserToken) Encode() (string, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("token: encode proxy user token: %w", err)
	}
	return string(b), nil
}

// ParseProxyUserToken decodes the JSON form produced by
// [ProxyUserToken.Encode].
func ParseProxyUserToken(s string) (*ProxyUserToken, error) {
	var p ProxyUserToken
	if err := json.Unmarshal([]byte(s), &p); err != nil {
		return nil, fmt.Errorf("token: parse proxy user token: %w", err)
	}
	return &p, nil
}

// ProxyTokenRequest is sent by the front-end to obtain a proxy user
// token. Validity.Signature is the front-end's signature over
// [ProxyTokenRequest.SigningBytes].
type ProxyTokenRequest struct {
	X509     X509Info `json:"x509"`
	Validity Validity `json:"validity"`
}

// ProxyTokenResponse carries an encoded proxy user token and EzSecurity's
// signature over it.
type ProxyTokenResponse struct {
	Token     string `json:"token"`
	Signature []byte `json:"signature"`
}
