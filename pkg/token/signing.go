package token

import (
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// encMode uses Core Deterministic Encoding (RFC 8949 section 4.2) so a
// value always encodes to the same bytes on every instance.
var encMode cbor.EncMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("token: CBOR encoder initialization failed: " + err.Error())
	}
}

// Signature payloads. Times are Unix milliseconds and signatures of the
// enclosing structure are left out; nested signatures are kept so an
// outer signature also binds the inner proof.

type validityView struct {
	Issuer     string `cbor:"issuer"`
	IssuedTo   string `cbor:"issued_to"`
	IssuedFor  string `cbor:"issued_for"`
	IssuedTime int64  `cbor:"issued_time"`
	NotBefore  int64  `cbor:"not_before"`
	NotAfter   int64  `cbor:"not_after"`
}

type principalView struct {
	Subject    string        `cbor:"subject"`
	Issuer     string        `cbor:"issuer"`
	Name       string        `cbor:"name"`
	ExternalID string        `cbor:"external_id"`
	Chain      []string      `cbor:"chain"`
	Validity   *validityView `cbor:"validity"`
}

type principalSigned struct {
	Principal principalView `cbor:"principal"`
	Signature []byte        `cbor:"signature"`
}

type tokenView struct {
	ID            string              `cbor:"id"`
	Type          Type                `cbor:"type"`
	Principal     principalSigned     `cbor:"principal"`
	Validity      validityView        `cbor:"validity"`
	Level         string              `cbor:"level"`
	Formal        []string            `cbor:"formal"`
	Community     []string            `cbor:"community"`
	Groups        []int64             `cbor:"groups"`
	Citizenship   string              `cbor:"citizenship"`
	Organization  string              `cbor:"organization"`
	ProjectGroups map[string][]string `cbor:"project_groups"`
	Communities   []Community         `cbor:"communities"`
	External      bool                `cbor:"external"`
}

type tokenSigned struct {
	Token     tokenView `cbor:"token"`
	Signature []byte    `cbor:"signature"`
}

type requestView struct {
	SecurityID string           `cbor:"security_id"`
	Target     string           `cbor:"target"`
	Timestamp  int64            `cbor:"timestamp"`
	Type       Type             `cbor:"type"`
	Caveats    *validityView    `cbor:"caveats"`
	Principal  *principalSigned `cbor:"principal"`
	Token      *tokenSigned     `cbor:"token_principal"`
	Proxy      *ProxyPrincipal  `cbor:"proxy_principal"`
	PreFilter  []string         `cbor:"pre_filter"`
	Exclude    []string         `cbor:"exclude"`
}

type proxyRequestView struct {
	Subject  string       `cbor:"subject"`
	Issuer   string       `cbor:"issuer"`
	Validity validityView `cbor:"validity"`
}

// orNil maps empty slices to nil so a value that lost an empty slice in a
// JSON round trip still encodes identically.
func orNil[S ~[]E, E any](s S) S {
	if len(s) == 0 {
		return nil
	}
	return s
}

func millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func projectGroups(m map[string][]string) map[string][]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string][]string, len(m))
	for k, v := range m {
		out[k] = orNil(v)
	}
	return out
}

func communities(cs []Community) []Community {
	if len(cs) == 0 {
		return nil
	}
	out := make([]Community, len(cs))
	for i, c := range cs {
		c.Groups = orNil(c.Groups)
		c.Topics = orNil(c.Topics)
		c.Regions = orNil(c.Regions)
		c.Flags = orNil(c.Flags)
		out[i] = c
	}
	return out
}

func viewValidity(v Validity) validityView {
	return validityView{
		Issuer:     v.Issuer,
		IssuedTo:   v.IssuedTo,
		IssuedFor:  v.IssuedFor,
		IssuedTime: millis(v.IssuedTime),
		NotBefore:  millis(v.NotBefore),
		NotAfter:   millis(v.NotAfter),
	}
}

func viewPrincipal(p *Principal) principalView {
	pv := principalView{
		Subject:    p.Subject,
		Issuer:     p.Issuer,
		Name:       p.Name,
		ExternalID: p.ExternalID,
		Chain:      orNil(p.RequestChain),
	}
	if p.Validity != nil {
		v := viewValidity(*p.Validity)
		pv.Validity = &v
	}
	return pv
}

func signedPrincipal(p *Principal) principalSigned {
	ps := principalSigned{Principal: viewPrincipal(p)}
	if p.Validity != nil {
		ps.Signature = orNil(p.Validity.Signature)
	}
	return ps
}

func viewToken(t *Token) tokenView {
	return tokenView{
		ID:            t.ID,
		Type:          t.Type,
		Principal:     signedPrincipal(&t.Principal),
		Validity:      viewValidity(t.Validity),
		Level:         t.Level,
		Formal:        orNil(t.Authorizations.Formal),
		Community:     orNil(t.Authorizations.Community),
		Groups:        orNil(t.Authorizations.Groups),
		Citizenship:   t.Citizenship,
		Organization:  t.Organization,
		ProjectGroups: projectGroups(t.ProjectGroups),
		Communities:   communities(t.Communities),
		External:      t.ValidForExternalRequest,
	}
}

func marshal(kind string, v any) ([]byte, error) {
	b, err := encMode.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("token: encode %s signing bytes: %w", kind, err)
	}
	return b, nil
}

// SigningBytes returns the bytes covered by Validity.Signature.
func (t *Token) SigningBytes() ([]byte, error) {
	return marshal("token", viewToken(t))
}

// SigningBytes returns the bytes covered by Validity.Signature.
func (p *Principal) SigningBytes() ([]byte, error) {
	return marshal("principal", viewPrincipal(p))
}

// SigningBytes returns the bytes covered by the detached request
// signature.
func (r *TokenRequest) SigningBytes() ([]byte, error) {
	rv := requestView{
		SecurityID: r.SecurityID,
		Target:     r.TargetSecurityID,
		Timestamp:  millis(r.Timestamp),
		Type:       r.Type,
		PreFilter:  orNil(r.PreFilter),
		Exclude:    orNil(r.Exclude),
	}
	if r.Caveats != nil {
		v := viewValidity(*r.Caveats)
		rv.Caveats = &v
	}
	switch p := r.Proof.(type) {
	case RawPrincipal:
		ps := signedPrincipal(&p.Principal)
		rv.Principal = &ps
	case TokenPrincipal:
		if p.Token != nil {
			rv.Token = &tokenSigned{Token: viewToken(p.Token), Signature: orNil(p.Token.Validity.Signature)}
		}
	case ProxyPrincipal:
		rv.Proxy = &p
	}
	return marshal("request", rv)
}

// SigningBytes returns the bytes covered by Validity.Signature.
func (r *ProxyTokenRequest) SigningBytes() ([]byte, error) {
	return marshal("proxy request", proxyRequestView{
		Subject:  r.X509.Subject,
		Issuer:   r.X509.Issuer,
		Validity: viewValidity(r.Validity),
	})
}
