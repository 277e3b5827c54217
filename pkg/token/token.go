// Package token defines the credentials EzSecurity issues and the requests
// applications send to obtain them, together with the canonical byte
// encodings that signatures cover.
//
// A [Token] is never trusted on its own: consumers verify
// [Token.Validity] against the issuer's public key using [Token.SigningBytes].
// A [Principal] carries its own [Validity] so it can be forwarded to another
// application independently of the token that first carried it.
package token

import (
	"slices"
	"time"
)

// Type distinguishes application tokens from user tokens.
type Type string

const (
	TypeApp  Type = "APP"
	TypeUser Type = "USER"
)

// Valid reports whether t is a known token type.
func (t Type) Valid() bool {
	return t == TypeApp || t == TypeUser
}

// Validity holds the caveats of a token or principal: who it was issued
// to, who may consume it, when it expires and the issuer's signature over
// the enclosing structure.
type Validity struct {
	Issuer     string    `json:"issuer,omitempty"`
	IssuedTo   string    `json:"issued_to,omitempty"`
	IssuedFor  string    `json:"issued_for,omitempty"`
	IssuedTime time.Time `json:"issued_time"`
	NotBefore  time.Time `json:"not_before,omitzero"`
	NotAfter   time.Time `json:"not_after"`
	Signature  []byte    `json:"signature,omitempty"`
}

// Expired reports whether the validity window has closed at now.
func (v *Validity) Expired(now time.Time) bool {
	return v == nil || !now.Before(v.NotAfter)
}

// Clone returns a deep copy of v.
func (v *Validity) Clone() *Validity {
	if v == nil {
		return nil
	}
	c := *v
	c.Signature = slices.Clone(v.Signature)
	return &c
}

// Principal is the subject identity carried by a request or token.
// Subject is a user DN or an application security id. Name and
// ExternalID are filled in by the issuer and never taken from a caller.
type Principal struct {
	Subject      string    `json:"subject"`
	Issuer       string    `json:"issuer,omitempty"`
	Name         string    `json:"name,omitempty"`
	ExternalID   string    `json:"external_id,omitempty"`
	RequestChain []string  `json:"request_chain,omitempty"`
	Validity     *Validity `json:"validity,omitempty"`
}

// Clone returns a deep copy of p.
func (p Principal) Clone() Principal {
	p.RequestChain = slices.Clone(p.RequestChain)
	p.Validity = p.Validity.Clone()
	return p
}

// Authorizations is the authorization payload of a token.
type Authorizations struct {
	Formal    Tags    `json:"formal_authorizations,omitempty"`
	Community Tags    `json:"external_community_authorizations,omitempty"`
	Groups    []int64 `json:"platform_object_authorizations,omitempty"`
}

// Community describes one external community membership of a user.
type Community struct {
	Name         string   `json:"name"`
	Type         string   `json:"type,omitempty"`
	Groups       []string `json:"groups,omitempty"`
	Topics       []string `json:"topics,omitempty"`
	Regions      []string `json:"regions,omitempty"`
	Flags        []string `json:"flags,omitempty"`
	Organization string   `json:"organization,omitempty"`
}

// Token is the signed credential returned to callers.
type Token struct {
	ID             string         `json:"id"`
	Type           Type           `json:"type"`
	Principal      Principal      `json:"principal"`
	Validity       Validity       `json:"validity"`
	Level          string         `json:"authorization_level,omitempty"`
	Authorizations Authorizations `json:"authorizations"`

	Citizenship   string              `json:"citizenship,omitempty"`
	Organization  string              `json:"organization,omitempty"`
	ProjectGroups map[string][]string `json:"project_groups,omitempty"`
	Communities   []Community         `json:"communities,omitempty"`

	// ValidForExternalRequest marks tokens that may be forwarded to a
	// system outside the platform.
	ValidForExternalRequest bool `json:"valid_for_external_request,omitempty"`
}

// Clone returns a deep copy of t.
func (t *Token) Clone() *Token {
	if t == nil {
		return nil
	}
	c := *t
	c.Principal = t.Principal.Clone()
	c.Validity.Signature = slices.Clone(t.Validity.Signature)
	c.Authorizations = Authorizations{
		Formal:    slices.Clone(t.Authorizations.Formal),
		Community: slices.Clone(t.Authorizations.Community),
		Groups:    slices.Clone(t.Authorizations.Groups),
	}
	if t.ProjectGroups != nil {
		c.ProjectGroups = make(map[string][]string, len(t.ProjectGroups))
		for k, v := range t.ProjectGroups {
			c.ProjectGroups[k] = slices.Clone(v)
		}
	}
	c.Communities = slices.Clone(t.Communities)
	return &c
}
