package token

import (
	"github.com/golang-jwt/jwt/v5"
)

// Claims is the JWT rendering of a user token returned by the user-info
// operation. The registered claims carry the validity window; the private
// claims carry the identity attributes a web front-end displays.
type Claims struct {
	jwt.RegisteredClaims

	Type         Type     `json:"typ,omitempty"`
	Name         string   `json:"name,omitempty"`
	ExternalID   string   `json:"ext_id,omitempty"`
	Level        string   `json:"level,omitempty"`
	Citizenship  string   `json:"citizenship,omitempty"`
	Organization string   `json:"org,omitempty"`
	Formal       Tags     `json:"auths,omitempty"`
	Community    Tags     `json:"community_auths,omitempty"`
	Groups       []int64  `json:"groups,omitempty"`
	Chain        []string `json:"chain,omitempty"`
}

// NewClaims maps t onto JWT claims. The audience is the application the
// token was issued for.
func NewClaims(t *Token) *Claims {
	c := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:       t.ID,
			Issuer:   t.Validity.Issuer,
			Subject:  t.Principal.Subject,
			IssuedAt: jwt.NewNumericDate(t.Validity.IssuedTime),
		},
		Type:         t.Type,
		Name:         t.Principal.Name,
		ExternalID:   t.Principal.ExternalID,
		Level:        t.Level,
		Citizenship:  t.Citizenship,
		Organization: t.Organization,
		Formal:       t.Authorizations.Formal,
		Community:    t.Authorizations.Community,
		Groups:       t.Authorizations.Groups,
		Chain:        t.Principal.RequestChain,
	}
	if t.Validity.IssuedFor != "" {
		c.Audience = jwt.ClaimStrings{t.Validity.IssuedFor}
	}
	if !t.Validity.NotAfter.IsZero() {
		c.ExpiresAt = jwt.NewNumericDate(t.Validity.NotAfter)
	}
	if !t.Validity.NotBefore.IsZero() {
		c.NotBefore = jwt.NewNumericDate(t.Validity.NotBefore)
	}
	return c
}
