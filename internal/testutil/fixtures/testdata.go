// Package fixtures provides the shared identities, keys, registrations
// and users used by the issuer, transport and service tests.
//
// The data mirrors a small deployment: two applications, the reserved
// EzSecurity and front-end registrations, and one user, "Jim Bob".
package fixtures

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/StricklySoft/ezsecurity/pkg/directory"
	"github.com/StricklySoft/ezsecurity/pkg/registration"
	"github.com/StricklySoft/ezsecurity/pkg/signing"
	"github.com/StricklySoft/ezsecurity/pkg/token"
)

// Application security ids.
const (
	App1 = "App1"
	App2 = "App2"

	// Unregistered is an id no fixture registers.
	Unregistered = "App404"
)

// User distinguished names.
const (
	JimBobDN = "CN=Jim Bob, OU=People, O=EzBake, C=US"
	AdminDN  = "CN=Ada Admin, OU=People, O=EzBake, C=US"
	GhostDN  = "CN=Nobody, OU=People, O=EzBake, C=US"
)

// Keys holds one signing key per fixture identity.
type Keys struct {
	Server *signing.Key
	EFE    *signing.Key
	App1   *signing.Key
	App2   *signing.Key
}

// NewKey generates a P-256 signing key.
func NewKey(t testing.TB) *signing.Key {
	t.Helper()
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	k, err := signing.New(priv)
	require.NoError(t, err)
	return k
}

// NewKeys generates a fresh key for every fixture identity.
func NewKeys(t testing.TB) Keys {
	t.Helper()
	return Keys{
		Server: NewKey(t),
		EFE:    NewKey(t),
		App1:   NewKey(t),
		App2:   NewKey(t),
	}
}

// PublicPEM renders the public half of k.
func PublicPEM(t testing.TB, k *signing.Key) string {
	t.Helper()
	p, err := signing.EncodePublicKeyPEM(k.Public())
	require.NoError(t, err)
	return p
}

// Registrations returns the fixture registrations with public keys from
// keys. App1 holds {ezbake,42six,CSC,USA} at level high; App2 holds
// {ezbake,42six} at level low.
func Registrations(t testing.TB, keys Keys) []registration.Registration {
	t.Helper()
	return []registration.Registration{
		{
			ID:        registration.EzSecurity.CN,
			Name:      "EzSecurity",
			PublicKey: PublicPEM(t, keys.Server),
			Level:     "high",
			DN:        "CN=_Ez_Security",
		},
		{
			ID:        registration.EFE.CN,
			Name:      "EzFrontEnd",
			PublicKey: PublicPEM(t, keys.EFE),
			Level:     "high",
			Formal:    token.Tags{"42six", "CSC", "USA", "ezbake", "high"},
			Community: token.Tags{"EzBake"},
			DN:        "CN=_Ez_EFE",
		},
		{
			ID:        App1,
			Name:      "Application One",
			PublicKey: PublicPEM(t, keys.App1),
			Level:     "high",
			Formal:    token.Tags{"ezbake", "42six", "CSC", "USA"},
			Community: token.Tags{"EzBake", "Analyst"},
			DN:        "CN=App1, OU=Apps, O=EzBake",
		},
		{
			ID:        App2,
			Name:      "Application Two",
			PublicKey: PublicPEM(t, keys.App2),
			Level:     "low",
			Formal:    token.Tags{"ezbake", "42six"},
			Community: token.Tags{"EzBake"},
			DN:        "CN=App2, OU=Apps, O=EzBake",
		},
	}
}

// JimBob returns the standard user: authorizations {ezbake,42six},
// citizenship USA, level high, organization CSC.
func JimBob() *directory.User {
	return &directory.User{
		DN:        JimBobDN,
		Name:      "Jim Bob",
		FirstName: "Jim",
		Surname:   "Bob",
		UID:       "jbob",
		Company:   "42six",
		Auths: directory.Authorizations{
			Level:        "high",
			Auths:        token.Tags{"ezbake", "42six"},
			Community:    token.Tags{"EzBake", "Analyst"},
			Citizenship:  "USA",
			Organization: "CSC",
		},
		Projects: map[string][]string{"ezbake": {"users"}},
	}
}

// Admin returns a user the fixture admin registry lists.
func Admin() *directory.User {
	return &directory.User{
		DN:   AdminDN,
		Name: "Ada Admin",
		UID:  "aadmin",
		Auths: directory.Authorizations{
			Level:        "high",
			Auths:        token.Tags{"ezbake"},
			Citizenship:  "USA",
			Organization: "CSC",
		},
	}
}

// Directory returns an in-memory directory holding JimBob and Admin.
func Directory() *directory.FileDirectory {
	return directory.NewFileDirectory(map[string]*directory.User{
		JimBobDN: JimBob(),
		AdminDN:  Admin(),
	})
}
