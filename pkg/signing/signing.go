// Package signing provides the asymmetric sign and verify primitive used
// for tokens, principals and requests. It is a thin layer over the
// golang-jwt signing methods: the same key material signs detached
// signatures over canonical CBOR bytes and, for user-info responses,
// complete JWTs.
//
// RSA keys sign with RS256, ECDSA keys with ES256/ES384/ES512 according to
// the curve, and Ed25519 keys with EdDSA.
package signing

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	sserr "github.com/StricklySoft/ezsecurity/pkg/errors"
)

// Verifier checks a detached signature.
type Verifier interface {
	Verify(data, signature []byte) error
}

// Signer produces detached signatures and can verify its own.
type Signer interface {
	Verifier
	Sign(data []byte) ([]byte, error)
}

// Key is an asymmetric key bound to its signing method. A Key built from
// a public key can only verify. Key is immutable and safe for concurrent
// use.
type Key struct {
	method  jwt.SigningMethod
	private crypto.PrivateKey
	public  crypto.PublicKey
}

var (
	_ Signer   = (*Key)(nil)
	_ Verifier = (*Key)(nil)
)

// New returns a signing Key for an RSA, ECDSA or Ed25519 private key.
func New(private crypto.Signer) (*Key, error) {
	method, err := methodFor(private.Public())
	if err != nil {
		return nil, err
	}
	return &Key{method: method, private: private, public: private.Public()}, nil
}

// NewPublic returns a verify-only Key.
func NewPublic(public crypto.PublicKey) (*Key, error) {
	method, err := methodFor(public)
	if err != nil {
		return nil, err
	}
	return &Key{method: method, public: public}, nil
}

func methodFor(public crypto.PublicKey) (jwt.SigningMethod, error) {
	switch k := public.(type) {
	case *rsa.PublicKey:
		return jwt.SigningMethodRS256, nil
	case *ecdsa.PublicKey:
		switch k.Curve {
		case elliptic.P256():
			return jwt.SigningMethodES256, nil
		case elliptic.P384():
			return jwt.SigningMethodES384, nil
		case elliptic.P521():
			return jwt.SigningMethodES512, nil
		}
		return nil, sserr.Newf(sserr.CodeValidationFormat, "signing: unsupported curve %s", k.Curve.Params().Name)
	case ed25519.PublicKey:
		return jwt.SigningMethodEdDSA, nil
	default:
		return nil, sserr.Newf(sserr.CodeValidationFormat, "signing: unsupported key type %T", public)
	}
}

// ParsePrivateKeyPEM parses a PEM encoded RSA, EC or Ed25519 private key.
func ParsePrivateKeyPEM(data []byte) (*Key, error) {
	if k, err := jwt.ParseRSAPrivateKeyFromPEM(data); err == nil {
		return New(k)
	}
	if k, err := jwt.ParseECPrivateKeyFromPEM(data); err == nil {
		return New(k)
	}
	k, err := jwt.ParseEdPrivateKeyFromPEM(data)
	if err != nil {
		return nil, sserr.Wrap(err, sserr.CodeValidationFormat, "signing: unrecognized private key")
	}
	signer, ok := k.(crypto.Signer)
	if !ok {
		return nil, sserr.Newf(sserr.CodeValidationFormat, "signing: private key %T cannot sign", k)
	}
	return New(signer)
}

// ParsePublicKeyPEM parses a PEM encoded RSA, EC or Ed25519 public key.
func ParsePublicKeyPEM(data []byte) (*Key, error) {
	if k, err := jwt.ParseRSAPublicKeyFromPEM(data); err == nil {
		return NewPublic(k)
	}
	if k, err := jwt.ParseECPublicKeyFromPEM(data); err == nil {
		return NewPublic(k)
	}
	k, err := jwt.ParseEdPublicKeyFromPEM(data)
	if err != nil {
		return nil, sserr.Wrap(err, sserr.CodeValidationFormat, "signing: unrecognized public key")
	}
	return NewPublic(k)
}

// EncodePublicKeyPEM renders a public key as a PKIX "PUBLIC KEY" block,
// the format registrations store.
func EncodePublicKeyPEM(public crypto.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(public)
	if err != nil {
		return "", sserr.Wrap(err, sserr.CodeValidationFormat, "signing: marshal public key")
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})), nil
}

// Algorithm returns the JWS algorithm name of the key.
func (k *Key) Algorithm() string { return k.method.Alg() }

// Public returns the public half of the key.
func (k *Key) Public() crypto.PublicKey { return k.public }

// CanSign reports whether the key holds private material.
func (k *Key) CanSign() bool { return k.private != nil }

// PublicOnly returns a verify-only copy of the key.
func (k *Key) PublicOnly() *Key {
	return &Key{method: k.method, public: k.public}
}

// Sign returns a detached signature over data.
func (k *Key) Sign(data []byte) ([]byte, error) {
	if k.private == nil {
		return nil, sserr.New(sserr.CodeInternalSigning, "signing: key has no private material")
	}
	sig, err := k.method.Sign(string(data), k.private)
	if err != nil {
		return nil, sserr.Wrap(err, sserr.CodeInternalSigning, "signing: sign failed")
	}
	return sig, nil
}

// Verify checks signature over data. Any mismatch, including an empty
// signature, is reported with [sserr.CodeSignatureInvalid].
func (k *Key) Verify(data, signature []byte) error {
	if len(signature) == 0 {
		return sserr.New(sserr.CodeSignatureInvalid, "signing: missing signature")
	}
	if err := k.method.Verify(string(data), signature, k.public); err != nil {
		return sserr.Wrap(err, sserr.CodeSignatureInvalid, "signing: signature does not verify")
	}
	return nil
}

// String identifies the key without exposing material.
func (k *Key) String() string {
	kind := "public"
	if k.private != nil {
		kind = "private"
	}
	return fmt.Sprintf("signing.Key(%s, %s)", k.method.Alg(), kind)
}
