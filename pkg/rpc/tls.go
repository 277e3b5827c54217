package rpc

import (
	"crypto/tls"
	"crypto/x509"
	"os"

	"google.golang.org/grpc/credentials"

	sserr "github.com/StricklySoft/ezsecurity/pkg/errors"
)

// TLSConfig names the PEM files of an instance's certificate and of the
// CA that signs its peers. TLS is off when CertFile is empty.
type TLSConfig struct {
	CertFile string `env:"CERT_FILE" yaml:"cert_file" json:"cert_file" flag:"cert-file" usage:"PEM certificate presented to peers"`
	KeyFile  string `env:"KEY_FILE" yaml:"key_file" json:"key_file" flag:"key-file" usage:"PEM private key of the certificate"`
	CAFile   string `env:"CA_FILE" yaml:"ca_file" json:"ca_file" flag:"ca-file" usage:"PEM bundle of the CA that signs peer certificates"`
}

// Enabled reports whether a certificate is configured.
func (c TLSConfig) Enabled() bool { return c.CertFile != "" }

// Validate requires a key with the certificate.
func (c TLSConfig) Validate() error {
	if c.CertFile != "" && c.KeyFile == "" {
		return sserr.New(sserr.CodeValidation, "rpc: key_file is required with cert_file")
	}
	if c.CAFile != "" && c.CertFile == "" {
		return sserr.New(sserr.CodeValidation, "rpc: ca_file requires cert_file")
	}
	return nil
}

// ServerCredentials returns server credentials. With requireClientCert
// set, clients must present a certificate signed by the configured CA.
func (c TLSConfig) ServerCredentials(requireClientCert bool) (credentials.TransportCredentials, error) {
	cert, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
	if err != nil {
		return nil, sserr.Wrap(err, sserr.CodeInternalConfiguration, "rpc: load server certificate")
	}
	cfg := &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}
	if c.CAFile != "" {
		pool, err := loadPool(c.CAFile)
		if err != nil {
			return nil, err
		}
		cfg.ClientCAs = pool
		cfg.ClientAuth = tls.VerifyClientCertIfGiven
		if requireClientCert {
			cfg.ClientAuth = tls.RequireAndVerifyClientCert
		}
	} else if requireClientCert {
		return nil, sserr.New(sserr.CodeInternalConfiguration, "rpc: mutual TLS requires ca_file")
	}
	return credentials.NewTLS(cfg), nil
}

// ClientCredentials returns client credentials presenting the configured
// certificate and trusting the configured CA.
func (c TLSConfig) ClientCredentials(serverName string) (credentials.TransportCredentials, error) {
	cfg := &tls.Config{ServerName: serverName, MinVersion: tls.VersionTLS12}
	if c.CertFile != "" {
		cert, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
		if err != nil {
			return nil, sserr.Wrap(err, sserr.CodeInternalConfiguration, "rpc: load client certificate")
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	if c.CAFile != "" {
		pool, err := loadPool(c.CAFile)
		if err != nil {
			return nil, err
		}
		cfg.RootCAs = pool
	}
	return credentials.NewTLS(cfg), nil
}

func loadPool(path string) (*x509.CertPool, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, sserr.Wrapf(err, sserr.CodeInternalConfiguration, "rpc: read CA bundle %s", path)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, sserr.Newf(sserr.CodeInternalConfiguration, "rpc: no certificates in CA bundle %s", path)
	}
	return pool, nil
}
