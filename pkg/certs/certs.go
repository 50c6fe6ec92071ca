// Package certs generates self-signed certificates for secure test
// containers and builds the matching server and client TLS configurations.
package certs

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"os"
	"time"

	"github.com/cockroachdb/errors"
)

// Config describes a certificate to generate.
type Config struct {
	Organization string
	// Hosts become the certificate's DNS names, or IP addresses when they
	// parse as one. The first host is the common name.
	Hosts    []string
	ValidFor time.Duration
}

// DefaultConfig covers the loopback names a test container is reached by.
func DefaultConfig() Config {
	return Config{
		Organization: "apptest",
		Hosts:        []string{"localhost", "127.0.0.1", "::1"},
		ValidFor:     24 * time.Hour,
	}
}

// Certificate is a generated or loaded certificate with its private key.
type Certificate struct {
	Leaf    *x509.Certificate
	CertPEM []byte
	KeyPEM  []byte
}

// Generate creates a self-signed ECDSA P-256 certificate. Zero fields of cfg
// take their DefaultConfig values.
func Generate(cfg Config) (*Certificate, error) {
	def := DefaultConfig()
	if cfg.Organization == "" {
		cfg.Organization = def.Organization
	}
	if len(cfg.Hosts) == 0 {
		cfg.Hosts = def.Hosts
	}
	if cfg.ValidFor <= 0 {
		cfg.ValidFor = def.ValidFor
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, errors.Wrap(err, "generating private key")
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, errors.Wrap(err, "generating serial number")
	}

	// backdated so clocks of client and server may disagree a little
	notBefore := time.Now().Add(-time.Minute)
	tmpl := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization: []string{cfg.Organization},
			CommonName:   cfg.Hosts[0],
		},
		NotBefore:             notBefore,
		NotAfter:              notBefore.Add(cfg.ValidFor),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	for _, h := range cfg.Hosts {
		if ip := net.ParseIP(h); ip != nil {
			tmpl.IPAddresses = append(tmpl.IPAddresses, ip)
		} else {
			tmpl.DNSNames = append(tmpl.DNSNames, h)
		}
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return nil, errors.Wrap(err, "creating certificate")
	}
	leaf, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, errors.Wrap(err, "parsing certificate")
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return nil, errors.Wrap(err, "marshaling private key")
	}

	return &Certificate{
		Leaf:    leaf,
		CertPEM: pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}),
		KeyPEM:  pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}),
	}, nil
}

// Parse builds a Certificate from PEM encoded certificate and key.
func Parse(certPEM, keyPEM []byte) (*Certificate, error) {
	pair, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, errors.Wrap(err, "parsing key pair")
	}
	leaf, err := x509.ParseCertificate(pair.Certificate[0])
	if err != nil {
		return nil, errors.Wrap(err, "parsing certificate")
	}
	return &Certificate{Leaf: leaf, CertPEM: certPEM, KeyPEM: keyPEM}, nil
}

// Load reads a PEM certificate and key from files.
func Load(certFile, keyFile string) (*Certificate, error) {
	certPEM, err := os.ReadFile(certFile)
	if err != nil {
		return nil, errors.Wrap(err, "reading certificate")
	}
	keyPEM, err := os.ReadFile(keyFile)
	if err != nil {
		return nil, errors.Wrap(err, "reading private key")
	}
	return Parse(certPEM, keyPEM)
}

// ServerConfig returns a TLS configuration presenting the certificate.
func (c *Certificate) ServerConfig() (*tls.Config, error) {
	pair, err := tls.X509KeyPair(c.CertPEM, c.KeyPEM)
	if err != nil {
		return nil, errors.Wrap(err, "building key pair")
	}
	return &tls.Config{
		Certificates: []tls.Certificate{pair},
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// ClientConfig returns a TLS configuration that trusts the certificate.
func (c *Certificate) ClientConfig() *tls.Config {
	pool := x509.NewCertPool()
	pool.AddCert(c.Leaf)
	return &tls.Config{
		RootCAs:    pool,
		MinVersion: tls.VersionTLS12,
	}
}
