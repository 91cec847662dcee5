// Package tlsutil loads the PEM bundles etcdgw uses to reach HTTPS gateways
// and issues throwaway certificates for tests and local clusters.
package tlsutil

import (
	"bytes"
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"time"
)

// Bundle is a parsed PEM bundle. CA certificates verify the gateway; the
// optional client certificate and key enable mutual TLS.
type Bundle struct {
	CACerts     []*x509.Certificate
	CAPool      *x509.CertPool
	ClientCert  *x509.Certificate
	Certificate *tls.Certificate
}

// LoadBundle reads and parses the bundle at path.
func LoadBundle(path string) (*Bundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("tls bundle: read: %w", err)
	}
	return ParseBundle(data)
}

// ParseBundle parses concatenated PEM blocks. At least one CA certificate is
// required. A leaf certificate needs a matching private key in the bundle;
// further leaf certificates are treated as its intermediates.
func ParseBundle(data []byte) (*Bundle, error) {
	b := &Bundle{CAPool: x509.NewCertPool()}
	var (
		leafPEM []byte
		keys    [][]byte
		signers []crypto.Signer
	)
	for rest := data; ; {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		switch block.Type {
		case "CERTIFICATE":
			cert, err := x509.ParseCertificate(block.Bytes)
			if err != nil {
				return nil, fmt.Errorf("tls bundle: parse certificate: %w", err)
			}
			switch {
			case cert.IsCA:
				b.CACerts = append(b.CACerts, cert)
				b.CAPool.AddCert(cert)
			case b.ClientCert == nil:
				b.ClientCert = cert
				leafPEM = pem.EncodeToMemory(block)
			default:
				leafPEM = append(leafPEM, pem.EncodeToMemory(block)...)
			}
		case "PRIVATE KEY", "RSA PRIVATE KEY", "EC PRIVATE KEY":
			signer, err := parsePrivateKey(block)
			if err != nil {
				return nil, fmt.Errorf("tls bundle: parse private key: %w", err)
			}
			signers = append(signers, signer)
			keys = append(keys, pem.EncodeToMemory(block))
		}
	}
	if len(b.CACerts) == 0 {
		return nil, errors.New("tls bundle: CA certificate required")
	}
	if b.ClientCert == nil {
		return b, nil
	}
	for i, signer := range signers {
		if !publicKeysEqual(b.ClientCert.PublicKey, signer.Public()) {
			continue
		}
		pair, err := tls.X509KeyPair(leafPEM, keys[i])
		if err != nil {
			return nil, fmt.Errorf("tls bundle: build key pair: %w", err)
		}
		pair.Leaf = b.ClientCert
		b.Certificate = &pair
		return b, nil
	}
	return nil, errors.New("tls bundle: private key for client certificate not found")
}

// MutualTLS reports whether the bundle carries a client certificate.
func (b *Bundle) MutualTLS() bool { return b != nil && b.Certificate != nil }

// ClientTLSConfig returns a TLS configuration trusting only the bundle CAs.
// The server chain is verified against those CAs without a host name check,
// matching gateways addressed by IP.
func (b *Bundle) ClientTLSConfig() *tls.Config {
	cfg := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		RootCAs:            b.CAPool,
		InsecureSkipVerify: true,
		VerifyPeerCertificate: func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			return verifyServerCertificate(rawCerts, b.CAPool)
		},
	}
	if b.Certificate != nil {
		cfg.Certificates = []tls.Certificate{*b.Certificate}
	}
	return cfg
}

func verifyServerCertificate(rawCerts [][]byte, roots *x509.CertPool) error {
	if len(rawCerts) == 0 {
		return errors.New("tls: missing server certificate")
	}
	opts := x509.VerifyOptions{
		Roots:         roots,
		Intermediates: x509.NewCertPool(),
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		CurrentTime:   time.Now(),
	}
	var leaf *x509.Certificate
	for i, raw := range rawCerts {
		cert, err := x509.ParseCertificate(raw)
		if err != nil {
			return fmt.Errorf("tls: parse server certificate: %w", err)
		}
		if i == 0 {
			leaf = cert
			continue
		}
		opts.Intermediates.AddCert(cert)
	}
	if _, err := leaf.Verify(opts); err != nil {
		return fmt.Errorf("tls: verify server certificate: %w", err)
	}
	return nil
}

func parsePrivateKey(block *pem.Block) (crypto.Signer, error) {
	switch block.Type {
	case "RSA PRIVATE KEY":
		return x509.ParsePKCS1PrivateKey(block.Bytes)
	case "EC PRIVATE KEY":
		return x509.ParseECPrivateKey(block.Bytes)
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	signer, ok := key.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("unsupported private key %T", key)
	}
	return signer, nil
}

func publicKeysEqual(a, b crypto.PublicKey) bool {
	switch ka := a.(type) {
	case ed25519.PublicKey:
		kb, ok := b.(ed25519.PublicKey)
		return ok && bytes.Equal(ka, kb)
	case *ecdsa.PublicKey:
		kb, ok := b.(*ecdsa.PublicKey)
		return ok && ka.Equal(kb)
	case *rsa.PublicKey:
		kb, ok := b.(*rsa.PublicKey)
		return ok && ka.Equal(kb)
	}
	return false
}
