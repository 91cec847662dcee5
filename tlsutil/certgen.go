package tlsutil

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"time"
)

// CA is an ed25519 certificate authority.
type CA struct {
	Cert    *x509.Certificate
	CertPEM []byte
	Key     ed25519.PrivateKey
}

// Issued is a certificate and its PKCS#8 key, both PEM encoded.
type Issued struct {
	CertPEM []byte
	KeyPEM  []byte
}

// GenerateCA creates a self-signed CA valid for validity (ten years when 0).
func GenerateCA(commonName string, validity time.Duration) (*CA, error) {
	if commonName == "" {
		commonName = "etcdgw-ca"
	}
	if validity <= 0 {
		validity = 10 * 365 * 24 * time.Hour
	}
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate ca key: %w", err)
	}
	template, err := certTemplate(commonName, validity)
	if err != nil {
		return nil, err
	}
	template.IsCA = true
	template.BasicConstraintsValid = true
	template.MaxPathLenZero = true
	template.KeyUsage = x509.KeyUsageCertSign | x509.KeyUsageCRLSign | x509.KeyUsageDigitalSignature
	der, err := x509.CreateCertificate(rand.Reader, template, template, pub, priv)
	if err != nil {
		return nil, fmt.Errorf("create ca certificate: %w", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("parse ca certificate: %w", err)
	}
	return &CA{
		Cert:    cert,
		CertPEM: pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}),
		Key:     priv,
	}, nil
}

// IssueServer issues a server certificate for hosts (DNS names or IPs).
func (ca *CA) IssueServer(commonName string, hosts []string, validity time.Duration) (Issued, error) {
	return ca.issue(commonName, validity, x509.ExtKeyUsageServerAuth, func(t *x509.Certificate) {
		for _, host := range hosts {
			if ip := net.ParseIP(host); ip != nil {
				t.IPAddresses = append(t.IPAddresses, ip)
			} else if host != "" {
				t.DNSNames = append(t.DNSNames, host)
			}
		}
	})
}

// IssueClient issues a client certificate for mutual TLS.
func (ca *CA) IssueClient(commonName string, validity time.Duration) (Issued, error) {
	return ca.issue(commonName, validity, x509.ExtKeyUsageClientAuth, nil)
}

func (ca *CA) issue(commonName string, validity time.Duration, usage x509.ExtKeyUsage, mutate func(*x509.Certificate)) (Issued, error) {
	if ca == nil {
		return Issued{}, fmt.Errorf("ca is nil")
	}
	if validity <= 0 {
		validity = 365 * 24 * time.Hour
	}
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return Issued{}, fmt.Errorf("generate key: %w", err)
	}
	template, err := certTemplate(commonName, validity)
	if err != nil {
		return Issued{}, err
	}
	template.KeyUsage = x509.KeyUsageDigitalSignature
	template.ExtKeyUsage = []x509.ExtKeyUsage{usage}
	if mutate != nil {
		mutate(template)
	}
	der, err := x509.CreateCertificate(rand.Reader, template, ca.Cert, pub, ca.Key)
	if err != nil {
		return Issued{}, fmt.Errorf("create certificate: %w", err)
	}
	keyDER, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return Issued{}, fmt.Errorf("marshal key: %w", err)
	}
	return Issued{
		CertPEM: pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}),
		KeyPEM:  pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER}),
	}, nil
}

func certTemplate(commonName string, validity time.Duration) (*x509.Certificate, error) {
	serial, err := rand.Int(rand.Reader, big.NewInt(1<<62))
	if err != nil {
		return nil, fmt.Errorf("generate serial: %w", err)
	}
	now := time.Now().UTC()
	return &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: commonName},
		NotBefore:    now.Add(-time.Hour),
		NotAfter:     now.Add(validity),
	}, nil
}

// EncodeBundle concatenates the CA certificate with an optional client
// certificate and key into the format LoadBundle reads.
func EncodeBundle(caPEM []byte, client *Issued) []byte {
	var buf bytes.Buffer
	buf.Write(caPEM)
	if client != nil {
		buf.Write(client.CertPEM)
		buf.Write(client.KeyPEM)
	}
	return buf.Bytes()
}
