// Package ca implements the dynamic root CA and per-host leaf certificate
// cache used to forge TLS certificates for MITM interception (C1).
package ca

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/int3rceptor/interceptor/errs"
	"github.com/int3rceptor/interceptor/internal/ilog"
)

const (
	commonName   = "Interceptor Proxy CA"
	leafValidity = 365 * 24 * time.Hour
	rootValidity = 10 * 365 * 24 * time.Hour
	rootBackdate = 24 * time.Hour
)

// CA holds the root certificate/key pair and a lock-free cache of forged
// leaf certificates keyed by hostname.
type CA struct {
	cert    *x509.Certificate
	key     *rsa.PrivateKey
	certPEM []byte
	keyPEM  []byte

	// leaves caches *tls.Certificate by host. sync.Map gives lock-free
	// reads on the hot SNI-dispatch path; duplicate concurrent generation
	// for the same host is wasted work, not a correctness bug.
	leaves sync.Map
}

// New loads a CA from dir if present, otherwise generates one and persists
// it there.
func New(dir string) (*CA, error) {
	certPath := filepath.Join(dir, "ca_cert.pem")
	keyPath := filepath.Join(dir, "ca_key.pem")

	if _, err := os.Stat(certPath); err == nil {
		if _, err := os.Stat(keyPath); err == nil {
			return load(certPath, keyPath)
		}
	}

	c, err := generate()
	if err != nil {
		return nil, err
	}
	if err := c.persist(dir); err != nil {
		return nil, err
	}
	return c, nil
}

func load(certPath, keyPath string) (*CA, error) {
	certPEM, err := os.ReadFile(certPath)
	if err != nil {
		return nil, errs.IO("reading ca cert", err)
	}
	keyPEM, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, errs.IO("reading ca key", err)
	}

	certBlock, _ := pem.Decode(certPEM)
	if certBlock == nil {
		return nil, errs.New(errs.KindTLSCertificate, "ca cert pem is malformed", nil)
	}
	cert, err := x509.ParseCertificate(certBlock.Bytes)
	if err != nil {
		return nil, errs.New(errs.KindTLSCertificate, "parsing ca cert", err)
	}

	keyBlock, _ := pem.Decode(keyPEM)
	if keyBlock == nil {
		return nil, errs.New(errs.KindTLSCertificate, "ca key pem is malformed", nil)
	}
	key, err := x509.ParsePKCS1PrivateKey(keyBlock.Bytes)
	if err != nil {
		return nil, errs.New(errs.KindTLSCertificate, "parsing ca key", err)
	}

	return &CA{cert: cert, key: key, certPEM: certPEM, keyPEM: keyPEM}, nil
}

func generate() (*CA, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, errs.CertificateGeneration("<root>", err.Error())
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 62))
	if err != nil {
		return nil, errs.CertificateGeneration("<root>", err.Error())
	}

	now := time.Now()
	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: commonName, Organization: []string{commonName}},
		NotBefore:             now.Add(-rootBackdate),
		NotAfter:              now.Add(rootValidity),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, errs.CertificateGeneration("<root>", err.Error())
	}

	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, errs.CertificateGeneration("<root>", err.Error())
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})

	return &CA{cert: cert, key: key, certPEM: certPEM, keyPEM: keyPEM}, nil
}

func (c *CA) persist(dir string) error {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return errs.IO("creating ca dir", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "ca_cert.pem"), c.certPEM, 0644); err != nil {
		return errs.IO("writing ca cert", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "ca_key.pem"), c.keyPEM, 0600); err != nil {
		return errs.IO("writing ca key", err)
	}
	return nil
}

// CAPEM returns the root certificate in PEM form.
func (c *CA) CAPEM() []byte { return c.certPEM }

// ExportCA writes the CA certificate (not the key) to path, for clients to
// import as a trusted root.
func (c *CA) ExportCA(path string) error {
	if err := os.WriteFile(path, c.certPEM, 0644); err != nil {
		return errs.IO("exporting ca cert", err)
	}
	return nil
}

// LeafFor returns a forged leaf certificate for host, generating and
// caching one on first use.
func (c *CA) LeafFor(host string) (*tls.Certificate, error) {
	if v, ok := c.leaves.Load(host); ok {
		return v.(*tls.Certificate), nil
	}

	leaf, err := c.generateLeaf(host)
	if err != nil {
		return nil, err
	}

	actual, loaded := c.leaves.LoadOrStore(host, leaf)
	if loaded {
		return actual.(*tls.Certificate), nil
	}
	return leaf, nil
}

func (c *CA) generateLeaf(host string) (*tls.Certificate, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, errs.CertificateGeneration(host, err.Error())
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 62))
	if err != nil {
		return nil, errs.CertificateGeneration(host, err.Error())
	}

	now := time.Now()
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: host},
		NotBefore:    now.Add(-rootBackdate),
		NotAfter:     now.Add(leafValidity),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}

	if ip := net.ParseIP(host); ip != nil {
		template.IPAddresses = []net.IP{ip}
	} else {
		template.DNSNames = []string{host}
	}

	der, err := x509.CreateCertificate(rand.Reader, template, c.cert, &key.PublicKey, c.key)
	if err != nil {
		return nil, errs.CertificateGeneration(host, err.Error())
	}

	ilog.Debug("minted leaf certificate", "host", host)

	return &tls.Certificate{
		Certificate: [][]byte{der, c.cert.Raw},
		PrivateKey:  key,
	}, nil
}
