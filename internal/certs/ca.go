// Package certs implements the MITM certificate authority:
// a persistent root CA and an in-memory cache of on-demand leaf
// certificates, one per intercepted hostname. No third-party library in
// the retrieved example pack offers certificate-authority machinery — even
// the interception proxies in the pack (e.g. the CA.GenerateCert(host)
// shape referenced by majorcontext-moat's CONNECT handler) build this on
// crypto/x509 and crypto/rsa directly, so relayforge does the same.
package certs

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	rootKeyBits = 2048
	leafKeyBits = 2048
	rootValidity = 10 * 365 * 24 * time.Hour
	leafValidity = 365 * 24 * time.Hour

	rootCertFile = "ca-cert.pem"
	rootKeyFile  = "ca-key.pem"
)

// Authority owns the root CA key pair and certificate, and issues and
// caches leaf certificates on demand.
type Authority struct {
	rootCert *x509.Certificate
	rootKey  *rsa.PrivateKey

	mu    sync.RWMutex
	cache map[string]*tls.Certificate

	serialMu sync.Mutex
	lastSerial int64
}

// Load loads the root CA from dir/ca-{cert,key}.pem, generating and
// persisting a fresh one if either file is absent.
func Load(dir string) (*Authority, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating certs dir: %w", err)
	}

	certPath := filepath.Join(dir, rootCertFile)
	keyPath := filepath.Join(dir, rootKeyFile)

	cert, key, err := loadRoot(certPath, keyPath)
	if err == nil {
		return &Authority{rootCert: cert, rootKey: key, cache: make(map[string]*tls.Certificate)}, nil
	}
	if !os.IsNotExist(err) {
		return nil, err
	}

	cert, key, err = generateRoot()
	if err != nil {
		return nil, fmt.Errorf("generating root CA: %w", err)
	}
	if err := persistRoot(certPath, keyPath, cert, key); err != nil {
		return nil, fmt.Errorf("persisting root CA: %w", err)
	}
	return &Authority{rootCert: cert, rootKey: key, cache: make(map[string]*tls.Certificate)}, nil
}

// RootCertPEM returns the root certificate in PEM form, for export/install
// flows served by the control plane.
func (a *Authority) RootCertPEM() []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: a.rootCert.Raw})
}

// LeafFor returns the cached leaf certificate for host, issuing and
// caching one on first use. Safe for concurrent callers (e.g. concurrent
// TLS handshakes for the same SNI host race here; the loser's issued
// certificate is discarded in favour of whichever stored first).
func (a *Authority) LeafFor(host string) (*tls.Certificate, error) {
	a.mu.RLock()
	if c, ok := a.cache[host]; ok {
		a.mu.RUnlock()
		return c, nil
	}
	a.mu.RUnlock()

	cert, err := a.issueLeaf(host)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	if existing, ok := a.cache[host]; ok {
		a.mu.Unlock()
		return existing, nil
	}
	a.cache[host] = cert
	a.mu.Unlock()
	return cert, nil
}

// GetCertificate adapts LeafFor to tls.Config.GetCertificate, dispatching
// on the SNI server name presented during the handshake.
func (a *Authority) GetCertificate(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
	host := hello.ServerName
	if host == "" {
		return nil, fmt.Errorf("certs: client hello carries no SNI server name")
	}
	return a.LeafFor(host)
}

func (a *Authority) issueLeaf(host string) (*tls.Certificate, error) {
	key, err := rsa.GenerateKey(rand.Reader, leafKeyBits)
	if err != nil {
		return nil, fmt.Errorf("generating leaf key for %s: %w", host, err)
	}

	template := &x509.Certificate{
		SerialNumber: big.NewInt(a.nextSerial()),
		Subject:      pkix.Name{CommonName: host},
		Issuer:       a.rootCert.Subject,
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(leafValidity),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageContentCommitment | x509.KeyUsageKeyEncipherment | x509.KeyUsageDataEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
		IsCA:        false,
		DNSNames:    []string{host, "*." + host},
	}

	der, err := x509.CreateCertificate(rand.Reader, template, a.rootCert, &key.PublicKey, a.rootKey)
	if err != nil {
		return nil, fmt.Errorf("signing leaf cert for %s: %w", host, err)
	}

	return &tls.Certificate{
		Certificate: [][]byte{der, a.rootCert.Raw},
		PrivateKey:  key,
	}, nil
}

// nextSerial returns a monotonically increasing serial derived from
// current-time-in-ms, bumped by one on collision so concurrent issuance
// within the same millisecond stays unique.
func (a *Authority) nextSerial() int64 {
	a.serialMu.Lock()
	defer a.serialMu.Unlock()
	s := time.Now().UnixMilli()
	if s <= a.lastSerial {
		s = a.lastSerial + 1
	}
	a.lastSerial = s
	return s
}

func generateRoot() (*x509.Certificate, *rsa.PrivateKey, error) {
	key, err := rsa.GenerateKey(rand.Reader, rootKeyBits)
	if err != nil {
		return nil, nil, err
	}

	ski, err := subjectKeyID(&key.PublicKey)
	if err != nil {
		return nil, nil, err
	}

	template := &x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject:      pkix.Name{CommonName: "relayforge Root CA", Organization: []string{"relayforge"}},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(rootValidity),
		KeyUsage: x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature | x509.KeyUsageContentCommitment |
			x509.KeyUsageKeyEncipherment | x509.KeyUsageDataEncipherment,
		ExtKeyUsage: []x509.ExtKeyUsage{
			x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth, x509.ExtKeyUsageCodeSigning,
			x509.ExtKeyUsageEmailProtection, x509.ExtKeyUsageTimeStamping,
		},
		BasicConstraintsValid: true,
		IsCA:                  true,
		SubjectKeyId:          ski,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, nil, err
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, nil, err
	}
	return cert, key, nil
}

func subjectKeyID(pub *rsa.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, err
	}
	sum := sha1.Sum(der)
	return sum[:], nil
}

func loadRoot(certPath, keyPath string) (*x509.Certificate, *rsa.PrivateKey, error) {
	certPEM, err := os.ReadFile(certPath)
	if err != nil {
		return nil, nil, err
	}
	keyPEM, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, nil, err
	}

	certBlock, _ := pem.Decode(certPEM)
	if certBlock == nil {
		return nil, nil, fmt.Errorf("certs: %s contains no PEM block", certPath)
	}
	cert, err := x509.ParseCertificate(certBlock.Bytes)
	if err != nil {
		return nil, nil, fmt.Errorf("parsing root certificate: %w", err)
	}

	keyBlock, _ := pem.Decode(keyPEM)
	if keyBlock == nil {
		return nil, nil, fmt.Errorf("certs: %s contains no PEM block", keyPath)
	}
	key, err := x509.ParsePKCS1PrivateKey(keyBlock.Bytes)
	if err != nil {
		return nil, nil, fmt.Errorf("parsing root key: %w", err)
	}

	return cert, key, nil
}

func persistRoot(certPath, keyPath string, cert *x509.Certificate, key *rsa.PrivateKey) error {
	certOut := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw})
	if err := os.WriteFile(certPath, certOut, 0o644); err != nil {
		return err
	}
	keyOut := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	return os.WriteFile(keyPath, keyOut, 0o600)
}
