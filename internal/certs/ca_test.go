package certs

import (
	"crypto/tls"
	"testing"
)

func TestLoadGeneratesRootOnFirstUse(t *testing.T) {
	dir := t.TempDir()

	a, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !a.rootCert.IsCA {
		t.Error("root certificate should have IsCA set")
	}
	if len(a.RootCertPEM()) == 0 {
		t.Error("expected non-empty root cert PEM")
	}
}

func TestLoadReusesPersistedRoot(t *testing.T) {
	dir := t.TempDir()

	a1, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	a2, err := Load(dir)
	if err != nil {
		t.Fatalf("second Load: %v", err)
	}
	if a1.rootCert.SerialNumber.Cmp(a2.rootCert.SerialNumber) != 0 {
		t.Error("expected reloaded root CA to have the same serial number")
	}
}

func TestLeafForIssuesAndCaches(t *testing.T) {
	a, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	leaf1, err := a.LeafFor("example.com")
	if err != nil {
		t.Fatalf("LeafFor: %v", err)
	}
	leaf2, err := a.LeafFor("example.com")
	if err != nil {
		t.Fatalf("LeafFor second call: %v", err)
	}
	if leaf1 != leaf2 {
		t.Error("expected cached leaf certificate to be returned on second call")
	}

	other, err := a.LeafFor("other.example.com")
	if err != nil {
		t.Fatalf("LeafFor other host: %v", err)
	}
	if other == leaf1 {
		t.Error("expected distinct leaf certificates for distinct hosts")
	}
}

func TestGetCertificateRequiresSNI(t *testing.T) {
	a, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, err := a.GetCertificate(&tls.ClientHelloInfo{}); err == nil {
		t.Error("expected error when ClientHelloInfo carries no server name")
	}
}
