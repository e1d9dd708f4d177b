package main

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ehrsync/ehrsync/internal/canonical"
	"github.com/ehrsync/ehrsync/internal/config"
	"github.com/ehrsync/ehrsync/internal/gateway"
)

func TestVendorQuirks_ProprietaryPreservesUnmapped(t *testing.T) {
	for _, p := range []canonical.Provider{canonical.ProviderMeditech, canonical.ProviderAllscripts, canonical.ProviderNextgen} {
		if !vendorQuirks(p).PreserveUnmapped {
			t.Errorf("%s should preserve unmapped fields", p)
		}
	}
	for _, p := range []canonical.Provider{canonical.ProviderEpic, canonical.ProviderCerner, canonical.ProviderAthenahealth, canonical.ProviderEclinicalworks} {
		if vendorQuirks(p).PreserveUnmapped {
			t.Errorf("%s should not preserve unmapped fields", p)
		}
	}
}

func TestGatewayConfig_ClientCredentials(t *testing.T) {
	vs := config.VendorSettings{
		BaseURL:      "https://fhir.example.com",
		AuthStyle:    "client_credentials",
		TokenURL:     "https://auth.example.com/token",
		ClientID:     "client",
		ClientSecret: "secret",
		Scopes:       []string{"system/Patient.read"},
	}
	got, err := gatewayConfig(canonical.ProviderEpic, vs, 15*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if got.AuthStyle != gateway.AuthClientCredentials {
		t.Fatalf("auth style = %q", got.AuthStyle)
	}
	if got.Timeout != 15*time.Second || got.BaseURL != vs.BaseURL {
		t.Fatalf("unexpected config: %+v", got)
	}
	if got.SigningKey != nil {
		t.Fatal("no signing key expected")
	}
}

func TestGatewayConfig_LoadsSigningKey(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	pemBytes := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
	path := filepath.Join(t.TempDir(), "signing.pem")
	if err := os.WriteFile(path, pemBytes, 0o600); err != nil {
		t.Fatal(err)
	}

	vs := config.VendorSettings{
		BaseURL:        "https://fhir.example.com",
		AuthStyle:      "smart_assertion",
		SigningKeyFile: path,
		SigningKeyID:   "key-1",
	}
	got, err := gatewayConfig(canonical.ProviderEpic, vs, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if got.SigningKey == nil {
		t.Fatal("signing key not loaded")
	}
	if got.SigningKeyID != "key-1" {
		t.Fatalf("signing key id = %q", got.SigningKeyID)
	}
}

func TestGatewayConfig_BadSigningKeyFile(t *testing.T) {
	vs := config.VendorSettings{
		BaseURL:        "https://fhir.example.com",
		AuthStyle:      "smart_assertion",
		SigningKeyFile: filepath.Join(t.TempDir(), "missing.pem"),
	}
	if _, err := gatewayConfig(canonical.ProviderEpic, vs, time.Second); err == nil {
		t.Fatal("expected error for missing key file")
	}
}
