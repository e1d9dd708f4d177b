package config

import (
	"os"
	"testing"
)

func TestLoad_RequiresDatabaseURL(t *testing.T) {
	os.Unsetenv("DATABASE_URL")
	if _, err := Load(); err == nil {
		t.Fatal("expected error when DATABASE_URL is missing")
	}
}

func TestLoad_Defaults(t *testing.T) {
	os.Setenv("DATABASE_URL", "postgres://localhost/ehrsync_test")
	defer os.Unsetenv("DATABASE_URL")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "8000" {
		t.Errorf("expected default port 8000, got %s", cfg.Port)
	}
	if !cfg.IsDev() {
		t.Error("expected development mode by default")
	}
	if cfg.SyncMaxConcurrent != 4 {
		t.Errorf("expected default SYNC_MAX_CONCURRENT=4, got %d", cfg.SyncMaxConcurrent)
	}
	if cfg.VendorTimeout().Seconds() != 30 {
		t.Errorf("expected default vendor timeout 30s, got %v", cfg.VendorTimeout())
	}
}

func TestValidate_WebhookSecretRequiredInProduction(t *testing.T) {
	cfg := &Config{
		Env:               "production",
		WebhookURL:        "https://hooks.example.com/conflicts",
		AuditSink:         "log",
		SyncMaxConcurrent: 4,
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unsigned webhook in production")
	}

	cfg.WebhookSecret = "shhh"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_AuditSink(t *testing.T) {
	cfg := &Config{Env: "development", AuditSink: "kafka", SyncMaxConcurrent: 1}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unsupported audit sink")
	}
	cfg.AuditSink = "postgres"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_SyncMaxConcurrent(t *testing.T) {
	cfg := &Config{Env: "development", AuditSink: "log", SyncMaxConcurrent: 0}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for SYNC_MAX_CONCURRENT < 1")
	}
}
