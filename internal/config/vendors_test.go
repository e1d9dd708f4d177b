package config

import "testing"

func TestLoadVendors_Empty(t *testing.T) {
	if got := LoadVendors(); len(got) != 0 {
		t.Fatalf("expected no vendors without env, got %v", got)
	}
}

func TestLoadVendors_ReadsConfiguredVendors(t *testing.T) {
	t.Setenv("EPIC_BASE_URL", "https://fhir.epic.example.com")
	t.Setenv("EPIC_AUTH_STYLE", "smart_assertion")
	t.Setenv("EPIC_TOKEN_URL", "https://auth.epic.example.com/token")
	t.Setenv("EPIC_CLIENT_ID", "epic-client")
	t.Setenv("EPIC_SCOPES", "system/Patient.read, system/Observation.read")
	t.Setenv("MEDITECH_BASE_URL", "https://api.meditech.example.com")
	t.Setenv("MEDITECH_API_KEY", "mt-key")
	t.Setenv("MEDITECH_USE_HL7", "true")

	got := LoadVendors()
	if len(got) != 2 {
		t.Fatalf("expected 2 vendors, got %v", got)
	}

	epic := got["epic"]
	if epic.AuthStyle != "smart_assertion" || epic.ClientID != "epic-client" {
		t.Fatalf("unexpected epic settings: %+v", epic)
	}
	if len(epic.Scopes) != 2 || epic.Scopes[1] != "system/Observation.read" {
		t.Fatalf("scopes not parsed: %v", epic.Scopes)
	}

	mt := got["meditech"]
	if !mt.UseHL7 {
		t.Fatal("MEDITECH_USE_HL7 not read")
	}
	if mt.AuthStyle != "api_key" {
		t.Fatalf("expected api_key auth default, got %q", mt.AuthStyle)
	}
}

func TestLoadVendors_DefaultsToClientCredentials(t *testing.T) {
	t.Setenv("CERNER_BASE_URL", "https://fhir.cerner.example.com")
	t.Setenv("CERNER_CLIENT_SECRET", "secret")

	got := LoadVendors()
	if got["cerner"].AuthStyle != "client_credentials" {
		t.Fatalf("expected client_credentials default, got %q", got["cerner"].AuthStyle)
	}
}
