package fhir

import (
	"testing"
)

func TestParseBundle_SearchSet(t *testing.T) {
	raw := []byte(`{
		"resourceType": "Bundle",
		"type": "searchset",
		"total": 2,
		"link": [
			{"relation": "self", "url": "https://fhir.example.com/Patient?name=smith"},
			{"relation": "next", "url": "https://fhir.example.com/Patient?name=smith&_offset=20"}
		],
		"entry": [
			{"resource": {"resourceType": "Patient", "id": "p1"}},
			{"resource": {"resourceType": "Patient", "id": "p2"}}
		]
	}`)

	b, err := ParseBundle(raw)
	if err != nil {
		t.Fatalf("ParseBundle: %v", err)
	}
	if b.Type != "searchset" {
		t.Errorf("expected searchset, got %q", b.Type)
	}
	if got := b.NextLink(); got != "https://fhir.example.com/Patient?name=smith&_offset=20" {
		t.Errorf("unexpected next link: %q", got)
	}

	resources, err := b.Resources()
	if err != nil {
		t.Fatalf("Resources: %v", err)
	}
	if len(resources) != 2 {
		t.Fatalf("expected 2 resources, got %d", len(resources))
	}
	if resources[0]["id"] != "p1" {
		t.Errorf("unexpected first resource: %v", resources[0])
	}
}

func TestParseBundle_WrongResourceType(t *testing.T) {
	if _, err := ParseBundle([]byte(`{"resourceType": "Patient", "id": "x"}`)); err == nil {
		t.Fatal("expected error for non-bundle resource")
	}
}

func TestParseReference(t *testing.T) {
	cases := []struct {
		ref      string
		wantType string
		wantID   string
		wantErr  bool
	}{
		{"Patient/123", "Patient", "123", false},
		{"https://fhir.example.com/r4/Patient/abc", "Patient", "abc", false},
		{"garbage", "", "", true},
	}
	for _, tc := range cases {
		rt, id, err := ParseReference(tc.ref)
		if tc.wantErr {
			if err == nil {
				t.Errorf("%s: expected error", tc.ref)
			}
			continue
		}
		if err != nil {
			t.Errorf("%s: %v", tc.ref, err)
			continue
		}
		if rt != tc.wantType || id != tc.wantID {
			t.Errorf("%s: got (%s, %s)", tc.ref, rt, id)
		}
	}
}

func TestBundle_NextLink_LastPage(t *testing.T) {
	b := &Bundle{Link: []BundleLink{{Relation: "self", URL: "x"}}}
	if got := b.NextLink(); got != "" {
		t.Errorf("expected empty next link, got %q", got)
	}
}
