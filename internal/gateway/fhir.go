package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/rs/zerolog"

	"github.com/ehrsync/ehrsync/internal/canonical"
	"github.com/ehrsync/ehrsync/internal/platform/fhir"
	"github.com/ehrsync/ehrsync/internal/transform"
)

// fhirResourceNames maps canonical resource types to R4 resource names.
var fhirResourceNames = map[canonical.ResourceType]string{
	canonical.ResourcePatient:     "Patient",
	canonical.ResourceEncounter:   "Encounter",
	canonical.ResourceObservation: "Observation",
	canonical.ResourceMedication:  "MedicationRequest",
	canonical.ResourceAllergy:     "AllergyIntolerance",
	canonical.ResourceCondition:   "Condition",
}

// maxBundlePages caps next-link chasing on vendor searches.
const maxBundlePages = 10

type fhirGateway struct {
	cfg    ProviderConfig
	client *http.Client
	tokens *tokenSource
	log    zerolog.Logger
}

func newFHIRGateway(cfg ProviderConfig, client *http.Client, log zerolog.Logger) (Gateway, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%s: base URL is required", cfg.Provider)
	}
	if cfg.AuthStyle != AuthClientCredentials && cfg.AuthStyle != AuthSMARTAssertion {
		return nil, fmt.Errorf("%s: FHIR vendors authenticate with OAuth2, got %q", cfg.Provider, cfg.AuthStyle)
	}
	if cfg.TokenURL == "" {
		return nil, fmt.Errorf("%s: token URL is required", cfg.Provider)
	}
	return &fhirGateway{cfg: cfg, client: client, tokens: newTokenSource(cfg, client), log: log}, nil
}

func (g *fhirGateway) Format() transform.Format { return transform.FormatFHIRR4 }

func (g *fhirGateway) SearchPatients(ctx context.Context, query string) ([]map[string]interface{}, error) {
	return g.collectBundle(ctx, fmt.Sprintf("%s/Patient?name=%s", g.cfg.BaseURL, url.QueryEscape(query)))
}

func (g *fhirGateway) GetPatient(ctx context.Context, vendorPatientID string) (map[string]interface{}, error) {
	body, err := g.do(ctx, http.MethodGet, fmt.Sprintf("%s/Patient/%s", g.cfg.BaseURL, url.PathEscape(vendorPatientID)), nil)
	if err != nil {
		return nil, err
	}
	var out map[string]interface{}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode Patient resource: %w", err)
	}
	return out, nil
}

func (g *fhirGateway) ListResources(ctx context.Context, rt canonical.ResourceType, vendorPatientID string) ([]map[string]interface{}, error) {
	name, ok := fhirResourceNames[rt]
	if !ok {
		return nil, fmt.Errorf("no FHIR resource for %s", rt)
	}
	if rt == canonical.ResourcePatient {
		p, err := g.GetPatient(ctx, vendorPatientID)
		if err != nil {
			return nil, err
		}
		return []map[string]interface{}{p}, nil
	}
	return g.collectBundle(ctx, fmt.Sprintf("%s/%s?patient=%s", g.cfg.BaseURL, name, url.QueryEscape(vendorPatientID)))
}

func (g *fhirGateway) CreateResource(ctx context.Context, rt canonical.ResourceType, vendorPatientID string, payload map[string]interface{}) (string, error) {
	name, ok := fhirResourceNames[rt]
	if !ok {
		return "", fmt.Errorf("no FHIR resource for %s", rt)
	}
	payload["resourceType"] = name
	if rt != canonical.ResourcePatient && vendorPatientID != "" {
		payload["subject"] = map[string]interface{}{"reference": fhir.FormatReference("Patient", vendorPatientID)}
	}

	body, err := g.do(ctx, http.MethodPost, fmt.Sprintf("%s/%s", g.cfg.BaseURL, name), payload)
	if err != nil {
		return "", err
	}
	var created map[string]interface{}
	if err := json.Unmarshal(body, &created); err != nil {
		return "", fmt.Errorf("decode created %s: %w", name, err)
	}
	id, _ := created["id"].(string)
	if id == "" {
		return "", fmt.Errorf("vendor create response for %s carried no id", name)
	}
	return id, nil
}

func (g *fhirGateway) UpdateResource(ctx context.Context, rt canonical.ResourceType, vendorID string, payload map[string]interface{}) error {
	name, ok := fhirResourceNames[rt]
	if !ok {
		return fmt.Errorf("no FHIR resource for %s", rt)
	}
	payload["resourceType"] = name
	payload["id"] = vendorID
	_, err := g.do(ctx, http.MethodPut, fmt.Sprintf("%s/%s/%s", g.cfg.BaseURL, name, url.PathEscape(vendorID)), payload)
	return err
}

// collectBundle walks a searchset bundle and its next links.
func (g *fhirGateway) collectBundle(ctx context.Context, startURL string) ([]map[string]interface{}, error) {
	var out []map[string]interface{}
	next := startURL
	for page := 0; next != "" && page < maxBundlePages; page++ {
		body, err := g.do(ctx, http.MethodGet, next, nil)
		if err != nil {
			return nil, err
		}
		bundle, err := fhir.ParseBundle(body)
		if err != nil {
			return nil, err
		}
		resources, err := bundle.Resources()
		if err != nil {
			return nil, err
		}
		out = append(out, resources...)
		next = bundle.NextLink()
	}
	return out, nil
}

// do issues one authenticated call under the provider's timeout.
func (g *fhirGateway) do(ctx context.Context, method, rawURL string, payload map[string]interface{}) ([]byte, error) {
	token, err := g.tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("authenticate to %s: %w", g.cfg.Provider, err)
	}

	ctx, cancel := context.WithTimeout(ctx, g.cfg.timeout())
	defer cancel()

	var reqBody io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		reqBody = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, reqBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/fhir+json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/fhir+json")
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, rawURL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		g.log.Warn().Int("status", resp.StatusCode).Str("url", rawURL).Msg("vendor call failed")
		return nil, &StatusError{Provider: g.cfg.Provider, Code: resp.StatusCode, Body: truncate(string(body), 512)}
	}
	return body, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
