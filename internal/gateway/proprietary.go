package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ehrsync/ehrsync/internal/canonical"
	"github.com/ehrsync/ehrsync/internal/transform"
)

// Collection segments per proprietary vendor. Each vendor nests clinical
// resources under its patient collection.
var proprietaryPaths = map[canonical.Provider]map[canonical.ResourceType]string{
	canonical.ProviderMeditech: {
		canonical.ResourcePatient:     "api/v1/patients",
		canonical.ResourceEncounter:   "visits",
		canonical.ResourceObservation: "results",
		canonical.ResourceMedication:  "medications",
		canonical.ResourceAllergy:     "allergies",
		canonical.ResourceCondition:   "problems",
	},
	canonical.ProviderAllscripts: {
		canonical.ResourcePatient:     "unity/json/patients",
		canonical.ResourceEncounter:   "encounters",
		canonical.ResourceObservation: "results",
		canonical.ResourceMedication:  "medications",
		canonical.ResourceAllergy:     "allergies",
		canonical.ResourceCondition:   "problems",
	},
	canonical.ProviderNextgen: {
		canonical.ResourcePatient:     "nge/persons",
		canonical.ResourceEncounter:   "encounters",
		canonical.ResourceObservation: "observations",
		canonical.ResourceMedication:  "medications",
		canonical.ResourceAllergy:     "allergies",
		canonical.ResourceCondition:   "diagnoses",
	},
}

// Vendor response keys that may carry the created record's identifier.
var vendorIDKeys = []string{"id", "ID", "Id", "PatientID", "person_id", "RecordID", "record_id"}

type proprietaryGateway struct {
	cfg    ProviderConfig
	client *http.Client
	tokens *tokenSource
	paths  map[canonical.ResourceType]string
	log    zerolog.Logger
}

func newProprietaryGateway(cfg ProviderConfig, client *http.Client, log zerolog.Logger) (Gateway, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%s: base URL is required", cfg.Provider)
	}
	paths, ok := proprietaryPaths[cfg.Provider]
	if !ok {
		return nil, fmt.Errorf("no path table for %s", cfg.Provider)
	}
	g := &proprietaryGateway{cfg: cfg, client: client, paths: paths, log: log}
	if cfg.AuthStyle != AuthAPIKey {
		if cfg.TokenURL == "" {
			return nil, fmt.Errorf("%s: token URL is required for %s auth", cfg.Provider, cfg.AuthStyle)
		}
		g.tokens = newTokenSource(cfg, client)
	} else if cfg.APIKey == "" {
		return nil, fmt.Errorf("%s: API key is required", cfg.Provider)
	}
	return g, nil
}

func (g *proprietaryGateway) Format() transform.Format {
	if g.cfg.UseHL7 {
		return transform.FormatHL7v2
	}
	return transform.FormatVendorJSON
}

func (g *proprietaryGateway) patientsURL() string {
	return fmt.Sprintf("%s/%s", g.cfg.BaseURL, g.paths[canonical.ResourcePatient])
}

func (g *proprietaryGateway) SearchPatients(ctx context.Context, query string) ([]map[string]interface{}, error) {
	body, err := g.do(ctx, http.MethodGet, fmt.Sprintf("%s?name=%s", g.patientsURL(), url.QueryEscape(query)), nil, "")
	if err != nil {
		return nil, err
	}
	return decodeCollection(body)
}

func (g *proprietaryGateway) GetPatient(ctx context.Context, vendorPatientID string) (map[string]interface{}, error) {
	if g.cfg.UseHL7 {
		raw, err := g.do(ctx, http.MethodGet, fmt.Sprintf("%s/%s/hl7", g.patientsURL(), url.PathEscape(vendorPatientID)), nil, "")
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"hl7_message": string(raw)}, nil
	}
	body, err := g.do(ctx, http.MethodGet, fmt.Sprintf("%s/%s", g.patientsURL(), url.PathEscape(vendorPatientID)), nil, "")
	if err != nil {
		return nil, err
	}
	var out map[string]interface{}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode patient: %w", err)
	}
	return out, nil
}

func (g *proprietaryGateway) ListResources(ctx context.Context, rt canonical.ResourceType, vendorPatientID string) ([]map[string]interface{}, error) {
	if rt == canonical.ResourcePatient {
		p, err := g.GetPatient(ctx, vendorPatientID)
		if err != nil {
			return nil, err
		}
		return []map[string]interface{}{p}, nil
	}
	seg, ok := g.paths[rt]
	if !ok {
		return nil, fmt.Errorf("%s does not expose %s", g.cfg.Provider, rt)
	}
	body, err := g.do(ctx, http.MethodGet,
		fmt.Sprintf("%s/%s/%s", g.patientsURL(), url.PathEscape(vendorPatientID), seg), nil, "")
	if err != nil {
		return nil, err
	}
	return decodeCollection(body)
}

func (g *proprietaryGateway) CreateResource(ctx context.Context, rt canonical.ResourceType, vendorPatientID string, payload map[string]interface{}) (string, error) {
	target := g.resourceURL(rt, vendorPatientID, "")

	if hl7, ok := payload["hl7_message"].(string); ok {
		// MEDITECH's HL7 intake returns the assigned identifier in plain
		// text.
		raw, err := g.do(ctx, http.MethodPost, fmt.Sprintf("%s/hl7/messages", g.cfg.BaseURL), []byte(hl7), "x-application/hl7-v2+er7")
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(raw)), nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}
	body, err := g.do(ctx, http.MethodPost, target, raw, "application/json")
	if err != nil {
		return "", err
	}
	var created map[string]interface{}
	if err := json.Unmarshal(body, &created); err != nil {
		return "", fmt.Errorf("decode create response: %w", err)
	}
	for _, key := range vendorIDKeys {
		if id, ok := created[key].(string); ok && id != "" {
			return id, nil
		}
		if id, ok := created[key].(float64); ok {
			return fmt.Sprintf("%.0f", id), nil
		}
	}
	return "", fmt.Errorf("create response carried no recognizable identifier")
}

func (g *proprietaryGateway) UpdateResource(ctx context.Context, rt canonical.ResourceType, vendorID string, payload map[string]interface{}) error {
	if hl7, ok := payload["hl7_message"].(string); ok {
		_, err := g.do(ctx, http.MethodPost, fmt.Sprintf("%s/hl7/messages", g.cfg.BaseURL), []byte(hl7), "x-application/hl7-v2+er7")
		return err
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	_, err = g.do(ctx, http.MethodPut, g.resourceURL(rt, "", vendorID), raw, "application/json")
	return err
}

// resourceURL builds the collection or item URL for a resource type.
func (g *proprietaryGateway) resourceURL(rt canonical.ResourceType, vendorPatientID, vendorID string) string {
	if rt == canonical.ResourcePatient {
		if vendorID != "" {
			return fmt.Sprintf("%s/%s", g.patientsURL(), url.PathEscape(vendorID))
		}
		return g.patientsURL()
	}
	seg := g.paths[rt]
	if vendorID != "" {
		return fmt.Sprintf("%s/%s/%s", g.cfg.BaseURL, seg, url.PathEscape(vendorID))
	}
	return fmt.Sprintf("%s/%s/%s", g.patientsURL(), url.PathEscape(vendorPatientID), seg)
}

func (g *proprietaryGateway) do(ctx context.Context, method, rawURL string, body []byte, contentType string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.timeout())
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	if g.cfg.AuthStyle == AuthAPIKey {
		req.Header.Set("X-API-Key", g.cfg.APIKey)
	} else {
		token, err := g.tokens.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("authenticate to %s: %w", g.cfg.Provider, err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, rawURL, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		g.log.Warn().Int("status", resp.StatusCode).Str("url", rawURL).Msg("vendor call failed")
		return nil, &StatusError{Provider: g.cfg.Provider, Code: resp.StatusCode, Body: truncate(string(respBody), 512)}
	}
	return respBody, nil
}

// decodeCollection accepts either a bare JSON array or the wrapped
// collection shapes the proprietary vendors use.
func decodeCollection(body []byte) ([]map[string]interface{}, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var arr []map[string]interface{}
		if err := json.Unmarshal(trimmed, &arr); err != nil {
			return nil, fmt.Errorf("decode collection: %w", err)
		}
		return arr, nil
	}

	var wrapped map[string]interface{}
	if err := json.Unmarshal(trimmed, &wrapped); err != nil {
		return nil, fmt.Errorf("decode collection: %w", err)
	}
	for _, key := range []string{"results", "entries", "data", "items"} {
		if raw, ok := wrapped[key].([]interface{}); ok {
			out := make([]map[string]interface{}, 0, len(raw))
			for _, item := range raw {
				if m, ok := item.(map[string]interface{}); ok {
					out = append(out, m)
				}
			}
			return out, nil
		}
	}
	return nil, fmt.Errorf("unrecognized collection shape")
}
