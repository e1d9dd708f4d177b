package fhir

import (
	"encoding/json"
	"fmt"
	"time"
)

// Bundle represents a FHIR Bundle resource.
type Bundle struct {
	ResourceType string        `json:"resourceType"`
	ID           string        `json:"id,omitempty"`
	Type         string        `json:"type"`
	Total        *int          `json:"total,omitempty"`
	Link         []BundleLink  `json:"link,omitempty"`
	Entry        []BundleEntry `json:"entry,omitempty"`
	Timestamp    *time.Time    `json:"timestamp,omitempty"`
}

type BundleLink struct {
	Relation string `json:"relation"`
	URL      string `json:"url"`
}

type BundleEntry struct {
	FullURL  string          `json:"fullUrl,omitempty"`
	Resource json.RawMessage `json:"resource,omitempty"`
	Search   *BundleSearch   `json:"search,omitempty"`
}

type BundleSearch struct {
	Mode  string   `json:"mode,omitempty"`
	Score *float64 `json:"score,omitempty"`
}

// ParseBundle decodes raw JSON into a Bundle, verifying the resourceType.
func ParseBundle(raw []byte) (*Bundle, error) {
	var b Bundle
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, fmt.Errorf("fhir: decode bundle: %w", err)
	}
	if b.ResourceType != "Bundle" {
		return nil, fmt.Errorf("fhir: expected Bundle, got %q", b.ResourceType)
	}
	return &b, nil
}

// Resources decodes every entry resource in the bundle into a generic map.
// Entries with no resource body are skipped.
func (b *Bundle) Resources() ([]map[string]interface{}, error) {
	var out []map[string]interface{}
	for i, e := range b.Entry {
		if len(e.Resource) == 0 {
			continue
		}
		var m map[string]interface{}
		if err := json.Unmarshal(e.Resource, &m); err != nil {
			return nil, fmt.Errorf("fhir: decode bundle entry %d: %w", i, err)
		}
		out = append(out, m)
	}
	return out, nil
}

// NextLink returns the bundle's "next" pagination link, or "" when the last
// page has been reached.
func (b *Bundle) NextLink() string {
	for _, l := range b.Link {
		if l.Relation == "next" {
			return l.URL
		}
	}
	return ""
}
