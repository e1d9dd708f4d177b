package gateway

import (
	"context"
	"crypto/rsa"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehrsync/ehrsync/internal/canonical"
	"github.com/ehrsync/ehrsync/internal/transform"
)

// AuthStyle selects how a vendor call is authenticated.
type AuthStyle string

const (
	// AuthClientCredentials is plain OAuth2 client_credentials with a
	// shared secret.
	AuthClientCredentials AuthStyle = "client_credentials"
	// AuthSMARTAssertion is SMART Backend Services: client_credentials
	// with a signed RS384 JWT assertion instead of a secret.
	AuthSMARTAssertion AuthStyle = "smart_assertion"
	// AuthAPIKey sends a static vendor API key per request.
	AuthAPIKey AuthStyle = "api_key"
)

// ProviderConfig carries everything needed to reach one vendor.
type ProviderConfig struct {
	Provider     canonical.Provider
	BaseURL      string
	Format       transform.Format
	AuthStyle    AuthStyle
	TokenURL     string
	ClientID     string
	ClientSecret string
	// SigningKey and SigningKeyID drive the SMART assertion style.
	SigningKey   *rsa.PrivateKey
	SigningKeyID string
	APIKey       string
	Scopes       []string
	// Timeout bounds each vendor call.
	Timeout time.Duration
	// UseHL7 switches MEDITECH patient and observation exchange to HL7v2
	// messages instead of its JSON API.
	UseHL7 bool
}

func (c ProviderConfig) timeout() time.Duration {
	if c.Timeout <= 0 {
		return 30 * time.Second
	}
	return c.Timeout
}

// Gateway is the thin authenticated client the sync adapter calls. Payloads
// stay in the vendor's native shape; the transformation service normalizes
// them afterwards.
type Gateway interface {
	// SearchPatients runs a vendor-side demographic search.
	SearchPatients(ctx context.Context, query string) ([]map[string]interface{}, error)
	// GetPatient fetches one patient by the vendor's identifier.
	GetPatient(ctx context.Context, vendorPatientID string) (map[string]interface{}, error)
	// ListResources fetches all resources of one type for a patient.
	ListResources(ctx context.Context, rt canonical.ResourceType, vendorPatientID string) ([]map[string]interface{}, error)
	// CreateResource writes a new vendor-side record and returns its
	// vendor identifier.
	CreateResource(ctx context.Context, rt canonical.ResourceType, vendorPatientID string, payload map[string]interface{}) (string, error)
	// UpdateResource overwrites an existing vendor-side record.
	UpdateResource(ctx context.Context, rt canonical.ResourceType, vendorID string, payload map[string]interface{}) error
	// Format reports the wire format payloads arrive in.
	Format() transform.Format
}

// StatusError is a non-2xx vendor response.
type StatusError struct {
	Provider canonical.Provider
	Code     int
	Body     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned status %d: %s", e.Provider, e.Code, e.Body)
}

// New builds the gateway for a provider. The four FHIR vendors share one
// implementation; the proprietary vendors share another.
func New(cfg ProviderConfig, client *http.Client, log zerolog.Logger) (Gateway, error) {
	if client == nil {
		client = &http.Client{}
	}
	log = log.With().Str("component", "gateway").Str("provider", string(cfg.Provider)).Logger()

	switch cfg.Provider {
	case canonical.ProviderEpic, canonical.ProviderCerner,
		canonical.ProviderAthenahealth, canonical.ProviderEclinicalworks:
		cfg.Format = transform.FormatFHIRR4
		return newFHIRGateway(cfg, client, log)
	case canonical.ProviderMeditech, canonical.ProviderAllscripts, canonical.ProviderNextgen:
		cfg.Format = transform.FormatVendorJSON
		return newProprietaryGateway(cfg, client, log)
	default:
		return nil, fmt.Errorf("no gateway for provider %q", cfg.Provider)
	}
}
