package config

import (
	"strings"

	"github.com/spf13/viper"
)

// VendorSettings holds the connection settings for one vendor, read from
// environment variables prefixed with the upper-cased vendor name, for
// example EPIC_BASE_URL or MEDITECH_API_KEY. Credential material itself
// stays in the environment; nothing here is persisted.
type VendorSettings struct {
	BaseURL        string
	AuthStyle      string // client_credentials, smart_assertion, api_key
	TokenURL       string
	ClientID       string
	ClientSecret   string
	APIKey         string
	SigningKeyFile string // PEM file for SMART backend-services assertions
	SigningKeyID   string
	Scopes         []string
	UseHL7         bool
}

var vendorNames = []string{
	"epic", "cerner", "meditech", "athenahealth",
	"eclinicalworks", "allscripts", "nextgen",
}

// LoadVendors reads the per-vendor environment. Vendors with no BASE_URL
// are considered unconfigured and omitted.
func LoadVendors() map[string]VendorSettings {
	v := viper.New()
	v.AutomaticEnv()

	out := make(map[string]VendorSettings, len(vendorNames))
	for _, name := range vendorNames {
		prefix := strings.ToUpper(name) + "_"
		for _, key := range []string{
			"BASE_URL", "AUTH_STYLE", "TOKEN_URL", "CLIENT_ID", "CLIENT_SECRET",
			"API_KEY", "SIGNING_KEY_FILE", "SIGNING_KEY_ID", "SCOPES", "USE_HL7",
		} {
			v.BindEnv(prefix + key)
		}

		base := v.GetString(prefix + "BASE_URL")
		if base == "" {
			continue
		}
		s := VendorSettings{
			BaseURL:        base,
			AuthStyle:      v.GetString(prefix + "AUTH_STYLE"),
			TokenURL:       v.GetString(prefix + "TOKEN_URL"),
			ClientID:       v.GetString(prefix + "CLIENT_ID"),
			ClientSecret:   v.GetString(prefix + "CLIENT_SECRET"),
			APIKey:         v.GetString(prefix + "API_KEY"),
			SigningKeyFile: v.GetString(prefix + "SIGNING_KEY_FILE"),
			SigningKeyID:   v.GetString(prefix + "SIGNING_KEY_ID"),
			UseHL7:         v.GetBool(prefix + "USE_HL7"),
		}
		if s.AuthStyle == "" {
			if s.APIKey != "" {
				s.AuthStyle = "api_key"
			} else {
				s.AuthStyle = "client_credentials"
			}
		}
		if scopes := v.GetString(prefix + "SCOPES"); scopes != "" {
			for _, sc := range strings.Split(scopes, ",") {
				if sc = strings.TrimSpace(sc); sc != "" {
					s.Scopes = append(s.Scopes, sc)
				}
			}
		}
		out[name] = s
	}
	return out
}
