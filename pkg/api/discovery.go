package api

import (
	"net/http"
	"strings"

	"github.com/badgeengine/badgeengine-core/pkg/scope"
)

// Discovery document defaults.
const (
	DefaultAPITitle   = "Badge Engine API"
	DefaultAPIVersion = "3.0"
)

// DiscoveryConfig fills the Service Description Document. Empty URLs default
// to paths under the request origin.
type DiscoveryConfig struct {
	Title            string
	Version          string
	TermsOfService   string
	PrivacyPolicyURL string
	RegistrationURL  string
	ImageURL         string

	// AuthorizationURL and TokenURL are the OAuth2 authorization code flow endpoints.
	AuthorizationURL string
	TokenURL         string
}

// ServiceDescription is the OB 3.0 Service Description Document.
type ServiceDescription struct {
	OpenAPI    string            `json:"openapi"`
	Info       OpenAPIInfo       `json:"info"`
	Components OpenAPIComponents `json:"components"`
}

// OpenAPIInfo describes the API.
type OpenAPIInfo struct {
	Title            string `json:"title"`
	Version          string `json:"version"`
	TermsOfService   string `json:"termsOfService"`
	PrivacyPolicyURL string `json:"x-imssf-privacyPolicyUrl"`
	Image            string `json:"x-imssf-image,omitempty"`
}

// OpenAPIComponents holds the security schemes.
type OpenAPIComponents struct {
	SecuritySchemes SecuritySchemes `json:"securitySchemes"`
}

// SecuritySchemes lists the supported security schemes.
type SecuritySchemes struct {
	OAuth2ACG OAuth2SecurityScheme `json:"OAuth2ACG"`
}

// OAuth2SecurityScheme is the OAuth2 authorization code grant scheme.
type OAuth2SecurityScheme struct {
	Type            string      `json:"type"`
	Description     string      `json:"description,omitempty"`
	RegistrationURL string      `json:"x-imssf-registrationUrl"`
	Flows           *OAuthFlows `json:"flows"`
}

// OAuthFlows holds the authorization code flow.
type OAuthFlows struct {
	AuthorizationCode OAuthFlow `json:"authorizationCode"`
}

// OAuthFlow lists the URLs and scopes of one flow.
type OAuthFlow struct {
	AuthorizationURL string            `json:"authorizationUrl"`
	TokenURL         string            `json:"tokenUrl"`
	Scopes           map[string]string `json:"scopes"`
}

var scopeDescriptions = map[string]string{
	scope.CredentialReadonly: "Permission to read AchievementCredentials for the authenticated entity.",
	scope.CredentialUpsert:   "Permission to create or update AchievementCredentials for the authenticated entity.",
	scope.ProfileReadonly:    "Permission to read the profile for the authenticated entity.",
	scope.ProfileUpdate:      "Permission to update the profile for the authenticated entity.",
}

// ServiceDescription builds the document for requests arriving at origin.
func (c DiscoveryConfig) ServiceDescription(origin string) *ServiceDescription {
	origin = strings.TrimSuffix(origin, "/")
	orDefault := func(v, def string) string {
		if v == "" {
			return def
		}
		return v
	}

	scopes := make(map[string]string, len(scopeDescriptions))
	for _, s := range scope.All() {
		scopes[s] = scopeDescriptions[s]
	}

	oauth := OAuth2SecurityScheme{
		Type:            "oauth2",
		Description:     "OAuth2 Authorization Code Grant for Open Badges v3.0",
		RegistrationURL: orDefault(c.RegistrationURL, origin+"/register"),
		Flows: &OAuthFlows{AuthorizationCode: OAuthFlow{
			AuthorizationURL: orDefault(c.AuthorizationURL, origin+"/oauth/authorize"),
			TokenURL:         orDefault(c.TokenURL, origin+"/oauth/token"),
			Scopes:           scopes,
		}},
	}

	return &ServiceDescription{
		OpenAPI: "3.0.1",
		Info: OpenAPIInfo{
			Title:            orDefault(c.Title, DefaultAPITitle),
			Version:          orDefault(c.Version, DefaultAPIVersion),
			TermsOfService:   orDefault(c.TermsOfService, origin+"/terms"),
			PrivacyPolicyURL: orDefault(c.PrivacyPolicyURL, origin+"/privacy"),
			Image:            c.ImageURL,
		},
		Components: OpenAPIComponents{
			SecuritySchemes: SecuritySchemes{OAuth2ACG: oauth},
		},
	}
}

func (s *Server) getDiscovery(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.discovery.ServiceDescription(s.origin(r)))
}

func (s *Server) origin(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	return scheme + "://" + r.Host
}
