// Package api serves the Open Badges 3.0 HTTP API: issuance, public
// credential retrieval, the OB 3.0 credential, profile and discovery
// endpoints, image baking and group administration.
package api

import (
	"net/http"

	"github.com/badgeengine/badgeengine-core/pkg/auth"
	"github.com/badgeengine/badgeengine-core/pkg/badge"
	"github.com/badgeengine/badgeengine-core/pkg/group"
	"github.com/badgeengine/badgeengine-core/pkg/profile"
	"github.com/badgeengine/badgeengine-core/pkg/scope"
	"github.com/badgeengine/badgeengine-core/pkg/store"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"
)

// API endpoints.
const (
	healthEndpoint = "/health"

	imsBasePath           = "/ims/ob/v3p0"
	discoveryEndpoint     = imsBasePath + "/discovery"
	obCredentialsEndpoint = imsBasePath + "/credentials"
	obProfileEndpoint     = imsBasePath + "/profile"

	credentialsEndpoint  = "/api/achievements/credentials"
	credentialEndpoint   = credentialsEndpoint + "/{uuid}"
	bakeEndpoint         = "/api/badges/bake"
	extractEndpoint      = "/api/badges/extract"
	meEndpoint           = "/api/auth/me"
	groupsEndpoint       = "/api/admin/groups"
	groupEndpoint        = groupsEndpoint + "/{id}"
	groupMembersEndpoint = groupEndpoint + "/members"
	groupMemberEndpoint  = groupMembersEndpoint + "/{userID}"
)

// Config wires the API to its dependencies. Every field except Discovery,
// CORSOrigins and Logger is required.
type Config struct {
	Issuer        *badge.Service
	Credentials   store.Store
	Verifier      *badge.Verifier
	Groups        group.Repository
	Profiles      profile.Repository
	Mapper        *scope.Mapper
	Authenticator auth.Authenticator

	Discovery DiscoveryConfig

	// CORSOrigins restricts cross-origin callers. Empty allows any origin.
	CORSOrigins []string

	Logger logrus.FieldLogger
}

// Server holds the API handlers.
type Server struct {
	issuer      *badge.Service
	credentials store.Store
	verifier    *badge.Verifier
	groups      group.Repository
	profiles    profile.Repository
	mapper      *scope.Mapper
	authn       auth.Authenticator
	discovery   DiscoveryConfig
	corsOrigins []string
	log         logrus.FieldLogger

	handlers []*httpHandler
	public   map[string]bool
}

// New returns an API server.
func New(cfg *Config) (*Server, error) {
	if cfg == nil || cfg.Issuer == nil || cfg.Credentials == nil || cfg.Verifier == nil ||
		cfg.Groups == nil || cfg.Profiles == nil || cfg.Mapper == nil || cfg.Authenticator == nil {
		return nil, badge.NewError(badge.ErrCodeConfiguration,
			"issuer, credential store, verifier, group and profile repositories, scope mapper and authenticator are required")
	}

	log := cfg.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}

	s := &Server{
		issuer:      cfg.Issuer,
		credentials: cfg.Credentials,
		verifier:    cfg.Verifier,
		groups:      cfg.Groups,
		profiles:    cfg.Profiles,
		mapper:      cfg.Mapper,
		authn:       cfg.Authenticator,
		discovery:   cfg.Discovery,
		corsOrigins: cfg.CORSOrigins,
		log:         log.WithField("component", "api"),
		public:      make(map[string]bool),
	}

	s.handlers = []*httpHandler{
		newPublicHandler(healthEndpoint, http.MethodGet, s.health),
		newPublicHandler(discoveryEndpoint, http.MethodGet, s.getDiscovery),

		// issuance and retrieval
		newHandler(credentialsEndpoint, http.MethodPost, s.issueCredential),
		newPublicHandler(credentialEndpoint, http.MethodGet, s.getCredential),

		// OB 3.0 resource server
		newHandler(obCredentialsEndpoint, http.MethodGet, s.listCredentials),
		newHandler(obCredentialsEndpoint, http.MethodPost, s.upsertCredential),
		newHandler(obProfileEndpoint, http.MethodGet, s.getProfile),
		newHandler(obProfileEndpoint, http.MethodPut, s.putProfile),

		// baking
		newHandler(bakeEndpoint, http.MethodPost, s.bakeBadge),
		newHandler(extractEndpoint, http.MethodPost, s.extractBadge),

		newHandler(meEndpoint, http.MethodGet, s.me),

		// group administration
		newHandler(groupsEndpoint, http.MethodGet, s.listGroups),
		newHandler(groupsEndpoint, http.MethodPost, s.createGroup),
		newHandler(groupEndpoint, http.MethodGet, s.getGroup),
		newHandler(groupEndpoint, http.MethodDelete, s.deleteGroup),
		newHandler(groupMembersEndpoint, http.MethodPost, s.addGroupMember),
		newHandler(groupMemberEndpoint, http.MethodDelete, s.removeGroupMember),
	}
	for _, h := range s.handlers {
		if h.public {
			s.public[routeName(h)] = true
		}
	}

	return s, nil
}

// GetRESTHandlers returns every API endpoint.
func (s *Server) GetRESTHandlers() []Handler {
	out := make([]Handler, 0, len(s.handlers))
	for _, h := range s.handlers {
		out = append(out, h)
	}
	return out
}

// Router returns the routed API with access logging, authentication and CORS applied.
func (s *Server) Router() http.Handler {
	router := mux.NewRouter()

	authn := &auth.Middleware{
		Authenticator: s.authn,
		IsPublic:      s.isPublic,
		OnError:       authError,
		Logger:        s.log,
	}
	router.Use(accessLog(s.log), authn.Handler)

	for _, h := range s.handlers {
		router.HandleFunc(h.Path(), h.Handle()).Methods(h.Method()).Name(routeName(h))
	}

	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeStatus(w, http.StatusNotFound, NewStatusInfo(MinorNotFound, "The requested resource was not found."))
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeStatus(w, http.StatusMethodNotAllowed, NewStatusInfo(MinorNotAllowed, "The server does not allow the method."))
	})

	return cors.New(cors.Options{
		AllowedOrigins: s.corsOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowedHeaders: []string{"Origin", "Accept", "Content-Type", "X-Requested-With", "Authorization"},
		ExposedHeaders: []string{"X-Total-Count", "Link"},
	}).Handler(router)
}

func (s *Server) isPublic(r *http.Request) bool {
	route := mux.CurrentRoute(r)
	return route != nil && s.public[route.GetName()]
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) me(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	if user == nil {
		WriteError(w, auth.ErrUnauthenticated)
		return
	}

	scopes := user.Scopes()
	if scopes == nil {
		scopes = []string{}
	}

	writeJSON(w, http.StatusOK, &userInfo{
		ID:       user.ID,
		Email:    user.Email,
		Name:     user.Name,
		Groups:   user.Groups,
		Scopes:   scopes,
		IsAdmin:  s.mapper.IsAdmin(user),
		IsIssuer: s.mapper.IsIssuer(user),
	})
}

type userInfo struct {
	ID       string   `json:"id"`
	Email    string   `json:"email,omitempty"`
	Name     string   `json:"name,omitempty"`
	Groups   []string `json:"groups"`
	Scopes   []string `json:"scopes"`
	IsAdmin  bool     `json:"is_admin"`
	IsIssuer bool     `json:"is_issuer"`
}

func currentUser(r *http.Request) *scope.User {
	user, _ := auth.UserFromContext(r.Context())
	return user
}
