package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/badgeengine/badgeengine-core/internal/rpc"
	"github.com/badgeengine/badgeengine-core/pkg/api"
	"github.com/badgeengine/badgeengine-core/pkg/auth"
	"github.com/badgeengine/badgeengine-core/pkg/badge"
	"github.com/badgeengine/badgeengine-core/pkg/crypto"
	"github.com/badgeengine/badgeengine-core/pkg/group"
	"github.com/badgeengine/badgeengine-core/pkg/scope"
	"github.com/badgeengine/badgeengine-core/pkg/store/sqlite"
	"github.com/badgeengine/badgeengine-core/pkg/trust"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
)

const (
	shutdownTimeout = 10 * time.Second
	probeInterval   = 30 * time.Second
)

// serveConfig is the resolved configuration of the serve command.
type serveConfig struct {
	Addr     string
	GRPCAddr string
	HostURL  string
	Domain   string
	KeyPath  string
	DBPath   string
	Validity time.Duration

	ScopeMapping string
	AdminGroups  string
	IssuerGroups string

	AuthJWKSURL  string
	AuthIssuer   string
	AuthAudience string
	DevMode      bool

	RequirePinned bool
	CORSOrigins   string

	Discovery api.DiscoveryConfig
}

var serveFlags serveConfig

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long: `Start the badge engine HTTP API.

Every flag falls back to an environment variable, then to its default.
The gRPC health and reflection services are started when --grpc-addr is set.`,
	Example: `  # Local development without an identity provider
  badgeengine serve --dev-mode --key-path issuer.pem

  # Production
  BADGE_AUTH_JWKS_URL=https://login.example.com/keys \
  BADGE_HOST_URL=https://badges.example.edu \
  badgeengine serve --key-path /run/secrets/issuer.pem --grpc-addr :9090`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		log, err := newLogger(flagLogLevel, flagLogFormat)
		if err != nil {
			return err
		}
		return runServe(commandContext(cmd), &serveFlags, log)
	},
}

func init() {
	f := serveCmd.Flags()
	f.StringVar(&serveFlags.Addr, "addr", envString("BADGE_ADDR", ":8080"), "HTTP listen address")
	f.StringVar(&serveFlags.GRPCAddr, "grpc-addr", envString("BADGE_GRPC_ADDR", ""), "gRPC health listen address (disabled when empty)")
	f.StringVar(&serveFlags.HostURL, "host-url", envString("BADGE_HOST_URL", badge.DefaultServerURL), "Public base URL of this server")
	f.StringVar(&serveFlags.Domain, "domain", envString("BADGE_DOMAIN", ""), "Base IRI for credential, issuer and achievement ids (defaults to --host-url)")
	f.StringVar(&serveFlags.KeyPath, "key-path", envString("BADGE_PRIVATE_KEY_PATH", "private.pem"), "Issuer RSA private key (PEM)")
	f.StringVar(&serveFlags.DBPath, "db-path", envString("BADGE_DB_PATH", "badgeengine.db"), "SQLite database path")
	f.DurationVar(&serveFlags.Validity, "validity", envDuration("BADGE_CREDENTIAL_VALIDITY", badge.DefaultValidity), "Credential validity period")

	f.StringVar(&serveFlags.ScopeMapping, "scope-mapping", envString("BADGE_SCOPE_MAPPING", ""), "YAML scope to group mapping file")
	f.StringVar(&serveFlags.AdminGroups, "admin-groups", envString("ENTRA_ADMIN_GROUPS", ""), "Comma separated groups with administrative access")
	f.StringVar(&serveFlags.IssuerGroups, "issuer-groups", envString("ENTRA_ISSUER_GROUPS", ""), "Comma separated groups allowed to issue (overrides the mapping)")

	f.StringVar(&serveFlags.AuthJWKSURL, "auth-jwks-url", envString("BADGE_AUTH_JWKS_URL", ""), "JWKS URL of the identity provider")
	f.StringVar(&serveFlags.AuthIssuer, "auth-issuer", envString("BADGE_AUTH_ISSUER", ""), "Expected access token issuer")
	f.StringVar(&serveFlags.AuthAudience, "auth-audience", envString("BADGE_AUTH_AUDIENCE", ""), "Expected access token audience")
	f.BoolVar(&serveFlags.DevMode, "dev-mode", envBool("BADGE_DEV_MODE", false), "Accept every request as the development user")

	f.BoolVar(&serveFlags.RequirePinned, "require-pinned", envBool("BADGE_REQUIRE_PINNED_KEYS", false), "Only accept upserted credentials signed by keys in the trust store")
	f.StringVar(&serveFlags.CORSOrigins, "cors-origins", envString("BADGE_CORS_ORIGINS", ""), "Comma separated allowed CORS origins (all when empty)")

	serveFlags.Discovery = api.DiscoveryConfig{
		Title:            envString("OB_API_TITLE", api.DefaultAPITitle),
		Version:          envString("OB_API_VERSION", api.DefaultAPIVersion),
		TermsOfService:   os.Getenv("OB_TERMS_OF_SERVICE_URL"),
		PrivacyPolicyURL: os.Getenv("OB_PRIVACY_POLICY_URL"),
		RegistrationURL:  os.Getenv("OB_REGISTRATION_URL"),
		ImageURL:         os.Getenv("OB_API_IMAGE_URL"),
		AuthorizationURL: os.Getenv("OB_AUTHORIZATION_URL"),
		TokenURL:         os.Getenv("OB_TOKEN_URL"),
	}

	rootCmd.AddCommand(serveCmd)
}

// app holds the dependencies built for one serve run.
type app struct {
	db      *sql.DB
	handler http.Handler
}

func (a *app) Close() error {
	return sqlite.CloseDB(a.db)
}

// newApp constructs every dependency once and wires them into the API.
func newApp(ctx context.Context, cfg *serveConfig, log logrus.FieldLogger) (*app, error) {
	db, err := sqlite.InitDB(ctx, cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	a := &app{db: db}
	if err := a.wire(ctx, cfg, log); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context, cfg *serveConfig, log logrus.FieldLogger) error {
	credentials := sqlite.NewCredentialRepository(a.db)
	groups := sqlite.NewGroupRepository(a.db)

	if _, err := groups.EnsureGroup(ctx, group.DefaultIssuersGroup); err != nil {
		return fmt.Errorf("failed to seed %s group: %w", group.DefaultIssuersGroup, err)
	}

	mapper, err := loadMapper(cfg, log)
	if err != nil {
		return err
	}

	authn, err := newAuthenticator(cfg, groups, log)
	if err != nil {
		return err
	}

	domain := cfg.Domain
	if domain == "" {
		domain = cfg.HostURL
	}
	builder, err := badge.NewBuilder(badge.BuilderConfig{Domain: domain, Validity: cfg.Validity})
	if err != nil {
		return err
	}

	issuer, err := badge.NewService(badge.ServiceConfig{
		Builder: builder,
		Keys:    crypto.NewKeyManager(cfg.KeyPath),
		Store:   credentials,
		HostURL: cfg.HostURL,
		Logger:  log,
	})
	if err != nil {
		return err
	}

	var verifyOpts badge.VerifyOptions
	if cfg.RequirePinned {
		pins, err := trust.NewFileStore("")
		if err != nil {
			return fmt.Errorf("failed to open trust store: %w", err)
		}
		verifyOpts.Pinner = pins
		log.WithField("dir", pins.Dir()).Info("requiring pinned issuer keys")
	}

	server, err := api.New(&api.Config{
		Issuer:        issuer,
		Credentials:   credentials,
		Verifier:      badge.NewVerifier(verifyOpts),
		Groups:        groups,
		Profiles:      sqlite.NewProfileRepository(a.db),
		Mapper:        mapper,
		Authenticator: authn,
		Discovery:     cfg.Discovery,
		CORSOrigins:   splitList(cfg.CORSOrigins),
		Logger:        log,
	})
	if err != nil {
		return err
	}

	a.handler = server.Router()
	return nil
}

func loadMapper(cfg *serveConfig, log logrus.FieldLogger) (*scope.Mapper, error) {
	mapper := scope.DefaultMapping()
	if cfg.ScopeMapping != "" {
		m, err := scope.LoadMapping(cfg.ScopeMapping)
		if err != nil {
			return nil, err
		}
		mapper = m
	}

	if groups := scope.ParseGroupList(cfg.AdminGroups); len(groups) > 0 {
		mapper.AdminGroups = groups
	}
	if groups := scope.ParseGroupList(cfg.IssuerGroups); len(groups) > 0 {
		mapper.IssuerGroups = groups
	}

	if len(mapper.AdminGroups) == 0 {
		if cfg.DevMode {
			mapper.AdminGroups = []string{scope.GroupBadgeAdmins}
			log.Warnf("no admin groups configured, granting admin access to %q in dev mode", scope.GroupBadgeAdmins)
		} else {
			log.Warn("no admin groups configured, group administration is disabled")
		}
	}
	return mapper, nil
}

func newAuthenticator(cfg *serveConfig, groups group.Repository, log logrus.FieldLogger) (auth.Authenticator, error) {
	if cfg.DevMode {
		log.Warn("dev mode: every request is accepted as the development user")
		return auth.DevAuthenticator{}, nil
	}
	if cfg.AuthJWKSURL == "" {
		return nil, badge.NewError(badge.ErrCodeConfiguration, "--auth-jwks-url is required unless --dev-mode is set")
	}

	return auth.NewTokenAuthenticator(auth.TokenConfig{
		JWKSURL:  cfg.AuthJWKSURL,
		Issuer:   cfg.AuthIssuer,
		Audience: cfg.AuthAudience,
		Keys:     crypto.NewDefaultJWKSFetcher(),
		Groups:   groups,
		Logger:   log,
	})
}

func runServe(ctx context.Context, cfg *serveConfig, log *logrus.Logger) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	// Stops the readiness watcher before the database closes
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Bind every listener before serving so a bad address leaves nothing running
	httpListener, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.Addr, err)
	}
	var grpcListener net.Listener
	if cfg.GRPCAddr != "" {
		grpcListener, err = net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			_ = httpListener.Close()
			return fmt.Errorf("failed to listen on %s: %w", cfg.GRPCAddr, err)
		}
	}

	errCh := make(chan error, 2)

	httpServer := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		fmt.Printf("🚀 Badge engine listening on %s (public URL %s)\n", httpListener.Addr(), cfg.HostURL)
		if err := httpServer.Serve(httpListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server failed: %w", err)
		}
	}()

	var grpcServer *grpc.Server
	if grpcListener != nil {
		grpcServer = rpc.NewServer(log)
		hs := rpc.RegisterServices(grpcServer)
		go rpc.Watch(ctx, hs, probeInterval, a.db.PingContext, log)
		go func() {
			fmt.Printf("🩺 gRPC health listening on tcp://%s\n", grpcListener.Addr())
			if err := grpcServer.Serve(grpcListener); err != nil {
				errCh <- fmt.Errorf("grpc server failed: %w", err)
			}
		}()
	}

	var serveErr error
	select {
	case <-ctx.Done():
		fmt.Println("\nShutting down...")
	case serveErr = <-errCh:
		log.WithError(serveErr).Error("server stopped")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if grpcServer != nil {
		grpcServer.GracefulStop()
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down http server: %w", err)
	}
	return serveErr
}

func splitList(s string) []string {
	return lo.Compact(lo.Map(strings.Split(s, ","), func(item string, _ int) string {
		return strings.TrimSpace(item)
	}))
}
