package internal

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dgellow/prima-front/internal/config"
	"github.com/dgellow/prima-front/internal/crypto"
	"github.com/dgellow/prima-front/internal/idp"
	jsonwriter "github.com/dgellow/prima-front/internal/json"
	"github.com/dgellow/prima-front/internal/log"
	"github.com/dgellow/prima-front/internal/proxy"
	"github.com/dgellow/prima-front/internal/server"
	"github.com/dgellow/prima-front/internal/session"
	"github.com/dgellow/prima-front/internal/storage"
	"github.com/dgellow/prima-front/internal/telemetry"
)

// csrfTTL bounds how long a rendered login form can be submitted
const csrfTTL = 30 * time.Minute

// PrimaFront is the assembled application: credential relay, session store
// and resource proxy behind one HTTP server
type PrimaFront struct {
	config        config.Config
	httpServer    *server.HTTPServer
	storage       storage.Storage
	cleanup       *storage.CleanupManager
	traceShutdown func(context.Context) error
}

// NewPrimaFront creates the application with all dependencies built
func NewPrimaFront(ctx context.Context, cfg config.Config) (*PrimaFront, error) {
	log.LogInfoWithFields("primafront", "Building application", map[string]any{
		"baseURL":   cfg.Server.BaseURL,
		"provider":  string(cfg.Auth.Provider),
		"storage":   string(cfg.Session.Storage),
		"resources": len(cfg.Resources),
	})

	traceCfg, err := telemetry.LoadConfig()
	if err != nil {
		return nil, err
	}
	traceShutdown, err := telemetry.Setup(ctx, traceCfg, cfg.Server.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to setup tracing: %w", err)
	}

	secret := []byte(cfg.Session.Secret)

	store, err := setupStorage(ctx, cfg, secret)
	if err != nil {
		return nil, fmt.Errorf("failed to setup storage: %w", err)
	}

	relay, err := setupRelay(cfg)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to setup identity provider: %w", err)
	}

	cookieKey, err := crypto.DeriveKey(secret, crypto.PurposeCookieSigning)
	if err != nil {
		store.Close()
		return nil, err
	}
	sessions := session.NewManager(store, relay, session.Config{
		SigningKey:       cookieKey,
		TTL:              cfg.Session.TTL,
		RefreshThreshold: cfg.Session.RefreshThreshold,
	})

	resourceProxy, err := proxy.NewResourceProxy(cfg.Upstream, cfg.Resources, telemetry.Transport(nil))
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to setup resource proxy: %w", err)
	}

	handler, err := buildHTTPHandler(cfg, secret, relay, sessions, resourceProxy)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to build HTTP handler: %w", err)
	}

	return &PrimaFront{
		config:        cfg,
		httpServer:    server.NewHTTPServer(handler, cfg.Server.Addr, cfg.Upstream.Timeout),
		storage:       store,
		cleanup:       storage.NewCleanupManager(store, cfg.Session.CleanupInterval),
		traceShutdown: traceShutdown,
	}, nil
}

// Run starts and manages the complete application lifecycle
func (p *PrimaFront) Run() error {
	log.LogInfoWithFields("primafront", "Starting application", map[string]any{
		"addr": p.config.Server.Addr,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Channel to signal errors that should trigger shutdown
	errChan := make(chan error, 1)

	go func() {
		if err := p.httpServer.Start(); err != nil {
			errChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	p.cleanup.Start(ctx)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	var shutdownReason string
	select {
	case sig := <-sigChan:
		shutdownReason = fmt.Sprintf("signal %v", sig)
		log.LogInfoWithFields("primafront", "Received shutdown signal", map[string]any{
			"signal": sig.String(),
		})
	case err := <-errChan:
		shutdownReason = fmt.Sprintf("error: %v", err)
		log.LogErrorWithFields("primafront", "Shutting down due to error", map[string]any{
			"error": err.Error(),
		})
	}

	log.LogInfoWithFields("primafront", "Starting graceful shutdown", map[string]any{
		"reason":  shutdownReason,
		"timeout": "30s",
	})
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := p.httpServer.Stop(shutdownCtx); err != nil {
		log.LogErrorWithFields("primafront", "HTTP server shutdown error", map[string]any{
			"error": err.Error(),
		})
		return err
	}

	p.cleanup.Stop()

	if err := p.storage.Close(); err != nil {
		log.LogWarnWithFields("primafront", "Failed to close storage", map[string]any{
			"error": err.Error(),
		})
	}
	if err := p.traceShutdown(shutdownCtx); err != nil {
		log.LogWarnWithFields("primafront", "Failed to flush traces", map[string]any{
			"error": err.Error(),
		})
	}

	log.LogInfoWithFields("primafront", "Application shutdown complete", map[string]any{
		"reason": shutdownReason,
	})
	return nil
}

// setupStorage creates the session store selected by the configuration
func setupStorage(ctx context.Context, cfg config.Config, secret []byte) (storage.Storage, error) {
	if cfg.Session.Storage == config.StorageFirestore {
		log.LogInfoWithFields("storage", "Using Firestore storage", map[string]any{
			"project":    cfg.Session.GCPProject,
			"database":   cfg.Session.FirestoreDatabase,
			"collection": cfg.Session.FirestoreCollection,
		})
		key, err := crypto.DeriveKey(secret, crypto.PurposeStorage)
		if err != nil {
			return nil, err
		}
		encryptor, err := crypto.NewEncryptor(key)
		if err != nil {
			return nil, fmt.Errorf("failed to create encryptor: %w", err)
		}
		store, err := storage.NewFirestoreStorage(
			ctx,
			cfg.Session.GCPProject,
			cfg.Session.FirestoreDatabase,
			cfg.Session.FirestoreCollection,
			encryptor,
		)
		if err != nil {
			return nil, err
		}
		return store, nil
	}

	log.LogInfoWithFields("storage", "Using in-memory storage", map[string]any{})
	return storage.NewMemoryStorage(), nil
}

// setupRelay builds the credential relay for the configured identity provider
func setupRelay(cfg config.Config) (*idp.Relay, error) {
	httpClient := &http.Client{
		Transport: telemetry.Transport(nil),
		Timeout:   cfg.Auth.Timeout,
	}
	provider, err := idp.NewProvider(cfg.Auth, httpClient)
	if err != nil {
		return nil, err
	}
	if err := provider.CheckConfig(); err != nil {
		// Logins answer with a provider configuration error until this is fixed
		log.LogErrorWithFields("primafront", "Identity provider is misconfigured", map[string]any{
			"provider": provider.Type(),
			"error":    err.Error(),
		})
	}
	return idp.NewRelay(provider, cfg.Auth.Timeout), nil
}

// buildHTTPHandler creates the complete HTTP handler with all routing and middleware
func buildHTTPHandler(
	cfg config.Config,
	secret []byte,
	relay *idp.Relay,
	sessions *session.Manager,
	resourceProxy *proxy.ResourceProxy,
) (http.Handler, error) {
	baseURL, err := url.Parse(cfg.Server.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}

	csrfKey, err := crypto.DeriveKey(secret, crypto.PurposeCSRF)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()

	corsMiddleware := server.NewCORSMiddleware(cfg.Server.AllowedOrigins)
	apiSession := server.NewAPISessionMiddleware(sessions)
	browserSession := server.NewBrowserSessionMiddleware(sessions)

	authHandlers := server.NewAuthHandlers(
		relay,
		sessions,
		crypto.NewCSRFProtection(csrfKey, csrfTTL),
		server.NewLoginLimiter(cfg.Server.LoginRateLimit, cfg.Server.TrustProxy),
		baseURL.String(),
		cfg.Server.Name,
		resourceProxy.Resources(),
	)

	mux.Handle("/health", server.NewHealthHandler())

	// Authentication
	mux.Handle("/api/auth/login", server.ChainMiddleware(http.HandlerFunc(authHandlers.LoginHandler), corsMiddleware))
	mux.Handle("/api/auth/logout", server.ChainMiddleware(http.HandlerFunc(authHandlers.LogoutHandler), corsMiddleware))
	mux.Handle("/api/auth/refresh", server.ChainMiddleware(http.HandlerFunc(authHandlers.RefreshHandler), corsMiddleware))
	mux.Handle("/api/session-info", server.ChainMiddleware(http.HandlerFunc(authHandlers.SessionInfoHandler), apiSession, corsMiddleware))
	mux.HandleFunc("GET /login", authHandlers.LoginPageHandler)
	mux.Handle("GET /{$}", server.ChainMiddleware(http.HandlerFunc(authHandlers.HomeHandler), browserSession))

	// Resources, at both the short and the general-settings path. The method
	// check runs before the session check: a signed-out PATCH gets 405, not 401.
	resourceMethods := server.NewMethodMiddleware(
		http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions,
	)
	for _, name := range resourceProxy.Resources() {
		handler := server.ChainMiddleware(resourceProxy.Handler(name), apiSession, resourceMethods, corsMiddleware)
		mux.Handle("/api/"+name, handler)
		mux.Handle("/api/general-settings/"+name, handler)
	}

	mux.HandleFunc("/api/", func(w http.ResponseWriter, r *http.Request) {
		jsonwriter.WriteNotFound(w, "Not found")
	})

	return server.ChainMiddleware(
		mux,
		server.NewLoggerMiddleware("http"),
		server.NewRecoverMiddleware("http"),
		func(next http.Handler) http.Handler { return telemetry.Handler(next, "prima-front") },
	), nil
}
