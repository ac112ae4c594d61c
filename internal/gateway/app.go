// ABOUTME: Application wiring: assembles store, auth, discovery, caps, connectors and settlement.
// ABOUTME: Owns the HTTP server lifecycle including graceful shutdown.

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/mercatae/mercat-gateway/internal/auth"
	"github.com/mercatae/mercat-gateway/internal/caps"
	"github.com/mercatae/mercat-gateway/internal/config"
	"github.com/mercatae/mercat-gateway/internal/connector"
	"github.com/mercatae/mercat-gateway/internal/discovery"
	"github.com/mercatae/mercat-gateway/internal/sessmap"
	"github.com/mercatae/mercat-gateway/internal/settle"
	"github.com/mercatae/mercat-gateway/internal/store"
)

const (
	defaultSessionTTL     = time.Hour
	defaultSessionMaxSize = 10000
	shutdownTimeout       = 10 * time.Second
)

// App is the assembled gateway: every domain component wired over one store,
// one HTTP listener for the OAuth, tool-call and admin surfaces.
type App struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    store.Store
	sessions *sessmap.Map
	httpSrv  *http.Server
}

// New builds the application from configuration. A missing or unreadable
// receipt signing key fails here, before any listener opens.
func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	signer, err := settle.LoadSigner(cfg.Settlement.SigningKeyPath)
	if err != nil {
		return nil, fmt.Errorf("loading receipt signing key: %w", err)
	}
	sealKey, err := connector.ParseKey(cfg.Connectors.SealingKey)
	if err != nil {
		return nil, fmt.Errorf("parsing sealing key: %w", err)
	}

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	jwtSigner := auth.NewJWTSigner([]byte(cfg.Auth.JWTSecret))
	authServer, err := auth.NewServer(auth.Config{
		Store:      st,
		Signer:     jwtSigner,
		CodeTTL:    cfg.Auth.CodeTTL,
		AccessTTL:  cfg.Auth.AccessTTL,
		RefreshTTL: cfg.Auth.RefreshTTL,
		Logger:     logger.With("component", "auth"),
	})
	if err != nil {
		return nil, fmt.Errorf("creating auth server: %w", err)
	}
	authHTTP, err := auth.NewHTTPHandler(auth.HTTPConfig{
		Server:        authServer,
		Realm:         cfg.Auth.Realm,
		BaseURL:       cfg.Server.BaseURL,
		OperatorToken: cfg.Auth.OperatorToken,
		Logger:        logger.With("component", "auth-http"),
	})
	if err != nil {
		return nil, fmt.Errorf("creating auth handler: %w", err)
	}

	engine, err := discovery.NewEngine(st, logger.With("component", "discovery"))
	if err != nil {
		return nil, fmt.Errorf("creating discovery engine: %w", err)
	}
	enforcer, err := caps.NewEnforcer(st, caps.Defaults{
		GlobalWeekly:  cfg.Caps.GlobalWeekly,
		PerSiteDaily:  cfg.Caps.PerSiteDaily,
		RawWeekly:     cfg.Caps.RawWeekly,
		SummaryWeekly: cfg.Caps.SummaryWeekly,
	}, logger.With("component", "caps"))
	if err != nil {
		return nil, fmt.Errorf("creating cap enforcer: %w", err)
	}
	fetcher, err := connector.NewFetcher(st, sealKey, nil, logger.With("component", "connector"))
	if err != nil {
		return nil, fmt.Errorf("creating fetcher: %w", err)
	}
	settler, err := settle.NewSettler(st, signer, cfg.Settlement.PlatformFeeBps, logger.With("component", "settle"))
	if err != nil {
		return nil, fmt.Errorf("creating settler: %w", err)
	}
	service, err := NewService(st, engine, enforcer, fetcher, settler, logger.With("component", "gateway"))
	if err != nil {
		return nil, fmt.Errorf("creating service: %w", err)
	}

	sessionTTL := cfg.Sessions.IdleTTL
	if sessionTTL <= 0 {
		sessionTTL = defaultSessionTTL
	}
	sessionMax := cfg.Sessions.MaxSize
	if sessionMax <= 0 {
		sessionMax = defaultSessionMaxSize
	}
	sessions := sessmap.New(sessionTTL, sessionMax)

	server, err := NewServer(Config{
		Service:   service,
		Verifier:  jwtSigner,
		Sessions:  sessions,
		Challenge: authHTTP.Challenge,
		Logger:    logger.With("component", "gateway"),
	})
	if err != nil {
		return nil, fmt.Errorf("creating gateway server: %w", err)
	}

	mux := http.NewServeMux()
	authHTTP.RegisterRoutes(mux)
	server.RegisterRoutes(mux)
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	if cfg.Auth.OperatorToken != "" {
		admin, err := NewAdminHandler(AdminConfig{
			Store:         st,
			SealingKey:    sealKey,
			VerifyKey:     signer.Public(),
			OperatorToken: cfg.Auth.OperatorToken,
			Logger:        logger.With("component", "admin"),
		})
		if err != nil {
			return nil, fmt.Errorf("creating admin handler: %w", err)
		}
		admin.RegisterRoutes(mux)
	} else {
		logger.Warn("operator token not configured, admin API disabled")
	}

	return &App{
		cfg:      cfg,
		logger:   logger,
		store:    st,
		sessions: sessions,
		httpSrv: &http.Server{
			Addr:    cfg.Server.HTTPAddr,
			Handler: mux,
		},
	}, nil
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server listening", "addr", a.cfg.Server.HTTPAddr)
		if err := a.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		a.close()
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	a.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.httpSrv.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("http shutdown failed", "error", err)
	}

	a.close()
	return nil
}

func (a *App) close() {
	a.sessions.Close()
	if err := a.store.Close(); err != nil {
		a.logger.Warn("closing store failed", "error", err)
	}
}
