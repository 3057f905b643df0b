// Package server wires configuration into a runnable chatbridge instance.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"

	_ "github.com/lib/pq"

	"github.com/txn2/chatbridge/pkg/authstate"
	authpg "github.com/txn2/chatbridge/pkg/authstate/postgres"
	"github.com/txn2/chatbridge/pkg/bridge"
	"github.com/txn2/chatbridge/pkg/config"
	"github.com/txn2/chatbridge/pkg/database/migrate"
	"github.com/txn2/chatbridge/pkg/health"
	"github.com/txn2/chatbridge/pkg/httpapi"
	"github.com/txn2/chatbridge/pkg/protocol"
	"github.com/txn2/chatbridge/pkg/session"
	"github.com/txn2/chatbridge/pkg/webhook"
)

// Version is set at build time.
var Version = "dev"

// Server bundles the wired components of one chatbridge instance.
type Server struct {
	Handler http.Handler
	Manager *session.Manager
	Checker *health.Checker

	store authstate.Store
	db    *sql.DB
}

// New builds a Server from configuration and a protocol dialer. The dialer
// argument overrides the configured engine; pass nil to use the engine named
// in cfg.Protocol.Engine.
func New(cfg *config.Config, dialer protocol.Dialer) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if dialer == nil {
		var err error
		dialer, err = protocol.OpenEngine(cfg.Protocol.Engine)
		if err != nil {
			return nil, err
		}
	}

	store, db, err := newAuthStateStore(cfg)
	if err != nil {
		return nil, err
	}

	var publisher webhook.Publisher = webhook.NoopPublisher{}
	if cfg.Webhook.URL != "" {
		publisher = webhook.NewHTTPPublisher(webhook.Config{
			URL:         cfg.Webhook.URL,
			Token:       cfg.Webhook.Token,
			MaxAttempts: cfg.Webhook.MaxAttempts,
			Timeout:     cfg.Webhook.Timeout,
		})
	}

	br := bridge.New(bridge.Config{
		URL:     cfg.Inference.URL,
		Token:   cfg.Inference.Token,
		Timeout: cfg.Inference.Timeout,
	})

	manager := session.NewManager(session.Config{
		Capacity:       cfg.Pool.Capacity,
		PairingTimeout: cfg.Pairing.Timeout,
		BootstrapDelay: cfg.Bootstrap.Delay,
	}, dialer, store, publisher, br)

	checker := health.NewChecker()
	checker.SetSessionGauge(manager.Count)

	handler := httpapi.NewHandler(manager, checker, httpapi.TokenAuth(cfg.Server.Token))

	return &Server{
		Handler: handler,
		Manager: manager,
		Checker: checker,
		store:   store,
		db:      db,
	}, nil
}

// Bootstrap reconnects persisted sessions and marks the server ready.
func (s *Server) Bootstrap(ctx context.Context) error {
	if err := s.Manager.Bootstrap(ctx); err != nil {
		return err
	}
	s.Checker.SetReady()
	return nil
}

// Close drains the server: sessions stop, credentials are retained, and
// backend handles are released.
func (s *Server) Close() error {
	s.Checker.SetDraining()

	err := s.Manager.Close()
	if cerr := s.store.Close(); err == nil {
		err = cerr
	}
	if s.db != nil {
		if cerr := s.db.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// newAuthStateStore builds the configured credential backend. The postgres
// backend runs pending migrations before first use so bootstrap can list
// sessions immediately.
func newAuthStateStore(cfg *config.Config) (authstate.Store, *sql.DB, error) {
	switch cfg.AuthState.Backend {
	case "memory":
		return authstate.NewMemoryStore(), nil, nil

	case "file":
		store, err := authstate.NewFileStore(cfg.AuthState.Dir)
		if err != nil {
			return nil, nil, fmt.Errorf("creating file auth state store: %w", err)
		}
		return store, nil, nil

	case "postgres":
		db, err := sql.Open("postgres", cfg.Database.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("opening database: %w", err)
		}
		db.SetMaxOpenConns(cfg.Database.MaxOpenConns)

		if err := db.Ping(); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("connecting to database: %w", err)
		}
		if err := migrate.Run(db); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return authpg.New(db), db, nil

	default:
		return nil, nil, fmt.Errorf("unknown auth_state backend %q", cfg.AuthState.Backend)
	}
}
