// Package app assembles the relay's components and owns their lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/rs/zerolog"

	"roomrelay/internal/api"
	"roomrelay/internal/config"
	"roomrelay/internal/database"
	"roomrelay/internal/history"
	"roomrelay/internal/hub"
	"roomrelay/internal/idgen"
	"roomrelay/internal/presence"
	"roomrelay/internal/router"
	"roomrelay/internal/session"
	"roomrelay/internal/websocket"
	pkgdatabase "roomrelay/pkg/database"
	"roomrelay/pkg/interfaces"
	applog "roomrelay/pkg/log"
)

// Application coordinates all system components.
type Application struct {
	config     *config.Config
	logger     zerolog.Logger
	store      interfaces.MessageStore
	registry   *websocket.Registry
	presence   *presence.Tracker
	directory  *session.Manager
	relay      *router.BroadcastRouter
	eventHub   *hub.Hub
	apiServer  *api.Server
	httpServer *http.Server

	mu       sync.Mutex
	listener net.Listener
	serveErr chan error
}

// NewApplication builds every component in dependency order:
// Store → Registry/Presence/Directory → Router → Hub → WebSocket → API → HTTP
func NewApplication(ctx context.Context, cfg *config.Config) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger := applog.L()

	// STEP 1: Message store (memory or sqlite)
	store, err := newStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	// STEP 2: In-memory relay state
	registry := websocket.NewRegistry()
	tracker := presence.NewTracker()
	directory := session.NewManager()

	// STEP 3: Router applying events to that state
	relay := router.NewRouter(router.Dependencies{
		Registry:  registry,
		Presence:  tracker,
		Directory: directory,
		Store:     store,
		IDs:       idgen.New(),
		Logger:    logger.With().Str("component", "router").Logger(),
	}, router.Options{
		Rooms:              cfg.Relay.Rooms,
		Delivery:           cfg.Relay.Delivery,
		DeletedPlaceholder: cfg.Relay.DeletedPlaceholder,
		Limits: router.Limits{
			Window: cfg.RateLimit.Window,
			Text:   cfg.RateLimit.TextLimit,
			Media:  cfg.RateLimit.MediaLimit,
		},
	})

	// STEP 4: Hub serializing events onto the router
	eventHub := hub.NewHub(relay, cfg.Relay.QueueSize, logger.With().Str("component", "hub").Logger())

	// STEP 5: WebSocket handler feeding the hub
	wsHandler := websocket.NewHandler(registry, eventHub, websocket.HandlerConfig{
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		PongWait:       cfg.WebSocket.PongWait,
		MaxMessageSize: cfg.WebSocket.MaxMessageSize,
		Connection: websocket.ConnectionOptions{
			SendBuffer:   cfg.WebSocket.SendBuffer,
			WriteWait:    cfg.WebSocket.WriteWait,
			PingInterval: cfg.WebSocket.PingInterval,
		},
	}, logger.With().Str("component", "websocket").Logger())

	// STEP 6: HTTP API, which also mounts /ws
	apiServer := api.NewServer(api.Dependencies{
		Rooms:     cfg.Relay.Rooms,
		Presence:  tracker,
		Directory: directory,
		Store:     store,
		Registry:  registry,
		Hub:       eventHub,
		WebSocket: http.HandlerFunc(wsHandler.HandleWebSocket),
		Logger:    logger,
	})

	// STEP 7: HTTP server. WriteTimeout does not apply to hijacked websockets.
	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      apiServer,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:     cfg,
		logger:     logger,
		store:      store,
		registry:   registry,
		presence:   tracker,
		directory:  directory,
		relay:      relay,
		eventHub:   eventHub,
		apiServer:  apiServer,
		httpServer: httpServer,
		serveErr:   make(chan error, 1),
	}, nil
}

func newStore(ctx context.Context, cfg *config.Config) (interfaces.MessageStore, error) {
	switch cfg.History.Backend {
	case config.BackendSQLite:
		dbConfig := pkgdatabase.DefaultConfig()
		dbConfig.DatabasePath = cfg.Database.Path
		dbConfig.WriteTimeout = cfg.Database.Timeout
		dbConfig.MaxConnections = cfg.Database.MaxConnections

		manager, err := database.NewManager(ctx, dbConfig, cfg.History.MaxMessages)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize database manager: %w", err)
		}
		return manager, nil
	default:
		return history.NewMemoryStore(cfg.History.MaxMessages), nil
	}
}

// Start launches the hub and begins accepting connections.
// Hub starts first so no accepted event finds it stopped.
func (app *Application) Start(ctx context.Context) error {
	// STEP 1: Start event hub
	if err := app.eventHub.Start(ctx); err != nil {
		return fmt.Errorf("failed to start event hub: %w", err)
	}

	// STEP 2: Bind the listener so the address is known on return
	listener, err := net.Listen("tcp", app.httpServer.Addr)
	if err != nil {
		_ = app.eventHub.Stop()
		return fmt.Errorf("failed to listen on %s: %w", app.httpServer.Addr, err)
	}
	app.mu.Lock()
	app.listener = listener
	app.mu.Unlock()

	// STEP 3: Serve
	go func() {
		if err := app.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.serveErr <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	app.logger.Info().
		Str("addr", listener.Addr().String()).
		Int("rooms", len(app.config.Relay.Rooms)).
		Str("delivery", app.config.Relay.Delivery).
		Str("history_backend", app.config.History.Backend).
		Msg("roomrelay started")
	return nil
}

// Errors reports a failure of the running HTTP server.
func (app *Application) Errors() <-chan error {
	return app.serveErr
}

// Stop shuts down in reverse dependency order: HTTP → Hub → Store.
func (app *Application) Stop(ctx context.Context) error {
	app.logger.Info().Msg("shutting down roomrelay")

	var errs []error

	// STEP 1: Stop accepting new connections
	if err := app.httpServer.Shutdown(ctx); err != nil {
		app.logger.Error().Err(err).Msg("HTTP server shutdown error")
		errs = append(errs, err)
	}

	// STEP 2: Stop event processing
	if err := app.eventHub.Stop(); err != nil && !errors.Is(err, hub.ErrHubNotRunning) {
		app.logger.Error().Err(err).Msg("event hub shutdown error")
		errs = append(errs, err)
	}

	// STEP 3: Close open sockets; their read pumps find the hub stopped
	for _, conn := range app.registry.Connections() {
		_ = conn.Close()
	}

	// STEP 4: Close the message store
	if err := app.store.Close(); err != nil {
		app.logger.Error().Err(err).Msg("message store shutdown error")
		errs = append(errs, err)
	}

	app.logger.Info().Msg("roomrelay shutdown complete")
	return errors.Join(errs...)
}

// GetAddr returns the bound address once started, otherwise the configured one.
func (app *Application) GetAddr() string {
	app.mu.Lock()
	defer app.mu.Unlock()
	if app.listener != nil {
		return app.listener.Addr().String()
	}
	return app.httpServer.Addr
}

// Handler exposes the routed HTTP handler.
func (app *Application) Handler() http.Handler {
	return app.apiServer
}
