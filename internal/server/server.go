package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/abidi-said/TransMate-sub000/internal/broadcast"
	"github.com/abidi-said/TransMate-sub000/internal/catalog"
	"github.com/abidi-said/TransMate-sub000/internal/presence"
	"github.com/abidi-said/TransMate-sub000/internal/router"
	"github.com/abidi-said/TransMate-sub000/internal/server/middleware"
	"github.com/abidi-said/TransMate-sub000/internal/supervisor"
	"github.com/abidi-said/TransMate-sub000/pkg/config"
	"github.com/abidi-said/TransMate-sub000/pkg/state"
	"github.com/abidi-said/TransMate-sub000/pkg/state/statemanager"
	"github.com/abidi-said/TransMate-sub000/pkg/transport"
	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type App struct {
	logger       *slog.Logger
	stateManager state.Manager
	presence     *presence.Table
	broadcaster  *broadcast.Broadcaster
	msgRouter    *router.Router
	supervisor   *supervisor.Supervisor
	wg           sync.WaitGroup
	http         *http.Server
	config       *config.Config

	ctx context.Context
}

func NewApp(logger *slog.Logger, rootCtx context.Context, cfg *config.Config, resolver catalog.Resolver) *App {
	stateManager := statemanager.NewInMemoryManager(logger, cfg.Server.MaxConnections)
	table := presence.NewTable(logger)
	broadcaster := broadcast.New(stateManager, logger)
	msgRouter := router.New(logger, stateManager, table, broadcaster, resolver)
	sup := supervisor.New(supervisor.Config{
		TickInterval:      cfg.Supervisor.TickInterval,
		ConnectionTimeout: cfg.Supervisor.ConnectionTimeout,
		EditorTTL:         cfg.Presence.EditorTTL,
	}, stateManager, table, broadcaster, resolver, msgRouter.Teardown, logger)

	app := &App{
		logger:       logger,
		stateManager: stateManager,
		presence:     table,
		broadcaster:  broadcaster,
		msgRouter:    msgRouter,
		supervisor:   sup,
		config:       cfg,
		ctx:          rootCtx,
	}

	mux := chi.NewRouter()
	mux.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	// Create a cycler function that closes over the stateManager and logger.
	connCycler := func(userID int64) {
		oldest, found := stateManager.FindOldestUserConnection(userID)
		if found {
			logger.Info("Cycling connection: closing oldest",
				slog.Int64("userID", userID),
				slog.String("connID", oldest.ID.String()),
			)
			oldest.Transport.Close(errors.New("connection cycled by new connection"))
		}
	}

	mux.Route("/ws", func(r chi.Router) {
		r.Use(middleware.RequestMetadataMiddleware())
		r.Use(middleware.NewRequestLogger(logger))
		r.Use(middleware.NewAuthMiddleware(logger, cfg.Server.Auth.JWTSecret))
		r.Use(middleware.NewConnectionLimiter(
			logger,
			stateManager.UserConnectionCount,
			connCycler,
			cfg.Server.ConnectionLimit,
		))
		r.Get("/", app.upgradeHandler)
	})

	app.http = &http.Server{Addr: cfg.Server.Address, Handler: mux, BaseContext: func(l net.Listener) context.Context {
		return app.ctx
	}}

	return app
}

// Handler exposes the HTTP mux, for handshake tests.
func (a *App) Handler() http.Handler {
	return a.http.Handler
}

func (a *App) Run() error {
	go a.supervisor.Run(a.ctx)

	go func() {
		a.logger.Info("Server starting", slog.String("addr", a.http.Addr))
		if err := a.http.ListenAndServe(); err != http.ErrServerClosed {
			a.logger.Error("HTTP server failed", slog.Any("error", err))
		}
	}()

	<-a.ctx.Done()
	return a.Shutdown()
}

func (a *App) upgradeHandler(w http.ResponseWriter, r *http.Request) {
	reqMeta, ok := middleware.ReqMetadataFrom(r.Context())
	if !ok {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	connLogger := a.logger.With(
		slog.String("remoteAddr", reqMeta.IP),
		slog.Int64("userID", reqMeta.Identity.UserID),
	)

	wsConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		a.logger.Error("Failed to accept websocket connection", slog.Any("error", err))
		return
	}

	conn := transport.NewConnection(
		r.Context(),
		&a.wg,
		wsConn,
		transport.ConnectionConfig{
			ReadTimeout:   a.config.Transport.ReadTimeout,
			SendQueueSize: a.config.Transport.SendQueueSize,
		},
		nil,
		nil,
		a.logger,
	)

	// register new connection
	if _, err := a.stateManager.RegisterConnection(conn, reqMeta.Identity, reqMeta.IP); err != nil {
		connLogger.Error("Failed to register connection state", slog.Any("error", err))
		conn.Close(err)
		return
	}

	conn.SetOnMessageHandler(a.msgRouter.HandleMessage)
	conn.SetOnCloseHandler(func(id uuid.UUID, err error) {
		connLogger.Info("Tearing down connection due to closure", slog.String("connID", id.String()))
		a.msgRouter.Teardown(id)
	})

	connLogger.Info("User connection fully established",
		slog.String("displayName", reqMeta.Identity.DisplayName),
	)
	conn.Run()
	<-conn.Done()
}

// Shutdown runs the graceful shutdown sequence.
func (a *App) Shutdown() error {
	a.logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.http.Shutdown(shutdownCtx); err != nil {
		return err
	}

	// close all active WebSocket connections.
	a.logger.Info("Closing all active connections...")
	for _, info := range a.stateManager.Snapshot() {
		info.Transport.Close(errors.New("graceful shutdown"))
	}

	// wait for all connection goroutines to finish their cleanup.
	a.wg.Wait()
	a.logger.Info("Server shut down gracefully.")
	return nil
}
