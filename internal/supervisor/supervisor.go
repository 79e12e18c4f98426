// Package supervisor owns every time-based state transition: reaping
// silent connections and expiring stale presence editors. Nothing on the
// hot message path sleeps or arms timers; this loop sweeps instead.
package supervisor

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/abidi-said/TransMate-sub000/internal/broadcast"
	"github.com/abidi-said/TransMate-sub000/internal/catalog"
	"github.com/abidi-said/TransMate-sub000/internal/presence"
	"github.com/abidi-said/TransMate-sub000/internal/protocol"
	"github.com/abidi-said/TransMate-sub000/pkg/state"
	"github.com/google/uuid"
)

// ErrConnectionTimedOut is handed to the transport when the sweep reaps a
// connection that stopped heartbeating.
var ErrConnectionTimedOut = errors.New("connection timed out")

type Config struct {
	TickInterval      time.Duration
	ConnectionTimeout time.Duration
	EditorTTL         time.Duration
}

// Registry is the slice of the state manager the sweep needs.
type Registry interface {
	Snapshot() []state.ConnectionInfo
}

// TeardownFunc runs the connection close sequence (deregister, purge,
// leave broadcasts); the router provides it.
type TeardownFunc func(connID uuid.UUID)

type Supervisor struct {
	config      Config
	registry    Registry
	presence    *presence.Table
	broadcaster *broadcast.Broadcaster
	catalog     catalog.Resolver
	teardown    TeardownFunc
	logger      *slog.Logger

	now func() time.Time
}

func New(config Config, registry Registry, table *presence.Table, b *broadcast.Broadcaster, cat catalog.Resolver, teardown TeardownFunc, logger *slog.Logger) *Supervisor {
	return &Supervisor{
		config:      config,
		registry:    registry,
		presence:    table,
		broadcaster: b,
		catalog:     cat,
		teardown:    teardown,
		logger:      logger.With(slog.String("component", "supervisor")),
	}
}

// SetClock overrides the supervisor's time source, for tests.
func (s *Supervisor) SetClock(now func() time.Time) {
	s.now = now
}

// Run sweeps on the configured period until the context is cancelled.
func (s *Supervisor) Run(ctx context.Context) {
	ticker := time.NewTicker(s.config.TickInterval)
	defer ticker.Stop()

	s.logger.Info("Supervisor started",
		slog.Duration("tickInterval", s.config.TickInterval),
		slog.Duration("connectionTimeout", s.config.ConnectionTimeout),
		slog.Duration("editorTTL", s.config.EditorTTL),
	)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Supervisor stopped")
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one supervision pass. Exported so tests can drive ticks
// directly.
func (s *Supervisor) Sweep(ctx context.Context) {
	now := s.clock()

	s.reapSilentConnections(now)
	s.expireStaleEditors(ctx, now)
}

func (s *Supervisor) reapSilentConnections(now time.Time) {
	deadline := now.Add(-s.config.ConnectionTimeout)
	for _, info := range s.registry.Snapshot() {
		if !info.LastSeenAt.Before(deadline) {
			continue
		}
		s.logger.Info("Reaping silent connection",
			slog.String("connID", info.ID.String()),
			slog.Int64("userID", info.Identity.UserID),
			slog.Time("lastSeenAt", info.LastSeenAt),
		)
		// Teardown first so the leave broadcasts go out even when the
		// transport close is a no-op on an already-broken socket. The
		// registry gate keeps the later onClose callback from repeating
		// the side effects.
		s.teardown(info.ID)
		info.Transport.Close(ErrConnectionTimedOut)
	}
}

func (s *Supervisor) expireStaleEditors(ctx context.Context, now time.Time) {
	deadline := now.Add(-s.config.EditorTTL)
	for _, ex := range s.presence.ExpireBefore(deadline) {
		projectID, err := s.catalog.ProjectForKey(ctx, ex.Cell.KeyID)
		if err != nil {
			s.logger.Debug("Could not resolve room for expired editor",
				slog.Int64("keyID", ex.Cell.KeyID),
				slog.Any("error", err),
			)
			continue
		}
		frame := protocol.CellLeaveFrame(ex.Cell.KeyID, ex.Cell.LanguageID, ex.Editor.UserID, now)
		s.broadcaster.Broadcast(projectID, frame, uuid.Nil)
		s.logger.Debug("Expired stale editor",
			slog.Int64("keyID", ex.Cell.KeyID),
			slog.Int64("languageID", ex.Cell.LanguageID),
			slog.Int64("userID", ex.Editor.UserID),
		)
	}
}

func (s *Supervisor) clock() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now()
}
