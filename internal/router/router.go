// Package router dispatches inbound envelopes: it validates them against
// the sender's identity and room membership, updates the presence table,
// and hands the resulting events to the broadcaster.
package router

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

type Router struct {
	logger      *slog.Logger
	state       state.Manager
	presence    *presence.Table
	broadcaster *broadcast.Broadcaster
	catalog     catalog.Resolver

	now func() time.Time
}

func New(logger *slog.Logger, st state.Manager, table *presence.Table, b *broadcast.Broadcaster, cat catalog.Resolver) *Router {
	return &Router{
		logger:      logger.With(slog.String("component", "message_router")),
		state:       st,
		presence:    table,
		broadcaster: b,
		catalog:     cat,
		now:         time.Now,
	}
}

// SetClock overrides the router's time source, for tests.
func (r *Router) SetClock(now func() time.Time) {
	r.now = now
}

// HandleMessage processes one inbound frame from a connection. Protocol
// and authorization failures are answered with an ERROR envelope to the
// sender only; the connection stays open.
func (r *Router) HandleMessage(ctx context.Context, connID uuid.UUID, msg []byte) {
	conn, ok := r.state.GetConnection(connID)
	if !ok {
		// Frame raced with teardown; nothing to answer.
		r.logger.Debug("Message from unregistered connection", "connID", connID.String())
		return
	}

	now := r.now()
	env, err := protocol.Parse(msg)
	if err != nil {
		r.logger.Warn("Malformed envelope",
			slog.String("connID", connID.String()),
			slog.Any("error", err),
		)
		conn.Transport.Send(protocol.ErrorFrame(err.Error()))
		return
	}

	// Any well-formed inbound frame counts as a heartbeat. Garbage does
	// not keep a connection alive.
	r.state.Touch(connID, now)

	switch env.Type {
	case protocol.TypeJoinProject:
		r.handleJoin(conn, env)
	case protocol.TypeLeaveProject:
		r.handleLeave(ctx, conn, now)
	case protocol.TypeEditTranslation:
		r.handleEdit(ctx, conn, env, now)
	case protocol.TypeApproveTranslation:
		r.handleApprove(ctx, conn, env, now)
	case protocol.TypeSyncStatus:
		r.handleSyncRequest(ctx, conn, now)
	default:
		conn.Transport.Send(protocol.ErrorFrame("unsupported envelope type: " + env.Type))
	}
}

func (r *Router) handleJoin(conn *state.Connection, env *protocol.Envelope) {
	if env.ProjectID <= 0 {
		conn.Transport.Send(protocol.ErrorFrame("JOIN_PROJECT requires projectId"))
		return
	}
	if err := r.state.JoinRoom(conn.ID, env.ProjectID); err != nil {
		conn.Transport.Send(protocol.ErrorFrame("join failed: " + err.Error()))
		return
	}
	r.logger.Info("User joined project room",
		slog.Int64("userID", conn.Identity.UserID),
		slog.Int64("projectID", env.ProjectID),
	)
}

func (r *Router) handleLeave(ctx context.Context, conn *state.Connection, now time.Time) {
	left, ok := r.state.LeaveRoom(conn.ID)
	if !ok {
		// Leaving while roomless is tolerated, not an error.
		return
	}
	r.emitPresenceLeaves(ctx, conn.Identity.UserID, uuid.Nil, now)
	r.logger.Info("User left project room",
		slog.Int64("userID", conn.Identity.UserID),
		slog.Int64("projectID", left),
	)
}

func (r *Router) handleEdit(ctx context.Context, conn *state.Connection, env *protocol.Envelope, now time.Time) {
	room, err := r.authorizeCell(ctx, conn, env)
	if err != nil {
		conn.Transport.Send(protocol.ErrorFrame(err.Error()))
		return
	}

	cell := presence.Cell{KeyID: env.KeyID, LanguageID: env.LanguageID}
	editor := presence.Editor{UserID: conn.Identity.UserID, DisplayName: conn.Identity.DisplayName}
	r.presence.RecordEdit(cell, editor, now)

	frame := protocol.EditFrame(env.KeyID, env.LanguageID, conn.Identity.UserID, conn.Identity.DisplayName, env.Value, now)
	r.broadcaster.Broadcast(room, frame, conn.ID)
}

func (r *Router) handleApprove(ctx context.Context, conn *state.Connection, env *protocol.Envelope, now time.Time) {
	room, err := r.authorizeCell(ctx, conn, env)
	if err != nil {
		conn.Transport.Send(protocol.ErrorFrame(err.Error()))
		return
	}
	if env.IsApproved == nil {
		conn.Transport.Send(protocol.ErrorFrame("APPROVE_TRANSLATION requires isApproved"))
		return
	}

	frame := protocol.SyncStatusFrame(env.KeyID, env.LanguageID, conn.Identity.UserID, conn.Identity.DisplayName, *env.IsApproved, now)
	r.broadcaster.Broadcast(room, frame, conn.ID)
}

// handleSyncRequest replays the room's current presence to the requester:
// one EDIT_TRANSLATION frame per active editor on each cell owned by the
// requester's project. It doubles as an application-level heartbeat, so a
// roomless sync request is simply acknowledged by silence.
func (r *Router) handleSyncRequest(ctx context.Context, conn *state.Connection, now time.Time) {
	room, ok := r.state.CurrentRoom(conn.ID)
	if !ok {
		return
	}

	for cell, editors := range r.presence.Snapshot() {
		owner, err := r.catalog.ProjectForKey(ctx, cell.KeyID)
		if err != nil || owner != room {
			continue
		}
		for _, ed := range editors {
			if ed.UserID == conn.Identity.UserID {
				continue
			}
			conn.Transport.Send(protocol.EditFrame(cell.KeyID, cell.LanguageID, ed.UserID, ed.DisplayName, "", now))
		}
	}
}

// authorizeCell checks the InRoom precondition and that the key belongs to
// the sender's joined project, preventing cross-project event leakage.
func (r *Router) authorizeCell(ctx context.Context, conn *state.Connection, env *protocol.Envelope) (int64, error) {
	if env.KeyID <= 0 || env.LanguageID <= 0 {
		return 0, errors.New("keyId and languageId are required")
	}
	room, ok := r.state.CurrentRoom(conn.ID)
	if !ok {
		return 0, errors.New("not joined to a project room")
	}
	owner, err := r.catalog.ProjectForKey(ctx, env.KeyID)
	if err != nil {
		if errors.Is(err, catalog.ErrKeyUnknown) {
			return 0, errors.New("unknown translation key")
		}
		r.logger.Error("Catalog lookup failed", slog.Int64("keyID", env.KeyID), slog.Any("error", err))
		return 0, errors.New("could not verify key ownership")
	}
	if owner != room {
		return 0, errors.New("key belongs to a different project")
	}
	return room, nil
}

// Teardown runs the full close sequence for a connection: deregistration,
// presence purge, and one synthetic leave broadcast per cell the user
// occupied. It is idempotent; the registry gate ensures the side effects
// fire once no matter how many paths (read error, write error, supervisor
// reap) race into it.
func (r *Router) Teardown(connID uuid.UUID) {
	conn, ok := r.state.GetConnection(connID)
	if !ok {
		return
	}
	if !r.state.DeregisterConnection(connID) {
		return
	}

	r.emitPresenceLeaves(context.Background(), conn.Identity.UserID, connID, r.now())

	r.logger.Info("Connection torn down",
		slog.String("connID", connID.String()),
		slog.Int64("userID", conn.Identity.UserID),
	)
}

// emitPresenceLeaves purges the user from the presence table and
// broadcasts one cell-level leave per changed cell. Each leave is routed
// to the cell's owning project, not the sender's current room: a room
// switch may have left presence behind in another project, and those
// rooms must hear the leave too.
func (r *Router) emitPresenceLeaves(ctx context.Context, userID int64, exclude uuid.UUID, now time.Time) {
	changed := r.presence.PurgeUser(userID)
	for _, cell := range changed {
		projectID, err := r.catalog.ProjectForKey(ctx, cell.KeyID)
		if err != nil {
			r.logger.Debug("Could not resolve room for presence leave",
				slog.Int64("keyID", cell.KeyID),
				slog.Any("error", err),
			)
			continue
		}
		frame := protocol.CellLeaveFrame(cell.KeyID, cell.LanguageID, userID, now)
		r.broadcaster.Broadcast(projectID, frame, exclude)
	}
}
