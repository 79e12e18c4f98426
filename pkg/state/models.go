package state

import (
	"time"

	"github.com/google/uuid"
)

// Identity is the already-authenticated user bound to a connection at
// accept time. It is immutable for the connection's lifetime.
type Identity struct {
	UserID      int64
	DisplayName string
}

// Transport is the outbound side of a live connection as the coordinator
// sees it. *transport.Connection satisfies it; tests substitute fakes.
type Transport interface {
	ID() uuid.UUID
	Send(message []byte)
	Close(err error)
}

// Connection is the registry's representation of a single transport-layer
// connection.
type Connection struct {
	ID         uuid.UUID
	Identity   Identity
	RemoteAddr string
	Transport  Transport
	CreatedAt  time.Time

	// ProjectID is the joined room, 0 when roomless. LastSeenAt is
	// refreshed on every inbound frame. Both are guarded by the manager;
	// read them through CurrentRoom/Snapshot, not off a held pointer.
	ProjectID  int64
	LastSeenAt time.Time
}

// ConnectionInfo is a point-in-time copy of a connection's mutable state,
// taken under the manager's lock for the supervisor sweep.
type ConnectionInfo struct {
	ID         uuid.UUID
	Identity   Identity
	ProjectID  int64
	LastSeenAt time.Time
	Transport  Transport
}
