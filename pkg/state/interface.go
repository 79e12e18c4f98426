package state

import (
	"time"

	"github.com/google/uuid"
)

type Manager interface {
	// --- Connection Lifecycle ---
	RegisterConnection(t Transport, identity Identity, remoteAddr string) (*Connection, error)
	// DeregisterConnection removes the connection and its room membership.
	// Idempotent; reports whether the entry existed so callers run
	// teardown side effects exactly once.
	DeregisterConnection(connID uuid.UUID) bool
	GetConnection(connID uuid.UUID) (*Connection, bool)
	// Touch refreshes the connection's liveness timestamp.
	Touch(connID uuid.UUID, now time.Time)
	Snapshot() []ConnectionInfo
	ConnectionCount() int
	UserConnectionCount(userID int64) int
	FindOldestUserConnection(userID int64) (*Connection, bool)

	// --- Room Membership ---
	// JoinRoom moves the connection into the project's room. A connection
	// is a member of at most one room; joining implies leaving the
	// previous room first. Re-joining the current room is a no-op.
	JoinRoom(connID uuid.UUID, projectID int64) error
	// LeaveRoom removes the connection from its room and returns the room
	// it left; ok is false when the connection was roomless or unknown.
	LeaveRoom(connID uuid.UUID) (projectID int64, ok bool)
	CurrentRoom(connID uuid.UUID) (projectID int64, ok bool)
	// RoomConnections returns a snapshot of the room's members.
	RoomConnections(projectID int64) []*Connection
}
