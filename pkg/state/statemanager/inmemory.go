package statemanager

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/abidi-said/TransMate-sub000/pkg/state"
	"github.com/google/uuid"
)

// ErrRegistryFull is returned when the connection cap is reached; the
// accept handler rejects the new connection.
var ErrRegistryFull = errors.New("connection registry is full")

// InMemoryManager keeps the connection registry and room membership in
// process memory. Each map has its own mutex so a broadcast snapshot never
// serializes against unrelated connection churn. Lock order, where both are
// needed, is connMu before roomMu, never nested the other way.
type InMemoryManager struct {
	conns map[uuid.UUID]*state.Connection
	rooms map[int64]map[uuid.UUID]*state.Connection

	connMu sync.RWMutex
	roomMu sync.RWMutex

	maxConnections int
	logger         *slog.Logger
}

func NewInMemoryManager(logger *slog.Logger, maxConnections int) *InMemoryManager {
	return &InMemoryManager{
		conns:          make(map[uuid.UUID]*state.Connection),
		rooms:          make(map[int64]map[uuid.UUID]*state.Connection),
		maxConnections: maxConnections,
		logger:         logger.With(slog.String("component", "state_manager_inmemory")),
	}
}

// compile-time check to ensure InMemoryManager implements Manager.
var _ state.Manager = (*InMemoryManager)(nil)

func (m *InMemoryManager) RegisterConnection(t state.Transport, identity state.Identity, remoteAddr string) (*state.Connection, error) {
	m.connMu.Lock()
	defer m.connMu.Unlock()

	if m.maxConnections > 0 && len(m.conns) >= m.maxConnections {
		return nil, ErrRegistryFull
	}

	connID := t.ID()
	if _, exists := m.conns[connID]; exists {
		return nil, errors.New("connection is already registered")
	}
	now := time.Now()
	newConn := &state.Connection{
		ID:         connID,
		Identity:   identity,
		RemoteAddr: remoteAddr,
		Transport:  t,
		CreatedAt:  now,
		LastSeenAt: now,
	}
	m.conns[connID] = newConn
	m.logger.Debug("Connection registered",
		slog.String("connID", connID.String()),
		slog.Int64("userID", identity.UserID),
	)
	return newConn, nil
}

func (m *InMemoryManager) DeregisterConnection(connID uuid.UUID) bool {
	m.connMu.Lock()
	conn, ok := m.conns[connID]
	if !ok {
		// already deregistered
		m.connMu.Unlock()
		return false
	}
	delete(m.conns, connID)
	conn.ProjectID = 0
	m.connMu.Unlock()

	m.roomMu.Lock()
	m.removeFromRoomsLocked(connID)
	m.roomMu.Unlock()

	m.logger.Debug("Connection deregistered", "connID", connID.String())
	return true
}

func (m *InMemoryManager) GetConnection(connID uuid.UUID) (*state.Connection, bool) {
	m.connMu.RLock()
	defer m.connMu.RUnlock()
	conn, ok := m.conns[connID]
	return conn, ok
}

func (m *InMemoryManager) Touch(connID uuid.UUID, now time.Time) {
	m.connMu.Lock()
	defer m.connMu.Unlock()
	if conn, ok := m.conns[connID]; ok {
		conn.LastSeenAt = now
	}
}

func (m *InMemoryManager) Snapshot() []state.ConnectionInfo {
	m.connMu.RLock()
	defer m.connMu.RUnlock()

	infos := make([]state.ConnectionInfo, 0, len(m.conns))
	for _, conn := range m.conns {
		infos = append(infos, state.ConnectionInfo{
			ID:         conn.ID,
			Identity:   conn.Identity,
			ProjectID:  conn.ProjectID,
			LastSeenAt: conn.LastSeenAt,
			Transport:  conn.Transport,
		})
	}
	return infos
}

func (m *InMemoryManager) ConnectionCount() int {
	m.connMu.RLock()
	defer m.connMu.RUnlock()
	return len(m.conns)
}

func (m *InMemoryManager) UserConnectionCount(userID int64) int {
	m.connMu.RLock()
	defer m.connMu.RUnlock()

	count := 0
	for _, conn := range m.conns {
		if conn.Identity.UserID == userID {
			count++
		}
	}
	return count
}

func (m *InMemoryManager) FindOldestUserConnection(userID int64) (*state.Connection, bool) {
	m.connMu.RLock()
	defer m.connMu.RUnlock()

	var oldestConn *state.Connection
	var oldestTime time.Time

	for _, conn := range m.conns {
		if conn.Identity.UserID != userID {
			continue
		}
		if oldestConn == nil || conn.CreatedAt.Before(oldestTime) {
			oldestConn = conn
			oldestTime = conn.CreatedAt
		}
	}

	if oldestConn == nil {
		return nil, false
	}
	return oldestConn, true
}

// --- Room Membership ---

func (m *InMemoryManager) JoinRoom(connID uuid.UUID, projectID int64) error {
	m.connMu.Lock()
	defer m.connMu.Unlock()

	conn, ok := m.conns[connID]
	if !ok {
		return errors.New("cannot join room: connection not found")
	}

	if conn.ProjectID == projectID {
		// Idempotent re-join, e.g. a reconnecting client retrying.
		return nil
	}

	m.roomMu.Lock()
	defer m.roomMu.Unlock()

	// One room per connection: leave the previous room first.
	if conn.ProjectID != 0 {
		m.removeFromRoomsLocked(connID)
	}

	room, exists := m.rooms[projectID]
	if !exists {
		room = make(map[uuid.UUID]*state.Connection)
		m.rooms[projectID] = room
	}
	room[connID] = conn
	conn.ProjectID = projectID

	m.logger.Debug("Connection joined room", "connID", connID.String(), "projectID", projectID)
	return nil
}

func (m *InMemoryManager) LeaveRoom(connID uuid.UUID) (int64, bool) {
	m.connMu.Lock()
	defer m.connMu.Unlock()

	conn, ok := m.conns[connID]
	if !ok || conn.ProjectID == 0 {
		return 0, false
	}
	left := conn.ProjectID
	conn.ProjectID = 0

	m.roomMu.Lock()
	m.removeFromRoomsLocked(connID)
	m.roomMu.Unlock()

	m.logger.Debug("Connection left room", "connID", connID.String(), "projectID", left)
	return left, true
}

func (m *InMemoryManager) CurrentRoom(connID uuid.UUID) (int64, bool) {
	m.connMu.RLock()
	defer m.connMu.RUnlock()

	conn, ok := m.conns[connID]
	if !ok || conn.ProjectID == 0 {
		return 0, false
	}
	return conn.ProjectID, true
}

func (m *InMemoryManager) RoomConnections(projectID int64) []*state.Connection {
	m.roomMu.RLock()
	defer m.roomMu.RUnlock()

	room, ok := m.rooms[projectID]
	if !ok {
		return nil
	}
	conns := make([]*state.Connection, 0, len(room))
	for _, conn := range room {
		conns = append(conns, conn)
	}
	return conns
}

// removeFromRoomsLocked drops the connection from whichever room holds it
// and deletes the room once empty. Caller holds roomMu.
func (m *InMemoryManager) removeFromRoomsLocked(connID uuid.UUID) {
	for projectID, room := range m.rooms {
		if _, ok := room[connID]; !ok {
			continue
		}
		delete(room, connID)
		if len(room) == 0 {
			delete(m.rooms, projectID)
			m.logger.Debug("Removed empty room", "projectID", projectID)
		}
		return
	}
}
