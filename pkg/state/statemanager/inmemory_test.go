package statemanager_test

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/abidi-said/TransMate-sub000/pkg/state"
	"github.com/abidi-said/TransMate-sub000/pkg/state/statemanager"
	"github.com/google/uuid"
)

// --- Test Suite Setup ---

func newTestLogger() *slog.Logger {
	// Discard logger output during tests by setting a high level
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError + 1})
	return slog.New(handler)
}

func newTestManager() *statemanager.InMemoryManager {
	return statemanager.NewInMemoryManager(newTestLogger(), 0)
}

type fakeTransport struct {
	id     uuid.UUID
	frames [][]byte
	closed bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{id: uuid.New()}
}

func (f *fakeTransport) ID() uuid.UUID     { return f.id }
func (f *fakeTransport) Send(frame []byte) { f.frames = append(f.frames, frame) }
func (f *fakeTransport) Close(err error)   { f.closed = true }

func ident(userID int64, name string) state.Identity {
	return state.Identity{UserID: userID, DisplayName: name}
}

// --- Connection Lifecycle Tests ---

func TestConnectionLifecycle(t *testing.T) {
	m := newTestManager()
	tr := newFakeTransport()

	// 1. Register
	conn, err := m.RegisterConnection(tr, ident(1, "alice"), "127.0.0.1")
	if err != nil {
		t.Fatalf("RegisterConnection failed: %v", err)
	}
	if conn.ID != tr.ID() {
		t.Errorf("Registered connection ID mismatch")
	}
	if conn.Identity.UserID != 1 || conn.Identity.DisplayName != "alice" {
		t.Errorf("Identity not copied onto connection: %+v", conn.Identity)
	}

	// 2. Get
	retrieved, found := m.GetConnection(tr.ID())
	if !found {
		t.Fatal("GetConnection failed to find registered connection")
	}
	if retrieved.ID != tr.ID() {
		t.Errorf("Retrieved connection ID mismatch")
	}

	// 3. Deregister
	if existed := m.DeregisterConnection(tr.ID()); !existed {
		t.Fatal("DeregisterConnection reported the connection as unknown")
	}
	if _, found = m.GetConnection(tr.ID()); found {
		t.Error("Found connection after it should have been deregistered")
	}
}

func TestDeregisterIsIdempotent(t *testing.T) {
	m := newTestManager()
	tr := newFakeTransport()
	m.RegisterConnection(tr, ident(1, "alice"), "127.0.0.1")

	if existed := m.DeregisterConnection(tr.ID()); !existed {
		t.Fatal("first DeregisterConnection should report existence")
	}
	if existed := m.DeregisterConnection(tr.ID()); existed {
		t.Error("second DeregisterConnection should be a no-op")
	}
	if m.ConnectionCount() != 0 {
		t.Errorf("expected empty registry, got %d connections", m.ConnectionCount())
	}
}

func TestRegisterConnectionCapacity(t *testing.T) {
	m := statemanager.NewInMemoryManager(newTestLogger(), 1)

	if _, err := m.RegisterConnection(newFakeTransport(), ident(1, "alice"), "1.1.1.1"); err != nil {
		t.Fatalf("first RegisterConnection failed: %v", err)
	}
	if _, err := m.RegisterConnection(newFakeTransport(), ident(2, "bob"), "2.2.2.2"); err == nil {
		t.Fatal("expected registry-full error, got nil")
	}
}

func TestUserConnectionCountAndOldest(t *testing.T) {
	m := newTestManager()
	tr1 := newFakeTransport()
	tr2 := newFakeTransport()

	c1, _ := m.RegisterConnection(tr1, ident(7, "alice"), "1.1.1.1")
	c1.CreatedAt = c1.CreatedAt.Add(-time.Second) // force a strict ordering
	m.RegisterConnection(tr2, ident(7, "alice"), "2.2.2.2")
	m.RegisterConnection(newFakeTransport(), ident(8, "bob"), "3.3.3.3")

	if count := m.UserConnectionCount(7); count != 2 {
		t.Errorf("expected 2 connections for user 7, got %d", count)
	}

	oldest, found := m.FindOldestUserConnection(7)
	if !found {
		t.Fatal("expected to find oldest connection")
	}
	if oldest.ID != tr1.ID() {
		t.Errorf("expected oldest connection %s, got %s", tr1.ID(), oldest.ID)
	}

	m.DeregisterConnection(tr1.ID())
	if count := m.UserConnectionCount(7); count != 1 {
		t.Errorf("expected 1 connection after deregister, got %d", count)
	}
}

func TestTouchAndSnapshot(t *testing.T) {
	m := newTestManager()
	tr := newFakeTransport()
	m.RegisterConnection(tr, ident(1, "alice"), "1.1.1.1")

	seen := time.Now().Add(time.Minute)
	m.Touch(tr.ID(), seen)

	snap := m.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("expected 1 snapshot entry, got %d", len(snap))
	}
	if !snap[0].LastSeenAt.Equal(seen) {
		t.Errorf("Touch did not refresh LastSeenAt: got %v want %v", snap[0].LastSeenAt, seen)
	}
}

// --- Room Membership Tests ---

func TestRoomMembership(t *testing.T) {
	m := newTestManager()
	tr1, tr2 := newFakeTransport(), newFakeTransport()
	m.RegisterConnection(tr1, ident(1, "alice"), "1.1.1.1")
	m.RegisterConnection(tr2, ident(2, "bob"), "2.2.2.2")

	if err := m.JoinRoom(tr1.ID(), 7); err != nil {
		t.Fatalf("JoinRoom failed: %v", err)
	}
	if err := m.JoinRoom(tr2.ID(), 7); err != nil {
		t.Fatalf("JoinRoom failed: %v", err)
	}

	members := m.RoomConnections(7)
	if len(members) != 2 {
		t.Fatalf("expected 2 members in room 7, got %d", len(members))
	}

	left, ok := m.LeaveRoom(tr1.ID())
	if !ok || left != 7 {
		t.Fatalf("LeaveRoom: got (%d, %v), want (7, true)", left, ok)
	}

	members = m.RoomConnections(7)
	if len(members) != 1 {
		t.Fatalf("expected 1 member after leave, got %d", len(members))
	}
	if members[0].Identity.UserID != 2 {
		t.Errorf("expected remaining member user 2, got %d", members[0].Identity.UserID)
	}

	// Empty room is removed.
	m.LeaveRoom(tr2.ID())
	if members := m.RoomConnections(7); len(members) != 0 {
		t.Errorf("expected empty room to be deleted, got %d members", len(members))
	}
}

func TestJoinRoomSwitchesRooms(t *testing.T) {
	m := newTestManager()
	tr := newFakeTransport()
	m.RegisterConnection(tr, ident(1, "alice"), "1.1.1.1")

	m.JoinRoom(tr.ID(), 7)
	if err := m.JoinRoom(tr.ID(), 9); err != nil {
		t.Fatalf("JoinRoom to second room failed: %v", err)
	}

	if members := m.RoomConnections(7); len(members) != 0 {
		t.Errorf("connection still in old room 7 after switching")
	}
	if members := m.RoomConnections(9); len(members) != 1 {
		t.Errorf("connection missing from new room 9")
	}
	if room, ok := m.CurrentRoom(tr.ID()); !ok || room != 9 {
		t.Errorf("CurrentRoom: got (%d, %v), want (9, true)", room, ok)
	}
}

func TestJoinRoomIsIdempotent(t *testing.T) {
	m := newTestManager()
	tr := newFakeTransport()
	m.RegisterConnection(tr, ident(1, "alice"), "1.1.1.1")

	m.JoinRoom(tr.ID(), 7)
	if err := m.JoinRoom(tr.ID(), 7); err != nil {
		t.Fatalf("re-joining the same room should be a no-op, got %v", err)
	}
	if members := m.RoomConnections(7); len(members) != 1 {
		t.Errorf("expected 1 member after duplicate join, got %d", len(members))
	}
}

func TestLeaveRoomWhenRoomless(t *testing.T) {
	m := newTestManager()
	tr := newFakeTransport()
	m.RegisterConnection(tr, ident(1, "alice"), "1.1.1.1")

	if _, ok := m.LeaveRoom(tr.ID()); ok {
		t.Error("LeaveRoom on a roomless connection should report ok=false")
	}
	if _, ok := m.LeaveRoom(uuid.New()); ok {
		t.Error("LeaveRoom on an unknown connection should report ok=false")
	}
}

func TestDeregisterRemovesRoomMembership(t *testing.T) {
	m := newTestManager()
	tr := newFakeTransport()
	m.RegisterConnection(tr, ident(1, "alice"), "1.1.1.1")
	m.JoinRoom(tr.ID(), 7)

	m.DeregisterConnection(tr.ID())
	if members := m.RoomConnections(7); len(members) != 0 {
		t.Errorf("deregistered connection still member of room 7")
	}
}
