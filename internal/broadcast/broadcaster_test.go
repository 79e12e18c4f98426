package broadcast_test

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/abidi-said/TransMate-sub000/internal/broadcast"
	"github.com/abidi-said/TransMate-sub000/pkg/state"
	"github.com/abidi-said/TransMate-sub000/pkg/state/statemanager"
	"github.com/abidi-said/TransMate-sub000/pkg/transport"
	"github.com/google/uuid"
)

func newTestLogger() *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError + 1})
	return slog.New(handler)
}

type fakeTransport struct {
	id uuid.UUID

	mu     sync.Mutex
	frames [][]byte
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{id: uuid.New()}
}

func (f *fakeTransport) ID() uuid.UUID { return f.id }

func (f *fakeTransport) Send(frame []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, frame)
}

func (f *fakeTransport) Close(err error) {}

func (f *fakeTransport) frameCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.frames)
}

func setup(t *testing.T) (*statemanager.InMemoryManager, *broadcast.Broadcaster) {
	t.Helper()
	logger := newTestLogger()
	m := statemanager.NewInMemoryManager(logger, 0)
	return m, broadcast.New(m, logger)
}

func register(t *testing.T, m *statemanager.InMemoryManager, userID int64, projectID int64) *fakeTransport {
	t.Helper()
	tr := newFakeTransport()
	if _, err := m.RegisterConnection(tr, state.Identity{UserID: userID, DisplayName: "u"}, "1.1.1.1"); err != nil {
		t.Fatalf("RegisterConnection failed: %v", err)
	}
	if projectID != 0 {
		if err := m.JoinRoom(tr.ID(), projectID); err != nil {
			t.Fatalf("JoinRoom failed: %v", err)
		}
	}
	return tr
}

func TestBroadcastRoomIsolation(t *testing.T) {
	m, b := setup(t)

	inRoomA := register(t, m, 1, 7)
	alsoRoomA := register(t, m, 2, 7)
	inRoomB := register(t, m, 3, 9)
	roomless := register(t, m, 4, 0)

	b.Broadcast(7, []byte(`{"type":"EDIT_TRANSLATION"}`), uuid.Nil)

	if inRoomA.frameCount() != 1 || alsoRoomA.frameCount() != 1 {
		t.Errorf("room 7 members should each receive 1 frame, got %d and %d",
			inRoomA.frameCount(), alsoRoomA.frameCount())
	}
	if inRoomB.frameCount() != 0 {
		t.Errorf("room 9 member received %d frames from room 7 broadcast", inRoomB.frameCount())
	}
	if roomless.frameCount() != 0 {
		t.Errorf("roomless connection received %d frames", roomless.frameCount())
	}
}

func TestBroadcastExcludesSender(t *testing.T) {
	m, b := setup(t)

	sender := register(t, m, 1, 7)
	peer := register(t, m, 2, 7)

	b.Broadcast(7, []byte("event"), sender.ID())

	if sender.frameCount() != 0 {
		t.Errorf("excluded sender received %d frames", sender.frameCount())
	}
	if peer.frameCount() != 1 {
		t.Errorf("peer should receive 1 frame, got %d", peer.frameCount())
	}
}

func TestBroadcastEmptyRoom(t *testing.T) {
	_, b := setup(t)
	// Must not panic or block.
	b.Broadcast(999, []byte("event"), uuid.Nil)
}

// A connection whose outbound queue is saturated must not delay delivery
// to the rest of the room.
func TestBroadcastSlowConsumerIsolation(t *testing.T) {
	logger := newTestLogger()
	m := statemanager.NewInMemoryManager(logger, 0)
	b := broadcast.New(m, logger)

	// A real transport connection with a tiny queue and no writer running:
	// its queue saturates immediately.
	var wg sync.WaitGroup
	slow := transport.NewConnection(context.Background(), &wg, nil,
		transport.ConnectionConfig{SendQueueSize: 2}, nil, nil, logger)
	if _, err := m.RegisterConnection(slow, state.Identity{UserID: 1}, "1.1.1.1"); err != nil {
		t.Fatalf("RegisterConnection failed: %v", err)
	}
	if err := m.JoinRoom(slow.ID(), 7); err != nil {
		t.Fatalf("JoinRoom failed: %v", err)
	}

	healthy := register(t, m, 2, 7)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			b.Broadcast(7, []byte("event"), uuid.Nil)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast stalled behind a saturated consumer")
	}

	if healthy.frameCount() != 100 {
		t.Errorf("healthy consumer should receive all 100 frames, got %d", healthy.frameCount())
	}
	if depth := slow.QueueDepth(); depth > 2 {
		t.Errorf("slow consumer queue exceeded its bound: %d", depth)
	}
}
