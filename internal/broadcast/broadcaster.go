// Package broadcast fans events out to every connection in a project room.
package broadcast

import (
	"log/slog"

	"github.com/abidi-said/TransMate-sub000/pkg/state"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const defaultConcurrency = 50

// RoomSource yields a snapshot of a room's current members.
type RoomSource interface {
	RoomConnections(projectID int64) []*state.Connection
}

// Broadcaster delivers frames to room members independently: each send is
// a non-blocking enqueue on the member's own outbound queue, so one slow
// consumer never delays the rest of the room.
type Broadcaster struct {
	rooms       RoomSource
	concurrency int
	logger      *slog.Logger
}

func New(rooms RoomSource, logger *slog.Logger) *Broadcaster {
	return &Broadcaster{
		rooms:       rooms,
		concurrency: defaultConcurrency,
		logger:      logger.With(slog.String("component", "broadcaster")),
	}
}

// Broadcast sends frame to every connection in the project's room except
// exclude (uuid.Nil excludes nobody). Delivery is attempted per connection
// and fire-and-forget; there is no aggregate failure.
func (b *Broadcaster) Broadcast(projectID int64, frame []byte, exclude uuid.UUID) {
	members := b.rooms.RoomConnections(projectID)
	if len(members) == 0 {
		return
	}

	var g errgroup.Group
	g.SetLimit(b.concurrency)

	delivered := 0
	for _, member := range members {
		if member.ID == exclude {
			continue
		}
		t := member.Transport
		delivered++
		g.Go(func() error {
			t.Send(frame)
			return nil
		})
	}
	g.Wait()

	b.logger.Debug("Broadcast delivered",
		slog.Int64("projectID", projectID),
		slog.Int("recipients", delivered),
	)
}

// SendTo delivers a frame to a single connection, used for direct replies.
func (b *Broadcaster) SendTo(conn *state.Connection, frame []byte) {
	conn.Transport.Send(frame)
}
