// Package broker is the room registry: spawn-on-demand, idle-reap after a
// grace period, and reload-on-crash. Generalized from a single global map
// to one that also knows how to hydrate a room's board from the
// persistence store.
package broker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kalgynirae/sudoku-sync/internal/v1/board"
	"github.com/kalgynirae/sudoku-sync/internal/v1/metrics"
	"github.com/kalgynirae/sudoku-sync/internal/v1/persistence"
	"github.com/kalgynirae/sudoku-sync/internal/v1/room"
	"github.com/kalgynirae/sudoku-sync/internal/v1/types"
	"github.com/kalgynirae/sudoku-sync/internal/v1/wire"
)

// Broker owns the live room registry. Spawning and reaping happen under a
// short-held mutex; the rooms themselves run independently once created.
type Broker struct {
	store              *persistence.Store
	logger             *zap.Logger
	cleanupGracePeriod time.Duration

	mu              sync.Mutex
	rooms           map[types.RoomID]*room.Room
	pendingCleanups map[types.RoomID]*time.Timer
}

// New builds a broker backed by store, reaping empty rooms after grace.
func New(store *persistence.Store, grace time.Duration, logger *zap.Logger) *Broker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broker{
		store:              store,
		logger:             logger,
		cleanupGracePeriod: grace,
		rooms:              make(map[types.RoomID]*room.Room),
		pendingCleanups:    make(map[types.RoomID]*time.Timer),
	}
}

// GetOrCreate returns the live room for id, spawning and hydrating it from
// storage on first access. Concurrent callers racing on the same new id
// both block on the same mutex; only one of them actually spawns.
func (b *Broker) GetOrCreate(ctx context.Context, id types.RoomID) *room.Room {
	b.mu.Lock()
	defer b.mu.Unlock()

	if r, ok := b.rooms[id]; ok {
		if timer, pending := b.pendingCleanups[id]; pending {
			timer.Stop()
			delete(b.pendingCleanups, id)
		}
		return r
	}

	initial, syncID := board.New(), uint64(0)
	if rec, err := b.store.Load(id); err == nil {
		initial, syncID = rec.Board, rec.SyncID
	} else if err != persistence.ErrNotFound {
		b.logger.Warn("failed to load room from storage, starting empty", zap.Error(err))
	}

	r := room.New(id, initial, syncID, b.scheduleReap, b.logger)
	b.rooms[id] = r
	metrics.ActiveRooms.Inc()

	go b.watchForCrash(id, r)
	return r
}

// watchForCrash removes a room from the registry the moment its run loop
// exits unexpectedly, so the next GetOrCreate respawns it fresh from
// storage instead of handing out a dead handle.
func (b *Broker) watchForCrash(id types.RoomID, r *room.Room) {
	<-r.Done()
	if !r.Crashed() {
		return
	}
	b.logger.Warn("room crashed, evicting from registry", zap.String("room", wire.EncodeRoomID(id)))
	b.mu.Lock()
	if b.rooms[id] == r {
		delete(b.rooms, id)
		metrics.ActiveRooms.Dec()
		metrics.RoomSubscribers.DeleteLabelValues(wire.EncodeRoomID(id))
	}
	b.mu.Unlock()
}

// scheduleReap is passed to room.New as its idle callback: it's invoked
// any time a subscriber detaches, and itself decides whether the room is
// actually empty enough to reap.
func (b *Broker) scheduleReap(id types.RoomID) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if timer, pending := b.pendingCleanups[id]; pending {
		timer.Stop()
		delete(b.pendingCleanups, id)
	}

	timer := time.AfterFunc(b.cleanupGracePeriod, func() {
		b.reapIfEmpty(id)
	})
	b.pendingCleanups[id] = timer
}

func (b *Broker) reapIfEmpty(id types.RoomID) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.pendingCleanups, id)
	r, ok := b.rooms[id]
	if !ok {
		return
	}
	if r.SubscriberCount() > 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if snap, err := r.Snapshot(ctx); err == nil && snap.Dirty {
		if err := b.store.Save(ctx, id, persistence.Record{SyncID: snap.SyncID, Board: snap.Board}); err != nil {
			b.logger.Error("failed to flush room before reaping", zap.Error(err))
		} else {
			r.ClearDirty(snap.SyncID)
		}
	}

	_ = r.Shutdown(ctx, "idle timeout")
	delete(b.rooms, id)
	metrics.ActiveRooms.Dec()
	metrics.RoomSubscribers.DeleteLabelValues(wire.EncodeRoomID(id))
}

// ActiveRooms returns the flush loop's view of every live room.
func (b *Broker) ActiveRooms() []persistence.FlushableRoom {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]persistence.FlushableRoom, 0, len(b.rooms))
	for _, r := range b.rooms {
		out = append(out, r)
	}
	return out
}

// Shutdown flushes and shuts down every active room.
func (b *Broker) Shutdown(ctx context.Context) {
	b.mu.Lock()
	for id, timer := range b.pendingCleanups {
		timer.Stop()
		delete(b.pendingCleanups, id)
	}
	rooms := make([]*room.Room, 0, len(b.rooms))
	for _, r := range b.rooms {
		rooms = append(rooms, r)
	}
	b.mu.Unlock()

	for _, r := range rooms {
		if snap, err := r.Snapshot(ctx); err == nil && snap.Dirty {
			_ = b.store.Save(ctx, r.ID(), persistence.Record{SyncID: snap.SyncID, Board: snap.Board})
		}
		_ = r.Shutdown(ctx, "server shutting down")
	}
}
