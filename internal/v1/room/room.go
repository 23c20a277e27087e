// Package room implements the per-room board state machine. Exactly one
// goroutine (Room.run) ever touches a room's board, reached through a
// single-consumer command channel: no mutex ever guards board state, the
// single-writer property is structural.
package room

import (
	"context"
	"fmt"
	"runtime/debug"

	"go.uber.org/zap"

	"github.com/kalgynirae/sudoku-sync/internal/v1/board"
	"github.com/kalgynirae/sudoku-sync/internal/v1/diffop"
	"github.com/kalgynirae/sudoku-sync/internal/v1/metrics"
	"github.com/kalgynirae/sudoku-sync/internal/v1/types"
	"github.com/kalgynirae/sudoku-sync/internal/v1/wire"
)

// roomState is the authoritative, single-owner state a room's run loop
// mutates. It is never touched from any other goroutine.
type roomState struct {
	id          types.RoomID
	board       board.Board
	syncID      uint64
	dirty       bool
	subscribers map[types.SessionHandle]types.Subscriber
	logger      *zap.Logger
}

func (s *roomState) applyBatch(origin types.SessionHandle, diffs []diffop.Diff) {
	next, err := diffop.ApplyBatch(s.board, diffs)
	if err != nil {
		metrics.MalformedBatchesTotal.Inc()
		sub, ok := s.subscribers[origin]
		if !ok {
			return
		}
		data, encErr := wire.EncodeFullUpdate(s.syncID, s.board)
		if encErr != nil {
			s.logger.Error("failed to encode resync fullUpdate", zap.Error(encErr))
			return
		}
		s.trySend(origin, sub, data)
		return
	}

	s.board = next
	s.dirty = true
	s.syncID++

	data, err := wire.EncodePartialUpdate(s.syncID, diffs)
	if err != nil {
		s.logger.Error("failed to encode partialUpdate", zap.Error(err))
		return
	}
	s.broadcast(data)
}

func (s *roomState) replaceBoard(b board.Board) {
	s.board = b
	s.dirty = true
	s.syncID++

	data, err := wire.EncodeFullUpdate(s.syncID, s.board)
	if err != nil {
		s.logger.Error("failed to encode fullUpdate for setBoardState", zap.Error(err))
		return
	}
	s.broadcast(data)
}

func (s *roomState) broadcast(data []byte) {
	for handle, sub := range s.subscribers {
		s.trySend(handle, sub, data)
	}
}

func (s *roomState) broadcastExcept(origin types.SessionHandle, data []byte) {
	for handle, sub := range s.subscribers {
		if handle == origin {
			continue
		}
		s.trySend(handle, sub, data)
	}
}

// trySend delivers data to sub, evicting it on a saturated queue: a
// subscriber whose send buffer is full gets its socket closed and detached
// rather than blocking the room on a slow consumer.
func (s *roomState) trySend(handle types.SessionHandle, sub types.Subscriber, data []byte) {
	if sub.SendRaw(data) {
		return
	}
	metrics.SlowConsumerEvictionsTotal.Inc()
	s.logger.Warn("evicting slow consumer", zap.String("room", wire.EncodeRoomID(s.id)), zap.String("session", string(handle)))
	delete(s.subscribers, handle)
	sub.Close()
}

func (s *roomState) closeAll(reason string) {
	for handle, sub := range s.subscribers {
		sub.Close()
		delete(s.subscribers, handle)
	}
	_ = reason
}

// Room owns one room's board and serializes every mutation through cmds.
type Room struct {
	id     types.RoomID
	cmds   chan command
	done   chan struct{}
	onIdle func(types.RoomID)

	crashed  bool
	crashErr error
}

// commandQueueSize bounds the room's command mailbox depth.
const commandQueueSize = 256

// New spawns a room's run loop and returns its handle. initial/syncID seed
// the authoritative state (e.g. hydrated from storage, or empty for a
// brand-new room id).
func New(id types.RoomID, initial board.Board, syncID uint64, onIdle func(types.RoomID), logger *zap.Logger) *Room {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Room{
		id:     id,
		cmds:   make(chan command, commandQueueSize),
		done:   make(chan struct{}),
		onIdle: onIdle,
	}
	go r.run(initial, syncID, logger)
	return r
}

// ID returns the room's identifier.
func (r *Room) ID() types.RoomID { return r.id }

// Done is closed when the room's run loop exits, whether cleanly (after
// Shutdown) or after a panic was recovered from a command handler.
func (r *Room) Done() <-chan struct{} { return r.done }

// Crashed reports whether the room exited due to a recovered panic rather
// than a clean shutdown. Only meaningful after Done() is closed.
func (r *Room) Crashed() bool { return r.crashed }

func (r *Room) run(initial board.Board, syncID uint64, logger *zap.Logger) {
	defer close(r.done)

	s := &roomState{
		id:          r.id,
		board:       initial,
		syncID:      syncID,
		subscribers: make(map[types.SessionHandle]types.Subscriber),
		logger:      logger,
	}

	for cmd := range r.cmds {
		crashed, stop := r.runOne(cmd, s, logger)
		if crashed || stop {
			break
		}
	}
}

// runOne executes a single command with panic recovery. The room must not
// take the process down with it, but once a command handler has panicked
// this room's session set is untrustworthy and must be torn down so
// clients reconnect clean. stop reports that the command itself (a clean
// shutdown) ended the run loop, independent of crashed.
func (r *Room) runOne(cmd command, s *roomState, logger *zap.Logger) (crashed, stop bool) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("room task panicked, restarting",
				zap.String("room", wire.EncodeRoomID(r.id)),
				zap.Any("panic", rec),
				zap.String("stack", string(debug.Stack())),
			)
			metrics.RoomPanicsTotal.Inc()
			s.closeAll("internal error, please reconnect")
			r.crashed = true
			r.crashErr = fmt.Errorf("room %s panicked: %v", wire.EncodeRoomID(r.id), rec)
			crashed = true
		}
	}()
	stop = cmd.apply(s)
	return crashed, stop
}

// Attach adds sub as a subscriber and returns the current board + sync id
// for the session's initial snapshot.
func (r *Room) Attach(ctx context.Context, sub types.Subscriber) (AttachResult, error) {
	reply := make(chan AttachResult, 1)
	if err := r.send(ctx, attachCmd{sub: sub, reply: reply}); err != nil {
		return AttachResult{}, err
	}
	select {
	case res := <-reply:
		return res, nil
	case <-r.done:
		return AttachResult{}, ErrRoomClosed
	case <-ctx.Done():
		return AttachResult{}, ctx.Err()
	}
}

// Detach removes a subscriber. Idle reaping (grace-period unload) is the
// broker's responsibility, not the room's.
func (r *Room) Detach(handle types.SessionHandle) {
	r.tryEnqueue(detachCmd{handle: handle})
	if r.onIdle != nil {
		// The room doesn't know its own subscriber count without a reply
		// round-trip; the broker re-checks emptiness itself before reaping,
		// so a spurious wakeup here is harmless.
		go r.onIdle(r.id)
	}
}

// ApplyBatch validates and commits diffs from origin.
func (r *Room) ApplyBatch(origin types.SessionHandle, diffs []diffop.Diff) {
	r.tryEnqueue(applyBatchCmd{origin: origin, diffs: diffs})
}

// ReplaceBoard installs b as the authoritative board unconditionally, used
// to handle an inbound setBoardState message.
func (r *Room) ReplaceBoard(b board.Board) {
	r.tryEnqueue(replaceBoardCmd{board: b})
}

// Cursor fans raw out to every subscriber except origin, untouched.
func (r *Room) Cursor(origin types.SessionHandle, raw []byte) {
	r.tryEnqueue(cursorCmd{origin: origin, raw: raw})
}

// SubscriberCount reports how many sessions are currently attached. A room
// that has already exited reports zero rather than erroring, since the
// broker's reap check treats "gone" the same as "empty".
func (r *Room) SubscriberCount() int {
	reply := make(chan int, 1)
	select {
	case r.cmds <- subscriberCountCmd{reply: reply}:
	case <-r.done:
		return 0
	}
	select {
	case n := <-reply:
		return n
	case <-r.done:
		return 0
	}
}

// Snapshot reads the board + dirty flag for the persistence loop.
func (r *Room) Snapshot(ctx context.Context) (SnapshotResult, error) {
	reply := make(chan SnapshotResult, 1)
	if err := r.send(ctx, snapshotCmd{reply: reply}); err != nil {
		return SnapshotResult{}, err
	}
	select {
	case res := <-reply:
		return res, nil
	case <-r.done:
		return SnapshotResult{}, ErrRoomClosed
	case <-ctx.Done():
		return SnapshotResult{}, ctx.Err()
	}
}

// ClearDirty acknowledges a successful flush taken at atSyncID.
func (r *Room) ClearDirty(atSyncID uint64) {
	r.tryEnqueue(clearDirtyCmd{atSyncID: atSyncID})
}

// Shutdown quiesces the room: it finishes any in-flight command, closes
// every subscriber's socket, then stops. The caller should flush the final
// snapshot (via Snapshot, called before Shutdown) since Shutdown itself
// does not touch storage.
func (r *Room) Shutdown(ctx context.Context, reason string) error {
	reply := make(chan struct{})
	if err := r.send(ctx, shutdownCmd{reason: reason, reply: reply}); err != nil {
		return err
	}
	select {
	case <-reply:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Room) send(ctx context.Context, cmd command) error {
	select {
	case r.cmds <- cmd:
		return nil
	case <-r.done:
		return ErrRoomClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// tryEnqueue is used by fire-and-forget operations that have nowhere to
// report a closed room; a room that has already shut down simply drops
// the command.
func (r *Room) tryEnqueue(cmd command) {
	select {
	case r.cmds <- cmd:
	case <-r.done:
	}
}
