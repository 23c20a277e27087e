package room

import (
	"github.com/kalgynirae/sudoku-sync/internal/v1/board"
	"github.com/kalgynirae/sudoku-sync/internal/v1/diffop"
	"github.com/kalgynirae/sudoku-sync/internal/v1/types"
)

// command is the mailbox message type processed one-at-a-time by the
// room's run loop. The only thing that ever mutates roomState is whatever
// runs inside command.apply, and that always happens on the single room
// goroutine. apply returns true to tell the run loop to stop after this
// command, used by shutdownCmd to end the loop cleanly.
type command interface {
	apply(s *roomState) (stop bool)
}

// AttachResult is the board snapshot handed back on a successful attach.
type AttachResult struct {
	Board  board.Board
	SyncID uint64
}

type attachCmd struct {
	sub   types.Subscriber
	reply chan AttachResult
}

func (c attachCmd) apply(s *roomState) bool {
	s.subscribers[c.sub.Handle()] = c.sub
	c.reply <- AttachResult{Board: s.board, SyncID: s.syncID}
	return false
}

type detachCmd struct {
	handle types.SessionHandle
}

func (c detachCmd) apply(s *roomState) bool {
	delete(s.subscribers, c.handle)
	return false
}

type applyBatchCmd struct {
	origin types.SessionHandle
	diffs  []diffop.Diff
}

func (c applyBatchCmd) apply(s *roomState) bool {
	s.applyBatch(c.origin, c.diffs)
	return false
}

type replaceBoardCmd struct {
	board board.Board
}

func (c replaceBoardCmd) apply(s *roomState) bool {
	s.replaceBoard(c.board)
	return false
}

type cursorCmd struct {
	origin types.SessionHandle
	raw    []byte
}

func (c cursorCmd) apply(s *roomState) bool {
	s.broadcastExcept(c.origin, c.raw)
	return false
}

// SnapshotResult is what the persistence loop reads from a running room.
type SnapshotResult struct {
	Board  board.Board
	Dirty  bool
	SyncID uint64
}

type snapshotCmd struct {
	reply chan SnapshotResult
}

func (c snapshotCmd) apply(s *roomState) bool {
	c.reply <- SnapshotResult{Board: s.board, Dirty: s.dirty, SyncID: s.syncID}
	return false
}

// clearDirtyCmd clears the dirty flag only if no batch has landed since the
// snapshot at atSyncID was taken — otherwise a write racing the flush would
// be silently marked clean.
type clearDirtyCmd struct {
	atSyncID uint64
}

func (c clearDirtyCmd) apply(s *roomState) bool {
	if s.syncID == c.atSyncID {
		s.dirty = false
	}
	return false
}

type subscriberCountCmd struct {
	reply chan int
}

func (c subscriberCountCmd) apply(s *roomState) bool {
	c.reply <- len(s.subscribers)
	return false
}

type shutdownCmd struct {
	reason string
	reply  chan struct{}
}

func (c shutdownCmd) apply(s *roomState) bool {
	s.closeAll(c.reason)
	close(c.reply)
	return true
}
