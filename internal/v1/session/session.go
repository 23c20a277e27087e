// Package session wires one WebSocket connection to a room. A Session
// implements types.Subscriber so the room can address it without knowing
// anything about the transport underneath.
package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/kalgynirae/sudoku-sync/internal/v1/board"
	"github.com/kalgynirae/sudoku-sync/internal/v1/diffop"
	"github.com/kalgynirae/sudoku-sync/internal/v1/metrics"
	"github.com/kalgynirae/sudoku-sync/internal/v1/room"
	"github.com/kalgynirae/sudoku-sync/internal/v1/types"
	"github.com/kalgynirae/sudoku-sync/internal/v1/wire"
)

// State is a session's position in its lifecycle.
type State int32

const (
	StateConnecting State = iota
	StateAwaitingInit
	StateAttached
	StateClosing
)

// Room is the subset of *room.Room a session needs, kept as an interface
// so tests can supply a fake without spinning up a real run loop.
type Room interface {
	Attach(ctx context.Context, sub types.Subscriber) (room.AttachResult, error)
	Detach(handle types.SessionHandle)
	ApplyBatch(origin types.SessionHandle, diffs []diffop.Diff)
	ReplaceBoard(b board.Board)
	Cursor(origin types.SessionHandle, raw []byte)
}

// wsConn is the slice of *websocket.Conn a session actually calls,
// narrowed so tests can supply a fake.
type wsConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(string) error)
}

const (
	sendQueueSize = 64
	writeWait     = 10 * time.Second
	pongWait      = 60 * time.Second
	pingPeriod    = pongWait * 9 / 10
)

// Session owns one client connection. Exactly one readPump goroutine and
// one writePump goroutine operate on it; everything else (the room) talks
// to it only through SendRaw/Close.
type Session struct {
	handle types.SessionHandle
	conn   wsConn
	logger *zap.Logger

	state     atomic.Int32
	closeOnce sync.Once
	send      chan []byte
}

// New wraps conn as a session identified by handle.
func New(handle types.SessionHandle, conn wsConn, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Session{
		handle: handle,
		conn:   conn,
		logger: logger,
		send:   make(chan []byte, sendQueueSize),
	}
	s.state.Store(int32(StateConnecting))
	return s
}

// Handle satisfies types.Subscriber.
func (s *Session) Handle() types.SessionHandle { return s.handle }

// SendRaw satisfies types.Subscriber: a non-blocking enqueue, false if the
// session's outbound queue is saturated.
func (s *Session) SendRaw(data []byte) bool {
	select {
	case s.send <- data:
		return true
	default:
		return false
	}
}

// Close satisfies types.Subscriber. Safe to call from any goroutine, any
// number of times.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.state.Store(int32(StateClosing))
		s.conn.Close()
	})
}

// State reports the session's current lifecycle position.
func (s *Session) State() State { return State(s.state.Load()) }

// Run attaches to room, sends the init frame, then pumps the connection
// until either side closes it; ctx is checked after each inbound message,
// not while a read is blocked. When the read side ends, the write side is
// stopped too. It always detaches from room before returning.
func (s *Session) Run(ctx context.Context, roomIDHex string, r Room) error {
	defer r.Detach(s.handle)
	defer s.Close()

	s.state.Store(int32(StateAwaitingInit))
	res, err := r.Attach(ctx, s)
	if err != nil {
		return err
	}

	initFrame, err := wire.EncodeInit(roomIDHex, res.Board)
	if err != nil {
		return err
	}
	if err := s.writeNow(initFrame); err != nil {
		return err
	}
	s.state.Store(int32(StateAttached))
	metrics.IncConnection()
	defer metrics.DecConnection()

	done := make(chan struct{})
	stop := make(chan struct{})
	go func() {
		defer close(done)
		s.writePump(stop)
	}()
	s.readPump(ctx, r)
	close(stop)
	<-done
	return nil
}

func (s *Session) writeNow(data []byte) error {
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *Session) readPump(ctx context.Context, r Room) {
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		start := time.Now()
		msg, decErr := wire.DecodeClientMessage(data)
		if decErr != nil {
			metrics.WebsocketEvents.WithLabelValues("inbound", "malformed").Inc()
			s.logger.Debug("dropping malformed client message", zap.String("session", string(s.handle)), zap.Error(decErr))
			continue
		}

		switch m := msg.(type) {
		case wire.SetBoardStateMessage:
			r.ReplaceBoard(m.BoardState)
			metrics.WebsocketEvents.WithLabelValues(wire.TypeSetBoardState, "ok").Inc()
		case wire.ApplyDiffsMessage:
			r.ApplyBatch(s.handle, m.Diffs)
			metrics.WebsocketEvents.WithLabelValues(wire.TypeApplyDiffs, "ok").Inc()
		case wire.CursorMessage:
			r.Cursor(s.handle, m.Raw)
			metrics.WebsocketEvents.WithLabelValues(wire.TypeUpdateCursor, "ok").Inc()
		}
		metrics.MessageProcessingDuration.WithLabelValues("inbound").Observe(time.Since(start).Seconds())

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

func (s *Session) writePump(stop <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case data, ok := <-s.send:
			if !ok {
				s.writeNow(nil)
				return
			}
			if err := s.writeNow(data); err != nil {
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
