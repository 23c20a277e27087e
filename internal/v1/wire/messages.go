package wire

import (
	"encoding/json"
	"errors"

	"github.com/kalgynirae/sudoku-sync/internal/v1/board"
	"github.com/kalgynirae/sudoku-sync/internal/v1/diffop"
)

// ErrMalformedMessage covers undecodable JSON, an unknown top-level type,
// or a wrong field shape. The session's inbound half logs and discards on
// this error; it never closes the socket.
var ErrMalformedMessage = errors.New("wire: malformed message")

// Message type tags, shared by both directions where the tag is reused
// (updateCursor is the only bidirectional one).
const (
	TypeSetBoardState = "setBoardState"
	TypeApplyDiffs    = "applyDiffs"
	TypeUpdateCursor  = "updateCursor"
	TypeInit          = "init"
	TypePartialUpdate = "partialUpdate"
	TypeFullUpdate    = "fullUpdate"
)

// --- Client -> server ---

// SetBoardStateMessage forwards to the room as an authoritative override.
type SetBoardStateMessage struct {
	BoardState board.Board
}

// ApplyDiffsMessage forwards to the room as a batch to validate and apply.
// SyncID is the client's own opaque ordering tag; the server neither
// interprets it nor echoes it back.
type ApplyDiffsMessage struct {
	SyncID uint32
	Diffs  []diffop.Diff
}

// CursorMessage carries an opaque, never-interpreted cursor update. Raw
// holds the exact bytes the client sent so the server can forward them
// verbatim to every other subscriber without round-tripping the shape.
type CursorMessage struct {
	Raw json.RawMessage
}

type envelope struct {
	Type string `json:"type"`
}

type setBoardStateWire struct {
	Type       string      `json:"type"`
	BoardState board.Board `json:"boardState"`
}

type applyDiffsWire struct {
	Type   string        `json:"type"`
	SyncID uint32        `json:"syncId"`
	Diffs  []diffop.Diff `json:"diffs"`
}

// DecodeClientMessage parses one inbound frame into a typed message.
// Undecodable JSON and unknown/malformed types both return
// ErrMalformedMessage; the caller (session) treats both the same way:
// log at debug and keep the session alive.
func DecodeClientMessage(data []byte) (any, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, ErrMalformedMessage
	}

	switch env.Type {
	case TypeSetBoardState:
		var m setBoardStateWire
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, ErrMalformedMessage
		}
		return SetBoardStateMessage{BoardState: m.BoardState}, nil
	case TypeApplyDiffs:
		var m applyDiffsWire
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, ErrMalformedMessage
		}
		return ApplyDiffsMessage{SyncID: m.SyncID, Diffs: m.Diffs}, nil
	case TypeUpdateCursor:
		return CursorMessage{Raw: append(json.RawMessage(nil), data...)}, nil
	default:
		return nil, ErrMalformedMessage
	}
}

// --- Server -> client ---

type initWire struct {
	Type       string      `json:"type"`
	RoomID     string      `json:"roomId"`
	BoardState board.Board `json:"boardState"`
}

// EncodeInit builds the one-time "init" frame sent immediately after attach.
func EncodeInit(roomID string, b board.Board) ([]byte, error) {
	return json.Marshal(initWire{Type: TypeInit, RoomID: roomID, BoardState: b})
}

type partialUpdateWire struct {
	Type   string        `json:"type"`
	SyncID uint64        `json:"syncId"`
	Diffs  []diffop.Diff `json:"diffs"`
}

// EncodePartialUpdate builds a normal broadcast frame. syncID is the
// server's sync id, not the client's.
func EncodePartialUpdate(syncID uint64, diffs []diffop.Diff) ([]byte, error) {
	if diffs == nil {
		diffs = []diffop.Diff{}
	}
	return json.Marshal(partialUpdateWire{Type: TypePartialUpdate, SyncID: syncID, Diffs: diffs})
}

type fullUpdateWire struct {
	Type       string      `json:"type"`
	SyncID     uint64      `json:"syncId"`
	BoardState board.Board `json:"boardState"`
}

// EncodeFullUpdate builds a resync frame: sent to the origin of a rejected
// batch, or to everyone after a setBoardState override.
func EncodeFullUpdate(syncID uint64, b board.Board) ([]byte, error) {
	return json.Marshal(fullUpdateWire{Type: TypeFullUpdate, SyncID: syncID, BoardState: b})
}
