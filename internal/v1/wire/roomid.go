// Package wire defines the JSON message envelopes exchanged with clients
// and the RoomID encoding used on the wire and in URLs.
package wire

import (
	"crypto/rand"
	"encoding/hex"
	"errors"

	"github.com/kalgynirae/sudoku-sync/internal/v1/types"
)

// ErrInvalidRoomID is returned when a path segment does not decode to a
// 16-byte id.
var ErrInvalidRoomID = errors.New("wire: invalid room id")

// NewRoomID mints a fresh random 128-bit room id.
func NewRoomID() types.RoomID {
	var id types.RoomID
	if _, err := rand.Read(id[:]); err != nil {
		// crypto/rand failing is unrecoverable for a system that hands out
		// room ids; panicking here matches the "this must never happen"
		// severity of the failure.
		panic("wire: crypto/rand unavailable: " + err.Error())
	}
	return id
}

// EncodeRoomID renders a room id as the 32-character lowercase hex string
// used on the wire and in URLs.
func EncodeRoomID(id types.RoomID) string {
	return hex.EncodeToString(id[:])
}

// DecodeRoomID parses the hex form back into a RoomID.
func DecodeRoomID(s string) (types.RoomID, error) {
	var id types.RoomID
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != len(id) {
		return types.RoomID{}, ErrInvalidRoomID
	}
	copy(id[:], b)
	return id, nil
}
