package room

import "errors"

// ErrRoomClosed is returned by request/reply operations (Attach, Snapshot,
// Shutdown) when the room's run loop has already exited.
var ErrRoomClosed = errors.New("room: closed")
