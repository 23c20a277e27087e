// Package types defines the shared identifiers and interfaces that let the
// room, session, broker, and persistence packages interact without
// depending on each other's concrete types.
package types

import "time"

// RoomID is a 128-bit room identifier, stored as 16 raw bytes and surfaced
// on the wire as lowercase hex.
type RoomID [16]byte

// SessionHandle uniquely identifies one connected session within its room.
type SessionHandle string

// ServerSyncID is the monotonically increasing per-room counter stamped on
// every accepted batch or board replacement.
type ServerSyncID uint64

// ClientSyncID is the client's own batch-ordering tag. The server never
// interprets it and does not echo it; outbound frames carry the server's
// sync id only.
type ClientSyncID uint32

// Subscriber is the minimal surface a room needs from an attached session:
// enough to fan out pre-marshaled wire frames and to evict slow or stale
// consumers. The room package never depends on the session package's
// concrete type so the two can evolve independently.
type Subscriber interface {
	Handle() SessionHandle
	// SendRaw enqueues an already-encoded wire frame for delivery. It must
	// never block; a full queue is the caller's cue to evict.
	SendRaw(data []byte) bool
	// Close forcibly disconnects the subscriber (slow-consumer eviction,
	// room shutdown, or host-gone cleanup).
	Close()
}

// FlushResult bundles a room id, an encoded board, a dirty flag and a sync
// time. The persistence flush loop does not use it; it reads
// room.SnapshotResult.
type FlushResult struct {
	ID     RoomID
	Board  []byte
	Dirty  bool
	Synced time.Time
}
