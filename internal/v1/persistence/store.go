// Package persistence is the embedded BadgerDB-backed room store: one key
// per room id, value is a compact JSON record of the board plus the sync
// id it was saved at. Writes go through a circuit breaker so a misbehaving
// disk degrades gracefully instead of stalling every room's flush.
package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/kalgynirae/sudoku-sync/internal/v1/board"
	"github.com/kalgynirae/sudoku-sync/internal/v1/metrics"
	"github.com/kalgynirae/sudoku-sync/internal/v1/types"
)

// ErrNotFound is returned by Load when no record exists for a room id.
var ErrNotFound = errors.New("persistence: room not found")

// Record is what's actually stored per room: the board plus the sync id it
// reflects, so a restarted room resumes its sync id instead of rewinding
// to zero for clients that reconnect with higher syncId expectations.
type Record struct {
	SyncID uint64      `json:"syncId"`
	Board  board.Board `json:"board"`
}

// Store wraps a BadgerDB instance keyed by the room's raw 16-byte id.
type Store struct {
	db     *badger.DB
	cb     *gobreaker.CircuitBreaker
	logger *zap.Logger
}

// Open creates or reopens the database rooted at dir.
func Open(dir string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("persistence: open badger at %q: %w", dir, err)
	}

	st := gobreaker.Settings{
		Name:        "persistence",
		MaxRequests: 5,
		Interval:    time.Minute,
		Timeout:     15 * time.Second,
		OnStateChange: func(name string, from, to gobreaker.State) {
			var v float64
			switch to {
			case gobreaker.StateClosed:
				v = 0
			case gobreaker.StateOpen:
				v = 1
			case gobreaker.StateHalfOpen:
				v = 2
			}
			metrics.CircuitBreakerState.WithLabelValues("persistence").Set(v)
		},
	}

	return &Store{
		db:     db,
		cb:     gobreaker.NewCircuitBreaker(st),
		logger: logger,
	}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database is still open and answering transactions,
// used by the readiness endpoint.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.View(func(txn *badger.Txn) error { return nil })
}

func roomKey(id types.RoomID) []byte {
	return append([]byte("room:"), id[:]...)
}

// Load reads a room's persisted record. ErrNotFound means a brand-new room
// with no prior save: callers treat that as an empty board at sync id 0.
func (s *Store) Load(id types.RoomID) (Record, error) {
	var rec Record
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(roomKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	metrics.PersistenceOperationsTotal.WithLabelValues("load", statusFor(err)).Inc()
	if err != nil {
		return Record{}, err
	}
	return rec, nil
}

// Save persists rec for id through the circuit breaker.
func (s *Store) Save(ctx context.Context, id types.RoomID, rec Record) error {
	start := time.Now()
	_, err := s.cb.Execute(func() (any, error) {
		data, err := json.Marshal(rec)
		if err != nil {
			return nil, err
		}
		return nil, s.db.Update(func(txn *badger.Txn) error {
			return txn.Set(roomKey(id), data)
		})
	})
	metrics.PersistenceOperationDuration.WithLabelValues("save").Observe(time.Since(start).Seconds())
	metrics.PersistenceOperationsTotal.WithLabelValues("save", statusFor(err)).Inc()
	return err
}

// Delete removes a room's record entirely. The broker's reap path does not
// call it; a reaped room's record stays in the store.
func (s *Store) Delete(ctx context.Context, id types.RoomID) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(roomKey(id))
	})
	metrics.PersistenceOperationsTotal.WithLabelValues("delete", statusFor(err)).Inc()
	return err
}

func statusFor(err error) string {
	if err == nil {
		return "ok"
	}
	return "error"
}
