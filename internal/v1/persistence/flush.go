package persistence

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kalgynirae/sudoku-sync/internal/v1/metrics"
	"github.com/kalgynirae/sudoku-sync/internal/v1/room"
	"github.com/kalgynirae/sudoku-sync/internal/v1/types"
)

// FlushableRoom is the slice of *room.Room the flush loop needs.
type FlushableRoom interface {
	ID() types.RoomID
	Snapshot(ctx context.Context) (room.SnapshotResult, error)
	ClearDirty(atSyncID uint64)
}

// FlushLoop periodically snapshots every currently active room and writes
// the dirty ones to a Store, clearing each room's dirty flag only once its
// write has landed. Per-tick fan-out is capped at concurrency in-flight
// saves, so a tick over a large room count can't open unbounded concurrent
// BadgerDB transactions.
type FlushLoop struct {
	store       *Store
	lister      func() []FlushableRoom
	interval    time.Duration
	concurrency int
	logger      *zap.Logger

	stop chan struct{}
	done chan struct{}
}

// NewFlushLoop builds a loop that calls lister() once per tick to discover
// the rooms worth checking. concurrency bounds how many rooms are flushed
// in parallel per tick; values below 1 are treated as 1.
func NewFlushLoop(store *Store, interval time.Duration, concurrency int, lister func() []FlushableRoom, logger *zap.Logger) *FlushLoop {
	if logger == nil {
		logger = zap.NewNop()
	}
	if concurrency < 1 {
		concurrency = 1
	}
	return &FlushLoop{
		store:       store,
		lister:      lister,
		interval:    interval,
		concurrency: concurrency,
		logger:      logger,
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// Run blocks, ticking until Stop is called or ctx is cancelled.
func (f *FlushLoop) Run(ctx context.Context) {
	defer close(f.done)
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			f.flushOnce(ctx)
		case <-f.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop signals Run to exit and waits for it to finish its current tick.
func (f *FlushLoop) Stop() {
	close(f.stop)
	<-f.done
}

// FlushNow runs one flush pass synchronously, outside the ticker.
func (f *FlushLoop) FlushNow(ctx context.Context) {
	f.flushOnce(ctx)
}

func (f *FlushLoop) flushOnce(ctx context.Context) {
	rooms := f.lister()
	var g errgroup.Group
	g.SetLimit(f.concurrency)
	for _, r := range rooms {
		r := r
		g.Go(func() error {
			return f.flushRoom(ctx, r)
		})
	}
	if err := g.Wait(); err != nil {
		f.logger.Warn("flush cycle finished with errors", zap.Error(err))
	}
}

func (f *FlushLoop) flushRoom(ctx context.Context, r FlushableRoom) error {
	snap, err := r.Snapshot(ctx)
	if err != nil {
		return nil // room already gone; nothing to flush
	}
	if !snap.Dirty {
		return nil
	}
	if err := f.store.Save(ctx, r.ID(), Record{SyncID: snap.SyncID, Board: snap.Board}); err != nil {
		f.logger.Error("failed to persist room", zap.Error(err))
		return err
	}
	r.ClearDirty(snap.SyncID)
	metrics.FlushedRoomsTotal.Inc()
	return nil
}
