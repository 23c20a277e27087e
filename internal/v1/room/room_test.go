package room

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/kalgynirae/sudoku-sync/internal/v1/board"
	"github.com/kalgynirae/sudoku-sync/internal/v1/diffop"
	"github.com/kalgynirae/sudoku-sync/internal/v1/types"
)

type fakeSub struct {
	handle  types.SessionHandle
	mu      sync.Mutex
	frames  [][]byte
	full    bool
	closed  bool
}

func newFakeSub(handle string) *fakeSub {
	return &fakeSub{handle: types.SessionHandle(handle)}
}

func (f *fakeSub) Handle() types.SessionHandle { return f.handle }

func (f *fakeSub) SendRaw(data []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.full {
		return false
	}
	cp := append([]byte(nil), data...)
	f.frames = append(f.frames, cp)
	return true
}

func (f *fakeSub) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakeSub) snapshot() ([][]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.frames...), f.closed
}

func digit(d int) *int { return &d }

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestAttachReturnsCurrentSnapshot(t *testing.T) {
	r := New(types.RoomID{1}, board.New(), 7, nil, nil)
	defer shutdownRoom(t, r)

	sub := newFakeSub("alice")
	res, err := r.Attach(context.Background(), sub)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), res.SyncID)
	assert.Equal(t, board.New(), res.Board)
}

func TestApplyBatchIncrementsSyncIDAndBroadcasts(t *testing.T) {
	r := New(types.RoomID{2}, board.New(), 0, nil, nil)
	defer shutdownRoom(t, r)

	alice := newFakeSub("alice")
	bob := newFakeSub("bob")
	_, err := r.Attach(context.Background(), alice)
	require.NoError(t, err)
	_, err = r.Attach(context.Background(), bob)
	require.NoError(t, err)

	diffs := []diffop.Diff{{Squares: []int{0}, Operation: diffop.Operation{Fn: diffop.FnSetNumber, Digit: digit(5)}}}
	r.ApplyBatch(alice.Handle(), diffs)

	require.Eventually(t, func() bool {
		frames, _ := bob.snapshot()
		return len(frames) == 1
	}, time.Second, time.Millisecond)

	aliceFrames, _ := alice.snapshot()
	bobFrames, _ := bob.snapshot()
	require.Len(t, aliceFrames, 1)
	require.Len(t, bobFrames, 1)
	assert.Equal(t, string(aliceFrames[0]), string(bobFrames[0]))
	assert.Contains(t, string(bobFrames[0]), `"type":"partialUpdate"`)
	assert.Contains(t, string(bobFrames[0]), `"syncId":1`)
}

func TestApplyBatchRejectsMalformedAndResyncsOrigin(t *testing.T) {
	r := New(types.RoomID{3}, board.New(), 0, nil, nil)
	defer shutdownRoom(t, r)

	alice := newFakeSub("alice")
	bob := newFakeSub("bob")
	_, err := r.Attach(context.Background(), alice)
	require.NoError(t, err)
	_, err = r.Attach(context.Background(), bob)
	require.NoError(t, err)

	bad := []diffop.Diff{{Squares: []int{999}, Operation: diffop.Operation{Fn: diffop.FnSetNumber}}}
	r.ApplyBatch(alice.Handle(), bad)

	require.Eventually(t, func() bool {
		frames, _ := alice.snapshot()
		return len(frames) == 1
	}, time.Second, time.Millisecond)

	aliceFrames, _ := alice.snapshot()
	assert.Contains(t, string(aliceFrames[0]), `"type":"fullUpdate"`)

	bobFrames, _ := bob.snapshot()
	assert.Empty(t, bobFrames, "a rejected batch must not reach other subscribers")
}

func TestReplaceBoardBroadcastsFullUpdateToAll(t *testing.T) {
	r := New(types.RoomID{4}, board.New(), 3, nil, nil)
	defer shutdownRoom(t, r)

	alice := newFakeSub("alice")
	_, err := r.Attach(context.Background(), alice)
	require.NoError(t, err)

	nb := board.New()
	nb[0].Number = digit(9)
	r.ReplaceBoard(nb)

	require.Eventually(t, func() bool {
		frames, _ := alice.snapshot()
		return len(frames) == 1
	}, time.Second, time.Millisecond)

	frames, _ := alice.snapshot()
	assert.Contains(t, string(frames[0]), `"type":"fullUpdate"`)
	assert.Contains(t, string(frames[0]), `"syncId":4`)
}

func TestCursorForwardsVerbatimExceptOrigin(t *testing.T) {
	r := New(types.RoomID{5}, board.New(), 0, nil, nil)
	defer shutdownRoom(t, r)

	alice := newFakeSub("alice")
	bob := newFakeSub("bob")
	_, err := r.Attach(context.Background(), alice)
	require.NoError(t, err)
	_, err = r.Attach(context.Background(), bob)
	require.NoError(t, err)

	raw := []byte(`{"type":"updateCursor","square":12}`)
	r.Cursor(alice.Handle(), raw)

	require.Eventually(t, func() bool {
		frames, _ := bob.snapshot()
		return len(frames) == 1
	}, time.Second, time.Millisecond)

	bobFrames, _ := bob.snapshot()
	assert.Equal(t, raw, bobFrames[0])

	aliceFrames, _ := alice.snapshot()
	assert.Empty(t, aliceFrames, "cursor updates are never echoed back to their sender")
}

func TestSlowConsumerIsEvicted(t *testing.T) {
	r := New(types.RoomID{6}, board.New(), 0, nil, nil)
	defer shutdownRoom(t, r)

	slow := newFakeSub("slow")
	slow.full = true
	_, err := r.Attach(context.Background(), slow)
	require.NoError(t, err)

	r.Cursor(types.SessionHandle("nobody"), []byte(`{}`))

	require.Eventually(t, func() bool {
		_, closed := slow.snapshot()
		return closed
	}, time.Second, time.Millisecond)
}

func TestSnapshotAndClearDirtyRoundTrip(t *testing.T) {
	r := New(types.RoomID{7}, board.New(), 0, nil, nil)
	defer shutdownRoom(t, r)

	alice := newFakeSub("alice")
	_, err := r.Attach(context.Background(), alice)
	require.NoError(t, err)

	diffs := []diffop.Diff{{Squares: []int{0}, Operation: diffop.Operation{Fn: diffop.FnSetNumber, Digit: digit(1)}}}
	r.ApplyBatch(alice.Handle(), diffs)

	require.Eventually(t, func() bool {
		snap, err := r.Snapshot(context.Background())
		return err == nil && snap.Dirty
	}, time.Second, time.Millisecond)

	snap, err := r.Snapshot(context.Background())
	require.NoError(t, err)
	require.True(t, snap.Dirty)

	r.ClearDirty(snap.SyncID)
	require.Eventually(t, func() bool {
		snap, err := r.Snapshot(context.Background())
		return err == nil && !snap.Dirty
	}, time.Second, time.Millisecond)
}

func TestClearDirtyIsNoOpIfSyncIDMovedOn(t *testing.T) {
	r := New(types.RoomID{8}, board.New(), 0, nil, nil)
	defer shutdownRoom(t, r)

	alice := newFakeSub("alice")
	_, err := r.Attach(context.Background(), alice)
	require.NoError(t, err)

	diffs := []diffop.Diff{{Squares: []int{0}, Operation: diffop.Operation{Fn: diffop.FnSetNumber, Digit: digit(1)}}}
	r.ApplyBatch(alice.Handle(), diffs)

	require.Eventually(t, func() bool {
		snap, err := r.Snapshot(context.Background())
		return err == nil && snap.SyncID == 1
	}, time.Second, time.Millisecond)

	// A second batch lands before the flush loop's ClearDirty(1) arrives.
	r.ApplyBatch(alice.Handle(), diffs)
	require.Eventually(t, func() bool {
		snap, err := r.Snapshot(context.Background())
		return err == nil && snap.SyncID == 2
	}, time.Second, time.Millisecond)

	r.ClearDirty(1)

	snap, err := r.Snapshot(context.Background())
	require.NoError(t, err)
	assert.True(t, snap.Dirty, "a stale clear must not erase the dirty flag set by the newer write")
}

func TestShutdownClosesAllSubscribers(t *testing.T) {
	r := New(types.RoomID{9}, board.New(), 0, nil, nil)

	alice := newFakeSub("alice")
	_, err := r.Attach(context.Background(), alice)
	require.NoError(t, err)

	require.NoError(t, r.Shutdown(context.Background(), "test shutdown"))
	_, closed := alice.snapshot()
	assert.True(t, closed)

	select {
	case <-r.Done():
	case <-time.After(time.Second):
		t.Fatal("room did not report done after shutdown")
	}
}

func TestPanicInCommandIsRecoveredAndRoomCrashes(t *testing.T) {
	r := New(types.RoomID{10}, board.New(), 0, nil, nil)

	alice := newFakeSub("alice")
	_, err := r.Attach(context.Background(), alice)
	require.NoError(t, err)

	// tryEnqueue a command whose apply panics to exercise the recovery path.
	r.tryEnqueue(panicCmd{})

	select {
	case <-r.Done():
	case <-time.After(time.Second):
		t.Fatal("room did not exit after a panicking command")
	}
	assert.True(t, r.Crashed())
	_, closed := alice.snapshot()
	assert.True(t, closed, "a crashed room must disconnect its subscribers")
}

type panicCmd struct{}

func (panicCmd) apply(s *roomState) bool {
	panic("boom")
}

func shutdownRoom(t *testing.T, r *Room) {
	t.Helper()
	_ = r.Shutdown(context.Background(), "test cleanup")
}
