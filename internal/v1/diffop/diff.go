// Package diffop implements the four board diff operations and their
// deterministic, all-or-nothing application to a board. Nothing here is
// concurrency-aware; the room package is the only caller, and it owns
// serialization.
package diffop

import (
	"errors"

	"github.com/kalgynirae/sudoku-sync/internal/v1/board"
)

// Fn tags the four diff operations.
type Fn string

const (
	FnSetNumber        Fn = "setNumber"
	FnAddPencilMark    Fn = "addPencilMark"
	FnRemovePencilMark Fn = "removePencilMark"
	FnClearPencilMarks Fn = "clearPencilMarks"
)

// MarkType selects which pencil-mark set an operation targets.
type MarkType string

const (
	MarkCenters MarkType = "centers"
	MarkCorners MarkType = "corners"
)

// ErrMalformedDiff covers an out-of-range index, an unknown op tag, or a
// malformed payload. Any of these rejects the whole batch.
var ErrMalformedDiff = errors.New("diffop: malformed diff")

// Operation is the tagged payload carried by a Diff.
type Operation struct {
	Fn     Fn       `json:"fn"`
	Digit  *int     `json:"digit,omitempty"`
	Type   MarkType `json:"type,omitempty"`
}

// Diff applies Operation to every index listed in Squares.
type Diff struct {
	Squares   []int     `json:"squares"`
	Operation Operation `json:"operation"`
}

// validate checks that a diff is well-formed without applying it: indices
// in range, a known op tag, and a payload shape that matches the tag.
func validate(d Diff) error {
	for _, idx := range d.Squares {
		if idx < 0 || idx >= board.Size {
			return ErrMalformedDiff
		}
	}
	switch d.Operation.Fn {
	case FnSetNumber:
		if d.Operation.Digit != nil {
			dg := *d.Operation.Digit
			if dg < 1 || dg > 9 {
				return ErrMalformedDiff
			}
		}
		return nil
	case FnAddPencilMark, FnRemovePencilMark:
		if d.Operation.Digit == nil {
			return ErrMalformedDiff
		}
		dg := *d.Operation.Digit
		if dg < 1 || dg > 9 {
			return ErrMalformedDiff
		}
		return validateMarkType(d.Operation.Type)
	case FnClearPencilMarks:
		return validateMarkType(d.Operation.Type)
	default:
		return ErrMalformedDiff
	}
}

func validateMarkType(t MarkType) error {
	switch t {
	case MarkCenters, MarkCorners:
		return nil
	default:
		return ErrMalformedDiff
	}
}

// applyToSquare mutates sq in place per Operation's last-writer-wins
// semantics. Locked squares are the caller's responsibility to skip.
func applyToSquare(sq *board.Square, op Operation) {
	switch op.Fn {
	case FnSetNumber:
		sq.Number = op.Digit
	case FnAddPencilMark:
		switch op.Type {
		case MarkCenters:
			sq.Centers = board.AddMark(sq.Centers, *op.Digit)
		case MarkCorners:
			sq.Corners = board.AddMark(sq.Corners, *op.Digit)
		}
	case FnRemovePencilMark:
		switch op.Type {
		case MarkCenters:
			sq.Centers = board.RemoveMark(sq.Centers, *op.Digit)
		case MarkCorners:
			sq.Corners = board.RemoveMark(sq.Corners, *op.Digit)
		}
	case FnClearPencilMarks:
		switch op.Type {
		case MarkCenters:
			sq.Centers = 0
		case MarkCorners:
			sq.Corners = 0
		}
	}
}

// Apply validates and applies a single diff to b, returning the resulting
// board. Locked squares are left untouched; that's the only rule the
// server enforces on a diff's contents.
func Apply(b board.Board, d Diff) (board.Board, error) {
	if err := validate(d); err != nil {
		return board.Board{}, err
	}
	for _, idx := range d.Squares {
		if b[idx].Locked {
			continue
		}
		applyToSquare(&b[idx], d.Operation)
	}
	return b, nil
}

// ApplyBatch applies diffs left-to-right to a working copy of b. The batch
// is all-or-nothing: if any diff is malformed, the original board is
// returned unchanged alongside the error, and the caller must not commit
// or broadcast anything. An empty diffs slice is a valid no-op.
func ApplyBatch(b board.Board, diffs []Diff) (board.Board, error) {
	working := b
	for _, d := range diffs {
		next, err := Apply(working, d)
		if err != nil {
			return b, err
		}
		working = next
	}
	return working, nil
}
