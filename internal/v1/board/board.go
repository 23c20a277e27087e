// Package board implements the pure, serializable 9x9 sudoku board model.
// Nothing in this package touches the network, storage, or concurrency —
// it is plain data plus deterministic helpers, exercised by diffop and
// serialized at the room/persistence boundaries.
package board

import "encoding/json"

// Size is the fixed number of squares on a board (9x9, row-major).
const Size = 81

// Square holds the editable state of one cell. Corners and Centers are
// pencil-mark sets over digits 1-9, represented as a bitmask for cheap
// copy/compare/mutate; bit (1<<d) is set iff digit d is present.
type Square struct {
	Number  *int
	Corners uint16
	Centers uint16
	Locked  bool
}

// Board is 81 squares in row-major order (index 0 = top-left, 80 =
// bottom-right). It is a plain value: copying a Board copies all square
// state, which is what makes diffop.ApplyBatch's copy-then-commit
// discipline cheap and safe.
type Board [Size]Square

// New returns an empty, unlocked board.
func New() Board {
	return Board{}
}

func bitFor(digit int) uint16 {
	return 1 << uint(digit)
}

// HasMark reports whether digit is present in the given mark set.
func HasMark(set uint16, digit int) bool {
	return set&bitFor(digit) != 0
}

// AddMark returns set with digit inserted.
func AddMark(set uint16, digit int) uint16 {
	return set | bitFor(digit)
}

// RemoveMark returns set with digit removed.
func RemoveMark(set uint16, digit int) uint16 {
	return set &^ bitFor(digit)
}

// MarkDigits returns the sorted-by-bit-order digits present in set.
func MarkDigits(set uint16) []int {
	digits := make([]int, 0, 9)
	for d := 1; d <= 9; d++ {
		if HasMark(set, d) {
			digits = append(digits, d)
		}
	}
	return digits
}

// MarksFromDigits builds a bitmask from a digit slice, ignoring out-of-range
// or duplicate entries.
func MarksFromDigits(digits []int) uint16 {
	var set uint16
	for _, d := range digits {
		if d >= 1 && d <= 9 {
			set = AddMark(set, d)
		}
	}
	return set
}

// wireSquare is the verbose JSON form used on the wire and for the opaque
// persistence blob.
type wireSquare struct {
	Number  *int  `json:"number"`
	Corners []int `json:"corners"`
	Centers []int `json:"centers"`
	Locked  bool  `json:"locked"`
}

type wireBoard struct {
	Squares []wireSquare `json:"squares"`
}

// MarshalJSON encodes the board in the wire's verbose object form.
func (b Board) MarshalJSON() ([]byte, error) {
	out := wireBoard{Squares: make([]wireSquare, Size)}
	for i, sq := range b {
		out.Squares[i] = wireSquare{
			Number:  sq.Number,
			Corners: MarkDigits(sq.Corners),
			Centers: MarkDigits(sq.Centers),
			Locked:  sq.Locked,
		}
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes the board's wire form. A payload with a square count
// other than Size is rejected.
func (b *Board) UnmarshalJSON(data []byte) error {
	var in wireBoard
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	if len(in.Squares) != Size {
		return ErrWrongSquareCount
	}
	var out Board
	for i, sq := range in.Squares {
		out[i] = Square{
			Number:  sq.Number,
			Corners: MarksFromDigits(sq.Corners),
			Centers: MarksFromDigits(sq.Centers),
			Locked:  sq.Locked,
		}
	}
	*b = out
	return nil
}

// Encode produces the opaque byte blob used for persistence: compact JSON
// of the wire form.
func Encode(b Board) ([]byte, error) {
	return json.Marshal(b)
}

// Decode parses a persisted blob back into a Board. An absent/empty blob
// decodes to an empty board, so a room with no prior save loads clean.
func Decode(data []byte) (Board, error) {
	if len(data) == 0 {
		return New(), nil
	}
	var b Board
	if err := json.Unmarshal(data, &b); err != nil {
		return Board{}, err
	}
	return b, nil
}
