package board

import "errors"

// ErrWrongSquareCount is returned when a wire board payload does not carry
// exactly Size squares.
var ErrWrongSquareCount = errors.New("board: wire payload must contain exactly 81 squares")
