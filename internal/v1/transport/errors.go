package transport

import "errors"

var errOriginNotAllowed = errors.New("transport: origin not allowed")
