package model

import "errors"

// ErrNotFound is returned by every store implementation (Postgres or the HTTP
// client) when the requested row does not exist.
var ErrNotFound = errors.New("not found")
