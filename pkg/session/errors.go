package session

import "errors"

// ErrNotFound is returned by a Backend that holds no binding for a session.
var ErrNotFound = errors.New("session not found")
