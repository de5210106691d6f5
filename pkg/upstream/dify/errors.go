package dify

import "errors"

var (
	// ErrTimeout is reported when the response or the stream exceeds its
	// configured deadline.
	ErrTimeout = errors.New("upstream timeout")

	// ErrStreamConsumed is reported when an opened stream is ranged twice.
	ErrStreamConsumed = errors.New("upstream stream already consumed")
)
