package testutils

import (
	"context"
	"sync"

	"github.com/papercomputeco/scout/pkg/eventstream"
)

// RecordingPublisher captures published relay events.
type RecordingPublisher struct {
	Err error

	mu     sync.Mutex
	events []eventstream.RelayCompletedEvent
	closed bool
}

var _ eventstream.Publisher = (*RecordingPublisher)(nil)

func (r *RecordingPublisher) PublishRelay(_ context.Context, event *eventstream.RelayCompletedEvent) error {
	if event == nil {
		return eventstream.ErrNilEvent
	}
	r.mu.Lock()
	r.events = append(r.events, *event)
	r.mu.Unlock()
	return r.Err
}

// Events returns copies of the published events.
func (r *RecordingPublisher) Events() []eventstream.RelayCompletedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]eventstream.RelayCompletedEvent(nil), r.events...)
}

func (r *RecordingPublisher) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return nil
}

// Closed reports whether Close was called.
func (r *RecordingPublisher) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}
