// Package eventstream publishes relay lifecycle events to an event
// stream backend.
package eventstream

import "context"

// Publisher publishes relay events to an event stream backend.
type Publisher interface {
	PublishRelay(ctx context.Context, event *RelayCompletedEvent) error
	Close() error
}
