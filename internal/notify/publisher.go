package notify

import (
	"context"
	"errors"
)

// Publisher pushes an event to every subscriber of a topic.  Implementations
// are fire-and-forget: no persistence, no replay, no ordering across topics.
type Publisher interface {
	Publish(ctx context.Context, topic Topic, event string, payload any) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, topic Topic, event string, payload any) error

// Publish calls f.
func (f PublisherFunc) Publish(ctx context.Context, topic Topic, event string, payload any) error {
	return f(ctx, topic, event, payload)
}

// Multi fans an event out to several publishers.  Every publisher is
// attempted; the failures are joined.
type Multi []Publisher

// Publish implements Publisher.
func (m Multi) Publish(ctx context.Context, topic Topic, event string, payload any) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, topic, event, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop discards every event.
type Nop struct{}

// Publish implements Publisher.
func (Nop) Publish(context.Context, Topic, string, any) error { return nil }
