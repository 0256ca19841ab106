package notify

import "context"

// Notifier pushes application events to whoever fans them out (socket
// gateways, the notification worker). Injected, never ambient global state.
type Notifier interface {
	Publish(ctx context.Context, channel, event string, payload any) error
}

// Noop is used in tests and when no broker is configured.
type Noop struct{}

func (Noop) Publish(ctx context.Context, channel, event string, payload any) error { return nil }
