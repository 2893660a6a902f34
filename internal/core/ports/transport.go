package ports

import (
	"context"

	"reelcast/internal/core/domain"
)

// SignalingTransport is the bidirectional control channel to the rendezvous server.
type SignalingTransport interface {
	// Connect is idempotent: it returns nil when a connection is already open.
	Connect(ctx context.Context) error
	Disconnect() error
	Send(ctx context.Context, msg domain.Message) error
	// Subscribe registers a handler for inbound messages. Handlers are invoked
	// serially from the transport's read loop.
	Subscribe(handler func(domain.Message)) (unsubscribe func())
	OnConnectionChange(handler func(connected bool))
	IsConnected() bool
}
