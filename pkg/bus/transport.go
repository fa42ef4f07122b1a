package bus

import "context"

// Transport is a publish/subscribe connection over the channel set.
// Implementations keep one underlying connection that is reused by every call.
type Transport interface {
	Name() string
	Publish(ctx context.Context, ch Channel, data []byte) error
	Subscribe(ctx context.Context, channels ...Channel) (Subscription, error)
	Ping(ctx context.Context) error
	Close() error
}

// Subscription is a single ordered stream of messages for a set of channels.
type Subscription interface {
	// Receive blocks until a message arrives or ctx ends.
	// It returns ErrReceiveTimeout when ctx expires without a message.
	Receive(ctx context.Context) (Channel, []byte, error)
	Close() error
}
