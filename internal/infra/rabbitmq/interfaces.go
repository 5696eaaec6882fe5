package rabbitmq

import "context"

// PublisherInterface delivers domain events after the owning transaction
// commits. Delivery is best-effort.
type PublisherInterface interface {
	Publish(ctx context.Context, routingKey string, data any) error
}

var (
	_ PublisherInterface = (*Publisher)(nil)
	_ PublisherInterface = NopPublisher{}
)
