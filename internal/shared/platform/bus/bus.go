package bus

import "context"

// Keyer permite a un evento aportar su clave de partición.
type Keyer interface {
	PartitionKey() string
}

// La semántica de topic/nombre y formato del payload la deciden los adapters.
type EventPublisher interface {
	Publish(ctx context.Context, event interface{}) error
}
