package events

import (
	"context"
	"encoding/json"
	"sync"

	sharedBus "github.com/davicafu/casillero/internal/shared/platform/bus"
)

// InMemoryEventBus implementa un bus de eventos para UN solo topic. Es el
// modo de despliegue local, sin broker.
type InMemoryEventBus struct {
	subscribers []chan []byte
	mu          sync.RWMutex
	topic       string
}

var _ sharedBus.EventPublisher = (*InMemoryEventBus)(nil)

// NewInMemoryEventBus crea un bus de eventos para un topic específico.
func NewInMemoryEventBus(topic string) *InMemoryEventBus {
	return &InMemoryEventBus{topic: topic}
}

// Publish envía el evento serializado a todos los suscriptores del bus.
func (b *InMemoryEventBus) Publish(ctx context.Context, event interface{}) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	b.mu.RLock()
	subs := b.subscribers
	b.mu.RUnlock()

	for _, subChan := range subs {
		select {
		case subChan <- payload:
		default:
			// suscriptor saturado: se descarta para no bloquear el pipeline
		}
	}
	return nil
}

// Subscribe registra un nuevo oyente con el buffer indicado.
func (b *InMemoryEventBus) Subscribe(bufferSize int) <-chan []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	subChan := make(chan []byte, bufferSize)
	b.subscribers = append(b.subscribers, subChan)
	return subChan
}
