package mocks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	ingestaDomain "github.com/davicafu/casillero/internal/ingesta/domain"
	notificaDomain "github.com/davicafu/casillero/internal/notifica/domain"
)

// InMemoryExecutionRepo simula ExecutionRepository con sus eventos incluidos.
type InMemoryExecutionRepo struct {
	Execs  map[uuid.UUID]*ingestaDomain.Execution
	Events []*notificaDomain.Event
	mu     sync.Mutex
}

func NewInMemoryExecutionRepo() *InMemoryExecutionRepo {
	return &InMemoryExecutionRepo{
		Execs: make(map[uuid.UUID]*ingestaDomain.Execution),
	}
}

func (r *InMemoryExecutionRepo) Create(ctx context.Context, exec *ingestaDomain.Execution, events []*notificaDomain.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Execs[exec.ID] = exec
	r.Events = append(r.Events, events...)
	return nil
}

func (r *InMemoryExecutionRepo) GetByID(ctx context.Context, id uuid.UUID) (*ingestaDomain.Execution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	exec, ok := r.Execs[id]
	if !ok {
		return nil, ingestaDomain.ErrExecutionNotFound
	}
	return exec, nil
}

func (r *InMemoryExecutionRepo) List(ctx context.Context, f ingestaDomain.ExecutionFilter) ([]*ingestaDomain.Execution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*ingestaDomain.Execution
	for _, exec := range r.Execs {
		if f.CasillaID != nil && exec.CasillaID != *f.CasillaID {
			continue
		}
		if f.Status != nil && exec.Status != *f.Status {
			continue
		}
		out = append(out, exec)
	}
	return out, nil
}

// InMemoryCasillaDirectory simula la vista de casillas del admin.
type InMemoryCasillaDirectory struct {
	Casillas   map[uuid.UUID]*ingestaDomain.Casilla
	Canales    []*ingestaDomain.EmisorCanal
	Heartbeats map[uuid.UUID]time.Time
	mu         sync.Mutex
}

func NewInMemoryCasillaDirectory() *InMemoryCasillaDirectory {
	return &InMemoryCasillaDirectory{
		Casillas:   make(map[uuid.UUID]*ingestaDomain.Casilla),
		Heartbeats: make(map[uuid.UUID]time.Time),
	}
}

func (d *InMemoryCasillaDirectory) GetCasilla(ctx context.Context, id uuid.UUID) (*ingestaDomain.Casilla, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.Casillas[id]
	if !ok {
		return nil, ingestaDomain.ErrCasillaNotFound
	}
	return c, nil
}

func (d *InMemoryCasillaDirectory) ListActiveCasillas(ctx context.Context) ([]*ingestaDomain.Casilla, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []*ingestaDomain.Casilla
	for _, c := range d.Casillas {
		if c.Active {
			out = append(out, c)
		}
	}
	return out, nil
}

func (d *InMemoryCasillaDirectory) ListCanales(ctx context.Context, casillaID uuid.UUID, canal ingestaDomain.Canal) ([]*ingestaDomain.EmisorCanal, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []*ingestaDomain.EmisorCanal
	for _, ec := range d.Canales {
		if ec.CasillaID == casillaID && ec.Canal == canal {
			out = append(out, ec)
		}
	}
	return out, nil
}

func (d *InMemoryCasillaDirectory) TouchHeartbeat(ctx context.Context, casillaID uuid.UUID, at time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.Casillas[casillaID]; !ok {
		return ingestaDomain.ErrCasillaNotFound
	}
	d.Heartbeats[casillaID] = at
	return nil
}

// InMemoryArchivoStore guarda payloads en un mapa.
type InMemoryArchivoStore struct {
	Saved map[string][]byte
	mu    sync.Mutex
}

func NewInMemoryArchivoStore() *InMemoryArchivoStore {
	return &InMemoryArchivoStore{Saved: make(map[string][]byte)}
}

func (s *InMemoryArchivoStore) Save(ctx context.Context, casillaID uuid.UUID, filename string, payload []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	path := fmt.Sprintf("%s/%s", casillaID, filename)
	s.Saved[path] = payload
	return path, nil
}

// DummyPublisher acumula los eventos publicados.
type DummyPublisher struct {
	Published []interface{}
	mu        sync.Mutex
}

func (p *DummyPublisher) Publish(ctx context.Context, event interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Published = append(p.Published, event)
	return nil
}

// Count devuelve cuántos eventos se han publicado (para esperas en tests).
func (p *DummyPublisher) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Published)
}
