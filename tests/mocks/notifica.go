package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/davicafu/casillero/internal/notifica/domain"
)

// InMemoryEventRepo simula EventRepository.
type InMemoryEventRepo struct {
	Events []*domain.Event
	mu     sync.Mutex
}

func NewInMemoryEventRepo() *InMemoryEventRepo {
	return &InMemoryEventRepo{}
}

func (r *InMemoryEventRepo) Insert(ctx context.Context, evt *domain.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Events = append(r.Events, evt)
	return nil
}

func (r *InMemoryEventRepo) FetchUnprocessed(ctx context.Context, limit int) ([]*domain.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Event
	for _, evt := range r.Events {
		if !evt.Processed {
			out = append(out, evt)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (r *InMemoryEventRepo) MarkProcessed(ctx context.Context, id uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, evt := range r.Events {
		if evt.ID == id {
			evt.Processed = true
			t := at
			evt.ProcessedAt = &t
			return nil
		}
	}
	return nil
}

func (r *InMemoryEventRepo) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]*domain.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	wanted := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}
	var out []*domain.Event
	for _, evt := range r.Events {
		if wanted[evt.ID] {
			out = append(out, evt)
		}
	}
	return out, nil
}

// InMemorySubscriptionRepo simula SubscriptionRepository.
type InMemorySubscriptionRepo struct {
	Subs map[uuid.UUID]*domain.Subscription
	mu   sync.Mutex
}

func NewInMemorySubscriptionRepo() *InMemorySubscriptionRepo {
	return &InMemorySubscriptionRepo{Subs: make(map[uuid.UUID]*domain.Subscription)}
}

func (r *InMemorySubscriptionRepo) Add(sub *domain.Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Subs[sub.ID] = sub
}

func (r *InMemorySubscriptionRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.Subs[id]
	if !ok {
		return nil, domain.ErrSubscriptionNotFound
	}
	return sub, nil
}

func (r *InMemorySubscriptionRepo) ListActive(ctx context.Context) ([]*domain.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Subscription
	for _, sub := range r.Subs {
		if sub.Active {
			out = append(out, sub)
		}
	}
	return out, nil
}

func (r *InMemorySubscriptionRepo) ListActiveByCasilla(ctx context.Context, casillaID uuid.UUID) ([]*domain.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Subscription
	for _, sub := range r.Subs {
		if sub.Active && sub.CasillaID == casillaID {
			out = append(out, sub)
		}
	}
	return out, nil
}

// InMemoryPendingRepo simula PendingEventRepository con la misma garantía de
// unicidad (event_id, subscription_id) que el índice de la base de datos.
type InMemoryPendingRepo struct {
	Pending []*domain.PendingEvent
	seen    map[[2]uuid.UUID]bool
	mu      sync.Mutex
}

func NewInMemoryPendingRepo() *InMemoryPendingRepo {
	return &InMemoryPendingRepo{seen: make(map[[2]uuid.UUID]bool)}
}

func (r *InMemoryPendingRepo) InsertIfAbsent(ctx context.Context, pe *domain.PendingEvent) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := [2]uuid.UUID{pe.EventID, pe.SubscriptionID}
	if r.seen[key] {
		return false, nil
	}
	r.seen[key] = true
	r.Pending = append(r.Pending, pe)
	return true, nil
}

func (r *InMemoryPendingRepo) FetchOpenBySubscription(ctx context.Context, subscriptionID uuid.UUID, limit int) ([]*domain.PendingEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.PendingEvent
	for _, pe := range r.Pending {
		if pe.SubscriptionID == subscriptionID && !pe.Processed {
			out = append(out, pe)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

// InMemoryNotificationRepo simula NotificationRepository y cierra pendientes
// como lo haría la transacción real.
type InMemoryNotificationRepo struct {
	Notifs  map[uuid.UUID]*domain.Notification
	pending *InMemoryPendingRepo
	mu      sync.Mutex
}

func NewInMemoryNotificationRepo(pending *InMemoryPendingRepo) *InMemoryNotificationRepo {
	return &InMemoryNotificationRepo{
		Notifs:  make(map[uuid.UUID]*domain.Notification),
		pending: pending,
	}
}

func (r *InMemoryNotificationRepo) CreateWithBatch(ctx context.Context, n *domain.Notification, pendingIDs []uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Notifs[n.ID] = n

	if r.pending != nil {
		wanted := make(map[uuid.UUID]bool, len(pendingIDs))
		for _, id := range pendingIDs {
			wanted[id] = true
		}
		r.pending.mu.Lock()
		for _, pe := range r.pending.Pending {
			if wanted[pe.ID] {
				pe.Processed = true
				notifID := n.ID
				pe.NotificationID = &notifID
			}
		}
		r.pending.mu.Unlock()
	}
	return nil
}

func (r *InMemoryNotificationRepo) FetchDue(ctx context.Context, now time.Time, limit int) ([]*domain.Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Notification
	for _, n := range r.Notifs {
		if n.Status != domain.NotificationPending {
			continue
		}
		if n.NextAttemptAt != nil && n.NextAttemptAt.After(now) {
			continue
		}
		out = append(out, n)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *InMemoryNotificationRepo) MarkSent(ctx context.Context, id uuid.UUID, at time.Time, responseCode int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.Notifs[id]
	if !ok {
		return domain.ErrNotificationNotFound
	}
	n.Status = domain.NotificationSent
	t := at
	n.SentAt = &t
	n.ResponseCode = responseCode
	return nil
}

func (r *InMemoryNotificationRepo) MarkError(ctx context.Context, id uuid.UUID, lastError string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.Notifs[id]
	if !ok {
		return domain.ErrNotificationNotFound
	}
	n.Status = domain.NotificationError
	n.LastError = lastError
	return nil
}

func (r *InMemoryNotificationRepo) Reschedule(ctx context.Context, id uuid.UUID, attempts int, lastError string, nextAttempt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.Notifs[id]
	if !ok {
		return domain.ErrNotificationNotFound
	}
	n.Attempts = attempts
	n.LastError = lastError
	t := nextAttempt
	n.NextAttemptAt = &t
	return nil
}

func (r *InMemoryNotificationRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.Notifs[id]
	if !ok {
		return nil, domain.ErrNotificationNotFound
	}
	return n, nil
}

// SentMail es un correo capturado por FakeMailSender.
type SentMail struct {
	To      string
	Subject string
	Body    string
}

// FakeMailSender captura los correos enviados; Err fuerza el fallo.
type FakeMailSender struct {
	Sent []SentMail
	Err  error
	mu   sync.Mutex
}

func (s *FakeMailSender) Send(ctx context.Context, to, subject, body string) error {
	if s.Err != nil {
		return s.Err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Sent = append(s.Sent, SentMail{To: to, Subject: subject, Body: body})
	return nil
}

// FakeWebhookSender captura las entregas; Code y Err controlan la respuesta.
type FakeWebhookSender struct {
	Calls [][]byte
	Code  int
	Err   error
	mu    sync.Mutex
}

func (s *FakeWebhookSender) Send(ctx context.Context, cfg *domain.WebhookConfig, body []byte) (int, error) {
	s.mu.Lock()
	s.Calls = append(s.Calls, body)
	s.mu.Unlock()
	if s.Err != nil {
		return s.Code, s.Err
	}
	if s.Code == 0 {
		return 200, nil
	}
	return s.Code, nil
}
