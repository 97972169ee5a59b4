package application

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/davicafu/casillero/internal/notifica/domain"
)

// Batcher cierra lotes de PendingEvents en notificaciones. Las suscripciones
// immediate se drenan en cada ciclo; las programadas solo cuando su instante
// de envío ha vencido desde el último cierre. Nunca se crea una notificación
// vacía.
type Batcher struct {
	subs     domain.SubscriptionRepository
	events   domain.EventRepository
	pending  domain.PendingEventRepository
	notifs   domain.NotificationRepository
	interval time.Duration
	limit    int
	log      *zap.Logger

	now func() time.Time // inyectable en tests

	mu      sync.Mutex
	lastRun map[uuid.UUID]time.Time
}

func NewBatcher(
	subs domain.SubscriptionRepository,
	events domain.EventRepository,
	pending domain.PendingEventRepository,
	notifs domain.NotificationRepository,
	interval time.Duration,
	limit int,
	log *zap.Logger,
) *Batcher {
	if limit <= 0 {
		limit = 200
	}
	return &Batcher{
		subs:     subs,
		events:   events,
		pending:  pending,
		notifs:   notifs,
		interval: interval,
		limit:    limit,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
		lastRun:  make(map[uuid.UUID]time.Time),
	}
}

func (b *Batcher) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(b.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				b.log.Info("🛑 Batcher detenido")
				return
			case <-ticker.C:
				b.ProcessBatch(ctx)
			}
		}
	}()
}

// ProcessBatch ejecuta un ciclo completo sobre todas las suscripciones
// activas. Exportado para tests.
func (b *Batcher) ProcessBatch(ctx context.Context) {
	subs, err := b.subs.ListActive(ctx)
	if err != nil {
		b.log.Warn("⚠️ no se pudieron listar suscripciones activas", zap.Error(err))
		return
	}

	now := b.now()
	for _, sub := range subs {
		if !b.due(sub, now) {
			continue
		}
		if b.drain(ctx, sub, now) {
			b.mu.Lock()
			b.lastRun[sub.ID] = now
			b.mu.Unlock()
		}
	}
}

// due decide si a la suscripción le toca cerrar lote en este ciclo. La
// primera vez que se ve una suscripción programada se ancla a `now` para no
// disparar en el arranque envíos de instantes ya pasados.
func (b *Batcher) due(sub *domain.Subscription, now time.Time) bool {
	if sub.Frequency == domain.FrequencyImmediate {
		return true
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	last, ok := b.lastRun[sub.ID]
	if !ok {
		b.lastRun[sub.ID] = now
		return false
	}
	return !sub.NextRunAfter(last).After(now)
}

// drain cierra lotes hasta vaciar los pendientes abiertos de la suscripción.
// `limit` actúa solo como tamaño de página: una acumulación mayor que el
// límite se reparte en varios lotes dentro del mismo ciclo, nunca se deja
// esperando a la siguiente ventana. Devuelve true si el ciclo cuenta como
// ejecutado.
func (b *Batcher) drain(ctx context.Context, sub *domain.Subscription, now time.Time) bool {
	for {
		closed, ok := b.closeBatch(ctx, sub, now)
		if !ok {
			return false
		}
		if closed < b.limit {
			return true
		}
	}
}

// closeBatch agrupa una página de pendientes abiertos de la suscripción en
// una única notificación. Devuelve cuántos cerró y si el cierre fue limpio
// (una página vacía también lo es).
func (b *Batcher) closeBatch(ctx context.Context, sub *domain.Subscription, now time.Time) (int, bool) {
	open, err := b.pending.FetchOpenBySubscription(ctx, sub.ID, b.limit)
	if err != nil {
		b.log.Warn("⚠️ no se pudieron obtener pendientes",
			zap.String("subscription_id", sub.ID.String()), zap.Error(err))
		return 0, false
	}
	if len(open) == 0 {
		return 0, true
	}

	pendingIDs := make([]uuid.UUID, 0, len(open))
	eventIDs := make([]uuid.UUID, 0, len(open))
	for _, pe := range open {
		pendingIDs = append(pendingIDs, pe.ID)
		eventIDs = append(eventIDs, pe.EventID)
	}

	events, err := b.events.GetByIDs(ctx, eventIDs)
	if err != nil {
		b.log.Warn("⚠️ no se pudieron cargar eventos del lote",
			zap.String("subscription_id", sub.ID.String()), zap.Error(err))
		return 0, false
	}

	subject, summary := RenderBatch(sub, events)

	n := &domain.Notification{
		ID:             uuid.New(),
		SubscriptionID: sub.ID,
		CasillaID:      sub.CasillaID,
		EventIDs:       eventIDs,
		EventCount:     len(eventIDs),
		Subject:        subject,
		Summary:        summary,
		Status:         domain.NotificationPending,
		CreatedAt:      now,
	}

	// Transaccional: los pendientes solo se cierran si la notificación
	// queda creada.
	if err := b.notifs.CreateWithBatch(ctx, n, pendingIDs); err != nil {
		b.log.Warn("⚠️ no se pudo crear notificación",
			zap.String("subscription_id", sub.ID.String()), zap.Error(err))
		return 0, false
	}

	b.log.Info("📦 lote cerrado",
		zap.String("notification_id", n.ID.String()),
		zap.String("subscription_id", sub.ID.String()),
		zap.Int("eventos", n.EventCount))
	return len(open), true
}
