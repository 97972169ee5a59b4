package application

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/davicafu/casillero/internal/notifica/domain"
)

// FanoutWorker drena los eventos sin procesar y crea un PendingEvent por cada
// suscripción cuyo filtro los acepta. InsertIfAbsent hace el reparto
// idempotente: reprocesar un evento nunca duplica pares (evento, suscripción).
type FanoutWorker struct {
	events   domain.EventRepository
	subs     domain.SubscriptionRepository
	pending  domain.PendingEventRepository
	interval time.Duration
	limit    int
	log      *zap.Logger
}

func NewFanoutWorker(
	events domain.EventRepository,
	subs domain.SubscriptionRepository,
	pending domain.PendingEventRepository,
	interval time.Duration,
	limit int,
	log *zap.Logger,
) *FanoutWorker {
	if limit <= 0 {
		limit = 50
	}
	return &FanoutWorker{
		events:   events,
		subs:     subs,
		pending:  pending,
		interval: interval,
		limit:    limit,
		log:      log,
	}
}

func (w *FanoutWorker) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				w.log.Info("🛑 Fan-out detenido")
				return
			case <-ticker.C:
				w.ProcessBatch(ctx)
			}
		}
	}()
}

// ProcessBatch drena un lote de eventos. Exportado para tests.
func (w *FanoutWorker) ProcessBatch(ctx context.Context) {
	events, err := w.events.FetchUnprocessed(ctx, w.limit)
	if err != nil {
		w.log.Warn("⚠️ error al obtener eventos pendientes", zap.Error(err))
		return
	}

	for _, evt := range events {
		w.fanOut(ctx, evt)
	}
}

// fanOut reparte un evento. El evento se marca procesado solo si todas las
// suscripciones fueron intentadas con éxito: un fallo parcial deja el evento
// sin marcar y el siguiente ciclo lo reintenta (la deduplicación absorbe lo
// ya insertado).
func (w *FanoutWorker) fanOut(ctx context.Context, evt *domain.Event) {
	subs, err := w.subs.ListActiveByCasilla(ctx, evt.CasillaID)
	if err != nil {
		w.log.Warn("⚠️ no se pudieron listar suscripciones",
			zap.String("casilla_id", evt.CasillaID.String()), zap.Error(err))
		return
	}

	now := time.Now().UTC()
	for _, sub := range subs {
		if !sub.Matches(evt) {
			continue
		}

		scheduled := sub.NextRunAfter(evt.CreatedAt)
		pe := &domain.PendingEvent{
			ID:             uuid.New(),
			EventID:        evt.ID,
			SubscriptionID: sub.ID,
			CreatedAt:      now,
			ScheduledFor:   &scheduled,
		}
		inserted, err := w.pending.InsertIfAbsent(ctx, pe)
		if err != nil {
			w.log.Warn("⚠️ no se pudo insertar pending event, se reintentará el evento",
				zap.String("event_id", evt.ID.String()),
				zap.String("subscription_id", sub.ID.String()),
				zap.Error(err))
			return
		}
		if !inserted {
			// Par ya repartido en un ciclo anterior.
			continue
		}
	}

	if err := w.events.MarkProcessed(ctx, evt.ID, now); err != nil {
		w.log.Warn("⚠️ no se pudo marcar evento como procesado",
			zap.String("event_id", evt.ID.String()), zap.Error(err))
	}
}
