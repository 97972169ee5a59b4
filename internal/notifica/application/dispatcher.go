package application

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/davicafu/casillero/internal/notifica/domain"
	"github.com/davicafu/casillero/shared/utils"
)

// Dispatcher entrega las notificaciones pendientes por su transporte. Los
// fallos transitorios se reprograman con backoff exponencial hasta agotar los
// intentos; los permanentes pasan a error sin reintento.
type Dispatcher struct {
	notifs  domain.NotificationRepository
	subs    domain.SubscriptionRepository
	mail    domain.MailSender
	webhook domain.WebhookSender

	interval    time.Duration
	limit       int
	maxAttempts int
	backoffBase time.Duration
	backoffMax  time.Duration
	log         *zap.Logger

	now func() time.Time // inyectable en tests
}

func NewDispatcher(
	notifs domain.NotificationRepository,
	subs domain.SubscriptionRepository,
	mail domain.MailSender,
	webhook domain.WebhookSender,
	interval time.Duration,
	limit int,
	maxAttempts int,
	backoffBase, backoffMax time.Duration,
	log *zap.Logger,
) *Dispatcher {
	if limit <= 0 {
		limit = 50
	}
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &Dispatcher{
		notifs:      notifs,
		subs:        subs,
		mail:        mail,
		webhook:     webhook,
		interval:    interval,
		limit:       limit,
		maxAttempts: maxAttempts,
		backoffBase: backoffBase,
		backoffMax:  backoffMax,
		log:         log,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (d *Dispatcher) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(d.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				d.log.Info("🛑 Dispatcher detenido")
				return
			case <-ticker.C:
				d.ProcessBatch(ctx)
			}
		}
	}()
}

// ProcessBatch entrega un lote de notificaciones vencidas. Exportado para
// tests.
func (d *Dispatcher) ProcessBatch(ctx context.Context) {
	due, err := d.notifs.FetchDue(ctx, d.now(), d.limit)
	if err != nil {
		d.log.Warn("⚠️ no se pudieron obtener notificaciones pendientes", zap.Error(err))
		return
	}

	for _, n := range due {
		d.dispatch(ctx, n)
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, n *domain.Notification) {
	sub, err := d.subs.GetByID(ctx, n.SubscriptionID)
	if err != nil {
		if errors.Is(err, domain.ErrSubscriptionNotFound) {
			// La suscripción desapareció: la notificación ya no tiene destino.
			d.fail(ctx, n, "subscription no longer exists")
			return
		}
		d.log.Warn("⚠️ no se pudo cargar suscripción", zap.Error(err))
		return
	}

	code, err := d.deliver(ctx, sub, n)
	if err == nil {
		if merr := d.notifs.MarkSent(ctx, n.ID, d.now(), code); merr != nil {
			d.log.Warn("⚠️ notificación enviada pero no se pudo marcar", zap.Error(merr))
			return
		}
		d.log.Info("✅ notificación entregada",
			zap.String("notification_id", n.ID.String()),
			zap.String("metodo", string(sub.Method)),
			zap.Int("codigo", code))
		return
	}

	var de *domain.DeliveryError
	permanent := errors.As(err, &de) && de.Permanent

	attempts := n.Attempts + 1
	switch {
	case permanent:
		d.fail(ctx, n, err.Error())
	case attempts >= d.maxAttempts:
		d.fail(ctx, n, err.Error())
	default:
		next := d.now().Add(utils.BackoffDelay(d.backoffBase, attempts, d.backoffMax))
		if rerr := d.notifs.Reschedule(ctx, n.ID, attempts, err.Error(), next); rerr != nil {
			d.log.Warn("⚠️ no se pudo reprogramar notificación", zap.Error(rerr))
			return
		}
		d.log.Warn("🔁 entrega fallida, reprogramada",
			zap.String("notification_id", n.ID.String()),
			zap.Int("intento", attempts),
			zap.Time("proximo_intento", next),
			zap.Error(err))
	}
}

func (d *Dispatcher) deliver(ctx context.Context, sub *domain.Subscription, n *domain.Notification) (int, error) {
	switch sub.Method {
	case domain.DeliveryWebhook:
		if sub.Webhook == nil {
			return 0, &domain.DeliveryError{Permanent: true, Err: domain.ErrWebhookConfigMissing}
		}
		body, err := json.Marshal(n)
		if err != nil {
			return 0, &domain.DeliveryError{Permanent: true, Err: err}
		}
		return d.webhook.Send(ctx, sub.Webhook, body)
	default:
		return 0, d.mail.Send(ctx, sub.Email, n.Subject, n.Summary)
	}
}

func (d *Dispatcher) fail(ctx context.Context, n *domain.Notification, reason string) {
	if err := d.notifs.MarkError(ctx, n.ID, reason); err != nil {
		d.log.Warn("⚠️ no se pudo marcar notificación en error", zap.Error(err))
		return
	}
	d.log.Warn("❌ notificación descartada",
		zap.String("notification_id", n.ID.String()),
		zap.String("motivo", reason))
}
