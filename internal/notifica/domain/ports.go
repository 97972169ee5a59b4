package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ---------- Errores de dominio ----------
var (
	ErrSubscriptionNotFound      = errors.New("subscription not found")
	ErrNotificationNotFound      = errors.New("notification not found")
	ErrWebhookConfigMissing      = errors.New("webhook delivery requires a webhook config")
	ErrWebhookURLMissing         = errors.New("webhook url is required")
	ErrWebhookAuthTypeMissing    = errors.New("auth required but auth type not set")
	ErrWebhookAuthInconsistent   = errors.New("auth type set but auth not required")
	ErrWebhookCredentialsMissing = errors.New("auth required but credentials missing")
)

// DeliveryError clasifica un fallo de entrega del dispatcher. Permanent
// (4xx, dirección malformada) no se reintenta; transitorio sí, con backoff.
type DeliveryError struct {
	Permanent bool
	Code      int // código HTTP si aplica
	Err       error
}

func (e *DeliveryError) Error() string {
	kind := "transient"
	if e.Permanent {
		kind = "permanent"
	}
	return fmt.Sprintf("%s delivery error: %v", kind, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// ---------- Interfaces (Ports) ----------

// EventRepository persiste los eventos de casilla. Los eventos derivados de
// ejecuciones los inserta el repo de ejecuciones en su misma transacción;
// Insert queda para eventos sueltos (delay, message).
type EventRepository interface {
	Insert(ctx context.Context, evt *Event) error

	// FetchUnprocessed devuelve eventos con processed=false, más antiguos
	// primero, hasta un máximo.
	FetchUnprocessed(ctx context.Context, limit int) ([]*Event, error)

	// MarkProcessed se llama solo tras intentar todas las suscripciones.
	MarkProcessed(ctx context.Context, id uuid.UUID, at time.Time) error

	GetByIDs(ctx context.Context, ids []uuid.UUID) ([]*Event, error)
}

// SubscriptionRepository es la vista de lectura de las suscripciones (las
// escribe el admin, colaborador externo).
type SubscriptionRepository interface {
	// Debe devolver ErrSubscriptionNotFound si no existe.
	GetByID(ctx context.Context, id uuid.UUID) (*Subscription, error)

	ListActive(ctx context.Context) ([]*Subscription, error)

	ListActiveByCasilla(ctx context.Context, casillaID uuid.UUID) ([]*Subscription, error)
}

// PendingEventRepository persiste la cola de pares (evento, suscripción).
type PendingEventRepository interface {
	// InsertIfAbsent es atómico: devuelve false (sin error) si ya existe un
	// PendingEvent para el par (event_id, subscription_id).
	InsertIfAbsent(ctx context.Context, pe *PendingEvent) (bool, error)

	// FetchOpenBySubscription devuelve los no procesados de la suscripción,
	// más antiguos primero.
	FetchOpenBySubscription(ctx context.Context, subscriptionID uuid.UUID, limit int) ([]*PendingEvent, error)
}

// NotificationRepository persiste notificaciones y cierra lotes.
type NotificationRepository interface {
	// CreateWithBatch inserta la notificación y marca sus PendingEvents como
	// procesados en una sola transacción: los pendientes solo se cierran si
	// la notificación queda durablemente creada.
	CreateWithBatch(ctx context.Context, n *Notification, pendingIDs []uuid.UUID) error

	// FetchDue devuelve notificaciones en estado pending cuyo próximo intento
	// ya venció (o nunca se intentaron).
	FetchDue(ctx context.Context, now time.Time, limit int) ([]*Notification, error)

	MarkSent(ctx context.Context, id uuid.UUID, at time.Time, responseCode int) error

	MarkError(ctx context.Context, id uuid.UUID, lastError string) error

	// Reschedule registra un fallo transitorio: intentos, último error y
	// próximo intento.
	Reschedule(ctx context.Context, id uuid.UUID, attempts int, lastError string, nextAttempt time.Time) error

	// Debe devolver ErrNotificationNotFound si no existe.
	GetByID(ctx context.Context, id uuid.UUID) (*Notification, error)
}

// MailSender es la interfaz del transporte de correo saliente (colaborador
// externo; aquí solo se invoca).
type MailSender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// WebhookSender entrega el cuerpo JSON a un endpoint según su WebhookConfig.
// Devuelve el código de respuesta HTTP.
type WebhookSender interface {
	Send(ctx context.Context, cfg *WebhookConfig, body []byte) (int, error)
}
