package application

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/davicafu/casillero/internal/notifica/domain"
	"github.com/davicafu/casillero/tests/mocks"
)

type dispatcherFixture struct {
	notifs     *mocks.InMemoryNotificationRepo
	subs       *mocks.InMemorySubscriptionRepo
	mail       *mocks.FakeMailSender
	webhook    *mocks.FakeWebhookSender
	dispatcher *Dispatcher
}

func newDispatcherFixture(t *testing.T) *dispatcherFixture {
	t.Helper()
	f := &dispatcherFixture{
		notifs:  mocks.NewInMemoryNotificationRepo(nil),
		subs:    mocks.NewInMemorySubscriptionRepo(),
		mail:    &mocks.FakeMailSender{},
		webhook: &mocks.FakeWebhookSender{},
	}
	f.dispatcher = NewDispatcher(
		f.notifs, f.subs, f.mail, f.webhook,
		time.Second, 0, 3,
		time.Minute, 10*time.Minute,
		zap.NewNop(),
	)
	return f
}

func (f *dispatcherFixture) seedNotification(t *testing.T, sub *domain.Subscription) *domain.Notification {
	t.Helper()
	n := &domain.Notification{
		ID:             uuid.New(),
		SubscriptionID: sub.ID,
		CasillaID:      sub.CasillaID,
		EventCount:     1,
		Subject:        "asunto",
		Summary:        "resumen",
		Status:         domain.NotificationPending,
		CreatedAt:      time.Now().UTC(),
	}
	require.NoError(t, f.notifs.CreateWithBatch(context.Background(), n, nil))
	return n
}

func TestDispatcher_EmailDelivered(t *testing.T) {
	f := newDispatcherFixture(t)
	sub := newEmailSub(uuid.New(), domain.EventError)
	f.subs.Add(sub)
	n := f.seedNotification(t, sub)

	f.dispatcher.ProcessBatch(context.Background())

	require.Len(t, f.mail.Sent, 1)
	assert.Equal(t, sub.Email, f.mail.Sent[0].To)
	assert.Equal(t, "asunto", f.mail.Sent[0].Subject)
	assert.Equal(t, "resumen", f.mail.Sent[0].Body)

	got, err := f.notifs.GetByID(context.Background(), n.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.NotificationSent, got.Status)
	assert.NotNil(t, got.SentAt)
}

func TestDispatcher_WebhookDeliveredWithResponseCode(t *testing.T) {
	f := newDispatcherFixture(t)
	f.webhook.Code = 201

	sub := newEmailSub(uuid.New(), domain.EventError)
	sub.Method = domain.DeliveryWebhook
	sub.Webhook = &domain.WebhookConfig{URL: "https://example.com/hook", Active: true}
	f.subs.Add(sub)
	n := f.seedNotification(t, sub)

	f.dispatcher.ProcessBatch(context.Background())

	require.Len(t, f.webhook.Calls, 1)
	// El cuerpo es la notificación serializada.
	var payload domain.Notification
	require.NoError(t, json.Unmarshal(f.webhook.Calls[0], &payload))
	assert.Equal(t, n.ID, payload.ID)

	got, _ := f.notifs.GetByID(context.Background(), n.ID)
	assert.Equal(t, domain.NotificationSent, got.Status)
	assert.Equal(t, 201, got.ResponseCode)
}

func TestDispatcher_TransientErrorReschedulesWithBackoff(t *testing.T) {
	f := newDispatcherFixture(t)
	f.mail.Err = &domain.DeliveryError{Err: errors.New("smtp timeout")}

	sub := newEmailSub(uuid.New(), domain.EventError)
	f.subs.Add(sub)
	n := f.seedNotification(t, sub)

	clock := time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)
	f.dispatcher.now = func() time.Time { return clock }

	f.dispatcher.ProcessBatch(context.Background())

	got, _ := f.notifs.GetByID(context.Background(), n.ID)
	assert.Equal(t, domain.NotificationPending, got.Status)
	assert.Equal(t, 1, got.Attempts)
	assert.Contains(t, got.LastError, "smtp timeout")
	require.NotNil(t, got.NextAttemptAt)
	assert.Equal(t, clock.Add(time.Minute), *got.NextAttemptAt)

	// Mientras no venza el próximo intento, el ciclo no la toca.
	f.dispatcher.ProcessBatch(context.Background())
	got, _ = f.notifs.GetByID(context.Background(), n.ID)
	assert.Equal(t, 1, got.Attempts)

	// Vencido el plazo, segundo intento con backoff doblado.
	clock = clock.Add(2 * time.Minute)
	f.dispatcher.ProcessBatch(context.Background())
	got, _ = f.notifs.GetByID(context.Background(), n.ID)
	assert.Equal(t, 2, got.Attempts)
	assert.Equal(t, clock.Add(2*time.Minute), *got.NextAttemptAt)
}

func TestDispatcher_PermanentErrorFailsImmediately(t *testing.T) {
	f := newDispatcherFixture(t)
	f.webhook.Code = 400
	f.webhook.Err = &domain.DeliveryError{Permanent: true, Code: 400, Err: errors.New("bad request")}

	sub := newEmailSub(uuid.New(), domain.EventError)
	sub.Method = domain.DeliveryWebhook
	sub.Webhook = &domain.WebhookConfig{URL: "https://example.com/hook"}
	f.subs.Add(sub)
	n := f.seedNotification(t, sub)

	f.dispatcher.ProcessBatch(context.Background())

	got, _ := f.notifs.GetByID(context.Background(), n.ID)
	assert.Equal(t, domain.NotificationError, got.Status)
	assert.Contains(t, got.LastError, "bad request")
	// Sin reintentos: una sola llamada al webhook.
	assert.Len(t, f.webhook.Calls, 1)
}

func TestDispatcher_ExhaustedAttemptsFail(t *testing.T) {
	f := newDispatcherFixture(t)
	f.mail.Err = errors.New("conexión rechazada") // error desnudo: transitorio

	sub := newEmailSub(uuid.New(), domain.EventError)
	f.subs.Add(sub)
	n := f.seedNotification(t, sub)

	clock := time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)
	f.dispatcher.now = func() time.Time { return clock }

	// maxAttempts=3: dos reprogramaciones y al tercer fallo pasa a error.
	for i := 0; i < 3; i++ {
		f.dispatcher.ProcessBatch(context.Background())
		clock = clock.Add(time.Hour)
	}

	got, _ := f.notifs.GetByID(context.Background(), n.ID)
	assert.Equal(t, domain.NotificationError, got.Status)
	assert.Equal(t, 2, got.Attempts) // el intento final no se registra como reprogramación
	assert.Contains(t, got.LastError, "conexión rechazada")
}

func TestDispatcher_MissingSubscriptionFailsNotification(t *testing.T) {
	f := newDispatcherFixture(t)
	sub := newEmailSub(uuid.New(), domain.EventError)
	// La suscripción no se registra: simula un borrado posterior al lote.
	n := f.seedNotification(t, sub)

	f.dispatcher.ProcessBatch(context.Background())

	got, _ := f.notifs.GetByID(context.Background(), n.ID)
	assert.Equal(t, domain.NotificationError, got.Status)
	assert.Contains(t, got.LastError, "subscription no longer exists")
	assert.Empty(t, f.mail.Sent)
}

func TestDispatcher_WebhookWithoutConfigIsPermanent(t *testing.T) {
	f := newDispatcherFixture(t)
	sub := newEmailSub(uuid.New(), domain.EventError)
	sub.Method = domain.DeliveryWebhook
	sub.Webhook = nil // nunca debería pasar la validación, pero el dispatcher no confía
	f.subs.Add(sub)
	n := f.seedNotification(t, sub)

	f.dispatcher.ProcessBatch(context.Background())

	got, _ := f.notifs.GetByID(context.Background(), n.ID)
	assert.Equal(t, domain.NotificationError, got.Status)
	assert.Empty(t, f.webhook.Calls)
}
