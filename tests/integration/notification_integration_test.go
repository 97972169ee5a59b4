package integration

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/davicafu/casillero/internal/notifica/domain"
	notificaSQLite "github.com/davicafu/casillero/internal/notifica/infra/outbound/db/sqlite"
)

func setupNotificaDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	require.NoError(t, notificaSQLite.InitSQLite(db))
	t.Cleanup(func() { db.Close() })
	return db
}

func TestNotificationSQLiteIntegration_SentRoundTrip(t *testing.T) {
	db := setupNotificaDB(t)
	repo := notificaSQLite.NewNotificationRepoSQLite(db)

	n := &domain.Notification{
		ID:             uuid.New(),
		SubscriptionID: uuid.New(),
		CasillaID:      uuid.New(),
		EventIDs:       []uuid.UUID{uuid.New(), uuid.New()},
		EventCount:     2,
		Subject:        "2 evento(s) en ventas",
		Summary:        "resumen del lote",
		Status:         domain.NotificationPending,
		CreatedAt:      time.Now().UTC(),
	}
	require.NoError(t, repo.CreateWithBatch(context.Background(), n, nil))

	// Recién creada aparece como vencida.
	due, err := repo.FetchDue(context.Background(), time.Now().UTC(), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, n.ID, due[0].ID)
	assert.Equal(t, 2, due[0].EventCount)
	assert.ElementsMatch(t, n.EventIDs, due[0].EventIDs)
	assert.Zero(t, due[0].ResponseCode)

	// Entregada: el código de respuesta sobrevive el viaje por la DB.
	sentAt := time.Now().UTC()
	require.NoError(t, repo.MarkSent(context.Background(), n.ID, sentAt, 202))

	got, err := repo.GetByID(context.Background(), n.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.NotificationSent, got.Status)
	assert.Equal(t, 202, got.ResponseCode)
	require.NotNil(t, got.SentAt)

	// Ya enviada no vuelve a salir como vencida.
	due, err = repo.FetchDue(context.Background(), time.Now().UTC(), 10)
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestNotificationSQLiteIntegration_RescheduleAndError(t *testing.T) {
	db := setupNotificaDB(t)
	repo := notificaSQLite.NewNotificationRepoSQLite(db)

	n := &domain.Notification{
		ID:             uuid.New(),
		SubscriptionID: uuid.New(),
		CasillaID:      uuid.New(),
		EventIDs:       []uuid.UUID{uuid.New()},
		EventCount:     1,
		Subject:        "1 evento(s) en ventas",
		Summary:        "resumen",
		Status:         domain.NotificationPending,
		CreatedAt:      time.Now().UTC(),
	}
	require.NoError(t, repo.CreateWithBatch(context.Background(), n, nil))

	next := time.Now().UTC().Add(time.Hour)
	require.NoError(t, repo.Reschedule(context.Background(), n.ID, 1, "timeout", next))

	got, err := repo.GetByID(context.Background(), n.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Attempts)
	assert.Equal(t, "timeout", got.LastError)
	require.NotNil(t, got.NextAttemptAt)

	// Reprogramada a futuro no está vencida ahora.
	due, err := repo.FetchDue(context.Background(), time.Now().UTC(), 10)
	require.NoError(t, err)
	assert.Empty(t, due)

	require.NoError(t, repo.MarkError(context.Background(), n.ID, "entrega rechazada"))
	got, err = repo.GetByID(context.Background(), n.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.NotificationError, got.Status)
	assert.Equal(t, "entrega rechazada", got.LastError)
}

func TestNotificationSQLiteIntegration_UnknownIDs(t *testing.T) {
	db := setupNotificaDB(t)
	repo := notificaSQLite.NewNotificationRepoSQLite(db)

	_, err := repo.GetByID(context.Background(), uuid.New())
	assert.ErrorIs(t, err, domain.ErrNotificationNotFound)

	err = repo.MarkSent(context.Background(), uuid.New(), time.Now().UTC(), 200)
	assert.ErrorIs(t, err, domain.ErrNotificationNotFound)
}
