package postgres

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"github.com/davicafu/casillero/internal/notifica/domain"
)

type PendingEventRepoPostgres struct {
	db *sql.DB
}

func NewPendingEventRepoPostgres(db *sql.DB) *PendingEventRepoPostgres {
	return &PendingEventRepoPostgres{db: db}
}

// InsertIfAbsent usa ON CONFLICT DO NOTHING contra el índice único
// (event_id, subscription_id): la deduplicación la garantiza la base de
// datos y es segura bajo concurrencia.
func (r *PendingEventRepoPostgres) InsertIfAbsent(ctx context.Context, pe *domain.PendingEvent) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO pending_events (id, event_id, subscription_id, created_at, scheduled_for, processed)
		 VALUES ($1, $2, $3, $4, $5, false)
		 ON CONFLICT (event_id, subscription_id) DO NOTHING`,
		pe.ID, pe.EventID, pe.SubscriptionID, pe.CreatedAt, pe.ScheduledFor)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

func (r *PendingEventRepoPostgres) FetchOpenBySubscription(ctx context.Context, subscriptionID uuid.UUID, limit int) ([]*domain.PendingEvent, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, event_id, subscription_id, created_at, scheduled_for, processed, notification_id
		 FROM pending_events
		 WHERE subscription_id = $1 AND NOT processed
		 ORDER BY created_at ASC LIMIT $2`, subscriptionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pending []*domain.PendingEvent
	for rows.Next() {
		var pe domain.PendingEvent
		var notifID uuid.NullUUID
		if err := rows.Scan(&pe.ID, &pe.EventID, &pe.SubscriptionID,
			&pe.CreatedAt, &pe.ScheduledFor, &pe.Processed, &notifID); err != nil {
			return nil, err
		}
		if notifID.Valid {
			id := notifID.UUID
			pe.NotificationID = &id
		}
		pending = append(pending, &pe)
	}
	return pending, rows.Err()
}

// Verificación estática de la interfaz.
var _ domain.PendingEventRepository = (*PendingEventRepoPostgres)(nil)
