package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/davicafu/casillero/internal/notifica/domain"
)

type PendingEventRepoSQLite struct {
	db *sql.DB
}

func NewPendingEventRepoSQLite(db *sql.DB) *PendingEventRepoSQLite {
	return &PendingEventRepoSQLite{db: db}
}

// InsertIfAbsent usa INSERT OR IGNORE contra el índice único
// (event_id, subscription_id): la deduplicación la garantiza la base de
// datos, no el código, así que es segura bajo concurrencia.
func (r *PendingEventRepoSQLite) InsertIfAbsent(ctx context.Context, pe *domain.PendingEvent) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO pending_events (id,event_id,subscription_id,created_at,scheduled_for,processed)
		 VALUES (?,?,?,?,?,0)`,
		pe.ID.String(), pe.EventID.String(), pe.SubscriptionID.String(),
		pe.CreatedAt, pe.ScheduledFor)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

func (r *PendingEventRepoSQLite) FetchOpenBySubscription(ctx context.Context, subscriptionID uuid.UUID, limit int) ([]*domain.PendingEvent, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT id,event_id,subscription_id,created_at,scheduled_for,processed,notification_id
		 FROM pending_events
		 WHERE subscription_id = ? AND processed = 0
		 ORDER BY created_at ASC LIMIT ?`,
		subscriptionID.String(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pending []*domain.PendingEvent
	for rows.Next() {
		pe, err := scanPendingEvent(rows)
		if err != nil {
			return nil, err
		}
		pending = append(pending, pe)
	}
	return pending, rows.Err()
}

func scanPendingEvent(rows *sql.Rows) (*domain.PendingEvent, error) {
	var pe domain.PendingEvent
	var idStr, eventStr, subStr string
	var notifStr sql.NullString

	if err := rows.Scan(&idStr, &eventStr, &subStr, &pe.CreatedAt,
		&pe.ScheduledFor, &pe.Processed, &notifStr); err != nil {
		return nil, err
	}

	for _, pair := range []struct {
		dst *uuid.UUID
		src string
	}{{&pe.ID, idStr}, {&pe.EventID, eventStr}, {&pe.SubscriptionID, subStr}} {
		id, err := uuid.Parse(pair.src)
		if err != nil {
			return nil, fmt.Errorf("invalid UUID in DB: %w", err)
		}
		*pair.dst = id
	}

	if notifStr.Valid {
		notifID, err := uuid.Parse(notifStr.String)
		if err != nil {
			return nil, fmt.Errorf("invalid UUID in DB: %w", err)
		}
		pe.NotificationID = &notifID
	}
	return &pe, nil
}

// Verificación estática de la interfaz.
var _ domain.PendingEventRepository = (*PendingEventRepoSQLite)(nil)
