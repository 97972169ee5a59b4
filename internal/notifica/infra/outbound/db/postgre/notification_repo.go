package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/davicafu/casillero/internal/notifica/domain"
)

type NotificationRepoPostgres struct {
	db *sql.DB
}

func NewNotificationRepoPostgres(db *sql.DB) *NotificationRepoPostgres {
	return &NotificationRepoPostgres{db: db}
}

// CreateWithBatch inserta la notificación y cierra sus PendingEvents en una
// transacción.
func (r *NotificationRepoPostgres) CreateWithBatch(ctx context.Context, n *domain.Notification, pendingIDs []uuid.UUID) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	eventIDs, err := json.Marshal(n.EventIDs)
	if err != nil {
		return err
	}

	if _, err = tx.ExecContext(ctx,
		`INSERT INTO notificaciones (id, subscription_id, casilla_id, event_ids, cantidad_eventos, asunto, resumen, estado, attempts, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 0, $9)`,
		n.ID, n.SubscriptionID, n.CasillaID, eventIDs, n.EventCount,
		n.Subject, n.Summary, string(n.Status), n.CreatedAt,
	); err != nil {
		return err
	}

	idStrs := make([]string, len(pendingIDs))
	for i, id := range pendingIDs {
		idStrs[i] = id.String()
	}
	if _, err = tx.ExecContext(ctx,
		`UPDATE pending_events SET processed = true, notification_id = $1 WHERE id = ANY($2::uuid[])`,
		n.ID, idStrs); err != nil {
		return err
	}

	return tx.Commit()
}

func (r *NotificationRepoPostgres) FetchDue(ctx context.Context, now time.Time, limit int) ([]*domain.Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, subscription_id, casilla_id, event_ids, cantidad_eventos, asunto, resumen, estado, attempts, last_error, next_attempt_at, response_code, created_at, sent_at
		 FROM notificaciones
		 WHERE estado = 'pending' AND (next_attempt_at IS NULL OR next_attempt_at <= $1)
		 ORDER BY created_at ASC LIMIT $2`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var notifs []*domain.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		notifs = append(notifs, n)
	}
	return notifs, rows.Err()
}

func (r *NotificationRepoPostgres) MarkSent(ctx context.Context, id uuid.UUID, at time.Time, responseCode int) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE notificaciones SET estado = 'sent', sent_at = $1, response_code = $2 WHERE id = $3`,
		at, responseCode, id)
	if err != nil {
		return err
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return domain.ErrNotificationNotFound
	}
	return nil
}

func (r *NotificationRepoPostgres) MarkError(ctx context.Context, id uuid.UUID, lastError string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE notificaciones SET estado = 'error', last_error = $1 WHERE id = $2`,
		lastError, id)
	if err != nil {
		return err
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return domain.ErrNotificationNotFound
	}
	return nil
}

func (r *NotificationRepoPostgres) Reschedule(ctx context.Context, id uuid.UUID, attempts int, lastError string, nextAttempt time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE notificaciones SET attempts = $1, last_error = $2, next_attempt_at = $3 WHERE id = $4`,
		attempts, lastError, nextAttempt, id)
	if err != nil {
		return err
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return domain.ErrNotificationNotFound
	}
	return nil
}

func (r *NotificationRepoPostgres) GetByID(ctx context.Context, id uuid.UUID) (*domain.Notification, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, subscription_id, casilla_id, event_ids, cantidad_eventos, asunto, resumen, estado, attempts, last_error, next_attempt_at, response_code, created_at, sent_at
		 FROM notificaciones WHERE id = $1`, id)

	n, err := scanNotification(row)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotificationNotFound
	}
	return n, err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanNotification(row rowScanner) (*domain.Notification, error) {
	var n domain.Notification
	var eventIDsJSON []byte
	var lastError sql.NullString
	var nextAttempt, sentAt sql.NullTime
	var responseCode sql.NullInt64

	if err := row.Scan(&n.ID, &n.SubscriptionID, &n.CasillaID, &eventIDsJSON, &n.EventCount,
		&n.Subject, &n.Summary, &n.Status, &n.Attempts,
		&lastError, &nextAttempt, &responseCode, &n.CreatedAt, &sentAt); err != nil {
		return nil, err
	}

	if err := json.Unmarshal(eventIDsJSON, &n.EventIDs); err != nil {
		return nil, fmt.Errorf("invalid event_ids JSON in DB: %w", err)
	}
	if lastError.Valid {
		n.LastError = lastError.String
	}
	if nextAttempt.Valid {
		n.NextAttemptAt = &nextAttempt.Time
	}
	if responseCode.Valid {
		n.ResponseCode = int(responseCode.Int64)
	}
	if sentAt.Valid {
		n.SentAt = &sentAt.Time
	}
	return &n, nil
}

// Verificación estática de la interfaz.
var _ domain.NotificationRepository = (*NotificationRepoPostgres)(nil)
