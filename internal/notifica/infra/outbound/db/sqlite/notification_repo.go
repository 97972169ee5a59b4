package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/davicafu/casillero/internal/notifica/domain"
)

type NotificationRepoSQLite struct {
	db *sql.DB
}

func NewNotificationRepoSQLite(db *sql.DB) *NotificationRepoSQLite {
	return &NotificationRepoSQLite{db: db}
}

// CreateWithBatch inserta la notificación y cierra sus PendingEvents en una
// transacción: o el lote queda entero, o no queda.
func (r *NotificationRepoSQLite) CreateWithBatch(ctx context.Context, n *domain.Notification, pendingIDs []uuid.UUID) error {
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
		`INSERT INTO notificaciones (id,subscription_id,casilla_id,event_ids,cantidad_eventos,asunto,resumen,estado,attempts,created_at)
		 VALUES (?,?,?,?,?,?,?,?,0,?)`,
		n.ID.String(), n.SubscriptionID.String(), n.CasillaID.String(),
		string(eventIDs), n.EventCount, n.Subject, n.Summary,
		string(n.Status), n.CreatedAt,
	); err != nil {
		return err
	}

	for _, peID := range pendingIDs {
		if _, err = tx.ExecContext(ctx,
			`UPDATE pending_events SET processed = 1, notification_id = ? WHERE id = ?`,
			n.ID.String(), peID.String()); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (r *NotificationRepoSQLite) FetchDue(ctx context.Context, now time.Time, limit int) ([]*domain.Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT id,subscription_id,casilla_id,event_ids,cantidad_eventos,asunto,resumen,estado,attempts,last_error,next_attempt_at,response_code,created_at,sent_at
		 FROM notificaciones
		 WHERE estado = 'pending' AND (next_attempt_at IS NULL OR next_attempt_at <= ?)
		 ORDER BY created_at ASC LIMIT ?`, now, limit)
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

func (r *NotificationRepoSQLite) MarkSent(ctx context.Context, id uuid.UUID, at time.Time, responseCode int) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE notificaciones SET estado = 'sent', sent_at = ?, response_code = ? WHERE id = ?`,
		at, responseCode, id.String())
	if err != nil {
		return err
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return domain.ErrNotificationNotFound
	}
	return nil
}

func (r *NotificationRepoSQLite) MarkError(ctx context.Context, id uuid.UUID, lastError string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE notificaciones SET estado = 'error', last_error = ? WHERE id = ?`,
		lastError, id.String())
	if err != nil {
		return err
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return domain.ErrNotificationNotFound
	}
	return nil
}

func (r *NotificationRepoSQLite) Reschedule(ctx context.Context, id uuid.UUID, attempts int, lastError string, nextAttempt time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE notificaciones SET attempts = ?, last_error = ?, next_attempt_at = ? WHERE id = ?`,
		attempts, lastError, nextAttempt, id.String())
	if err != nil {
		return err
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return domain.ErrNotificationNotFound
	}
	return nil
}

func (r *NotificationRepoSQLite) GetByID(ctx context.Context, id uuid.UUID) (*domain.Notification, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id,subscription_id,casilla_id,event_ids,cantidad_eventos,asunto,resumen,estado,attempts,last_error,next_attempt_at,response_code,created_at,sent_at
		 FROM notificaciones WHERE id = ?`, id.String())

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
	var idStr, subStr, casillaStr, eventIDsJSON string
	var lastError sql.NullString
	var nextAttempt, sentAt sql.NullTime
	var responseCode sql.NullInt64

	if err := row.Scan(&idStr, &subStr, &casillaStr, &eventIDsJSON, &n.EventCount,
		&n.Subject, &n.Summary, &n.Status, &n.Attempts,
		&lastError, &nextAttempt, &responseCode, &n.CreatedAt, &sentAt); err != nil {
		return nil, err
	}

	for _, pair := range []struct {
		dst *uuid.UUID
		src string
	}{{&n.ID, idStr}, {&n.SubscriptionID, subStr}, {&n.CasillaID, casillaStr}} {
		id, err := uuid.Parse(pair.src)
		if err != nil {
			return nil, fmt.Errorf("invalid UUID in DB: %w", err)
		}
		*pair.dst = id
	}

	if err := json.Unmarshal([]byte(eventIDsJSON), &n.EventIDs); err != nil {
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

// ------------------ Inicialización de DB ------------------

// InitSQLite crea las tablas de notificación si no existen
func InitSQLite(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS eventos (
			id TEXT PRIMARY KEY,
			casilla_id TEXT NOT NULL,
			emisor_id TEXT,
			ejecucion_id TEXT,
			tipo TEXT NOT NULL,
			mensaje TEXT NOT NULL,
			detalle TEXT,
			processed BOOLEAN NOT NULL DEFAULT 0,
			processed_at DATETIME,
			created_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_eventos_pendientes ON eventos (processed, created_at)`,
		`CREATE TABLE IF NOT EXISTS suscripciones (
			id TEXT PRIMARY KEY,
			casilla_id TEXT NOT NULL,
			active BOOLEAN NOT NULL DEFAULT 1,
			config TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS pending_events (
			id TEXT PRIMARY KEY,
			event_id TEXT NOT NULL,
			subscription_id TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			scheduled_for DATETIME NOT NULL,
			processed BOOLEAN NOT NULL DEFAULT 0,
			notification_id TEXT
		)`,
		// El índice único es el que garantiza la deduplicación del fan-out.
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_pending_dedup ON pending_events (event_id, subscription_id)`,
		`CREATE INDEX IF NOT EXISTS idx_pending_abiertos ON pending_events (subscription_id, processed, created_at)`,
		`CREATE TABLE IF NOT EXISTS notificaciones (
			id TEXT PRIMARY KEY,
			subscription_id TEXT NOT NULL,
			casilla_id TEXT NOT NULL,
			event_ids TEXT NOT NULL,
			cantidad_eventos INTEGER NOT NULL,
			asunto TEXT NOT NULL,
			resumen TEXT NOT NULL,
			estado TEXT NOT NULL,
			attempts INTEGER NOT NULL DEFAULT 0,
			last_error TEXT,
			next_attempt_at DATETIME,
			response_code INTEGER,
			created_at DATETIME NOT NULL,
			sent_at DATETIME
		)`,
		`CREATE INDEX IF NOT EXISTS idx_notificaciones_pendientes ON notificaciones (estado, next_attempt_at)`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}
