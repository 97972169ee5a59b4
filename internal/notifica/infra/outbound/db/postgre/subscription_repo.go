package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/davicafu/casillero/internal/notifica/domain"
)

// SubscriptionRepoPostgres es la vista de lectura de suscripciones. La columna
// config es JSONB con la suscripción completa; la escribe el admin.
type SubscriptionRepoPostgres struct {
	db *sql.DB
}

func NewSubscriptionRepoPostgres(db *sql.DB) *SubscriptionRepoPostgres {
	return &SubscriptionRepoPostgres{db: db}
}

func (r *SubscriptionRepoPostgres) GetByID(ctx context.Context, id uuid.UUID) (*domain.Subscription, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT config FROM suscripciones WHERE id = $1`, id)

	var raw []byte
	if err := row.Scan(&raw); err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrSubscriptionNotFound
		}
		return nil, err
	}
	return unmarshalSubscription(raw)
}

func (r *SubscriptionRepoPostgres) ListActive(ctx context.Context) ([]*domain.Subscription, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT config FROM suscripciones WHERE active`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanSubscriptions(rows)
}

func (r *SubscriptionRepoPostgres) ListActiveByCasilla(ctx context.Context, casillaID uuid.UUID) ([]*domain.Subscription, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT config FROM suscripciones WHERE active AND casilla_id = $1`, casillaID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanSubscriptions(rows)
}

func scanSubscriptions(rows *sql.Rows) ([]*domain.Subscription, error) {
	var subs []*domain.Subscription
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		sub, err := unmarshalSubscription(raw)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

func unmarshalSubscription(raw []byte) (*domain.Subscription, error) {
	var sub domain.Subscription
	if err := json.Unmarshal(raw, &sub); err != nil {
		return nil, fmt.Errorf("invalid subscription JSON in DB: %w", err)
	}
	return &sub, nil
}

// Verificación estática de la interfaz.
var _ domain.SubscriptionRepository = (*SubscriptionRepoPostgres)(nil)
