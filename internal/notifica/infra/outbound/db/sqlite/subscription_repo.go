package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/davicafu/casillero/internal/notifica/domain"
)

// SubscriptionRepoSQLite es la vista de lectura de suscripciones. La columna
// config guarda la suscripción completa en JSON: las escribe el admin y aquí
// solo se deserializan.
type SubscriptionRepoSQLite struct {
	db *sql.DB
}

func NewSubscriptionRepoSQLite(db *sql.DB) *SubscriptionRepoSQLite {
	return &SubscriptionRepoSQLite{db: db}
}

func (r *SubscriptionRepoSQLite) GetByID(ctx context.Context, id uuid.UUID) (*domain.Subscription, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT config FROM suscripciones WHERE id = ?`, id.String())

	var raw string
	if err := row.Scan(&raw); err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrSubscriptionNotFound
		}
		return nil, err
	}
	return unmarshalSubscription(raw)
}

func (r *SubscriptionRepoSQLite) ListActive(ctx context.Context) ([]*domain.Subscription, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT config FROM suscripciones WHERE active = 1`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanSubscriptions(rows)
}

func (r *SubscriptionRepoSQLite) ListActiveByCasilla(ctx context.Context, casillaID uuid.UUID) ([]*domain.Subscription, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT config FROM suscripciones WHERE active = 1 AND casilla_id = ?`, casillaID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanSubscriptions(rows)
}

// Seed inserta o reemplaza una suscripción (despliegues locales y tests). La
// suscripción se valida antes de persistirse: una config rota nunca entra.
func (r *SubscriptionRepoSQLite) Seed(ctx context.Context, sub *domain.Subscription) error {
	if err := sub.Validate(); err != nil {
		return err
	}
	raw, err := json.Marshal(sub)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO suscripciones (id, casilla_id, active, config) VALUES (?,?,?,?)`,
		sub.ID.String(), sub.CasillaID.String(), sub.Active, string(raw))
	return err
}

func scanSubscriptions(rows *sql.Rows) ([]*domain.Subscription, error) {
	var subs []*domain.Subscription
	for rows.Next() {
		var raw string
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

func unmarshalSubscription(raw string) (*domain.Subscription, error) {
	var sub domain.Subscription
	if err := json.Unmarshal([]byte(raw), &sub); err != nil {
		return nil, fmt.Errorf("invalid subscription JSON in DB: %w", err)
	}
	return &sub, nil
}

// Verificación estática de la interfaz.
var _ domain.SubscriptionRepository = (*SubscriptionRepoSQLite)(nil)
