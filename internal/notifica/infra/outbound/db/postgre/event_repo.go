package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/davicafu/casillero/internal/notifica/domain"
)

type EventRepoPostgres struct {
	db *sql.DB
}

func NewEventRepoPostgres(db *sql.DB) *EventRepoPostgres {
	return &EventRepoPostgres{db: db}
}

func (r *EventRepoPostgres) Insert(ctx context.Context, evt *domain.Event) error {
	var emisorID, execID interface{}
	if evt.EmisorID != nil {
		emisorID = *evt.EmisorID
	}
	if evt.ExecutionID != nil {
		execID = *evt.ExecutionID
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO eventos (id, casilla_id, emisor_id, ejecucion_id, tipo, mensaje, detalle, processed, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, false, $8)`,
		evt.ID, evt.CasillaID, emisorID, execID,
		string(evt.Type), evt.Message, []byte(evt.Detail), evt.CreatedAt)
	return err
}

func (r *EventRepoPostgres) FetchUnprocessed(ctx context.Context, limit int) ([]*domain.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, casilla_id, emisor_id, ejecucion_id, tipo, mensaje, detalle, processed, processed_at, created_at
		 FROM eventos WHERE NOT processed ORDER BY created_at ASC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEvents(rows)
}

func (r *EventRepoPostgres) MarkProcessed(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE eventos SET processed = true, processed_at = $1 WHERE id = $2`, at, id)
	return err
}

func (r *EventRepoPostgres) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]*domain.Event, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	idStrs := make([]string, len(ids))
	for i, id := range ids {
		idStrs[i] = id.String()
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, casilla_id, emisor_id, ejecucion_id, tipo, mensaje, detalle, processed, processed_at, created_at
		 FROM eventos WHERE id = ANY($1::uuid[]) ORDER BY created_at ASC`, idStrs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]*domain.Event, error) {
	var events []*domain.Event
	for rows.Next() {
		var e domain.Event
		var emisorID, execID uuid.NullUUID
		var detail []byte
		var processedAt sql.NullTime

		if err := rows.Scan(&e.ID, &e.CasillaID, &emisorID, &execID,
			&e.Type, &e.Message, &detail, &e.Processed, &processedAt, &e.CreatedAt); err != nil {
			return nil, err
		}
		if emisorID.Valid {
			id := emisorID.UUID
			e.EmisorID = &id
		}
		if execID.Valid {
			id := execID.UUID
			e.ExecutionID = &id
		}
		if len(detail) > 0 {
			e.Detail = json.RawMessage(detail)
		}
		if processedAt.Valid {
			e.ProcessedAt = &processedAt.Time
		}
		events = append(events, &e)
	}
	return events, rows.Err()
}

// Verificación estática de la interfaz.
var _ domain.EventRepository = (*EventRepoPostgres)(nil)
