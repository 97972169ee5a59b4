package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	// _ "github.com/mattn/go-sqlite3" // better performance but requires gcc
	_ "modernc.org/sqlite"

	"github.com/davicafu/casillero/internal/notifica/domain"
)

type EventRepoSQLite struct {
	db *sql.DB
}

func NewEventRepoSQLite(db *sql.DB) *EventRepoSQLite {
	return &EventRepoSQLite{db: db}
}

func (r *EventRepoSQLite) Insert(ctx context.Context, evt *domain.Event) error {
	var emisorID, execID interface{}
	if evt.EmisorID != nil {
		emisorID = evt.EmisorID.String()
	}
	if evt.ExecutionID != nil {
		execID = evt.ExecutionID.String()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO eventos (id,casilla_id,emisor_id,ejecucion_id,tipo,mensaje,detalle,processed,created_at)
		 VALUES (?,?,?,?,?,?,?,0,?)`,
		evt.ID.String(), evt.CasillaID.String(), emisorID, execID,
		string(evt.Type), evt.Message, string(evt.Detail), evt.CreatedAt)
	return err
}

func (r *EventRepoSQLite) FetchUnprocessed(ctx context.Context, limit int) ([]*domain.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT id,casilla_id,emisor_id,ejecucion_id,tipo,mensaje,detalle,processed,processed_at,created_at
		 FROM eventos WHERE processed = 0 ORDER BY created_at ASC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEvents(rows)
}

func (r *EventRepoSQLite) MarkProcessed(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE eventos SET processed = 1, processed_at = ? WHERE id = ?`, at, id.String())
	return err
}

func (r *EventRepoSQLite) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]*domain.Event, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(ids))
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id.String()
	}

	query := fmt.Sprintf(
		`SELECT id,casilla_id,emisor_id,ejecucion_id,tipo,mensaje,detalle,processed,processed_at,created_at
		 FROM eventos WHERE id IN (%s) ORDER BY created_at ASC`,
		strings.Join(placeholders, ","))

	rows, err := r.db.QueryContext(ctx, query, args...)
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
		var idStr, casillaStr string
		var emisorStr, execStr sql.NullString
		var detail sql.NullString
		var processedAt sql.NullTime

		if err := rows.Scan(&idStr, &casillaStr, &emisorStr, &execStr,
			&e.Type, &e.Message, &detail, &e.Processed, &processedAt, &e.CreatedAt); err != nil {
			return nil, err
		}

		id, err := uuid.Parse(idStr)
		if err != nil {
			return nil, fmt.Errorf("invalid UUID in DB: %w", err)
		}
		e.ID = id

		casillaID, err := uuid.Parse(casillaStr)
		if err != nil {
			return nil, fmt.Errorf("invalid UUID in DB: %w", err)
		}
		e.CasillaID = casillaID

		if emisorStr.Valid {
			emisorID, err := uuid.Parse(emisorStr.String)
			if err != nil {
				return nil, fmt.Errorf("invalid UUID in DB: %w", err)
			}
			e.EmisorID = &emisorID
		}
		if execStr.Valid {
			execID, err := uuid.Parse(execStr.String)
			if err != nil {
				return nil, fmt.Errorf("invalid UUID in DB: %w", err)
			}
			e.ExecutionID = &execID
		}
		if detail.Valid && detail.String != "" {
			e.Detail = json.RawMessage(detail.String)
		}
		if processedAt.Valid {
			e.ProcessedAt = &processedAt.Time
		}

		events = append(events, &e)
	}
	return events, rows.Err()
}

// Verificación estática de la interfaz.
var _ domain.EventRepository = (*EventRepoSQLite)(nil)
