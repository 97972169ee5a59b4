package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/davicafu/casillero/internal/ingesta/domain"
	notifica "github.com/davicafu/casillero/internal/notifica/domain"
)

type ExecutionRepoPostgres struct {
	db *sql.DB
}

func NewExecutionRepoPostgres(db *sql.DB) *ExecutionRepoPostgres {
	return &ExecutionRepoPostgres{db: db}
}

// ------------------ Helper DRY para insertar eventos ------------------

func insertEventTx(ctx context.Context, tx *sql.Tx, evt *notifica.Event) error {
	var emisorID, execID interface{}
	if evt.EmisorID != nil {
		emisorID = *evt.EmisorID
	}
	if evt.ExecutionID != nil {
		execID = *evt.ExecutionID
	}

	_, err := tx.ExecContext(ctx,
		`INSERT INTO eventos (id, casilla_id, emisor_id, ejecucion_id, tipo, mensaje, detalle, processed, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, false, $8)`,
		evt.ID, evt.CasillaID, emisorID, execID,
		string(evt.Type), evt.Message, []byte(evt.Detail), evt.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	return nil
}

// ------------------ Métodos ------------------

// Create inserta la ejecución y sus eventos en transacción
func (r *ExecutionRepoPostgres) Create(ctx context.Context, exec *domain.Execution, events []*notifica.Event) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var emisorID interface{}
	if exec.EmisorID != nil {
		emisorID = *exec.EmisorID
	}

	if _, err = tx.ExecContext(ctx,
		`INSERT INTO ejecuciones (id, casilla_id, emisor_id, canal, fichero, ruta_almacen, estado, errores, avisos, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		exec.ID, exec.CasillaID, emisorID, string(exec.Canal),
		exec.Filename, exec.StoragePath, string(exec.Status),
		exec.ErrorCount, exec.WarningCount, exec.CreatedAt,
	); err != nil {
		return err
	}

	for _, evt := range events {
		if err = insertEventTx(ctx, tx, evt); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (r *ExecutionRepoPostgres) GetByID(ctx context.Context, id uuid.UUID) (*domain.Execution, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, casilla_id, emisor_id, canal, fichero, ruta_almacen, estado, errores, avisos, created_at
		 FROM ejecuciones WHERE id = $1`, id)

	exec, err := scanExecution(row)
	if err == sql.ErrNoRows {
		return nil, domain.ErrExecutionNotFound
	}
	return exec, err
}

func (r *ExecutionRepoPostgres) List(ctx context.Context, f domain.ExecutionFilter) ([]*domain.Execution, error) {
	var args []interface{}
	var conditions []string

	addArg := func(cond string, val interface{}) {
		args = append(args, val)
		conditions = append(conditions, fmt.Sprintf(cond, len(args)))
	}

	if f.CasillaID != nil {
		addArg("casilla_id = $%d", *f.CasillaID)
	}
	if f.EmisorID != nil {
		addArg("emisor_id = $%d", *f.EmisorID)
	}
	if f.Status != nil {
		addArg("estado = $%d", string(*f.Status))
	}
	if f.Since != nil {
		addArg("created_at >= $%d", *f.Since)
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit, f.Offset)

	query := fmt.Sprintf(`SELECT id, casilla_id, emisor_id, canal, fichero, ruta_almacen, estado, errores, avisos, created_at
		FROM ejecuciones %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		where, len(args)-1, len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var execs []*domain.Execution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		execs = append(execs, exec)
	}
	return execs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanExecution(row rowScanner) (*domain.Execution, error) {
	var e domain.Execution
	var emisorID uuid.NullUUID

	if err := row.Scan(&e.ID, &e.CasillaID, &emisorID, &e.Canal, &e.Filename,
		&e.StoragePath, &e.Status, &e.ErrorCount, &e.WarningCount, &e.CreatedAt); err != nil {
		return nil, err
	}
	if emisorID.Valid {
		id := emisorID.UUID
		e.EmisorID = &id
	}
	return &e, nil
}

// ------------------ Directorio de casillas ------------------

type CasillaDirectoryPostgres struct {
	db *sql.DB
}

func NewCasillaDirectoryPostgres(db *sql.DB) *CasillaDirectoryPostgres {
	return &CasillaDirectoryPostgres{db: db}
}

func (d *CasillaDirectoryPostgres) GetCasilla(ctx context.Context, id uuid.UUID) (*domain.Casilla, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT id, nombre, instalacion_id, active, inbound_address, api_endpoint, rule_spec, last_heartbeat
		 FROM casillas WHERE id = $1`, id)

	c, err := scanCasilla(row)
	if err == sql.ErrNoRows {
		return nil, domain.ErrCasillaNotFound
	}
	return c, err
}

func (d *CasillaDirectoryPostgres) ListActiveCasillas(ctx context.Context) ([]*domain.Casilla, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT id, nombre, instalacion_id, active, inbound_address, api_endpoint, rule_spec, last_heartbeat
		 FROM casillas WHERE active ORDER BY nombre`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var casillas []*domain.Casilla
	for rows.Next() {
		c, err := scanCasilla(rows)
		if err != nil {
			return nil, err
		}
		casillas = append(casillas, c)
	}
	return casillas, rows.Err()
}

func (d *CasillaDirectoryPostgres) ListCanales(ctx context.Context, casillaID uuid.UUID, canal domain.Canal) ([]*domain.EmisorCanal, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT emisor_id, casilla_id, canal, authorized_addresses, remote_directory, api_key, frecuencia, active
		 FROM emisor_canales WHERE casilla_id = $1 AND canal = $2`, casillaID, string(canal))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var canales []*domain.EmisorCanal
	for rows.Next() {
		var ec domain.EmisorCanal
		var addrsJSON []byte
		var frecJSON []byte

		if err := rows.Scan(&ec.EmisorID, &ec.CasillaID, &ec.Canal, &addrsJSON,
			&ec.RemoteDirectory, &ec.APIKey, &frecJSON, &ec.Active); err != nil {
			return nil, err
		}

		if err := json.Unmarshal(addrsJSON, &ec.AuthorizedAddresses); err != nil {
			return nil, fmt.Errorf("invalid addresses JSON in DB: %w", err)
		}
		if len(frecJSON) > 0 {
			var f domain.FrecuenciaEntrega
			if err := json.Unmarshal(frecJSON, &f); err != nil {
				return nil, fmt.Errorf("invalid frecuencia JSON in DB: %w", err)
			}
			ec.Frecuencia = &f
		}

		canales = append(canales, &ec)
	}
	return canales, rows.Err()
}

func (d *CasillaDirectoryPostgres) TouchHeartbeat(ctx context.Context, casillaID uuid.UUID, at time.Time) error {
	res, err := d.db.ExecContext(ctx,
		`UPDATE casillas SET last_heartbeat = $1 WHERE id = $2`, at, casillaID)
	if err != nil {
		return err
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return domain.ErrCasillaNotFound
	}
	return nil
}

func scanCasilla(row rowScanner) (*domain.Casilla, error) {
	var c domain.Casilla
	var heartbeat sql.NullTime

	if err := row.Scan(&c.ID, &c.Nombre, &c.InstalacionID, &c.Active,
		&c.InboundAddress, &c.APIEndpoint, &c.RuleSpec, &heartbeat); err != nil {
		return nil, err
	}
	if heartbeat.Valid {
		c.LastHeartbeat = heartbeat.Time
	}
	return &c, nil
}
