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

	"github.com/davicafu/casillero/internal/ingesta/domain"
	notifica "github.com/davicafu/casillero/internal/notifica/domain"
)

type ExecutionRepoSQLite struct {
	db *sql.DB
}

func NewExecutionRepoSQLite(db *sql.DB) *ExecutionRepoSQLite {
	return &ExecutionRepoSQLite{db: db}
}

// ------------------ Helper DRY para insertar eventos ------------------

func insertEventTx(ctx context.Context, tx *sql.Tx, evt *notifica.Event) error {
	var emisorID, execID interface{}
	if evt.EmisorID != nil {
		emisorID = evt.EmisorID.String()
	}
	if evt.ExecutionID != nil {
		execID = evt.ExecutionID.String()
	}

	_, err := tx.ExecContext(ctx,
		`INSERT INTO eventos (id,casilla_id,emisor_id,ejecucion_id,tipo,mensaje,detalle,processed,created_at)
		 VALUES (?,?,?,?,?,?,?,0,?)`,
		evt.ID.String(), evt.CasillaID.String(), emisorID, execID,
		string(evt.Type), evt.Message, string(evt.Detail), evt.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	return nil
}

// ------------------ Métodos ------------------

// Create inserta la ejecución y sus eventos en una transacción. Los eventos
// nacen sin procesar; el fan-out los drena después.
func (r *ExecutionRepoSQLite) Create(ctx context.Context, exec *domain.Execution, events []*notifica.Event) error {
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
		emisorID = exec.EmisorID.String()
	}

	if _, err = tx.ExecContext(ctx,
		`INSERT INTO ejecuciones (id,casilla_id,emisor_id,canal,fichero,ruta_almacen,estado,errores,avisos,created_at)
		 VALUES (?,?,?,?,?,?,?,?,?,?)`,
		exec.ID.String(), exec.CasillaID.String(), emisorID, string(exec.Canal),
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

func (r *ExecutionRepoSQLite) GetByID(ctx context.Context, id uuid.UUID) (*domain.Execution, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id,casilla_id,emisor_id,canal,fichero,ruta_almacen,estado,errores,avisos,created_at
		 FROM ejecuciones WHERE id = ?`, id.String())

	exec, err := scanExecution(row)
	if err == sql.ErrNoRows {
		return nil, domain.ErrExecutionNotFound
	}
	return exec, err
}

func (r *ExecutionRepoSQLite) List(ctx context.Context, f domain.ExecutionFilter) ([]*domain.Execution, error) {
	var args []interface{}
	var conditions []string

	if f.CasillaID != nil {
		conditions = append(conditions, "casilla_id = ?")
		args = append(args, f.CasillaID.String())
	}
	if f.EmisorID != nil {
		conditions = append(conditions, "emisor_id = ?")
		args = append(args, f.EmisorID.String())
	}
	if f.Status != nil {
		conditions = append(conditions, "estado = ?")
		args = append(args, string(*f.Status))
	}
	if f.Since != nil {
		conditions = append(conditions, "created_at >= ?")
		args = append(args, *f.Since)
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}

	query := fmt.Sprintf(`SELECT id,casilla_id,emisor_id,canal,fichero,ruta_almacen,estado,errores,avisos,created_at
		FROM ejecuciones %s ORDER BY created_at DESC LIMIT ? OFFSET ?`, where)
	args = append(args, limit, f.Offset)

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
	var idStr, casillaStr string
	var emisorStr sql.NullString

	if err := row.Scan(&idStr, &casillaStr, &emisorStr, &e.Canal, &e.Filename,
		&e.StoragePath, &e.Status, &e.ErrorCount, &e.WarningCount, &e.CreatedAt); err != nil {
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

	return &e, nil
}

// ------------------ Inicialización de DB ------------------

// InitSQLite crea las tablas de ingesta si no existen
func InitSQLite(db *sql.DB) error {
	_, err := db.Exec(`
        CREATE TABLE IF NOT EXISTS casillas (
            id TEXT PRIMARY KEY,
            nombre TEXT NOT NULL,
            instalacion_id TEXT NOT NULL,
            active BOOLEAN NOT NULL DEFAULT 1,
            inbound_address TEXT NOT NULL DEFAULT '',
            api_endpoint TEXT NOT NULL DEFAULT '',
            rule_spec BLOB NOT NULL,
            last_heartbeat DATETIME
        )
    `)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
        CREATE TABLE IF NOT EXISTS emisores (
            id TEXT PRIMARY KEY,
            nombre TEXT NOT NULL,
            organizacion TEXT NOT NULL DEFAULT '',
            tipo TEXT NOT NULL DEFAULT 'otro'
        )
    `)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
        CREATE TABLE IF NOT EXISTS emisor_canales (
            emisor_id TEXT NOT NULL,
            casilla_id TEXT NOT NULL,
            canal TEXT NOT NULL,
            authorized_addresses TEXT NOT NULL DEFAULT '[]',
            remote_directory TEXT NOT NULL DEFAULT '',
            api_key TEXT NOT NULL DEFAULT '',
            frecuencia TEXT,
            active BOOLEAN NOT NULL DEFAULT 1,
            PRIMARY KEY (emisor_id, casilla_id, canal)
        )
    `)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
        CREATE TABLE IF NOT EXISTS ejecuciones (
            id TEXT PRIMARY KEY,
            casilla_id TEXT NOT NULL,
            emisor_id TEXT,
            canal TEXT NOT NULL,
            fichero TEXT NOT NULL,
            ruta_almacen TEXT NOT NULL DEFAULT '',
            estado TEXT NOT NULL,
            errores INTEGER NOT NULL DEFAULT 0,
            avisos INTEGER NOT NULL DEFAULT 0,
            created_at DATETIME NOT NULL
        )
    `)
	if err != nil {
		return err
	}

	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_ejecuciones_casilla ON ejecuciones (casilla_id, created_at)`)
	return err
}

// ------------------ Directorio de casillas ------------------

// CasillaDirectorySQLite es la vista de lectura sobre la configuración del
// admin. Solo muta el heartbeat; el resto lo escribe la herramienta de
// administración (o el seed local).
type CasillaDirectorySQLite struct {
	db *sql.DB
}

func NewCasillaDirectorySQLite(db *sql.DB) *CasillaDirectorySQLite {
	return &CasillaDirectorySQLite{db: db}
}

func (d *CasillaDirectorySQLite) GetCasilla(ctx context.Context, id uuid.UUID) (*domain.Casilla, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT id,nombre,instalacion_id,active,inbound_address,api_endpoint,rule_spec,last_heartbeat
		 FROM casillas WHERE id = ?`, id.String())

	c, err := scanCasilla(row)
	if err == sql.ErrNoRows {
		return nil, domain.ErrCasillaNotFound
	}
	return c, err
}

func (d *CasillaDirectorySQLite) ListActiveCasillas(ctx context.Context) ([]*domain.Casilla, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT id,nombre,instalacion_id,active,inbound_address,api_endpoint,rule_spec,last_heartbeat
		 FROM casillas WHERE active = 1 ORDER BY nombre`)
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

func (d *CasillaDirectorySQLite) ListCanales(ctx context.Context, casillaID uuid.UUID, canal domain.Canal) ([]*domain.EmisorCanal, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT emisor_id,casilla_id,canal,authorized_addresses,remote_directory,api_key,frecuencia,active
		 FROM emisor_canales WHERE casilla_id = ? AND canal = ?`,
		casillaID.String(), string(canal))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var canales []*domain.EmisorCanal
	for rows.Next() {
		var ec domain.EmisorCanal
		var emisorStr, casillaStr, addrsJSON string
		var frecJSON sql.NullString

		if err := rows.Scan(&emisorStr, &casillaStr, &ec.Canal, &addrsJSON,
			&ec.RemoteDirectory, &ec.APIKey, &frecJSON, &ec.Active); err != nil {
			return nil, err
		}

		emisorID, err := uuid.Parse(emisorStr)
		if err != nil {
			return nil, fmt.Errorf("invalid UUID in DB: %w", err)
		}
		ec.EmisorID = emisorID

		cID, err := uuid.Parse(casillaStr)
		if err != nil {
			return nil, fmt.Errorf("invalid UUID in DB: %w", err)
		}
		ec.CasillaID = cID

		if err := json.Unmarshal([]byte(addrsJSON), &ec.AuthorizedAddresses); err != nil {
			return nil, fmt.Errorf("invalid addresses JSON in DB: %w", err)
		}
		if frecJSON.Valid && frecJSON.String != "" {
			var f domain.FrecuenciaEntrega
			if err := json.Unmarshal([]byte(frecJSON.String), &f); err != nil {
				return nil, fmt.Errorf("invalid frecuencia JSON in DB: %w", err)
			}
			ec.Frecuencia = &f
		}

		canales = append(canales, &ec)
	}
	return canales, rows.Err()
}

func (d *CasillaDirectorySQLite) TouchHeartbeat(ctx context.Context, casillaID uuid.UUID, at time.Time) error {
	res, err := d.db.ExecContext(ctx,
		`UPDATE casillas SET last_heartbeat = ? WHERE id = ?`, at, casillaID.String())
	if err != nil {
		return err
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return domain.ErrCasillaNotFound
	}
	return nil
}

// ------------------ Seed local ------------------

// SeedCasilla inserta o reemplaza una casilla (despliegues locales y tests).
func (d *CasillaDirectorySQLite) SeedCasilla(ctx context.Context, c *domain.Casilla) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO casillas (id,nombre,instalacion_id,active,inbound_address,api_endpoint,rule_spec,last_heartbeat)
		 VALUES (?,?,?,?,?,?,?,?)`,
		c.ID.String(), c.Nombre, c.InstalacionID.String(), c.Active,
		c.InboundAddress, c.APIEndpoint, c.RuleSpec, c.LastHeartbeat)
	return err
}

// SeedCanal inserta o reemplaza un canal de emisor.
func (d *CasillaDirectorySQLite) SeedCanal(ctx context.Context, ec *domain.EmisorCanal) error {
	addrs, err := json.Marshal(ec.AuthorizedAddresses)
	if err != nil {
		return err
	}
	var frec interface{}
	if ec.Frecuencia != nil {
		raw, err := json.Marshal(ec.Frecuencia)
		if err != nil {
			return err
		}
		frec = string(raw)
	}
	_, err = d.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO emisor_canales (emisor_id,casilla_id,canal,authorized_addresses,remote_directory,api_key,frecuencia,active)
		 VALUES (?,?,?,?,?,?,?,?)`,
		ec.EmisorID.String(), ec.CasillaID.String(), string(ec.Canal),
		string(addrs), ec.RemoteDirectory, ec.APIKey, frec, ec.Active)
	return err
}

func scanCasilla(row rowScanner) (*domain.Casilla, error) {
	var c domain.Casilla
	var idStr, instStr string
	var heartbeat sql.NullTime

	if err := row.Scan(&idStr, &c.Nombre, &instStr, &c.Active,
		&c.InboundAddress, &c.APIEndpoint, &c.RuleSpec, &heartbeat); err != nil {
		return nil, err
	}

	id, err := uuid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("invalid UUID in DB: %w", err)
	}
	c.ID = id

	instID, err := uuid.Parse(instStr)
	if err != nil {
		return nil, fmt.Errorf("invalid UUID in DB: %w", err)
	}
	c.InstalacionID = instID

	if heartbeat.Valid {
		c.LastHeartbeat = heartbeat.Time
	}
	return &c, nil
}
