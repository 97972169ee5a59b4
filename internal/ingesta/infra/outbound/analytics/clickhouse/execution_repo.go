package clickhouse

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"

	"github.com/davicafu/casillero/internal/ingesta/domain"
)

// DailyIngestTrend agrega las ejecuciones de un día.
type DailyIngestTrend struct {
	Day          time.Time
	Total        uint64
	SuccessCount uint64
	PartialCount uint64
	FailedCount  uint64
}

// ExecutionAnalyticsRepo vuelca el log de ejecuciones a ClickHouse para
// consultas de tendencia (errores por casilla, volumen por emisor).
type ExecutionAnalyticsRepo struct {
	db *sql.DB
}

func NewExecutionAnalyticsRepo(addr string, dbName string) (*ExecutionAnalyticsRepo, error) {
	conn := clickhouse.OpenDB(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: dbName,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
	})

	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("could not ping clickhouse: %w", err)
	}

	return &ExecutionAnalyticsRepo{db: conn}, nil
}

// LogBatch inserta un lote de ejecuciones. ClickHouse funciona mejor con
// inserciones en lotes.
func (r *ExecutionAnalyticsRepo) LogBatch(ctx context.Context, execs []*domain.Execution) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO ejecuciones_log (id, casilla_id, emisor_id, canal, fichero, estado, errores, avisos, created_at, event_time)")
	if err != nil {
		return err
	}
	defer stmt.Close()

	eventTime := time.Now()
	for _, exec := range execs {
		emisorID := ""
		if exec.EmisorID != nil {
			emisorID = exec.EmisorID.String()
		}
		if _, err := stmt.ExecContext(
			ctx,
			exec.ID,
			exec.CasillaID,
			emisorID,
			string(exec.Canal),
			exec.Filename,
			string(exec.Status),
			exec.ErrorCount,
			exec.WarningCount,
			exec.CreatedAt,
			eventTime,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to exec statement for execution %s: %w", exec.ID, err)
		}
	}

	return tx.Commit()
}

// GetDailyTrend devuelve el volumen diario por desenlace en un rango.
func (r *ExecutionAnalyticsRepo) GetDailyTrend(ctx context.Context, start, end time.Time) ([]DailyIngestTrend, error) {
	query := `
		SELECT
			toStartOfDay(created_at) AS day,
			count() AS total,
			countIf(estado = 'success') AS ok,
			countIf(estado = 'partial') AS partial,
			countIf(estado = 'failed') AS failed
		FROM ejecuciones_log
		WHERE created_at BETWEEN ? AND ?
		GROUP BY day
		ORDER BY day
	`
	rows, err := r.db.QueryContext(ctx, query, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trends []DailyIngestTrend
	for rows.Next() {
		var t DailyIngestTrend
		if err := rows.Scan(&t.Day, &t.Total, &t.SuccessCount, &t.PartialCount, &t.FailedCount); err != nil {
			return nil, err
		}
		trends = append(trends, t)
	}
	return trends, rows.Err()
}

// GetErrorRateByCasilla devuelve la fracción de ejecuciones con errores por
// casilla en un rango.
func (r *ExecutionAnalyticsRepo) GetErrorRateByCasilla(ctx context.Context, start, end time.Time) (map[string]float64, error) {
	query := `
		SELECT
			toString(casilla_id) AS casilla,
			countIf(estado != 'success') / count() AS error_rate
		FROM ejecuciones_log
		WHERE created_at BETWEEN ? AND ?
		GROUP BY casilla
	`
	rows, err := r.db.QueryContext(ctx, query, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	rates := make(map[string]float64)
	for rows.Next() {
		var casilla string
		var rate float64
		if err := rows.Scan(&casilla, &rate); err != nil {
			return nil, err
		}
		rates[casilla] = rate
	}
	return rates, rows.Err()
}

// InitSchema crea la tabla en ClickHouse si no existe.
func (r *ExecutionAnalyticsRepo) InitSchema() error {
	// Particionada por mes y ordenada por los campos habituales de consulta.
	query := `
		CREATE TABLE IF NOT EXISTS ejecuciones_log (
			id          UUID,
			casilla_id  UUID,
			emisor_id   String,
			canal       String,
			fichero     String,
			estado      String,
			errores     UInt32,
			avisos      UInt32,
			created_at  DateTime64(3),
			event_time  DateTime64(3)
		) ENGINE = MergeTree()
		PARTITION BY toYYYYMM(event_time)
		ORDER BY (casilla_id, estado, event_time);
	`
	_, err := r.db.Exec(query)
	return err
}
