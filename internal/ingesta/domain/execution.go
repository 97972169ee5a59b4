package domain

import (
	"time"

	"github.com/google/uuid"
)

// Arrival es la unidad de trabajo normalizada que produce cualquier canal.
type Arrival struct {
	CasillaID  uuid.UUID  `json:"casilla_id"`
	EmisorID   *uuid.UUID `json:"emisor_id,omitempty"`
	SenderHint string     `json:"sender_hint,omitempty"` // dirección/cuenta origen, si el canal la conoce
	Canal      Canal      `json:"canal"`
	Filename   string     `json:"fichero"`
	Payload    []byte     `json:"-"`
	ReceivedAt time.Time  `json:"recibido_en"`
}

// ExecutionStatus es el desenlace de una evaluación.
type ExecutionStatus string

const (
	// StatusSuccess: ninguna regla error falló.
	StatusSuccess ExecutionStatus = "success"
	// StatusPartial: la evaluación terminó pero fallaron reglas error.
	StatusPartial ExecutionStatus = "partial"
	// StatusFailed: la evaluación no pudo completarse (fichero ilegible,
	// esquema roto).
	StatusFailed ExecutionStatus = "failed"
)

// Execution es el registro inmutable de un intento de validación. Se crea una
// vez al terminar la evaluación y nunca se actualiza (log append-only).
// ErrorCount/WarningCount cuentan reglas fallidas, no filas.
type Execution struct {
	ID           uuid.UUID       `json:"id"`
	CasillaID    uuid.UUID       `json:"casilla_id"`
	EmisorID     *uuid.UUID      `json:"emisor_id,omitempty"`
	Canal        Canal           `json:"canal"`
	Filename     string          `json:"fichero"`
	StoragePath  string          `json:"ruta_almacen,omitempty"`
	Status       ExecutionStatus `json:"estado"`
	ErrorCount   int             `json:"errores"`
	WarningCount int             `json:"avisos"`
	CreatedAt    time.Time       `json:"creado_en"`
}

// ExecutionFilter acota las consultas de solo lectura sobre el log.
type ExecutionFilter struct {
	CasillaID *uuid.UUID
	EmisorID  *uuid.UUID
	Status    *ExecutionStatus
	Since     *time.Time
	Limit     int
	Offset    int
}
