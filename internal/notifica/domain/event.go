package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType clasifica una ocurrencia derivada de una ejecución (o del propio
// pipeline, en el caso de delay).
type EventType string

const (
	EventError   EventType = "error"
	EventWarning EventType = "warning"
	EventMessage EventType = "message"
	EventSuccess EventType = "success"
	EventDelay   EventType = "delay"
	EventOther   EventType = "other"
)

// Event es una ocurrencia tipada con ámbito de casilla. Nace processed=false;
// el motor de fan-out lo marca tras intentar todas las suscripciones.
type Event struct {
	ID          uuid.UUID       `json:"id"`
	CasillaID   uuid.UUID       `json:"casilla_id"`
	EmisorID    *uuid.UUID      `json:"emisor_id,omitempty"`
	ExecutionID *uuid.UUID      `json:"ejecucion_id,omitempty"`
	Type        EventType       `json:"tipo"`
	Message     string          `json:"mensaje"`
	Detail      json.RawMessage `json:"detalle,omitempty"` // desglose por regla, JSON
	Processed   bool            `json:"procesado"`
	ProcessedAt *time.Time      `json:"procesado_en,omitempty"`
	CreatedAt   time.Time       `json:"creado_en"`
}

// ValidEventType comprueba pertenencia al conjunto cerrado.
func ValidEventType(t EventType) bool {
	switch t {
	case EventError, EventWarning, EventMessage, EventSuccess, EventDelay, EventOther:
		return true
	}
	return false
}
