package events

import (
	"encoding/json"
	"time"
)

// Base de todos los eventos de integración que salen del pipeline hacia
// consumidores externos (admin UI, auditoría).
type IntegrationEvent struct {
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"` // contenido específico del evento
}

// Tipos de evento de integración publicados por el pipeline.
const (
	EjecucionRegistrada = "ejecucion.registrada"
	NotificacionEnviada = "notificacion.enviada"
)

// PipelineTopic es el topic por defecto del pipeline.
const PipelineTopic = "casillero-ejecuciones"
