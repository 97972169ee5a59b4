package domain

import (
	"time"

	"github.com/google/uuid"
)

// NotificationStatus es el estado de entrega de una notificación.
type NotificationStatus string

const (
	NotificationPending NotificationStatus = "pending"
	NotificationSent    NotificationStatus = "sent"
	NotificationError   NotificationStatus = "error"
)

// Notification es un mensaje saliente por (suscripción, lote de eventos).
// El lote queda fijado al crearla; un fallo de entrega se reintenta desde el
// dispatcher, nunca re-loteando.
type Notification struct {
	ID             uuid.UUID          `json:"id"`
	SubscriptionID uuid.UUID          `json:"subscription_id"`
	CasillaID      uuid.UUID          `json:"casilla_id"`
	EventIDs       []uuid.UUID        `json:"event_ids"`
	EventCount     int                `json:"cantidad_eventos"`
	Subject        string             `json:"asunto"`
	Summary        string             `json:"resumen"`
	Status         NotificationStatus `json:"estado"`
	Attempts       int                `json:"intentos"`
	LastError      string             `json:"ultimo_error,omitempty"`
	NextAttemptAt  *time.Time         `json:"proximo_intento,omitempty"`
	// Detalle específico de entrega (código de respuesta webhook, etc.).
	ResponseCode int        `json:"codigo_respuesta,omitempty"`
	CreatedAt    time.Time  `json:"creado_en"`
	SentAt       *time.Time `json:"enviado_en,omitempty"`
}
