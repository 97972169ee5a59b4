package domain

import (
	"time"

	"github.com/google/uuid"
)

// PendingEvent liga un Event con una Subscription a la espera de lote.
// Invariante del sistema: como mucho un PendingEvent por par
// (event_id, subscription_id); la inserción es insert-if-absent atómica y un
// conflicto se ignora en silencio (es el mecanismo de dedup, no un error).
//
// Máquina de estados: pending → batched (Notification creada) → processed.
// Attempts/LastError los incrementa el dispatcher, no el batcher.
type PendingEvent struct {
	ID             uuid.UUID  `json:"id"`
	EventID        uuid.UUID  `json:"event_id"`
	SubscriptionID uuid.UUID  `json:"subscription_id"`
	CreatedAt      time.Time  `json:"creado_en"`
	ScheduledFor   *time.Time `json:"programado_para,omitempty"` // derivado de la frecuencia
	Processed      bool       `json:"procesado"`
	NotificationID *uuid.UUID `json:"notificacion_id,omitempty"`
}
