package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Frequency es la cadencia de envío de una suscripción.
type Frequency string

const (
	FrequencyImmediate Frequency = "immediate"
	FrequencyDaily     Frequency = "daily"
	FrequencyWeekly    Frequency = "weekly"
	FrequencyMonthly   Frequency = "monthly"
)

// DetailLevel controla cómo se rinde el lote en la notificación.
type DetailLevel string

const (
	DetailFull       DetailLevel = "detailed"
	DetailPorEmisor  DetailLevel = "summarized_by_emisor"
	DetailPorCasilla DetailLevel = "summarized_by_casilla"
)

// DeliveryMethod es el transporte de salida.
type DeliveryMethod string

const (
	DeliveryEmail   DeliveryMethod = "email"
	DeliveryWebhook DeliveryMethod = "webhook"
)

// AuthType del webhook.
type AuthType string

const (
	AuthNone   AuthType = "none"
	AuthBasic  AuthType = "basic"
	AuthBearer AuthType = "bearer"
	AuthAPIKey AuthType = "api_key"
)

// WebhookConfig describe la entrega HTTP de una suscripción técnica.
// Invariante: credenciales presentes si y solo si se exige autenticación.
type WebhookConfig struct {
	URL          string            `json:"url"`
	Method       string            `json:"metodo"` // POST por defecto
	Headers      map[string]string `json:"headers,omitempty"`
	RequireAuth  bool              `json:"requiere_autenticacion"`
	AuthType     AuthType          `json:"tipo_autenticacion,omitempty"`
	Username     string            `json:"usuario,omitempty"`
	Password     string            `json:"password,omitempty"`
	Token        string            `json:"token,omitempty"`
	APIKeyHeader string            `json:"api_key_header,omitempty"` // X-API-Key por defecto
	APIKey       string            `json:"api_key,omitempty"`
	Active       bool              `json:"activo"`
}

// HTTPMethod devuelve el método efectivo.
func (w *WebhookConfig) HTTPMethod() string {
	if w.Method == "" {
		return "POST"
	}
	return w.Method
}

// Validate aplica el invariante de autenticación en tiempo de configuración;
// una config inválida nunca llega al dispatcher.
func (w *WebhookConfig) Validate() error {
	if w.URL == "" {
		return fmt.Errorf("webhook config: %w", ErrWebhookURLMissing)
	}
	if !w.RequireAuth {
		if w.AuthType != "" && w.AuthType != AuthNone {
			return fmt.Errorf("webhook config: %w", ErrWebhookAuthInconsistent)
		}
		return nil
	}
	switch w.AuthType {
	case AuthBasic:
		if w.Username == "" || w.Password == "" {
			return fmt.Errorf("webhook config: %w", ErrWebhookCredentialsMissing)
		}
	case AuthBearer:
		if w.Token == "" {
			return fmt.Errorf("webhook config: %w", ErrWebhookCredentialsMissing)
		}
	case AuthAPIKey:
		if w.APIKey == "" {
			return fmt.Errorf("webhook config: %w", ErrWebhookCredentialsMissing)
		}
	default:
		// requiere_autenticacion=true sin tipo: rechazado aquí (nunca en envío).
		return fmt.Errorf("webhook config: %w", ErrWebhookAuthTypeMissing)
	}
	return nil
}

// Subscription es la petición estable de un destinatario de ser notificado de
// ciertos tipos de evento según una cadencia.
type Subscription struct {
	ID        uuid.UUID `json:"id"`
	CasillaID uuid.UUID `json:"casilla_id"`
	Nombre    string    `json:"nombre"`
	Email     string    `json:"email,omitempty"`
	Active    bool      `json:"activa"`

	Frequency  Frequency `json:"frecuencia"`
	SendHour   int       `json:"hora_envio"`
	SendMinute int       `json:"minuto_envio"`
	// DayOfWeek aplica a weekly; DayOfMonth a monthly.
	DayOfWeek  time.Weekday `json:"dia_semana,omitempty"`
	DayOfMonth int          `json:"dia_mes,omitempty"`

	DetailLevel  DetailLevel    `json:"nivel_detalle"`
	EventTypes   []EventType    `json:"tipos_evento"`
	EmisorFilter []uuid.UUID    `json:"filtro_emisores,omitempty"` // lista blanca opcional
	Method       DeliveryMethod `json:"metodo_envio"`

	// Technical marca un consumidor máquina; exige webhook.
	Technical bool           `json:"es_tecnico"`
	Webhook   *WebhookConfig `json:"webhook,omitempty"`
}

// Matches decide si un evento cae dentro del filtro de la suscripción.
// El filtro de tipos es obligatorio; la lista blanca de emisores, opcional.
func (s *Subscription) Matches(evt *Event) bool {
	if s.CasillaID != evt.CasillaID {
		return false
	}
	typeOK := false
	for _, t := range s.EventTypes {
		if t == evt.Type {
			typeOK = true
			break
		}
	}
	if !typeOK {
		return false
	}
	if len(s.EmisorFilter) == 0 {
		return true
	}
	if evt.EmisorID == nil {
		return false
	}
	for _, id := range s.EmisorFilter {
		if id == *evt.EmisorID {
			return true
		}
	}
	return false
}

// Validate aplica los invariantes de configuración de la suscripción.
func (s *Subscription) Validate() error {
	switch s.Frequency {
	case FrequencyImmediate, FrequencyDaily, FrequencyWeekly, FrequencyMonthly:
	default:
		return fmt.Errorf("subscription %s: unknown frequency %q", s.ID, s.Frequency)
	}
	if len(s.EventTypes) == 0 {
		return fmt.Errorf("subscription %s: empty event type filter", s.ID)
	}
	for _, t := range s.EventTypes {
		if !ValidEventType(t) {
			return fmt.Errorf("subscription %s: unknown event type %q", s.ID, t)
		}
	}
	switch s.Method {
	case DeliveryEmail:
		if s.Email == "" {
			return fmt.Errorf("subscription %s: email delivery without address", s.ID)
		}
	case DeliveryWebhook:
		if s.Webhook == nil {
			return fmt.Errorf("subscription %s: %w", s.ID, ErrWebhookConfigMissing)
		}
		if err := s.Webhook.Validate(); err != nil {
			return fmt.Errorf("subscription %s: %w", s.ID, err)
		}
	default:
		return fmt.Errorf("subscription %s: unknown delivery method %q", s.ID, s.Method)
	}
	if s.Technical && s.Method != DeliveryWebhook {
		return fmt.Errorf("subscription %s: technical subscriptions must deliver via webhook", s.ID)
	}
	return nil
}

// NextRunAfter calcula el siguiente instante de lote programado estrictamente
// posterior a `after`, en la zona horaria de `after`. Para immediate no hay
// programación y devuelve `after` sin cambios.
func (s *Subscription) NextRunAfter(after time.Time) time.Time {
	if s.Frequency == FrequencyImmediate {
		return after
	}
	at := time.Date(after.Year(), after.Month(), after.Day(), s.SendHour, s.SendMinute, 0, 0, after.Location())
	switch s.Frequency {
	case FrequencyDaily:
		if !at.After(after) {
			at = at.AddDate(0, 0, 1)
		}
	case FrequencyWeekly:
		for at.Weekday() != s.DayOfWeek || !at.After(after) {
			at = at.AddDate(0, 0, 1)
		}
	case FrequencyMonthly:
		at = s.monthlyAt(after.Year(), after.Month(), after.Location())
		if !at.After(after) {
			at = s.monthlyAt(after.Year(), after.Month()+1, after.Location())
		}
	}
	return at
}

// monthlyAt sitúa el envío mensual en el día configurado, recortado al último
// día del mes (día 31 en febrero = 28/29).
func (s *Subscription) monthlyAt(year int, month time.Month, loc *time.Location) time.Time {
	day := s.DayOfMonth
	if day < 1 {
		day = 1
	}
	if last := time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day(); day > last {
		day = last
	}
	return time.Date(year, month, day, s.SendHour, s.SendMinute, 0, 0, loc)
}
