package domain

import (
	"time"

	"github.com/google/uuid"
)

// Casilla es un punto de entrada de datos configurado, ligado a un documento
// de reglas. La configura el admin; el pipeline solo la lee, salvo el
// heartbeat.
type Casilla struct {
	ID             uuid.UUID `json:"id"`
	Nombre         string    `json:"nombre"`
	InstalacionID  uuid.UUID `json:"instalacion_id"`
	Active         bool      `json:"activa"`
	InboundAddress string    `json:"direccion_entrada,omitempty"` // buzón email, si aplica
	APIEndpoint    string    `json:"api_endpoint,omitempty"`
	RuleSpec       []byte    `json:"-"` // documento YAML de reglas, compilado por el pipeline
	LastHeartbeat  time.Time `json:"ultimo_heartbeat"`
}

// TipoEmisor clasifica a la parte que envía datos.
type TipoEmisor string

const (
	EmisorInterno      TipoEmisor = "interno"
	EmisorCorporativo  TipoEmisor = "corporativo"
	EmisorDistribuidor TipoEmisor = "distribuidor"
	EmisorBot          TipoEmisor = "bot"
	EmisorOtro         TipoEmisor = "otro"
)

// Emisor es una parte autorizada a entregar datos. Datos de referencia
// estables.
type Emisor struct {
	ID           uuid.UUID  `json:"id"`
	Nombre       string     `json:"nombre"`
	Organizacion string     `json:"organizacion"`
	Tipo         TipoEmisor `json:"tipo"`
}

// Canal es el método de entrega de un emisor hacia una casilla.
type Canal string

const (
	CanalEmail Canal = "email"
	CanalSFTP  Canal = "sftp"
	CanalLocal Canal = "local"
	CanalAPI   Canal = "api"
)

// FrecuenciaEntrega es la cadencia pactada de un canal (informativa para el
// detector de retrasos).
type FrecuenciaEntrega struct {
	Cadencia  string `json:"cadencia"` // diaria | semanal | mensual
	DiaCorte  int    `json:"dia_corte,omitempty"`
	HoraCorte int    `json:"hora_corte,omitempty"`
}

// EmisorCanal es la tupla (emisor, casilla, canal) con sus parámetros.
// Unicidad: un emisor tiene como mucho un canal de cada método por casilla.
type EmisorCanal struct {
	EmisorID  uuid.UUID `json:"emisor_id"`
	CasillaID uuid.UUID `json:"casilla_id"`
	Canal     Canal     `json:"canal"`

	// Parámetros específicos del canal.
	AuthorizedAddresses []string `json:"direcciones_autorizadas,omitempty"` // email
	RemoteDirectory     string   `json:"directorio_remoto,omitempty"`       // sftp
	APIKey              string   `json:"api_key,omitempty"`                 // api

	Frecuencia *FrecuenciaEntrega `json:"frecuencia,omitempty"`
	Active     bool               `json:"activo"`
}

// AuthorizesAddress indica si la dirección remitente está en la lista blanca
// del canal. Lista vacía = cualquier dirección.
func (ec *EmisorCanal) AuthorizesAddress(addr string) bool {
	if len(ec.AuthorizedAddresses) == 0 {
		return true
	}
	for _, a := range ec.AuthorizedAddresses {
		if a == addr {
			return true
		}
	}
	return false
}
