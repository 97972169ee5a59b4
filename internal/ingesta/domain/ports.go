package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	notifica "github.com/davicafu/casillero/internal/notifica/domain"
)

// ---------- Errores de dominio ----------
var (
	ErrCasillaNotFound     = errors.New("casilla not found")
	ErrCasillaInactive     = errors.New("casilla is not active")
	ErrExecutionNotFound   = errors.New("execution not found")
	ErrSenderNotAuthorized = errors.New("sender not authorized for this casilla")
)

// ---------- Interfaces (Ports) ----------

// ExecutionRepository persiste el log de ejecuciones. Create inserta la
// ejecución y sus eventos derivados en una sola transacción (patrón outbox):
// los eventos nacen processed=false y los drena el motor de suscripciones.
type ExecutionRepository interface {
	Create(ctx context.Context, exec *Execution, events []*notifica.Event) error

	// Debe devolver ErrExecutionNotFound si no existe.
	GetByID(ctx context.Context, id uuid.UUID) (*Execution, error)

	// List devuelve ejecuciones según el filtro, más recientes primero.
	List(ctx context.Context, f ExecutionFilter) ([]*Execution, error)
}

// CasillaDirectory es la vista de solo lectura del almacén de configuración
// del admin (colaborador externo: aquí solo se consume).
type CasillaDirectory interface {
	// Debe devolver ErrCasillaNotFound si no existe.
	GetCasilla(ctx context.Context, id uuid.UUID) (*Casilla, error)

	ListActiveCasillas(ctx context.Context) ([]*Casilla, error)

	// Canales activos de una casilla para un método concreto.
	ListCanales(ctx context.Context, casillaID uuid.UUID, canal Canal) ([]*EmisorCanal, error)

	// TouchHeartbeat es la única mutación permitida sobre una casilla.
	TouchHeartbeat(ctx context.Context, casillaID uuid.UUID, at time.Time) error
}

// ArchivoStore guarda el payload original de cada llegada y devuelve la ruta
// registrada en la Execution. El almacenamiento físico es un colaborador
// externo; este puerto es su interfaz.
type ArchivoStore interface {
	Save(ctx context.Context, casillaID uuid.UUID, filename string, payload []byte) (string, error)
}

// ---------- Helpers comunes (cache keys) ----------

// CacheKeyCasilla forma la key de cache del snapshot de una casilla.
func CacheKeyCasilla(id uuid.UUID) string {
	return fmt.Sprintf("casilla:id:%s", id.String())
}
