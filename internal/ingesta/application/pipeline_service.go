package application

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/davicafu/casillero/internal/ingesta/domain"
	notifica "github.com/davicafu/casillero/internal/notifica/domain"
	rulesdomain "github.com/davicafu/casillero/internal/rules/domain"
	"github.com/davicafu/casillero/internal/rules/eval"
	"github.com/davicafu/casillero/internal/rules/spec"
	sharedEvents "github.com/davicafu/casillero/internal/shared/events"
	"github.com/davicafu/casillero/internal/shared/platform/bus"
	sharedCache "github.com/davicafu/casillero/internal/shared/platform/cache"
)

// compiledModel es el snapshot inmutable del documento de reglas de una
// casilla. Se recompila solo cuando cambia el checksum del YAML, de modo que
// una edición del admin a mitad de evaluación nunca afecta a la ejecución en
// curso.
type compiledModel struct {
	checksum [32]byte
	model    *rulesdomain.RuleModel
}

// PipelineService orquesta el ciclo completo de una llegada: resolución de
// casilla, archivado del fichero, evaluación de reglas y registro transaccional
// de la ejecución con sus eventos.
type PipelineService struct {
	execs  domain.ExecutionRepository
	dir    domain.CasillaDirectory
	store  domain.ArchivoStore
	events notifica.EventRepository // para eventos sin ejecución (delay)
	cache  sharedCache.Cache
	bus    bus.EventPublisher
	log    *zap.Logger

	cacheTTL int // segundos

	sem    chan struct{} // acota evaluaciones concurrentes
	models sync.Map      // casillaID -> *compiledModel
}

// NewPipelineService constructor. cache y bus pueden ser nil; maxConcurrent<=0
// equivale a 4.
func NewPipelineService(
	execs domain.ExecutionRepository,
	dir domain.CasillaDirectory,
	store domain.ArchivoStore,
	events notifica.EventRepository,
	cache sharedCache.Cache,
	eventBus bus.EventPublisher,
	maxConcurrent int,
	log *zap.Logger,
) *PipelineService {
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	return &PipelineService{
		execs:    execs,
		dir:      dir,
		store:    store,
		events:   events,
		cache:    cache,
		bus:      eventBus,
		log:      log,
		cacheTTL: 300,
		sem:      make(chan struct{}, maxConcurrent),
	}
}

// ---------------- Resolución de casilla ----------------

func (s *PipelineService) lookupCasilla(ctx context.Context, id uuid.UUID) (*domain.Casilla, error) {
	if s.cache != nil {
		var cached domain.Casilla
		if hit, err := s.cache.Get(ctx, domain.CacheKeyCasilla(id), &cached); err == nil && hit {
			return &cached, nil
		}
	}

	casilla, err := s.dir.GetCasilla(ctx, id)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		sharedCache.AsyncCacheSet(ctx, s.cache, domain.CacheKeyCasilla(id), casilla, s.cacheTTL, s.log)
	}
	return casilla, nil
}

// AuthorizeAddress resuelve el canal de un emisor por dirección remitente.
// Devuelve ErrSenderNotAuthorized si ningún canal activo del método la admite.
func (s *PipelineService) AuthorizeAddress(ctx context.Context, casillaID uuid.UUID, canal domain.Canal, addr string) (*domain.EmisorCanal, error) {
	canales, err := s.dir.ListCanales(ctx, casillaID, canal)
	if err != nil {
		return nil, err
	}
	for _, ec := range canales {
		if ec.Active && ec.AuthorizesAddress(addr) {
			return ec, nil
		}
	}
	return nil, domain.ErrSenderNotAuthorized
}

// AuthorizedChannels lista los canales configurados de una casilla para un
// método concreto.
func (s *PipelineService) AuthorizedChannels(ctx context.Context, casillaID uuid.UUID, canal domain.Canal) ([]*domain.EmisorCanal, error) {
	return s.dir.ListCanales(ctx, casillaID, canal)
}

// AuthorizeAPIKey resuelve el canal api cuyo api_key coincide.
func (s *PipelineService) AuthorizeAPIKey(ctx context.Context, casillaID uuid.UUID, apiKey string) (*domain.EmisorCanal, error) {
	canales, err := s.dir.ListCanales(ctx, casillaID, domain.CanalAPI)
	if err != nil {
		return nil, err
	}
	for _, ec := range canales {
		if ec.Active && ec.APIKey != "" && ec.APIKey == apiKey {
			return ec, nil
		}
	}
	return nil, domain.ErrSenderNotAuthorized
}

// ---------------- Compilación de reglas ----------------

func (s *PipelineService) modelFor(casilla *domain.Casilla) (*rulesdomain.RuleModel, error) {
	sum := sha256.Sum256(casilla.RuleSpec)

	if v, ok := s.models.Load(casilla.ID); ok {
		cm := v.(*compiledModel)
		if cm.checksum == sum {
			return cm.model, nil
		}
	}

	model, err := spec.Load(casilla.RuleSpec)
	if err != nil {
		return nil, fmt.Errorf("rule spec de casilla %s: %w", casilla.ID, err)
	}
	s.models.Store(casilla.ID, &compiledModel{checksum: sum, model: model})
	return model, nil
}

// ---------------- Caso de uso principal ----------------

// Process valida una llegada de principio a fin y registra la Execution. El
// registro es siempre append-only: incluso las ejecuciones fallidas quedan en
// el log con su evento de error.
func (s *PipelineService) Process(ctx context.Context, arrival *domain.Arrival) (*domain.Execution, error) {
	casilla, err := s.lookupCasilla(ctx, arrival.CasillaID)
	if err != nil {
		return nil, err
	}
	if !casilla.Active {
		return nil, domain.ErrCasillaInactive
	}

	model, err := s.modelFor(casilla)
	if err != nil {
		return nil, err
	}

	storagePath, err := s.store.Save(ctx, casilla.ID, arrival.Filename, arrival.Payload)
	if err != nil {
		return nil, fmt.Errorf("archivando %s: %w", arrival.Filename, err)
	}

	// Evaluación acotada: nunca más de cap(sem) ficheros a la vez.
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	result, dataErr, evalErr := s.evaluate(ctx, model, arrival)
	<-s.sem
	if evalErr != nil {
		return nil, evalErr
	}

	exec := &domain.Execution{
		ID:          uuid.New(),
		CasillaID:   casilla.ID,
		EmisorID:    arrival.EmisorID,
		Canal:       arrival.Canal,
		Filename:    arrival.Filename,
		StoragePath: storagePath,
		CreatedAt:   time.Now().UTC(),
	}

	var events []*notifica.Event
	switch {
	case dataErr != nil:
		exec.Status = domain.StatusFailed
		events = append(events, newEvent(exec, notifica.EventError,
			fmt.Sprintf("el fichero %s no pudo evaluarse: %v", arrival.Filename, dataErr), nil))
	case result.ErrorCount > 0:
		exec.Status = domain.StatusPartial
		exec.ErrorCount = result.ErrorCount
		exec.WarningCount = result.WarningCount
		events = append(events, resultEvents(exec, arrival.Filename, result)...)
	default:
		exec.Status = domain.StatusSuccess
		exec.WarningCount = result.WarningCount
		events = append(events, resultEvents(exec, arrival.Filename, result)...)
	}

	if err := s.execs.Create(ctx, exec, events); err != nil {
		return nil, err
	}

	// El heartbeat es best-effort: una casilla que recibe datos está viva.
	if err := s.dir.TouchHeartbeat(ctx, casilla.ID, exec.CreatedAt); err != nil {
		s.log.Warn("⚠️ no se pudo actualizar heartbeat",
			zap.String("casilla_id", casilla.ID.String()), zap.Error(err))
	}

	s.publishExecution(exec)

	s.log.Info("📥 ejecución registrada",
		zap.String("execution_id", exec.ID.String()),
		zap.String("casilla_id", exec.CasillaID.String()),
		zap.String("fichero", exec.Filename),
		zap.String("estado", string(exec.Status)),
		zap.Int("errores", exec.ErrorCount),
		zap.Int("avisos", exec.WarningCount))

	return exec, nil
}

// evaluate separa los fallos de datos (ejecución failed) de los fallos de
// infraestructura (la llegada debe reintentarse).
func (s *PipelineService) evaluate(ctx context.Context, model *rulesdomain.RuleModel, arrival *domain.Arrival) (*eval.Result, error, error) {
	set, err := eval.LoadCatalogSet(model, arrival.Filename, arrival.Payload)
	if err != nil {
		return nil, err, nil
	}
	result, err := eval.Evaluate(ctx, set, model, eval.Options{})
	if err != nil {
		var de *eval.DataError
		if errors.As(err, &de) {
			return nil, err, nil
		}
		return nil, nil, err
	}
	return result, nil, nil
}

// resultEvents genera como mucho un evento por clase de severidad presente, o
// uno de éxito. El detalle lleva el desglose por regla fallida.
func resultEvents(exec *domain.Execution, filename string, result *eval.Result) []*notifica.Event {
	var events []*notifica.Event

	if result.ErrorCount > 0 {
		detail := outcomeDetail(result, rulesdomain.SeverityError)
		events = append(events, newEvent(exec, notifica.EventError,
			fmt.Sprintf("%s: %d reglas de error incumplidas", filename, result.ErrorCount), detail))
	}
	if result.WarningCount > 0 {
		detail := outcomeDetail(result, rulesdomain.SeverityWarning)
		events = append(events, newEvent(exec, notifica.EventWarning,
			fmt.Sprintf("%s: %d reglas de aviso incumplidas", filename, result.WarningCount), detail))
	}
	if len(events) == 0 {
		events = append(events, newEvent(exec, notifica.EventSuccess,
			fmt.Sprintf("%s validado sin incidencias", filename), nil))
	}
	return events
}

func outcomeDetail(result *eval.Result, sev rulesdomain.Severity) json.RawMessage {
	var failing []eval.RuleOutcome
	for _, out := range result.Outcomes {
		if !out.Passed && out.Severity == sev {
			failing = append(failing, out)
		}
	}
	raw, err := json.Marshal(failing)
	if err != nil {
		return nil
	}
	return raw
}

func newEvent(exec *domain.Execution, typ notifica.EventType, msg string, detail json.RawMessage) *notifica.Event {
	execID := exec.ID
	return &notifica.Event{
		ID:          uuid.New(),
		CasillaID:   exec.CasillaID,
		EmisorID:    exec.EmisorID,
		ExecutionID: &execID,
		Type:        typ,
		Message:     msg,
		Detail:      detail,
		CreatedAt:   exec.CreatedAt,
	}
}

func (s *PipelineService) publishExecution(exec *domain.Execution) {
	if s.bus == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		data, err := json.Marshal(exec)
		if err != nil {
			return
		}
		evt := sharedEvents.IntegrationEvent{
			Type:      sharedEvents.EjecucionRegistrada,
			Timestamp: time.Now().UTC(),
			Data:      data,
		}
		if err := s.bus.Publish(ctx, evt); err != nil {
			s.log.Warn("⚠️ no se pudo publicar evento de integración", zap.Error(err))
		}
	}()
}

// ---------------- Eventos sin ejecución ----------------

// RecordDelay inserta un evento de retraso para una casilla (lo usan los
// pollers cuando una cadencia pactada se incumple).
func (s *PipelineService) RecordDelay(ctx context.Context, casillaID uuid.UUID, emisorID *uuid.UUID, msg string) error {
	if s.events == nil {
		return nil
	}
	evt := &notifica.Event{
		ID:        uuid.New(),
		CasillaID: casillaID,
		EmisorID:  emisorID,
		Type:      notifica.EventDelay,
		Message:   msg,
		CreatedAt: time.Now().UTC(),
	}
	return s.events.Insert(ctx, evt)
}

// ---------------- Consultas ----------------

func (s *PipelineService) GetExecution(ctx context.Context, id uuid.UUID) (*domain.Execution, error) {
	return s.execs.GetByID(ctx, id)
}

func (s *PipelineService) ListExecutions(ctx context.Context, f domain.ExecutionFilter) ([]*domain.Execution, error) {
	return s.execs.List(ctx, f)
}

func (s *PipelineService) GetCasilla(ctx context.Context, id uuid.UUID) (*domain.Casilla, error) {
	return s.lookupCasilla(ctx, id)
}

func (s *PipelineService) ListActiveCasillas(ctx context.Context) ([]*domain.Casilla, error) {
	return s.dir.ListActiveCasillas(ctx)
}
