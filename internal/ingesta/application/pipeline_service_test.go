package application

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/davicafu/casillero/internal/ingesta/domain"
	notifica "github.com/davicafu/casillero/internal/notifica/domain"
	"github.com/davicafu/casillero/internal/rules/eval"
	"github.com/davicafu/casillero/tests/mocks"
)

const specProductos = `
catalogs:
  productos:
    format:
      type: delimited
      delimiter: ","
      header: true
    fields:
      - name: producto_id
        type: text
        required: true
        unique: true
        validation_rules:
          - name: producto_id_formato
            severity: error
            check:
              kind: regex
              pattern: '^PROD-\d{3}$'
      - name: unidades
        type: integer
        validation_rules:
          - name: unidades_rango
            severity: warning
            check:
              kind: range
              min: 0
              max: 1000
`

type pipelineFixture struct {
	execs   *mocks.InMemoryExecutionRepo
	dir     *mocks.InMemoryCasillaDirectory
	store   *mocks.InMemoryArchivoStore
	events  *mocks.InMemoryEventRepo
	service *PipelineService
}

func newPipelineFixture(t *testing.T) *pipelineFixture {
	t.Helper()
	f := &pipelineFixture{
		execs:  mocks.NewInMemoryExecutionRepo(),
		dir:    mocks.NewInMemoryCasillaDirectory(),
		store:  mocks.NewInMemoryArchivoStore(),
		events: mocks.NewInMemoryEventRepo(),
	}
	f.service = NewPipelineService(f.execs, f.dir, f.store, f.events, nil, nil, 2, zap.NewNop())
	return f
}

func (f *pipelineFixture) addCasilla(t *testing.T, active bool) *domain.Casilla {
	t.Helper()
	c := &domain.Casilla{
		ID:       uuid.New(),
		Nombre:   "Casilla de productos",
		Active:   active,
		RuleSpec: []byte(specProductos),
	}
	f.dir.Casillas[c.ID] = c
	return c
}

func arrivalFor(c *domain.Casilla, filename, csv string) *domain.Arrival {
	return &domain.Arrival{
		CasillaID:  c.ID,
		Canal:      domain.CanalLocal,
		Filename:   filename,
		Payload:    []byte(csv),
		ReceivedAt: time.Now().UTC(),
	}
}

func TestProcess_Success(t *testing.T) {
	f := newPipelineFixture(t)
	casilla := f.addCasilla(t, true)

	exec, err := f.service.Process(context.Background(), arrivalFor(casilla, "productos.csv",
		"producto_id,unidades\nPROD-001,10\nPROD-002,20\n"))
	require.NoError(t, err)

	assert.Equal(t, domain.StatusSuccess, exec.Status)
	assert.Equal(t, 0, exec.ErrorCount)
	assert.Equal(t, 0, exec.WarningCount)
	assert.Equal(t, casilla.ID, exec.CasillaID)
	assert.NotEmpty(t, exec.StoragePath)

	// El fichero queda archivado tal cual llegó.
	assert.Contains(t, f.store.Saved, exec.StoragePath)

	// Un único evento de éxito ligado a la ejecución.
	require.Len(t, f.execs.Events, 1)
	evt := f.execs.Events[0]
	assert.Equal(t, notifica.EventSuccess, evt.Type)
	require.NotNil(t, evt.ExecutionID)
	assert.Equal(t, exec.ID, *evt.ExecutionID)

	// ✅ Heartbeat actualizado con el instante de la ejecución.
	assert.Equal(t, exec.CreatedAt, f.dir.Heartbeats[casilla.ID])
}

func TestProcess_PartialWithErrorAndWarningEvents(t *testing.T) {
	f := newPipelineFixture(t)
	casilla := f.addCasilla(t, true)

	// BADID incumple la regla de error; 5000 la de aviso.
	exec, err := f.service.Process(context.Background(), arrivalFor(casilla, "productos.csv",
		"producto_id,unidades\nBADID,10\nPROD-002,5000\n"))
	require.NoError(t, err)

	assert.Equal(t, domain.StatusPartial, exec.Status)
	assert.Equal(t, 1, exec.ErrorCount)
	assert.Equal(t, 1, exec.WarningCount)

	// Un evento por clase de severidad presente, nunca por regla.
	require.Len(t, f.execs.Events, 2)
	tipos := map[notifica.EventType]*notifica.Event{}
	for _, evt := range f.execs.Events {
		tipos[evt.Type] = evt
	}
	require.Contains(t, tipos, notifica.EventError)
	require.Contains(t, tipos, notifica.EventWarning)

	// El detalle lleva el desglose por regla fallida.
	var outcomes []eval.RuleOutcome
	require.NoError(t, json.Unmarshal(tipos[notifica.EventError].Detail, &outcomes))
	require.Len(t, outcomes, 1)
	assert.Equal(t, "producto_id_formato", outcomes[0].Rule)
	assert.Equal(t, []int{1}, outcomes[0].SampleRows)
}

func TestProcess_WarningsOnlyIsSuccess(t *testing.T) {
	f := newPipelineFixture(t)
	casilla := f.addCasilla(t, true)

	exec, err := f.service.Process(context.Background(), arrivalFor(casilla, "productos.csv",
		"producto_id,unidades\nPROD-001,5000\n"))
	require.NoError(t, err)

	assert.Equal(t, domain.StatusSuccess, exec.Status)
	assert.Equal(t, 1, exec.WarningCount)
	require.Len(t, f.execs.Events, 1)
	assert.Equal(t, notifica.EventWarning, f.execs.Events[0].Type)
}

func TestProcess_UnreadableFileIsFailedExecution(t *testing.T) {
	f := newPipelineFixture(t)
	casilla := f.addCasilla(t, true)

	// Columna declarada ausente: la evaluación no puede completarse.
	exec, err := f.service.Process(context.Background(), arrivalFor(casilla, "productos.csv",
		"otra_columna\nx\n"))
	require.NoError(t, err)

	assert.Equal(t, domain.StatusFailed, exec.Status)
	require.Len(t, f.execs.Events, 1)
	evt := f.execs.Events[0]
	assert.Equal(t, notifica.EventError, evt.Type)
	assert.Contains(t, evt.Message, "productos.csv")

	// La ejecución fallida también queda en el log.
	got, err := f.execs.GetByID(context.Background(), exec.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, got.Status)
}

func TestProcess_InactiveCasilla(t *testing.T) {
	f := newPipelineFixture(t)
	casilla := f.addCasilla(t, false)

	_, err := f.service.Process(context.Background(), arrivalFor(casilla, "productos.csv", "producto_id,unidades\n"))
	assert.ErrorIs(t, err, domain.ErrCasillaInactive)
	assert.Empty(t, f.execs.Execs)
	assert.Empty(t, f.store.Saved)
}

func TestProcess_UnknownCasilla(t *testing.T) {
	f := newPipelineFixture(t)
	arrival := &domain.Arrival{CasillaID: uuid.New(), Canal: domain.CanalLocal, Filename: "x.csv", Payload: []byte("a\n")}

	_, err := f.service.Process(context.Background(), arrival)
	assert.ErrorIs(t, err, domain.ErrCasillaNotFound)
}

func TestProcess_InvalidRuleSpecRejectsArrival(t *testing.T) {
	f := newPipelineFixture(t)
	casilla := f.addCasilla(t, true)
	casilla.RuleSpec = []byte("catalogs: {}\n")

	_, err := f.service.Process(context.Background(), arrivalFor(casilla, "productos.csv", "a\n1\n"))
	require.Error(t, err)
	assert.Empty(t, f.execs.Execs)
}

func TestProcess_RuleSpecRecompiledOnChange(t *testing.T) {
	f := newPipelineFixture(t)
	casilla := f.addCasilla(t, true)

	_, err := f.service.Process(context.Background(), arrivalFor(casilla, "productos.csv",
		"producto_id,unidades\nPROD-001,10\n"))
	require.NoError(t, err)

	// El admin endurece el spec: el mismo fichero pasa a incumplir.
	casilla.RuleSpec = []byte(`
catalogs:
  productos:
    format: { type: delimited, delimiter: ",", header: true }
    fields:
      - name: producto_id
        type: text
        validation_rules:
          - name: solo_prod_9
            severity: error
            check: { kind: regex, pattern: '^PROD-9\d{2}$' }
      - { name: unidades, type: integer }
`)
	exec, err := f.service.Process(context.Background(), arrivalFor(casilla, "productos.csv",
		"producto_id,unidades\nPROD-001,10\n"))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPartial, exec.Status)
}

func TestProcess_PublishesIntegrationEvent(t *testing.T) {
	f := newPipelineFixture(t)
	casilla := f.addCasilla(t, true)
	bus := &mocks.DummyPublisher{}
	f.service = NewPipelineService(f.execs, f.dir, f.store, f.events, nil, bus, 2, zap.NewNop())

	_, err := f.service.Process(context.Background(), arrivalFor(casilla, "productos.csv",
		"producto_id,unidades\nPROD-001,10\n"))
	require.NoError(t, err)

	// La publicación es asíncrona y best-effort.
	assert.Eventually(t, func() bool { return bus.Count() == 1 }, time.Second, 10*time.Millisecond)
}

// -------------------- Autorización de canales --------------------

func TestAuthorizeAddress(t *testing.T) {
	f := newPipelineFixture(t)
	casilla := f.addCasilla(t, true)
	emisor := uuid.New()
	f.dir.Canales = append(f.dir.Canales, &domain.EmisorCanal{
		EmisorID:            emisor,
		CasillaID:           casilla.ID,
		Canal:               domain.CanalEmail,
		AuthorizedAddresses: []string{"datos@emisor.example"},
		Active:              true,
	})

	ec, err := f.service.AuthorizeAddress(context.Background(), casilla.ID, domain.CanalEmail, "datos@emisor.example")
	require.NoError(t, err)
	assert.Equal(t, emisor, ec.EmisorID)

	_, err = f.service.AuthorizeAddress(context.Background(), casilla.ID, domain.CanalEmail, "intruso@example.com")
	assert.ErrorIs(t, err, domain.ErrSenderNotAuthorized)
}

func TestAuthorizeAddress_InactiveChannelRejected(t *testing.T) {
	f := newPipelineFixture(t)
	casilla := f.addCasilla(t, true)
	f.dir.Canales = append(f.dir.Canales, &domain.EmisorCanal{
		EmisorID:            uuid.New(),
		CasillaID:           casilla.ID,
		Canal:               domain.CanalEmail,
		AuthorizedAddresses: []string{"datos@emisor.example"},
		Active:              false,
	})

	_, err := f.service.AuthorizeAddress(context.Background(), casilla.ID, domain.CanalEmail, "datos@emisor.example")
	assert.ErrorIs(t, err, domain.ErrSenderNotAuthorized)
}

func TestAuthorizeAPIKey(t *testing.T) {
	f := newPipelineFixture(t)
	casilla := f.addCasilla(t, true)
	emisor := uuid.New()
	f.dir.Canales = append(f.dir.Canales, &domain.EmisorCanal{
		EmisorID:  emisor,
		CasillaID: casilla.ID,
		Canal:     domain.CanalAPI,
		APIKey:    "clave-secreta",
		Active:    true,
	})

	ec, err := f.service.AuthorizeAPIKey(context.Background(), casilla.ID, "clave-secreta")
	require.NoError(t, err)
	assert.Equal(t, emisor, ec.EmisorID)

	_, err = f.service.AuthorizeAPIKey(context.Background(), casilla.ID, "clave-mala")
	assert.ErrorIs(t, err, domain.ErrSenderNotAuthorized)
}

// -------------------- Eventos sin ejecución --------------------

func TestRecordDelay(t *testing.T) {
	f := newPipelineFixture(t)
	casillaID := uuid.New()

	err := f.service.RecordDelay(context.Background(), casillaID, nil, "entrega diaria incumplida")
	require.NoError(t, err)

	require.Len(t, f.events.Events, 1)
	evt := f.events.Events[0]
	assert.Equal(t, notifica.EventDelay, evt.Type)
	assert.Equal(t, casillaID, evt.CasillaID)
	assert.Nil(t, evt.ExecutionID)
}
