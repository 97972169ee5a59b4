package email

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/davicafu/casillero/internal/ingesta/application"
	"github.com/davicafu/casillero/internal/ingesta/domain"
	notifica "github.com/davicafu/casillero/internal/notifica/domain"
	"github.com/davicafu/casillero/tests/mocks"
)

const specProductos = `
catalogs:
  productos:
    format: { type: delimited, delimiter: ",", header: true }
    fields:
      - name: producto_id
        type: text
        required: true
`

// fakeMailClient simula el servidor de correo: buzones en memoria y un error
// de transporte inyectable.
type fakeMailClient struct {
	Inbox     map[string][]*Message
	Marked    map[string]bool
	ListErr   error
	MarkCalls int
}

func newFakeMailClient() *fakeMailClient {
	return &fakeMailClient{
		Inbox:  make(map[string][]*Message),
		Marked: make(map[string]bool),
	}
}

func (c *fakeMailClient) ListUnread(ctx context.Context, mailbox string) ([]*Message, error) {
	if c.ListErr != nil {
		return nil, c.ListErr
	}
	var out []*Message
	for _, msg := range c.Inbox[mailbox] {
		if !c.Marked[msg.ID] {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (c *fakeMailClient) MarkProcessed(ctx context.Context, mailbox, messageID string) error {
	c.MarkCalls++
	c.Marked[messageID] = true
	return nil
}

type emailFixture struct {
	client *fakeMailClient
	execs  *mocks.InMemoryExecutionRepo
	dir    *mocks.InMemoryCasillaDirectory
	events *mocks.InMemoryEventRepo
	poller *Poller
}

func newEmailFixture(t *testing.T) *emailFixture {
	t.Helper()
	f := &emailFixture{
		client: newFakeMailClient(),
		execs:  mocks.NewInMemoryExecutionRepo(),
		dir:    mocks.NewInMemoryCasillaDirectory(),
		events: mocks.NewInMemoryEventRepo(),
	}
	service := application.NewPipelineService(
		f.execs, f.dir, mocks.NewInMemoryArchivoStore(), f.events,
		nil, nil, 2, zap.NewNop())
	f.poller = NewPoller(f.client, service, time.Second, zap.NewNop())
	return f
}

func (f *emailFixture) addCasilla(t *testing.T, sender string) *domain.Casilla {
	t.Helper()
	c := &domain.Casilla{
		ID:             uuid.New(),
		Nombre:         "Casilla email",
		Active:         true,
		InboundAddress: "casilla@example.com",
		RuleSpec:       []byte(specProductos),
	}
	f.dir.Casillas[c.ID] = c
	f.dir.Canales = append(f.dir.Canales, &domain.EmisorCanal{
		EmisorID:            uuid.New(),
		CasillaID:           c.ID,
		Canal:               domain.CanalEmail,
		AuthorizedAddresses: []string{sender},
		Active:              true,
	})
	return c
}

func mensaje(id, from string, attachments ...Attachment) *Message {
	return &Message{
		ID:          id,
		From:        from,
		Subject:     "entrega",
		Attachments: attachments,
		ReceivedAt:  time.Now().UTC(),
	}
}

func TestPoll_AuthorizedSenderAttachmentsBecomeExecutions(t *testing.T) {
	f := newEmailFixture(t)
	casilla := f.addCasilla(t, "datos@emisor.example")
	f.client.Inbox[casilla.InboundAddress] = []*Message{
		mensaje("m1", "datos@emisor.example",
			Attachment{Filename: "productos.csv", Data: []byte("producto_id\nPROD-001\n")},
			Attachment{Filename: "productos.csv", Data: []byte("producto_id\nPROD-002\n")},
		),
	}

	f.poller.Poll(context.Background())

	// Una ejecución por adjunto, por el canal email.
	assert.Len(t, f.execs.Execs, 2)
	for _, exec := range f.execs.Execs {
		assert.Equal(t, domain.CanalEmail, exec.Canal)
		assert.Equal(t, casilla.ID, exec.CasillaID)
		require.NotNil(t, exec.EmisorID)
	}

	// ✅ Mensaje marcado tras registrar todas las llegadas.
	assert.True(t, f.client.Marked["m1"])
}

func TestPoll_UnauthorizedSenderDiscarded(t *testing.T) {
	f := newEmailFixture(t)
	casilla := f.addCasilla(t, "datos@emisor.example")
	f.client.Inbox[casilla.InboundAddress] = []*Message{
		mensaje("m1", "intruso@example.com",
			Attachment{Filename: "productos.csv", Data: []byte("producto_id\nPROD-001\n")}),
	}

	f.poller.Poll(context.Background())

	// Sin ejecución, pero el mensaje se marca para no reintentarlo.
	assert.Empty(t, f.execs.Execs)
	assert.True(t, f.client.Marked["m1"])
}

func TestPoll_ProcessFailureLeavesMessageUnread(t *testing.T) {
	f := newEmailFixture(t)
	casilla := f.addCasilla(t, "datos@emisor.example")
	casilla.RuleSpec = []byte("catalogs: {}\n") // Process fallará
	f.client.Inbox[casilla.InboundAddress] = []*Message{
		mensaje("m1", "datos@emisor.example",
			Attachment{Filename: "productos.csv", Data: []byte("producto_id\nPROD-001\n")}),
	}

	f.poller.Poll(context.Background())

	assert.Empty(t, f.execs.Execs)
	// El mensaje sigue sin marcar: se reintentará el ciclo siguiente.
	assert.False(t, f.client.Marked["m1"])
}

func TestPoll_TransportFailuresTriggerDelayEvent(t *testing.T) {
	f := newEmailFixture(t)
	casilla := f.addCasilla(t, "datos@emisor.example")
	f.client.ListErr = errors.New("imap: connection refused")

	// Dos ciclos fallidos: aún sin evento.
	f.poller.Poll(context.Background())
	f.poller.Poll(context.Background())
	assert.Empty(t, f.events.Events)

	// Al tercero se registra el retraso, una sola vez.
	f.poller.Poll(context.Background())
	require.Len(t, f.events.Events, 1)
	evt := f.events.Events[0]
	assert.Equal(t, notifica.EventDelay, evt.Type)
	assert.Equal(t, casilla.ID, evt.CasillaID)
	assert.Contains(t, evt.Message, casilla.InboundAddress)

	// Ciclos posteriores no lo duplican.
	f.poller.Poll(context.Background())
	assert.Len(t, f.events.Events, 1)
}

func TestPoll_RecoveryResetsFailureCounter(t *testing.T) {
	f := newEmailFixture(t)
	f.addCasilla(t, "datos@emisor.example")

	f.client.ListErr = errors.New("timeout")
	f.poller.Poll(context.Background())
	f.poller.Poll(context.Background())

	// El transporte se recupera antes del umbral.
	f.client.ListErr = nil
	f.poller.Poll(context.Background())

	// Una nueva racha parte de cero: dos fallos más no bastan.
	f.client.ListErr = errors.New("timeout")
	f.poller.Poll(context.Background())
	f.poller.Poll(context.Background())
	assert.Empty(t, f.events.Events)
}

func TestPoll_CasillaWithoutMailboxSkipped(t *testing.T) {
	f := newEmailFixture(t)
	casilla := f.addCasilla(t, "datos@emisor.example")
	casilla.InboundAddress = ""
	f.client.ListErr = errors.New("nunca debería llamarse")

	f.poller.Poll(context.Background())
	assert.Empty(t, f.events.Events)
}
