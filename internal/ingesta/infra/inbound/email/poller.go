package email

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/davicafu/casillero/internal/ingesta/application"
	"github.com/davicafu/casillero/internal/ingesta/domain"
)

// Attachment es un adjunto ya descargado de un mensaje.
type Attachment struct {
	Filename string
	Data     []byte
}

// Message es la vista mínima de un correo entrante que necesita el poller.
type Message struct {
	ID          string
	From        string
	Subject     string
	Attachments []Attachment
	ReceivedAt  time.Time
}

// MailClient abstrae el servidor de correo (IMAP, API de buzón...). El poller
// solo necesita listar mensajes no procesados y marcarlos al terminar.
type MailClient interface {
	ListUnread(ctx context.Context, mailbox string) ([]*Message, error)
	MarkProcessed(ctx context.Context, mailbox, messageID string) error
}

// delayThreshold: fallos de transporte consecutivos antes de registrar un
// evento de retraso para la casilla.
const delayThreshold = 3

// Poller revisa periódicamente los buzones de las casillas activas y convierte
// cada adjunto de un remitente autorizado en una llegada del pipeline.
type Poller struct {
	client   MailClient
	service  *application.PipelineService
	interval time.Duration
	log      *zap.Logger

	failures map[uuid.UUID]int // fallos de transporte consecutivos por casilla
}

func NewPoller(client MailClient, service *application.PipelineService, interval time.Duration, log *zap.Logger) *Poller {
	return &Poller{
		client:   client,
		service:  service,
		interval: interval,
		log:      log,
		failures: make(map[uuid.UUID]int),
	}
}

func (p *Poller) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				p.log.Info("🛑 Poller de email detenido")
				return
			case <-ticker.C:
				p.Poll(ctx)
			}
		}
	}()
}

// Poll procesa un ciclo completo sobre todos los buzones. Exportado para
// poder invocarlo de forma síncrona en tests.
func (p *Poller) Poll(ctx context.Context) {
	casillas, err := p.service.ListActiveCasillas(ctx)
	if err != nil {
		p.log.Warn("⚠️ no se pudieron listar casillas activas", zap.Error(err))
		return
	}

	for _, casilla := range casillas {
		if casilla.InboundAddress == "" {
			continue
		}
		p.pollMailbox(ctx, casilla)
	}
}

func (p *Poller) pollMailbox(ctx context.Context, casilla *domain.Casilla) {
	msgs, err := p.client.ListUnread(ctx, casilla.InboundAddress)
	if err != nil {
		p.failures[casilla.ID]++
		p.log.Warn("⚠️ error de transporte leyendo buzón",
			zap.String("buzon", casilla.InboundAddress),
			zap.Int("fallos_consecutivos", p.failures[casilla.ID]),
			zap.Error(err))

		if p.failures[casilla.ID] == delayThreshold {
			msg := fmt.Sprintf("el buzón %s lleva %d ciclos sin poder leerse", casilla.InboundAddress, delayThreshold)
			if derr := p.service.RecordDelay(ctx, casilla.ID, nil, msg); derr != nil {
				p.log.Warn("⚠️ no se pudo registrar evento de retraso", zap.Error(derr))
			}
		}
		return
	}
	p.failures[casilla.ID] = 0

	for _, msg := range msgs {
		p.processMessage(ctx, casilla, msg)
	}
}

// processMessage registra los adjuntos de un mensaje como llegadas. El mensaje
// se marca procesado solo si todas las llegadas quedaron registradas: si algo
// falla se reintentará el ciclo siguiente (entrega al-menos-una-vez).
func (p *Poller) processMessage(ctx context.Context, casilla *domain.Casilla, msg *Message) {
	ec, err := p.service.AuthorizeAddress(ctx, casilla.ID, domain.CanalEmail, msg.From)
	if err != nil {
		// Remitente desconocido: el mensaje se descarta, no se reintenta.
		p.log.Warn("⚠️ remitente no autorizado, mensaje ignorado",
			zap.String("buzon", casilla.InboundAddress),
			zap.String("remitente", msg.From))
		if merr := p.client.MarkProcessed(ctx, casilla.InboundAddress, msg.ID); merr != nil {
			p.log.Warn("⚠️ no se pudo marcar mensaje ignorado", zap.Error(merr))
		}
		return
	}

	for _, att := range msg.Attachments {
		emisorID := ec.EmisorID
		arrival := &domain.Arrival{
			CasillaID:  casilla.ID,
			EmisorID:   &emisorID,
			SenderHint: msg.From,
			Canal:      domain.CanalEmail,
			Filename:   att.Filename,
			Payload:    att.Data,
			ReceivedAt: msg.ReceivedAt,
		}
		if _, err := p.service.Process(ctx, arrival); err != nil {
			p.log.Warn("⚠️ no se pudo procesar adjunto, se reintentará",
				zap.String("fichero", att.Filename),
				zap.Error(err))
			return
		}
	}

	if err := p.client.MarkProcessed(ctx, casilla.InboundAddress, msg.ID); err != nil {
		p.log.Warn("⚠️ no se pudo marcar mensaje como procesado", zap.Error(err))
	}
}
