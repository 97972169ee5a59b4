package email

import (
	"context"
	"fmt"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/davicafu/casillero/internal/notifica/domain"
)

// SendGridSender entrega correos vía la API de SendGrid. Los códigos 4xx se
// clasifican como permanentes (dirección o petición malformada); el resto de
// fallos son transitorios y el dispatcher los reintenta.
type SendGridSender struct {
	apiKey   string
	from     string
	fromName string
}

func NewSendGridSender(apiKey, from, fromName string) *SendGridSender {
	return &SendGridSender{apiKey: apiKey, from: from, fromName: fromName}
}

func (s *SendGridSender) Send(ctx context.Context, to, subject, body string) error {
	message := mail.NewSingleEmail(
		mail.NewEmail(s.fromName, s.from),
		subject,
		mail.NewEmail("", to),
		body,
		"", // solo texto plano
	)

	client := sendgrid.NewSendClient(s.apiKey)
	response, err := client.SendWithContext(ctx, message)
	if err != nil {
		return &domain.DeliveryError{Err: fmt.Errorf("sendgrid: %w", err)}
	}

	switch {
	case response.StatusCode >= 200 && response.StatusCode < 300:
		return nil
	case response.StatusCode >= 400 && response.StatusCode < 500 && response.StatusCode != 429:
		return &domain.DeliveryError{
			Permanent: true,
			Code:      response.StatusCode,
			Err:       fmt.Errorf("sendgrid rejected message: %s", response.Body),
		}
	default:
		return &domain.DeliveryError{
			Code: response.StatusCode,
			Err:  fmt.Errorf("sendgrid returned %d", response.StatusCode),
		}
	}
}

// Verificación estática de la interfaz.
var _ domain.MailSender = (*SendGridSender)(nil)
