package webhook

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/davicafu/casillero/internal/notifica/domain"
)

const defaultAPIKeyHeader = "X-API-Key"

// RestySender entrega notificaciones a webhooks HTTP. Respuestas 2xx son
// éxito; 4xx (salvo 429) son fallos permanentes; 5xx, 429 y errores de red
// son transitorios.
type RestySender struct {
	client *resty.Client
}

func NewRestySender(timeout time.Duration) *RestySender {
	client := resty.New().
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
	return &RestySender{client: client}
}

func (s *RestySender) Send(ctx context.Context, cfg *domain.WebhookConfig, body []byte) (int, error) {
	req := s.client.R().SetContext(ctx).SetBody(body)

	for k, v := range cfg.Headers {
		req.SetHeader(k, v)
	}

	if cfg.RequireAuth {
		switch cfg.AuthType {
		case domain.AuthBasic:
			req.SetBasicAuth(cfg.Username, cfg.Password)
		case domain.AuthBearer:
			req.SetAuthToken(cfg.Token)
		case domain.AuthAPIKey:
			header := cfg.APIKeyHeader
			if header == "" {
				header = defaultAPIKeyHeader
			}
			req.SetHeader(header, cfg.APIKey)
		default:
			// Validate() impide llegar aquí; si pasa, es un fallo de config.
			return 0, &domain.DeliveryError{Permanent: true, Err: domain.ErrWebhookAuthTypeMissing}
		}
	}

	resp, err := req.Execute(cfg.HTTPMethod(), cfg.URL)
	if err != nil {
		return 0, &domain.DeliveryError{Err: fmt.Errorf("webhook %s: %w", cfg.URL, err)}
	}

	code := resp.StatusCode()
	switch {
	case code >= 200 && code < 300:
		return code, nil
	case code >= 400 && code < 500 && code != 429:
		return code, &domain.DeliveryError{
			Permanent: true,
			Code:      code,
			Err:       fmt.Errorf("webhook %s rejected with %d", cfg.URL, code),
		}
	default:
		return code, &domain.DeliveryError{
			Code: code,
			Err:  fmt.Errorf("webhook %s returned %d", cfg.URL, code),
		}
	}
}

// Verificación estática de la interfaz.
var _ domain.WebhookSender = (*RestySender)(nil)
