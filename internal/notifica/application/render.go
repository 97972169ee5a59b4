package application

import (
	"fmt"
	"sort"
	"strings"

	"github.com/davicafu/casillero/internal/notifica/domain"
)

// RenderBatch produce asunto y cuerpo de una notificación según el nivel de
// detalle de la suscripción.
func RenderBatch(sub *domain.Subscription, events []*domain.Event) (subject, summary string) {
	subject = fmt.Sprintf("[Casillero] %d evento(s) para %s", len(events), sub.Nombre)

	switch sub.DetailLevel {
	case domain.DetailPorEmisor:
		summary = renderByEmisor(events)
	case domain.DetailPorCasilla:
		summary = renderByCasilla(events)
	default:
		summary = renderFull(events)
	}
	return subject, summary
}

// renderFull: una línea por evento, en orden de creación.
func renderFull(events []*domain.Event) string {
	var b strings.Builder
	for _, evt := range events {
		fmt.Fprintf(&b, "- [%s] %s (%s)\n",
			evt.Type, evt.Message, evt.CreatedAt.Format("2006-01-02 15:04"))
	}
	return b.String()
}

// renderByEmisor: recuento de tipos agrupado por emisor.
func renderByEmisor(events []*domain.Event) string {
	type key struct {
		emisor string
		tipo   domain.EventType
	}
	counts := make(map[key]int)
	for _, evt := range events {
		emisor := "(sin emisor)"
		if evt.EmisorID != nil {
			emisor = evt.EmisorID.String()
		}
		counts[key{emisor, evt.Type}]++
	}

	keys := make([]key, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].emisor != keys[j].emisor {
			return keys[i].emisor < keys[j].emisor
		}
		return keys[i].tipo < keys[j].tipo
	})

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "- emisor %s: %d evento(s) de tipo %s\n", k.emisor, counts[k], k.tipo)
	}
	return b.String()
}

// renderByCasilla: recuento global por tipo (todas las suscripciones tienen
// ámbito de una casilla, así que el lote ya es de una sola casilla).
func renderByCasilla(events []*domain.Event) string {
	counts := make(map[domain.EventType]int)
	for _, evt := range events {
		counts[evt.Type]++
	}

	tipos := make([]domain.EventType, 0, len(counts))
	for t := range counts {
		tipos = append(tipos, t)
	}
	sort.Slice(tipos, func(i, j int) bool { return tipos[i] < tipos[j] })

	var b strings.Builder
	for _, t := range tipos {
		fmt.Fprintf(&b, "- %d evento(s) de tipo %s\n", counts[t], t)
	}
	return b.String()
}
