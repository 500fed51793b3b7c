package ports

import (
	"context"

	"github.com/alejandrodnm/oddsbot/internal/domain"
)

// FeedSource entrega ticks de precio y actualizaciones de estado del evento.
// El core trata el feed como at-most-once por tick id y tolera huecos:
// un tick ausente es staleness, nunca precio cero.
type FeedSource interface {
	// Subscribe arranca el feed y devuelve los canales de ticks y eventos.
	// Ambos se cierran cuando el contexto se cancela.
	Subscribe(ctx context.Context) (<-chan domain.PriceTick, <-chan domain.EventUpdate, error)
}
