package ports

import (
	"context"
	"time"

	"github.com/alejandrodnm/oddsbot/internal/domain"
)

// Notifier emite eventos estructurados de rechazo/fallo y el estado de las
// posiciones. La entrega es fire-and-forget: nunca bloquea el pipeline.
type Notifier interface {
	// Rejection reporta un rechazo terminal del pipeline.
	Rejection(ctx context.Context, marketID string, side domain.Side, reason domain.RejectReason)

	// Failure reporta un fallo transitorio de un componente.
	Failure(ctx context.Context, component string, err error)

	// Positions muestra el estado actual de las posiciones abiertas.
	Positions(ctx context.Context, positions []domain.Position) error

	// Heartbeat señala que un componente lógico sigue vivo.
	Heartbeat(component string, at time.Time)
}
