package ports

import (
	"context"

	"github.com/alejandrodnm/oddsbot/internal/domain"
)

// Journal persiste registros append-only del pipeline. El core no depende
// de leerlos de vuelta — todo el estado autoritativo vive en proceso.
type Journal interface {
	AppendSignal(ctx context.Context, s domain.Signal) error
	AppendRequest(ctx context.Context, r domain.ExecutionRequest) error
	AppendResult(ctx context.Context, r domain.ExecutionResult) error
	AppendTransition(ctx context.Context, t domain.PositionTransition) error

	// Close cierra la conexión limpiamente.
	Close() error
}
