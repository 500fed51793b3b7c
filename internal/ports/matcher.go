package ports

import (
	"context"

	"github.com/alejandrodnm/oddsbot/internal/domain"
)

// EntityMatcher resuelve qué fila de precio corresponde a un label objetivo.
// El core solo acepta matches por encima del floor de confianza; por debajo
// el lookup se trata como miss.
type EntityMatcher interface {
	Match(ctx context.Context, target string, candidates []domain.PriceRow) (domain.Match, error)
}

// PriceSource obtiene las filas de precio actuales de un mercado, para la
// re-evaluación de salidas del position tracker.
type PriceSource interface {
	FetchPriceRows(ctx context.Context, marketID string) ([]domain.PriceRow, error)
}
