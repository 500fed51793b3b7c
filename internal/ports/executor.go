package ports

import (
	"context"

	"github.com/alejandrodnm/oddsbot/internal/domain"
)

// OrderPlacer places an immediate-or-cancel order at the venue.
//
// The order fills whatever it can at-or-better-than the limit price and
// cancels any remainder instead of resting on the book, so an in-flight
// order lives at most one venue round trip. The paper implementation must
// return results with exactly the same shape as live.
type OrderPlacer interface {
	PlaceIOC(ctx context.Context, req domain.ExecutionRequest) (domain.ExecutionResult, error)
}
