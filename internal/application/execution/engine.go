package execution

import (
	"context"
	"log/slog"
	"time"

	"github.com/alejandrodnm/oddsbot/internal/breaker"
	"github.com/alejandrodnm/oddsbot/internal/domain"
	"github.com/alejandrodnm/oddsbot/internal/ports"
)

// Engine turns approved ExecutionRequests into venue orders with IOC/FAK
// semantics, deduplicated per idempotency key by the Tracker. It never
// panics on venue failures: every outcome is a typed ExecutionResult and
// repeated failures escalate through the circuit breaker.
type Engine struct {
	placer  ports.OrderPlacer
	tracker *Tracker
	breaker *breaker.Breaker
}

// NewEngine creates the execution engine.
func NewEngine(placer ports.OrderPlacer, tracker *Tracker, brk *breaker.Breaker) *Engine {
	if tracker == nil {
		tracker = NewTracker(DefaultSlots)
	}
	return &Engine{placer: placer, tracker: tracker, breaker: brk}
}

// Execute places the request. A duplicate in-flight key short-circuits as a
// structured rejection without contacting the venue. The tracker slot is
// held only for the venue round trip — IOC orders never rest on the book,
// so release on return bounds the in-flight window.
func (e *Engine) Execute(ctx context.Context, req domain.ExecutionRequest) domain.ExecutionResult {
	if e.breaker.Mode() == breaker.Open {
		return domain.Rejected(req.RequestID, domain.RejectCircuitOpen)
	}

	if !e.tracker.TryAcquire(req.IdempotencyKey) {
		slog.Debug("execution: duplicate in flight",
			"market", req.MarketID,
			"key", req.IdempotencyKey,
		)
		return domain.Rejected(req.RequestID, domain.RejectDuplicateInFlight)
	}
	defer e.tracker.Release(req.IdempotencyKey)

	start := time.Now()
	res, err := e.placer.PlaceIOC(ctx, req)
	latency := time.Since(start)

	if err != nil {
		// Transient venue failure: typed result, breaker counts the streak.
		e.breaker.RecordError()
		slog.Warn("execution: venue error",
			"market", req.MarketID,
			"side", req.Side,
			"err", err,
			"latency", latency.Round(time.Millisecond),
		)
		return domain.ExecutionResult{
			RequestID:   req.RequestID,
			Status:      domain.ExecStatusFailed,
			Latency:     latency,
			CompletedAt: time.Now().UTC(),
		}
	}

	res.RequestID = req.RequestID
	res.Latency = latency
	if res.CompletedAt.IsZero() {
		res.CompletedAt = time.Now().UTC()
	}
	if res.FilledQty > req.Size {
		res.FilledQty = req.Size
	}

	if res.Status == domain.ExecStatusFailed {
		e.breaker.RecordError()
	} else {
		e.breaker.RecordSuccess()
	}

	slog.Info("execution: completed",
		"market", req.MarketID,
		"side", req.Side,
		"direction", req.Direction,
		"status", string(res.Status),
		"filled", res.FilledQty,
		"avg_price", res.AvgPrice,
		"fees", res.Fees,
		"latency", latency.Round(time.Millisecond),
	)
	return res
}
