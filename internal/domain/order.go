package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ExecutionStatus representa el desenlace de una ExecutionRequest en el venue.
type ExecutionStatus string

const (
	ExecStatusFilled    ExecutionStatus = "FILLED"
	ExecStatusPartial   ExecutionStatus = "PARTIAL"
	ExecStatusRejected  ExecutionStatus = "REJECTED"
	ExecStatusCancelled ExecutionStatus = "CANCELLED"
	ExecStatusFailed    ExecutionStatus = "FAILED"
)

// RejectReason clasifica los rechazos estructurados del pipeline.
// Un rechazo es un resultado terminal observable, nunca un error de Go.
type RejectReason string

const (
	RejectInsufficientFunds   RejectReason = "insufficient_funds"
	RejectMaxMarketExposure   RejectReason = "max_market_exposure"
	RejectMaxCategoryExposure RejectReason = "max_category_exposure"
	RejectMaxDailyLoss        RejectReason = "max_daily_loss"
	RejectCircuitOpen         RejectReason = "circuit_open"
	RejectDuplicateInFlight   RejectReason = "duplicate_in_flight"
	RejectBelowMinSize        RejectReason = "below_min_size"
)

// ExecutionRequest es una orden dimensionada y aprobada por el RiskGate,
// lista para ejecutarse con semántica IOC/FAK.
type ExecutionRequest struct {
	RequestID      string
	IdempotencyKey string
	MarketID       string
	Side           Side
	Direction      Direction
	Category       string  // categoría de exposición (p.ej. deporte o liga)
	LimitPrice     float64 // en (0,1)
	Size           float64 // USDC, > 0
	SignalRef      string  // SignalID que originó la request
	CreatedAt      time.Time
}

// NewExecutionRequest construye la request con ID propio y la idempotency key
// derivada de la identidad económica de la señal, no de su SignalID.
func NewExecutionRequest(sig Signal, category string, limitPrice, size float64, bucket time.Duration) ExecutionRequest {
	return ExecutionRequest{
		RequestID:      uuid.NewString(),
		IdempotencyKey: IdempotencyKey(sig.MarketID, sig.Side, sig.Direction, sig.EmittedAt, bucket),
		MarketID:       sig.MarketID,
		Side:           sig.Side,
		Direction:      sig.Direction,
		Category:       category,
		LimitPrice:     limitPrice,
		Size:           size,
		SignalRef:      sig.SignalID,
		CreatedAt:      sig.EmittedAt,
	}
}

// IdempotencyKey deriva la clave que colapsa señales económicamente
// equivalentes: mismo (market, side, direction) dentro del mismo bucket
// temporal → misma key. Señales repetidas mientras la oportunidad sigue
// abierta producen una sola ejecución.
func IdempotencyKey(marketID string, side Side, dir Direction, at time.Time, bucket time.Duration) string {
	if bucket <= 0 {
		bucket = 5 * time.Minute
	}
	b := at.UTC().Truncate(bucket).Unix()
	return fmt.Sprintf("%s|%s|%s|%d", marketID, side, dir, b)
}

// ExecutionResult es el desenlace de una ExecutionRequest.
// Los paths simulado y live producen exactamente la misma forma.
type ExecutionResult struct {
	RequestID    string
	Status       ExecutionStatus
	Reason       RejectReason // solo para REJECTED
	FilledQty    float64      // ≤ Size de la request
	AvgPrice     float64
	Fees         float64
	Latency      time.Duration
	CompletedAt  time.Time
}

// Opened devuelve true si el resultado abre (o amplía) una posición.
func (r ExecutionResult) Opened() bool {
	return r.Status == ExecStatusFilled || r.Status == ExecStatusPartial
}

// Terminal devuelve true si el resultado libera la reserva de exposición.
func (r ExecutionResult) Terminal() bool {
	switch r.Status {
	case ExecStatusRejected, ExecStatusCancelled, ExecStatusFailed:
		return true
	}
	return false
}

// Rejected construye un resultado de rechazo estructurado para una request.
func Rejected(requestID string, reason RejectReason) ExecutionResult {
	return ExecutionResult{
		RequestID:   requestID,
		Status:      ExecStatusRejected,
		Reason:      reason,
		CompletedAt: time.Now().UTC(),
	}
}
