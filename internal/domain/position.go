package domain

import "time"

// PositionStatus represents the lifecycle of an open position.
type PositionStatus string

const (
	PositionOpen       PositionStatus = "OPEN"
	PositionHolding    PositionStatus = "HOLDING_FOR_SETTLEMENT"
	PositionClosed     PositionStatus = "CLOSED"
	PositionQuarantine PositionStatus = "QUARANTINED"
)

// Position is an open stake in one side of a market. Created from a
// Filled/Partial ExecutionResult, mutated only by the position tracker.
type Position struct {
	TradeID     string
	MarketID    string
	Side        Side
	Direction   Direction
	Category    string
	EntryPrice  float64
	Size        float64 // USDC deployed
	EntryFees   float64
	Status      PositionStatus
	OpenedAt    time.Time
	ClosedAt    *time.Time
	ExitPrice   float64
	RealizedPnL float64 // set on close, fees included
	RequestRef  string  // ExecutionRequest that created it
}

// Shares devuelve las unidades de contrato compradas (size / entry).
func (p Position) Shares() float64 {
	if p.EntryPrice <= 0 {
		return 0
	}
	return p.Size / p.EntryPrice
}

// FavorableMove returns the signed price movement in the position's favor:
// positive = the position is winning at the given price. A BUY wins when the
// price rises, a SELL when it falls.
func (p Position) FavorableMove(price float64) float64 {
	move := price - p.EntryPrice
	if p.Direction == DirectionSell {
		move = -move
	}
	return move
}

// MovePct returns the favorable movement as a fraction of the entry price.
func (p Position) MovePct(price float64) float64 {
	if p.EntryPrice <= 0 {
		return 0
	}
	return p.FavorableMove(price) / p.EntryPrice
}

// PnLAt computes the realized P&L if the position were closed at the given
// price, with exit fees included. Entry fees were already paid on open.
func (p Position) PnLAt(price, exitFees float64) float64 {
	return p.Shares()*p.FavorableMove(price) - exitFees - p.EntryFees
}

// PositionTransition es el registro append-only de un cambio de estado.
type PositionTransition struct {
	TradeID   string
	From      PositionStatus
	To        PositionStatus
	Price     float64
	PnL       float64
	Reason    string // "take_profit", "stop_loss", "settlement_hold", ...
	At        time.Time
}
