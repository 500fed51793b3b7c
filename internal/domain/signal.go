package domain

import (
	"time"

	"github.com/google/uuid"
)

// Direction indica si la señal pide comprar o vender el lado del contrato.
type Direction string

const (
	DirectionBuy  Direction = "BUY"
	DirectionSell Direction = "SELL"
)

// Signal es una oportunidad detectada por el MarketStateEngine.
// Inmutable una vez creada; solo el engine produce señales.
type Signal struct {
	SignalID          string
	MarketID          string
	Side              Side
	Direction         Direction
	ModelProbability  float64 // probabilidad estimada por el modelo, en [0,1]
	MarketProbability float64 // probabilidad implícita del mercado, en [0,1]
	EdgePct           float64 // gap modelo vs mercado en puntos porcentuales
	Confidence        float64
	EmittedAt         time.Time
}

// NewSignal construye una señal con ID propio y edge calculado.
// La dirección sale del signo del edge: modelo por encima del mercado → BUY.
func NewSignal(marketID string, side Side, model, market, confidence float64, at time.Time) Signal {
	dir := DirectionBuy
	if model < market {
		dir = DirectionSell
	}
	return Signal{
		SignalID:          uuid.NewString(),
		MarketID:          marketID,
		Side:              side,
		Direction:         dir,
		ModelProbability:  model,
		MarketProbability: market,
		EdgePct:           EdgePct(model, market),
		Confidence:        confidence,
		EmittedAt:         at,
	}
}

// EdgePct devuelve el edge en puntos porcentuales (modelo - mercado) × 100.
// Positivo = el mercado infravalora el lado (comprar), negativo = lo sobrevalora.
func EdgePct(model, market float64) float64 {
	return (model - market) * 100
}

// AbsEdge devuelve el valor absoluto del edge.
func (s Signal) AbsEdge() float64 {
	if s.EdgePct < 0 {
		return -s.EdgePct
	}
	return s.EdgePct
}
