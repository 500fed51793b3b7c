package domain

import "time"

// PriceRow es una fila de precio candidata para un lado de un mercado,
// tal como llega del feed o de la API del venue.
type PriceRow struct {
	MarketID  string
	Label     string // label del lado tal como lo publica el venue
	Price     float64
	Liquidity float64
	Timestamp time.Time
}

// Match es el resultado del entity matcher para un label objetivo.
// Confidence en [0,1]; por debajo del floor configurado el lookup se trata
// como miss y la posición se mantiene sin evaluar — nunca se cierra contra
// un precio del lado equivocado.
type Match struct {
	Row        *PriceRow
	Confidence float64
	Method     string // "exact", "normalized", "fuzzy", ...
}

// DefaultMatchFloor es el umbral de confianza por defecto para aceptar un match.
const DefaultMatchFloor = 0.7

// Accepted devuelve true si el match supera el floor dado y tiene fila.
func (m Match) Accepted(floor float64) bool {
	return m.Row != nil && m.Confidence >= floor
}
