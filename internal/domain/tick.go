package domain

import "time"

// Side es el lado de un contrato binario ("Home", "Away", "Yes", "No"...).
// El feed y el matcher trabajan con labels, no con ids de token.
type Side string

// PriceTick es un tick de precio del feed para un lado de un mercado.
type PriceTick struct {
	TickID    string
	MarketID  string
	Side      Side
	YesPrice  float64 // precio del contrato YES en (0,1)
	NoPrice   float64 // precio del contrato NO en (0,1)
	Liquidity float64 // USDC disponibles en el best level
	Timestamp time.Time
}

// ImpliedProbability devuelve la probabilidad implícita del mercado
// usando el midpoint entre YES y el complemento de NO.
func (t PriceTick) ImpliedProbability() float64 {
	if t.YesPrice <= 0 || t.NoPrice <= 0 {
		return 0
	}
	return (t.YesPrice + (1 - t.NoPrice)) / 2
}

// Valid devuelve true si el tick tiene precios coherentes de un contrato binario.
// Un tick con precios fuera de (0,1) o con timestamp cero está corrupto.
func (t PriceTick) Valid() bool {
	if t.MarketID == "" || t.Side == "" {
		return false
	}
	if t.YesPrice <= 0 || t.YesPrice >= 1 {
		return false
	}
	if t.NoPrice <= 0 || t.NoPrice >= 1 {
		return false
	}
	return !t.Timestamp.IsZero()
}

// Age devuelve la antigüedad del tick respecto a now.
func (t PriceTick) Age(now time.Time) time.Duration {
	return now.Sub(t.Timestamp)
}

// EventState es el estado del evento subyacente (marcador, reloj...).
// El cálculo de fair value a partir de este estado se inyecta desde fuera
// como función pura — el core no conoce el deporte.
type EventState struct {
	MarketID   string
	HomeScore  int
	AwayScore  int
	ClockSecs  int  // segundos restantes de juego
	Period     int
	Finished   bool // el evento terminó → el mercado se liquida
	Timestamp  time.Time
}

// FairValueFunc convierte el estado del evento en una probabilidad de
// victoria del lado "home" en [0,1]. Implementada por el modelo externo.
type FairValueFunc func(EventState) float64

// EventUpdate es un mensaje de actualización de estado del feed.
type EventUpdate struct {
	MarketID  string
	State     EventState
	Timestamp time.Time
}
