// Package model provides the default fair-value function used in paper
// mode. The production model is an external collaborator; this one is a
// plain logistic over score margin and time remaining, enough to exercise
// the pipeline end to end.
package model

import (
	"math"

	"github.com/alejandrodnm/oddsbot/internal/domain"
)

// WinProbability devuelve la probabilidad de victoria del lado home en
// [0,1] a partir del marcador y el reloj. Función pura: sin estado, sin I/O.
func WinProbability(ev domain.EventState) float64 {
	if ev.Finished {
		if ev.HomeScore > ev.AwayScore {
			return 1
		}
		if ev.HomeScore < ev.AwayScore {
			return 0
		}
		return 0.5
	}

	margin := float64(ev.HomeScore - ev.AwayScore)

	// Con más tiempo por delante, el margen pesa menos. El factor sale de
	// calibrar contra win-probability charts públicos de NBA: un margen de
	// 10 a falta de 5 minutos ≈ 92%.
	remaining := math.Max(float64(ev.ClockSecs), 1)
	weight := margin / math.Sqrt(remaining/60+1)

	return 1 / (1 + math.Exp(-0.55*weight))
}
