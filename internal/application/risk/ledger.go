package risk

import (
	"sync"

	"github.com/alejandrodnm/oddsbot/internal/domain"
)

// Limits are the exposure caps the ledger enforces on reservation.
type Limits struct {
	MaxMarketExposure   float64
	MaxCategoryExposure float64
	MaxDailyLoss        float64
}

// Snapshot is a consistent read of the ledger, taken under one lock
// acquisition so sizing and checks never mix two states.
type Snapshot struct {
	Available     float64
	Reserve       float64
	DailyRealized float64
	ByMarket      map[string]float64
	ByCategory    map[string]float64
}

// Ledger tracks available balance, per-market and per-category exposure,
// and daily realized P&L. Writes follow a reserve → finalize-or-release
// discipline: the mutex guards in-memory math only and is never held
// across I/O, so unrelated markets don't serialize behind one request.
type Ledger struct {
	mu         sync.Mutex
	available  float64
	reserve    float64 // swept profit, excluded from sizing
	byMarket   map[string]float64
	byCategory map[string]float64
	dailyPnL   float64
}

// NewLedger creates a ledger with the given starting bankroll.
func NewLedger(initial float64) *Ledger {
	return &Ledger{
		available:  initial,
		byMarket:   make(map[string]float64),
		byCategory: make(map[string]float64),
	}
}

// Snapshot returns a consistent copy of the ledger state.
func (l *Ledger) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	snap := Snapshot{
		Available:     l.available,
		Reserve:       l.reserve,
		DailyRealized: l.dailyPnL,
		ByMarket:      make(map[string]float64, len(l.byMarket)),
		ByCategory:    make(map[string]float64, len(l.byCategory)),
	}
	for k, v := range l.byMarket {
		snap.ByMarket[k] = v
	}
	for k, v := range l.byCategory {
		snap.ByCategory[k] = v
	}
	return snap
}

// TryReserve checks every limit and reserves size against the ledger in one
// critical section. Returns "" on success or the structured reject reason.
// Re-checking under the lock closes the time-of-check/time-of-use gap
// between the sizing snapshot and the reservation.
func (l *Ledger) TryReserve(marketID, category string, size float64, lim Limits) domain.RejectReason {
	l.mu.Lock()
	defer l.mu.Unlock()

	if size > l.available {
		return domain.RejectInsufficientFunds
	}
	if lim.MaxMarketExposure > 0 && l.byMarket[marketID]+size > lim.MaxMarketExposure {
		return domain.RejectMaxMarketExposure
	}
	if lim.MaxCategoryExposure > 0 && l.byCategory[category]+size > lim.MaxCategoryExposure {
		return domain.RejectMaxCategoryExposure
	}
	if lim.MaxDailyLoss > 0 && l.dailyPnL <= -lim.MaxDailyLoss {
		return domain.RejectMaxDailyLoss
	}

	l.available -= size
	l.byMarket[marketID] += size
	l.byCategory[category] += size
	return ""
}

// Finalize settles a reservation after a Filled/Partial result: the unfilled
// remainder goes back to available, the filled portion stays as exposure.
func (l *Ledger) Finalize(marketID, category, _ string, reserved, filled float64) {
	if filled > reserved {
		filled = reserved
	}
	unfilled := reserved - filled

	l.mu.Lock()
	defer l.mu.Unlock()
	l.available += unfilled
	l.byMarket[marketID] -= unfilled
	l.byCategory[category] -= unfilled
	l.clampZero(marketID, category)
}

// Release returns a full reservation after a Rejected/Cancelled/Failed result.
func (l *Ledger) Release(marketID, category string, reserved float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.available += reserved
	l.byMarket[marketID] -= reserved
	l.byCategory[category] -= reserved
	l.clampZero(marketID, category)
}

// SettleClose books a closed position: exposure drops by the stake, the
// stake plus P&L returns to available, and a fraction of positive P&L is
// swept into the segregated reserve. Returns the swept amount.
func (l *Ledger) SettleClose(marketID, category string, stake, pnl, sweepFraction float64) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.byMarket[marketID] -= stake
	l.byCategory[category] -= stake
	l.clampZero(marketID, category)

	l.available += stake + pnl
	l.dailyPnL += pnl

	var swept float64
	if pnl > 0 && sweepFraction > 0 {
		swept = pnl * sweepFraction
		l.available -= swept
		l.reserve += swept
	}
	return swept
}

// ResetDaily clears the daily realized P&L. Day rollover only.
func (l *Ledger) ResetDaily() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.dailyPnL = 0
}

// Available returns the balance usable for new positions.
func (l *Ledger) Available() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.available
}

// ReserveBalance returns the swept profit balance.
func (l *Ledger) ReserveBalance() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.reserve
}

// DailyRealized returns today's realized P&L.
func (l *Ledger) DailyRealized() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dailyPnL
}

// clampZero keeps exposure maps at ≥ 0 after float arithmetic and drops
// empty keys so the maps don't grow with dead markets.
func (l *Ledger) clampZero(marketID, category string) {
	if l.byMarket[marketID] <= 1e-9 {
		delete(l.byMarket, marketID)
	}
	if l.byCategory[category] <= 1e-9 {
		delete(l.byCategory, category)
	}
}
