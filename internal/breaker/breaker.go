// Package breaker implements the global trading circuit breaker.
//
// One owned state machine over daily P&L and consecutive errors, exposed
// only through atomic read/transition operations. RiskGate and the
// execution engine consult it on every request; their reads are never
// stale by more than one update.
package breaker

import (
	"log/slog"
	"math"
	"sync/atomic"
	"time"
)

// Mode is the breaker state.
type Mode int32

const (
	Closed   Mode = iota // normal trading
	Open                 // trading halted
	HalfOpen             // one probe allowed
)

func (m Mode) String() string {
	switch m {
	case Closed:
		return "CLOSED"
	case Open:
		return "OPEN"
	case HalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// Config are the trip thresholds.
type Config struct {
	MaxDailyLoss    float64       // trip when daily pnl ≤ -MaxDailyLoss
	ErrorThreshold  int64         // trip after N consecutive errors
	Cooldown        time.Duration // Open → HalfOpen after this
}

// Breaker is the circuit breaker state machine. All fields are atomics;
// there is no mutex and no lock is ever held across a caller's I/O.
type Breaker struct {
	cfg Config

	mode        atomic.Int32
	consecutive atomic.Int64
	dailyPnL    atomic.Uint64 // float64 bits, CAS-accumulated
	openedAt    atomic.Int64  // unix nanos, 0 when not open
	probeTaken  atomic.Bool   // single probe gate in HalfOpen
	tripReason  atomic.Value  // string
}

// New creates a Closed breaker.
func New(cfg Config) *Breaker {
	if cfg.ErrorThreshold <= 0 {
		cfg.ErrorThreshold = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 5 * time.Minute
	}
	b := &Breaker{cfg: cfg}
	b.storePnL(0)
	b.tripReason.Store("")
	return b
}

// Mode returns the current mode, promoting Open → HalfOpen when the
// cooldown has elapsed.
func (b *Breaker) Mode() Mode {
	m := Mode(b.mode.Load())
	if m != Open {
		return m
	}
	opened := b.openedAt.Load()
	if opened == 0 || time.Since(time.Unix(0, opened)) < b.cfg.Cooldown {
		return Open
	}
	// Cooldown elapsed: first caller moves to HalfOpen and re-arms the probe.
	if b.mode.CompareAndSwap(int32(Open), int32(HalfOpen)) {
		b.probeTaken.Store(false)
		slog.Info("breaker half-open", "cooldown", b.cfg.Cooldown)
	}
	return Mode(b.mode.Load())
}

// Allow reports whether a new request may proceed. In HalfOpen exactly one
// caller wins the probe; everyone else is refused until the probe resolves.
func (b *Breaker) Allow() bool {
	switch b.Mode() {
	case Closed:
		return true
	case HalfOpen:
		return b.probeTaken.CompareAndSwap(false, true)
	default:
		return false
	}
}

// RecordSuccess reports a request that completed cleanly. A successful
// probe closes the breaker and clears the error streak.
func (b *Breaker) RecordSuccess() {
	b.consecutive.Store(0)
	if Mode(b.mode.Load()) == HalfOpen {
		b.mode.Store(int32(Closed))
		b.openedAt.Store(0)
		b.tripReason.Store("")
		slog.Info("breaker closed after successful probe")
	}
}

// RecordError reports a failed request. A failed probe reopens with a fresh
// cooldown; in Closed mode a streak past the threshold trips the breaker.
func (b *Breaker) RecordError() {
	n := b.consecutive.Add(1)
	if Mode(b.mode.Load()) == HalfOpen {
		b.trip("probe_failed")
		return
	}
	if n >= b.cfg.ErrorThreshold {
		b.trip("consecutive_errors")
	}
}

// ReportPnL accumulates a realized P&L delta into the daily total and trips
// when the total crosses the configured daily loss.
func (b *Breaker) ReportPnL(delta float64) {
	total := b.addPnL(delta)
	if b.cfg.MaxDailyLoss > 0 && total <= -b.cfg.MaxDailyLoss {
		b.trip("max_daily_loss")
	}
}

// Trip halts trading explicitly (operator action or fatal detection).
func (b *Breaker) Trip(reason string) {
	b.trip(reason)
}

// ResetDaily clears the daily P&L total. Invoked on day rollover only,
// never by trading logic.
func (b *Breaker) ResetDaily() {
	b.storePnL(0)
}

// DailyPnL returns the accumulated daily realized P&L.
func (b *Breaker) DailyPnL() float64 {
	return math.Float64frombits(b.dailyPnL.Load())
}

// ConsecutiveErrors returns the current error streak.
func (b *Breaker) ConsecutiveErrors() int64 {
	return b.consecutive.Load()
}

// TripReason returns why the breaker last opened ("" when closed).
func (b *Breaker) TripReason() string {
	r, _ := b.tripReason.Load().(string)
	return r
}

func (b *Breaker) trip(reason string) {
	prev := Mode(b.mode.Swap(int32(Open)))
	b.openedAt.Store(time.Now().UnixNano())
	b.tripReason.Store(reason)
	if prev != Open {
		slog.Warn("breaker tripped",
			"reason", reason,
			"daily_pnl", b.DailyPnL(),
			"consecutive_errors", b.consecutive.Load(),
		)
	}
}

func (b *Breaker) storePnL(v float64) {
	b.dailyPnL.Store(math.Float64bits(v))
}

func (b *Breaker) addPnL(delta float64) float64 {
	for {
		old := b.dailyPnL.Load()
		next := math.Float64frombits(old) + delta
		if b.dailyPnL.CompareAndSwap(old, math.Float64bits(next)) {
			return next
		}
	}
}
