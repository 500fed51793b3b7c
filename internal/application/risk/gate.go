package risk

import (
	"log/slog"
	"math"
	"time"

	"github.com/alejandrodnm/oddsbot/internal/breaker"
	"github.com/alejandrodnm/oddsbot/internal/domain"
	"github.com/alejandrodnm/oddsbot/internal/orderbook"
)

// Config controls sizing and the exposure limits.
type Config struct {
	KellyFraction       float64       // scaled-down Kelly multiple
	MinSize             float64       // USDC
	MaxPositionPct      float64       // cap as fraction of available balance
	MaxMarketExposure   float64       // USDC per market
	MaxCategoryExposure float64       // USDC per category
	MaxDailyLoss        float64       // USDC
	Bucket              time.Duration // idempotency time bucket
}

// DefaultConfig returns conservative defaults.
func DefaultConfig() Config {
	return Config{
		KellyFraction:       0.25,
		MinSize:             1,
		MaxPositionPct:      0.10,
		MaxMarketExposure:   100,
		MaxCategoryExposure: 500,
		MaxDailyLoss:        200,
		Bucket:              5 * time.Minute,
	}
}

// Decision is the terminal outcome of gating one signal: either an
// ExecutionRequest with a live reservation, or a structured rejection.
type Decision struct {
	Request  domain.ExecutionRequest
	Reserved float64
	Reason   domain.RejectReason // "" when approved
}

// Approved reports whether the signal passed every gate.
func (d Decision) Approved() bool { return d.Reason == "" }

// Gate sizes signals with fractional Kelly and enforces bankroll, exposure
// and daily-loss limits against the shared ledger. One instance serves
// every market engine concurrently.
type Gate struct {
	cfg      Config
	ledger   *Ledger
	breaker  *breaker.Breaker
	book     *orderbook.Book
	category func(marketID string) string
}

// NewGate creates the gate. categoryFn maps a market to its exposure
// category (sport, league...); nil maps everything to "default".
func NewGate(cfg Config, ledger *Ledger, brk *breaker.Breaker, book *orderbook.Book, categoryFn func(string) string) *Gate {
	if categoryFn == nil {
		categoryFn = func(string) string { return "default" }
	}
	if cfg.KellyFraction <= 0 {
		cfg.KellyFraction = 0.25
	}
	if cfg.MaxPositionPct <= 0 {
		cfg.MaxPositionPct = 0.10
	}
	return &Gate{cfg: cfg, ledger: ledger, breaker: brk, book: book, category: categoryFn}
}

// Decide evaluates one signal. Rejections are data, not errors: they are
// logged and returned with a reason, and the pipeline keeps running.
// On approval the returned request carries a provisional reservation that
// the caller must finalize or release from the ExecutionResult.
func (g *Gate) Decide(sig domain.Signal) Decision {
	if g.breaker.Mode() == breaker.Open {
		return g.reject(sig, domain.RejectCircuitOpen)
	}

	limitPrice := g.limitPrice(sig)
	size := g.kellySize(sig, limitPrice)
	if size < g.cfg.MinSize {
		return g.reject(sig, domain.RejectBelowMinSize)
	}

	category := g.category(sig.MarketID)
	reason := g.ledger.TryReserve(sig.MarketID, category, size, Limits{
		MaxMarketExposure:   g.cfg.MaxMarketExposure,
		MaxCategoryExposure: g.cfg.MaxCategoryExposure,
		MaxDailyLoss:        g.cfg.MaxDailyLoss,
	})
	if reason != "" {
		return g.reject(sig, reason)
	}

	// The HalfOpen probe slot is consumed here, after every other gate
	// passed, so a sizing rejection can't burn the single probe.
	if !g.breaker.Allow() {
		g.ledger.Release(sig.MarketID, category, size)
		return g.reject(sig, domain.RejectCircuitOpen)
	}

	req := domain.NewExecutionRequest(sig, category, limitPrice, size, g.cfg.Bucket)
	slog.Debug("risk: approved",
		"market", sig.MarketID,
		"side", sig.Side,
		"direction", sig.Direction,
		"size", size,
		"limit", limitPrice,
		"key", req.IdempotencyKey,
	)
	return Decision{Request: req, Reserved: size}
}

// Finalize settles the reservation for a completed request.
func (g *Gate) Finalize(req domain.ExecutionRequest, reserved float64, res domain.ExecutionResult) {
	if res.Opened() {
		g.ledger.Finalize(req.MarketID, req.Category, req.RequestID, reserved, res.FilledQty)
		return
	}
	g.ledger.Release(req.MarketID, req.Category, reserved)
}

// limitPrice picks the marketable side of the cached book: ask for a buy,
// bid for a sell. Falls back to the signal's market probability when no
// quote is cached yet.
func (g *Gate) limitPrice(sig domain.Signal) float64 {
	if g.book != nil {
		if q, ok := g.book.Get(sig.MarketID); ok {
			if sig.Direction == domain.DirectionBuy && q.BestAsk > 0 {
				return q.BestAsk
			}
			if sig.Direction == domain.DirectionSell && q.BestBid > 0 {
				return q.BestBid
			}
		}
	}
	return sig.MarketProbability
}

// kellySize computes size = available × (edge/odds) × kellyFraction, clamped
// to [MinSize, MaxPositionPct × available]. odds is the net decimal payout
// of a binary contract bought at price p: (1-p)/p.
func (g *Gate) kellySize(sig domain.Signal, price float64) float64 {
	available := g.ledger.Available()
	if available <= 0 || price <= 0 || price >= 1 {
		return 0
	}

	edge := math.Abs(sig.ModelProbability-sig.MarketProbability)
	odds := (1 - price) / price
	if odds <= 0 {
		return 0
	}

	size := available * (edge / odds) * g.cfg.KellyFraction
	maxSize := g.cfg.MaxPositionPct * available
	if size > maxSize {
		size = maxSize
	}
	if size > available {
		size = available
	}
	return size
}

func (g *Gate) reject(sig domain.Signal, reason domain.RejectReason) Decision {
	slog.Info("risk: rejected",
		"market", sig.MarketID,
		"side", sig.Side,
		"reason", string(reason),
		"edge_pct", sig.EdgePct,
	)
	return Decision{Reason: reason}
}
