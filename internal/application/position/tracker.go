package position

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alejandrodnm/oddsbot/internal/application/risk"
	"github.com/alejandrodnm/oddsbot/internal/breaker"
	"github.com/alejandrodnm/oddsbot/internal/domain"
	"github.com/alejandrodnm/oddsbot/internal/ports"
)

// Config controls the exit policy.
type Config struct {
	TakeProfitPct    float64            // favorable move fraction that closes
	StopLossPct      float64            // default adverse move fraction
	StopLossByCat    map[string]float64 // per-category stop-loss override
	MinHold          time.Duration      // no exit evaluation before this
	MatchFloor       float64            // entity-match confidence floor
	SettleBandLow    float64            // price ≤ low → hold for settlement
	SettleBandHigh   float64            // price ≥ high → hold for settlement
	SweepFraction    float64            // share of positive pnl moved to reserve
	ExitFeeRate      float64            // venue fee on the exit notional
	EvalInterval     time.Duration
}

// DefaultConfig returns the default exit policy.
func DefaultConfig() Config {
	return Config{
		TakeProfitPct:  0.05,
		StopLossPct:    0.10,
		MinHold:        10 * time.Second,
		MatchFloor:     domain.DefaultMatchFloor,
		SettleBandLow:  0.02,
		SettleBandHigh: 0.98,
		SweepFraction:  0.30,
		ExitFeeRate:    0.02,
		EvalInterval:   5 * time.Second,
	}
}

// Tracker owns every open position: it creates them from fill results,
// re-evaluates exits against matcher-validated prices, books realized P&L
// into the ledger and reports it to the circuit breaker.
type Tracker struct {
	cfg      Config
	prices   ports.PriceSource
	matcher  ports.EntityMatcher
	ledger   *risk.Ledger
	breaker  *breaker.Breaker
	journal  ports.Journal
	notifier ports.Notifier
	now      func() time.Time

	mu   sync.Mutex
	open map[string]*domain.Position // trade id → position

	subMu sync.Mutex
	subs  []chan domain.PositionTransition
}

// NewTracker creates the tracker. journal and notifier may be nil in tests.
func NewTracker(cfg Config, prices ports.PriceSource, matcher ports.EntityMatcher, ledger *risk.Ledger, brk *breaker.Breaker, journal ports.Journal, notifier ports.Notifier) *Tracker {
	if cfg.MatchFloor <= 0 {
		cfg.MatchFloor = domain.DefaultMatchFloor
	}
	if cfg.EvalInterval <= 0 {
		cfg.EvalInterval = 5 * time.Second
	}
	return &Tracker{
		cfg:      cfg,
		prices:   prices,
		matcher:  matcher,
		ledger:   ledger,
		breaker:  brk,
		journal:  journal,
		notifier: notifier,
		now:      time.Now,
		open:     make(map[string]*domain.Position),
	}
}

// OnResult opens a position from a Filled/Partial execution result.
// Every position traces to exactly one result. Non-fill results are ignored.
func (t *Tracker) OnResult(ctx context.Context, req domain.ExecutionRequest, res domain.ExecutionResult) {
	if !res.Opened() || res.FilledQty <= 0 {
		return
	}

	pos := &domain.Position{
		TradeID:    uuid.NewString(),
		MarketID:   req.MarketID,
		Side:       req.Side,
		Direction:  req.Direction,
		Category:   req.Category,
		EntryPrice: res.AvgPrice,
		Size:       res.FilledQty,
		EntryFees:  res.Fees,
		Status:     domain.PositionOpen,
		OpenedAt:   t.now(),
		RequestRef: req.RequestID,
	}

	t.mu.Lock()
	t.open[pos.TradeID] = pos
	t.mu.Unlock()

	slog.Info("position: opened",
		"trade", pos.TradeID,
		"market", pos.MarketID,
		"side", pos.Side,
		"direction", pos.Direction,
		"entry", pos.EntryPrice,
		"size", pos.Size,
	)
	t.transition(ctx, pos, "", domain.PositionOpen, pos.EntryPrice, 0, "filled")
}

// Run re-evaluates exits on a fixed interval until the context is cancelled.
func (t *Tracker) Run(ctx context.Context) {
	ticker := time.NewTicker(t.cfg.EvalInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.EvaluateAll(ctx)
			if t.notifier != nil {
				t.notifier.Heartbeat("position_tracker", t.now())
			}
		}
	}
}

// EvaluateAll runs one exit evaluation pass over every open position.
// Positions are snapshotted first: no lock is held across price lookups.
func (t *Tracker) EvaluateAll(ctx context.Context) {
	t.mu.Lock()
	snapshot := make([]*domain.Position, 0, len(t.open))
	for _, p := range t.open {
		snapshot = append(snapshot, p)
	}
	t.mu.Unlock()

	for _, p := range snapshot {
		t.evaluate(ctx, p)
	}
}

// evaluate applies the exit policy to one position.
func (t *Tracker) evaluate(ctx context.Context, p *domain.Position) {
	// Status lo escriben close y setStatus bajo t.mu; leerlo sin el lock
	// sería una carrera con los settlements concurrentes.
	t.mu.Lock()
	status := p.Status
	t.mu.Unlock()
	if status == domain.PositionHolding || status == domain.PositionQuarantine || status == domain.PositionClosed {
		return
	}

	// Corrupted entries are quarantined, never traded again, and never
	// crash the process.
	if p.EntryPrice <= 0 || p.Size <= 0 {
		slog.Error("position: corrupt state, quarantining",
			"trade", p.TradeID, "entry", p.EntryPrice, "size", p.Size)
		t.setStatus(ctx, p, domain.PositionQuarantine, 0, 0, "corrupt_state")
		return
	}

	// Spurious feed swings right after the fill must not trigger exits.
	if t.now().Sub(p.OpenedAt) < t.cfg.MinHold {
		return
	}

	rows, err := t.prices.FetchPriceRows(ctx, p.MarketID)
	if err != nil {
		t.fail(ctx, "position_tracker", err)
		return
	}

	match, err := t.matcher.Match(ctx, string(p.Side), rows)
	if err != nil {
		t.fail(ctx, "entity_matcher", err)
		return
	}
	if !match.Accepted(t.cfg.MatchFloor) {
		// No confident match for this side: hold rather than risk exiting
		// against the wrong side of the contract.
		slog.Debug("position: no confident side match, holding",
			"trade", p.TradeID,
			"market", p.MarketID,
			"side", p.Side,
			"confidence", match.Confidence,
		)
		return
	}

	price := match.Row.Price

	// Settlement-adjacent: ride to natural settlement instead of paying the
	// spread to force-close a near-decided contract.
	if price <= t.cfg.SettleBandLow || price >= t.cfg.SettleBandHigh {
		t.setStatus(ctx, p, domain.PositionHolding, price, 0, "settlement_hold")
		return
	}

	movePct := p.MovePct(price)
	switch {
	case t.cfg.TakeProfitPct > 0 && movePct >= t.cfg.TakeProfitPct:
		t.close(ctx, p, price, "take_profit")
	case movePct <= -t.stopLoss(p.Category):
		t.close(ctx, p, price, "stop_loss")
	}
}

// SettleMarket resolves every position in a settled market at the terminal
// price: 1 when the position's side won, 0 when it lost.
func (t *Tracker) SettleMarket(ctx context.Context, marketID string, winner domain.Side) {
	t.mu.Lock()
	var settled []*domain.Position
	for _, p := range t.open {
		if p.MarketID == marketID {
			settled = append(settled, p)
		}
	}
	t.mu.Unlock()

	for _, p := range settled {
		price := 0.0
		if p.Side == winner {
			price = 1.0
		}
		t.close(ctx, p, price, "settlement")
	}
}

// close realizes the position at the given price, books the P&L and sweeps
// a fraction of profit into the reserve.
func (t *Tracker) close(ctx context.Context, p *domain.Position, price float64, reason string) {
	exitFees := t.cfg.ExitFeeRate * p.Size
	pnl := p.PnLAt(price, exitFees)

	// El borrado del mapa y la escritura de los campos terminales van en la
	// misma sección crítica: evaluate lee Status bajo el mismo mutex, y los
	// settlements llegan desde otra goroutine.
	t.mu.Lock()
	if _, stillOpen := t.open[p.TradeID]; !stillOpen {
		t.mu.Unlock()
		return
	}
	delete(t.open, p.TradeID)
	from := p.Status
	now := t.now()
	p.Status = domain.PositionClosed
	p.ClosedAt = &now
	p.ExitPrice = price
	p.RealizedPnL = pnl
	t.mu.Unlock()

	swept := t.ledger.SettleClose(p.MarketID, p.Category, p.Size, pnl, t.cfg.SweepFraction)
	t.breaker.ReportPnL(pnl)

	slog.Info("position: closed",
		"trade", p.TradeID,
		"market", p.MarketID,
		"side", p.Side,
		"reason", reason,
		"entry", p.EntryPrice,
		"exit", price,
		"pnl", pnl,
		"swept", swept,
	)
	t.transition(ctx, p, from, domain.PositionClosed, price, pnl, reason)
}

// setStatus moves a position to a non-terminal status.
func (t *Tracker) setStatus(ctx context.Context, p *domain.Position, to domain.PositionStatus, price, pnl float64, reason string) {
	t.mu.Lock()
	from := p.Status
	if from == to || from == domain.PositionClosed {
		t.mu.Unlock()
		return
	}
	p.Status = to
	t.mu.Unlock()

	slog.Info("position: status change",
		"trade", p.TradeID, "from", string(from), "to", string(to), "reason", reason)
	t.transition(ctx, p, from, to, price, pnl, reason)
}

// Open returns a copy of the currently tracked positions.
func (t *Tracker) Open() []domain.Position {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]domain.Position, 0, len(t.open))
	for _, p := range t.open {
		out = append(out, *p)
	}
	return out
}

// Subscribe returns a channel of position transitions. Delivery is
// at-most-once: slow consumers lose events instead of blocking the tracker.
func (t *Tracker) Subscribe() <-chan domain.PositionTransition {
	ch := make(chan domain.PositionTransition, 64)
	t.subMu.Lock()
	t.subs = append(t.subs, ch)
	t.subMu.Unlock()
	return ch
}

func (t *Tracker) stopLoss(category string) float64 {
	if v, ok := t.cfg.StopLossByCat[category]; ok && v > 0 {
		return v
	}
	return t.cfg.StopLossPct
}

func (t *Tracker) transition(ctx context.Context, p *domain.Position, from, to domain.PositionStatus, price, pnl float64, reason string) {
	tr := domain.PositionTransition{
		TradeID: p.TradeID,
		From:    from,
		To:      to,
		Price:   price,
		PnL:     pnl,
		Reason:  reason,
		At:      t.now(),
	}
	if t.journal != nil {
		if err := t.journal.AppendTransition(ctx, tr); err != nil {
			slog.Warn("position: journal error", "err", err)
		}
	}
	t.subMu.Lock()
	for _, ch := range t.subs {
		select {
		case ch <- tr:
		default:
		}
	}
	t.subMu.Unlock()
}

func (t *Tracker) fail(ctx context.Context, component string, err error) {
	slog.Warn("position: transient failure", "component", component, "err", err)
	if t.notifier != nil {
		t.notifier.Failure(ctx, component, err)
	}
}
