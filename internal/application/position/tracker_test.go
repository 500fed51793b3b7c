package position

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alejandrodnm/oddsbot/internal/application/risk"
	"github.com/alejandrodnm/oddsbot/internal/breaker"
	"github.com/alejandrodnm/oddsbot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePrices implementa ports.PriceSource con filas fijas por mercado.
type fakePrices struct {
	mu   sync.Mutex
	rows map[string][]domain.PriceRow
	err  error
}

func (f *fakePrices) FetchPriceRows(_ context.Context, marketID string) ([]domain.PriceRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.rows[marketID], nil
}

func (f *fakePrices) set(marketID, label string, price float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rows == nil {
		f.rows = make(map[string][]domain.PriceRow)
	}
	f.rows[marketID] = []domain.PriceRow{{
		MarketID:  marketID,
		Label:     label,
		Price:     price,
		Timestamp: time.Now().UTC(),
	}}
}

// fakeMatcher devuelve el primer candidato con la confianza configurada.
type fakeMatcher struct {
	confidence float64
	err        error
}

func (f *fakeMatcher) Match(_ context.Context, target string, candidates []domain.PriceRow) (domain.Match, error) {
	if f.err != nil {
		return domain.Match{}, f.err
	}
	for i := range candidates {
		if candidates[i].Label == target {
			return domain.Match{Row: &candidates[i], Confidence: f.confidence, Method: "exact"}, nil
		}
	}
	return domain.Match{Confidence: 0}, nil
}

type harness struct {
	tracker *Tracker
	ledger  *risk.Ledger
	brk     *breaker.Breaker
	prices  *fakePrices
	matcher *fakeMatcher
	clock   *time.Time
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{
		ledger:  risk.NewLedger(1000),
		brk:     breaker.New(breaker.Config{MaxDailyLoss: 200, ErrorThreshold: 5, Cooldown: time.Minute}),
		prices:  &fakePrices{},
		matcher: &fakeMatcher{confidence: 1.0},
	}
	h.tracker = NewTracker(cfg, h.prices, h.matcher, h.ledger, h.brk, nil, nil)

	now := time.Date(2026, 3, 14, 20, 0, 0, 0, time.UTC)
	h.clock = &now
	h.tracker.now = func() time.Time { return *h.clock }
	return h
}

// openPosition simula el camino completo reserva → fill → posición.
func (h *harness) openPosition(t *testing.T, marketID string, side domain.Side, entry, size float64) domain.Position {
	t.Helper()
	reason := h.ledger.TryReserve(marketID, "nba", size, risk.Limits{})
	require.Empty(t, reason)

	sig := domain.NewSignal(marketID, side, 0.65, 0.50, 1.0, *h.clock)
	req := domain.NewExecutionRequest(sig, "nba", entry, size, 5*time.Minute)
	h.tracker.OnResult(context.Background(), req, domain.ExecutionResult{
		RequestID: req.RequestID,
		Status:    domain.ExecStatusFilled,
		FilledQty: size,
		AvgPrice:  entry,
	})

	open := h.tracker.Open()
	require.Len(t, open, 1)
	return open[0]
}

func defaultTestConfig() Config {
	cfg := DefaultConfig()
	cfg.SweepFraction = 0.30
	cfg.ExitFeeRate = 0 // pnl limpio en los asserts, salvo el test de fees
	return cfg
}

func TestTracker_OnResult_OpensFromFill(t *testing.T) {
	h := newHarness(t, defaultTestConfig())
	pos := h.openPosition(t, "nba-lal-bos", "Home", 0.50, 100)

	assert.Equal(t, domain.PositionOpen, pos.Status)
	assert.Equal(t, 0.50, pos.EntryPrice)
	assert.Equal(t, 100.0, pos.Size)
}

func TestTracker_OnResult_IgnoresNonFills(t *testing.T) {
	h := newHarness(t, defaultTestConfig())

	sig := domain.NewSignal("m1", "Home", 0.65, 0.50, 1.0, *h.clock)
	req := domain.NewExecutionRequest(sig, "nba", 0.50, 100, 5*time.Minute)
	h.tracker.OnResult(context.Background(), req, domain.Rejected(req.RequestID, domain.RejectCircuitOpen))
	h.tracker.OnResult(context.Background(), req, domain.ExecutionResult{
		Status: domain.ExecStatusFilled, FilledQty: 0,
	})

	assert.Empty(t, h.tracker.Open())
}

func TestTracker_MinHold_NoEarlyExit(t *testing.T) {
	h := newHarness(t, defaultTestConfig())
	h.openPosition(t, "nba-lal-bos", "Home", 0.50, 100)

	// Movimiento brutal nada más abrir: el min hold lo ignora
	h.prices.set("nba-lal-bos", "Home", 0.80)
	*h.clock = h.clock.Add(5 * time.Second)
	h.tracker.EvaluateAll(context.Background())
	require.Len(t, h.tracker.Open(), 1)

	// Pasado el min hold, el take profit dispara
	*h.clock = h.clock.Add(6 * time.Second)
	h.tracker.EvaluateAll(context.Background())
	assert.Empty(t, h.tracker.Open())
}

func TestTracker_TakeProfit(t *testing.T) {
	h := newHarness(t, defaultTestConfig())
	h.openPosition(t, "nba-lal-bos", "Home", 0.50, 100)

	h.prices.set("nba-lal-bos", "Home", 0.60)
	*h.clock = h.clock.Add(time.Minute)
	h.tracker.EvaluateAll(context.Background())

	assert.Empty(t, h.tracker.Open())
	// 200 shares × 0.10 = +20 de pnl realizado
	assert.InDelta(t, 20.0, h.ledger.DailyRealized(), 0.001)
	assert.InDelta(t, 20.0, h.brk.DailyPnL(), 0.001)
	// Sweep del 30% al reserve
	assert.InDelta(t, 6.0, h.ledger.ReserveBalance(), 0.001)
}

func TestTracker_StopLoss(t *testing.T) {
	h := newHarness(t, defaultTestConfig())
	h.openPosition(t, "nba-lal-bos", "Home", 0.50, 100)

	h.prices.set("nba-lal-bos", "Home", 0.44) // -12% > stop del 10%
	*h.clock = h.clock.Add(time.Minute)
	h.tracker.EvaluateAll(context.Background())

	assert.Empty(t, h.tracker.Open())
	assert.InDelta(t, -12.0, h.ledger.DailyRealized(), 0.001)
	assert.Equal(t, 0.0, h.ledger.ReserveBalance(), "las pérdidas no barren nada")
}

func TestTracker_StopLossPerCategory(t *testing.T) {
	cfg := defaultTestConfig()
	cfg.StopLossByCat = map[string]float64{"nba": 0.20}
	h := newHarness(t, cfg)
	h.openPosition(t, "nba-lal-bos", "Home", 0.50, 100)

	// -12% no alcanza el stop del 20% de la categoría nba
	h.prices.set("nba-lal-bos", "Home", 0.44)
	*h.clock = h.clock.Add(time.Minute)
	h.tracker.EvaluateAll(context.Background())
	require.Len(t, h.tracker.Open(), 1)

	h.prices.set("nba-lal-bos", "Home", 0.39) // -22%
	h.tracker.EvaluateAll(context.Background())
	assert.Empty(t, h.tracker.Open())
}

// La regla central del matcher: sin un match confiable del lado de la
// posición, no se evalúa nada — nunca se cierra contra el lado equivocado.
func TestTracker_LowConfidenceMatch_Holds(t *testing.T) {
	h := newHarness(t, defaultTestConfig())
	h.matcher.confidence = 0.5 // por debajo del floor de 0.7
	h.openPosition(t, "nba-lal-bos", "Home", 0.50, 100)

	h.prices.set("nba-lal-bos", "Home", 0.80)
	*h.clock = h.clock.Add(time.Minute)
	h.tracker.EvaluateAll(context.Background())

	assert.Len(t, h.tracker.Open(), 1)
	assert.Equal(t, 0.0, h.ledger.DailyRealized())
}

func TestTracker_WrongSideRows_Holds(t *testing.T) {
	h := newHarness(t, defaultTestConfig())
	h.openPosition(t, "nba-lal-bos", "Home", 0.50, 100)

	// Solo hay filas del lado contrario: el matcher no encuentra "Home"
	h.prices.set("nba-lal-bos", "Away", 0.20)
	*h.clock = h.clock.Add(time.Minute)
	h.tracker.EvaluateAll(context.Background())

	assert.Len(t, h.tracker.Open(), 1)
}

func TestTracker_SettlementBand_Holds(t *testing.T) {
	h := newHarness(t, defaultTestConfig())
	h.openPosition(t, "nba-lal-bos", "Home", 0.50, 100)

	// Precio casi decidido: aguantar hasta la liquidación natural
	h.prices.set("nba-lal-bos", "Home", 0.99)
	*h.clock = h.clock.Add(time.Minute)
	h.tracker.EvaluateAll(context.Background())

	open := h.tracker.Open()
	require.Len(t, open, 1)
	assert.Equal(t, domain.PositionHolding, open[0].Status)

	// Una vez en holding no se re-evalúa ni con precios normales
	h.prices.set("nba-lal-bos", "Home", 0.60)
	h.tracker.EvaluateAll(context.Background())
	require.Len(t, h.tracker.Open(), 1)
}

func TestTracker_SettleMarket_WinnerAndLoser(t *testing.T) {
	h := newHarness(t, defaultTestConfig())
	h.openPosition(t, "nba-lal-bos", "Home", 0.50, 100)

	h.tracker.SettleMarket(context.Background(), "nba-lal-bos", "Home")

	assert.Empty(t, h.tracker.Open())
	// Liquidación a 1.0: 200 shares × 0.50 = +100
	assert.InDelta(t, 100.0, h.ledger.DailyRealized(), 0.001)
}

func TestTracker_SettleMarket_LosingSide(t *testing.T) {
	h := newHarness(t, defaultTestConfig())
	h.openPosition(t, "nba-lal-bos", "Home", 0.50, 100)

	h.tracker.SettleMarket(context.Background(), "nba-lal-bos", "Away")

	assert.Empty(t, h.tracker.Open())
	assert.InDelta(t, -100.0, h.ledger.DailyRealized(), 0.001)
}

func TestTracker_SettleMarket_AlsoClosesHolding(t *testing.T) {
	h := newHarness(t, defaultTestConfig())
	h.openPosition(t, "nba-lal-bos", "Home", 0.50, 100)

	h.prices.set("nba-lal-bos", "Home", 0.99)
	*h.clock = h.clock.Add(time.Minute)
	h.tracker.EvaluateAll(context.Background())
	require.Equal(t, domain.PositionHolding, h.tracker.Open()[0].Status)

	h.tracker.SettleMarket(context.Background(), "nba-lal-bos", "Home")
	assert.Empty(t, h.tracker.Open())
}

func TestTracker_QuarantineCorruptPosition(t *testing.T) {
	h := newHarness(t, defaultTestConfig())
	h.openPosition(t, "nba-lal-bos", "Home", 0.50, 100)

	// Corromper la entrada a mano
	h.tracker.mu.Lock()
	for _, p := range h.tracker.open {
		p.EntryPrice = 0
	}
	h.tracker.mu.Unlock()

	*h.clock = h.clock.Add(time.Minute)
	h.tracker.EvaluateAll(context.Background())

	open := h.tracker.Open()
	require.Len(t, open, 1)
	assert.Equal(t, domain.PositionQuarantine, open[0].Status)

	// Las cuarentenas no se vuelven a tocar
	h.prices.set("nba-lal-bos", "Home", 0.90)
	h.tracker.EvaluateAll(context.Background())
	assert.Equal(t, domain.PositionQuarantine, h.tracker.Open()[0].Status)
}

func TestTracker_PriceSourceError_HoldsAll(t *testing.T) {
	h := newHarness(t, defaultTestConfig())
	h.openPosition(t, "nba-lal-bos", "Home", 0.50, 100)

	h.prices.mu.Lock()
	h.prices.err = errors.New("venue 503")
	h.prices.mu.Unlock()

	*h.clock = h.clock.Add(time.Minute)
	h.tracker.EvaluateAll(context.Background())
	assert.Len(t, h.tracker.Open(), 1)
}

func TestTracker_ExitFeesReducePnL(t *testing.T) {
	cfg := defaultTestConfig()
	cfg.ExitFeeRate = 0.02
	h := newHarness(t, cfg)
	h.openPosition(t, "nba-lal-bos", "Home", 0.50, 100)

	h.prices.set("nba-lal-bos", "Home", 0.60)
	*h.clock = h.clock.Add(time.Minute)
	h.tracker.EvaluateAll(context.Background())

	// +20 de movimiento - 2 de fee de salida
	assert.InDelta(t, 18.0, h.ledger.DailyRealized(), 0.001)
}

func TestTracker_Subscribe_ReceivesTransitions(t *testing.T) {
	h := newHarness(t, defaultTestConfig())
	sub := h.tracker.Subscribe()

	h.openPosition(t, "nba-lal-bos", "Home", 0.50, 100)

	select {
	case tr := <-sub:
		assert.Equal(t, domain.PositionOpen, tr.To)
		assert.Equal(t, "filled", tr.Reason)
	default:
		t.Fatal("no llegó la transición de apertura")
	}

	h.tracker.SettleMarket(context.Background(), "nba-lal-bos", "Home")
	select {
	case tr := <-sub:
		assert.Equal(t, domain.PositionClosed, tr.To)
		assert.Equal(t, "settlement", tr.Reason)
		assert.InDelta(t, 100.0, tr.PnL, 0.001)
	default:
		t.Fatal("no llegó la transición de cierre")
	}
}

// Los settlements llegan en su propia goroutine mientras el loop de
// evaluación sigue corriendo sobre las mismas posiciones: el cierre y la
// lectura de estado deben compartir la misma sección crítica.
func TestTracker_SettlementConcurrentWithEvaluation(t *testing.T) {
	cfg := defaultTestConfig()
	cfg.MinHold = 0
	h := newHarness(t, cfg)

	const markets = 8
	ids := make([]string, markets)
	for i := range ids {
		ids[i] = fmt.Sprintf("nba-mkt-%d", i)
		// 0.52 no dispara ni take-profit ni stop-loss: la evaluación solo
		// lee, el cierre viene únicamente por settlement.
		h.prices.set(ids[i], "Home", 0.52)

		require.Empty(t, h.ledger.TryReserve(ids[i], "nba", 100, risk.Limits{}))
		sig := domain.NewSignal(ids[i], "Home", 0.65, 0.50, 1.0, *h.clock)
		req := domain.NewExecutionRequest(sig, "nba", 0.50, 100, 5*time.Minute)
		h.tracker.OnResult(context.Background(), req, domain.ExecutionResult{
			RequestID: req.RequestID,
			Status:    domain.ExecStatusFilled,
			FilledQty: 100,
			AvgPrice:  0.50,
		})
	}
	require.Len(t, h.tracker.Open(), markets)

	ctx := context.Background()
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			h.tracker.EvaluateAll(ctx)
		}
	}()
	go func() {
		defer wg.Done()
		for _, id := range ids {
			h.tracker.SettleMarket(ctx, id, "Home")
		}
	}()
	wg.Wait()

	// Cada posición se cierra exactamente una vez a precio terminal 1.0.
	assert.Empty(t, h.tracker.Open())
	assert.InDelta(t, float64(markets)*100.0, h.ledger.DailyRealized(), 0.001)
	assert.InDelta(t, float64(markets)*100.0, h.brk.DailyPnL(), 0.001)
}
