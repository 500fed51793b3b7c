package engine

// engine.go — máquina de estado de un mercado activo.
//
// Un Engine por mercado, aislado del resto: no comparte estado mutable salvo
// el orderbook atómico y los canales de mensajes. En cada tick recalcula el
// fair value desde el estado del evento (función pura inyectada), lo compara
// con la probabilidad implícita del mercado y emite una Signal si el edge
// supera el umbral y el debounce por (market, side) lo permite.

import (
	"context"
	"log/slog"
	"time"

	"github.com/alejandrodnm/oddsbot/internal/domain"
	"github.com/alejandrodnm/oddsbot/internal/orderbook"
)

// Config controla la detección de señales.
type Config struct {
	EdgeThresholdPct float64       // |edge| mínimo en puntos porcentuales
	Debounce         time.Duration // ventana de supresión por (market, side)
	MaxTickAge       time.Duration // ticks más viejos congelan el mercado
	Confidence       float64       // confianza reportada en las señales
	SignalBuffer     int           // tamaño del canal de señales
}

// DefaultConfig devuelve los umbrales por defecto.
func DefaultConfig() Config {
	return Config{
		EdgeThresholdPct: 5.0,
		Debounce:         2 * time.Second,
		MaxTickAge:       10 * time.Second,
		Confidence:       1.0,
		SignalBuffer:     64,
	}
}

// Engine es la unidad de trabajo de un mercado.
type Engine struct {
	marketID string
	cfg      Config
	fair     domain.FairValueFunc
	book     *orderbook.Book
	signals  chan<- domain.Signal
	now      func() time.Time

	ticks  chan domain.PriceTick
	events chan domain.EventUpdate

	// Estado local del mercado — solo lo toca la goroutine del engine.
	lastEvent  domain.EventState
	haveEvent  bool
	frozen     bool
	lastEmit   map[domain.Side]time.Time
}

// newEngine crea el engine de un mercado. Los canales de entrada tienen
// buffer: si se llenan, el manager descarta ticks (el feed es at-most-once
// y un tick perdido es solo staleness).
func newEngine(marketID string, cfg Config, fair domain.FairValueFunc, book *orderbook.Book, signals chan<- domain.Signal) *Engine {
	return &Engine{
		marketID: marketID,
		cfg:      cfg,
		fair:     fair,
		book:     book,
		signals:  signals,
		now:      time.Now,
		ticks:    make(chan domain.PriceTick, 256),
		events:   make(chan domain.EventUpdate, 16),
		lastEmit: make(map[domain.Side]time.Time),
	}
}

// Run procesa ticks y eventos hasta que el mercado se liquide o el contexto
// se cancele. Al terminar, los debounce timers pendientes se descartan, no
// se flushean.
func (e *Engine) Run(ctx context.Context) {
	defer e.book.Drop(e.marketID)

	for {
		select {
		case <-ctx.Done():
			return
		case t, ok := <-e.ticks:
			if !ok {
				return
			}
			e.handleTick(t)
		case ev, ok := <-e.events:
			if !ok {
				return
			}
			if done := e.handleEvent(ev); done {
				slog.Info("engine: market settled", "market", e.marketID)
				return
			}
		}
	}
}

// handleTick valida, actualiza el book atómico y evalúa la emisión.
func (e *Engine) handleTick(t domain.PriceTick) {
	if !t.Valid() {
		// Tick corrupto: congelar el mercado en vez de emitir sobre basura.
		if !e.frozen {
			slog.Warn("engine: malformed tick, freezing market",
				"market", e.marketID, "tick", t.TickID)
		}
		e.frozen = true
		return
	}

	now := e.now()
	if e.cfg.MaxTickAge > 0 && t.Age(now) > e.cfg.MaxTickAge {
		if !e.frozen {
			slog.Warn("engine: stale tick, freezing market",
				"market", e.marketID,
				"age", t.Age(now).Round(time.Millisecond),
			)
		}
		e.frozen = true
		return
	}

	// Tick fresco y válido: el mercado vuelve a estar vivo.
	e.frozen = false

	// Publicar el top of book para risk/position. Vista desde YES:
	// bid = 1 - precio NO, ask = precio YES.
	e.book.Update(e.marketID, orderbook.Quote{
		BestBid: 1 - t.NoPrice,
		BestAsk: t.YesPrice,
		BidSize: t.Liquidity,
		AskSize: t.Liquidity,
		Updated: t.Timestamp,
	})

	if !e.haveEvent {
		return // sin estado del evento no hay modelo
	}

	model := e.fair(e.lastEvent)
	if model <= 0 || model >= 1 {
		return
	}
	market := t.ImpliedProbability()
	if market <= 0 {
		return
	}

	edge := domain.EdgePct(model, market)
	if abs(edge) < e.cfg.EdgeThresholdPct {
		return
	}

	// Debounce por (market, side): la defensa principal contra tormentas de
	// señales duplicadas desde ticks de alta frecuencia.
	if last, ok := e.lastEmit[t.Side]; ok && now.Sub(last) < e.cfg.Debounce {
		return
	}

	sig := domain.NewSignal(e.marketID, t.Side, model, market, e.cfg.Confidence, now)
	select {
	case e.signals <- sig:
		e.lastEmit[t.Side] = now
		slog.Debug("engine: signal emitted",
			"market", e.marketID,
			"side", t.Side,
			"direction", sig.Direction,
			"edge_pct", sig.EdgePct,
			"model", model,
			"implied", market,
		)
	default:
		// Canal lleno: descartar. El debounce no se resetea, así el próximo
		// tick puede reintentar la misma oportunidad.
		slog.Warn("engine: signal channel full, dropping", "market", e.marketID)
	}
}

// handleEvent actualiza el estado del evento. Devuelve true si el evento
// terminó y el engine debe pararse.
func (e *Engine) handleEvent(ev domain.EventUpdate) bool {
	if ev.State.Timestamp.IsZero() {
		ev.State.Timestamp = ev.Timestamp
	}
	e.lastEvent = ev.State
	e.haveEvent = true
	return ev.State.Finished
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
