package engine

// manager.go — enruta el feed hacia un Engine por mercado.
//
// Cada mercado corre en su propia goroutine; el manager solo demultiplexa
// los canales del feed. El dispatch es no bloqueante: si el buffer de un
// mercado está lleno, el tick se descarta — nunca se frena el feed entero
// por un mercado lento.

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alejandrodnm/oddsbot/internal/domain"
	"github.com/alejandrodnm/oddsbot/internal/orderbook"
	"github.com/alejandrodnm/oddsbot/internal/ports"
)

// Manager crea y supervisa los engines por mercado.
type Manager struct {
	cfg     Config
	fair    domain.FairValueFunc
	book    *orderbook.Book
	signals chan domain.Signal

	// OnSettled se invoca (si no es nil) cuando llega el evento final de un
	// mercado, antes de parar su engine. La llamada no debe bloquear.
	OnSettled func(marketID string, final domain.EventState)

	mu      sync.Mutex
	workers map[string]*worker
}

type worker struct {
	engine *Engine
	cancel context.CancelFunc
}

// NewManager crea el manager. fair es la función pura que convierte estado
// de evento en probabilidad; book es el cache atómico compartido.
func NewManager(cfg Config, fair domain.FairValueFunc, book *orderbook.Book) *Manager {
	if cfg.SignalBuffer <= 0 {
		cfg.SignalBuffer = DefaultConfig().SignalBuffer
	}
	return &Manager{
		cfg:     cfg,
		fair:    fair,
		book:    book,
		signals: make(chan domain.Signal, cfg.SignalBuffer),
		workers: make(map[string]*worker),
	}
}

// Signals devuelve el canal de señales emitidas por todos los mercados.
func (m *Manager) Signals() <-chan domain.Signal {
	return m.signals
}

// Run consume el feed hasta que el contexto se cancele. El trabajo
// pendiente de un mercado se descarta (no se drena) cuando cierra.
func (m *Manager) Run(ctx context.Context, feed ports.FeedSource) error {
	ticks, events, err := feed.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("engine.Manager.Run: subscribe: %w", err)
	}

	slog.Info("engine manager started",
		"edge_threshold_pct", m.cfg.EdgeThresholdPct,
		"debounce", m.cfg.Debounce,
		"max_tick_age", m.cfg.MaxTickAge,
	)

	for {
		select {
		case <-ctx.Done():
			m.stopAll()
			return nil
		case t, ok := <-ticks:
			if !ok {
				m.stopAll()
				return nil
			}
			m.dispatchTick(ctx, t)
		case ev, ok := <-events:
			if !ok {
				m.stopAll()
				return nil
			}
			m.dispatchEvent(ctx, ev)
		}
	}
}

func (m *Manager) dispatchTick(ctx context.Context, t domain.PriceTick) {
	w := m.workerFor(ctx, t.MarketID)
	select {
	case w.engine.ticks <- t:
	default:
		slog.Debug("engine: tick dropped, market buffer full", "market", t.MarketID)
	}
}

func (m *Manager) dispatchEvent(ctx context.Context, ev domain.EventUpdate) {
	w := m.workerFor(ctx, ev.MarketID)
	select {
	case w.engine.events <- ev:
	default:
		slog.Debug("engine: event dropped, market buffer full", "market", ev.MarketID)
	}
	if ev.State.Finished {
		if m.OnSettled != nil {
			m.OnSettled(ev.MarketID, ev.State)
		}
		// El engine se para solo al procesar el Finished; aquí solo se
		// programa la limpieza del registro.
		go m.reap(ev.MarketID)
	}
}

// workerFor devuelve el worker del mercado, creándolo en el primer mensaje.
func (m *Manager) workerFor(ctx context.Context, marketID string) *worker {
	m.mu.Lock()
	defer m.mu.Unlock()

	if w, ok := m.workers[marketID]; ok {
		return w
	}

	engCtx, cancel := context.WithCancel(ctx)
	eng := newEngine(marketID, m.cfg, m.fair, m.book, m.signals)
	w := &worker{engine: eng, cancel: cancel}
	m.workers[marketID] = w

	go eng.Run(engCtx)
	slog.Debug("engine: market started", "market", marketID, "active", len(m.workers))
	return w
}

// reap elimina el worker de un mercado liquidado tras dejarle procesar
// el evento final.
func (m *Manager) reap(marketID string) {
	time.Sleep(100 * time.Millisecond)
	m.mu.Lock()
	defer m.mu.Unlock()
	if w, ok := m.workers[marketID]; ok {
		w.cancel()
		delete(m.workers, marketID)
	}
}

// ActiveMarkets devuelve cuántos mercados tienen engine vivo.
func (m *Manager) ActiveMarkets() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.workers)
}

func (m *Manager) stopAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, w := range m.workers {
		w.cancel()
		delete(m.workers, id)
	}
}
